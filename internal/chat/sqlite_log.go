package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SQLiteLog is the gorm-backed MessageLog. Timestamps are assigned here and
// forced monotonically non-decreasing per conversation; every successful
// write publishes the updated snapshot to the feed.
type SQLiteLog struct {
	db     *gorm.DB
	feed   *Feed
	clock  func() time.Time
	logger *zap.Logger

	mu         sync.Mutex
	lastAppend map[string]time.Time
}

// SQLiteLogConfig describes the dependencies of the SQLite message log.
type SQLiteLogConfig struct {
	Database *gorm.DB
	Feed     *Feed
	Clock    func() time.Time
	Logger   *zap.Logger
}

// NewSQLiteLog constructs the log. Feed is optional; without one, writes are
// silent.
func NewSQLiteLog(cfg SQLiteLogConfig) (*SQLiteLog, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("chat: database handle is required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLiteLog{
		db:         cfg.Database,
		feed:       cfg.Feed,
		clock:      clock,
		logger:     logger,
		lastAppend: make(map[string]time.Time),
	}, nil
}

func (l *SQLiteLog) Append(ctx context.Context, conversationKey string, message *Message) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLogUnavailable, err)
	}

	createdAt, err := l.nextTimestamp(ctx, conversationKey)
	if err != nil {
		return err
	}

	message.ID = id.String()
	message.ConversationKey = conversationKey
	message.CreatedAt = createdAt
	message.ReadAt = nil

	if err := l.db.WithContext(ctx).Create(message).Error; err != nil {
		l.logger.Error("message append failed", zap.Error(err), zap.String("conversation_key", conversationKey))
		return fmt.Errorf("%w: %v", ErrLogUnavailable, err)
	}
	l.publish(ctx, conversationKey)
	return nil
}

func (l *SQLiteLog) List(ctx context.Context, conversationKey string) ([]Message, error) {
	var messages []Message
	err := l.db.WithContext(ctx).
		Where("conversation_key = ?", conversationKey).
		Order("created_at ASC, id ASC").
		Find(&messages).Error
	if err != nil {
		l.logger.Error("message list failed", zap.Error(err), zap.String("conversation_key", conversationKey))
		return nil, fmt.Errorf("%w: %v", ErrLogUnavailable, err)
	}
	return messages, nil
}

func (l *SQLiteLog) StampRead(ctx context.Context, conversationKey, readerID string, messageIDs []string, at time.Time) (int, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}
	result := l.db.WithContext(ctx).
		Model(&Message{}).
		Where("conversation_key = ?", conversationKey).
		Where("id IN ?", messageIDs).
		Where("sender_id <> ?", readerID).
		Where("read_at IS NULL").
		Update("read_at", at)
	if result.Error != nil {
		l.logger.Error("read stamp failed", zap.Error(result.Error), zap.String("conversation_key", conversationKey))
		return 0, fmt.Errorf("%w: %v", ErrLogUnavailable, result.Error)
	}
	if result.RowsAffected > 0 {
		l.publish(ctx, conversationKey)
	}
	return int(result.RowsAffected), nil
}

func (l *SQLiteLog) Subscribe(ctx context.Context, conversationKey string) (<-chan []Message, func()) {
	if l.feed == nil {
		ch := make(chan []Message)
		close(ch)
		return ch, func() {}
	}
	return l.feed.Subscribe(ctx, conversationKey)
}

// nextTimestamp clamps the wall clock to the conversation's last append so
// timestamps never go backwards within a conversation.
func (l *SQLiteLog) nextTimestamp(ctx context.Context, conversationKey string) (time.Time, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	last, seen := l.lastAppend[conversationKey]
	if !seen {
		var latest Message
		err := l.db.WithContext(ctx).
			Where("conversation_key = ?", conversationKey).
			Order("created_at DESC").
			Limit(1).
			Find(&latest).Error
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %v", ErrLogUnavailable, err)
		}
		last = latest.CreatedAt
	}

	now := l.clock().UTC()
	if now.Before(last) {
		now = last
	}
	l.lastAppend[conversationKey] = now
	return now, nil
}

func (l *SQLiteLog) publish(ctx context.Context, conversationKey string) {
	if l.feed == nil {
		return
	}
	messages, err := l.List(ctx, conversationKey)
	if err != nil {
		l.logger.Warn("snapshot publish skipped", zap.Error(err), zap.String("conversation_key", conversationKey))
		return
	}
	l.feed.Publish(conversationKey, messages)
}
