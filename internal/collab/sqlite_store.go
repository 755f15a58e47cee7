package collab

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SQLiteStore is the gorm-backed RequestStore. It publishes a feed event to
// both parties after every successful write.
type SQLiteStore struct {
	db     *gorm.DB
	feed   *Feed
	clock  func() time.Time
	logger *zap.Logger
}

// SQLiteStoreConfig describes the dependencies of the SQLite request store.
type SQLiteStoreConfig struct {
	Database *gorm.DB
	Feed     *Feed
	Clock    func() time.Time
	Logger   *zap.Logger
}

// NewSQLiteStore constructs the store. Feed is optional; without one, writes
// are silent.
func NewSQLiteStore(cfg SQLiteStoreConfig) (*SQLiteStore, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("collab: database handle is required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLiteStore{db: cfg.Database, feed: cfg.Feed, clock: clock, logger: logger}, nil
}

func (s *SQLiteStore) Create(ctx context.Context, record *CollaborationRequest) error {
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		s.logger.Error("request create failed", zap.Error(err), zap.String("request_id", record.ID))
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	s.publish(EventRequestCreated, *record)
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*CollaborationRequest, error) {
	var record CollaborationRequest
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		s.logger.Error("request get failed", zap.Error(err), zap.String("request_id", id))
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return &record, nil
}

func (s *SQLiteStore) Query(ctx context.Context, filter QueryFilter) ([]CollaborationRequest, error) {
	tx := s.db.WithContext(ctx).Model(&CollaborationRequest{})
	if filter.FromUserID != "" {
		tx = tx.Where("from_user_id = ?", filter.FromUserID)
	}
	if filter.ToUserID != "" {
		tx = tx.Where("to_user_id = ?", filter.ToUserID)
	}
	if filter.TargetTripID != "" {
		tx = tx.Where("target_trip_id = ?", filter.TargetTripID)
	}
	if len(filter.Statuses) > 0 {
		tx = tx.Where("status IN ?", filter.Statuses)
	}

	var records []CollaborationRequest
	if err := tx.Order("created_at ASC").Find(&records).Error; err != nil {
		s.logger.Error("request query failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return records, nil
}

func (s *SQLiteStore) Update(ctx context.Context, id string, fields UpdateFields) (*CollaborationRequest, error) {
	result := s.db.WithContext(ctx).Model(&CollaborationRequest{}).Where("id = ?", id).Updates(map[string]any(fields))
	if result.Error != nil {
		s.logger.Error("request update failed", zap.Error(result.Error), zap.String("request_id", id))
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrRequestNotFound
	}
	record, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.publish(EventRequestUpdated, *record)
	return record, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	record, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Where("id = ?", id).Delete(&CollaborationRequest{}).Error; err != nil {
		s.logger.Error("request delete failed", zap.Error(err), zap.String("request_id", id))
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	s.publish(EventRequestDeleted, *record)
	return nil
}

func (s *SQLiteStore) publish(eventType EventType, record CollaborationRequest) {
	if s.feed == nil {
		return
	}
	s.feed.Publish(Event{
		Type:      eventType,
		Request:   record,
		Timestamp: s.clock().UTC(),
	})
}
