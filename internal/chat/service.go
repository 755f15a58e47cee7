package chat

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	opServiceNew = "chat.service.new"
	opSend       = "chat.send"
	opMarkRead   = "chat.mark_read"
	opMessages   = "chat.messages"
)

// ServiceConfig describes the dependencies of the chat service.
type ServiceConfig struct {
	Log    MessageLog
	Clock  func() time.Time
	Logger *zap.Logger
}

// Service validates and forwards message operations to the log, and tracks
// read receipts.
type Service struct {
	log    MessageLog
	clock  func() time.Time
	logger *zap.Logger
}

// NewService constructs the chat service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Log == nil {
		return nil, newServiceError(opServiceNew, "missing_log", ErrLogUnavailable)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{log: cfg.Log, clock: clock, logger: logger}, nil
}

// Send appends a message to the conversation. Blank or whitespace-only text
// is rejected before any write; the log assigns the identifier and the
// timestamp.
func (s *Service) Send(ctx context.Context, conversationKey, senderID, text string) (*Message, error) {
	if strings.TrimSpace(conversationKey) == "" {
		return nil, newServiceError(opSend, "missing_conversation", ErrMissingConversation)
	}
	if strings.TrimSpace(senderID) == "" {
		return nil, newServiceError(opSend, "missing_sender", ErrMissingSender)
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, newServiceError(opSend, "empty_text", ErrEmptyMessage)
	}

	message := &Message{SenderID: senderID, Text: trimmed}
	if err := s.log.Append(ctx, conversationKey, message); err != nil {
		s.logError(opSend, "append_failed", err, zap.String("conversation_key", conversationKey))
		return nil, newServiceError(opSend, "append_failed", err)
	}
	return message, nil
}

// MarkRead stamps readAt on every listed message sent by someone other than
// readerID that is still unread. The returned count covers only messages
// actually transitioned, so repeating the call is a no-op and never
// double-decrements a counter derived from it.
func (s *Service) MarkRead(ctx context.Context, conversationKey, readerID string, messageIDs []string) (int, error) {
	if strings.TrimSpace(conversationKey) == "" {
		return 0, newServiceError(opMarkRead, "missing_conversation", ErrMissingConversation)
	}
	if strings.TrimSpace(readerID) == "" {
		return 0, newServiceError(opMarkRead, "missing_reader", ErrMissingSender)
	}
	if len(messageIDs) == 0 {
		return 0, nil
	}

	transitioned, err := s.log.StampRead(ctx, conversationKey, readerID, messageIDs, s.clock().UTC())
	if err != nil {
		s.logError(opMarkRead, "stamp_failed", err, zap.String("conversation_key", conversationKey))
		return 0, newServiceError(opMarkRead, "stamp_failed", err)
	}
	return transitioned, nil
}

// Messages returns the conversation's ordered message list.
func (s *Service) Messages(ctx context.Context, conversationKey string) ([]Message, error) {
	if strings.TrimSpace(conversationKey) == "" {
		return nil, newServiceError(opMessages, "missing_conversation", ErrMissingConversation)
	}
	messages, err := s.log.List(ctx, conversationKey)
	if err != nil {
		s.logError(opMessages, "list_failed", err, zap.String("conversation_key", conversationKey))
		return nil, newServiceError(opMessages, "list_failed", err)
	}
	return messages, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("chat service error", attrs...)
}
