package collab

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	opServiceNew = "collab.service.new"
	opOpen       = "collab.open"
	opQuote      = "collab.quote"
	opConfirm    = "collab.confirm"
	opComplete   = "collab.complete"
	opDecline    = "collab.decline"
	opDelete     = "collab.delete"
	opList       = "collab.list"
	opPending    = "collab.pending_actions"
)

var (
	errMissingStore      = errors.New("request store is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingUserID     = errors.New("user identifier is required")
	errMissingRequestID  = errors.New("request identifier is required")
)

// ServiceConfig describes the dependencies of the lifecycle engine.
type ServiceConfig struct {
	Store      RequestStore
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service is the request lifecycle engine. It validates transitions against
// the state machine, enforces the one-active-request invariant on open, and
// writes each transition as a single partial update.
type Service struct {
	store  RequestStore
	clock  func() time.Time
	ids    IDProvider
	logger *zap.Logger
}

// NewService constructs the lifecycle engine.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opServiceNew, "missing_store", errMissingStore)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: cfg.Store, clock: clock, ids: cfg.IDProvider, logger: logger}, nil
}

// OpenRequest is the input to Open. PackageJSON is carried verbatim.
type OpenRequest struct {
	FromUserID   string
	ToUserID     string
	TargetTripID string
	PackageJSON  string
}

// Open creates a new pending request after checking the one-active-request
// invariant. When TargetTripID is set, uniqueness is scoped to
// (from, targetTripID) instead of (from, to). The check and the create are
// not atomic against concurrent callers; see RequestStore.
func (s *Service) Open(ctx context.Context, input OpenRequest) (*CollaborationRequest, error) {
	from := strings.TrimSpace(input.FromUserID)
	to := strings.TrimSpace(input.ToUserID)
	if from == "" || to == "" {
		return nil, newServiceError(opOpen, "missing_user_id", errMissingUserID)
	}
	if from == to {
		return nil, newServiceError(opOpen, "self_request", ErrSelfRequest)
	}

	scope := QueryFilter{FromUserID: from, ToUserID: to, Statuses: ActionableStatuses}
	if trip := strings.TrimSpace(input.TargetTripID); trip != "" {
		scope = QueryFilter{FromUserID: from, TargetTripID: trip, Statuses: ActionableStatuses}
	}
	existing, err := s.store.Query(ctx, scope)
	if err != nil {
		s.logError(opOpen, "uniqueness_check_failed", err, zap.String("from_user_id", from))
		return nil, newServiceError(opOpen, "uniqueness_check_failed", err)
	}
	if len(existing) > 0 {
		return nil, newServiceError(opOpen, "duplicate_active_request", ErrDuplicateActiveRequest)
	}

	id, err := s.ids.NewID()
	if err != nil {
		s.logError(opOpen, "id_generation_failed", err)
		return nil, newServiceError(opOpen, "id_generation_failed", err)
	}

	record := &CollaborationRequest{
		ID:           id,
		FromUserID:   from,
		ToUserID:     to,
		TargetTripID: strings.TrimSpace(input.TargetTripID),
		PackageJSON:  input.PackageJSON,
		Status:       StatusPending,
		CreatedAt:    s.clock().UTC(),
	}
	if err := s.store.Create(ctx, record); err != nil {
		s.logError(opOpen, "create_failed", err, zap.String("request_id", id))
		return nil, newServiceError(opOpen, "create_failed", err)
	}
	return record, nil
}

// Quote moves a pending request to price_proposed. Only the responder may
// quote, and the price must be positive.
func (s *Service) Quote(ctx context.Context, requestID, callerID string, price float64, note string) (*CollaborationRequest, error) {
	if price <= 0 {
		return nil, newServiceError(opQuote, "invalid_price", ErrInvalidPrice)
	}
	record, err := s.load(ctx, opQuote, requestID)
	if err != nil {
		return nil, err
	}
	if callerID != record.ToUserID {
		return nil, newServiceError(opQuote, "caller_not_responder", ErrNotParticipant)
	}
	if record.Status != StatusPending {
		return nil, newServiceError(opQuote, "invalid_transition", ErrInvalidTransition)
	}

	respondedAt := s.clock().UTC()
	return s.apply(ctx, opQuote, record.ID, UpdateFields{
		"status":       StatusPriceProposed,
		"quote_price":  price,
		"quote_note":   note,
		"responded_at": respondedAt,
	})
}

// Confirm moves a price_proposed request to confirmed. Only the requester
// may confirm.
func (s *Service) Confirm(ctx context.Context, requestID, callerID string) (*CollaborationRequest, error) {
	record, err := s.load(ctx, opConfirm, requestID)
	if err != nil {
		return nil, err
	}
	if callerID != record.FromUserID {
		return nil, newServiceError(opConfirm, "caller_not_requester", ErrNotParticipant)
	}
	if record.Status != StatusPriceProposed {
		return nil, newServiceError(opConfirm, "invalid_transition", ErrInvalidTransition)
	}
	return s.apply(ctx, opConfirm, record.ID, UpdateFields{"status": StatusConfirmed})
}

// Complete moves a confirmed request to completed and stamps completedAt.
// Either party may complete.
func (s *Service) Complete(ctx context.Context, requestID, callerID string) (*CollaborationRequest, error) {
	record, err := s.load(ctx, opComplete, requestID)
	if err != nil {
		return nil, err
	}
	if !record.Participant(callerID) {
		return nil, newServiceError(opComplete, "caller_not_participant", ErrNotParticipant)
	}
	if record.Status != StatusConfirmed {
		return nil, newServiceError(opComplete, "invalid_transition", ErrInvalidTransition)
	}
	completedAt := s.clock().UTC()
	return s.apply(ctx, opComplete, record.ID, UpdateFields{
		"status":       StatusCompleted,
		"completed_at": completedAt,
	})
}

// Decline moves a pending or price_proposed request to rejected. Either
// party may decline.
func (s *Service) Decline(ctx context.Context, requestID, callerID string) (*CollaborationRequest, error) {
	record, err := s.load(ctx, opDecline, requestID)
	if err != nil {
		return nil, err
	}
	if !record.Participant(callerID) {
		return nil, newServiceError(opDecline, "caller_not_participant", ErrNotParticipant)
	}
	if record.Status != StatusPending && record.Status != StatusPriceProposed {
		return nil, newServiceError(opDecline, "invalid_transition", ErrInvalidTransition)
	}
	return s.apply(ctx, opDecline, record.ID, UpdateFields{"status": StatusRejected})
}

// Delete removes the record from the store. Either party may delete; the
// operation is destructive and intended for terminal requests or aborts.
func (s *Service) Delete(ctx context.Context, requestID, callerID string) error {
	record, err := s.load(ctx, opDelete, requestID)
	if err != nil {
		return err
	}
	if !record.Participant(callerID) {
		return newServiceError(opDelete, "caller_not_participant", ErrNotParticipant)
	}
	if err := s.store.Delete(ctx, record.ID); err != nil {
		s.logError(opDelete, "delete_failed", err, zap.String("request_id", record.ID))
		return newServiceError(opDelete, "delete_failed", err)
	}
	return nil
}

// Bucket selects a status slice of a user's request box.
type Bucket string

const (
	// BucketActive holds pending and price_proposed requests.
	BucketActive Bucket = "active"
	// BucketConfirmed holds confirmed requests.
	BucketConfirmed Bucket = "confirmed"
	// BucketHistory holds completed and rejected requests, most recent first.
	BucketHistory Bucket = "history"
)

func (b Bucket) statuses() []RequestStatus {
	switch b {
	case BucketActive:
		return []RequestStatus{StatusPending, StatusPriceProposed}
	case BucketConfirmed:
		return []RequestStatus{StatusConfirmed}
	case BucketHistory:
		return []RequestStatus{StatusCompleted, StatusRejected}
	default:
		return nil
	}
}

// ParseBucket validates a raw bucket name.
func ParseBucket(raw string) (Bucket, bool) {
	switch Bucket(strings.ToLower(strings.TrimSpace(raw))) {
	case BucketActive:
		return BucketActive, true
	case BucketConfirmed:
		return BucketConfirmed, true
	case BucketHistory:
		return BucketHistory, true
	}
	return "", false
}

// Incoming lists requests where the user is the responder.
func (s *Service) Incoming(ctx context.Context, userID string, bucket Bucket) ([]CollaborationRequest, error) {
	return s.list(ctx, QueryFilter{ToUserID: userID}, bucket)
}

// Outgoing lists requests where the user is the requester.
func (s *Service) Outgoing(ctx context.Context, userID string, bucket Bucket) ([]CollaborationRequest, error) {
	return s.list(ctx, QueryFilter{FromUserID: userID}, bucket)
}

func (s *Service) list(ctx context.Context, filter QueryFilter, bucket Bucket) ([]CollaborationRequest, error) {
	if filter.FromUserID == "" && filter.ToUserID == "" {
		return nil, newServiceError(opList, "missing_user_id", errMissingUserID)
	}
	filter.Statuses = bucket.statuses()
	records, err := s.store.Query(ctx, filter)
	if err != nil {
		s.logError(opList, "query_failed", err)
		return nil, newServiceError(opList, "query_failed", err)
	}
	if bucket == BucketHistory {
		sort.SliceStable(records, func(i, j int) bool {
			return records[i].CreatedAt.After(records[j].CreatedAt)
		})
	}
	return records, nil
}

// PendingActionCount returns the number of requests awaiting the user's
// action: incoming pending requests plus outgoing quotes awaiting
// confirmation.
func (s *Service) PendingActionCount(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, newServiceError(opPending, "missing_user_id", errMissingUserID)
	}
	incoming, err := s.store.Query(ctx, QueryFilter{ToUserID: userID, Statuses: []RequestStatus{StatusPending}})
	if err != nil {
		s.logError(opPending, "incoming_query_failed", err, zap.String("user_id", userID))
		return 0, newServiceError(opPending, "incoming_query_failed", err)
	}
	quoted, err := s.store.Query(ctx, QueryFilter{FromUserID: userID, Statuses: []RequestStatus{StatusPriceProposed}})
	if err != nil {
		s.logError(opPending, "outgoing_query_failed", err, zap.String("user_id", userID))
		return 0, newServiceError(opPending, "outgoing_query_failed", err)
	}
	return len(incoming) + len(quoted), nil
}

func (s *Service) load(ctx context.Context, operation, requestID string) (*CollaborationRequest, error) {
	if strings.TrimSpace(requestID) == "" {
		return nil, newServiceError(operation, "missing_request_id", errMissingRequestID)
	}
	record, err := s.store.Get(ctx, requestID)
	if err != nil {
		if errors.Is(err, ErrRequestNotFound) {
			return nil, newServiceError(operation, "not_found", err)
		}
		s.logError(operation, "load_failed", err, zap.String("request_id", requestID))
		return nil, newServiceError(operation, "load_failed", err)
	}
	return record, nil
}

func (s *Service) apply(ctx context.Context, operation, requestID string, fields UpdateFields) (*CollaborationRequest, error) {
	record, err := s.store.Update(ctx, requestID, fields)
	if err != nil {
		s.logError(operation, "update_failed", err, zap.String("request_id", requestID))
		return nil, newServiceError(operation, "update_failed", err)
	}
	return record, nil
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
	s.logger.Error("collab service error", attrs...)
}
