package collab

import "context"

// QueryFilter is a conjunction of equality predicates on indexed fields.
// Zero-valued fields are not applied. Statuses matches any of the listed
// statuses; empty means all.
type QueryFilter struct {
	FromUserID   string
	ToUserID     string
	TargetTripID string
	Statuses     []RequestStatus
}

// UpdateFields is a partial field set applied to a single record. Each
// mutation is a single field-set operation at the store, so a failed update
// never leaves a record partially written.
type UpdateFields map[string]any

// RequestStore is the collaborator contract for request persistence.
//
// The store offers no multi-record transaction, so the duplicate check
// performed before Create and the Create itself are not atomic against a
// concurrent caller for the same pair. Closing that window requires a
// conditional create (or unique index) from the backing store; callers must
// not assume one exists.
type RequestStore interface {
	Create(ctx context.Context, record *CollaborationRequest) error
	Get(ctx context.Context, id string) (*CollaborationRequest, error)
	Query(ctx context.Context, filter QueryFilter) ([]CollaborationRequest, error)
	Update(ctx context.Context, id string, fields UpdateFields) (*CollaborationRequest, error)
	Delete(ctx context.Context, id string) error
}
