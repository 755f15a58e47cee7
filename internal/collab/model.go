package collab

import (
	"time"
)

// RequestStatus enumerates the collaboration request lifecycle states.
type RequestStatus string

const (
	// StatusPending is the initial state set at creation.
	StatusPending RequestStatus = "pending"
	// StatusPriceProposed means the responder has quoted a price.
	StatusPriceProposed RequestStatus = "price_proposed"
	// StatusConfirmed means the requester accepted the quote.
	StatusConfirmed RequestStatus = "confirmed"
	// StatusCompleted is terminal: the collaboration finished.
	StatusCompleted RequestStatus = "completed"
	// StatusRejected is terminal: either party declined.
	StatusRejected RequestStatus = "rejected"
)

// Terminal reports whether no further transition is defined from the status.
func (s RequestStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusRejected
}

// Blocking reports whether a request in this status prevents a new request
// from being opened against the same pair. Confirmed requests are active but
// locked, so they block too.
func (s RequestStatus) Blocking() bool {
	return s == StatusPending || s == StatusPriceProposed || s == StatusConfirmed
}

// ActionableStatuses are the statuses a new open call must not collide with.
var ActionableStatuses = []RequestStatus{StatusPending, StatusPriceProposed, StatusConfirmed}

// QuoteResponse carries the responder's quote once one exists.
type QuoteResponse struct {
	Price       float64
	Note        string
	RespondedAt time.Time
}

// CollaborationRequest is the persisted request record. PackageJSON is an
// opaque payload describing the cargo; the core carries it verbatim and
// never inspects its contents.
type CollaborationRequest struct {
	ID           string        `gorm:"column:id;primaryKey;size:190;not null"`
	FromUserID   string        `gorm:"column:from_user_id;size:190;not null;index:idx_requests_from,priority:1"`
	ToUserID     string        `gorm:"column:to_user_id;size:190;not null;index:idx_requests_to,priority:1"`
	TargetTripID string        `gorm:"column:target_trip_id;size:190;not null;default:'';index"`
	PackageJSON  string        `gorm:"column:package_json;type:text;not null;default:''"`
	Status       RequestStatus `gorm:"column:status;size:32;not null;index:idx_requests_from,priority:2;index:idx_requests_to,priority:2"`
	QuotePrice   *float64      `gorm:"column:quote_price"`
	QuoteNote    string        `gorm:"column:quote_note;type:text;not null;default:''"`
	RespondedAt  *time.Time    `gorm:"column:responded_at"`
	CreatedAt    time.Time     `gorm:"column:created_at;not null"`
	CompletedAt  *time.Time    `gorm:"column:completed_at"`
}

// TableName provides the explicit table binding for GORM.
func (CollaborationRequest) TableName() string {
	return "collaboration_requests"
}

// Response returns the responder's quote, or nil when none has been made.
func (r CollaborationRequest) Response() *QuoteResponse {
	if r.QuotePrice == nil || r.RespondedAt == nil {
		return nil
	}
	return &QuoteResponse{
		Price:       *r.QuotePrice,
		Note:        r.QuoteNote,
		RespondedAt: *r.RespondedAt,
	}
}

// Participant reports whether the given user is one of the two parties.
func (r CollaborationRequest) Participant(userID string) bool {
	return userID != "" && (userID == r.FromUserID || userID == r.ToUserID)
}

// Counterpart returns the other party's identifier, or "" for non-participants.
func (r CollaborationRequest) Counterpart(userID string) string {
	switch userID {
	case r.FromUserID:
		return r.ToUserID
	case r.ToUserID:
		return r.FromUserID
	default:
		return ""
	}
}
