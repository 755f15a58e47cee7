package collab

import (
	"errors"
	"fmt"
)

var (
	// ErrSelfRequest rejects a request where both parties are the same user.
	ErrSelfRequest = errors.New("collab: requester and responder must differ")
	// ErrInvalidPrice rejects a quote with a non-positive price.
	ErrInvalidPrice = errors.New("collab: quote price must be positive")
	// ErrInvalidTransition rejects an operation whose state guard fails.
	// The record is left unchanged.
	ErrInvalidTransition = errors.New("collab: invalid transition")
	// ErrDuplicateActiveRequest rejects an open call while another request
	// for the same pair is pending, price_proposed or confirmed.
	ErrDuplicateActiveRequest = errors.New("collab: active request already exists for pair")
	// ErrNotParticipant rejects callers that are neither party to the request.
	ErrNotParticipant = errors.New("collab: caller is not a participant")
	// ErrRequestNotFound indicates the identifier resolves to no record.
	ErrRequestNotFound = errors.New("collab: request not found")
	// ErrStoreUnavailable wraps collaborator store failures. Retry policy is
	// left to the caller; the engine never retries.
	ErrStoreUnavailable = errors.New("collab: request store unavailable")
)

// ServiceError attaches an operation code to an underlying failure.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the machine-readable operation code.
func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}
