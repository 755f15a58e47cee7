package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyMessage rejects blank or whitespace-only message text.
	ErrEmptyMessage = errors.New("chat: message text must not be empty")
	// ErrMissingConversation indicates a blank conversation key.
	ErrMissingConversation = errors.New("chat: conversation key is required")
	// ErrMissingSender indicates a blank sender identifier.
	ErrMissingSender = errors.New("chat: sender identifier is required")
	// ErrLogUnavailable wraps message log collaborator failures.
	ErrLogUnavailable = errors.New("chat: message log unavailable")
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
