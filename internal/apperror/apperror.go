// Package apperror defines errors whose message is safe to relay to the
// customer through the model.
package apperror

import (
	"errors"
	"fmt"
)

// DomainError is a business rule violation with a user-facing Spanish message.
type DomainError struct {
	Message string
}

func (e *DomainError) Error() string {
	return e.Message
}

// New returns a DomainError with msg.
func New(msg string) *DomainError {
	return &DomainError{Message: msg}
}

// Newf returns a DomainError with a formatted message.
func Newf(format string, args ...any) *DomainError {
	return &DomainError{Message: fmt.Sprintf(format, args...)}
}

// Message returns the user-facing message of err if it wraps a DomainError.
func Message(err error) (string, bool) {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Message, true
	}
	return "", false
}
