package model

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned when an operation targets a client name that has no Session.
	ErrSessionNotFound = errors.New("session not found")

	// ErrConnectionNotBound is returned when a connection has not introduced itself yet
	// (or its Session was reaped). Transports should force-disconnect it.
	ErrConnectionNotBound = errors.New("connection not bound to a session")
)

// ValidationError describes a malformed inbound event or introduction.
// It is local to the request and never reaches history or broadcast.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("invalid field '%s'", e.Field)
	}
	return fmt.Sprintf("invalid field '%s': %s", e.Field, e.Reason)
}

// IsValidation reports whether err carries a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
