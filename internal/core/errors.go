package core

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden: caller is not the holder")
	ErrRenewalLimit = errors.New("renewal limit exceeded")
	ErrConflict     = errors.New("reservation conflict")
)

// ValidationError reports malformed input. It is never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Invalid builds a *ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ConflictError carries the conflicts that blocked a grant.
type ConflictError struct {
	Conflicts []Conflict
}

func (e *ConflictError) Error() string {
	holders := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		holders = append(holders, c.ExistingReservation.RequesterID)
	}
	return fmt.Sprintf("%d conflicting reservation(s) held by %s", len(e.Conflicts), strings.Join(holders, ", "))
}

func (e *ConflictError) Unwrap() error { return ErrConflict }
