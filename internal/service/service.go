// Package service provides business logic for the application.
package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/selah/selah/internal/access"
)

// Service errors. Access outcomes are re-exported so handlers map a single
// set of sentinels.
var (
	ErrUnauthenticated = access.ErrUnauthenticated
	ErrForbidden       = access.ErrForbidden
	ErrNotFound        = access.ErrNotFound

	ErrValidation        = errors.New("validation failed")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotActive         = errors.New("experiment is not active")
	ErrFieldsLocked      = errors.New("fields can only change while the experiment is a draft")
	ErrExperimentLocked  = errors.New("completed experiments cannot be edited")
	ErrNoFields          = errors.New("experiment needs at least one field before it starts")
	ErrNotOrganisation   = errors.New("only organisation accounts can create organisations")
	ErrInviteInvalid     = errors.New("invitation is invalid or expired")
	ErrMemberExists      = errors.New("user is already a member")
	ErrLastAdmin         = errors.New("organisation must keep at least one org admin")
)

// ValidationError describes one rejected input. It matches ErrValidation
// with errors.Is.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// newID returns a new sortable identifier.
func newID() string {
	return ulid.Make().String()
}

// clock returns the current UTC time. Tests replace it per service.
type clock func() time.Time

func (c clock) now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c().UTC()
}
