// Package apperr defines the error kinds shared by the domain packages.
//
// Domain code returns sentinels (or typed errors whose Is method maps onto a
// sentinel) so the HTTP layer can pick a status code with errors.Is without
// knowing about individual domain types.
package apperr

import (
	"fmt"

	"github.com/go-faster/errors"
)

var (
	// ErrValidation marks malformed input rejected before any store access.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks a missing order, wallet, coupon, cart or product.
	ErrNotFound = errors.New("not found")
	// ErrForbidden marks an authorization failure.
	ErrForbidden = errors.New("forbidden")
	// ErrStateViolation marks a transition the state machine does not allow.
	ErrStateViolation = errors.New("state violation")
	// ErrConflict marks an optimistic concurrency or uniqueness failure.
	// Callers should retry the whole operation from a fresh read.
	ErrConflict = errors.New("conflict")
	// ErrUnavailable marks a transient infrastructure failure that survived
	// local retries. The caller may retry the entire operation.
	ErrUnavailable = errors.New("temporarily unavailable")
	// ErrSignatureInvalid marks a payment callback that failed authentication.
	ErrSignatureInvalid = errors.New("signature invalid")
)

// ValidationError describes a single invalid field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is reports ValidationError as ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Invalid is a shorthand for &ValidationError{Field: field, Reason: reason}.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
