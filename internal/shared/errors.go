package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed or out-of-range caller input.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidTransition indicates an operation requested against an entity in the wrong state.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrPendingDiscrepancies blocks completing an audit cycle with undecided discrepancies.
	ErrPendingDiscrepancies = errors.New("pending discrepancies exist")
	// ErrConcurrentUpdate indicates an optimistic version check failed.
	ErrConcurrentUpdate = errors.New("concurrent update detected")
	// ErrUnauthorized indicates a missing or invalid credential.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden indicates the actor lacks a required permission.
	ErrForbidden = errors.New("forbidden")
)

// Validationf builds an error wrapping ErrValidation.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFoundf builds an error wrapping ErrNotFound.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
}

// TransitionError describes a rejected state change. It unwraps to ErrInvalidTransition.
type TransitionError struct {
	Entity string
	ID     int64
	From   string
	To     string
	// Action names a non-transition operation that the current state forbids, e.g. "capture".
	Action string
}

func (e *TransitionError) Error() string {
	if e.Action != "" {
		return fmt.Sprintf("%s %d: cannot %s while %s", e.Entity, e.ID, e.Action, e.From)
	}
	return fmt.Sprintf("%s %d: invalid state transition from %s to %s", e.Entity, e.ID, e.From, e.To)
}

// Unwrap allows errors.Is(err, ErrInvalidTransition).
func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}
