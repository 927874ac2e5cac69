package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation   = errors.New("validation error")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
	ErrRateLimited  = errors.New("rate limit exceeded")
)

// StateError rejects a transition from the entity's current status.
type StateError struct {
	Entity  string
	ID      string
	Current string
	Allowed []string
	Action  string
}

func (e *StateError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("cannot %s %s %s in status %q", e.Action, e.Entity, e.ID, e.Current)
	if len(e.Allowed) > 0 {
		msg += fmt.Sprintf(" (requires %s)", strings.Join(e.Allowed, " or "))
	}
	return msg
}

func (e *StateError) Unwrap() error { return ErrInvalidState }

func NewStateError(entity, id, action string, current fmt.Stringer, allowed ...fmt.Stringer) *StateError {
	names := make([]string, 0, len(allowed))
	for _, a := range allowed {
		names = append(names, a.String())
	}
	return &StateError{
		Entity:  entity,
		ID:      id,
		Action:  action,
		Current: current.String(),
		Allowed: names,
	}
}

var (
	ErrScheduleInPast = fmt.Errorf("%w: scheduled time must be in the future", ErrValidation)
	ErrScheduleTooFar = fmt.Errorf("%w: cannot schedule more than 1 year in advance", ErrValidation)
)
