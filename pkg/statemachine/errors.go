package statemachine

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTransition = errors.New("invalid transition: from, to and event must be set")
	ErrInvalidEvent      = errors.New("invalid event: event must be set")
	ErrNoTransitions     = errors.New("state machine has no transitions")

	// ErrNoTransitionAvailable matches a TransitionError for an undefined edge.
	ErrNoTransitionAvailable = errors.New("no transition available")
	// ErrTransitionRejected matches a TransitionError where every guard said no.
	ErrTransitionRejected = errors.New("transition rejected by guards")
)

// TransitionError reports a Fire that could not move the machine.
// It matches ErrNoTransitionAvailable or ErrTransitionRejected with errors.Is.
type TransitionError struct {
	From     string
	Event    string
	Rejected bool
}

func (e *TransitionError) Error() string {
	if e.Rejected {
		return fmt.Sprintf("event %q from state %q rejected by guards", e.Event, e.From)
	}
	return fmt.Sprintf("no transition from state %q for event %q", e.From, e.Event)
}

func (e *TransitionError) Is(target error) bool {
	if e.Rejected {
		return target == ErrTransitionRejected
	}
	return target == ErrNoTransitionAvailable
}

func IsNoTransitionAvailableError(err error) bool {
	return errors.Is(err, ErrNoTransitionAvailable)
}

func IsTransitionRejectedError(err error) bool {
	return errors.Is(err, ErrTransitionRejected)
}
