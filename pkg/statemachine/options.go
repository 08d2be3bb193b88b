package statemachine

import (
	"fmt"
)

// Option configures a machine during construction.
type Option[S, E comparable] func(*Machine[S, E]) error

// TransitionOption configures a single transition with guards and actions.
type TransitionOption[S, E comparable] func(*transitionConfig[S, E])

type transitionConfig[S, E comparable] struct {
	guards  []Guard[S, E]
	actions []Action[S, E]
}

// New creates a transition table from the given options.
func New[S, E comparable](opts ...Option[S, E]) (*Machine[S, E], error) {
	m := newMachine[S, E]()

	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}

	if len(m.transitions) == 0 {
		return nil, ErrNoTransitions
	}

	return m, nil
}

// MustNew is like New but panics on misconfiguration, so a broken table stops startup.
func MustNew[S, E comparable](opts ...Option[S, E]) *Machine[S, E] {
	m, err := New(opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to create state machine: %v", err))
	}
	return m
}

// WithTransition adds a single transition.
func WithTransition[S, E comparable](from, to S, event E, opts ...TransitionOption[S, E]) Option[S, E] {
	return func(m *Machine[S, E]) error {
		cfg := &transitionConfig[S, E]{}
		for _, opt := range opts {
			opt(cfg)
		}

		if err := m.AddTransition(from, to, event, cfg.guards, cfg.actions); err != nil {
			return fmt.Errorf("failed to add transition %v->%v on %v: %w", from, to, event, err)
		}
		return nil
	}
}

// WithTransitionFrom adds the same event edge from several source states to one target.
func WithTransitionFrom[S, E comparable](sources []S, to S, event E, opts ...TransitionOption[S, E]) Option[S, E] {
	return func(m *Machine[S, E]) error {
		for _, from := range sources {
			if err := WithTransition(from, to, event, opts...)(m); err != nil {
				return err
			}
		}
		return nil
	}
}

// WithGuard adds a guard to a transition.
func WithGuard[S, E comparable](guard Guard[S, E]) TransitionOption[S, E] {
	return func(cfg *transitionConfig[S, E]) {
		if guard != nil {
			cfg.guards = append(cfg.guards, guard)
		}
	}
}

// WithAction adds an action to a transition.
func WithAction[S, E comparable](action Action[S, E]) TransitionOption[S, E] {
	return func(cfg *transitionConfig[S, E]) {
		if action != nil {
			cfg.actions = append(cfg.actions, action)
		}
	}
}
