package statemachine

import (
	"context"
	"fmt"
	"sync"
)

// Action executes side effects during a state transition. Returning an error prevents the transition.
type Action[S, E comparable] func(ctx context.Context, from, to S, event E, data any) error

// Guard evaluates whether a transition should be allowed based on runtime conditions.
type Guard[S, E comparable] func(ctx context.Context, from S, event E, data any) bool

// Transition defines a state change triggered by an event, with optional guards and actions.
type Transition[S, E comparable] struct {
	From    S
	To      S
	Event   E
	Guards  []Guard[S, E]  // All must pass for transition to proceed
	Actions []Action[S, E] // Executed in order before the new state is returned
}

// Machine is a stateless transition table. The current state lives with the
// caller (usually a persisted entity), so a single Machine can be shared by
// every entity of the same kind.
// Lookups use a nested map: [from][event][]Transition.
type Machine[S, E comparable] struct {
	transitions map[S]map[E][]Transition[S, E]
	mu          sync.RWMutex
}

func newMachine[S, E comparable]() *Machine[S, E] {
	return &Machine[S, E]{
		transitions: make(map[S]map[E][]Transition[S, E]),
	}
}

// AddTransition registers a transition. Zero-value states or events are rejected.
func (m *Machine[S, E]) AddTransition(from, to S, event E, guards []Guard[S, E], actions []Action[S, E]) error {
	var zeroS S
	var zeroE E
	if from == zeroS || to == zeroS || event == zeroE {
		return ErrInvalidTransition
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.transitions[from]; !ok {
		m.transitions[from] = make(map[E][]Transition[S, E])
	}

	// Multiple transitions allowed for same from/event to support guard-based branching
	m.transitions[from][event] = append(m.transitions[from][event], Transition[S, E]{
		From:    from,
		To:      to,
		Event:   event,
		Guards:  guards,
		Actions: actions,
	})
	return nil
}

// Fire resolves the transition for event from the given state, runs its actions
// and returns the target state. The first transition whose guards all pass wins.
func (m *Machine[S, E]) Fire(ctx context.Context, from S, event E, data any) (S, error) {
	var zeroE E
	if event == zeroE {
		return from, ErrInvalidEvent
	}

	m.mu.RLock()
	transitions := m.transitions[from][event]
	m.mu.RUnlock()

	if len(transitions) == 0 {
		return from, &TransitionError{From: fmt.Sprint(from), Event: fmt.Sprint(event)}
	}

	t, ok := firstPassing(ctx, transitions, from, event, data)
	if !ok {
		return from, &TransitionError{From: fmt.Sprint(from), Event: fmt.Sprint(event), Rejected: true}
	}

	for _, action := range t.Actions {
		if action == nil {
			continue
		}
		if err := action(ctx, from, t.To, event, data); err != nil {
			return from, fmt.Errorf("action failed: %w", err)
		}
	}

	return t.To, nil
}

// CanFire reports whether Fire would find a transition for event without running any action.
func (m *Machine[S, E]) CanFire(ctx context.Context, from S, event E, data any) bool {
	m.mu.RLock()
	transitions := m.transitions[from][event]
	m.mu.RUnlock()

	_, ok := firstPassing(ctx, transitions, from, event, data)
	return ok
}

// Events lists the events registered for the given state, ignoring guards.
func (m *Machine[S, E]) Events(from S) []E {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]E, 0, len(m.transitions[from]))
	for ev := range m.transitions[from] {
		events = append(events, ev)
	}
	return events
}

func firstPassing[S, E comparable](ctx context.Context, transitions []Transition[S, E], from S, event E, data any) (Transition[S, E], bool) {
	for _, t := range transitions {
		passed := true
		for _, guard := range t.Guards {
			if guard != nil && !guard(ctx, from, event, data) {
				passed = false
				break
			}
		}
		if passed {
			return t, true
		}
	}
	return Transition[S, E]{}, false
}
