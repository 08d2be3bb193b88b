// Package statemachine provides a generic, stateless finite-state-machine
// transition table.
//
// A Machine holds only the transition rules. The current state belongs to the
// caller, typically a persisted entity such as a subscription, so one Machine
// can validate transitions for any number of entities concurrently:
//
//	type Status string
//	type Event string
//
//	machine := statemachine.MustNew(
//	    statemachine.WithTransition[Status, Event]("active", "paused", "pause"),
//	    statemachine.WithTransition[Status, Event]("paused", "active", "resume"),
//	)
//
//	next, err := machine.Fire(ctx, sub.Status, "pause", sub)
//
// # Guards and Actions
//
// Guards veto a transition based on runtime data. When several transitions are
// registered for the same state and event, the first whose guards all pass is
// taken. Actions run after the guards succeed and before Fire returns the new
// state; an action error aborts the transition.
//
// # Error Handling
//
//	if statemachine.IsNoTransitionAvailableError(err) { /* edge not defined */ }
//	if statemachine.IsTransitionRejectedError(err)   { /* guard said no */ }
//
// # Concurrency
//
// Machine guards its table with a RWMutex. Fire and CanFire only take the read
// lock, so a shared table never serializes callers.
package statemachine
