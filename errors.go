package statewright

import "errors"

// Sentinel errors returned from setup and lifecycle calls. Wiring mistakes
// are reported by Definition.Validate/Build as returned errors, most of
// them wrapping one of these sentinels; no setup call panics.
var (
	// ErrAlreadyStarted is returned by Start when called more than once.
	ErrAlreadyStarted = errors.New("statewright: machine already started")
	// ErrNotStarted is declared for operations that require a running
	// machine; no function in this package returns it.
	ErrNotStarted = errors.New("statewright: machine not started")
	// ErrUnknownState is returned when a definition references an undeclared state.
	ErrUnknownState = errors.New("statewright: unknown state")
	// ErrDuplicateTransition is returned when two transitions share a (source, event) pair.
	ErrDuplicateTransition = errors.New("statewright: duplicate transition for state/event pair")
	// ErrInvalidParallelTarget is returned when a transition whose source
	// lies outside a parallel composite targets a strict descendant of it
	// instead of the composite itself.
	ErrInvalidParallelTarget = errors.New("statewright: transition target has a parallel proper ancestor")
	// ErrNoInitialState is returned by Validate when no initial state was set.
	ErrNoInitialState = errors.New("statewright: no initial state defined")
)
