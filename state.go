package statewright

import "time"

// State defines a state in the machine.
type State struct {
	ID           StateID
	Parent       StateID   // Empty for root-level states
	Type         StateType // Normal, Condition, Junction, Final
	// DefaultChild, if set, is entered automatically whenever this state is
	// entered. If unset and this state is a non-parallel composite with
	// children, the first child declared against it (via State/
	// ConditionState/JunctionState/FinalState, in declaration order) is
	// entered instead — a composite is never left with none of its
	// children active.
	DefaultChild StateID

	// IsParallel marks this state as a parallel composite: entering it
	// enters every child instead of just DefaultChild, and exiting it exits
	// every active child first. It is set when the state is declared
	// (WithParallel); the Machine has no call that changes it.
	IsParallel bool

	OnEnter func(ctx *Context) error
	OnExit  func(ctx *Context) error

	// For condition/junction states: evaluated on entry to determine next state.
	Condition func(ctx *Context) StateID

	// Declarative timeout: auto-started on entry, auto-cancelled on exit.
	// TimeoutTarget, when set, causes Definition.Build to synthesize a
	// transition from this state to TimeoutTarget on TimeoutEvent, so a
	// WithTimeoutTransition state needs no explicit Definition.Transition;
	// a plain WithTimeout state leaves TimeoutTarget empty and does.
	Timeout       time.Duration
	TimeoutEvent  EventID
	TimeoutTarget StateID
	// TimeoutAction, if set, runs immediately before the timeout event is
	// sent; a non-nil error restarts the timer instead of firing the event.
	TimeoutAction func(ctx *Context) error

	// Declared timers (for auto-cleanup on state exit).
	DeclaredTimers []string
}

// StateOption is a functional option for configuring a State.
type StateOption func(*State)

// WithParent sets the parent state for hierarchy.
func WithParent(parent StateID) StateOption {
	return func(s *State) {
		s.Parent = parent
	}
}

// WithDefaultChild sets the default child state to auto-enter.
func WithDefaultChild(child StateID) StateOption {
	return func(s *State) {
		s.DefaultChild = child
	}
}

// WithParallel marks the state as a parallel composite (see State.IsParallel).
func WithParallel() StateOption {
	return func(s *State) {
		s.IsParallel = true
	}
}

// WithOnEnter sets the entry action for the state.
func WithOnEnter(fn func(*Context) error) StateOption {
	return func(s *State) {
		s.OnEnter = fn
	}
}

// WithOnExit sets the exit action for the state.
func WithOnExit(fn func(*Context) error) StateOption {
	return func(s *State) {
		s.OnExit = fn
	}
}

// WithTimeout sets a declarative timeout that auto-starts on entry and
// sends `event` into the queue when it fires, without changing state on
// its own; pair with an explicit Definition.Transition, or use
// WithTimeoutTransition.
func WithTimeout(duration time.Duration, event EventID) StateOption {
	return func(s *State) {
		s.Timeout = duration
		s.TimeoutEvent = event
	}
}

// WithTimeoutTransition sets a declarative timeout that, on firing,
// automatically transitions this state to target — Definition.Build
// synthesizes the underlying transition.
func WithTimeoutTransition(duration time.Duration, event EventID, target StateID) StateOption {
	return func(s *State) {
		s.Timeout = duration
		s.TimeoutEvent = event
		s.TimeoutTarget = target
	}
}

// WithTimeoutAction attaches an action that runs just before the timeout
// event fires; a non-nil error postpones the timeout by restarting the timer.
func WithTimeoutAction(fn func(*Context) error) StateOption {
	return func(s *State) {
		s.TimeoutAction = fn
	}
}

// WithTimer declares a named timer for auto-cleanup on state exit.
func WithTimer(name string) StateOption {
	return func(s *State) {
		s.DeclaredTimers = append(s.DeclaredTimers, name)
	}
}
