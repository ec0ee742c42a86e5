package statewright

import (
	"log/slog"
	"time"
)

// Context is passed to all state handlers and provides access to FSM operations
type Context struct {
	FSM       *Machine
	Event     *Event  // Event being processed (nil in exit callbacks and for entries no event caused)
	FromState StateID // State we're transitioning from
	ToState   StateID // State we're transitioning to
	Data      any     // User-provided application data
	Logger    *slog.Logger

	// locked is true when this Context was built by a callback path that
	// already holds FSM.mu (every OnEnter/OnExit/Guard/transition Action,
	// invoked from inside processEvent/executeTransition). CurrentState and
	// IsInState must consult it: sync.RWMutex is not reentrant, so a
	// callback calling back into the exported, lock-taking Machine methods
	// would deadlock the dispatcher goroutine on itself.
	locked bool
}

// CurrentState returns the current active state
func (c *Context) CurrentState() StateID {
	if c.locked {
		return c.FSM.currentStateLocked()
	}
	return c.FSM.CurrentState()
}

// IsInState reports whether the given state is active: the current leaf,
// one of its ancestors, or a state in another active parallel branch
func (c *Context) IsInState(id StateID) bool {
	if c.locked {
		return c.FSM.isInStateLocked(id)
	}
	return c.FSM.IsInState(id)
}

// ActiveLeaves returns every currently active state that has no active
// child. Prefer this over c.FSM.ActiveLeaves() from inside a Guard/Action/
// OnEnter/OnExit callback: FSM is exported for callers that need lower-level
// access, but its ActiveLeaves takes FSM.mu, which is already held on this
// goroutine while a callback runs, and would deadlock.
func (c *Context) ActiveLeaves() []StateID {
	if c.locked {
		return c.FSM.activeLeavesLocked()
	}
	return c.FSM.ActiveLeaves()
}

// StartTimer starts a named timer that will inject an event when it fires.
// If a timer with the same name exists, it is reset.
func (c *Context) StartTimer(name string, duration time.Duration, event Event) {
	c.FSM.startTimerInternal(name, duration, event, TimerScopeState, c.FSM.leaf)
}

// StartTimerGlobal starts a timer that won't be auto-cancelled on state exit
func (c *Context) StartTimerGlobal(name string, duration time.Duration, event Event) {
	c.FSM.startTimerInternal(name, duration, event, TimerScopeGlobal, "")
}

// StopTimer stops a timer by name. No-op if timer doesn't exist.
func (c *Context) StopTimer(name string) {
	c.FSM.StopTimer(name)
}

// ResetTimer stops and restarts a timer with a new duration
func (c *Context) ResetTimer(name string, duration time.Duration) {
	c.FSM.resetTimer(name, duration)
}

// TimerActive checks if a timer is currently running
func (c *Context) TimerActive(name string) bool {
	return c.FSM.TimerActive(name)
}

// Send queues an event for asynchronous processing on the normal lane.
func (c *Context) Send(event Event) {
	c.FSM.Send(event)
}

// SendHigh queues an event for asynchronous processing on the high-priority
// lane, which the dispatcher drains ahead of any pending normal-lane event.
func (c *Context) SendHigh(event Event) {
	c.FSM.SendHigh(event)
}
