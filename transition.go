package statewright

// Transition defines a state change rule.
type Transition struct {
	From  StateID                 // Source state (or "*" for any-state)
	Event EventID                 // Triggering event
	To    StateID                 // Target state
	Guard func(ctx *Context) bool // Optional: must return true to take transition

	// Callbacks mirrors the original source's appendable func_list_
	// (TransitionImpl::on_transition, original_source/src/transition.h):
	// every WithAction/WithActions call appends rather than overwrites, so
	// two independent call sites can both register a callback against the
	// same (source, event) pair. They run in registration order (O3).
	Callbacks []func(ctx *Context) error

	// FailedCallbacks is reserved for future use, mirroring the original
	// source's unused failed_func_list_. Never invoked by the dispatcher.
	FailedCallbacks []func(ctx *Context) error
}

// WildcardState matches any state in transition rules
const WildcardState StateID = "*"

// TransitionOption is a functional option for configuring a Transition
type TransitionOption func(*Transition)

// WithGuard sets a guard condition for the transition
func WithGuard(fn func(*Context) bool) TransitionOption {
	return func(t *Transition) {
		t.Guard = fn
	}
}

// WithGuards sets multiple guard conditions that must ALL pass (AND logic)
func WithGuards(guards ...func(*Context) bool) TransitionOption {
	return func(t *Transition) {
		t.Guard = func(ctx *Context) bool {
			for _, g := range guards {
				if !g(ctx) {
					return false
				}
			}
			return true
		}
	}
}

// WithAction appends an action to run during the transition. Calling
// WithAction more than once on the same Transition (or combining it with
// WithActions) registers multiple callbacks rather than replacing the
// previous one; they run in registration order (O3).
func WithAction(fn func(*Context) error) TransitionOption {
	return func(t *Transition) {
		t.Callbacks = append(t.Callbacks, fn)
	}
}

// WithActions appends multiple actions at once, in the given order.
func WithActions(fns ...func(*Context) error) TransitionOption {
	return func(t *Transition) {
		t.Callbacks = append(t.Callbacks, fns...)
	}
}
