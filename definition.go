package statewright

import (
	"fmt"
)

// Definition holds the FSM structure before building a Machine
type Definition struct {
	states map[StateID]*State
	// stateOrder preserves the order states were declared in, since ranging
	// over the states map does not: I6 requires the initial child of a
	// composite with no explicit WithDefaultChild to be "the first inserted
	// child", and a map has no memory of insertion order once populated.
	stateOrder  []StateID
	transitions []Transition
	initial     StateID
}

// NewDefinition creates a new FSM definition builder
func NewDefinition() *Definition {
	return &Definition{
		states:      make(map[StateID]*State),
		transitions: make([]Transition, 0),
	}
}

// addState records id in stateOrder the first time it is declared, so a
// state redeclared (overwriting its *State) keeps its original insertion
// slot rather than moving to the end.
func (d *Definition) addState(id StateID, s *State) {
	if _, exists := d.states[id]; !exists {
		d.stateOrder = append(d.stateOrder, id)
	}
	d.states[id] = s
}

// State adds a normal state to the definition
func (d *Definition) State(id StateID, opts ...StateOption) *Definition {
	s := &State{
		ID:   id,
		Type: StateNormal,
	}
	for _, opt := range opts {
		opt(s)
	}
	d.addState(id, s)
	return d
}

// ConditionState adds a condition pseudo-state that evaluates immediately on entry
func (d *Definition) ConditionState(id StateID, cond func(*Context) StateID, opts ...StateOption) *Definition {
	s := &State{
		ID:        id,
		Type:      StateCondition,
		Condition: cond,
	}
	for _, opt := range opts {
		opt(s)
	}
	d.addState(id, s)
	return d
}

// JunctionState adds a junction pseudo-state (like condition but entry action runs first)
func (d *Definition) JunctionState(id StateID, cond func(*Context) StateID, opts ...StateOption) *Definition {
	s := &State{
		ID:        id,
		Type:      StateJunction,
		Condition: cond,
	}
	for _, opt := range opts {
		opt(s)
	}
	d.addState(id, s)
	return d
}

// FinalState adds a terminal state with no outgoing transitions
func (d *Definition) FinalState(id StateID, opts ...StateOption) *Definition {
	s := &State{
		ID:   id,
		Type: StateFinal,
	}
	for _, opt := range opts {
		opt(s)
	}
	d.addState(id, s)
	return d
}

// Transition adds a transition rule
func (d *Definition) Transition(from StateID, event EventID, to StateID, opts ...TransitionOption) *Definition {
	t := Transition{
		From:  from,
		Event: event,
		To:    to,
	}
	for _, opt := range opts {
		opt(&t)
	}
	d.transitions = append(d.transitions, t)
	return d
}

// AnyStateTransition adds a transition that can fire from any state
func (d *Definition) AnyStateTransition(event EventID, to StateID, opts ...TransitionOption) *Definition {
	return d.Transition(WildcardState, event, to, opts...)
}

// Initial sets the initial state
func (d *Definition) Initial(id StateID) *Definition {
	d.initial = id
	return d
}

// Validate checks the definition for errors
func (d *Definition) Validate() error {
	if d.initial == "" {
		return ErrNoInitialState
	}

	if _, ok := d.states[d.initial]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownState, d.initial)
	}

	// Check all parent references are valid
	for id, state := range d.states {
		if state.Parent != "" {
			if _, ok := d.states[state.Parent]; !ok {
				return fmt.Errorf("%w: state %q references undefined parent %q", ErrUnknownState, id, state.Parent)
			}
		}
		if state.DefaultChild != "" {
			if _, ok := d.states[state.DefaultChild]; !ok {
				return fmt.Errorf("%w: state %q references undefined default child %q", ErrUnknownState, id, state.DefaultChild)
			}
		}
	}

	// Check all transition targets are valid
	for _, t := range d.transitions {
		if t.From != WildcardState {
			if _, ok := d.states[t.From]; !ok {
				return fmt.Errorf("%w: transition from undefined state %q", ErrUnknownState, t.From)
			}
		}
		if _, ok := d.states[t.To]; !ok {
			return fmt.Errorf("%w: transition to undefined state %q", ErrUnknownState, t.To)
		}
	}

	// Check condition/junction states have conditions
	for id, state := range d.states {
		if (state.Type == StateCondition || state.Type == StateJunction) && state.Condition == nil {
			return fmt.Errorf("condition/junction state %q has no condition function", id)
		}
	}

	// Check for cycles in parent hierarchy
	for id := range d.states {
		if err := d.checkParentCycle(id); err != nil {
			return err
		}
	}

	// Check for duplicate (source, event) transitions.
	seen := make(map[StateID]map[EventID]bool)
	for _, t := range d.transitions {
		byEvent, ok := seen[t.From]
		if !ok {
			byEvent = make(map[EventID]bool)
			seen[t.From] = byEvent
		}
		if byEvent[t.Event] {
			return fmt.Errorf("%w: state %q, event %q", ErrDuplicateTransition, t.From, t.Event)
		}
		byEvent[t.Event] = true
	}

	// Reject transitions whose target has a parallel proper ancestor P,
	// unless the source is itself a strict descendant of P (so P is already
	// active when the transition fires): there is no well-defined way to
	// enter one specific grandchild of a not-yet-active parallel composite
	// (see the design notes on the original source's enter_child FIXME).
	// Entering a parallel composite from outside must always go through the
	// composite itself.
	for _, t := range d.transitions {
		ancestor := d.states[t.To].Parent
		for ancestor != "" {
			as := d.states[ancestor]
			if as == nil {
				break
			}
			if as.IsParallel {
				inside := false
				for s := d.states[t.From]; s != nil && s.Parent != ""; s = d.states[s.Parent] {
					if s.Parent == ancestor {
						inside = true
						break
					}
				}
				if !inside {
					return fmt.Errorf("%w: transition %q->%q on %q targets a descendant of parallel state %q",
						ErrInvalidParallelTarget, t.From, t.To, t.Event, ancestor)
				}
			}
			ancestor = as.Parent
		}
	}

	return nil
}

func (d *Definition) checkParentCycle(id StateID) error {
	visited := make(map[StateID]bool)
	current := id
	for current != "" {
		if visited[current] {
			return fmt.Errorf("cycle detected in parent hierarchy at state %q", current)
		}
		visited[current] = true
		state := d.states[current]
		if state == nil {
			break
		}
		current = state.Parent
	}
	return nil
}

// Build creates a Machine from the definition
func (d *Definition) Build(opts ...MachineOption) (*Machine, error) {
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("invalid definition: %w", err)
	}

	// Auto-create transitions for states with TimeoutTarget
	for id, state := range d.states {
		if state.TimeoutTarget != "" {
			// Verify target state exists
			if _, ok := d.states[state.TimeoutTarget]; !ok {
				return nil, fmt.Errorf("state %q timeout target %q not defined", id, state.TimeoutTarget)
			}
			// Add automatic transition
			d.transitions = append(d.transitions, Transition{
				From:  id,
				Event: state.TimeoutEvent,
				To:    state.TimeoutTarget,
			})
		}
	}

	// Re-validate after synthesizing timeout transitions, since they can
	// introduce the same duplicate/parallel-target problems hand-written
	// transitions can.
	if err := d.Validate(); err != nil {
		return nil, fmt.Errorf("invalid definition after timeout synthesis: %w", err)
	}

	m := newMachine(d)

	for _, opt := range opts {
		opt(m)
	}

	// Build parent-child relationships. Every state is registered under its
	// Parent, including top-level states whose Parent is the zero value ""
	// (rootStateID, the permanently-active implicit root). Walking
	// stateOrder rather than ranging the states map keeps each parent's
	// child slice in declaration order, so enterState's "no WithDefaultChild"
	// fallback (children[id][0]) is deterministic across runs instead of
	// depending on Go's randomized map iteration order.
	m.children = make(map[StateID][]StateID)
	for _, id := range d.stateOrder {
		state := d.states[id]
		m.children[state.Parent] = append(m.children[state.Parent], id)
	}

	// Compute depth for each state
	m.depth = make(map[StateID]int)
	for _, id := range d.stateOrder {
		m.depth[id] = d.computeDepth(id)
	}

	return m, nil
}

func (d *Definition) computeDepth(id StateID) int {
	depth := 0
	current := id
	for current != "" {
		state := d.states[current]
		if state == nil || state.Parent == "" {
			break
		}
		depth++
		current = state.Parent
	}
	return depth
}
