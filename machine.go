package statewright

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Machine is the runtime FSM instance. All state mutation happens either
// during setup (before Start) or on the single dispatcher goroutine; the
// event queue is the only structure touched concurrently at steady state.
type Machine struct {
	definition *Definition
	mu         sync.RWMutex

	// active is the full active subtree: every currently-entered state,
	// including composites and, for parallel composites, every child.
	active map[StateID]bool
	// activeChild tracks, for each active non-parallel composite, which
	// child is currently active. Absent/empty for leaves and parallel
	// composites (whose children are tracked via active directly).
	activeChild map[StateID]StateID
	// leaf is the most recently entered non-composite state, retained for
	// CurrentState()'s single-leaf convenience API; with parallel regions
	// active there may be other leaves too, see ActiveLeaves.
	leaf StateID

	queue    *eventQueue
	notifier Notifier

	timers  map[string]*timerEntry
	timerMu sync.Mutex

	data                any
	logger              *slog.Logger
	tracer              trace.Tracer
	stateChangeCallback func(from, to StateID)

	ctx     context.Context
	cancel  context.CancelFunc
	started bool

	children map[StateID][]StateID // Parent -> children
	depth    map[StateID]int       // State -> depth in hierarchy
}

// rootStateID is the sentinel id of the implicit, always-active root that
// owns every top-level (Parent == "") state as a child. It is never present
// in a Definition's own state map; it exists purely so walkActive has a
// permanent, never-deactivated starting point, instead of a snapshot of
// whichever top-level state happened to be d.initial's ancestor at build
// time. Definition already uses "" as its "no parent"/"no default child"
// zero-value sentinel, so a top-level state's Parent field already equals
// rootStateID with no further translation needed.
const rootStateID StateID = ""

func newMachine(d *Definition) *Machine {
	return &Machine{
		definition:  d,
		active:      map[StateID]bool{rootStateID: true},
		activeChild: make(map[StateID]StateID),
		queue:       newEventQueue(64),
		notifier:    newChanNotifier(),
		timers:      make(map[string]*timerEntry),
		logger:      Logger,
		tracer:      otel.Tracer("github.com/coriolis-labs/statewright"),
	}
}

// MachineOption is a functional option for configuring a Machine.
type MachineOption func(*Machine)

// WithEventQueueCapacity pre-allocates the two lane slices. This is a
// performance hint only; the queue is otherwise unbounded.
func WithEventQueueCapacity(capacity int) MachineOption {
	return func(m *Machine) {
		m.queue = newEventQueue(capacity)
	}
}

// WithLogger sets the logger for the machine.
func WithLogger(logger *slog.Logger) MachineOption {
	return func(m *Machine) {
		m.logger = logger
	}
}

// WithTracerProvider wires OpenTelemetry tracing through a specific
// provider instead of the global otel.GetTracerProvider().
func WithTracerProvider(tp trace.TracerProvider) MachineOption {
	return func(m *Machine) {
		m.tracer = tp.Tracer("github.com/coriolis-labs/statewright")
	}
}

// WithNotifier overrides the default channel-based Notifier, letting a
// host drive dispatch from its own reactor loop.
func WithNotifier(n Notifier) MachineOption {
	return func(m *Machine) {
		m.notifier = n
	}
}

// WithData sets the application data accessible via Context.
func WithData(data any) MachineOption {
	return func(m *Machine) {
		m.data = data
	}
}

// WithStateChangeCallback sets a callback invoked after each state change.
func WithStateChangeCallback(fn func(from, to StateID)) MachineOption {
	return func(m *Machine) {
		m.stateChangeCallback = fn
	}
}

// OnStateChange sets a callback invoked after each state change.
// Can be called after Build() but before Start().
func (m *Machine) OnStateChange(fn func(from, to StateID)) {
	m.stateChangeCallback = fn
}

// Start rebuilds the parent/child tables from the Definition, performs the
// implicit initial entry, then arms and enables the notifier so queued
// events are dispatched. It does not re-validate the topology; Build does
// that. Calling Start twice returns ErrAlreadyStarted.
func (m *Machine) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.started = true
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	// Build parent-child relationships and depth, in case the Definition
	// was mutated (e.g. more states/transitions added) after an earlier Build.
	// Every state is registered under its Parent, including top-level states
	// whose Parent is the zero value "" — that zero value is rootStateID, the
	// permanently-active implicit root, so it must get a children entry too.
	// Walking stateOrder (not ranging the states map) keeps each parent's
	// child slice in declaration order — see the matching comment in
	// Definition.Build — so enterState's default-child fallback is
	// deterministic.
	m.children = make(map[StateID][]StateID)
	for _, id := range m.definition.stateOrder {
		state := m.definition.states[id]
		m.children[state.Parent] = append(m.children[state.Parent], id)
	}
	m.depth = make(map[StateID]int)
	for _, id := range m.definition.stateOrder {
		m.depth[id] = m.definition.computeDepth(id)
	}

	m.mu.Lock()
	err := m.enterState(m.definition.initial, Event{}, "")
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to enter initial state: %w", err)
	}

	m.notifier.Arm(m.drain)
	m.notifier.Enable()

	go func() {
		<-m.ctx.Done()
		m.notifier.Disable()
	}()

	return nil
}

// Stop cancels the dispatcher and disarms the notifier. Queued events are
// neither drained nor discarded explicitly; they are reclaimed with the
// Machine value once it becomes unreachable.
func (m *Machine) Stop() error {
	if m.cancel != nil {
		m.cancel()
	}
	m.StopAllTimers()
	return nil
}

// Send queues an event for asynchronous processing on the normal lane and
// returns it so the caller can attach an OnDelete hook before it's picked
// up by the dispatcher.
func (m *Machine) Send(event Event) Event {
	return m.enqueue(event, LaneNormal)
}

// SendHigh queues an event on the high-priority lane, which the dispatcher
// always drains ahead of any pending normal-lane event.
func (m *Machine) SendHigh(event Event) Event {
	return m.enqueue(event, LaneHigh)
}

func (m *Machine) enqueue(event Event, lane Lane) Event {
	m.queue.push(event, lane)
	m.logger.Debug("event queued", "event", event.ID, "lane", lane, "correlation_id", event.CorrelationID())
	m.notifier.Signal()
	return event
}

// SendSync sends an event and waits for it to be processed.
func (m *Machine) SendSync(event Event) error {
	done := make(chan error, 1)
	wrapper := event
	wrapper.Payload = &syncEventPayload{
		original: event.Payload,
		done:     done,
	}
	m.Send(wrapper)
	return <-done
}

type syncEventPayload struct {
	original any
	done     chan error
}

// CurrentState returns the most recently entered leaf state. With parallel
// regions active, other leaves may also be active; see ActiveLeaves.
func (m *Machine) CurrentState() StateID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentStateLocked()
}

// currentStateLocked is CurrentState's body, callable from paths that
// already hold m.mu (sync.RWMutex is not reentrant, so those paths must
// not go through CurrentState itself). In particular Context.CurrentState
// is documented callback-facing API, and callbacks run from inside
// processEvent/executeTransition with m.mu already locked.
func (m *Machine) currentStateLocked() StateID {
	return m.leaf
}

// ActiveLeaves returns every currently active state that has no active
// child, in a deterministic (leaf-first walk) order.
func (m *Machine) ActiveLeaves() []StateID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeLeavesLocked()
}

// activeLeavesLocked is ActiveLeaves' body, for callers that already hold
// m.mu (see currentStateLocked).
func (m *Machine) activeLeavesLocked() []StateID {
	var leaves []StateID
	m.walkActive(rootStateID, func(id StateID) {
		if len(m.children[id]) == 0 {
			leaves = append(leaves, id)
		}
	})
	return leaves
}

// SetState forces a direct state change, bypassing normal event-driven
// transitions. Useful for hybrid migrations where legacy code needs to set
// state directly. It exits the current state and enters the new one,
// running callbacks exactly like an event-driven transition would.
func (m *Machine) SetState(newState StateID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.definition.states[newState]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownState, newState)
	}

	fromState := m.leaf
	if fromState == newState {
		return nil
	}

	lca := m.findLCA(fromState, newState)
	if err := m.exitToAncestor(fromState, lca); err != nil {
		return fmt.Errorf("exit state %s: %w", fromState, err)
	}
	if err := m.enterFromAncestor(newState, lca, Event{}, fromState); err != nil {
		return fmt.Errorf("enter state %s: %w", newState, err)
	}

	if m.stateChangeCallback != nil {
		m.stateChangeCallback(fromState, m.leaf)
	}
	return nil
}

// IsInState reports whether id is currently active, whether as the leaf,
// an ancestor of the leaf, or (for parallel regions) any other active branch.
func (m *Machine) IsInState(id StateID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isInStateLocked(id)
}

// isInStateLocked is IsInState's body, for callers that already hold m.mu
// (see currentStateLocked).
func (m *Machine) isInStateLocked(id StateID) bool {
	return m.active[id]
}

// walkActive performs the corrected leaf-first walk over the active
// subtree, starting from rootStateID (the permanently-active implicit
// parent of every top-level state — see its doc comment for why a real,
// persistent root is required instead of a snapshot of d.initial's
// ancestor chain): a parallel active node recurses into every active child
// before visiting itself; a non-parallel active node recurses into
// activeChild (if any) before visiting itself. This is also the fix for
// the original source's walk(), which only ever followed a single
// active_child_ pointer and silently skipped sibling branches of an active
// parallel composite. rootStateID itself is never passed to visit, since it
// isn't a real state in the Definition.
func (m *Machine) walkActive(id StateID, visit func(StateID)) {
	if !m.active[id] {
		return
	}
	state := m.definition.states[id]
	if state != nil && state.IsParallel {
		for _, child := range m.children[id] {
			m.walkActive(child, visit)
		}
	} else if child, ok := m.activeChild[id]; ok && child != "" {
		m.walkActive(child, visit)
	}
	if id != rootStateID {
		visit(id)
	}
}

// drain is the dispatcher's entry point, invoked by the Notifier whenever
// an event has been queued. It pops and processes events until the queue
// is empty.
func (m *Machine) drain() {
	dctx, span := m.tracer.Start(context.Background(), "statewright.dispatch")
	defer span.End()

	n := 0
	for {
		event, ok := m.queue.pop()
		if !ok {
			break
		}
		n++
		m.processQueuedEvent(dctx, event)
	}
	span.SetAttributes(attribute.Int("events.processed", n))
}

func (m *Machine) processQueuedEvent(ctx context.Context, event Event) {
	defer event.runOnDelete()

	var syncDone chan error
	payload := event.Payload
	if sp, ok := payload.(*syncEventPayload); ok {
		syncDone = sp.done
		payload = sp.original
	}
	actual := Event{id: event.id, ID: event.ID, Payload: payload}

	err := m.processEvent(ctx, actual)
	if syncDone != nil {
		syncDone <- err
	}
}

// processEvent handles a single event: find matching transitions leaf-first
// over the active subtree (current leaf and ancestors first, then
// wildcards), and apply the first whose guard passes.
func (m *Machine) processEvent(ctx context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.Debug("processing event", "event", event.ID, "leaf", m.leaf, "correlation_id", event.CorrelationID())

	transitions := m.findAllTransitions(event)
	if len(transitions) == 0 {
		m.logger.Debug("no transition found", "event", event.ID, "leaf", m.leaf)
		return nil
	}

	tctx := m.makeContext(event)
	for _, transition := range transitions {
		if !m.active[transition.From] && transition.From != WildcardState {
			// Skip a candidate whose source is not active. Candidates come
			// from the active subtree and at most one transition runs per
			// event (the loop returns after it), so this does not happen in
			// normal dispatch.
			continue
		}
		if transition.Guard == nil || transition.Guard(tctx) {
			return m.executeTransition(ctx, transition, event)
		}
		m.logger.Debug("guard rejected transition", "event", event.ID, "from", transition.From, "to", transition.To)
	}

	m.logger.Debug("all guards rejected", "event", event.ID, "leaf", m.leaf)
	return nil
}

// findAllTransitions collects matching transitions in leaf-first priority
// order: the active leaf and its ancestors (deepest first), then any
// wildcard-from transitions.
func (m *Machine) findAllTransitions(event Event) []*Transition {
	var matches []*Transition

	var sourceOrder []StateID
	m.walkActive(rootStateID, func(id StateID) {
		sourceOrder = append(sourceOrder, id)
	})
	for _, source := range sourceOrder {
		for i := range m.definition.transitions {
			t := &m.definition.transitions[i]
			if t.Event == event.ID && t.From == source {
				matches = append(matches, t)
			}
		}
	}

	for i := range m.definition.transitions {
		t := &m.definition.transitions[i]
		if t.Event == event.ID && t.From == WildcardState {
			matches = append(matches, t)
		}
	}

	return matches
}

// executeTransition performs the LCA-based state transition: exit down to
// (not including) the LCA, run the transition action, then enter from the
// LCA down to the target.
func (m *Machine) executeTransition(ctx context.Context, t *Transition, event Event) error {
	_, span := m.tracer.Start(ctx, "statewright.transition",
		trace.WithAttributes(
			attribute.String("state.from", string(t.From)),
			attribute.String("state.to", string(t.To)),
			attribute.String("event.kind", string(event.ID)),
			attribute.String("event.id", event.CorrelationID().String()),
		))
	defer span.End()

	fromState := m.leaf
	toState := t.To

	m.logger.Debug("executing transition", "from", t.From, "to", toState, "event", event.ID)

	// A failing/panicking action is logged and recorded on the span, but
	// never rolls back a transition already in progress: entry into the
	// target proceeds regardless, matching the engine's failure semantics
	// for callbacks in general (§7 of the specification this implements).
	var actionErr error

	if t.From == t.To {
		// Self-transition: exit then re-enter, exactly one of each.
		if err := m.exitState(t.From); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("exit failed: %w", err)
		}
		actionErr = m.runAction(t, event, t.From, t.To)
		if err := m.enterState(t.To, event, t.From); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("enter failed: %w", err)
		}
		if m.stateChangeCallback != nil {
			m.stateChangeCallback(fromState, m.leaf)
		}
		if actionErr != nil {
			span.RecordError(actionErr)
			span.SetStatus(codes.Error, actionErr.Error())
		}
		return actionErr
	}

	// A wildcard transition has no source state of its own: it leaves the
	// current leaf, exiting up to the common ancestor with the target.
	source := t.From
	if source == WildcardState {
		source = fromState
	}
	lca := m.findLCA(source, toState)

	if err := m.exitToAncestor(source, lca); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("exit failed: %w", err)
	}

	actionErr = m.runAction(t, event, t.From, toState)

	if err := m.enterFromAncestor(toState, lca, event, fromState); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("enter failed: %w", err)
	}

	if m.stateChangeCallback != nil && fromState != m.leaf {
		m.stateChangeCallback(fromState, m.leaf)
	}
	if actionErr != nil {
		span.RecordError(actionErr)
		span.SetStatus(codes.Error, actionErr.Error())
	}
	return actionErr
}

// runAction runs every callback registered against t via WithAction/
// WithActions, in registration order (O3). Each is invoked regardless of
// whether an earlier one failed or panicked — matching invokeCallback's own
// "never rolling back state" semantics — and the first error encountered
// is returned to the caller for span/status reporting.
func (m *Machine) runAction(t *Transition, event Event, from, to StateID) error {
	if len(t.Callbacks) == 0 {
		return nil
	}
	ctx := m.makeContext(event)
	ctx.FromState = from
	ctx.ToState = to
	subject := string(from) + "->" + string(to)
	var firstErr error
	for _, fn := range t.Callbacks {
		fn := fn
		if err := m.invokeCallback("transition action", subject, func() error {
			return fn(ctx)
		}); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// invokeCallback runs fn with panic recovery: a panicking or erroring
// callback is logged and swallowed so dispatch can continue with the next
// callback, never rolling back state that has already changed.
func (m *Machine) invokeCallback(kind, subject string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("callback panicked", "kind", kind, "subject", subject, "panic", r)
			err = fmt.Errorf("%s %s panicked: %v", kind, subject, r)
		}
	}()
	if e := fn(); e != nil {
		m.logger.Error("callback failed", "kind", kind, "subject", subject, "error", e)
		return e
	}
	return nil
}

// findLCA finds the least common ancestor of two states.
func (m *Machine) findLCA(a, b StateID) StateID {
	if a == b {
		return a
	}

	ancestorsA := make(map[StateID]bool)
	current := a
	for current != "" {
		ancestorsA[current] = true
		state := m.definition.states[current]
		if state == nil {
			break
		}
		current = state.Parent
	}
	ancestorsA[""] = true

	current = b
	for {
		if ancestorsA[current] {
			return current
		}
		state := m.definition.states[current]
		if state == nil {
			break
		}
		current = state.Parent
	}
	return ""
}

// exitToAncestor exits states from current up to (but not including) ancestor.
func (m *Machine) exitToAncestor(from StateID, ancestor StateID) error {
	current := from
	for current != "" && current != ancestor {
		if err := m.exitState(current); err != nil {
			return err
		}
		state := m.definition.states[current]
		if state == nil {
			break
		}
		current = state.Parent
	}
	return nil
}

// enterFromAncestor enters the path from ancestor down to target. Every
// node on the path except the final one uses enterOnly (marks active, runs
// callbacks, but does not cascade into a default child); the final node
// uses the full enterState cascade. This generalizes the original's
// enter_child split. Definition.Validate rejects a transition whose target
// has a parallel proper ancestor unless its source already lies inside that
// parallel state, so any parallel ancestor on the path is already active
// when this runs.
func (m *Machine) enterFromAncestor(target StateID, ancestor StateID, event Event, fromState StateID) error {
	if target == ancestor {
		return m.enterState(target, event, fromState)
	}

	path := m.pathFromAncestor(target, ancestor)
	prevState := fromState
	for i, stateID := range path {
		if i == len(path)-1 {
			if err := m.enterState(stateID, event, prevState); err != nil {
				return err
			}
		} else {
			if err := m.enterOnly(stateID, event, prevState); err != nil {
				return err
			}
		}
		prevState = stateID
	}
	return nil
}

// pathFromAncestor returns the path from ancestor to target (excluding ancestor).
func (m *Machine) pathFromAncestor(target StateID, ancestor StateID) []StateID {
	var path []StateID
	current := target
	for current != "" && current != ancestor {
		path = append([]StateID{current}, path...)
		state := m.definition.states[current]
		if state == nil {
			break
		}
		current = state.Parent
	}
	return path
}

// enterOnly marks a single intermediate ancestor active as part of a
// multi-hop enter path, without cascading into its default child. Used
// only for non-final nodes on an enter path.
func (m *Machine) enterOnly(id StateID, event Event, fromState StateID) error {
	state := m.definition.states[id]
	if state == nil {
		return fmt.Errorf("%w: %q", ErrUnknownState, id)
	}
	m.active[id] = true
	// Always link into the parent's activeChild, including top-level states
	// whose Parent is the zero-value rootStateID: the root must track its
	// active child exactly like any other composite, or walkActive has
	// nothing to recurse into once the machine leaves whichever top-level
	// state happened to be active first.
	m.activeChild[state.Parent] = id
	if state.OnEnter != nil {
		ctx := m.makeContext(event)
		ctx.FromState = fromState
		ctx.ToState = id
		m.invokeCallback("entry", string(id), func() error { return state.OnEnter(ctx) })
	}
	return nil
}

// enterState enters a state and handles conditions/default children/parallel fan-out.
func (m *Machine) enterState(id StateID, event Event, fromState StateID) error {
	state := m.definition.states[id]
	if state == nil {
		return fmt.Errorf("%w: %q", ErrUnknownState, id)
	}

	m.logger.Debug("entering state", "state", id, "type", state.Type)
	m.active[id] = true
	m.leaf = id
	// See enterOnly: the link is unconditional so the root's activeChild
	// tracks whichever top-level state is current.
	m.activeChild[state.Parent] = id

	if state.Timeout > 0 && state.TimeoutEvent != "" {
		timerName := fmt.Sprintf("_timeout_%s", id)
		m.startTimerInternalWithAction(timerName, state.Timeout, NewEvent(state.TimeoutEvent), TimerScopeState, id, state.TimeoutAction)
	}

	if state.OnEnter != nil {
		ctx := m.makeContext(event)
		ctx.FromState = fromState
		ctx.ToState = id
		// Error/panic already logged inside invokeCallback; entry has
		// already happened and is never rolled back.
		m.invokeCallback("entry", string(id), func() error { return state.OnEnter(ctx) })
	}

	if state.Type == StateCondition || state.Type == StateJunction {
		if state.Condition != nil {
			ctx := m.makeContext(event)
			nextState := state.Condition(ctx)
			if nextState != "" {
				if err := m.exitState(id); err != nil {
					return err
				}
				return m.enterState(nextState, event, id)
			}
		}
	}

	if state.IsParallel {
		for _, child := range m.children[id] {
			if err := m.enterState(child, event, id); err != nil {
				return err
			}
		}
		return nil
	}

	if state.DefaultChild != "" {
		return m.enterState(state.DefaultChild, event, id)
	}

	// No explicit WithDefaultChild: per I6, a non-parallel composite with
	// children auto-enters the first inserted child. m.children[id] is
	// built from Definition.stateOrder (declaration order), not by ranging
	// the states map, so children[0] here is deterministic across runs.
	if children := m.children[id]; len(children) > 0 {
		return m.enterState(children[0], event, id)
	}

	return nil
}

// exitState exits a state, cascading into its active child (or, for a
// parallel composite, every active child) first.
func (m *Machine) exitState(id StateID) error {
	state := m.definition.states[id]
	if state == nil {
		return nil
	}

	if state.IsParallel {
		for _, child := range m.children[id] {
			if m.active[child] {
				if err := m.exitState(child); err != nil {
					return err
				}
			}
		}
	} else if child, ok := m.activeChild[id]; ok && child != "" && m.active[child] {
		if err := m.exitState(child); err != nil {
			return err
		}
		delete(m.activeChild, id)
	}

	m.logger.Debug("exiting state", "state", id)

	m.cleanupTimersForState(id)
	for _, timerName := range state.DeclaredTimers {
		m.StopTimer(timerName)
	}
	m.StopTimer(fmt.Sprintf("_timeout_%s", id))

	m.active[id] = false

	if state.OnExit != nil {
		ctx := m.makeContext(Event{})
		m.invokeCallback("exit", string(id), func() error { return state.OnExit(ctx) })
	}

	if m.leaf == id {
		// May set m.leaf to rootStateID transiently; always overwritten by
		// the enterState/enterOnly call that immediately follows within the
		// same locked dispatch, so it is never observed externally.
		m.leaf = state.Parent
	}
	return nil
}

// makeContext creates a context for callbacks invoked from inside
// processEvent/executeTransition, where m.mu is already held by the
// calling goroutine. The Context this returns must route CurrentState/
// IsInState through the lock-free *Locked accessors, since sync.RWMutex
// is not reentrant and re-taking m.mu on the same goroutine would deadlock.
func (m *Machine) makeContext(event Event) *Context {
	ctx := m.makeContextUnlocked(event)
	ctx.locked = true
	return ctx
}

// makeContextUnlocked creates a context for callbacks invoked without
// m.mu held (currently only the timer package's TimeoutAction, fired from
// its own AfterFunc goroutine under timerMu, not m.mu). Its CurrentState/
// IsInState go through the normal lock-taking Machine methods.
func (m *Machine) makeContextUnlocked(event Event) *Context {
	var evPtr *Event
	if event.ID != "" {
		e := event
		evPtr = &e
	}
	return &Context{
		FSM:    m,
		Event:  evPtr,
		Data:   m.data,
		Logger: m.logger,
	}
}

// StateHistory returns the currently active leaves (not a real history log
// — reserved API surface for a future ring-buffer implementation).
func (m *Machine) StateHistory() []StateID {
	return m.ActiveLeaves()
}
