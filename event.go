package statewright

import "github.com/google/uuid"

// Event carries data through the state machine. Events are single-use: a
// producer constructs one, the queue owns it until popped, and the dispatch
// loop owns it for exactly one drain iteration before its OnDelete hook (if
// any) fires.
//
// Event is copied by value at every hop (Send into the queue, Pop back out,
// the dispatch loop's own working copy), so onDelete is a pointer to a
// shared slot rather than a plain func field: OnDelete is documented to be
// callable on the value Send returns, after the event has already been
// copied into the queue, and every copy must still be able to see the hook
// that gets attached to any one of them.
type Event struct {
	id      uuid.UUID
	ID      EventID
	Payload any // Optional typed payload

	onDelete *func()
}

// Internal event IDs, reserved for future entry/exit/timeout instrumentation.
const (
	eventEntry   EventID = "_entry"
	eventExit    EventID = "_exit"
	eventTimeout EventID = "_timeout"
)

// NewEvent constructs an event of the given kind, optionally carrying one
// payload value. It is the sole constructor: producers should not build an
// Event literal directly, since that skips correlation-ID assignment.
func NewEvent(id EventID, payload ...any) Event {
	e := Event{id: uuid.New(), ID: id, onDelete: new(func())}
	if len(payload) > 0 {
		e.Payload = payload[0]
	}
	return e
}

// CorrelationID returns the UUID assigned to this event at construction,
// used to tie together log lines and trace spans for a single event's
// lifecycle across a busy machine.
func (e Event) CorrelationID() uuid.UUID {
	return e.id
}

// OnDelete registers a hook that runs exactly once, after the dispatch loop
// finishes processing this event (mirroring the original C++ source's
// destructor-time deletion hook, since Go has no destructors). Intended for
// releasing pooled payload buffers deterministically.
//
// Safe to call on the Event value returned by Send/SendHigh even though
// that value has already been copied into the queue: the hook is written
// through the shared slot every copy of this Event points to, so the copy
// the dispatch loop eventually pops and destroys still sees it.
func (e *Event) OnDelete(hook func()) {
	if e.onDelete == nil {
		e.onDelete = new(func())
	}
	*e.onDelete = hook
}

func (e Event) runOnDelete() {
	if e.onDelete != nil && *e.onDelete != nil {
		(*e.onDelete)()
	}
}

// PayloadAs is a generic helper for typed payload access, replacing the
// original's compile-time event-class specialization with a single type
// assertion helper. It returns the zero value and false on a type mismatch
// rather than panicking.
func PayloadAs[T any](e Event) (T, bool) {
	v, ok := e.Payload.(T)
	return v, ok
}
