package statewright

// Notifier is the injectable wake-up abstraction that decouples event
// producers from whatever loop actually runs the dispatcher. A host
// embedding the machine inside its own reactor (a libuv/ev-style loop, a
// TUI program, an HTTP server) supplies its own Notifier via WithNotifier;
// the machine ships a default channel-based implementation so it also
// works standalone.
//
// Signal must be safe to call from any goroutine and must coalesce: two
// Signal calls before the armed callback next runs are equivalent to one.
type Notifier interface {
	// Arm registers the callback to invoke on the next (and every
	// subsequent) Signal, and starts whatever background delivery
	// mechanism the implementation needs.
	Arm(callback func())
	// Signal requests that the armed callback run at least once more.
	Signal()
	// Enable resumes delivery after Disable.
	Enable()
	// Disable stops delivering further signals; pending Signal calls
	// are dropped rather than queued. The default Notifier's Disable is
	// terminal (matches the machine's own Stop, which never restarts);
	// a custom Notifier backing a long-lived reactor may implement a
	// real pause/resume pair instead.
	Disable()
}

// chanNotifier is the default Notifier: an unbuffered dispatch goroutine
// fed by a size-1 signal channel with a non-blocking send, giving
// at-most-one-pending coalescing.
type chanNotifier struct {
	signal   chan struct{}
	done     chan struct{}
	callback func()
}

func newChanNotifier() *chanNotifier {
	return &chanNotifier{
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (n *chanNotifier) Arm(callback func()) {
	n.callback = callback
	go n.loop()
}

func (n *chanNotifier) loop() {
	for {
		select {
		case <-n.done:
			return
		case <-n.signal:
			if n.callback != nil {
				n.callback()
			}
		}
	}
}

func (n *chanNotifier) Signal() {
	select {
	case n.signal <- struct{}{}:
	default:
	}
}

func (n *chanNotifier) Enable() {}

func (n *chanNotifier) Disable() {
	select {
	case <-n.done:
	default:
		close(n.done)
	}
}
