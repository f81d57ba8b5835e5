package repo

import "sync"

// EventKind distinguishes the broadcasts named in §4.G's worker debounce
// rule ("re-arms on repository events").
type EventKind int

const (
	EventBranchChanged EventKind = iota
	EventBlockWritten
	EventMaintenance
)

// Broadcaster fans a stream of EventKind out to any number of subscribers,
// each a buffered channel that drops the event rather than blocking the
// publisher if the subscriber is behind — workers only care that an event
// happened since they last woke up, not about any particular one.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[chan EventKind]struct{}
}

// NewBroadcaster returns an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan EventKind]struct{})}
}

// Subscribe returns a channel that receives every event published after
// this call, until unsubscribe is invoked.
func (b *Broadcaster) Subscribe() (ch <-chan EventKind, unsubscribe func()) {
	c := make(chan EventKind, 8)
	b.mu.Lock()
	b.subs[c] = struct{}{}
	b.mu.Unlock()
	return c, func() {
		b.mu.Lock()
		delete(b.subs, c)
		b.mu.Unlock()
		close(c)
	}
}

// Publish notifies every current subscriber of kind, non-blockingly.
func (b *Broadcaster) Publish(kind EventKind) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.subs {
		select {
		case c <- kind:
		default:
		}
	}
}
