package peer

import (
	"context"
	"sync"
)

// Dedup implements §4.J step 1's connection dedup: a slot per dial
// candidate address. A source that already holds the slot is refused
// outright; a different source blocks until the slot is released, then
// gets to retry ("reconsidered").
type Dedup struct {
	mu      sync.Mutex
	holders map[string]string
	waiters map[string][]chan struct{}
}

// NewDedup returns an empty dedup table.
func NewDedup() *Dedup {
	return &Dedup{
		holders: make(map[string]string),
		waiters: make(map[string][]chan struct{}),
	}
}

// Permit is held for the duration of one connection attempt against one
// address. Release must be called exactly once.
type Permit struct {
	d    *Dedup
	addr string
}

// Release frees addr's slot, waking every source that was waiting on it.
func (p *Permit) Release() {
	p.d.release(p.addr)
}

// Reserve blocks until addr is free, or ctx is cancelled, and returns a
// permit for it, attributing the reservation to source. A second
// reservation attempt from the same source while the first is still held
// is refused with ErrPermitHeld rather than queued, per §4.J's "duplicates
// from the same source are suppressed".
func (d *Dedup) Reserve(ctx context.Context, addr, source string) (*Permit, error) {
	for {
		d.mu.Lock()
		holder, held := d.holders[addr]
		if !held {
			d.holders[addr] = source
			d.mu.Unlock()
			return &Permit{d: d, addr: addr}, nil
		}
		if holder == source {
			d.mu.Unlock()
			return nil, ErrPermitHeld
		}
		wait := make(chan struct{})
		d.waiters[addr] = append(d.waiters[addr], wait)
		d.mu.Unlock()

		select {
		case <-wait:
			// released; loop around and try to take the now-free slot.
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (d *Dedup) release(addr string) {
	d.mu.Lock()
	delete(d.holders, addr)
	waiters := d.waiters[addr]
	delete(d.waiters, addr)
	d.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
}
