package peer

import "time"

const (
	backoffMin = 200 * time.Millisecond
	backoffMax = 10 * time.Second
)

// Backoff computes successive retry delays for one dial target, doubling
// from 200ms up to a 10s ceiling, per §4.J step 2. It never reports
// exhaustion: whether to keep calling Next is entirely the caller's
// decision, driven by whether the discovery source that reported the
// address is still live.
type Backoff struct {
	cur time.Duration
}

// NewBackoff returns a backoff starting at its minimum delay.
func NewBackoff() *Backoff {
	return &Backoff{cur: backoffMin}
}

// Next returns the delay to wait before the next attempt and advances the
// backoff toward its ceiling.
func (b *Backoff) Next() time.Duration {
	d := b.cur
	b.cur *= 2
	if b.cur > backoffMax {
		b.cur = backoffMax
	}
	return d
}

// Reset restores the backoff to its minimum delay.
func (b *Backoff) Reset() {
	b.cur = backoffMin
}
