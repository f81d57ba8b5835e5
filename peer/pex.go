package peer

import (
	"math/rand"
	"sync"
	"time"
)

const (
	pexSampleSize      = 25
	pexReannounceDedup = 10 * time.Minute
)

// LiveAddress is one address eligible for peer-exchange advertisement:
// one of the addresses currently live for a (repo, peer) link.
type LiveAddress struct {
	Addr Address
	// Global reports whether Addr is reachable from the public internet.
	Global bool
	// Incoming marks an address learned from an inbound connection rather
	// than a listener this side actually owns; it cannot be dialed by
	// anyone else and must never be advertised.
	Incoming bool
}

// Exchange builds bounded, filtered peer-exchange samples for one
// (repo, peer) link and tracks a 10-minute re-announcement dedup per
// address, per §4.J's "Peer exchange".
type Exchange struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

// NewExchange returns an empty exchange tracker.
func NewExchange() *Exchange {
	return &Exchange{seen: make(map[string]time.Time)}
}

// Sample returns up to 25 addresses from live, eligible for advertisement
// to a peer whose own reachability is localGlobal. Globals are never
// revealed to a non-global peer and vice versa ("in both directions");
// incoming, non-dialable addresses are never advertised; an address
// re-announced within the last 10 minutes is skipped.
func (e *Exchange) Sample(live []LiveAddress, localGlobal bool, now time.Time) []Address {
	e.mu.Lock()
	var eligible []Address
	for _, la := range live {
		if la.Incoming || la.Global != localGlobal {
			continue
		}
		key := la.Addr.String()
		if last, ok := e.seen[key]; ok && now.Sub(last) < pexReannounceDedup {
			continue
		}
		eligible = append(eligible, la.Addr)
	}
	e.mu.Unlock()

	if len(eligible) > pexSampleSize {
		rand.Shuffle(len(eligible), func(i, j int) { eligible[i], eligible[j] = eligible[j], eligible[i] })
		eligible = eligible[:pexSampleSize]
	}

	e.mu.Lock()
	for _, a := range eligible {
		e.seen[a.String()] = now
	}
	e.mu.Unlock()

	return eligible
}
