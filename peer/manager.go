package peer

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cellstate/branchsync/crypto"
	"github.com/cellstate/branchsync/syncproto"
	"github.com/cellstate/branchsync/wire"
)

// Candidate is one inbound or outbound connection candidate discovered
// from a configured address, the DHT, peer exchange, or local-link-layer
// discovery, per §4.J's opening paragraph.
type Candidate struct {
	Addr   Address
	Source Source
}

// Discoverer is the named, out-of-scope collaborator surfacing DHT
// candidates; §1 scopes its internals out of this module, leaving only
// this contract.
type Discoverer interface {
	Discover(ctx context.Context) (<-chan Candidate, error)
}

// Manager runs §4.J's per-candidate pipeline (dedup permit, backoff-
// retried hole-punch dial, handshake, dispatcher handoff) and tracks the
// resulting links by the remote's runtime id.
type Manager struct {
	identity  crypto.SigningKey
	selfGuard *syncproto.SelfGuard
	dedup     *Dedup
	transport *Transport
	log       zerolog.Logger

	mu    sync.Mutex
	links map[crypto.Hash]*Link
}

// NewManager returns a manager that authenticates with identity over
// transport.
func NewManager(identity crypto.SigningKey, transport *Transport, log zerolog.Logger) *Manager {
	return &Manager{
		identity:  identity,
		selfGuard: syncproto.NewSelfGuard(),
		dedup:     NewDedup(),
		transport: transport,
		log:       log,
		links:     make(map[crypto.Hash]*Link),
	}
}

// Handle runs one candidate through §4.J's pipeline, retrying the dial
// with exponential backoff until it succeeds or ctx is cancelled. Callers
// run one Handle per candidate in its own goroutine.
func (m *Manager) Handle(ctx context.Context, cand Candidate) (*Link, error) {
	if err := Filter(cand.Addr, cand.Source); err != nil {
		return nil, err
	}
	if m.selfGuard.IsOurs(cand.Addr.String()) {
		return nil, ErrSelfConnection
	}

	permit, err := m.dedup.Reserve(ctx, cand.Addr.String(), cand.Source.String())
	if err != nil {
		return nil, err
	}
	defer permit.Release()

	backoff := NewBackoff()
	for {
		link, err := m.dial(ctx, cand.Addr)
		if err == nil {
			return link, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		m.log.Warn().Err(err).Str("addr", cand.Addr.String()).Msg("peer: connect attempt failed, backing off")

		select {
		case <-time.After(backoff.Next()):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (m *Manager) dial(ctx context.Context, addr Address) (*Link, error) {
	conn, err := m.transport.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	stream, err := OpenStream(ctx, conn)
	if err != nil {
		return nil, err
	}
	return m.establish(addr, stream, true)
}

// Accept runs the responder half of the pipeline for an already-accepted
// inbound stream (a QUIC stream the caller obtained from its own Accept
// loop on a *Transport-managed listener).
func (m *Manager) Accept(addr Address, stream wire.Stream) (*Link, error) {
	return m.establish(addr, stream, false)
}

func (m *Manager) establish(addr Address, stream wire.Stream, initiator bool) (*Link, error) {
	result, err := RunHandshake(stream, m.identity, initiator)
	if err != nil {
		return nil, err
	}
	if result.RemoteRuntimeID == m.identity.WriterID() {
		m.selfGuard.Record(addr.String())
		return nil, ErrSelfConnection
	}

	link := NewLink(addr, m.log)
	link.RuntimeID = result.RemoteRuntimeID
	if err := link.State.ToHandshaking(); err != nil {
		return nil, err
	}
	if err := link.State.ToActive(); err != nil {
		return nil, err
	}
	link.Dispatcher.AddStream(stream)

	m.mu.Lock()
	m.links[result.RemoteRuntimeID] = link
	m.mu.Unlock()
	return link, nil
}

// Lookup returns the active link for a peer's runtime id, if any.
func (m *Manager) Lookup(runtimeID crypto.Hash) (*Link, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.links[runtimeID]
	return l, ok
}

// Close forgets every tracked link and moves each through Draining to
// Closed, per §4.I's "cancelling a link connection triggers Draining". It
// does not close the links' dispatchers or streams.
func (m *Manager) Close() {
	m.mu.Lock()
	links := make([]*Link, 0, len(m.links))
	for _, l := range m.links {
		links = append(links, l)
	}
	m.links = make(map[crypto.Hash]*Link)
	m.mu.Unlock()

	for _, l := range links {
		l.State.ToDraining()
		l.State.ToClosed()
	}
}
