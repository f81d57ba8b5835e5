package peer

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cellstate/branchsync/crypto"
	"github.com/cellstate/branchsync/store"
	"github.com/cellstate/branchsync/syncproto"
	"github.com/cellstate/branchsync/wire"
)

// Link is one established peer connection: the connection state machine
// of §4.I, the wire dispatcher multiplexing every repository channel with
// this peer, and the peer's runtime id once the handshake has revealed
// it. AttemptID tags every log line for one connection attempt with a
// stable correlation id distinct from RuntimeID, which is unknown until
// the handshake completes and is the same across repeated reconnects to
// the same peer.
type Link struct {
	AttemptID  uuid.UUID
	RemoteAddr Address
	RuntimeID  crypto.Hash
	State      *syncproto.Link
	Dispatcher *wire.Dispatcher

	log zerolog.Logger
}

// NewLink returns a link in Connecting state for one connection attempt
// toward addr.
func NewLink(addr Address, log zerolog.Logger) *Link {
	id := uuid.New()
	return &Link{
		AttemptID:  id,
		RemoteAddr: addr,
		State:      syncproto.NewLink(),
		Dispatcher: wire.NewDispatcher(log),
		log:        log.With().Str("attempt_id", id.String()).Str("addr", addr.String()).Logger(),
	}
}

// RepoLink binds one repository's sync protocol to this link's dispatcher
// channel for that repository, per §4.J #4's "create links for every
// locally-registered repository."
type RepoLink struct {
	Tag    wire.ChannelTag
	Server *syncproto.Server
	Client *syncproto.Client
}

// NewRepoLink opens l's dispatcher channel for repositoryID and wires a
// sync protocol client/server pair over it.
func NewRepoLink(l *Link, repositoryID crypto.Hash, s *store.Store, cfg syncproto.Config, log zerolog.Logger) *RepoLink {
	tag := wire.DeriveChannelTag(repositoryID)
	return &RepoLink{
		Tag:    tag,
		Server: syncproto.NewServer(s),
		Client: syncproto.NewClient(s, l.Dispatcher.OpenSend(tag), cfg, log),
	}
}

// Serve drains repo's dispatcher channel, answering requests via its
// server half and feeding responses to its client half, until ctx is
// cancelled or the link's dispatcher empties.
func (l *Link) Serve(ctx context.Context, repo *RepoLink) error {
	recv := l.Dispatcher.OpenRecv(repo.Tag)
	sender := l.Dispatcher.OpenSend(repo.Tag)

	for {
		msg, err := recv.Recv(ctx)
		if err != nil {
			return err
		}

		if msg.Kind == wire.KindResponse {
			if err := repo.Client.HandleResponse(msg); err != nil {
				l.log.Warn().Err(err).Msg("peer: client response handling failed")
			}
			continue
		}

		resp, err := repo.Server.Handle(msg)
		if err != nil {
			l.log.Warn().Err(err).Msg("peer: server request handling failed")
			continue
		}
		if err := sender.Send(resp); err != nil {
			return err
		}
	}
}
