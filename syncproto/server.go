package syncproto

import (
	"github.com/cellstate/branchsync/block"
	"github.com/cellstate/branchsync/crypto"
	"github.com/cellstate/branchsync/index"
	"github.com/cellstate/branchsync/store"
	"github.com/cellstate/branchsync/wire"
)

// Server answers the three request kinds of §4.I's server half, each
// tagged with the original request id for pipelining.
type Server struct {
	store *store.Store
}

// NewServer returns a server answering requests against s.
func NewServer(s *store.Store) *Server {
	return &Server{store: s}
}

// Handle dispatches one incoming request message and returns the response
// to send back, carrying the same RequestID.
func (srv *Server) Handle(msg wire.Message) (wire.Message, error) {
	rtx, err := srv.store.BeginRead()
	if err != nil {
		return wire.Message{}, err
	}
	defer rtx.Rollback()

	var resp wire.Response
	switch msg.Kind {
	case wire.KindRequestRoot:
		resp = srv.handleRequestRoot(rtx, msg.RequestRoot.WriterID)
	case wire.KindRequestInner:
		resp = srv.handleRequestInner(rtx, msg.RequestInner.NodeHash)
	case wire.KindRequestBlock:
		resp = srv.handleRequestBlock(rtx, msg.RequestBlock.BlockID)
	default:
		return wire.Message{}, ErrInvalidTransition
	}

	return wire.Message{
		Kind:      wire.KindResponse,
		RequestID: msg.RequestID,
		Response:  &resp,
	}, nil
}

func (srv *Server) handleRequestRoot(rtx store.Tx, writerID crypto.Hash) wire.Response {
	root, err := index.LoadRoot(rtx, writerID, index.FilterPublishedOnly, crypto.Hash{})
	if err != nil {
		return wire.Response{Kind: wire.ResponseRoot, Found: false}
	}
	return wire.Response{Kind: wire.ResponseRoot, Found: true, Root: &root}
}

func (srv *Server) handleRequestInner(rtx store.Tx, nodeHash crypto.Hash) wire.Response {
	if buckets, err := index.ChildrenOfRoot(rtx, nodeHash); err == nil && len(buckets) > 0 {
		children := make([]wire.NodeChild, len(buckets))
		for i, b := range buckets {
			bucket := b.Bucket
			children[i] = wire.NodeChild{Bucket: &bucket, Hash: b.Hash, Summary: b.Summary}
		}
		return wire.Response{Kind: wire.ResponseInner, Found: true, Children: children}
	}

	if leaves, err := index.ChildrenOfBucket(rtx, nodeHash); err == nil && len(leaves) > 0 {
		children := make([]wire.NodeChild, len(leaves))
		for i, l := range leaves {
			locator := l.Locator
			blockID := l.BlockID
			children[i] = wire.NodeChild{Locator: &locator, BlockID: &blockID, Summary: l.Presence}
		}
		return wire.Response{Kind: wire.ResponseInner, Found: true, Children: children}
	}

	return wire.Response{Kind: wire.ResponseInner, Found: false}
}

func (srv *Server) handleRequestBlock(rtx store.Tx, id block.ID) wire.Response {
	sealed, err := block.Read(rtx, id)
	if err != nil {
		return wire.Response{Kind: wire.ResponseBlock, Found: false}
	}
	return wire.Response{Kind: wire.ResponseBlock, Found: true, Ciphertext: sealed}
}
