package syncproto

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cellstate/branchsync/block"
	"github.com/cellstate/branchsync/crypto"
	"github.com/cellstate/branchsync/index"
	"github.com/cellstate/branchsync/store"
	"github.com/cellstate/branchsync/wire"
)

// Config tunes the client half's block-fetch eagerness, resolving §9's
// Open Question on greedy-vs-lazy fetch across unknown branches.
type Config struct {
	// GreedyBlind fetches every block a blind replica learns about, per
	// §4.I's "a blind replica fetches every block it learns about."
	GreedyBlind bool
	// GreedyAcrossUnknownBranches defaults false. shouldFetch does not
	// consult it, so setting it does not change which blocks the client
	// requests.
	GreedyAcrossUnknownBranches bool
	RequestTimeout              time.Duration
	QueueDepth                  int
}

// DefaultConfig returns §4.I's defaults: lazy fetch, a 30s request
// timeout, a 64-deep pending queue.
func DefaultConfig() Config {
	return Config{RequestTimeout: DefaultRequestTimeout, QueueDepth: 64}
}

// Client drives one link's convergence per §4.I's client half: it tracks
// known_roots per writer, diffs a newly-advertised root against local
// state, and walks RequestInner/RequestBlock to enumerate what's missing.
type Client struct {
	store  *store.Store
	sender *wire.Sender
	queues *Queues
	cfg    Config
	log    zerolog.Logger

	mu          sync.Mutex
	knownRoots  map[crypto.Hash]index.RootNode
	nextID      uint64
	pendingNode map[uint64]crypto.Hash // inflight RequestInner id -> the node hash asked about
	pendingBlk  map[uint64]block.ID    // inflight RequestBlock id -> the block id asked about
}

// NewClient returns a client driving convergence over sender, using cfg's
// fetch policy.
func NewClient(s *store.Store, sender *wire.Sender, cfg Config, log zerolog.Logger) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 64
	}
	return &Client{
		store:       s,
		sender:      sender,
		queues:      NewQueues(cfg.QueueDepth),
		cfg:         cfg,
		log:         log,
		knownRoots:  make(map[crypto.Hash]index.RootNode),
		pendingNode: make(map[uint64]crypto.Hash),
		pendingBlk:  make(map[uint64]block.ID),
	}
}

// Queues exposes the client's pending/inflight bookkeeping, so a link's
// owner can sweep timeouts on its own schedule.
func (c *Client) Queues() *Queues { return c.queues }

// Start requests the latest root for every writer this replica already
// has a branch for, per §4.I's "on link start: for each writer we already
// know about, send RequestRoot."
func (c *Client) Start() error {
	rtx, err := c.store.BeginRead()
	if err != nil {
		return err
	}
	roots, err := index.LoadAllRoots(rtx)
	rtx.Rollback()
	if err != nil {
		return err
	}

	seen := make(map[crypto.Hash]bool)
	for _, r := range roots {
		if seen[r.WriterID] {
			continue
		}
		seen[r.WriterID] = true
		if err := c.requestRoot(r.WriterID); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) allocateID() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	return c.nextID
}

func (c *Client) requestRoot(writerID crypto.Hash) error {
	id := c.allocateID()
	now := time.Now()
	if err := c.queues.Enqueue(id, KindIndexRequest, now); err != nil {
		return err
	}
	if _, _, ok := c.queues.MarkSent(KindIndexRequest, now); !ok {
		return ErrInvalidTransition
	}
	return c.sender.Send(wire.Message{
		Kind:        wire.KindRequestRoot,
		RequestID:   id,
		RequestRoot: &wire.RequestRoot{WriterID: writerID},
	})
}

func (c *Client) requestInner(nodeHash crypto.Hash) error {
	id := c.allocateID()
	now := time.Now()
	if err := c.queues.Enqueue(id, KindIndexRequest, now); err != nil {
		return err
	}
	c.mu.Lock()
	c.pendingNode[id] = nodeHash
	c.mu.Unlock()
	if _, _, ok := c.queues.MarkSent(KindIndexRequest, now); !ok {
		return ErrInvalidTransition
	}
	return c.sender.Send(wire.Message{
		Kind:         wire.KindRequestInner,
		RequestID:    id,
		RequestInner: &wire.RequestInner{NodeHash: nodeHash},
	})
}

func (c *Client) requestBlock(id block.ID) error {
	reqID := c.allocateID()
	now := time.Now()
	if err := c.queues.Enqueue(reqID, KindBlockRequest, now); err != nil {
		return err
	}
	c.mu.Lock()
	c.pendingBlk[reqID] = id
	c.mu.Unlock()
	if _, _, ok := c.queues.MarkSent(KindBlockRequest, now); !ok {
		return ErrInvalidTransition
	}
	return c.sender.Send(wire.Message{
		Kind:         wire.KindRequestBlock,
		RequestID:    reqID,
		RequestBlock: &wire.RequestBlock{BlockID: id},
	})
}

// takePendingNode consumes the node hash requestInner recorded for id, for
// the matching ResponseInner to persist its children against.
func (c *Client) takePendingNode(id uint64) (crypto.Hash, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.pendingNode[id]
	delete(c.pendingNode, id)
	return h, ok
}

// takePendingBlock consumes the block id requestBlock recorded for id, for
// the matching ResponseBlock to write its ciphertext under.
func (c *Client) takePendingBlock(id uint64) (block.ID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.pendingBlk[id]
	delete(c.pendingBlk, id)
	return b, ok
}

// HandleResponse processes one response message, advancing convergence and
// persisting whatever it taught the local replica: a new root is verified
// and stored; a RequestInner response files its children content-addressed
// and enumerates what to walk next; a RequestBlock response writes the
// fetched ciphertext via block.Write before clearing its queue slot.
func (c *Client) HandleResponse(msg wire.Message) error {
	if msg.Kind != wire.KindResponse || msg.Response == nil {
		return nil
	}
	resp := msg.Response

	switch resp.Kind {
	case wire.ResponseRoot:
		if _, ok := c.queues.Complete(KindIndexRequest, msg.RequestID, time.Now()); !ok {
			return nil
		}
		if !resp.Found || resp.Root == nil {
			return nil
		}
		return c.onNewRoot(*resp.Root)

	case wire.ResponseInner:
		if _, ok := c.queues.Complete(KindIndexRequest, msg.RequestID, time.Now()); !ok {
			return nil
		}
		parentHash, known := c.takePendingNode(msg.RequestID)
		if !resp.Found || !known {
			return nil
		}
		return c.onInnerChildren(parentHash, resp.Children)

	case wire.ResponseBlock:
		if _, ok := c.queues.Complete(KindBlockRequest, msg.RequestID, time.Now()); !ok {
			return nil
		}
		id, known := c.takePendingBlock(msg.RequestID)
		if !resp.Found || !known {
			return nil
		}
		return c.onBlock(id, resp.Ciphertext)
	}
	return nil
}

// onNewRoot implements §4.I's "on receiving a newer root" step: verify and
// store it, then diff its hash_of_root_inner against local state to find
// what to walk next.
func (c *Client) onNewRoot(root index.RootNode) error {
	c.mu.Lock()
	prev, known := c.knownRoots[root.WriterID]
	c.mu.Unlock()
	if known && index.Compare(root.VV, prev.VV) != index.Greater {
		return nil
	}

	// Capture the local tip's inner hash before StoreRemoteRoot persists
	// the incoming root: LoadRoot afterward would just echo the root we're
	// about to store, masking the very diff this comparison needs to see.
	var localHash crypto.Hash
	rtx, err := c.store.BeginRead()
	if err != nil {
		return err
	}
	if local, lerr := index.LoadRoot(rtx, root.WriterID, index.FilterAny, root.WriterID); lerr == nil {
		localHash = local.HashOfRootInner
	}
	rtx.Rollback()

	wtx, err := c.store.BeginWrite()
	if err != nil {
		return err
	}
	stored, err := index.StoreRemoteRoot(wtx, root)
	if err != nil {
		wtx.Rollback()
		return err
	}
	if err := wtx.Commit(); err != nil {
		return err
	}
	if !stored {
		return nil
	}

	c.mu.Lock()
	c.knownRoots[root.WriterID] = root
	c.mu.Unlock()

	if localHash == root.HashOfRootInner {
		return nil
	}
	return c.requestInner(root.HashOfRootInner)
}

// onInnerChildren implements the "for each differing child walk down with
// RequestInner to enumerate missing locators and missing block ids" step.
// parentHash is the node hash this response's children belong under (the
// hash requestInner asked about): children are first filed into the index
// content-addressed under parentHash, via index.StoreRemoteBucketChildren
// for a root-level response or index.StoreRemoteLeaves for a bucket-level
// one, so a later Lookup/ChildrenOf* call actually sees what was learned.
func (c *Client) onInnerChildren(parentHash crypto.Hash, children []wire.NodeChild) error {
	if err := c.storeChildren(parentHash, children); err != nil {
		return err
	}

	rtx, err := c.store.BeginRead()
	if err != nil {
		return err
	}
	defer rtx.Rollback()

	for _, child := range children {
		if child.Bucket != nil {
			if !c.bucketHashKnown(rtx, child.Hash) {
				if err := c.requestInner(child.Hash); err != nil {
					return err
				}
			}
			continue
		}
		if child.Locator == nil || child.BlockID == nil {
			continue
		}
		if c.shouldFetch(rtx, *child.BlockID) {
			if err := c.requestBlock(*child.BlockID); err != nil {
				return err
			}
		}
	}
	return nil
}

// storeChildren persists children under parentHash. A response carries
// exactly one kind of child (server.go's handleRequestInner answers either
// all-bucket or all-leaf, never both), so the first non-nil discriminator
// decides which of the two index writers to use.
func (c *Client) storeChildren(parentHash crypto.Hash, children []wire.NodeChild) error {
	if len(children) == 0 {
		return nil
	}

	wtx, err := c.store.BeginWrite()
	if err != nil {
		return err
	}

	if children[0].Bucket != nil {
		buckets := make([]index.BucketChild, 0, len(children))
		for _, ch := range children {
			if ch.Bucket == nil {
				continue
			}
			buckets = append(buckets, index.BucketChild{Bucket: *ch.Bucket, Hash: ch.Hash, Summary: ch.Summary})
		}
		if err := index.StoreRemoteBucketChildren(wtx, parentHash, buckets); err != nil {
			wtx.Rollback()
			return err
		}
	} else {
		leaves := make([]index.Leaf, 0, len(children))
		for _, ch := range children {
			if ch.Locator == nil || ch.BlockID == nil {
				continue
			}
			leaves = append(leaves, index.Leaf{Locator: *ch.Locator, BlockID: *ch.BlockID, Presence: ch.Summary})
		}
		if err := index.StoreRemoteLeaves(wtx, parentHash, leaves); err != nil {
			wtx.Rollback()
			return err
		}
	}

	return wtx.Commit()
}

// onBlock persists a fetched block's sealed ciphertext, per §4.I's
// RequestBlock/Response contract.
func (c *Client) onBlock(id block.ID, ciphertext []byte) error {
	wtx, err := c.store.BeginWrite()
	if err != nil {
		return err
	}
	if err := block.Write(wtx, id, ciphertext); err != nil {
		wtx.Rollback()
		return err
	}
	return wtx.Commit()
}

func (c *Client) bucketHashKnown(tx store.Tx, bucketHash crypto.Hash) bool {
	leaves, err := index.ChildrenOfBucket(tx, bucketHash)
	return err == nil && len(leaves) > 0
}

// shouldFetch implements §4.I's greedy-vs-lazy rule: GreedyBlind always
// fetches; otherwise only fetch a block not already present locally.
func (c *Client) shouldFetch(tx store.Tx, id block.ID) bool {
	if c.cfg.GreedyBlind {
		return true
	}
	if _, err := block.Read(tx, id); err == nil {
		return false
	}
	return true
}
