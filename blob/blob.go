// Package blob implements the random-access byte-sequence layer of §4.E on
// top of the block store and the per-writer index: a blob is a chain of
// fixed-size encrypted blocks named by deterministic, HMAC-derived
// locators, with its length authoritative in a small plaintext header
// carried by the first block. It is grounded on the teacher's
// simplefs/node.go (nodeTx's prefixed chunk/child keying over a single
// boltdb bucket), adapted from raw sequential node ids and offset keys to
// this package's blob-root-id-keyed locators and fixed block-size chunks.
package blob

import (
	"errors"
	"io"
	"sync"

	"github.com/cellstate/branchsync/block"
	"github.com/cellstate/branchsync/crypto"
	"github.com/cellstate/branchsync/index"
	"github.com/cellstate/branchsync/store"
)

// errDirtyBlockNeedsWriteTx is returned internally when a dirty cached
// block must be flushed to switch to a different block index, but the
// caller only supplied a read-only transaction. A handle that has written
// anything must flush or continue using a *store.WriteTx.
var errDirtyBlockNeedsWriteTx = errors.New("blob: dirty block requires a write transaction to evict")

// SeekWhence mirrors io.Seek* without importing the io constants directly,
// so callers never need to import "io" just to call Seek.
type SeekWhence int

const (
	SeekStart SeekWhence = iota
	SeekCurrent
	SeekEnd
)

// Handle is one open view onto a blob: a writer branch, the read key that
// names and decrypts its blocks, and the one cached "current" block from
// §4.E's "in-memory state" rule.
type Handle struct {
	writer  crypto.Hash
	signKey crypto.SigningKey // zero-value Private for a read-only handle
	readKey crypto.Key

	rootID      block.ID
	noncePrefix crypto.Nonce

	length   *sharedLength
	pos      uint64
	curIndex uint64
	curPlain []byte
	curDirty bool

	lockedKind Kind
	registry   *Registry
}

// sharedLength is the length cell two handles to the same blob share,
// guarded by its own short-held mutex, per §4.E's concurrency rule.
type sharedLength struct {
	mu    sync.Mutex
	value uint64
	dirty bool
}

// derivePrefix computes a blob's nonce_prefix deterministically from its
// read key and root id, so a reader never needs to decrypt block 0 before
// knowing the nonce block 0 itself was sealed under: the header's copy of
// nonce_prefix is then a redundant, self-describing value rather than the
// only source of truth.
func derivePrefix(readKey crypto.Key, rootID block.ID) crypto.Nonce {
	h := crypto.SumHash(readKey[:], rootID[:])
	var n crypto.Nonce
	copy(n[:], h[:crypto.NonceSize])
	return n
}

// Create starts a brand-new, empty blob on writer's branch.
func Create(locks *Registry, writer crypto.Hash, signKey crypto.SigningKey, readKey crypto.Key) (*Handle, error) {
	id, err := block.NewID()
	if err != nil {
		return nil, err
	}
	if err := locks.Acquire(crypto.Hash(id), Write); err != nil {
		return nil, err
	}

	prefix := derivePrefix(readKey, id)
	h := &Handle{
		writer:      writer,
		signKey:     signKey,
		readKey:     readKey,
		rootID:      id,
		noncePrefix: prefix,
		length:      &sharedLength{dirty: true},
		curIndex:    0,
		curPlain:    make([]byte, block.Size),
		curDirty:    true,
		lockedKind:  Write,
		registry:    locks,
	}
	copy(h.curPlain, encodeHeader(prefix, 0))
	return h, nil
}

// Open attaches to an existing blob by its root block id, failing
// BlockNotFound if the header block is absent and ErrCorruptOrWrongKey
// (funneled through crypto.ConstantPath) if it fails to decrypt or decode.
func Open(tx store.Tx, locks *Registry, writer crypto.Hash, signKey crypto.SigningKey, readKey crypto.Key, rootID block.ID) (*Handle, error) {
	if err := locks.Acquire(crypto.Hash(rootID), Read); err != nil {
		return nil, err
	}

	prefix := derivePrefix(readKey, rootID)
	h := &Handle{
		writer:      writer,
		signKey:     signKey,
		readKey:     readKey,
		rootID:      rootID,
		noncePrefix: prefix,
		length:      &sharedLength{},
		lockedKind:  Read,
		registry:    locks,
	}

	// Open requires the header block to already exist: unlike loadBlock's
	// usual "absent locator means not-yet-materialised growth" leniency
	// (used while writing past the end of a blob), a locator miss here
	// means there is no such blob, not an empty extension of one.
	loc := crypto.Locator(readKey, [32]byte(rootID), 0)
	id, presence, err := index.Lookup(tx, writer, loc)
	if err != nil {
		locks.Release(crypto.Hash(rootID), Read)
		if err == index.ErrNotFound {
			return nil, block.ErrBlockNotFound
		}
		return nil, err
	}
	if presence != index.Present {
		locks.Release(crypto.Hash(rootID), Read)
		return nil, block.ErrBlockNotFound
	}
	sealed, err := block.Read(tx, id)
	if err != nil {
		locks.Release(crypto.Hash(rootID), Read)
		return nil, err
	}
	plain, err := crypto.ConstantPath(readKey, crypto.DeriveBlockNonce(prefix, 0), sealed, id[:], func(pt []byte) ([]byte, error) {
		if _, _, ok := decodeHeader(pt); !ok {
			return nil, crypto.ErrCorruptOrWrongKey
		}
		return pt, nil
	})
	if err != nil {
		locks.Release(crypto.Hash(rootID), Read)
		return nil, err
	}

	_, length, _ := decodeHeader(plain)
	h.curIndex = 0
	h.curPlain = plain
	h.curDirty = false
	h.length.value = length
	return h, nil
}

// Close releases whatever lifecycle lock this handle holds. Callers that
// want their writes persisted must Flush before Close.
func (h *Handle) Close() {
	h.registry.Release(crypto.Hash(h.rootID), h.lockedKind)
}

// RootID returns the blob's stable root block id, the identifier stored in
// directory entries and passed to Open/Fork.
func (h *Handle) RootID() block.ID { return h.rootID }

// Length returns the blob's current logical length.
func (h *Handle) Length() uint64 {
	h.length.mu.Lock()
	defer h.length.mu.Unlock()
	return h.length.value
}

// BlockCount returns ceil((length + headerSize) / BLOCK_SIZE), per §3.
func (h *Handle) BlockCount() uint64 {
	return blockCount(h.Length())
}

func (h *Handle) setLength(n uint64) {
	h.length.mu.Lock()
	defer h.length.mu.Unlock()
	h.length.value = n
	h.length.dirty = true
}

// loadBlock makes block idx the cached current block, flushing the
// previous one first if it was dirty — §4.E: "switching block indices
// flushes the previous."
func (h *Handle) loadBlock(tx store.Tx, idx uint64) error {
	if h.curPlain != nil && h.curIndex == idx {
		return nil
	}
	if h.curDirty {
		wtx, ok := tx.(*store.WriteTx)
		if !ok {
			return errDirtyBlockNeedsWriteTx
		}
		if err := h.flushCurrent(wtx); err != nil {
			return err
		}
	}

	loc := crypto.Locator(h.readKey, [32]byte(h.rootID), idx)
	id, presence, err := index.Lookup(tx, h.writer, loc)
	if err == index.ErrNotFound {
		plain := make([]byte, block.Size)
		if idx == 0 {
			copy(plain, encodeHeader(h.noncePrefix, h.Length()))
		}
		h.curPlain = plain
		h.curIndex = idx
		h.curDirty = false
		return nil
	}
	if err != nil {
		return err
	}
	if presence != index.Present {
		return block.ErrBlockNotFound
	}

	sealed, err := block.Read(tx, id)
	if err != nil {
		return err
	}
	nonce := crypto.DeriveBlockNonce(h.noncePrefix, idx)
	plain, err := crypto.Open(h.readKey, nonce, sealed, id[:])
	if err != nil {
		return crypto.ErrCorruptOrWrongKey
	}
	h.curPlain = plain
	h.curIndex = idx
	h.curDirty = false
	return nil
}

// flushCurrent seals the cached block under a fresh id and records it in
// the index, per §4.E's "flushes persist every dirty block under a new id
// and update the index leaves; atomic per-transaction."
func (h *Handle) flushCurrent(tx *store.WriteTx) error {
	if !h.curDirty {
		return nil
	}
	if h.curIndex == 0 {
		copy(h.curPlain, encodeHeader(h.noncePrefix, h.Length()))
	}

	id, err := block.NewID()
	if err != nil {
		return err
	}
	nonce := crypto.DeriveBlockNonce(h.noncePrefix, h.curIndex)
	sealed, err := crypto.Seal(h.readKey, nonce, h.curPlain, id[:])
	if err != nil {
		return err
	}
	if err := block.Write(tx, id, sealed); err != nil {
		return err
	}

	loc := crypto.Locator(h.readKey, [32]byte(h.rootID), h.curIndex)
	root, err := index.LoadRoot(tx, h.writer, index.FilterAny, h.writer)
	var baseline crypto.Hash
	if err == nil {
		baseline = root.HashOfRootInner
	} else if err != index.ErrNotFound {
		return err
	}
	if _, err := index.InsertLeaf(tx, h.signKey, baseline, loc, id, index.Present); err != nil {
		return err
	}

	h.curDirty = false
	return nil
}

// Flush persists the cached current block (if dirty) and, if the length
// changed and the head block isn't the cached one, separately reseals the
// head block with the new length.
func (h *Handle) Flush(tx *store.WriteTx) error {
	if err := h.flushCurrent(tx); err != nil {
		return err
	}

	h.length.mu.Lock()
	dirty := h.length.dirty
	h.length.mu.Unlock()
	if !dirty || h.curIndex == 0 {
		h.length.mu.Lock()
		h.length.dirty = false
		h.length.mu.Unlock()
		return nil
	}

	savedIndex, savedPlain, savedDirty := h.curIndex, h.curPlain, h.curDirty
	if err := h.loadBlock(tx, 0); err != nil {
		return err
	}
	h.curDirty = true
	if err := h.flushCurrent(tx); err != nil {
		return err
	}

	h.curIndex, h.curPlain, h.curDirty = savedIndex, savedPlain, savedDirty
	h.length.mu.Lock()
	h.length.dirty = false
	h.length.mu.Unlock()
	return nil
}

// Read copies up to len(p) bytes starting at the handle's current position,
// clamped to Length, advancing the position by the amount read.
func (h *Handle) Read(tx store.Tx, p []byte) (int, error) {
	length := h.Length()
	if h.pos >= length {
		return 0, io.EOF
	}
	n := 0
	for n < len(p) && h.pos < length {
		idx, within := h.locate(h.pos)
		if err := h.loadBlock(tx, idx); err != nil {
			return n, err
		}
		avail := uint64(len(h.curPlain)) - within
		remaining := length - h.pos
		if avail > remaining {
			avail = remaining
		}
		want := uint64(len(p) - n)
		if want < avail {
			avail = want
		}
		copy(p[n:], h.curPlain[within:within+avail])
		n += int(avail)
		h.pos += avail
	}
	return n, nil
}

// Write copies p into the blob starting at the handle's current position,
// extending Length if the write runs past it, advancing the position by
// the amount written.
func (h *Handle) Write(tx *store.WriteTx, p []byte) (int, error) {
	n := 0
	for n < len(p) {
		idx, within := h.locate(h.pos)
		if err := h.loadBlock(tx, idx); err != nil {
			return n, err
		}
		room := uint64(len(h.curPlain)) - within
		want := uint64(len(p) - n)
		if want < room {
			room = want
		}
		copy(h.curPlain[within:within+room], p[n:n+int(room)])
		h.curDirty = true
		n += int(room)
		h.pos += room
		if h.pos > h.Length() {
			h.setLength(h.pos)
		}
	}
	return n, nil
}

// locate maps a logical byte offset to (block index, offset within that
// block's cached plaintext).
func (h *Handle) locate(pos uint64) (idx uint64, within uint64) {
	if pos < payloadPerBlock {
		return 0, uint64(payloadOffset(0)) + pos
	}
	rest := pos - payloadPerBlock
	return 1 + rest/block.Size, rest % block.Size
}

// Seek repositions the handle's cursor, clamped to [0, Length()].
func (h *Handle) Seek(whence SeekWhence, delta int64) (int64, error) {
	var base int64
	switch whence {
	case SeekStart:
		base = 0
	case SeekCurrent:
		base = int64(h.pos)
	case SeekEnd:
		base = int64(h.Length())
	}
	newPos := base + delta
	if newPos < 0 {
		newPos = 0
	}
	if uint64(newPos) > h.Length() {
		newPos = int64(h.Length())
	}
	h.pos = uint64(newPos)
	return newPos, nil
}

// Truncate shrinks or grows the blob to newLen. Growth is logically
// zero-filled lazily: blocks are only materialised once something writes
// into them. Shrinking below the current head block rewrites its cached
// header on the next Flush.
func (h *Handle) Truncate(tx store.Tx, newLen uint64) error {
	cur := h.Length()
	if newLen == cur {
		return nil
	}
	if newLen < cur {
		idx, within := h.locate(newLen)
		if err := h.loadBlock(tx, idx); err != nil {
			return err
		}
		for i := within; i < uint64(len(h.curPlain)); i++ {
			h.curPlain[i] = 0
		}
		h.curDirty = true
	}
	h.setLength(newLen)
	if h.pos > newLen {
		h.pos = newLen
	}
	return nil
}
