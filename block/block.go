// Package block implements the content-addressed, AEAD-encrypted block
// store of §4.C: fixed-size blocks keyed by a random 256-bit id, written,
// read and removed transactionally through a store.Store. It is grounded on
// the teacher's fs.go (putfi/getfi/delfi helpers keyed by path) — this
// package keys the very same way, only the key is a random block id instead
// of a path, and the value is sealed ciphertext instead of a JSON fileInfo.
package block

import (
	"crypto/rand"

	"github.com/cellstate/branchsync/crypto"
	"github.com/cellstate/branchsync/store"
)

// Size is BLOCK_SIZE from §3: the fixed plaintext size of one block.
const Size = 4096

// SealedSize is how many bytes a block occupies on disk once sealed: the
// plaintext size plus the AEAD tag (§3: "(ciphertext ‖ AEAD tag)").
const SealedSize = Size + crypto.TagSize

// ID is a block's 256-bit, content-independent name (§3: generated fresh on
// every write, not a hash of the content).
type ID [32]byte

// NewID generates a fresh random block id.
func NewID() (ID, error) {
	var id ID
	if _, err := rand.Read(id[:]); err != nil {
		return ID{}, err
	}
	return id, nil
}

// IsZero reports whether id is the all-zero id, used as a sentinel for "no
// block" (e.g. a tombstone child in the index).
func (id ID) IsZero() bool {
	return id == ID{}
}

// Write inserts or replaces the block at id. Per §4.C it is idempotent:
// writing the same id twice (e.g. a retried sync request) just overwrites.
// It fails ErrQuotaExceeded if inserting this block (net of any block it
// replaces) would push the repository over its configured quota.
func Write(tx *store.WriteTx, id ID, sealed []byte) error {
	before := tx.Bucket(store.BucketBlocks).Get(id[:])
	delta := int64(len(sealed))
	if before != nil {
		delta -= int64(len(before))
	}

	if delta > 0 {
		if err := chargeQuota(tx, delta); err != nil {
			return err
		}
	}

	if err := tx.Bucket(store.BucketBlocks).Put(id[:], sealed); err != nil {
		return err
	}

	if delta < 0 {
		return adjustQuotaUsage(tx, delta)
	}
	return nil
}

// Read returns the sealed bytes stored at id, or ErrBlockNotFound. It
// accepts either a ReadTx or a WriteTx, since lookups happen in both.
func Read(tx store.Tx, id ID) ([]byte, error) {
	v := tx.Bucket(store.BucketBlocks).Get(id[:])
	if v == nil {
		return nil, ErrBlockNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Remove deletes the block at id. Safe if absent, per §4.C.
func Remove(tx *store.WriteTx, id ID) error {
	existing := tx.Bucket(store.BucketBlocks).Get(id[:])
	if existing == nil {
		return nil
	}
	if err := adjustQuotaUsage(tx, -int64(len(existing))); err != nil {
		return err
	}
	return tx.Bucket(store.BucketBlocks).Delete(id[:])
}

// CountBlocks returns the number of blocks currently stored.
func CountBlocks(tx store.Tx) (uint64, error) {
	var n uint64
	c := tx.Bucket(store.BucketBlocks).Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		n++
	}
	return n, nil
}
