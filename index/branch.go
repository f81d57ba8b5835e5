package index

import (
	"encoding/binary"

	"github.com/cellstate/branchsync/block"
	"github.com/cellstate/branchsync/crypto"
	"github.com/cellstate/branchsync/store"
)

// InsertLeaf inserts or updates one (locator, block_id, presence) leaf in
// the branch authored by key, rebuilding the trie path above it and signing
// a new root, all within tx — per §4.D's "the writer computes
// hash_of_root_inner..., bumps its VV entry, signs..., and inserts the new
// root in a single transaction with the leaf update."
//
// baseline is the HashOfRootInner the caller last observed for this writer
// (the zero Hash if the branch doesn't exist yet); if the on-disk tip has
// since moved past it, InsertLeaf fails ErrConcurrentWriteConflict rather
// than silently clobbering a root the caller never saw.
func InsertLeaf(tx *store.WriteTx, key crypto.SigningKey, baseline crypto.Hash, locator crypto.Hash, id block.ID, presence Presence) (RootNode, error) {
	if len(key.Private) == 0 {
		return RootNode{}, ErrPermissionDenied
	}
	writer := key.WriterID()

	current, err := LoadRoot(tx, writer, FilterAny, writer)
	var vv VV
	var oldRootInnerHash crypto.Hash
	switch {
	case err == ErrNotFound:
		vv = VV{}
		oldRootInnerHash = crypto.Hash{}
		if baseline != (crypto.Hash{}) {
			return RootNode{}, ErrConcurrentWriteConflict
		}
	case err != nil:
		return RootNode{}, err
	default:
		vv = current.VV
		oldRootInnerHash = current.HashOfRootInner
		if oldRootInnerHash != baseline {
			return RootNode{}, ErrConcurrentWriteConflict
		}
	}

	newRootInnerHash, err := rebuildPath(tx, oldRootInnerHash, locator, id, presence)
	if err != nil {
		return RootNode{}, err
	}

	newVV := vv.Bump(writer)
	sig := Sign(key, newRootInnerHash, newVV)

	root := RootNode{
		WriterID:        writer,
		PublicKey:       key.Public,
		VV:              newVV,
		HashOfRootInner: newRootInnerHash,
		Signature:       sig,
		Summary:         Present, // recomputed below from the root's buckets
		Published:       true,
	}
	buckets, err := loadBuckets(tx, newRootInnerHash)
	if err != nil {
		return RootNode{}, err
	}
	summaries := make([]Presence, len(buckets))
	for i, b := range buckets {
		summaries[i] = b.Summary
	}
	root.Summary = summarise(summaries)

	seq, err := nextSeq(tx, writer)
	if err != nil {
		return RootNode{}, err
	}
	if err := putRoot(tx, root, seq); err != nil {
		return RootNode{}, err
	}
	return root, nil
}

// rebuildPath performs the copy-on-write rebuild of the bucket containing
// locator, and of the root's bucket list, under fresh content-hash keys —
// grounded on the teacher's layerfs.go "cow" (merge into a node, rehash,
// write under a new key), generalized from a flat key to this package's
// two-level trie.
func rebuildPath(tx *store.WriteTx, oldRootInnerHash crypto.Hash, locator crypto.Hash, id block.ID, presence Presence) (crypto.Hash, error) {
	bucketByte := locator[0]

	var oldBucketHash crypto.Hash
	if oldRootInnerHash != (crypto.Hash{}) {
		buckets, err := loadBuckets(tx, oldRootInnerHash)
		if err != nil {
			return crypto.Hash{}, err
		}
		for _, b := range buckets {
			if b.Bucket == bucketByte {
				oldBucketHash = b.Hash
				break
			}
		}
	}

	var leaves []Leaf
	if oldBucketHash != (crypto.Hash{}) {
		existing, err := loadBucketLeaves(tx, oldBucketHash)
		if err != nil {
			return crypto.Hash{}, err
		}
		leaves = existing
	}
	leaves = upsertLeaf(leaves, Leaf{Locator: locator, BlockID: id, Presence: presence})

	newBucketHash := hashBucket(leaves)
	for _, l := range leaves {
		row := leafRow{BlockID: l.BlockID, Presence: l.Presence}
		if err := tx.Bucket(store.BucketSnapshotLeaf).Put(leafKey(newBucketHash, l.Locator), encode(row)); err != nil {
			return crypto.Hash{}, err
		}
	}

	var oldBuckets []bucketEntry
	if oldRootInnerHash != (crypto.Hash{}) {
		var err error
		oldBuckets, err = loadBuckets(tx, oldRootInnerHash)
		if err != nil {
			return crypto.Hash{}, err
		}
	}
	newBuckets := upsertBucket(oldBuckets, bucketEntry{Bucket: bucketByte, Hash: newBucketHash, Summary: bucketSummary(leaves)})

	newRootInnerHash := hashRoot(newBuckets)
	for _, b := range newBuckets {
		row := innerRow{Hash: b.Hash, Summary: b.Summary}
		if err := tx.Bucket(store.BucketSnapshotInner).Put(innerKey(newRootInnerHash, b.Bucket), encode(row)); err != nil {
			return crypto.Hash{}, err
		}
	}

	return newRootInnerHash, nil
}

func upsertLeaf(leaves []Leaf, l Leaf) []Leaf {
	for i := range leaves {
		if leaves[i].Locator == l.Locator {
			leaves[i] = l
			return leaves
		}
	}
	return append(leaves, l)
}

func upsertBucket(buckets []bucketEntry, b bucketEntry) []bucketEntry {
	for i := range buckets {
		if buckets[i].Bucket == b.Bucket {
			buckets[i] = b
			return buckets
		}
	}
	return append(buckets, b)
}

// nextSeq returns the next per-writer root sequence number, scanning the
// existing rows for this writer the way the teacher's NewBranchWriter uses
// tx.Bucket(...).NextSequence() to mint the next node key.
func nextSeq(tx *store.WriteTx, writer crypto.Hash) (uint64, error) {
	c := tx.Bucket(store.BucketSnapshotRootNodes).Cursor()
	prefix := writer[:]
	var max uint64
	found := false
	for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
		seq := binary.BigEndian.Uint64(k[len(prefix):])
		if !found || seq > max {
			max = seq
			found = true
		}
	}
	if !found {
		return 0, nil
	}
	return max + 1, nil
}

// Lookup finds the block id and presence for a locator in writer's tip
// branch, per §4.D.
func Lookup(tx store.Tx, writer crypto.Hash, locator crypto.Hash) (block.ID, Presence, error) {
	root, err := LoadRoot(tx, writer, FilterAny, writer)
	if err != nil {
		return block.ID{}, 0, err
	}
	buckets, err := loadBuckets(tx, root.HashOfRootInner)
	if err != nil {
		return block.ID{}, 0, err
	}
	var bucketHash crypto.Hash
	found := false
	for _, b := range buckets {
		if b.Bucket == locator[0] {
			bucketHash = b.Hash
			found = true
			break
		}
	}
	if !found {
		return block.ID{}, 0, ErrNotFound
	}
	leaves, err := loadBucketLeaves(tx, bucketHash)
	if err != nil {
		return block.ID{}, 0, err
	}
	for _, l := range leaves {
		if l.Locator == locator {
			return l.BlockID, l.Presence, nil
		}
	}
	return block.ID{}, 0, ErrNotFound
}
