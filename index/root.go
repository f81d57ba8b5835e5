package index

import (
	"crypto/ed25519"
	"encoding/binary"

	"github.com/cellstate/branchsync/crypto"
	"github.com/cellstate/branchsync/store"
	"github.com/fxamacker/cbor/v2"
)

// RootNode is one (writer, snapshot) summary, per §3: "(writer_id,
// version_vector, hash_of_root_inner, signature_over(...), summary)".
type RootNode struct {
	WriterID        crypto.Hash
	PublicKey       ed25519.PublicKey
	VV              VV
	HashOfRootInner crypto.Hash
	Signature       []byte
	Summary         Presence

	// Published marks a root as this writer's officially advertised tip
	// (as opposed to one received from a remote but not yet folded in),
	// backing RootFilter's PublishedOnly/OwnOnly distinction.
	Published bool

	seq uint64 // storage-only: this writer's monotonically increasing root sequence
}

// signedMessage is exactly what §4.D says the writer signs:
// hash_of_root_inner ‖ version_vector.
func signedMessage(hashOfRootInner crypto.Hash, vv VV) []byte {
	// Deterministic encoding of vv: sorted by writer hash, writer‖counter.
	keys := make([]crypto.Hash, 0, len(vv))
	for w := range vv {
		keys = append(keys, w)
	}
	sortHashes(keys)

	buf := append([]byte(nil), hashOfRootInner[:]...)
	for _, w := range keys {
		buf = append(buf, w[:]...)
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], vv[w])
		buf = append(buf, n[:]...)
	}
	return buf
}

func sortHashes(hs []crypto.Hash) {
	for i := 1; i < len(hs); i++ {
		for j := i; j > 0 && lessHash(hs[j], hs[j-1]); j-- {
			hs[j], hs[j-1] = hs[j-1], hs[j]
		}
	}
}

// Sign produces the signature field for a root about to be inserted.
func Sign(key crypto.SigningKey, hashOfRootInner crypto.Hash, vv VV) []byte {
	return key.Sign(signedMessage(hashOfRootInner, vv))
}

// Verify checks a root's signature and, superficially, its structural
// consistency (§4.D "verify"). A failing signature and a structurally
// inconsistent root are both reported as ErrCorrupt: distinguishing them
// would let a caller learn whether a key or the data itself was wrong.
func Verify(root RootNode) error {
	if len(root.PublicKey) != ed25519.PublicKeySize {
		return ErrCorrupt
	}
	if crypto.SumHash(root.PublicKey) != root.WriterID {
		return ErrCorrupt
	}
	msg := signedMessage(root.HashOfRootInner, root.VV)
	if err := crypto.Verify(root.PublicKey, msg, root.Signature); err != nil {
		return ErrCorrupt
	}
	return nil
}

type rootRow struct {
	PublicKey       ed25519.PublicKey
	VV              VV
	HashOfRootInner crypto.Hash
	Signature       []byte
	Summary         Presence
	Published       bool
}

func rootKey(writer crypto.Hash, seq uint64) []byte {
	k := make([]byte, 0, crypto.HashSize+8)
	k = append(k, writer[:]...)
	var s [8]byte
	binary.BigEndian.PutUint64(s[:], seq)
	return append(k, s[:]...)
}

func putRoot(tx *store.WriteTx, root RootNode, seq uint64) error {
	row := rootRow{
		PublicKey:       root.PublicKey,
		VV:              root.VV,
		HashOfRootInner: root.HashOfRootInner,
		Signature:       root.Signature,
		Summary:         root.Summary,
		Published:       root.Published,
	}
	return tx.Bucket(store.BucketSnapshotRootNodes).Put(rootKey(root.WriterID, seq), encode(row))
}

// LoadAllRoots returns every stored root, writer by writer, leaves (i.e.
// the per-writer sequence) in ascending order within a writer — matching
// §4.D's "leaves first per writer" iteration order so a caller folding
// roots in-order never observes a child before its logical predecessor.
func LoadAllRoots(tx store.Tx) ([]RootNode, error) {
	var out []RootNode
	c := tx.Bucket(store.BucketSnapshotRootNodes).Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		var writer crypto.Hash
		copy(writer[:], k[:crypto.HashSize])
		seq := binary.BigEndian.Uint64(k[crypto.HashSize:])

		row, err := decodeRootRow(v)
		if err != nil {
			return nil, err
		}
		out = append(out, RootNode{
			WriterID:        writer,
			PublicKey:       row.PublicKey,
			VV:              row.VV,
			HashOfRootInner: row.HashOfRootInner,
			Signature:       row.Signature,
			Summary:         row.Summary,
			Published:       row.Published,
			seq:             seq,
		})
	}
	return out, nil
}

// RootFilter selects among a writer's roots, per §4.D.
type RootFilter int

const (
	FilterAny RootFilter = iota
	FilterPublishedOnly
	FilterOwnOnly
)

// LoadRoot returns the tip root for writer (the highest-VV root, ties
// broken by larger hash per §4.D's merge rule) matching filter. localWriter
// is only consulted for FilterOwnOnly.
func LoadRoot(tx store.Tx, writer crypto.Hash, filter RootFilter, localWriter crypto.Hash) (RootNode, error) {
	all, err := LoadAllRoots(tx)
	if err != nil {
		return RootNode{}, err
	}

	var best *RootNode
	for i := range all {
		r := all[i]
		if r.WriterID != writer {
			continue
		}
		switch filter {
		case FilterPublishedOnly:
			if !r.Published {
				continue
			}
		case FilterOwnOnly:
			if writer != localWriter {
				continue
			}
		}
		if best == nil || isNewerRoot(r, *best) {
			cp := r
			best = &cp
		}
	}
	if best == nil {
		return RootNode{}, ErrNotFound
	}
	return *best, nil
}

// isNewerRoot applies §4.D's merge rule: higher VV wins; on equal VV the
// larger hash wins (an arbitrary but deterministic tie-break).
func isNewerRoot(a, b RootNode) bool {
	switch Compare(a.VV, b.VV) {
	case Greater:
		return true
	case Less:
		return false
	default:
		return lessHash(b.HashOfRootInner, a.HashOfRootInner)
	}
}

// StoreRemoteRoot verifies and stores a root received from a remote peer
// (§4.I's client half: "on receiving a newer root: verify signature, store
// as unpublished"). It is a no-op, returning stored=false, if root is not
// strictly newer than the writer's current best-known root (by the same
// merge rule LoadRoot's tip selection uses) — a stale or duplicate root
// advertisement is simply ignored rather than erroring.
func StoreRemoteRoot(tx *store.WriteTx, root RootNode) (stored bool, err error) {
	if err := Verify(root); err != nil {
		return false, err
	}

	current, err := LoadRoot(tx, root.WriterID, FilterAny, root.WriterID)
	switch {
	case err == ErrNotFound:
		// no current root for this writer; anything verified is newer.
	case err != nil:
		return false, err
	default:
		if !isNewerRoot(root, current) {
			return false, nil
		}
	}

	root.Published = false
	seq, err := nextSeq(tx, root.WriterID)
	if err != nil {
		return false, err
	}
	if err := putRoot(tx, root, seq); err != nil {
		return false, err
	}
	return true, nil
}

func decodeRootRow(b []byte) (rootRow, error) {
	var r rootRow
	if err := cbor.Unmarshal(b, &r); err != nil {
		return rootRow{}, ErrCorrupt
	}
	return r, nil
}
