package crypto

import (
	"crypto/hmac"
	"encoding/binary"
	"hash"

	"golang.org/x/crypto/blake2b"
)

// HashSize is the size in bytes of a Hash value.
const HashSize = 32

// Hash is a 32-byte cryptographic hash, used both for locators (via HMAC)
// and for the signed payload over an index root's children.
type Hash [HashSize]byte

// IsZero reports whether h is the all-zero hash (used as a sentinel for
// "no children" / "empty root").
func (h Hash) IsZero() bool {
	return h == Hash{}
}

func newHasher() hash.Hash {
	h, err := blake2b.New256(nil)
	if err != nil {
		// blake2b.New256 only errors on a bad key size, and we never pass one.
		panic(err)
	}
	return h
}

// SumHash hashes an arbitrary sequence of byte slices, concatenated.
func SumHash(parts ...[]byte) Hash {
	h := newHasher()
	for _, p := range parts {
		h.Write(p)
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// Locator derives the 32-byte leaf key for a block at index `blockIndex`
// within the blob rooted at `blobRootID`, per §3: it is the HMAC of the
// blob root id and block index under the read key, which hides logical
// position from anyone without the read key.
func Locator(readKey Key, blobRootID [32]byte, blockIndex uint64) Hash {
	mac := hmac.New(newHasher, readKey[:])
	mac.Write(blobRootID[:])
	var idx [8]byte
	binary.BigEndian.PutUint64(idx[:], blockIndex)
	mac.Write(idx[:])
	var out Hash
	copy(out[:], mac.Sum(nil))
	return out
}
