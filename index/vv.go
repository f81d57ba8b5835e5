// Package index implements the per-writer append-only signed Merkle branch
// of §4.D: leaves mapping locators to block ids, inner nodes summarising
// presence, and signed roots carrying a version vector. It is grounded on
// the teacher's layerfs package (layerfs.go's copy-on-write "cow" rebuild,
// node.go's BranchWriter), generalized from boltdb sequence ids to the
// spec's random block ids, HMAC locators and explicit version vectors.
package index

import "github.com/cellstate/branchsync/crypto"

// Ordering is the result of comparing two version vectors.
type Ordering int

const (
	// Equal means a == b entrywise.
	Equal Ordering = iota
	// Less means a ≤ b and a != b.
	Less
	// Greater means a ≥ b and a != b.
	Greater
	// Concurrent means neither dominates the other (a ∥ b).
	Concurrent
)

// VV is a version vector: writer_id -> monotone counter, per §3.
type VV map[crypto.Hash]uint64

// Clone returns an independent copy.
func (v VV) Clone() VV {
	out := make(VV, len(v))
	for k, n := range v {
		out[k] = n
	}
	return out
}

// Compare implements the partial order from §3: a ≤ b iff every entry of a
// is ≤ the corresponding entry of b (missing entries count as 0).
func Compare(a, b VV) Ordering {
	aLessOrEqual := true
	bLessOrEqual := true

	writers := make(map[crypto.Hash]struct{}, len(a)+len(b))
	for w := range a {
		writers[w] = struct{}{}
	}
	for w := range b {
		writers[w] = struct{}{}
	}

	for w := range writers {
		if a[w] > b[w] {
			bLessOrEqual = false
		}
		if b[w] > a[w] {
			aLessOrEqual = false
		}
	}

	switch {
	case aLessOrEqual && bLessOrEqual:
		return Equal
	case aLessOrEqual:
		return Less
	case bLessOrEqual:
		return Greater
	default:
		return Concurrent
	}
}

// Dominates reports whether a ≥ b (b's writes are all reflected in a).
func Dominates(a, b VV) bool {
	o := Compare(a, b)
	return o == Greater || o == Equal
}

// Merge returns the entrywise maximum of a and b (the join in the VV
// lattice), used when materialising a remote branch's tombstones/entries
// into the local branch (§4.G "merge").
func Merge(a, b VV) VV {
	out := make(VV, len(a)+len(b))
	for w, n := range a {
		out[w] = n
	}
	for w, n := range b {
		if n > out[w] {
			out[w] = n
		}
	}
	return out
}

// Bump returns a copy of v with writer's entry incremented by one.
func (v VV) Bump(writer crypto.Hash) VV {
	out := v.Clone()
	out[writer] = out[writer] + 1
	return out
}
