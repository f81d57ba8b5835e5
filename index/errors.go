package index

import "errors"

var (
	// ErrPermissionDenied is returned by InsertLeaf when the caller has no
	// write key for the branch it is trying to extend.
	ErrPermissionDenied = errors.New("index: permission denied")

	// ErrConcurrentWriteConflict is returned by InsertLeaf when another
	// writer extended this branch within the same transaction.
	ErrConcurrentWriteConflict = errors.New("index: concurrent write conflict")

	// ErrNotFound is returned by Lookup/RequestInner-style reads for an
	// absent locator/node hash.
	ErrNotFound = errors.New("index: not found")

	// ErrCorrupt mirrors §7's Corrupt category: a root's
	// signature doesn't check out, or its structure is inconsistent.
	ErrCorrupt = errors.New("index: corrupt root or node")
)
