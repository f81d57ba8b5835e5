package store

import "errors"

var (
	// ErrBackend wraps any underlying bbolt error so callers see a single
	// taxonomy (§7's Backend category) instead of bbolt's own error set.
	ErrBackend = errors.New("store: backend error")

	// ErrSchemaDowngrade is returned by Open when the on-disk schema version
	// is newer than this binary knows how to read.
	ErrSchemaDowngrade = errors.New("store: refusing to downgrade schema")
)
