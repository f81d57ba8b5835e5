package block

import "errors"

var (
	// ErrBlockNotFound is returned by Read when no block exists for the
	// requested id.
	ErrBlockNotFound = errors.New("block: not found")

	// ErrQuotaExceeded is returned by Write when persisting the block would
	// push the repository's on-disk block size past its configured quota.
	ErrQuotaExceeded = errors.New("block: quota exceeded")
)
