package blob

import "errors"

var (
	// ErrLocked is returned when an operation needs a lock on a blob root id
	// that a conflicting handle already holds, per §4.E/§5.
	ErrLocked = errors.New("blob: locked")

	// ErrEntryExists is returned by Fork when the destination already holds
	// a different blob under the same name that cannot be merged.
	ErrEntryExists = errors.New("blob: entry exists")
)
