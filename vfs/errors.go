package vfs

import "errors"

var (
	// ErrNotFound is returned for a missing directory entry, per §7.
	ErrNotFound = errors.New("vfs: not found")

	// ErrEntryExists is returned when a mutation's destination name
	// collision cannot be merged (§7).
	ErrEntryExists = errors.New("vfs: entry exists")

	// ErrNotADirectory/ErrIsADirectory guard path traversal and open
	// against the entry kind actually stored at a name.
	ErrNotADirectory = errors.New("vfs: not a directory")
	ErrIsADirectory  = errors.New("vfs: is a directory")

	// ErrInvalidPath mirrors the teacher's path validation error.
	ErrInvalidPath = errors.New("vfs: invalid path")
)
