package repo

import "errors"

var (
	// ErrAlreadyExists is returned by Create when a store file is already
	// present at the target path.
	ErrAlreadyExists = errors.New("repo: already exists")

	// ErrPermissionDenied is returned when an operation needs a higher
	// access mode than this handle was opened with.
	ErrPermissionDenied = errors.New("repo: permission denied")

	// ErrInvalidAccessToken is returned when the combination of share
	// token and local passwords passed to DeriveAccess cannot produce a
	// coherent access level (e.g. a write password together with a share
	// token that only grants read).
	ErrInvalidAccessToken = errors.New("repo: invalid access token combination")
)
