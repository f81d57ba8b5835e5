package token

import "errors"

var (
	// ErrMalformed is returned when a token string doesn't parse: wrong
	// scheme, truncated payload, or bad base32.
	ErrMalformed = errors.New("token: malformed")

	// ErrInvalidSuggestedName rejects a suggested_name containing a path
	// separator, mirroring vfs's own path component validation.
	ErrInvalidSuggestedName = errors.New("token: invalid suggested name")
)
