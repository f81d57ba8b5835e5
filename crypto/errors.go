package crypto

import "errors"

var (
	// ErrCorruptOrWrongKey is returned for both a failed AEAD tag check and a
	// structurally invalid plaintext. Callers must never branch on which one
	// actually happened: that would let an attacker distinguish "wrong key"
	// from "right key, corrupt data", defeating plausible deniability.
	ErrCorruptOrWrongKey = errors.New("crypto: corrupt data or wrong key")

	// ErrInvalidKeySize is returned when a caller-supplied key is not exactly
	// KeySize bytes.
	ErrInvalidKeySize = errors.New("crypto: invalid key size")

	// ErrInvalidSignature is returned by Verify for a signature that does not
	// check out. Unlike ErrCorruptOrWrongKey this is not a deniability
	// surface: signatures are over public, already-disclosed root hashes.
	ErrInvalidSignature = errors.New("crypto: invalid signature")
)
