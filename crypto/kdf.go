package crypto

import (
	"crypto/rand"

	"golang.org/x/crypto/argon2"
)

// SaltSize is the size in bytes of a password salt, stored alongside the
// derived key's owner in metadata_public (password_salt, §6).
const SaltSize = 16

// KDFParams pins the argon2id cost parameters used to wrap locally-stored
// secrets with a user password. These are conservative interactive-login
// defaults, not tuned per deployment; a future config surface can override
// them without changing the wire format (the salt alone is persisted).
type KDFParams struct {
	Time    uint32
	MemoryKiB uint32
	Threads uint8
}

// DefaultKDFParams mirrors argon2's own recommended interactive settings.
var DefaultKDFParams = KDFParams{Time: 1, MemoryKiB: 64 * 1024, Threads: 4}

// GenerateSalt returns a fresh random password salt.
func GenerateSalt() ([SaltSize]byte, error) {
	var s [SaltSize]byte
	_, err := rand.Read(s[:])
	return s, err
}

// DeriveKey stretches a password into a KeySize-byte key using argon2id, the
// "argon2-class cost" function named in §4.A.
func DeriveKey(password []byte, salt [SaltSize]byte, params KDFParams) Key {
	raw := argon2.IDKey(password, salt[:], params.Time, params.MemoryKiB, params.Threads, KeySize)
	var k Key
	copy(k[:], raw)
	return k
}
