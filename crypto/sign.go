package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
)

// SigningKey is a write secret: the ability to extend a branch. The public
// half, hashed, defines the repository_id per §3.
type SigningKey struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateSigningKey creates a fresh ed25519 keypair.
func GenerateSigningKey() (SigningKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return SigningKey{}, err
	}
	return SigningKey{Public: pub, Private: priv}, nil
}

// WriterID derives the writer_id for this keypair: the blake2b-256 hash of
// the public key, so branch identity survives key encoding changes and is a
// fixed-size value usable as a map key and trie path.
func (k SigningKey) WriterID() Hash {
	return SumHash(k.Public)
}

// Sign signs msg (the root's hash_of_root_inner ‖ version_vector encoding).
func (k SigningKey) Sign(msg []byte) []byte {
	return ed25519.Sign(k.Private, msg)
}

// Verify checks a signature against a known public key. It returns
// ErrInvalidSignature rather than a boolean so call sites compose with
// ordinary Go error handling.
func Verify(pub ed25519.PublicKey, msg, sig []byte) error {
	if !ed25519.Verify(pub, msg, sig) {
		return ErrInvalidSignature
	}
	return nil
}
