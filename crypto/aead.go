// Package crypto provides the authenticated-encryption, hashing, signing and
// key-derivation primitives the rest of the module builds on. Nothing here
// is novel cryptography: it is a thin, deniability-preserving wrapper around
// golang.org/x/crypto and the stdlib.
package crypto

import (
	"crypto/rand"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// KeySize is the size in bytes of a symmetric AEAD key.
	KeySize = chacha20poly1305.KeySize // 32

	// NonceSize is the size in bytes of the AEAD nonce (XChaCha20's extended
	// nonce, chosen because it is exactly the spec's 24-byte nonce).
	NonceSize = chacha20poly1305.NonceSizeX // 24

	// TagSize is the size in bytes of the detached authentication tag.
	TagSize = chacha20poly1305.Overhead // 16
)

// Key is a 256-bit symmetric AEAD key.
type Key [KeySize]byte

// Nonce is a 24-byte AEAD nonce.
type Nonce [NonceSize]byte

// GenerateKey returns a fresh random key.
func GenerateKey() (Key, error) {
	var k Key
	if _, err := rand.Read(k[:]); err != nil {
		return Key{}, err
	}
	return k, nil
}

// GenerateNonce returns a fresh random nonce. Most callers derive nonces
// deterministically instead (see DeriveBlockNonce); this is used for the
// repository's random one-off values (metadata secret-row nonces, the
// database id and the device id).
func GenerateNonce() (Nonce, error) {
	var n Nonce
	if _, err := rand.Read(n[:]); err != nil {
		return Nonce{}, err
	}
	return n, nil
}

// DeriveBlockNonce computes the per-block nonce from a blob's nonce_prefix
// and a block's index within the blob, per §3: "per-block nonce derived
// deterministically from (blob nonce-prefix, block index within blob)". The
// prefix's last 8 bytes are XORed with the big-endian block index, leaving
// the first 16 bytes untouched so distinct blobs never collide even at the
// same block index.
func DeriveBlockNonce(prefix Nonce, blockIndex uint64) Nonce {
	n := prefix
	for i := 0; i < 8; i++ {
		n[NonceSize-8+i] ^= byte(blockIndex >> (8 * (7 - i)))
	}
	return n
}

// Seal encrypts plaintext in place-compatible fashion, returning
// ciphertext||tag with aad bound as associated data (the block id, per §3).
func Seal(key Key, nonce Nonce, plaintext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, err
	}
	dst := make([]byte, 0, len(plaintext)+TagSize)
	return aead.Seal(dst, nonce[:], plaintext, aad), nil
}

// Open decrypts ciphertext||tag produced by Seal. On any failure — bad tag,
// wrong key, truncated input — it returns ErrCorruptOrWrongKey and nothing
// else, so callers cannot distinguish the reasons (see ConstantPath).
func Open(key Key, nonce Nonce, sealed, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, ErrCorruptOrWrongKey
	}
	dst := make([]byte, 0, len(sealed))
	pt, err := aead.Open(dst, nonce[:], sealed, aad)
	if err != nil {
		return nil, ErrCorruptOrWrongKey
	}
	return pt, nil
}

// ConstantPath runs decode (e.g. parsing a decrypted plaintext's structure)
// only after Open succeeds, and funnels every failure — AEAD or structural —
// through the same ErrCorruptOrWrongKey so a caller's error path is
// identical for "wrong key" and "right key, malformed content".
func ConstantPath[T any](key Key, nonce Nonce, sealed, aad []byte, decode func([]byte) (T, error)) (T, error) {
	var zero T
	pt, err := Open(key, nonce, sealed, aad)
	if err != nil {
		return zero, ErrCorruptOrWrongKey
	}
	v, err := decode(pt)
	if err != nil {
		return zero, ErrCorruptOrWrongKey
	}
	return v, nil
}
