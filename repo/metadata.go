package repo

import (
	"github.com/cellstate/branchsync/crypto"
	"github.com/cellstate/branchsync/store"
)

// Metadata keys, matching §6's "metadata keys used by the core" verbatim.
const (
	keyRepositoryID     = "repository_id"
	keyPasswordSalt     = "password_salt"
	keyWriterID         = "writer_id"
	keyReadKey          = "read_key"
	keyWriteKey         = "write_key"
	keyDeviceID         = "device_id"
	keyReadKeyValidator = "read_key_validator"
	keyDatabaseID       = "database_id"
)

// readKeyValidatorPlaintext is the fixed plaintext a stored read key
// validator always encrypts, per metadata.rs's read_key_validator: a
// candidate read key is "correct" iff decrypting the validator reproduces
// this plaintext, without ever needing an AEAD tag failure to say so.
var readKeyValidatorPlaintext = []byte("branchsync-read-key-validator")

// SetPublic stores name -> value in metadata_public, unencrypted.
func SetPublic(tx *store.WriteTx, name string, value []byte) error {
	return tx.Bucket(store.BucketMetadataPublic).Put([]byte(name), value)
}

// GetPublic reads name from metadata_public.
func GetPublic(tx store.Tx, name string) ([]byte, bool) {
	v := tx.Bucket(store.BucketMetadataPublic).Get([]byte(name))
	if v == nil {
		return nil, false
	}
	return append([]byte(nil), v...), true
}

// secretRow is a metadata_secret value: a random nonce alongside the
// stream-ciphertext, per §6 ("Encrypted entries store a random nonce
// alongside their ciphertext").
type secretRow struct {
	Nonce      crypto.Nonce
	Ciphertext []byte
}

func encodeSecretRow(r secretRow) []byte {
	out := make([]byte, crypto.NonceSize+len(r.Ciphertext))
	copy(out, r.Nonce[:])
	copy(out[crypto.NonceSize:], r.Ciphertext)
	return out
}

func decodeSecretRow(raw []byte) (secretRow, bool) {
	if len(raw) < crypto.NonceSize {
		return secretRow{}, false
	}
	var r secretRow
	copy(r.Nonce[:], raw[:crypto.NonceSize])
	r.Ciphertext = append([]byte(nil), raw[crypto.NonceSize:]...)
	return r, true
}

// SetSecret stores name -> value in metadata_secret, stream-encrypted
// under localKey with a fresh random nonce.
func SetSecret(tx *store.WriteTx, name string, value []byte, localKey crypto.Key) error {
	nonce, err := crypto.GenerateNonce()
	if err != nil {
		return err
	}
	ciphertext, err := crypto.StreamXOR(localKey, nonce, value)
	if err != nil {
		return err
	}
	return tx.Bucket(store.BucketMetadataSecret).Put([]byte(name), encodeSecretRow(secretRow{Nonce: nonce, Ciphertext: ciphertext}))
}

// GetSecret decrypts name from metadata_secret under localKey. A wrong
// localKey never surfaces as an error here: it decrypts to unrelated
// bytes, per §6; callers that need to tell a wrong key apart from a
// correct one use a read-key-validator-style known-plaintext check
// instead (see CheckReadKey).
func GetSecret(tx store.Tx, name string, localKey crypto.Key) ([]byte, bool, error) {
	raw := tx.Bucket(store.BucketMetadataSecret).Get([]byte(name))
	if raw == nil {
		return nil, false, nil
	}
	row, ok := decodeSecretRow(raw)
	if !ok {
		return nil, false, nil
	}
	plain, err := crypto.StreamXOR(localKey, row.Nonce, row.Ciphertext)
	if err != nil {
		return nil, false, err
	}
	return plain, true, nil
}

// SetReadKeyValidator stores a validator for readKey so a later candidate
// key can be checked against it without ever failing to decrypt.
func SetReadKeyValidator(tx *store.WriteTx, readKey crypto.Key) error {
	return SetSecret(tx, keyReadKeyValidator, readKeyValidatorPlaintext, readKey)
}

// CheckReadKey reports whether candidate reproduces the stored validator's
// known plaintext, i.e. is the correct read key.
func CheckReadKey(tx store.Tx, candidate crypto.Key) (bool, error) {
	plain, ok, err := GetSecret(tx, keyReadKeyValidator, candidate)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return string(plain) == string(readKeyValidatorPlaintext), nil
}

// GetOrGenerateDatabaseID returns the per-database-file random id stored
// under database_id, generating and persisting one the first time.
func GetOrGenerateDatabaseID(tx *store.WriteTx) (crypto.Hash, error) {
	if v, ok := GetPublic(tx, keyDatabaseID); ok {
		var id crypto.Hash
		copy(id[:], v)
		return id, nil
	}
	nonce, err := crypto.GenerateNonce()
	if err != nil {
		return crypto.Hash{}, err
	}
	id := crypto.SumHash(nonce[:])
	if err := SetPublic(tx, keyDatabaseID, id[:]); err != nil {
		return crypto.Hash{}, err
	}
	return id, nil
}

// GetOrGeneratePasswordSalt returns the per-repository password salt
// stored under password_salt, generating and persisting one the first
// time a local password is derived.
func GetOrGeneratePasswordSalt(tx *store.WriteTx) ([crypto.SaltSize]byte, error) {
	if v, ok := GetPublic(tx, keyPasswordSalt); ok && len(v) == crypto.SaltSize {
		var s [crypto.SaltSize]byte
		copy(s[:], v)
		return s, nil
	}
	salt, err := crypto.GenerateSalt()
	if err != nil {
		return salt, err
	}
	if err := SetPublic(tx, keyPasswordSalt, salt[:]); err != nil {
		return salt, err
	}
	return salt, nil
}
