package crypto

import "golang.org/x/crypto/chacha20"

// StreamXOR applies raw (unauthenticated) XChaCha20 keystream to data and
// returns the result, used only for §6's metadata_secret values: "decryption
// of a wrong key yields garbage, not an error." An AEAD's tag check would
// instead make a wrong key observably fail, leaking information a blind
// replica or coerced user shouldn't be able to extract; a bare stream
// cipher has no tag to fail, so decrypting under the wrong key silently
// produces unrelated bytes.
func StreamXOR(key Key, nonce Nonce, data []byte) ([]byte, error) {
	c, err := chacha20.NewUnauthenticatedCipher(key[:], nonce[:])
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	c.XORKeyStream(out, data)
	return out, nil
}
