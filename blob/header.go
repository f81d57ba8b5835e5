package blob

import (
	"encoding/binary"

	"github.com/cellstate/branchsync/block"
	"github.com/cellstate/branchsync/crypto"
)

// headerSize is the plaintext prefix of a blob's first block, per §3:
// nonce_prefix (24 B) ‖ length (8 B LE).
const headerSize = crypto.NonceSize + 8

// payloadPerBlock is how many payload bytes the first block carries once
// its header is accounted for; every later block is all payload.
const payloadPerBlock = block.Size - headerSize

func blockCount(length uint64) uint64 {
	return (length + headerSize + block.Size - 1) / block.Size
}

// encodeHeader renders the first block's plaintext prefix.
func encodeHeader(prefix crypto.Nonce, length uint64) []byte {
	h := make([]byte, headerSize)
	copy(h, prefix[:])
	binary.LittleEndian.PutUint64(h[crypto.NonceSize:], length)
	return h
}

func decodeHeader(plain []byte) (prefix crypto.Nonce, length uint64, ok bool) {
	if len(plain) < headerSize {
		return crypto.Nonce{}, 0, false
	}
	copy(prefix[:], plain[:crypto.NonceSize])
	length = binary.LittleEndian.Uint64(plain[crypto.NonceSize:headerSize])
	return prefix, length, true
}

// payloadOffset returns the offset within a decrypted block's plaintext
// where its payload region begins: after the header for block 0, from byte
// 0 for every later block.
func payloadOffset(idx uint64) int {
	if idx == 0 {
		return headerSize
	}
	return 0
}
