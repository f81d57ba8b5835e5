package wire

import "github.com/cellstate/branchsync/crypto"

// ChannelTag is the 256-bit opaque tag that identifies a repository pair on
// the wire, per §4.H: "derived from the repository id, so both sides
// compute the same value without revealing the id on the wire; blind peers
// use the same channel."
type ChannelTag = crypto.Hash

// DeriveChannelTag computes the channel tag for repositoryID. It is a plain
// hash rather than an HMAC: unlike a block locator (§3), the channel tag is
// not meant to be secret from a blind peer, only opaque to someone without
// the repository id itself.
func DeriveChannelTag(repositoryID crypto.Hash) ChannelTag {
	return crypto.SumHash([]byte("branchsync-channel"), repositoryID[:])
}
