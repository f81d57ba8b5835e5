package vfs

import (
	"github.com/cellstate/branchsync/block"
	"github.com/cellstate/branchsync/crypto"
	"github.com/cellstate/branchsync/index"
)

// Kind distinguishes a directory entry's payload, per §4.F's entry_version.
type Kind uint8

const (
	KindFile Kind = iota
	KindDirectory
)

// EntryVersion is one writer's claim about a name within a directory:
// {writer_id, kind, blob_root_id?, version_vector}, per §4.F. BlobRootID is
// the nil-able pointer the spec's "?" marks (a tombstone has none).
type EntryVersion struct {
	WriterID   crypto.Hash
	Kind       Kind
	BlobRootID *block.ID
	VV         index.VV
	Tombstone  bool
}

// Fingerprint returns the first 8 hex characters of the writer id, the
// disambiguation suffix §4.F's joint view appends to a conflicting name
// (the resolved form of §9's "what length fingerprint" open question).
func (e EntryVersion) Fingerprint() string {
	const hexChars = "0123456789abcdef"
	out := make([]byte, fingerprintLen)
	for i := 0; i < fingerprintLen/2; i++ {
		b := e.WriterID[i]
		out[i*2] = hexChars[b>>4]
		out[i*2+1] = hexChars[b&0x0f]
	}
	return string(out)
}

// fingerprintLen is 8 hex characters (4 bytes of the writer id).
const fingerprintLen = 8

// bump returns a copy of e with writer's VV entry incremented by one, per
// §4.F step 5/6 ("bump this entry's VV" / "bump parent directory entries").
func (e EntryVersion) bump(writer crypto.Hash) EntryVersion {
	e.VV = e.VV.Bump(writer)
	return e
}
