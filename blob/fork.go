package blob

import (
	"github.com/cellstate/branchsync/block"
	"github.com/cellstate/branchsync/crypto"
	"github.com/cellstate/branchsync/index"
	"github.com/cellstate/branchsync/store"
)

// Fork copies every present block of src into dstWriter's branch under
// dstRootID, re-encrypting each block under dstReadKey (since a different
// read key cannot decrypt ciphertext sealed under the source's) and
// deriving fresh locators from dstRootID, per §4.E.
//
// Fork takes a Unique lock on dstRootID for the duration, failing
// ErrLocked if a Read or Write handle on that id is already open elsewhere
// (§4.E "fork semantics"). A destination locator that already carries a
// Present leaf is treated as already-forked and left alone, giving Fork
// its idempotent re-run behaviour; callers that need to distinguish
// "identical content" from "different content under the same name" do so
// at the directory layer, where entry names and version vectors are
// visible (§4.F), not here.
func Fork(tx *store.WriteTx, locks *Registry, src *Handle, dstWriter crypto.Hash, dstSignKey crypto.SigningKey, dstReadKey crypto.Key, dstRootID block.ID) error {
	if err := locks.Acquire(crypto.Hash(dstRootID), Unique); err != nil {
		return err
	}
	defer locks.Release(crypto.Hash(dstRootID), Unique)

	dstPrefix := derivePrefix(dstReadKey, dstRootID)
	length := src.Length()
	n := blockCount(length)

	var baseline crypto.Hash
	if root, err := index.LoadRoot(tx, dstWriter, index.FilterAny, dstWriter); err == nil {
		baseline = root.HashOfRootInner
	} else if err != index.ErrNotFound {
		return err
	}

	for idx := uint64(0); idx < n; idx++ {
		dstLoc := crypto.Locator(dstReadKey, [32]byte(dstRootID), idx)
		if _, presence, err := index.Lookup(tx, dstWriter, dstLoc); err == nil && presence == index.Present {
			continue
		} else if err != nil && err != index.ErrNotFound {
			return err
		}

		srcLoc := crypto.Locator(src.readKey, [32]byte(src.rootID), idx)
		id, presence, err := index.Lookup(tx, src.writer, srcLoc)
		if err == index.ErrNotFound || (err == nil && presence != index.Present) {
			continue
		}
		if err != nil {
			return err
		}

		sealed, err := block.Read(tx, id)
		if err != nil {
			return err
		}
		srcNonce := crypto.DeriveBlockNonce(src.noncePrefix, idx)
		plain, err := crypto.Open(src.readKey, srcNonce, sealed, id[:])
		if err != nil {
			return crypto.ErrCorruptOrWrongKey
		}
		if idx == 0 {
			copy(plain, encodeHeader(dstPrefix, length))
		}

		newID, err := block.NewID()
		if err != nil {
			return err
		}
		dstNonce := crypto.DeriveBlockNonce(dstPrefix, idx)
		dstSealed, err := crypto.Seal(dstReadKey, dstNonce, plain, newID[:])
		if err != nil {
			return err
		}
		if err := block.Write(tx, newID, dstSealed); err != nil {
			return err
		}

		root, err := index.InsertLeaf(tx, dstSignKey, baseline, dstLoc, newID, index.Present)
		if err != nil {
			return err
		}
		baseline = root.HashOfRootInner
	}
	return nil
}
