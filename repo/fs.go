package repo

import (
	"github.com/cellstate/branchsync/block"
	"github.com/cellstate/branchsync/blob"
	"github.com/cellstate/branchsync/crypto"
	"github.com/cellstate/branchsync/index"
	"github.com/cellstate/branchsync/store"
	"github.com/cellstate/branchsync/token"
	"github.com/cellstate/branchsync/vfs"
)

// rootLocator is the fixed, well-known locator every writer's root
// directory blob is stored under, per §4.F: the root has no parent entry
// to be looked up through, so unlike every other directory it needs a
// locator that doesn't depend on a path.
var rootLocator = crypto.SumHash([]byte("branchsync-root-directory"))

// initializeRoot inserts an empty root directory blob for the local
// writer, run once at repository creation.
func initializeRoot(s *store.Store, locks *blob.Registry, secrets Secrets) error {
	wtx, err := s.BeginWrite()
	if err != nil {
		return err
	}
	h, err := blob.Create(locks, secrets.SigningKey.WriterID(), secrets.SigningKey, secrets.ReadKey)
	if err != nil {
		wtx.Rollback()
		return err
	}
	defer h.Close()
	if err := h.Flush(wtx); err != nil {
		wtx.Rollback()
		return err
	}
	if _, err := index.InsertLeaf(wtx, secrets.SigningKey, crypto.Hash{}, rootLocator, h.RootID(), index.Present); err != nil {
		wtx.Rollback()
		return err
	}
	return wtx.Commit()
}

// openRoot resolves and loads the local writer's root directory.
func (r *Repo) openRoot(tx store.Tx) (*vfs.Directory, error) {
	id, _, err := index.Lookup(tx, r.secrets.SigningKey.WriterID(), rootLocator)
	if err != nil {
		return nil, err
	}
	return r.openDirectory(tx, id)
}

// openDirectory resolves and loads the directory blob at rootID, under the
// local writer's access secrets.
func (r *Repo) openDirectory(tx store.Tx, rootID block.ID) (*vfs.Directory, error) {
	writer := r.secrets.SigningKey.WriterID()
	h, err := blob.Open(tx, r.locks, writer, r.secrets.SigningKey, r.secrets.ReadKey, rootID)
	if err != nil {
		return nil, err
	}
	d := vfs.OpenDirectory(h, writer)
	if err := d.Load(tx); err != nil {
		return nil, err
	}
	return d, nil
}

// chain walks path from the root, returning every directory along the way
// together with each one's name within its parent, for use with
// vfs.Mutate/vfs.CreateEntry/etc.
func (r *Repo) chain(tx store.Tx, path vfs.Path) ([]*vfs.Directory, []string, error) {
	root, err := r.openRoot(tx)
	if err != nil {
		return nil, nil, err
	}
	return vfs.LoadChain(tx, root, path, func(id block.ID) (*vfs.Directory, error) {
		return r.openDirectory(tx, id)
	})
}

// ReadDir returns the joint-resolved listing of the directory at path.
func (r *Repo) ReadDir(path vfs.Path) ([]vfs.JointEntry, error) {
	tx, err := r.store.BeginRead()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	chain, _, err := r.chain(tx, path)
	if err != nil {
		return nil, err
	}
	defer closeChain(chain)
	return chain[len(chain)-1].JointListing(), nil
}

// closeChain releases the blob lock each directory in chain holds. Every
// caller that builds a chain via (*Repo).chain must close it once it's
// done with the directories, whether or not the chain's own read
// transaction is still open: the lock lives in the process-local
// blob.Registry, independent of any one store transaction.
func closeChain(chain []*vfs.Directory) {
	for _, d := range chain {
		d.Blob.Close()
	}
}

// Mkdir creates an empty subdirectory named path.Base() inside
// path.Parent(), committing the mutation chain from that directory back up
// to the root, per §4.F's seven-step mutation protocol.
func (r *Repo) Mkdir(path vfs.Path) error {
	if len(path) == 0 {
		return vfs.ErrInvalidPath
	}
	if r.secrets.Mode < token.ModeWrite {
		return ErrPermissionDenied
	}

	writer := r.secrets.SigningKey.WriterID()
	rtx, err := r.store.BeginRead()
	if err != nil {
		return err
	}
	chain, names, err := r.chain(rtx, path.Parent())
	rtx.Rollback()
	if err != nil {
		return err
	}
	defer closeChain(chain)

	sub, err := blob.Create(r.locks, writer, r.secrets.SigningKey, r.secrets.ReadKey)
	if err != nil {
		return err
	}
	defer sub.Close()

	wtx, err := r.store.BeginWrite()
	if err != nil {
		return err
	}
	if err := sub.Flush(wtx); err != nil {
		wtx.Rollback()
		return err
	}
	if err := vfs.CreateEntry(wtx, chain, names, writer, path.Base(), vfs.KindDirectory, sub.RootID()); err != nil {
		wtx.Rollback()
		return err
	}
	if err := wtx.Commit(); err != nil {
		return err
	}
	r.Notify(EventBranchChanged)
	return nil
}

// Remove tombstones the entry named path.Base() inside path.Parent().
func (r *Repo) Remove(path vfs.Path) error {
	if len(path) == 0 {
		return vfs.ErrInvalidPath
	}
	if r.secrets.Mode < token.ModeWrite {
		return ErrPermissionDenied
	}

	writer := r.secrets.SigningKey.WriterID()
	rtx, err := r.store.BeginRead()
	if err != nil {
		return err
	}
	chain, names, err := r.chain(rtx, path.Parent())
	rtx.Rollback()
	if err != nil {
		return err
	}
	defer closeChain(chain)

	wtx, err := r.store.BeginWrite()
	if err != nil {
		return err
	}
	if err := vfs.RemoveEntry(wtx, chain, names, writer, path.Base()); err != nil {
		wtx.Rollback()
		return err
	}
	if err := wtx.Commit(); err != nil {
		return err
	}
	r.Notify(EventBranchChanged)
	return nil
}

// crossChains builds the two ancestor chains a cross-directory rename needs:
// one down to oldParent, one down to newParent, sharing the same *Directory
// pointers for every ancestor both paths descend through. blob.Open only
// takes a read lock, so two independently loaded chains could both reach the
// repository root without conflicting at the lock level — but persisting
// each separately would silently drop whichever write landed first, since
// persist() rewrites a directory's blob from scratch from its in-memory
// content map. Loading the shared prefix once and extending it twice avoids
// that: both branches accumulate their bumpChildEntry calls on the same
// in-memory ancestor before it is persisted.
func (r *Repo) crossChains(tx store.Tx, oldParent, newParent vfs.Path) (common []*vfs.Directory, commonNames []string, srcExt []*vfs.Directory, srcExtNames []string, destExt []*vfs.Directory, destExtNames []string, err error) {
	k := oldParent.CommonPrefixLen(newParent)

	common, commonNames, err = r.chain(tx, oldParent[:k])
	if err != nil {
		return nil, nil, nil, nil, nil, nil, err
	}
	shared := common[len(common)-1]

	open := func(id block.ID) (*vfs.Directory, error) {
		return r.openDirectory(tx, id)
	}

	srcExt, srcExtNames, err = vfs.LoadChain(tx, shared, oldParent[k:], open)
	if err != nil {
		closeChain(common)
		return nil, nil, nil, nil, nil, nil, err
	}
	destExt, destExtNames, err = vfs.LoadChain(tx, shared, newParent[k:], open)
	if err != nil {
		closeChain(common)
		closeChain(srcExt[1:])
		return nil, nil, nil, nil, nil, nil, err
	}
	return common, commonNames, srcExt, srcExtNames, destExt, destExtNames, nil
}

// Rename moves oldPath to newPath, including across distinct parent
// directories (§8's directory move law permits moving a/x to b/y with a and
// b distinct).
func (r *Repo) Rename(oldPath, newPath vfs.Path) error {
	if len(oldPath) == 0 || len(newPath) == 0 {
		return vfs.ErrInvalidPath
	}
	if r.secrets.Mode < token.ModeWrite {
		return ErrPermissionDenied
	}

	writer := r.secrets.SigningKey.WriterID()

	if oldPath.Parent().String() == newPath.Parent().String() {
		rtx, err := r.store.BeginRead()
		if err != nil {
			return err
		}
		chain, names, err := r.chain(rtx, oldPath.Parent())
		rtx.Rollback()
		if err != nil {
			return err
		}
		defer closeChain(chain)

		wtx, err := r.store.BeginWrite()
		if err != nil {
			return err
		}
		if err := vfs.RenameEntry(wtx, chain, names, writer, oldPath.Base(), newPath.Base()); err != nil {
			wtx.Rollback()
			return err
		}
		if err := wtx.Commit(); err != nil {
			return err
		}
		r.Notify(EventBranchChanged)
		return nil
	}

	rtx, err := r.store.BeginRead()
	if err != nil {
		return err
	}
	common, commonNames, srcExt, srcExtNames, destExt, destExtNames, err := r.crossChains(rtx, oldPath.Parent(), newPath.Parent())
	rtx.Rollback()
	if err != nil {
		return err
	}
	defer closeChain(common)
	defer closeChain(srcExt[1:])
	defer closeChain(destExt[1:])

	srcChain := append(append([]*vfs.Directory{}, common...), srcExt[1:]...)
	srcNames := append(append([]string{}, commonNames...), srcExtNames[1:]...)
	destChain := append(append([]*vfs.Directory{}, common...), destExt[1:]...)
	destNames := append(append([]string{}, commonNames...), destExtNames[1:]...)

	wtx, err := r.store.BeginWrite()
	if err != nil {
		return err
	}
	if err := vfs.RenameAcrossChains(wtx, len(common)-1, srcChain, srcNames, destChain, destNames, writer, oldPath.Base(), newPath.Base()); err != nil {
		wtx.Rollback()
		return err
	}
	if err := wtx.Commit(); err != nil {
		return err
	}
	r.Notify(EventBranchChanged)
	return nil
}
