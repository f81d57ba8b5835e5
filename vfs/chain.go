package vfs

import (
	"github.com/cellstate/branchsync/block"
	"github.com/cellstate/branchsync/crypto"
	"github.com/cellstate/branchsync/store"
)

// Mutate applies the 7-step mutation protocol of §4.F across chain, an
// ancestor path from the repository root down to the directory being
// changed (chain[len(chain)-1]). names holds the path component each
// directory in chain is known as within its parent (names[i] is chain[i]'s
// name inside chain[i-1]; names[0] is unused for the root).
//
// The steps: the leaf directory's content was already loaded under a read
// transaction by the caller; apply mutates it in memory; Mutate then
// persists the leaf into tx, and walks back up bumping and persisting every
// ancestor's entry for its child, committing the whole chain atomically.
func Mutate(tx *store.WriteTx, chain []*Directory, names []string, writer crypto.Hash, apply func(leaf *Directory) error) error {
	if len(chain) == 0 {
		return ErrNotFound
	}
	leaf := chain[len(chain)-1]

	if err := apply(leaf); err != nil {
		return err
	}
	if err := leaf.persist(tx); err != nil {
		return err
	}
	_, err := bumpToward(tx, chain, names, -1, writer)
	return err
}

// bumpToward persists every directory in chain strictly between its leaf
// and chain[floor] (exclusive on both ends), each recording its immediate
// child's freshly persisted root id under the name it's known by. It
// returns the root id the caller should record for chain[floor]'s own
// entry pointing at chain[floor+1] — either an intermediate ancestor's
// just-persisted root id, or the leaf's own root id when the leaf is
// chain[floor]'s direct child. floor of -1 walks all the way to the root,
// matching Mutate's single-chain case.
func bumpToward(tx *store.WriteTx, chain []*Directory, names []string, floor int, writer crypto.Hash) (block.ID, error) {
	leaf := chain[len(chain)-1]
	childRootID := leaf.Blob.RootID()
	for i := len(chain) - 2; i > floor; i-- {
		parent := chain[i]
		parent.bumpChildEntry(names[i+1], writer, childRootID, KindDirectory)
		if err := parent.persist(tx); err != nil {
			return block.ID{}, err
		}
		childRootID = parent.Blob.RootID()
	}
	return childRootID, nil
}

// CreateEntry runs Insert through Mutate for a brand-new file or directory
// entry named leafName inside chain's leaf directory.
func CreateEntry(tx *store.WriteTx, chain []*Directory, names []string, writer crypto.Hash, leafName string, kind Kind, rootID block.ID) error {
	return Mutate(tx, chain, names, writer, func(leaf *Directory) error {
		if len(leaf.Lookup(leafName)) > 0 {
			return ErrEntryExists
		}
		leaf.Insert(leafName, kind, &rootID)
		return nil
	})
}

// RemoveEntry tombstones leafName inside chain's leaf directory.
func RemoveEntry(tx *store.WriteTx, chain []*Directory, names []string, writer crypto.Hash, leafName string) error {
	return Mutate(tx, chain, names, writer, func(leaf *Directory) error {
		if len(leaf.Lookup(leafName)) == 0 {
			return ErrNotFound
		}
		leaf.Remove(leafName)
		return nil
	})
}

// RenameEntry moves oldName to newName inside chain's leaf directory.
func RenameEntry(tx *store.WriteTx, chain []*Directory, names []string, writer crypto.Hash, oldName, newName string) error {
	return Mutate(tx, chain, names, writer, func(leaf *Directory) error {
		_, err := leaf.Rename(oldName, newName)
		return err
	})
}

// RenameAcrossChains moves oldName from srcChain's leaf directory into
// destChain's leaf directory as newName, supporting a move between two
// different directories (§8's directory move law, a/x -> b/y with a and b
// distinct). srcChain and destChain share an identical prefix of already
// loaded ancestor directories — up to and including sharedIndex, the
// lowest directory both oldPath.Parent() and newPath.Parent() descend
// from — diverging into independent suffixes below it; both chains must
// have been built over that same shared prefix of *Directory pointers so
// the two branches' mutations land in one in-memory copy of each shared
// ancestor rather than clobbering each other.
//
// Each suffix is bumped up to (but not including) the shared ancestor
// first. The shared ancestor then has both branches' child entries updated
// together and is persisted once, after which the remaining prefix above
// it is bumped exactly like Mutate's single-chain walk.
func RenameAcrossChains(tx *store.WriteTx, sharedIndex int, srcChain []*Directory, srcNames []string, destChain []*Directory, destNames []string, writer crypto.Hash, oldName, newName string) error {
	if sharedIndex < 0 || sharedIndex >= len(srcChain) || sharedIndex >= len(destChain) {
		return ErrInvalidPath
	}

	srcLeaf := srcChain[len(srcChain)-1]
	destLeaf := destChain[len(destChain)-1]

	entries := srcLeaf.Lookup(oldName)
	if len(entries) == 0 {
		return ErrNotFound
	}
	if len(destLeaf.Lookup(newName)) > 0 {
		return ErrEntryExists
	}
	moved := entries[0]

	var movedRoot *block.ID
	if moved.BlobRootID != nil {
		id := *moved.BlobRootID
		movedRoot = &id
	}
	srcLeaf.Remove(oldName)
	destLeaf.Insert(newName, moved.Kind, movedRoot)

	if err := srcLeaf.persist(tx); err != nil {
		return err
	}
	if err := destLeaf.persist(tx); err != nil {
		return err
	}

	shared := srcChain[sharedIndex]
	srcIsShared := len(srcChain)-1 == sharedIndex
	destIsShared := len(destChain)-1 == sharedIndex

	if !srcIsShared {
		id, err := bumpToward(tx, srcChain, srcNames, sharedIndex, writer)
		if err != nil {
			return err
		}
		shared.bumpChildEntry(srcNames[sharedIndex+1], writer, id, KindDirectory)
	}
	if !destIsShared {
		id, err := bumpToward(tx, destChain, destNames, sharedIndex, writer)
		if err != nil {
			return err
		}
		shared.bumpChildEntry(destNames[sharedIndex+1], writer, id, KindDirectory)
	}
	if !srcIsShared || !destIsShared {
		if err := shared.persist(tx); err != nil {
			return err
		}
	}

	_, err := bumpToward(tx, srcChain[:sharedIndex+1], srcNames[:sharedIndex+1], -1, writer)
	return err
}

// LoadChain opens and loads every directory along path from root,
// returning the chain and each component's name within its parent, for use
// with Mutate. root is the already-open root directory; open resolves a
// child directory's blob root id into an open, loaded Directory (a
// repository binds this to its own store transaction and access secrets).
func LoadChain(tx store.Tx, root *Directory, path Path, open func(id block.ID) (*Directory, error)) ([]*Directory, []string, error) {
	if err := path.Validate(); err != nil {
		return nil, nil, err
	}
	chain := []*Directory{root}
	names := []string{""}
	cur := root
	for _, name := range path {
		if err := cur.Load(tx); err != nil {
			return nil, nil, err
		}
		entries := cur.Lookup(name)
		if len(entries) == 0 {
			return nil, nil, ErrNotFound
		}
		entry := entries[0]
		if entry.Kind != KindDirectory {
			return nil, nil, ErrNotADirectory
		}
		if entry.BlobRootID == nil {
			return nil, nil, ErrNotFound
		}
		next, err := open(*entry.BlobRootID)
		if err != nil {
			return nil, nil, err
		}
		if err := next.Load(tx); err != nil {
			return nil, nil, err
		}
		chain = append(chain, next)
		names = append(names, name)
		cur = next
	}
	return chain, names, nil
}
