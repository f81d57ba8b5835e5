package vfs

import (
	"github.com/cellstate/branchsync/block"
	"github.com/cellstate/branchsync/blob"
	"github.com/cellstate/branchsync/crypto"
	"github.com/cellstate/branchsync/store"
)

// File is the vfs-level open-file view: a blob.Handle plus the registry
// entry tracking it, per §4.F. Multiple Opens of the same blob_root_id
// within a process share the same File (and so the same cached current
// block and length cell blob.Handle already shares across its own
// handles); distinct processes/replicas never share one.
type File struct {
	rootID   block.ID
	handle   *blob.Handle
	registry *Registry
}

// OpenFile attaches to rootID's blob, returning the process-wide shared
// File if one is already open, otherwise opening a fresh blob.Handle and
// registering it.
func OpenFile(tx store.Tx, reg *Registry, locks *blob.Registry, writer crypto.Hash, signKey crypto.SigningKey, readKey crypto.Key, rootID block.ID) (*File, error) {
	if f, ok := reg.Lookup(rootID); ok {
		return f, nil
	}
	h, err := blob.Open(tx, locks, writer, signKey, readKey, rootID)
	if err != nil {
		return nil, err
	}
	f := &File{rootID: rootID, handle: h, registry: reg}
	reg.track(f)
	return f, nil
}

// CreateFile starts a brand-new file blob and registers it.
func CreateFile(reg *Registry, locks *blob.Registry, writer crypto.Hash, signKey crypto.SigningKey, readKey crypto.Key) (*File, error) {
	h, err := blob.Create(locks, writer, signKey, readKey)
	if err != nil {
		return nil, err
	}
	f := &File{rootID: h.RootID(), handle: h, registry: reg}
	reg.track(f)
	return f, nil
}

// RootID returns the file's blob root id, the value stored in its
// directory entry.
func (f *File) RootID() block.ID { return f.rootID }

// Length returns the file's current byte length.
func (f *File) Length() uint64 { return f.handle.Length() }

// Read reads into p from the file's current position.
func (f *File) Read(tx store.Tx, p []byte) (int, error) { return f.handle.Read(tx, p) }

// Write writes p at the file's current position, extending Length if
// needed.
func (f *File) Write(tx *store.WriteTx, p []byte) (int, error) { return f.handle.Write(tx, p) }

// Seek repositions the file's cursor.
func (f *File) Seek(whence blob.SeekWhence, delta int64) (int64, error) {
	return f.handle.Seek(whence, delta)
}

// Truncate resizes the file.
func (f *File) Truncate(tx store.Tx, newLen uint64) error { return f.handle.Truncate(tx, newLen) }

// Flush persists any pending writes.
func (f *File) Flush(tx *store.WriteTx) error { return f.handle.Flush(tx) }

// Close releases the file's lifecycle lock and removes it from the
// registry immediately, rather than waiting on the garbage collector.
func (f *File) Close() {
	f.handle.Close()
	f.registry.forget(f.rootID)
}
