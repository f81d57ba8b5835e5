package vfs

import (
	"runtime"
	"sync"

	"github.com/cellstate/branchsync/block"
)

// Registry maps a blob's root id to the single File wrapping it that is
// currently open in this process, per §4.F's "open-file registry:
// blob_root_id -> weak handle." The map holds a strong reference to each
// tracked File, so a File still in the map is never collected and the
// finalizer set on it does not run; an entry leaves the map only when its
// File is closed.
type Registry struct {
	mu    sync.Mutex
	files map[block.ID]*File
}

// NewRegistry returns an empty open-file registry.
func NewRegistry() *Registry {
	return &Registry{files: make(map[block.ID]*File)}
}

// Lookup returns the already-open File for rootID, if any.
func (r *Registry) Lookup(rootID block.ID) (*File, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.files[rootID]
	return f, ok
}

// track registers f under its root id and arranges for it to evict itself
// once collected.
func (r *Registry) track(f *File) {
	r.mu.Lock()
	r.files[f.rootID] = f
	r.mu.Unlock()
	runtime.SetFinalizer(f, func(dead *File) {
		r.evict(dead.rootID, dead)
	})
}

func (r *Registry) evict(rootID block.ID, f *File) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.files[rootID]; ok && cur == f {
		delete(r.files, rootID)
	}
}

// forget removes rootID unconditionally, used when a File is explicitly
// Closed rather than left for the finalizer.
func (r *Registry) forget(rootID block.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.files, rootID)
}
