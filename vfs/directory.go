package vfs

import (
	"sort"

	"github.com/cellstate/branchsync/block"
	"github.com/cellstate/branchsync/blob"
	"github.com/cellstate/branchsync/crypto"
	"github.com/cellstate/branchsync/index"
	"github.com/cellstate/branchsync/store"
	"github.com/fxamacker/cbor/v2"
)

// Directory is an open directory blob: a name -> list<entry_version>
// payload, per §4.F. It wraps a blob.Handle and keeps the decoded payload
// in memory between Load and persist.
type Directory struct {
	Blob    *blob.Handle
	writer  crypto.Hash
	content map[string][]EntryVersion
	loaded  bool
}

// OpenDirectory wraps an already-open blob handle as a directory view.
func OpenDirectory(blobHandle *blob.Handle, writer crypto.Hash) *Directory {
	return &Directory{Blob: blobHandle, writer: writer}
}

// CreateDirectory starts a brand-new, empty directory blob.
func CreateDirectory(locks *blob.Registry, writer crypto.Hash, signKey crypto.SigningKey, readKey crypto.Key) (*Directory, error) {
	h, err := blob.Create(locks, writer, signKey, readKey)
	if err != nil {
		return nil, err
	}
	d := &Directory{Blob: h, writer: writer, content: make(map[string][]EntryVersion), loaded: true}
	return d, nil
}

// Load reads and decodes the directory blob's current payload (§4.F step
// 1: "load current content under a read transaction").
func (d *Directory) Load(tx store.Tx) error {
	if d.loaded {
		return nil
	}
	if _, err := d.Blob.Seek(blob.SeekStart, 0); err != nil {
		return err
	}
	raw := make([]byte, d.Blob.Length())
	if len(raw) > 0 {
		if _, err := d.Blob.Read(tx, raw); err != nil {
			return err
		}
	}
	content := make(map[string][]EntryVersion)
	if len(raw) > 0 {
		if err := cbor.Unmarshal(raw, &content); err != nil {
			return crypto.ErrCorruptOrWrongKey
		}
	}
	d.content = content
	d.loaded = true
	return nil
}

// Entries returns the decoded name -> entry_version list payload. Load
// must have been called first.
func (d *Directory) Entries() map[string][]EntryVersion {
	return d.content
}

// Lookup returns the non-tombstone entries at name, across all writers,
// per §4.F's "joint view."
func (d *Directory) Lookup(name string) []EntryVersion {
	var out []EntryVersion
	for _, e := range d.content[name] {
		if !e.Tombstone {
			out = append(out, e)
		}
	}
	return out
}

// persist serialises the directory's content back into its blob (§4.F
// steps 3/4: "begin a write transaction" / "persist the directory blob").
func (d *Directory) persist(tx *store.WriteTx) error {
	raw, err := cbor.Marshal(d.content)
	if err != nil {
		panic(err) // content is a plain map of plain structs; cannot fail
	}
	if err := d.Blob.Truncate(tx, 0); err != nil {
		return err
	}
	if _, err := d.Blob.Seek(blob.SeekStart, 0); err != nil {
		return err
	}
	if _, err := d.Blob.Write(tx, raw); err != nil {
		return err
	}
	return d.Blob.Flush(tx)
}

// putOwn replaces this writer's own entry_version for name with ev,
// appending instead of replacing if this writer has no existing entry for
// that name yet (§4.F's conflict policy retains every writer's version;
// only the writer's own prior claim for the same name is superseded).
func (d *Directory) putOwn(name string, ev EntryVersion) {
	list := d.content[name]
	for i, e := range list {
		if e.WriterID == d.writer {
			list[i] = ev
			d.content[name] = list
			return
		}
	}
	d.content[name] = append(list, ev)
}

// Insert adds or replaces this writer's entry for name, per §4.F steps
// 2/5: apply the mutation in memory and bump this entry's VV.
func (d *Directory) Insert(name string, kind Kind, rootID *block.ID) EntryVersion {
	existing := d.ownEntry(name)
	ev := existing.bump(d.writer)
	ev.WriterID = d.writer
	ev.Kind = kind
	ev.BlobRootID = rootID
	ev.Tombstone = false
	d.putOwn(name, ev)
	return ev
}

// Remove writes a tombstone for this writer's entry at name, per §4.F's
// rename/move note ("write tombstone for old entry").
func (d *Directory) Remove(name string) EntryVersion {
	existing := d.ownEntry(name)
	ev := existing.bump(d.writer)
	ev.WriterID = d.writer
	ev.Tombstone = true
	ev.BlobRootID = nil
	d.putOwn(name, ev)
	return ev
}

// Rename moves entry from oldName to newName atomically within one
// directory: inserts the new entry and tombstones the old one, merging
// both entries' VVs from the union of source and destination (§4.F
// "rename/move").
func (d *Directory) Rename(oldName, newName string) (EntryVersion, error) {
	srcList := d.Lookup(oldName)
	if len(srcList) == 0 {
		return EntryVersion{}, ErrNotFound
	}
	var mergedVV = index.VV{}
	for _, e := range srcList {
		mergedVV = index.Merge(mergedVV, e.VV)
	}
	for _, e := range d.Lookup(newName) {
		mergedVV = index.Merge(mergedVV, e.VV)
	}

	src := srcList[0]
	moved := EntryVersion{
		WriterID:   d.writer,
		Kind:       src.Kind,
		BlobRootID: src.BlobRootID,
		VV:         mergedVV.Bump(d.writer),
	}
	d.putOwn(newName, moved)

	tomb := d.ownEntry(oldName)
	tomb.WriterID = d.writer
	tomb.Tombstone = true
	tomb.BlobRootID = nil
	tomb.VV = mergedVV.Bump(d.writer)
	d.putOwn(oldName, tomb)

	return moved, nil
}

func (d *Directory) ownEntry(name string) EntryVersion {
	for _, e := range d.content[name] {
		if e.WriterID == d.writer {
			return e
		}
	}
	return EntryVersion{VV: index.VV{}}
}

// bumpChildEntry bumps this directory's entry for childName belonging to
// writer, leaving its BlobRootID and Kind untouched (§4.F step 6:
// "recursively bump parent directory entries").
func (d *Directory) bumpChildEntry(childName string, writer crypto.Hash, fallbackRootID block.ID, fallbackKind Kind) {
	list := d.content[childName]
	for i, e := range list {
		if e.WriterID == writer && !e.Tombstone {
			list[i] = e.bump(writer)
			d.content[childName] = list
			return
		}
	}
	ev := EntryVersion{WriterID: writer, Kind: fallbackKind, BlobRootID: &fallbackRootID, VV: index.VV{}}
	d.putOwn(childName, ev.bump(writer))
}

// sortedNames returns the directory's names in a stable order, useful for
// deterministic listing.
func (d *Directory) sortedNames() []string {
	names := make([]string, 0, len(d.content))
	for n := range d.content {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
