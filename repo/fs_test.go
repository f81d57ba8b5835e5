package repo

import (
	"testing"

	"github.com/cellstate/branchsync/token"
	"github.com/cellstate/branchsync/vfs"
)

func TestRootDirectoryStartsEmpty(t *testing.T) {
	r, err := Create(tempRepoPath(t), AccessParams{LocalWritePassword: []byte("hunter2")}, Config{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer r.Close()

	entries, err := r.ReadDir(vfs.Root)
	if err != nil {
		t.Fatalf("ReadDir(root): %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("fresh repository root has %d entries, want 0", len(entries))
	}
}

func TestMkdirThenReadDirSeesIt(t *testing.T) {
	r, err := Create(tempRepoPath(t), AccessParams{LocalWritePassword: []byte("hunter2")}, Config{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer r.Close()

	if err := r.Mkdir(vfs.Root.Child("docs")); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}

	entries, err := r.ReadDir(vfs.Root)
	if err != nil {
		t.Fatalf("ReadDir(root): %v", err)
	}
	if len(entries) != 1 || entries[0].DisplayName != "docs" {
		t.Fatalf("ReadDir(root) = %+v, want one entry named docs", entries)
	}
	if entries[0].Version.Kind != vfs.KindDirectory {
		t.Errorf("docs entry kind = %v, want KindDirectory", entries[0].Version.Kind)
	}
}

func TestMkdirNestedThenReadDirSeesNested(t *testing.T) {
	r, err := Create(tempRepoPath(t), AccessParams{LocalWritePassword: []byte("hunter2")}, Config{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer r.Close()

	if err := r.Mkdir(vfs.Root.Child("docs")); err != nil {
		t.Fatalf("Mkdir(docs): %v", err)
	}
	if err := r.Mkdir(vfs.Root.Child("docs").Child("notes")); err != nil {
		t.Fatalf("Mkdir(docs/notes): %v", err)
	}

	entries, err := r.ReadDir(vfs.Root.Child("docs"))
	if err != nil {
		t.Fatalf("ReadDir(docs): %v", err)
	}
	if len(entries) != 1 || entries[0].DisplayName != "notes" {
		t.Fatalf("ReadDir(docs) = %+v, want one entry named notes", entries)
	}
}

func TestRemoveThenReadDirNoLongerSeesIt(t *testing.T) {
	r, err := Create(tempRepoPath(t), AccessParams{LocalWritePassword: []byte("hunter2")}, Config{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer r.Close()

	if err := r.Mkdir(vfs.Root.Child("docs")); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := r.Remove(vfs.Root.Child("docs")); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	entries, err := r.ReadDir(vfs.Root)
	if err != nil {
		t.Fatalf("ReadDir(root): %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("ReadDir(root) after Remove = %+v, want empty", entries)
	}
}

func TestRenameMovesEntryWithinSameParent(t *testing.T) {
	r, err := Create(tempRepoPath(t), AccessParams{LocalWritePassword: []byte("hunter2")}, Config{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer r.Close()

	if err := r.Mkdir(vfs.Root.Child("docs")); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := r.Rename(vfs.Root.Child("docs"), vfs.Root.Child("papers")); err != nil {
		t.Fatalf("Rename: %v", err)
	}

	entries, err := r.ReadDir(vfs.Root)
	if err != nil {
		t.Fatalf("ReadDir(root): %v", err)
	}
	if len(entries) != 1 || entries[0].DisplayName != "papers" {
		t.Fatalf("ReadDir(root) after Rename = %+v, want one entry named papers", entries)
	}
}

func TestRenameMovesEntryAcrossParents(t *testing.T) {
	r, err := Create(tempRepoPath(t), AccessParams{LocalWritePassword: []byte("hunter2")}, Config{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer r.Close()

	if err := r.Mkdir(vfs.Root.Child("a")); err != nil {
		t.Fatalf("Mkdir(a): %v", err)
	}
	if err := r.Mkdir(vfs.Root.Child("b")); err != nil {
		t.Fatalf("Mkdir(b): %v", err)
	}

	if err := r.Rename(vfs.Root.Child("a"), vfs.Root.Child("b").Child("a")); err != nil {
		t.Fatalf("Rename across parents: %v", err)
	}

	moved, err := r.ReadDir(vfs.Root.Child("b"))
	if err != nil {
		t.Fatalf("ReadDir(b): %v", err)
	}
	if len(moved) != 1 || moved[0].DisplayName != "a" {
		t.Fatalf("ReadDir(b) after Rename = %+v, want one entry named a", moved)
	}
	entries, err := r.ReadDir(vfs.Root)
	if err != nil {
		t.Fatalf("ReadDir(root): %v", err)
	}
	if len(entries) != 1 || entries[0].DisplayName != "b" {
		t.Fatalf("ReadDir(root) after Rename = %+v, want one entry named b", entries)
	}
}

func TestMkdirRequiresWriteAccess(t *testing.T) {
	path := tempRepoPath(t)
	w, err := Create(path, AccessParams{LocalWritePassword: []byte("hunter2")}, Config{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	r, err := Open(path, AccessParams{LocalReadPassword: []byte("irrelevant")}, Config{})
	if err != nil {
		t.Fatalf("open read-only: %v", err)
	}
	defer r.Close()
	// Force the handle down to read access regardless of what local
	// password recovery produced, since this test only cares about the
	// permission check itself.
	r.secrets.Mode = token.ModeRead

	if err := r.Mkdir(vfs.Root.Child("nope")); err != ErrPermissionDenied {
		t.Fatalf("Mkdir on read-only handle = %v, want ErrPermissionDenied", err)
	}
}
