package vfs

import (
	"bytes"
	"testing"

	"github.com/cellstate/branchsync/blob"
)

func TestOpenFileSharesHandleWithinProcess(t *testing.T) {
	s, close := testStore(t)
	defer close()

	signKey := mustSigningKey(t)
	readKey := mustReadKey(t)
	locks := blob.NewRegistry()
	reg := NewRegistry()

	f, err := CreateFile(reg, locks, signKey.WriterID(), signKey, readKey)
	if err != nil {
		t.Fatalf("create file: %v", err)
	}

	wtx, err := s.BeginWrite()
	if err != nil {
		t.Fatalf("begin write: %v", err)
	}
	if _, err := f.Write(wtx, []byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := f.Flush(wtx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := wtx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	rtx, err := s.BeginRead()
	if err != nil {
		t.Fatalf("begin read: %v", err)
	}
	defer rtx.Rollback()

	f2, err := OpenFile(rtx, reg, locks, signKey.WriterID(), signKey, readKey, f.RootID())
	if err != nil {
		t.Fatalf("open file: %v", err)
	}
	if f2 != f {
		t.Fatal("OpenFile returned a distinct File for an already-open blob")
	}

	if _, err := f2.Seek(blob.SeekStart, 0); err != nil {
		t.Fatalf("seek: %v", err)
	}
	got := make([]byte, f2.Length())
	if _, err := f2.Read(rtx, got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, []byte("hello")) {
		t.Errorf("content = %q, want %q", got, "hello")
	}
}

func TestCloseForgetsFileFromRegistry(t *testing.T) {
	locks := blob.NewRegistry()
	reg := NewRegistry()
	signKey := mustSigningKey(t)
	readKey := mustReadKey(t)

	f, err := CreateFile(reg, locks, signKey.WriterID(), signKey, readKey)
	if err != nil {
		t.Fatalf("create file: %v", err)
	}
	rootID := f.RootID()

	if _, ok := reg.Lookup(rootID); !ok {
		t.Fatal("file not tracked after create")
	}
	f.Close()
	if _, ok := reg.Lookup(rootID); ok {
		t.Fatal("file still tracked after close")
	}
}
