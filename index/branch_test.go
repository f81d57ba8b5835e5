package index

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cellstate/branchsync/block"
	"github.com/cellstate/branchsync/crypto"
	"github.com/cellstate/branchsync/store"
)

func testID(seed string) block.ID {
	h := crypto.SumHash([]byte(seed))
	var id block.ID
	copy(id[:], h[:])
	return id
}

func testStore(t *testing.T) (s *store.Store, close func()) {
	tmpdir, err := os.MkdirTemp("", "index_test_")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	s, err = store.Create(filepath.Join(tmpdir, "repo.db"), store.Options{})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	return s, func() {
		s.Close()
		os.RemoveAll(tmpdir)
	}
}

func TestInsertLeafRoundTrip(t *testing.T) {
	s, close := testStore(t)
	defer close()

	key, err := crypto.GenerateSigningKey()
	if err != nil {
		t.Fatalf("generate signing key: %v", err)
	}
	writer := key.WriterID()
	locator := crypto.SumHash([]byte("locator-1"))
	id := testID("block-1")

	wtx, err := s.BeginWrite()
	if err != nil {
		t.Fatalf("begin write: %v", err)
	}
	root, err := InsertLeaf(wtx, key, crypto.Hash{}, locator, id, Present)
	if err != nil {
		t.Fatalf("insert leaf: %v", err)
	}
	if err := wtx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if err := Verify(root); err != nil {
		t.Fatalf("verify: %v", err)
	}

	rtx, err := s.BeginRead()
	if err != nil {
		t.Fatalf("begin read: %v", err)
	}
	defer rtx.Rollback()

	gotID, presence, err := Lookup(rtx, writer, locator)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if gotID != id {
		t.Errorf("lookup block id = %v, want %v", gotID, id)
	}
	if presence != Present {
		t.Errorf("lookup presence = %v, want Present", presence)
	}
}

func TestInsertLeafRequiresPrivateKey(t *testing.T) {
	s, close := testStore(t)
	defer close()

	full, err := crypto.GenerateSigningKey()
	if err != nil {
		t.Fatalf("generate signing key: %v", err)
	}
	readOnly := crypto.SigningKey{Public: full.Public}

	wtx, err := s.BeginWrite()
	if err != nil {
		t.Fatalf("begin write: %v", err)
	}
	defer wtx.Rollback()

	_, err = InsertLeaf(wtx, readOnly, crypto.Hash{}, crypto.SumHash([]byte("x")), testID("x"), Present)
	if err != ErrPermissionDenied {
		t.Errorf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestInsertLeafRejectsStaleBaseline(t *testing.T) {
	s, close := testStore(t)
	defer close()

	key, err := crypto.GenerateSigningKey()
	if err != nil {
		t.Fatalf("generate signing key: %v", err)
	}

	wtx, err := s.BeginWrite()
	if err != nil {
		t.Fatalf("begin write: %v", err)
	}
	if _, err := InsertLeaf(wtx, key, crypto.Hash{}, crypto.SumHash([]byte("a")), testID("a"), Present); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := wtx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	wtx2, err := s.BeginWrite()
	if err != nil {
		t.Fatalf("begin write 2: %v", err)
	}
	defer wtx2.Rollback()

	_, err = InsertLeaf(wtx2, key, crypto.Hash{}, crypto.SumHash([]byte("b")), testID("b"), Present)
	if err != ErrConcurrentWriteConflict {
		t.Errorf("expected ErrConcurrentWriteConflict, got %v", err)
	}
}

func TestInsertLeafUpdatesExistingLocator(t *testing.T) {
	s, close := testStore(t)
	defer close()

	key, err := crypto.GenerateSigningKey()
	if err != nil {
		t.Fatalf("generate signing key: %v", err)
	}
	writer := key.WriterID()
	locator := crypto.SumHash([]byte("locator-1"))
	id1 := testID("v1")
	id2 := testID("v2")

	wtx, err := s.BeginWrite()
	if err != nil {
		t.Fatalf("begin write: %v", err)
	}
	root1, err := InsertLeaf(wtx, key, crypto.Hash{}, locator, id1, Present)
	if err != nil {
		t.Fatalf("insert 1: %v", err)
	}
	if err := wtx.Commit(); err != nil {
		t.Fatalf("commit 1: %v", err)
	}

	wtx2, err := s.BeginWrite()
	if err != nil {
		t.Fatalf("begin write 2: %v", err)
	}
	root2, err := InsertLeaf(wtx2, key, root1.HashOfRootInner, locator, id2, Present)
	if err != nil {
		t.Fatalf("insert 2: %v", err)
	}
	if err := wtx2.Commit(); err != nil {
		t.Fatalf("commit 2: %v", err)
	}

	if root2.VV[writer] != root1.VV[writer]+1 {
		t.Errorf("expected VV to bump by one, got %d -> %d", root1.VV[writer], root2.VV[writer])
	}

	rtx, err := s.BeginRead()
	if err != nil {
		t.Fatalf("begin read: %v", err)
	}
	defer rtx.Rollback()

	gotID, _, err := Lookup(rtx, writer, locator)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if gotID != id2 {
		t.Errorf("lookup should return the latest block id, got %v want %v", gotID, id2)
	}
}

func TestLookupMissingLocatorNotFound(t *testing.T) {
	s, close := testStore(t)
	defer close()

	key, err := crypto.GenerateSigningKey()
	if err != nil {
		t.Fatalf("generate signing key: %v", err)
	}
	writer := key.WriterID()

	wtx, err := s.BeginWrite()
	if err != nil {
		t.Fatalf("begin write: %v", err)
	}
	if _, err := InsertLeaf(wtx, key, crypto.Hash{}, crypto.SumHash([]byte("a")), testID("a"), Present); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := wtx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	rtx, err := s.BeginRead()
	if err != nil {
		t.Fatalf("begin read: %v", err)
	}
	defer rtx.Rollback()

	if _, _, err := Lookup(rtx, writer, crypto.SumHash([]byte("never-inserted"))); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
