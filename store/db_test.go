package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func testStore(t *testing.T) (s *Store, close func()) {
	tmpdir, err := os.MkdirTemp("", "store_test_")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	s, err = Create(filepath.Join(tmpdir, "repo.db"), Options{})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	return s, func() {
		s.Close()
		os.RemoveAll(tmpdir)
	}
}

func TestCreateRejectsExisting(t *testing.T) {
	tmpdir, err := os.MkdirTemp("", "store_test_")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpdir)

	path := filepath.Join(tmpdir, "repo.db")
	s1, err := Create(path, Options{})
	if err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	s1.Close()

	if _, err := Create(path, Options{}); !errors.Is(err, os.ErrExist) {
		t.Errorf("expected os.ErrExist, got %v", err)
	}
}

func TestOpenRejectsMissing(t *testing.T) {
	tmpdir, err := os.MkdirTemp("", "store_test_")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpdir)

	if _, err := Open(filepath.Join(tmpdir, "missing.db"), Options{}); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected os.ErrNotExist, got %v", err)
	}
}

func TestWriteVisibleToSubsequentReadOnly(t *testing.T) {
	s, close := testStore(t)
	defer close()

	wtx, err := s.BeginWrite()
	if err != nil {
		t.Fatalf("begin write: %v", err)
	}
	if err := wtx.Bucket(BucketMetadataPublic).Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("put: %v", err)
	}

	// A read transaction started before commit must not see the write.
	rtxBefore, err := s.BeginRead()
	if err != nil {
		t.Fatalf("begin read: %v", err)
	}

	if err := wtx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if v := rtxBefore.Bucket(BucketMetadataPublic).Get([]byte("k")); v != nil {
		t.Error("read transaction begun before commit should not observe the write")
	}
	rtxBefore.Rollback()

	rtxAfter, err := s.BeginRead()
	if err != nil {
		t.Fatalf("begin read: %v", err)
	}
	defer rtxAfter.Rollback()

	if v := rtxAfter.Bucket(BucketMetadataPublic).Get([]byte("k")); string(v) != "v" {
		t.Errorf("read transaction begun after commit should observe the write, got %q", v)
	}
}

func TestCommitAndThenRunsBeforeNextWrite(t *testing.T) {
	s, close := testStore(t)
	defer close()

	order := []string{}

	wtx, err := s.BeginWrite()
	if err != nil {
		t.Fatalf("begin write: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close_(done)
		if err := wtx.CommitAndThen(func() {
			order = append(order, "notify")
		}); err != nil {
			t.Errorf("commit and then: %v", err)
		}
	}()
	<-done

	wtx2, err := s.BeginWrite()
	if err != nil {
		t.Fatalf("second begin write: %v", err)
	}
	order = append(order, "next-write")
	wtx2.Rollback()

	if len(order) != 2 || order[0] != "notify" || order[1] != "next-write" {
		t.Errorf("expected notify before next write, got %v", order)
	}
}

// close_ avoids shadowing the test helper's named return `close`.
func close_(ch chan struct{}) { close(ch) }

func TestSchemaRefusesDowngrade(t *testing.T) {
	tmpdir, err := os.MkdirTemp("", "store_test_")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpdir)

	path := filepath.Join(tmpdir, "repo.db")
	s, err := Create(path, Options{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	wtx, err := s.BeginWrite()
	if err != nil {
		t.Fatalf("begin write: %v", err)
	}
	if err := writeSchemaVersion(wtx.Bucket(BucketMetadataPublic), schemaVersion+1); err != nil {
		t.Fatalf("write schema version: %v", err)
	}
	if err := wtx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	s.Close()

	if _, err := Open(path, Options{}); err == nil {
		t.Error("expected downgrade to be rejected")
	}
}
