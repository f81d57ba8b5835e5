package index

import (
	"testing"

	"github.com/cellstate/branchsync/crypto"
)

func TestEffectiveTipsExcludesDominatedWriter(t *testing.T) {
	s, close := testStore(t)
	defer close()

	a, err := crypto.GenerateSigningKey()
	if err != nil {
		t.Fatalf("generate key a: %v", err)
	}
	b, err := crypto.GenerateSigningKey()
	if err != nil {
		t.Fatalf("generate key b: %v", err)
	}

	wtx, err := s.BeginWrite()
	if err != nil {
		t.Fatalf("begin write: %v", err)
	}
	rootA, err := InsertLeaf(wtx, a, crypto.Hash{}, crypto.SumHash([]byte("a-leaf")), testID("a-block"), Present)
	if err != nil {
		t.Fatalf("insert a: %v", err)
	}
	if _, err := InsertLeaf(wtx, b, crypto.Hash{}, crypto.SumHash([]byte("b-leaf")), testID("b-block"), Present); err != nil {
		t.Fatalf("insert b: %v", err)
	}
	if err := wtx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	// Make writer b's branch dominate writer a's by folding a's VV entry
	// into b's tip as well (as a merge from a real remote sync would).
	wtx2, err := s.BeginWrite()
	if err != nil {
		t.Fatalf("begin write 2: %v", err)
	}
	bRoot, err := LoadRoot(wtx2, b.WriterID(), FilterAny, b.WriterID())
	if err != nil {
		t.Fatalf("load b tip: %v", err)
	}
	mergedVV := bRoot.VV.Merge(rootA.VV).Bump(b.WriterID())
	sig := Sign(b, bRoot.HashOfRootInner, mergedVV)
	merged := RootNode{
		WriterID:        b.WriterID(),
		PublicKey:       b.Public,
		VV:              mergedVV,
		HashOfRootInner: bRoot.HashOfRootInner,
		Signature:       sig,
		Summary:         bRoot.Summary,
		Published:       true,
	}
	seq, err := nextSeq(wtx2, b.WriterID())
	if err != nil {
		t.Fatalf("next seq: %v", err)
	}
	if err := putRoot(wtx2, merged, seq); err != nil {
		t.Fatalf("put merged root: %v", err)
	}
	if err := wtx2.Commit(); err != nil {
		t.Fatalf("commit 2: %v", err)
	}

	rtx, err := s.BeginRead()
	if err != nil {
		t.Fatalf("begin read: %v", err)
	}
	defer rtx.Rollback()

	tips, err := EffectiveTips(rtx)
	if err != nil {
		t.Fatalf("effective tips: %v", err)
	}
	if len(tips) != 1 {
		t.Fatalf("expected exactly one effective tip, got %d", len(tips))
	}
	if tips[0].WriterID != b.WriterID() {
		t.Errorf("expected writer b to be the sole effective tip, got %x", tips[0].WriterID)
	}
}

// TestPruneRemovesDominatedNonTipRoots checks §4.D's pruning rule: a
// non-tip root from writer w is only eligible once some other writer's tip
// VV dominates w's VV at w. A writer's own older roots are never pruned on
// their own, since merging never discards sequence history, only the
// effective-tip computation, for a writer that is itself still the sole
// tip of its own entry.
func TestPruneRemovesDominatedNonTipRoots(t *testing.T) {
	s, close := testStore(t)
	defer close()

	a, err := crypto.GenerateSigningKey()
	if err != nil {
		t.Fatalf("generate key a: %v", err)
	}
	b, err := crypto.GenerateSigningKey()
	if err != nil {
		t.Fatalf("generate key b: %v", err)
	}

	wtx, err := s.BeginWrite()
	if err != nil {
		t.Fatalf("begin write: %v", err)
	}
	rootA1, err := InsertLeaf(wtx, a, crypto.Hash{}, crypto.SumHash([]byte("a-l1")), testID("a-b1"), Present)
	if err != nil {
		t.Fatalf("insert a 1: %v", err)
	}
	if _, err := InsertLeaf(wtx, b, crypto.Hash{}, crypto.SumHash([]byte("b-l1")), testID("b-b1"), Present); err != nil {
		t.Fatalf("insert b 1: %v", err)
	}
	if err := wtx.Commit(); err != nil {
		t.Fatalf("commit 1: %v", err)
	}

	// Writer a extends its own branch, leaving rootA1 as a non-tip root of
	// writer a that nothing yet dominates.
	wtx2, err := s.BeginWrite()
	if err != nil {
		t.Fatalf("begin write 2: %v", err)
	}
	if _, err := InsertLeaf(wtx2, a, rootA1.HashOfRootInner, crypto.SumHash([]byte("a-l2")), testID("a-b2"), Present); err != nil {
		t.Fatalf("insert a 2: %v", err)
	}
	if err := wtx2.Commit(); err != nil {
		t.Fatalf("commit 2: %v", err)
	}

	wtx3, err := s.BeginWrite()
	if err != nil {
		t.Fatalf("begin write 3: %v", err)
	}
	if n, err := Prune(wtx3); err != nil {
		t.Fatalf("prune (nothing dominated yet): %v", err)
	} else if n != 0 {
		t.Errorf("expected nothing prunable before any cross-writer domination, got %d", n)
	}
	wtx3.Rollback()

	// Writer b's tip now folds in writer a's full VV, dominating it, so
	// writer a's superseded root becomes prunable.
	wtx4, err := s.BeginWrite()
	if err != nil {
		t.Fatalf("begin write 4: %v", err)
	}
	bRoot, err := LoadRoot(wtx4, b.WriterID(), FilterAny, b.WriterID())
	if err != nil {
		t.Fatalf("load b tip: %v", err)
	}
	aTip, err := LoadRoot(wtx4, a.WriterID(), FilterAny, a.WriterID())
	if err != nil {
		t.Fatalf("load a tip: %v", err)
	}
	mergedVV := bRoot.VV.Merge(aTip.VV).Bump(b.WriterID())
	sig := Sign(b, bRoot.HashOfRootInner, mergedVV)
	merged := RootNode{
		WriterID:        b.WriterID(),
		PublicKey:       b.Public,
		VV:              mergedVV,
		HashOfRootInner: bRoot.HashOfRootInner,
		Signature:       sig,
		Summary:         bRoot.Summary,
		Published:       true,
	}
	seq, err := nextSeq(wtx4, b.WriterID())
	if err != nil {
		t.Fatalf("next seq: %v", err)
	}
	if err := putRoot(wtx4, merged, seq); err != nil {
		t.Fatalf("put merged root: %v", err)
	}
	if err := wtx4.Commit(); err != nil {
		t.Fatalf("commit 4: %v", err)
	}

	wtx5, err := s.BeginWrite()
	if err != nil {
		t.Fatalf("begin write 5: %v", err)
	}
	n, err := Prune(wtx5)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Errorf("expected to prune writer a's superseded non-tip root, got %d", n)
	}
	if err := wtx5.Commit(); err != nil {
		t.Fatalf("commit 5: %v", err)
	}

	rtx, err := s.BeginRead()
	if err != nil {
		t.Fatalf("begin read: %v", err)
	}
	defer rtx.Rollback()

	remaining, err := Prunable(rtx)
	if err != nil {
		t.Fatalf("prunable: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("expected nothing left prunable, got %d", len(remaining))
	}
}
