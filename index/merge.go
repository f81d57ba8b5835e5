package index

import (
	"github.com/cellstate/branchsync/crypto"
	"github.com/cellstate/branchsync/store"
)

// tipsByWriter returns, for every writer with at least one root, its tip
// (highest-VV root, per LoadRoot's tie-break).
func tipsByWriter(tx store.Tx) (map[crypto.Hash]RootNode, error) {
	all, err := LoadAllRoots(tx)
	if err != nil {
		return nil, err
	}
	tips := make(map[crypto.Hash]RootNode)
	for _, r := range all {
		cur, ok := tips[r.WriterID]
		if !ok || isNewerRoot(r, cur) {
			tips[r.WriterID] = r
		}
	}
	return tips, nil
}

// EffectiveTips returns the set of tip roots whose VV is not dominated by
// any other writer's tip — §4.D's "effective branch set".
func EffectiveTips(tx store.Tx) ([]RootNode, error) {
	tips, err := tipsByWriter(tx)
	if err != nil {
		return nil, err
	}

	var out []RootNode
	for w, tip := range tips {
		dominated := false
		for ow, otherTip := range tips {
			if ow == w {
				continue
			}
			if Compare(otherTip.VV, tip.VV) == Greater {
				dominated = true
				break
			}
		}
		if !dominated {
			out = append(out, tip)
		}
	}
	return out, nil
}

// Prunable reports the non-tip roots of writer w that may be deleted per
// §4.D's pruning rule: some other writer's tip VV dominates w's VV at w,
// and the root in question is not the latest.
func Prunable(tx store.Tx) ([]RootNode, error) {
	all, err := LoadAllRoots(tx)
	if err != nil {
		return nil, err
	}
	tips, err := tipsByWriter(tx)
	if err != nil {
		return nil, err
	}

	var out []RootNode
	for _, r := range all {
		tip := tips[r.WriterID]
		if r.seq == tip.seq {
			continue // never prune the latest root
		}
		for ow, otherTip := range tips {
			if ow == r.WriterID {
				continue
			}
			if otherTip.VV[r.WriterID] >= r.VV[r.WriterID] {
				out = append(out, r)
				break
			}
		}
	}
	return out, nil
}

// deleteRoot removes a specific (writer, seq) root row. Callers are expected to
// only delete rows Prunable returned.
func deleteRoot(tx *store.WriteTx, root RootNode) error {
	return tx.Bucket(store.BucketSnapshotRootNodes).Delete(rootKey(root.WriterID, root.seq))
}

// Prune deletes every currently prunable root node.
func Prune(tx *store.WriteTx) (int, error) {
	prunable, err := Prunable(tx)
	if err != nil {
		return 0, err
	}
	for _, r := range prunable {
		if err := deleteRoot(tx, r); err != nil {
			return 0, err
		}
	}
	return len(prunable), nil
}
