package index

import (
	"testing"

	"github.com/cellstate/branchsync/crypto"
)

func TestCompare(t *testing.T) {
	a := crypto.Hash{}
	b := crypto.Hash{1}

	cases := []struct {
		name string
		x, y VV
		want Ordering
	}{
		{"equal empty", VV{}, VV{}, Equal},
		{"equal explicit zero", VV{a: 0}, VV{}, Equal},
		{"less", VV{a: 1}, VV{a: 2}, Less},
		{"greater", VV{a: 2}, VV{a: 1}, Greater},
		{"concurrent", VV{a: 1, b: 0}, VV{a: 0, b: 1}, Concurrent},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := Compare(c.x, c.y); got != c.want {
				t.Errorf("Compare(%v, %v) = %v, want %v", c.x, c.y, got, c.want)
			}
		})
	}
}

func TestMergeIsJoin(t *testing.T) {
	a := crypto.Hash{1}
	b := crypto.Hash{2}

	merged := Merge(VV{a: 3, b: 1}, VV{a: 1, b: 5})
	if merged[a] != 3 || merged[b] != 5 {
		t.Errorf("unexpected merge result: %v", merged)
	}
	if !Dominates(merged, VV{a: 3, b: 1}) || !Dominates(merged, VV{a: 1, b: 5}) {
		t.Error("merge result should dominate both inputs")
	}
}

func TestBumpIncrementsOwnEntryOnly(t *testing.T) {
	w := crypto.Hash{9}
	v := VV{w: 4}
	bumped := v.Bump(w)
	if bumped[w] != 5 {
		t.Errorf("expected bumped entry to be 5, got %d", bumped[w])
	}
	if v[w] != 4 {
		t.Error("Bump should not mutate the receiver")
	}
}
