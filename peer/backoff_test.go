package peer

import (
	"testing"
	"time"
)

func TestBackoffDoublesUpToCeiling(t *testing.T) {
	b := NewBackoff()
	want := []time.Duration{
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		1600 * time.Millisecond,
		3200 * time.Millisecond,
		6400 * time.Millisecond,
		10 * time.Second,
		10 * time.Second,
	}
	for i, w := range want {
		if got := b.Next(); got != w {
			t.Errorf("Next() #%d = %v, want %v", i, got, w)
		}
	}
}

func TestBackoffResetRestoresMinimum(t *testing.T) {
	b := NewBackoff()
	b.Next()
	b.Next()
	b.Reset()
	if got := b.Next(); got != 200*time.Millisecond {
		t.Fatalf("Next() after Reset = %v, want 200ms", got)
	}
}
