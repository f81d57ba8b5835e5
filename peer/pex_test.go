package peer

import (
	"fmt"
	"testing"
	"time"
)

func liveAddrs(t *testing.T, n int, global, incoming bool) []LiveAddress {
	t.Helper()
	out := make([]LiveAddress, n)
	for i := 0; i < n; i++ {
		out[i] = LiveAddress{
			Addr:     mustAddress(t, fmt.Sprintf("/ip4/203.0.114.%d/tcp/9000", i+1)),
			Global:   global,
			Incoming: incoming,
		}
	}
	return out
}

func TestExchangeSampleExcludesIncomingAndMismatchedGlobality(t *testing.T) {
	e := NewExchange()
	live := append(liveAddrs(t, 2, true, false), liveAddrs(t, 2, true, true)...)
	live = append(live, liveAddrs(t, 2, false, false)...)

	got := e.Sample(live, true, time.Now())
	if len(got) != 2 {
		t.Fatalf("Sample returned %d addresses, want 2 (only non-incoming globals)", len(got))
	}
}

func TestExchangeSampleBoundsTo25(t *testing.T) {
	e := NewExchange()
	live := liveAddrs(t, 40, true, false)

	got := e.Sample(live, true, time.Now())
	if len(got) != 25 {
		t.Fatalf("Sample returned %d addresses, want 25", len(got))
	}
}

func TestExchangeSampleDedupsWithinReannounceWindow(t *testing.T) {
	e := NewExchange()
	live := liveAddrs(t, 3, true, false)
	t0 := time.Now()

	first := e.Sample(live, true, t0)
	if len(first) != 3 {
		t.Fatalf("first Sample returned %d, want 3", len(first))
	}

	second := e.Sample(live, true, t0.Add(time.Minute))
	if len(second) != 0 {
		t.Fatalf("second Sample within dedup window returned %d, want 0", len(second))
	}

	third := e.Sample(live, true, t0.Add(11*time.Minute))
	if len(third) != 3 {
		t.Fatalf("third Sample after dedup window returned %d, want 3", len(third))
	}
}
