package syncproto

import (
	"testing"
	"time"
)

func TestQueuesEnqueueMarkSentComplete(t *testing.T) {
	q := NewQueues(4)
	t0 := time.Now()

	if err := q.Enqueue(1, KindIndexRequest, t0); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if q.PendingLen() != 1 {
		t.Fatalf("PendingLen = %d, want 1", q.PendingLen())
	}

	id, waited, ok := q.MarkSent(KindIndexRequest, t0.Add(50*time.Millisecond))
	if !ok || id != 1 {
		t.Fatalf("MarkSent = (%d, %v, %v), want (1, _, true)", id, waited, ok)
	}
	if waited < 50*time.Millisecond {
		t.Errorf("waited = %v, want >= 50ms", waited)
	}
	if q.PendingLen() != 0 {
		t.Errorf("PendingLen after MarkSent = %d, want 0", q.PendingLen())
	}
	if q.InflightLen(KindIndexRequest) != 1 {
		t.Errorf("InflightLen = %d, want 1", q.InflightLen(KindIndexRequest))
	}

	latency, ok := q.Complete(KindIndexRequest, 1, t0.Add(100*time.Millisecond))
	if !ok {
		t.Fatal("Complete reported not found for an inflight id")
	}
	if latency < 50*time.Millisecond {
		t.Errorf("latency = %v, want >= 50ms", latency)
	}
	if q.InflightLen(KindIndexRequest) != 0 {
		t.Errorf("InflightLen after Complete = %d, want 0", q.InflightLen(KindIndexRequest))
	}
}

func TestQueuesEnqueueRejectsOverCapacity(t *testing.T) {
	q := NewQueues(1)
	now := time.Now()
	if err := q.Enqueue(1, KindIndexRequest, now); err != nil {
		t.Fatalf("first Enqueue: %v", err)
	}
	if err := q.Enqueue(2, KindIndexRequest, now); err != ErrQueueFullPending {
		t.Errorf("second Enqueue err = %v, want ErrQueueFullPending", err)
	}
}

func TestQueuesMarkSentOnlyPicksMatchingKind(t *testing.T) {
	q := NewQueues(4)
	now := time.Now()
	q.Enqueue(1, KindBlockRequest, now)

	if _, _, ok := q.MarkSent(KindIndexRequest, now); ok {
		t.Error("MarkSent should not find an index-kind entry when only a block request is pending")
	}
	if _, _, ok := q.MarkSent(KindBlockRequest, now); !ok {
		t.Error("MarkSent should find the pending block request")
	}
}

func TestQueuesCompleteUnknownIDFails(t *testing.T) {
	q := NewQueues(4)
	if _, ok := q.Complete(KindIndexRequest, 999, time.Now()); ok {
		t.Error("Complete should report not-found for an id never sent")
	}
}

func TestSweepTimeoutsRequeuesOnceThenFails(t *testing.T) {
	q := NewQueues(4)
	t0 := time.Now()
	q.Enqueue(1, KindIndexRequest, t0)
	q.MarkSent(KindIndexRequest, t0)

	requeued, failed := q.SweepTimeouts(t0.Add(31*time.Second), DefaultRequestTimeout)
	if len(requeued) != 1 || requeued[0] != 1 {
		t.Fatalf("first sweep requeued = %v, want [1]", requeued)
	}
	if len(failed) != 0 {
		t.Fatalf("first sweep failed = %v, want none", failed)
	}
	if q.PendingLen() != 1 {
		t.Fatalf("PendingLen after requeue = %d, want 1", q.PendingLen())
	}

	t1, _, ok := q.MarkSent(KindIndexRequest, t0.Add(31*time.Second))
	if !ok || t1 != 1 {
		t.Fatalf("MarkSent after requeue = (%d, _, %v), want (1, _, true)", t1, ok)
	}

	requeued, failed = q.SweepTimeouts(t0.Add(62*time.Second), DefaultRequestTimeout)
	if len(requeued) != 0 {
		t.Fatalf("second sweep requeued = %v, want none", requeued)
	}
	if len(failed) != 1 || failed[0] != 1 {
		t.Fatalf("second sweep failed = %v, want [1]", failed)
	}
}

func TestSweepTimeoutsIgnoresFreshRequests(t *testing.T) {
	q := NewQueues(4)
	t0 := time.Now()
	q.Enqueue(1, KindBlockRequest, t0)
	q.MarkSent(KindBlockRequest, t0)

	requeued, failed := q.SweepTimeouts(t0.Add(1*time.Second), DefaultRequestTimeout)
	if len(requeued) != 0 || len(failed) != 0 {
		t.Errorf("sweep on a fresh request requeued=%v failed=%v, want none", requeued, failed)
	}
	if q.InflightLen(KindBlockRequest) != 1 {
		t.Errorf("InflightLen = %d, want 1 (untouched)", q.InflightLen(KindBlockRequest))
	}
}
