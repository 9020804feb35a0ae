package queue

import (
	"context"
	"testing"
	"time"
)

func TestQueue_EnqueueRespectsCapacity(t *testing.T) {
	q := New(2)
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, "a"); err != nil {
		t.Fatalf("enqueue a: %v", err)
	}
	if _, err := q.Enqueue(ctx, "b"); err != nil {
		t.Fatalf("enqueue b: %v", err)
	}
	if _, err := q.Enqueue(ctx, "c"); err != ErrQueueFull {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestQueue_DrainFIFOOrder(t *testing.T) {
	q := New(10)
	ctx := context.Background()

	var ids []string
	for _, id := range []string{"a", "b", "c"} {
		if _, err := q.Enqueue(ctx, id); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
		ids = append(ids, id)
	}

	drained := q.Drain()
	if len(drained) != len(ids) {
		t.Fatalf("drained %d entries, want %d", len(drained), len(ids))
	}
	for i, e := range drained {
		if e.ID != ids[i] {
			t.Fatalf("drain order[%d] = %s, want %s", i, e.ID, ids[i])
		}
		if err := e.Wait(ctx); err != nil {
			t.Fatalf("entry %s: unexpected wait error %v", e.ID, err)
		}
	}
}

func TestQueue_DrainDropsCancelledEntrySilently(t *testing.T) {
	q := New(10)

	cancelledCtx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := q.Enqueue(cancelledCtx, "dead"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.Enqueue(context.Background(), "alive"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	drained := q.Drain()
	if len(drained) != 1 || drained[0].ID != "alive" {
		t.Fatalf("expected only the live entry to be handed to the forwarder, got %v", drained)
	}
}

func TestQueue_FailResolvesAllWithReason(t *testing.T) {
	q := New(10)
	ctx := context.Background()

	e1, _ := q.Enqueue(ctx, "a")
	e2, _ := q.Enqueue(ctx, "b")

	reason := ErrQueueTimeout
	q.Fail(reason)

	if err := e1.Wait(ctx); err != reason {
		t.Fatalf("e1 error = %v, want %v", err, reason)
	}
	if err := e2.Wait(ctx); err != reason {
		t.Fatalf("e2 error = %v, want %v", err, reason)
	}
	if q.Len() != 0 {
		t.Fatalf("queue should be empty after Fail, got len %d", q.Len())
	}
}

func TestQueue_SweepTimeoutsRemovesOldEntries(t *testing.T) {
	q := New(10)
	ctx := context.Background()

	old, _ := q.Enqueue(ctx, "old")
	old.EnqueuedAt = time.Now().Add(-time.Hour)

	fresh, _ := q.Enqueue(ctx, "fresh")

	removed := q.SweepTimeouts(time.Minute)
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if err := old.Wait(ctx); err != ErrQueueTimeout {
		t.Fatalf("old entry error = %v, want ErrQueueTimeout", err)
	}
	if q.Len() != 1 {
		t.Fatalf("queue len = %d, want 1", q.Len())
	}

	drained := q.Drain()
	if len(drained) != 1 || drained[0] != fresh {
		t.Fatalf("expected fresh entry to survive the sweep")
	}
}

func TestQueue_ClearResolvesWithClearedError(t *testing.T) {
	q := New(10)
	ctx := context.Background()
	e, _ := q.Enqueue(ctx, "a")

	n := q.Clear()
	if n != 1 {
		t.Fatalf("Clear() = %d, want 1", n)
	}
	if err := e.Wait(ctx); err != ErrQueueCleared {
		t.Fatalf("error = %v, want ErrQueueCleared", err)
	}
}
