package exq_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"meridian/internal/exq"
	"meridian/internal/testsupport"
)

func spec(target string) exq.ExposureSpec {
	return exq.ExposureSpec{
		Target:  target,
		Filter:  "L",
		ExpTime: 5 * time.Second,
		Binning: 1,
	}
}

func TestEnqueueAndGet(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	entry, err := store.Enqueue(ctx, spec("M31"), 3, "operator", 2)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if entry.Status != exq.StatusPending {
		t.Fatalf("expected pending entry, got %q", entry.Status)
	}
	if entry.Priority != 3 || entry.MaxAttempts != 2 {
		t.Fatalf("entry fields not persisted: %+v", entry)
	}

	got, err := store.GetByID(ctx, entry.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Spec.Target != "M31" || got.Spec.Filter != "L" {
		t.Fatalf("spec round trip failed: %+v", got.Spec)
	}
	if got.Spec.ExpTime != 5*time.Second {
		t.Fatalf("expected 5s exposure, got %v", got.Spec.ExpTime)
	}
}

func TestEnqueueRejectsInvalidSpec(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))

	bad := exq.ExposureSpec{Target: "M31", ExpTime: -time.Second}
	if _, err := store.Enqueue(context.Background(), bad, 0, "", 3); err == nil {
		t.Fatal("expected validation error for negative exposure time")
	}
}

func TestNextPendingOrdersByPriorityThenAge(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	low, err := store.Enqueue(ctx, spec("low"), 1, "", 3)
	if err != nil {
		t.Fatalf("Enqueue low: %v", err)
	}
	highA, err := store.Enqueue(ctx, spec("high-a"), 5, "", 3)
	if err != nil {
		t.Fatalf("Enqueue high-a: %v", err)
	}
	highB, err := store.Enqueue(ctx, spec("high-b"), 5, "", 3)
	if err != nil {
		t.Fatalf("Enqueue high-b: %v", err)
	}

	wantOrder := []int64{highA.ID, highB.ID, low.ID}
	for _, want := range wantOrder {
		next, err := store.NextPending(ctx)
		if err != nil {
			t.Fatalf("NextPending: %v", err)
		}
		if next == nil || next.ID != want {
			t.Fatalf("expected entry %d next, got %+v", want, next)
		}
		if _, err := store.MarkRunning(ctx, next.ID); err != nil {
			t.Fatalf("MarkRunning: %v", err)
		}
		if err := store.MarkDone(ctx, next.ID); err != nil {
			t.Fatalf("MarkDone: %v", err)
		}
	}

	next, err := store.NextPending(ctx)
	if err != nil {
		t.Fatalf("NextPending on empty queue: %v", err)
	}
	if next != nil {
		t.Fatalf("expected empty queue, got entry %d", next.ID)
	}
}

func TestMarkFailedRequeuesUntilBudgetExhausted(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	entry, err := store.Enqueue(ctx, spec("M42"), 0, "", 2)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if _, err := store.MarkRunning(ctx, entry.ID); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	after, err := store.MarkFailed(ctx, entry.ID, "camera timeout")
	if err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	if after.Status != exq.StatusPending || after.Attempts != 1 {
		t.Fatalf("expected requeued entry with 1 attempt, got %q attempts=%d", after.Status, after.Attempts)
	}
	if after.LastError != "camera timeout" {
		t.Fatalf("expected recorded reason, got %q", after.LastError)
	}

	if _, err := store.MarkRunning(ctx, entry.ID); err != nil {
		t.Fatalf("MarkRunning second attempt: %v", err)
	}
	final, err := store.MarkFailed(ctx, entry.ID, "camera timeout")
	if err != nil {
		t.Fatalf("MarkFailed final: %v", err)
	}
	if final.Status != exq.StatusFailed || final.Attempts != 2 {
		t.Fatalf("expected failed entry after budget, got %q attempts=%d", final.Status, final.Attempts)
	}
}

func TestCancelPendingAndRunning(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	pending, err := store.Enqueue(ctx, spec("a"), 0, "", 3)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	running, err := store.Enqueue(ctx, spec("b"), 0, "", 3)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := store.MarkRunning(ctx, running.ID); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}

	for _, id := range []int64{pending.ID, running.ID} {
		cancelled, err := store.Cancel(ctx, id)
		if err != nil {
			t.Fatalf("Cancel %d: %v", id, err)
		}
		if !cancelled {
			t.Fatalf("expected entry %d to cancel", id)
		}
		got, err := store.GetByID(ctx, id)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if got.Status != exq.StatusCancelled {
			t.Fatalf("expected cancelled, got %q", got.Status)
		}
	}

	// Terminal entries do not cancel again.
	cancelled, err := store.Cancel(ctx, pending.ID)
	if err != nil {
		t.Fatalf("Cancel terminal entry: %v", err)
	}
	if cancelled {
		t.Fatal("expected no-op cancelling a terminal entry")
	}
}

func TestResetRunningRequeues(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	entry, err := store.Enqueue(ctx, spec("M51"), 0, "", 3)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := store.MarkRunning(ctx, entry.ID); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}

	requeued, err := store.ResetRunning(ctx)
	if err != nil {
		t.Fatalf("ResetRunning: %v", err)
	}
	if requeued != 1 {
		t.Fatalf("expected 1 requeued entry, got %d", requeued)
	}
	got, err := store.GetByID(ctx, entry.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != exq.StatusPending || got.Attempts != 1 {
		t.Fatalf("expected pending entry keeping its attempt, got %q attempts=%d", got.Status, got.Attempts)
	}
}

func TestClear(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	done, err := store.Enqueue(ctx, spec("done"), 0, "", 3)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := store.MarkRunning(ctx, done.ID); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	if err := store.MarkDone(ctx, done.ID); err != nil {
		t.Fatalf("MarkDone: %v", err)
	}
	if _, err := store.Enqueue(ctx, spec("pending"), 0, "", 3); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	removed, err := store.Clear(ctx, false)
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 terminal entry removed, got %d", removed)
	}

	removed, err = store.Clear(ctx, true)
	if err != nil {
		t.Fatalf("Clear all: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected pending entry removed with --all, got %d", removed)
	}
}

func TestGetByIDUnknown(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))

	_, err := store.GetByID(context.Background(), 999)
	if !errors.Is(err, exq.ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound, got %v", err)
	}
}
