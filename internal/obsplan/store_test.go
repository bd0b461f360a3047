package obsplan_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"meridian/internal/obsplan"
)

func openStore(t *testing.T) *obsplan.Store {
	t.Helper()
	store, err := obsplan.Open(filepath.Join(t.TempDir(), "obsplan.db"))
	if err != nil {
		t.Fatalf("obsplan.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func TestNextTargetFollowsPriority(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	lowID, err := store.AddTarget(ctx, obsplan.Target{Name: "NGC 891", ExpTime: 30 * time.Second, Priority: 1})
	if err != nil {
		t.Fatalf("AddTarget: %v", err)
	}
	highID, err := store.AddTarget(ctx, obsplan.Target{Name: "M31", ExpTime: 60 * time.Second, Priority: 9})
	if err != nil {
		t.Fatalf("AddTarget: %v", err)
	}

	next, err := store.NextTarget(ctx)
	if err != nil {
		t.Fatalf("NextTarget: %v", err)
	}
	if next == nil || next.ID != highID {
		t.Fatalf("expected high priority target %d first, got %+v", highID, next)
	}
	if next.ExpTime != 60*time.Second {
		t.Fatalf("exptime round trip failed: %v", next.ExpTime)
	}

	if err := store.MarkObserved(ctx, highID); err != nil {
		t.Fatalf("MarkObserved: %v", err)
	}
	next, err = store.NextTarget(ctx)
	if err != nil {
		t.Fatalf("NextTarget: %v", err)
	}
	if next == nil || next.ID != lowID {
		t.Fatalf("expected remaining target %d, got %+v", lowID, next)
	}

	if err := store.MarkObserved(ctx, lowID); err != nil {
		t.Fatalf("MarkObserved: %v", err)
	}
	next, err = store.NextTarget(ctx)
	if err != nil {
		t.Fatalf("NextTarget: %v", err)
	}
	if next != nil {
		t.Fatalf("expected exhausted plan, got %+v", next)
	}
}

func TestResetObserved(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	id, err := store.AddTarget(ctx, obsplan.Target{Name: "M42", ExpTime: 10 * time.Second})
	if err != nil {
		t.Fatalf("AddTarget: %v", err)
	}
	if err := store.MarkObserved(ctx, id); err != nil {
		t.Fatalf("MarkObserved: %v", err)
	}
	if err := store.ResetObserved(ctx); err != nil {
		t.Fatalf("ResetObserved: %v", err)
	}

	next, err := store.NextTarget(ctx)
	if err != nil {
		t.Fatalf("NextTarget: %v", err)
	}
	if next == nil || next.ID != id {
		t.Fatalf("expected target available again after reset, got %+v", next)
	}
}

func TestTargetsDefaults(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	if _, err := store.AddTarget(ctx, obsplan.Target{Name: "M45", ExpTime: 5 * time.Second}); err != nil {
		t.Fatalf("AddTarget: %v", err)
	}
	targets, err := store.Targets(ctx)
	if err != nil {
		t.Fatalf("Targets: %v", err)
	}
	if len(targets) != 1 {
		t.Fatalf("expected 1 target, got %d", len(targets))
	}
	got := targets[0]
	if got.Filter != "L" || got.Binning != 1 || got.SetCount != 1 || !got.Enabled {
		t.Fatalf("defaults not applied: %+v", got)
	}
}
