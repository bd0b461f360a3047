package conditions_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"meridian/internal/conditions"
	"meridian/internal/logging"
)

func TestEvaluate(t *testing.T) {
	now := time.Now()
	maxAge := 30 * time.Second

	cases := []struct {
		name       string
		snapshot   conditions.Snapshot
		wantSafe   bool
		wantReason string
	}{
		{
			name:     "fresh and safe",
			snapshot: conditions.Snapshot{Safe: true, ObservedAt: now.Add(-time.Second)},
			wantSafe: true,
		},
		{
			name:       "fresh but unsafe",
			snapshot:   conditions.Snapshot{Safe: false, Reason: "rain detected", ObservedAt: now.Add(-time.Second)},
			wantSafe:   false,
			wantReason: "rain detected",
		},
		{
			name:     "stale reading is unsafe even when flagged safe",
			snapshot: conditions.Snapshot{Safe: true, ObservedAt: now.Add(-2 * time.Minute)},
			wantSafe: false,
		},
		{
			name:     "zero snapshot is unsafe",
			snapshot: conditions.Snapshot{},
			wantSafe: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			safe, reason := tc.snapshot.Evaluate(now, maxAge)
			if safe != tc.wantSafe {
				t.Fatalf("Evaluate safe=%v reason=%q, want safe=%v", safe, reason, tc.wantSafe)
			}
			if tc.wantReason != "" && reason != tc.wantReason {
				t.Fatalf("Evaluate reason=%q, want %q", reason, tc.wantReason)
			}
			if !safe && reason == "" {
				t.Fatal("unsafe evaluation must carry a reason")
			}
		})
	}
}

func TestReadWriteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conditions.json")
	want := conditions.Snapshot{Safe: true, ObservedAt: time.Now().UTC().Truncate(time.Second)}
	if err := conditions.WriteFile(path, want); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := conditions.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !got.ObservedAt.Equal(want.ObservedAt) || got.Safe != want.Safe {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, want)
	}
}

func TestMonitorPicksUpUpdates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conditions.json")
	monitor := conditions.NewMonitor(path, logging.NewNop())
	if err := monitor.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(monitor.Close)

	if current := monitor.Current(); !current.ObservedAt.IsZero() {
		t.Fatalf("expected zero snapshot before first write, got %+v", current)
	}

	want := conditions.Snapshot{Safe: true, ObservedAt: time.Now().UTC()}
	if err := conditions.WriteFile(path, want); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if current := monitor.Current(); current.Safe {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("monitor never observed the update")
}
