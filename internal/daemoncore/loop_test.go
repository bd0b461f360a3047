package daemoncore

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"meridian/internal/command"
	"meridian/internal/hardware"
	"meridian/internal/logging"
)

// countingAdapter records how often commands reach the hardware layer.
type countingAdapter struct {
	executions atomic.Int64
}

func (a *countingAdapter) Open() error             { return nil }
func (a *countingAdapter) Close() error            { return nil }
func (a *countingAdapter) Interrupt()              {}
func (a *countingAdapter) Poll() hardware.Snapshot { return hardware.Snapshot{} }
func (a *countingAdapter) Execute(context.Context, hardware.Op) (hardware.Snapshot, error) {
	a.executions.Add(1)
	return hardware.Snapshot{}, nil
}

// An emergency stop can land after the loop has dequeued a command but
// before that command reaches the hardware. The adapter interrupt has
// already fired at that point; letting the command run would clear the
// latched abort unseen. The stop must still win.
func TestEmergencyStopBeatsDequeuedCommand(t *testing.T) {
	adapter := &countingAdapter{}
	core, err := New("mnt", []hardware.Adapter{adapter}, Settings{
		QueueDepth:       4,
		InterruptLatency: 100 * time.Millisecond,
		PingLife:         5 * time.Second,
		StatusInterval:   20 * time.Millisecond,
	}, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Stage the race directly: the stop signal is pending when execute
	// picks up the already-dequeued command.
	core.estop <- struct{}{}
	core.execute(context.Background(), command.Command{ID: "cmd-1", Name: "park", Unit: 0})

	if got := adapter.executions.Load(); got != 0 {
		t.Fatalf("command reached hardware despite pending emergency stop (%d executions)", got)
	}
	select {
	case <-core.estop:
		t.Fatal("emergency stop signal left pending after pre-emption")
	default:
	}
	if state := core.Status().State; state == command.StateBusy {
		t.Fatalf("pre-empted command must not publish busy, got %s", state)
	}
}
