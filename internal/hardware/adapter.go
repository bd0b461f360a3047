package hardware

import (
	"context"
	"errors"
	"fmt"
)

// Op is a primitive operation passed to an adapter. The mapping from
// high-level commands to primitives happens before the adapter boundary.
type Op struct {
	Name string
	Args map[string]string
}

// ArgOr returns a named op argument or fallback when absent.
func (o Op) ArgOr(key, fallback string) string {
	if value, ok := o.Args[key]; ok {
		return value
	}
	return fallback
}

// Snapshot is the adapter's most recent view of the physical device.
type Snapshot map[string]any

// Adapter is the narrow surface a daemon control loop drives hardware
// through. Exactly one loop owns an adapter; Interrupt and Poll are the
// only methods that may be called concurrently with Execute.
type Adapter interface {
	// Open prepares the device connection.
	Open() error
	// Close releases the device connection.
	Close() error
	// Execute runs one primitive operation to completion. It returns
	// ErrInterrupted when aborted and a *Fault when the hardware reports an
	// abnormal state.
	Execute(ctx context.Context, op Op) (Snapshot, error)
	// Poll returns the current device snapshot without side effects.
	Poll() Snapshot
	// Interrupt aborts an in-flight Execute within the device's bounded
	// abort latency. Safe to call when nothing is executing.
	Interrupt()
}

// ErrInterrupted reports an Execute aborted by Interrupt or context
// cancellation. The device is left in a safe, commandable state.
var ErrInterrupted = errors.New("operation interrupted")

// Fault reports an abnormal hardware state. A fault is fail-stop: the
// owning daemon transitions to its error state and refuses operational
// commands until reset.
type Fault struct {
	Device  string
	Op      string
	Message string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s: %s failed: %s", f.Device, f.Op, f.Message)
}

// IsFault reports whether err carries a hardware fault.
func IsFault(err error) bool {
	var fault *Fault
	return errors.As(err, &fault)
}
