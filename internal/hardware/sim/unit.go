package sim

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"meridian/internal/hardware"
)

const defaultPollTick = 10 * time.Millisecond

// applyFunc mutates the unit snapshot once an operation completes.
type applyFunc func(state map[string]any, op hardware.Op) error

// Unit is a generic simulated device. Kind-specific behavior comes from the
// operation table supplied by the constructors in this package.
type Unit struct {
	device string
	tick   time.Duration
	ops    map[string]opSpec

	mu       sync.Mutex
	open     bool
	state    map[string]any
	failNext map[string]string
	aborted  bool
	busyOp   string
}

type opSpec struct {
	duration time.Duration
	apply    applyFunc
}

// Option adjusts simulated unit behavior.
type Option func(*Unit)

// WithPollTick overrides the interrupt poll granularity.
func WithPollTick(tick time.Duration) Option {
	return func(u *Unit) {
		if tick > 0 {
			u.tick = tick
		}
	}
}

// WithOpDuration overrides the fixed duration of one operation.
func WithOpDuration(op string, d time.Duration) Option {
	return func(u *Unit) {
		spec := u.ops[op]
		spec.duration = d
		u.ops[op] = spec
	}
}

func newUnit(device string, ops map[string]opSpec, initial map[string]any, opts ...Option) *Unit {
	state := map[string]any{"device": device}
	for k, v := range initial {
		state[k] = v
	}
	u := &Unit{
		device:   device,
		tick:     defaultPollTick,
		ops:      ops,
		state:    state,
		failNext: map[string]string{},
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// FailNext injects a hardware fault into the next execution of op.
func (u *Unit) FailNext(op, message string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.failNext[op] = message
}

// Open implements hardware.Adapter.
func (u *Unit) Open() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.open = true
	return nil
}

// Close implements hardware.Adapter.
func (u *Unit) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.open = false
	return nil
}

// Interrupt implements hardware.Adapter. The abort is observed by Execute
// within one poll tick.
func (u *Unit) Interrupt() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.aborted = true
}

// Poll implements hardware.Adapter.
func (u *Unit) Poll() hardware.Snapshot {
	u.mu.Lock()
	defer u.mu.Unlock()
	snapshot := make(hardware.Snapshot, len(u.state)+1)
	for k, v := range u.state {
		snapshot[k] = v
	}
	if u.busyOp != "" {
		snapshot["busy_op"] = u.busyOp
	}
	return snapshot
}

// Execute implements hardware.Adapter.
func (u *Unit) Execute(ctx context.Context, op hardware.Op) (hardware.Snapshot, error) {
	u.mu.Lock()
	if !u.open {
		u.mu.Unlock()
		return nil, &hardware.Fault{Device: u.device, Op: op.Name, Message: "device not open"}
	}
	spec, ok := u.ops[op.Name]
	if !ok {
		u.mu.Unlock()
		return nil, &hardware.Fault{Device: u.device, Op: op.Name, Message: "unsupported operation"}
	}
	if message, ok := u.failNext[op.Name]; ok {
		delete(u.failNext, op.Name)
		u.mu.Unlock()
		return nil, &hardware.Fault{Device: u.device, Op: op.Name, Message: message}
	}
	u.aborted = false
	u.busyOp = op.Name
	u.mu.Unlock()

	defer func() {
		u.mu.Lock()
		u.busyOp = ""
		u.mu.Unlock()
	}()

	if err := u.wait(ctx, opDuration(spec, op)); err != nil {
		return nil, err
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if spec.apply != nil {
		if err := spec.apply(u.state, op); err != nil {
			return nil, err
		}
	}
	snapshot := make(hardware.Snapshot, len(u.state))
	for k, v := range u.state {
		snapshot[k] = v
	}
	return snapshot, nil
}

// wait sleeps in poll-tick increments so aborts land within one tick.
func (u *Unit) wait(ctx context.Context, total time.Duration) error {
	deadline := time.Now().Add(total)
	for {
		u.mu.Lock()
		aborted := u.aborted
		u.mu.Unlock()
		if aborted {
			return hardware.ErrInterrupted
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		step := u.tick
		if remaining < step {
			step = remaining
		}
		select {
		case <-ctx.Done():
			return hardware.ErrInterrupted
		case <-time.After(step):
		}
	}
}

// opDuration resolves the operation duration, honoring an explicit
// duration_ms argument (used by exposures).
func opDuration(spec opSpec, op hardware.Op) time.Duration {
	if raw, ok := op.Args["duration_ms"]; ok {
		if ms, err := strconv.Atoi(raw); err == nil && ms >= 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return spec.duration
}

var errMissingArg = errors.New("missing argument")
