package daemoncore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"meridian/internal/command"
	"meridian/internal/config"
	"meridian/internal/hardware"
	"meridian/internal/logging"
)

// Settings bounds the control loop's queue and latencies.
type Settings struct {
	QueueDepth       int
	InterruptLatency time.Duration
	PingLife         time.Duration
	StatusInterval   time.Duration
}

// SettingsFromConfig derives loop settings from the shared daemon section.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		QueueDepth:       cfg.Daemon.CommandQueueDepth,
		InterruptLatency: cfg.InterruptLatency(),
		PingLife:         cfg.PingLife(),
	}
}

func (s *Settings) applyDefaults() {
	if s.QueueDepth <= 0 {
		s.QueueDepth = 16
	}
	if s.InterruptLatency <= 0 {
		s.InterruptLatency = 500 * time.Millisecond
	}
	if s.PingLife <= 0 {
		s.PingLife = 30 * time.Second
	}
	if s.StatusInterval <= 0 {
		s.StatusInterval = time.Second
	}
}

// Core is one daemon control loop driving one or more hardware units.
type Core struct {
	id       string
	adapters []hardware.Adapter
	settings Settings
	logger   *slog.Logger

	cmds  chan command.Command
	estop chan struct{}

	status    atomic.Pointer[command.DaemonStatus]
	lastTick  atomic.Int64
	startedAt time.Time

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
	unitErrs []*command.ErrorInfo
	active   map[int]struct{}
	current  *command.Command
}

// New constructs a daemon core. Meta-daemons pass several adapters; unit
// indices address them in order.
func New(id string, adapters []hardware.Adapter, settings Settings, logger *slog.Logger) (*Core, error) {
	if id == "" {
		return nil, errors.New("daemon id is required")
	}
	if len(adapters) == 0 {
		return nil, errors.New("daemon requires at least one hardware adapter")
	}
	settings.applyDefaults()
	core := &Core{
		id:       id,
		adapters: adapters,
		settings: settings,
		logger:   logging.NewComponentLogger(logger, "daemoncore").With(logging.String(logging.FieldDaemon, id)),
		cmds:     make(chan command.Command, settings.QueueDepth),
		estop:    make(chan struct{}, 1),
		unitErrs: make([]*command.ErrorInfo, len(adapters)),
		active:   map[int]struct{}{},
	}
	return core, nil
}

// ID returns the daemon identifier.
func (c *Core) ID() string { return c.id }

// Units returns how many hardware units this daemon drives.
func (c *Core) Units() int { return len(c.adapters) }

// Start opens the hardware adapters and launches the control loop.
func (c *Core) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return errors.New("daemon already running")
	}
	for i, adapter := range c.adapters {
		if err := adapter.Open(); err != nil {
			for j := 0; j < i; j++ {
				_ = c.adapters[j].Close()
			}
			return fmt.Errorf("open unit %d: %w", i, err)
		}
	}

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running = true
	c.startedAt = time.Now().UTC()
	c.touch()
	c.publishLocked(command.StateIdle)

	go c.run(loopCtx)
	c.logger.Info("control loop started", logging.Int("units", len(c.adapters)))
	return nil
}

// Stop terminates the control loop and closes the adapters.
func (c *Core) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	cancel := c.cancel
	done := c.done
	c.cancel = nil
	c.mu.Unlock()

	// Unblock any in-flight hardware operation before waiting.
	for _, adapter := range c.adapters {
		adapter.Interrupt()
	}
	cancel()
	<-done

	c.mu.Lock()
	c.running = false
	for _, adapter := range c.adapters {
		_ = adapter.Close()
	}
	c.mu.Unlock()
	c.logger.Info("control loop stopped")
}

// Submit queues a command for execution and returns immediately. The only
// synchronous failures are a stopped loop, a faulted daemon receiving an
// operational command, an unknown unit, and queue overflow.
func (c *Core) Submit(cmd command.Command) error {
	c.mu.Lock()
	running := c.running
	faulted := c.faultedLocked()
	c.mu.Unlock()

	if !running {
		return command.ErrNotRunning
	}
	if faulted && !IsDiagnostic(cmd.Name) {
		return command.ErrDaemonFaulted
	}
	if cmd.Unit != command.UnitAll && (cmd.Unit < 0 || cmd.Unit >= len(c.adapters)) {
		return fmt.Errorf("unknown unit %d (daemon has %d)", cmd.Unit, len(c.adapters))
	}

	select {
	case c.cmds <- cmd:
		c.logger.Debug("command queued",
			logging.String(logging.FieldCommand, cmd.Name),
			logging.String(logging.FieldCommandID, cmd.ID),
			logging.Int(logging.FieldUnit, cmd.Unit))
		return nil
	default:
		return command.ErrOverloaded
	}
}

// EmergencyStop pre-empts any in-flight hardware action. It is always
// accepted, interrupts the adapters directly so latency stays bounded
// regardless of queue depth, and signals the loop to drop pending work.
func (c *Core) EmergencyStop() {
	c.logger.Warn("emergency stop requested",
		logging.String(logging.FieldEventType, "emergency_stop"))
	for _, adapter := range c.adapters {
		adapter.Interrupt()
	}
	select {
	case c.estop <- struct{}{}:
	default:
	}
}

// Interrupt aborts the current command if it is interruptible. Used for
// ordinary cancellation (e.g. a cancelled queue entry); emergency stop
// ignores the interruptible flag.
func (c *Core) Interrupt() bool {
	c.mu.Lock()
	current := c.current
	active := make([]int, 0, len(c.active))
	for unit := range c.active {
		active = append(active, unit)
	}
	c.mu.Unlock()

	if current == nil || !current.Interruptible {
		return false
	}
	for _, unit := range active {
		c.adapters[unit].Interrupt()
	}
	return true
}

// Status returns the latest published status. Non-blocking; never older
// than one control-loop tick.
func (c *Core) Status() command.DaemonStatus {
	if status := c.status.Load(); status != nil {
		return *status
	}
	return command.DaemonStatus{Daemon: c.id, State: command.StateDisabled, UpdatedAt: time.Now().UTC()}
}

// Ping verifies the control loop has ticked recently.
func (c *Core) Ping() error {
	last := time.Unix(0, c.lastTick.Load())
	if age := time.Since(last); age > c.settings.PingLife {
		return fmt.Errorf("last control loop tick was %.1fs ago", age.Seconds())
	}
	return nil
}

// Faulted reports whether any unit is in the error state.
func (c *Core) Faulted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.faultedLocked()
}

func (c *Core) faultedLocked() bool {
	for _, errInfo := range c.unitErrs {
		if errInfo != nil {
			return true
		}
	}
	return false
}

// IsDiagnostic reports whether a command name bypasses the fail-stop
// rejection of a faulted daemon.
func IsDiagnostic(name string) bool {
	switch name {
	case "reset", "ping", "noop":
		return true
	}
	return false
}

func (c *Core) touch() {
	c.lastTick.Store(time.Now().UnixNano())
}
