package exq

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"log/slog"

	"meridian/internal/command"
	"meridian/internal/config"
	"meridian/internal/daemons"
	"meridian/internal/ipc"
	"meridian/internal/logging"
)

// DaemonClient is the slice of the IPC client surface the dispatcher
// needs from a hardware daemon. *ipc.Client satisfies it.
type DaemonClient interface {
	Submit(cmd ipc.Command) (*ipc.SubmitResponse, error)
	Status() (*ipc.StatusResponse, error)
	Interrupt() (*ipc.InterruptResponse, error)
	Close() error
}

// ClientFactory dials the named daemon. The dispatcher re-dials after
// RPC failures.
type ClientFactory func(id daemons.ID) (DaemonClient, error)

// SocketClientFactory returns a factory dialing the daemons' Unix sockets.
func SocketClientFactory(cfg *config.Config) ClientFactory {
	return func(id daemons.ID) (DaemonClient, error) {
		return ipc.Dial(daemons.SocketPath(cfg, id))
	}
}

// Settings bundles the dispatcher tunables.
type Settings struct {
	MaxAttempts  int
	PollInterval time.Duration
	StepTimeout  time.Duration
	PingLife     time.Duration
}

// SettingsFromConfig derives dispatcher settings from configuration.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		MaxAttempts:  cfg.Exq.MaxAttempts,
		PollInterval: time.Duration(cfg.Exq.PollIntervalMS) * time.Millisecond,
		StepTimeout:  time.Duration(cfg.Exq.StepTimeoutSeconds) * time.Second,
		PingLife:     cfg.PingLife(),
	}
}

func (s *Settings) applyDefaults() {
	if s.MaxAttempts <= 0 {
		s.MaxAttempts = 3
	}
	if s.PollInterval <= 0 {
		s.PollInterval = 250 * time.Millisecond
	}
	if s.StepTimeout <= 0 {
		s.StepTimeout = 2 * time.Minute
	}
	if s.PingLife <= 0 {
		s.PingLife = 30 * time.Second
	}
}

// Daemon is the exposure queue daemon: store plus dispatcher loop.
type Daemon struct {
	store    *Store
	clients  ClientFactory
	settings Settings
	logger   *slog.Logger

	paused   atomic.Bool
	lastTick atomic.Int64
	started  time.Time

	mu            sync.Mutex
	running       bool
	current       *Entry
	cancelCurrent context.CancelFunc
	suspendReason string
	clientCache   map[daemons.ID]DaemonClient

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds the exposure queue daemon around an open store.
func New(store *Store, clients ClientFactory, settings Settings, logger *slog.Logger) (*Daemon, error) {
	if store == nil {
		return nil, fmt.Errorf("exposure queue daemon requires store")
	}
	if clients == nil {
		return nil, fmt.Errorf("exposure queue daemon requires client factory")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	settings.applyDefaults()
	return &Daemon{
		store:       store,
		clients:     clients,
		settings:    settings,
		logger:      logger.With(logging.String(logging.FieldDaemon, string(daemons.Exq))),
		clientCache: make(map[daemons.ID]DaemonClient),
	}, nil
}

// ID returns the daemon identifier.
func (d *Daemon) ID() string { return string(daemons.Exq) }

// Start requeues interrupted entries and launches the dispatcher loop.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return fmt.Errorf("exposure queue daemon already running")
	}

	requeued, err := d.store.ResetRunning(ctx)
	if err != nil {
		return fmt.Errorf("requeue interrupted entries: %w", err)
	}
	if requeued > 0 {
		d.logger.Info("requeued entries from previous run",
			logging.String(logging.FieldEventType, "exq_requeue"),
			logging.Int64("entry_count", requeued))
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	d.done = make(chan struct{})
	d.running = true
	d.started = time.Now()
	d.touch()
	go d.loop()
	return nil
}

// Stop halts the dispatcher, interrupting any in-flight entry.
func (d *Daemon) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	cancel := d.cancel
	cancelCurrent := d.cancelCurrent
	done := d.done
	d.mu.Unlock()

	if cancelCurrent != nil {
		cancelCurrent()
	}
	cancel()
	<-done

	d.mu.Lock()
	d.running = false
	for id, client := range d.clientCache {
		_ = client.Close()
		delete(d.clientCache, id)
	}
	d.mu.Unlock()
}

// Submit accepts the queue daemon's own control commands.
func (d *Daemon) Submit(cmd command.Command) error {
	switch cmd.Name {
	case "pause":
		return d.Pause()
	case "resume":
		return d.Resume()
	case "ping", "noop", "reset":
		return nil
	default:
		return fmt.Errorf("%w: %q", command.ErrUnknownCommand, cmd.Name)
	}
}

// EmergencyStop pauses dispatch and interrupts the in-flight entry.
func (d *Daemon) EmergencyStop() {
	d.paused.Store(true)
	d.Interrupt()
	d.logger.Warn("emergency stop: dispatch paused",
		logging.String(logging.FieldEventType, "exq_emergency_stop"))
}

// Interrupt aborts the in-flight entry, if any. The entry's attempt is
// recorded as failed unless it was cancelled first.
func (d *Daemon) Interrupt() bool {
	d.mu.Lock()
	cancelCurrent := d.cancelCurrent
	d.mu.Unlock()
	if cancelCurrent == nil {
		return false
	}
	cancelCurrent()
	return true
}

// Pause suspends dispatch without dropping entries.
func (d *Daemon) Pause() error {
	d.paused.Store(true)
	return nil
}

// Resume restarts dispatch.
func (d *Daemon) Resume() error {
	d.paused.Store(false)
	return nil
}

// Paused reports whether dispatch is suspended by an operator.
func (d *Daemon) Paused() bool { return d.paused.Load() }

// Status publishes the queue daemon's state in the common daemon shape.
func (d *Daemon) Status() command.DaemonStatus {
	d.mu.Lock()
	current := d.current
	suspendReason := d.suspendReason
	started := d.started
	d.mu.Unlock()

	counts, err := d.store.CountByStatus(context.Background())
	if err != nil {
		counts = map[Status]int{}
	}

	state := command.StateIdle
	if current != nil {
		state = command.StateBusy
	}
	snapshot := map[string]any{
		"paused":  d.paused.Load(),
		"pending": counts[StatusPending],
		"running": counts[StatusRunning],
		"done":    counts[StatusDone],
		"failed":  counts[StatusFailed],
	}
	if suspendReason != "" {
		snapshot["suspended"] = suspendReason
	}
	status := command.DaemonStatus{
		Daemon:     d.ID(),
		State:      state,
		QueueDepth: counts[StatusPending],
		Snapshot:   snapshot,
		StartedAt:  started,
		UpdatedAt:  time.Now(),
	}
	if current != nil {
		status.Snapshot["current_entry"] = current.ID
	}
	return status
}

// Ping verifies the dispatcher loop ticked recently.
func (d *Daemon) Ping() error {
	last := time.Unix(0, d.lastTick.Load())
	if age := time.Since(last); age > d.settings.PingLife {
		return fmt.Errorf("dispatcher loop stalled for %s", age.Round(time.Millisecond))
	}
	return nil
}

func (d *Daemon) touch() {
	d.lastTick.Store(time.Now().UnixNano())
}

// Enqueue implements ipc.QueueBackend.
func (d *Daemon) Enqueue(spec ipc.ExposureSpec, priority int, requestedBy string) (int64, error) {
	entry, err := d.store.Enqueue(context.Background(), specFromWire(spec), priority, requestedBy, d.settings.MaxAttempts)
	if err != nil {
		return 0, err
	}
	return entry.ID, nil
}

// Cancel implements ipc.QueueBackend. Cancelling the running entry also
// interrupts its in-flight hardware step.
func (d *Daemon) Cancel(id int64) (bool, error) {
	cancelled, err := d.store.Cancel(context.Background(), id)
	if err != nil || !cancelled {
		return cancelled, err
	}
	d.mu.Lock()
	isCurrent := d.current != nil && d.current.ID == id
	cancelCurrent := d.cancelCurrent
	d.mu.Unlock()
	if isCurrent && cancelCurrent != nil {
		cancelCurrent()
	}
	return true, nil
}

// List implements ipc.QueueBackend.
func (d *Daemon) List(statuses []string) ([]ipc.QueueEntry, bool, error) {
	parsed := make([]Status, 0, len(statuses))
	for _, raw := range statuses {
		status, ok := ParseStatus(raw)
		if !ok {
			return nil, false, fmt.Errorf("unknown queue status %q", raw)
		}
		parsed = append(parsed, status)
	}
	entries, err := d.store.List(context.Background(), parsed)
	if err != nil {
		return nil, false, err
	}
	wire := make([]ipc.QueueEntry, 0, len(entries))
	for _, entry := range entries {
		wire = append(wire, entryToWire(entry))
	}
	return wire, d.paused.Load(), nil
}

// Clear implements ipc.QueueBackend.
func (d *Daemon) Clear(all bool) (int64, error) {
	return d.store.Clear(context.Background(), all)
}

func specFromWire(spec ipc.ExposureSpec) ExposureSpec {
	return ExposureSpec{
		Target:     spec.Target,
		ImageType:  spec.ImageType,
		FrameType:  spec.FrameType,
		Filter:     spec.Filter,
		ExpTime:    time.Duration(spec.ExpTimeMS) * time.Millisecond,
		Binning:    spec.Binning,
		UnitMask:   spec.UnitMask,
		FocusCheck: spec.FocusCheck,
	}
}

func specToWire(spec ExposureSpec) ipc.ExposureSpec {
	return ipc.ExposureSpec{
		Target:     spec.Target,
		ImageType:  spec.ImageType,
		FrameType:  spec.FrameType,
		Filter:     spec.Filter,
		ExpTimeMS:  int(spec.ExpTime / time.Millisecond),
		Binning:    spec.Binning,
		UnitMask:   spec.UnitMask,
		FocusCheck: spec.FocusCheck,
	}
}

func entryToWire(entry *Entry) ipc.QueueEntry {
	return ipc.QueueEntry{
		ID:          entry.ID,
		Spec:        specToWire(entry.Spec),
		Priority:    entry.Priority,
		RequestedBy: entry.RequestedBy,
		Status:      string(entry.Status),
		Attempts:    entry.Attempts,
		MaxAttempts: entry.MaxAttempts,
		LastError:   entry.LastError,
		EnqueuedAt:  entry.EnqueuedAt,
		UpdatedAt:   entry.UpdatedAt,
	}
}
