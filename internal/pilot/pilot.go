package pilot

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"log/slog"

	"meridian/internal/command"
	"meridian/internal/conditions"
	"meridian/internal/config"
	"meridian/internal/daemons"
	"meridian/internal/ipc"
	"meridian/internal/logging"
	"meridian/internal/obsplan"
)

// DaemonClient is the slice of the IPC client surface the pilot uses.
// *ipc.Client satisfies it.
type DaemonClient interface {
	Submit(cmd ipc.Command) (*ipc.SubmitResponse, error)
	Status() (*ipc.StatusResponse, error)
	EmergencyStop() (*ipc.EmergencyStopResponse, error)
	Ping() (*ipc.PingResponse, error)
	Enqueue(req ipc.EnqueueRequest) (*ipc.EnqueueResponse, error)
	QueuePause() (*ipc.QueuePauseResponse, error)
	QueueResume() (*ipc.QueueResumeResponse, error)
	Close() error
}

// ClientFactory dials the named daemon.
type ClientFactory func(id daemons.ID) (DaemonClient, error)

// SocketClientFactory returns a factory dialing the daemons' Unix sockets.
func SocketClientFactory(cfg *config.Config) ClientFactory {
	return func(id daemons.ID) (DaemonClient, error) {
		return ipc.Dial(daemons.SocketPath(cfg, id))
	}
}

// ConditionsSource yields the latest safety snapshot.
// *conditions.Monitor satisfies it.
type ConditionsSource interface {
	Current() conditions.Snapshot
}

// PlanSource yields targets for the observing loop. *obsplan.Store
// satisfies it.
type PlanSource interface {
	NextTarget(ctx context.Context) (*obsplan.Target, error)
	MarkObserved(ctx context.Context, id int64) error
}

// Settings bundles the pilot tunables.
type Settings struct {
	PollInterval     time.Duration
	ConditionsMaxAge time.Duration
	StatusTimeout    time.Duration
	PingLife         time.Duration
}

// SettingsFromConfig derives pilot settings from configuration.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		PollInterval:     time.Duration(cfg.Pilot.PollIntervalMS) * time.Millisecond,
		ConditionsMaxAge: cfg.ConditionsMaxAge(),
		StatusTimeout:    time.Duration(cfg.Pilot.StatusTimeoutSecs) * time.Second,
		PingLife:         cfg.PingLife(),
	}
}

func (s *Settings) applyDefaults() {
	if s.PollInterval <= 0 {
		s.PollInterval = time.Second
	}
	if s.ConditionsMaxAge <= 0 {
		s.ConditionsMaxAge = 30 * time.Second
	}
	if s.StatusTimeout <= 0 {
		s.StatusTimeout = 5 * time.Second
	}
	if s.PingLife <= 0 {
		s.PingLife = 30 * time.Second
	}
}

// hardwareSequence is the make-safe order: stop tracking, park, close,
// power off. Power last so everything before it still has power.
var hardwareSequence = []struct {
	daemon  daemons.ID
	command string
}{
	{daemons.Mount, "stop"},
	{daemons.Mount, "park"},
	{daemons.Dome, "close"},
	{daemons.Power, "all_off"},
}

// Pilot is the autonomous night orchestrator.
type Pilot struct {
	clients    ClientFactory
	conds      ConditionsSource
	plan       PlanSource
	schedule   Schedule
	settings   Settings
	logger     *slog.Logger
	hardwareID []daemons.ID

	lastTick atomic.Int64
	started  time.Time

	mu                sync.Mutex
	running           bool
	phase             Phase
	safe              bool
	safetyReason      string
	abortReason       string
	lastPoll          time.Time
	observed          int
	hardwareSafed     bool
	queuePaused       bool
	calibrationQueued bool
	nightSunset       time.Time
	nightSunrise      time.Time
	clientCache       map[daemons.ID]DaemonClient

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds the pilot. The plan source may be nil; the observing phase
// then just drains whatever the queue already holds.
func New(clients ClientFactory, conds ConditionsSource, plan PlanSource, schedule Schedule, settings Settings, logger *slog.Logger) (*Pilot, error) {
	if clients == nil {
		return nil, fmt.Errorf("pilot requires client factory")
	}
	if conds == nil {
		return nil, fmt.Errorf("pilot requires conditions source")
	}
	if schedule == nil {
		return nil, fmt.Errorf("pilot requires schedule")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	settings.applyDefaults()
	return &Pilot{
		clients:     clients,
		conds:       conds,
		plan:        plan,
		schedule:    schedule,
		settings:    settings,
		logger:      logger.With(logging.String(logging.FieldDaemon, string(daemons.Pilot))),
		hardwareID:  append([]daemons.ID(nil), daemons.Hardware...),
		phase:       PhaseIdle,
		clientCache: make(map[daemons.ID]DaemonClient),
	}, nil
}

// ID returns the daemon identifier.
func (p *Pilot) ID() string { return string(daemons.Pilot) }

// Phase returns the current phase.
func (p *Pilot) Phase() Phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.phase
}

// Start launches the pilot's polling loop.
func (p *Pilot) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return fmt.Errorf("pilot already running")
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	p.running = true
	p.started = time.Now()
	p.touch()
	go p.loop()
	return nil
}

// Stop halts the pilot loop. Hardware is left as-is; stopping the pilot
// is not a shutdown command.
func (p *Pilot) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.mu.Unlock()

	cancel()
	<-done

	p.mu.Lock()
	p.running = false
	for id, client := range p.clientCache {
		_ = client.Close()
		delete(p.clientCache, id)
	}
	p.mu.Unlock()
}

// Submit accepts the pilot's own control commands.
func (p *Pilot) Submit(cmd command.Command) error {
	switch cmd.Name {
	case "abort":
		return p.AbortNight(cmd.ArgOr("reason", "abort requested by operator"))
	case "ping", "noop", "reset":
		return nil
	default:
		return fmt.Errorf("%w: %q", command.ErrUnknownCommand, cmd.Name)
	}
}

// EmergencyStop forces the universal escape.
func (p *Pilot) EmergencyStop() {
	_ = p.AbortNight("emergency stop")
}

// Interrupt aborts the night if one is active.
func (p *Pilot) Interrupt() bool {
	if !p.Phase().Active() {
		return false
	}
	return p.AbortNight("interrupted") == nil
}

// AbortNight implements ipc.PilotBackend: the next poll cycle enters
// EmergencyAbort. Aborting an idle pilot is a no-op.
func (p *Pilot) AbortNight(reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.phase.Active() {
		return nil
	}
	if p.abortReason == "" {
		p.abortReason = reason
	}
	return nil
}

// Status publishes the pilot's state in the common daemon shape.
func (p *Pilot) Status() command.DaemonStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	state := command.StateIdle
	if p.phase.Active() {
		state = command.StateBusy
	}
	snapshot := map[string]any{
		"phase":            string(p.phase),
		"safe":             p.safe,
		"targets_observed": p.observed,
	}
	if p.safetyReason != "" {
		snapshot["safety_reason"] = p.safetyReason
	}
	if p.abortReason != "" {
		snapshot["abort_reason"] = p.abortReason
	}
	return command.DaemonStatus{
		Daemon:    p.ID(),
		State:     state,
		Snapshot:  snapshot,
		StartedAt: p.started,
		UpdatedAt: time.Now(),
	}
}

// NightStatus implements ipc.PilotBackend.
func (p *Pilot) NightStatus() ipc.PilotStatusResponse {
	p.mu.Lock()
	defer p.mu.Unlock()
	return ipc.PilotStatusResponse{
		Phase:           string(p.phase),
		Safe:            p.safe,
		SafetyReason:    p.safetyReason,
		LastPoll:        p.lastPoll,
		AbortReason:     p.abortReason,
		EntriesObserved: p.observed,
	}
}

// Ping verifies the pilot loop ticked recently.
func (p *Pilot) Ping() error {
	last := time.Unix(0, p.lastTick.Load())
	if age := time.Since(last); age > p.settings.PingLife {
		return fmt.Errorf("pilot loop stalled for %s", age.Round(time.Millisecond))
	}
	return nil
}

func (p *Pilot) touch() {
	p.lastTick.Store(time.Now().UnixNano())
}

func (p *Pilot) setPhase(phase Phase) {
	p.mu.Lock()
	old := p.phase
	p.phase = phase
	if phase == PhaseStartup {
		p.abortReason = ""
		p.observed = 0
		p.hardwareSafed = false
		p.queuePaused = false
		p.calibrationQueued = false
	}
	p.mu.Unlock()
	if old != phase {
		p.logger.Info("phase transition",
			logging.String(logging.FieldEventType, "pilot_phase"),
			logging.String("from", string(old)),
			logging.String(logging.FieldPhase, string(phase)))
	}
}

func (p *Pilot) abortRequested() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.abortReason
}

func (p *Pilot) clientFor(id daemons.ID) (DaemonClient, error) {
	p.mu.Lock()
	client, ok := p.clientCache[id]
	p.mu.Unlock()
	if ok {
		return client, nil
	}
	client, err := p.clients(id)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.clientCache[id] = client
	p.mu.Unlock()
	return client, nil
}

func (p *Pilot) dropClient(id daemons.ID) {
	p.mu.Lock()
	if client, ok := p.clientCache[id]; ok {
		_ = client.Close()
		delete(p.clientCache, id)
	}
	p.mu.Unlock()
}
