package pilot_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"meridian/internal/command"
	"meridian/internal/conditions"
	"meridian/internal/daemons"
	"meridian/internal/ipc"
	"meridian/internal/logging"
	"meridian/internal/obsplan"
	"meridian/internal/pilot"
)

// fakeDaemon records the pilot's traffic to one daemon. Commands
// complete instantly unless the daemon is faulted or stalled.
type fakeDaemon struct {
	mu        sync.Mutex
	submitted []ipc.Command
	estops    int
	faulted   string
	stalled   bool
	enqueued  []ipc.EnqueueRequest
	busy      bool
	pauses    int
	resumes   int
}

func (f *fakeDaemon) Submit(cmd ipc.Command) (*ipc.SubmitResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, cmd)
	return &ipc.SubmitResponse{Accepted: true, CommandID: "test"}, nil
}

func (f *fakeDaemon) Status() (*ipc.StatusResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status := command.DaemonStatus{State: command.StateIdle}
	if f.faulted != "" {
		status.State = command.StateError
		status.LastError = &command.ErrorInfo{Kind: command.ErrKindHardwareFault, Message: f.faulted}
	} else if f.busy {
		status.State = command.StateBusy
		status.QueueDepth = 1
	}
	return &ipc.StatusResponse{Status: status}, nil
}

func (f *fakeDaemon) EmergencyStop() (*ipc.EmergencyStopResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.estops++
	return &ipc.EmergencyStopResponse{Stopped: true}, nil
}

func (f *fakeDaemon) Ping() (*ipc.PingResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stalled {
		return &ipc.PingResponse{OK: false, Detail: "loop stalled"}, nil
	}
	return &ipc.PingResponse{OK: true}, nil
}

func (f *fakeDaemon) Enqueue(req ipc.EnqueueRequest) (*ipc.EnqueueResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, req)
	return &ipc.EnqueueResponse{ID: int64(len(f.enqueued))}, nil
}

func (f *fakeDaemon) QueuePause() (*ipc.QueuePauseResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pauses++
	return &ipc.QueuePauseResponse{Paused: true}, nil
}

func (f *fakeDaemon) QueueResume() (*ipc.QueueResumeResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumes++
	return &ipc.QueueResumeResponse{}, nil
}

func (f *fakeDaemon) Close() error { return nil }

func (f *fakeDaemon) commandCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, cmd := range f.submitted {
		if cmd.Name == name {
			count++
		}
	}
	return count
}

func (f *fakeDaemon) emergencyStops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.estops
}

func (f *fakeDaemon) enqueuedSpecs() []ipc.EnqueueRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ipc.EnqueueRequest(nil), f.enqueued...)
}

func (f *fakeDaemon) queuePauses() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pauses
}

func (f *fakeDaemon) setBusy(busy bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.busy = busy
}

func (f *fakeDaemon) setStalled(stalled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stalled = stalled
}

type fakeFleet struct {
	daemons map[daemons.ID]*fakeDaemon
}

func newFakeFleet() *fakeFleet {
	fleet := &fakeFleet{daemons: make(map[daemons.ID]*fakeDaemon)}
	for _, id := range daemons.Hardware {
		fleet.daemons[id] = &fakeDaemon{}
	}
	fleet.daemons[daemons.Exq] = &fakeDaemon{}
	return fleet
}

func (f *fakeFleet) factory(id daemons.ID) (pilot.DaemonClient, error) {
	d, ok := f.daemons[id]
	if !ok {
		return nil, context.DeadlineExceeded
	}
	return d, nil
}

func (f *fakeFleet) exq() *fakeDaemon { return f.daemons[daemons.Exq] }

// safeSafetyCount counts park/close/all_off across the fleet.
func (f *fakeFleet) makeSafeCounts() (park, closeDome, powerOff int) {
	return f.daemons[daemons.Mount].commandCount("park"),
		f.daemons[daemons.Dome].commandCount("close"),
		f.daemons[daemons.Power].commandCount("all_off")
}

func (f *fakeFleet) totalEmergencyStops() int {
	total := 0
	for _, d := range f.daemons {
		total += d.emergencyStops()
	}
	return total
}

type fakeConditions struct {
	mu       sync.Mutex
	snapshot conditions.Snapshot
}

func (f *fakeConditions) Current() conditions.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshot
}

func (f *fakeConditions) set(snapshot conditions.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshot = snapshot
}

func (f *fakeConditions) setSafe() {
	f.set(conditions.Snapshot{Safe: true, ObservedAt: time.Now()})
}

func (f *fakeConditions) setUnsafe(reason string) {
	f.set(conditions.Snapshot{Safe: false, Reason: reason, ObservedAt: time.Now()})
}

// keepFresh refreshes the safe snapshot until the test ends so
// staleness does not fire mid-test.
func (f *fakeConditions) keepFresh(t *testing.T) {
	t.Helper()
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-time.After(10 * time.Millisecond):
				f.mu.Lock()
				if f.snapshot.Safe {
					f.snapshot.ObservedAt = time.Now()
				}
				f.mu.Unlock()
			}
		}
	}()
	t.Cleanup(func() { close(stop) })
}

type fakeSchedule struct {
	sunset  time.Time
	sunrise time.Time
}

func (f fakeSchedule) Night(time.Time) (time.Time, time.Time) {
	return f.sunset, f.sunrise
}

func nightNow() fakeSchedule {
	now := time.Now()
	return fakeSchedule{sunset: now.Add(-time.Hour), sunrise: now.Add(time.Hour)}
}

type fakePlan struct {
	mu       sync.Mutex
	targets  []*obsplan.Target
	observed []int64
}

func (f *fakePlan) NextTarget(context.Context) (*obsplan.Target, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, target := range f.targets {
		seen := false
		for _, id := range f.observed {
			if id == target.ID {
				seen = true
				break
			}
		}
		if !seen {
			return target, nil
		}
	}
	return nil, nil
}

func (f *fakePlan) MarkObserved(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.observed = append(f.observed, id)
	return nil
}

func fastSettings() pilot.Settings {
	return pilot.Settings{
		PollInterval:     10 * time.Millisecond,
		ConditionsMaxAge: 200 * time.Millisecond,
		StatusTimeout:    time.Second,
		PingLife:         5 * time.Second,
	}
}

func startPilot(t *testing.T, fleet *fakeFleet, conds *fakeConditions, plan pilot.PlanSource, schedule pilot.Schedule) *pilot.Pilot {
	t.Helper()
	p, err := pilot.New(fleet.factory, conds, plan, schedule, fastSettings(), logging.NewNop())
	if err != nil {
		t.Fatalf("pilot.New: %v", err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(p.Stop)
	return p
}

func waitFor(t *testing.T, what string, timeout time.Duration, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitForPhase(t *testing.T, p *pilot.Pilot, want pilot.Phase, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if p.Phase() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("pilot never reached phase %q (last: %q)", want, p.Phase())
}

func TestFullNightHappyPath(t *testing.T) {
	fleet := newFakeFleet()
	conds := &fakeConditions{}
	conds.setSafe()
	conds.keepFresh(t)
	plan := &fakePlan{targets: []*obsplan.Target{
		{ID: 1, Name: "M31", Filter: "L", ExpTime: time.Second, Binning: 1, SetCount: 2, RADeg: 10.68, DecDeg: 41.27},
	}}

	p := startPilot(t, fleet, conds, plan, nightNow())
	// The machine passes through Startup and Calibration quickly with
	// instant fakes; wait for the night to start, then to finish, and
	// check the recorded traffic instead of every intermediate phase.
	waitFor(t, "night start", 5*time.Second, func() bool {
		return fleet.daemons[daemons.Power].commandCount("all_on") == 1
	})
	waitForPhase(t, p, pilot.PhaseIdle, 5*time.Second)

	if got := fleet.daemons[daemons.Power].commandCount("all_on"); got != 1 {
		t.Fatalf("expected one power-on, got %d", got)
	}
	if got := fleet.daemons[daemons.Mount].commandCount("unpark"); got != 1 {
		t.Fatalf("expected one unpark, got %d", got)
	}
	if got := fleet.daemons[daemons.Dome].commandCount("open"); got != 1 {
		t.Fatalf("expected one dome open, got %d", got)
	}
	if got := fleet.daemons[daemons.Mount].commandCount("slew"); got != 1 {
		t.Fatalf("expected one slew, got %d", got)
	}

	park, closeDome, powerOff := fleet.makeSafeCounts()
	if park != 1 || closeDome != 1 || powerOff != 1 {
		t.Fatalf("expected one park/close/power-off each, got %d/%d/%d", park, closeDome, powerOff)
	}
	if got := fleet.daemons[daemons.Mount].commandCount("stop"); got != 1 {
		t.Fatalf("expected tracking stopped once before park, got %d", got)
	}
	if stops := fleet.totalEmergencyStops(); stops != 0 {
		t.Fatalf("planned night must not emergency-stop daemons, got %d", stops)
	}

	specs := fleet.exq().enqueuedSpecs()
	science := 0
	calibration := 0
	for _, req := range specs {
		switch req.Spec.ImageType {
		case "science":
			science++
			if req.Spec.Target != "M31" {
				t.Fatalf("unexpected science target %q", req.Spec.Target)
			}
		default:
			calibration++
		}
	}
	if science != 2 {
		t.Fatalf("expected 2 science sets for SetCount=2, got %d", science)
	}
	if calibration != 3 {
		t.Fatalf("expected bias/dark/flat calibration sets, got %d", calibration)
	}
	if len(plan.observed) != 1 || plan.observed[0] != 1 {
		t.Fatalf("expected target marked observed, got %v", plan.observed)
	}
}

func TestUnsafeInCalibrationTakesPlannedShutdown(t *testing.T) {
	fleet := newFakeFleet()
	conds := &fakeConditions{}
	conds.setSafe()
	conds.keepFresh(t)
	// Hold the pilot in Calibration: the queue never drains.
	fleet.exq().setBusy(true)

	p := startPilot(t, fleet, conds, &fakePlan{}, nightNow())
	waitForPhase(t, p, pilot.PhaseCalibration, 5*time.Second)

	conds.setUnsafe("rain detected")
	waitForPhase(t, p, pilot.PhaseIdle, 5*time.Second)

	park, closeDome, powerOff := fleet.makeSafeCounts()
	if park != 1 || closeDome != 1 || powerOff != 1 {
		t.Fatalf("expected exactly one park/close/power-off each, got %d/%d/%d", park, closeDome, powerOff)
	}
	if stops := fleet.totalEmergencyStops(); stops != 0 {
		t.Fatalf("calibration shutdown is planned, not an abort; got %d emergency stops", stops)
	}
	// The calibration entries are still enqueued; without a pause they
	// would dispatch against the closed observatory after Idle.
	if got := len(fleet.exq().enqueuedSpecs()); got == 0 {
		t.Fatal("expected calibration entries still enqueued")
	}
	if got := fleet.exq().queuePauses(); got == 0 {
		t.Fatal("expected exposure queue paused before make-safe")
	}
}

func TestUnsafeInObservingTriggersEmergencyAbort(t *testing.T) {
	fleet := newFakeFleet()
	conds := &fakeConditions{}
	conds.setSafe()
	conds.keepFresh(t)
	plan := &fakePlan{targets: []*obsplan.Target{
		{ID: 1, Name: "M31", ExpTime: time.Second, SetCount: 1},
	}}

	p := startPilot(t, fleet, conds, plan, nightNow())
	waitForPhase(t, p, pilot.PhaseObserving, 5*time.Second)
	// Keep the queue busy so the night does not finish on its own.
	fleet.exq().setBusy(true)

	conds.setUnsafe("wind gusts")
	waitForPhase(t, p, pilot.PhaseIdle, 5*time.Second)

	if stops := fleet.totalEmergencyStops(); stops == 0 {
		t.Fatal("expected emergency stops issued to daemons")
	}
	park, closeDome, powerOff := fleet.makeSafeCounts()
	if park == 0 || closeDome == 0 || powerOff == 0 {
		t.Fatalf("abort must still secure hardware, got %d/%d/%d", park, closeDome, powerOff)
	}
	status := p.NightStatus()
	if status.AbortReason == "" {
		t.Fatal("expected recorded abort reason")
	}
}

func TestStaleConditionsCountAsUnsafe(t *testing.T) {
	fleet := newFakeFleet()
	conds := &fakeConditions{}
	// A safe reading that is never refreshed goes stale mid-night.
	conds.setSafe()
	fleet.exq().setBusy(true)

	p := startPilot(t, fleet, conds, &fakePlan{}, nightNow())
	waitFor(t, "night start", 5*time.Second, func() bool {
		return fleet.daemons[daemons.Power].commandCount("all_on") == 1
	})
	waitForPhase(t, p, pilot.PhaseIdle, 5*time.Second)

	park, closeDome, powerOff := fleet.makeSafeCounts()
	if park == 0 || closeDome == 0 || powerOff == 0 {
		t.Fatalf("stale conditions must secure hardware, got %d/%d/%d", park, closeDome, powerOff)
	}
}

func TestStalledDaemonTriggersEmergencyAbort(t *testing.T) {
	fleet := newFakeFleet()
	conds := &fakeConditions{}
	conds.setSafe()
	conds.keepFresh(t)
	plan := &fakePlan{targets: []*obsplan.Target{
		{ID: 1, Name: "M31", ExpTime: time.Second, SetCount: 1},
	}}

	p := startPilot(t, fleet, conds, plan, nightNow())
	waitForPhase(t, p, pilot.PhaseObserving, 5*time.Second)
	fleet.exq().setBusy(true)
	fleet.daemons[daemons.Camera].setStalled(true)

	waitForPhase(t, p, pilot.PhaseIdle, 5*time.Second)
	if stops := fleet.totalEmergencyStops(); stops == 0 {
		t.Fatal("expected emergency stops after stalled daemon")
	}
}

func TestAbortNightFromOperator(t *testing.T) {
	fleet := newFakeFleet()
	conds := &fakeConditions{}
	conds.setSafe()
	conds.keepFresh(t)
	fleet.exq().setBusy(true)

	p := startPilot(t, fleet, conds, &fakePlan{}, nightNow())
	waitForPhase(t, p, pilot.PhaseCalibration, 5*time.Second)

	if err := p.AbortNight("operator test"); err != nil {
		t.Fatalf("AbortNight: %v", err)
	}
	waitForPhase(t, p, pilot.PhaseIdle, 5*time.Second)
	if stops := fleet.totalEmergencyStops(); stops == 0 {
		t.Fatal("expected emergency stops after operator abort")
	}
	if reason := p.NightStatus().AbortReason; reason != "operator test" {
		t.Fatalf("expected recorded abort reason, got %q", reason)
	}
}

func TestIdlePilotDoesNotRestartFinishedNight(t *testing.T) {
	fleet := newFakeFleet()
	conds := &fakeConditions{}
	conds.setSafe()
	conds.keepFresh(t)

	p := startPilot(t, fleet, conds, &fakePlan{}, nightNow())
	waitFor(t, "night start", 5*time.Second, func() bool {
		return fleet.daemons[daemons.Power].commandCount("all_on") == 1
	})
	waitForPhase(t, p, pilot.PhaseIdle, 5*time.Second)

	// Several poll cycles later the same night must not restart.
	time.Sleep(100 * time.Millisecond)
	if got := fleet.daemons[daemons.Power].commandCount("all_on"); got != 1 {
		t.Fatalf("finished night restarted: %d power-on commands", got)
	}
}
