package exq_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"meridian/internal/command"
	"meridian/internal/daemons"
	"meridian/internal/exq"
	"meridian/internal/ipc"
	"meridian/internal/logging"
	"meridian/internal/testsupport"
)

// fakeDaemon stands in for one hardware daemon behind the IPC surface.
// Commands complete instantly unless blocked or faulted.
type fakeDaemon struct {
	mu          sync.Mutex
	submitted   []ipc.Command
	blocking    map[string]bool
	faultOn     map[string]string
	busy        bool
	faulted     string
	interrupted int
}

func newFakeDaemon() *fakeDaemon {
	return &fakeDaemon{
		blocking: make(map[string]bool),
		faultOn:  make(map[string]string),
	}
}

func (f *fakeDaemon) Submit(cmd ipc.Command) (*ipc.SubmitResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, cmd)
	if reason, ok := f.faultOn[cmd.Name]; ok {
		f.faulted = reason
	} else if f.blocking[cmd.Name] {
		f.busy = true
	}
	return &ipc.SubmitResponse{Accepted: true, CommandID: "test"}, nil
}

func (f *fakeDaemon) Status() (*ipc.StatusResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status := command.DaemonStatus{State: command.StateIdle}
	if f.faulted != "" {
		status.State = command.StateError
		status.LastError = &command.ErrorInfo{
			Kind:    command.ErrKindHardwareFault,
			Message: f.faulted,
		}
	} else if f.busy {
		status.State = command.StateBusy
	}
	return &ipc.StatusResponse{Status: status}, nil
}

func (f *fakeDaemon) Interrupt() (*ipc.InterruptResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interrupted++
	f.busy = false
	return &ipc.InterruptResponse{Interrupted: true}, nil
}

func (f *fakeDaemon) Close() error { return nil }

func (f *fakeDaemon) commandNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, len(f.submitted))
	for i, cmd := range f.submitted {
		names[i] = cmd.Name
	}
	return names
}

func (f *fakeDaemon) exposeTargets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var targets []string
	for _, cmd := range f.submitted {
		if cmd.Name == "expose" {
			targets = append(targets, cmd.Args["target"])
		}
	}
	return targets
}

func (f *fakeDaemon) clearFault() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faulted = ""
	f.faultOn = make(map[string]string)
}

func (f *fakeDaemon) interrupts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.interrupted
}

type fakeFleet struct {
	cam  *fakeDaemon
	filt *fakeDaemon
	foc  *fakeDaemon
}

func newFakeFleet() *fakeFleet {
	return &fakeFleet{cam: newFakeDaemon(), filt: newFakeDaemon(), foc: newFakeDaemon()}
}

func (f *fakeFleet) factory(id daemons.ID) (exq.DaemonClient, error) {
	switch id {
	case daemons.Camera:
		return f.cam, nil
	case daemons.FilterWheel:
		return f.filt, nil
	case daemons.Focuser:
		return f.foc, nil
	default:
		return nil, context.DeadlineExceeded
	}
}

func fastSettings() exq.Settings {
	return exq.Settings{
		MaxAttempts:  3,
		PollInterval: 10 * time.Millisecond,
		StepTimeout:  2 * time.Second,
		PingLife:     5 * time.Second,
	}
}

func startDaemon(t *testing.T, store *exq.Store, fleet *fakeFleet, settings exq.Settings) *exq.Daemon {
	t.Helper()
	d, err := exq.New(store, fleet.factory, settings, logging.NewNop())
	if err != nil {
		t.Fatalf("exq.New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(d.Stop)
	return d
}

func waitForEntryStatus(t *testing.T, store *exq.Store, id int64, want exq.Status, timeout time.Duration) *exq.Entry {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		entry, err := store.GetByID(context.Background(), id)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if entry.Status == want {
			return entry
		}
		time.Sleep(5 * time.Millisecond)
	}
	entry, _ := store.GetByID(context.Background(), id)
	t.Fatalf("entry %d never reached %q (last: %+v)", id, want, entry)
	return nil
}

func TestDispatchOrderFollowsPriorityThenAge(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	fleet := newFakeFleet()
	ctx := context.Background()

	first, err := store.Enqueue(ctx, spec("early-low"), 1, "", 1)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	second, err := store.Enqueue(ctx, spec("high-a"), 5, "", 1)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	third, err := store.Enqueue(ctx, spec("high-b"), 5, "", 1)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	startDaemon(t, store, fleet, fastSettings())
	waitForEntryStatus(t, store, first.ID, exq.StatusDone, 5*time.Second)
	waitForEntryStatus(t, store, second.ID, exq.StatusDone, 5*time.Second)
	waitForEntryStatus(t, store, third.ID, exq.StatusDone, 5*time.Second)

	targets := fleet.cam.exposeTargets()
	want := []string{"high-a", "high-b", "early-low"}
	if len(targets) != len(want) {
		t.Fatalf("expected %d exposures, got %v", len(want), targets)
	}
	for i := range want {
		if targets[i] != want[i] {
			t.Fatalf("dispatch order %v, want %v", targets, want)
		}
	}
}

func TestEntryWalksHardwareSteps(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	fleet := newFakeFleet()

	entrySpec := spec("M31")
	entrySpec.FocusCheck = true
	entry, err := store.Enqueue(context.Background(), entrySpec, 0, "", 1)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	startDaemon(t, store, fleet, fastSettings())
	waitForEntryStatus(t, store, entry.ID, exq.StatusDone, 5*time.Second)

	if names := fleet.filt.commandNames(); len(names) != 1 || names[0] != "set_filter" {
		t.Fatalf("expected one set_filter on filter wheel, got %v", names)
	}
	if names := fleet.foc.commandNames(); len(names) != 1 || names[0] != "confirm" {
		t.Fatalf("expected one focus confirm, got %v", names)
	}
	camNames := fleet.cam.commandNames()
	wantCam := []string{"set_binning", "expose", "readout"}
	if len(camNames) != len(wantCam) {
		t.Fatalf("camera steps %v, want %v", camNames, wantCam)
	}
	for i := range wantCam {
		if camNames[i] != wantCam[i] {
			t.Fatalf("camera steps %v, want %v", camNames, wantCam)
		}
	}
}

func TestBiasFrameSkipsFilterChange(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	fleet := newFakeFleet()

	bias := exq.ExposureSpec{Target: "bias", ImageType: exq.ImageBias, Filter: "L"}
	entry, err := store.Enqueue(context.Background(), bias, 0, "", 1)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	startDaemon(t, store, fleet, fastSettings())
	waitForEntryStatus(t, store, entry.ID, exq.StatusDone, 5*time.Second)

	if names := fleet.filt.commandNames(); len(names) != 0 {
		t.Fatalf("bias frame must not touch the filter wheel, got %v", names)
	}
}

func TestFailedStepRetriesThenFails(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	fleet := newFakeFleet()
	fleet.cam.faultOn["expose"] = "shutter jammed"

	settings := fastSettings()
	settings.MaxAttempts = 2
	entry, err := store.Enqueue(context.Background(), spec("doomed"), 0, "", settings.MaxAttempts)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	d, err := exq.New(store, fleet.factory, settings, logging.NewNop())
	if err != nil {
		t.Fatalf("exq.New: %v", err)
	}

	// The camera fault also suspends dispatch, so clear it between
	// attempts the way an operator reset would.
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(d.Stop)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, err := store.GetByID(context.Background(), entry.ID)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if got.Status == exq.StatusFailed {
			if got.Attempts != settings.MaxAttempts {
				t.Fatalf("expected %d attempts, got %d", settings.MaxAttempts, got.Attempts)
			}
			if got.LastError == "" {
				t.Fatal("expected recorded failure reason")
			}
			return
		}
		// Dispatch suspends while the camera reports a fault; clearing
		// it lets the retry proceed, and the next expose re-faults.
		if got.Status == exq.StatusPending {
			fleet.cam.clearFault()
			fleet.cam.faultOn["expose"] = "shutter jammed"
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("entry never reached failed state")
}

func TestCancelRunningEntryInterruptsHardware(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	fleet := newFakeFleet()
	fleet.cam.blocking["expose"] = true

	entry, err := store.Enqueue(context.Background(), spec("long"), 0, "", 3)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	d := startDaemon(t, store, fleet, fastSettings())
	waitForEntryStatus(t, store, entry.ID, exq.StatusRunning, 5*time.Second)

	// Give the dispatcher time to reach the blocking expose step.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(fleet.cam.exposeTargets()) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancelled, err := d.Cancel(entry.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if !cancelled {
		t.Fatal("expected running entry to cancel")
	}
	waitForEntryStatus(t, store, entry.ID, exq.StatusCancelled, 5*time.Second)
	if fleet.cam.interrupts() == 0 {
		t.Fatal("expected camera interrupt on cancel")
	}
}

func TestDispatchSuspendsWhileDependencyFaulted(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	fleet := newFakeFleet()
	fleet.filt.faulted = "wheel stuck"

	entry, err := store.Enqueue(context.Background(), spec("waiting"), 0, "", 3)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	startDaemon(t, store, fleet, fastSettings())

	time.Sleep(100 * time.Millisecond)
	got, err := store.GetByID(context.Background(), entry.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != exq.StatusPending {
		t.Fatalf("expected entry held pending while dependency faulted, got %q", got.Status)
	}

	fleet.filt.clearFault()
	waitForEntryStatus(t, store, entry.ID, exq.StatusDone, 5*time.Second)
}

func TestPauseHoldsDispatch(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	fleet := newFakeFleet()

	d := startDaemon(t, store, fleet, fastSettings())
	if err := d.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	entry, err := store.Enqueue(context.Background(), spec("held"), 0, "", 3)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	got, err := store.GetByID(context.Background(), entry.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != exq.StatusPending {
		t.Fatalf("expected entry held while paused, got %q", got.Status)
	}

	if err := d.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	waitForEntryStatus(t, store, entry.ID, exq.StatusDone, 5*time.Second)
}

func TestStatusReportsCountsAndPause(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	fleet := newFakeFleet()
	d := startDaemon(t, store, fleet, fastSettings())

	if err := d.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if _, err := store.Enqueue(context.Background(), spec("a"), 0, "", 3); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	status := d.Status()
	if status.Daemon != "exq" {
		t.Fatalf("unexpected daemon id %q", status.Daemon)
	}
	if status.QueueDepth != 1 {
		t.Fatalf("expected queue depth 1, got %d", status.QueueDepth)
	}
	if paused, _ := status.Snapshot["paused"].(bool); !paused {
		t.Fatalf("expected paused snapshot, got %v", status.Snapshot)
	}
}
