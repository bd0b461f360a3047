package pilot

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"meridian/internal/command"
	"meridian/internal/daemons"
	"meridian/internal/ipc"
	"meridian/internal/logging"
	"meridian/internal/obsplan"
)

// opTimeout bounds a single hardware operation issued by the pilot
// (park, open, power switch). Exposures are not issued directly by the
// pilot; they go through the exposure queue.
const opTimeout = 2 * time.Minute

func (p *Pilot) loop() {
	defer close(p.done)
	ticker := time.NewTicker(p.settings.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.touch()
			p.tick(time.Now())
		}
	}
}

func (p *Pilot) tick(now time.Time) {
	p.mu.Lock()
	p.lastPoll = now
	phase := p.phase
	p.mu.Unlock()

	// The universal escape: an abort request lands as EmergencyAbort on
	// the next cycle, whatever the pilot was doing.
	if reason := p.abortRequested(); reason != "" && phase != PhaseEmergencyAbort && phase != PhaseShutdown && phase.Active() {
		p.logger.Warn("night aborting",
			logging.String(logging.FieldEventType, "pilot_abort"),
			logging.String("reason", reason))
		p.setPhase(PhaseEmergencyAbort)
		phase = PhaseEmergencyAbort
	}

	switch phase {
	case PhaseIdle:
		p.tickIdle(now)
	case PhaseStartup:
		p.tickStartup(now)
	case PhaseCalibration:
		p.tickCalibration(now)
	case PhaseObserving:
		p.tickObserving(now)
	case PhaseShutdown:
		p.tickShutdown()
	case PhaseEmergencyAbort:
		p.tickEmergencyAbort()
	}
}

func (p *Pilot) tickIdle(now time.Time) {
	sunset, sunrise := p.schedule.Night(now)
	if now.Before(sunset) || !now.Before(sunrise) {
		return
	}
	p.mu.Lock()
	alreadyRan := sunset.Equal(p.nightSunset)
	p.mu.Unlock()
	if alreadyRan {
		return
	}
	p.mu.Lock()
	p.nightSunset = sunset
	p.nightSunrise = sunrise
	p.mu.Unlock()
	p.logger.Info("night starting",
		logging.String(logging.FieldEventType, "pilot_night_start"),
		logging.Time("sunset", sunset),
		logging.Time("sunrise", sunrise))
	p.setPhase(PhaseStartup)
}

// tickStartup powers the observatory up and verifies every daemon
// responds. Any failure, including unsafe conditions, escapes to
// EmergencyAbort.
func (p *Pilot) tickStartup(now time.Time) {
	if safe, reason := p.evaluateConditions(now); !safe {
		p.failNight(errors.New(reason))
		return
	}

	steps := []struct {
		daemon  daemons.ID
		command string
	}{
		{daemons.Power, "all_on"},
		{daemons.Mount, "unpark"},
		{daemons.Dome, "open"},
	}
	for _, step := range steps {
		if err := p.submitAndWait(step.daemon, ipc.Command{Name: step.command}, opTimeout); err != nil {
			p.failNight(fmt.Errorf("startup %s %s: %w", step.daemon, step.command, err))
			return
		}
	}

	for _, id := range append(append([]daemons.ID(nil), p.hardwareID...), daemons.Exq) {
		if err := p.checkDaemon(id); err != nil {
			p.failNight(fmt.Errorf("startup check %s: %w", id, err))
			return
		}
	}

	// The queue may still be paused from a previous abort.
	if client, err := p.clientFor(daemons.Exq); err == nil {
		if _, err := client.QueueResume(); err != nil {
			p.dropClient(daemons.Exq)
			p.failNight(fmt.Errorf("resume exposure queue: %w", err))
			return
		}
	} else {
		p.failNight(fmt.Errorf("dial exposure queue: %w", err))
		return
	}

	p.setPhase(PhaseCalibration)
}

// tickCalibration runs the bias/dark/flat block through the exposure
// queue. Unsafe conditions here end the night through the planned
// Shutdown path: nothing is moving fast, no pre-emption needed.
func (p *Pilot) tickCalibration(now time.Time) {
	if safe, reason := p.evaluateConditions(now); !safe {
		p.logger.Warn("conditions ended calibration",
			logging.String(logging.FieldEventType, "pilot_conditions_shutdown"),
			logging.String("reason", reason))
		p.setPhase(PhaseShutdown)
		return
	}

	p.mu.Lock()
	queued := p.calibrationQueued
	p.calibrationQueued = true
	p.mu.Unlock()
	if !queued {
		if err := p.enqueueCalibration(); err != nil {
			p.failNight(fmt.Errorf("enqueue calibration block: %w", err))
		}
		return
	}

	drained, err := p.queueDrained()
	if err != nil {
		p.failNight(fmt.Errorf("calibration queue check: %w", err))
		return
	}
	if drained {
		p.setPhase(PhaseObserving)
	}
}

// tickObserving feeds plan targets into the queue and watches
// conditions, daemon health, and the clock.
func (p *Pilot) tickObserving(now time.Time) {
	if safe, reason := p.evaluateConditions(now); !safe {
		p.failNight(errors.New(reason))
		return
	}
	for _, id := range p.hardwareID {
		if err := p.checkDaemon(id); err != nil {
			p.failNight(fmt.Errorf("daemon %s: %w", id, err))
			return
		}
	}

	p.mu.Lock()
	sunrise := p.nightSunrise
	p.mu.Unlock()
	if !now.Before(sunrise) {
		p.logger.Info("sunrise reached",
			logging.String(logging.FieldEventType, "pilot_sunrise"))
		p.setPhase(PhaseShutdown)
		return
	}

	drained, err := p.queueDrained()
	if err != nil {
		p.failNight(fmt.Errorf("observing queue check: %w", err))
		return
	}
	if !drained {
		return
	}

	if p.plan == nil {
		p.setPhase(PhaseShutdown)
		return
	}
	target, err := p.plan.NextTarget(p.ctx)
	if err != nil {
		p.failNight(fmt.Errorf("read observation plan: %w", err))
		return
	}
	if target == nil {
		p.logger.Info("observation plan exhausted",
			logging.String(logging.FieldEventType, "pilot_plan_done"))
		p.setPhase(PhaseShutdown)
		return
	}

	if err := p.observeTarget(target); err != nil {
		p.failNight(fmt.Errorf("observe %s: %w", target.Name, err))
		return
	}
	if err := p.plan.MarkObserved(p.ctx, target.ID); err != nil {
		p.failNight(fmt.Errorf("mark %s observed: %w", target.Name, err))
		return
	}
	p.mu.Lock()
	p.observed++
	p.mu.Unlock()
}

// tickShutdown is the planned end of night: stop the exposure queue
// dispatching, one make-safe pass, then Idle. Without the pause a
// calibration entry still queued would dispatch against hardware that
// is closing or already powered off, and would stay dispatchable after
// the pilot went idle.
func (p *Pilot) tickShutdown() {
	p.pauseQueue()
	p.mu.Lock()
	alreadySafe := p.hardwareSafed
	p.mu.Unlock()
	if !alreadySafe {
		if err := p.makeHardwareSafe(); err != nil {
			// Keep retrying next cycle; an unsafe observatory must not
			// be declared idle.
			p.logger.Error("shutdown could not secure hardware",
				logging.Error(err),
				logging.String(logging.FieldEventType, "pilot_shutdown_failed"),
				logging.String(logging.FieldErrorHint, "Inspect the failing daemon and secure the observatory manually if needed"))
			return
		}
	}
	p.logger.Info("night complete",
		logging.String(logging.FieldEventType, "pilot_night_end"))
	p.setPhase(PhaseIdle)
}

// tickEmergencyAbort is the universal escape: pre-empt every daemon,
// make the hardware safe best-effort, and hand over to Shutdown.
func (p *Pilot) tickEmergencyAbort() {
	for _, id := range append(append([]daemons.ID(nil), p.hardwareID...), daemons.Exq) {
		client, err := p.clientFor(id)
		if err != nil {
			continue
		}
		if _, err := client.EmergencyStop(); err != nil {
			p.dropClient(id)
		}
	}
	if err := p.makeHardwareSafe(); err != nil {
		p.logger.Error("emergency abort could not secure hardware",
			logging.Error(err),
			logging.String(logging.FieldEventType, "pilot_abort_unsafe"),
			logging.String(logging.FieldErrorHint, "Secure the observatory manually"))
	}
	p.setPhase(PhaseShutdown)
}

// pauseQueue suspends exposure dispatch ahead of make-safe. An
// unreachable queue daemon cannot dispatch either, so a failed pause is
// logged and shutdown continues; the next cycle tries again.
func (p *Pilot) pauseQueue() {
	p.mu.Lock()
	paused := p.queuePaused
	p.mu.Unlock()
	if paused {
		return
	}
	client, err := p.clientFor(daemons.Exq)
	if err == nil {
		_, err = client.QueuePause()
		if err != nil {
			p.dropClient(daemons.Exq)
		}
	}
	if err != nil {
		p.logger.Warn("could not pause exposure queue",
			logging.Error(err),
			logging.String(logging.FieldEventType, "pilot_queue_pause_failed"))
		return
	}
	p.mu.Lock()
	p.queuePaused = true
	p.mu.Unlock()
}

// makeHardwareSafe is the single park/close/power-off path shared by
// Shutdown and EmergencyAbort. Safe to issue redundantly.
func (p *Pilot) makeHardwareSafe() error {
	var firstErr error
	for _, step := range hardwareSequence {
		if err := p.submitAndWait(step.daemon, ipc.Command{Name: step.command}, opTimeout); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("%s %s: %w", step.daemon, step.command, err)
			}
			continue
		}
	}
	if firstErr == nil {
		p.mu.Lock()
		p.hardwareSafed = true
		p.mu.Unlock()
	}
	return firstErr
}

func (p *Pilot) failNight(err error) {
	p.logger.Error("night failed",
		logging.Error(err),
		logging.String(logging.FieldEventType, "pilot_night_failed"))
	p.mu.Lock()
	if p.abortReason == "" {
		p.abortReason = err.Error()
	}
	p.mu.Unlock()
	p.setPhase(PhaseEmergencyAbort)
}

// evaluateConditions folds staleness into the safety decision: no
// reading, or one older than the configured age, is unsafe.
func (p *Pilot) evaluateConditions(now time.Time) (bool, string) {
	snapshot := p.conds.Current()
	safe, reason := snapshot.Evaluate(now, p.settings.ConditionsMaxAge)
	p.mu.Lock()
	p.safe = safe
	p.safetyReason = reason
	p.mu.Unlock()
	return safe, reason
}

// checkDaemon treats a faulted daemon, a stalled loop, or an
// unresponsive status call as a night-ending fault.
func (p *Pilot) checkDaemon(id daemons.ID) error {
	client, err := p.clientFor(id)
	if err != nil {
		return fmt.Errorf("unreachable: %w", err)
	}
	status, err := p.statusWithTimeout(client)
	if err != nil {
		p.dropClient(id)
		return err
	}
	if status.Status.State == command.StateError {
		reason := "hardware fault"
		if status.Status.LastError != nil {
			reason = status.Status.LastError.Message
		}
		return fmt.Errorf("faulted: %s", reason)
	}
	ping, err := client.Ping()
	if err != nil {
		p.dropClient(id)
		return fmt.Errorf("ping: %w", err)
	}
	if !ping.OK {
		return fmt.Errorf("control loop stalled: %s", ping.Detail)
	}
	return nil
}

// statusWithTimeout guards against a daemon that accepts the connection
// but never answers; the pilot must not block its own loop on it.
func (p *Pilot) statusWithTimeout(client DaemonClient) (*ipc.StatusResponse, error) {
	type result struct {
		resp *ipc.StatusResponse
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		resp, err := client.Status()
		ch <- result{resp: resp, err: err}
	}()
	select {
	case res := <-ch:
		return res.resp, res.err
	case <-time.After(p.settings.StatusTimeout):
		return nil, fmt.Errorf("status call exceeded %s", p.settings.StatusTimeout)
	}
}

// submitAndWait issues one command and polls until the daemon comes
// back to rest, faults, or the bound expires.
func (p *Pilot) submitAndWait(id daemons.ID, cmd ipc.Command, timeout time.Duration) error {
	client, err := p.clientFor(id)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	ack, err := client.Submit(cmd)
	if err != nil {
		p.dropClient(id)
		return fmt.Errorf("submit: %w", err)
	}
	if !ack.Accepted {
		return fmt.Errorf("rejected: %s", ack.Reason)
	}

	poll := p.settings.PollInterval / 4
	if poll < 10*time.Millisecond {
		poll = 10 * time.Millisecond
	}
	deadline := time.Now().Add(timeout)
	for {
		select {
		case <-p.ctx.Done():
			return p.ctx.Err()
		case <-time.After(poll):
		}
		p.touch()

		status, err := p.statusWithTimeout(client)
		if err != nil {
			p.dropClient(id)
			return err
		}
		switch status.Status.State {
		case command.StateError:
			reason := "hardware fault"
			if status.Status.LastError != nil {
				reason = status.Status.LastError.Message
			}
			return fmt.Errorf("faulted: %s", reason)
		case command.StateIdle:
			if status.Status.CurrentCommand == nil && status.Status.QueueDepth == 0 {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%s did not finish within %s", cmd.Name, timeout)
		}
	}
}

// queueDrained reports whether the exposure queue has nothing pending
// or running.
func (p *Pilot) queueDrained() (bool, error) {
	client, err := p.clientFor(daemons.Exq)
	if err != nil {
		return false, fmt.Errorf("dial exposure queue: %w", err)
	}
	status, err := p.statusWithTimeout(client)
	if err != nil {
		p.dropClient(daemons.Exq)
		return false, err
	}
	return status.Status.State == command.StateIdle && status.Status.QueueDepth == 0, nil
}

// calibrationBlock is the standard evening sequence: bias, dark, and a
// flat that doubles as the focus check.
var calibrationBlock = []ipc.ExposureSpec{
	{Target: "calib-bias", ImageType: "bias", ExpTimeMS: 0},
	{Target: "calib-dark", ImageType: "dark", ExpTimeMS: 30000},
	{Target: "calib-flat", ImageType: "flat", Filter: "L", ExpTimeMS: 3000, FocusCheck: true},
}

func (p *Pilot) enqueueCalibration() error {
	client, err := p.clientFor(daemons.Exq)
	if err != nil {
		return fmt.Errorf("dial exposure queue: %w", err)
	}
	for _, spec := range calibrationBlock {
		if _, err := client.Enqueue(ipc.EnqueueRequest{Spec: spec, Priority: 10, RequestedBy: "pilot"}); err != nil {
			p.dropClient(daemons.Exq)
			return err
		}
	}
	p.logger.Info("calibration block enqueued",
		logging.String(logging.FieldEventType, "pilot_calibration"),
		logging.Int("set_count", len(calibrationBlock)))
	return nil
}

// observeTarget slews the mount and enqueues the target's exposure sets.
func (p *Pilot) observeTarget(target *obsplan.Target) error {
	slewArgs := map[string]string{
		"ra_deg":  strconv.FormatFloat(target.RADeg, 'f', 6, 64),
		"dec_deg": strconv.FormatFloat(target.DecDeg, 'f', 6, 64),
	}
	if err := p.submitAndWait(daemons.Mount, ipc.Command{Name: "slew", Args: slewArgs}, opTimeout); err != nil {
		return fmt.Errorf("slew: %w", err)
	}
	if err := p.submitAndWait(daemons.Mount, ipc.Command{Name: "track", Args: nil}, opTimeout); err != nil {
		return fmt.Errorf("track: %w", err)
	}

	client, err := p.clientFor(daemons.Exq)
	if err != nil {
		return fmt.Errorf("dial exposure queue: %w", err)
	}
	for i := 0; i < target.SetCount; i++ {
		spec := ipc.ExposureSpec{
			Target:    target.Name,
			ImageType: "science",
			Filter:    target.Filter,
			ExpTimeMS: int(target.ExpTime / time.Millisecond),
			Binning:   target.Binning,
		}
		if _, err := client.Enqueue(ipc.EnqueueRequest{Spec: spec, Priority: target.Priority, RequestedBy: "pilot"}); err != nil {
			p.dropClient(daemons.Exq)
			return err
		}
	}
	p.logger.Info("target enqueued",
		logging.String(logging.FieldEventType, "pilot_target"),
		logging.String("target", target.Name),
		logging.Int("set_count", target.SetCount))
	return nil
}
