package exq

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"meridian/internal/command"
	"meridian/internal/daemons"
	"meridian/internal/ipc"
	"meridian/internal/logging"
)

// dependencyDaemons are polled for health before each dispatch; an error
// state on any of them suspends the queue.
var dependencyDaemons = []daemons.ID{daemons.Camera, daemons.FilterWheel, daemons.Focuser}

var errEntryCancelled = errors.New("entry cancelled")

func (d *Daemon) loop() {
	defer close(d.done)
	ticker := time.NewTicker(d.settings.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.touch()
			d.tick()
		}
	}
}

func (d *Daemon) tick() {
	if d.paused.Load() {
		return
	}
	if reason := d.dependencyFault(); reason != "" {
		d.setSuspended(reason)
		return
	}
	d.setSuspended("")

	entry, err := d.store.NextPending(d.ctx)
	if err != nil {
		d.logger.Error("failed to read queue",
			logging.Error(err),
			logging.String(logging.FieldEventType, "exq_store_error"),
			logging.String(logging.FieldErrorHint, "Check the exposure queue database for corruption"))
		return
	}
	if entry == nil {
		return
	}
	d.runEntry(entry)
}

func (d *Daemon) runEntry(entry *Entry) {
	entry, err := d.store.MarkRunning(d.ctx, entry.ID)
	if err != nil {
		// Lost the race with a cancel; nothing to do.
		return
	}

	entryCtx, cancel := context.WithCancel(d.ctx)
	d.mu.Lock()
	d.current = entry
	d.cancelCurrent = cancel
	d.mu.Unlock()
	defer func() {
		cancel()
		d.mu.Lock()
		d.current = nil
		d.cancelCurrent = nil
		d.mu.Unlock()
	}()

	d.logger.Info("dispatching exposure set",
		logging.String(logging.FieldEventType, "exq_dispatch"),
		logging.Int64(logging.FieldEntryID, entry.ID),
		logging.String("target", entry.Spec.Target),
		logging.Int("attempt", entry.Attempts),
		logging.Int("priority", entry.Priority))

	execErr := d.executeEntry(entryCtx, entry)

	// A cancel may have landed while the entry ran; leave its state alone.
	latest, err := d.store.GetByID(d.ctx, entry.ID)
	if err == nil && latest.Status != StatusRunning {
		return
	}

	switch {
	case execErr == nil:
		if err := d.store.MarkDone(d.ctx, entry.ID); err == nil {
			d.logger.Info("exposure set complete",
				logging.String(logging.FieldEventType, "exq_done"),
				logging.Int64(logging.FieldEntryID, entry.ID))
		}
	case errors.Is(execErr, errEntryCancelled) || errors.Is(execErr, context.Canceled):
		if _, err := d.store.Cancel(d.ctx, entry.ID); err != nil {
			d.logger.Error("failed to record cancellation",
				logging.Error(err),
				logging.Int64(logging.FieldEntryID, entry.ID))
		}
	default:
		failed, err := d.store.MarkFailed(d.ctx, entry.ID, execErr.Error())
		if err != nil {
			d.logger.Error("failed to record attempt failure",
				logging.Error(err),
				logging.Int64(logging.FieldEntryID, entry.ID))
			return
		}
		d.logger.Warn("exposure set attempt failed",
			logging.Error(execErr),
			logging.String(logging.FieldEventType, "exq_attempt_failed"),
			logging.Int64(logging.FieldEntryID, entry.ID),
			logging.Int("attempt", failed.Attempts),
			logging.Int("max_attempts", failed.MaxAttempts),
			logging.Bool("will_retry", failed.Status == StatusPending))
	}
}

// executeEntry walks one exposure set through its hardware steps:
// filter change, optional focus confirmation, binning, exposure, readout.
func (d *Daemon) executeEntry(ctx context.Context, entry *Entry) error {
	spec := entry.Spec
	unit := command.UnitAll

	if spec.NeedsFilter() {
		err := d.step(ctx, daemons.FilterWheel, ipc.Command{
			Name: "set_filter",
			Args: map[string]string{"filter": spec.Filter},
			Unit: &unit,
		}, d.settings.StepTimeout)
		if err != nil {
			return fmt.Errorf("set filter %s: %w", spec.Filter, err)
		}
	}

	if spec.FocusCheck {
		err := d.step(ctx, daemons.Focuser, ipc.Command{
			Name: "confirm",
			Unit: &unit,
		}, d.settings.StepTimeout)
		if err != nil {
			return fmt.Errorf("confirm focus: %w", err)
		}
	}

	err := d.step(ctx, daemons.Camera, ipc.Command{
		Name: "set_binning",
		Args: map[string]string{"binning": strconv.Itoa(spec.Binning)},
		Unit: &unit,
	}, d.settings.StepTimeout)
	if err != nil {
		return fmt.Errorf("set binning %d: %w", spec.Binning, err)
	}

	exposeArgs := map[string]string{
		"duration_ms": strconv.FormatInt(int64(spec.ExpTime/time.Millisecond), 10),
		"frame_type":  spec.FrameType,
		"image_type":  spec.ImageType,
	}
	if spec.Target != "" {
		exposeArgs["target"] = spec.Target
	}
	for _, maskUnit := range spec.UnitMask {
		// The cameras run the same exposure in parallel; a mask narrows
		// the fan-out to the listed units.
		u := maskUnit
		err := d.step(ctx, daemons.Camera, ipc.Command{
			Name: "expose",
			Args: exposeArgs,
			Unit: &u,
		}, d.settings.StepTimeout+spec.ExpTime)
		if err != nil {
			return fmt.Errorf("expose unit %d: %w", maskUnit, err)
		}
	}
	if len(spec.UnitMask) == 0 {
		err := d.step(ctx, daemons.Camera, ipc.Command{
			Name: "expose",
			Args: exposeArgs,
			Unit: &unit,
		}, d.settings.StepTimeout+spec.ExpTime)
		if err != nil {
			return fmt.Errorf("expose: %w", err)
		}
	}

	readUnit := unit
	err = d.step(ctx, daemons.Camera, ipc.Command{
		Name: "readout",
		Unit: &readUnit,
	}, d.settings.StepTimeout)
	if err != nil {
		return fmt.Errorf("readout: %w", err)
	}
	return nil
}

// step submits one command to a hardware daemon and waits for the daemon
// to come back to rest. Entry cancellation interrupts the daemon and
// returns errEntryCancelled.
func (d *Daemon) step(ctx context.Context, id daemons.ID, cmd ipc.Command, timeout time.Duration) error {
	client, err := d.clientFor(id)
	if err != nil {
		return fmt.Errorf("dial %s daemon: %w", id, err)
	}

	ack, err := client.Submit(cmd)
	if err != nil {
		d.dropClient(id)
		return fmt.Errorf("submit to %s daemon: %w", id, err)
	}
	if !ack.Accepted {
		return fmt.Errorf("%s daemon rejected %s: %s", id, cmd.Name, ack.Reason)
	}

	deadline := time.Now().Add(timeout)
	poll := d.settings.PollInterval / 4
	if poll < 10*time.Millisecond {
		poll = 10 * time.Millisecond
	}
	for {
		select {
		case <-ctx.Done():
			if _, err := client.Interrupt(); err != nil {
				d.dropClient(id)
			}
			return errEntryCancelled
		case <-time.After(poll):
		}
		d.touch()

		status, err := client.Status()
		if err != nil {
			d.dropClient(id)
			return fmt.Errorf("status from %s daemon: %w", id, err)
		}
		switch status.Status.State {
		case command.StateError:
			reason := "hardware fault"
			if status.Status.LastError != nil {
				reason = status.Status.LastError.Message
			}
			return fmt.Errorf("%s daemon faulted during %s: %s", id, cmd.Name, reason)
		case command.StateIdle:
			if status.Status.CurrentCommand == nil && status.Status.QueueDepth == 0 {
				return nil
			}
		}
		if time.Now().After(deadline) {
			if _, err := client.Interrupt(); err != nil {
				d.dropClient(id)
			}
			return fmt.Errorf("%s daemon did not finish %s within %s", id, cmd.Name, timeout)
		}
	}
}

// dependencyFault returns a human-readable reason when a dependency
// daemon is unhealthy, or "" when all are dispatchable.
func (d *Daemon) dependencyFault() string {
	for _, id := range dependencyDaemons {
		client, err := d.clientFor(id)
		if err != nil {
			return fmt.Sprintf("%s daemon unreachable: %v", id, err)
		}
		status, err := client.Status()
		if err != nil {
			d.dropClient(id)
			return fmt.Sprintf("%s daemon unreachable: %v", id, err)
		}
		if status.Status.State == command.StateError {
			return fmt.Sprintf("%s daemon in error state", id)
		}
	}
	return ""
}

func (d *Daemon) setSuspended(reason string) {
	d.mu.Lock()
	changed := d.suspendReason != reason
	d.suspendReason = reason
	d.mu.Unlock()
	if changed && reason != "" {
		d.logger.Warn("dispatch suspended",
			logging.String(logging.FieldEventType, "exq_suspended"),
			logging.String("reason", reason))
	} else if changed {
		d.logger.Info("dispatch resumed",
			logging.String(logging.FieldEventType, "exq_resumed"))
	}
}

func (d *Daemon) clientFor(id daemons.ID) (DaemonClient, error) {
	d.mu.Lock()
	client, ok := d.clientCache[id]
	d.mu.Unlock()
	if ok {
		return client, nil
	}
	client, err := d.clients(id)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.clientCache[id] = client
	d.mu.Unlock()
	return client, nil
}

func (d *Daemon) dropClient(id daemons.ID) {
	d.mu.Lock()
	if client, ok := d.clientCache[id]; ok {
		_ = client.Close()
		delete(d.clientCache, id)
	}
	d.mu.Unlock()
}
