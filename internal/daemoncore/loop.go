package daemoncore

import (
	"context"
	"errors"
	"sync"
	"time"

	"meridian/internal/command"
	"meridian/internal/hardware"
	"meridian/internal/logging"
)

func (c *Core) run(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.settings.StatusInterval)
	defer ticker.Stop()

	for {
		c.touch()

		// Emergency stop wins over queued work when both are pending.
		select {
		case <-c.estop:
			c.handleEmergencyStop()
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-c.estop:
			c.handleEmergencyStop()
		case cmd := <-c.cmds:
			c.execute(ctx, cmd)
		case <-ticker.C:
			c.mu.Lock()
			c.publishLocked(c.restingStateLocked())
			c.mu.Unlock()
		}
	}
}

// handleEmergencyStop drops pending commands and republishes the resting
// state. The adapters were already interrupted on the caller's goroutine.
func (c *Core) handleEmergencyStop() {
	dropped := 0
	for {
		select {
		case cmd := <-c.cmds:
			dropped++
			c.logger.Info("pending command dropped by emergency stop",
				logging.String(logging.FieldCommand, cmd.Name),
				logging.String(logging.FieldCommandID, cmd.ID))
		default:
			c.mu.Lock()
			c.publishLocked(c.restingStateLocked())
			c.mu.Unlock()
			if dropped > 0 {
				c.logger.Warn("emergency stop drained command queue", logging.Int("dropped", dropped))
			}
			return
		}
	}
}

func (c *Core) execute(ctx context.Context, cmd command.Command) {
	if IsDiagnostic(cmd.Name) {
		c.executeDiagnostic(cmd)
		return
	}

	// An emergency stop may land between the dequeue and this point; the
	// adapter-level interrupt has already fired, so running the command
	// now would clear it unseen. The stop still wins.
	select {
	case <-c.estop:
		c.logger.Info("command pre-empted by emergency stop",
			logging.String(logging.FieldCommand, cmd.Name),
			logging.String(logging.FieldCommandID, cmd.ID))
		c.handleEmergencyStop()
		return
	default:
	}

	units := c.resolveUnits(cmd.Unit)

	c.mu.Lock()
	if c.faultedLocked() {
		// Raced with a fault recorded after submission.
		c.publishLocked(command.StateError)
		c.mu.Unlock()
		return
	}
	c.current = &cmd
	for _, unit := range units {
		c.active[unit] = struct{}{}
	}
	c.publishLocked(command.StateBusy)
	c.mu.Unlock()

	c.logger.Info("command executing",
		logging.String(logging.FieldCommand, cmd.Name),
		logging.String(logging.FieldCommandID, cmd.ID),
		logging.Int(logging.FieldUnit, cmd.Unit))

	// Keep status and the ping stamp fresh while hardware runs.
	refreshDone := make(chan struct{})
	go c.refreshWhileBusy(refreshDone)

	op := hardware.Op{Name: cmd.Name, Args: cmd.Args}
	results := make([]error, len(units))
	if len(units) == 1 {
		_, results[0] = c.adapters[units[0]].Execute(ctx, op)
	} else {
		var wg sync.WaitGroup
		wg.Add(len(units))
		for i, unit := range units {
			go func(i, unit int) {
				defer wg.Done()
				_, results[i] = c.adapters[unit].Execute(ctx, op)
			}(i, unit)
		}
		wg.Wait()
	}
	close(refreshDone)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = nil
	c.active = map[int]struct{}{}

	for i, unit := range units {
		err := results[i]
		switch {
		case err == nil:
		case errors.Is(err, hardware.ErrInterrupted):
			c.logger.Info("unit operation interrupted",
				logging.Int(logging.FieldUnit, unit),
				logging.String(logging.FieldCommandID, cmd.ID))
		default:
			c.unitErrs[unit] = &command.ErrorInfo{
				Kind:       command.ErrKindHardwareFault,
				Message:    err.Error(),
				CommandID:  cmd.ID,
				OccurredAt: time.Now().UTC(),
			}
			c.logger.Error("unit operation failed; daemon requires reset",
				logging.Int(logging.FieldUnit, unit),
				logging.String(logging.FieldCommand, cmd.Name),
				logging.Error(err),
				logging.String(logging.FieldEventType, "hardware_fault"),
				logging.String(logging.FieldErrorHint, "inspect hardware, then issue reset"))
		}
	}

	c.publishLocked(c.restingStateLocked())
}

func (c *Core) executeDiagnostic(cmd command.Command) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch cmd.Name {
	case "reset":
		cleared := 0
		for i := range c.unitErrs {
			if c.unitErrs[i] != nil {
				c.unitErrs[i] = nil
				cleared++
			}
		}
		c.logger.Info("daemon reset", logging.Int("faults_cleared", cleared))
	case "ping", "noop":
	}
	c.publishLocked(c.restingStateLocked())
}

func (c *Core) resolveUnits(unit int) []int {
	if unit == command.UnitAll {
		units := make([]int, len(c.adapters))
		for i := range units {
			units[i] = i
		}
		return units
	}
	return []int{unit}
}

func (c *Core) restingStateLocked() command.State {
	if c.faultedLocked() {
		return command.StateError
	}
	if c.current != nil {
		return command.StateBusy
	}
	return command.StateIdle
}

func (c *Core) refreshWhileBusy(done <-chan struct{}) {
	ticker := time.NewTicker(c.settings.StatusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.touch()
			c.mu.Lock()
			c.publishLocked(c.restingStateLocked())
			c.mu.Unlock()
		}
	}
}
