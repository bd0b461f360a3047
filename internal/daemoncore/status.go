package daemoncore

import (
	"time"

	"meridian/internal/command"
)

// publishLocked rebuilds and stores the status snapshot. Callers hold c.mu.
func (c *Core) publishLocked(state command.State) {
	now := time.Now().UTC()

	status := &command.DaemonStatus{
		Daemon:     c.id,
		State:      state,
		QueueDepth: len(c.cmds),
		UpdatedAt:  now,
		StartedAt:  c.startedAt,
	}
	if c.current != nil {
		cmd := *c.current
		status.CurrentCommand = &cmd
	}
	for _, errInfo := range c.unitErrs {
		if errInfo != nil {
			copied := *errInfo
			status.LastError = &copied
			break
		}
	}

	if len(c.adapters) == 1 {
		status.Snapshot = map[string]any(c.adapters[0].Poll())
		c.status.Store(status)
		return
	}

	status.Units = make([]command.UnitStatus, len(c.adapters))
	for i, adapter := range c.adapters {
		unitState := command.StateIdle
		if _, busy := c.active[i]; busy {
			unitState = command.StateBusy
		} else if c.unitErrs[i] != nil {
			unitState = command.StateError
		}
		unit := command.UnitStatus{
			Unit:     i,
			State:    unitState,
			Snapshot: map[string]any(adapter.Poll()),
		}
		if c.unitErrs[i] != nil {
			copied := *c.unitErrs[i]
			unit.Err = &copied
		}
		status.Units[i] = unit
	}
	c.status.Store(status)
}
