package command

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// UnitAll addresses every hardware unit a meta-daemon manages.
const UnitAll = -1

// Command is one unit of work submitted to a daemon. Immutable once created;
// the daemon owns it from submission until a terminal status is recorded.
type Command struct {
	ID            string
	Name          string
	Args          map[string]string
	Unit          int
	SubmittedAt   time.Time
	Interruptible bool
}

// New creates a command addressed to a single-unit daemon.
func New(name string, args map[string]string) Command {
	return NewForUnit(name, args, 0)
}

// NewForUnit creates a command addressed to one unit (or UnitAll) of a
// meta-daemon.
func NewForUnit(name string, args map[string]string, unit int) Command {
	if args == nil {
		args = map[string]string{}
	}
	return Command{
		ID:            uuid.NewString(),
		Name:          strings.ToLower(strings.TrimSpace(name)),
		Args:          args,
		Unit:          unit,
		SubmittedAt:   time.Now().UTC(),
		Interruptible: true,
	}
}

// Arg returns a named argument, with ok reporting presence.
func (c Command) Arg(key string) (string, bool) {
	value, ok := c.Args[key]
	return value, ok
}

// ArgOr returns a named argument or fallback when absent.
func (c Command) ArgOr(key, fallback string) string {
	if value, ok := c.Args[key]; ok {
		return value
	}
	return fallback
}
