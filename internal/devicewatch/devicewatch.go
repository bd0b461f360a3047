package devicewatch

import (
	"context"
	"strings"
	"sync"

	"log/slog"

	"github.com/pilebones/go-udev/netlink"

	"meridian/internal/logging"
)

// Event describes one hardware attach or detach.
type Event struct {
	// Action is "add" or "remove".
	Action string
	// Device is the /dev node, e.g. /dev/ttyUSB0.
	Device string
}

// Handler receives hardware events. Called from the monitor goroutine.
type Handler func(ctx context.Context, event Event)

// Monitor listens for serial-device hotplug events over udev netlink.
// A nil monitor is a no-op, so hosts without netlink access (or tests)
// can skip it entirely.
type Monitor struct {
	logger  *slog.Logger
	handler Handler

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	running bool
}

// NewMonitor creates a hotplug monitor. The handler may be nil; events
// are then only logged.
func NewMonitor(logger *slog.Logger, handler Handler) *Monitor {
	return &Monitor{
		logger:  logging.NewComponentLogger(logger, "devicewatch"),
		handler: handler,
	}
}

// Start begins listening for udev netlink events. Failure to reach the
// netlink socket is non-fatal: hardware presence then goes unnoticed
// until the affected daemon faults on its own.
func (m *Monitor) Start(ctx context.Context) error {
	if m == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		m.logger.Warn("failed to connect to netlink socket; hotplug detection disabled",
			logging.Error(err),
			logging.String(logging.FieldEventType, "devicewatch_connect_failed"),
			logging.String(logging.FieldErrorHint, "ensure the daemon has permission to access netlink sockets"))
		return nil
	}

	m.conn = conn
	m.quit = make(chan struct{})
	m.running = true

	quit := m.quit
	go m.monitorLoop(ctx, quit)

	m.logger.Info("device watch started",
		logging.String(logging.FieldEventType, "devicewatch_started"))
	return nil
}

// Stop shuts the monitor down.
func (m *Monitor) Stop() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	if m.quit != nil {
		close(m.quit)
		m.quit = nil
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.running = false
}

// Running reports whether the monitor is active.
func (m *Monitor) Running() bool {
	if m == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Monitor) monitorLoop(ctx context.Context, quit <-chan struct{}) {
	queue := make(chan netlink.UEvent)
	errs := make(chan error)

	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return
	}

	monitorQuit := conn.Monitor(queue, errs, serialMatcher())

	for {
		select {
		case <-ctx.Done():
			close(monitorQuit)
			return
		case <-quit:
			close(monitorQuit)
			return
		case uevent := <-queue:
			m.handleEvent(ctx, uevent)
		case err := <-errs:
			m.logger.Warn("device watch error",
				logging.Error(err),
				logging.String(logging.FieldEventType, "devicewatch_error"),
				logging.String(logging.FieldErrorHint, "check kernel netlink subsystem"))
		}
	}
}

// serialMatcher selects tty subsystem add/remove events, which covers
// the USB-serial bridges observatory hardware hangs off.
func serialMatcher() netlink.Matcher {
	action := "add|remove"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "tty",
		},
	})
	return rules
}

func (m *Monitor) handleEvent(ctx context.Context, uevent netlink.UEvent) {
	device := extractDeviceName(uevent)
	if device == "" {
		return
	}
	event := Event{Action: string(uevent.Action), Device: device}
	m.logger.Info("serial device event",
		logging.String(logging.FieldEventType, "devicewatch_event"),
		logging.String("action", event.Action),
		logging.String("device", event.Device))
	if m.handler != nil {
		m.handler(ctx, event)
	}
}

func extractDeviceName(uevent netlink.UEvent) string {
	if devname := uevent.Env["DEVNAME"]; devname != "" {
		if strings.HasPrefix(devname, "/dev/") {
			return devname
		}
		return "/dev/" + devname
	}
	devpath := uevent.Env["DEVPATH"]
	if devpath == "" {
		return ""
	}
	parts := strings.Split(devpath, "/")
	if len(parts) == 0 {
		return ""
	}
	return "/dev/" + parts[len(parts)-1]
}
