package daemons

import (
	"fmt"
	"net"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"meridian/internal/config"
	"meridian/internal/hardware"
	"meridian/internal/hardware/sim"
)

// ID names one observatory daemon.
type ID string

const (
	Mount       ID = "mnt"
	Camera      ID = "cam"
	FilterWheel ID = "filt"
	Focuser     ID = "foc"
	Dome        ID = "dome"
	Power       ID = "power"
	Exq         ID = "exq"
	Pilot       ID = "pilot"
)

// Info describes one registered daemon.
type Info struct {
	ID          ID
	DisplayName string
	Description string
	// Meta daemons drive several identical hardware units.
	Meta bool
	// Depends lists daemons that must be reachable before this one starts.
	Depends []ID
}

var registry = map[ID]Info{
	Mount:       {ID: Mount, DisplayName: "Mount", Description: "Telescope mount control"},
	Camera:      {ID: Camera, DisplayName: "Cameras", Description: "CCD camera control", Meta: true, Depends: []ID{Power}},
	FilterWheel: {ID: FilterWheel, DisplayName: "Filter Wheels", Description: "Filter wheel control", Meta: true, Depends: []ID{Power}},
	Focuser:     {ID: Focuser, DisplayName: "Focusers", Description: "Focuser control", Meta: true, Depends: []ID{Power}},
	Dome:        {ID: Dome, DisplayName: "Dome", Description: "Dome shutter control"},
	Power:       {ID: Power, DisplayName: "Power", Description: "Power distribution control"},
	Exq:         {ID: Exq, DisplayName: "Exposure Queue", Description: "Exposure scheduling and dispatch", Depends: []ID{Camera, FilterWheel, Focuser}},
	Pilot:       {ID: Pilot, DisplayName: "Pilot", Description: "Autonomous night orchestrator", Depends: []ID{Mount, Camera, FilterWheel, Focuser, Dome, Power, Exq}},
}

// Hardware lists the daemons that directly own hardware adapters.
var Hardware = []ID{Mount, Camera, FilterWheel, Focuser, Dome, Power}

// All returns every registered daemon in stable order.
func All() []Info {
	infos := make([]Info, 0, len(registry))
	for _, info := range registry {
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Lookup resolves a daemon id string.
func Lookup(raw string) (Info, error) {
	id := ID(strings.ToLower(strings.TrimSpace(raw)))
	info, ok := registry[id]
	if !ok {
		return Info{}, fmt.Errorf("unknown daemon %q", raw)
	}
	return info, nil
}

// SocketPath returns the daemon's IPC socket location.
func SocketPath(cfg *config.Config, id ID) string {
	return filepath.Join(cfg.Paths.RunDir, string(id)+".sock")
}

// LockPath returns the daemon's single-instance lock file.
func LockPath(cfg *config.Config, id ID) string {
	return filepath.Join(cfg.Paths.RunDir, string(id)+".lock")
}

// PIDPath returns the daemon's pid file.
func PIDPath(cfg *config.Config, id ID) string {
	return filepath.Join(cfg.Paths.RunDir, string(id)+".pid")
}

var metricsPortOffset = map[ID]int{
	Mount:       0,
	Camera:      1,
	FilterWheel: 2,
	Focuser:     3,
	Dome:        4,
	Power:       5,
	Exq:         6,
	Pilot:       7,
}

// MetricsBind derives the daemon's metrics address from the configured
// base bind. Each daemon is its own process, so ports are offset per
// daemon to avoid bind conflicts. Returns "" when metrics are disabled
// or the base bind cannot be parsed.
func MetricsBind(cfg *config.Config, id ID) string {
	base := strings.TrimSpace(cfg.Paths.MetricsBind)
	if base == "" {
		return ""
	}
	host, portStr, err := net.SplitHostPort(base)
	if err != nil {
		return ""
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return ""
	}
	if port == 0 {
		return base
	}
	return net.JoinHostPort(host, strconv.Itoa(port+metricsPortOffset[id]))
}

// SimAdapters builds the simulated adapter set for a hardware daemon.
// Meta-daemons get the unit counts fixed by configuration.
func SimAdapters(cfg *config.Config, id ID) ([]hardware.Adapter, error) {
	switch id {
	case Mount:
		return []hardware.Adapter{sim.NewMount()}, nil
	case Dome:
		return []hardware.Adapter{sim.NewDome()}, nil
	case Power:
		return []hardware.Adapter{sim.NewPower()}, nil
	case Camera:
		adapters := make([]hardware.Adapter, cfg.Units.Cameras)
		for i := range adapters {
			adapters[i] = sim.NewCamera(i)
		}
		return adapters, nil
	case FilterWheel:
		adapters := make([]hardware.Adapter, cfg.Units.Filters)
		for i := range adapters {
			adapters[i] = sim.NewFilterWheel(i)
		}
		return adapters, nil
	case Focuser:
		adapters := make([]hardware.Adapter, cfg.Units.Focusers)
		for i := range adapters {
			adapters[i] = sim.NewFocuser(i)
		}
		return adapters, nil
	default:
		return nil, fmt.Errorf("daemon %q does not own hardware adapters", id)
	}
}
