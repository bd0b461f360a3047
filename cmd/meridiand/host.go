package main

import (
	"context"
	"fmt"
	"log/slog"

	"meridian/internal/conditions"
	"meridian/internal/config"
	"meridian/internal/daemoncore"
	"meridian/internal/daemons"
	"meridian/internal/devicewatch"
	"meridian/internal/exq"
	"meridian/internal/ipc"
	"meridian/internal/metrics"
	"meridian/internal/obsplan"
	"meridian/internal/pilot"
)

// backend is the control surface every hosted daemon exposes. It is
// ipc.Backend plus process lifecycle.
type backend interface {
	ipc.Backend
	Start(ctx context.Context) error
	Stop()
}

// host bundles the daemon backend with its supporting services so main
// can tear everything down in one place.
type host struct {
	backend backend
	metrics *metrics.Server

	devwatch *devicewatch.Monitor
	conds    *conditions.Monitor
	closers  []func() error
}

func (h *host) Close() {
	h.devwatch.Stop()
	if h.conds != nil {
		h.conds.Close()
	}
	h.metrics.Close()
	for _, closeFn := range h.closers {
		_ = closeFn()
	}
}

// buildHost constructs the backend for the named daemon along with its
// metrics endpoint and, for hardware daemons, the hotplug watcher.
func buildHost(ctx context.Context, cfg *config.Config, info daemons.Info, sim bool, logger *slog.Logger) (*host, error) {
	h := &host{}

	switch info.ID {
	case daemons.Exq:
		store, err := exq.Open(cfg)
		if err != nil {
			return nil, fmt.Errorf("open exposure queue store: %w", err)
		}
		h.closers = append(h.closers, store.Close)

		daemon, err := exq.New(store, exq.SocketClientFactory(cfg), exq.SettingsFromConfig(cfg), logger)
		if err != nil {
			return nil, err
		}
		h.backend = daemon

	case daemons.Pilot:
		h.conds = conditions.NewMonitor(cfg.Pilot.ConditionsPath, logger)
		if err := h.conds.Start(ctx); err != nil {
			return nil, fmt.Errorf("watch conditions file: %w", err)
		}

		plan, err := obsplan.Open(cfg.Pilot.PlanDBPath)
		if err != nil {
			return nil, fmt.Errorf("open observing plan: %w", err)
		}
		h.closers = append(h.closers, plan.Close)

		schedule, err := pilot.NewFixedTimes(cfg.Pilot.SunsetTime, cfg.Pilot.SunriseTime)
		if err != nil {
			return nil, fmt.Errorf("night schedule: %w", err)
		}

		p, err := pilot.New(pilot.SocketClientFactory(cfg), h.conds, plan, schedule, pilot.SettingsFromConfig(cfg), logger)
		if err != nil {
			return nil, err
		}
		h.backend = p

	default:
		if !sim {
			return nil, fmt.Errorf("%s daemon: real hardware adapters are not configured; run with --sim", info.ID)
		}
		adapters, err := daemons.SimAdapters(cfg, info.ID)
		if err != nil {
			return nil, err
		}
		core, err := daemoncore.New(string(info.ID), adapters, daemoncore.SettingsFromConfig(cfg), logger)
		if err != nil {
			return nil, err
		}
		h.backend = core

		// Hotplug visibility for the USB-serial bridges real hardware
		// will sit behind. Connection failure downgrades to a warning.
		h.devwatch = devicewatch.NewMonitor(logger, nil)
		if err := h.devwatch.Start(ctx); err != nil {
			return nil, err
		}
	}

	server, err := metrics.NewServer(daemons.MetricsBind(cfg, info.ID), h.backend, logger)
	if err != nil {
		return nil, fmt.Errorf("metrics endpoint: %w", err)
	}
	h.metrics = server

	return h, nil
}
