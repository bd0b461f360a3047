// Command meridiand hosts a single observatory daemon. The daemon id
// is the first argument; each daemon runs as its own process and
// answers on its own Unix socket.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/gofrs/flock"

	"meridian/internal/config"
	"meridian/internal/daemons"
	"meridian/internal/ipc"
	"meridian/internal/logging"
	"meridian/internal/logs"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "meridiand:", err)
		os.Exit(1)
	}
}

func run() error {
	flags := flag.NewFlagSet("meridiand", flag.ExitOnError)
	configPath := flags.String("config", "", "path to config file")
	sim := flags.Bool("sim", true, "use simulated hardware adapters")
	flags.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: meridiand <daemon-id> [--config path] [--sim]")
		flags.PrintDefaults()
	}

	if len(os.Args) < 2 {
		flags.Usage()
		return fmt.Errorf("missing daemon id")
	}
	info, err := daemons.Lookup(os.Args[1])
	if err != nil {
		return err
	}
	if err := flags.Parse(os.Args[2:]); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	logger, err := logging.New(logging.Options{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", logs.FilePath(cfg, info.ID)},
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger = logger.With(logging.String(logging.FieldDaemon, string(info.ID)))

	lock := flock.New(daemons.LockPath(cfg, info.ID))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire daemon lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("%s daemon already running", info.ID)
	}
	defer func() { _ = lock.Unlock() }()

	pidPath := daemons.PIDPath(cfg, info.ID)
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer func() { _ = os.Remove(pidPath) }()

	host, err := buildHost(ctx, cfg, info, *sim, logger)
	if err != nil {
		return err
	}
	defer host.Close()

	server, err := ipc.NewServer(ctx, daemons.SocketPath(cfg, info.ID), host.backend, logger, ipc.ServerOptions{
		OnShutdown: cancel,
	})
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer server.Close()
	server.Serve()

	go host.metrics.Serve()

	if err := host.backend.Start(ctx); err != nil {
		return fmt.Errorf("start %s daemon: %w", info.ID, err)
	}

	logger.Info("daemon up",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("socket", daemons.SocketPath(cfg, info.ID)))

	<-ctx.Done()
	host.backend.Stop()
	logger.Info("daemon shutting down",
		logging.String(logging.FieldEventType, "daemon_stopped"))
	return nil
}
