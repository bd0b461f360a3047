// Package daemonctl launches, finds, and stops daemon processes on
// behalf of the control CLI. Each daemon runs as its own meridiand
// process addressed through its Unix socket.
package daemonctl

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"meridian/internal/config"
	"meridian/internal/daemons"
	"meridian/internal/ipc"
)

// LaunchOptions controls daemon process launch behavior.
type LaunchOptions struct {
	ConfigPath string
	Sim        bool
}

// StartState describes the outcome of EnsureStarted.
type StartState string

const (
	StartStateStarted        StartState = "started"
	StartStateAlreadyRunning StartState = "already_running"
)

// StartResult captures daemon start orchestration state.
type StartResult struct {
	State    StartState
	Launched bool
}

// Launch starts a detached meridiand process for the named daemon.
func Launch(executablePath string, id daemons.ID, opts LaunchOptions) error {
	if strings.TrimSpace(executablePath) == "" {
		return fmt.Errorf("resolve executable: executable path is empty")
	}

	args := []string{string(id)}
	if cfg := strings.TrimSpace(opts.ConfigPath); cfg != "" {
		args = append(args, "--config", cfg)
	}
	if opts.Sim {
		args = append(args, "--sim")
	}

	proc := exec.Command(executablePath, args...)
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch %s daemon: %w", id, err)
	}
	return proc.Process.Release()
}

// WaitForClient waits for IPC socket availability and returns a
// connected client.
func WaitForClient(socketPath string, timeout time.Duration) (*ipc.Client, error) {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		client, err := ipc.Dial(socketPath)
		if err == nil {
			return client, nil
		}
		lastErr = err
		time.Sleep(200 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("timeout waiting for daemon")
	}
	return nil, fmt.Errorf("daemon failed to start: %w", lastErr)
}

// EnsureStarted makes sure the named daemon process is up, launching it
// when its socket does not answer.
func EnsureStarted(cfg *config.Config, id daemons.ID, executablePath string, opts LaunchOptions, waitTimeout time.Duration) (StartResult, error) {
	socketPath := daemons.SocketPath(cfg, id)
	if client, err := ipc.Dial(socketPath); err == nil {
		defer client.Close()
		if _, pingErr := client.Ping(); pingErr == nil {
			return StartResult{State: StartStateAlreadyRunning}, nil
		}
	}

	if err := Launch(executablePath, id, opts); err != nil {
		return StartResult{}, err
	}
	client, err := WaitForClient(socketPath, waitTimeout)
	if err != nil {
		return StartResult{}, err
	}
	defer client.Close()
	if _, err := client.Ping(); err != nil {
		return StartResult{}, fmt.Errorf("daemon %s unresponsive after launch: %w", id, err)
	}
	return StartResult{State: StartStateStarted, Launched: true}, nil
}

// RequestShutdown asks the daemon to exit and waits for its socket to
// disappear.
func RequestShutdown(cfg *config.Config, id daemons.ID, timeout time.Duration) error {
	socketPath := daemons.SocketPath(cfg, id)
	client, err := ipc.Dial(socketPath)
	if err != nil {
		if isSocketGone(err) {
			return nil
		}
		return fmt.Errorf("dial %s daemon: %w", id, err)
	}
	_, shutdownErr := client.Shutdown()
	_ = client.Close()
	if shutdownErr != nil {
		return fmt.Errorf("shutdown %s daemon: %w", id, shutdownErr)
	}
	return WaitForShutdown(socketPath, timeout)
}

// WaitForShutdown waits for the daemon's IPC socket to stop answering.
func WaitForShutdown(socketPath string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		client, err := ipc.Dial(socketPath)
		if err != nil {
			return nil
		}
		_ = client.Close()
		time.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("daemon did not stop within %s", timeout)
}

// ProcessInfo reports whether the daemon answers on its socket and its
// pid when the pid file is present.
func ProcessInfo(cfg *config.Config, id daemons.ID) (reachable bool, pid int) {
	if client, err := ipc.Dial(daemons.SocketPath(cfg, id)); err == nil {
		reachable = true
		_ = client.Close()
	}
	if data, err := os.ReadFile(daemons.PIDPath(cfg, id)); err == nil {
		if parsed, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil {
			pid = parsed
		}
	}
	return reachable, pid
}

func isSocketGone(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
