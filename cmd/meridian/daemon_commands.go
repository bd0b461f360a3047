package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"meridian/internal/daemonctl"
	"meridian/internal/daemons"
)

const (
	startWait = 10 * time.Second
	stopWait  = 10 * time.Second
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage daemon processes",
	}
	cmd.AddCommand(newDaemonStartCommand(ctx))
	cmd.AddCommand(newDaemonStopCommand(ctx))
	cmd.AddCommand(newDaemonRestartCommand(ctx))
	cmd.AddCommand(newDaemonPingCommand(ctx))
	return cmd
}

func newDaemonStartCommand(ctx *commandContext) *cobra.Command {
	var sim bool
	cmd := &cobra.Command{
		Use:   "start <daemon|all>...",
		Short: "Start daemon processes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := resolveDaemonArgs(args)
			if err != nil {
				return err
			}
			return startDaemons(ctx, cmd, ids, sim)
		},
	}
	cmd.Flags().BoolVar(&sim, "sim", true, "Use simulated hardware adapters")
	return cmd
}

func newDaemonStopCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <daemon|all>...",
		Short: "Stop daemon processes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := resolveDaemonArgs(args)
			if err != nil {
				return err
			}
			return stopDaemons(ctx, cmd, ids)
		},
	}
}

func newDaemonRestartCommand(ctx *commandContext) *cobra.Command {
	var sim bool
	cmd := &cobra.Command{
		Use:   "restart <daemon|all>...",
		Short: "Restart daemon processes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := resolveDaemonArgs(args)
			if err != nil {
				return err
			}
			if err := stopDaemons(ctx, cmd, ids); err != nil {
				return err
			}
			return startDaemons(ctx, cmd, ids, sim)
		},
	}
	cmd.Flags().BoolVar(&sim, "sim", true, "Use simulated hardware adapters")
	return cmd
}

func newDaemonPingCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "ping <daemon|all>...",
		Short: "Check daemon control-loop liveness",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := resolveDaemonArgs(args)
			if err != nil {
				return err
			}
			stdout := cmd.OutOrStdout()
			var failed bool
			for _, id := range ids {
				detail, err := pingReport(ctx, id)
				switch {
				case err != nil:
					failed = true
					fmt.Fprintf(stdout, "%s: unreachable (%v)\n", id, err)
				case detail != "":
					failed = true
					fmt.Fprintf(stdout, "%s: stalled (%s)\n", id, detail)
				default:
					fmt.Fprintf(stdout, "%s: alive\n", id)
				}
			}
			if failed {
				return fmt.Errorf("one or more daemons are not healthy")
			}
			return nil
		},
	}
}

func startDaemons(ctx *commandContext, cmd *cobra.Command, ids []daemons.ID, sim bool) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	exe, err := daemonExecutable()
	if err != nil {
		return err
	}
	opts := daemonctl.LaunchOptions{ConfigPath: ctx.configPath(), Sim: sim}

	stdout := cmd.OutOrStdout()
	for _, id := range ids {
		result, err := daemonctl.EnsureStarted(cfg, id, exe, opts, startWait)
		if err != nil {
			return err
		}
		switch result.State {
		case daemonctl.StartStateAlreadyRunning:
			fmt.Fprintf(stdout, "%s: already running\n", id)
		default:
			fmt.Fprintf(stdout, "%s: started\n", id)
		}
	}
	return nil
}

func stopDaemons(ctx *commandContext, cmd *cobra.Command, ids []daemons.ID) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	stdout := cmd.OutOrStdout()
	for _, id := range ids {
		if err := daemonctl.RequestShutdown(cfg, id, stopWait); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%s: stopped\n", id)
	}
	return nil
}

// daemonExecutable locates meridiand, preferring the directory the CLI
// itself runs from.
func daemonExecutable() (string, error) {
	if self, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(self), "meridiand")
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	path, err := exec.LookPath("meridiand")
	if err != nil {
		return "", fmt.Errorf("locate meridiand executable: %w", err)
	}
	return path, nil
}
