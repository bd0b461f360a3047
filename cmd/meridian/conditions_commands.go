package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"meridian/internal/conditions"
)

func newConditionsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conditions",
		Short: "Inspect and set the sky conditions file the pilot watches",
	}
	cmd.AddCommand(newConditionsShowCommand(ctx))
	cmd.AddCommand(newConditionsSetCommand(ctx))
	return cmd
}

func newConditionsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the current conditions snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			snapshot, err := conditions.ReadFile(cfg.Pilot.ConditionsPath)
			if err != nil {
				return err
			}

			stdout := cmd.OutOrStdout()
			safe, reason := snapshot.Evaluate(time.Now(), cfg.ConditionsMaxAge())
			if safe {
				fmt.Fprintln(stdout, "Safe: yes")
			} else {
				fmt.Fprintf(stdout, "Safe: no (%s)\n", reason)
			}
			fmt.Fprintf(stdout, "Observed: %s\n", snapshot.ObservedAt.Local().Format(time.RFC3339))
			return nil
		},
	}
}

func newConditionsSetCommand(ctx *commandContext) *cobra.Command {
	var markUnsafe bool
	cmd := &cobra.Command{
		Use:   "set [reason...]",
		Short: "Write a conditions snapshot, mainly for simulation and drills",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			snapshot := conditions.Snapshot{
				Safe:       !markUnsafe,
				Reason:     strings.TrimSpace(strings.Join(args, " ")),
				ObservedAt: time.Now().UTC(),
			}
			if markUnsafe && snapshot.Reason == "" {
				snapshot.Reason = "set unsafe by operator"
			}
			if err := conditions.WriteFile(cfg.Pilot.ConditionsPath, snapshot); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "conditions written to %s\n", cfg.Pilot.ConditionsPath)
			return nil
		},
	}
	cmd.Flags().BoolVar(&markUnsafe, "unsafe", false, "Mark conditions unsafe")
	return cmd
}
