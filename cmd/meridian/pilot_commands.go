package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"meridian/internal/daemons"
	"meridian/internal/ipc"
)

func newPilotCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pilot",
		Short: "Inspect and control the autonomous night pilot",
	}
	cmd.AddCommand(newPilotStatusCommand(ctx))
	cmd.AddCommand(newPilotAbortCommand(ctx))
	return cmd
}

func newPilotStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the pilot's night phase and safety state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(daemons.Pilot, func(client *ipc.Client) error {
				resp, err := client.PilotStatus()
				if err != nil {
					return err
				}
				if jsonOut {
					return emitJSON(cmd.OutOrStdout(), resp)
				}

				stdout := cmd.OutOrStdout()
				fmt.Fprintf(stdout, "Phase:    %s\n", resp.Phase)
				fmt.Fprintf(stdout, "Safe:     %s\n", safetyLine(resp))
				if resp.AbortReason != "" {
					fmt.Fprintf(stdout, "Abort:    %s\n", resp.AbortReason)
				}
				fmt.Fprintf(stdout, "Observed: %d entries this night\n", resp.EntriesObserved)
				if !resp.LastPoll.IsZero() {
					fmt.Fprintf(stdout, "Polled:   %s ago\n", time.Since(resp.LastPoll).Truncate(time.Second))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON instead of text")
	return cmd
}

func newPilotAbortCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "abort [reason...]",
		Short: "Abort the night and make the observatory safe",
		RunE: func(cmd *cobra.Command, args []string) error {
			reason := strings.TrimSpace(strings.Join(args, " "))
			if reason == "" {
				reason = "operator abort"
			}
			return ctx.withClient(daemons.Pilot, func(client *ipc.Client) error {
				resp, err := client.PilotAbort(reason)
				if err != nil {
					return err
				}
				if !resp.Aborting {
					fmt.Fprintln(cmd.OutOrStdout(), "pilot is idle, nothing to abort")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), "abort requested; pilot is making the observatory safe")
				return nil
			})
		},
	}
}

func safetyLine(resp *ipc.PilotStatusResponse) string {
	if resp.Safe {
		return "yes"
	}
	if resp.SafetyReason == "" {
		return "no"
	}
	return "no (" + resp.SafetyReason + ")"
}
