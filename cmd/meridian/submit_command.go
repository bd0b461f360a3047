package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"meridian/internal/ipc"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var (
		unit     int
		argPairs []string
	)

	cmd := &cobra.Command{
		Use:   "submit <daemon> <command>",
		Short: "Submit a command to a daemon",
		Long: "Submit a command to a daemon. The daemon acknowledges " +
			"immediately; rejection reasons (overload, fault, unknown unit) " +
			"are reported without waiting for hardware.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := resolveDaemonArgs(args[:1])
			if err != nil {
				return err
			}

			cmdArgs, err := parseArgPairs(argPairs)
			if err != nil {
				return err
			}

			wire := ipc.Command{Name: strings.TrimSpace(args[1]), Args: cmdArgs}
			if cmd.Flags().Changed("unit") {
				wire.Unit = &unit
			}

			return ctx.withClient(ids[0], func(client *ipc.Client) error {
				resp, err := client.Submit(wire)
				if err != nil {
					return err
				}
				stdout := cmd.OutOrStdout()
				if !resp.Accepted {
					return fmt.Errorf("rejected: %s", resp.Reason)
				}
				fmt.Fprintf(stdout, "accepted %s\n", resp.CommandID)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&unit, "unit", 0, "Target unit index for meta-daemons")
	cmd.Flags().StringArrayVar(&argPairs, "arg", nil, "Command argument as key=value (repeatable)")
	return cmd
}

func newEstopCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "estop <daemon|all>...",
		Short: "Emergency-stop daemons, pre-empting in-flight hardware work",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := resolveDaemonArgs(args)
			if err != nil {
				return err
			}
			stdout := cmd.OutOrStdout()
			var firstErr error
			for _, id := range ids {
				err := ctx.withClient(id, func(client *ipc.Client) error {
					_, err := client.EmergencyStop()
					return err
				})
				if err != nil {
					// Keep stopping the rest; an estop must reach
					// every daemon it can.
					fmt.Fprintf(stdout, "%s: %v\n", id, err)
					if firstErr == nil {
						firstErr = err
					}
					continue
				}
				fmt.Fprintf(stdout, "%s: stopped\n", id)
			}
			return firstErr
		},
	}
}

func parseArgPairs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	args := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !found || key == "" {
			return nil, fmt.Errorf("invalid --arg %q, expected key=value", pair)
		}
		args[key] = value
	}
	return args, nil
}
