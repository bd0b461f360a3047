package main

import (
	"fmt"
	"os/user"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"meridian/internal/daemons"
	"meridian/internal/ipc"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Manage the exposure queue",
	}
	cmd.AddCommand(newQueueAddCommand(ctx))
	cmd.AddCommand(newQueueListCommand(ctx))
	cmd.AddCommand(newQueueCancelCommand(ctx))
	cmd.AddCommand(newQueuePauseCommand(ctx))
	cmd.AddCommand(newQueueResumeCommand(ctx))
	cmd.AddCommand(newQueueClearCommand(ctx))
	return cmd
}

func newQueueAddCommand(ctx *commandContext) *cobra.Command {
	var (
		target     string
		imageType  string
		frameType  string
		filter     string
		expTime    time.Duration
		binning    int
		priority   int
		units      []int
		focusCheck bool
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Enqueue an exposure set",
		RunE: func(cmd *cobra.Command, args []string) error {
			spec := ipc.ExposureSpec{
				Target:     target,
				ImageType:  imageType,
				FrameType:  frameType,
				Filter:     filter,
				ExpTimeMS:  int(expTime.Milliseconds()),
				Binning:    binning,
				UnitMask:   units,
				FocusCheck: focusCheck,
			}
			return ctx.withClient(daemons.Exq, func(client *ipc.Client) error {
				resp, err := client.Enqueue(ipc.EnqueueRequest{
					Spec:        spec,
					Priority:    priority,
					RequestedBy: currentUser(),
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "enqueued entry %d\n", resp.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "Target name")
	cmd.Flags().StringVar(&imageType, "image-type", "science", "Image type (science, bias, dark, flat, focus)")
	cmd.Flags().StringVar(&frameType, "frame-type", "normal", "Frame type (normal, glance)")
	cmd.Flags().StringVar(&filter, "filter", "", "Filter name, empty keeps the current filter")
	cmd.Flags().DurationVar(&expTime, "exptime", 0, "Exposure time, e.g. 30s or 500ms")
	cmd.Flags().IntVar(&binning, "binning", 1, "Pixel binning factor")
	cmd.Flags().IntVar(&priority, "priority", 0, "Dispatch priority, higher runs first")
	cmd.Flags().IntSliceVar(&units, "unit", nil, "Camera unit index (repeatable, default all)")
	cmd.Flags().BoolVar(&focusCheck, "focus-check", false, "Run a focus confirmation before exposing")
	return cmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var (
		statuses []string
		jsonOut  bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List exposure queue entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(daemons.Exq, func(client *ipc.Client) error {
				resp, err := client.QueueList(statuses)
				if err != nil {
					return err
				}
				if jsonOut {
					return emitJSON(cmd.OutOrStdout(), resp)
				}

				stdout := cmd.OutOrStdout()
				if resp.Paused {
					fmt.Fprintln(stdout, "Dispatch is paused")
				}
				if len(resp.Entries) == 0 {
					fmt.Fprintln(stdout, "Queue is empty")
					return nil
				}

				view := newTableView("ID", "Target", "Type", "Filter", "Exp", "Pri", "Status", "Attempts", "Error").
					rightAlign(1, 5, 6, 8)
				for _, entry := range resp.Entries {
					view.addRow(queueRow(entry)...)
				}
				fmt.Fprintln(stdout, view.render())
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Filter by status (pending, running, done, failed, cancelled)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON instead of a table")
	return cmd
}

func newQueueCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a pending or running entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid entry id %q", args[0])
			}
			return ctx.withClient(daemons.Exq, func(client *ipc.Client) error {
				resp, err := client.Cancel(id)
				if err != nil {
					return err
				}
				if !resp.Cancelled {
					fmt.Fprintf(cmd.OutOrStdout(), "entry %d was already finished\n", id)
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cancelled entry %d\n", id)
				return nil
			})
		},
	}
}

func newQueuePauseCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "pause",
		Short: "Pause dispatch without dropping entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(daemons.Exq, func(client *ipc.Client) error {
				if _, err := client.QueuePause(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "dispatch paused")
				return nil
			})
		},
	}
}

func newQueueResumeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume dispatch",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(daemons.Exq, func(client *ipc.Client) error {
				if _, err := client.QueueResume(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "dispatch resumed")
				return nil
			})
		},
	}
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove finished entries from the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(daemons.Exq, func(client *ipc.Client) error {
				resp, err := client.QueueClear(all)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d entries\n", resp.Removed)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Also remove pending entries")
	return cmd
}

func queueRow(entry ipc.QueueEntry) []string {
	exp := (time.Duration(entry.Spec.ExpTimeMS) * time.Millisecond).String()
	attempts := fmt.Sprintf("%d/%d", entry.Attempts, entry.MaxAttempts)
	return []string{
		strconv.FormatInt(entry.ID, 10),
		entry.Spec.Target,
		entry.Spec.ImageType,
		entry.Spec.Filter,
		exp,
		strconv.Itoa(entry.Priority),
		entry.Status,
		attempts,
		entry.LastError,
	}
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "operator"
}
