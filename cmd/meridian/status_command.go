package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"meridian/internal/command"
	"meridian/internal/daemons"
	"meridian/internal/ipc"
)

// daemonReport is one row of `meridian status`, also used for JSON
// output.
type daemonReport struct {
	Daemon    string                `json:"daemon"`
	Reachable bool                  `json:"reachable"`
	State     string                `json:"state"`
	Detail    string                `json:"detail,omitempty"`
	Status    *command.DaemonStatus `json:"status,omitempty"`
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status [daemon...]",
		Short: "Show daemon states across the observatory",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := statusTargets(args)
			if err != nil {
				return err
			}

			reports := make([]daemonReport, 0, len(ids))
			for _, id := range ids {
				reports = append(reports, gatherReport(ctx, id))
			}

			if jsonOut {
				return emitJSON(cmd.OutOrStdout(), reports)
			}

			view := newTableView("Daemon", "State", "Queue", "Uptime", "Detail").rightAlign(3, 4)
			for _, report := range reports {
				view.addRow(statusRow(report)...)
			}
			fmt.Fprintln(cmd.OutOrStdout(), view.render())
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON instead of a table")
	return cmd
}

func statusTargets(args []string) ([]daemons.ID, error) {
	if len(args) == 0 {
		args = []string{"all"}
	}
	return resolveDaemonArgs(args)
}

func gatherReport(ctx *commandContext, id daemons.ID) daemonReport {
	report := daemonReport{Daemon: string(id), State: "down"}

	client, err := ctx.dialClient(id)
	if err != nil {
		report.Detail = "not running"
		return report
	}
	defer client.Close()

	status, err := client.Status()
	if err != nil {
		report.Detail = err.Error()
		return report
	}
	report.Reachable = true
	report.State = string(status.Status.State)
	report.Status = &status.Status

	if ping, err := client.Ping(); err == nil && !ping.OK {
		report.Detail = ping.Detail
	} else if status.Status.LastError != nil {
		report.Detail = status.Status.LastError.Message
	}
	return report
}

func statusRow(report daemonReport) []string {
	queue := ""
	uptime := ""
	if report.Status != nil {
		queue = strconv.Itoa(report.Status.QueueDepth)
		uptime = formatUptime(report.Status.Uptime(time.Now()))
	}
	return []string{report.Daemon, report.State, queue, uptime, report.Detail}
}

func formatUptime(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	return d.Truncate(time.Second).String()
}

// pingAll reports each daemon's liveness, used by `meridian daemon ping`.
func pingReport(ctx *commandContext, id daemons.ID) (string, error) {
	var detail string
	err := ctx.withClient(id, func(client *ipc.Client) error {
		resp, err := client.Ping()
		if err != nil {
			return err
		}
		if !resp.OK {
			detail = resp.Detail
			if detail == "" {
				detail = "control loop stalled"
			}
		}
		return nil
	})
	return detail, err
}
