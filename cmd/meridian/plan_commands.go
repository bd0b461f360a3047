package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"meridian/internal/obsplan"
)

func newPlanCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Manage the observing plan the pilot works through",
	}
	cmd.AddCommand(newPlanAddCommand(ctx))
	cmd.AddCommand(newPlanListCommand(ctx))
	cmd.AddCommand(newPlanResetCommand(ctx))
	return cmd
}

func withPlanStore(ctx *commandContext, fn func(*obsplan.Store) error) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	store, err := obsplan.Open(cfg.Pilot.PlanDBPath)
	if err != nil {
		return fmt.Errorf("open observing plan: %w", err)
	}
	defer store.Close()
	return fn(store)
}

func newPlanAddCommand(ctx *commandContext) *cobra.Command {
	var (
		name     string
		ra       float64
		dec      float64
		filter   string
		expTime  time.Duration
		binning  int
		setCount int
		priority int
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a target to the observing plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPlanStore(ctx, func(store *obsplan.Store) error {
				id, err := store.AddTarget(cmd.Context(), obsplan.Target{
					Name:     name,
					RADeg:    ra,
					DecDeg:   dec,
					Filter:   filter,
					ExpTime:  expTime,
					Binning:  binning,
					SetCount: setCount,
					Priority: priority,
					Enabled:  true,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "added target %d\n", id)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Target name")
	cmd.Flags().Float64Var(&ra, "ra", 0, "Right ascension in degrees")
	cmd.Flags().Float64Var(&dec, "dec", 0, "Declination in degrees")
	cmd.Flags().StringVar(&filter, "filter", "", "Filter name")
	cmd.Flags().DurationVar(&expTime, "exptime", 0, "Exposure time per frame")
	cmd.Flags().IntVar(&binning, "binning", 0, "Pixel binning factor")
	cmd.Flags().IntVar(&setCount, "sets", 0, "Number of exposure sets")
	cmd.Flags().IntVar(&priority, "priority", 0, "Plan priority, higher observed first")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newPlanListCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List plan targets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPlanStore(ctx, func(store *obsplan.Store) error {
				targets, err := store.Targets(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOut {
					return emitJSON(cmd.OutOrStdout(), targets)
				}

				stdout := cmd.OutOrStdout()
				if len(targets) == 0 {
					fmt.Fprintln(stdout, "Plan is empty")
					return nil
				}
				view := newTableView("ID", "Name", "RA", "Dec", "Filter", "Exp", "Sets", "Pri", "Observed").
					rightAlign(1, 3, 4, 6, 7, 8)
				for _, target := range targets {
					view.addRow(planRow(target)...)
				}
				fmt.Fprintln(stdout, view.render())
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON instead of a table")
	return cmd
}

func newPlanResetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Mark all targets unobserved for the next night",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPlanStore(ctx, func(store *obsplan.Store) error {
				if err := store.ResetObserved(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "plan reset")
				return nil
			})
		},
	}
}

func planRow(target *obsplan.Target) []string {
	observed := "no"
	if !target.ObservedAt.IsZero() {
		observed = target.ObservedAt.Local().Format("15:04:05")
	}
	return []string{
		strconv.FormatInt(target.ID, 10),
		target.Name,
		strconv.FormatFloat(target.RADeg, 'f', 4, 64),
		strconv.FormatFloat(target.DecDeg, 'f', 4, 64),
		target.Filter,
		target.ExpTime.String(),
		strconv.Itoa(target.SetCount),
		strconv.Itoa(target.Priority),
		observed,
	}
}
