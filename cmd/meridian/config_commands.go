package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"meridian/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:         "config",
		Short:       "Manage the meridian configuration file",
		Annotations: map[string]string{"skipConfigLoad": "true"},
	}
	cmd.AddCommand(newConfigInitCommand(ctx))
	cmd.AddCommand(newConfigShowCommand(ctx))
	return cmd
}

func newConfigInitCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a sample configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ctx.configPath()
			if path == "" {
				defaultPath, err := config.DefaultConfigPath()
				if err != nil {
					return err
				}
				path = defaultPath
			}
			if err := config.WriteSample(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote sample configuration to %s\n", path)
			return nil
		},
	}
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, resolvedPath, exists, err := config.Load(ctx.configPath())
			if err != nil {
				return err
			}

			stdout := cmd.OutOrStdout()
			source := resolvedPath
			if !exists {
				source = fmt.Sprintf("%s (not found, using defaults)", resolvedPath)
			}
			fmt.Fprintf(stdout, "Config:       %s\n", source)
			fmt.Fprintf(stdout, "Data dir:     %s\n", cfg.Paths.DataDir)
			fmt.Fprintf(stdout, "Log dir:      %s\n", cfg.Paths.LogDir)
			fmt.Fprintf(stdout, "Run dir:      %s\n", cfg.Paths.RunDir)
			fmt.Fprintf(stdout, "Metrics bind: %s\n", orNone(cfg.Paths.MetricsBind))
			fmt.Fprintf(stdout, "Units:        %d cameras, %d filters, %d focusers\n",
				cfg.Units.Cameras, cfg.Units.Filters, cfg.Units.Focusers)
			fmt.Fprintf(stdout, "Night:        %s to %s\n", cfg.Pilot.SunsetTime, cfg.Pilot.SunriseTime)
			return nil
		},
	}
}

func orNone(value string) string {
	if strings.TrimSpace(value) == "" {
		return "(disabled)"
	}
	return value
}
