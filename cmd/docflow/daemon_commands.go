package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"docflow/internal/daemonctl"
	"docflow/internal/daemonrun"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the docflow daemon",
	}

	daemonCmd.AddCommand(newDaemonStartCommand(ctx))
	daemonCmd.AddCommand(newDaemonStopCommand(ctx))
	daemonCmd.AddCommand(newDaemonStatusCommand(ctx))
	daemonCmd.AddCommand(newDaemonRunCommand(ctx))

	return daemonCmd
}

func newDaemonStartCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the docflow daemon in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := os.Executable()
			if err != nil {
				return fmt.Errorf("resolve executable: %w", err)
			}

			opts := daemonctl.LaunchOptions{}
			if ctx.configFlag != nil {
				opts.ConfigPath = strings.TrimSpace(*ctx.configFlag)
			}
			result, err := daemonctl.EnsureStarted(cmd.Context(), ctx.configValue(), exe, opts, 10*time.Second)
			if err != nil {
				return err
			}

			switch result.State {
			case daemonctl.StartStateStarted:
				fmt.Fprintf(stdout, "Daemon started (pid %d)\n", result.PID)
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintln(stdout, "Daemon already running")
			}
			return nil
		},
	}
}

func newDaemonStopCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the docflow daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			result, err := daemonctl.Stop(cmd.Context(), ctx.configValue(), 5*time.Second)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.ForcedKill {
				fmt.Fprintf(stdout, "Daemon did not stop gracefully; killed process %d\n", result.PID)
				return nil
			}
			fmt.Fprintln(stdout, "Daemon stopped")
			return nil
		},
	}
}

func newDaemonStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and pipeline status",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := daemonctl.StatusSnapshot(cmd.Context(), ctx.configValue())
			if err != nil {
				return err
			}

			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)

			for _, line := range renderSectionHeader("Daemon", colorize) {
				fmt.Fprintln(stdout, line)
			}
			if status.Running {
				fmt.Fprintln(stdout, renderStatusLine("Docflow", statusOK, fmt.Sprintf("Running (pid %d)", status.PID), colorize))
				fmt.Fprintln(stdout, renderStatusLine("Database", statusInfo, status.DatabasePath, colorize))
				ceiling := fmt.Sprintf("%d/%d executing", status.Scheduler.AdmissionActive, status.Scheduler.AdmissionCeiling)
				fmt.Fprintln(stdout, renderStatusLine("Admission", statusInfo, ceiling, colorize))
			} else {
				fmt.Fprintln(stdout, renderStatusLine("Docflow", statusWarn, "Not running (run `docflow daemon start`)", colorize))
			}

			if len(status.Scheduler.StageHealth) > 0 {
				fmt.Fprintln(stdout)
				for _, line := range renderSectionHeader("Stages", colorize) {
					fmt.Fprintln(stdout, line)
				}
				for _, health := range status.Scheduler.StageHealth {
					kind := statusOK
					detail := "Ready"
					if !health.Ready {
						kind = statusError
						detail = health.Detail
					}
					fmt.Fprintln(stdout, renderStatusLine(health.Name, kind, detail, colorize))
				}
			}

			fmt.Fprintln(stdout)
			for _, line := range renderSectionHeader("Documents", colorize) {
				fmt.Fprintln(stdout, line)
			}
			rows := buildDocumentStatusRows(status.Scheduler.DocumentStats)
			if len(rows) == 0 {
				fmt.Fprintln(stdout, "No documents")
				return nil
			}
			fmt.Fprintln(stdout, renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
			return nil
		},
	}
}

func newDaemonRunCommand(ctx *commandContext) *cobra.Command {
	var logLevel string
	var skipPreflight bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, daemonrun.Options{
				LogLevel:      logLevel,
				SkipPreflight: skipPreflight,
			})
		},
	}

	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override configured log level")
	cmd.Flags().BoolVar(&skipPreflight, "skip-preflight", false, "Skip startup preflight checks")
	return cmd
}

func buildDocumentStatusRows(stats map[string]int) [][]string {
	keys := make([]string, 0, len(stats))
	for key, count := range stats {
		if count == 0 {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	rows := make([][]string, 0, len(keys))
	for _, key := range keys {
		rows = append(rows, []string{key, fmt.Sprintf("%d", stats[key])})
	}
	return rows
}
