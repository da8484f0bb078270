package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"docflow/internal/preflight"
)

func newHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check directories, disk space, and service endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			for _, line := range renderSectionHeader("Health Checks", colorize) {
				fmt.Fprintln(out, line)
			}

			results := preflight.RunAll(cmd.Context(), cfg)
			for _, result := range results {
				kind := statusOK
				if !result.Passed {
					kind = statusError
				}
				fmt.Fprintln(out, renderStatusLine(result.Name, kind, result.Detail, colorize))
			}

			if failure, failed := preflight.FirstFailure(results); failed {
				return fmt.Errorf("health check failed: %s", failure.Name)
			}
			fmt.Fprintln(out, "\nAll checks passed")
			return nil
		},
	}
}
