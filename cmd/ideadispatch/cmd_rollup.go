package main

import (
	"context"

	"github.com/spf13/cobra"
)

func (c *cli) rollupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rollup",
		Short: "Aggregate cycle telemetry and queue state into the metrics rollup",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withRuntime(cmd, func(ctx context.Context, rt *runtimeEnv) error {
				result := rt.svc.Rollup(ctx)
				for _, warning := range result.Warnings {
					rt.logger.Warn("rollup warning", "warning", warning)
				}
				rt.logger.Info("rollup computed", "ready", result.Ready, "cycles", result.Rollup.CycleCount)
				return writeJSON(cmd.OutOrStdout(), result)
			})
		},
	}
}
