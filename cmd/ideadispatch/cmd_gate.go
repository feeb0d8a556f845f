package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hylla/ideadispatch/internal/report"
)

func (c *cli) gateCmd() *cobra.Command {
	var (
		measurements measurementFlags
		asJSON       bool
	)
	cmd := &cobra.Command{
		Use:   "gate",
		Short: "Evaluate Option C readiness and the kill switch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := measurements.request(cmd)
			if err != nil {
				return err
			}
			return c.withRuntime(cmd, func(ctx context.Context, rt *runtimeEnv) error {
				decision := rt.svc.Gate(ctx, req)
				rt.logger.Info("gate evaluated",
					"mode", decision.Mode,
					"permitted", decision.Permitted,
					"blockers", len(decision.Readiness.Blockers),
					"kill_switch", decision.KillSwitch != nil,
				)
				out := cmd.OutOrStdout()
				if asJSON {
					return writeJSON(out, decision)
				}
				fmt.Fprintln(out, report.GateBadge(decision))
				fmt.Fprintln(out, report.ThresholdTable(decision))
				for _, blocker := range decision.Readiness.Blockers {
					fmt.Fprintf(out, "  - %s: %s\n", blocker.Code, blocker.Message)
				}
				return nil
			})
		},
	}
	measurements.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full decision as JSON")
	return cmd
}
