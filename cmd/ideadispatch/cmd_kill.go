package main

import (
	"context"

	"github.com/spf13/cobra"
)

func (c *cli) killCmd() *cobra.Command {
	var reason, actor string
	cmd := &cobra.Command{
		Use:   "kill",
		Short: "Engage the kill switch and record it in the audit trail",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withRuntime(cmd, func(ctx context.Context, rt *runtimeEnv) error {
				decision, err := rt.svc.EngageKillSwitch(ctx, reason, actor)
				if writeErr := writeJSON(cmd.OutOrStdout(), decision); writeErr != nil {
					return writeErr
				}
				if err != nil {
					return err
				}
				rt.logger.Warn("kill switch engaged", "reason", decision.Reason, "actor", actor)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why autonomous mode is being stopped")
	cmd.Flags().StringVar(&actor, "actor", "", "operator engaging the override")
	return cmd
}
