package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/hylla/ideadispatch/internal/app"
	"github.com/spf13/cobra"
)

func (c *cli) importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <snapshot.json>",
		Short: "Append entries and cycles from a ledger snapshot that the ledger does not hold yet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read snapshot: %w", err)
			}
			var snap app.Snapshot
			if err := json.Unmarshal(content, &snap); err != nil {
				return fmt.Errorf("decode snapshot: %w", err)
			}
			return c.withRuntime(cmd, func(ctx context.Context, rt *runtimeEnv) error {
				if err := rt.svc.ImportSnapshot(ctx, snap); err != nil {
					return fmt.Errorf("import snapshot: %w", err)
				}
				rt.logger.Info("snapshot imported", "path", args[0], "entries", len(snap.QueueState.Entries), "cycles", len(snap.Cycles))
				fmt.Fprintf(cmd.OutOrStdout(), "imported snapshot %s\n", args[0])
				return nil
			})
		},
	}
}
