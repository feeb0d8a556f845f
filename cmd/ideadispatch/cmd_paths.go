package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (c *cli) pathsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Print resolved config and data paths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			paths, err := c.resolvePaths()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "app: %s\n", c.appName)
			fmt.Fprintf(out, "dev_mode: %t\n", c.devMode)
			fmt.Fprintf(out, "config: %s\n", paths.ConfigPath)
			fmt.Fprintf(out, "data_dir: %s\n", paths.DataDir)
			fmt.Fprintf(out, "db: %s\n", paths.DBPath)
			fmt.Fprintf(out, "registry: %s\n", paths.RegistryPath)
			fmt.Fprintf(out, "queue_state: %s\n", paths.QueueStatePath)
			fmt.Fprintf(out, "telemetry: %s\n", paths.TelemetryPath)
			fmt.Fprintf(out, "policy: %s\n", paths.PolicyPath)
			return nil
		},
	}
}
