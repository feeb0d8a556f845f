package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hylla/ideadispatch/internal/app"
)

// errPacketInvalid marks a packet that failed dispatch.v2 validation.
var errPacketInvalid = errors.New("packet is invalid")

func (c *cli) validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [packet.json]",
		Short: "Validate one dispatch packet against the dispatch.v2 contract",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := c.loadRuntime(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()
			return rt.track("validate", func() error {
				path := ""
				if len(args) == 1 {
					path = args[0]
				}
				raw, err := readInput(cmd, path)
				if err != nil {
					return fmt.Errorf("read packet: %w", err)
				}
				result := app.ValidateDispatchJSON(raw)
				if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
					return err
				}
				for _, warning := range result.QualityWarnings {
					rt.logger.Warn("packet quality warning", "warning", warning)
				}
				if !result.Valid {
					return fmt.Errorf("%w: %d error(s)", errPacketInvalid, len(result.Errors))
				}
				return nil
			})
		},
	}
}
