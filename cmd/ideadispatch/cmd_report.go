package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hylla/ideadispatch/internal/report"
)

func (c *cli) reportCmd() *cobra.Command {
	var (
		measurements measurementFlags
		raw          bool
		style        string
		width        int
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Render the readiness report as markdown",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := measurements.request(cmd)
			if err != nil {
				return err
			}
			return c.withRuntime(cmd, func(ctx context.Context, rt *runtimeEnv) error {
				md := report.Markdown(report.Input{
					Business: rt.svc.Business(),
					Decision: rt.svc.Gate(ctx, req),
					Rollup:   rt.svc.Rollup(ctx),
				})
				out := cmd.OutOrStdout()
				if raw {
					_, err := fmt.Fprint(out, md)
					return err
				}
				_, err := fmt.Fprintln(out, report.NewRenderer(style).Render(md, width))
				return err
			})
		},
	}
	measurements.register(cmd)
	f := cmd.Flags()
	f.BoolVar(&raw, "raw", false, "print markdown without terminal styling")
	f.StringVar(&style, "style", "dark", "glamour style (dark, light, notty)")
	f.IntVar(&width, "width", 100, "wrap width")
	return cmd
}
