package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/hylla/ideadispatch/internal/adapters/server"
	"github.com/hylla/ideadispatch/internal/adapters/server/common"
)

func (c *cli) serveCmd() *cobra.Command {
	var bind, apiEndpoint, mcpEndpoint string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and MCP tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withRuntime(cmd, func(ctx context.Context, rt *runtimeEnv) error {
				cfg := server.Config{
					HTTPBind:      firstNonEmpty(bind, rt.cfg.Server.HTTPBind),
					APIEndpoint:   firstNonEmpty(apiEndpoint, rt.cfg.Server.APIEndpoint),
					MCPEndpoint:   firstNonEmpty(mcpEndpoint, rt.cfg.Server.MCPEndpoint),
					ServerName:    c.appName,
					ServerVersion: version,
				}
				rt.logger.Info("serving", "bind", cfg.HTTPBind, "api", cfg.APIEndpoint, "mcp", cfg.MCPEndpoint)
				return server.Run(ctx, cfg, server.Dependencies{
					Service: common.NewAppServiceAdapter(rt.svc),
				})
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&bind, "http", "", "listen address (defaults to server.http_bind)")
	f.StringVar(&apiEndpoint, "api-endpoint", "", "REST API mount path")
	f.StringVar(&mcpEndpoint, "mcp-endpoint", "", "MCP mount path")
	return cmd
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
