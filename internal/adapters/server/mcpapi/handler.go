// Package mcpapi provides a stateless MCP streamable-HTTP adapter.
package mcpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/hylla/ideadispatch/internal/adapters/server/common"
	"github.com/hylla/ideadispatch/internal/app"
	"github.com/hylla/ideadispatch/internal/domain"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// Config captures MCP transport configuration.
type Config struct {
	ServerName    string
	ServerVersion string
	EndpointPath  string
}

// Handler wraps one stateless MCP streamable HTTP handler.
type Handler struct {
	httpHandler http.Handler
}

// NewHandler builds one stateless MCP adapter exposing the dispatch tools.
func NewHandler(cfg Config, service common.DispatchService) (*Handler, error) {
	if service == nil {
		return nil, fmt.Errorf("dispatch service is required")
	}
	cfg = normalizeConfig(cfg)

	mcpSrv := mcpserver.NewMCPServer(
		cfg.ServerName,
		cfg.ServerVersion,
		mcpserver.WithToolCapabilities(false),
	)
	registerPipelineTools(mcpSrv, service)
	registerGateTools(mcpSrv, service)
	registerQueueTools(mcpSrv, service)

	streamable := mcpserver.NewStreamableHTTPServer(
		mcpSrv,
		mcpserver.WithEndpointPath(cfg.EndpointPath),
		mcpserver.WithStateLess(true),
	)
	return &Handler{httpHandler: streamable}, nil
}

// ServeHTTP handles one MCP streamable HTTP request.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.httpHandler == nil {
		http.Error(w, "mcp handler unavailable", http.StatusServiceUnavailable)
		return
	}
	h.httpHandler.ServeHTTP(w, r)
}

// normalizeConfig applies deterministic defaults to MCP adapter config.
func normalizeConfig(cfg Config) Config {
	cfg.ServerName = strings.TrimSpace(cfg.ServerName)
	if cfg.ServerName == "" {
		cfg.ServerName = "ideadispatch"
	}
	cfg.ServerVersion = strings.TrimSpace(cfg.ServerVersion)
	if cfg.ServerVersion == "" {
		cfg.ServerVersion = "dev"
	}
	cfg.EndpointPath = strings.TrimSpace(cfg.EndpointPath)
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/mcp"
	}
	cfg.EndpointPath = "/" + strings.Trim(cfg.EndpointPath, "/")
	return cfg
}

// registerPipelineTools registers the hook, rollup, and packet validation tools.
func registerPipelineTools(srv *mcpserver.MCPServer, service common.DispatchService) {
	srv.AddTool(
		mcp.NewTool(
			"ideas.live_hook",
			mcp.WithDescription("Run one batch of artifact deltas through the dispatch pipeline."),
			mcp.WithArray("events", mcp.Required(), mcp.Description("Artifact delta events")),
			mcp.WithString("mode", mcp.Description("live or trial"), mcp.Enum(common.HookModeLive, common.HookModeTrial)),
			mcp.WithBoolean("persist", mcp.Description("Append admitted entries and the cycle snapshot to the ledger")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var args struct {
				Mode    string                      `json:"mode"`
				Persist bool                        `json:"persist"`
				Events  []domain.ArtifactDeltaEvent `json:"events"`
			}
			if err := req.BindArguments(&args); err != nil {
				return invalidRequestToolResult(err), nil
			}
			result, err := service.RunHook(ctx, common.HookRequest{
				Mode:    args.Mode,
				Persist: args.Persist,
				Events:  args.Events,
			})
			if err != nil {
				return toolResultFromError(err), nil
			}
			out, err := mcp.NewToolResultJSON(result)
			if err != nil {
				return nil, fmt.Errorf("encode live_hook result: %w", err)
			}
			return out, nil
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"ideas.metrics_rollup",
			mcp.WithDescription("Aggregate recorded cycles and queue entries into the metrics rollup."),
		),
		func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			result, err := service.Rollup(ctx)
			if err != nil {
				return toolResultFromError(err), nil
			}
			out, err := mcp.NewToolResultJSON(result)
			if err != nil {
				return nil, fmt.Errorf("encode metrics_rollup result: %w", err)
			}
			return out, nil
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"ideas.validate_packet",
			mcp.WithDescription("Validate one dispatch packet against the dispatch.v2 contract."),
			mcp.WithObject("packet", mcp.Required(), mcp.Description("Dispatch packet object")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var args struct {
				Packet json.RawMessage `json:"packet"`
			}
			if err := req.BindArguments(&args); err != nil {
				return invalidRequestToolResult(err), nil
			}
			if len(args.Packet) == 0 {
				return mcp.NewToolResultError(`invalid_request: required argument "packet" not found`), nil
			}
			result, err := service.ValidatePacket(ctx, common.ValidateRequest{Packet: args.Packet})
			if err != nil {
				return toolResultFromError(err), nil
			}
			out, err := mcp.NewToolResultJSON(result)
			if err != nil {
				return nil, fmt.Errorf("encode validate_packet result: %w", err)
			}
			return out, nil
		},
	)
}

// registerGateTools registers the readiness gate and kill switch tools.
func registerGateTools(srv *mcpserver.MCPServer, service common.DispatchService) {
	srv.AddTool(
		mcp.NewTool(
			"ideas.readiness_gate",
			mcp.WithDescription("Evaluate Option C readiness from the current rollup and operator measurements."),
			mcp.WithObject("measurements", mcp.Description("Operator measurements (review period, precision, overhead)")),
			mcp.WithBoolean("kill_switch", mcp.Description("Force advisory mode for this evaluation")),
			mcp.WithString("kill_switch_reason", mcp.Description("Reason recorded with the kill switch")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var args struct {
				Measurements     app.OperatorMeasurements `json:"measurements"`
				KillSwitch       bool                     `json:"kill_switch"`
				KillSwitchReason string                   `json:"kill_switch_reason"`
			}
			if err := req.BindArguments(&args); err != nil {
				return invalidRequestToolResult(err), nil
			}
			decision, err := service.Gate(ctx, common.GateRequest{
				Measurements:     args.Measurements,
				KillSwitch:       args.KillSwitch,
				KillSwitchReason: args.KillSwitchReason,
			})
			if err != nil {
				return toolResultFromError(err), nil
			}
			out, err := mcp.NewToolResultJSON(decision)
			if err != nil {
				return nil, fmt.Errorf("encode readiness_gate result: %w", err)
			}
			return out, nil
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"ideas.kill_switch",
			mcp.WithDescription("Engage the advisory override. Activation stays blocked until operators re-evaluate."),
			mcp.WithString("reason", mcp.Description("Why the override is engaged")),
			mcp.WithString("actor", mcp.Description("Operator engaging the override")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			decision, err := service.EngageKillSwitch(ctx, common.KillSwitchRequest{
				Reason: req.GetString("reason", ""),
				Actor:  req.GetString("actor", ""),
			})
			payload := map[string]any{"decision": decision}
			if err != nil {
				payload["warning"] = err.Error()
			}
			out, err := mcp.NewToolResultJSON(payload)
			if err != nil {
				return nil, fmt.Errorf("encode kill_switch result: %w", err)
			}
			return out, nil
		},
	)
}

// registerQueueTools registers the queue read and transition tools.
func registerQueueTools(srv *mcpserver.MCPServer, service common.DispatchService) {
	srv.AddTool(
		mcp.NewTool(
			"ideas.queue_state",
			mcp.WithDescription("Return the current dispatch queue document."),
		),
		func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			doc, err := service.QueueState(ctx)
			if err != nil {
				return toolResultFromError(err), nil
			}
			out, err := mcp.NewToolResultJSON(doc)
			if err != nil {
				return nil, fmt.Errorf("encode queue_state result: %w", err)
			}
			return out, nil
		},
	)

	srv.AddTool(
		mcp.NewTool(
			"ideas.transition_entry",
			mcp.WithDescription("Move one enqueued entry to processed or blocked."),
			mcp.WithString("dispatch_id", mcp.Required(), mcp.Description("Dispatch identifier")),
			mcp.WithString("to", mcp.Required(), mcp.Description("Target state"), mcp.Enum(string(domain.QueueStateProcessed), string(domain.QueueStateBlocked))),
			mcp.WithString("actor", mcp.Description("Actor recorded on the transition")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			dispatchID, err := req.RequireString("dispatch_id")
			if err != nil {
				return invalidRequestToolResult(err), nil
			}
			to, err := req.RequireString("to")
			if err != nil {
				return invalidRequestToolResult(err), nil
			}
			entry, err := service.TransitionEntry(ctx, common.TransitionRequest{
				DispatchID: dispatchID,
				To:         to,
				Actor:      req.GetString("actor", ""),
			})
			if err != nil {
				return toolResultFromError(err), nil
			}
			out, err := mcp.NewToolResultJSON(entry)
			if err != nil {
				return nil, fmt.Errorf("encode transition_entry result: %w", err)
			}
			return out, nil
		},
	)
}

// invalidRequestToolResult wraps argument binding failures.
func invalidRequestToolResult(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError("invalid_request: " + err.Error())
}

// toolResultFromError maps service errors into MCP-visible tool errors.
func toolResultFromError(err error) *mcp.CallToolResult {
	switch {
	case err == nil:
		return mcp.NewToolResultError("unknown error")
	case errors.Is(err, common.ErrInvalidRequest):
		return mcp.NewToolResultError("invalid_request: " + err.Error())
	case errors.Is(err, common.ErrNotFound):
		return mcp.NewToolResultError("not_found: " + err.Error())
	case errors.Is(err, common.ErrConflict):
		return mcp.NewToolResultError("conflict: " + err.Error())
	case errors.Is(err, common.ErrUnavailable):
		return mcp.NewToolResultError("unavailable: " + err.Error())
	default:
		return mcp.NewToolResultError("internal_error: " + err.Error())
	}
}
