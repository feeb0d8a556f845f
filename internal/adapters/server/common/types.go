// Package common provides transport-agnostic server contracts used by HTTP and MCP adapters.
package common

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/hylla/ideadispatch/internal/app"
	"github.com/hylla/ideadispatch/internal/domain"
	"github.com/hylla/ideadispatch/internal/killswitch"
)

// ErrInvalidRequest reports malformed transport input.
var ErrInvalidRequest = errors.New("invalid request")

// ErrNotFound reports missing transport-visible resources.
var ErrNotFound = errors.New("not found")

// ErrConflict reports requests that contradict ledger state.
var ErrConflict = errors.New("conflict")

// ErrUnavailable reports a backing store that could not be reached.
var ErrUnavailable = errors.New("service unavailable")

// Hook run modes accepted by transports.
const (
	HookModeLive  = "live"
	HookModeTrial = "trial"
)

// HookRequest runs one batch of deltas through the pipeline.
type HookRequest struct {
	Mode    string                      `json:"mode,omitempty"`
	Persist bool                        `json:"persist"`
	Events  []domain.ArtifactDeltaEvent `json:"events"`
}

// GateRequest carries operator measurements for one readiness evaluation.
type GateRequest struct {
	Measurements     app.OperatorMeasurements `json:"measurements"`
	KillSwitch       bool                     `json:"kill_switch,omitempty"`
	KillSwitchReason string                   `json:"kill_switch_reason,omitempty"`
}

// KillSwitchRequest engages the advisory override.
type KillSwitchRequest struct {
	Reason string `json:"reason,omitempty"`
	Actor  string `json:"actor,omitempty"`
}

// ValidateRequest carries one raw dispatch packet.
type ValidateRequest struct {
	Packet json.RawMessage `json:"packet"`
}

// TransitionRequest moves one queue entry to a terminal state.
type TransitionRequest struct {
	DispatchID string `json:"dispatch_id"`
	To         string `json:"to"`
	Actor      string `json:"actor,omitempty"`
}

// DispatchService is the surface HTTP and MCP adapters expose.
type DispatchService interface {
	RunHook(context.Context, HookRequest) (app.HookResult, error)
	Rollup(context.Context) (app.RollupResult, error)
	Gate(context.Context, GateRequest) (app.GateDecision, error)
	EngageKillSwitch(context.Context, KillSwitchRequest) (killswitch.Decision, error)
	ValidatePacket(context.Context, ValidateRequest) (app.PacketValidation, error)
	TransitionEntry(context.Context, TransitionRequest) (domain.QueueEntry, error)
	QueueState(context.Context) (domain.QueueStateDocument, error)
}
