package common

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hylla/ideadispatch/internal/app"
	"github.com/hylla/ideadispatch/internal/domain"
	"github.com/hylla/ideadispatch/internal/killswitch"
)

// AppServiceAdapter maps transport contracts onto app.Service.
type AppServiceAdapter struct {
	service *app.Service
}

// NewAppServiceAdapter builds one common adapter over an app.Service instance.
func NewAppServiceAdapter(service *app.Service) *AppServiceAdapter {
	return &AppServiceAdapter{service: service}
}

// RunHook runs a live or trial batch. Pipeline failures come back inside the result, not as errors.
func (a *AppServiceAdapter) RunHook(ctx context.Context, in HookRequest) (app.HookResult, error) {
	if err := a.ready(); err != nil {
		return app.HookResult{}, err
	}
	mode := strings.TrimSpace(strings.ToLower(in.Mode))
	var (
		result app.HookResult
		err    error
	)
	switch mode {
	case "", HookModeLive:
		result, err = a.service.RunHook(ctx, in.Events, in.Persist)
	case HookModeTrial:
		result, err = a.service.RunTrial(ctx, in.Events, in.Persist)
	default:
		return app.HookResult{}, fmt.Errorf("mode must be live or trial, got %q: %w", in.Mode, ErrInvalidRequest)
	}
	if err != nil {
		return result, mapAppError("run hook", err)
	}
	return result, nil
}

// Rollup recomputes the metrics rollup.
func (a *AppServiceAdapter) Rollup(ctx context.Context) (app.RollupResult, error) {
	if err := a.ready(); err != nil {
		return app.RollupResult{}, err
	}
	return a.service.Rollup(ctx), nil
}

// Gate evaluates readiness for the supplied measurements.
func (a *AppServiceAdapter) Gate(ctx context.Context, in GateRequest) (app.GateDecision, error) {
	if err := a.ready(); err != nil {
		return app.GateDecision{}, err
	}
	if err := in.Measurements.Validate(); err != nil {
		return app.GateDecision{}, mapAppError("gate", err)
	}
	return a.service.Gate(ctx, app.GateRequest{
		Measurements:     in.Measurements,
		KillSwitch:       in.KillSwitch,
		KillSwitchReason: strings.TrimSpace(in.KillSwitchReason),
	}), nil
}

// EngageKillSwitch forces advisory mode and records the override.
func (a *AppServiceAdapter) EngageKillSwitch(ctx context.Context, in KillSwitchRequest) (killswitch.Decision, error) {
	if err := a.ready(); err != nil {
		// The override never depends on the service being wired.
		return killswitch.Apply(in.Reason), nil
	}
	decision, err := a.service.EngageKillSwitch(ctx, strings.TrimSpace(in.Reason), strings.TrimSpace(in.Actor))
	if err != nil {
		return decision, mapAppError("engage kill switch", err)
	}
	return decision, nil
}

// ValidatePacket checks one raw packet against the v2 contract.
func (a *AppServiceAdapter) ValidatePacket(_ context.Context, in ValidateRequest) (app.PacketValidation, error) {
	if len(in.Packet) == 0 {
		return app.PacketValidation{}, fmt.Errorf("packet is required: %w", ErrInvalidRequest)
	}
	return app.ValidateDispatchJSON(in.Packet), nil
}

// TransitionEntry moves one queue entry to processed or blocked.
func (a *AppServiceAdapter) TransitionEntry(ctx context.Context, in TransitionRequest) (domain.QueueEntry, error) {
	if err := a.ready(); err != nil {
		return domain.QueueEntry{}, err
	}
	dispatchID := strings.TrimSpace(in.DispatchID)
	if dispatchID == "" {
		return domain.QueueEntry{}, fmt.Errorf("dispatch_id is required: %w", ErrInvalidRequest)
	}
	entry, err := a.service.TransitionEntry(ctx, dispatchID, domain.QueueState(in.To), strings.TrimSpace(in.Actor))
	if err != nil {
		return domain.QueueEntry{}, mapAppError("transition entry", err)
	}
	return entry, nil
}

// QueueState returns the current queue document.
func (a *AppServiceAdapter) QueueState(ctx context.Context) (domain.QueueStateDocument, error) {
	if err := a.ready(); err != nil {
		return domain.QueueStateDocument{}, err
	}
	doc, err := a.service.QueueState(ctx)
	if err != nil {
		return domain.QueueStateDocument{}, mapAppError("queue state", err)
	}
	return doc, nil
}

func (a *AppServiceAdapter) ready() error {
	if a == nil || a.service == nil {
		return fmt.Errorf("app service adapter is not configured: %w", ErrUnavailable)
	}
	return nil
}

// mapAppError maps app and domain errors onto transport sentinels.
func mapAppError(operation string, err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, app.ErrNotFound):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrNotFound, err))
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, app.ErrDuplicateEntry),
		errors.Is(err, app.ErrAppendOnly):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrConflict, err))
	case errors.Is(err, domain.ErrInvalidDispatchID),
		errors.Is(err, domain.ErrInvalidQueueState),
		errors.Is(err, domain.ErrInvalidBusiness),
		errors.Is(err, app.ErrInvalidMeasurement):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrInvalidRequest, err))
	case errors.Is(err, app.ErrLedgerUnavailable):
		return fmt.Errorf("%s: %w", operation, errors.Join(ErrUnavailable, err))
	default:
		return fmt.Errorf("%s: %w", operation, err)
	}
}
