package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/hylla/ideadispatch/internal/domain"
)

// LiveHookInput is the path-based live hook contract.
type LiveHookInput struct {
	Business       string
	RegistryPath   string
	QueueStatePath string
	TelemetryPath  string
	Events         []domain.ArtifactDeltaEvent
	Clock          Clock
	// Policy defaults to DefaultHookPolicy when nil.
	Policy *HookPolicy
}

// RunLiveHook reads registry, queue state and telemetry, then evaluates one batch of live deltas.
// It never panics and never writes; failures come back as ok=false.
func RunLiveHook(in LiveHookInput) (result HookResult) {
	defer func() {
		if r := recover(); r != nil {
			result = hookFailure(fmt.Errorf("live hook failure: %v", r))
		}
	}()

	for _, required := range []struct{ name, path string }{
		{"registry", in.RegistryPath},
		{"queue state", in.QueueStatePath},
		{"telemetry", in.TelemetryPath},
	} {
		if strings.TrimSpace(required.path) == "" {
			return hookFailure(fmt.Errorf("%s: %w", required.name, ErrMissingPath))
		}
	}
	registry, err := LoadRegistry(in.RegistryPath)
	if err != nil {
		return hookFailure(err)
	}
	queue, err := LoadQueueState(in.QueueStatePath)
	if err != nil {
		return hookFailure(err)
	}
	cycles, skipped, err := LoadTelemetry(in.TelemetryPath)
	if err != nil {
		return hookFailure(err)
	}

	clock := in.Clock
	if clock == nil {
		clock = time.Now
	}
	policy := DefaultHookPolicy()
	if in.Policy != nil {
		policy = *in.Policy
	}
	return RunLiveHookWithSnapshot(in.Business, HookSnapshot{
		Registry:    registry,
		Entries:     queue.Entries,
		PriorCycles: len(cycles) + len(skipped),
	}, in.Events, clock(), policy)
}

// RunLiveHookWithSnapshot is the pure core of the live hook. Packets are tagged mode live.
func RunLiveHookWithSnapshot(business string, snapshot HookSnapshot, events []domain.ArtifactDeltaEvent, now time.Time, policy HookPolicy) (result HookResult) {
	defer func() {
		if r := recover(); r != nil {
			result = hookFailure(fmt.Errorf("live hook failure: %v", r))
		}
	}()
	return runGuardedBatch(business, snapshot, events, now, policy, domain.DispatchModeLive)
}

// RunTrialWithSnapshot evaluates a batch in trial mode, recording a shadow cycle.
func RunTrialWithSnapshot(business string, snapshot HookSnapshot, events []domain.ArtifactDeltaEvent, now time.Time, policy HookPolicy) (result HookResult) {
	defer func() {
		if r := recover(); r != nil {
			result = hookFailure(fmt.Errorf("trial failure: %v", r))
		}
	}()
	return runGuardedBatch(business, snapshot, events, now, policy, domain.DispatchModeTrial)
}

func runGuardedBatch(business string, snapshot HookSnapshot, events []domain.ArtifactDeltaEvent, now time.Time, policy HookPolicy, mode domain.DispatchMode) HookResult {
	business = strings.TrimSpace(business)
	if business == "" {
		return hookFailure(fmt.Errorf("hook business: %w", domain.ErrInvalidBusiness))
	}
	in := batchInput{
		business: business,
		snapshot: snapshot,
		events:   events,
		mode:     mode,
		phase:    PhaseLiveHook,
		cycle:    domain.CycleModeEnforced,
		now:      now.UTC(),
		policy:   policy,
	}
	if mode == domain.DispatchModeTrial {
		in.phase = PhaseTrial
		in.cycle = domain.CycleModeShadow
	}
	result, err := runBatch(in)
	if err != nil {
		return hookFailure(err)
	}
	return result
}
