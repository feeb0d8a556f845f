package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hylla/ideadispatch/internal/domain"
	"github.com/hylla/ideadispatch/internal/killswitch"
)

// ServiceConfig holds configuration for service.
type ServiceConfig struct {
	Business         string
	RegistryPath     string
	Policy           HookPolicy
	KillSwitch       bool
	KillSwitchReason string
	Actor            string
}

// IDGenerator returns unique identifiers for new records.
type IDGenerator func() string

// Clock returns the current time.
type Clock func() time.Time

// FileBackedLedger is a ledger whose state lives in the live hook's file formats.
type FileBackedLedger interface {
	Ledger
	Paths() (queueStatePath, telemetryPath string)
}

// Service composes the pure pipeline with a ledger and an audit trail.
type Service struct {
	ledger Ledger
	audit  AuditLog
	idGen  IDGenerator
	clock  Clock
	cfg    ServiceConfig
}

// NewService constructs a new value for this package. audit may be nil.
func NewService(ledger Ledger, audit AuditLog, idGen IDGenerator, clock Clock, cfg ServiceConfig) *Service {
	if idGen == nil {
		idGen = func() string { return "" }
	}
	if clock == nil {
		clock = time.Now
	}
	cfg.Business = strings.TrimSpace(cfg.Business)
	cfg.Actor = strings.TrimSpace(cfg.Actor)
	if cfg.Actor == "" {
		cfg.Actor = DefaultSelfActor
	}
	return &Service{
		ledger: ledger,
		audit:  audit,
		idGen:  idGen,
		clock:  clock,
		cfg:    cfg,
	}
}

// Business returns the business this service dispatches for.
func (s *Service) Business() string {
	return s.cfg.Business
}

// RunHook evaluates live deltas and, when persist is set, appends the admitted entries and cycle.
func (s *Service) RunHook(ctx context.Context, events []domain.ArtifactDeltaEvent, persist bool) (HookResult, error) {
	var result HookResult
	if fileLedger, ok := s.ledger.(FileBackedLedger); ok {
		queuePath, telemetryPath := fileLedger.Paths()
		policy := s.cfg.Policy
		result = RunLiveHook(LiveHookInput{
			Business:       s.cfg.Business,
			RegistryPath:   s.cfg.RegistryPath,
			QueueStatePath: queuePath,
			TelemetryPath:  telemetryPath,
			Events:         events,
			Clock:          s.clock,
			Policy:         &policy,
		})
	} else {
		snapshot, err := s.snapshot(ctx)
		if err != nil {
			return hookFailure(err), nil
		}
		result = RunLiveHookWithSnapshot(s.cfg.Business, snapshot, events, s.clock(), s.cfg.Policy)
	}
	if !result.OK || !persist {
		return result, nil
	}
	if err := s.persist(ctx, domain.DispatchModeLive, result); err != nil {
		return result, err
	}
	return result, nil
}

// RunTrial evaluates deltas in trial mode and records a shadow cycle when persist is set.
func (s *Service) RunTrial(ctx context.Context, events []domain.ArtifactDeltaEvent, persist bool) (HookResult, error) {
	snapshot, err := s.snapshot(ctx)
	if err != nil {
		return hookFailure(err), nil
	}
	result := RunTrialWithSnapshot(s.cfg.Business, snapshot, events, s.clock(), s.cfg.Policy)
	if !result.OK || !persist {
		return result, nil
	}
	if err := s.persist(ctx, domain.DispatchModeTrial, result); err != nil {
		return result, err
	}
	return result, nil
}

// Rollup recomputes the metrics rollup from the ledger.
func (s *Service) Rollup(ctx context.Context) RollupResult {
	now := s.clock()
	if fileLedger, ok := s.ledger.(FileBackedLedger); ok {
		queuePath, telemetryPath := fileLedger.Paths()
		return RunMetricsRollup(telemetryPath, queuePath, now)
	}
	cycles, err := s.ledger.ListCycleSnapshots(ctx)
	if err != nil {
		return RollupResult{Rollup: ZeroRollup(now), Reason: "telemetry unavailable: " + err.Error()}
	}
	queue, err := s.ledger.LoadQueueState(ctx)
	if err != nil {
		return RollupResult{Rollup: ZeroRollup(now), Reason: "queue state unavailable: " + err.Error()}
	}
	return RollupFromSnapshot(cycles, queue.Entries, now, nil)
}

// GateRequest holds operator inputs for one gate evaluation.
type GateRequest struct {
	Measurements     OperatorMeasurements
	KillSwitch       bool
	KillSwitchReason string
}

// Gate recomputes the rollup and the readiness decision, applying the kill switch last.
func (s *Service) Gate(ctx context.Context, req GateRequest) GateDecision {
	rollup := s.Rollup(ctx)
	decision := CheckOptionCGate(rollup.Rollup, req.Measurements, s.clock())
	if req.KillSwitch || s.cfg.KillSwitch {
		kill := killswitch.Apply(req.KillSwitchReason, s.cfg.KillSwitchReason)
		decision = ResolveMode(decision, &kill)
	}
	return decision
}

// EngageKillSwitch returns the advisory override and records it in the audit trail.
func (s *Service) EngageKillSwitch(ctx context.Context, reason, actor string) (killswitch.Decision, error) {
	decision := killswitch.Apply(reason, s.cfg.KillSwitchReason)
	err := s.appendAudit(ctx, AuditRecord{
		Kind:    AuditKindKillSwitch,
		Subject: string(decision.Mode),
		Detail:  decision.Reason,
		Actor:   actor,
	})
	return decision, err
}

// TransitionEntry moves one enqueued entry to processed or blocked.
func (s *Service) TransitionEntry(ctx context.Context, dispatchID string, to domain.QueueState, actor string) (domain.QueueEntry, error) {
	dispatchID = strings.TrimSpace(dispatchID)
	if dispatchID == "" {
		return domain.QueueEntry{}, domain.ErrInvalidDispatchID
	}
	to = domain.NormalizeQueueState(to)
	if !domain.IsValidQueueState(to) {
		return domain.QueueEntry{}, domain.ErrInvalidQueueState
	}
	if strings.TrimSpace(actor) == "" {
		actor = s.cfg.Actor
	}
	transition := domain.NewQueueTransition(s.idGen(), to, actor, s.clock())
	entry, err := s.ledger.TransitionQueueEntry(ctx, dispatchID, transition)
	if err != nil {
		return domain.QueueEntry{}, err
	}
	if err := s.appendAudit(ctx, AuditRecord{
		Kind:    AuditKindQueueTransition,
		Subject: dispatchID,
		Detail:  fmt.Sprintf("%s -> %s", domain.QueueStateEnqueued, to),
		Actor:   actor,
	}); err != nil {
		return entry, err
	}
	return entry, nil
}

// QueueState returns the current queue document.
func (s *Service) QueueState(ctx context.Context) (domain.QueueStateDocument, error) {
	return s.ledger.LoadQueueState(ctx)
}

// CycleSnapshots returns every recorded cycle.
func (s *Service) CycleSnapshots(ctx context.Context) ([]domain.CycleSnapshot, error) {
	return s.ledger.ListCycleSnapshots(ctx)
}

// AuditTrail lists the most recent audit records.
func (s *Service) AuditTrail(ctx context.Context, limit int) ([]AuditRecord, error) {
	if s.audit == nil {
		return []AuditRecord{}, nil
	}
	return s.audit.ListAudit(ctx, limit)
}

// snapshot assembles registry, queue entries and cycle count for one decision.
func (s *Service) snapshot(ctx context.Context) (HookSnapshot, error) {
	registry, err := LoadRegistry(s.cfg.RegistryPath)
	if err != nil {
		return HookSnapshot{}, err
	}
	queue, err := s.ledger.LoadQueueState(ctx)
	if err != nil {
		return HookSnapshot{}, errors.Join(ErrLedgerUnavailable, err)
	}
	cycles, err := s.ledger.ListCycleSnapshots(ctx)
	if err != nil {
		return HookSnapshot{}, errors.Join(ErrLedgerUnavailable, err)
	}
	return HookSnapshot{Registry: registry, Entries: queue.Entries, PriorCycles: len(cycles)}, nil
}

// persist appends entries before the cycle so telemetry never references unknown dispatches.
func (s *Service) persist(ctx context.Context, mode domain.DispatchMode, result HookResult) error {
	if len(result.Entries) > 0 {
		if err := s.ledger.AppendQueueEntries(ctx, s.cfg.Business, mode, result.Entries); err != nil {
			return fmt.Errorf("append queue entries: %w", err)
		}
	}
	if result.Cycle != nil {
		if err := s.ledger.AppendCycleSnapshot(ctx, *result.Cycle); err != nil {
			return fmt.Errorf("append cycle snapshot: %w", err)
		}
	}
	subject := ""
	if result.Cycle != nil {
		subject = result.Cycle.CycleID
	}
	return s.appendAudit(ctx, AuditRecord{
		Kind:    AuditKindHookRun,
		Subject: subject,
		Detail:  fmt.Sprintf("mode=%s dispatched=%d suppressed=%d noop=%d", mode, len(result.Dispatched), result.Suppressed, result.Noop),
		Actor:   s.cfg.Actor,
	})
}

func (s *Service) appendAudit(ctx context.Context, record AuditRecord) error {
	if s.audit == nil {
		return nil
	}
	record.ID = s.idGen()
	record.Business = s.cfg.Business
	record.RecordedAt = s.clock().UTC()
	if err := s.audit.AppendAudit(ctx, record); err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}
	return nil
}
