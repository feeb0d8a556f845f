package app

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hylla/ideadispatch/internal/domain"
)

// SnapshotVersion identifies the ledger snapshot format.
const SnapshotVersion = "ideadispatch.snapshot.v1"

// Snapshot is a portable copy of one ledger.
type Snapshot struct {
	Version    string                    `json:"version"`
	ExportedAt time.Time                 `json:"exported_at"`
	QueueState domain.QueueStateDocument `json:"queue_state"`
	Cycles     []domain.CycleSnapshot    `json:"cycles"`
	Audit      []AuditRecord             `json:"audit,omitempty"`
}

// ExportSnapshot copies queue state, telemetry and audit trail.
func (s *Service) ExportSnapshot(ctx context.Context) (Snapshot, error) {
	queue, err := s.ledger.LoadQueueState(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	cycles, err := s.ledger.ListCycleSnapshots(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	audit, err := s.AuditTrail(ctx, 0)
	if err != nil {
		return Snapshot{}, err
	}
	if queue.Business == "" {
		queue.Business = s.cfg.Business
	}
	queue.GeneratedAt = s.clock().UTC().Format(time.RFC3339)

	snap := Snapshot{
		Version:    SnapshotVersion,
		ExportedAt: s.clock().UTC(),
		QueueState: queue,
		Cycles:     append([]domain.CycleSnapshot{}, cycles...),
		Audit:      audit,
	}
	snap.sort()
	return snap, nil
}

// ImportSnapshot appends snapshot rows the ledger does not hold yet. Existing rows are never rewritten.
func (s *Service) ImportSnapshot(ctx context.Context, snap Snapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}
	snap.sort()

	current, err := s.ledger.LoadQueueState(ctx)
	if err != nil {
		return err
	}
	known := map[string]struct{}{}
	for _, entry := range current.Entries {
		known[entry.DispatchID] = struct{}{}
	}
	missing := make([]domain.QueueEntry, 0, len(snap.QueueState.Entries))
	for _, entry := range snap.QueueState.Entries {
		if _, ok := known[entry.DispatchID]; ok {
			continue
		}
		missing = append(missing, entry)
	}
	if len(missing) > 0 {
		mode := snap.QueueState.Mode
		if !domain.IsValidDispatchMode(mode) {
			mode = domain.DispatchModeLive
		}
		business := strings.TrimSpace(snap.QueueState.Business)
		if business == "" {
			business = s.cfg.Business
		}
		if err := s.ledger.AppendQueueEntries(ctx, business, mode, missing); err != nil {
			return err
		}
	}

	cycles, err := s.ledger.ListCycleSnapshots(ctx)
	if err != nil {
		return err
	}
	knownCycles := map[string]struct{}{}
	for _, cycle := range cycles {
		knownCycles[cycle.CycleID] = struct{}{}
	}
	for _, cycle := range snap.Cycles {
		if _, ok := knownCycles[cycle.CycleID]; ok {
			continue
		}
		if err := s.ledger.AppendCycleSnapshot(ctx, cycle); err != nil {
			return err
		}
	}
	return nil
}

// Validate validates the requested operation.
func (s *Snapshot) Validate() error {
	if s.Version != "" && s.Version != SnapshotVersion {
		return fmt.Errorf("unsupported snapshot version: %q", s.Version)
	}
	dispatchIDs := map[string]struct{}{}
	for i, entry := range s.QueueState.Entries {
		if strings.TrimSpace(entry.DispatchID) == "" {
			return fmt.Errorf("queue_state.entries[%d].dispatch_id is required", i)
		}
		if !domain.IsValidQueueState(entry.QueueState) {
			return fmt.Errorf("queue_state.entries[%d].queue_state %q is invalid", i, entry.QueueState)
		}
		if _, exists := dispatchIDs[entry.DispatchID]; exists {
			return fmt.Errorf("duplicate dispatch id: %q", entry.DispatchID)
		}
		dispatchIDs[entry.DispatchID] = struct{}{}
	}
	cycleIDs := map[string]struct{}{}
	for i, cycle := range s.Cycles {
		if strings.TrimSpace(cycle.CycleID) == "" {
			return fmt.Errorf("cycles[%d].cycle_id is required", i)
		}
		if _, exists := cycleIDs[cycle.CycleID]; exists {
			return fmt.Errorf("duplicate cycle id: %q", cycle.CycleID)
		}
		cycleIDs[cycle.CycleID] = struct{}{}
	}
	return nil
}

// sort orders rows by time then id so exports are stable.
func (s *Snapshot) sort() {
	entries := s.QueueState.Entries
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].DispatchedAt != entries[j].DispatchedAt {
			return entries[i].DispatchedAt < entries[j].DispatchedAt
		}
		return entries[i].DispatchID < entries[j].DispatchID
	})
	sort.SliceStable(s.Cycles, func(i, j int) bool {
		if s.Cycles[i].RecordedAt != s.Cycles[j].RecordedAt {
			return s.Cycles[i].RecordedAt < s.Cycles[j].RecordedAt
		}
		return s.Cycles[i].CycleID < s.Cycles[j].CycleID
	})
	sort.SliceStable(s.Audit, func(i, j int) bool {
		if !s.Audit[i].RecordedAt.Equal(s.Audit[j].RecordedAt) {
			return s.Audit[i].RecordedAt.Before(s.Audit[j].RecordedAt)
		}
		return s.Audit[i].ID < s.Audit[j].ID
	})
}
