package app

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/hylla/ideadispatch/internal/domain"
)

// Cycle phases recorded in telemetry.
const (
	PhaseLiveHook = "live_hook"
	PhaseTrial    = "trial"
)

// HookPolicy bundles the suppression and routing policies one batch runs under.
type HookPolicy struct {
	Suppression SuppressionPolicy
	Routing     RoutingPolicy
}

// DefaultHookPolicy returns baseline suppression and routing.
func DefaultHookPolicy() HookPolicy {
	return HookPolicy{
		Suppression: DefaultSuppressionPolicy(),
		Routing:     DefaultRoutingPolicy(),
	}
}

// SuppressionRecord explains one vetoed candidate.
type SuppressionRecord struct {
	ArtifactID string                   `json:"artifact_id"`
	AreaAnchor string                   `json:"area_anchor"`
	ClusterKey string                   `json:"cluster_key"`
	Reason     domain.SuppressionReason `json:"reason"`
	Detail     string                   `json:"detail,omitempty"`
}

// PacketRejection records an admitted candidate whose packet failed validation.
type PacketRejection struct {
	DispatchID string   `json:"dispatch_id"`
	Errors     []string `json:"errors"`
}

// HookSnapshot is the consistent state one batch decides against.
type HookSnapshot struct {
	Registry    domain.Registry
	Entries     []domain.QueueEntry
	PriorCycles int
}

// HookResult is returned by the live hook and trial runs. Warnings is empty on success.
type HookResult struct {
	OK           bool                    `json:"ok"`
	Dispatched   []domain.DispatchPacket `json:"dispatched"`
	Suppressed   int                     `json:"suppressed"`
	Noop         int                     `json:"noop"`
	Warnings     []string                `json:"warnings"`
	Error        string                  `json:"error,omitempty"`
	Suppressions []SuppressionRecord     `json:"suppressions,omitempty"`
	Rejected     []PacketRejection       `json:"rejected,omitempty"`
	Cycle        *domain.CycleSnapshot   `json:"cycle,omitempty"`

	// Entries holds the queue entries a caller should append.
	Entries []domain.QueueEntry `json:"-"`
}

// hookFailure converts an adapter failure into the non-throwing result shape.
func hookFailure(err error) HookResult {
	msg := err.Error()
	return HookResult{
		OK:         false,
		Dispatched: []domain.DispatchPacket{},
		Warnings:   []string{msg},
		Error:      msg,
	}
}

// batchInput holds everything one in-order batch observes.
type batchInput struct {
	business string
	snapshot HookSnapshot
	events   []domain.ArtifactDeltaEvent
	mode     domain.DispatchMode
	phase    string
	cycle    domain.CycleMode
	now      time.Time
	policy   HookPolicy
}

// runBatch evaluates events in supplied order. Later events observe earlier admissions.
func runBatch(in batchInput) (HookResult, error) {
	result := HookResult{
		OK:         true,
		Dispatched: []domain.DispatchPacket{},
		Warnings:   []string{},
		Entries:    []domain.QueueEntry{},
	}
	entries := slices.Clone(in.snapshot.Entries)
	reasonCounts := map[string]int{}
	var roots []string
	candidates := 0

	for _, raw := range in.events {
		event, artifact, ok := normalizeEvent(raw, in.snapshot.Registry, in.business)
		if !ok {
			result.Noop++
			continue
		}
		for _, c := range DeriveCandidates(event, artifact, entries) {
			candidates++
			roots = append(roots, c.Lineage.RootEventID)

			verdict := EvaluateSuppression(c, SuppressionState{Entries: entries}, in.policy.Suppression, in.now)
			if !verdict.Admitted {
				result.Suppressed++
				reasonCounts[string(verdict.Reason)]++
				result.Suppressions = append(result.Suppressions, SuppressionRecord{
					ArtifactID: event.ArtifactID,
					AreaAnchor: c.AreaAnchor,
					ClusterKey: c.ClusterKey,
					Reason:     verdict.Reason,
					Detail:     verdict.Detail,
				})
				continue
			}

			packet := BuildPacketV2(PacketInput{Candidate: c, Mode: in.mode, Routing: in.policy.Routing, Now: in.now})
			if validation := ValidateDispatchV2(packet); !validation.Valid {
				result.Rejected = append(result.Rejected, PacketRejection{DispatchID: packet.DispatchID, Errors: validation.Errors})
				continue
			}
			entry, err := domain.NewQueueEntry(packet, in.now)
			if err != nil {
				result.Rejected = append(result.Rejected, PacketRejection{DispatchID: packet.DispatchID, Errors: []string{err.Error()}})
				continue
			}
			entries = append(entries, entry)
			result.Entries = append(result.Entries, entry)
			result.Dispatched = append(result.Dispatched, packet)
		}
	}

	cycle, err := domain.NewCycleSnapshot(domain.CycleSnapshotInput{
		CycleID:                 cycleID(in.business, in.phase, in.snapshot.PriorCycles),
		Phase:                   in.phase,
		Mode:                    in.cycle,
		RootEventIDs:            roots,
		CandidateCount:          candidates,
		AdmittedClusterCount:    len(result.Dispatched),
		SuppressionReasonCounts: reasonCounts,
	}, in.now)
	if err != nil {
		return HookResult{}, fmt.Errorf("build cycle snapshot: %w", err)
	}
	result.Cycle = &cycle
	return result, nil
}

// normalizeEvent resolves one raw event against the registry. False means the event is a no-op.
func normalizeEvent(raw domain.ArtifactDeltaEvent, registry domain.Registry, business string) (domain.ArtifactDeltaEvent, domain.RegistryArtifact, bool) {
	if strings.TrimSpace(raw.Business) == "" {
		raw.Business = business
	}
	if !strings.EqualFold(strings.TrimSpace(raw.Business), strings.TrimSpace(business)) {
		return domain.ArtifactDeltaEvent{}, domain.RegistryArtifact{}, false
	}
	artifact, ok := registry.Lookup(raw.ArtifactID)
	if !ok || !artifact.Active {
		return domain.ArtifactDeltaEvent{}, domain.RegistryArtifact{}, false
	}
	if artifact.Business != "" && !strings.EqualFold(artifact.Business, business) {
		return domain.ArtifactDeltaEvent{}, domain.RegistryArtifact{}, false
	}
	if strings.TrimSpace(raw.Path) == "" {
		raw.Path = artifact.Path
	}
	if strings.TrimSpace(raw.Domain) == "" {
		raw.Domain = artifact.Domain
	}
	event, err := domain.NewArtifactDeltaEvent(domain.ArtifactDeltaInput{
		ArtifactID:       raw.ArtifactID,
		Business:         business,
		BeforeSHA:        raw.BeforeSHA,
		AfterSHA:         raw.AfterSHA,
		Path:             raw.Path,
		Domain:           raw.Domain,
		ChangedSections:  raw.ChangedSections,
		Anchors:          raw.Anchors,
		ProducedBy:       raw.ProducedBy,
		OriginDispatchID: raw.OriginDispatchID,
		Intent:           raw.Intent,
	})
	if err != nil {
		return domain.ArtifactDeltaEvent{}, domain.RegistryArtifact{}, false
	}
	return event, artifact, true
}

func cycleID(business, phase string, prior int) string {
	return fmt.Sprintf("%s-%s-%04d", strings.ToLower(strings.TrimSpace(business)), phase, prior+1)
}
