package domain

import (
	"strings"
	"time"
)

// CycleMode identifies whether a pipeline run could affect routing.
type CycleMode string

// CycleMode values.
const (
	CycleModeShadow   CycleMode = "shadow"
	CycleModeEnforced CycleMode = "enforced"
)

// SuppressionReason names the invariant that vetoed a candidate.
type SuppressionReason string

// SuppressionReason values in evaluation order.
const (
	SuppressionSameOriginAttach   SuppressionReason = "same_origin_attach"
	SuppressionAntiSelfTrigger    SuppressionReason = "anti_self_trigger"
	SuppressionLineageCap         SuppressionReason = "lineage_cap"
	SuppressionCooldown           SuppressionReason = "cooldown"
	SuppressionMateriality        SuppressionReason = "materiality"
	SuppressionProjectionImmunity SuppressionReason = "projection_immunity"
	SuppressionPolicyGate         SuppressionReason = "policy_gate"
)

// SuppressionReasons returns every reason in evaluation order.
func SuppressionReasons() []SuppressionReason {
	return []SuppressionReason{
		SuppressionSameOriginAttach,
		SuppressionAntiSelfTrigger,
		SuppressionLineageCap,
		SuppressionCooldown,
		SuppressionMateriality,
		SuppressionProjectionImmunity,
		SuppressionPolicyGate,
	}
}

// CycleSnapshot is the immutable telemetry record of one pipeline run.
type CycleSnapshot struct {
	CycleID                 string         `json:"cycle_id"`
	Phase                   string         `json:"phase"`
	Mode                    CycleMode      `json:"mode"`
	RootEventIDs            []string       `json:"root_event_ids"`
	CandidateCount          int            `json:"candidate_count"`
	AdmittedClusterCount    int            `json:"admitted_cluster_count"`
	SuppressionReasonCounts map[string]int `json:"suppression_reason_counts"`
	RecordedAt              string         `json:"recorded_at,omitempty"`
}

// CycleSnapshotInput holds raw values for NewCycleSnapshot.
type CycleSnapshotInput struct {
	CycleID                 string
	Phase                   string
	Mode                    CycleMode
	RootEventIDs            []string
	CandidateCount          int
	AdmittedClusterCount    int
	SuppressionReasonCounts map[string]int
}

// NewCycleSnapshot validates and normalizes one telemetry record.
func NewCycleSnapshot(in CycleSnapshotInput, now time.Time) (CycleSnapshot, error) {
	in.CycleID = strings.TrimSpace(in.CycleID)
	in.Phase = strings.TrimSpace(in.Phase)
	if in.CycleID == "" {
		return CycleSnapshot{}, ErrInvalidCycleID
	}
	switch in.Mode {
	case CycleModeShadow, CycleModeEnforced:
	default:
		return CycleSnapshot{}, ErrInvalidCycleMode
	}
	if in.CandidateCount < 0 || in.AdmittedClusterCount < 0 || in.AdmittedClusterCount > in.CandidateCount {
		return CycleSnapshot{}, ErrInvalidCycleCounts
	}
	counts := make(map[string]int, len(in.SuppressionReasonCounts))
	for reason, count := range in.SuppressionReasonCounts {
		if count <= 0 {
			continue
		}
		counts[reason] = count
	}
	if in.Phase == "" {
		in.Phase = "dispatch"
	}
	return CycleSnapshot{
		CycleID:                 in.CycleID,
		Phase:                   in.Phase,
		Mode:                    in.Mode,
		RootEventIDs:            NormalizeSections(in.RootEventIDs),
		CandidateCount:          in.CandidateCount,
		AdmittedClusterCount:    in.AdmittedClusterCount,
		SuppressionReasonCounts: counts,
		RecordedAt:              now.UTC().Format(time.RFC3339),
	}, nil
}
