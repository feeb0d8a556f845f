package app

import (
	"fmt"
	"math"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hylla/ideadispatch/internal/domain"
)

// RollupSchemaVersion identifies the rollup document format.
const RollupSchemaVersion = "ideas-metrics-rollup.v1"

// queueAgePercentile is applied with the nearest-rank method.
const queueAgePercentile = 0.95

// IdeasMetricsRollup is fully derived from cycle snapshots and queue entries.
type IdeasMetricsRollup struct {
	SchemaVersion           string             `json:"schema_version"`
	GeneratedAt             string             `json:"generated_at"`
	CycleCount              int                `json:"cycle_count"`
	CandidateCount          int                `json:"candidate_count"`
	AdmittedClusterCount    int                `json:"admitted_cluster_count"`
	RootEventCount          int                `json:"root_event_count"`
	ModeCounts              map[string]int     `json:"mode_counts"`
	LaneMix                 map[string]int     `json:"lane_mix"`
	QueueAgeP95Days         map[string]float64 `json:"queue_age_p95_days"`
	QueueStateCounts        map[string]int     `json:"queue_state_counts"`
	SuppressionReasonTotals map[string]int     `json:"suppression_reason_totals"`
}

// RollupResult is the non-failing rollup envelope. Ready=false is advisory, not an error.
type RollupResult struct {
	Ready    bool               `json:"ready"`
	Rollup   IdeasMetricsRollup `json:"rollup"`
	Reason   string             `json:"reason,omitempty"`
	Warnings []string           `json:"warnings,omitempty"`
}

// ZeroRollup returns an empty rollup stamped with now.
func ZeroRollup(now time.Time) IdeasMetricsRollup {
	return IdeasMetricsRollup{
		SchemaVersion:           RollupSchemaVersion,
		GeneratedAt:             now.UTC().Format(time.RFC3339),
		ModeCounts:              map[string]int{},
		LaneMix:                 map[string]int{},
		QueueAgeP95Days:         map[string]float64{},
		QueueStateCounts:        map[string]int{},
		SuppressionReasonTotals: map[string]int{},
	}
}

// ComputeRollup reduces cycles and entries into one rollup. Identical inputs yield identical output.
func ComputeRollup(cycles []domain.CycleSnapshot, entries []domain.QueueEntry, now time.Time) (IdeasMetricsRollup, []string) {
	rollup := ZeroRollup(now)
	var warnings []string

	roots := map[string]struct{}{}
	for _, cycle := range cycles {
		rollup.CycleCount++
		rollup.CandidateCount += cycle.CandidateCount
		rollup.AdmittedClusterCount += cycle.AdmittedClusterCount
		if cycle.Mode != "" {
			rollup.ModeCounts[string(cycle.Mode)]++
		}
		for _, root := range cycle.RootEventIDs {
			roots[root] = struct{}{}
		}
		for reason, count := range cycle.SuppressionReasonCounts {
			rollup.SuppressionReasonTotals[reason] += count
		}
	}
	rollup.RootEventCount = len(roots)

	agesByLane := map[string][]float64{}
	for _, entry := range entries {
		state := domain.NormalizeQueueState(entry.QueueState)
		rollup.QueueStateCounts[string(state)]++
		lane := string(domain.LaneForRoute(entry.Packet.RecommendedRoute))
		switch state {
		case domain.QueueStateProcessed:
			rollup.LaneMix[lane]++
		case domain.QueueStateEnqueued:
			at, ok := entry.DispatchedTime()
			if !ok {
				warnings = append(warnings, fmt.Sprintf("entry %s has unparseable dispatched_at %q", entry.DispatchID, entry.DispatchedAt))
				continue
			}
			ageDays := max(now.Sub(at).Hours()/24, 0)
			agesByLane[lane] = append(agesByLane[lane], ageDays)
		}
	}
	for lane, ages := range agesByLane {
		rollup.QueueAgeP95Days[lane] = roundDays(nearestRank(ages, queueAgePercentile))
	}
	return rollup, warnings
}

// RollupFromSnapshot wraps ComputeRollup with the readiness envelope.
func RollupFromSnapshot(cycles []domain.CycleSnapshot, entries []domain.QueueEntry, now time.Time, warnings []string) RollupResult {
	if len(cycles) == 0 {
		return RollupResult{
			Ready:    false,
			Rollup:   ZeroRollup(now),
			Reason:   "no cycle telemetry recorded yet; rollup is advisory until a pipeline run is logged",
			Warnings: warnings,
		}
	}
	rollup, computeWarnings := ComputeRollup(cycles, entries, now)
	return RollupResult{
		Ready:    true,
		Rollup:   rollup,
		Warnings: append(warnings, computeWarnings...),
	}
}

// RunMetricsRollup loads telemetry and queue state concurrently and recomputes the rollup.
// It never returns an error; unreadable inputs produce ready=false with a reason.
func RunMetricsRollup(telemetryPath, queueStatePath string, now time.Time) (result RollupResult) {
	defer func() {
		if r := recover(); r != nil {
			result = RollupResult{Rollup: ZeroRollup(now), Reason: fmt.Sprintf("rollup failure: %v", r)}
		}
	}()

	var (
		cycles   []domain.CycleSnapshot
		skipped  []string
		queue    domain.QueueStateDocument
		g        errgroup.Group
		teleErr  error
		queueErr error
	)
	g.Go(func() error {
		cycles, skipped, teleErr = LoadTelemetry(telemetryPath)
		return nil
	})
	g.Go(func() error {
		queue, queueErr = LoadQueueState(queueStatePath)
		return nil
	})
	_ = g.Wait()

	if teleErr != nil {
		return RollupResult{Rollup: ZeroRollup(now), Reason: "telemetry unavailable: " + teleErr.Error()}
	}
	if queueErr != nil {
		return RollupResult{Rollup: ZeroRollup(now), Reason: "queue state unavailable: " + queueErr.Error(), Warnings: skipped}
	}
	return RollupFromSnapshot(cycles, queue.Entries, now, skipped)
}

// nearestRank returns the p-th percentile using the nearest-rank method: the value at
// rank ceil(p*n) of the ascending sample.
func nearestRank(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	rank := int(math.Ceil(p * float64(len(sorted))))
	rank = min(max(rank, 1), len(sorted))
	return sorted[rank-1]
}

func roundDays(days float64) float64 {
	return math.Round(days*1000) / 1000
}
