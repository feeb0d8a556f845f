package app

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/hylla/ideadispatch/internal/domain"
	"github.com/hylla/ideadispatch/internal/killswitch"
)

// GateMode identifies the autonomy mode a decision point runs under.
type GateMode string

// GateMode values.
const (
	GateModeAdvisory     GateMode = killswitch.ModeAdvisory
	GateModeOptionCReady GateMode = "option_c_ready"
)

// Readiness thresholds. All comparisons are inclusive.
const (
	MinReviewPeriodDays    = 14.0
	MinSampleSize          = 40
	MinRouteAccuracy       = 80.0
	MaxSuppressionVariance = 10.0
	MaxKPIAgeDays          = 7.0
)

// Blocker codes.
const (
	BlockerReviewPeriod        = "review_period_insufficient"
	BlockerSampleSize          = "sample_size_insufficient"
	BlockerRouteAccuracy       = "route_accuracy_insufficient"
	BlockerSuppressionVariance = "suppression_variance_exceeded"
	BlockerKPIStale            = "kpi_snapshot_stale"
	BlockerOperatorEnable      = "operator_enable_required"
)

// OperatorMeasurements are out-of-band inputs. Nil means not supplied and fails its check.
type OperatorMeasurements struct {
	ReviewPeriodDays    *float64 `json:"review_period_days,omitempty"`
	RouteAccuracy       *float64 `json:"route_accuracy,omitempty"`
	SuppressionVariance *float64 `json:"suppression_variance,omitempty"`
	OperatorEnable      *bool    `json:"operator_enable,omitempty"`
}

// Validate rejects measurements that cannot describe a real operating period.
// Omitted values are fine; they fail their threshold instead.
func (m OperatorMeasurements) Validate() error {
	if m.ReviewPeriodDays != nil && *m.ReviewPeriodDays < 0 {
		return fmt.Errorf("review_period_days must be >= 0, got %g: %w", *m.ReviewPeriodDays, ErrInvalidMeasurement)
	}
	if m.RouteAccuracy != nil && (*m.RouteAccuracy < 0 || *m.RouteAccuracy > 100) {
		return fmt.Errorf("route_accuracy must be within [0, 100], got %g: %w", *m.RouteAccuracy, ErrInvalidMeasurement)
	}
	if m.SuppressionVariance != nil && *m.SuppressionVariance < 0 {
		return fmt.Errorf("suppression_variance must be >= 0, got %g: %w", *m.SuppressionVariance, ErrInvalidMeasurement)
	}
	return nil
}

// ThresholdCheck reports one threshold evaluation.
type ThresholdCheck struct {
	Required   float64  `json:"required"`
	Actual     *float64 `json:"actual"`
	Comparator string   `json:"comparator"`
	Met        bool     `json:"met"`
}

// ReadinessThresholds holds the per-threshold detail of one evaluation.
type ReadinessThresholds struct {
	ReviewPeriod        ThresholdCheck `json:"review_period"`
	SampleSize          ThresholdCheck `json:"sample_size"`
	RouteAccuracy       ThresholdCheck `json:"route_accuracy"`
	SuppressionVariance ThresholdCheck `json:"suppression_variance"`
	KPIFreshness        ThresholdCheck `json:"kpi_freshness"`
}

// Blocker is one failing readiness check.
type Blocker struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ReadinessReport accumulates every failing check.
type ReadinessReport struct {
	Ready       bool                `json:"ready"`
	Blockers    []Blocker           `json:"blockers"`
	Thresholds  ReadinessThresholds `json:"thresholds"`
	EvaluatedAt string              `json:"evaluated_at"`
}

// GateDecision is recomputed on every decision point and never persisted.
type GateDecision struct {
	Permitted  bool                 `json:"permitted"`
	Mode       GateMode             `json:"mode"`
	Reason     string               `json:"reason"`
	Readiness  ReadinessReport      `json:"readiness"`
	KillSwitch *killswitch.Decision `json:"kill_switch,omitempty"`
}

// EvaluateOptionCReadiness checks every threshold independently. It never panics.
func EvaluateOptionCReadiness(rollup IdeasMetricsRollup, m OperatorMeasurements, now time.Time) ReadinessReport {
	sample := float64(rollup.AdmittedClusterCount)
	kpiAge := kpiAgeDays(rollup.GeneratedAt, now)

	thresholds := ReadinessThresholds{
		ReviewPeriod:        atLeast(MinReviewPeriodDays, m.ReviewPeriodDays),
		SampleSize:          atLeast(MinSampleSize, &sample),
		RouteAccuracy:       atLeast(MinRouteAccuracy, m.RouteAccuracy),
		SuppressionVariance: atMost(MaxSuppressionVariance, m.SuppressionVariance),
		KPIFreshness:        atMost(MaxKPIAgeDays, kpiAge),
	}

	blockers := []Blocker{}
	if !thresholds.ReviewPeriod.Met {
		blockers = append(blockers, Blocker{
			Code:    BlockerReviewPeriod,
			Message: fmt.Sprintf("review period %s days, need >= %g", describeActual(m.ReviewPeriodDays), MinReviewPeriodDays),
		})
	}
	if !thresholds.SampleSize.Met {
		blockers = append(blockers, Blocker{
			Code:    BlockerSampleSize,
			Message: fmt.Sprintf("admitted cluster count %d, need >= %d", rollup.AdmittedClusterCount, MinSampleSize),
		})
	}
	if !thresholds.RouteAccuracy.Met {
		blockers = append(blockers, Blocker{
			Code:    BlockerRouteAccuracy,
			Message: fmt.Sprintf("route accuracy %s%%, need >= %g%%", describeActual(m.RouteAccuracy), MinRouteAccuracy),
		})
	}
	if !thresholds.SuppressionVariance.Met {
		blockers = append(blockers, Blocker{
			Code:    BlockerSuppressionVariance,
			Message: fmt.Sprintf("suppression variance %s%%, need <= %g%%", describeActual(m.SuppressionVariance), MaxSuppressionVariance),
		})
	}
	if !thresholds.KPIFreshness.Met {
		blockers = append(blockers, Blocker{
			Code:    BlockerKPIStale,
			Message: fmt.Sprintf("kpi snapshot age %s days, need <= %g (generated_at %q)", describeActual(kpiAge), MaxKPIAgeDays, rollup.GeneratedAt),
		})
	}

	return ReadinessReport{
		Ready:       len(blockers) == 0,
		Blockers:    blockers,
		Thresholds:  thresholds,
		EvaluatedAt: now.UTC().Format(time.RFC3339),
	}
}

// CheckOptionCGate adds the strict operator-enable requirement to readiness.
func CheckOptionCGate(rollup IdeasMetricsRollup, m OperatorMeasurements, now time.Time) GateDecision {
	report := EvaluateOptionCReadiness(rollup, m, now)
	if m.OperatorEnable == nil || !*m.OperatorEnable {
		report.Blockers = append(report.Blockers, Blocker{
			Code:    BlockerOperatorEnable,
			Message: "operator_enable must be explicitly true",
		})
		report.Ready = false
	}
	if !report.Ready {
		codes := make([]string, 0, len(report.Blockers))
		for _, blocker := range report.Blockers {
			codes = append(codes, blocker.Code)
		}
		return GateDecision{
			Permitted: false,
			Mode:      GateModeAdvisory,
			Reason:    "blocked: " + strings.Join(codes, ", "),
			Readiness: report,
		}
	}
	return GateDecision{
		Permitted: true,
		Mode:      GateModeOptionCReady,
		Reason:    "all readiness thresholds met and operator enabled",
		Readiness: report,
	}
}

// ResolveMode applies the kill switch as the final override. A nil decision leaves the gate unchanged.
func ResolveMode(gate GateDecision, kill *killswitch.Decision) GateDecision {
	if kill == nil {
		return gate
	}
	override := *kill
	gate.Permitted = false
	gate.Mode = GateMode(override.Mode)
	gate.Reason = override.Reason
	gate.KillSwitch = &override
	return gate
}

// kpiAgeDays returns nil for unparseable timestamps so freshness fails closed.
func kpiAgeDays(generatedAt string, now time.Time) *float64 {
	at, ok := domain.ParseTimestamp(generatedAt)
	if !ok {
		return nil
	}
	age := now.Sub(at).Hours() / 24
	return &age
}

func atLeast(required float64, actual *float64) ThresholdCheck {
	actual = finite(actual)
	check := ThresholdCheck{Required: required, Actual: copyFloat(actual), Comparator: ">="}
	check.Met = actual != nil && *actual >= required
	return check
}

func atMost(required float64, actual *float64) ThresholdCheck {
	actual = finite(actual)
	check := ThresholdCheck{Required: required, Actual: copyFloat(actual), Comparator: "<="}
	check.Met = actual != nil && *actual <= required
	return check
}

// finite treats NaN and infinities as undefined.
func finite(v *float64) *float64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return nil
	}
	return v
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	out := *v
	return &out
}

func describeActual(v *float64) string {
	if v == nil {
		return "undefined"
	}
	return fmt.Sprintf("%g", *v)
}
