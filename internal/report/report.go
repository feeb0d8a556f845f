// Package report renders readiness decisions and rollups for operators.
package report

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/hylla/ideadispatch/internal/app"
)

// Input bundles one gate decision with the rollup it was computed from.
type Input struct {
	Business string
	Decision app.GateDecision
	Rollup   app.RollupResult
}

// thresholdRow labels one readiness check.
type thresholdRow struct {
	name  string
	check app.ThresholdCheck
}

func thresholdRows(decision app.GateDecision) []thresholdRow {
	th := decision.Readiness.Thresholds
	return []thresholdRow{
		{"Review period (days)", th.ReviewPeriod},
		{"Sample size", th.SampleSize},
		{"Route accuracy (%)", th.RouteAccuracy},
		{"Suppression variance (%)", th.SuppressionVariance},
		{"KPI age (days)", th.KPIFreshness},
	}
}

// Markdown builds the readiness report document.
func Markdown(in Input) string {
	var b strings.Builder
	title := "Readiness report"
	if business := strings.TrimSpace(in.Business); business != "" {
		title += " for " + business
	}
	fmt.Fprintf(&b, "# %s\n\n", title)

	fmt.Fprintf(&b, "- **Mode:** `%s`\n", in.Decision.Mode)
	fmt.Fprintf(&b, "- **Permitted:** %s\n", yesNo(in.Decision.Permitted))
	if reason := strings.TrimSpace(in.Decision.Reason); reason != "" {
		fmt.Fprintf(&b, "- **Reason:** %s\n", reason)
	}
	if at := in.Decision.Readiness.EvaluatedAt; at != "" {
		fmt.Fprintf(&b, "- **Evaluated at:** %s\n", at)
	}
	if ks := in.Decision.KillSwitch; ks != nil {
		fmt.Fprintf(&b, "- **Kill switch:** engaged (%s)\n", ks.Reason)
	}

	b.WriteString("\n## Thresholds\n\n")
	b.WriteString("| Check | Required | Actual | Met |\n")
	b.WriteString("|-------|----------|--------|-----|\n")
	for _, row := range thresholdRows(in.Decision) {
		fmt.Fprintf(&b, "| %s | %s %s | %s | %s |\n",
			row.name,
			row.check.Comparator,
			formatFloat(row.check.Required),
			formatActual(row.check.Actual),
			yesNo(row.check.Met),
		)
	}

	b.WriteString("\n## Blockers\n\n")
	if len(in.Decision.Readiness.Blockers) == 0 {
		b.WriteString("None.\n")
	}
	for _, blocker := range in.Decision.Readiness.Blockers {
		fmt.Fprintf(&b, "- `%s`: %s\n", blocker.Code, blocker.Message)
	}

	r := in.Rollup.Rollup
	b.WriteString("\n## Rollup\n\n")
	fmt.Fprintf(&b, "- Cycles: %d\n", r.CycleCount)
	fmt.Fprintf(&b, "- Candidates: %d\n", r.CandidateCount)
	fmt.Fprintf(&b, "- Admitted clusters: %d\n", r.AdmittedClusterCount)
	fmt.Fprintf(&b, "- Root events: %d\n", r.RootEventCount)
	if reason := strings.TrimSpace(in.Rollup.Reason); reason != "" {
		fmt.Fprintf(&b, "- Note: %s\n", reason)
	}
	writeCounts(&b, "Queue states", r.QueueStateCounts)
	writeCounts(&b, "Lane mix", r.LaneMix)
	writeCounts(&b, "Suppression reasons", r.SuppressionReasonTotals)
	return b.String()
}

// writeCounts appends one sorted count table, skipping empty maps.
func writeCounts(b *strings.Builder, heading string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for key := range counts {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	fmt.Fprintf(b, "\n### %s\n\n| Key | Count |\n|-----|-------|\n", heading)
	for _, key := range keys {
		fmt.Fprintf(b, "| %s | %d |\n", key, counts[key])
	}
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func formatActual(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return formatFloat(*v)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
