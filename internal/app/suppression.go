package app

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/hylla/ideadispatch/internal/domain"
)

// DefaultSelfActor identifies writes produced by this pipeline.
const DefaultSelfActor = "ideadispatch"

// DispatchPolicy allows or denies dispatch for a business/domain pair during a window.
type DispatchPolicy struct {
	Business string
	Domain   string
	Allow    bool
	Reason   string
	From     time.Time
	Until    time.Time
}

// activeAt reports whether the policy window contains now. Zero bounds are open.
func (p DispatchPolicy) activeAt(now time.Time) bool {
	if !p.From.IsZero() && now.Before(p.From) {
		return false
	}
	if !p.Until.IsZero() && !now.Before(p.Until) {
		return false
	}
	return true
}

// matches reports whether the policy targets business and domain. Blank or "*" matches anything.
func (p DispatchPolicy) matches(business, domainName string) bool {
	return matchesPattern(p.Business, business) && matchesPattern(p.Domain, domainName)
}

func matchesPattern(pattern, value string) bool {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" || pattern == "*" {
		return true
	}
	return strings.EqualFold(pattern, strings.TrimSpace(value))
}

// SuppressionPolicy configures the seven invariants.
type SuppressionPolicy struct {
	SelfActor             string
	MaxLineageDepth       int
	Cooldown              time.Duration
	MinChangedSections    int
	ImmaterialSections    []string
	ImmuneArtifactClasses []domain.ArtifactClass
	ImmuneArtifacts       []string
	ImmuneDomains         []string
	DispatchPolicies      []DispatchPolicy
}

// DefaultSuppressionPolicy returns the baseline invariant settings.
func DefaultSuppressionPolicy() SuppressionPolicy {
	return SuppressionPolicy{
		SelfActor:             DefaultSelfActor,
		MaxLineageDepth:       3,
		Cooldown:              72 * time.Hour,
		MinChangedSections:    1,
		ImmaterialSections:    []string{"changelog", "metadata", "frontmatter"},
		ImmuneArtifactClasses: []domain.ArtifactClass{domain.ArtifactClassProjectionSummary, domain.ArtifactClassSystemTelemetry},
	}
}

// SuppressionState is the consistent snapshot a decision observes.
type SuppressionState struct {
	// Entries holds ledger entries followed by entries admitted earlier in the same batch.
	Entries []domain.QueueEntry
}

// SuppressionVerdict is the outcome of evaluating one candidate.
type SuppressionVerdict struct {
	Admitted bool
	Reason   domain.SuppressionReason
	Detail   string
}

// suppressionGuard is one pure veto predicate.
type suppressionGuard struct {
	reason domain.SuppressionReason
	trips  func(Candidate, SuppressionState, SuppressionPolicy, time.Time) (bool, string)
}

// suppressionGuards stores the invariants in evaluation order.
var suppressionGuards = []suppressionGuard{
	{reason: domain.SuppressionSameOriginAttach, trips: tripsSameOriginAttach},
	{reason: domain.SuppressionAntiSelfTrigger, trips: tripsAntiSelfTrigger},
	{reason: domain.SuppressionLineageCap, trips: tripsLineageCap},
	{reason: domain.SuppressionCooldown, trips: tripsCooldown},
	{reason: domain.SuppressionMateriality, trips: tripsMateriality},
	{reason: domain.SuppressionProjectionImmunity, trips: tripsProjectionImmunity},
	{reason: domain.SuppressionPolicyGate, trips: tripsPolicyGate},
}

// EvaluateSuppression runs the guards in order; the first to trip is the only reason recorded.
func EvaluateSuppression(c Candidate, state SuppressionState, policy SuppressionPolicy, now time.Time) SuppressionVerdict {
	for _, guard := range suppressionGuards {
		if tripped, detail := guard.trips(c, state, policy, now); tripped {
			return SuppressionVerdict{Reason: guard.reason, Detail: detail}
		}
	}
	return SuppressionVerdict{Admitted: true}
}

func tripsSameOriginAttach(c Candidate, state SuppressionState, _ SuppressionPolicy, _ time.Time) (bool, string) {
	for _, entry := range state.Entries {
		if entry.Packet.ClusterKey != c.ClusterKey {
			continue
		}
		if domain.NormalizeQueueState(entry.QueueState) == domain.QueueStateEnqueued {
			return true, fmt.Sprintf("unresolved dispatch %s already covers this cluster", entry.DispatchID)
		}
	}
	return false, ""
}

func tripsAntiSelfTrigger(c Candidate, state SuppressionState, policy SuppressionPolicy, _ time.Time) (bool, string) {
	self := strings.TrimSpace(policy.SelfActor)
	if self == "" {
		self = DefaultSelfActor
	}
	if strings.EqualFold(strings.TrimSpace(c.Event.ProducedBy), self) {
		return true, "delta was written by " + self
	}
	origin := strings.TrimSpace(c.Event.OriginDispatchID)
	if origin == "" {
		return false, ""
	}
	for _, entry := range state.Entries {
		if entry.DispatchID != origin && entry.Packet.RootEventID != origin {
			continue
		}
		if entry.Packet.ArtifactID == c.Event.ArtifactID {
			return true, fmt.Sprintf("delta on %s echoes its own dispatch %s", c.Event.ArtifactID, entry.DispatchID)
		}
	}
	return false, ""
}

func tripsLineageCap(c Candidate, _ SuppressionState, policy SuppressionPolicy, _ time.Time) (bool, string) {
	if c.Lineage.Depth > policy.MaxLineageDepth {
		return true, fmt.Sprintf("lineage depth %d exceeds max %d", c.Lineage.Depth, policy.MaxLineageDepth)
	}
	return false, ""
}

func tripsCooldown(c Candidate, state SuppressionState, policy SuppressionPolicy, now time.Time) (bool, string) {
	if policy.Cooldown <= 0 {
		return false, ""
	}
	for _, entry := range state.Entries {
		if entry.Packet.ClusterKey != c.ClusterKey {
			continue
		}
		at, ok := entry.DispatchedTime()
		if !ok {
			continue
		}
		if now.Sub(at) < policy.Cooldown {
			return true, fmt.Sprintf("dispatch %s at %s is inside the %s cooldown", entry.DispatchID, entry.DispatchedAt, policy.Cooldown)
		}
	}
	return false, ""
}

func tripsMateriality(c Candidate, _ SuppressionState, policy SuppressionPolicy, _ time.Time) (bool, string) {
	material := MaterialSections(c.Event.ChangedSections, policy.ImmaterialSections)
	if len(material) < policy.MinChangedSections {
		return true, fmt.Sprintf("%d material sections changed, need %d", len(material), policy.MinChangedSections)
	}
	return false, ""
}

func tripsProjectionImmunity(c Candidate, _ SuppressionState, policy SuppressionPolicy, _ time.Time) (bool, string) {
	switch c.Artifact.TriggerPolicy {
	case domain.TriggerPolicyNever, domain.TriggerPolicyManualOverrideOnly:
		return true, "trigger policy " + string(c.Artifact.TriggerPolicy)
	}
	if slices.Contains(policy.ImmuneArtifactClasses, c.Artifact.ArtifactClass) {
		return true, "artifact class " + string(c.Artifact.ArtifactClass) + " is immune"
	}
	for _, id := range policy.ImmuneArtifacts {
		if strings.TrimSpace(id) == c.Event.ArtifactID {
			return true, "artifact " + c.Event.ArtifactID + " is immune"
		}
	}
	for _, d := range policy.ImmuneDomains {
		if strings.EqualFold(strings.TrimSpace(d), c.Event.Domain) {
			return true, "domain " + c.Event.Domain + " is immune"
		}
	}
	return false, ""
}

// tripsPolicyGate applies the last active matching policy, so later entries override earlier ones.
func tripsPolicyGate(c Candidate, _ SuppressionState, policy SuppressionPolicy, now time.Time) (bool, string) {
	var (
		decided bool
		allow   = true
		reason  string
	)
	for _, p := range policy.DispatchPolicies {
		if !p.matches(c.Event.Business, c.Event.Domain) || !p.activeAt(now) {
			continue
		}
		decided = true
		allow = p.Allow
		reason = strings.TrimSpace(p.Reason)
	}
	if !decided || allow {
		return false, ""
	}
	if reason == "" {
		reason = "dispatch denied by policy"
	}
	return true, reason
}

// MaterialSections drops sections listed as immaterial (case-insensitive).
func MaterialSections(sections, immaterial []string) []string {
	out := make([]string, 0, len(sections))
	for _, section := range domain.NormalizeSections(sections) {
		if slices.ContainsFunc(immaterial, func(skip string) bool {
			return strings.EqualFold(strings.TrimSpace(skip), section)
		}) {
			continue
		}
		out = append(out, section)
	}
	return out
}
