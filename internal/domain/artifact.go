package domain

import (
	"slices"
	"strings"
)

// ArtifactClass identifies how an artifact is produced.
type ArtifactClass string

// ArtifactClass values.
const (
	ArtifactClassSourceProcess     ArtifactClass = "source_process"
	ArtifactClassSourceReference   ArtifactClass = "source_reference"
	ArtifactClassProjectionSummary ArtifactClass = "projection_summary"
	ArtifactClassSystemTelemetry   ArtifactClass = "system_telemetry"
)

// TriggerPolicy controls whether deltas on an artifact may auto-dispatch.
type TriggerPolicy string

// TriggerPolicy values.
const (
	TriggerPolicyEligible           TriggerPolicy = "eligible"
	TriggerPolicyManualOverrideOnly TriggerPolicy = "manual_override_only"
	TriggerPolicyNever              TriggerPolicy = "never"
)

// RegistryArtifact is one entry of the read-only artifact registry.
type RegistryArtifact struct {
	ArtifactID    string        `json:"artifact_id"`
	Path          string        `json:"path"`
	Domain        string        `json:"domain"`
	Business      string        `json:"business"`
	ArtifactClass ArtifactClass `json:"artifact_class"`
	TriggerPolicy TriggerPolicy `json:"trigger_policy"`
	LastKnownSHA  string        `json:"last_known_sha"`
	RegisteredAt  string        `json:"registered_at"`
	Active        bool          `json:"active"`
}

// Registry is the decoded artifact registry document.
type Registry struct {
	SchemaVersion string             `json:"schema_version,omitempty"`
	Artifacts     []RegistryArtifact `json:"artifacts"`
}

// Lookup returns the registry entry for one artifact id.
func (r Registry) Lookup(artifactID string) (RegistryArtifact, bool) {
	artifactID = strings.TrimSpace(artifactID)
	for _, artifact := range r.Artifacts {
		if artifact.ArtifactID == artifactID {
			return artifact, true
		}
	}
	return RegistryArtifact{}, false
}

// OperatorIntent carries human-authored narrative attached to a delta.
type OperatorIntent struct {
	Why             string           `json:"why"`
	IntendedOutcome *IntendedOutcome `json:"intended_outcome,omitempty"`
}

// ArtifactDeltaEvent is one canonical change to a registered artifact.
type ArtifactDeltaEvent struct {
	ArtifactID       string          `json:"artifact_id"`
	Business         string          `json:"business"`
	BeforeSHA        string          `json:"before_sha"`
	AfterSHA         string          `json:"after_sha"`
	Path             string          `json:"path"`
	Domain           string          `json:"domain"`
	ChangedSections  []string        `json:"changed_sections"`
	Anchors          []string        `json:"anchors,omitempty"`
	ProducedBy       string          `json:"produced_by,omitempty"`
	OriginDispatchID string          `json:"origin_dispatch_id,omitempty"`
	Intent           *OperatorIntent `json:"intent,omitempty"`
}

// ArtifactDeltaInput holds raw values for NewArtifactDeltaEvent.
type ArtifactDeltaInput struct {
	ArtifactID       string
	Business         string
	BeforeSHA        string
	AfterSHA         string
	Path             string
	Domain           string
	ChangedSections  []string
	Anchors          []string
	ProducedBy       string
	OriginDispatchID string
	Intent           *OperatorIntent
}

// NewArtifactDeltaEvent validates and normalizes one delta. Equal shas yield ErrNoopDelta.
func NewArtifactDeltaEvent(in ArtifactDeltaInput) (ArtifactDeltaEvent, error) {
	in.ArtifactID = strings.TrimSpace(in.ArtifactID)
	in.Business = strings.TrimSpace(in.Business)
	in.BeforeSHA = strings.ToLower(strings.TrimSpace(in.BeforeSHA))
	in.AfterSHA = strings.ToLower(strings.TrimSpace(in.AfterSHA))
	in.Path = strings.TrimSpace(in.Path)
	in.Domain = strings.ToUpper(strings.TrimSpace(in.Domain))
	in.ProducedBy = strings.TrimSpace(in.ProducedBy)
	in.OriginDispatchID = strings.TrimSpace(in.OriginDispatchID)

	if in.ArtifactID == "" {
		return ArtifactDeltaEvent{}, ErrInvalidArtifactID
	}
	if in.Business == "" {
		return ArtifactDeltaEvent{}, ErrInvalidBusiness
	}
	if in.AfterSHA == "" {
		return ArtifactDeltaEvent{}, ErrInvalidSHA
	}
	if in.BeforeSHA == in.AfterSHA {
		return ArtifactDeltaEvent{}, ErrNoopDelta
	}

	return ArtifactDeltaEvent{
		ArtifactID:       in.ArtifactID,
		Business:         in.Business,
		BeforeSHA:        in.BeforeSHA,
		AfterSHA:         in.AfterSHA,
		Path:             in.Path,
		Domain:           in.Domain,
		ChangedSections:  NormalizeSections(in.ChangedSections),
		Anchors:          NormalizeSections(in.Anchors),
		ProducedBy:       in.ProducedBy,
		OriginDispatchID: in.OriginDispatchID,
		Intent:           cloneIntent(in.Intent),
	}, nil
}

// NormalizeSections trims, de-duplicates, and sorts section or anchor names.
func NormalizeSections(sections []string) []string {
	out := make([]string, 0, len(sections))
	seen := map[string]struct{}{}
	for _, raw := range sections {
		section := strings.TrimSpace(raw)
		if section == "" {
			continue
		}
		if _, ok := seen[section]; ok {
			continue
		}
		seen[section] = struct{}{}
		out = append(out, section)
	}
	slices.Sort(out)
	return out
}

func cloneIntent(in *OperatorIntent) *OperatorIntent {
	if in == nil {
		return nil
	}
	out := &OperatorIntent{Why: strings.TrimSpace(in.Why)}
	if in.IntendedOutcome != nil {
		outcome := *in.IntendedOutcome
		outcome.Statement = strings.TrimSpace(outcome.Statement)
		out.IntendedOutcome = &outcome
	}
	return out
}
