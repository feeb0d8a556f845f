package domain

import (
	"slices"
	"strings"
)

// Packet schema versions.
const (
	SchemaDispatchV1 = "dispatch.v1"
	SchemaDispatchV2 = "dispatch.v2"
)

// DispatchMode identifies whether a packet was produced under supervision.
type DispatchMode string

// DispatchMode values.
const (
	DispatchModeTrial DispatchMode = "trial"
	DispatchModeLive  DispatchMode = "live"
)

// validDispatchModes stores supported dispatch modes.
var validDispatchModes = []DispatchMode{DispatchModeTrial, DispatchModeLive}

// IsValidDispatchMode reports whether mode is supported.
func IsValidDispatchMode(mode DispatchMode) bool {
	return slices.Contains(validDispatchModes, mode)
}

// OutcomeType classifies an intended outcome.
type OutcomeType string

// OutcomeType values.
const (
	OutcomeTypeMeasurable  OutcomeType = "measurable"
	OutcomeTypeOperational OutcomeType = "operational"
)

// NarrativeSource tags who authored narrative packet content.
type NarrativeSource string

// NarrativeSource values.
const (
	NarrativeSourceOperator NarrativeSource = "operator"
	NarrativeSourceAuto     NarrativeSource = "auto"
)

// IntendedOutcome is the v2 statement of what an admitted dispatch should achieve.
type IntendedOutcome struct {
	Type      OutcomeType     `json:"type"`
	Statement string          `json:"statement"`
	Source    NarrativeSource `json:"source"`
}

// Validate checks enum membership; blank statements are left to the packet validator.
func (o IntendedOutcome) Validate() error {
	switch o.Type {
	case OutcomeTypeMeasurable, OutcomeTypeOperational:
	default:
		return ErrInvalidOutcomeType
	}
	switch o.Source {
	case NarrativeSourceOperator, NarrativeSourceAuto:
	default:
		return ErrInvalidOutcomeSrc
	}
	return nil
}

// DispatchPacket is the schema-versioned unit of routed work. Treat values as immutable.
type DispatchPacket struct {
	SchemaVersion                string       `json:"schema_version"`
	DispatchID                   string       `json:"dispatch_id"`
	Mode                         DispatchMode `json:"mode"`
	Business                     string       `json:"business"`
	Trigger                      string       `json:"trigger"`
	ArtifactID                   string       `json:"artifact_id"`
	BeforeSHA                    string       `json:"before_sha"`
	AfterSHA                     string       `json:"after_sha"`
	RootEventID                  string       `json:"root_event_id"`
	AnchorKey                    string       `json:"anchor_key"`
	ClusterKey                   string       `json:"cluster_key"`
	ClusterFingerprint           string       `json:"cluster_fingerprint"`
	LineageDepth                 int          `json:"lineage_depth"`
	AreaAnchor                   string       `json:"area_anchor"`
	LocationAnchors              []string     `json:"location_anchors"`
	ProvisionalDeliverableFamily string       `json:"provisional_deliverable_family"`
	CurrentTruth                 string       `json:"current_truth"`
	NextScopeNow                 string       `json:"next_scope_now"`
	AdjacentLater                []string     `json:"adjacent_later"`
	RecommendedRoute             string       `json:"recommended_route"`
	Status                       string       `json:"status"`
	Priority                     string       `json:"priority"`
	Confidence                   float64      `json:"confidence"`
	EvidenceRefs                 []string     `json:"evidence_refs"`
	CreatedAt                    string       `json:"created_at"`
	QueueState                   QueueState   `json:"queue_state"`

	// v2 only.
	Why             string           `json:"why,omitempty"`
	IntendedOutcome *IntendedOutcome `json:"intended_outcome,omitempty"`
}

// Clone returns a deep copy so callers can never alias a built packet's slices.
func (p DispatchPacket) Clone() DispatchPacket {
	out := p
	out.LocationAnchors = append([]string{}, p.LocationAnchors...)
	out.AdjacentLater = append([]string{}, p.AdjacentLater...)
	out.EvidenceRefs = append([]string{}, p.EvidenceRefs...)
	if p.IntendedOutcome != nil {
		outcome := *p.IntendedOutcome
		out.IntendedOutcome = &outcome
	}
	return out
}

// Lane groups recommended routes for rollup reporting.
type Lane string

// Lane values.
const (
	LaneDo      Lane = "DO"
	LaneImprove Lane = "IMPROVE"
	LaneUnknown Lane = "UNKNOWN"
)

// Recommended route values.
const (
	RouteFactFind = "lp-do-fact-find"
	RouteBriefing = "lp-do-briefing"
)

// LaneForRoute maps a recommended route onto its reporting lane.
func LaneForRoute(route string) Lane {
	switch strings.TrimSpace(strings.ToLower(route)) {
	case RouteFactFind, "lp-do-plan", "lp-do-build":
		return LaneDo
	case RouteBriefing, "lp-do-ideas":
		return LaneImprove
	default:
		return LaneUnknown
	}
}
