package app

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/hylla/ideadispatch/internal/domain"
)

// Packet defaults.
const (
	defaultTrigger       = "artifact_delta"
	defaultPriority      = "P2"
	escalatedPriority    = "P1"
	defaultFamily        = "business-artifact-update"
	escalationThreshold  = 3
	baseConfidence       = 0.5
	operatorConfidenceUp = 0.1
)

// DomainRoute overrides routing for one domain.
type DomainRoute struct {
	Route             string
	DeliverableFamily string
	Priority          string
}

// RoutingPolicy selects the recommended route and deliverable family for candidates.
type RoutingPolicy struct {
	DefaultRoute  string
	DefaultFamily string
	Domains       map[string]DomainRoute
}

// DefaultRoutingPolicy sends everything to fact-find.
func DefaultRoutingPolicy() RoutingPolicy {
	return RoutingPolicy{
		DefaultRoute:  domain.RouteFactFind,
		DefaultFamily: defaultFamily,
	}
}

// resolve returns route, family and priority override for one candidate.
func (r RoutingPolicy) resolve(c Candidate) (string, string, string) {
	route := strings.TrimSpace(r.DefaultRoute)
	if route == "" {
		route = domain.RouteFactFind
	}
	if c.Artifact.ArtifactClass == domain.ArtifactClassSourceReference {
		route = domain.RouteBriefing
	}
	family := strings.TrimSpace(r.DefaultFamily)
	if family == "" {
		family = defaultFamily
	}
	var priority string
	if override, ok := r.Domains[strings.ToUpper(strings.TrimSpace(c.Event.Domain))]; ok {
		if v := strings.TrimSpace(override.Route); v != "" {
			route = v
		}
		if v := strings.TrimSpace(override.DeliverableFamily); v != "" {
			family = v
		}
		priority = strings.TrimSpace(override.Priority)
	}
	return route, family, priority
}

// PacketInput holds everything one packet build observes.
type PacketInput struct {
	Candidate Candidate
	Mode      domain.DispatchMode
	Routing   RoutingPolicy
	Now       time.Time
}

// BuildPacketV1 builds a dispatch.v1 packet. Identical inputs yield identical packets.
func BuildPacketV1(in PacketInput) domain.DispatchPacket {
	c := in.Candidate
	event := c.Event
	route, family, priority := in.Routing.resolve(c)
	if priority == "" {
		priority = defaultPriority
		if len(event.ChangedSections) >= escalationThreshold {
			priority = escalatedPriority
		}
	}
	mode := in.Mode
	if !domain.IsValidDispatchMode(mode) {
		mode = domain.DispatchModeTrial
	}

	return domain.DispatchPacket{
		SchemaVersion:                domain.SchemaDispatchV1,
		DispatchID:                   DeriveDispatchID(c.ClusterKey, in.Now),
		Mode:                         mode,
		Business:                     event.Business,
		Trigger:                      defaultTrigger,
		ArtifactID:                   event.ArtifactID,
		BeforeSHA:                    event.BeforeSHA,
		AfterSHA:                     event.AfterSHA,
		RootEventID:                  c.Lineage.RootEventID,
		AnchorKey:                    c.AnchorKey,
		ClusterKey:                   c.ClusterKey,
		ClusterFingerprint:           c.Fingerprint,
		LineageDepth:                 c.Lineage.Depth,
		AreaAnchor:                   c.AreaAnchor,
		LocationAnchors:              slices.Clone(c.LocationAnchors),
		ProvisionalDeliverableFamily: family,
		CurrentTruth:                 currentTruth(event),
		NextScopeNow:                 nextScopeNow(event, route),
		AdjacentLater:                append([]string{}, c.SiblingAnchors...),
		RecommendedRoute:             route,
		Status:                       statusForRoute(route),
		Priority:                     priority,
		Confidence:                   confidence(event),
		EvidenceRefs:                 evidenceRefs(event),
		CreatedAt:                    in.Now.UTC().Format(time.RFC3339),
		QueueState:                   domain.QueueStateEnqueued,
	}
}

// BuildPacketV2 extends the v1 packet with why and intended_outcome, tagging who authored each.
func BuildPacketV2(in PacketInput) domain.DispatchPacket {
	packet := BuildPacketV1(in)
	packet.SchemaVersion = domain.SchemaDispatchV2
	event := in.Candidate.Event

	packet.Why = autoWhy(event)
	outcome := domain.IntendedOutcome{
		Type:      domain.OutcomeTypeOperational,
		Statement: fmt.Sprintf("%s reviews the %s delta and records a decision", packet.RecommendedRoute, event.ArtifactID),
		Source:    domain.NarrativeSourceAuto,
	}
	if intent := event.Intent; intent != nil {
		if why := strings.TrimSpace(intent.Why); why != "" {
			packet.Why = why
		}
		if authored := intent.IntendedOutcome; authored != nil && strings.TrimSpace(authored.Statement) != "" {
			if authored.Type == domain.OutcomeTypeMeasurable || authored.Type == domain.OutcomeTypeOperational {
				outcome = domain.IntendedOutcome{
					Type:      authored.Type,
					Statement: strings.TrimSpace(authored.Statement),
					Source:    domain.NarrativeSourceOperator,
				}
			}
		}
	}
	packet.IntendedOutcome = &outcome
	return packet
}

func currentTruth(event domain.ArtifactDeltaEvent) string {
	before := shortSHA(event.BeforeSHA)
	if before == "" {
		before = "new"
	}
	return fmt.Sprintf("%s changed (%s→%s)", event.ArtifactID, before, shortSHA(event.AfterSHA))
}

func nextScopeNow(event domain.ArtifactDeltaEvent, route string) string {
	if len(event.ChangedSections) == 0 {
		return fmt.Sprintf("Run %s on %s", route, event.ArtifactID)
	}
	return fmt.Sprintf("Run %s on %s sections: %s", route, event.ArtifactID, strings.Join(event.ChangedSections, ", "))
}

func autoWhy(event domain.ArtifactDeltaEvent) string {
	if len(event.ChangedSections) == 0 {
		return fmt.Sprintf("%s changed and needs a routed review", event.ArtifactID)
	}
	return fmt.Sprintf("%s changed in %s and needs a routed review", event.ArtifactID, strings.Join(event.ChangedSections, ", "))
}

func statusForRoute(route string) string {
	switch route {
	case domain.RouteFactFind:
		return "fact_find_ready"
	case domain.RouteBriefing:
		return "briefing_ready"
	default:
		return "ready"
	}
}

// confidence grows with the number of changed sections and with operator intent, capped below 1.
func confidence(event domain.ArtifactDeltaEvent) float64 {
	score := baseConfidence + 0.1*float64(min(len(event.ChangedSections), escalationThreshold))
	if event.Intent != nil && strings.TrimSpace(event.Intent.Why) != "" {
		score += operatorConfidenceUp
	}
	return math.Round(score*100) / 100
}

func evidenceRefs(event domain.ArtifactDeltaEvent) []string {
	refs := []string{"registry:" + event.ArtifactID}
	if event.BeforeSHA != "" {
		refs = append(refs, "sha:"+event.BeforeSHA+".."+event.AfterSHA)
	} else {
		refs = append(refs, "sha:"+event.AfterSHA)
	}
	if event.Path != "" {
		refs = append(refs, event.Path)
	}
	return refs
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}
