package app

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/hylla/ideadispatch/internal/domain"
)

// Canonical string prefixes. Bumping a version changes every derived id.
const (
	clusterKeyPrefix  = "CLUSTER_KEY|v1"
	fingerprintPrefix = "CLUSTER_FINGERPRINT|v1"
	rootEventPrefix   = "ROOT_EVENT|v1"
)

// ClusterKeyInput holds the identity tuple of one candidate.
type ClusterKeyInput struct {
	Business   string
	AreaAnchor string
	ArtifactID string
	AfterSHA   string
	// AnchorKey is only set when one delta touches more than one anchor.
	AnchorKey string
}

// DeriveClusterKey hashes business, area anchor, artifact id, after sha and the optional anchor key.
func DeriveClusterKey(in ClusterKeyInput) string {
	parts := []string{
		clusterKeyPrefix,
		strings.TrimSpace(in.Business),
		strings.TrimSpace(in.AreaAnchor),
		strings.TrimSpace(in.ArtifactID),
		strings.ToLower(strings.TrimSpace(in.AfterSHA)),
	}
	if anchorKey := strings.TrimSpace(in.AnchorKey); anchorKey != "" {
		parts = append(parts, anchorKey)
	}
	return hashCanonical(parts)
}

// DeriveFingerprint hashes domain, sorted changed sections and after sha. Section order never matters.
func DeriveFingerprint(domainName string, changedSections []string, afterSHA string) string {
	sections := domain.NormalizeSections(changedSections)
	return hashCanonical([]string{
		fingerprintPrefix,
		strings.ToUpper(strings.TrimSpace(domainName)),
		strings.Join(sections, ","),
		strings.ToLower(strings.TrimSpace(afterSHA)),
	})
}

// DeriveRootEventID identifies the unclustered origin of a chain.
func DeriveRootEventID(artifactID, afterSHA string) string {
	sum := hashCanonical([]string{
		rootEventPrefix,
		strings.TrimSpace(artifactID),
		strings.ToLower(strings.TrimSpace(afterSHA)),
	})
	return "evt-" + sum[:24]
}

// DeriveDispatchID builds a sortable dispatch id from the creation time and cluster key.
func DeriveDispatchID(clusterKey string, now time.Time) string {
	suffix := clusterKey
	if len(suffix) > 12 {
		suffix = suffix[:12]
	}
	return fmt.Sprintf("IDEA-DISPATCH-%s-%s", now.UTC().Format("20060102150405"), strings.ToUpper(suffix))
}

// AreaAnchors returns the anchors a delta touches, falling back to one domain-scoped anchor.
func AreaAnchors(event domain.ArtifactDeltaEvent) []string {
	anchors := domain.NormalizeSections(event.Anchors)
	if len(anchors) > 0 {
		return anchors
	}
	domainName := strings.ToLower(strings.TrimSpace(event.Domain))
	if domainName == "" {
		return []string{event.ArtifactID}
	}
	return []string{domainName + ":" + event.ArtifactID}
}

// Lineage places a candidate in its dispatch chain.
type Lineage struct {
	RootEventID        string
	Depth              int
	AncestorDispatchID string
}

// ResolveLineage finds the most recent ancestor referenced by the event's origin dispatch.
// The origin may name a dispatch id or a root event id; no match yields a depth-0 root.
func ResolveLineage(event domain.ArtifactDeltaEvent, entries []domain.QueueEntry) Lineage {
	root := Lineage{RootEventID: DeriveRootEventID(event.ArtifactID, event.AfterSHA)}
	origin := strings.TrimSpace(event.OriginDispatchID)
	if origin == "" {
		return root
	}

	var (
		ancestor     domain.QueueEntry
		ancestorAt   time.Time
		haveAncestor bool
	)
	for _, entry := range entries {
		if entry.DispatchID != origin && entry.Packet.RootEventID != origin {
			continue
		}
		at, _ := entry.DispatchedTime()
		// Later entries win ties so intra-batch admissions shadow older ledger rows.
		if !haveAncestor || !at.Before(ancestorAt) {
			ancestor = entry
			ancestorAt = at
			haveAncestor = true
		}
	}
	if !haveAncestor {
		return root
	}
	return Lineage{
		RootEventID:        ancestor.Packet.RootEventID,
		Depth:              ancestor.Packet.LineageDepth + 1,
		AncestorDispatchID: ancestor.DispatchID,
	}
}

// Candidate is one (delta, anchor) pair ready for suppression evaluation.
type Candidate struct {
	Event           domain.ArtifactDeltaEvent
	Artifact        domain.RegistryArtifact
	AreaAnchor      string
	AnchorKey       string
	SiblingAnchors  []string
	ClusterKey      string
	Fingerprint     string
	Lineage         Lineage
	LocationAnchors []string
}

// DeriveCandidates expands one normalized delta into per-anchor candidates sharing a root event id.
func DeriveCandidates(event domain.ArtifactDeltaEvent, artifact domain.RegistryArtifact, entries []domain.QueueEntry) []Candidate {
	anchors := AreaAnchors(event)
	multi := len(anchors) > 1
	lineage := ResolveLineage(event, entries)
	fingerprint := DeriveFingerprint(event.Domain, event.ChangedSections, event.AfterSHA)
	locations := locationAnchors(event)

	out := make([]Candidate, 0, len(anchors))
	for _, anchor := range anchors {
		keyInput := ClusterKeyInput{
			Business:   event.Business,
			AreaAnchor: anchor,
			ArtifactID: event.ArtifactID,
			AfterSHA:   event.AfterSHA,
		}
		if multi {
			keyInput.AnchorKey = anchor
		}
		siblings := make([]string, 0, len(anchors)-1)
		for _, other := range anchors {
			if other != anchor {
				siblings = append(siblings, other)
			}
		}
		out = append(out, Candidate{
			Event:           event,
			Artifact:        artifact,
			AreaAnchor:      anchor,
			AnchorKey:       anchor,
			SiblingAnchors:  siblings,
			ClusterKey:      DeriveClusterKey(keyInput),
			Fingerprint:     fingerprint,
			Lineage:         lineage,
			LocationAnchors: slices.Clone(locations),
		})
	}
	return out
}

// locationAnchors points at the changed sections inside the artifact path.
func locationAnchors(event domain.ArtifactDeltaEvent) []string {
	path := strings.TrimSpace(event.Path)
	if path == "" {
		path = event.ArtifactID
	}
	if len(event.ChangedSections) == 0 {
		return []string{path}
	}
	out := make([]string, 0, len(event.ChangedSections))
	for _, section := range event.ChangedSections {
		out = append(out, path+"#"+section)
	}
	return out
}

// hashCanonical returns the hex sha256 of pipe-joined parts.
func hashCanonical(parts []string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
