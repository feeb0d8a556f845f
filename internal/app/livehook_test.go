package app

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hylla/ideadispatch/internal/domain"
)

var hookNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

const headRegistry = `{
  "schema_version": "registry.v1",
  "artifacts": [
    {
      "artifact_id": "HEAD-SELL-PACK",
      "path": "docs/business-os/strategy/HEAD/sell-pack.user.md",
      "domain": "SELL",
      "business": "HEAD",
      "artifact_class": "source_process",
      "trigger_policy": "eligible",
      "last_known_sha": "abc0001",
      "registered_at": "2026-02-01T00:00:00Z",
      "active": true
    },
    {
      "artifact_id": "HEAD-MARKET-SUMMARY",
      "path": "docs/business-os/strategy/HEAD/market-summary.md",
      "domain": "MARKET",
      "business": "HEAD",
      "artifact_class": "source_process",
      "trigger_policy": "eligible",
      "active": true
    },
    {
      "artifact_id": "HEAD-OLD",
      "path": "docs/old.md",
      "domain": "SELL",
      "business": "HEAD",
      "artifact_class": "source_process",
      "trigger_policy": "eligible",
      "active": false
    }
  ]
}`

type hookFiles struct {
	registry  string
	queue     string
	telemetry string
}

func writeHookFiles(t *testing.T, registry string) hookFiles {
	t.Helper()
	dir := t.TempDir()
	files := hookFiles{
		registry:  filepath.Join(dir, "registry.json"),
		queue:     filepath.Join(dir, "queue-state.json"),
		telemetry: filepath.Join(dir, "telemetry.jsonl"),
	}
	if err := os.WriteFile(files.registry, []byte(registry), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return files
}

func sellDelta() domain.ArtifactDeltaEvent {
	return domain.ArtifactDeltaEvent{
		ArtifactID:      "HEAD-SELL-PACK",
		Business:        "HEAD",
		BeforeSHA:       "abc0001",
		AfterSHA:        "def0002",
		ChangedSections: []string{"offer"},
	}
}

func runHook(files hookFiles, events ...domain.ArtifactDeltaEvent) HookResult {
	return RunLiveHook(LiveHookInput{
		Business:       "HEAD",
		RegistryPath:   files.registry,
		QueueStatePath: files.queue,
		TelemetryPath:  files.telemetry,
		Events:         events,
		Clock:          func() time.Time { return hookNow },
	})
}

func TestRunLiveHookDispatchesSingleDelta(t *testing.T) {
	result := runHook(writeHookFiles(t, headRegistry), sellDelta())
	if !result.OK {
		t.Fatalf("expected ok result, got %#v", result)
	}
	if len(result.Dispatched) != 1 {
		t.Fatalf("expected one dispatched packet, got %d", len(result.Dispatched))
	}
	packet := result.Dispatched[0]
	if packet.Mode != domain.DispatchModeLive {
		t.Fatalf("expected live mode, got %q", packet.Mode)
	}
	if packet.RootEventID != DeriveRootEventID("HEAD-SELL-PACK", "def0002") {
		t.Fatalf("unexpected root event id %q", packet.RootEventID)
	}
	if !strings.HasPrefix(packet.LocationAnchors[0], "docs/business-os/strategy/HEAD/sell-pack.user.md#") {
		t.Fatalf("expected registry path in location anchors, got %#v", packet.LocationAnchors)
	}
	if len(result.Warnings) != 0 || result.Warnings == nil {
		t.Fatalf("expected empty warnings, got %#v", result.Warnings)
	}
	if result.Cycle == nil || result.Cycle.CycleID != "head-live_hook-0001" || result.Cycle.Mode != domain.CycleModeEnforced {
		t.Fatalf("unexpected cycle %#v", result.Cycle)
	}
	if result.Cycle.CandidateCount != 1 || result.Cycle.AdmittedClusterCount != 1 {
		t.Fatalf("unexpected cycle counts %#v", result.Cycle)
	}
	if len(result.Entries) != 1 || result.Entries[0].DispatchID != packet.DispatchID {
		t.Fatalf("expected one entry to persist, got %#v", result.Entries)
	}
}

func TestRunLiveHookFailuresNeverThrow(t *testing.T) {
	valid := writeHookFiles(t, headRegistry)
	cases := []struct {
		name  string
		files hookFiles
	}{
		{"malformed json", writeHookFiles(t, `{"artifacts": [`)},
		{"missing artifacts key", writeHookFiles(t, `{"schema_version": "registry.v1"}`)},
		{"missing registry", hookFiles{registry: filepath.Join(t.TempDir(), "nope.json"), queue: valid.queue, telemetry: valid.telemetry}},
		{"empty registry path", hookFiles{registry: "", queue: valid.queue, telemetry: valid.telemetry}},
		{"empty telemetry path", hookFiles{registry: valid.registry, queue: valid.queue, telemetry: "  "}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result := runHook(tc.files, sellDelta())
			if result.OK {
				t.Fatal("expected ok=false")
			}
			if len(result.Warnings) == 0 || strings.TrimSpace(result.Error) == "" {
				t.Fatalf("expected warnings and error, got %#v", result)
			}
			if result.Dispatched == nil || len(result.Dispatched) != 0 || result.Suppressed != 0 || result.Noop != 0 {
				t.Fatalf("expected empty failure shape, got %#v", result)
			}
		})
	}
}

func TestRunLiveHookMalformedQueueStateFails(t *testing.T) {
	files := writeHookFiles(t, headRegistry)
	if err := os.WriteFile(files.queue, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if result := runHook(files, sellDelta()); result.OK {
		t.Fatal("expected malformed queue state to fail")
	}
}

func TestRunLiveHookCountsNoops(t *testing.T) {
	files := writeHookFiles(t, headRegistry)
	noopSHA := sellDelta()
	noopSHA.AfterSHA = noopSHA.BeforeSHA
	unknown := sellDelta()
	unknown.ArtifactID = "HEAD-NOPE"
	inactive := sellDelta()
	inactive.ArtifactID = "HEAD-OLD"
	otherBusiness := sellDelta()
	otherBusiness.Business = "BRIK"

	result := runHook(files, noopSHA, unknown, inactive, otherBusiness)
	if !result.OK || result.Noop != 4 || len(result.Dispatched) != 0 {
		t.Fatalf("expected four noops, got %#v", result)
	}
	if result.Cycle.CandidateCount != 0 {
		t.Fatalf("expected noops to stay out of candidate counts, got %d", result.Cycle.CandidateCount)
	}
}

func TestRunLiveHookIntraBatchSuppression(t *testing.T) {
	files := writeHookFiles(t, headRegistry)
	first := sellDelta()
	duplicate := sellDelta()
	echo := sellDelta()
	echo.BeforeSHA = "def0002"
	echo.AfterSHA = "fed0003"
	echo.OriginDispatchID = DeriveRootEventID("HEAD-SELL-PACK", "def0002")
	downstream := domain.ArtifactDeltaEvent{
		ArtifactID:       "HEAD-MARKET-SUMMARY",
		BeforeSHA:        "111",
		AfterSHA:         "222",
		ChangedSections:  []string{"positioning"},
		OriginDispatchID: DeriveRootEventID("HEAD-SELL-PACK", "def0002"),
	}

	result := runHook(files, first, duplicate, echo, downstream)
	if !result.OK {
		t.Fatalf("expected ok result, got %#v", result)
	}
	if len(result.Dispatched) != 2 || result.Suppressed != 2 {
		t.Fatalf("expected 2 dispatched and 2 suppressed, got %d and %d", len(result.Dispatched), result.Suppressed)
	}
	if result.Suppressions[0].Reason != domain.SuppressionSameOriginAttach {
		t.Fatalf("expected duplicate to attach, got %q", result.Suppressions[0].Reason)
	}
	if result.Suppressions[1].Reason != domain.SuppressionAntiSelfTrigger {
		t.Fatalf("expected echo to be anti-self-triggered, got %q", result.Suppressions[1].Reason)
	}
	child := result.Dispatched[1]
	if child.ArtifactID != "HEAD-MARKET-SUMMARY" || child.LineageDepth != 1 || child.RootEventID != result.Dispatched[0].RootEventID {
		t.Fatalf("expected downstream packet to extend the lineage, got %#v", child)
	}
	want := map[string]int{"same_origin_attach": 1, "anti_self_trigger": 1}
	for reason, count := range want {
		if result.Cycle.SuppressionReasonCounts[reason] != count {
			t.Fatalf("unexpected reason counts %#v", result.Cycle.SuppressionReasonCounts)
		}
	}
}

func TestRunLiveHookObservesExistingQueue(t *testing.T) {
	files := writeHookFiles(t, headRegistry)
	first := runHook(files, sellDelta())
	doc := domain.QueueStateDocument{
		SchemaVersion: domain.QueueStateSchemaVersion,
		Mode:          domain.DispatchModeLive,
		Business:      "HEAD",
		Entries:       first.Entries,
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	if err := os.WriteFile(files.queue, raw, 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	cycle, err := json.Marshal(first.Cycle)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	if err := os.WriteFile(files.telemetry, append(cycle, '\n'), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	second := runHook(files, sellDelta())
	if !second.OK || len(second.Dispatched) != 0 || second.Suppressed != 1 {
		t.Fatalf("expected redelivered delta to be suppressed, got %#v", second)
	}
	if second.Cycle.CycleID != "head-live_hook-0002" {
		t.Fatalf("expected second cycle id, got %q", second.Cycle.CycleID)
	}
}

func TestRunLiveHookRequiresBusiness(t *testing.T) {
	result := RunLiveHookWithSnapshot("  ", HookSnapshot{}, []domain.ArtifactDeltaEvent{sellDelta()}, hookNow, DefaultHookPolicy())
	if result.OK || len(result.Warnings) == 0 {
		t.Fatalf("expected blank business to fail, got %#v", result)
	}
}

func TestRunTrialWithSnapshotTagsTrialMode(t *testing.T) {
	registry, err := decodeRegistry(headRegistry)
	if err != nil {
		t.Fatalf("decodeRegistry() error = %v", err)
	}
	result := RunTrialWithSnapshot("HEAD", HookSnapshot{Registry: registry}, []domain.ArtifactDeltaEvent{sellDelta()}, hookNow, DefaultHookPolicy())
	if !result.OK || len(result.Dispatched) != 1 {
		t.Fatalf("expected one trial packet, got %#v", result)
	}
	if result.Dispatched[0].Mode != domain.DispatchModeTrial || result.Cycle.Mode != domain.CycleModeShadow || result.Cycle.Phase != PhaseTrial {
		t.Fatalf("unexpected trial tagging %#v %#v", result.Dispatched[0].Mode, result.Cycle)
	}
}

func decodeRegistry(raw string) (domain.Registry, error) {
	var registry domain.Registry
	err := json.Unmarshal([]byte(raw), &registry)
	return registry, err
}
