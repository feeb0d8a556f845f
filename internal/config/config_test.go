package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/hylla/ideadispatch/internal/app"
	"github.com/hylla/ideadispatch/internal/domain"
)

func testLocations(dir string) Locations {
	return Locations{
		RegistryPath:   filepath.Join(dir, "registry.json"),
		QueueStatePath: filepath.Join(dir, "queue-state.json"),
		TelemetryPath:  filepath.Join(dir, "telemetry.ndjson"),
		DBPath:         filepath.Join(dir, "ideadispatch.db"),
		PolicyPath:     filepath.Join(dir, "policy.yaml"),
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestDefaultConfigMatchesPipelineDefaults(t *testing.T) {
	cfg := Default(testLocations("/tmp/id"))
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if cfg.Ledger.Backend != LedgerBackendFile {
		t.Fatalf("unexpected ledger backend %q", cfg.Ledger.Backend)
	}
	policy, err := cfg.HookPolicy(nil)
	if err != nil {
		t.Fatalf("HookPolicy() error = %v", err)
	}
	want := app.DefaultHookPolicy()
	want.Routing.Domains = map[string]app.DomainRoute{}
	want.Suppression.DispatchPolicies = []app.DispatchPolicy(nil)
	if diff := cmp.Diff(want, policy); diff != "" {
		t.Fatalf("default policy mismatch (-want +got)\n%s", diff)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	defaults := Default(testLocations(t.TempDir()))
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"), defaults)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Paths.QueueState != defaults.Paths.QueueState {
		t.Fatalf("expected default queue path, got %q", cfg.Paths.QueueState)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
[business]
id = "HEAD"
actor = "dispatcher"

[ledger]
backend = "sqlite"

[suppression]
max_lineage_depth = 2
cooldown = "24h"
immune_artifact_classes = ["system_telemetry"]
immune_domains = ["legal"]

[routing]
default_route = "lp-do-fact-find"

[routing.domains.market]
route = "lp-do-briefing"
priority = "p1"

[gate]
kill_switch = true
kill_switch_reason = "launch freeze"

[logging]
level = "debug"
`)
	cfg, err := Load(path, Default(testLocations(t.TempDir())))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	svc, err := cfg.ServiceConfig([]app.DispatchPolicy{{Business: "HEAD", Allow: false}})
	if err != nil {
		t.Fatalf("ServiceConfig() error = %v", err)
	}
	if svc.Business != "HEAD" || svc.Actor != "dispatcher" {
		t.Fatalf("unexpected identity %#v", svc)
	}
	if !svc.KillSwitch || svc.KillSwitchReason != "launch freeze" {
		t.Fatalf("unexpected gate settings %#v", svc)
	}
	if svc.Policy.Suppression.Cooldown != 24*time.Hour || svc.Policy.Suppression.MaxLineageDepth != 2 {
		t.Fatalf("unexpected suppression %#v", svc.Policy.Suppression)
	}
	if diff := cmp.Diff([]domain.ArtifactClass{domain.ArtifactClassSystemTelemetry}, svc.Policy.Suppression.ImmuneArtifactClasses); diff != "" {
		t.Fatalf("immune classes mismatch (-want +got)\n%s", diff)
	}
	market, ok := svc.Policy.Routing.Domains["MARKET"]
	if !ok || market.Route != domain.RouteBriefing || market.Priority != "P1" {
		t.Fatalf("unexpected domain routing %#v", svc.Policy.Routing.Domains)
	}
	if len(svc.Policy.Suppression.DispatchPolicies) != 1 {
		t.Fatalf("expected dispatch policies to flow through, got %#v", svc.Policy.Suppression.DispatchPolicies)
	}
	if cfg.Ledger.Backend != LedgerBackendSQLite {
		t.Fatalf("unexpected ledger backend %q", cfg.Ledger.Backend)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"backend":  "[ledger]\nbackend = \"redis\"\n",
		"cooldown": "[suppression]\ncooldown = \"soon\"\n",
		"depth":    "[suppression]\nmax_lineage_depth = -1\n",
		"class":    "[suppression]\nimmune_artifact_classes = [\"poster\"]\n",
		"priority": "[routing.domains.sell]\npriority = \"urgent\"\n",
		"level":    "[logging]\nlevel = \"loud\"\n",
		"endpoint": "[server]\napi_endpoint = \"api\"\n",
		"keys":     "[keys]\nmark_processed = \"x\"\nmark_blocked = \"x\"\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeConfig(t, content)
			if _, err := Load(path, Default(testLocations(t.TempDir()))); err == nil {
				t.Fatal("expected Load() to fail")
			}
		})
	}
}

func TestEnsureConfigDir(t *testing.T) {
	target := filepath.Join(t.TempDir(), "a", "b", "config.toml")
	if err := EnsureConfigDir(target); err != nil {
		t.Fatalf("EnsureConfigDir() error = %v", err)
	}
	if _, err := os.Stat(filepath.Dir(target)); err != nil {
		t.Fatalf("expected dir to exist, stat error %v", err)
	}
}
