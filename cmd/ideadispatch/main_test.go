package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "charm.land/bubbletea/v2"

	"github.com/hylla/ideadispatch/internal/app"
	"github.com/hylla/ideadispatch/internal/config"
	"github.com/hylla/ideadispatch/internal/domain"
	"github.com/hylla/ideadispatch/internal/tui"
)

const cliRegistry = `{
  "schema_version": "registry.v1",
  "artifacts": [
    {
      "artifact_id": "HEAD-SELL-PACK",
      "path": "docs/HEAD/sell-pack.user.md",
      "domain": "SELL",
      "business": "HEAD",
      "artifact_class": "source_process",
      "trigger_policy": "eligible",
      "active": true
    }
  ]
}`

const cliEvents = `[{"artifact_id":"HEAD-SELL-PACK","business":"HEAD","before_sha":"abc0001","after_sha":"def0002","changed_sections":["offer"]}]`

// cliFixture holds one isolated install for command tests.
type cliFixture struct {
	dir        string
	configPath string
	eventsPath string
}

func newCLIFixture(t *testing.T, extraConfig string) cliFixture {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg-config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "xdg-data"))
	t.Setenv("IDEADISPATCH_CONFIG", "")
	t.Setenv("IDEADISPATCH_KILL_SWITCH", "")

	registry := filepath.Join(dir, "registry.json")
	if err := os.WriteFile(registry, []byte(cliRegistry), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	events := filepath.Join(dir, "events.json")
	if err := os.WriteFile(events, []byte(cliEvents), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	configPath := filepath.Join(dir, "config.toml")
	content := fmt.Sprintf(`
[business]
id = "HEAD"

[paths]
registry = %q
queue_state = %q
telemetry = %q
database = %q

[suppression]
policy_file = ""

[logging]
level = "debug"

[logging.dev_file]
enabled = false
%s`,
		registry,
		filepath.Join(dir, "queue-state.json"),
		filepath.Join(dir, "telemetry.ndjson"),
		filepath.Join(dir, "ideadispatch.db"),
		extraConfig,
	)
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return cliFixture{dir: dir, configPath: configPath, eventsPath: events}
}

// exec runs one command against the fixture and returns stdout and stderr.
func (f cliFixture) exec(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	full := append([]string{"--config", f.configPath, "--dev=false"}, args...)
	err := run(context.Background(), full, strings.NewReader(""), &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func (f cliFixture) mustExec(t *testing.T, args ...string) string {
	t.Helper()
	stdout, stderr, err := f.exec(t, args...)
	if err != nil {
		t.Fatalf("run(%v) error = %v\nstderr:\n%s", args, err, stderr)
	}
	return stdout
}

func TestRunVersionAndPaths(t *testing.T) {
	f := newCLIFixture(t, "")
	if out := f.mustExec(t, "version"); !strings.Contains(out, "ideadispatch "+version) {
		t.Fatalf("version output = %q", out)
	}
	out := f.mustExec(t, "paths")
	for _, want := range []string{"app: ideadispatch", "dev_mode: false", "queue_state:", "telemetry:", "policy:"} {
		if !strings.Contains(out, want) {
			t.Fatalf("paths output missing %q:\n%s", want, out)
		}
	}
}

func TestRunUnknownCommandFails(t *testing.T) {
	f := newCLIFixture(t, "")
	if _, _, err := f.exec(t, "bogus"); err == nil {
		t.Fatal("expected unknown command to fail")
	}
}

func TestRunHookTransitionAndExport(t *testing.T) {
	f := newCLIFixture(t, "")

	out := f.mustExec(t, "--quiet", "hook", "--events", f.eventsPath)
	var result app.HookResult
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("Unmarshal(hook) error = %v\n%s", err, out)
	}
	if !result.OK || len(result.Dispatched) != 1 {
		t.Fatalf("unexpected hook result %#v", result)
	}
	dispatchID := result.Dispatched[0].DispatchID

	out = f.mustExec(t, "--quiet", "queue", "show", "--state", "enqueued")
	var doc domain.QueueStateDocument
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("Unmarshal(queue) error = %v", err)
	}
	if len(doc.Entries) != 1 || doc.Entries[0].DispatchID != dispatchID {
		t.Fatalf("unexpected queue document %#v", doc)
	}

	f.mustExec(t, "--quiet", "queue", "transition", dispatchID, "--to", "processed", "--actor", "ops")
	if _, _, err := f.exec(t, "--quiet", "queue", "transition", dispatchID, "--to", "blocked"); err == nil {
		t.Fatal("expected a second transition to fail")
	}

	// Redelivering the same delta is absorbed by suppression.
	out = f.mustExec(t, "--quiet", "hook", "--events", f.eventsPath)
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("Unmarshal(hook) error = %v", err)
	}
	if len(result.Dispatched) != 0 || result.Suppressed != 1 {
		t.Fatalf("expected redelivery to be suppressed, got %#v", result)
	}

	exportDir := filepath.Join(f.dir, "export")
	f.mustExec(t, "--quiet", "export", "--out", exportDir)
	raw, err := os.ReadFile(filepath.Join(exportDir, exportAuditFile))
	if err != nil {
		t.Fatalf("ReadFile(audit) error = %v", err)
	}
	var audit []app.AuditRecord
	if err := json.Unmarshal(raw, &audit); err != nil {
		t.Fatalf("Unmarshal(audit) error = %v", err)
	}
	kinds := map[app.AuditKind]int{}
	for _, record := range audit {
		if record.ID == "" {
			t.Fatalf("audit record without id %#v", record)
		}
		kinds[record.Kind]++
	}
	if kinds[app.AuditKindHookRun] != 2 || kinds[app.AuditKindQueueTransition] != 1 {
		t.Fatalf("unexpected audit kinds %#v", kinds)
	}
	exported, err := app.LoadQueueState(filepath.Join(exportDir, exportQueueFile))
	if err != nil {
		t.Fatalf("LoadQueueState(export) error = %v", err)
	}
	if len(exported.Entries) != 1 || exported.Entries[0].QueueState != domain.QueueStateProcessed {
		t.Fatalf("unexpected exported queue %#v", exported)
	}
	cycles, _, err := app.LoadTelemetry(filepath.Join(exportDir, exportTelemetryFile))
	if err != nil || len(cycles) != 2 {
		t.Fatalf("LoadTelemetry(export) = %d cycles, err %v", len(cycles), err)
	}
}

func TestRunSnapshotMovesFileLedgerIntoSQLite(t *testing.T) {
	f := newCLIFixture(t, "")
	f.mustExec(t, "--quiet", "hook", "--events", f.eventsPath)

	snapshotPath := filepath.Join(f.dir, "snapshot.json")
	f.mustExec(t, "--quiet", "export", "--out", filepath.Join(f.dir, "export"), "--snapshot", snapshotPath)
	f.mustExec(t, "--quiet", "--ledger", "sqlite", "import", snapshotPath)
	// Importing again appends nothing.
	f.mustExec(t, "--quiet", "--ledger", "sqlite", "import", snapshotPath)

	out := f.mustExec(t, "--quiet", "--ledger", "sqlite", "rollup")
	var rollup app.RollupResult
	if err := json.Unmarshal([]byte(out), &rollup); err != nil {
		t.Fatalf("Unmarshal(rollup) error = %v\n%s", err, out)
	}
	if rollup.Rollup.CycleCount != 1 || rollup.Rollup.AdmittedClusterCount != 1 {
		t.Fatalf("unexpected rollup after import %#v", rollup.Rollup)
	}

	if _, _, err := f.exec(t, "--quiet", "import", filepath.Join(f.dir, "missing.json")); err == nil {
		t.Fatal("expected import of a missing snapshot to fail")
	}
}

func TestRunHookOnSQLiteLedgerFeedsRollup(t *testing.T) {
	f := newCLIFixture(t, "")
	f.mustExec(t, "--quiet", "--ledger", "sqlite", "hook", "--events", f.eventsPath)

	out := f.mustExec(t, "--quiet", "--ledger", "sqlite", "rollup")
	var rollup app.RollupResult
	if err := json.Unmarshal([]byte(out), &rollup); err != nil {
		t.Fatalf("Unmarshal(rollup) error = %v\n%s", err, out)
	}
	if rollup.Rollup.CycleCount != 1 || rollup.Rollup.AdmittedClusterCount != 1 {
		t.Fatalf("unexpected rollup %#v", rollup.Rollup)
	}
	if _, err := os.Stat(filepath.Join(f.dir, "queue-state.json")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("sqlite ledger should not write the queue file, stat err = %v", err)
	}
}

func TestRunHookTrialDryRunLeavesLedgerEmpty(t *testing.T) {
	f := newCLIFixture(t, "")
	out := f.mustExec(t, "--quiet", "hook", "--trial", "--dry-run", "--events", f.eventsPath)
	var result app.HookResult
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("Unmarshal(hook) error = %v", err)
	}
	if len(result.Dispatched) != 1 || result.Dispatched[0].Mode != domain.DispatchModeTrial {
		t.Fatalf("unexpected trial result %#v", result)
	}
	if _, err := os.Stat(filepath.Join(f.dir, "queue-state.json")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("dry run should not write the queue file, stat err = %v", err)
	}
}

func TestRunHookFailsOnMissingRegistry(t *testing.T) {
	f := newCLIFixture(t, "")
	if err := os.Remove(filepath.Join(f.dir, "registry.json")); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	_, _, err := f.exec(t, "--quiet", "hook", "--events", f.eventsPath)
	if !errors.Is(err, errHookFailed) {
		t.Fatalf("run(hook) error = %v, want errHookFailed", err)
	}
}

func TestRunGateHonorsKillSwitchEnv(t *testing.T) {
	f := newCLIFixture(t, "")
	t.Setenv("IDEADISPATCH_KILL_SWITCH", "true")

	out := f.mustExec(t, "--quiet", "gate", "--json", "--operator-enable", "--review-period", "30")
	var decision app.GateDecision
	if err := json.Unmarshal([]byte(out), &decision); err != nil {
		t.Fatalf("Unmarshal(gate) error = %v\n%s", err, out)
	}
	if decision.Permitted || decision.Mode != app.GateModeAdvisory || decision.KillSwitch == nil {
		t.Fatalf("expected kill switch to force advisory, got %#v", decision)
	}
	if decision.Readiness.Thresholds.ReviewPeriod.Actual == nil || !decision.Readiness.Thresholds.ReviewPeriod.Met {
		t.Fatalf("expected review period flag to flow through, got %#v", decision.Readiness.Thresholds.ReviewPeriod)
	}
}

func TestRunGateBadgeListsBlockers(t *testing.T) {
	f := newCLIFixture(t, "")
	out := f.mustExec(t, "--quiet", "gate")
	if !strings.Contains(out, "ADVISORY") || !strings.Contains(out, app.BlockerOperatorEnable) {
		t.Fatalf("unexpected gate output:\n%s", out)
	}
}

func TestRunKillRecordsAudit(t *testing.T) {
	f := newCLIFixture(t, "")
	out := f.mustExec(t, "--quiet", "kill", "--reason", "launch freeze", "--actor", "ops")
	if !strings.Contains(out, `"activation_blocked": true`) || !strings.Contains(out, "launch freeze") {
		t.Fatalf("unexpected kill output:\n%s", out)
	}
}

func TestRunValidate(t *testing.T) {
	f := newCLIFixture(t, "")
	bad := filepath.Join(f.dir, "bad.json")
	if err := os.WriteFile(bad, []byte(`{"schema_version":"dispatch.v2"}`), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	out, _, err := f.exec(t, "--quiet", "validate", bad)
	if !errors.Is(err, errPacketInvalid) {
		t.Fatalf("run(validate) error = %v, want errPacketInvalid", err)
	}
	if !strings.Contains(out, `"valid": false`) {
		t.Fatalf("unexpected validate output:\n%s", out)
	}
}

func TestRunReportRaw(t *testing.T) {
	f := newCLIFixture(t, "")
	out := f.mustExec(t, "--quiet", "report", "--raw")
	for _, want := range []string{"# Readiness report for HEAD", "## Thresholds", app.BlockerSampleSize} {
		if !strings.Contains(out, want) {
			t.Fatalf("report missing %q:\n%s", want, out)
		}
	}
}

func TestRunLogsCommandFlow(t *testing.T) {
	f := newCLIFixture(t, "")
	_, stderr, err := f.exec(t, "rollup")
	if err != nil {
		t.Fatalf("run(rollup) error = %v", err)
	}
	for _, want := range []string{"command flow start", "command flow complete", "command=rollup"} {
		if !strings.Contains(stderr, want) {
			t.Fatalf("stderr missing %q:\n%s", want, stderr)
		}
	}
}

func TestRunRejectsInvalidLedgerOverride(t *testing.T) {
	f := newCLIFixture(t, "")
	if _, _, err := f.exec(t, "--quiet", "--ledger", "redis", "rollup"); err == nil {
		t.Fatal("expected invalid ledger override to fail")
	}
}

func TestDecodeEvents(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		want    int
		wantErr bool
	}{
		{"array", cliEvents, 1, false},
		{"wrapped", `{"events":` + cliEvents + `}`, 1, false},
		{"empty", "  ", 0, true},
		{"malformed", `[{`, 0, true},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			events, err := decodeEvents([]byte(tt.raw))
			if (err != nil) != tt.wantErr {
				t.Fatalf("decodeEvents() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(events) != tt.want {
				t.Fatalf("decodeEvents() len = %d, want %d", len(events), tt.want)
			}
		})
	}
}

func TestRuntimeLoggerWritesDevFile(t *testing.T) {
	dir := t.TempDir()
	var console bytes.Buffer
	now := func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }
	logger, err := newRuntimeLogger(&console, "ideadispatch", true, config.LoggingConfig{
		Level:   "info",
		DevFile: config.DevFileConfig{Enabled: true, Dir: dir},
	}, now)
	if err != nil {
		t.Fatalf("newRuntimeLogger() error = %v", err)
	}
	logger.SetConsoleEnabled(false)
	logger.Info("command flow start", "command", "hook")
	logger.Debug("hidden below level")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if console.Len() != 0 {
		t.Fatalf("expected muted console, got %q", console.String())
	}
	want := filepath.Join(dir, "ideadispatch-20260301.log")
	if logger.DevLogPath() != want {
		t.Fatalf("DevLogPath() = %q, want %q", logger.DevLogPath(), want)
	}
	raw, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(raw), "command=hook") || strings.Contains(string(raw), "hidden below level") {
		t.Fatalf("unexpected dev log content %q", raw)
	}
}

func TestRuntimeLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := newRuntimeLogger(nil, "ideadispatch", false, config.LoggingConfig{Level: "loud"}, nil); err == nil {
		t.Fatal("expected unknown level to fail")
	}
}

func TestSanitizeLogFileStem(t *testing.T) {
	cases := map[string]string{
		"":                  "ideadispatch",
		"  ":                "ideadispatch",
		"idea/dispatch":     "idea-dispatch",
		"my app:dev":        "my-app-dev",
		"/ideadispatch-dev": "ideadispatch-dev",
	}
	for in, want := range cases {
		if got := sanitizeLogFileStem(in); got != want {
			t.Fatalf("sanitizeLogFileStem(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRunGateRejectsOutOfRangeMeasurement(t *testing.T) {
	f := newCLIFixture(t, "")
	_, _, err := f.exec(t, "--quiet", "gate", "--route-accuracy", "140")
	if !errors.Is(err, app.ErrInvalidMeasurement) {
		t.Fatalf("run(gate) error = %v, want ErrInvalidMeasurement", err)
	}
}

type fakeProgram struct {
	model tea.Model
}

func (p *fakeProgram) Run() (tea.Model, error) {
	return p.model, nil
}

func TestRunQueueBrowseStartsProgram(t *testing.T) {
	f := newCLIFixture(t, "")
	var started tea.Model
	original := programFactory
	programFactory = func(m tea.Model, _ ...tea.ProgramOption) program {
		started = m
		return &fakeProgram{model: m}
	}
	t.Cleanup(func() { programFactory = original })

	f.mustExec(t, "--quiet", "queue", "browse", "--actor", "ops")
	if _, ok := started.(tui.Model); !ok {
		t.Fatalf("expected tui.Model to start, got %T", started)
	}
}
