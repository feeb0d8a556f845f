package filestore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/hylla/ideadispatch/internal/app"
	"github.com/hylla/ideadispatch/internal/domain"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "queue", "queue-state.json"), filepath.Join(dir, "telemetry", "cycles.ndjson"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	store.now = func() time.Time { return time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC) }
	return store, dir
}

func entryFor(t *testing.T, id string, now time.Time) domain.QueueEntry {
	t.Helper()
	entry, err := domain.NewQueueEntry(domain.DispatchPacket{
		SchemaVersion: domain.SchemaDispatchV1,
		DispatchID:    id,
		Business:      "HEAD",
		ClusterKey:    "ck-" + id,
	}, now)
	if err != nil {
		t.Fatalf("NewQueueEntry() error = %v", err)
	}
	return entry
}

func TestOpenRequiresPaths(t *testing.T) {
	if _, err := Open("", "t.ndjson"); !errors.Is(err, app.ErrMissingPath) {
		t.Fatalf("expected ErrMissingPath, got %v", err)
	}
	if _, err := Open("q.json", " "); !errors.Is(err, app.ErrMissingPath) {
		t.Fatalf("expected ErrMissingPath, got %v", err)
	}
}

func TestStoreQueueLifecycle(t *testing.T) {
	ctx := context.Background()
	store, _ := openTestStore(t)
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	doc, err := store.LoadQueueState(ctx)
	if err != nil {
		t.Fatalf("LoadQueueState() error = %v", err)
	}
	if len(doc.Entries) != 0 {
		t.Fatalf("expected empty queue, got %d entries", len(doc.Entries))
	}

	entries := []domain.QueueEntry{entryFor(t, "D1", now), entryFor(t, "D2", now)}
	if err := store.AppendQueueEntries(ctx, "HEAD", domain.DispatchModeLive, entries); err != nil {
		t.Fatalf("AppendQueueEntries() error = %v", err)
	}
	if err := store.AppendQueueEntries(ctx, "HEAD", domain.DispatchModeLive, entries[:1]); !errors.Is(err, app.ErrDuplicateEntry) {
		t.Fatalf("expected ErrDuplicateEntry, got %v", err)
	}

	got, err := store.TransitionQueueEntry(ctx, "D2", domain.NewQueueTransition("", domain.QueueStateBlocked, "operator", now))
	if err != nil {
		t.Fatalf("TransitionQueueEntry() error = %v", err)
	}
	if got.QueueState != domain.QueueStateBlocked || got.History[0].ID != "D2#1" {
		t.Fatalf("unexpected transitioned entry %#v", got)
	}
	if _, err := store.TransitionQueueEntry(ctx, "missing", domain.NewQueueTransition("x", domain.QueueStateBlocked, "", now)); !errors.Is(err, app.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	doc, err = store.LoadQueueState(ctx)
	if err != nil {
		t.Fatalf("LoadQueueState() error = %v", err)
	}
	if doc.Business != "HEAD" || doc.Mode != domain.DispatchModeLive || doc.GeneratedAt != "2026-03-02T12:00:00Z" {
		t.Fatalf("unexpected document header %#v", doc)
	}
	states := []domain.QueueState{doc.Entries[0].QueueState, doc.Entries[1].QueueState}
	if diff := cmp.Diff([]domain.QueueState{domain.QueueStateEnqueued, domain.QueueStateBlocked}, states); diff != "" {
		t.Fatalf("states mismatch (-want +got)\n%s", diff)
	}
}

func TestStoreCycleSnapshots(t *testing.T) {
	ctx := context.Background()
	store, _ := openTestStore(t)
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	cycles, err := store.ListCycleSnapshots(ctx)
	if err != nil || len(cycles) != 0 {
		t.Fatalf("expected no cycles, got %v %v", cycles, err)
	}

	for _, id := range []string{"head-live_hook-0001", "head-live_hook-0002"} {
		cycle, err := domain.NewCycleSnapshot(domain.CycleSnapshotInput{CycleID: id, Mode: domain.CycleModeEnforced, CandidateCount: 1}, now)
		if err != nil {
			t.Fatalf("NewCycleSnapshot() error = %v", err)
		}
		if err := store.AppendCycleSnapshot(ctx, cycle); err != nil {
			t.Fatalf("AppendCycleSnapshot() error = %v", err)
		}
	}
	dup := domain.CycleSnapshot{CycleID: "head-live_hook-0001", Mode: domain.CycleModeEnforced}
	if err := store.AppendCycleSnapshot(ctx, dup); !errors.Is(err, app.ErrDuplicateEntry) {
		t.Fatalf("expected ErrDuplicateEntry, got %v", err)
	}

	_, telemetryPath := store.Paths()
	content, err := os.ReadFile(telemetryPath)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if lines := strings.Count(string(content), "\n"); lines != 2 {
		t.Fatalf("expected 2 ndjson lines, got %d", lines)
	}

	cycles, err = store.ListCycleSnapshots(ctx)
	if err != nil {
		t.Fatalf("ListCycleSnapshots() error = %v", err)
	}
	if len(cycles) != 2 || cycles[1].CycleID != "head-live_hook-0002" {
		t.Fatalf("unexpected cycles %#v", cycles)
	}
}

func TestStoreAtomicWriteLeavesNoTempFiles(t *testing.T) {
	ctx := context.Background()
	store, dir := openTestStore(t)
	if err := store.AppendQueueEntries(ctx, "HEAD", domain.DispatchModeTrial, []domain.QueueEntry{entryFor(t, "D1", time.Now())}); err != nil {
		t.Fatalf("AppendQueueEntries() error = %v", err)
	}
	files, err := os.ReadDir(filepath.Join(dir, "queue"))
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(files) != 1 || files[0].Name() != "queue-state.json" {
		t.Fatalf("unexpected queue dir contents %v", files)
	}
}

func TestStoreServesFileBackedService(t *testing.T) {
	store, _ := openTestStore(t)
	var ledger app.Ledger = store
	if _, ok := ledger.(app.FileBackedLedger); !ok {
		t.Fatal("expected store to expose its file paths")
	}
}
