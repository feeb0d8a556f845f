package app

import (
	"context"
	"strings"
	"testing"

	"github.com/hylla/ideadispatch/internal/domain"
)

func TestExportImportSnapshotRoundTrip(t *testing.T) {
	source := newFakeLedger()
	svc := newTestService(t, source, &fakeAudit{})
	if _, err := svc.RunHook(context.Background(), []domain.ArtifactDeltaEvent{sellDelta()}, true); err != nil {
		t.Fatalf("RunHook() error = %v", err)
	}
	snap, err := svc.ExportSnapshot(context.Background())
	if err != nil {
		t.Fatalf("ExportSnapshot() error = %v", err)
	}
	if snap.Version != SnapshotVersion || len(snap.QueueState.Entries) != 1 || len(snap.Cycles) != 1 || len(snap.Audit) != 1 {
		t.Fatalf("unexpected snapshot %#v", snap)
	}

	target := newFakeLedger()
	importer := newTestService(t, target, nil)
	if err := importer.ImportSnapshot(context.Background(), snap); err != nil {
		t.Fatalf("ImportSnapshot() error = %v", err)
	}
	if err := importer.ImportSnapshot(context.Background(), snap); err != nil {
		t.Fatalf("second ImportSnapshot() error = %v", err)
	}
	if len(target.doc.Entries) != 1 || len(target.cycles) != 1 {
		t.Fatalf("expected import to be append-once, got %d entries %d cycles", len(target.doc.Entries), len(target.cycles))
	}
}

func TestSnapshotValidate(t *testing.T) {
	cases := []struct {
		name string
		snap Snapshot
		want string
	}{
		{"version", Snapshot{Version: "other"}, "unsupported snapshot version"},
		{"blank dispatch", Snapshot{QueueState: domain.QueueStateDocument{Entries: []domain.QueueEntry{{QueueState: domain.QueueStateEnqueued}}}}, "dispatch_id is required"},
		{"bad state", Snapshot{QueueState: domain.QueueStateDocument{Entries: []domain.QueueEntry{{DispatchID: "a", QueueState: "lost"}}}}, "queue_state"},
		{"duplicate dispatch", Snapshot{QueueState: domain.QueueStateDocument{Entries: []domain.QueueEntry{
			{DispatchID: "a", QueueState: domain.QueueStateEnqueued},
			{DispatchID: "a", QueueState: domain.QueueStateProcessed},
		}}}, "duplicate dispatch id"},
		{"duplicate cycle", Snapshot{Cycles: []domain.CycleSnapshot{{CycleID: "c"}, {CycleID: "c"}}}, "duplicate cycle id"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.snap.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}
