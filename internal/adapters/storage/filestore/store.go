// Package filestore persists the ledger in the live hook's native file formats:
// a queue-state JSON document and an NDJSON telemetry stream.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hylla/ideadispatch/internal/app"
	"github.com/hylla/ideadispatch/internal/domain"
)

// Store is a single-writer file ledger.
type Store struct {
	mu            sync.Mutex
	queuePath     string
	telemetryPath string
	now           func() time.Time
}

// Open prepares parent directories for both files. Files are created lazily on first append.
func Open(queueStatePath, telemetryPath string) (*Store, error) {
	queueStatePath = strings.TrimSpace(queueStatePath)
	telemetryPath = strings.TrimSpace(telemetryPath)
	if queueStatePath == "" {
		return nil, fmt.Errorf("queue state: %w", app.ErrMissingPath)
	}
	if telemetryPath == "" {
		return nil, fmt.Errorf("telemetry: %w", app.ErrMissingPath)
	}
	for _, path := range []string{queueStatePath, telemetryPath} {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create ledger dir: %w", err)
		}
	}
	return &Store{
		queuePath:     queueStatePath,
		telemetryPath: telemetryPath,
		now:           time.Now,
	}, nil
}

// Paths returns the queue-state and telemetry file paths.
func (s *Store) Paths() (string, string) {
	return s.queuePath, s.telemetryPath
}

// LoadQueueState reads the queue-state document.
func (s *Store) LoadQueueState(_ context.Context) (domain.QueueStateDocument, error) {
	return app.LoadQueueState(s.queuePath)
}

// AppendQueueEntries appends entries and rewrites the document atomically.
func (s *Store) AppendQueueEntries(_ context.Context, business string, mode domain.DispatchMode, entries []domain.QueueEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := app.LoadQueueState(s.queuePath)
	if err != nil {
		return err
	}
	known := make(map[string]struct{}, len(doc.Entries)+len(entries))
	for _, entry := range doc.Entries {
		known[entry.DispatchID] = struct{}{}
	}
	for _, entry := range entries {
		if strings.TrimSpace(entry.DispatchID) == "" {
			return domain.ErrInvalidDispatchID
		}
		if _, ok := known[entry.DispatchID]; ok {
			return fmt.Errorf("%w: %s", app.ErrDuplicateEntry, entry.DispatchID)
		}
		known[entry.DispatchID] = struct{}{}
	}
	if len(entries) == 0 {
		return nil
	}

	doc.Entries = append(doc.Entries, entries...)
	if business = strings.TrimSpace(business); business != "" {
		doc.Business = business
	}
	if domain.IsValidDispatchMode(mode) {
		doc.Mode = mode
	}
	doc.SchemaVersion = domain.QueueStateSchemaVersion
	doc.GeneratedAt = s.now().UTC().Format(time.RFC3339)
	return writeJSONAtomic(s.queuePath, doc)
}

// TransitionQueueEntry applies one lifecycle transition and rewrites the document atomically.
func (s *Store) TransitionQueueEntry(_ context.Context, dispatchID string, transition domain.QueueTransition) (domain.QueueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := app.LoadQueueState(s.queuePath)
	if err != nil {
		return domain.QueueEntry{}, err
	}
	for i := range doc.Entries {
		entry := &doc.Entries[i]
		if entry.DispatchID != dispatchID {
			continue
		}
		if strings.TrimSpace(transition.ID) == "" {
			transition.ID = fmt.Sprintf("%s#%d", dispatchID, len(entry.History)+1)
		}
		if err := entry.Apply(transition); err != nil {
			return domain.QueueEntry{}, err
		}
		doc.GeneratedAt = s.now().UTC().Format(time.RFC3339)
		if err := writeJSONAtomic(s.queuePath, doc); err != nil {
			return domain.QueueEntry{}, err
		}
		return *entry, nil
	}
	return domain.QueueEntry{}, app.ErrNotFound
}

// ListCycleSnapshots reads the telemetry stream, skipping malformed lines.
func (s *Store) ListCycleSnapshots(_ context.Context) ([]domain.CycleSnapshot, error) {
	cycles, _, err := app.LoadTelemetry(s.telemetryPath)
	if err != nil {
		return nil, err
	}
	if cycles == nil {
		cycles = []domain.CycleSnapshot{}
	}
	return cycles, nil
}

// AppendCycleSnapshot appends one NDJSON line. Cycle ids are unique.
func (s *Store) AppendCycleSnapshot(_ context.Context, cycle domain.CycleSnapshot) error {
	if strings.TrimSpace(cycle.CycleID) == "" {
		return domain.ErrInvalidCycleID
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cycles, _, err := app.LoadTelemetry(s.telemetryPath)
	if err != nil {
		return err
	}
	for _, existing := range cycles {
		if existing.CycleID == cycle.CycleID {
			return fmt.Errorf("%w: cycle %s", app.ErrDuplicateEntry, cycle.CycleID)
		}
	}
	line, err := json.Marshal(cycle)
	if err != nil {
		return fmt.Errorf("encode cycle snapshot: %w", err)
	}
	file, err := os.OpenFile(s.telemetryPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open telemetry %q: %w", s.telemetryPath, err)
	}
	if _, err := file.Write(append(line, '\n')); err != nil {
		_ = file.Close()
		return fmt.Errorf("append telemetry %q: %w", s.telemetryPath, err)
	}
	return file.Close()
}

// writeJSONAtomic writes v next to path and renames it into place.
func writeJSONAtomic(path string, v any) (err error) {
	content, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %q: %w", path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %q: %w", path, err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()
	if _, err = tmp.Write(append(content, '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %q: %w", tmp.Name(), err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync %q: %w", tmp.Name(), err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %q: %w", tmp.Name(), err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return errors.Join(fmt.Errorf("replace %q", path), err)
	}
	return nil
}
