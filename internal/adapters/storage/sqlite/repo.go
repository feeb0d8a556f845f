package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hylla/ideadispatch/internal/app"
	"github.com/hylla/ideadispatch/internal/domain"
	_ "modernc.org/sqlite"
)

// driverName defines a package constant value.
const driverName = "sqlite"

// appendOnlyTables lists tables guarded against UPDATE and DELETE.
var appendOnlyTables = []string{"dispatch_entries", "queue_transitions", "cycle_snapshots", "audit_log"}

// Repository is an append-only sqlite ledger and audit trail.
type Repository struct {
	db *sql.DB
}

// Open opens the requested operation.
func Open(path string) (*Repository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	repo := &Repository{db: db}
	if err := repo.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// OpenInMemory opens in memory.
func OpenInMemory() (*Repository, error) {
	db, err := sql.Open(driverName, "file::memory:")
	if err != nil {
		return nil, fmt.Errorf("open sqlite memory: %w", err)
	}
	// Each pooled connection would otherwise get its own empty database.
	db.SetMaxOpenConns(1)
	repo := &Repository{db: db}
	if err := repo.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// Close closes the requested operation.
func (r *Repository) Close() error {
	return r.db.Close()
}

// migrate handles migrate.
func (r *Repository) migrate(ctx context.Context) error {
	stmts := []string{
		`PRAGMA foreign_keys = ON;`,
		`CREATE TABLE IF NOT EXISTS dispatch_entries (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			dispatch_id TEXT NOT NULL UNIQUE,
			business TEXT NOT NULL,
			mode TEXT NOT NULL,
			initial_state TEXT NOT NULL,
			dispatched_at TEXT NOT NULL,
			packet_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS queue_transitions (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			dispatch_id TEXT NOT NULL,
			from_state TEXT NOT NULL,
			to_state TEXT NOT NULL,
			actor TEXT NOT NULL DEFAULT '',
			at TEXT NOT NULL,
			FOREIGN KEY(dispatch_id) REFERENCES dispatch_entries(dispatch_id)
		);`,
		`CREATE TABLE IF NOT EXISTS cycle_snapshots (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			cycle_id TEXT NOT NULL UNIQUE,
			mode TEXT NOT NULL,
			snapshot_json TEXT NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			kind TEXT NOT NULL,
			business TEXT NOT NULL DEFAULT '',
			subject TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT '',
			actor TEXT NOT NULL DEFAULT '',
			recorded_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_queue_transitions_dispatch ON queue_transitions(dispatch_id, seq);`,
		`CREATE INDEX IF NOT EXISTS idx_audit_log_recorded_at ON audit_log(recorded_at, seq);`,
	}
	for _, table := range appendOnlyTables {
		stmts = append(stmts,
			fmt.Sprintf(`CREATE TRIGGER IF NOT EXISTS %[1]s_no_update BEFORE UPDATE ON %[1]s
			BEGIN SELECT RAISE(ABORT, '%[1]s is append-only'); END;`, table),
			fmt.Sprintf(`CREATE TRIGGER IF NOT EXISTS %[1]s_no_delete BEFORE DELETE ON %[1]s
			BEGIN SELECT RAISE(ABORT, '%[1]s is append-only'); END;`, table),
		)
	}

	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return nil
}

// LoadQueueState derives the queue document from entries and their transitions.
func (r *Repository) LoadQueueState(ctx context.Context) (domain.QueueStateDocument, error) {
	doc := domain.QueueStateDocument{
		SchemaVersion: domain.QueueStateSchemaVersion,
		Entries:       []domain.QueueEntry{},
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT dispatch_id, business, mode, initial_state, dispatched_at, packet_json
		FROM dispatch_entries
		ORDER BY seq ASC
	`)
	if err != nil {
		return domain.QueueStateDocument{}, err
	}
	defer rows.Close()

	index := map[string]int{}
	var latest time.Time
	for rows.Next() {
		var (
			entry      domain.QueueEntry
			business   string
			mode       string
			state      string
			packetJSON string
		)
		if err := rows.Scan(&entry.DispatchID, &business, &mode, &state, &entry.DispatchedAt, &packetJSON); err != nil {
			return domain.QueueStateDocument{}, err
		}
		if err := json.Unmarshal([]byte(packetJSON), &entry.Packet); err != nil {
			return domain.QueueStateDocument{}, fmt.Errorf("decode packet %s: %w", entry.DispatchID, err)
		}
		entry.QueueState = domain.QueueState(state)
		entry.Packet.QueueState = entry.QueueState
		doc.Business = business
		doc.Mode = domain.DispatchMode(mode)
		latest = laterOf(latest, entry.DispatchedAt)
		index[entry.DispatchID] = len(doc.Entries)
		doc.Entries = append(doc.Entries, entry)
	}
	if err := rows.Err(); err != nil {
		return domain.QueueStateDocument{}, err
	}

	transitions, err := r.db.QueryContext(ctx, `
		SELECT id, dispatch_id, from_state, to_state, actor, at
		FROM queue_transitions
		ORDER BY seq ASC
	`)
	if err != nil {
		return domain.QueueStateDocument{}, err
	}
	defer transitions.Close()
	for transitions.Next() {
		var (
			transition domain.QueueTransition
			dispatchID string
			from, to   string
		)
		if err := transitions.Scan(&transition.ID, &dispatchID, &from, &to, &transition.Actor, &transition.At); err != nil {
			return domain.QueueStateDocument{}, err
		}
		i, ok := index[dispatchID]
		if !ok {
			continue
		}
		transition.From = domain.QueueState(from)
		transition.To = domain.QueueState(to)
		entry := &doc.Entries[i]
		entry.History = append(entry.History, transition)
		entry.QueueState = transition.To
		entry.Packet.QueueState = transition.To
		latest = laterOf(latest, transition.At)
	}
	if err := transitions.Err(); err != nil {
		return domain.QueueStateDocument{}, err
	}
	if !latest.IsZero() {
		doc.GeneratedAt = ts(latest)
	}
	return doc, nil
}

// AppendQueueEntries inserts entries in one transaction. Known dispatch ids fail with app.ErrDuplicateEntry.
func (r *Repository) AppendQueueEntries(ctx context.Context, business string, mode domain.DispatchMode, entries []domain.QueueEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, entry := range entries {
		if strings.TrimSpace(entry.DispatchID) == "" {
			return domain.ErrInvalidDispatchID
		}
		packetJSON, err := json.Marshal(entry.Packet)
		if err != nil {
			return fmt.Errorf("encode packet %s: %w", entry.DispatchID, err)
		}
		initial := domain.NormalizeQueueState(entry.QueueState)
		if len(entry.History) > 0 {
			initial = domain.NormalizeQueueState(entry.History[0].From)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO dispatch_entries(dispatch_id, business, mode, initial_state, dispatched_at, packet_json)
			VALUES(?, ?, ?, ?, ?, ?)
		`, entry.DispatchID, business, string(mode), string(initial), entry.DispatchedAt, string(packetJSON)); err != nil {
			return translateConstraint(err)
		}
		for _, transition := range entry.History {
			if err := insertTransition(ctx, tx, entry.DispatchID, transition); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// TransitionQueueEntry appends one lifecycle transition after validating it against the derived state.
func (r *Repository) TransitionQueueEntry(ctx context.Context, dispatchID string, transition domain.QueueTransition) (domain.QueueEntry, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.QueueEntry{}, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	entry, err := getEntryByID(ctx, tx, dispatchID)
	if err != nil {
		return domain.QueueEntry{}, err
	}
	if strings.TrimSpace(transition.ID) == "" {
		transition.ID = fmt.Sprintf("%s#%d", dispatchID, len(entry.History)+1)
	}
	if err := entry.Apply(transition); err != nil {
		return domain.QueueEntry{}, err
	}
	if err := insertTransition(ctx, tx, dispatchID, entry.History[len(entry.History)-1]); err != nil {
		return domain.QueueEntry{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.QueueEntry{}, err
	}
	return entry, nil
}

// ListCycleSnapshots returns cycles in append order.
func (r *Repository) ListCycleSnapshots(ctx context.Context) ([]domain.CycleSnapshot, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT snapshot_json FROM cycle_snapshots ORDER BY seq ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.CycleSnapshot, 0)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var cycle domain.CycleSnapshot
		if err := json.Unmarshal([]byte(raw), &cycle); err != nil {
			return nil, fmt.Errorf("decode cycle snapshot: %w", err)
		}
		out = append(out, cycle)
	}
	return out, rows.Err()
}

// AppendCycleSnapshot appends one telemetry record.
func (r *Repository) AppendCycleSnapshot(ctx context.Context, cycle domain.CycleSnapshot) error {
	if strings.TrimSpace(cycle.CycleID) == "" {
		return domain.ErrInvalidCycleID
	}
	raw, err := json.Marshal(cycle)
	if err != nil {
		return fmt.Errorf("encode cycle snapshot: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO cycle_snapshots(cycle_id, mode, snapshot_json, recorded_at)
		VALUES(?, ?, ?, ?)
	`, cycle.CycleID, string(cycle.Mode), string(raw), cycle.RecordedAt)
	return translateConstraint(err)
}

// AppendAudit appends one audit record.
func (r *Repository) AppendAudit(ctx context.Context, record app.AuditRecord) error {
	if strings.TrimSpace(record.ID) == "" {
		return errors.New("audit record id is required")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_log(id, kind, business, subject, detail, actor, recorded_at)
		VALUES(?, ?, ?, ?, ?, ?, ?)
	`, record.ID, string(record.Kind), record.Business, record.Subject, record.Detail, record.Actor, ts(record.RecordedAt))
	return translateConstraint(err)
}

// ListAudit returns the newest limit records in chronological order. limit <= 0 returns all.
func (r *Repository) ListAudit(ctx context.Context, limit int) ([]app.AuditRecord, error) {
	query := `
		SELECT id, kind, business, subject, detail, actor, recorded_at
		FROM (
			SELECT seq, id, kind, business, subject, detail, actor, recorded_at
			FROM audit_log
			ORDER BY seq DESC
			LIMIT ?
		)
		ORDER BY seq ASC
	`
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]app.AuditRecord, 0)
	for rows.Next() {
		var (
			record     app.AuditRecord
			kind       string
			recordedAt string
		)
		if err := rows.Scan(&record.ID, &kind, &record.Business, &record.Subject, &record.Detail, &record.Actor, &recordedAt); err != nil {
			return nil, err
		}
		record.Kind = app.AuditKind(kind)
		record.RecordedAt = parseTS(recordedAt)
		out = append(out, record)
	}
	return out, rows.Err()
}

// getEntryByID loads one entry with its full history inside q.
func getEntryByID(ctx context.Context, q queryer, dispatchID string) (domain.QueueEntry, error) {
	var (
		entry      domain.QueueEntry
		state      string
		packetJSON string
	)
	row := q.QueryRowContext(ctx, `
		SELECT dispatch_id, initial_state, dispatched_at, packet_json
		FROM dispatch_entries
		WHERE dispatch_id = ?
	`, dispatchID)
	if err := row.Scan(&entry.DispatchID, &state, &entry.DispatchedAt, &packetJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.QueueEntry{}, app.ErrNotFound
		}
		return domain.QueueEntry{}, err
	}
	if err := json.Unmarshal([]byte(packetJSON), &entry.Packet); err != nil {
		return domain.QueueEntry{}, fmt.Errorf("decode packet %s: %w", dispatchID, err)
	}
	entry.QueueState = domain.QueueState(state)

	rows, err := q.QueryContext(ctx, `
		SELECT id, from_state, to_state, actor, at
		FROM queue_transitions
		WHERE dispatch_id = ?
		ORDER BY seq ASC
	`, dispatchID)
	if err != nil {
		return domain.QueueEntry{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			transition domain.QueueTransition
			from, to   string
		)
		if err := rows.Scan(&transition.ID, &from, &to, &transition.Actor, &transition.At); err != nil {
			return domain.QueueEntry{}, err
		}
		transition.From = domain.QueueState(from)
		transition.To = domain.QueueState(to)
		entry.History = append(entry.History, transition)
		entry.QueueState = transition.To
	}
	if err := rows.Err(); err != nil {
		return domain.QueueEntry{}, err
	}
	entry.Packet.QueueState = entry.QueueState
	return entry, nil
}

func insertTransition(ctx context.Context, execer execerContext, dispatchID string, transition domain.QueueTransition) error {
	_, err := execer.ExecContext(ctx, `
		INSERT INTO queue_transitions(id, dispatch_id, from_state, to_state, actor, at)
		VALUES(?, ?, ?, ?, ?, ?)
	`, transition.ID, dispatchID, string(transition.From), string(transition.To), transition.Actor, transition.At)
	return translateConstraint(err)
}

type queryer interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
}

type execerContext interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}

// translateConstraint maps sqlite constraint and trigger failures onto app errors.
func translateConstraint(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unique constraint failed"):
		return fmt.Errorf("%w: %v", app.ErrDuplicateEntry, err)
	case strings.Contains(msg, "append-only"):
		return fmt.Errorf("%w: %v", app.ErrAppendOnly, err)
	}
	return err
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTS(v string) time.Time {
	ts, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return ts.UTC()
}

func laterOf(current time.Time, raw string) time.Time {
	candidate, ok := domain.ParseTimestamp(raw)
	if !ok || !candidate.After(current) {
		return current
	}
	return candidate
}
