package domain

import (
	"slices"
	"strings"
	"time"
)

// QueueState identifies one lifecycle state of a queue entry.
type QueueState string

// QueueState values.
const (
	QueueStateEnqueued  QueueState = "enqueued"
	QueueStateProcessed QueueState = "processed"
	QueueStateBlocked   QueueState = "blocked"
)

// validQueueStates stores supported queue states.
var validQueueStates = []QueueState{QueueStateEnqueued, QueueStateProcessed, QueueStateBlocked}

// NormalizeQueueState canonicalizes raw queue-state text.
func NormalizeQueueState(state QueueState) QueueState {
	return QueueState(strings.TrimSpace(strings.ToLower(string(state))))
}

// IsValidQueueState reports whether state is supported.
func IsValidQueueState(state QueueState) bool {
	return slices.Contains(validQueueStates, NormalizeQueueState(state))
}

// IsTerminal reports whether no further transitions are allowed.
func (s QueueState) IsTerminal() bool {
	return s == QueueStateProcessed || s == QueueStateBlocked
}

// QueueTransition records one lifecycle change for audit.
type QueueTransition struct {
	ID    string     `json:"id"`
	From  QueueState `json:"from"`
	To    QueueState `json:"to"`
	At    string     `json:"at"`
	Actor string     `json:"actor,omitempty"`
}

// QueueEntry is one append-only dispatch record.
type QueueEntry struct {
	DispatchID   string            `json:"dispatch_id"`
	QueueState   QueueState        `json:"queue_state"`
	DispatchedAt string            `json:"dispatched_at"`
	Packet       DispatchPacket    `json:"packet"`
	History      []QueueTransition `json:"history,omitempty"`
}

// NewQueueEntry enqueues one admitted packet.
func NewQueueEntry(packet DispatchPacket, now time.Time) (QueueEntry, error) {
	if strings.TrimSpace(packet.DispatchID) == "" {
		return QueueEntry{}, ErrInvalidDispatchID
	}
	packet = packet.Clone()
	packet.QueueState = QueueStateEnqueued
	return QueueEntry{
		DispatchID:   packet.DispatchID,
		QueueState:   QueueStateEnqueued,
		DispatchedAt: now.UTC().Format(time.RFC3339),
		Packet:       packet,
	}, nil
}

// NewQueueTransition builds a pending transition to next.
func NewQueueTransition(id string, next QueueState, actor string, now time.Time) QueueTransition {
	return QueueTransition{
		ID:    strings.TrimSpace(id),
		To:    NormalizeQueueState(next),
		At:    now.UTC().Format(time.RFC3339),
		Actor: strings.TrimSpace(actor),
	}
}

// Apply moves an enqueued entry to a terminal state and appends t to its history.
func (e *QueueEntry) Apply(t QueueTransition) error {
	next := NormalizeQueueState(t.To)
	if !IsValidQueueState(next) {
		return ErrInvalidQueueState
	}
	current := NormalizeQueueState(e.QueueState)
	if current != QueueStateEnqueued || !next.IsTerminal() {
		return ErrInvalidTransition
	}
	t.From = current
	t.To = next
	e.History = append(e.History, t)
	e.QueueState = next
	e.Packet.QueueState = next
	return nil
}

// DispatchedTime parses dispatched_at, reporting false for malformed values.
func (e QueueEntry) DispatchedTime() (time.Time, bool) {
	return ParseTimestamp(e.DispatchedAt)
}

// QueueStateDocument is the persisted queue-state file contract.
type QueueStateDocument struct {
	SchemaVersion string       `json:"schema_version"`
	Mode          DispatchMode `json:"mode"`
	Business      string       `json:"business"`
	GeneratedAt   string       `json:"generated_at"`
	Entries       []QueueEntry `json:"entries"`
}

// QueueStateSchemaVersion identifies the queue-state document format.
const QueueStateSchemaVersion = "queue-state.v1"

// ParseTimestamp accepts RFC3339 (with or without fractional seconds).
func ParseTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false
	}
	return ts.UTC(), true
}
