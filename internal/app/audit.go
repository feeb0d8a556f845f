package app

import "time"

// AuditKind identifies one audited action.
type AuditKind string

// AuditKind values.
const (
	AuditKindHookRun         AuditKind = "hook_run"
	AuditKindQueueTransition AuditKind = "queue_transition"
	AuditKindKillSwitch      AuditKind = "kill_switch"
)

// AuditRecord is one immutable audit trail row.
type AuditRecord struct {
	ID         string    `json:"id"`
	Kind       AuditKind `json:"kind"`
	Business   string    `json:"business"`
	Subject    string    `json:"subject"`
	Detail     string    `json:"detail"`
	Actor      string    `json:"actor,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}
