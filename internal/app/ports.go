package app

import (
	"context"

	"github.com/hylla/ideadispatch/internal/domain"
)

// Ledger persists queue entries and cycle telemetry. Implementations must only append.
type Ledger interface {
	LoadQueueState(context.Context) (domain.QueueStateDocument, error)
	AppendQueueEntries(context.Context, string, domain.DispatchMode, []domain.QueueEntry) error
	TransitionQueueEntry(context.Context, string, domain.QueueTransition) (domain.QueueEntry, error)
	ListCycleSnapshots(context.Context) ([]domain.CycleSnapshot, error)
	AppendCycleSnapshot(context.Context, domain.CycleSnapshot) error
}

// AuditLog records operator-visible actions in an append-only trail.
type AuditLog interface {
	AppendAudit(context.Context, AuditRecord) error
	ListAudit(context.Context, int) ([]AuditRecord, error)
}
