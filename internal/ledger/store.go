package ledger

import (
	"context"

	"github.com/audit-engine/go-core/pkg/types"
)

// Store is the persistence interface for the append-only ledger. Events are
// only ever inserted, never updated or deleted; reads return events ordered
// by sequence.
type Store interface {
	// Append persists a fully populated event.
	Append(ctx context.Context, event *types.AuditEvent) error

	// Events returns all events for a tenant ordered by sequence.
	Events(ctx context.Context, tenantID string) ([]*types.AuditEvent, error)

	// EventsRange returns a tenant's events with sequence in the inclusive
	// range [startSeq, endSeq], ordered by sequence. A zero bound means
	// unbounded on that side.
	EventsRange(ctx context.Context, tenantID string, startSeq, endSeq int64) ([]*types.AuditEvent, error)

	// Query retrieves events matching the filter criteria, ordered by
	// sequence.
	Query(ctx context.Context, q *types.AuditQuery) ([]*types.AuditEvent, error)

	// LastEvent returns the highest-sequence event for a tenant, or
	// ErrEventNotFound when the tenant has no events.
	LastEvent(ctx context.Context, tenantID string) (*types.AuditEvent, error)

	// GetByID returns a tenant's event by event ID, or ErrEventNotFound.
	GetByID(ctx context.Context, tenantID, eventID string) (*types.AuditEvent, error)

	// Count returns the number of events stored for a tenant.
	Count(ctx context.Context, tenantID string) (int64, error)

	// Close releases the underlying resources.
	Close() error
}
