package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"

	"github.com/audit-engine/go-core/internal/canonical"
	"github.com/audit-engine/go-core/pkg/types"
)

// PostgresStore implements Store on PostgreSQL. The audit_events table is
// created by the embedded migrations in internal/db; this store assumes it
// exists.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgresStore connects to PostgreSQL and verifies the connection.
func OpenPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// DB exposes the underlying handle for migrations.
func (s *PostgresStore) DB() *sql.DB { return s.db }

// Append persists the event.
func (s *PostgresStore) Append(ctx context.Context, event *types.AuditEvent) error {
	if event.TenantID == "" {
		return ErrTenantRequired
	}

	payloadJSON, err := canonical.Canonicalize(event.Payload)
	if err != nil {
		return fmt.Errorf("serialize payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_events (
			tenant_id, sequence, event_id, timestamp_utc,
			event_name, category, severity,
			actor_id, actor_type, action,
			resource_type, resource_id, payload,
			prev_checksum, checksum
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		event.TenantID,
		event.Sequence,
		event.EventID,
		event.TimestampUTC,
		event.EventName,
		event.Category,
		event.Severity,
		event.ActorID,
		event.ActorType,
		event.Action,
		nullableString(event.ResourceType),
		nullableString(event.ResourceID),
		string(payloadJSON),
		nullableString(event.PrevChecksum),
		event.Checksum,
	)
	if err != nil {
		return fmt.Errorf("%w: insert audit event: %w", ErrStorage, err)
	}
	return nil
}

// Events returns all events for a tenant in sequence order.
func (s *PostgresStore) Events(ctx context.Context, tenantID string) ([]*types.AuditEvent, error) {
	return s.EventsRange(ctx, tenantID, 0, 0)
}

// EventsRange returns a tenant's events with sequence in [startSeq, endSeq]
// inclusive. A zero bound is unbounded.
func (s *PostgresStore) EventsRange(ctx context.Context, tenantID string, startSeq, endSeq int64) ([]*types.AuditEvent, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}

	var sb strings.Builder
	sb.WriteString(eventColumns)
	sb.WriteString(` FROM audit_events WHERE tenant_id = $1`)
	args := []interface{}{tenantID}

	if startSeq > 0 {
		fmt.Fprintf(&sb, ` AND sequence >= $%d`, len(args)+1)
		args = append(args, startSeq)
	}
	if endSeq > 0 {
		fmt.Fprintf(&sb, ` AND sequence <= $%d`, len(args)+1)
		args = append(args, endSeq)
	}
	sb.WriteString(` ORDER BY sequence`)

	return s.selectEvents(ctx, sb.String(), args...)
}

// Query filters a tenant's events by the criteria in q.
func (s *PostgresStore) Query(ctx context.Context, q *types.AuditQuery) ([]*types.AuditEvent, error) {
	if q.TenantID == "" {
		return nil, ErrTenantRequired
	}

	var sb strings.Builder
	sb.WriteString(eventColumns)
	sb.WriteString(` FROM audit_events WHERE tenant_id = $1`)
	args := []interface{}{q.TenantID}

	addFilter := func(column, op, value string) {
		if value != "" {
			fmt.Fprintf(&sb, ` AND %s %s $%d`, column, op, len(args)+1)
			args = append(args, value)
		}
	}
	addFilter("category", "=", q.Category)
	addFilter("severity", "=", q.Severity)
	addFilter("actor_id", "=", q.ActorID)
	addFilter("event_name", "=", q.EventName)
	addFilter("resource_type", "=", q.ResourceType)
	addFilter("resource_id", "=", q.ResourceID)
	addFilter("timestamp_utc", ">=", q.StartTimeUTC)
	addFilter("timestamp_utc", "<=", q.EndTimeUTC)

	sb.WriteString(` ORDER BY sequence`)
	if q.Limit > 0 {
		fmt.Fprintf(&sb, ` LIMIT $%d`, len(args)+1)
		args = append(args, q.Limit)
	}
	if q.Offset > 0 {
		fmt.Fprintf(&sb, ` OFFSET $%d`, len(args)+1)
		args = append(args, q.Offset)
	}

	return s.selectEvents(ctx, sb.String(), args...)
}

// LastEvent returns the highest-sequence event for a tenant.
func (s *PostgresStore) LastEvent(ctx context.Context, tenantID string) (*types.AuditEvent, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	return s.selectOne(ctx,
		eventColumns+` FROM audit_events WHERE tenant_id = $1 ORDER BY sequence DESC LIMIT 1`,
		tenantID)
}

// GetByID returns a tenant's event by event ID.
func (s *PostgresStore) GetByID(ctx context.Context, tenantID, eventID string) (*types.AuditEvent, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	return s.selectOne(ctx,
		eventColumns+` FROM audit_events WHERE tenant_id = $1 AND event_id = $2`,
		tenantID, eventID)
}

// Count returns the number of events stored for a tenant.
func (s *PostgresStore) Count(ctx context.Context, tenantID string) (int64, error) {
	if tenantID == "" {
		return 0, ErrTenantRequired
	}

	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_events WHERE tenant_id = $1`, tenantID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: count audit events: %w", ErrStorage, err)
	}
	return count, nil
}

// Close closes the database.
func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) selectEvents(ctx context.Context, query string, args ...interface{}) ([]*types.AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query audit events: %w", ErrStorage, err)
	}
	defer rows.Close()

	var out []*types.AuditEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate audit events: %w", ErrStorage, err)
	}
	if out == nil {
		out = []*types.AuditEvent{}
	}
	return out, nil
}

func (s *PostgresStore) selectOne(ctx context.Context, query string, args ...interface{}) (*types.AuditEvent, error) {
	events, err := s.selectEvents(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, ErrEventNotFound
	}
	return events[0], nil
}
