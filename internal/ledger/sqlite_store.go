package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/audit-engine/go-core/internal/canonical"
	"github.com/audit-engine/go-core/pkg/types"
)

// SQLiteStore implements Store on an embedded SQLite database. Suitable for
// single-node deployments; the (tenant_id, sequence) primary key makes a
// duplicate sequence a constraint violation rather than silent corruption.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS audit_events (
	tenant_id     TEXT    NOT NULL,
	sequence      INTEGER NOT NULL,
	event_id      TEXT    NOT NULL,
	timestamp_utc TEXT    NOT NULL,
	event_name    TEXT    NOT NULL,
	category      TEXT    NOT NULL,
	severity      TEXT    NOT NULL,
	actor_id      TEXT    NOT NULL,
	actor_type    TEXT    NOT NULL,
	action        TEXT    NOT NULL,
	resource_type TEXT,
	resource_id   TEXT,
	payload       TEXT    NOT NULL,
	prev_checksum TEXT,
	checksum      TEXT    NOT NULL,
	PRIMARY KEY (tenant_id, sequence)
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_audit_events_event_id
	ON audit_events (tenant_id, event_id);
CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp
	ON audit_events (tenant_id, timestamp_utc);
`

// NewSQLiteStore opens (or creates) the database at path and applies the
// schema. Use ":memory:" for an ephemeral database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// SQLite serializes writers; a single connection avoids SQLITE_BUSY
	// under concurrent appends.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Append persists the event.
func (s *SQLiteStore) Append(ctx context.Context, event *types.AuditEvent) error {
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
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
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
func (s *SQLiteStore) Events(ctx context.Context, tenantID string) ([]*types.AuditEvent, error) {
	return s.EventsRange(ctx, tenantID, 0, 0)
}

// EventsRange returns a tenant's events with sequence in [startSeq, endSeq]
// inclusive. A zero bound is unbounded.
func (s *SQLiteStore) EventsRange(ctx context.Context, tenantID string, startSeq, endSeq int64) ([]*types.AuditEvent, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}

	var sb strings.Builder
	sb.WriteString(eventColumns)
	sb.WriteString(` FROM audit_events WHERE tenant_id = ?`)
	args := []interface{}{tenantID}

	if startSeq > 0 {
		sb.WriteString(` AND sequence >= ?`)
		args = append(args, startSeq)
	}
	if endSeq > 0 {
		sb.WriteString(` AND sequence <= ?`)
		args = append(args, endSeq)
	}
	sb.WriteString(` ORDER BY sequence`)

	return s.selectEvents(ctx, sb.String(), args...)
}

// Query filters a tenant's events by the criteria in q.
func (s *SQLiteStore) Query(ctx context.Context, q *types.AuditQuery) ([]*types.AuditEvent, error) {
	if q.TenantID == "" {
		return nil, ErrTenantRequired
	}

	var sb strings.Builder
	sb.WriteString(eventColumns)
	sb.WriteString(` FROM audit_events WHERE tenant_id = ?`)
	args := []interface{}{q.TenantID}

	addFilter := func(clause, value string) {
		if value != "" {
			sb.WriteString(clause)
			args = append(args, value)
		}
	}
	addFilter(` AND category = ?`, q.Category)
	addFilter(` AND severity = ?`, q.Severity)
	addFilter(` AND actor_id = ?`, q.ActorID)
	addFilter(` AND event_name = ?`, q.EventName)
	addFilter(` AND resource_type = ?`, q.ResourceType)
	addFilter(` AND resource_id = ?`, q.ResourceID)
	addFilter(` AND timestamp_utc >= ?`, q.StartTimeUTC)
	addFilter(` AND timestamp_utc <= ?`, q.EndTimeUTC)

	sb.WriteString(` ORDER BY sequence`)
	if q.Limit > 0 {
		sb.WriteString(` LIMIT ?`)
		args = append(args, q.Limit)
	}
	if q.Offset > 0 {
		if q.Limit <= 0 {
			sb.WriteString(` LIMIT -1`)
		}
		sb.WriteString(` OFFSET ?`)
		args = append(args, q.Offset)
	}

	return s.selectEvents(ctx, sb.String(), args...)
}

// LastEvent returns the highest-sequence event for a tenant.
func (s *SQLiteStore) LastEvent(ctx context.Context, tenantID string) (*types.AuditEvent, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	return s.selectOne(ctx,
		eventColumns+` FROM audit_events WHERE tenant_id = ? ORDER BY sequence DESC LIMIT 1`,
		tenantID)
}

// GetByID returns a tenant's event by event ID.
func (s *SQLiteStore) GetByID(ctx context.Context, tenantID, eventID string) (*types.AuditEvent, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	return s.selectOne(ctx,
		eventColumns+` FROM audit_events WHERE tenant_id = ? AND event_id = ?`,
		tenantID, eventID)
}

// Count returns the number of events stored for a tenant.
func (s *SQLiteStore) Count(ctx context.Context, tenantID string) (int64, error) {
	if tenantID == "" {
		return 0, ErrTenantRequired
	}

	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_events WHERE tenant_id = ?`, tenantID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: count audit events: %w", ErrStorage, err)
	}
	return count, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

const eventColumns = `SELECT tenant_id, sequence, event_id, timestamp_utc,
	event_name, category, severity, actor_id, actor_type, action,
	resource_type, resource_id, payload, prev_checksum, checksum`

func (s *SQLiteStore) selectEvents(ctx context.Context, query string, args ...interface{}) ([]*types.AuditEvent, error) {
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

func (s *SQLiteStore) selectOne(ctx context.Context, query string, args ...interface{}) (*types.AuditEvent, error) {
	events, err := s.selectEvents(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, ErrEventNotFound
	}
	return events[0], nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*types.AuditEvent, error) {
	var (
		ev           types.AuditEvent
		resourceType sql.NullString
		resourceID   sql.NullString
		prevChecksum sql.NullString
		payloadJSON  string
	)

	err := row.Scan(
		&ev.TenantID, &ev.Sequence, &ev.EventID, &ev.TimestampUTC,
		&ev.EventName, &ev.Category, &ev.Severity,
		&ev.ActorID, &ev.ActorType, &ev.Action,
		&resourceType, &resourceID, &payloadJSON,
		&prevChecksum, &ev.Checksum,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: scan audit event: %w", ErrStorage, err)
	}

	ev.ResourceType = nullStringPtr(resourceType)
	ev.ResourceID = nullStringPtr(resourceID)
	ev.PrevChecksum = nullStringPtr(prevChecksum)

	if payloadJSON != "" {
		if err := canonical.DecodeJSON([]byte(payloadJSON), &ev.Payload); err != nil {
			return nil, fmt.Errorf("%w: decode payload for event %s: %w", ErrStorage, ev.EventID, err)
		}
	}
	return &ev, nil
}

func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
