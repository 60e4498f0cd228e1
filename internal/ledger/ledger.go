// Package ledger implements the append-only, hash-chained audit ledger.
//
// Every tenant owns an independent chain: sequences start at 1 and increase
// by exactly one, each event's checksum covers the canonical event minus the
// checksum field, and prev_checksum links it to its predecessor. Appends for
// one tenant are serialized; different tenants append concurrently.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/audit-engine/go-core/internal/bundle"
	"github.com/audit-engine/go-core/internal/canonical"
	"github.com/audit-engine/go-core/pkg/types"
)

// Ledger coordinates appends, queries, exports and chain verification on top
// of a Store.
type Ledger struct {
	store  Store
	logger *zap.Logger
	mirror *Mirror

	mu      sync.Mutex
	tenants map[string]*tenantState
}

// tenantState caches the chain tail for one tenant. Its mutex serializes
// appends for that tenant without blocking others.
type tenantState struct {
	mu            sync.Mutex
	loaded        bool
	sequence      int64
	lastChecksum  *string
	lastTimestamp string
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithMirror attaches a file mirror that receives every appended event.
func WithMirror(m *Mirror) Option {
	return func(l *Ledger) { l.mirror = m }
}

// NewLedger creates a ledger backed by store.
func NewLedger(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:   store,
		logger:  zap.NewNop(),
		tenants: make(map[string]*tenantState),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// AppendInput carries the caller-supplied fields of a new event. Everything
// else (event ID, sequence, timestamp, chain fields) is assigned by Append.
type AppendInput struct {
	TenantID     string
	EventName    string
	Category     string
	Severity     string
	ActorID      string
	ActorType    string
	Action       string
	ResourceType *string
	ResourceID   *string
	Payload      map[string]interface{}
}

func (in *AppendInput) validate() error {
	// The tenant ID is normalized here so "t1" and " t1 " never become
	// distinct chains.
	in.TenantID = strings.TrimSpace(in.TenantID)
	if in.TenantID == "" {
		return ErrTenantRequired
	}
	if strings.TrimSpace(in.EventName) == "" {
		return &ValidationError{Field: "event_name"}
	}
	if strings.TrimSpace(in.ActorID) == "" {
		return &ValidationError{Field: "actor_id"}
	}
	return nil
}

// Append assigns the next sequence, timestamps the event, links it to the
// tenant's chain and persists it. The returned event is fully populated.
func (l *Ledger) Append(ctx context.Context, in AppendInput) (*types.AuditEvent, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	st := l.tenant(in.TenantID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := l.loadTail(ctx, in.TenantID, st); err != nil {
		return nil, err
	}

	sequence := st.sequence + 1
	timestamp := nowUTC()
	// Timestamps within a tenant never go backwards, even across clock
	// adjustments.
	if timestamp < st.lastTimestamp {
		timestamp = st.lastTimestamp
	}

	// Round-tripping the payload detaches the stored event from the
	// caller's map and normalizes numbers to json.Number, matching what the
	// SQL stores decode.
	var payload map[string]interface{}
	if in.Payload != nil {
		var err error
		if payload, err = canonical.ToMap(in.Payload); err != nil {
			return nil, fmt.Errorf("serialize payload: %w", err)
		}
	}

	ev := &types.AuditEvent{
		TenantID:     in.TenantID,
		Sequence:     sequence,
		TimestampUTC: timestamp,
		EventName:    in.EventName,
		Category:     defaultString(in.Category, "general"),
		Severity:     defaultString(in.Severity, "info"),
		ActorID:      in.ActorID,
		ActorType:    defaultString(in.ActorType, "user"),
		Action:       defaultString(in.Action, in.EventName),
		ResourceType: in.ResourceType,
		ResourceID:   in.ResourceID,
		Payload:      payload,
		PrevChecksum: st.lastChecksum,
	}
	ev.EventID = newEventID(ev)

	checksum, err := ComputeEventChecksum(ev)
	if err != nil {
		return nil, fmt.Errorf("compute event checksum: %w", err)
	}
	ev.Checksum = checksum

	if err := l.store.Append(ctx, ev); err != nil {
		return nil, fmt.Errorf("append event: %w", err)
	}

	st.sequence = sequence
	st.lastChecksum = &ev.Checksum
	st.lastTimestamp = timestamp

	if l.mirror != nil {
		if err := l.mirror.Write(ev); err != nil {
			l.logger.Warn("audit mirror write failed",
				zap.String("tenant_id", ev.TenantID),
				zap.String("event_id", ev.EventID),
				zap.Error(err))
		}
	}

	l.logger.Debug("audit event appended",
		zap.String("tenant_id", ev.TenantID),
		zap.String("event_id", ev.EventID),
		zap.Int64("sequence", ev.Sequence),
		zap.String("event_name", ev.EventName))

	return ev, nil
}

// Events returns all of a tenant's events in sequence order.
func (l *Ledger) Events(ctx context.Context, tenantID string) ([]*types.AuditEvent, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	return l.store.Events(ctx, tenantID)
}

// Query retrieves events matching the filter criteria.
func (l *Ledger) Query(ctx context.Context, q *types.AuditQuery) ([]*types.AuditEvent, error) {
	qc := *q
	qc.TenantID = strings.TrimSpace(qc.TenantID)
	if qc.TenantID == "" {
		return nil, ErrTenantRequired
	}
	return l.store.Query(ctx, &qc)
}

// GetByID returns one of a tenant's events by event ID.
func (l *Ledger) GetByID(ctx context.Context, tenantID, eventID string) (*types.AuditEvent, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	return l.store.GetByID(ctx, tenantID, eventID)
}

// GetBySequence returns one of a tenant's events by sequence number.
func (l *Ledger) GetBySequence(ctx context.Context, tenantID string, sequence int64) (*types.AuditEvent, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	if sequence < 1 {
		return nil, ErrEventNotFound
	}

	events, err := l.store.EventsRange(ctx, tenantID, sequence, sequence)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, ErrEventNotFound
	}
	return events[0], nil
}

// LatestSequence returns the highest sequence assigned to a tenant, or 0 for
// a tenant with no events.
func (l *Ledger) LatestSequence(ctx context.Context, tenantID string) (int64, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return 0, ErrTenantRequired
	}

	last, err := l.store.LastEvent(ctx, tenantID)
	if errors.Is(err, ErrEventNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return last.Sequence, nil
}

// Count returns the number of events stored for a tenant.
func (l *Ledger) Count(ctx context.Context, tenantID string) (int64, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return 0, ErrTenantRequired
	}
	return l.store.Count(ctx, tenantID)
}

// ChainReport is the result of verifying a tenant's stored chain.
type ChainReport struct {
	OK         bool     `json:"ok"`
	TenantID   string   `json:"tenant_id"`
	EventCount int      `json:"event_count"`
	Errors     []string `json:"errors"`
}

// VerifyChain re-derives every stored checksum for a tenant and checks
// sequence contiguity and chain linkage, restricted to the inclusive range
// [startSeq, endSeq] when bounds are non-zero. Findings accumulate; an empty
// chain is valid.
//
// When the range starts past the chain head, the first in-range event's
// prev_checksum cannot be checked without its out-of-range predecessor, so
// the link check starts at the second in-range event.
func (l *Ledger) VerifyChain(ctx context.Context, tenantID string, startSeq, endSeq int64) (*ChainReport, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, ErrTenantRequired
	}

	events, err := l.store.EventsRange(ctx, tenantID, startSeq, endSeq)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}

	report := &ChainReport{
		TenantID:   tenantID,
		EventCount: len(events),
		Errors:     []string{},
	}

	base := startSeq
	if base < 1 {
		base = 1
	}

	var prevChecksum *string
	for i, ev := range events {
		expectedSeq := base + int64(i)
		if ev.Sequence != expectedSeq {
			report.Errors = append(report.Errors,
				fmt.Sprintf("sequence gap at index %d: expected %d, got %d", i, expectedSeq, ev.Sequence))
		}

		firstInRangeExempt := i == 0 && base > 1
		if !firstInRangeExempt && !checksumPtrEqual(ev.PrevChecksum, prevChecksum) {
			report.Errors = append(report.Errors,
				fmt.Sprintf("chain link broken at sequence %d", ev.Sequence))
		}

		computed, err := ComputeEventChecksum(ev)
		if err != nil {
			report.Errors = append(report.Errors,
				fmt.Sprintf("checksum not computable at sequence %d", ev.Sequence))
		} else if computed != ev.Checksum {
			report.Errors = append(report.Errors,
				fmt.Sprintf("checksum mismatch at sequence %d", ev.Sequence))
		}

		prevChecksum = &events[i].Checksum
	}

	report.OK = len(report.Errors) == 0
	return report, nil
}

// Export produces a bundle of a tenant's events with a deterministic bundle
// checksum, restricted to the inclusive sequence range [startSeq, endSeq]
// when bounds are non-zero. The returned map is ready for signing and for
// JSON serialization; first_sequence and last_sequence reflect the exported
// slice, not the full chain.
func (l *Ledger) Export(ctx context.Context, tenantID string, startSeq, endSeq int64) (map[string]interface{}, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, ErrTenantRequired
	}

	events, err := l.store.EventsRange(ctx, tenantID, startSeq, endSeq)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}

	eventMaps := make([]interface{}, len(events))
	for i, ev := range events {
		m, err := canonical.ToMap(ev)
		if err != nil {
			return nil, fmt.Errorf("serialize event %s: %w", ev.EventID, err)
		}
		eventMaps[i] = m
	}

	var firstSeq, lastSeq interface{}
	if len(events) > 0 {
		firstSeq = events[0].Sequence
		lastSeq = events[len(events)-1].Sequence
	}

	b := map[string]interface{}{
		"tenant_id":       tenantID,
		"export_id":       uuid.NewString(),
		"exported_at_utc": nowUTC(),
		"event_count":     len(events),
		"first_sequence":  firstSeq,
		"last_sequence":   lastSeq,
		"events":          eventMaps,
	}

	checksum, err := bundle.ComputeChecksum(b)
	if err != nil {
		return nil, fmt.Errorf("compute bundle checksum: %w", err)
	}
	b[bundle.FieldBundleChecksum] = checksum

	l.logger.Info("audit bundle exported",
		zap.String("tenant_id", tenantID),
		zap.String("export_id", b["export_id"].(string)),
		zap.Int("event_count", len(events)))

	return b, nil
}

// Close closes the mirror and the underlying store.
func (l *Ledger) Close() error {
	if l.mirror != nil {
		if err := l.mirror.Close(); err != nil {
			l.logger.Warn("close audit mirror", zap.Error(err))
		}
	}
	return l.store.Close()
}

// ComputeEventChecksum hashes the canonical event with the checksum field
// removed. Stored and freshly built events hash identically because both go
// through the same JSON representation.
func ComputeEventChecksum(ev *types.AuditEvent) (string, error) {
	m, err := canonical.ToMap(ev)
	if err != nil {
		return "", err
	}
	delete(m, "checksum")
	return canonical.HashJSON(m)
}

// tenant returns the cached per-tenant state, creating it on first use.
func (l *Ledger) tenant(tenantID string) *tenantState {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.tenants[tenantID]
	if !ok {
		st = &tenantState{}
		l.tenants[tenantID] = st
	}
	return st
}

// loadTail populates the tenant state from storage on first touch, so the
// chain continues correctly across process restarts. Caller holds st.mu.
func (l *Ledger) loadTail(ctx context.Context, tenantID string, st *tenantState) error {
	if st.loaded {
		return nil
	}

	last, err := l.store.LastEvent(ctx, tenantID)
	switch {
	case errors.Is(err, ErrEventNotFound):
		st.loaded = true
		return nil
	case err != nil:
		return fmt.Errorf("load chain tail: %w", err)
	}

	st.sequence = last.Sequence
	checksum := last.Checksum
	st.lastChecksum = &checksum
	st.lastTimestamp = last.TimestampUTC
	st.loaded = true
	return nil
}

// newEventID derives a stable 32-hex-char identifier from the event's
// identity fields.
func newEventID(ev *types.AuditEvent) string {
	input := fmt.Sprintf("%s:%d:%s:%s:%s",
		ev.TenantID, ev.Sequence, ev.TimestampUTC, ev.ActorID, ev.EventName)
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])[:32]
}

func nowUTC() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}

func defaultString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func checksumPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
