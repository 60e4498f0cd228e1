package ledger

import (
	"context"
	"sync"

	"github.com/audit-engine/go-core/pkg/types"
)

// MemoryStore is an in-memory Store for tests and single-process deployments.
// Events are kept per tenant in append order, which equals sequence order.
type MemoryStore struct {
	mu     sync.RWMutex
	events map[string][]*types.AuditEvent
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events: make(map[string][]*types.AuditEvent),
	}
}

// Append persists the event. The caller owns sequencing; the store only
// records.
func (s *MemoryStore) Append(_ context.Context, event *types.AuditEvent) error {
	if event.TenantID == "" {
		return ErrTenantRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.events[event.TenantID] = append(s.events[event.TenantID], copyEvent(event))
	return nil
}

// Events returns all events for a tenant in sequence order.
func (s *MemoryStore) Events(ctx context.Context, tenantID string) ([]*types.AuditEvent, error) {
	return s.EventsRange(ctx, tenantID, 0, 0)
}

// EventsRange returns a tenant's events with sequence in [startSeq, endSeq]
// inclusive. A zero bound is unbounded.
func (s *MemoryStore) EventsRange(_ context.Context, tenantID string, startSeq, endSeq int64) ([]*types.AuditEvent, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.events[tenantID]
	out := make([]*types.AuditEvent, 0, len(stored))
	for _, ev := range stored {
		if startSeq > 0 && ev.Sequence < startSeq {
			continue
		}
		if endSeq > 0 && ev.Sequence > endSeq {
			continue
		}
		out = append(out, copyEvent(ev))
	}
	return out, nil
}

// Query filters a tenant's events by the criteria in q.
func (s *MemoryStore) Query(ctx context.Context, q *types.AuditQuery) ([]*types.AuditEvent, error) {
	all, err := s.Events(ctx, q.TenantID)
	if err != nil {
		return nil, err
	}

	matched := make([]*types.AuditEvent, 0, len(all))
	for _, ev := range all {
		if matchesQuery(ev, q) {
			matched = append(matched, ev)
		}
	}
	return paginate(matched, q.Offset, q.Limit), nil
}

// LastEvent returns the highest-sequence event for a tenant.
func (s *MemoryStore) LastEvent(_ context.Context, tenantID string) (*types.AuditEvent, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.events[tenantID]
	if len(stored) == 0 {
		return nil, ErrEventNotFound
	}
	return copyEvent(stored[len(stored)-1]), nil
}

// GetByID returns a tenant's event by event ID.
func (s *MemoryStore) GetByID(_ context.Context, tenantID, eventID string) (*types.AuditEvent, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, ev := range s.events[tenantID] {
		if ev.EventID == eventID {
			return copyEvent(ev), nil
		}
	}
	return nil, ErrEventNotFound
}

// Count returns the number of events stored for a tenant.
func (s *MemoryStore) Count(_ context.Context, tenantID string) (int64, error) {
	if tenantID == "" {
		return 0, ErrTenantRequired
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.events[tenantID])), nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

// copyEvent clones an event including its payload map, so neither side of a
// store boundary can mutate the other's copy.
func copyEvent(ev *types.AuditEvent) *types.AuditEvent {
	cp := *ev
	if ev.Payload != nil {
		cp.Payload = clonePayload(ev.Payload)
	}
	return &cp
}

func clonePayload(p map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return clonePayload(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return val
	}
}

// matchesQuery applies the exact-match and inclusive time-range filters.
func matchesQuery(ev *types.AuditEvent, q *types.AuditQuery) bool {
	if q.Category != "" && ev.Category != q.Category {
		return false
	}
	if q.Severity != "" && ev.Severity != q.Severity {
		return false
	}
	if q.ActorID != "" && ev.ActorID != q.ActorID {
		return false
	}
	if q.EventName != "" && ev.EventName != q.EventName {
		return false
	}
	if q.ResourceType != "" && (ev.ResourceType == nil || *ev.ResourceType != q.ResourceType) {
		return false
	}
	if q.ResourceID != "" && (ev.ResourceID == nil || *ev.ResourceID != q.ResourceID) {
		return false
	}
	// ISO-8601 UTC timestamps order lexicographically.
	if q.StartTimeUTC != "" && ev.TimestampUTC < q.StartTimeUTC {
		return false
	}
	if q.EndTimeUTC != "" && ev.TimestampUTC > q.EndTimeUTC {
		return false
	}
	return true
}

func paginate(events []*types.AuditEvent, offset, limit int) []*types.AuditEvent {
	if offset > 0 {
		if offset >= len(events) {
			return []*types.AuditEvent{}
		}
		events = events[offset:]
	}
	if limit > 0 && limit < len(events) {
		events = events[:limit]
	}
	return events
}
