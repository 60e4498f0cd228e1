// Package types defines the shared value types for the audit ledger core.
package types

// AuditEvent represents a single append-only ledger entry with tamper detection.
//
// Events are immutable once appended: the checksum covers every field except
// itself, and PrevChecksum links each event to its predecessor in the
// tenant's hash chain.
type AuditEvent struct {
	// Core identification
	EventID      string `json:"event_id"`
	TenantID     string `json:"tenant_id"` // Multi-tenant isolation
	Sequence     int64  `json:"sequence"`  // Strictly increasing per tenant, starts at 1
	TimestampUTC string `json:"timestamp_utc"`

	// Classification
	EventName string `json:"event_name"`
	Category  string `json:"category"`
	Severity  string `json:"severity"`

	// Actor and action
	ActorID   string `json:"actor_id"`
	ActorType string `json:"actor_type"`
	Action    string `json:"action"`

	// Optional target reference
	ResourceType *string `json:"resource_type"`
	ResourceID   *string `json:"resource_id"`

	// Arbitrary structured context, opaque to the ledger
	Payload map[string]interface{} `json:"payload"`

	// Tamper detection (hash chain)
	PrevChecksum *string `json:"prev_checksum"` // nil for the first event of a tenant
	Checksum     string  `json:"checksum"`      // SHA-256 over the canonical event minus this field
}

// AuditQuery represents search criteria for ledger queries.
//
// String filters are exact-match; time bounds are inclusive and compared
// against TimestampUTC (ISO-8601 strings order lexicographically).
type AuditQuery struct {
	TenantID     string
	StartTimeUTC string
	EndTimeUTC   string
	Category     string
	Severity     string
	ActorID      string
	EventName    string
	ResourceType string
	ResourceID   string

	// Pagination, applied after filtering
	Limit  int
	Offset int
}

// Bundle is a point-in-time export of a contiguous sequence range for one
// tenant. Events are carried as generic maps so signed and verified bundles
// round-trip through JSON without loss.
type Bundle struct {
	TenantID      string                   `json:"tenant_id"`
	ExportID      string                   `json:"export_id"`
	ExportedAtUTC string                   `json:"exported_at_utc"`
	EventCount    int                      `json:"event_count"`
	FirstSequence *int64                   `json:"first_sequence"`
	LastSequence  *int64                   `json:"last_sequence"`
	Events        []map[string]interface{} `json:"events"`

	// SHA-256 over the canonical bundle minus this field and any
	// signature metadata.
	BundleChecksum string `json:"bundle_checksum"`
}

// VerificationResult reports the outcome of verifying an exported bundle.
// Integrity violations are accumulated findings, not errors: a failed
// verification is a well-formed result with OK=false.
type VerificationResult struct {
	OK     bool     `json:"ok"`
	Errors []string `json:"errors"`

	BundleChecksumOK bool `json:"bundle_checksum_ok"`
	SignaturePresent bool `json:"signature_present"`
	SignatureOK      bool `json:"signature_ok"`

	// Echoed bundle context for observability
	TenantID      string `json:"tenant_id"`
	EventCount    int    `json:"event_count"`
	FirstSequence *int64 `json:"first_sequence"`
	LastSequence  *int64 `json:"last_sequence"`
}
