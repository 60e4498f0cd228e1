package ledger

import "errors"

var (
	// ErrTenantRequired is returned when an operation is attempted without a
	// tenant identifier.
	ErrTenantRequired = errors.New("tenant_id is required")

	// ErrEventNotFound is returned when a lookup matches no stored event.
	ErrEventNotFound = errors.New("audit event not found")

	// ErrStorage marks failures of the underlying store. Callers separate
	// persistence faults from validation errors with errors.Is.
	ErrStorage = errors.New("audit storage failure")
)

// ValidationError reports a missing or malformed input field on append.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return e.Field + " is required"
}
