// Package metrics provides observability for the audit ledger.
package metrics

import (
	"net/http"
	"time"
)

// Metrics records ledger and verification activity.
type Metrics interface {
	// Ledger metrics
	RecordAppend(status string, duration time.Duration)
	RecordExport(status string, eventCount int)
	RecordQuery(duration time.Duration)

	// Verification metrics
	RecordBundleVerification(ok bool, duration time.Duration)
	RecordChainVerification(ok bool)

	// HTTP metrics
	IncActiveRequests()
	DecActiveRequests()

	// HTTPHandler exposes the scrape endpoint.
	HTTPHandler() http.Handler
}

// NoOpMetrics is used in tests and when monitoring is disabled.
type NoOpMetrics struct{}

// NewNoOpMetrics creates a no-op metrics instance.
func NewNoOpMetrics() *NoOpMetrics { return &NoOpMetrics{} }

func (m *NoOpMetrics) RecordAppend(string, time.Duration)           {}
func (m *NoOpMetrics) RecordExport(string, int)                     {}
func (m *NoOpMetrics) RecordQuery(time.Duration)                    {}
func (m *NoOpMetrics) RecordBundleVerification(bool, time.Duration) {}
func (m *NoOpMetrics) RecordChainVerification(bool)                 {}
func (m *NoOpMetrics) IncActiveRequests()                           {}
func (m *NoOpMetrics) DecActiveRequests()                           {}
func (m *NoOpMetrics) HTTPHandler() http.Handler                    { return http.NotFoundHandler() }
