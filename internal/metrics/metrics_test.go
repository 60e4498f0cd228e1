package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusMetrics_ScrapeOutput(t *testing.T) {
	m := NewPrometheusMetrics("audit")

	m.RecordAppend("ok", 2*time.Millisecond)
	m.RecordAppend("error", time.Millisecond)
	m.RecordExport("ok", 12)
	m.RecordQuery(time.Millisecond)
	m.RecordBundleVerification(true, time.Millisecond)
	m.RecordBundleVerification(false, time.Millisecond)
	m.RecordChainVerification(true)
	m.IncActiveRequests()

	rec := httptest.NewRecorder()
	m.HTTPHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `audit_appends_total{status="ok"} 1`)
	assert.Contains(t, body, `audit_appends_total{status="error"} 1`)
	assert.Contains(t, body, `audit_exports_total{status="ok"} 1`)
	assert.Contains(t, body, `audit_exported_events_total 12`)
	assert.Contains(t, body, `audit_bundle_verifications_total{ok="true"} 1`)
	assert.Contains(t, body, `audit_bundle_verifications_total{ok="false"} 1`)
	assert.Contains(t, body, `audit_chain_verifications_total{ok="true"} 1`)
	assert.Contains(t, body, `audit_active_requests 1`)
}

func TestNoOpMetrics_IsSafe(t *testing.T) {
	m := NewNoOpMetrics()

	m.RecordAppend("ok", time.Millisecond)
	m.RecordExport("ok", 1)
	m.RecordQuery(time.Millisecond)
	m.RecordBundleVerification(true, time.Millisecond)
	m.RecordChainVerification(false)
	m.IncActiveRequests()
	m.DecActiveRequests()

	assert.NotNil(t, m.HTTPHandler())
}
