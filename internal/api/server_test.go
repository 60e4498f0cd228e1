package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audit-engine/go-core/internal/bundle"
	"github.com/audit-engine/go-core/internal/ledger"
	"github.com/audit-engine/go-core/internal/metrics"
)

func newTestServer(t *testing.T, signer *bundle.BundleSigner) *Server {
	t.Helper()

	ldg := ledger.NewLedger(ledger.NewMemoryStore())
	t.Cleanup(func() { ldg.Close() })

	cfg := DefaultConfig()
	s, err := New(cfg, ldg, signer, metrics.NewNoOpMetrics(), nil)
	require.NoError(t, err)
	return s
}

func doRequest(s *Server, method, path, tenantID string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}

	req := httptest.NewRequest(method, path, &buf)
	if tenantID != "" {
		req.Header.Set("X-Tenant-ID", tenantID)
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func appendTestEvent(t *testing.T, s *Server, tenantID string) map[string]interface{} {
	t.Helper()

	rec := doRequest(s, "POST", "/api/v1/audit/events", tenantID, map[string]interface{}{
		"event_name": "booking.created",
		"category":   "booking",
		"severity":   "info",
		"actor_id":   "user-1",
		"payload":    map[string]interface{}{"pet": "otis"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	return body["data"].(map[string]interface{})["event"].(map[string]interface{})
}

func TestAppendEvent(t *testing.T) {
	s := newTestServer(t, nil)

	event := appendTestEvent(t, s, "tenant-a")
	assert.Equal(t, "tenant-a", event["tenant_id"])
	assert.Equal(t, float64(1), event["sequence"])
	assert.Nil(t, event["prev_checksum"])
	assert.NotEmpty(t, event["checksum"])

	second := appendTestEvent(t, s, "tenant-a")
	assert.Equal(t, float64(2), second["sequence"])
	assert.Equal(t, event["checksum"], second["prev_checksum"])
}

func TestAppendEvent_TenantHeaderWinsOverBody(t *testing.T) {
	s := newTestServer(t, nil)

	rec := doRequest(s, "POST", "/api/v1/audit/events", "tenant-header", map[string]interface{}{
		"tenant_id":  "tenant-body",
		"event_name": "e",
		"actor_id":   "a",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	body := decodeBody(t, rec)
	event := body["data"].(map[string]interface{})["event"].(map[string]interface{})
	assert.Equal(t, "tenant-header", event["tenant_id"])
}

func TestAppendEvent_Validation(t *testing.T) {
	s := newTestServer(t, nil)

	t.Run("missing tenant", func(t *testing.T) {
		rec := doRequest(s, "POST", "/api/v1/audit/events", "", map[string]interface{}{
			"event_name": "e", "actor_id": "a",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("bad tenant format", func(t *testing.T) {
		rec := doRequest(s, "POST", "/api/v1/audit/events", "bad tenant!", map[string]interface{}{
			"event_name": "e", "actor_id": "a",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing event_name", func(t *testing.T) {
		rec := doRequest(s, "POST", "/api/v1/audit/events", "tenant-a", map[string]interface{}{
			"actor_id": "a",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "VALIDATION_FAILED", body["error"].(map[string]interface{})["code"])
	})

	t.Run("malformed json", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/v1/audit/events", bytes.NewBufferString("{nope"))
		req.Header.Set("X-Tenant-ID", "tenant-a")
		rec := httptest.NewRecorder()
		s.Router().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestQueryEvents(t *testing.T) {
	s := newTestServer(t, nil)

	for i := 0; i < 3; i++ {
		appendTestEvent(t, s, "tenant-a")
	}
	appendTestEvent(t, s, "tenant-b")

	rec := doRequest(s, "GET", "/api/v1/audit/events", "tenant-a", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	data := decodeBody(t, rec)["data"].(map[string]interface{})
	assert.Equal(t, float64(3), data["count"])
	assert.Equal(t, float64(3), data["total"])

	rec = doRequest(s, "GET", "/api/v1/audit/events?limit=2&offset=1", "tenant-a", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data = decodeBody(t, rec)["data"].(map[string]interface{})
	assert.Equal(t, float64(2), data["count"])

	rec = doRequest(s, "GET", "/api/v1/audit/events?category=nope", "tenant-a", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data = decodeBody(t, rec)["data"].(map[string]interface{})
	assert.Equal(t, float64(0), data["count"])

	rec = doRequest(s, "GET", "/api/v1/audit/events?limit=abc", "tenant-a", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetEvent(t *testing.T) {
	s := newTestServer(t, nil)

	created := appendTestEvent(t, s, "tenant-a")
	eventID := created["event_id"].(string)

	rec := doRequest(s, "GET", "/api/v1/audit/events/"+eventID, "tenant-a", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(s, "GET", "/api/v1/audit/events/"+eventID, "tenant-b", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code,
		"events are invisible to other tenants")

	rec = doRequest(s, "GET", "/api/v1/audit/events/unknown", "tenant-a", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExportBundle(t *testing.T) {
	s := newTestServer(t, nil)

	for i := 0; i < 2; i++ {
		appendTestEvent(t, s, "tenant-a")
	}

	rec := doRequest(s, "GET", "/api/v1/audit/export", "tenant-a", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	b := decodeBody(t, rec)["data"].(map[string]interface{})["bundle"].(map[string]interface{})
	assert.Equal(t, "tenant-a", b["tenant_id"])
	assert.Equal(t, float64(2), b["event_count"])
	assert.NotEmpty(t, b["bundle_checksum"])
}

func TestExportBundle_SequenceRange(t *testing.T) {
	s := newTestServer(t, nil)

	for i := 0; i < 4; i++ {
		appendTestEvent(t, s, "tenant-a")
	}

	rec := doRequest(s, "GET", "/api/v1/audit/export?start_sequence=2&end_sequence=3", "tenant-a", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	b := decodeBody(t, rec)["data"].(map[string]interface{})["bundle"].(map[string]interface{})
	assert.Equal(t, float64(2), b["event_count"])
	assert.Equal(t, float64(2), b["first_sequence"])
	assert.Equal(t, float64(3), b["last_sequence"])

	rec = doRequest(s, "GET", "/api/v1/audit/export?start_sequence=abc", "tenant-a", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExportBundle_SigningDisabled(t *testing.T) {
	s := newTestServer(t, nil)
	appendTestEvent(t, s, "tenant-a")

	rec := doRequest(s, "GET", "/api/v1/audit/export?sign=true", "tenant-a", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExportAndVerifyRoundTrip(t *testing.T) {
	signer, err := bundle.NewEd25519Signer()
	require.NoError(t, err)
	s := newTestServer(t, bundle.NewBundleSigner(signer))

	for i := 0; i < 3; i++ {
		appendTestEvent(t, s, "tenant-a")
	}

	rec := doRequest(s, "GET", "/api/v1/audit/export?sign=true", "tenant-a", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	exported := decodeBody(t, rec)["data"].(map[string]interface{})["bundle"].(map[string]interface{})
	assert.NotEmpty(t, exported["signature_b64"])

	// Feed the exported bundle straight back into the verify endpoint.
	rec = doRequest(s, "POST", "/api/v1/audit/verify", "", map[string]interface{}{
		"bundle":            exported,
		"require_signature": true,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	envelope := decodeBody(t, rec)
	assert.Equal(t, true, envelope["ok"], "body: %s", rec.Body.String())
	details := envelope["details"].(map[string]interface{})
	assert.Equal(t, true, details["signature_ok"])
	assert.Equal(t, true, details["bundle_checksum_ok"])
}

func TestVerifyBundle_TamperedIsOKFalseNot400(t *testing.T) {
	s := newTestServer(t, nil)
	appendTestEvent(t, s, "tenant-a")

	rec := doRequest(s, "GET", "/api/v1/audit/export", "tenant-a", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	exported := decodeBody(t, rec)["data"].(map[string]interface{})["bundle"].(map[string]interface{})
	exported["event_count"] = 42

	rec = doRequest(s, "POST", "/api/v1/audit/verify", "", map[string]interface{}{
		"bundle": exported,
	})
	require.Equal(t, http.StatusOK, rec.Code,
		"an integrity failure is a result, not a request error")

	envelope := decodeBody(t, rec)
	assert.Equal(t, false, envelope["ok"])
	assert.NotEmpty(t, envelope["errors"])
}

func TestVerifyBundle_ContractErrors(t *testing.T) {
	s := newTestServer(t, nil)

	t.Run("missing bundle", func(t *testing.T) {
		rec := doRequest(s, "POST", "/api/v1/audit/verify", "", map[string]interface{}{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		envelope := decodeBody(t, rec)
		assert.Equal(t, false, envelope["ok"])
		errs := envelope["errors"].([]interface{})
		first := errs[0].(map[string]interface{})
		assert.Equal(t, "missing_field", first["code"])
		assert.Equal(t, "$.bundle", first["path"])
	})

	t.Run("invalid json", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/v1/audit/verify", bytes.NewBufferString("{"))
		rec := httptest.NewRecorder()
		s.Router().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("bad option type", func(t *testing.T) {
		rec := doRequest(s, "POST", "/api/v1/audit/verify", "", map[string]interface{}{
			"bundle":          map[string]interface{}{},
			"strict_sequence": "always",
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestVerifyChainEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	for i := 0; i < 2; i++ {
		appendTestEvent(t, s, "tenant-a")
	}

	rec := doRequest(s, "GET", "/api/v1/audit/chain/verify", "tenant-a", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	report := decodeBody(t, rec)["data"].(map[string]interface{})["report"].(map[string]interface{})
	assert.Equal(t, true, report["ok"])
	assert.Equal(t, float64(2), report["event_count"])

	rec = doRequest(s, "GET", "/api/v1/audit/chain/verify?start_sequence=2", "tenant-a", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	report = decodeBody(t, rec)["data"].(map[string]interface{})["report"].(map[string]interface{})
	assert.Equal(t, true, report["ok"])
	assert.Equal(t, float64(1), report["event_count"])

	rec = doRequest(s, "GET", "/api/v1/audit/chain/verify?end_sequence=-1", "tenant-a", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t, nil)

	rec := doRequest(s, "GET", "/api/v1/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	data := decodeBody(t, rec)["data"].(map[string]interface{})
	assert.Equal(t, "healthy", data["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	ldg := ledger.NewLedger(ledger.NewMemoryStore())
	defer ldg.Close()

	s, err := New(DefaultConfig(), ldg, nil, metrics.NewPrometheusMetrics("audit"), nil)
	require.NoError(t, err)

	rec := doRequest(s, "GET", "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestServerRequiresLedger(t *testing.T) {
	_, err := New(DefaultConfig(), nil, nil, nil, nil)
	assert.Error(t, err)
}

func BenchmarkAppendEndpoint(b *testing.B) {
	ldg := ledger.NewLedger(ledger.NewMemoryStore())
	defer ldg.Close()

	s, err := New(DefaultConfig(), ldg, nil, metrics.NewNoOpMetrics(), nil)
	if err != nil {
		b.Fatal(err)
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"event_name": "bench.event",
		"actor_id":   "bench",
	})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		req := httptest.NewRequest("POST", "/api/v1/audit/events", bytes.NewReader(payload))
		req.Header.Set("X-Tenant-ID", "tenant-bench")
		rec := httptest.NewRecorder()
		s.Router().ServeHTTP(rec, req)
		if rec.Code != http.StatusCreated {
			b.Fatalf("unexpected status %d", rec.Code)
		}
	}
}
