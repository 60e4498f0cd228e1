package api

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/audit-engine/go-core/internal/canonical"
	"github.com/audit-engine/go-core/internal/ledger"
	"github.com/audit-engine/go-core/internal/verification"
	"github.com/audit-engine/go-core/pkg/types"
)

// tenantIDPattern bounds what the API accepts as a tenant identifier.
var tenantIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

// tenantFromRequest resolves the tenant from the X-Tenant-ID header, falling
// back to the tenant_id query parameter.
func tenantFromRequest(r *http.Request) (string, bool) {
	tenantID := r.Header.Get("X-Tenant-ID")
	if tenantID == "" {
		tenantID = r.URL.Query().Get("tenant_id")
	}
	if !tenantIDPattern.MatchString(tenantID) {
		return "", false
	}
	return tenantID, true
}

type appendRequest struct {
	TenantID     string                 `json:"tenant_id"`
	EventName    string                 `json:"event_name"`
	Category     string                 `json:"category"`
	Severity     string                 `json:"severity"`
	ActorID      string                 `json:"actor_id"`
	ActorType    string                 `json:"actor_type"`
	Action       string                 `json:"action"`
	ResourceType *string                `json:"resource_type"`
	ResourceID   *string                `json:"resource_id"`
	Payload      map[string]interface{} `json:"payload"`
}

// appendEvent appends one event to the caller's chain.
func (s *Server) appendEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "INVALID_BODY",
			"Failed to read request body", err.Error())
		return
	}

	var req appendRequest
	if err := canonical.DecodeJSON(body, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "INVALID_JSON",
			"Invalid JSON payload", err.Error())
		return
	}

	// The header wins over the body so a proxy-injected tenant cannot be
	// overridden by the payload.
	if headerTenant := r.Header.Get("X-Tenant-ID"); headerTenant != "" {
		req.TenantID = headerTenant
	}
	if !tenantIDPattern.MatchString(req.TenantID) {
		s.respondError(w, http.StatusBadRequest, "INVALID_TENANT",
			"A valid tenant identifier is required", "set the X-Tenant-ID header or tenant_id field")
		return
	}

	start := time.Now()
	event, err := s.ledger.Append(r.Context(), ledger.AppendInput{
		TenantID:     req.TenantID,
		EventName:    req.EventName,
		Category:     req.Category,
		Severity:     req.Severity,
		ActorID:      req.ActorID,
		ActorType:    req.ActorType,
		Action:       req.Action,
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
		Payload:      req.Payload,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrTenantRequired) || isValidationError(err) {
			s.metrics.RecordAppend("invalid", time.Since(start))
			s.respondError(w, http.StatusBadRequest, "VALIDATION_FAILED",
				"Event validation failed", err.Error())
			return
		}
		s.metrics.RecordAppend("error", time.Since(start))
		s.respondError(w, http.StatusInternalServerError, "APPEND_FAILED",
			"Failed to append event", err.Error())
		return
	}
	s.metrics.RecordAppend("ok", time.Since(start))

	s.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"event": event,
	})
}

// queryEvents lists a tenant's events with optional filters.
func (s *Server) queryEvents(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFromRequest(r)
	if !ok {
		s.respondError(w, http.StatusBadRequest, "INVALID_TENANT",
			"A valid tenant identifier is required", "")
		return
	}

	params := r.URL.Query()
	q := &types.AuditQuery{
		TenantID:     tenantID,
		StartTimeUTC: params.Get("start_time"),
		EndTimeUTC:   params.Get("end_time"),
		Category:     params.Get("category"),
		Severity:     params.Get("severity"),
		ActorID:      params.Get("actor_id"),
		EventName:    params.Get("event_name"),
		ResourceType: params.Get("resource_type"),
		ResourceID:   params.Get("resource_id"),
	}

	var err error
	if q.Limit, err = intParam(params.Get("limit")); err != nil {
		s.respondError(w, http.StatusBadRequest, "INVALID_PARAM", "limit must be an integer", "")
		return
	}
	if q.Offset, err = intParam(params.Get("offset")); err != nil {
		s.respondError(w, http.StatusBadRequest, "INVALID_PARAM", "offset must be an integer", "")
		return
	}

	start := time.Now()
	events, err := s.ledger.Query(r.Context(), q)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "QUERY_FAILED",
			"Failed to query events", err.Error())
		return
	}
	s.metrics.RecordQuery(time.Since(start))

	total, err := s.ledger.Count(r.Context(), tenantID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "QUERY_FAILED",
			"Failed to count events", err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
		"total":  total,
	})
}

// getEvent returns one event by ID.
func (s *Server) getEvent(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFromRequest(r)
	if !ok {
		s.respondError(w, http.StatusBadRequest, "INVALID_TENANT",
			"A valid tenant identifier is required", "")
		return
	}

	eventID := mux.Vars(r)["event_id"]
	event, err := s.ledger.GetByID(r.Context(), tenantID, eventID)
	if err != nil {
		if errors.Is(err, ledger.ErrEventNotFound) {
			s.respondError(w, http.StatusNotFound, "EVENT_NOT_FOUND",
				"No such event for this tenant", "")
			return
		}
		s.respondError(w, http.StatusInternalServerError, "LOOKUP_FAILED",
			"Failed to load event", err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"event": event,
	})
}

// exportBundle exports the tenant's full chain as a checksummed bundle,
// optionally signed.
func (s *Server) exportBundle(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFromRequest(r)
	if !ok {
		s.respondError(w, http.StatusBadRequest, "INVALID_TENANT",
			"A valid tenant identifier is required", "")
		return
	}

	params := r.URL.Query()
	sign := params.Get("sign") == "true"
	if sign && s.signer == nil {
		s.respondError(w, http.StatusBadRequest, "SIGNING_DISABLED",
			"Bundle signing is not configured", "")
		return
	}

	startSeq, endSeq, ok := s.sequenceRange(w, params)
	if !ok {
		return
	}

	b, err := s.ledger.Export(r.Context(), tenantID, startSeq, endSeq)
	if err != nil {
		s.metrics.RecordExport("error", 0)
		s.respondError(w, http.StatusInternalServerError, "EXPORT_FAILED",
			"Failed to export bundle", err.Error())
		return
	}

	if sign {
		b, err = s.signer.Sign(b)
		if err != nil {
			s.metrics.RecordExport("error", 0)
			s.respondError(w, http.StatusInternalServerError, "SIGNING_FAILED",
				"Failed to sign bundle", err.Error())
			return
		}
	}

	eventCount, _ := b["event_count"].(int)
	s.metrics.RecordExport("ok", eventCount)

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"bundle": b,
	})
}

// verifyChain re-verifies the tenant's stored chain.
func (s *Server) verifyChain(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFromRequest(r)
	if !ok {
		s.respondError(w, http.StatusBadRequest, "INVALID_TENANT",
			"A valid tenant identifier is required", "")
		return
	}

	startSeq, endSeq, ok := s.sequenceRange(w, r.URL.Query())
	if !ok {
		return
	}

	report, err := s.ledger.VerifyChain(r.Context(), tenantID, startSeq, endSeq)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "VERIFY_FAILED",
			"Failed to verify chain", err.Error())
		return
	}
	s.metrics.RecordChainVerification(report.OK)

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"report": report,
	})
}

// verifyBundle verifies a client-supplied bundle. Contract violations return
// 400; a failed verification is a 200 with ok=false.
func (s *Server) verifyBundle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "INVALID_BODY",
			"Failed to read request body", err.Error())
		return
	}

	var payload interface{}
	if err := canonical.DecodeJSON(body, &payload); err != nil {
		s.respondRaw(w, http.StatusBadRequest, verification.NewContractErrorResponse(
			[]verification.ContractError{{
				Code:    "invalid_payload",
				Message: "payload must be valid JSON",
				Path:    "$",
			}}))
		return
	}

	req, contractErrs := verification.ParseVerifyPayload(payload)
	if len(contractErrs) > 0 {
		s.respondRaw(w, http.StatusBadRequest, verification.NewContractErrorResponse(contractErrs))
		return
	}

	// A server-side signature requirement cannot be relaxed by the caller.
	req.RequireSignature = req.RequireSignature || s.config.RequireSignature

	start := time.Now()
	resp := s.verify.Verify(*req)
	s.metrics.RecordBundleVerification(resp.OK, time.Since(start))

	s.respondRaw(w, http.StatusOK, verification.NewVerifyResponseEnvelope(resp))
}

// healthCheck reports liveness.
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func intParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func int64Param(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

// sequenceRange parses the optional start_sequence/end_sequence parameters.
// A false return means the response has already been written.
func (s *Server) sequenceRange(w http.ResponseWriter, params url.Values) (startSeq, endSeq int64, ok bool) {
	var err error
	if startSeq, err = int64Param(params.Get("start_sequence")); err != nil || startSeq < 0 {
		s.respondError(w, http.StatusBadRequest, "INVALID_PARAM",
			"start_sequence must be a non-negative integer", "")
		return 0, 0, false
	}
	if endSeq, err = int64Param(params.Get("end_sequence")); err != nil || endSeq < 0 {
		s.respondError(w, http.StatusBadRequest, "INVALID_PARAM",
			"end_sequence must be a non-negative integer", "")
		return 0, 0, false
	}
	return startSeq, endSeq, true
}

// isValidationError distinguishes bad input from storage failures.
func isValidationError(err error) bool {
	var vErr *ledger.ValidationError
	return errors.As(err, &vErr)
}
