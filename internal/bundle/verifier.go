package bundle

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/audit-engine/go-core/pkg/types"
)

// VerifyAuditBundle validates an exported bundle: shape, tenant isolation,
// sequence ordering, hash-chain linkage, event count, bundle checksum and
// signature metadata.
//
// It never panics or returns an error for malformed input; every violated
// invariant is reported as an itemized finding in the result and independent
// checks all run rather than short-circuiting on the first failure.
//
// The signer argument is the verification seam for signature metadata: when
// a bundle carries signature fields and signer is nil the result fails with
// "no signer provided", because a signature that cannot be checked must not
// pass silently.
func VerifyAuditBundle(b map[string]interface{}, signer BundleVerifier, requireSignature, strictSequence bool) types.VerificationResult {
	if b == nil {
		return types.VerificationResult{
			OK:     false,
			Errors: []string{"bundle invalid: not an object"},
		}
	}

	var errs []string

	events := extractEvents(b, &errs)
	tenantID, _ := b["tenant_id"].(string)

	validateTenantIsolation(b, events, &errs)

	seqs := extractSequences(events)
	firstSeq, lastSeq := validateSequences(seqs, strictSequence, &errs)

	validateChainLinks(events, &errs)
	validateEventCount(b, len(events), &errs)

	checksumOK := validateChecksum(b, &errs)

	sigPresent := SignaturePresent(b)
	sigOK := true

	if requireSignature && !sigPresent {
		sigOK = false
		errs = append(errs, "signature required but missing")
	}

	if sigPresent {
		switch {
		case signer == nil:
			sigOK = false
			errs = append(errs, "no signer provided")
		default:
			sigOK = verifySignature(b, signer, &errs)
		}
	}

	return types.VerificationResult{
		OK:               len(errs) == 0,
		Errors:           errs,
		BundleChecksumOK: checksumOK,
		SignaturePresent: sigPresent,
		SignatureOK:      sigOK,
		TenantID:         tenantID,
		EventCount:       len(events),
		FirstSequence:    firstSeq,
		LastSequence:     lastSeq,
	}
}

// extractEvents returns the object-shaped entries of the events list.
// Non-object entries are dropped from the working set but flagged.
func extractEvents(b map[string]interface{}, errs *[]string) []map[string]interface{} {
	raw, ok := b["events"]
	if !ok || raw == nil {
		return nil
	}

	list, ok := raw.([]interface{})
	if !ok {
		*errs = append(*errs, "events invalid: not a list")
		return nil
	}

	out := make([]map[string]interface{}, 0, len(list))
	for i, entry := range list {
		ev, ok := entry.(map[string]interface{})
		if !ok {
			*errs = append(*errs, fmt.Sprintf("event invalid: not an object event_index=%d", i))
			continue
		}
		out = append(out, ev)
	}
	return out
}

func validateTenantIsolation(b map[string]interface{}, events []map[string]interface{}, errs *[]string) {
	raw, ok := b["tenant_id"]
	if !ok || raw == nil {
		return
	}

	tenantID, ok := raw.(string)
	if !ok || strings.TrimSpace(tenantID) == "" {
		*errs = append(*errs, "tenant_id missing/invalid")
		return
	}

	for i, ev := range events {
		et, has := ev["tenant_id"]
		if !has {
			continue
		}
		if et != interface{}(tenantID) {
			*errs = append(*errs, fmt.Sprintf("tenant_id mismatch event_index=%d event_tenant_id=%v bundle_tenant_id=%s", i, et, tenantID))
		}
	}
}

// seqEntry pairs a sequence value with the index of the event carrying it.
type seqEntry struct {
	index int
	value int64
}

// extractSequences collects integer sequence values in event list order.
// Events without an integer sequence are skipped; their absence is not an
// error.
func extractSequences(events []map[string]interface{}) []seqEntry {
	seqs := make([]seqEntry, 0, len(events))
	for i, ev := range events {
		if s, ok := intValue(ev["sequence"]); ok {
			seqs = append(seqs, seqEntry{index: i, value: s})
		}
	}
	return seqs
}

// validateSequences reports every offending adjacent pair, indexed by the
// later event, so simultaneous breaks do not collapse into one finding.
func validateSequences(seqs []seqEntry, strictSequence bool, errs *[]string) (first, last *int64) {
	if len(seqs) == 0 {
		return nil, nil
	}

	for i := 0; i < len(seqs)-1; i++ {
		if seqs[i].value >= seqs[i+1].value {
			*errs = append(*errs, fmt.Sprintf("sequence not strictly increasing event_index=%d", seqs[i+1].index))
		}
	}

	if strictSequence {
		for i := 0; i < len(seqs)-1; i++ {
			if seqs[i+1].value != seqs[i].value+1 {
				*errs = append(*errs, fmt.Sprintf("sequence not contiguous event_index=%d", seqs[i+1].index))
			}
		}
	}

	f, l := seqs[0].value, seqs[len(seqs)-1].value
	return &f, &l
}

// validateChainLinks checks that each event's prev_checksum equals the
// predecessor's checksum by list order. The first event is exempt.
func validateChainLinks(events []map[string]interface{}, errs *[]string) {
	for i := 1; i < len(events); i++ {
		prevChecksum := stringValue(events[i]["prev_checksum"])
		predecessor := stringValue(events[i-1]["checksum"])
		if prevChecksum != predecessor {
			*errs = append(*errs, fmt.Sprintf("hash chain broken event_index=%d", i))
		}
	}
}

func validateEventCount(b map[string]interface{}, actual int, errs *[]string) {
	raw, ok := b["event_count"]
	if !ok || raw == nil {
		return
	}

	declared, ok := intValue(raw)
	if !ok {
		*errs = append(*errs, "event_count invalid: not an integer")
		return
	}
	if declared != int64(actual) {
		*errs = append(*errs, fmt.Sprintf("event_count mismatch declared=%d actual=%d", declared, actual))
	}
}

// validateChecksum recomputes the bundle checksum and compares it to the
// declared value. A missing declared checksum fails closed.
func validateChecksum(b map[string]interface{}, errs *[]string) bool {
	declared, ok := b[FieldBundleChecksum].(string)
	if !ok || declared == "" {
		*errs = append(*errs, "bundle_checksum missing")
		return false
	}

	computed, err := ComputeChecksum(b)
	if err != nil || computed != declared {
		*errs = append(*errs, "bundle_checksum mismatch")
		return false
	}
	return true
}

// verifySignature calls the injected signer and converts any failure,
// including a panic, into an itemized finding.
func verifySignature(b map[string]interface{}, signer BundleVerifier, errs *[]string) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			*errs = append(*errs, "signature invalid")
			ok = false
		}
	}()

	valid, err := signer.VerifyBundle(b)
	if err != nil || !valid {
		*errs = append(*errs, "signature invalid")
		return false
	}
	return true
}

func intValue(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return i, true
	case float64:
		i := int64(n)
		if float64(i) != n {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

func stringValue(v interface{}) string {
	s, _ := v.(string)
	return s
}
