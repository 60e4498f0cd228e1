package bundle

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chainedBundle builds a structurally valid bundle of n linked events with a
// correct bundle checksum.
func chainedBundle(t *testing.T, tenantID string, n int) map[string]interface{} {
	t.Helper()

	events := make([]interface{}, 0, n)
	var prev interface{}
	for i := 1; i <= n; i++ {
		checksum := fmt.Sprintf("checksum-%d", i)
		events = append(events, map[string]interface{}{
			"tenant_id":     tenantID,
			"sequence":      i,
			"event_name":    "record.updated",
			"prev_checksum": prev,
			"checksum":      checksum,
		})
		prev = checksum
	}

	b := map[string]interface{}{
		"tenant_id":       tenantID,
		"export_id":       "3f6f2a1e-8f6f-4a0a-9a3e-222222222222",
		"exported_at_utc": "2026-01-02T03:04:05.000Z",
		"event_count":     n,
		"events":          events,
	}
	reseal(t, b)
	return b
}

// reseal recomputes bundle_checksum after a test mutates bundle content, so
// the mutation under test is the only failing check.
func reseal(t *testing.T, b map[string]interface{}) {
	t.Helper()
	checksum, err := ComputeChecksum(b)
	require.NoError(t, err)
	b[FieldBundleChecksum] = checksum
}

func event(b map[string]interface{}, i int) map[string]interface{} {
	return b["events"].([]interface{})[i].(map[string]interface{})
}

func TestVerifyAuditBundle_ValidBundle(t *testing.T) {
	b := chainedBundle(t, "tenant-a", 3)

	res := VerifyAuditBundle(b, nil, false, true)

	assert.True(t, res.OK)
	assert.Empty(t, res.Errors)
	assert.True(t, res.BundleChecksumOK)
	assert.False(t, res.SignaturePresent)
	assert.True(t, res.SignatureOK)
	assert.Equal(t, "tenant-a", res.TenantID)
	assert.Equal(t, 3, res.EventCount)
	require.NotNil(t, res.FirstSequence)
	require.NotNil(t, res.LastSequence)
	assert.Equal(t, int64(1), *res.FirstSequence)
	assert.Equal(t, int64(3), *res.LastSequence)
}

func TestVerifyAuditBundle_NilBundle(t *testing.T) {
	res := VerifyAuditBundle(nil, nil, false, false)

	assert.False(t, res.OK)
	assert.Equal(t, []string{"bundle invalid: not an object"}, res.Errors)
}

func TestVerifyAuditBundle_EmptyEvents(t *testing.T) {
	b := map[string]interface{}{
		"tenant_id":   "tenant-a",
		"event_count": 0,
		"events":      []interface{}{},
	}
	reseal(t, b)

	res := VerifyAuditBundle(b, nil, false, true)

	assert.True(t, res.OK)
	assert.Nil(t, res.FirstSequence)
	assert.Nil(t, res.LastSequence)
}

func TestVerifyAuditBundle_NonObjectEventFlagged(t *testing.T) {
	b := chainedBundle(t, "tenant-a", 2)
	b["events"] = append(b["events"].([]interface{}), "not-an-object")
	b["event_count"] = 2
	reseal(t, b)

	res := VerifyAuditBundle(b, nil, false, true)

	assert.False(t, res.OK)
	assert.Contains(t, res.Errors, "event invalid: not an object event_index=2")
	assert.Equal(t, 2, res.EventCount, "non-object entries are dropped from the working set")
}

func TestVerifyAuditBundle_EventsNotAList(t *testing.T) {
	b := map[string]interface{}{"tenant_id": "tenant-a", "events": "oops"}
	reseal(t, b)

	res := VerifyAuditBundle(b, nil, false, true)

	assert.False(t, res.OK)
	assert.Contains(t, res.Errors, "events invalid: not a list")
}

func TestVerifyAuditBundle_TenantMismatchReportsIndex(t *testing.T) {
	b := chainedBundle(t, "tenant-a", 3)
	event(b, 1)["tenant_id"] = "tenant-b"
	reseal(t, b)

	res := VerifyAuditBundle(b, nil, false, true)

	assert.False(t, res.OK)
	assert.Contains(t, res.Errors,
		"tenant_id mismatch event_index=1 event_tenant_id=tenant-b bundle_tenant_id=tenant-a")
}

func TestVerifyAuditBundle_BlankTenantID(t *testing.T) {
	b := chainedBundle(t, "  ", 1)

	res := VerifyAuditBundle(b, nil, false, true)

	assert.False(t, res.OK)
	assert.Contains(t, res.Errors, "tenant_id missing/invalid")
}

func TestVerifyAuditBundle_BrokenChain(t *testing.T) {
	b := chainedBundle(t, "tenant-a", 3)
	event(b, 2)["prev_checksum"] = "WRONG"
	reseal(t, b)

	res := VerifyAuditBundle(b, nil, false, true)

	assert.False(t, res.OK)
	assert.Contains(t, res.Errors, "hash chain broken event_index=2")
	assert.True(t, res.BundleChecksumOK,
		"a resealed bundle passes the checksum check; the chain break is its own finding")
}

func TestVerifyAuditBundle_SequenceGap(t *testing.T) {
	b := chainedBundle(t, "tenant-a", 3)
	event(b, 2)["sequence"] = 99
	reseal(t, b)

	strict := VerifyAuditBundle(b, nil, false, true)
	assert.False(t, strict.OK)
	assert.Contains(t, strict.Errors, "sequence not contiguous event_index=2")

	lax := VerifyAuditBundle(b, nil, false, false)
	assert.True(t, lax.OK, "a gap is allowed when contiguity is not enforced")
	require.NotNil(t, lax.LastSequence)
	assert.Equal(t, int64(99), *lax.LastSequence)
}

func TestVerifyAuditBundle_SequenceNotIncreasing(t *testing.T) {
	b := chainedBundle(t, "tenant-a", 3)
	event(b, 1)["sequence"] = 3
	event(b, 2)["sequence"] = 2
	reseal(t, b)

	res := VerifyAuditBundle(b, nil, false, false)

	assert.False(t, res.OK)
	assert.Contains(t, res.Errors, "sequence not strictly increasing event_index=2")
}

func TestVerifyAuditBundle_ReportsEverySequenceBreak(t *testing.T) {
	b := chainedBundle(t, "tenant-a", 5)
	event(b, 1)["sequence"] = 5
	event(b, 2)["sequence"] = 6
	event(b, 3)["sequence"] = 9
	event(b, 4)["sequence"] = 10
	reseal(t, b)

	res := VerifyAuditBundle(b, nil, false, true)

	assert.False(t, res.OK)
	assert.Contains(t, res.Errors, "sequence not contiguous event_index=1")
	assert.Contains(t, res.Errors, "sequence not contiguous event_index=3")
}

func TestVerifyAuditBundle_EventCountMismatch(t *testing.T) {
	b := chainedBundle(t, "tenant-a", 2)
	b["event_count"] = 5
	reseal(t, b)

	res := VerifyAuditBundle(b, nil, false, true)

	assert.False(t, res.OK)
	assert.Contains(t, res.Errors, "event_count mismatch declared=5 actual=2")
}

func TestVerifyAuditBundle_ChecksumTampered(t *testing.T) {
	b := chainedBundle(t, "tenant-a", 2)
	event(b, 0)["event_name"] = "record.deleted"

	res := VerifyAuditBundle(b, nil, false, true)

	assert.False(t, res.OK)
	assert.False(t, res.BundleChecksumOK)
	assert.Contains(t, res.Errors, "bundle_checksum mismatch")
}

func TestVerifyAuditBundle_ChecksumMissing(t *testing.T) {
	b := chainedBundle(t, "tenant-a", 2)
	delete(b, FieldBundleChecksum)

	res := VerifyAuditBundle(b, nil, false, true)

	assert.False(t, res.OK)
	assert.False(t, res.BundleChecksumOK)
	assert.Contains(t, res.Errors, "bundle_checksum missing")
}

func TestVerifyAuditBundle_SignatureRequiredButMissing(t *testing.T) {
	b := chainedBundle(t, "tenant-a", 2)

	res := VerifyAuditBundle(b, nil, true, true)

	assert.False(t, res.OK)
	assert.False(t, res.SignatureOK)
	assert.Contains(t, res.Errors, "signature required but missing")
}

func TestVerifyAuditBundle_SignaturePresentWithoutSigner(t *testing.T) {
	signer, err := NewEd25519Signer()
	require.NoError(t, err)

	signed, err := SignBundle(chainedBundle(t, "tenant-a", 2), signer)
	require.NoError(t, err)
	reseal(t, signed)

	res := VerifyAuditBundle(signed, nil, false, true)

	assert.False(t, res.OK)
	assert.True(t, res.SignaturePresent)
	assert.False(t, res.SignatureOK)
	assert.Contains(t, res.Errors, "no signer provided")
}

func TestVerifyAuditBundle_SignedBundleVerifies(t *testing.T) {
	signer, err := NewEd25519Signer()
	require.NoError(t, err)

	signed, err := SignBundle(chainedBundle(t, "tenant-a", 2), signer)
	require.NoError(t, err)
	reseal(t, signed)

	res := VerifyAuditBundle(signed, NewBundleSigner(signer), true, true)

	assert.True(t, res.OK, "errors: %v", res.Errors)
	assert.True(t, res.SignaturePresent)
	assert.True(t, res.SignatureOK)
	assert.True(t, res.BundleChecksumOK,
		"signature metadata is excluded from the checksum, so signing does not break it")
}

func TestVerifyAuditBundle_TamperedSignature(t *testing.T) {
	signer, err := NewEd25519Signer()
	require.NoError(t, err)

	signed, err := SignBundle(chainedBundle(t, "tenant-a", 2), signer)
	require.NoError(t, err)
	signed[FieldSignatureB64] = "AAAA"
	reseal(t, signed)

	res := VerifyAuditBundle(signed, NewBundleSigner(signer), false, true)

	assert.False(t, res.OK)
	assert.False(t, res.SignatureOK)
	assert.Contains(t, res.Errors, "signature invalid")
}

type panickingVerifier struct{}

func (panickingVerifier) VerifyBundle(map[string]interface{}) (bool, error) {
	panic("signer blew up")
}

func TestVerifyAuditBundle_SignerPanicIsCaught(t *testing.T) {
	signer, err := NewEd25519Signer()
	require.NoError(t, err)

	signed, err := SignBundle(chainedBundle(t, "tenant-a", 2), signer)
	require.NoError(t, err)
	reseal(t, signed)

	res := VerifyAuditBundle(signed, panickingVerifier{}, false, true)

	assert.False(t, res.OK)
	assert.False(t, res.SignatureOK)
	assert.Contains(t, res.Errors, "signature invalid")
}

func TestVerifyAuditBundle_AccumulatesAllFindings(t *testing.T) {
	b := chainedBundle(t, "tenant-a", 3)
	event(b, 1)["tenant_id"] = "tenant-b"
	event(b, 2)["prev_checksum"] = "WRONG"
	event(b, 2)["sequence"] = 99
	b["event_count"] = 7
	delete(b, FieldBundleChecksum)

	res := VerifyAuditBundle(b, nil, true, true)

	assert.False(t, res.OK)
	assert.GreaterOrEqual(t, len(res.Errors), 5,
		"independent checks all run instead of stopping at the first failure")
}
