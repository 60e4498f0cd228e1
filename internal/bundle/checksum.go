// Package bundle implements export bundle integrity: deterministic bundle
// checksums, Ed25519/HMAC signing, and structural verification.
package bundle

import (
	"github.com/audit-engine/go-core/internal/canonical"
)

// AlgorithmEd25519 and AlgorithmHMACSHA256 are the supported signature
// algorithm tags embedded in signed bundles.
const (
	AlgorithmEd25519    = "ed25519"
	AlgorithmHMACSHA256 = "hmac-sha256"
)

// Signature metadata field names added to a bundle on signing. These are the
// single canonical set: both the checksum and the signature payload exclude
// exactly these fields plus bundle_checksum.
const (
	FieldSignatureAlgorithm  = "signature_algorithm"
	FieldSignatureB64        = "signature_b64"
	FieldSigningPublicKeyB64 = "signing_public_key_b64"
	FieldKeyFingerprint      = "signing_key_fingerprint"
	FieldSignedAtUTC         = "signed_at_utc"

	FieldBundleChecksum = "bundle_checksum"
)

// signatureFields is the set of metadata fields stripped before computing
// the signature payload.
var signatureFields = map[string]struct{}{
	FieldSignatureAlgorithm:  {},
	FieldSignatureB64:        {},
	FieldSigningPublicKeyB64: {},
	FieldKeyFingerprint:      {},
	FieldSignedAtUTC:         {},
}

// checksumExcludedFields is the set stripped before computing the bundle
// checksum: signature metadata plus the checksum itself.
var checksumExcludedFields = func() map[string]struct{} {
	out := make(map[string]struct{}, len(signatureFields)+1)
	for k := range signatureFields {
		out[k] = struct{}{}
	}
	out[FieldBundleChecksum] = struct{}{}
	return out
}()

// StripSignatureFields returns a copy of the bundle without signature
// metadata. The input map is never mutated.
func StripSignatureFields(b map[string]interface{}) map[string]interface{} {
	return stripFields(b, signatureFields)
}

// SignaturePresent reports whether any signature metadata field is set.
func SignaturePresent(b map[string]interface{}) bool {
	for k := range signatureFields {
		if _, ok := b[k]; ok {
			return true
		}
	}
	return false
}

// ComputeChecksum recomputes the deterministic bundle checksum: the hex
// SHA-256 of the canonical bundle with signature metadata and the checksum
// field removed.
func ComputeChecksum(b map[string]interface{}) (string, error) {
	return canonical.HashJSON(stripFields(b, checksumExcludedFields))
}

// SignaturePayload returns the canonical bytes covered by a bundle
// signature: the bundle minus signature metadata.
func SignaturePayload(b map[string]interface{}) ([]byte, error) {
	return canonical.Canonicalize(StripSignatureFields(b))
}

func stripFields(b map[string]interface{}, excluded map[string]struct{}) map[string]interface{} {
	out := make(map[string]interface{}, len(b))
	for k, v := range b {
		if _, skip := excluded[k]; skip {
			continue
		}
		out[k] = v
	}
	return out
}
