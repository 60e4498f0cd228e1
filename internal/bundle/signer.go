package bundle

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"
)

// Signer signs and verifies raw payload bytes for one algorithm and one key.
// Implementations must be safe for concurrent use; signing the same payload
// twice with the same key produces byte-identical signatures.
type Signer interface {
	// Algorithm returns the algorithm tag embedded in signed bundles.
	Algorithm() string

	// Sign computes the signature over payload.
	Sign(payload []byte) ([]byte, error)

	// Verify reports whether sig is a valid signature over payload.
	Verify(payload, sig []byte) bool

	// PublicKey returns the raw public key, or nil for symmetric keys.
	PublicKey() []byte

	// Fingerprint returns the hex SHA-256 of the key material used for key
	// identification: the public key for Ed25519, the secret for HMAC. The
	// secret itself is never embedded.
	Fingerprint() string
}

// BundleVerifier is the seam the bundle verifier depends on: verification of
// a full signed bundle. The error return carries failures that prevent a
// verdict (e.g. algorithm mismatch); a clean false means the signature is
// invalid.
type BundleVerifier interface {
	VerifyBundle(b map[string]interface{}) (bool, error)
}

// Ed25519Signer signs bundles with an Ed25519 keypair. Ed25519 signatures
// are deterministic per RFC 8032.
type Ed25519Signer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// NewEd25519Signer generates a fresh keypair.
func NewEd25519Signer() (*Ed25519Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 keypair: %w", err)
	}
	return &Ed25519Signer{priv: priv, pub: pub}, nil
}

// NewEd25519SignerFromSeed derives the keypair from a 32-byte seed,
// allowing stable keys across restarts.
func NewEd25519SignerFromSeed(seed []byte) (*Ed25519Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("ed25519 seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Ed25519Signer{
		priv: priv,
		pub:  priv.Public().(ed25519.PublicKey),
	}, nil
}

func (s *Ed25519Signer) Algorithm() string { return AlgorithmEd25519 }

func (s *Ed25519Signer) Sign(payload []byte) ([]byte, error) {
	if s.priv == nil {
		return nil, fmt.Errorf("ed25519 signer has no private key")
	}
	return ed25519.Sign(s.priv, payload), nil
}

func (s *Ed25519Signer) Verify(payload, sig []byte) bool {
	if len(s.pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(s.pub, payload, sig)
}

func (s *Ed25519Signer) PublicKey() []byte { return []byte(s.pub) }

func (s *Ed25519Signer) Fingerprint() string {
	sum := sha256.Sum256(s.pub)
	return hex.EncodeToString(sum[:])
}

// HMACSigner signs bundles with HMAC-SHA256 over a shared secret. The
// verifying side must hold the same secret out-of-band; only the secret's
// fingerprint is ever embedded in a bundle.
type HMACSigner struct {
	secret []byte
}

// NewHMACSigner creates an HMAC-SHA256 signer for the given secret.
func NewHMACSigner(secret []byte) (*HMACSigner, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("hmac secret must not be empty")
	}
	key := make([]byte, len(secret))
	copy(key, secret)
	return &HMACSigner{secret: key}, nil
}

func (s *HMACSigner) Algorithm() string { return AlgorithmHMACSHA256 }

func (s *HMACSigner) Sign(payload []byte) ([]byte, error) {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(payload)
	return mac.Sum(nil), nil
}

// Verify uses a constant-time comparison.
func (s *HMACSigner) Verify(payload, sig []byte) bool {
	expected, err := s.Sign(payload)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, sig)
}

func (s *HMACSigner) PublicKey() []byte { return nil }

func (s *HMACSigner) Fingerprint() string {
	sum := sha256.Sum256(s.secret)
	return hex.EncodeToString(sum[:])
}

// SignBundle returns a new bundle map carrying signature metadata computed
// by s. The input is never mutated. The signature covers the canonical
// bundle with all signature metadata removed, so re-signing a previously
// signed bundle replaces its metadata rather than nesting it.
func SignBundle(b map[string]interface{}, s Signer) (map[string]interface{}, error) {
	if s == nil {
		return nil, fmt.Errorf("signer is required")
	}

	base := StripSignatureFields(b)
	payload, err := SignaturePayload(base)
	if err != nil {
		return nil, fmt.Errorf("sign bundle: %w", err)
	}

	sig, err := s.Sign(payload)
	if err != nil {
		return nil, fmt.Errorf("sign bundle: %w", err)
	}

	signed := make(map[string]interface{}, len(base)+5)
	for k, v := range base {
		signed[k] = v
	}

	signed[FieldSignatureAlgorithm] = s.Algorithm()
	signed[FieldSignatureB64] = base64.StdEncoding.EncodeToString(sig)
	signed[FieldKeyFingerprint] = s.Fingerprint()
	signed[FieldSignedAtUTC] = nowUTCMillis()

	if pub := s.PublicKey(); pub != nil {
		signed[FieldSigningPublicKeyB64] = base64.StdEncoding.EncodeToString(pub)
	} else {
		signed[FieldSigningPublicKeyB64] = ""
	}

	return signed, nil
}

// VerifySignedBundle verifies the signature metadata on a signed bundle.
// It fails closed: any missing or malformed required field returns false,
// never an error or panic.
//
// Ed25519 bundles verify against the embedded public key; when a
// fingerprint is embedded it must match sha256(public key) before the key
// is trusted. HMAC bundles require the caller's signer to supply the shared
// secret, and its fingerprint must match the embedded one when present.
func VerifySignedBundle(b map[string]interface{}, s Signer) bool {
	algo, _ := b[FieldSignatureAlgorithm].(string)
	sigB64, _ := b[FieldSignatureB64].(string)
	if algo == "" || sigB64 == "" {
		return false
	}

	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return false
	}

	payload, err := SignaturePayload(b)
	if err != nil {
		return false
	}

	switch algo {
	case AlgorithmEd25519:
		pubB64, _ := b[FieldSigningPublicKeyB64].(string)
		if pubB64 == "" {
			return false
		}
		pub, err := base64.StdEncoding.DecodeString(pubB64)
		if err != nil || len(pub) != ed25519.PublicKeySize {
			return false
		}
		if fp, _ := b[FieldKeyFingerprint].(string); fp != "" {
			sum := sha256.Sum256(pub)
			if fp != hex.EncodeToString(sum[:]) {
				return false
			}
		}
		return ed25519.Verify(ed25519.PublicKey(pub), payload, sig)

	case AlgorithmHMACSHA256:
		if s == nil || s.Algorithm() != AlgorithmHMACSHA256 {
			return false
		}
		if fp, _ := b[FieldKeyFingerprint].(string); fp != "" && fp != s.Fingerprint() {
			return false
		}
		return s.Verify(payload, sig)

	default:
		return false
	}
}

// BundleSigner binds a Signer to the bundle sign/verify operations and
// implements BundleVerifier for injection into the verifier and the
// verification service.
type BundleSigner struct {
	signer Signer
}

// NewBundleSigner wraps a Signer for bundle-level operations.
func NewBundleSigner(s Signer) *BundleSigner {
	return &BundleSigner{signer: s}
}

// Sign adds signature metadata to the bundle using the bound signer.
func (bs *BundleSigner) Sign(b map[string]interface{}) (map[string]interface{}, error) {
	return SignBundle(b, bs.signer)
}

// VerifyBundle implements BundleVerifier.
func (bs *BundleSigner) VerifyBundle(b map[string]interface{}) (bool, error) {
	if bs.signer == nil {
		return false, fmt.Errorf("no signer configured")
	}
	return VerifySignedBundle(b, bs.signer), nil
}

func nowUTCMillis() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}
