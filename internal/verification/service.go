// Package verification exposes bundle verification as a service with a
// stable request/response contract for API handlers and background jobs.
package verification

import (
	"go.uber.org/zap"

	"github.com/audit-engine/go-core/internal/bundle"
)

// Request carries one bundle to verify and the verification options.
type Request struct {
	Bundle           map[string]interface{}
	RequireSignature bool
	StrictSequence   bool
}

// Details is the observability block echoed alongside the verdict.
type Details struct {
	TenantID         string `json:"tenant_id"`
	EventCount       int    `json:"event_count"`
	FirstSequence    *int64 `json:"first_sequence"`
	LastSequence     *int64 `json:"last_sequence"`
	BundleChecksumOK bool   `json:"bundle_checksum_ok"`
	SignaturePresent bool   `json:"signature_present"`
	SignatureOK      bool   `json:"signature_ok"`
}

// Response is the normalized verification outcome. A failed verification is
// a well-formed response with OK=false, never an error.
type Response struct {
	OK      bool     `json:"ok"`
	Errors  []string `json:"errors"`
	Details Details  `json:"details"`
}

// Service wraps the bundle verifier behind a deterministic call surface. The
// signer is optional; without one, signed bundles fail verification.
type Service struct {
	signer bundle.BundleVerifier
	logger *zap.Logger
}

// NewService creates a verification service. Both arguments may be nil.
func NewService(signer bundle.BundleVerifier, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{signer: signer, logger: logger}
}

// Verify runs the full structural verification of a bundle.
func (s *Service) Verify(req Request) Response {
	res := bundle.VerifyAuditBundle(req.Bundle, s.signer, req.RequireSignature, req.StrictSequence)

	errors := res.Errors
	if errors == nil {
		errors = []string{}
	}

	if !res.OK {
		s.logger.Info("bundle verification failed",
			zap.String("tenant_id", res.TenantID),
			zap.Int("event_count", res.EventCount),
			zap.Strings("errors", errors))
	}

	return Response{
		OK:     res.OK,
		Errors: errors,
		Details: Details{
			TenantID:         res.TenantID,
			EventCount:       res.EventCount,
			FirstSequence:    res.FirstSequence,
			LastSequence:     res.LastSequence,
			BundleChecksumOK: res.BundleChecksumOK,
			SignaturePresent: res.SignaturePresent,
			SignatureOK:      res.SignatureOK,
		},
	}
}
