package verification

// ContractVersion tags every verify API response so clients can detect
// contract changes.
const ContractVersion = "audit-verify.v1"

// Option defaults applied when the request omits them.
const (
	DefaultRequireSignature = false
	DefaultStrictSequence   = true
)

// ContractError describes one request validation failure with a JSONPath-style
// pointer to the offending field.
type ContractError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Path    string `json:"path"`
}

// ParseVerifyPayload validates a decoded request body and builds a Request.
// It never panics; malformed input yields a nil request and one or more
// contract errors.
//
// Expected payload:
//
//	{
//	  "bundle": { ... required ... },
//	  "require_signature": bool (optional, default false),
//	  "strict_sequence": bool (optional, default true)
//	}
func ParseVerifyPayload(payload interface{}) (*Request, []ContractError) {
	var errs []ContractError

	obj, ok := payload.(map[string]interface{})
	if !ok {
		return nil, []ContractError{{
			Code:    "invalid_payload",
			Message: "payload must be a JSON object",
			Path:    "$",
		}}
	}

	rawBundle, present := obj["bundle"]
	if !present {
		return nil, []ContractError{{
			Code:    "missing_field",
			Message: "bundle is required",
			Path:    "$.bundle",
		}}
	}

	b, ok := rawBundle.(map[string]interface{})
	if !ok {
		errs = append(errs, ContractError{
			Code:    "invalid_field",
			Message: "bundle must be an object",
			Path:    "$.bundle",
		})
	}

	requireSignature := DefaultRequireSignature
	if raw, present := obj["require_signature"]; present {
		v, ok := raw.(bool)
		if !ok {
			errs = append(errs, ContractError{
				Code:    "invalid_field",
				Message: "require_signature must be boolean",
				Path:    "$.require_signature",
			})
		} else {
			requireSignature = v
		}
	}

	strictSequence := DefaultStrictSequence
	if raw, present := obj["strict_sequence"]; present {
		v, ok := raw.(bool)
		if !ok {
			errs = append(errs, ContractError{
				Code:    "invalid_field",
				Message: "strict_sequence must be boolean",
				Path:    "$.strict_sequence",
			})
		} else {
			strictSequence = v
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}

	return &Request{
		Bundle:           b,
		RequireSignature: requireSignature,
		StrictSequence:   strictSequence,
	}, nil
}

// ContractErrorResponse is the standard body returned when request parsing
// fails. It mirrors the success shape so clients always see the same top
// level fields.
type ContractErrorResponse struct {
	ContractVersion string                 `json:"contract_version"`
	OK              bool                   `json:"ok"`
	Errors          []ContractError        `json:"errors"`
	Details         map[string]interface{} `json:"details"`
}

// NewContractErrorResponse wraps contract errors in the standard envelope.
func NewContractErrorResponse(errs []ContractError) ContractErrorResponse {
	return ContractErrorResponse{
		ContractVersion: ContractVersion,
		OK:              false,
		Errors:          errs,
		Details:         map[string]interface{}{},
	}
}

// VerifyResponseEnvelope is the versioned wire form of a verification
// Response.
type VerifyResponseEnvelope struct {
	ContractVersion string   `json:"contract_version"`
	OK              bool     `json:"ok"`
	Errors          []string `json:"errors"`
	Details         Details  `json:"details"`
}

// NewVerifyResponseEnvelope tags a service response with the contract
// version.
func NewVerifyResponseEnvelope(resp Response) VerifyResponseEnvelope {
	return VerifyResponseEnvelope{
		ContractVersion: ContractVersion,
		OK:              resp.OK,
		Errors:          resp.Errors,
		Details:         resp.Details,
	}
}
