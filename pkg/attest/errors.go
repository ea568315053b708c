package attest

import "errors"

// AttestError is a typed error for attestation failures.
type AttestError string

func (e AttestError) Error() string { return string(e) }

const (
	// ErrCoseDecode is returned when the envelope is not a valid COSE_Sign1 structure.
	ErrCoseDecode = AttestError("failed to decode COSE envelope")
	// ErrMalformedDocument is returned when the payload does not decode to a valid attestation document.
	ErrMalformedDocument = AttestError("malformed attestation document")
	// ErrChainInvalid is returned when the document certificate does not chain to the root at the given time.
	ErrChainInvalid = AttestError("certificate chain is invalid")
	// ErrSignatureInvalid is returned when the envelope signature does not verify under the document certificate.
	ErrSignatureInvalid = AttestError("attestation signature is invalid")
	// ErrUnsupportedKey is returned when a signing key is not an ECDSA key on P-256, P-384 or P-521.
	ErrUnsupportedKey = AttestError("unsupported signing key")
	// ErrNSMResponse is returned when a driver answers with an error code or the wrong response kind.
	ErrNSMResponse = AttestError("unexpected NSM response")
)

// result labels used for metrics and logs.
const (
	resultOK               = "ok"
	resultCoseDecode       = "cose_decode"
	resultMalformed        = "malformed_document"
	resultChainInvalid     = "chain_invalid"
	resultSignatureInvalid = "signature_invalid"
	resultNSMResponse      = "nsm_response"
	resultOther            = "other"
)

// ResultLabel names the verification outcome err represents, as used by the
// nsm_attestation_verifications_total metric. A nil error is "ok".
func ResultLabel(err error) string {
	switch {
	case err == nil:
		return resultOK
	case errors.Is(err, ErrCoseDecode):
		return resultCoseDecode
	case errors.Is(err, ErrMalformedDocument):
		return resultMalformed
	case errors.Is(err, ErrChainInvalid):
		return resultChainInvalid
	case errors.Is(err, ErrSignatureInvalid):
		return resultSignatureInvalid
	case errors.Is(err, ErrNSMResponse):
		return resultNSMResponse
	default:
		return resultOther
	}
}
