package attest

import (
	"math"
	"time"
)

// Digest names the hash function used to compute the PCR values.
type Digest string

const (
	// DigestSHA256 is SHA-256.
	DigestSHA256 Digest = "SHA256"
	// DigestSHA384 is SHA-384, the only digest emitted by Nitro hardware.
	DigestSHA384 Digest = "SHA384"
	// DigestSHA512 is SHA-512.
	DigestSHA512 Digest = "SHA512"
)

// Size returns the output size of the digest in bytes, or 0 if the digest is unknown.
func (d Digest) Size() int {
	switch d {
	case DigestSHA256:
		return 32
	case DigestSHA384:
		return 48
	case DigestSHA512:
		return 64
	default:
		return 0
	}
}

// AttestationDocument represents the attestation document structure.
type AttestationDocument struct {
	// ModuleID is the issuing NSM ID. Empty for documents made by the phony driver.
	ModuleID string `json:"moduleId"`

	// Digest is the digest function used for calculating the register values.
	Digest Digest `json:"digest"`

	// Timestamp is the UTC time when document was created expressed as milliseconds since Unix Epoch
	Timestamp uint64 `json:"timestamp"`

	// PCRs is the map of all locked PCRs at the moment the attestation document was generated
	PCRs map[uint][]byte `json:"pcrs"`

	// Certificate is the infrastructure certificate used to sign the document, DER encoded
	Certificate []byte `json:"certificate"`

	// CABundle is the issuing CA bundle for infrastructure certificate
	CABundle [][]byte `json:"cabundle"`

	// PublicKey is an optional DER-encoded key the attestation consumer can use to encrypt data with
	PublicKey []byte `json:"publicKey,omitempty"`

	// UserData is additional signed user data, as defined by protocol
	UserData []byte `json:"userData,omitempty"`

	// Nonce is an optional cryptographic nonce provided by the attestation consumer as a proof of authenticity
	Nonce []byte `json:"nonce,omitempty"`
}

// CreatedAt returns Timestamp as a time.Time.
func (d *AttestationDocument) CreatedAt() time.Time {
	return TimeFromMillis(d.Timestamp)
}

// TimeFromMillis converts milliseconds since the Unix epoch to a time.Time.
// Values beyond math.MaxInt64 are clamped.
func TimeFromMillis(ms uint64) time.Time {
	if ms > math.MaxInt64 {
		ms = math.MaxInt64
	}
	return time.UnixMilli(int64(ms)).UTC()
}

// MillisFromTime converts t to milliseconds since the Unix epoch.
// Times before the epoch are clamped to zero.
func MillisFromTime(t time.Time) uint64 {
	ms := t.UnixMilli()
	if ms < 0 {
		return 0
	}
	return uint64(ms)
}
