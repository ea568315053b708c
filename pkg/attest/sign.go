package attest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"

	"github.com/veraison/go-cose"
)

// Signer wraps attestation documents in a COSE_Sign1 envelope.
// Values are created with NewSigner; the interface cannot be implemented outside this package.
type Signer interface {
	// Sign encodes doc and returns the untagged COSE_Sign1 envelope.
	Sign(doc *AttestationDocument) ([]byte, error)
	// Algorithm is the COSE algorithm placed in the protected header.
	Algorithm() cose.Algorithm

	sealed()
}

type coseSigner struct {
	alg    cose.Algorithm
	signer cose.Signer
}

// NewSigner returns a Signer for an ECDSA key on P-256, P-384 or P-521.
// The key is only read, so the Signer is safe for concurrent use.
func NewSigner(key *ecdsa.PrivateKey) (Signer, error) {
	if key == nil {
		return nil, fmt.Errorf("%w: key is nil", ErrUnsupportedKey)
	}
	alg, err := algorithmForCurve(key.Curve)
	if err != nil {
		return nil, err
	}
	signer, err := cose.NewSigner(alg, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedKey, err)
	}
	return &coseSigner{alg: alg, signer: signer}, nil
}

// Sign encodes doc with key and returns the untagged COSE_Sign1 envelope.
func Sign(doc *AttestationDocument, key *ecdsa.PrivateKey) ([]byte, error) {
	signer, err := NewSigner(key)
	if err != nil {
		return nil, err
	}
	return signer.Sign(doc)
}

func (s *coseSigner) Sign(doc *AttestationDocument) ([]byte, error) {
	payload, err := doc.MarshalBinary()
	if err != nil {
		return nil, err
	}
	msg := cose.UntaggedSign1Message{
		Headers: cose.Headers{
			Protected: cose.ProtectedHeader{
				cose.HeaderLabelAlgorithm: s.alg,
			},
			Unprotected: cose.UnprotectedHeader{},
		},
		Payload: payload,
	}
	if err := msg.Sign(rand.Reader, nil, s.signer); err != nil {
		return nil, fmt.Errorf("failed to sign attestation document: %w", err)
	}
	envelope, err := msg.MarshalCBOR()
	if err != nil {
		return nil, fmt.Errorf("failed to encode COSE envelope: %w", err)
	}
	return envelope, nil
}

func (s *coseSigner) Algorithm() cose.Algorithm { return s.alg }

func (*coseSigner) sealed() {}

func algorithmForCurve(curve elliptic.Curve) (cose.Algorithm, error) {
	if curve == nil {
		return 0, fmt.Errorf("%w: missing curve", ErrUnsupportedKey)
	}
	switch curve.Params().Name {
	case elliptic.P256().Params().Name:
		return cose.AlgorithmES256, nil
	case elliptic.P384().Params().Name:
		return cose.AlgorithmES384, nil
	case elliptic.P521().Params().Name:
		return cose.AlgorithmES512, nil
	default:
		return 0, fmt.Errorf("%w: curve %s", ErrUnsupportedKey, curve.Params().Name)
	}
}
