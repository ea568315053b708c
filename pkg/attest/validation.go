package attest

import (
	"crypto/ecdsa"
	"crypto/x509"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/veraison/go-cose"
)

// cborTagSign1 is the initial byte of a COSE_Sign1 message wrapped in CBOR tag 18.
const cborTagSign1 = 0xd2

// Verifier checks signed attestation documents against a trust anchor.
// Values are created with NewVerifier; the interface cannot be implemented outside this package.
type Verifier interface {
	// Verify decodes the envelope, validates the document certificate chain to root (DER) at the
	// given time and checks the envelope signature with the document certificate's key.
	// The document is returned only if every check passes.
	Verify(envelope []byte, root []byte, at time.Time) (*AttestationDocument, error)

	sealed()
}

// VerifierOptions configures a Verifier. The zero value is usable.
type VerifierOptions struct {
	// Chain validates the certificate path. Defaults to X509ChainVerifier.
	Chain ChainVerifier
	// Metrics records verification outcomes when set.
	Metrics *Metrics
	// Logger receives debug logs for rejected documents. Defaults to a no-op logger.
	Logger *zerolog.Logger
}

type verifier struct {
	chain   ChainVerifier
	metrics *Metrics
	logger  zerolog.Logger
}

// NewVerifier creates a Verifier.
func NewVerifier(opts VerifierOptions) Verifier {
	v := &verifier{
		chain:   opts.Chain,
		metrics: opts.Metrics,
		logger:  zerolog.Nop(),
	}
	if v.chain == nil {
		v.chain = X509ChainVerifier{}
	}
	if opts.Logger != nil {
		v.logger = opts.Logger.With().Str("component", "attestation-verifier").Logger()
	}
	return v
}

// Verify checks envelope with the default Verifier.
func Verify(envelope []byte, root []byte, at time.Time) (*AttestationDocument, error) {
	return NewVerifier(VerifierOptions{}).Verify(envelope, root, at)
}

func (*verifier) sealed() {}

// Verify runs the gates in order and stops at the first failure:
// envelope decode, payload decode, certificate chain, signature.
func (v *verifier) Verify(envelope []byte, root []byte, at time.Time) (*AttestationDocument, error) {
	doc, err := v.verify(envelope, root, at)
	v.metrics.observe(err)
	if err != nil {
		v.logger.Debug().Err(err).Str("result", ResultLabel(err)).Msg("Attestation document rejected.")
		return nil, err
	}
	return doc, nil
}

func (v *verifier) verify(envelope []byte, root []byte, at time.Time) (*AttestationDocument, error) {
	msg, err := decodeEnvelope(envelope)
	if err != nil {
		return nil, err
	}

	doc, err := ParseDocument(msg.Payload)
	if err != nil {
		return nil, err
	}

	if err := v.chain.VerifyChain(root, doc.CABundle, doc.Certificate, at); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrChainInvalid, err)
	}

	if err := verifySignature(msg, doc.Certificate); err != nil {
		return nil, err
	}
	return doc, nil
}

// decodeEnvelope accepts both the tagged and the untagged COSE_Sign1 encoding.
func decodeEnvelope(envelope []byte) (*cose.UntaggedSign1Message, error) {
	if len(envelope) == 0 {
		return nil, fmt.Errorf("%w: envelope is empty", ErrCoseDecode)
	}
	var msg cose.UntaggedSign1Message
	if envelope[0] == cborTagSign1 {
		var tagged cose.Sign1Message
		if err := tagged.UnmarshalCBOR(envelope); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCoseDecode, err)
		}
		msg = cose.UntaggedSign1Message(tagged)
	} else if err := msg.UnmarshalCBOR(envelope); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCoseDecode, err)
	}
	if msg.Payload == nil {
		return nil, fmt.Errorf("%w: payload is detached", ErrCoseDecode)
	}
	return &msg, nil
}

// verifySignature checks the envelope against the public key of the document's own certificate.
func verifySignature(msg *cose.UntaggedSign1Message, certDER []byte) error {
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return fmt.Errorf("%w: failed to parse certificate: %w", ErrSignatureInvalid, err)
	}
	if cert.PublicKeyAlgorithm != x509.ECDSA {
		return fmt.Errorf("%w: certificate key algorithm is %s, expected ECDSA", ErrSignatureInvalid, cert.PublicKeyAlgorithm)
	}
	pubKey, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return fmt.Errorf("%w: invalid public key type: not ECDSA", ErrSignatureInvalid)
	}
	alg, err := algorithmForCurve(pubKey.Curve)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSignatureInvalid, err)
	}
	coseVerifier, err := cose.NewVerifier(alg, pubKey)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSignatureInvalid, err)
	}
	if err := msg.Verify(nil, coseVerifier); err != nil {
		if errors.Is(err, cose.ErrVerification) {
			return fmt.Errorf("%w: signature verification failed", ErrSignatureInvalid)
		}
		return fmt.Errorf("%w: %w", ErrSignatureInvalid, err)
	}
	return nil
}
