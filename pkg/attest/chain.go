package attest

import (
	"crypto/x509"
	"fmt"
	"time"
)

// ChainVerifier validates that leaf chains to root through intermediates at the given time.
// Every certificate's validity window must contain at. Implementations decide revocation policy.
type ChainVerifier interface {
	VerifyChain(root []byte, intermediates [][]byte, leaf []byte, at time.Time) error
}

// ChainVerifierFunc adapts a function to the ChainVerifier interface.
type ChainVerifierFunc func(root []byte, intermediates [][]byte, leaf []byte, at time.Time) error

// VerifyChain calls f.
func (f ChainVerifierFunc) VerifyChain(root []byte, intermediates [][]byte, leaf []byte, at time.Time) error {
	return f(root, intermediates, leaf, at)
}

// X509ChainVerifier builds and validates the path with crypto/x509.
// Revocation is not checked.
type X509ChainVerifier struct{}

// VerifyChain implements ChainVerifier.
func (X509ChainVerifier) VerifyChain(root []byte, intermediates [][]byte, leaf []byte, at time.Time) error {
	rootCert, err := x509.ParseCertificate(root)
	if err != nil {
		return fmt.Errorf("failed to parse root certificate: %w", err)
	}
	roots := x509.NewCertPool()
	roots.AddCert(rootCert)

	intermediatesPool := x509.NewCertPool()
	for i, der := range intermediates {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return fmt.Errorf("failed to parse CA bundle certificate %d: %w", i, err)
		}
		intermediatesPool.AddCert(cert)
	}

	leafCert, err := x509.ParseCertificate(leaf)
	if err != nil {
		return fmt.Errorf("failed to parse certificate: %w", err)
	}

	opts := x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediatesPool,
		CurrentTime:   at,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}
	if _, err := leafCert.Verify(opts); err != nil {
		return fmt.Errorf("certificate verification failed: %w", err)
	}
	return nil
}
