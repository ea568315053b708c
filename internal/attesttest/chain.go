// Package attesttest generates throwaway certificate chains for attestation tests.
package attesttest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// CreatedAt is the fixed instant test documents are stamped with.
var CreatedAt = time.Date(2025, time.March, 14, 12, 0, 0, 0, time.UTC)

// Chain is a root -> intermediate -> leaf chain. The leaf key signs documents.
type Chain struct {
	Root            []byte
	Intermediate    []byte
	Leaf            []byte
	RootKey         *ecdsa.PrivateKey
	IntermediateKey *ecdsa.PrivateKey
	LeafKey         *ecdsa.PrivateKey
	LeafCertificate *x509.Certificate
	RootCertificate *x509.Certificate
}

// NewChain creates a P-384 chain valid for a day on either side of CreatedAt.
func NewChain(t testing.TB) *Chain {
	t.Helper()
	return NewChainWithCurve(t, elliptic.P384())
}

// NewChainWithCurve creates a chain whose leaf key is on curve. The CA keys are always P-384.
func NewChainWithCurve(t testing.TB, curve elliptic.Curve) *Chain {
	t.Helper()
	notBefore := CreatedAt.Add(-24 * time.Hour)
	notAfter := CreatedAt.Add(24 * time.Hour)

	rootKey := newKey(t, elliptic.P384())
	rootTmpl := caTemplate("test root", 1, notBefore.Add(-time.Hour), notAfter.Add(time.Hour))
	rootDER := sign(t, rootTmpl, rootTmpl, &rootKey.PublicKey, rootKey)
	rootCert := parse(t, rootDER)

	intKey := newKey(t, elliptic.P384())
	intTmpl := caTemplate("test intermediate", 2, notBefore, notAfter)
	intDER := sign(t, intTmpl, rootCert, &intKey.PublicKey, rootKey)
	intCert := parse(t, intDER)

	leafKey := newKey(t, curve)
	leafTmpl := &x509.Certificate{
		SerialNumber: big.NewInt(3),
		Subject:      pkix.Name{CommonName: "i-0test.us-east-1.aws"},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	leafDER := sign(t, leafTmpl, intCert, &leafKey.PublicKey, intKey)

	return &Chain{
		Root:            rootDER,
		Intermediate:    intDER,
		Leaf:            leafDER,
		RootKey:         rootKey,
		IntermediateKey: intKey,
		LeafKey:         leafKey,
		LeafCertificate: parse(t, leafDER),
		RootCertificate: rootCert,
	}
}

// SelfSigned returns a self-signed P-384 certificate and its key, valid around CreatedAt.
func SelfSigned(t testing.TB) ([]byte, *ecdsa.PrivateKey) {
	t.Helper()
	key := newKey(t, elliptic.P384())
	tmpl := caTemplate("self signed", 9, CreatedAt.Add(-time.Hour), CreatedAt.Add(time.Hour))
	return sign(t, tmpl, tmpl, &key.PublicKey, key), key
}

// CertificatePEM encodes der as a CERTIFICATE block.
func CertificatePEM(der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

// KeyPEM encodes key as an EC PRIVATE KEY block.
func KeyPEM(t testing.TB, key *ecdsa.PrivateKey) []byte {
	t.Helper()
	der, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})
}

func newKey(t testing.TB, curve elliptic.Curve) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(curve, rand.Reader)
	require.NoError(t, err)
	return key
}

func caTemplate(name string, serial int64, notBefore, notAfter time.Time) *x509.Certificate {
	return &x509.Certificate{
		SerialNumber:          big.NewInt(serial),
		Subject:               pkix.Name{CommonName: name, Organization: []string{"nsm-phony"}},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
	}
}

func sign(t testing.TB, tmpl, parent *x509.Certificate, pub *ecdsa.PublicKey, signer *ecdsa.PrivateKey) []byte {
	t.Helper()
	der, err := x509.CreateCertificate(rand.Reader, tmpl, parent, pub, signer)
	require.NoError(t, err)
	return der
}

func parse(t testing.TB, der []byte) *x509.Certificate {
	t.Helper()
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}
