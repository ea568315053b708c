// Package certs loads key material for the phony NSM from PEM files.
package certs

import (
	"crypto/ecdsa"
	"crypto/tls"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/DIMO-Network/nsm-phony/pkg/config"
)

var (
	// ErrNotECDSA is returned when the key file does not hold an ECDSA key.
	ErrNotECDSA = errors.New("private key is not ECDSA")
	// ErrNoCertificate is returned when a PEM file has no CERTIFICATE block.
	ErrNoCertificate = errors.New("no certificate found in PEM data")
)

// SigningMaterial is a signing key with its DER certificate chain.
type SigningMaterial struct {
	Key         *ecdsa.PrivateKey
	Certificate []byte
	CABundle    [][]byte
}

// LoadSigningMaterial reads the key pair named by settings. The certificate file holds the leaf
// followed by any intermediates.
func LoadSigningMaterial(settings *config.LocalCertConfig) (*SigningMaterial, error) {
	cert, err := tls.LoadX509KeyPair(settings.CertFile, settings.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load key pair: %w", err)
	}
	key, ok := cert.PrivateKey.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: got %T", ErrNotECDSA, cert.PrivateKey)
	}
	material := &SigningMaterial{
		Key:         key,
		Certificate: cert.Certificate[0],
	}
	if len(cert.Certificate) > 1 {
		material.CABundle = cert.Certificate[1:]
	}
	return material, nil
}

// LoadRoot reads the root certificate file named by settings and returns it as DER.
func LoadRoot(settings *config.LocalCertConfig) ([]byte, error) {
	data, err := os.ReadFile(settings.RootFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read root certificate: %w", err)
	}
	return ParseRootPEM(data)
}

// ParseRootPEM returns the DER bytes of the first CERTIFICATE block in data.
func ParseRootPEM(data []byte) ([]byte, error) {
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return nil, ErrNoCertificate
		}
		if block.Type == "CERTIFICATE" {
			return block.Bytes, nil
		}
	}
}
