// Package attest encodes, signs and verifies Nitro Secure Module attestation documents.
package attest

import (
	"crypto/ecdsa"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/hf/nsm/request"
	"github.com/hf/nsm/response"
)

// Sender sends a request to an NSM endpoint. *nsm.Session from github.com/hf/nsm
// and *phony.Driver both satisfy it.
type Sender interface {
	Send(req request.Request) (response.Response, error)
}

// GetNSMAttestationAndKey creates a new private key and gets an attestation document that carries its public key.
func GetNSMAttestationAndKey(sender Sender) (*ecdsa.PrivateKey, []byte, error) {
	// create private key
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, nil, err
	}

	req := &request.Attestation{
		PublicKey: crypto.FromECDSAPub(&privateKey.PublicKey),
	}

	document, err := GetNSMAttestation(sender, req)
	if err != nil {
		return nil, nil, err
	}

	return privateKey, document, nil
}

// GetNSMAttestation sends the attestation request and returns the signed document.
func GetNSMAttestation(sender Sender, attestationRequest *request.Attestation) ([]byte, error) {
	res, err := sender.Send(attestationRequest)
	if err != nil {
		return nil, fmt.Errorf("failed to send attestation request: %w", err)
	}

	// check for errors
	if res.Error != "" {
		return nil, fmt.Errorf("%w: NSM returned error: %s", ErrNSMResponse, res.Error)
	}
	if res.Attestation == nil || len(res.Attestation.Document) == 0 {
		return nil, fmt.Errorf("%w: missing attestation document", ErrNSMResponse)
	}

	return res.Attestation.Document, nil
}

// GetVerifiedNSMAttestation gets an attestation document and verifies it against root at time at.
func GetVerifiedNSMAttestation(sender Sender, attestationRequest *request.Attestation, verifier Verifier, root []byte, at time.Time) ([]byte, *AttestationDocument, error) {
	document, err := GetNSMAttestation(sender, attestationRequest)
	if err != nil {
		return nil, nil, err
	}
	doc, err := verifier.Verify(document, root, at)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to verify nsm attestation document: %w", err)
	}
	return document, doc, nil
}
