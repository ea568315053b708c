// Package wellknown provides fiber controllers for well-known endpoints.
package wellknown

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/DIMO-Network/nsm-phony/pkg/attest"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gofiber/fiber/v2"
	"github.com/hf/nsm/request"
	"github.com/rs/zerolog"
)

const (
	maxNonceLength = 64 // Maximum length for nonce parameter
)

// ControllerError is a typed error for invalid controller configuration.
type ControllerError string

func (e ControllerError) Error() string { return string(e) }

const (
	// ErrSenderRequired is returned when the controller has no NSM to ask.
	ErrSenderRequired = ControllerError("sender is required")
	// ErrRootRequired is returned when the controller has no root to verify against.
	ErrRootRequired = ControllerError("root certificate is required")
)

// NsmAttestationResponse is the response from the NSM attestation.
type NsmAttestationResponse struct {
	Attestation *attest.AttestationDocument `json:"attestation"`
	Document    []byte                      `json:"document"`
}

// KeysResponse is the response for the keys endpoint.
type KeysResponse struct {
	PublicKey       string `json:"publicKey"`
	EthereumAddress string `json:"ethereumAddress"`
}

// Config configures a Controller.
type Config struct {
	// Sender answers attestation requests. A *nsm.Session in an enclave, a *phony.Driver elsewhere.
	Sender attest.Sender
	// Verifier checks documents before they are served. Defaults to attest.NewVerifier.
	Verifier attest.Verifier
	// Root is the DER trust anchor documents must chain to.
	Root []byte
	// PublicKey is embedded in every document and served by the keys endpoint when set.
	PublicKey *ecdsa.PublicKey
	// GetCertificate returns the TLS certificate whose public key is bound into user_data.
	GetCertificate func(*tls.ClientHelloInfo) (*tls.Certificate, error)
	// Now is the verification time. Defaults to time.Now.
	Now func() time.Time
}

// RegisterRoutes adds the well-known routes for an enclave to a fiber app.
func RegisterRoutes(app *fiber.App, controller *Controller) {
	wellKnown := app.Group("/.well-known")
	wellKnown.Get("nsm-attestation", controller.GetNSMAttestations)
	if controller.publicKey != nil {
		wellKnown.Get("keys", controller.GetKeys)
	}
}

// Controller is a controller for well-known endpoints including NSM attestation.
type Controller struct {
	sender      attest.Sender
	verifier    attest.Verifier
	root        []byte
	publicKey   *ecdsa.PublicKey
	getCertFunc func(*tls.ClientHelloInfo) (*tls.Certificate, error)
	now         func() time.Time
	cachedResp  atomic.Pointer[cachedAttestation]
}

type cachedAttestation struct {
	resp      NsmAttestationResponse
	notBefore time.Time
	notAfter  time.Time
}

// NewController creates a new Controller.
func NewController(cfg Config) (*Controller, error) {
	if cfg.Sender == nil {
		return nil, ErrSenderRequired
	}
	if len(cfg.Root) == 0 {
		return nil, ErrRootRequired
	}
	c := &Controller{
		sender:      cfg.Sender,
		verifier:    cfg.Verifier,
		root:        bytes.Clone(cfg.Root),
		publicKey:   cfg.PublicKey,
		getCertFunc: cfg.GetCertificate,
		now:         cfg.Now,
	}
	if c.verifier == nil {
		c.verifier = attest.NewVerifier(attest.VerifierOptions{})
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

// GetKeys godoc
// @Summary Get public keys
// @Description Get the public key and Ethereum address of the controller
// @Tags keys
// @Accept json
// @Produce json
// @Success 200 {object} KeysResponse
// @Router /.well-known/keys [get]
func (c *Controller) GetKeys(ctx *fiber.Ctx) error {
	keyResponse := KeysResponse{
		PublicKey:       "0x" + hex.EncodeToString(crypto.FromECDSAPub(c.publicKey)),
		EthereumAddress: crypto.PubkeyToAddress(*c.publicKey).Hex(),
	}
	return ctx.JSON(keyResponse)
}

// GetNSMAttestations godoc
// @Summary Get NSM attestation
// @Description Get a verified Nitro Secure Module attestation document
// @Tags attestation
// @Accept json
// @Produce json
// @Param nonce query string false "Nonce"
// @Success 200 {object} NsmAttestationResponse
// @Failure 400 {object} codeResp
// @Failure 500 {object} codeResp
// @Router /.well-known/nsm-attestation [get]
func (c *Controller) GetNSMAttestations(ctx *fiber.Ctx) error {
	logger := zerolog.Ctx(ctx.UserContext())
	nonceStr := ctx.Query("nonce")
	var nonce []byte
	if len(nonceStr) > maxNonceLength {
		return fiber.NewError(fiber.StatusBadRequest, "nonce too long")
	}
	if len(nonceStr) > 0 {
		nonce = []byte(nonceStr)
	}

	certBytes, err := c.getCert()
	if err != nil {
		logger.Error().Err(err).Msg("Failed to get certificate")
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to get certificate")
	}

	now := c.now()
	cached := c.cachedResp.Load()
	if cached != nil && !cached.validFor(certBytes, now) {
		// Clear cache if certificate is expired or rotated
		c.cachedResp.CompareAndSwap(cached, nil)
		cached = nil
	}
	if nonce == nil && cached != nil {
		return ctx.JSON(cached.resp)
	}

	req := &request.Attestation{
		PublicKey: crypto.FromECDSAPub(c.publicKey),
		UserData:  certBytes,
		Nonce:     nonce,
	}

	document, doc, err := attest.GetVerifiedNSMAttestation(c.sender, req, c.verifier, c.root, now)
	if err != nil {
		// The error handler logs this with its verification result label.
		return fmt.Errorf("%w: %w", fiber.NewError(fiber.StatusInternalServerError, "Failed to get NSM attestation"), err)
	}

	resp := NsmAttestationResponse{
		Attestation: doc,
		Document:    document,
	}

	if nonce == nil {
		if entry, err := newCachedAttestation(resp); err == nil {
			c.cachedResp.Store(entry)
		}
	}

	return ctx.JSON(resp)
}

func newCachedAttestation(resp NsmAttestationResponse) (*cachedAttestation, error) {
	cert, err := x509.ParseCertificate(resp.Attestation.Certificate)
	if err != nil {
		return nil, err
	}
	return &cachedAttestation{resp: resp, notBefore: cert.NotBefore, notAfter: cert.NotAfter}, nil
}

// validFor checks if the cached document's certificate is still valid and binds the same TLS key.
func (c *cachedAttestation) validFor(certBytes []byte, now time.Time) bool {
	return c.notBefore.Before(now) &&
		c.notAfter.After(now) &&
		bytes.Equal(c.resp.Attestation.UserData, certBytes)
}

func (c *Controller) getCert() ([]byte, error) {
	if c.getCertFunc == nil {
		return nil, nil
	}
	cert, err := c.getCertFunc(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get certificate: %w", err)
	}
	if cert == nil || len(cert.Certificate) == 0 {
		return nil, nil
	}

	leaf := cert.Leaf
	if leaf == nil {
		leaf, err = x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			return nil, fmt.Errorf("failed to parse certificate: %w", err)
		}
	}
	certBytes, err := x509.MarshalPKIXPublicKey(leaf.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal certificate: %w", err)
	}
	return certBytes, nil
}
