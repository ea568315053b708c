// Package phony provides a software stand-in for the Nitro Secure Module.
// It answers the same request/response contract as the real device, signing
// attestation documents with a caller supplied key instead of the hardware root of trust.
package phony

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/x509"
	"fmt"
	"sync"
	"time"

	"github.com/DIMO-Network/nsm-phony/pkg/attest"
	"github.com/DIMO-Network/nsm-phony/pkg/pcrs"
	"github.com/hf/nsm/request"
	"github.com/hf/nsm/response"
	"github.com/rs/zerolog"
)

// maxRandomBytes mirrors the size of a single NSM GetRandom answer.
const maxRandomBytes = 256

// epoch is the earliest instant a document timestamp can hold.
var epoch = time.UnixMilli(0)

// ConfigError is a typed error for invalid driver configuration.
type ConfigError string

func (e ConfigError) Error() string { return string(e) }

const (
	// ErrKeyRequired is returned when no signing key is configured.
	ErrKeyRequired = ConfigError("signing key is required")
	// ErrCertificateRequired is returned when no end-entity certificate is configured.
	ErrCertificateRequired = ConfigError("certificate is required")
	// ErrClockRequired is returned when no clock is configured.
	ErrClockRequired = ConfigError("clock is required")
	// ErrKeyMismatch is returned when the certificate does not certify the signing key.
	ErrKeyMismatch = ConfigError("certificate public key does not match signing key")
)

// Config holds everything a Driver needs. All fields except PCRs, ModuleID and Logger are required.
type Config struct {
	// Key signs every document.
	Key *ecdsa.PrivateKey
	// Certificate is the DER end-entity certificate for Key.
	Certificate []byte
	// CABundle is the DER chain from the issuer of Certificate towards the root.
	CABundle [][]byte
	// Clock stamps documents. Use FixedClock to pin time in tests.
	Clock Clock
	// PCRs overrides the register values. Defaults to pcrs.Default().
	PCRs *pcrs.PCRs
	// ModuleID is reported in documents and DescribeNSM. Empty by default.
	ModuleID string
	// Logger defaults to a no-op logger.
	Logger *zerolog.Logger
}

// Driver answers NSM requests in software.
// The configuration is read-only after New, so a Driver may be shared between goroutines.
type Driver struct {
	signer      attest.Signer
	certificate []byte
	caBundle    [][]byte
	pcrs        pcrs.PCRs
	moduleID    string
	logger      zerolog.Logger

	clockMu sync.Mutex
	clock   Clock
}

// New validates cfg and creates a Driver.
func New(cfg Config) (*Driver, error) {
	if cfg.Key == nil {
		return nil, ErrKeyRequired
	}
	if len(cfg.Certificate) == 0 {
		return nil, ErrCertificateRequired
	}
	if cfg.Clock == nil {
		return nil, ErrClockRequired
	}
	signer, err := attest.NewSigner(cfg.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to create signer: %w", err)
	}
	cert, err := x509.ParseCertificate(cfg.Certificate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	if !cfg.Key.PublicKey.Equal(cert.PublicKey) {
		return nil, ErrKeyMismatch
	}

	driver := &Driver{
		signer:      signer,
		certificate: bytes.Clone(cfg.Certificate),
		caBundle:    cloneBundle(cfg.CABundle),
		pcrs:        pcrs.Default(),
		moduleID:    cfg.ModuleID,
		logger:      zerolog.Nop(),
		clock:       cfg.Clock,
	}
	if cfg.PCRs != nil {
		driver.pcrs = *cfg.PCRs
	}
	if cfg.Logger != nil {
		driver.logger = cfg.Logger.With().Str("component", "phony-nsm").Logger()
	}
	return driver, nil
}

// Send answers req. It has the same shape as (*nsm.Session).Send and never returns an error;
// failures are reported through the response's Error code like the real device does.
func (d *Driver) Send(req request.Request) (response.Response, error) {
	return d.ProcessRequest(req), nil
}

// ProcessRequest answers req. Attestation is the primary request kind; DescribeNSM,
// DescribePCR and GetRandom are answered from the driver's fixed state. Requests that
// would change PCRs answer InvalidOperation.
func (d *Driver) ProcessRequest(req request.Request) response.Response {
	switch r := req.(type) {
	case *request.Attestation:
		return d.attestation(r)
	case *request.DescribeNSM:
		return response.Response{DescribeNSM: d.describeNSM()}
	case *request.DescribePCR:
		return d.describePCR(r)
	case *request.GetRandom:
		return d.getRandom()
	default:
		d.logger.Warn().Str("request", fmt.Sprintf("%T", req)).Msg("Unsupported NSM request.")
		return response.Response{Error: response.ECInvalidOperation}
	}
}

// PCRs returns the register values embedded in every document.
func (d *Driver) PCRs() pcrs.PCRs {
	return d.pcrs
}

func (d *Driver) attestation(req *request.Attestation) response.Response {
	if err := attest.CheckOptionalFields(req.PublicKey, req.UserData, req.Nonce); err != nil {
		d.logger.Debug().Err(err).Msg("Rejected attestation request.")
		return response.Response{Error: response.ECInvalidArgument}
	}

	now := d.now()
	if now.Before(epoch) {
		d.logger.Error().Time("now", now).Msg("Clock is before the Unix epoch.")
		return response.Response{Error: response.ECInternalError}
	}

	doc := &attest.AttestationDocument{
		ModuleID:    d.moduleID,
		Digest:      attest.DigestSHA384,
		Timestamp:   attest.MillisFromTime(now),
		PCRs:        d.pcrs.Map(),
		Certificate: d.certificate,
		CABundle:    d.caBundle,
		PublicKey:   req.PublicKey,
		UserData:    req.UserData,
		Nonce:       req.Nonce,
	}
	document, err := d.signer.Sign(doc)
	if err != nil {
		d.logger.Error().Err(err).Msg("Failed to sign attestation document.")
		return response.Response{Error: response.ECInternalError}
	}
	d.logger.Debug().Uint64("timestamp", doc.Timestamp).Msg("Served attestation document.")
	return response.Response{Attestation: &response.Attestation{Document: document}}
}

func (d *Driver) describeNSM() *response.DescribeNSM {
	locked := make([]uint16, pcrs.PCRCount)
	for i := range locked {
		locked[i] = uint16(i) //nolint:gosec // i < PCRCount
	}
	return &response.DescribeNSM{
		VersionMajor: 1,
		ModuleID:     d.moduleID,
		MaxPCRs:      pcrs.PCRCount,
		LockedPCRs:   locked,
		Digest:       response.DigestSHA384,
	}
}

func (d *Driver) describePCR(req *request.DescribePCR) response.Response {
	value, err := d.pcrs.Get(uint(req.Index))
	if err != nil {
		return response.Response{Error: response.ECInvalidArgument}
	}
	return response.Response{DescribePCR: &response.DescribePCR{Lock: true, Data: value}}
}

func (d *Driver) getRandom() response.Response {
	random := make([]byte, maxRandomBytes)
	if _, err := rand.Read(random); err != nil {
		d.logger.Error().Err(err).Msg("Failed to read random bytes.")
		return response.Response{Error: response.ECInternalError}
	}
	return response.Response{GetRandom: &response.GetRandom{Random: random}}
}

func (d *Driver) now() time.Time {
	d.clockMu.Lock()
	defer d.clockMu.Unlock()
	return d.clock.Now()
}

func cloneBundle(bundle [][]byte) [][]byte {
	if len(bundle) == 0 {
		return nil
	}
	out := make([][]byte, len(bundle))
	for i, cert := range bundle {
		out[i] = bytes.Clone(cert)
	}
	return out
}
