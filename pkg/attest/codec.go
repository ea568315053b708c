package attest

import (
	"errors"
	"fmt"

	"github.com/DIMO-Network/nsm-phony/pkg/pcrs"
	"github.com/fxamacker/cbor/v2"
)

// Size limits from the Nitro attestation document schema.
const (
	maxCertificateSize = 1024
	maxPublicKeySize   = 1024
	maxUserDataSize    = 512
	maxNonceSize       = 512
)

var (
	// docEncMode keeps struct fields in declaration order, which is the order NSM emits them in.
	docEncMode = mustEncMode(cbor.EncOptions{})
	// pcrEncMode sorts map keys so the pcrs map encodes deterministically.
	pcrEncMode = mustEncMode(cbor.CanonicalEncOptions())
	docDecMode = mustDecMode(cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyEnforcedAPF,
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	})
)

func mustEncMode(opts cbor.EncOptions) cbor.EncMode {
	mode, err := opts.EncMode()
	if err != nil {
		panic(err)
	}
	return mode
}

func mustDecMode(opts cbor.DecOptions) cbor.DecMode {
	mode, err := opts.DecMode()
	if err != nil {
		panic(err)
	}
	return mode
}

// pcrMap encodes with sorted keys.
type pcrMap map[uint][]byte

// MarshalCBOR implements cbor.Marshaler.
func (m pcrMap) MarshalCBOR() ([]byte, error) {
	return pcrEncMode.Marshal(map[uint][]byte(m))
}

// encodedDocument is the wire form. Nil optional fields encode as CBOR null.
type encodedDocument struct {
	ModuleID    string   `cbor:"module_id"`
	Digest      Digest   `cbor:"digest"`
	Timestamp   uint64   `cbor:"timestamp"`
	PCRs        pcrMap   `cbor:"pcrs"`
	Certificate []byte   `cbor:"certificate"`
	CABundle    [][]byte `cbor:"cabundle"`
	PublicKey   []byte   `cbor:"public_key"`
	UserData    []byte   `cbor:"user_data"`
	Nonce       []byte   `cbor:"nonce"`
}

// decodedDocument uses pointers so missing required keys can be told apart from zero values.
type decodedDocument struct {
	ModuleID    *string         `cbor:"module_id"`
	Digest      *Digest         `cbor:"digest"`
	Timestamp   *uint64         `cbor:"timestamp"`
	PCRs        map[uint][]byte `cbor:"pcrs"`
	Certificate []byte          `cbor:"certificate"`
	CABundle    *[][]byte       `cbor:"cabundle"`
	PublicKey   []byte          `cbor:"public_key"`
	UserData    []byte          `cbor:"user_data"`
	Nonce       []byte          `cbor:"nonce"`
}

// MarshalBinary encodes the document as the CBOR map carried in the COSE payload.
func (d *AttestationDocument) MarshalBinary() ([]byte, error) {
	wire := encodedDocument{
		ModuleID:    d.ModuleID,
		Digest:      d.Digest,
		Timestamp:   d.Timestamp,
		PCRs:        pcrMap(d.PCRs),
		Certificate: d.Certificate,
		CABundle:    d.CABundle,
		PublicKey:   d.PublicKey,
		UserData:    d.UserData,
		Nonce:       d.Nonce,
	}
	// pcrs and cabundle are never null in the schema.
	if wire.PCRs == nil {
		wire.PCRs = pcrMap{}
	}
	if wire.CABundle == nil {
		wire.CABundle = [][]byte{}
	}
	data, err := docEncMode.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("failed to encode attestation document: %w", err)
	}
	return data, nil
}

// UnmarshalBinary decodes and validates a CBOR attestation document.
// All failures wrap ErrMalformedDocument.
func (d *AttestationDocument) UnmarshalBinary(data []byte) error {
	var wire decodedDocument
	if err := docDecMode.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedDocument, err)
	}
	doc, err := wire.validate()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedDocument, err)
	}
	*d = *doc
	return nil
}

// ParseDocument decodes a CBOR attestation document.
func ParseDocument(data []byte) (*AttestationDocument, error) {
	var doc AttestationDocument
	if err := doc.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (w *decodedDocument) validate() (*AttestationDocument, error) {
	switch {
	case w.ModuleID == nil:
		return nil, errors.New("missing module_id")
	case w.Digest == nil:
		return nil, errors.New("missing digest")
	case w.Timestamp == nil:
		return nil, errors.New("missing timestamp")
	case w.PCRs == nil:
		return nil, errors.New("missing pcrs")
	case w.CABundle == nil:
		return nil, errors.New("missing cabundle")
	}
	if w.Digest.Size() == 0 {
		return nil, fmt.Errorf("unknown digest %q", *w.Digest)
	}
	for index, value := range w.PCRs {
		if index >= pcrs.PCRCount {
			return nil, fmt.Errorf("PCR index %d out of range", index)
		}
		switch len(value) {
		case 32, 48, 64:
		default:
			return nil, fmt.Errorf("PCR%d has invalid length %d", index, len(value))
		}
	}
	if err := checkSize("certificate", w.Certificate, 1, maxCertificateSize); err != nil {
		return nil, err
	}
	for i, cert := range *w.CABundle {
		if err := checkSize(fmt.Sprintf("cabundle[%d]", i), cert, 1, maxCertificateSize); err != nil {
			return nil, err
		}
	}
	if w.PublicKey != nil {
		if err := checkSize("public_key", w.PublicKey, 1, maxPublicKeySize); err != nil {
			return nil, err
		}
	}
	if err := checkSize("user_data", w.UserData, 0, maxUserDataSize); err != nil {
		return nil, err
	}
	if err := checkSize("nonce", w.Nonce, 0, maxNonceSize); err != nil {
		return nil, err
	}

	doc := &AttestationDocument{
		ModuleID:    *w.ModuleID,
		Digest:      *w.Digest,
		Timestamp:   *w.Timestamp,
		PCRs:        w.PCRs,
		Certificate: w.Certificate,
		CABundle:    *w.CABundle,
		PublicKey:   w.PublicKey,
		UserData:    w.UserData,
		Nonce:       w.Nonce,
	}
	// nil and empty containers share one wire form; both decode to nil.
	if len(doc.PCRs) == 0 {
		doc.PCRs = nil
	}
	if len(doc.CABundle) == 0 {
		doc.CABundle = nil
	}
	return doc, nil
}

// CheckOptionalFields validates caller supplied request fields against the document size limits.
func CheckOptionalFields(publicKey, userData, nonce []byte) error {
	if publicKey != nil {
		if err := checkSize("public_key", publicKey, 1, maxPublicKeySize); err != nil {
			return err
		}
	}
	if err := checkSize("user_data", userData, 0, maxUserDataSize); err != nil {
		return err
	}
	return checkSize("nonce", nonce, 0, maxNonceSize)
}

func checkSize(field string, value []byte, minLen, maxLen int) error {
	if len(value) < minLen || len(value) > maxLen {
		return fmt.Errorf("%s length %d outside [%d, %d]", field, len(value), minLen, maxLen)
	}
	return nil
}
