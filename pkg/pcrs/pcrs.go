// Package pcrs builds the platform configuration register values embedded in an attestation document.
package pcrs

import (
	"crypto/rand"
	"crypto/sha512"
	"fmt"
)

const (
	// PCRCount is the number of registers exposed by the Nitro Secure Module.
	PCRCount = 32
	// DigestSize is the size in bytes of a single register value (SHA-384).
	DigestSize = sha512.Size384
)

// PCRError is a typed error for PCR construction errors.
type PCRError string

func (e PCRError) Error() string { return string(e) }

const (
	// ErrInvalidSeed is returned when a seed value cannot be used to derive a register.
	ErrInvalidSeed = PCRError("invalid PCR seed")
	// ErrInvalidIndex is returned when a register index is outside [0, PCRCount).
	ErrInvalidIndex = PCRError("invalid PCR index")
	// ErrInvalidLength is returned when a register value is not DigestSize bytes long.
	ErrInvalidLength = PCRError("invalid PCR length")
)

// PCRs is a full set of register values. An all-zero slot means "no measurement".
// PCRs is a value type and can be compared with ==.
type PCRs [PCRCount][DigestSize]byte

// Default returns a set with every register at the zero value.
func Default() PCRs {
	return PCRs{}
}

// Seed derives every register from the SHA-384 digest of its seed string.
// Identical seeds always produce identical sets. Empty seeds are rejected.
func Seed(values [PCRCount]string) (PCRs, error) {
	var pcrs PCRs
	for i, value := range values {
		if value == "" {
			return PCRs{}, fmt.Errorf("%w: seed for PCR%d is empty", ErrInvalidSeed, i)
		}
		pcrs[i] = sha512.Sum384([]byte(value))
	}
	return pcrs, nil
}

// Rand fills every register from crypto/rand.
// It panics if the system random source fails, since nothing cryptographic can continue after that.
func Rand() PCRs {
	var pcrs PCRs
	for i := range pcrs {
		if _, err := rand.Read(pcrs[i][:]); err != nil {
			panic(fmt.Sprintf("pcrs: failed to read random bytes: %v", err))
		}
	}
	return pcrs
}

// Map converts the set into the document's pcrs field. Every slot is included.
func (p *PCRs) Map() map[uint][]byte {
	out := make(map[uint][]byte, PCRCount)
	for i := range p {
		value := make([]byte, DigestSize)
		copy(value, p[i][:])
		out[uint(i)] = value
	}
	return out
}

// Get returns a copy of the register at index.
func (p *PCRs) Get(index uint) ([]byte, error) {
	if index >= PCRCount {
		return nil, fmt.Errorf("%w: %d", ErrInvalidIndex, index)
	}
	value := make([]byte, DigestSize)
	copy(value, p[index][:])
	return value, nil
}

// FromMap builds a set from a document's pcrs field. Absent registers stay zero.
func FromMap(values map[uint][]byte) (PCRs, error) {
	var pcrs PCRs
	for index, value := range values {
		if index >= PCRCount {
			return PCRs{}, fmt.Errorf("%w: %d", ErrInvalidIndex, index)
		}
		if len(value) != DigestSize {
			return PCRs{}, fmt.Errorf("%w: PCR%d has %d bytes, expected %d", ErrInvalidLength, index, len(value), DigestSize)
		}
		copy(pcrs[index][:], value)
	}
	return pcrs, nil
}
