package phony

import (
	"fmt"

	"github.com/DIMO-Network/nsm-phony/pkg/attest"
	"github.com/DIMO-Network/nsm-phony/pkg/certs"
	"github.com/DIMO-Network/nsm-phony/pkg/config"
	"github.com/DIMO-Network/nsm-phony/pkg/pcrs"
	"github.com/rs/zerolog"
)

// NewFromSettings loads key material from the files named in settings and creates a Driver.
func NewFromSettings(settings *config.PhonySettings, logger *zerolog.Logger) (*Driver, error) {
	material, err := certs.LoadSigningMaterial(&settings.LocalCerts)
	if err != nil {
		return nil, err
	}
	cfg := Config{
		Key:         material.Key,
		Certificate: material.Certificate,
		CABundle:    material.CABundle,
		Clock:       SystemClock{},
		ModuleID:    settings.ModuleID,
		Logger:      logger,
	}
	if settings.FixedTimestamp != 0 {
		cfg.Clock = FixedClock(attest.TimeFromMillis(settings.FixedTimestamp))
	}
	if len(settings.PCRSeeds) != 0 {
		if len(settings.PCRSeeds) != pcrs.PCRCount {
			return nil, fmt.Errorf("%w: expected %d seeds, got %d", pcrs.ErrInvalidSeed, pcrs.PCRCount, len(settings.PCRSeeds))
		}
		var seeds [pcrs.PCRCount]string
		copy(seeds[:], settings.PCRSeeds)
		seeded, err := pcrs.Seed(seeds)
		if err != nil {
			return nil, err
		}
		cfg.PCRs = &seeded
	}
	return New(cfg)
}
