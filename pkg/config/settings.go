// Package config holds file based settings for running the phony NSM.
package config

// PhonySettings is the configuration for a phony NSM driver.
type PhonySettings struct {
	// ModuleID is reported in documents. Leave empty to match the phony default.
	ModuleID string `env:"MODULE_ID" json:"moduleId" yaml:"moduleId"`
	// FixedTimestamp pins document timestamps (milliseconds since Unix epoch). Zero uses the wall clock.
	FixedTimestamp uint64 `env:"FIXED_TIMESTAMP" json:"fixedTimestamp" yaml:"fixedTimestamp"`
	// PCRSeeds derives register values from strings. Empty uses all-zero registers.
	PCRSeeds []string `env:"PCR_SEEDS" json:"pcrSeeds" yaml:"pcrSeeds"`
	// LocalCerts is where the signing key and certificate chain are read from.
	LocalCerts LocalCertConfig `envPrefix:"LOCAL_" json:"localCerts" yaml:"localCerts"`
	// Logger is the configuration for the logger.
	Logger LoggerSettings `envPrefix:"LOG_" json:"logger" yaml:"logger"`
}

// LocalCertConfig contains the settings for the local certificates.
type LocalCertConfig struct {
	// CertFile is the path to the PEM certificate chain, leaf first.
	CertFile string `env:"CERT_FILE" json:"certFile" yaml:"certFile"`
	// KeyFile is the path to the PEM EC private key for the leaf certificate.
	KeyFile string `env:"KEY_FILE" json:"keyFile" yaml:"keyFile"`
	// RootFile is the path to the PEM root certificate verifiers should trust.
	RootFile string `env:"ROOT_FILE" json:"rootFile" yaml:"rootFile"`
}

// LoggerSettings is the configuration for setting up the logger.
type LoggerSettings struct {
	Level string `env:"LEVEL" json:"level" yaml:"level"`
}
