package config

import (
	"fmt"
	"os"

	"github.com/DIMO-Network/shared"
)

// LoadPhonySettings reads settings from a YAML file. Top level values can be overridden by
// environment variables named after their yaml keys. A missing file is an error.
func LoadPhonySettings(path string) (*PhonySettings, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}
	settings, err := shared.LoadConfig[PhonySettings](path)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings from %s: %w", path, err)
	}
	return &settings, nil
}
