// Package server holds the fiber and logging plumbing shared by phony NSM services.
package server

import (
	"fmt"
	"io"
	"runtime/debug"

	"github.com/rs/zerolog"
)

// DefaultLogger creates a JSON logger for appName that writes to w. The short VCS revision
// is added as "commit" when the binary was built from a checkout.
func DefaultLogger(appName string, w io.Writer) *zerolog.Logger {
	ctx := zerolog.New(w).With().Timestamp().Str("app", appName)
	if commit := buildCommit(); commit != "" {
		ctx = ctx.Str("commit", commit)
	}
	logger := ctx.Logger()
	return &logger
}

func buildCommit() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && len(s.Value) == 40 {
			return s.Value[:7]
		}
	}
	return ""
}

// SetLevel sets the global log level if level is not empty.
func SetLevel(level string) error {
	if level == "" {
		return nil
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %w", err)
	}
	zerolog.SetGlobalLevel(lvl)
	return nil
}
