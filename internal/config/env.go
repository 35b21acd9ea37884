package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// parseEnv overlays configuration from SUBMITSTORE_* environment
// variables. Unset variables leave the current values untouched.
func parseEnv(config *Config) error {
	if err := env.Parse(config); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
