package config

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
)

// parseEnv overlays FEEDKEEPER_* variables; unset variables keep the
// current values.
func parseEnv(config *Config) error {
	if err := cleanenv.ReadEnv(config); err != nil {
		return fmt.Errorf("read environment: %w", err)
	}
	return nil
}
