package config

import (
	"errors"
	"fmt"
	"os"

	"sitegate/pkg/logging"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration from the given file, overlaying defaults.
// A missing file is not an error: the defaults are returned.
func LoadConfig(path string) (Config, error) {
	config := GetDefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Info("ConfigLoader", "No config file at %s, using defaults", path)
			return config, nil
		}
		return Config{}, fmt.Errorf("error reading config from %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("error loading config from %s: %w", path, err)
	}

	logging.Info("ConfigLoader", "Loaded configuration from %s", path)
	return config, nil
}
