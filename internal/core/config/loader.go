package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Set defaults if necessary
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Download.MaxRetries == 0 {
		cfg.Download.MaxRetries = 5
	}
	if cfg.Media.StorageRoot == "" {
		cfg.Media.StorageRoot = "/var/lib/fetchd/media"
	}
	if cfg.Media.PublicBaseURL == "" {
		cfg.Media.PublicBaseURL = "http://localhost:8080/media"
	}

	return &cfg, nil
}
