package config

import (
	"github.com/mediafetch/fetchd/internal/infra/incident"
	redisclient "github.com/mediafetch/fetchd/internal/infra/redis"
	"github.com/mediafetch/fetchd/internal/infra/storage/postgres"
	"github.com/mediafetch/fetchd/internal/infra/ytdlp"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig            `yaml:"server"`
	Database postgres.Config         `yaml:"database"`
	Redis    redisclient.Config      `yaml:"redis"`
	Queue    redisclient.QueueConfig `yaml:"queue"`
	Download DownloadConfig          `yaml:"download"`
	Media    ytdlp.Config            `yaml:"media"`
	Incident incident.Config         `yaml:"incident"`
	Logging  LoggingConfig           `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// DownloadConfig holds retry policy settings. Delays are in seconds; zero
// values fall back to the canonical 5 minute / 1 hour policy.
type DownloadConfig struct {
	MaxRetries    int `yaml:"max_retries"`
	BaseDelaySecs int `yaml:"base_delay_seconds"`
	MaxDelaySecs  int `yaml:"max_delay_seconds"`
}
