// Package config loads application configuration from the environment.
package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Session SessionConfig
	Logging LogConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// StorageConfig holds notebook persistence configuration.
type StorageConfig struct {
	DBPath string `envconfig:"DB_PATH" default:"data/notebooks.db"`
}

// SessionConfig holds session runtime configuration.
type SessionConfig struct {
	// MaxInflightRequests caps the request-id to cell-reference table.
	// Oldest entries are evicted once the cap is reached.
	MaxInflightRequests int `envconfig:"MAX_INFLIGHT_REQUESTS" default:"256"`

	// EventLogDir is where per-session event logs are written. Empty
	// disables event logging.
	EventLogDir string `envconfig:"EVENT_LOG_DIR" default:"data/events"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration used when no environment is set.
func Default() *Config {
	return &Config{
		Server:  ServerConfig{Port: "8080", Host: "0.0.0.0"},
		Storage: StorageConfig{DBPath: "data/notebooks.db"},
		Session: SessionConfig{MaxInflightRequests: 256, EventLogDir: "data/events"},
		Logging: LogConfig{Level: "info"},
	}
}
