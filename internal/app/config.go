package app

import (
	"io"

	"stagehand/internal/config"
)

// Config holds the application configuration
type Config struct {
	// Debug forces debug logging regardless of the configured level
	Debug bool

	// Silent discards all log output
	Silent bool

	// ConfigPath is an explicit config file; empty reads stagehand.yaml if present
	ConfigPath string

	// Settings is loaded from ConfigPath when nil
	Settings *config.Config

	// LogOutput defaults to stderr
	LogOutput io.Writer
}

// NewConfig creates a new application configuration
func NewConfig(debug, silent bool, configPath string) *Config {
	return &Config{
		Debug:      debug,
		Silent:     silent,
		ConfigPath: configPath,
	}
}
