package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"stagehand/internal/api"
	"stagehand/pkg/logging"
)

const (
	// DefaultConfigFile is read from the working directory when no path is given
	DefaultConfigFile = "stagehand.yaml"
	// EnvPrefix prefixes every environment override
	EnvPrefix = "STAGEHAND_"
)

// LoadConfig builds the configuration from defaults, the config file and
// the environment. An empty path reads DefaultConfigFile if it exists; an
// explicit path must exist.
func LoadConfig(path string) (Config, error) {
	cfg := GetDefaultConfig()

	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decode(data, path, &cfg); err != nil {
			return Config{}, err
		}
		logging.Info("ConfigLoader", "Loaded configuration from %s", path)
	case errors.Is(err, os.ErrNotExist) && !explicit:
		logging.Debug("ConfigLoader", "No %s found, using defaults", path)
	default:
		return Config{}, fmt.Errorf("error loading config from %s: %w", path, err)
	}

	if err := ApplyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with STAGEHAND_* environment variables. Unset
// variables leave the current value alone.
func ApplyEnv(cfg *Config) error {
	return applyEnv(cfg, env.Options{Prefix: EnvPrefix})
}

func applyEnv(cfg *Config, opts env.Options) error {
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return &api.ConfigurationError{Source: "environment", Message: err.Error()}
	}
	return nil
}

func decode(data []byte, source string, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return &api.ConfigurationError{Source: source, Message: fmt.Sprintf("invalid YAML: %v", err)}
	}
	return nil
}
