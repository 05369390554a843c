package config

import (
	"fmt"
	"log/slog"
	"os"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Load reads relay.yaml from the given path, expands environment
// variables, fills defaults and validates the result.
func Load(path string) (*Config, error) {
	log := slog.With("config_path", path)
	log.Info("Loading configuration")

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(ExpandEnv(raw), cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// Fill anything the file left unset from the defaults.
	if err := mergo.Merge(cfg, defaultConfig()); err != nil {
		return nil, fmt.Errorf("applying defaults: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("Configuration loaded",
		"channel_observer", cfg.Channel.Enabled,
		"tracker", cfg.Tracker.Enabled,
		"watched_channels", len(cfg.Channel.Channels))
	return cfg, nil
}
