// Package config loads the relay's optional YAML configuration file. The
// relay's required CLI/environment surface is just PORT; everything here
// is supplemental and defaults to sane behavior when absent.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the relay's optional configuration. All fields have defaults
// matching the bare PORT-only surface a deployment needs at minimum.
type Config struct {
	Port              int      `yaml:"port"`
	LogLevel          string   `yaml:"logLevel"`
	MaxParticipants   int      `yaml:"maxParticipantsPerDoc"`
	CORSOrigins       []string `yaml:"corsOrigins"`
	QueueRetentionDay int      `yaml:"queueRetentionDays"`
}

// Default returns the configuration used when no file or
// flags are given: PORT defaults to 3001, no participant cap, no CORS.
func Default() Config {
	return Config{
		Port:              3001,
		LogLevel:          "info",
		MaxParticipants:   0,
		CORSOrigins:       nil,
		QueueRetentionDay: 7,
	}
}

// Load reads a YAML file at path and overlays it onto Default(). A
// missing path is not an error — the defaults apply.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
