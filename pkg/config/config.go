// Package config loads the YAML file a dwn node boots from: where it
// keeps its data, how it logs, which tenants get the built-in
// permissions protocol seeded automatically, and where (if anywhere) it
// exposes metrics.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/nodeledger/dwn-core/pkg/log"
)

// Config is the top-level shape of a dwn node's YAML configuration
// file.
type Config struct {
	DataDir     string   `yaml:"dataDir"`
	LogLevel    string   `yaml:"logLevel"`
	LogJSON     bool     `yaml:"logJSON"`
	MetricsAddr string   `yaml:"metricsAddr"`
	SeedTenants []string `yaml:"seedTenants"`
}

// Default returns the configuration a bare `dwn serve` runs with when
// no file is given.
func Default() Config {
	return Config{
		DataDir:  "./data",
		LogLevel: "info",
	}
}

// Load reads and parses the YAML file at path.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default()
	cfg.DataDir = ""
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.DataDir == "" {
		return Config{}, fmt.Errorf("config: dataDir is required")
	}
	return cfg, nil
}

// LogConfig translates the logging fields into pkg/log's own Config
// shape.
func (c Config) LogConfig() log.Config {
	return log.Config{
		Level:      log.Level(c.LogLevel),
		JSONOutput: c.LogJSON,
	}
}
