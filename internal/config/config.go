// Package config loads the packfsctl configuration file.
package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the YAML surface of the CLI.
type Config struct {
	File     string  `yaml:"file"`
	Cleanup  string  `yaml:"cleanup"`
	FillRate float64 `yaml:"fill_rate"`
	Gzip     bool    `yaml:"gzip"`
	LogLevel string  `yaml:"log_level"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		File:     "packfs.archive",
		Cleanup:  "never",
		FillRate: 0.0,
		Gzip:     false,
		LogLevel: "info",
	}
}

// Normalize fills in zero values with defaults and clamps the fill rate into
// [0, 1].
func (c *Config) Normalize() {
	d := Default()

	if c.File == "" {
		c.File = d.File
	}
	if c.Cleanup == "" {
		c.Cleanup = d.Cleanup
	}
	if c.FillRate < 0 {
		c.FillRate = 0
	}
	if c.FillRate > 1 {
		c.FillRate = 1
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
}

// Load reads and normalizes a configuration file.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "read config %s", path)
	}
	var c Config
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return Config{}, errors.Wrapf(err, "parse config %s", path)
	}
	c.Normalize()
	return c, nil
}
