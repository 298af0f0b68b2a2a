package logging

import (
	"fmt"
)

// Config holds logging configuration.
type Config struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Caller bool              `yaml:"caller"`
	Fields map[string]string `yaml:"fields,omitempty"`
	File   FileConfig        `yaml:"file"`
}

// FileConfig controls the optional rotating log file.
type FileConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// NewDefaultConfig returns config with console-friendly defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Level:  "info",
		Format: "console",
		Caller: false,
		Fields: map[string]string{
			"service": "mender",
		},
		File: FileConfig{
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
	}
}

// Validate checks config for errors.
func (c *Config) Validate() error {
	if c.Format != "json" && c.Format != "console" {
		return fmt.Errorf("format must be 'json' or 'console', got %q", c.Format)
	}
	if _, err := LevelFromString(c.Level); err != nil {
		return fmt.Errorf("invalid level %q: %w", c.Level, err)
	}
	if c.File.Path != "" && c.File.MaxSizeMB <= 0 {
		return fmt.Errorf("file max_size_mb must be > 0 when a log file is configured")
	}
	for k, v := range c.Fields {
		if k == "" {
			return fmt.Errorf("field key cannot be empty")
		}
		if v == "" {
			return fmt.Errorf("field %q has empty value", k)
		}
	}
	return nil
}
