// Package config loads and persists the Tether server configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/zhubert/tether/paths"
)

const (
	// DefaultTimeoutMs is the per-command timeout applied when the caller
	// does not specify one.
	DefaultTimeoutMs = 30000

	// DefaultCloseGraceSeconds is how long Close waits for a shell to exit
	// after the graceful `exit` before force-killing it. Kept short so a hung
	// shell cannot stall server shutdown.
	DefaultCloseGraceSeconds = 5
)

// Config holds the application configuration.
type Config struct {
	DefaultShell      string `yaml:"default_shell,omitempty"`       // Shell for new sessions when the caller omits one (empty = auto-detect)
	DefaultTimeoutMs  int    `yaml:"default_timeout_ms,omitempty"`  // Per-command timeout default
	CloseGraceSeconds int    `yaml:"close_grace_seconds,omitempty"` // Grace period before force-kill on close
	Debug             bool   `yaml:"debug,omitempty"`               // Enables debug-level logging

	mu       sync.RWMutex
	filePath string
}

// Load reads the config from disk, or returns defaults if it doesn't exist.
func Load() (*Config, error) {
	path, err := paths.ConfigFilePath()
	if err != nil {
		return nil, err
	}
	return LoadFrom(path)
}

// LoadFrom reads the config from the given path, or returns defaults if the
// file doesn't exist.
func LoadFrom(path string) (*Config, error) {
	cfg := &Config{
		DefaultTimeoutMs:  DefaultTimeoutMs,
		CloseGraceSeconds: DefaultCloseGraceSeconds,
		filePath:          path,
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults fills in zero values left by an explicit config file.
func (c *Config) applyDefaults() {
	if c.DefaultTimeoutMs == 0 {
		c.DefaultTimeoutMs = DefaultTimeoutMs
	}
	if c.CloseGraceSeconds == 0 {
		c.CloseGraceSeconds = DefaultCloseGraceSeconds
	}
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.DefaultTimeoutMs < 0 {
		return fmt.Errorf("default_timeout_ms cannot be negative: %d", c.DefaultTimeoutMs)
	}
	if c.CloseGraceSeconds < 0 {
		return fmt.Errorf("close_grace_seconds cannot be negative: %d", c.CloseGraceSeconds)
	}
	return nil
}

// Save writes the config to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(c.filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}

	return os.WriteFile(c.filePath, data, 0644)
}
