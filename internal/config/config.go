// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete parley configuration.
type Config struct {
	// Server configuration
	Server ServerConfig `toml:"server"`

	// Storage configuration
	Storage StorageConfig `toml:"storage"`

	// Send path configuration
	Send SendConfig `toml:"send"`
}

// ServerConfig contains chat backend configuration.
type ServerConfig struct {
	// BaseURL is the URL of the chat backend.
	BaseURL string `toml:"base_url"`
	// RequestTimeoutSecs is the timeout for non-streaming requests.
	// Streaming requests have no timeout; they are context-controlled.
	RequestTimeoutSecs int `toml:"request_timeout_secs"`
}

// RequestTimeout returns the non-streaming request deadline as a duration.
func (s ServerConfig) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutSecs) * time.Second
}

// StorageConfig contains local persistence configuration.
type StorageConfig struct {
	// DatabasePath is where to store the SQLite conversation cache
	// (empty = default ~/.parley/conversations.db).
	DatabasePath string `toml:"database_path"`
	// HistoryFile is the REPL input history file
	// (empty = default ~/.parley/input_history).
	HistoryFile string `toml:"history_file"`
}

// SendConfig contains send-path configuration.
type SendConfig struct {
	// ResendPerMinute caps manual resubmissions of failed messages.
	ResendPerMinute int `toml:"resend_per_minute"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			BaseURL:            "http://localhost:8089",
			RequestTimeoutSecs: 30,
		},
		Storage: StorageConfig{},
		Send: SendConfig{
			ResendPerMinute: 6,
		},
	}
}

// ConfigDir returns the parley configuration directory, creating it if
// needed.
func ConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(homeDir, ".parley")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	return dir, nil
}

// DefaultPath returns the default config file path.
func DefaultPath() (string, error) {
	if path := os.Getenv("PARLEY_CONFIG"); path != "" {
		return path, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// DatabasePath resolves the configured or default database location.
func (c *Config) DatabasePath() (string, error) {
	if c.Storage.DatabasePath != "" {
		return c.Storage.DatabasePath, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "conversations.db"), nil
}

// HistoryFile resolves the configured or default REPL history location.
func (c *Config) HistoryFile() (string, error) {
	if c.Storage.HistoryFile != "" {
		return c.Storage.HistoryFile, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "input_history"), nil
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads the configuration from the default path, falling back to
// defaults when no file exists, and applies environment overrides.
func Load() (*Config, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}
	return LoadFromPath(path)
}

// LoadFromPath reads the configuration from an explicit path. A missing
// file is not an error; defaults apply.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func applyEnvOverrides(cfg *Config) {
	if u := os.Getenv("PARLEY_SERVER_URL"); u != "" {
		cfg.Server.BaseURL = u
	}
	if t := os.Getenv("PARLEY_TIMEOUT_SECS"); t != "" {
		if secs, err := strconv.Atoi(t); err == nil && secs > 0 {
			cfg.Server.RequestTimeoutSecs = secs
		}
	}
	if p := os.Getenv("PARLEY_DB_PATH"); p != "" {
		cfg.Storage.DatabasePath = p
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Server.BaseURL == "" {
		return errors.New("server.base_url must not be empty")
	}
	u, err := url.Parse(c.Server.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("server.base_url is not a valid http(s) URL: %q", c.Server.BaseURL)
	}
	if c.Server.RequestTimeoutSecs <= 0 {
		return errors.New("server.request_timeout_secs must be positive")
	}
	if c.Send.ResendPerMinute <= 0 {
		return errors.New("send.resend_per_minute must be positive")
	}
	return nil
}

// =============================================================================
// SAVING
// =============================================================================

// Save writes the configuration to the given path as TOML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}
