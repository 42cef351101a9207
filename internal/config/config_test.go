// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// =============================================================================
// LOADING
// =============================================================================

func TestLoadFromPath_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}
	if cfg.Server.BaseURL != "http://localhost:8089" {
		t.Errorf("BaseURL = %q, want default", cfg.Server.BaseURL)
	}
	if cfg.Send.ResendPerMinute != 6 {
		t.Errorf("ResendPerMinute = %d, want 6", cfg.Send.ResendPerMinute)
	}
}

func TestLoadFromPath_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[server]
base_url = "https://chat.example.com"

[send]
resend_per_minute = 2
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}
	if cfg.Server.BaseURL != "https://chat.example.com" {
		t.Errorf("BaseURL = %q", cfg.Server.BaseURL)
	}
	if cfg.Send.ResendPerMinute != 2 {
		t.Errorf("ResendPerMinute = %d, want 2", cfg.Send.ResendPerMinute)
	}
	// Unset sections keep defaults.
	if cfg.Server.RequestTimeoutSecs != 30 {
		t.Errorf("RequestTimeoutSecs = %d, want default 30", cfg.Server.RequestTimeoutSecs)
	}
}

func TestLoadFromPath_InvalidTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	os.WriteFile(path, []byte("not [valid"), 0600)

	if _, err := LoadFromPath(path); err == nil {
		t.Error("Expected error for invalid TOML")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PARLEY_SERVER_URL", "http://10.0.0.5:9000")
	t.Setenv("PARLEY_TIMEOUT_SECS", "5")
	t.Setenv("PARLEY_DB_PATH", "/tmp/alt.db")

	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}
	if cfg.Server.BaseURL != "http://10.0.0.5:9000" {
		t.Errorf("BaseURL = %q", cfg.Server.BaseURL)
	}
	if cfg.Server.RequestTimeoutSecs != 5 {
		t.Errorf("RequestTimeoutSecs = %d, want 5", cfg.Server.RequestTimeoutSecs)
	}
	if cfg.Storage.DatabasePath != "/tmp/alt.db" {
		t.Errorf("DatabasePath = %q", cfg.Storage.DatabasePath)
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults valid", func(*Config) {}, false},
		{"empty url", func(c *Config) { c.Server.BaseURL = "" }, true},
		{"bad scheme", func(c *Config) { c.Server.BaseURL = "ftp://x" }, true},
		{"no host", func(c *Config) { c.Server.BaseURL = "http://" }, true},
		{"zero timeout", func(c *Config) { c.Server.RequestTimeoutSecs = 0 }, true},
		{"zero resend cap", func(c *Config) { c.Send.ResendPerMinute = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// =============================================================================
// SAVE / ROUNDTRIP
// =============================================================================

func TestSaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.toml")

	cfg := Default()
	cfg.Server.BaseURL = "https://saved.example.com"
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}
	if loaded.Server.BaseURL != "https://saved.example.com" {
		t.Errorf("BaseURL = %q, want the saved value", loaded.Server.BaseURL)
	}
}

// =============================================================================
// HOT RELOAD
// =============================================================================

func TestWatch_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg := Default()
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	reloaded := make(chan *Config, 4)
	watcher, err := Watch(path, func(next *Config) { reloaded <- next })
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer watcher.Close()

	cfg.Server.BaseURL = "http://changed.example.com"
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	select {
	case next := <-reloaded:
		if next.Server.BaseURL != "http://changed.example.com" {
			t.Errorf("Reloaded BaseURL = %q", next.Server.BaseURL)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for reload")
	}
}

func TestWatch_InvalidEditSkipped(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := Default().Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	reloaded := make(chan *Config, 4)
	watcher, err := Watch(path, func(next *Config) { reloaded <- next })
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer watcher.Close()

	// A broken edit must not call onLoad.
	os.WriteFile(path, []byte("not [valid"), 0600)

	select {
	case next := <-reloaded:
		t.Errorf("Reload delivered for invalid config: %+v", next)
	case <-time.After(time.Second):
	}
}
