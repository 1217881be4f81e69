package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

// TestDefaultConfig verifies that DefaultConfig returns valid defaults.
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// Server defaults
	if cfg.Server.Port != "5500" {
		t.Errorf("Expected default port 5500, got %s", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Expected default host 0.0.0.0, got %s", cfg.Server.Host)
	}
	if cfg.Server.TLSEnabled {
		t.Error("Expected TLS disabled by default")
	}

	// SimConnect defaults
	if cfg.SimConnect.BaseURL != "http://localhost:8620" {
		t.Errorf("Expected default bridge URL http://localhost:8620, got %s", cfg.SimConnect.BaseURL)
	}
	if !cfg.SimConnect.AutoConnect {
		t.Error("Expected auto-connect enabled by default")
	}
	if cfg.SimConnect.PollIntervalMS != 500 {
		t.Errorf("Expected poll interval 500ms, got %d", cfg.SimConnect.PollIntervalMS)
	}
	if cfg.SimConnect.ErrorBackoffMS != 2000 {
		t.Errorf("Expected error backoff 2000ms, got %d", cfg.SimConnect.ErrorBackoffMS)
	}

	// Database defaults
	if cfg.Database.Enabled {
		t.Error("Expected history recording disabled by default")
	}
	if cfg.Database.Port != 5432 {
		t.Errorf("Expected default postgres port 5432, got %d", cfg.Database.Port)
	}
	if cfg.Database.MaxOpenConns != 25 {
		t.Errorf("Expected max open conns 25, got %d", cfg.Database.MaxOpenConns)
	}
	if cfg.Database.RetentionHours != 24 {
		t.Errorf("Expected retention 24h, got %d", cfg.Database.RetentionHours)
	}

	// Auth defaults
	if cfg.Auth.Enabled {
		t.Error("Expected auth disabled by default")
	}
	if cfg.Auth.TokenDurationHours != 24 {
		t.Errorf("Expected token duration 24h, got %d", cfg.Auth.TokenDurationHours)
	}

	// Static root defaults to the process working directory
	if cfg.Static.Dir != "." {
		t.Errorf("Expected static dir '.', got %s", cfg.Static.Dir)
	}
}

// TestLoadMissingFile verifies defaults are returned when no file exists.
func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if err != nil {
		t.Fatalf("Expected no error for missing file, got: %v", err)
	}
	if cfg.Server.Port != "5500" {
		t.Errorf("Expected default config, got port %s", cfg.Server.Port)
	}
}

// TestLoadInvalidJSON verifies malformed files are rejected.
func TestLoadInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("Expected error for invalid JSON")
	}
}

// TestSaveAndLoad verifies a round trip through disk.
func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")

	cfg := DefaultConfig()
	cfg.Server.Port = "9000"
	cfg.SimConnect.BaseURL = "http://sim-host:8620"
	cfg.SimConnect.PollIntervalMS = 250
	cfg.Database.Enabled = true
	cfg.Static.Dir = "scripts"

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if loaded.Server.Port != "9000" {
		t.Errorf("Expected port 9000, got %s", loaded.Server.Port)
	}
	if loaded.SimConnect.BaseURL != "http://sim-host:8620" {
		t.Errorf("Expected bridge URL http://sim-host:8620, got %s", loaded.SimConnect.BaseURL)
	}
	if loaded.SimConnect.PollIntervalMS != 250 {
		t.Errorf("Expected poll interval 250ms, got %d", loaded.SimConnect.PollIntervalMS)
	}
	if !loaded.Database.Enabled {
		t.Error("Expected history recording enabled")
	}
	if loaded.Static.Dir != "scripts" {
		t.Errorf("Expected static dir scripts, got %s", loaded.Static.Dir)
	}
}

// TestSavedFileIsValidJSON verifies the saved file parses as JSON.
func TestSavedFileIsValidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	if err := DefaultConfig().Save(path); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read saved config: %v", err)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Errorf("Saved config is not valid JSON: %v", err)
	}
	if _, ok := parsed["simconnect"]; !ok {
		t.Error("Expected simconnect section in saved config")
	}
}

// TestEnvironmentOverrides verifies environment variables take precedence.
func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("FLYCHARTS_PORT", "8081")
	t.Setenv("FLYCHARTS_SIMCONNECT_URL", "http://override:8620")
	t.Setenv("FLYCHARTS_DB_PASSWORD", "secret")
	t.Setenv("FLYCHARTS_JWT_SECRET", "signing-key")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.Port != "8081" {
		t.Errorf("Expected env port 8081, got %s", cfg.Server.Port)
	}
	if cfg.SimConnect.BaseURL != "http://override:8620" {
		t.Errorf("Expected env bridge URL, got %s", cfg.SimConnect.BaseURL)
	}
	if cfg.Database.Password != "secret" {
		t.Errorf("Expected env DB password, got %s", cfg.Database.Password)
	}
	if cfg.Auth.JWTSecret != "signing-key" {
		t.Errorf("Expected env JWT secret, got %s", cfg.Auth.JWTSecret)
	}
}
