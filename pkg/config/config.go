package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config represents the complete application configuration.
// Configuration is loaded from a JSON file with environment overrides.
type Config struct {
	Server     ServerConfig     `json:"server"`
	SimConnect SimConnectConfig `json:"simconnect"`
	Database   DatabaseConfig   `json:"database"`
	Auth       AuthConfig       `json:"auth"`
	RateLimit  RateLimitConfig  `json:"rate_limit"`
	Static     StaticConfig     `json:"static"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	// Port is the HTTP server port (default: 5500)
	Port string `json:"port"`

	// Host is the server bind address (default: "0.0.0.0")
	Host string `json:"host"`

	// TLSEnabled determines if HTTPS should be used
	TLSEnabled bool `json:"tls_enabled"`

	// TLSCertFile is the path to the TLS certificate
	TLSCertFile string `json:"tls_cert_file"`

	// TLSKeyFile is the path to the TLS private key
	TLSKeyFile string `json:"tls_key_file"`
}

// SimConnectConfig contains settings for the SimConnect bridge link.
type SimConnectConfig struct {
	// BaseURL is the SimConnect bridge address (e.g., "http://localhost:8620").
	// An empty value means no bridge is available on this host; the server
	// still starts but all telemetry endpoints report "unavailable".
	BaseURL string `json:"base_url"`

	// AutoConnect attempts a connection at server startup
	AutoConnect bool `json:"auto_connect"`

	// PollIntervalMS is how often the session polls the simulator, in
	// milliseconds (default: 500)
	PollIntervalMS int `json:"poll_interval_ms"`

	// ErrorBackoffMS is how long the poll loop pauses after a failed
	// cycle before resuming, in milliseconds (default: 2000)
	ErrorBackoffMS int `json:"error_backoff_ms"`
}

// DatabaseConfig contains Postgres settings for the flight track history.
type DatabaseConfig struct {
	// Enabled turns snapshot recording on. When false the server never
	// touches the database and /api/flight/track returns 503.
	Enabled bool `json:"enabled"`

	// Host is the database server hostname
	Host string `json:"host"`

	// Port is the database server port
	Port int `json:"port"`

	// Database is the database name
	Database string `json:"database"`

	// Username for database authentication
	Username string `json:"username"`

	// Password for database authentication (should be loaded from environment)
	Password string `json:"password"`

	// SSLMode for PostgreSQL connections (disable, require, verify-ca, verify-full)
	SSLMode string `json:"ssl_mode"`

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int `json:"max_open_conns"`

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int `json:"max_idle_conns"`

	// RetentionHours is how long track points are kept (default: 24)
	RetentionHours int `json:"retention_hours"`
}

// AuthConfig protects the connect/disconnect control endpoints.
type AuthConfig struct {
	// Enabled requires a bearer token on control endpoints
	Enabled bool `json:"enabled"`

	// JWTSecret signs session tokens (load from environment in production)
	JWTSecret string `json:"jwt_secret"`

	// Username is the single operator account name
	Username string `json:"username"`

	// PasswordHash is the bcrypt hash of the operator password
	PasswordHash string `json:"password_hash"`

	// TokenDurationHours is how long issued tokens stay valid (default: 24)
	TokenDurationHours int `json:"token_duration_hours"`
}

// RateLimitConfig throttles the JSON API.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained allowance (default: 20)
	RequestsPerSecond float64 `json:"requests_per_second"`

	// Burst is the short-term allowance above the sustained rate (default: 40)
	Burst int `json:"burst"`
}

// StaticConfig controls static file serving.
// The legacy deployments disagreed on the web root ("." vs "scripts"),
// so it is configurable rather than hardcoded.
type StaticConfig struct {
	// Dir is the root of the static file tree (default: ".")
	Dir string `json:"dir"`
}

// Load reads configuration from a JSON file.
// If the file doesn't exist, returns a default configuration.
func Load(path string) (*Config, error) {
	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvironmentOverrides()
		return cfg, nil
	}

	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override with environment variables
	cfg.applyEnvironmentOverrides()

	return &cfg, nil
}

// Save writes the configuration to a JSON file.
func (c *Config) Save(path string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Marshal to JSON with indentation
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:       "5500",
			Host:       "0.0.0.0",
			TLSEnabled: false,
		},
		SimConnect: SimConnectConfig{
			BaseURL:        "http://localhost:8620",
			AutoConnect:    true,
			PollIntervalMS: 500,
			ErrorBackoffMS: 2000,
		},
		Database: DatabaseConfig{
			Enabled:        false,
			Host:           "localhost",
			Port:           5432,
			Database:       "flycharts",
			Username:       "flycharts",
			SSLMode:        "disable",
			MaxOpenConns:   25,
			MaxIdleConns:   5,
			RetentionHours: 24,
		},
		Auth: AuthConfig{
			Enabled:            false,
			Username:           "operator",
			TokenDurationHours: 24,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 20,
			Burst:             40,
		},
		Static: StaticConfig{
			Dir: ".",
		},
	}
}

// applyEnvironmentOverrides applies environment variable overrides to the config.
// This allows sensitive data like passwords to be kept out of config files.
func (c *Config) applyEnvironmentOverrides() {
	if port := os.Getenv("FLYCHARTS_PORT"); port != "" {
		c.Server.Port = port
	}
	if bridgeURL := os.Getenv("FLYCHARTS_SIMCONNECT_URL"); bridgeURL != "" {
		c.SimConnect.BaseURL = bridgeURL
	}
	if dbPassword := os.Getenv("FLYCHARTS_DB_PASSWORD"); dbPassword != "" {
		c.Database.Password = dbPassword
	}
	if secret := os.Getenv("FLYCHARTS_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if dir := os.Getenv("FLYCHARTS_STATIC_DIR"); dir != "" {
		c.Static.Dir = dir
	}
}
