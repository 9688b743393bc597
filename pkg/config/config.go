// Package config loads and persists the application configuration.
// Configuration lives in a JSON file with environment variable
// overrides for the values that should stay out of files.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mstrella/skyfeed/pkg/providers"
)

// Config is the complete application configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Providers ProvidersConfig `json:"providers"`
}

// ServerConfig contains HTTP server settings for cmd/skyfeed-server.
type ServerConfig struct {
	// Port is the HTTP server port (default: 8080)
	Port string `json:"port"`

	// Host is the server bind address (default: "0.0.0.0")
	Host string `json:"host"`

	// PollIntervalSeconds is how often the aircraft stream endpoint
	// refreshes its snapshot
	PollIntervalSeconds int `json:"poll_interval_seconds"`
}

// DatabaseConfig contains the optional PostgreSQL connection used for
// the database-backed credential store. When Host is empty the
// JSON-file store is used instead.
type DatabaseConfig struct {
	// Host is the database server hostname; empty disables the store
	Host string `json:"host"`

	// Port is the database server port
	Port int `json:"port"`

	// Database is the database name
	Database string `json:"database"`

	// Username for database authentication
	Username string `json:"username"`

	// Password for database authentication (prefer the environment)
	Password string `json:"password"`

	// SSLMode for the connection (disable, require, verify-ca, verify-full)
	SSLMode string `json:"ssl_mode"`

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int `json:"max_open_conns"`

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int `json:"max_idle_conns"`
}

// RateLimitConfig tunes one provider's request pacing.
type RateLimitConfig struct {
	// BaseIntervalSeconds is the minimum spacing between requests
	BaseIntervalSeconds float64 `json:"base_interval_seconds"`

	// FailureCap bounds the backoff exponent
	FailureCap int `json:"failure_cap"`

	// MaxBackoffSeconds caps the grown interval
	MaxBackoffSeconds float64 `json:"max_backoff_seconds"`
}

// FallbackWindowConfig is one historical retry window for empty
// arrival results, expressed as hours back from the query time.
type FallbackWindowConfig struct {
	StartHoursAgo float64 `json:"start_hours_ago"`
	EndHoursAgo   float64 `json:"end_hours_ago"`
}

// ProvidersConfig configures the acquisition engine.
type ProvidersConfig struct {
	// CredentialFile is the JSON credential store path, used when no
	// database is configured
	CredentialFile string `json:"credential_file"`

	// RateLimits overrides the per-provider pacing defaults, keyed by
	// provider identifier
	RateLimits map[string]RateLimitConfig `json:"rate_limits,omitempty"`

	// RequestsPerHour caps paid providers' hourly budgets, keyed by
	// provider identifier; 0 disables the budget
	RequestsPerHour map[string]int `json:"requests_per_hour,omitempty"`

	// FallbackWindows overrides the arrival fallback search windows
	FallbackWindows []FallbackWindowConfig `json:"fallback_windows,omitempty"`
}

// Load reads configuration from a JSON file. A missing file yields the
// default configuration; environment overrides apply either way.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvironmentOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvironmentOverrides()
	return &cfg, nil
}

// Save writes the configuration to a JSON file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:                "8080",
			Host:                "0.0.0.0",
			PollIntervalSeconds: 10,
		},
		Database: DatabaseConfig{
			Port:         5432,
			Database:     "skyfeed",
			Username:     "skyfeed",
			SSLMode:      "disable",
			MaxOpenConns: 25,
			MaxIdleConns: 5,
		},
		Providers: ProvidersConfig{
			CredentialFile: defaultCredentialFile(),
		},
	}
}

func defaultCredentialFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "credentials.json"
	}
	return filepath.Join(home, ".skyfeed", "credentials.json")
}

// AdapterOptions converts the tuning for one provider identifier into
// adapter construction options.
func (pc ProvidersConfig) AdapterOptions(provider string) []providers.Option {
	var opts []providers.Option

	if rl, ok := pc.RateLimits[provider]; ok {
		opts = append(opts, providers.WithPacerConfig(providers.PacerConfig{
			BaseInterval: time.Duration(rl.BaseIntervalSeconds * float64(time.Second)),
			FailureCap:   rl.FailureCap,
			MaxBackoff:   time.Duration(rl.MaxBackoffSeconds * float64(time.Second)),
		}))
	}
	if rph, ok := pc.RequestsPerHour[provider]; ok {
		opts = append(opts, providers.WithRequestsPerHour(rph))
	}
	if len(pc.FallbackWindows) > 0 {
		windows := make([]providers.FallbackWindow, 0, len(pc.FallbackWindows))
		for _, w := range pc.FallbackWindows {
			windows = append(windows, providers.FallbackWindow{
				Start: time.Duration(w.StartHoursAgo * float64(time.Hour)),
				End:   time.Duration(w.EndHoursAgo * float64(time.Hour)),
			})
		}
		opts = append(opts, providers.WithFallbackWindows(windows))
	}
	return opts
}

// applyEnvironmentOverrides applies environment variable overrides so
// secrets can stay out of config files.
func (c *Config) applyEnvironmentOverrides() {
	if port := os.Getenv("SKYFEED_PORT"); port != "" {
		c.Server.Port = port
	}
	if host := os.Getenv("SKYFEED_DB_HOST"); host != "" {
		c.Database.Host = host
	}
	if password := os.Getenv("SKYFEED_DB_PASSWORD"); password != "" {
		c.Database.Password = password
	}
	if file := os.Getenv("SKYFEED_CREDENTIAL_FILE"); file != "" {
		c.Providers.CredentialFile = file
	}
}
