// Package config loads and validates the TicketVault YAML configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full application configuration loaded from YAML.
type Config struct {
	// API configures the remote sales API connection.
	API APIConfig `yaml:"api"`

	// Sync configures the local cache and the background sync loop.
	Sync SyncConfig `yaml:"sync"`

	// Telemetry configures optional OpenTelemetry export via OTLP gRPC.
	// Omit the block entirely to disable telemetry.
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
}

// APIConfig holds the remote sales API settings.
type APIConfig struct {
	// URL is the base URL of the sales API (e.g. "https://api.example.com").
	URL string `yaml:"url"`

	// Token is the bearer token sent on every API request.
	Token string `yaml:"token"`
}

// SyncConfig holds the local-store and sync-loop settings.
type SyncConfig struct {
	// PollInterval controls how often the daemon pulls the remote sales
	// list. Minimum 30s, maximum 1h. Defaults to 5m if unset.
	PollInterval time.Duration `yaml:"poll_interval"`

	// Cooldown is the minimum spacing between two pull passes, shared by
	// the daemon loop and manual triggers. Defaults to 30s if unset.
	Cooldown time.Duration `yaml:"cooldown"`

	// ProbeInterval controls how often the daemon checks API reachability
	// to detect offline/online transitions. Defaults to 30s; a negative
	// value disables the probe.
	ProbeInterval time.Duration `yaml:"probe_interval"`

	// DBPath is the SQLite database file. Defaults to
	// ~/.local/share/ticketvault/tickets.db.
	DBPath string `yaml:"db_path"`
}

// TelemetryConfig holds optional OpenTelemetry settings.
type TelemetryConfig struct {
	// OTLPEndpoint is the gRPC host:port of the OTLP collector (e.g. "localhost:4317").
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Insecure disables TLS for the collector connection. Use for local collectors.
	Insecure bool `yaml:"insecure"`

	// ServiceName overrides the OTel service.name attribute. Defaults to "ticketvault".
	ServiceName string `yaml:"service_name"`

	// Headers contains key-value pairs sent as gRPC metadata on every OTLP
	// request. Equivalent to the OTEL_EXPORTER_OTLP_HEADERS environment
	// variable. Use this for authentication tokens, e.g.:
	//   Authorization: "Bearer <token>"
	Headers map[string]string `yaml:"headers,omitempty"`
}

// DefaultPath returns the default config file path: ~/.config/ticketvault/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "ticketvault", "config.yaml"), nil
}

// Load reads and validates the configuration file at the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true) // reject unknown keys to catch typos early
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required fields are present and well-formed.
func (c *Config) validate() error {
	if c.API.URL == "" {
		return fmt.Errorf("api.url is required")
	}
	u, err := url.ParseRequestURI(c.API.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("api.url %q must be a valid http or https URL", c.API.URL)
	}

	if c.API.Token == "" {
		return fmt.Errorf("api.token is required")
	}

	if c.Sync.PollInterval == 0 {
		c.Sync.PollInterval = 5 * time.Minute
	}
	if c.Sync.PollInterval < 30*time.Second {
		return fmt.Errorf("sync.poll_interval %v is too short (minimum 30s)", c.Sync.PollInterval)
	}
	if c.Sync.PollInterval > time.Hour {
		return fmt.Errorf("sync.poll_interval %v is too long (maximum 1h)", c.Sync.PollInterval)
	}

	if c.Sync.Cooldown == 0 {
		c.Sync.Cooldown = 30 * time.Second
	}
	if c.Sync.Cooldown < 0 {
		return fmt.Errorf("sync.cooldown must not be negative")
	}
	if c.Sync.Cooldown > c.Sync.PollInterval {
		return fmt.Errorf("sync.cooldown %v must not exceed sync.poll_interval %v",
			c.Sync.Cooldown, c.Sync.PollInterval)
	}

	if c.Sync.ProbeInterval == 0 {
		c.Sync.ProbeInterval = 30 * time.Second
	} else if c.Sync.ProbeInterval < 0 {
		c.Sync.ProbeInterval = 0
	}

	if c.Telemetry != nil {
		if c.Telemetry.OTLPEndpoint == "" {
			return fmt.Errorf("telemetry.otlp_endpoint is required when telemetry is configured")
		}
	}

	return nil
}
