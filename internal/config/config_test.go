package config

import (
	"os"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "config-*.yaml")
	if err != nil {
		t.Fatalf("creating temp config: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	f.Close()
	return f.Name()
}

func TestLoad_Valid(t *testing.T) {
	path := writeConfig(t, `
api:
  url: "https://api.example.com"
  token: "abc123"
sync:
  poll_interval: 2m
  cooldown: 45s
  db_path: /tmp/tickets.db
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.API.URL != "https://api.example.com" {
		t.Errorf("API.URL = %q", cfg.API.URL)
	}
	if cfg.API.Token != "abc123" {
		t.Errorf("API.Token = %q", cfg.API.Token)
	}
	if cfg.Sync.PollInterval != 2*time.Minute {
		t.Errorf("PollInterval = %v, want 2m", cfg.Sync.PollInterval)
	}
	if cfg.Sync.Cooldown != 45*time.Second {
		t.Errorf("Cooldown = %v, want 45s", cfg.Sync.Cooldown)
	}
	if cfg.Sync.DBPath != "/tmp/tickets.db" {
		t.Errorf("DBPath = %q", cfg.Sync.DBPath)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
api:
  url: "https://api.example.com"
  token: "token"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Sync.PollInterval != 5*time.Minute {
		t.Errorf("PollInterval = %v, want default 5m", cfg.Sync.PollInterval)
	}
	if cfg.Sync.Cooldown != 30*time.Second {
		t.Errorf("Cooldown = %v, want default 30s", cfg.Sync.Cooldown)
	}
	if cfg.Sync.ProbeInterval != 30*time.Second {
		t.Errorf("ProbeInterval = %v, want default 30s", cfg.Sync.ProbeInterval)
	}
	if cfg.Telemetry != nil {
		t.Error("Telemetry should be nil when the block is omitted")
	}
}

func TestLoad_MissingURL(t *testing.T) {
	path := writeConfig(t, `
api:
  token: "token"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing api.url, got nil")
	}
}

func TestLoad_InvalidURL(t *testing.T) {
	path := writeConfig(t, `
api:
  url: "not-a-url"
  token: "token"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid api.url, got nil")
	}
}

func TestLoad_MissingToken(t *testing.T) {
	path := writeConfig(t, `
api:
  url: "https://api.example.com"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing api.token, got nil")
	}
}

func TestLoad_PollIntervalTooShort(t *testing.T) {
	path := writeConfig(t, `
api:
  url: "https://api.example.com"
  token: "token"
sync:
  poll_interval: 5s
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for poll_interval < 30s, got nil")
	}
}

func TestLoad_PollIntervalTooLong(t *testing.T) {
	path := writeConfig(t, `
api:
  url: "https://api.example.com"
  token: "token"
sync:
  poll_interval: 2h
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for poll_interval > 1h, got nil")
	}
}

func TestLoad_CooldownExceedsPoll(t *testing.T) {
	path := writeConfig(t, `
api:
  url: "https://api.example.com"
  token: "token"
sync:
  poll_interval: 1m
  cooldown: 5m
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for cooldown > poll_interval, got nil")
	}
}

func TestLoad_NegativeProbeDisables(t *testing.T) {
	path := writeConfig(t, `
api:
  url: "https://api.example.com"
  token: "token"
sync:
  probe_interval: -1s
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Sync.ProbeInterval != 0 {
		t.Errorf("ProbeInterval = %v, want 0 (disabled)", cfg.Sync.ProbeInterval)
	}
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	path := writeConfig(t, `
api:
  url: "https://api.example.com"
  token: "token"
  tokne: "typo"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown key, got nil")
	}
}

func TestLoad_TelemetryRequiresEndpoint(t *testing.T) {
	path := writeConfig(t, `
api:
  url: "https://api.example.com"
  token: "token"
telemetry:
  insecure: true
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for telemetry without otlp_endpoint, got nil")
	}
}

func TestLoad_FileMissing(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}
