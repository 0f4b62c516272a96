package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// minimalYAML carries just the fields Validate requires.
const minimalYAML = `
cloud:
  base_url: "https://smartapi.example.com"
credentials:
  username: "user@example.com"
  password: "secret"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Cloud.RateLimit.Capacity != 5 {
		t.Errorf("Capacity = %d, want default 5", cfg.Cloud.RateLimit.Capacity)
	}
	if cfg.Cloud.RateLimit.RefillPerSecond != 1 {
		t.Errorf("RefillPerSecond = %v, want default 1", cfg.Cloud.RateLimit.RefillPerSecond)
	}
	if cfg.Poll.Interval != 60 {
		t.Errorf("Interval = %d, want default 60", cfg.Poll.Interval)
	}
	if cfg.Retry.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want default 5", cfg.Retry.MaxAttempts)
	}
	if cfg.Credentials.TokenSafetyMargin != 60 {
		t.Errorf("TokenSafetyMargin = %d, want default 60", cfg.Credentials.TokenSafetyMargin)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v, want info/json defaults", cfg.Logging)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML+`
poll:
  interval: 120
  cycle_deadline: 90
retry:
  max_attempts: 3
  backoff_base: 5
  backoff_cap: 60
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Poll.Interval != 120 {
		t.Errorf("Interval = %d, want 120", cfg.Poll.Interval)
	}
	if cfg.Retry.MaxAttempts != 3 || cfg.Retry.BackoffBase != 5 {
		t.Errorf("Retry = %+v", cfg.Retry)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	t.Setenv("CLOUDSYNC_CLOUD_PASSWORD", "env-secret")
	t.Setenv("CLOUDSYNC_POLL_INTERVAL", "90")

	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Credentials.Password != "env-secret" {
		t.Errorf("Password = %q, want env override", cfg.Credentials.Password)
	}
	if cfg.Poll.Interval != 90 {
		t.Errorf("Interval = %d, want env override 90", cfg.Poll.Interval)
	}
}

func TestLoadClampsPollInterval(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML+`
poll:
  interval: 5
  cycle_deadline: 5
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Poll.Interval != 30 {
		t.Errorf("Interval = %d, want clamped 30", cfg.Poll.Interval)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{
			name:    "missing base url",
			mutate:  func(c *Config) { c.Cloud.BaseURL = "" },
			wantMsg: "cloud.base_url is required",
		},
		{
			name:    "non-http base url",
			mutate:  func(c *Config) { c.Cloud.BaseURL = "ftp://example.com" },
			wantMsg: "must be an http(s) URL",
		},
		{
			name:    "missing username",
			mutate:  func(c *Config) { c.Credentials.Username = "" },
			wantMsg: "credentials.username is required",
		},
		{
			name:    "missing password",
			mutate:  func(c *Config) { c.Credentials.Password = "" },
			wantMsg: "credentials.password is required",
		},
		{
			name:    "zero rate limit capacity",
			mutate:  func(c *Config) { c.Cloud.RateLimit.Capacity = 0 },
			wantMsg: "capacity must be at least 1",
		},
		{
			name:    "deadline exceeds interval",
			mutate:  func(c *Config) { c.Poll.CycleDeadline = c.Poll.Interval + 1 },
			wantMsg: "cycle_deadline must not exceed",
		},
		{
			name:    "cap below base",
			mutate:  func(c *Config) { c.Retry.BackoffBase = 100; c.Retry.BackoffCap = 50 },
			wantMsg: "backoff_cap must be at least",
		},
		{
			name:    "invalid qos",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantMsg: "mqtt.qos must be 0, 1, or 2",
		},
		{
			name:    "invalid api port",
			mutate:  func(c *Config) { c.API.Enabled = true; c.API.Port = 0 },
			wantMsg: "api.port must be between",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.Cloud.BaseURL = "https://smartapi.example.com"
			cfg.Credentials.Username = "user@example.com"
			cfg.Credentials.Password = "secret"
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not mention %q", err, tt.wantMsg)
			}
		})
	}
}

func TestDurationAccessors(t *testing.T) {
	cfg := defaultConfig()

	if cfg.PollInterval() != 60*time.Second {
		t.Errorf("PollInterval = %v", cfg.PollInterval())
	}
	if cfg.CycleDeadline() != 45*time.Second {
		t.Errorf("CycleDeadline = %v", cfg.CycleDeadline())
	}
	if cfg.EnergyInterval() != 6*time.Hour {
		t.Errorf("EnergyInterval = %v", cfg.EnergyInterval())
	}
	if cfg.TokenSafetyMargin() != time.Minute {
		t.Errorf("TokenSafetyMargin = %v", cfg.TokenSafetyMargin())
	}
	if cfg.BackoffBase() != 2*time.Second || cfg.BackoffCap() != 5*time.Minute {
		t.Errorf("backoff accessors = %v / %v", cfg.BackoffBase(), cfg.BackoffCap())
	}
}
