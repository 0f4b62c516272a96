package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// minPollInterval is the floor applied to the configured poll interval.
// Cloud vendors rate-limit at the account level; polling faster than this
// burns the shared budget without producing fresher data.
const minPollInterval = 30

// Config is the root configuration structure for CloudSync Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Cloud       CloudConfig       `yaml:"cloud"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Poll        PollConfig        `yaml:"poll"`
	Retry       RetryConfig       `yaml:"retry"`
	Database    DatabaseConfig    `yaml:"database"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	InfluxDB    InfluxDBConfig    `yaml:"influxdb"`
	API         APIConfig         `yaml:"api"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// CloudConfig contains cloud API endpoint and rate limit settings.
type CloudConfig struct {
	// BaseURL is the root of the vendor cloud API (e.g., "https://smartapi.example.com").
	BaseURL string `yaml:"base_url"`

	// PerCallTimeout is the timeout applied to each outbound call, in seconds.
	PerCallTimeout int `yaml:"per_call_timeout"`

	// RateLimit bounds the outbound call rate shared by all callers.
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig contains token bucket settings for the API client.
type RateLimitConfig struct {
	// Capacity is the bucket size (maximum burst).
	Capacity int `yaml:"capacity"`

	// RefillPerSecond is the steady-state refill rate.
	RefillPerSecond float64 `yaml:"refill_per_second"`

	// CommandReserve is a smaller bucket reserved for command dispatch so a
	// large poll fan-out cannot starve command latency. 0 disables the reserve.
	CommandReserve int `yaml:"command_reserve"`
}

// CredentialsConfig identifies the account used against the cloud API.
// The password is normally supplied via CLOUDSYNC_CLOUD_PASSWORD rather
// than the config file.
type CredentialsConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// TokenSafetyMargin is how long before expiry a token is refreshed, in seconds.
	TokenSafetyMargin int `yaml:"token_safety_margin"`
}

// PollConfig contains poll scheduling settings.
type PollConfig struct {
	// Interval is the delay between poll cycles, in seconds. Clamped to 30.
	Interval int `yaml:"interval"`

	// CycleDeadline bounds one full cycle, in seconds. Devices still
	// outstanding at the deadline are treated as transient failures.
	CycleDeadline int `yaml:"cycle_deadline"`

	// Batched selects one batched state fetch per cycle instead of one
	// call per device.
	Batched bool `yaml:"batched"`

	// EnergyInterval is the slower cadence for energy-class attributes, in seconds.
	EnergyInterval int `yaml:"energy_interval"`
}

// RetryConfig contains backoff policy settings shared by poll and command paths.
type RetryConfig struct {
	// MaxAttempts is the consecutive-failure ceiling before a device is
	// reported unavailable (polls) or a command gives up.
	MaxAttempts int `yaml:"max_attempts"`

	// BackoffBase is the first retry delay, in seconds. Doubles per attempt.
	BackoffBase int `yaml:"backoff_base"`

	// BackoffCap limits the exponential growth, in seconds.
	BackoffCap int `yaml:"backoff_cap"`
}

// DatabaseConfig contains SQLite state-history settings.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT event publishing settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains InfluxDB telemetry settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains the diagnostics HTTP server settings.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// A .env file in the working directory is loaded first if present, so local
// development secrets never need to live in config.yaml.
//
// Environment variables follow the pattern: CLOUDSYNC_SECTION_KEY
// For example: CLOUDSYNC_CLOUD_PASSWORD, CLOUDSYNC_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Best-effort .env load; absence is not an error
	_ = godotenv.Load()

	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Cloud: CloudConfig{
			PerCallTimeout: 10,
			RateLimit: RateLimitConfig{
				Capacity:        5,
				RefillPerSecond: 1,
				CommandReserve:  2,
			},
		},
		Credentials: CredentialsConfig{
			TokenSafetyMargin: 60,
		},
		Poll: PollConfig{
			Interval:       60,
			CycleDeadline:  45,
			EnergyInterval: 21600,
		},
		Retry: RetryConfig{
			MaxAttempts: 5,
			BackoffBase: 2,
			BackoffCap:  300,
		},
		Database: DatabaseConfig{
			Path:        "./data/cloudsync.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "cloudsync-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8093,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: CLOUDSYNC_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Cloud
	if v := os.Getenv("CLOUDSYNC_CLOUD_BASE_URL"); v != "" {
		cfg.Cloud.BaseURL = v
	}
	if v := os.Getenv("CLOUDSYNC_CLOUD_USERNAME"); v != "" {
		cfg.Credentials.Username = v
	}
	if v := os.Getenv("CLOUDSYNC_CLOUD_PASSWORD"); v != "" {
		cfg.Credentials.Password = v
	}

	// Poll
	if v := os.Getenv("CLOUDSYNC_POLL_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Poll.Interval = n
		}
	}

	// Database
	if v := os.Getenv("CLOUDSYNC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("CLOUDSYNC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("CLOUDSYNC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("CLOUDSYNC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("CLOUDSYNC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Cloud.BaseURL == "" {
		errs = append(errs, "cloud.base_url is required")
	} else if !strings.HasPrefix(c.Cloud.BaseURL, "http://") && !strings.HasPrefix(c.Cloud.BaseURL, "https://") {
		errs = append(errs, "cloud.base_url must be an http(s) URL")
	}
	if c.Cloud.PerCallTimeout < 1 {
		errs = append(errs, "cloud.per_call_timeout must be at least 1 second")
	}
	if c.Cloud.RateLimit.Capacity < 1 {
		errs = append(errs, "cloud.rate_limit.capacity must be at least 1")
	}
	if c.Cloud.RateLimit.RefillPerSecond <= 0 {
		errs = append(errs, "cloud.rate_limit.refill_per_second must be positive")
	}
	if c.Cloud.RateLimit.CommandReserve < 0 {
		errs = append(errs, "cloud.rate_limit.command_reserve must not be negative")
	}

	if c.Credentials.Username == "" {
		errs = append(errs, "credentials.username is required (or set CLOUDSYNC_CLOUD_USERNAME)")
	}
	if c.Credentials.Password == "" {
		errs = append(errs, "credentials.password is required (set CLOUDSYNC_CLOUD_PASSWORD)")
	}

	// Clamp rather than reject: a low interval is a tuning mistake,
	// not a broken deployment.
	if c.Poll.Interval < minPollInterval {
		c.Poll.Interval = minPollInterval
	}
	if c.Poll.CycleDeadline < 1 {
		errs = append(errs, "poll.cycle_deadline must be at least 1 second")
	}
	if c.Poll.CycleDeadline > c.Poll.Interval {
		errs = append(errs, "poll.cycle_deadline must not exceed poll.interval")
	}

	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, "retry.max_attempts must be at least 1")
	}
	if c.Retry.BackoffBase < 1 {
		errs = append(errs, "retry.backoff_base must be at least 1 second")
	}
	if c.Retry.BackoffCap < c.Retry.BackoffBase {
		errs = append(errs, "retry.backoff_cap must be at least retry.backoff_base")
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when database.enabled")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// PerCallTimeout returns the per-call timeout as a Duration.
func (c *Config) PerCallTimeout() time.Duration {
	return time.Duration(c.Cloud.PerCallTimeout) * time.Second
}

// PollInterval returns the poll cycle interval as a Duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Poll.Interval) * time.Second
}

// CycleDeadline returns the per-cycle deadline as a Duration.
func (c *Config) CycleDeadline() time.Duration {
	return time.Duration(c.Poll.CycleDeadline) * time.Second
}

// EnergyInterval returns the energy refresh cadence as a Duration.
func (c *Config) EnergyInterval() time.Duration {
	return time.Duration(c.Poll.EnergyInterval) * time.Second
}

// TokenSafetyMargin returns the token refresh safety margin as a Duration.
func (c *Config) TokenSafetyMargin() time.Duration {
	return time.Duration(c.Credentials.TokenSafetyMargin) * time.Second
}

// BackoffBase returns the first retry delay as a Duration.
func (c *Config) BackoffBase() time.Duration {
	return time.Duration(c.Retry.BackoffBase) * time.Second
}

// BackoffCap returns the retry delay ceiling as a Duration.
func (c *Config) BackoffCap() time.Duration {
	return time.Duration(c.Retry.BackoffCap) * time.Second
}
