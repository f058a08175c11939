package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for NetNeural Sync Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Service       ServiceConfig       `yaml:"service"`
	Database      DatabaseConfig      `yaml:"database"`
	API           APIConfig           `yaml:"api"`
	WebSocket     WebSocketConfig     `yaml:"websocket"`
	Sync          SyncConfig          `yaml:"sync"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Webhook       WebhookConfig       `yaml:"webhook"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Logging       LoggingConfig       `yaml:"logging"`
	Security      SecurityConfig      `yaml:"security"`
}

// ServiceConfig contains service identity information.
type ServiceConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket event stream settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// SyncConfig contains sync orchestrator settings.
type SyncConfig struct {
	// WorkerCount bounds the number of devices processed concurrently
	// within a single sync run.
	WorkerCount int `yaml:"worker_count"`

	// RunTimeoutMinutes is the deadline for a single sync run. Devices not
	// processed when it expires are recorded as failed with a timeout error.
	RunTimeoutMinutes int `yaml:"run_timeout_minutes"`

	// MaxRunErrors caps the error list stored on a sync run. Further errors
	// increment the failed counter but only set a truncation marker.
	MaxRunErrors int `yaml:"max_run_errors"`

	// PageSize is the page size requested from remote registries.
	PageSize int `yaml:"page_size"`

	// FailureThreshold is the number of consecutive fatal runs after which
	// an integration's status is set to error.
	FailureThreshold int `yaml:"failure_threshold"`
}

// SchedulerConfig contains auto-sync scheduler settings.
type SchedulerConfig struct {
	Enabled             bool `yaml:"enabled"`
	PollIntervalSeconds int  `yaml:"poll_interval_seconds"`

	// LeaseMinutes is how long a claimed schedule is leased before another
	// worker may re-claim it. Should be at least twice the expected run
	// duration so a crashed worker's lease expires naturally.
	LeaseMinutes int `yaml:"lease_minutes"`
}

// WebhookConfig contains inbound webhook processing settings.
type WebhookConfig struct {
	// TimeoutSeconds is the per-request processing deadline, independent of
	// any sync run deadline.
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// RetentionDays is how long processed webhook events are kept for
	// deduplication before pruning.
	RetentionDays int `yaml:"retention_days"`
}

// NotificationsConfig contains notification dispatcher settings.
type NotificationsConfig struct {
	// CooldownMinutes suppresses repeat notifications for the same
	// (device, condition) pair within the window.
	CooldownMinutes int `yaml:"cooldown_minutes"`

	// TimeoutSeconds is the transport timeout for a single send attempt.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// MQTTConfig contains MQTT broker connection settings.
// Built per-integration from integration settings by the MQTT registry
// adapter; there is no global broker.
type MQTTConfig struct {
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

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains service token settings.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: NETNEURAL_SECTION_KEY
// For example: NETNEURAL_DATABASE_PATH, NETNEURAL_API_PORT
func Load(path string) (*Config, error) {
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
		Service: ServiceConfig{
			Name:        "netneural-sync",
			Environment: "development",
		},
		Database: DatabaseConfig{
			Path:        "./data/synccore.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Sync: SyncConfig{
			WorkerCount:       4,
			RunTimeoutMinutes: 10,
			MaxRunErrors:      50,
			PageSize:          100,
			FailureThreshold:  3,
		},
		Scheduler: SchedulerConfig{
			Enabled:             true,
			PollIntervalSeconds: 30,
			LeaseMinutes:        20,
		},
		Webhook: WebhookConfig{
			TimeoutSeconds: 10,
			RetentionDays:  7,
		},
		Notifications: NotificationsConfig{
			CooldownMinutes: 15,
			TimeoutSeconds:  15,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 15,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: NETNEURAL_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("NETNEURAL_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("NETNEURAL_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("NETNEURAL_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	if v := os.Getenv("NETNEURAL_SCHEDULER_ENABLED"); v != "" {
		cfg.Scheduler.Enabled = strings.EqualFold(v, "true") || v == "1"
	}

	if v := os.Getenv("NETNEURAL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Security - JWT secret (IMPORTANT: always override in production)
	if v := os.Getenv("NETNEURAL_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error {
	var errs []string

	if c.Service.Name == "" {
		errs = append(errs, "service.name is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Sync.WorkerCount < 1 {
		errs = append(errs, "sync.worker_count must be at least 1")
	}
	if c.Sync.MaxRunErrors < 1 {
		errs = append(errs, "sync.max_run_errors must be at least 1")
	}
	if c.Sync.FailureThreshold < 1 {
		errs = append(errs, "sync.failure_threshold must be at least 1")
	}

	if c.Scheduler.PollIntervalSeconds < 1 {
		errs = append(errs, "scheduler.poll_interval_seconds must be at least 1")
	}
	if c.Scheduler.LeaseMinutes < 1 {
		errs = append(errs, "scheduler.lease_minutes must be at least 1")
	}

	// Security validation - JWT secret is REQUIRED
	// The API grants control over device catalogues and outbound
	// notifications; weak secrets would allow forged service tokens.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set NETNEURAL_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// RunTimeout returns the sync run deadline as a Duration.
func (c *SyncConfig) RunTimeout() time.Duration {
	return time.Duration(c.RunTimeoutMinutes) * time.Minute
}

// PollInterval returns the scheduler poll interval as a Duration.
func (c *SchedulerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// Lease returns the schedule lease duration.
func (c *SchedulerConfig) Lease() time.Duration {
	return time.Duration(c.LeaseMinutes) * time.Minute
}

// Timeout returns the webhook processing deadline as a Duration.
func (c *WebhookConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Retention returns the webhook event retention window.
func (c *WebhookConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// Cooldown returns the notification cooldown window.
func (c *NotificationsConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownMinutes) * time.Minute
}

// Timeout returns the notification transport timeout.
func (c *NotificationsConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}
