// Package config loads and validates the bot's YAML configuration.
package config

import "time"

// Config is the root of the YAML configuration file.
type Config struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Security SecurityConfig `yaml:"security"`
	Events   EventsConfig   `yaml:"events"`
	Ops      OpsConfig      `yaml:"ops"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Log      LogConfig      `yaml:"log"`

	// Admins lists user ids allowed through the admin-allowlist stage.
	// Empty disables that stage entirely.
	Admins []int64 `yaml:"admins"`
}

// TelegramConfig configures the Bot API connection.
type TelegramConfig struct {
	Token          string `yaml:"token"`
	APIURL         string `yaml:"api_url"`
	Mode           string `yaml:"mode"` // "polling" or "webhook"
	PollingTimeout int    `yaml:"polling_timeout"`
	WebhookURL     string `yaml:"webhook_url"`
	WebhookSecret  string `yaml:"webhook_secret"`
}

// SecurityConfig overrides the default security-stage policy. Pointer fields
// distinguish "unset" from an explicit false so overrides merge over the
// package defaults.
type SecurityConfig struct {
	RateLimit           RateLimitConfig `yaml:"rate_limit"`
	ValidateChatTypes   *bool           `yaml:"validate_chat_types"`
	AllowedChatTypes    []string        `yaml:"allowed_chat_types"`
	CheckBotPermissions *bool           `yaml:"check_bot_permissions"`
	RequireAdmin        bool            `yaml:"require_admin"`
	LogEvents           *bool           `yaml:"log_events"`
}

// RateLimitConfig overrides the default limiter parameters.
type RateLimitConfig struct {
	Enabled     *bool         `yaml:"enabled"`
	MaxRequests int           `yaml:"max_requests"`
	Window      time.Duration `yaml:"window"`
	Penalty     time.Duration `yaml:"penalty"`
	Progressive *bool         `yaml:"progressive"`
}

// EventsConfig configures the security event sinks.
type EventsConfig struct {
	// Path receives JSONL events. Empty disables the file sink.
	Path string `yaml:"path"`
	// DBPath is the SQLite event store. Empty disables it.
	DBPath string `yaml:"db_path"`
}

// OpsConfig configures the operational HTTP server (health, metrics, rate
// limit admin, webhook mount).
type OpsConfig struct {
	// Listen is the address for the ops server, e.g. ":8081".
	// Empty disables it (not allowed in webhook mode).
	Listen string `yaml:"listen"`
}

// TracingConfig configures the optional OTLP trace exporter.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// Defaults applies default values to unset fields.
func (c *Config) Defaults() {
	if c.Telegram.Mode == "" {
		c.Telegram.Mode = "polling"
	}
	if c.Telegram.PollingTimeout == 0 {
		c.Telegram.PollingTimeout = 30
	}
	if c.Telegram.APIURL == "" {
		c.Telegram.APIURL = "https://api.telegram.org"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Tracing.Endpoint == "" {
		c.Tracing.Endpoint = "localhost:4318"
	}
}
