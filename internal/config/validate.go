package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
)

// tokenPattern matches the Telegram bot token format: <digits>:<alphanum+dash>.
var tokenPattern = regexp.MustCompile(`^\d+:[A-Za-z0-9_-]+$`)

var validChatTypes = map[string]struct{}{
	"private": {}, "group": {}, "supergroup": {}, "channel": {},
}

// Validate checks field constraints after defaults have been applied.
func Validate(cfg *Config) error {
	if cfg.Telegram.Token == "" {
		return errors.New("config: telegram.token is required")
	}
	if !tokenPattern.MatchString(cfg.Telegram.Token) {
		return errors.New("config: telegram.token format invalid (expected <bot_id>:<hash>)")
	}

	switch cfg.Telegram.Mode {
	case "polling", "webhook":
	default:
		return fmt.Errorf("config: invalid telegram.mode %q (must be \"polling\" or \"webhook\")", cfg.Telegram.Mode)
	}

	if cfg.Telegram.Mode == "webhook" {
		if cfg.Telegram.WebhookURL == "" {
			return errors.New("config: telegram.webhook_url is required when mode is \"webhook\"")
		}
		if cfg.Ops.Listen == "" {
			return errors.New("config: ops.listen is required when mode is \"webhook\" (the webhook mounts there)")
		}
	}

	if u, err := url.Parse(cfg.Telegram.APIURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("config: telegram.api_url must be a valid http/https URL, got %q", cfg.Telegram.APIURL)
	}

	if t := cfg.Telegram.PollingTimeout; t < 0 || t > 50 {
		return fmt.Errorf("config: telegram.polling_timeout must be 0-50, got %d", t)
	}

	if rl := cfg.Security.RateLimit; rl.MaxRequests < 0 || rl.Window < 0 || rl.Penalty < 0 {
		return errors.New("config: security.rate_limit values must not be negative")
	}

	for _, t := range cfg.Security.AllowedChatTypes {
		if _, ok := validChatTypes[t]; !ok {
			return fmt.Errorf("config: unknown chat type %q in security.allowed_chat_types", t)
		}
	}

	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: invalid log.level %q", cfg.Log.Level)
	}

	return nil
}
