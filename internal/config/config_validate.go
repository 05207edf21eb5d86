// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

package config

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Validate checks that required configuration is present and valid
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}

	if err := c.validateStorage(); err != nil {
		return err
	}

	if err := c.validateAuth(); err != nil {
		return err
	}

	if err := c.validateCaptcha(); err != nil {
		return err
	}

	if err := c.validateNotify(); err != nil {
		return err
	}

	if err := c.validateEvents(); err != nil {
		return err
	}

	return c.validateLogging()
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

func (c *Config) validateServer() error {
	switch c.Server.Mode {
	case "auto", "http", "cgi":
	default:
		return invalid("server.mode must be auto, http or cgi, got %q", c.Server.Mode)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return invalid("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	switch c.Server.DefaultLanguage {
	case "en", "de":
	default:
		return invalid("server.default_language must be en or de, got %q", c.Server.DefaultLanguage)
	}
	return nil
}

func (c *Config) validateStorage() error {
	if strings.TrimSpace(c.Storage.DataDir) == "" {
		return invalid("storage.datadir is required")
	}
	if c.Storage.RegistryFile == "" {
		return invalid("storage.registry_file is required")
	}
	if c.Storage.SecretFile == "" {
		return invalid("storage.secret_file is required")
	}
	if c.Ingest.MaxBodyBytes <= 0 {
		return invalid("ingest.max_body_bytes must be positive")
	}
	return nil
}

func (c *Config) validateAuth() error {
	if !c.Auth.Enabled {
		return nil
	}
	if c.Auth.HtpasswdFile == "" {
		return invalid("auth.htpasswd_file is required when auth is enabled")
	}
	if c.Auth.SessionLifetime <= 0 {
		return invalid("auth.session_lifetime must be positive")
	}
	if c.Auth.TokenLifetime <= c.Auth.SessionLifetime {
		return invalid("auth.token_lifetime must exceed auth.session_lifetime")
	}
	switch c.Auth.ReplayStore {
	case "memory", "badger":
	default:
		return invalid("auth.replay_store must be memory or badger, got %q", c.Auth.ReplayStore)
	}
	if c.Auth.FailureDelay < 0 || c.Auth.FailureJitter < 0 || c.Auth.SuccessJitter < 0 {
		return invalid("auth delays must not be negative")
	}
	return nil
}

func (c *Config) validateCaptcha() error {
	switch c.Captcha.Service {
	case CaptchaNone:
		return nil
	case CaptchaInternal:
		if c.Captcha.Digits < 4 || c.Captcha.Digits > 10 {
			return invalid("captcha.digits must be between 4 and 10, got %d", c.Captcha.Digits)
		}
		return nil
	case CaptchaReCaptcha, CaptchaHCaptcha, CaptchaTurnstile:
		if c.Captcha.SiteKey == "" || c.Captcha.Secret == "" {
			return invalid("captcha.sitekey and captcha.secret are required for %s", c.Captcha.Service)
		}
		return nil
	default:
		return invalid("unsupported captcha.service %q", c.Captcha.Service)
	}
}

func (c *Config) validateNotify() error {
	if c.Notify.Email.Enabled {
		if c.Notify.Email.Host == "" {
			return invalid("notify.email.host is required when e-mail is enabled")
		}
		if _, err := mail.ParseAddress(c.Notify.Email.From); err != nil {
			return invalid("notify.email.from is not a valid address: %v", err)
		}
	}
	switch c.Notify.Signal.Bus {
	case "system", "session":
	default:
		return invalid("notify.signal.bus must be system or session, got %q", c.Notify.Signal.Bus)
	}
	if c.Notify.RatePerMinute < 0 {
		return invalid("notify.rate_per_minute must not be negative")
	}
	return nil
}

func (c *Config) validateEvents() error {
	if !c.Events.Enabled {
		return nil
	}
	if c.Events.URL == "" && !c.Events.EmbeddedServer {
		return invalid("events.url is required unless events.embedded_server is set")
	}
	if c.Events.SubjectPrefix == "" {
		return invalid("events.subject_prefix is required")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic", "disabled":
	default:
		return invalid("logging.level %q is not recognized", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return invalid("logging.format must be json or console, got %q", c.Logging.Format)
	}
	return nil
}
