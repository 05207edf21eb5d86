// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
// The first file found will be used.
var DefaultConfigPaths = []string{
	"letterbox.yaml",
	"letterbox.yml",
	"letterbox.conf",
	"/etc/letterbox/letterbox.yaml",
	"/etc/letterbox/letterbox.conf",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

const extensionPrefix = "ext"

// sliceConfigPaths are keys that may arrive as comma-separated strings.
var sliceConfigPaths = []string{
	"server.cors_origins",
}

// defaultConfig returns a Config struct with all sensible default values.
// These defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Mode:               "auto",
			Host:               "127.0.0.1",
			Port:               8080,
			ReadTimeout:        15 * time.Second,
			WriteTimeout:       30 * time.Second,
			IdleTimeout:        120 * time.Second,
			ShutdownTimeout:    10 * time.Second,
			RequestTimeout:     30 * time.Second,
			Title:              "Letterbox Sensor",
			DefaultLanguage:    "en",
			AutoReloadInterval: 15 * time.Minute,
			MetricsEnabled:     true,
		},
		Storage: StorageConfig{
			DataDir:      "/var/lib/letterbox",
			RegistryFile: "devices.list",
			SecretFile:   "server.uuid",
		},
		Ingest: IngestConfig{
			AutoRegister: false,
			SecretHeader: "X-Letterbox-Secret",
			MaxBodyBytes: 64 << 10,
			LockTimeout:  10 * time.Second,
		},
		Auth: AuthConfig{
			Enabled:         false,
			HtpasswdFile:    "htpasswd",
			SessionLifetime: 5 * time.Minute,
			TokenLifetime:   365 * 24 * time.Hour,
			CookieSecure:    true,
			CookiePath:      "/",
			ReplayStore:     "memory",
			ReplayDir:       "replay",
			SuccessJitter:   250 * time.Millisecond,
			FailureDelay:    2 * time.Second,
			FailureJitter:   time.Second,
			RedirectDelay:   5 * time.Second,
			LoginRateLimit:  10,
		},
		Captcha: CaptchaConfig{
			Service: CaptchaNone,
			Timeout: 5 * time.Second,
			Digits:  6,
			Width:   240,
			Height:  80,
		},
		Notify: NotifyConfig{
			RecipientsFile: "notify.list",
			Timeout:        10 * time.Second,
			RatePerMinute:  30,
			Email: EmailConfig{
				Port:   587,
				UseTLS: true,
			},
			Signal: SignalConfig{
				Bus: "system",
			},
		},
		RRD: RRDConfig{
			Database: "rrd.duckdb",
			Width:    640,
			Height:   200,
		},
		Statistics: StatisticsConfig{
			Scale: 8,
		},
		Events: EventsConfig{
			URL:           "nats://127.0.0.1:4222",
			SubjectPrefix: "letterbox.status",
			EmbeddedPort:  4222,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, the first config file found
// and the environment, in that order of precedence.
func Load() (*Config, error) {
	return LoadFile(findConfigFile())
}

// LoadFile is Load with an explicit config file path. An empty path skips
// the file layer.
func LoadFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	// Layer 1: Load defaults from struct
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: Load config file (optional)
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), parserFor(configPath)); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: Load environment variables (highest priority)
	// LETTERBOX_DATADIR -> storage.datadir
	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	cfg.Extensions = extensions(k)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// parserFor picks the YAML parser for .yaml/.yml files and the flat
// key=value parser for everything else.
func parserFor(path string) koanf.Parser {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser()
	default:
		return KeyValue()
	}
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

func extensions(k *koanf.Koanf) map[string]string {
	out := make(map[string]string)
	if !k.Exists(extensionPrefix) {
		return out
	}
	for key, val := range k.Cut(extensionPrefix).All() {
		out[key] = fmt.Sprint(val)
	}
	return out
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		"letterbox_mode":             "server.mode",
		"letterbox_host":             "server.host",
		"letterbox_port":             "server.port",
		"letterbox_title":            "server.title",
		"letterbox_language":         "server.default_language",
		"letterbox_cors_origins":     "server.cors_origins",
		"letterbox_metrics":          "server.metrics_enabled",
		"letterbox_datadir":          "storage.datadir",
		"letterbox_registry":         "storage.registry_file",
		"letterbox_autoregister":     "ingest.autoregister",
		"letterbox_secret_header":    "ingest.secret_header",
		"letterbox_auth":             "auth.enabled",
		"letterbox_htpasswd":         "auth.htpasswd_file",
		"letterbox_cookie_secure":    "auth.cookie_secure",
		"letterbox_replay_store":     "auth.replay_store",
		"letterbox_captcha":          "captcha.service",
		"letterbox_captcha_sitekey":  "captcha.sitekey",
		"letterbox_captcha_secret":   "captcha.secret",
		"letterbox_recipients":       "notify.recipients_file",
		"letterbox_email":            "notify.email.enabled",
		"letterbox_smtp_host":        "notify.email.host",
		"letterbox_smtp_port":        "notify.email.port",
		"letterbox_smtp_username":    "notify.email.username",
		"letterbox_smtp_password":    "notify.email.password",
		"letterbox_smtp_from":        "notify.email.from",
		"letterbox_signal":           "notify.signal.enabled",
		"letterbox_signal_bus":       "notify.signal.bus",
		"letterbox_signal_account":   "notify.signal.account",
		"letterbox_rrd":              "rrd.enabled",
		"letterbox_rrd_database":     "rrd.database",
		"letterbox_statistics":       "statistics.enabled",
		"letterbox_events":           "events.enabled",
		"letterbox_nats_url":         "events.url",
		"letterbox_nats_embedded":    "events.embedded_server",
		"letterbox_websocket":        "websocket.enabled",
		"log_level":                  "logging.level",
		"log_format":                 "logging.format",
		"log_caller":                 "logging.caller",
		"letterbox_session_lifetime": "auth.session_lifetime",
		"letterbox_token_lifetime":   "auth.token_lifetime",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}

	// Unmapped variables are skipped so that the process environment
	// cannot pollute the configuration.
	return ""
}
