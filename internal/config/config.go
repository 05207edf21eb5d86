// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

package config

import (
	"path/filepath"
	"time"
)

// Config holds all application configuration.
// A Config is built once by Load and must not be modified afterwards.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Storage    StorageConfig    `koanf:"storage"`
	Ingest     IngestConfig     `koanf:"ingest"`
	Auth       AuthConfig       `koanf:"auth"`
	Captcha    CaptchaConfig    `koanf:"captcha"`
	Notify     NotifyConfig     `koanf:"notify"`
	RRD        RRDConfig        `koanf:"rrd"`
	Statistics StatisticsConfig `koanf:"statistics"`
	Events     EventsConfig     `koanf:"events"`
	WebSocket  WebSocketConfig  `koanf:"websocket"`
	Logging    LoggingConfig    `koanf:"logging"`

	// Extensions carries every "ext.*" key verbatim (without the prefix)
	// for modules that are not known to this struct.
	Extensions map[string]string `koanf:"-"`
}

// ServerConfig holds HTTP serving settings.
type ServerConfig struct {
	// Mode selects the serving model: "http" (long-running), "cgi" (one
	// request per process) or "auto" (cgi when GATEWAY_INTERFACE is set).
	Mode               string        `koanf:"mode"`
	Host               string        `koanf:"host"`
	Port               int           `koanf:"port"`
	ReadTimeout        time.Duration `koanf:"read_timeout"`
	WriteTimeout       time.Duration `koanf:"write_timeout"`
	IdleTimeout        time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout    time.Duration `koanf:"shutdown_timeout"`
	RequestTimeout     time.Duration `koanf:"request_timeout"`
	CORSOrigins        []string      `koanf:"cors_origins"`
	Title              string        `koanf:"title"`
	DefaultLanguage    string        `koanf:"default_language"`
	AutoReloadInterval time.Duration `koanf:"autoreload_interval"`
	MetricsEnabled     bool          `koanf:"metrics_enabled"`
}

// StorageConfig holds the flat-file layout.
type StorageConfig struct {
	DataDir      string `koanf:"datadir"`
	RegistryFile string `koanf:"registry_file"`
	SecretFile   string `koanf:"secret_file"`
}

// Path resolves name relative to the data directory unless it is absolute.
func (s StorageConfig) Path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(s.DataDir, name)
}

// IngestConfig holds uplink ingestion settings.
type IngestConfig struct {
	AutoRegister bool   `koanf:"autoregister"`
	SecretHeader string `koanf:"secret_header"`
	MaxBodyBytes int64  `koanf:"max_body_bytes"`
	// Thresholds overrides the sensor-supplied threshold per device id.
	Thresholds  map[string]float64 `koanf:"thresholds"`
	LockTimeout time.Duration      `koanf:"lock_timeout"`
}

// Threshold returns the override threshold for deviceID, if any.
func (i IngestConfig) Threshold(deviceID string) (float64, bool) {
	v, ok := i.Thresholds[deviceID]
	return v, ok
}

// AuthConfig holds the dashboard login settings.
type AuthConfig struct {
	Enabled         bool          `koanf:"enabled"`
	HtpasswdFile    string        `koanf:"htpasswd_file"`
	SessionLifetime time.Duration `koanf:"session_lifetime"`
	TokenLifetime   time.Duration `koanf:"token_lifetime"`
	CookieSecure    bool          `koanf:"cookie_secure"`
	CookiePath      string        `koanf:"cookie_path"`
	// ReplayStore is "memory" or "badger".
	ReplayStore    string        `koanf:"replay_store"`
	ReplayDir      string        `koanf:"replay_dir"`
	SuccessJitter  time.Duration `koanf:"success_jitter"`
	FailureDelay   time.Duration `koanf:"failure_delay"`
	FailureJitter  time.Duration `koanf:"failure_jitter"`
	RedirectDelay  time.Duration `koanf:"redirect_delay"`
	LoginRateLimit int           `koanf:"login_rate_limit"`
}

// Captcha services.
const (
	CaptchaNone      = ""
	CaptchaReCaptcha = "recaptcha"
	CaptchaHCaptcha  = "hcaptcha"
	CaptchaTurnstile = "turnstile"
	CaptchaInternal  = "internal"
)

// CaptchaConfig holds CAPTCHA gate settings.
type CaptchaConfig struct {
	Service   string        `koanf:"service"`
	SiteKey   string        `koanf:"sitekey"`
	Secret    string        `koanf:"secret"`
	VerifyURL string        `koanf:"verify_url"`
	Timeout   time.Duration `koanf:"timeout"`
	Digits    int           `koanf:"digits"`
	Width     int           `koanf:"width"`
	Height    int           `koanf:"height"`
}

// Enabled reports whether a CAPTCHA service is configured.
func (c CaptchaConfig) Enabled() bool {
	return c.Service != CaptchaNone
}

// NotifyConfig holds notification dispatch settings.
type NotifyConfig struct {
	RecipientsFile string        `koanf:"recipients_file"`
	Timeout        time.Duration `koanf:"timeout"`
	RatePerMinute  int           `koanf:"rate_per_minute"`
	Email          EmailConfig   `koanf:"email"`
	Signal         SignalConfig  `koanf:"signal"`
}

// EmailConfig holds SMTP settings.
type EmailConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	From     string `koanf:"from"`
	UseTLS   bool   `koanf:"use_tls"`
}

// SignalConfig holds the signal-cli D-Bus settings.
type SignalConfig struct {
	Enabled bool `koanf:"enabled"`
	// Bus is "system" or "session".
	Bus string `koanf:"bus"`
	// Account selects a signal-cli account in multi-account mode.
	Account string `koanf:"account"`
}

// RRDConfig holds the time-series chart settings.
type RRDConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Database string `koanf:"database"`
	Width    int    `koanf:"width"`
	Height   int    `koanf:"height"`
}

// StatisticsConfig holds the pixel-map history settings.
type StatisticsConfig struct {
	Enabled bool `koanf:"enabled"`
	Scale   int  `koanf:"scale"`
}

// EventsConfig holds NATS status event settings.
type EventsConfig struct {
	Enabled        bool   `koanf:"enabled"`
	URL            string `koanf:"url"`
	SubjectPrefix  string `koanf:"subject_prefix"`
	EmbeddedServer bool   `koanf:"embedded_server"`
	EmbeddedPort   int    `koanf:"embedded_port"`
}

// WebSocketConfig holds live update settings.
type WebSocketConfig struct {
	Enabled bool `koanf:"enabled"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}
