// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

package auth

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dchest/captcha"
	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/letterbox/internal/config"
	"github.com/tomtom215/letterbox/internal/logging"
	"github.com/tomtom215/letterbox/internal/metrics"
)

// CAPTCHA errors
var (
	ErrCaptchaMissing = errors.New("captcha response missing")
	ErrCaptchaFailed  = errors.New("captcha verification failed")
	// ErrCaptchaUnavailable means the verification service could not be
	// asked. Login continues without the check.
	ErrCaptchaUnavailable = errors.New("captcha service unavailable")
)

// CaptchaAnswerField is the form field of the internal image CAPTCHA.
const CaptchaAnswerField = "captcha"

// CaptchaWidget describes what the login form renders for a CAPTCHA.
type CaptchaWidget struct {
	Service   string
	ScriptURL string
	SiteKey   string
	Class     string
	// ImageURI is the inline PNG of the internal CAPTCHA.
	ImageURI template.URL
	// Field is the form field carrying the response.
	Field string
}

// Captcha is a CAPTCHA gate in front of the login.
type Captcha interface {
	Name() string
	// Challenge returns the widget for a new session, together with a hash
	// to bind into the session cookie (empty if none is needed).
	Challenge(issuer *SessionIssuer, tok SessionToken) (CaptchaWidget, string, error)
	// Verify checks the submitted response of a login request.
	Verify(ctx context.Context, r *http.Request, issuer *SessionIssuer, cookie SessionCookieValue, random string) error
}

// NewCaptcha returns the configured gate, or nil when disabled.
func NewCaptcha(cfg config.CaptchaConfig) Captcha {
	switch cfg.Service {
	case config.CaptchaInternal:
		return NewImageCaptcha(cfg.Digits, cfg.Width, cfg.Height)
	case config.CaptchaReCaptcha, config.CaptchaHCaptcha, config.CaptchaTurnstile:
		return NewExternalCaptcha(cfg, nil)
	default:
		return nil
	}
}

type provider struct {
	verifyURL string
	scriptURL string
	field     string
	class     string
}

var providers = map[string]provider{
	config.CaptchaReCaptcha: {
		verifyURL: "https://www.google.com/recaptcha/api/siteverify",
		scriptURL: "https://www.google.com/recaptcha/api.js",
		field:     "g-recaptcha-response",
		class:     "g-recaptcha",
	},
	config.CaptchaHCaptcha: {
		verifyURL: "https://api.hcaptcha.com/siteverify",
		scriptURL: "https://js.hcaptcha.com/1/api.js",
		field:     "h-captcha-response",
		class:     "h-captcha",
	},
	config.CaptchaTurnstile: {
		verifyURL: "https://challenges.cloudflare.com/turnstile/v0/siteverify",
		scriptURL: "https://challenges.cloudflare.com/turnstile/v0/api.js",
		field:     "cf-turnstile-response",
		class:     "cf-turnstile",
	},
}

// ExternalCaptcha verifies tokens of a hosted CAPTCHA service through its
// siteverify endpoint, behind a circuit breaker.
type ExternalCaptcha struct {
	service  string
	siteKey  string
	secret   string
	provider provider
	client   *http.Client
	cb       *gobreaker.CircuitBreaker[bool]
}

// NewExternalCaptcha returns a gate for cfg.Service. A nil client gets one
// with cfg.Timeout.
func NewExternalCaptcha(cfg config.CaptchaConfig, client *http.Client) *ExternalCaptcha {
	p := providers[cfg.Service]
	if cfg.VerifyURL != "" {
		p.verifyURL = cfg.VerifyURL
	}
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	name := "captcha-" + cfg.Service
	cb := gobreaker.NewCircuitBreaker[bool](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("CAPTCHA circuit breaker state change")
		},
	})
	return &ExternalCaptcha{
		service:  cfg.Service,
		siteKey:  cfg.SiteKey,
		secret:   cfg.Secret,
		provider: p,
		client:   client,
		cb:       cb,
	}
}

// Name implements Captcha.
func (c *ExternalCaptcha) Name() string { return c.service }

// Challenge implements Captcha.
func (c *ExternalCaptcha) Challenge(*SessionIssuer, SessionToken) (CaptchaWidget, string, error) {
	return CaptchaWidget{
		Service:   c.service,
		ScriptURL: c.provider.scriptURL,
		SiteKey:   c.siteKey,
		Class:     c.provider.class,
		Field:     c.provider.field,
	}, "", nil
}

type siteverifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
}

// Verify implements Captcha.
func (c *ExternalCaptcha) Verify(ctx context.Context, r *http.Request, _ *SessionIssuer, _ SessionCookieValue, _ string) error {
	response := r.PostFormValue(c.provider.field)
	if response == "" {
		metrics.RecordCaptcha(c.service, "missing")
		return ErrCaptchaMissing
	}

	form := url.Values{"secret": {c.secret}, "response": {response}}
	if ip := clientIP(r); ip != "" {
		form.Set("remoteip", ip)
	}

	var codes []string
	ok, err := c.cb.Execute(func() (bool, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.provider.verifyURL, strings.NewReader(form.Encode()))
		if err != nil {
			return false, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		resp, err := c.client.Do(req)
		if err != nil {
			return false, err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 500 {
			return false, fmt.Errorf("siteverify status %d", resp.StatusCode)
		}
		var body siteverifyResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return false, fmt.Errorf("decode siteverify: %w", err)
		}
		codes = body.ErrorCodes
		return body.Success, nil
	})
	if err != nil {
		metrics.RecordCaptcha(c.service, "unavailable")
		return fmt.Errorf("%w: %v", ErrCaptchaUnavailable, err)
	}
	if !ok {
		metrics.RecordCaptcha(c.service, "failed")
		return fmt.Errorf("%w: %s", ErrCaptchaFailed, strings.Join(codes, ","))
	}
	metrics.RecordCaptcha(c.service, "ok")
	return nil
}

// ImageCaptcha renders distorted digits inline and keeps only a hash of the
// answer, bound to the session nonce, in the session cookie.
type ImageCaptcha struct {
	digits int
	width  int
	height int
}

// NewImageCaptcha returns an internal CAPTCHA. Zero values get defaults.
func NewImageCaptcha(digits, width, height int) *ImageCaptcha {
	if digits <= 0 {
		digits = 6
	}
	if width <= 0 {
		width = captcha.StdWidth
	}
	if height <= 0 {
		height = captcha.StdHeight
	}
	return &ImageCaptcha{digits: digits, width: width, height: height}
}

// Name implements Captcha.
func (c *ImageCaptcha) Name() string { return config.CaptchaInternal }

// Challenge implements Captcha.
func (c *ImageCaptcha) Challenge(issuer *SessionIssuer, tok SessionToken) (CaptchaWidget, string, error) {
	digits := captcha.RandomDigits(c.digits)
	img := captcha.NewImage(tok.Random, digits, c.width, c.height)
	var buf bytes.Buffer
	if _, err := img.WriteTo(&buf); err != nil {
		return CaptchaWidget{}, "", fmt.Errorf("render captcha: %w", err)
	}

	answer := make([]byte, len(digits))
	for i, d := range digits {
		answer[i] = '0' + d
	}
	hash := issuer.CaptchaHash(tok.Issued.Unix(), tok.Random, string(answer))
	uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
	return CaptchaWidget{
		Service:  config.CaptchaInternal,
		ImageURI: template.URL(uri), //nolint:gosec // generated PNG data URI
		Field:    CaptchaAnswerField,
	}, hash, nil
}

// Verify implements Captcha.
func (c *ImageCaptcha) Verify(_ context.Context, r *http.Request, issuer *SessionIssuer, cookie SessionCookieValue, random string) error {
	answer := strings.TrimSpace(r.PostFormValue(CaptchaAnswerField))
	if answer == "" || cookie.CaptchaHash == "" {
		metrics.RecordCaptcha(config.CaptchaInternal, "missing")
		return ErrCaptchaMissing
	}
	if !issuer.VerifyCaptcha(cookie, random, answer) {
		metrics.RecordCaptcha(config.CaptchaInternal, "failed")
		return ErrCaptchaFailed
	}
	metrics.RecordCaptcha(config.CaptchaInternal, "ok")
	return nil
}
