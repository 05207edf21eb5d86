// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

package api

import (
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/language"

	"github.com/tomtom215/letterbox/internal/auth"
	"github.com/tomtom215/letterbox/internal/config"
	"github.com/tomtom215/letterbox/internal/hooks"
	"github.com/tomtom215/letterbox/internal/i18n"
	"github.com/tomtom215/letterbox/internal/ingest"
	"github.com/tomtom215/letterbox/internal/registry"
	"github.com/tomtom215/letterbox/internal/status"
)

// Dashboard query parameters.
const (
	ParamDevice     = "dev_id"
	ParamDetails    = "details"
	ParamAutoReload = "autoreload"
	ParamLang       = "lang"
)

// Deps are the components served by the handler.
type Deps struct {
	Config   *config.Config
	Ingest   *ingest.Service
	Registry *registry.Registry
	Store    *status.Store
	Hooks    *hooks.Registry
	// Auth is nil when dashboard authentication is disabled.
	Auth *auth.Authenticator
	// Delay defaults to the delays of Config.Auth.
	Delay  *auth.Delayer
	Logger *zerolog.Logger
}

// Handler serves uplinks, auth actions and the dashboard.
type Handler struct {
	cfg         *config.Config
	ingest      *ingest.Service
	registry    *registry.Registry
	store       *status.Store
	hooks       *hooks.Registry
	auth        *auth.Authenticator
	delay       *auth.Delayer
	logger      zerolog.Logger
	defaultLang language.Tag
	pages       *pages
	now         func() time.Time
	startTime   time.Time
}

// NewHandler returns a handler for d.
func NewHandler(d Deps) *Handler {
	delay := d.Delay
	if delay == nil {
		delay = auth.NewDelayer(d.Config.Auth.SuccessJitter, d.Config.Auth.FailureDelay, d.Config.Auth.FailureJitter)
	}
	hk := d.Hooks
	if hk == nil {
		hk = hooks.NewRegistry()
	}
	lang, ok := i18n.Parse(d.Config.Server.DefaultLanguage)
	if !ok {
		lang = language.English
	}
	logger := zerolog.Nop()
	if d.Logger != nil {
		logger = d.Logger.With().Str("component", "api").Logger()
	}
	return &Handler{
		cfg:         d.Config,
		ingest:      d.Ingest,
		registry:    d.Registry,
		store:       d.Store,
		hooks:       hk,
		auth:        d.Auth,
		delay:       delay,
		logger:      logger,
		defaultLang: lang,
		pages:       mustParsePages(),
		now:         time.Now,
		startTime:   time.Now(),
	}
}

// SetClock overrides the time source of the dashboard.
func (h *Handler) SetClock(now func() time.Time) {
	h.now = now
}

func isForm(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return false
	}
	return mt == "application/x-www-form-urlencoded" || mt == "multipart/form-data"
}

// newRequest builds the per-request hook context.
func (h *Handler) newRequest(r *http.Request) *hooks.Request {
	q := r.URL.Query()
	tag := i18n.Match(r.Header.Get("Accept-Language"), h.defaultLang)
	if code := q.Get(ParamLang); code != "" {
		if t, ok := i18n.Parse(code); ok {
			tag = t
		}
	}
	return &hooks.Request{
		HTTP:         r,
		Query:        q,
		Printer:      i18n.NewPrinter(tag),
		Mobile:       isMobile(r.UserAgent()),
		AuthRequired: h.auth != nil,
	}
}

func isMobile(userAgent string) bool {
	ua := strings.ToLower(userAgent)
	for _, s := range []string{"mobi", "android", "iphone", "ipad"} {
		if strings.Contains(ua, s) {
			return true
		}
	}
	return false
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
