// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/tomtom215/letterbox/internal/config"
	"github.com/tomtom215/letterbox/internal/logging"
)

// ChiMiddlewareConfig holds configuration for the chi middleware factories.
type ChiMiddlewareConfig struct {
	CORSAllowedOrigins []string
	CORSAllowedMethods []string
	CORSAllowedHeaders []string
	CORSMaxAge         int

	// LoginRequests per LoginWindow and client IP. Zero disables the limit.
	LoginRequests int
	LoginWindow   time.Duration
}

// ChiMiddlewareConfigFrom derives the middleware settings from cfg. The
// ingestion secret header is allowed for cross-origin posts.
func ChiMiddlewareConfigFrom(cfg *config.Config) *ChiMiddlewareConfig {
	headers := []string{"Content-Type", "Accept", "Accept-Language"}
	if cfg.Ingest.SecretHeader != "" {
		headers = append(headers, cfg.Ingest.SecretHeader)
	}
	return &ChiMiddlewareConfig{
		CORSAllowedOrigins: cfg.Server.CORSOrigins,
		CORSAllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodPost, http.MethodOptions},
		CORSAllowedHeaders: headers,
		CORSMaxAge:         86400,
		LoginRequests:      cfg.Auth.LoginRateLimit,
		LoginWindow:        time.Minute,
	}
}

// ChiMiddleware provides chi-compatible middleware.
type ChiMiddleware struct {
	config *ChiMiddlewareConfig
	cors   func(http.Handler) http.Handler
}

// NewChiMiddleware builds the middleware factories for config.
func NewChiMiddleware(config *ChiMiddlewareConfig) *ChiMiddleware {
	return &ChiMiddleware{
		config: config,
		cors: cors.Handler(cors.Options{
			AllowedOrigins: config.CORSAllowedOrigins,
			AllowedMethods: config.CORSAllowedMethods,
			AllowedHeaders: config.CORSAllowedHeaders,
			MaxAge:         config.CORSMaxAge,
		}),
	}
}

// CORS returns the go-chi/cors handler. Without configured origins it only
// answers preflights negatively.
func (m *ChiMiddleware) CORS() func(http.Handler) http.Handler {
	return m.cors
}

// RateLimitLogin limits form posts per client IP with go-chi/httprate.
func (m *ChiMiddleware) RateLimitLogin() func(http.Handler) http.Handler {
	if m.config.LoginRequests <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		m.config.LoginRequests,
		m.config.LoginWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			logging.Ctx(r.Context()).Warn().Str("ip", r.RemoteAddr).Msg("Login rate limit exceeded")
			respondText(w, http.StatusTooManyRequests, http.StatusText(http.StatusTooManyRequests))
		}),
	)
}

// SecurityHeaders sets the response headers common to every page.
func SecurityHeaders() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "same-origin")
			h.Set("Cache-Control", "no-store")
			next.ServeHTTP(w, r)
		})
	}
}
