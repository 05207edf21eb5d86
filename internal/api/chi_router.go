// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/letterbox/internal/config"
	"github.com/tomtom215/letterbox/internal/middleware"
)

// Router wires the handler into a chi mux.
type Router struct {
	cfg           *config.Config
	handler       *Handler
	chiMiddleware *ChiMiddleware
	// live is the websocket upgrade handler, nil when disabled.
	live http.Handler
}

// NewRouter returns a router for handler. live may be nil.
func NewRouter(cfg *config.Config, handler *Handler, live http.Handler) *Router {
	return &Router{
		cfg:           cfg,
		handler:       handler,
		chiMiddleware: NewChiMiddleware(ChiMiddlewareConfigFrom(cfg)),
		live:          live,
	}
}

// SetupChi builds the route tree.
func (router *Router) SetupChi() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(router.chiMiddleware.CORS())
	r.Use(chimiddleware.GetHead)

	r.Get("/healthz", router.handler.Health)
	if router.cfg.Server.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	if router.live != nil {
		r.With(middleware.PrometheusMetrics).Get("/ws", router.live.ServeHTTP)
	}

	root := router.root()
	r.Group(func(r chi.Router) {
		r.Use(middleware.PrometheusMetrics)
		r.Use(SecurityHeaders())
		if router.cfg.Server.RequestTimeout > 0 {
			r.Use(chimiddleware.Timeout(router.cfg.Server.RequestTimeout))
		}
		r.Get("/", root)
		r.Post("/", root)
		// Under CGI the path is the script name; every other path serves
		// the same endpoint.
		r.NotFound(root)
	})

	return r
}

// root dispatches the single endpoint by method and body type. Form posts
// are rate limited per client.
func (router *Router) root() http.HandlerFunc {
	h := router.handler
	action := router.chiMiddleware.RateLimitLogin()(http.HandlerFunc(h.Action))
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead:
			h.Dashboard(w, r)
		case http.MethodPost:
			if isForm(r) {
				action.ServeHTTP(w, r)
				return
			}
			h.Uplink(w, r)
		default:
			w.Header().Set("Allow", "GET, HEAD, POST")
			respondError(w, r, http.StatusMethodNotAllowed, "", nil)
		}
	}
}
