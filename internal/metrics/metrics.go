// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

// Package metrics defines the Prometheus collectors. They are registered
// with the default registry and exposed at /metrics in server mode.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "letterbox_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "letterbox_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route"},
	)

	HTTPActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "letterbox_http_active_requests",
			Help: "Current number of in-flight HTTP requests",
		},
	)

	// Ingestion Metrics
	IngestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "letterbox_ingest_total",
			Help: "Uplinks processed by outcome",
		},
		[]string{"outcome"}, // ok, validation, auth, config, hook, storage
	)

	StateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "letterbox_state_transitions_total",
			Help: "Box states recorded by ingestion",
		},
		[]string{"state"},
	)

	HookDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "letterbox_hook_duration_seconds",
			Help:    "Duration of module hook calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"module", "hook"},
	)

	// Notification Metrics
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "letterbox_notifications_total",
			Help: "Notifications by channel and outcome",
		},
		[]string{"channel", "outcome"}, // sent, failed, dryrun, skipped
	)

	// Auth Metrics
	LoginAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "letterbox_login_attempts_total",
			Help: "Login attempts by outcome",
		},
		[]string{"outcome"},
	)

	CaptchaVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "letterbox_captcha_verifications_total",
			Help: "CAPTCHA verifications by provider and outcome",
		},
		[]string{"provider", "outcome"}, // ok, failed, skipped
	)

	// Event Metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "letterbox_events_published_total",
			Help: "Status events published to the message broker",
		},
		[]string{"outcome"},
	)

	WebSocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "letterbox_websocket_clients",
			Help: "Connected live update clients",
		},
	)
)

// RecordHTTPRequest records one served request.
func RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// TrackActiveRequest tracks in-flight requests.
func TrackActiveRequest(inc bool) {
	if inc {
		HTTPActiveRequests.Inc()
	} else {
		HTTPActiveRequests.Dec()
	}
}

// RecordIngest counts an ingestion outcome.
func RecordIngest(outcome string) {
	IngestTotal.WithLabelValues(outcome).Inc()
}

// RecordTransition counts a recorded box state.
func RecordTransition(state string) {
	StateTransitions.WithLabelValues(state).Inc()
}

// ObserveHook records the duration of one hook call.
func ObserveHook(module, hook string, start time.Time) {
	HookDuration.WithLabelValues(module, hook).Observe(time.Since(start).Seconds())
}

// RecordNotification counts a notification outcome for channel.
func RecordNotification(channel, outcome string) {
	NotificationsTotal.WithLabelValues(channel, outcome).Inc()
}

// RecordLogin counts a login attempt outcome.
func RecordLogin(outcome string) {
	LoginAttempts.WithLabelValues(outcome).Inc()
}

// RecordCaptcha counts a CAPTCHA verification outcome.
func RecordCaptcha(provider, outcome string) {
	CaptchaVerifications.WithLabelValues(provider, outcome).Inc()
}

// RecordEventPublish counts a status event publish.
func RecordEventPublish(err error) {
	if err != nil {
		EventsPublished.WithLabelValues("failed").Inc()
		return
	}
	EventsPublished.WithLabelValues("ok").Inc()
}
