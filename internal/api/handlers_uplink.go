// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/tomtom215/letterbox/internal/ingest"
)

// Uplink accepts a TTN uplink notification. The body is limited to
// Ingest.MaxBodyBytes and answered with "OK" once every hook has run.
func (h *Handler) Uplink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := h.cfg.Ingest.MaxBodyBytes
	if limit <= 0 {
		limit = 64 << 10
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		h.delay.Failure(ctx)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, r, http.StatusRequestEntityTooLarge, "", err)
			return
		}
		respondError(w, r, http.StatusBadRequest, "", err)
		return
	}

	secret := ""
	if h.cfg.Ingest.SecretHeader != "" {
		secret = r.Header.Get(h.cfg.Ingest.SecretHeader)
	}
	if _, err := h.ingest.Ingest(ctx, body, secret, remoteIP(r)); err != nil {
		h.delay.Failure(ctx)
		status, text := uplinkStatus(err)
		respondError(w, r, status, text, err)
		return
	}
	h.delay.Success(ctx)
	respondText(w, http.StatusOK, "OK")
}

// uplinkStatus maps an ingestion error to a status code and client text.
// The text never names the failed check.
func uplinkStatus(err error) (int, string) {
	var (
		ve *ingest.ValidationError
		ae *ingest.AuthError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusInternalServerError, "invalid request"
	case errors.As(err, &ae) && ae.Forbidden:
		return http.StatusForbidden, "not accepted"
	case errors.As(err, &ae):
		return http.StatusUnauthorized, "not accepted"
	case errors.Is(err, ingest.ErrBusy):
		return http.StatusServiceUnavailable, "busy"
	default:
		// ConfigurationError, HookError and storage failures
		return http.StatusInternalServerError, "internal error"
	}
}
