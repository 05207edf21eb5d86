// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

package api

import (
	"net/http"
	"os"
	"time"
)

// HealthStatus is the body of /healthz.
type HealthStatus struct {
	Status  string    `json:"status"`
	Uptime  float64   `json:"uptime_seconds"`
	Modules []string  `json:"modules"`
	Time    time.Time `json:"time"`
	// DataDir reports whether the data directory is reachable.
	DataDir bool `json:"datadir"`
}

// Health reports liveness. It is degraded with 503 while the data directory
// is missing.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	st := HealthStatus{
		Status:  "healthy",
		Uptime:  time.Since(h.startTime).Seconds(),
		Modules: h.hooks.Names(),
		Time:    h.now().UTC(),
	}
	if fi, err := os.Stat(h.cfg.Storage.DataDir); err == nil && fi.IsDir() {
		st.DataDir = true
	}
	code := http.StatusOK
	if !st.DataDir {
		st.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, r, code, st)
}
