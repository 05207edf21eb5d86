// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/tomtom215/letterbox/internal/logging"
)

// Content types of dashboard responses.
const (
	contentHTML  = "text/html"
	contentPlain = "text/plain"
	contentJSON  = "application/json"
)

func respondText(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", contentPlain+"; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(text + "\n"))
}

func respondJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "", err)
		return
	}
	w.Header().Set("Content-Type", contentJSON)
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Ctx(r.Context()).Debug().Err(err).Msg("Failed to write JSON response")
	}
}

// respondError writes a plain-text reason and logs the internal cause,
// which is never sent to the client. An empty text uses the status text.
func respondError(w http.ResponseWriter, r *http.Request, status int, text string, err error) {
	if text == "" {
		text = http.StatusText(status)
	}
	if err != nil {
		event := logging.Ctx(r.Context()).Warn()
		if status >= http.StatusInternalServerError {
			event = logging.Ctx(r.Context()).Error()
		}
		event.Int("status", status).Str("error", sanitizeLogValue(err.Error())).Msg("Request failed")
	}
	respondText(w, status, text)
}

// sanitizeLogValue strips line breaks so client-controlled text cannot
// forge log lines.
func sanitizeLogValue(s string) string {
	return strings.NewReplacer("\n", "\\n", "\r", "\\r").Replace(s)
}

// negotiate picks the dashboard content type from an Accept header. The
// highest quality wins; ties keep the order html, json, plain.
func negotiate(accept string) string {
	if accept == "" {
		return contentHTML
	}
	best, bestQ := contentHTML, -1.0
	rank := map[string]int{contentHTML: 0, contentJSON: 1, contentPlain: 2}
	for _, part := range strings.Split(accept, ",") {
		media, q := parseMediaRange(part)
		var candidates []string
		switch media {
		case contentHTML, "application/xhtml+xml":
			candidates = []string{contentHTML}
		case contentJSON:
			candidates = []string{contentJSON}
		case contentPlain:
			candidates = []string{contentPlain}
		case "text/*":
			candidates = []string{contentHTML, contentPlain}
		case "*/*":
			candidates = []string{contentHTML}
		}
		for _, c := range candidates {
			if q > bestQ || (q == bestQ && rank[c] < rank[best]) {
				best, bestQ = c, q
			}
		}
	}
	if bestQ <= 0 {
		return contentHTML
	}
	return best
}

func parseMediaRange(part string) (string, float64) {
	fields := strings.Split(part, ";")
	media := strings.ToLower(strings.TrimSpace(fields[0]))
	q := 1.0
	for _, p := range fields[1:] {
		k, v, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok || strings.TrimSpace(k) != "q" {
			continue
		}
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			q = parsed
		}
	}
	return media, q
}
