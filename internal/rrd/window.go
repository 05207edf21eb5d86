// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

package rrd

import (
	"net/url"
	"strconv"
	"time"
)

// Query parameters.
const (
	ParamEnable = "rrd"
	ParamRange  = "rrdRange"
	ParamShift  = "rrdShift"
	ParamZoom   = "rrdZoom"
)

const maxZoom = 8

type rangeDef struct {
	name   string
	label  string
	span   time.Duration
	step   time.Duration
	layout string
}

var ranges = []rangeDef{
	{"day", "Day", 24 * time.Hour, 10 * time.Minute, "15:04"},
	{"week", "Week", 7 * 24 * time.Hour, time.Hour, "Mon 15h"},
	{"month", "Month", 30 * 24 * time.Hour, 6 * time.Hour, "Jan 2"},
	{"year", "Year", 365 * 24 * time.Hour, 24 * time.Hour, "Jan 2006"},
}

// window is the time span selected by the query.
type window struct {
	rng   rangeDef
	shift int
	zoom  int
}

func parseWindow(q url.Values) window {
	w := window{rng: ranges[0], zoom: 1}
	for _, r := range ranges {
		if r.name == q.Get(ParamRange) {
			w.rng = r
		}
	}
	if n, err := strconv.Atoi(q.Get(ParamShift)); err == nil && n > 0 && n <= 1000 {
		w.shift = n
	}
	if n, err := strconv.Atoi(q.Get(ParamZoom)); err == nil {
		for z := 2; z <= maxZoom; z *= 2 {
			if n == z {
				w.zoom = z
			}
		}
	}
	return w
}

func (w window) span() time.Duration {
	return w.rng.span / time.Duration(w.zoom)
}

func (w window) step() time.Duration {
	step := w.rng.step / time.Duration(w.zoom)
	if step < time.Minute {
		step = time.Minute
	}
	return step
}

// bounds returns the half-open interval ending shift spans before now.
func (w window) bounds(now time.Time) (from, to time.Time) {
	to = now.Add(-time.Duration(w.shift) * w.span())
	return to.Add(-w.span()), to
}
