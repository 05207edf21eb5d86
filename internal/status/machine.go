// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

package status

import (
	"time"

	"github.com/tomtom215/letterbox/internal/models"
)

// Classify applies an optional threshold override to a reported state.
// With an override and a sensor reading, sensor >= threshold is full and
// anything below is empty, whatever the label said. An annotated edge label
// survives only if the override agrees with its side.
func Classify(reported models.BoxState, sensor, threshold *float64) models.BoxState {
	if sensor == nil || threshold == nil {
		return reported
	}
	full := *sensor >= *threshold
	if full == reported.IsFullSide() && reported != models.BoxUnknown {
		return reported
	}
	if full {
		return models.BoxFull
	}
	return models.BoxEmpty
}

// Next returns the observable state for a classified report given the
// previous state. An edge is produced only when the side changes; the very
// first report of a device is taken as its steady state unless the sensor
// itself annotated an edge.
func Next(prev, reported models.BoxState) models.BoxState {
	switch {
	case reported == models.BoxUnknown:
		return prev
	case prev == models.BoxUnknown:
		return reported
	case prev.IsFullSide() == reported.IsFullSide():
		return reported.Steady()
	default:
		return reported.Edge()
	}
}

// Apply runs one transition on snap and stamps the edge time. It returns the
// previous state.
func Apply(snap *models.Snapshot, reported models.BoxState, at time.Time) models.BoxState {
	prev := snap.State
	next := Next(prev, reported)
	snap.State = next
	switch next {
	case models.BoxFilled:
		t := at
		snap.LastFilled = &t
	case models.BoxEmptied:
		t := at
		snap.LastEmptied = &t
	}
	return prev
}
