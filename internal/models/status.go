// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

package models

import (
	"time"

	"github.com/goccy/go-json"
)

// Device is a registry entry.
type Device struct {
	ID             string `json:"dev_id"`
	HardwareSerial string `json:"hardware_serial"`
	// PasswordHash is the optional bcrypt hash of the uplink secret.
	PasswordHash string `json:"-"`
}

// Snapshot is the persisted status record of one device.
type Snapshot struct {
	DeviceID     string          `json:"dev_id"`
	State        BoxState        `json:"state"`
	LastRaw      json.RawMessage `json:"last_raw"`
	LastReceived time.Time       `json:"last_received"`
	LastFilled   *time.Time      `json:"last_filled,omitempty"`
	LastEmptied  *time.Time      `json:"last_emptied,omitempty"`
	Counter      uint32          `json:"counter"`
	Sensor       *float64        `json:"sensor,omitempty"`
	Threshold    *float64        `json:"threshold,omitempty"`
	TempC        *float64        `json:"tempC,omitempty"`
	Voltage      *float64        `json:"voltage,omitempty"`
	RSSI         *float64        `json:"rssi,omitempty"`
	SNR          *float64        `json:"snr,omitempty"`
}

// LastChange returns the time of the most recent edge, if any.
func (s *Snapshot) LastChange() (time.Time, bool) {
	switch {
	case s.LastFilled == nil && s.LastEmptied == nil:
		return time.Time{}, false
	case s.LastEmptied == nil:
		return *s.LastFilled, true
	case s.LastFilled == nil:
		return *s.LastEmptied, true
	case s.LastFilled.After(*s.LastEmptied):
		return *s.LastFilled, true
	default:
		return *s.LastEmptied, true
	}
}

// StatusView is a snapshot with durations derived relative to a point in time.
type StatusView struct {
	Snapshot
	SinceReceived time.Duration
	SinceChange   time.Duration
	HasChange     bool
}

// View derives the time since the last reception and the last change relative to now.
func (s *Snapshot) View(now time.Time) StatusView {
	v := StatusView{Snapshot: *s, SinceReceived: now.Sub(s.LastReceived)}
	if t, ok := s.LastChange(); ok {
		v.SinceChange = now.Sub(t)
		v.HasChange = true
	}
	return v
}

// Update is handed to post-ingestion hooks for every accepted uplink.
type Update struct {
	DeviceID string
	Received time.Time
	Uplink   *Uplink
	Snapshot *Snapshot
	// Previous is the state before this update, BoxUnknown for the first one.
	Previous BoxState
}

// Changed reports whether this update produced an edge state.
func (u *Update) Changed() bool {
	return u.Snapshot != nil && u.Snapshot.State.IsEdge()
}

// LogEntry is one line of the raw per-device log.
type LogEntry struct {
	Received time.Time       `json:"received"`
	Payload  json.RawMessage `json:"payload"`
}
