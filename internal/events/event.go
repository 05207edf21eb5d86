// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

// Package events publishes device status updates to a message broker.
//
// Every accepted uplink becomes one StatusEvent on the subject
// <prefix>.<device_id>. Publishing is best effort: a broker outage is
// logged and never fails the ingestion.
package events

import (
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/letterbox/internal/models"
)

// StatusEvent is the message body of a status update.
type StatusEvent struct {
	DeviceID string          `json:"dev_id"`
	State    models.BoxState `json:"state"`
	Previous models.BoxState `json:"previous,omitempty"`
	// Changed is set for filled and emptied transitions.
	Changed  bool      `json:"changed"`
	Received time.Time `json:"received"`
	Counter  uint32    `json:"counter"`
	Sensor   *float64  `json:"sensor,omitempty"`
	TempC    *float64  `json:"tempC,omitempty"`
	Voltage  *float64  `json:"voltage,omitempty"`
	RSSI     *float64  `json:"rssi,omitempty"`
}

// NewStatusEvent builds the event of u. u must carry a snapshot.
func NewStatusEvent(u *models.Update) StatusEvent {
	s := u.Snapshot
	return StatusEvent{
		DeviceID: u.DeviceID,
		State:    s.State,
		Previous: u.Previous,
		Changed:  u.Changed(),
		Received: u.Received,
		Counter:  s.Counter,
		Sensor:   s.Sensor,
		TempC:    s.TempC,
		Voltage:  s.Voltage,
		RSSI:     s.RSSI,
	}
}

// Topic returns the subject for deviceID under prefix.
func Topic(prefix, deviceID string) string {
	return strings.TrimSuffix(prefix, ".") + "." + deviceID
}

// WildcardTopic returns the subject matching every device under prefix.
func WildcardTopic(prefix string) string {
	return strings.TrimSuffix(prefix, ".") + ".*"
}

// Encode serializes ev.
func (ev StatusEvent) Encode() ([]byte, error) {
	return json.Marshal(ev)
}

// Decode parses a message body.
func Decode(data []byte) (StatusEvent, error) {
	var ev StatusEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return StatusEvent{}, fmt.Errorf("decode status event: %w", err)
	}
	if ev.DeviceID == "" {
		return StatusEvent{}, fmt.Errorf("decode status event: missing dev_id")
	}
	return ev, nil
}
