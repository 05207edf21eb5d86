// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

package status

import (
	"time"

	"github.com/tomtom215/letterbox/internal/models"
)

// HistoryEntry is a raw log entry run through the state machine.
type HistoryEntry struct {
	Received  time.Time
	Uplink    *models.Uplink
	State     models.BoxState
	Threshold *float64
}

// History replays the raw log of deviceID through Classify and Next exactly
// as ingestion did, calling fn for entries received after since. The replay
// always starts at the first entry so edge states come out right. override
// replaces the payload threshold when non-nil. Unparseable payloads are
// skipped.
func (s *Store) History(deviceID string, since time.Time, override *float64, fn func(HistoryEntry) error) error {
	state := models.BoxUnknown
	return s.Replay(deviceID, time.Time{}, func(e models.LogEntry) error {
		up, err := models.ParseUplink(e.Payload)
		if err != nil {
			return nil
		}
		threshold := up.Payload.Threshold
		if override != nil {
			threshold = override
		}
		state = Next(state, Classify(up.State(), up.Payload.Sensor, threshold))
		if !since.IsZero() && !e.Received.After(since) {
			return nil
		}
		return fn(HistoryEntry{Received: e.Received, Uplink: up, State: state, Threshold: threshold})
	})
}
