// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

package models

import (
	"fmt"
	"strings"
)

// BoxState is the observable state of a letterbox.
type BoxState string

// Box states.
const (
	BoxUnknown BoxState = ""
	BoxEmpty   BoxState = "empty"
	BoxFull    BoxState = "full"
	BoxFilled  BoxState = "filled"
	BoxEmptied BoxState = "emptied"
)

// ParseBoxState parses a sensor-reported state, ignoring case and surrounding space.
func ParseBoxState(s string) (BoxState, error) {
	switch b := BoxState(strings.ToLower(strings.TrimSpace(s))); b {
	case BoxEmpty, BoxFull, BoxFilled, BoxEmptied:
		return b, nil
	default:
		return BoxUnknown, fmt.Errorf("unknown box state %q", s)
	}
}

// IsEdge reports whether b marks a change of the box contents.
func (b BoxState) IsEdge() bool {
	return b == BoxFilled || b == BoxEmptied
}

// IsFullSide reports whether b means the box contains mail.
func (b BoxState) IsFullSide() bool {
	return b == BoxFull || b == BoxFilled
}

// IsEmptySide reports whether b means the box is empty.
func (b BoxState) IsEmptySide() bool {
	return b == BoxEmpty || b == BoxEmptied
}

// Steady returns the steady state on the same side as b.
func (b BoxState) Steady() BoxState {
	switch {
	case b.IsFullSide():
		return BoxFull
	case b.IsEmptySide():
		return BoxEmpty
	default:
		return BoxUnknown
	}
}

// Edge returns the edge state that leads to the side of b.
func (b BoxState) Edge() BoxState {
	switch {
	case b.IsFullSide():
		return BoxFilled
	case b.IsEmptySide():
		return BoxEmptied
	default:
		return BoxUnknown
	}
}

// Code returns a numeric encoding used by time-series storage:
// empty=0, emptied=1, filled=2, full=3, unknown=-1.
func (b BoxState) Code() int {
	switch b {
	case BoxEmpty:
		return 0
	case BoxEmptied:
		return 1
	case BoxFilled:
		return 2
	case BoxFull:
		return 3
	default:
		return -1
	}
}
