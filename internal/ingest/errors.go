// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

package ingest

import "errors"

// ErrBusy is returned when the device lock could not be taken in time.
var ErrBusy = errors.New("device busy")

// ValidationError reports an uplink that could not be parsed or failed
// field validation.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return "invalid uplink: " + e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }

// AuthError reports an uplink whose identity or secret was rejected.
// Forbidden distinguishes a known device presenting bad credentials from an
// unknown one.
type AuthError struct {
	Err       error
	Forbidden bool
}

func (e *AuthError) Error() string { return "uplink rejected: " + e.Err.Error() }
func (e *AuthError) Unwrap() error { return e.Err }

// ConfigurationError reports an installation problem, such as an
// unreadable registry.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string { return "configuration: " + e.Err.Error() }
func (e *ConfigurationError) Unwrap() error { return e.Err }

// HookError reports a failing post-ingestion module. The uplink itself has
// been persisted.
type HookError struct {
	Err error
}

func (e *HookError) Error() string { return "hook: " + e.Err.Error() }
func (e *HookError) Unwrap() error { return e.Err }
