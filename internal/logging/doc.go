// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

// Package logging provides centralized zerolog-based logging for Letterbox.
//
// # Quick Start
//
//	logging.Init(logging.Config{Level: "info", Format: "json"})
//
//	logging.Info().Str("device_id", id).Msg("Device registered")
//	logging.Error().Err(err).Msg("Status write failed")
//
//	// With request context (request and device IDs)
//	logging.Ctx(ctx).Warn().Msg("Serial mismatch")
//
// Authentication events go through SecurityLogger, which masks usernames,
// tokens and recipient addresses before they are written.
//
// Always terminate log chains with .Msg() or .Send():
//
//	logging.Info().Str("key", "value").Msg("message")  // Correct
//	logging.Info().Str("key", "value")                 // WRONG - log not emitted
package logging
