// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomtom215/letterbox/internal/config"
	"github.com/tomtom215/letterbox/internal/logging"
)

const (
	modeHTTP = "http"
	modeCGI  = "cgi"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
		Output:    os.Stderr,
	})

	mode := resolveMode(cfg.Server.Mode, os.Getenv("GATEWAY_INTERFACE"))
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var runErr error
	switch mode {
	case modeCGI:
		runErr = runCGI(ctx, cfg)
	default:
		logging.Info().
			Str("datadir", cfg.Storage.DataDir).
			Bool("auth", cfg.Auth.Enabled).
			Bool("events", cfg.Events.Enabled).
			Bool("websocket", cfg.WebSocket.Enabled).
			Msg("Starting letterbox server")
		runErr = runHTTP(ctx, cfg)
	}
	if runErr != nil {
		stop()
		logging.Fatal().Err(runErr).Str("mode", mode).Msg("Letterbox failed")
	}
}

// resolveMode maps server.mode to http or cgi. "auto" is cgi when the web
// server set GATEWAY_INTERFACE.
func resolveMode(configured, gatewayInterface string) string {
	switch configured {
	case modeHTTP, modeCGI:
		return configured
	default:
		if gatewayInterface != "" {
			return modeCGI
		}
		return modeHTTP
	}
}
