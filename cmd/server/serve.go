// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/cgi"
	"strconv"
	"time"

	"github.com/tomtom215/letterbox/internal/config"
	"github.com/tomtom215/letterbox/internal/logging"
	"github.com/tomtom215/letterbox/internal/supervisor"
	"github.com/tomtom215/letterbox/internal/supervisor/services"
)

const nonceGCInterval = 10 * time.Minute

// runHTTP serves until ctx is cancelled.
func runHTTP(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(cfg, modeHTTP)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing modules")
		}
	}()

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		FailureThreshold: 5,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  cfg.Server.ShutdownTimeout,
	})
	if err != nil {
		return fmt.Errorf("supervisor tree: %w", err)
	}
	a.supervise(tree)

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:           a.handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	errCh := tree.ServeBackground(ctx)
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	if unstopped, _ := tree.UnstoppedServiceReport(); len(unstopped) > 0 {
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}
	logging.Info().Msg("Letterbox stopped gracefully")
	return nil
}

// supervise adds the long-running modules of a to tree.
func (a *app) supervise(tree *supervisor.SupervisorTree) {
	if a.nonces != nil {
		tree.AddDataService(services.NewPeriodicService("nonce-gc", nonceGCInterval, a.nonces.CollectGarbage))
	}
	if a.nats != nil {
		tree.AddMessagingService(a.nats)
	}
	if a.hub != nil {
		tree.AddMessagingService(a.hub)
	}
	if a.relay != nil {
		tree.AddMessagingService(a.relay)
	}
}

// runCGI serves the single request described by the CGI environment.
func runCGI(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(cfg, modeCGI)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing modules")
		}
	}()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.handler.ServeHTTP(w, r.WithContext(ctx))
	})
	if err := cgi.Serve(handler); err != nil {
		return fmt.Errorf("cgi: %w", err)
	}
	return nil
}
