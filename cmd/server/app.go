// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/tomtom215/letterbox/internal/api"
	"github.com/tomtom215/letterbox/internal/auth"
	"github.com/tomtom215/letterbox/internal/authz"
	"github.com/tomtom215/letterbox/internal/config"
	"github.com/tomtom215/letterbox/internal/events"
	"github.com/tomtom215/letterbox/internal/hooks"
	"github.com/tomtom215/letterbox/internal/i18n"
	"github.com/tomtom215/letterbox/internal/ingest"
	"github.com/tomtom215/letterbox/internal/logging"
	"github.com/tomtom215/letterbox/internal/notify"
	"github.com/tomtom215/letterbox/internal/registry"
	"github.com/tomtom215/letterbox/internal/rrd"
	"github.com/tomtom215/letterbox/internal/statistics"
	"github.com/tomtom215/letterbox/internal/status"
	ws "github.com/tomtom215/letterbox/internal/websocket"
)

// app is one wired letterbox instance.
type app struct {
	cfg     *config.Config
	handler http.Handler
	hooks   *hooks.Registry

	// Set in http mode only.
	hub    *ws.Hub
	relay  *ws.RelayService
	nats   *events.EmbeddedServer
	nonces *auth.BadgerNonceStore

	closers []io.Closer
}

// newApp wires storage, modules and the router for mode. Long-running
// pieces (hub, relay, embedded NATS, badger) exist only in http mode.
func newApp(cfg *config.Config, mode string) (*app, error) {
	a := &app{cfg: cfg, hooks: hooks.NewRegistry()}
	if err := a.wire(mode); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

//nolint:gocyclo // sequential wiring of optional modules
func (a *app) wire(mode string) error {
	cfg := a.cfg
	logger := logging.Logger()

	store := status.NewStore(cfg.Storage.DataDir)
	reg := registry.Open(cfg.Storage.Path(cfg.Storage.RegistryFile))
	defaultLang, _ := i18n.Parse(cfg.Server.DefaultLanguage)

	var authn *auth.Authenticator
	if cfg.Auth.Enabled {
		var err error
		if authn, err = a.newAuthenticator(mode); err != nil {
			return err
		}
		a.hooks.Register(authn)
	}

	ncfg := cfg.Notify
	ncfg.RecipientsFile = cfg.Storage.Path(ncfg.RecipientsFile)
	if notify.Configured(ncfg) {
		a.hooks.Register(notify.NewDispatcher(&logger, ncfg, defaultLang, notify.NewChannels(ncfg)...))
	}
	if cfg.RRD.Enabled {
		m := rrd.New(&logger, cfg.RRD, cfg.Ingest, store)
		a.closers = append(a.closers, m)
		a.hooks.Register(m)
	}
	if cfg.Statistics.Enabled {
		a.hooks.Register(statistics.New(&logger, cfg.Statistics, cfg.Ingest, store))
	}

	if cfg.Events.Enabled {
		if err := a.wireEvents(mode, &logger); err != nil {
			return err
		}
	}
	if cfg.WebSocket.Enabled && mode == modeHTTP {
		if err := a.wireWebSocket(&logger); err != nil {
			return err
		}
	}

	svc := ingest.NewService(cfg.Ingest, reg, store, status.NewLocker(store), a.hooks)
	handler := api.NewHandler(api.Deps{
		Config:   cfg,
		Ingest:   svc,
		Registry: reg,
		Store:    store,
		Hooks:    a.hooks,
		Auth:     authn,
		Delay:    auth.NewDelayer(cfg.Auth.SuccessJitter, cfg.Auth.FailureDelay, cfg.Auth.FailureJitter),
		Logger:   &logger,
	})

	var live http.Handler
	if a.hub != nil {
		live = ws.Handler(a.hub, principalFunc(authn), cfg.Server.CORSOrigins)
	}
	a.handler = api.NewRouter(cfg, handler, live).SetupChi()

	logging.Info().Strs("modules", a.hooks.Names()).Str("mode", mode).Msg("Modules loaded")
	return nil
}

func (a *app) newAuthenticator(mode string) (*auth.Authenticator, error) {
	cfg := a.cfg
	secret, err := auth.LoadServerSecret(cfg.Storage.Path(cfg.Storage.SecretFile))
	if err != nil {
		return nil, fmt.Errorf("server secret: %w", err)
	}
	enforcer, err := authz.NewEnforcer()
	if err != nil {
		return nil, fmt.Errorf("acl enforcer: %w", err)
	}

	// Concurrent CGI processes cannot share a badger directory.
	var nonces auth.NonceStore
	if cfg.Auth.ReplayStore == "badger" && mode == modeHTTP {
		a.nonces, err = auth.OpenBadgerNonceStore(cfg.Storage.Path(cfg.Auth.ReplayDir))
		if err != nil {
			return nil, err
		}
		nonces = a.nonces
	}

	authn, err := auth.NewAuthenticator(auth.Options{
		Config:      cfg.Auth,
		Secret:      secret,
		Credentials: auth.OpenCredentials(cfg.Storage.Path(cfg.Auth.HtpasswdFile)),
		Enforcer:    enforcer,
		Nonces:      nonces,
		Captcha:     auth.NewCaptcha(cfg.Captcha),
	})
	if err != nil {
		if a.nonces != nil {
			_ = a.nonces.Close()
		}
		return nil, err
	}
	// Closing the authenticator closes its nonce store.
	a.closers = append(a.closers, authn)
	return authn, nil
}

// wireEvents registers the NATS publisher module. In http mode an
// embedded server is started first when configured.
func (a *app) wireEvents(mode string, logger *zerolog.Logger) error {
	ecfg := a.cfg.Events
	if ecfg.EmbeddedServer && mode == modeHTTP {
		ns, err := events.NewEmbeddedServer("127.0.0.1", ecfg.EmbeddedPort)
		if err != nil {
			return err
		}
		a.nats = ns
		ecfg.URL = ns.ClientURL()
	}

	adapter := events.NewLoggerAdapter(*logger)
	pub, err := events.NewNATSPublisher(ecfg, adapter)
	if err != nil {
		// A missing broker only disables events.
		logging.Warn().Err(err).Str("url", ecfg.URL).Msg("Status events disabled")
		return nil
	}
	p := events.NewPublisher(logger, pub, ecfg.SubjectPrefix)
	a.closers = append(a.closers, p)
	a.hooks.Register(p)
	return nil
}

// wireWebSocket creates the live hub. With events enabled the hub is fed
// from NATS, otherwise directly as a data storer.
func (a *app) wireWebSocket(logger *zerolog.Logger) error {
	a.hub = ws.NewHub(logger, a.cfg.Auth.Enabled)
	if !a.cfg.Events.Enabled {
		a.hooks.Register(a.hub)
		return nil
	}

	ecfg := a.cfg.Events
	if a.nats != nil {
		ecfg.URL = a.nats.ClientURL()
	}
	sub, err := events.NewNATSSubscriber(ecfg, events.NewLoggerAdapter(*logger))
	if err != nil {
		logging.Warn().Err(err).Msg("Websocket relay unavailable, feeding hub directly")
		a.hooks.Register(a.hub)
		return nil
	}
	a.closers = append(a.closers, closerFunc(sub.Close))
	a.relay = &ws.RelayService{Hub: a.hub, Subscriber: sub, Topic: events.WildcardTopic(ecfg.SubjectPrefix)}
	return nil
}

// Close releases every module in reverse order of creation.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if a.nats != nil {
		a.nats.Shutdown()
		a.nats = nil
	}
	return errors.Join(errs...)
}

// principalFunc adapts the authenticator for the websocket handler. A nil
// user is returned as a nil interface.
func principalFunc(authn *auth.Authenticator) ws.AuthFunc {
	if authn == nil {
		return nil
	}
	return func(r *http.Request) (hooks.Principal, error) {
		u, err := authn.Authenticate(r)
		if err != nil || u == nil {
			return nil, err
		}
		return u, nil
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
