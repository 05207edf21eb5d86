// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

// Package ingest accepts uplinks: it authorizes the device, runs the box
// state machine, persists the result and dispatches post-ingestion hooks.
package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/tomtom215/letterbox/internal/config"
	"github.com/tomtom215/letterbox/internal/hooks"
	"github.com/tomtom215/letterbox/internal/logging"
	"github.com/tomtom215/letterbox/internal/metrics"
	"github.com/tomtom215/letterbox/internal/models"
	"github.com/tomtom215/letterbox/internal/registry"
	"github.com/tomtom215/letterbox/internal/status"
	"github.com/tomtom215/letterbox/internal/validation"
)

// Service processes uplinks one device at a time.
type Service struct {
	cfg      config.IngestConfig
	registry *registry.Registry
	store    *status.Store
	locker   *status.Locker
	hooks    *hooks.Registry
	security *logging.SecurityLogger
	now      func() time.Time
}

// NewService wires the ingestion pipeline.
func NewService(cfg config.IngestConfig, reg *registry.Registry, store *status.Store, locker *status.Locker, hk *hooks.Registry) *Service {
	if hk == nil {
		hk = hooks.NewRegistry()
	}
	return &Service{
		cfg:      cfg,
		registry: reg,
		store:    store,
		locker:   locker,
		hooks:    hk,
		security: logging.NewSecurityLogger(),
		now:      time.Now,
	}
}

// SetClock overrides the receipt time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Ingest processes one uplink body. secret is the optional device secret
// from the request header and remoteIP is used for security logging. The
// returned update is complete once all hooks have run.
func (s *Service) Ingest(ctx context.Context, body []byte, secret, remoteIP string) (*models.Update, error) {
	up, err := models.ParseUplink(body)
	if err != nil {
		metrics.RecordIngest("validation")
		return nil, &ValidationError{Err: err}
	}
	if err := validation.ValidateStruct(up); err != nil {
		metrics.RecordIngest("validation")
		return nil, &ValidationError{Err: err}
	}
	ctx = logging.ContextWithDeviceID(ctx, up.DeviceID)

	// Authorization runs before the device lock so rejected uplinks never
	// touch the device directory.
	if _, created, err := s.registry.Authorize(ctx, up.DeviceID, up.HardwareSerial, secret, s.cfg.AutoRegister); err != nil {
		return nil, s.classifyAuth(up, remoteIP, err)
	} else if created {
		logging.Ctx(ctx).Info().Str("hardware_serial", up.HardwareSerial).Msg("Device registered")
	}

	lockCtx := ctx
	if s.cfg.LockTimeout > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, s.cfg.LockTimeout)
		defer cancel()
	}
	unlock, err := s.locker.Lock(lockCtx, up.DeviceID)
	if err != nil {
		metrics.RecordIngest("busy")
		if errors.Is(err, status.ErrLockTimeout) {
			return nil, ErrBusy
		}
		return nil, err
	}
	defer unlock()

	update, err := s.apply(up)
	if err != nil {
		metrics.RecordIngest("storage")
		return nil, err
	}
	metrics.RecordTransition(string(update.Snapshot.State))

	if err := s.hooks.InitDevice(ctx, up.DeviceID); err != nil {
		metrics.RecordIngest("hook")
		return update, &HookError{Err: err}
	}
	if err := s.hooks.StoreData(ctx, update); err != nil {
		metrics.RecordIngest("hook")
		return update, &HookError{Err: err}
	}

	metrics.RecordIngest("ok")
	logging.Ctx(ctx).Debug().
		Str("state", string(update.Snapshot.State)).
		Str("previous", string(update.Previous)).
		Uint32("counter", up.Counter).
		Msg("Uplink accepted")
	return update, nil
}

func (s *Service) classifyAuth(up *models.Uplink, remoteIP string, err error) error {
	switch {
	case errors.Is(err, registry.ErrSerialMismatch), errors.Is(err, registry.ErrBadSecret):
		metrics.RecordIngest("auth")
		s.security.LogDeviceRejected(up.DeviceID, remoteIP, err.Error())
		return &AuthError{Err: err, Forbidden: true}
	case errors.Is(err, registry.ErrUnknownDevice):
		metrics.RecordIngest("auth")
		s.security.LogDeviceRejected(up.DeviceID, remoteIP, err.Error())
		return &AuthError{Err: err}
	default:
		metrics.RecordIngest("config")
		return &ConfigurationError{Err: err}
	}
}

// apply runs the transition and persists snapshot and raw log. The caller
// holds the device lock.
func (s *Service) apply(up *models.Uplink) (*models.Update, error) {
	snap, err := s.store.Load(up.DeviceID)
	if errors.Is(err, status.ErrNotFound) {
		snap = &models.Snapshot{DeviceID: up.DeviceID}
	} else if err != nil {
		return nil, err
	}

	threshold := up.Payload.Threshold
	if v, ok := s.cfg.Threshold(up.DeviceID); ok {
		threshold = &v
	}
	received := s.now().UTC()
	classified := status.Classify(up.State(), up.Payload.Sensor, threshold)
	prev := status.Apply(snap, classified, received)

	snap.LastRaw = up.Raw
	snap.LastReceived = received
	snap.Counter = up.Counter
	snap.Sensor = up.Payload.Sensor
	snap.Threshold = threshold
	snap.TempC = up.Payload.TempC
	snap.Voltage = up.Payload.Voltage
	snap.RSSI, snap.SNR = nil, nil
	if gw, ok := up.BestGateway(); ok {
		rssi, snr := gw.RSSI, gw.SNR
		snap.RSSI, snap.SNR = &rssi, &snr
	}

	if err := s.store.Save(snap); err != nil {
		return nil, err
	}
	if err := s.store.Append(up.DeviceID, models.LogEntry{Received: received, Payload: up.Raw}); err != nil {
		return nil, err
	}
	return &models.Update{
		DeviceID: up.DeviceID,
		Received: received,
		Uplink:   up,
		Snapshot: snap,
		Previous: prev,
	}, nil
}
