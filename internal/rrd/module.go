// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

// Package rrd is the time-series chart module. Every uplink becomes one
// point in a per-device DuckDB file, and the detail view renders sensor,
// box state and temperature charts for the selected window.
package rrd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	chart "github.com/wcharczuk/go-chart/v2"

	"github.com/tomtom215/letterbox/internal/config"
	"github.com/tomtom215/letterbox/internal/hooks"
	"github.com/tomtom215/letterbox/internal/models"
	"github.com/tomtom215/letterbox/internal/status"
	"github.com/tomtom215/letterbox/internal/timeseries"
)

const (
	openAttempts = 20
	openBackoff  = 50 * time.Millisecond
)

// Module implements hooks.DeviceInitializer, hooks.DataStorer,
// hooks.GraphicsProvider and hooks.ActionProvider.
type Module struct {
	cfg    config.RRDConfig
	ingest config.IngestConfig
	store  *status.Store
	logger zerolog.Logger
	now    func() time.Time

	mu  sync.Mutex
	dbs map[string]*timeseries.Store
}

// New returns the chart module. Databases live in the device directories
// of store.
func New(logger *zerolog.Logger, cfg config.RRDConfig, ingest config.IngestConfig, store *status.Store) *Module {
	if cfg.Width <= 0 {
		cfg.Width = 640
	}
	if cfg.Height <= 0 {
		cfg.Height = 200
	}
	if cfg.Database == "" {
		cfg.Database = "rrd.duckdb"
	}
	return &Module{
		cfg:    cfg,
		ingest: ingest,
		store:  store,
		logger: logger.With().Str("component", "rrd").Logger(),
		now:    time.Now,
		dbs:    make(map[string]*timeseries.Store),
	}
}

// SetClock replaces the time source.
func (m *Module) SetClock(now func() time.Time) {
	m.now = now
}

// Name implements hooks.Module.
func (m *Module) Name() string { return "rrd" }

// InitDevice opens the database of deviceID and backfills it from the raw
// log when it holds no points.
func (m *Module) InitDevice(ctx context.Context, deviceID string) error {
	_, err := m.db(ctx, deviceID)
	return err
}

// StoreData records the snapshot of u.
func (m *Module) StoreData(ctx context.Context, u *models.Update) error {
	if u.Snapshot == nil {
		return nil
	}
	db, err := m.db(ctx, u.DeviceID)
	if err != nil {
		return err
	}
	s := u.Snapshot
	return db.Insert(ctx, timeseries.Point{
		Time:      u.Received,
		State:     s.State,
		Sensor:    s.Sensor,
		Threshold: s.Threshold,
		TempC:     s.TempC,
		Voltage:   s.Voltage,
		RSSI:      s.RSSI,
		SNR:       s.SNR,
	})
}

// db returns the open database of deviceID, opening and backfilling it on
// first use.
func (m *Module) db(ctx context.Context, deviceID string) (*timeseries.Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if db, ok := m.dbs[deviceID]; ok {
		return db, nil
	}

	path := m.cfg.Database
	if path != ":memory:" {
		dir, err := m.store.DeviceDir(deviceID)
		if err != nil {
			return nil, err
		}
		path = filepath.Join(dir, m.cfg.Database)
	}
	db, err := openRetry(ctx, path)
	if err != nil {
		return nil, err
	}
	n, err := db.Count(ctx)
	if err == nil && n == 0 {
		err = m.backfill(ctx, db, deviceID)
	}
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	m.dbs[deviceID] = db
	return db, nil
}

// openRetry opens path, waiting while another process holds the file lock.
func openRetry(ctx context.Context, path string) (*timeseries.Store, error) {
	var lastErr error
	for i := 0; i < openAttempts; i++ {
		db, err := timeseries.Open(ctx, path)
		if err == nil {
			return db, nil
		}
		lastErr = err
		if !strings.Contains(strings.ToLower(err.Error()), "lock") {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(openBackoff):
		}
	}
	return nil, lastErr
}

func (m *Module) backfill(ctx context.Context, db *timeseries.Store, deviceID string) error {
	var override *float64
	if v, ok := m.ingest.Threshold(deviceID); ok {
		override = &v
	}
	var batch []timeseries.Point
	err := m.store.History(deviceID, time.Time{}, override, func(e status.HistoryEntry) error {
		p := timeseries.Point{
			Time:      e.Received,
			State:     e.State,
			Sensor:    e.Uplink.Payload.Sensor,
			Threshold: e.Threshold,
			TempC:     e.Uplink.Payload.TempC,
			Voltage:   e.Uplink.Payload.Voltage,
		}
		if gw, ok := e.Uplink.BestGateway(); ok {
			rssi, snr := gw.RSSI, gw.SNR
			p.RSSI, p.SNR = &rssi, &snr
		}
		batch = append(batch, p)
		return nil
	})
	if err != nil {
		return fmt.Errorf("replay %s: %w", deviceID, err)
	}
	if len(batch) == 0 {
		return nil
	}
	if err := db.InsertBatch(ctx, batch); err != nil {
		return err
	}
	m.logger.Info().Str("device_id", deviceID).Int("points", len(batch)).Msg("Backfilled chart database from raw log")
	return nil
}

// Graphics implements hooks.GraphicsProvider.
func (m *Module) Graphics(ctx context.Context, req *hooks.Request, deviceID string) ([]hooks.Graphic, error) {
	if req.Query.Get(ParamEnable) != "on" || !req.Permitted(deviceID) {
		return nil, nil
	}
	db, err := m.db(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	w := parseWindow(req.Query)
	from, to := w.bounds(m.now().UTC())
	buckets, err := db.Buckets(ctx, from, to, w.step())
	if err != nil {
		return nil, err
	}

	p := req.Printer
	r := renderer{width: m.cfg.Width, height: m.cfg.Height}
	if req.Mobile {
		r.width = m.cfg.Width / 2
	}
	zero, hundred := 0.0, 100.0

	charts := []struct {
		label string
		yr    func([]series) *chart.ContinuousRange
		// placeholder renders a no-data note instead of skipping the chart.
		placeholder bool
		series      []series
	}{
		{
			label:       p.T("Sensor"),
			placeholder: true,
			yr:          func(s []series) *chart.ContinuousRange { return yRange(s, &zero, &hundred) },
			series: []series{
				collect(p.T("Sensor"), colorSensor, buckets, func(b timeseries.Bucket) *float64 { return b.Sensor }),
				collect(p.T("Threshold"), colorThreshold, buckets, func(b timeseries.Bucket) *float64 { return b.Threshold }),
			},
		},
		{
			label: p.T("Box state"),
			yr:    func([]series) *chart.ContinuousRange { return &chart.ContinuousRange{Min: 0, Max: 1} },
			series: []series{
				collect(p.T("full"), colorState, buckets, func(b timeseries.Bucket) *float64 { v := b.Full; return &v }),
			},
		},
		{
			label: p.T("Temperature"),
			yr:    func(s []series) *chart.ContinuousRange { return yRange(s, nil, nil) },
			series: []series{
				collect(p.T("Temperature")+" °C", colorTemp, buckets, func(b timeseries.Bucket) *float64 { return b.TempC }),
			},
		},
	}

	var out []hooks.Graphic
	for _, c := range charts {
		uri, ok, err := r.render(c.label, w.rng.layout, c.yr, c.series...)
		if err != nil {
			return nil, err
		}
		if !ok {
			if c.placeholder {
				out = append(out, hooks.Graphic{Label: c.label, HTML: "<p>" + p.T("No data") + "</p>"})
			}
			continue
		}
		out = append(out, hooks.Graphic{Label: c.label, HTML: r.img(uri, c.label)})
	}
	return out, nil
}

// HTMLActions implements hooks.ActionProvider.
func (m *Module) HTMLActions(req *hooks.Request) []hooks.Action {
	p := req.Printer
	if req.Query.Get(ParamEnable) != "on" {
		return []hooks.Action{{Label: p.T("Charts") + ": " + p.T("off"), URL: req.Link(ParamEnable, "on")}}
	}

	w := parseWindow(req.Query)
	actions := []hooks.Action{{
		Label:  p.T("Charts") + ": " + p.T("on"),
		URL:    req.Link(ParamEnable, "off", ParamRange, "", ParamShift, "", ParamZoom, ""),
		Active: true,
	}}
	for _, r := range ranges {
		actions = append(actions, hooks.Action{
			Label:  p.T(r.label),
			URL:    req.Link(ParamRange, r.name, ParamShift, ""),
			Active: r.name == w.rng.name,
		})
	}
	actions = append(actions, hooks.Action{Label: p.T("Earlier"), URL: req.Link(ParamShift, strconv.Itoa(w.shift+1))})
	if w.shift > 0 {
		later := ""
		if w.shift > 1 {
			later = strconv.Itoa(w.shift - 1)
		}
		actions = append(actions, hooks.Action{Label: p.T("Later"), URL: req.Link(ParamShift, later)})
	}
	if w.zoom < maxZoom {
		actions = append(actions, hooks.Action{Label: p.T("Zoom") + " +", URL: req.Link(ParamZoom, strconv.Itoa(w.zoom*2))})
	}
	if w.zoom > 1 {
		out := ""
		if w.zoom > 2 {
			out = strconv.Itoa(w.zoom / 2)
		}
		actions = append(actions, hooks.Action{Label: p.T("Zoom") + " -", URL: req.Link(ParamZoom, out)})
	}
	return actions
}

// Close closes all open databases.
func (m *Module) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for id, db := range m.dbs {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", id, err))
		}
		delete(m.dbs, id)
	}
	return errors.Join(errs...)
}
