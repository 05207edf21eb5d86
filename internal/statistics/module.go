// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

// Package statistics is the pixel-map module. It counts filled and emptied
// transitions per hour of the week and renders the counts as two heat maps
// with one cell per weekday and hour.
//
// Counts are kept in a side-car file next to the device status. Its cursor
// is the receipt time of the last counted reading, so replays and repeated
// hook calls never count a transition twice.
package statistics

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"html"
	"image"
	"image/color"
	"image/png"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/letterbox/internal/config"
	"github.com/tomtom215/letterbox/internal/hooks"
	"github.com/tomtom215/letterbox/internal/models"
	"github.com/tomtom215/letterbox/internal/status"
)

// ParamEnable is the query flag that shows the maps.
const ParamEnable = "statistics"

const (
	sidecarFile = "statistics.json"
	days        = 7
	hours       = 24
)

// Grid holds one count per weekday, Monday first, and hour.
type Grid [days][hours]int

// Counts is the side-car record.
type Counts struct {
	Cursor  time.Time `json:"cursor"`
	Filled  Grid      `json:"filled"`
	Emptied Grid      `json:"emptied"`
}

// Add counts an edge state received at t in loc and advances the cursor.
// Readings at or before the cursor are ignored and false is returned.
func (c *Counts) Add(state models.BoxState, t time.Time, loc *time.Location) bool {
	if !t.After(c.Cursor) {
		return false
	}
	c.Cursor = t
	local := t.In(loc)
	day := (int(local.Weekday()) + 6) % 7
	switch state {
	case models.BoxFilled:
		c.Filled[day][local.Hour()]++
	case models.BoxEmptied:
		c.Emptied[day][local.Hour()]++
	}
	return true
}

// Module implements hooks.DeviceInitializer, hooks.DataStorer,
// hooks.GraphicsProvider and hooks.ActionProvider.
type Module struct {
	cfg    config.StatisticsConfig
	ingest config.IngestConfig
	store  *status.Store
	logger zerolog.Logger
	loc    *time.Location

	mu sync.Mutex
}

// New returns the statistics module.
func New(logger *zerolog.Logger, cfg config.StatisticsConfig, ingest config.IngestConfig, store *status.Store) *Module {
	if cfg.Scale <= 0 {
		cfg.Scale = 8
	}
	return &Module{
		cfg:    cfg,
		ingest: ingest,
		store:  store,
		logger: logger.With().Str("component", "statistics").Logger(),
		loc:    time.Local,
	}
}

// SetLocation sets the zone used to bucket readings into hours.
func (m *Module) SetLocation(loc *time.Location) {
	m.loc = loc
}

// Name implements hooks.Module.
func (m *Module) Name() string { return "statistics" }

// InitDevice creates the side-car of deviceID from the raw log when it is
// missing.
func (m *Module) InitDevice(_ context.Context, deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.load(deviceID)
	return err
}

// StoreData counts the transition of u.
func (m *Module) StoreData(_ context.Context, u *models.Update) error {
	if !u.Changed() {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, err := m.load(u.DeviceID)
	if err != nil {
		return err
	}
	if !c.Add(u.Snapshot.State, u.Received, m.loc) {
		return nil
	}
	return m.save(u.DeviceID, c)
}

// Load returns the counts of deviceID, building them from the raw log when
// no side-car exists.
func (m *Module) Load(deviceID string) (*Counts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load(deviceID)
}

func (m *Module) path(deviceID string) (string, error) {
	dir, err := m.store.DeviceDir(deviceID)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, sidecarFile), nil
}

func (m *Module) load(deviceID string) (*Counts, error) {
	path, err := m.path(deviceID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return m.backfill(deviceID)
	case err != nil:
		return nil, fmt.Errorf("read statistics: %w", err)
	}
	var c Counts
	if err := json.Unmarshal(data, &c); err != nil {
		m.logger.Warn().Err(err).Str("device_id", deviceID).Msg("Corrupt statistics file, rebuilding from raw log")
		return m.backfill(deviceID)
	}
	return &c, nil
}

func (m *Module) backfill(deviceID string) (*Counts, error) {
	var override *float64
	if v, ok := m.ingest.Threshold(deviceID); ok {
		override = &v
	}
	c := &Counts{}
	edges := 0
	err := m.store.History(deviceID, time.Time{}, override, func(e status.HistoryEntry) error {
		if c.Add(e.State, e.Received, m.loc) && e.State.IsEdge() {
			edges++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", deviceID, err)
	}
	if c.Cursor.IsZero() {
		return c, nil
	}
	if err := m.save(deviceID, c); err != nil {
		return nil, err
	}
	m.logger.Info().Str("device_id", deviceID).Int("edges", edges).Msg("Built statistics from raw log")
	return c, nil
}

func (m *Module) save(deviceID string, c *Counts) error {
	path, err := m.path(deviceID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create device directory: %w", err)
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode statistics: %w", err)
	}
	return status.WriteFileAtomic(path, data, 0o640)
}

// Graphics implements hooks.GraphicsProvider.
func (m *Module) Graphics(_ context.Context, req *hooks.Request, deviceID string) ([]hooks.Graphic, error) {
	if req.Query.Get(ParamEnable) != "on" || !req.Permitted(deviceID) {
		return nil, nil
	}
	c, err := m.Load(deviceID)
	if err != nil {
		return nil, err
	}
	scale := m.cfg.Scale
	if req.Mobile && scale > 2 {
		scale /= 2
	}

	maps := []struct {
		label string
		grid  *Grid
		tint  color.RGBA
	}{
		{req.Printer.T("Filled by hour of week"), &c.Filled, color.RGBA{R: 0x2c, G: 0xa0, B: 0x2c, A: 0xff}},
		{req.Printer.T("Emptied by hour of week"), &c.Emptied, color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff}},
	}
	out := make([]hooks.Graphic, 0, len(maps))
	for _, pm := range maps {
		uri, err := renderGrid(pm.grid, scale, pm.tint)
		if err != nil {
			return nil, err
		}
		out = append(out, hooks.Graphic{
			Label: pm.label,
			HTML: fmt.Sprintf(`<img src="%s" width="%d" height="%d" alt="%s" style="image-rendering:pixelated">`,
				uri, hours*scale, days*scale, html.EscapeString(pm.label)),
		})
	}
	return out, nil
}

// renderGrid draws grid as a PNG data URI. Cell intensity is linear in the
// count relative to the largest count.
func renderGrid(grid *Grid, scale int, tint color.RGBA) (string, error) {
	peak := 0
	for d := range grid {
		for h := range grid[d] {
			if grid[d][h] > peak {
				peak = grid[d][h]
			}
		}
	}

	img := image.NewRGBA(image.Rect(0, 0, hours*scale, days*scale))
	for d := 0; d < days; d++ {
		for h := 0; h < hours; h++ {
			c := color.RGBA{R: 0xf4, G: 0xf4, B: 0xf4, A: 0xff}
			if n := grid[d][h]; n > 0 {
				c = blend(c, tint, float64(n)/float64(peak))
			}
			for y := d * scale; y < (d+1)*scale; y++ {
				for x := h * scale; x < (h+1)*scale; x++ {
					img.SetRGBA(x, y, c)
				}
			}
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode pixel map: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func blend(from, to color.RGBA, f float64) color.RGBA {
	mix := func(a, b uint8) uint8 { return uint8(float64(a) + (float64(b)-float64(a))*f) }
	return color.RGBA{R: mix(from.R, to.R), G: mix(from.G, to.G), B: mix(from.B, to.B), A: 0xff}
}

// HTMLActions implements hooks.ActionProvider.
func (m *Module) HTMLActions(req *hooks.Request) []hooks.Action {
	p := req.Printer
	if req.Query.Get(ParamEnable) == "on" {
		return []hooks.Action{{Label: p.T("Statistics") + ": " + p.T("on"), URL: req.Link(ParamEnable, "off"), Active: true}}
	}
	return []hooks.Action{{Label: p.T("Statistics") + ": " + p.T("off"), URL: req.Link(ParamEnable, "on")}}
}
