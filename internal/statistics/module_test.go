// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

package statistics

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image/png"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/text/language"

	"github.com/tomtom215/letterbox/internal/config"
	"github.com/tomtom215/letterbox/internal/hooks"
	"github.com/tomtom215/letterbox/internal/i18n"
	"github.com/tomtom215/letterbox/internal/logging"
	"github.com/tomtom215/letterbox/internal/models"
	"github.com/tomtom215/letterbox/internal/status"
)

// monday is Monday 2024-05-06 08:00 UTC.
var monday = time.Date(2024, 5, 6, 8, 0, 0, 0, time.UTC)

func logBox(t *testing.T, store *status.Store, at time.Time, box string) {
	t.Helper()
	body := fmt.Sprintf(`{"dev_id":"sensorA","hardware_serial":"0004A30B001C0530","payload_fields":{"box":%q}}`, box)
	if err := store.Append("sensorA", models.LogEntry{Received: at, Payload: json.RawMessage(body)}); err != nil {
		t.Fatal(err)
	}
}

func newTestModule(t *testing.T) (*Module, *status.Store) {
	t.Helper()
	logger := logging.NewTestLogger(io.Discard)
	store := status.NewStore(t.TempDir())
	m := New(&logger, config.StatisticsConfig{Enabled: true, Scale: 4}, config.IngestConfig{}, store)
	m.SetLocation(time.UTC)
	return m, store
}

func TestCounts_Add(t *testing.T) {
	t.Parallel()

	var c Counts
	if !c.Add(models.BoxFilled, monday, time.UTC) {
		t.Fatal("Add() = false for the first reading")
	}
	if c.Add(models.BoxFilled, monday, time.UTC) {
		t.Error("Add() = true for a reading at the cursor")
	}
	c.Add(models.BoxFull, monday.Add(time.Hour), time.UTC)
	c.Add(models.BoxEmptied, monday.Add(6*24*time.Hour+15*time.Hour), time.UTC)

	if c.Filled[0][8] != 1 {
		t.Errorf("Filled[Mon][08] = %d, want 1", c.Filled[0][8])
	}
	if c.Emptied[6][23] != 1 {
		t.Errorf("Emptied[Sun][23] = %d, want 1", c.Emptied[6][23])
	}
	if want := monday.Add(6*24*time.Hour + 15*time.Hour); !c.Cursor.Equal(want) {
		t.Errorf("Cursor = %v, want %v", c.Cursor, want)
	}

	// Buckets follow the configured zone.
	var local Counts
	berlin := time.FixedZone("CEST", 2*3600)
	local.Add(models.BoxFilled, monday.Add(-9*time.Hour), berlin)
	if local.Filled[0][1] != 1 {
		t.Errorf("Filled[Mon][01] in CEST = %d, want 1", local.Filled[0][1])
	}
}

func TestModule_BackfillThenStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m, store := newTestModule(t)
	logBox(t, store, monday, "empty")
	logBox(t, store, monday.Add(time.Hour), "full")
	logBox(t, store, monday.Add(2*time.Hour), "full")
	logBox(t, store, monday.Add(3*time.Hour), "empty")

	if err := m.InitDevice(ctx, "sensorA"); err != nil {
		t.Fatalf("InitDevice() error = %v", err)
	}
	c, err := m.Load("sensorA")
	if err != nil {
		t.Fatal(err)
	}
	if c.Filled[0][9] != 1 || c.Emptied[0][11] != 1 {
		t.Errorf("backfill = filled %d emptied %d, want 1 and 1", c.Filled[0][9], c.Emptied[0][11])
	}

	dir, _ := store.DeviceDir("sensorA")
	if _, err := os.Stat(filepath.Join(dir, sidecarFile)); err != nil {
		t.Fatalf("side-car missing: %v", err)
	}

	// The uplink already covered by the backfill is not counted again.
	replayed := &models.Update{DeviceID: "sensorA", Received: monday.Add(3 * time.Hour), Snapshot: &models.Snapshot{State: models.BoxEmptied}}
	if err := m.StoreData(ctx, replayed); err != nil {
		t.Fatal(err)
	}
	fresh := &models.Update{DeviceID: "sensorA", Received: monday.Add(4 * time.Hour), Snapshot: &models.Snapshot{State: models.BoxFilled}}
	if err := m.StoreData(ctx, fresh); err != nil {
		t.Fatal(err)
	}
	steady := &models.Update{DeviceID: "sensorA", Received: monday.Add(5 * time.Hour), Snapshot: &models.Snapshot{State: models.BoxFull}}
	if err := m.StoreData(ctx, steady); err != nil {
		t.Fatal(err)
	}

	c, err = m.Load("sensorA")
	if err != nil {
		t.Fatal(err)
	}
	if c.Emptied[0][11] != 1 {
		t.Errorf("Emptied[Mon][11] = %d, want 1", c.Emptied[0][11])
	}
	if c.Filled[0][12] != 1 {
		t.Errorf("Filled[Mon][12] = %d, want 1", c.Filled[0][12])
	}
	if !c.Cursor.Equal(monday.Add(4 * time.Hour)) {
		t.Errorf("Cursor = %v, want last edge", c.Cursor)
	}
}

func TestModule_CorruptSidecar(t *testing.T) {
	t.Parallel()

	m, store := newTestModule(t)
	logBox(t, store, monday, "empty")
	logBox(t, store, monday.Add(time.Hour), "full")

	dir, _ := store.DeviceDir("sensorA")
	if err := os.WriteFile(filepath.Join(dir, sidecarFile), []byte("{broken"), 0o640); err != nil {
		t.Fatal(err)
	}
	c, err := m.Load("sensorA")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if c.Filled[0][9] != 1 {
		t.Errorf("rebuilt Filled[Mon][09] = %d, want 1", c.Filled[0][9])
	}
}

func TestModule_Graphics(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m, store := newTestModule(t)
	logBox(t, store, monday, "empty")
	logBox(t, store, monday.Add(time.Hour), "full")

	req := &hooks.Request{Query: url.Values{}, Printer: i18n.NewPrinter(language.German)}
	if g, err := m.Graphics(ctx, req, "sensorA"); err != nil || g != nil {
		t.Fatalf("Graphics() without flag = %v, %v", g, err)
	}

	req.Query.Set(ParamEnable, "on")
	g, err := m.Graphics(ctx, req, "sensorA")
	if err != nil {
		t.Fatalf("Graphics() error = %v", err)
	}
	if len(g) != 2 || g[0].Label != "Befüllungen nach Wochenstunde" {
		t.Fatalf("Graphics() = %+v", g)
	}

	const prefix = `<img src="data:image/png;base64,`
	data := strings.TrimPrefix(g[0].HTML, prefix)
	data = data[:strings.IndexByte(data, '"')]
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		t.Fatal(err)
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("png decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 96 || b.Dy() != 28 {
		t.Errorf("image = %dx%d, want 96x28", b.Dx(), b.Dy())
	}
	// Monday 09:00 holds the only filled edge and is drawn at full tint.
	r, gr, b, _ := img.At(9*4+1, 1).RGBA()
	if r>>8 != 0x2c || gr>>8 != 0xa0 || b>>8 != 0x2c {
		t.Errorf("peak cell = %02x%02x%02x, want 2ca02c", r>>8, gr>>8, b>>8)
	}
	r, _, _, _ = img.At(0, 0).RGBA()
	if r>>8 != 0xf4 {
		t.Errorf("empty cell red = %02x, want f4", r>>8)
	}
}

func TestModule_HTMLActions(t *testing.T) {
	t.Parallel()

	m, _ := newTestModule(t)
	p := i18n.NewPrinter(language.English)

	off := m.HTMLActions(&hooks.Request{Query: url.Values{"dev_id": {"sensorA"}}, Printer: p})
	if len(off) != 1 || off[0].URL != "?dev_id=sensorA&statistics=on" || off[0].Active {
		t.Errorf("HTMLActions(off) = %+v", off)
	}
	on := m.HTMLActions(&hooks.Request{Query: url.Values{ParamEnable: {"on"}}, Printer: p})
	if len(on) != 1 || on[0].URL != "?statistics=off" || !on[0].Active || on[0].Label != "Statistics: on" {
		t.Errorf("HTMLActions(on) = %+v", on)
	}
}
