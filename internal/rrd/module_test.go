// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

package rrd

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

var testNow = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

func logReading(t *testing.T, store *status.Store, at time.Time, box string, sensor, temp float64) {
	t.Helper()
	body := fmt.Sprintf(`{"dev_id":"sensorA","hardware_serial":"0004A30B001C0530","payload_fields":{"box":%q,"sensor":%g,"tempC":%g},"metadata":{"gateways":[{"gtw_id":"gw","rssi":-90,"snr":7.5}]}}`, box, sensor, temp)
	if err := store.Append("sensorA", models.LogEntry{Received: at, Payload: json.RawMessage(body)}); err != nil {
		t.Fatal(err)
	}
}

func newTestModule(t *testing.T, database string) (*Module, *status.Store) {
	t.Helper()
	logger := logging.NewTestLogger(io.Discard)
	store := status.NewStore(t.TempDir())
	m := New(&logger, config.RRDConfig{Enabled: true, Database: database}, config.IngestConfig{}, store)
	m.SetClock(func() time.Time { return testNow })
	t.Cleanup(func() { _ = m.Close() })
	return m, store
}

func request(q url.Values) *hooks.Request {
	return &hooks.Request{Query: q, Printer: i18n.NewPrinter(language.English)}
}

func decodeImg(t *testing.T, fragment string) (width, height int) {
	t.Helper()
	const prefix = `<img src="data:image/png;base64,`
	if !strings.HasPrefix(fragment, prefix) {
		t.Fatalf("fragment = %.60q, want inline PNG", fragment)
	}
	data := strings.TrimPrefix(fragment, prefix)
	data = data[:strings.IndexByte(data, '"')]
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		t.Fatalf("base64 decode: %v", err)
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("png decode: %v", err)
	}
	return cfg.Width, cfg.Height
}

func TestModule_BackfillAndGraphics(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m, store := newTestModule(t, ":memory:")
	logReading(t, store, testNow.Add(-5*time.Hour), "empty", 10, 18)
	logReading(t, store, testNow.Add(-3*time.Hour), "full", 80, 19)
	logReading(t, store, testNow.Add(-time.Hour), "full", 85, 21)

	if err := m.InitDevice(ctx, "sensorA"); err != nil {
		t.Fatalf("InitDevice() error = %v", err)
	}
	n, err := m.dbs["sensorA"].Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("backfilled %d points, want 3", n)
	}

	points, err := m.dbs["sensorA"].Range(ctx, time.Time{}, testNow)
	if err != nil {
		t.Fatal(err)
	}
	wantStates := []models.BoxState{models.BoxEmpty, models.BoxFilled, models.BoxFull}
	for i, p := range points {
		if p.State != wantStates[i] {
			t.Errorf("point %d State = %v, want %v", i, p.State, wantStates[i])
		}
		if p.RSSI == nil || *p.RSSI != -90 {
			t.Errorf("point %d RSSI = %v, want -90", i, p.RSSI)
		}
	}

	graphics, err := m.Graphics(ctx, request(url.Values{ParamEnable: {"on"}}), "sensorA")
	if err != nil {
		t.Fatalf("Graphics() error = %v", err)
	}
	labels := make([]string, len(graphics))
	for i, g := range graphics {
		labels[i] = g.Label
		w, h := decodeImg(t, g.HTML)
		if w != 640 || h != 200 {
			t.Errorf("%s image = %dx%d, want 640x200", g.Label, w, h)
		}
	}
	if got := strings.Join(labels, ","); got != "Sensor,Box state,Temperature" {
		t.Errorf("Graphics() labels = %s", got)
	}
}

func TestModule_GraphicsGating(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m, _ := newTestModule(t, ":memory:")

	tests := []struct {
		name string
		req  *hooks.Request
	}{
		{"flag missing", request(url.Values{})},
		{"flag off", request(url.Values{ParamEnable: {"off"}})},
		{"not permitted", &hooks.Request{Query: url.Values{ParamEnable: {"on"}}, AuthRequired: true, Printer: i18n.NewPrinter(language.English)}},
	}
	for _, tt := range tests {
		g, err := m.Graphics(ctx, tt.req, "sensorA")
		if err != nil || g != nil {
			t.Errorf("%s: Graphics() = %v, %v, want nil, nil", tt.name, g, err)
		}
	}

	// No readings yet renders the placeholder only.
	g, err := m.Graphics(ctx, request(url.Values{ParamEnable: {"on"}}), "sensorA")
	if err != nil {
		t.Fatalf("Graphics() error = %v", err)
	}
	if len(g) != 1 || !strings.Contains(g[0].HTML, "No data") {
		t.Errorf("Graphics() without data = %+v, want one placeholder", g)
	}
}

func TestModule_StoreData(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m, _ := newTestModule(t, "")
	sensor, threshold := 70.0, 50.0
	u := &models.Update{
		DeviceID: "sensorA",
		Received: testNow.Add(-time.Minute),
		Snapshot: &models.Snapshot{DeviceID: "sensorA", State: models.BoxFilled, Sensor: &sensor, Threshold: &threshold},
	}
	if err := m.StoreData(ctx, u); err != nil {
		t.Fatalf("StoreData() error = %v", err)
	}
	if err := m.StoreData(ctx, &models.Update{DeviceID: "sensorA"}); err != nil {
		t.Fatalf("StoreData(no snapshot) error = %v", err)
	}

	points, err := m.dbs["sensorA"].Range(ctx, testNow.Add(-time.Hour), testNow)
	if err != nil {
		t.Fatal(err)
	}
	if len(points) != 1 || points[0].State != models.BoxFilled || *points[0].Threshold != 50 {
		t.Errorf("stored points = %+v", points)
	}

	dir, _ := m.store.DeviceDir("sensorA")
	if _, err := os.Stat(filepath.Join(dir, "rrd.duckdb")); err != nil {
		t.Errorf("database file: %v", err)
	}
}

func TestModule_HTMLActions(t *testing.T) {
	t.Parallel()

	m, _ := newTestModule(t, ":memory:")

	off := m.HTMLActions(request(url.Values{"dev_id": {"sensorA"}}))
	if len(off) != 1 || off[0].URL != "?dev_id=sensorA&rrd=on" {
		t.Fatalf("HTMLActions(off) = %+v", off)
	}

	on := m.HTMLActions(request(url.Values{ParamEnable: {"on"}, ParamRange: {"week"}, ParamShift: {"1"}, ParamZoom: {"2"}}))
	byLabel := make(map[string]hooks.Action, len(on))
	for _, a := range on {
		byLabel[a.Label] = a
	}
	tests := []struct {
		label  string
		url    string
		active bool
	}{
		{"Charts: on", "?rrd=off", true},
		{"Day", "?rrd=on&rrdRange=day&rrdZoom=2", false},
		{"Week", "?rrd=on&rrdRange=week&rrdZoom=2", true},
		{"Earlier", "?rrd=on&rrdRange=week&rrdShift=2&rrdZoom=2", false},
		{"Later", "?rrd=on&rrdRange=week&rrdZoom=2", false},
		{"Zoom +", "?rrd=on&rrdRange=week&rrdShift=1&rrdZoom=4", false},
		{"Zoom -", "?rrd=on&rrdRange=week&rrdShift=1", false},
	}
	for _, tt := range tests {
		a, ok := byLabel[tt.label]
		if !ok {
			t.Errorf("action %q missing", tt.label)
			continue
		}
		if a.URL != tt.url || a.Active != tt.active {
			t.Errorf("%s = %q active %v, want %q active %v", tt.label, a.URL, a.Active, tt.url, tt.active)
		}
	}
}

func TestParseWindow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		q        url.Values
		wantFrom time.Time
		wantTo   time.Time
		wantStep time.Duration
	}{
		{"default day", url.Values{}, testNow.Add(-24 * time.Hour), testNow, 10 * time.Minute},
		{"week shifted", url.Values{ParamRange: {"week"}, ParamShift: {"1"}}, testNow.Add(-14 * 24 * time.Hour), testNow.Add(-7 * 24 * time.Hour), time.Hour},
		{"day zoomed", url.Values{ParamZoom: {"8"}}, testNow.Add(-3 * time.Hour), testNow, time.Minute + 15*time.Second},
		{"invalid values", url.Values{ParamRange: {"decade"}, ParamShift: {"-3"}, ParamZoom: {"3"}}, testNow.Add(-24 * time.Hour), testNow, 10 * time.Minute},
	}
	for _, tt := range tests {
		w := parseWindow(tt.q)
		from, to := w.bounds(testNow)
		if !from.Equal(tt.wantFrom) || !to.Equal(tt.wantTo) {
			t.Errorf("%s: bounds = %v..%v, want %v..%v", tt.name, from, to, tt.wantFrom, tt.wantTo)
		}
		if got := w.step(); got != tt.wantStep {
			t.Errorf("%s: step = %v, want %v", tt.name, got, tt.wantStep)
		}
	}
}
