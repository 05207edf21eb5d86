// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

package timeseries

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/tomtom215/letterbox/internal/models"
)

func f(v float64) *float64 { return &v }

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_InsertRange(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openMemory(t)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := s.Insert(ctx, Point{Time: base, State: models.BoxEmpty, Sensor: f(12), TempC: f(4.5)}); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	// Same timestamp replaces.
	if err := s.Insert(ctx, Point{Time: base, State: models.BoxFilled, Sensor: f(80), Threshold: f(50)}); err != nil {
		t.Fatalf("Insert() replace error = %v", err)
	}
	if err := s.Insert(ctx, Point{Time: base.Add(time.Hour), State: models.BoxFull}); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("Count() = %d, want 2", n)
	}

	points, err := s.Range(ctx, base, base.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("Range() error = %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("Range() returned %d points, want 2", len(points))
	}
	first := points[0]
	if first.State != models.BoxFilled || first.Sensor == nil || *first.Sensor != 80 {
		t.Errorf("first point = %+v, want replaced filled reading", first)
	}
	if first.TempC != nil {
		t.Errorf("first TempC = %v, want nil after replace", *first.TempC)
	}
	if !first.Time.Equal(base) {
		t.Errorf("first Time = %v, want %v", first.Time, base)
	}
	if points[1].Sensor != nil {
		t.Errorf("second Sensor = %v, want nil", *points[1].Sensor)
	}

	// The upper bound is exclusive.
	points, err = s.Range(ctx, base, base.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(points) != 1 {
		t.Errorf("Range(half-open) returned %d points, want 1", len(points))
	}
}

func TestStore_Buckets(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openMemory(t)
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	batch := []Point{
		{Time: base.Add(10 * time.Minute), State: models.BoxEmpty, Sensor: f(10)},
		{Time: base.Add(20 * time.Minute), State: models.BoxFilled, Sensor: f(30)},
		{Time: base.Add(70 * time.Minute), State: models.BoxFull, Sensor: f(90)},
		{Time: base.Add(80 * time.Minute), State: models.BoxEmptied, Sensor: f(10)},
		{Time: base.Add(200 * time.Minute), State: models.BoxEmpty},
	}
	if err := s.InsertBatch(ctx, batch); err != nil {
		t.Fatalf("InsertBatch() error = %v", err)
	}

	buckets, err := s.Buckets(ctx, base, base.Add(3*time.Hour), time.Hour)
	if err != nil {
		t.Fatalf("Buckets() error = %v", err)
	}
	if len(buckets) != 2 {
		t.Fatalf("Buckets() = %d buckets, want 2", len(buckets))
	}

	tests := []struct {
		start  time.Time
		sensor float64
		full   float64
		edges  int
	}{
		{base, 20, 0.5, 1},
		{base.Add(time.Hour), 50, 0.5, 1},
	}
	for i, tt := range tests {
		b := buckets[i]
		if !b.Start.Equal(tt.start) {
			t.Errorf("bucket %d Start = %v, want %v", i, b.Start, tt.start)
		}
		if b.Sensor == nil || *b.Sensor != tt.sensor {
			t.Errorf("bucket %d Sensor = %v, want %v", i, b.Sensor, tt.sensor)
		}
		if b.Full != tt.full {
			t.Errorf("bucket %d Full = %v, want %v", i, b.Full, tt.full)
		}
		if b.Edges != tt.edges {
			t.Errorf("bucket %d Edges = %d, want %d", i, b.Edges, tt.edges)
		}
		if b.Threshold != nil {
			t.Errorf("bucket %d Threshold = %v, want nil", i, *b.Threshold)
		}
	}

	if _, err := s.Buckets(ctx, base, base.Add(time.Hour), time.Millisecond); err == nil {
		t.Error("Buckets() with sub-second step expected error")
	}
}

func TestStore_Bounds(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openMemory(t)

	if _, _, ok, err := s.Bounds(ctx); err != nil || ok {
		t.Fatalf("Bounds() on empty store = ok %v, err %v", ok, err)
	}

	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	if err := s.InsertBatch(ctx, []Point{
		{Time: base.Add(time.Hour), State: models.BoxFull},
		{Time: base, State: models.BoxEmpty},
	}); err != nil {
		t.Fatal(err)
	}
	first, last, ok, err := s.Bounds(ctx)
	if err != nil || !ok {
		t.Fatalf("Bounds() = ok %v, err %v", ok, err)
	}
	if !first.Equal(base) || !last.Equal(base.Add(time.Hour)) {
		t.Errorf("Bounds() = %v..%v, want %v..%v", first, last, base, base.Add(time.Hour))
	}
}

func TestOpen_File(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "devices", "dev-a", "rrd.duckdb")

	s, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if !s.Created() {
		t.Error("Created() = false for a new file")
	}
	if err := s.Insert(ctx, Point{Time: time.Now().UTC().Truncate(time.Second), State: models.BoxEmpty}); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s.Close()
	if s.Created() {
		t.Error("Created() = true for an existing file")
	}
	if n, _ := s.Count(ctx); n != 1 {
		t.Errorf("Count() after reopen = %d, want 1", n)
	}
}
