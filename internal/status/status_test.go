// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

package status

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/letterbox/internal/models"
)

func ptr(f float64) *float64 { return &f }

func TestEdgeDetectionSequence(t *testing.T) {
	t.Parallel()

	inputs := []models.BoxState{models.BoxEmpty, models.BoxFull, models.BoxFull, models.BoxEmpty}
	want := []models.BoxState{models.BoxEmpty, models.BoxFilled, models.BoxFull, models.BoxEmptied}

	snap := &models.Snapshot{DeviceID: "dev"}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, in := range inputs {
		Apply(snap, in, base.Add(time.Duration(i)*time.Hour))
		if snap.State != want[i] {
			t.Errorf("step %d: state = %q, want %q", i, snap.State, want[i])
		}
	}
	if snap.LastFilled == nil || !snap.LastFilled.Equal(base.Add(time.Hour)) {
		t.Errorf("LastFilled = %v, want step 1", snap.LastFilled)
	}
	if snap.LastEmptied == nil || !snap.LastEmptied.Equal(base.Add(3*time.Hour)) {
		t.Errorf("LastEmptied = %v, want step 3", snap.LastEmptied)
	}
}

func TestNext(t *testing.T) {
	t.Parallel()

	tests := []struct {
		prev, reported, want models.BoxState
	}{
		{models.BoxUnknown, models.BoxFull, models.BoxFull},
		{models.BoxUnknown, models.BoxFilled, models.BoxFilled},
		{models.BoxEmpty, models.BoxFull, models.BoxFilled},
		{models.BoxEmptied, models.BoxFull, models.BoxFilled},
		{models.BoxFilled, models.BoxFull, models.BoxFull},
		{models.BoxFull, models.BoxFilled, models.BoxFull},
		{models.BoxFull, models.BoxEmptied, models.BoxEmptied},
		{models.BoxEmpty, models.BoxEmpty, models.BoxEmpty},
		{models.BoxFull, models.BoxUnknown, models.BoxFull},
	}
	for _, tt := range tests {
		if got := Next(tt.prev, tt.reported); got != tt.want {
			t.Errorf("Next(%q, %q) = %q, want %q", tt.prev, tt.reported, got, tt.want)
		}
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		reported  models.BoxState
		sensor    *float64
		threshold *float64
		want      models.BoxState
	}{
		{"no override", models.BoxFull, ptr(10), nil, models.BoxFull},
		{"no reading", models.BoxFull, nil, ptr(50), models.BoxFull},
		{"drift to full", models.BoxEmpty, ptr(60), ptr(50), models.BoxFull},
		{"drift to empty", models.BoxFull, ptr(49.9), ptr(50), models.BoxEmpty},
		{"boundary is full", models.BoxEmpty, ptr(50), ptr(50), models.BoxFull},
		{"agreeing edge kept", models.BoxFilled, ptr(80), ptr(50), models.BoxFilled},
		{"disagreeing edge dropped", models.BoxFilled, ptr(20), ptr(50), models.BoxEmpty},
	}
	for _, tt := range tests {
		if got := Classify(tt.reported, tt.sensor, tt.threshold); got != tt.want {
			t.Errorf("%s: Classify() = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestStore_SaveLoad(t *testing.T) {
	t.Parallel()

	store := NewStore(t.TempDir())
	if _, err := store.Load("dev-a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load() error = %v, want ErrNotFound", err)
	}

	filled := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	snap := &models.Snapshot{
		DeviceID:     "dev-a",
		State:        models.BoxFilled,
		LastRaw:      json.RawMessage(`{"dev_id":"dev-a","payload_fields":{"box":"full"}}`),
		LastReceived: filled,
		LastFilled:   &filled,
		Sensor:       ptr(512),
	}
	if err := store.Save(snap); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := store.Load("dev-a")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.State != models.BoxFilled || got.LastFilled == nil || !got.LastFilled.Equal(filled) {
		t.Errorf("Load() = %+v", got)
	}
	if want := `{"dev_id":"dev-a","payload_fields":{"box":"full"}}`; string(got.LastRaw) != want {
		t.Errorf("LastRaw = %s, want %s", got.LastRaw, want)
	}
}

func TestStore_InvalidDevice(t *testing.T) {
	t.Parallel()

	store := NewStore(t.TempDir())
	for _, id := range []string{"", "../etc", "a/b"} {
		if _, err := store.Load(id); !errors.Is(err, ErrInvalidDevice) {
			t.Errorf("Load(%q) error = %v, want ErrInvalidDevice", id, err)
		}
	}
}

func TestStore_AppendReplay(t *testing.T) {
	t.Parallel()

	store := NewStore(t.TempDir())
	day1 := time.Date(2024, 1, 1, 23, 0, 0, 0, time.UTC)
	times := []time.Time{day1, day1.Add(30 * time.Minute), day1.Add(2 * time.Hour)}
	for i, ts := range times {
		entry := models.LogEntry{Received: ts, Payload: json.RawMessage(`{"counter":` + string(rune('1'+i)) + `}`)}
		if err := store.Append("dev-a", entry); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	days, err := store.Days("dev-a")
	if err != nil || len(days) != 2 {
		t.Fatalf("Days() = %v, %v, want two days", days, err)
	}

	var all []time.Time
	if err := store.Replay("dev-a", time.Time{}, func(e models.LogEntry) error {
		all = append(all, e.Received)
		return nil
	}); err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	if len(all) != 3 || !all[2].Equal(times[2]) {
		t.Errorf("Replay() = %v", all)
	}

	var since []time.Time
	_ = store.Replay("dev-a", times[0], func(e models.LogEntry) error {
		since = append(since, e.Received)
		return nil
	})
	if len(since) != 2 {
		t.Errorf("Replay(since) = %v, want 2 entries", since)
	}
}

func TestStore_ReplayCorrupt(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := NewStore(dir)
	logDir := filepath.Join(dir, "devices", "dev-a", "raw")
	if err := os.MkdirAll(logDir, 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(logDir, "20240101.log"), []byte("{broken\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	err := store.Replay("dev-a", time.Time{}, func(models.LogEntry) error { return nil })
	if !errors.Is(err, ErrCorruptLog) {
		t.Errorf("Replay() error = %v, want ErrCorruptLog", err)
	}
}

func TestLocker_Serializes(t *testing.T) {
	t.Parallel()

	locker := NewLocker(NewStore(t.TempDir()))
	ctx := context.Background()

	var mu sync.Mutex
	active, maxActive := 0, 0
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(ctx, "dev-a")
			if err != nil {
				t.Errorf("Lock() error = %v", err)
				return
			}
			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()
			time.Sleep(2 * time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	if maxActive != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxActive)
	}
}

func TestLocker_Timeout(t *testing.T) {
	t.Parallel()

	locker := NewLocker(NewStore(t.TempDir()))
	unlock, err := locker.Lock(context.Background(), "dev-a")
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := locker.Lock(ctx, "dev-a"); !errors.Is(err, ErrLockTimeout) {
		t.Errorf("second Lock() error = %v, want ErrLockTimeout", err)
	}

	other, err := locker.Lock(context.Background(), "dev-b")
	if err != nil {
		t.Fatalf("Lock(dev-b) error = %v", err)
	}
	other()
}
