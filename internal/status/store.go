// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

// Package status persists per-device status records and raw uplink logs
// below the data directory:
//
//	<datadir>/devices/<device>/status.json      current snapshot
//	<datadir>/devices/<device>/raw/YYYYMMDD.log  one JSON LogEntry per line
//	<datadir>/devices/<device>/.lock             advisory lock file
//
// The snapshot holds the state machine position and both edge timestamps in
// one record so that no derived state can disagree between files.
package status

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/letterbox/internal/models"
	"github.com/tomtom215/letterbox/internal/validation"
)

// Errors returned by the store.
var (
	ErrNotFound      = errors.New("no status recorded for device")
	ErrInvalidDevice = errors.New("invalid device identifier")
	ErrCorruptLog    = errors.New("corrupt raw log entry")
)

const (
	devicesDir   = "devices"
	statusFile   = "status.json"
	rawDir       = "raw"
	lockFile     = ".lock"
	rawDayLayout = "20060102"
	rawSuffix    = ".log"
)

// Store reads and writes device status files.
type Store struct {
	root string
}

// NewStore returns a store rooted at dataDir.
func NewStore(dataDir string) *Store {
	return &Store{root: filepath.Join(dataDir, devicesDir)}
}

// DeviceDir returns the directory holding all files of a device.
func (s *Store) DeviceDir(deviceID string) (string, error) {
	if !validation.IsDeviceID(deviceID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidDevice, deviceID)
	}
	return filepath.Join(s.root, deviceID), nil
}

// Load returns the snapshot of a device or ErrNotFound.
func (s *Store) Load(deviceID string) (*models.Snapshot, error) {
	dir, err := s.DeviceDir(deviceID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, statusFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read status of %s: %w", deviceID, err)
	}
	var snap models.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode status of %s: %w", deviceID, err)
	}
	return &snap, nil
}

// Save writes the snapshot atomically.
func (s *Store) Save(snap *models.Snapshot) error {
	dir, err := s.DeviceDir(snap.DeviceID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create device dir: %w", err)
	}
	// Compact, so LastRaw round-trips byte for byte.
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}
	return WriteFileAtomic(filepath.Join(dir, statusFile), data, 0o640)
}

// Append adds one entry to the raw log of the entry's UTC day.
func (s *Store) Append(deviceID string, entry models.LogEntry) error {
	dir, err := s.DeviceDir(deviceID)
	if err != nil {
		return err
	}
	logDir := filepath.Join(dir, rawDir)
	if err := os.MkdirAll(logDir, 0o750); err != nil {
		return fmt.Errorf("create raw log dir: %w", err)
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode log entry: %w", err)
	}
	name := filepath.Join(logDir, entry.Received.UTC().Format(rawDayLayout)+rawSuffix)
	f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("open raw log: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return fmt.Errorf("append raw log: %w", err)
	}
	return f.Close()
}

// Days returns the UTC days that have a raw log, oldest first.
func (s *Store) Days(deviceID string) ([]time.Time, error) {
	dir, err := s.DeviceDir(deviceID)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(dir, rawDir))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list raw logs: %w", err)
	}
	days := make([]time.Time, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, rawSuffix) {
			continue
		}
		day, err := time.Parse(rawDayLayout, strings.TrimSuffix(name, rawSuffix))
		if err != nil {
			continue
		}
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days, nil
}

// Replay calls fn for every logged entry received after since, in order.
// A zero since replays everything. A malformed line aborts the replay with
// ErrCorruptLog.
func (s *Store) Replay(deviceID string, since time.Time, fn func(models.LogEntry) error) error {
	days, err := s.Days(deviceID)
	if err != nil {
		return err
	}
	dir, _ := s.DeviceDir(deviceID)
	for _, day := range days {
		if !since.IsZero() && day.Add(24*time.Hour).Before(since) {
			continue
		}
		if err := replayFile(filepath.Join(dir, rawDir, day.Format(rawDayLayout)+rawSuffix), since, fn); err != nil {
			return err
		}
	}
	return nil
}

func replayFile(path string, since time.Time, fn func(models.LogEntry) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open raw log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var entry models.LogEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return fmt.Errorf("%w: %s:%d: %v", ErrCorruptLog, filepath.Base(path), lineNo, err)
		}
		if !since.IsZero() && !entry.Received.After(since) {
			continue
		}
		if err := fn(entry); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// WriteFileAtomic replaces path with data through a temporary file in the same
// directory.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
