// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

// Package registry maintains the device registry, a flat file with one
// device per line:
//
//	# dev_id:hardware_serial[:bcrypt hash of the uplink secret]
//	sensorA:AAAA000000000000
//	sensorB:0004A30B001C0530:$2a$10$...
//
// Entries are only ever appended. A device identity never changes once
// registered.
package registry

import (
	"bufio"
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/crypto/bcrypt"

	"github.com/tomtom215/letterbox/internal/models"
	"github.com/tomtom215/letterbox/internal/validation"
)

// Errors returned by registry lookups.
var (
	ErrUnknownDevice  = errors.New("device is not registered")
	ErrSerialMismatch = errors.New("hardware serial does not match registered device")
	ErrBadSecret      = errors.New("device secret missing or wrong")
	ErrMalformedEntry = errors.New("malformed registry entry")
)

// Registry is a handle on the registry file.
type Registry struct {
	path string
}

// Open returns a registry backed by path. The file need not exist yet.
func Open(path string) *Registry {
	return &Registry{path: path}
}

// Path returns the registry file path.
func (r *Registry) Path() string {
	return r.path
}

// List returns all registered devices ordered by id.
func (r *Registry) List() ([]models.Device, error) {
	byID, err := r.load()
	if err != nil {
		return nil, err
	}
	out := make([]models.Device, 0, len(byID))
	for _, d := range byID {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Lookup returns the device with the given id or ErrUnknownDevice.
func (r *Registry) Lookup(deviceID string) (models.Device, error) {
	byID, err := r.load()
	if err != nil {
		return models.Device{}, err
	}
	d, ok := byID[deviceID]
	if !ok {
		return models.Device{}, ErrUnknownDevice
	}
	return d, nil
}

// Authorize checks an uplink identity. Unknown devices are appended when
// autoRegister is set, with the bcrypt hash of secret if one was supplied.
// It reports whether the device was created by this call.
func (r *Registry) Authorize(ctx context.Context, deviceID, serial, secret string, autoRegister bool) (models.Device, bool, error) {
	if !validation.IsDeviceID(deviceID) || !validation.IsHardwareSerial(serial) {
		return models.Device{}, false, fmt.Errorf("%w: %q/%q", ErrMalformedEntry, deviceID, serial)
	}

	// Lookup and append happen under the file lock so two first uplinks
	// of one device cannot both register it.
	fl := flock.New(r.path + ".lock")
	locked, err := fl.TryLockContext(ctx, 25*time.Millisecond)
	if err != nil || !locked {
		if err == nil {
			err = ctx.Err()
		}
		return models.Device{}, false, fmt.Errorf("lock registry: %w", err)
	}
	defer func() { _ = fl.Unlock() }()

	d, err := r.Lookup(deviceID)
	switch {
	case err == nil:
		if subtle.ConstantTimeCompare([]byte(strings.ToUpper(d.HardwareSerial)), []byte(strings.ToUpper(serial))) != 1 {
			return d, false, ErrSerialMismatch
		}
		if d.PasswordHash != "" {
			if secret == "" || bcrypt.CompareHashAndPassword([]byte(d.PasswordHash), []byte(secret)) != nil {
				return d, false, ErrBadSecret
			}
		}
		return d, false, nil
	case !errors.Is(err, ErrUnknownDevice):
		return models.Device{}, false, err
	case !autoRegister:
		return models.Device{}, false, ErrUnknownDevice
	}

	d = models.Device{ID: deviceID, HardwareSerial: strings.ToUpper(serial)}
	if secret != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
		if err != nil {
			return models.Device{}, false, fmt.Errorf("hash device secret: %w", err)
		}
		d.PasswordHash = string(hash)
	}
	if err := r.append(d); err != nil {
		return models.Device{}, false, err
	}
	return d, true, nil
}

func (r *Registry) append(d models.Device) error {
	line := d.ID + ":" + d.HardwareSerial
	if d.PasswordHash != "" {
		line += ":" + d.PasswordHash
	}
	f, err := os.OpenFile(r.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("open registry: %w", err)
	}
	if _, err := f.WriteString(line + "\n"); err != nil {
		_ = f.Close()
		return fmt.Errorf("append registry: %w", err)
	}
	return f.Close()
}

func (r *Registry) load() (map[string]models.Device, error) {
	f, err := os.Open(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]models.Device{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}
	defer f.Close()

	out := make(map[string]models.Device)
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		d, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", r.path, lineNo, err)
		}
		// The first entry wins; later duplicates cannot rebind an identity.
		if _, seen := out[d.ID]; !seen {
			out[d.ID] = d
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	return out, nil
}

func parseLine(line string) (models.Device, error) {
	parts := strings.SplitN(line, ":", 3)
	if len(parts) < 2 || !validation.IsDeviceID(parts[0]) || !validation.IsHardwareSerial(parts[1]) {
		return models.Device{}, ErrMalformedEntry
	}
	d := models.Device{ID: parts[0], HardwareSerial: strings.ToUpper(parts[1])}
	if len(parts) == 3 {
		d.PasswordHash = parts[2]
	}
	return d, nil
}
