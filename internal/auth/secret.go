// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

package auth

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// LoadServerSecret returns the installation UUID stored at path, creating it
// on first use. The UUID keys both the session HMAC and the token cipher, so
// deleting the file invalidates every outstanding session and login.
func LoadServerSecret(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return createServerSecret(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read server secret: %w", err)
	}
	id, err := uuid.Parse(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("server secret %s: %w", path, err)
	}
	return []byte(id.String()), nil
}

func createServerSecret(path string) ([]byte, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create secret dir: %w", err)
	}
	id := uuid.NewString()
	// O_EXCL lets exactly one of several concurrent first requests win.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if errors.Is(err, fs.ErrExist) {
		return LoadServerSecret(path)
	}
	if err != nil {
		return nil, fmt.Errorf("create server secret: %w", err)
	}
	if _, err := f.WriteString(id + "\n"); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write server secret: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("write server secret: %w", err)
	}
	return []byte(id), nil
}
