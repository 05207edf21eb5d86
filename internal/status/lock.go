// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

package status

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// ErrLockTimeout is returned when a device lock cannot be acquired in time.
var ErrLockTimeout = errors.New("timed out waiting for device lock")

const lockRetryDelay = 25 * time.Millisecond

// Locker serializes work on one device. Goroutines of this process queue on
// a keyed mutex; other processes (CGI invocations) are excluded by an
// advisory lock on the device's lock file.
type Locker struct {
	store *Store

	mu    sync.Mutex
	locks map[string]*deviceLock
}

type deviceLock struct {
	sem  chan struct{}
	refs int
}

// NewLocker returns a locker for devices of store.
func NewLocker(store *Store) *Locker {
	return &Locker{store: store, locks: make(map[string]*deviceLock)}
}

// Lock blocks until the device is exclusively held or ctx is done. The
// returned function releases it.
func (l *Locker) Lock(ctx context.Context, deviceID string) (func(), error) {
	dir, err := l.store.DeviceDir(deviceID)
	if err != nil {
		return nil, err
	}

	dl := l.acquire(deviceID)
	select {
	case dl.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(deviceID)
		return nil, fmt.Errorf("%w: %v", ErrLockTimeout, ctx.Err())
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		<-dl.sem
		l.release(deviceID)
		return nil, fmt.Errorf("create device dir: %w", err)
	}
	fl := flock.New(filepath.Join(dir, lockFile))
	locked, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil || !locked {
		<-dl.sem
		l.release(deviceID)
		if err == nil {
			err = ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrLockTimeout, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			_ = fl.Unlock()
			<-dl.sem
			l.release(deviceID)
		})
	}, nil
}

func (l *Locker) acquire(deviceID string) *deviceLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	dl, ok := l.locks[deviceID]
	if !ok {
		dl = &deviceLock{sem: make(chan struct{}, 1)}
		l.locks[deviceID] = dl
	}
	dl.refs++
	return dl
}

func (l *Locker) release(deviceID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	dl := l.locks[deviceID]
	dl.refs--
	if dl.refs == 0 {
		delete(l.locks, deviceID)
	}
}
