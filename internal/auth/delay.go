// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

package auth

import (
	"context"
	"math/rand/v2"
	"time"
)

// Delayer slows down authentication responses: a small jitter after a
// success and a fixed base plus jitter after a failure.
type Delayer struct {
	SuccessJitter time.Duration
	FailureBase   time.Duration
	FailureJitter time.Duration

	// Sleep waits for d or until ctx is done. Tests replace it.
	Sleep func(ctx context.Context, d time.Duration)
}

// NewDelayer returns a delayer sleeping on the real clock.
func NewDelayer(successJitter, failureBase, failureJitter time.Duration) *Delayer {
	return &Delayer{
		SuccessJitter: successJitter,
		FailureBase:   failureBase,
		FailureJitter: failureJitter,
		Sleep:         sleepContext,
	}
}

// Success delays a successful response.
func (d *Delayer) Success(ctx context.Context) {
	if d == nil {
		return
	}
	d.wait(ctx, jitter(d.SuccessJitter))
}

// Failure delays a failed response.
func (d *Delayer) Failure(ctx context.Context) {
	if d == nil {
		return
	}
	d.wait(ctx, d.FailureBase+jitter(d.FailureJitter))
}

func (d *Delayer) wait(ctx context.Context, dur time.Duration) {
	if dur <= 0 {
		return
	}
	sleep := d.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	sleep(ctx, dur)
}

func jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return rand.N(max) //nolint:gosec // timing jitter, not key material
}

func sleepContext(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
