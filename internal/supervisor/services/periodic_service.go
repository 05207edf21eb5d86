// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

package services

import (
	"context"
	"fmt"
	"time"

	"github.com/tomtom215/letterbox/internal/logging"
)

// PeriodicService calls a task every interval. A failing task is logged
// and retried on the next tick; it does not restart the service.
type PeriodicService struct {
	name     string
	interval time.Duration
	task     func() error
}

// NewPeriodicService returns a service running task every interval. A
// non-positive interval means one minute.
func NewPeriodicService(name string, interval time.Duration, task func() error) *PeriodicService {
	if interval <= 0 {
		interval = time.Minute
	}
	return &PeriodicService{name: name, interval: interval, task: task}
}

// Serve implements suture.Service.
func (p *PeriodicService) Serve(ctx context.Context) error {
	if p.task == nil {
		return fmt.Errorf("%s: no task", p.name)
	}
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.task(); err != nil {
				logging.Warn().Str("service", p.name).Err(err).Msg("Periodic task failed")
			}
		}
	}
}

// String implements fmt.Stringer for supervisor logs.
func (p *PeriodicService) String() string {
	return p.name
}
