// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

// Package hooks dispatches lifecycle events to optional modules.
//
// A module implements Module plus any of the capability interfaces below.
// Modules run in lexicographic order of their names, and the first error
// aborts the dispatch.
package hooks

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/letterbox/internal/i18n"
	"github.com/tomtom215/letterbox/internal/metrics"
	"github.com/tomtom215/letterbox/internal/models"
)

// Module is a named extension.
type Module interface {
	Name() string
}

// DeviceInitializer is called once per process for every device that is
// seen, before its first StoreData.
type DeviceInitializer interface {
	InitDevice(ctx context.Context, deviceID string) error
}

// DataStorer is called after every accepted uplink has been persisted.
type DataStorer interface {
	StoreData(ctx context.Context, u *models.Update) error
}

// Graphic is an HTML fragment contributed to the device detail view, keyed
// by a display label.
type Graphic struct {
	Label string
	// HTML is trusted markup rendered unescaped.
	HTML string
}

// GraphicsProvider contributes fragments to the detail view of a device.
type GraphicsProvider interface {
	Graphics(ctx context.Context, req *Request, deviceID string) ([]Graphic, error)
}

// Action is a control rendered above the device table.
type Action struct {
	Label string
	URL   string
	// Active marks the control of the current selection.
	Active bool
}

// ActionProvider contributes controls to the dashboard.
type ActionProvider interface {
	HTMLActions(req *Request) []Action
}

// AuthChecker decides whether a request may see the dashboard. It returns
// nil for an accepted request.
type AuthChecker interface {
	AuthCheck(ctx context.Context, req *Request) error
}

// Principal is an authenticated dashboard user.
type Principal interface {
	Name() string
	// Permitted reports whether the user may see deviceID.
	Permitted(deviceID string) bool
}

// Request is the per-request context handed to rendering hooks.
type Request struct {
	HTTP    *http.Request
	Query   url.Values
	Printer *i18n.Printer
	Mobile  bool
	// User is nil for anonymous requests.
	User Principal
	// AuthRequired is set when dashboard authentication is enabled.
	AuthRequired bool
}

// Permitted reports whether the request may see deviceID.
func (r *Request) Permitted(deviceID string) bool {
	if !r.AuthRequired {
		return true
	}
	return r.User != nil && r.User.Permitted(deviceID)
}

// Link returns a relative URL carrying the current query with the given
// key/value pairs replaced. An empty value removes the key.
func (r *Request) Link(pairs ...string) string {
	q := url.Values{}
	for k, v := range r.Query {
		q[k] = append([]string(nil), v...)
	}
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			q.Del(pairs[i])
			continue
		}
		q.Set(pairs[i], pairs[i+1])
	}
	if len(q) == 0 {
		return "?"
	}
	return "?" + q.Encode()
}

// Registry holds the enabled modules.
type Registry struct {
	mu      sync.RWMutex
	modules []Module

	initMu      sync.Mutex
	initialized map[string]bool
}

// NewRegistry returns a registry holding modules.
func NewRegistry(modules ...Module) *Registry {
	r := &Registry{initialized: make(map[string]bool)}
	for _, m := range modules {
		r.Register(m)
	}
	return r
}

// Register adds a module. Registering a second module with the same name
// replaces the first.
func (r *Registry) Register(m Module) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.modules {
		if existing.Name() == m.Name() {
			r.modules[i] = m
			return
		}
	}
	r.modules = append(r.modules, m)
	sort.SliceStable(r.modules, func(i, j int) bool { return r.modules[i].Name() < r.modules[j].Name() })
}

// Modules returns the modules in dispatch order.
func (r *Registry) Modules() []Module {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Module, len(r.modules))
	copy(out, r.modules)
	return out
}

// Names returns the module names in dispatch order.
func (r *Registry) Names() []string {
	mods := r.Modules()
	names := make([]string, len(mods))
	for i, m := range mods {
		names[i] = m.Name()
	}
	return names
}

// InitDevice runs DeviceInitializer modules for deviceID the first time it
// is seen by this process.
func (r *Registry) InitDevice(ctx context.Context, deviceID string) error {
	r.initMu.Lock()
	done := r.initialized[deviceID]
	r.initMu.Unlock()
	if done {
		return nil
	}
	for _, m := range r.Modules() {
		if h, ok := m.(DeviceInitializer); ok {
			start := time.Now()
			err := h.InitDevice(ctx, deviceID)
			metrics.ObserveHook(m.Name(), "init_device", start)
			if err != nil {
				return fmt.Errorf("%s: init device %s: %w", m.Name(), deviceID, err)
			}
		}
	}
	r.initMu.Lock()
	r.initialized[deviceID] = true
	r.initMu.Unlock()
	return nil
}

// StoreData runs DataStorer modules.
func (r *Registry) StoreData(ctx context.Context, u *models.Update) error {
	for _, m := range r.Modules() {
		if h, ok := m.(DataStorer); ok {
			start := time.Now()
			err := h.StoreData(ctx, u)
			metrics.ObserveHook(m.Name(), "store_data", start)
			if err != nil {
				return fmt.Errorf("%s: store data: %w", m.Name(), err)
			}
		}
	}
	return nil
}

// Graphics collects detail fragments from all GraphicsProvider modules.
func (r *Registry) Graphics(ctx context.Context, req *Request, deviceID string) ([]Graphic, error) {
	var out []Graphic
	for _, m := range r.Modules() {
		if h, ok := m.(GraphicsProvider); ok {
			g, err := h.Graphics(ctx, req, deviceID)
			if err != nil {
				return nil, fmt.Errorf("%s: graphics: %w", m.Name(), err)
			}
			out = append(out, g...)
		}
	}
	return out, nil
}

// HTMLActions collects dashboard controls from all ActionProvider modules.
func (r *Registry) HTMLActions(req *Request) []Action {
	var out []Action
	for _, m := range r.Modules() {
		if h, ok := m.(ActionProvider); ok {
			out = append(out, h.HTMLActions(req)...)
		}
	}
	return out
}

// AuthCheck runs AuthChecker modules; the first rejection wins. With no
// checker registered every request is accepted.
func (r *Registry) AuthCheck(ctx context.Context, req *Request) error {
	for _, m := range r.Modules() {
		if h, ok := m.(AuthChecker); ok {
			if err := h.AuthCheck(ctx, req); err != nil {
				return err
			}
		}
	}
	return nil
}
