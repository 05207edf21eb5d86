// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

// Package authz decides which devices a dashboard user may see, using a
// Casbin model with one "view" policy per user and device. The device "*"
// grants every device.
package authz

import (
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

// Wildcard grants access to every device.
const Wildcard = "*"

const actionView = "view"

const aclModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == p.sub && (p.obj == "*" || r.obj == p.obj) && r.act == p.act
`

// Enforcer wraps a synced Casbin enforcer. mu makes the remove and add of
// SetACL one step for readers.
type Enforcer struct {
	mu       sync.RWMutex
	enforcer *casbin.SyncedEnforcer
}

// NewEnforcer returns an enforcer with an empty policy.
func NewEnforcer() (*Enforcer, error) {
	m, err := model.NewModelFromString(aclModel)
	if err != nil {
		return nil, fmt.Errorf("failed to load casbin model: %w", err)
	}
	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("failed to create casbin enforcer: %w", err)
	}
	return &Enforcer{enforcer: enforcer}, nil
}

// SetACL replaces the device list of user. An empty list denies all. An
// unchanged list leaves the policy untouched.
func (e *Enforcer) SetACL(user string, devices []string) error {
	want := normalize(devices)

	e.mu.RLock()
	same := slices.Equal(e.devices(user), want)
	e.mu.RUnlock()
	if same {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if slices.Equal(e.devices(user), want) {
		return nil
	}
	if _, err := e.enforcer.RemoveFilteredPolicy(0, user); err != nil {
		return fmt.Errorf("failed to clear policy of %s: %w", user, err)
	}
	if len(want) == 0 {
		return nil
	}
	rules := make([][]string, 0, len(want))
	for _, d := range want {
		rules = append(rules, []string{user, d, actionView})
	}
	if _, err := e.enforcer.AddPolicies(rules); err != nil {
		return fmt.Errorf("failed to add policy of %s: %w", user, err)
	}
	return nil
}

// normalize sorts devices and drops empty and duplicate entries.
func normalize(devices []string) []string {
	out := make([]string, 0, len(devices))
	for _, d := range devices {
		if d != "" {
			out = append(out, d)
		}
	}
	sort.Strings(out)
	return slices.Compact(out)
}

// Permitted reports whether user may view deviceID. Enforcement errors deny.
func (e *Enforcer) Permitted(user, deviceID string) bool {
	if user == "" || deviceID == "" {
		return false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	ok, err := e.enforcer.Enforce(user, deviceID, actionView)
	return err == nil && ok
}

// Devices returns the sorted device list of user, which may contain
// Wildcard.
func (e *Enforcer) Devices(user string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.devices(user)
}

func (e *Enforcer) devices(user string) []string {
	//nolint:errcheck // GetFilteredPolicy only fails on a nil model
	rules, _ := e.enforcer.GetFilteredPolicy(0, user)
	out := make([]string, 0, len(rules))
	for _, r := range rules {
		if len(r) > 1 {
			out = append(out, r[1])
		}
	}
	sort.Strings(out)
	return out
}
