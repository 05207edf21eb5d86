// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

package auth

import (
	"context"

	"github.com/tomtom215/letterbox/internal/authz"
)

// User is an authenticated dashboard user.
type User struct {
	name     string
	enforcer *authz.Enforcer
}

// Name returns the username.
func (u *User) Name() string { return u.name }

// Permitted reports whether the user may see deviceID.
func (u *User) Permitted(deviceID string) bool {
	return u != nil && u.enforcer.Permitted(u.name, deviceID)
}

// Devices returns the user's ACL entries.
func (u *User) Devices() []string {
	return u.enforcer.Devices(u.name)
}

type userKey struct{}

// WithUser stores u in ctx.
func WithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// UserFromContext returns the user stored by WithUser, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userKey{}).(*User)
	return u
}
