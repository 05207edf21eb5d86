// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/tomtom215/letterbox/internal/config"
	"github.com/tomtom215/letterbox/internal/validation"
)

// signal-cli D-Bus names
const (
	signalService   = "org.asamk.Signal"
	signalPath      = "/org/asamk/Signal"
	signalSendBasic = signalService + ".sendMessage"
)

// busCaller invokes a method on the signal-cli object.
type busCaller interface {
	Call(ctx context.Context, path dbus.ObjectPath, method string, args ...interface{}) error
}

// dbusCaller connects on first use and keeps the connection.
type dbusCaller struct {
	bus string

	mu   sync.Mutex
	conn *dbus.Conn
}

func (d *dbusCaller) connect() (*dbus.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn != nil && d.conn.Connected() {
		return d.conn, nil
	}
	var (
		conn *dbus.Conn
		err  error
	)
	if d.bus == "session" {
		conn, err = dbus.ConnectSessionBus()
	} else {
		conn, err = dbus.ConnectSystemBus()
	}
	if err != nil {
		return nil, fmt.Errorf("connect to %s bus: %w", d.bus, err)
	}
	d.conn = conn
	return conn, nil
}

func (d *dbusCaller) Call(ctx context.Context, path dbus.ObjectPath, method string, args ...interface{}) error {
	conn, err := d.connect()
	if err != nil {
		return err
	}
	return conn.Object(signalService, path).CallWithContext(ctx, method, 0, args...).Err
}

func (d *dbusCaller) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return nil
	}
	err := d.conn.Close()
	d.conn = nil
	return err
}

// SignalChannel delivers notifications through a signal-cli daemon on
// D-Bus.
type SignalChannel struct {
	cfg    config.SignalConfig
	caller busCaller
}

// NewSignalChannel returns the Signal channel for cfg.
func NewSignalChannel(cfg config.SignalConfig) *SignalChannel {
	bus := cfg.Bus
	if bus == "" {
		bus = "system"
	}
	return &SignalChannel{cfg: cfg, caller: &dbusCaller{bus: bus}}
}

// Name implements Channel.
func (c *SignalChannel) Name() string { return ChannelSignal }

// Enabled implements Channel.
func (c *SignalChannel) Enabled() bool { return c.cfg.Enabled }

// ValidateAddress implements Channel.
func (c *SignalChannel) ValidateAddress(address string) error {
	if !validation.IsE164(address) {
		return fmt.Errorf("%w: %q is not an international phone number", ErrInvalidAddress, address)
	}
	return nil
}

// objectPath is the signal-cli object of the configured account. In
// multi-account mode the number becomes a path element with '+' as '_'.
func (c *SignalChannel) objectPath() dbus.ObjectPath {
	if c.cfg.Account == "" {
		return signalPath
	}
	return dbus.ObjectPath(signalPath + "/" + strings.ReplaceAll(c.cfg.Account, "+", "_"))
}

// Send implements Channel.
func (c *SignalChannel) Send(ctx context.Context, address string, msg *Message) error {
	text := msg.Subject
	if msg.Body != "" {
		text = msg.Body
	}
	err := c.caller.Call(ctx, c.objectPath(), signalSendBasic, text, []string{}, address)
	if err != nil {
		return sendError(fmt.Errorf("signal-cli sendMessage: %w", err))
	}
	return nil
}

// Close drops the bus connection.
func (c *SignalChannel) Close() error {
	if d, ok := c.caller.(*dbusCaller); ok {
		return d.Close()
	}
	return nil
}
