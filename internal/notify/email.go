// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/tomtom215/letterbox/internal/config"
	"github.com/tomtom215/letterbox/internal/validation"
)

// EmailChannel delivers notifications via SMTP.
type EmailChannel struct {
	cfg     config.EmailConfig
	timeout time.Duration
}

// NewEmailChannel returns the e-mail channel for cfg.
func NewEmailChannel(cfg config.EmailConfig, timeout time.Duration) *EmailChannel {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &EmailChannel{cfg: cfg, timeout: timeout}
}

// Name implements Channel.
func (c *EmailChannel) Name() string { return ChannelEmail }

// Enabled implements Channel.
func (c *EmailChannel) Enabled() bool { return c.cfg.Enabled }

// ValidateAddress implements Channel.
func (c *EmailChannel) ValidateAddress(address string) error {
	if !validation.IsEmail(address) {
		return fmt.Errorf("%w: %q is not a mail address", ErrInvalidAddress, address)
	}
	return nil
}

// Send implements Channel.
func (c *EmailChannel) Send(ctx context.Context, address string, msg *Message) error {
	return sendError(c.sendSMTP(ctx, address, c.buildMessage(address, msg)))
}

// buildMessage renders a plain text mail with an encoded subject.
func (c *EmailChannel) buildMessage(to string, msg *Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", c.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&b, "Date: %s\r\n", msg.Time.Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n")
	if msg.DeviceID != "" {
		fmt.Fprintf(&b, "X-Letterbox-Device: %s\r\n", msg.DeviceID)
	}
	b.WriteString("\r\n")
	// SMTP requires CRLF line endings in DATA.
	b.WriteString(strings.ReplaceAll(strings.ReplaceAll(msg.Body, "\r\n", "\n"), "\n", "\r\n"))
	b.WriteString("\r\n")
	return b.String()
}

func (c *EmailChannel) sendSMTP(ctx context.Context, to, body string) error {
	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))

	dialer := &net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer func() { _ = conn.Close() }()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(c.timeout))
	}

	client, err := smtp.NewClient(conn, c.cfg.Host)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer func() { _ = client.Close() }()

	if c.cfg.UseTLS {
		tlsConfig := &tls.Config{
			ServerName: c.cfg.Host,
			MinVersion: tls.VersionTLS12,
		}
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("failed to start TLS: %w", err)
		}
	}

	if c.cfg.Username != "" && c.cfg.Password != "" {
		auth := smtp.PlainAuth("", c.cfg.Username, c.cfg.Password, c.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	if err := client.Mail(c.cfg.From); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("failed to set recipient: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to start message: %w", err)
	}
	if _, err := w.Write([]byte(body)); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close message: %w", err)
	}
	// The message is accepted once DATA is closed.
	_ = client.Quit()
	return nil
}
