// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

package logging

import (
	"strings"

	"github.com/rs/zerolog"
)

// SecurityEvent represents a security-relevant event for audit logging.
type SecurityEvent struct {
	// Event is the type of event (e.g., "login_failure", "token_rejected").
	Event     string
	Username  string
	DeviceID  string
	IPAddress string
	UserAgent string
	Success   bool
	// Reason is the operator-facing cause. It is never shown to clients.
	Reason  string
	Details map[string]string
}

// SecurityLogger logs authentication and authorization events with
// sensitive values masked.
type SecurityLogger struct {
	logger zerolog.Logger
}

// NewSecurityLogger creates a new security logger.
func NewSecurityLogger() *SecurityLogger {
	return &SecurityLogger{
		logger: WithComponent("auth"),
	}
}

// NewSecurityLoggerWithLogger creates a security logger with a custom zerolog logger.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewSecurityLoggerWithLogger(logger zerolog.Logger) *SecurityLogger {
	return &SecurityLogger{
		logger: logger.With().Str("component", "auth").Logger(),
	}
}

// LogEvent logs a security event. Failures are logged at warn level.
func (l *SecurityLogger) LogEvent(event *SecurityEvent) {
	e := l.logger.Info()
	status := "success"
	if !event.Success {
		e = l.logger.Warn()
		status = "failed"
	}
	e = e.Str("event", event.Event).Str("status", status)

	if event.Username != "" {
		e = e.Str("username", SanitizeUsername(event.Username))
	}
	if event.DeviceID != "" {
		e = e.Str("device_id", event.DeviceID)
	}
	if event.IPAddress != "" {
		e = e.Str("ip", event.IPAddress)
	}
	if event.UserAgent != "" {
		e = e.Str("user_agent", truncateString(event.UserAgent, 100))
	}
	if event.Reason != "" {
		e = e.Str("reason", truncateString(event.Reason, 200))
	}
	for k, v := range event.Details {
		e = e.Str(k, SanitizeValue(k, v))
	}
	e.Msg("security event")
}

// LogLoginSuccess records a successful dashboard login.
func (l *SecurityLogger) LogLoginSuccess(username, ip, userAgent string) {
	l.LogEvent(&SecurityEvent{
		Event:     "login_success",
		Username:  username,
		IPAddress: ip,
		UserAgent: userAgent,
		Success:   true,
	})
}

// LogLoginFailure records a rejected login with its internal reason.
func (l *SecurityLogger) LogLoginFailure(username, ip, userAgent, reason string) {
	l.LogEvent(&SecurityEvent{
		Event:     "login_failure",
		Username:  username,
		IPAddress: ip,
		UserAgent: userAgent,
		Reason:    reason,
	})
}

// LogTokenRejected records an authentication cookie that failed verification.
func (l *SecurityLogger) LogTokenRejected(ip, reason string) {
	l.LogEvent(&SecurityEvent{
		Event:     "token_rejected",
		IPAddress: ip,
		Reason:    reason,
	})
}

// LogPasswordChanged records a password change.
func (l *SecurityLogger) LogPasswordChanged(username, ip string, success bool, reason string) {
	l.LogEvent(&SecurityEvent{
		Event:     "password_change",
		Username:  username,
		IPAddress: ip,
		Success:   success,
		Reason:    reason,
	})
}

// LogDeviceRejected records an uplink rejected for identity reasons.
func (l *SecurityLogger) LogDeviceRejected(deviceID, ip, reason string) {
	l.LogEvent(&SecurityEvent{
		Event:     "device_rejected",
		DeviceID:  deviceID,
		IPAddress: ip,
		Reason:    reason,
	})
}

// SanitizeToken masks a token, showing only first and last 4 characters.
func SanitizeToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 12 {
		return "***"
	}
	return token[:4] + "..." + token[len(token)-4:]
}

// SanitizeUsername masks a username, keeping first 2 characters.
// Example: "johndoe" -> "jo***"
func SanitizeUsername(username string) string {
	if username == "" {
		return ""
	}
	if len(username) <= 2 {
		return "***"
	}
	return username[:2] + "***"
}

// SanitizeEmail masks an email address.
// Example: "john.doe@example.com" -> "jo***@example.com"
func SanitizeEmail(email string) string {
	atIndex := strings.Index(email, "@")
	if atIndex <= 0 {
		return "***"
	}
	localPart, domain := email[:atIndex], email[atIndex:]
	if len(localPart) <= 2 {
		return "***" + domain
	}
	return localPart[:2] + "***" + domain
}

// SanitizePhone masks a phone number, keeping the last 3 digits.
// Example: "+4915112345678" -> "***678"
func SanitizePhone(phone string) string {
	if len(phone) <= 3 {
		return "***"
	}
	return "***" + phone[len(phone)-3:]
}

// SanitizeValue sanitizes a value based on its key name.
func SanitizeValue(key, value string) string {
	switch strings.ToLower(key) {
	case "token", "password", "secret", "cookie", "session", "auth_token", "captcha":
		return SanitizeToken(value)
	}
	if strings.Contains(value, "@") && strings.Contains(value, ".") {
		return SanitizeEmail(value)
	}
	return value
}

// SanitizeRecipient masks an e-mail address or phone number.
func SanitizeRecipient(address string) string {
	if strings.Contains(address, "@") {
		return SanitizeEmail(address)
	}
	return SanitizePhone(address)
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
