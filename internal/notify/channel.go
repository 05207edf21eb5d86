// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

// Package notify sends filled and emptied notifications.
//
// Recipients are read from a flat file on every dispatch:
//
//	email=alice@example.org
//	signal=+4915112345678:de
//
// The optional suffix selects the message language. Each channel can be
// disabled, in which case recipients are still validated and the send is
// logged without contacting the channel's service.
package notify

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/tomtom215/letterbox/internal/models"
)

// Channel names as used in the recipients file.
const (
	ChannelEmail  = "email"
	ChannelSignal = "signal"
)

// Channel is a notification transport.
type Channel interface {
	// Name returns the recipients file prefix of the channel.
	Name() string

	// Enabled reports whether Send may contact the service.
	Enabled() bool

	// ValidateAddress checks a recipient address for this channel.
	ValidateAddress(address string) error

	// Send delivers msg to address.
	Send(ctx context.Context, address string, msg *Message) error
}

// Message is a rendered notification.
type Message struct {
	Subject  string
	Body     string
	DeviceID string
	State    models.BoxState
	Time     time.Time
}

// Error codes for delivery failures.
const (
	ErrorCodeInvalidRecipient = "INVALID_RECIPIENT"
	ErrorCodeConnectionFailed = "CONNECTION_FAILED"
	ErrorCodeAuthFailed       = "AUTH_FAILED"
	ErrorCodeRateLimited      = "RATE_LIMITED"
	ErrorCodeTimeout          = "TIMEOUT"
	ErrorCodeServiceMissing   = "SERVICE_MISSING"
	ErrorCodeUnknown          = "UNKNOWN"
)

// ErrInvalidAddress is returned by ValidateAddress.
var ErrInvalidAddress = errors.New("invalid recipient address")

// SendError is a failed delivery with a machine readable code.
type SendError struct {
	Code string
	Err  error
}

func (e *SendError) Error() string {
	return e.Code + ": " + e.Err.Error()
}

func (e *SendError) Unwrap() error { return e.Err }

// Transient reports whether a later attempt might succeed.
func (e *SendError) Transient() bool {
	switch e.Code {
	case ErrorCodeConnectionFailed, ErrorCodeTimeout, ErrorCodeRateLimited:
		return true
	default:
		return false
	}
}

// classifyError maps transport errors to error codes.
func classifyError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorCodeTimeout
	}
	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "authentication") || strings.Contains(errStr, "auth"):
		return ErrorCodeAuthFailed
	case strings.Contains(errStr, "serviceunknown") || strings.Contains(errStr, "not provided by any"):
		return ErrorCodeServiceMissing
	case strings.Contains(errStr, "connection") || strings.Contains(errStr, "connect"):
		return ErrorCodeConnectionFailed
	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline"):
		return ErrorCodeTimeout
	case strings.Contains(errStr, "recipient") || strings.Contains(errStr, "mailbox"):
		return ErrorCodeInvalidRecipient
	case strings.Contains(errStr, "rate") || strings.Contains(errStr, "limit"):
		return ErrorCodeRateLimited
	default:
		return ErrorCodeUnknown
	}
}

func sendError(err error) error {
	if err == nil {
		return nil
	}
	return &SendError{Code: classifyError(err), Err: err}
}
