// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

package auth

import (
	"errors"
	"net/http"

	"github.com/tomtom215/letterbox/internal/i18n"
)

// Authentication errors
var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrNoToken            = errors.New("no auth token")
	ErrTokenRevoked       = errors.New("auth token does not match current credential")
)

// FailureKind classifies a rejected login or password change.
type FailureKind int

const (
	// FailureMalformed covers missing or malformed fields.
	FailureMalformed FailureKind = iota
	// FailureExpired covers expired, mismatched and replayed sessions.
	FailureExpired
	// FailureCaptcha covers a missing or wrong CAPTCHA response.
	FailureCaptcha
	// FailureCredentials covers unknown users and wrong passwords.
	FailureCredentials
	// FailureInput covers unacceptable new passwords.
	FailureInput
	// FailureInternal covers storage problems.
	FailureInternal
)

var failureLabels = map[FailureKind]string{
	FailureMalformed:   "malformed",
	FailureExpired:     "expired",
	FailureCaptcha:     "captcha",
	FailureCredentials: "credentials",
	FailureInput:       "input",
	FailureInternal:    "internal",
}

func (k FailureKind) String() string {
	return failureLabels[k]
}

// Failure is a rejected auth action. Err is the cause for the server log
// and never shown to the client.
type Failure struct {
	Kind FailureKind
	Err  error
	// Msg overrides the message key derived from Kind.
	Msg string
}

func fail(kind FailureKind, err error) *Failure {
	return &Failure{Kind: kind, Err: err}
}

func (f *Failure) Error() string {
	return f.Kind.String() + ": " + f.Err.Error()
}

func (f *Failure) Unwrap() error { return f.Err }

// Message returns the i18n key shown to the client.
func (f *Failure) Message() string {
	if f.Msg != "" {
		return f.Msg
	}
	switch f.Kind {
	case FailureExpired:
		return i18n.MsgSessionExpired
	case FailureCaptcha:
		return i18n.MsgCaptchaProblem
	case FailureCredentials:
		return i18n.MsgNotAccepted
	default:
		return i18n.MsgInvestigateLog
	}
}

// Status returns the HTTP status of the response.
func (f *Failure) Status() int {
	switch f.Kind {
	case FailureInput:
		return http.StatusBadRequest
	case FailureInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusUnauthorized
	}
}

// Redirect reports whether the response should send the user back to a
// fresh login form after a short delay.
func (f *Failure) Redirect() bool {
	switch f.Kind {
	case FailureExpired, FailureCaptcha, FailureCredentials:
		return true
	default:
		return false
	}
}
