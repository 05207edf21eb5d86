// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// SessionCookie holds the cookie half of the login session token.
const SessionCookie = "TTN-AUTH-SESSION"

// Session token errors
var (
	ErrSessionMalformed = errors.New("session token malformed")
	ErrSessionExpired   = errors.New("session token expired")
	ErrSessionMismatch  = errors.New("session token mismatch")
)

const (
	// tokenSplit is where the hex HMAC is cut into form and cookie half.
	tokenSplit = 32
	randomLen  = 16
	// maxClockSkew tolerates issue times slightly in the future.
	maxClockSkew = time.Minute
)

var (
	halfPattern   = regexp.MustCompile(`^[0-9a-f]{32}$`)
	randomPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)
	hashPattern   = regexp.MustCompile(`^[0-9a-f]{64}$`)
)

// SessionToken is a freshly generated login session.
type SessionToken struct {
	FormHalf   string
	CookieHalf string
	Random     string
	Issued     time.Time
}

// SessionCookieValue is the parsed session cookie.
type SessionCookieValue struct {
	Half   string
	Issued int64
	// CaptchaHash binds the internal CAPTCHA answer, if one was issued.
	CaptchaHash string
}

// String renders the cookie value.
func (c SessionCookieValue) String() string {
	s := c.Half + ":" + strconv.FormatInt(c.Issued, 10)
	if c.CaptchaHash != "" {
		s += ":" + c.CaptchaHash
	}
	return s
}

// ParseSessionCookie checks the cookie value shape: the half, then a numeric
// time, then an optional CAPTCHA hash.
func ParseSessionCookie(value string) (SessionCookieValue, error) {
	parts := strings.Split(value, ":")
	if !halfPattern.MatchString(parts[0]) {
		return SessionCookieValue{}, fmt.Errorf("%w: cookie half", ErrSessionMalformed)
	}
	if len(parts) < 2 || parts[1] == "" {
		return SessionCookieValue{}, fmt.Errorf("%w: time missing", ErrSessionMalformed)
	}
	issued, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || issued <= 0 {
		return SessionCookieValue{}, fmt.Errorf("%w: time not numeric", ErrSessionMalformed)
	}
	c := SessionCookieValue{Half: parts[0], Issued: issued}
	switch len(parts) {
	case 2:
	case 3:
		if !hashPattern.MatchString(parts[2]) {
			return SessionCookieValue{}, fmt.Errorf("%w: captcha hash", ErrSessionMalformed)
		}
		c.CaptchaHash = parts[2]
	default:
		return SessionCookieValue{}, fmt.Errorf("%w: too many fields", ErrSessionMalformed)
	}
	return c, nil
}

// SessionIssuer creates and checks split session tokens.
type SessionIssuer struct {
	secret   []byte
	lifetime time.Duration
}

// NewSessionIssuer returns an issuer keyed by the server secret.
func NewSessionIssuer(secret []byte, lifetime time.Duration) *SessionIssuer {
	return &SessionIssuer{secret: secret, lifetime: lifetime}
}

// Lifetime returns how long a session token verifies.
func (s *SessionIssuer) Lifetime() time.Duration {
	return s.lifetime
}

func (s *SessionIssuer) mac(parts ...string) string {
	m := hmac.New(sha256.New, s.secret)
	m.Write([]byte(strings.Join(parts, ":")))
	return hex.EncodeToString(m.Sum(nil))
}

// Generate returns a new session token issued at now.
func (s *SessionIssuer) Generate(now time.Time) (SessionToken, error) {
	buf := make([]byte, randomLen)
	if _, err := rand.Read(buf); err != nil {
		return SessionToken{}, fmt.Errorf("generate session random: %w", err)
	}
	random := hex.EncodeToString(buf)
	issued := now.Unix()
	token := s.mac(strconv.FormatInt(issued, 10), random)
	return SessionToken{
		FormHalf:   token[:tokenSplit],
		CookieHalf: token[tokenSplit:],
		Random:     random,
		Issued:     time.Unix(issued, 0),
	}, nil
}

// Verify reconstructs the token from the cookie time and the submitted
// random value and compares both halves in constant time. The token must be
// younger than the lifetime.
func (s *SessionIssuer) Verify(cookie SessionCookieValue, formHalf, random string, now time.Time) error {
	if !halfPattern.MatchString(formHalf) {
		return fmt.Errorf("%w: form half", ErrSessionMalformed)
	}
	if !randomPattern.MatchString(random) {
		return fmt.Errorf("%w: random", ErrSessionMalformed)
	}
	ref := s.mac(strconv.FormatInt(cookie.Issued, 10), random)
	if !hmac.Equal([]byte(ref[:tokenSplit]), []byte(formHalf)) || !hmac.Equal([]byte(ref[tokenSplit:]), []byte(cookie.Half)) {
		return ErrSessionMismatch
	}
	issued := time.Unix(cookie.Issued, 0)
	if issued.After(now.Add(maxClockSkew)) {
		return fmt.Errorf("%w: issued in the future", ErrSessionMismatch)
	}
	if now.Sub(issued) >= s.lifetime {
		return ErrSessionExpired
	}
	return nil
}

// CaptchaHash binds an internal CAPTCHA answer to one session nonce.
func (s *SessionIssuer) CaptchaHash(issued int64, random, answer string) string {
	return s.mac("captcha", strconv.FormatInt(issued, 10), random, answer)
}

// VerifyCaptcha checks an answer against the hash stored in the cookie.
func (s *SessionIssuer) VerifyCaptcha(cookie SessionCookieValue, random, answer string) bool {
	if cookie.CaptchaHash == "" || answer == "" {
		return false
	}
	ref := s.CaptchaHash(cookie.Issued, random, strings.TrimSpace(answer))
	return hmac.Equal([]byte(ref), []byte(cookie.CaptchaHash))
}
