// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

// Package auth implements the dashboard login.
//
// An anonymous visitor gets a login form carrying half of an HMAC session
// token; the other half travels in the TTN-AUTH-SESSION cookie. A login
// POST must present both halves, the random value they were derived from,
// an optional CAPTCHA response and valid htpasswd credentials. It is
// answered with an AES-GCM encrypted TTN-AUTH-TOKEN cookie that pins the
// user's current password hash, so a password change logs out every other
// browser.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/tomtom215/letterbox/internal/authz"
	"github.com/tomtom215/letterbox/internal/config"
	"github.com/tomtom215/letterbox/internal/hooks"
	"github.com/tomtom215/letterbox/internal/i18n"
	"github.com/tomtom215/letterbox/internal/logging"
	"github.com/tomtom215/letterbox/internal/metrics"
)

// Form fields of the login and password change forms.
const (
	FieldAction       = "action"
	FieldToken        = "token"
	FieldNonce        = "nonce"
	FieldUsername     = "username"
	FieldPassword     = "password"
	FieldOldPassword  = "oldpassword"
	FieldNewPassword  = "newpassword"
	FieldNewPassword2 = "newpassword2"
)

// LoginForm is the data of a freshly issued login form.
type LoginForm struct {
	FormHalf string
	Random   string
	Captcha  *CaptchaWidget
}

// Options configures an Authenticator.
type Options struct {
	Config      config.AuthConfig
	Secret      []byte
	Credentials *Credentials
	Enforcer    *authz.Enforcer
	Nonces      NonceStore
	// Captcha is nil when no CAPTCHA is configured.
	Captcha Captcha
	// Delayer defaults to the delays of Config.
	Delayer *Delayer
}

// Authenticator is the auth module. It runs as a hooks.AuthChecker and
// serves the login, logout and changepw actions.
type Authenticator struct {
	cfg      config.AuthConfig
	sessions *SessionIssuer
	tokens   *TokenIssuer
	creds    *Credentials
	enforcer *authz.Enforcer
	nonces   NonceStore
	captcha  Captcha
	delay    *Delayer
	security *logging.SecurityLogger
	now      func() time.Time
}

// NewAuthenticator wires an authenticator.
func NewAuthenticator(opts Options) (*Authenticator, error) {
	enc, err := NewTokenEncryptor(opts.Secret, "")
	if err != nil {
		return nil, err
	}
	if opts.Credentials == nil || opts.Enforcer == nil {
		return nil, errors.New("auth: credentials and enforcer are required")
	}
	nonces := opts.Nonces
	if nonces == nil {
		nonces = NewMemoryNonceStore()
	}
	delay := opts.Delayer
	if delay == nil {
		delay = NewDelayer(opts.Config.SuccessJitter, opts.Config.FailureDelay, opts.Config.FailureJitter)
	}
	return &Authenticator{
		cfg:      opts.Config,
		sessions: NewSessionIssuer(opts.Secret, opts.Config.SessionLifetime),
		tokens:   NewTokenIssuer(enc, opts.Config.TokenLifetime),
		creds:    opts.Credentials,
		enforcer: opts.Enforcer,
		nonces:   nonces,
		captcha:  opts.Captcha,
		delay:    delay,
		security: logging.NewSecurityLogger(),
		now:      time.Now,
	}, nil
}

// SetClock overrides the time source.
func (a *Authenticator) SetClock(now func() time.Time) {
	a.now = now
}

// Name implements hooks.Module.
func (a *Authenticator) Name() string { return "auth" }

// Close releases the nonce store.
func (a *Authenticator) Close() error {
	return a.nonces.Close()
}

// AuthCheck implements hooks.AuthChecker. It sets req.User on success.
func (a *Authenticator) AuthCheck(_ context.Context, req *hooks.Request) error {
	u, err := a.Authenticate(req.HTTP)
	if err != nil {
		if !errors.Is(err, ErrNoToken) {
			a.security.LogTokenRejected(clientIP(req.HTTP), err.Error())
		}
		return err
	}
	req.User = u
	return nil
}

// Authenticate verifies the auth token cookie of r against the current
// credential file.
func (a *Authenticator) Authenticate(r *http.Request) (*User, error) {
	c, err := r.Cookie(AuthCookie)
	if err != nil || c.Value == "" {
		return nil, ErrNoToken
	}
	tok, err := a.tokens.Parse(c.Value, a.now())
	if err != nil {
		return nil, err
	}
	cred, err := a.creds.Lookup(tok.Username)
	if errors.Is(err, ErrUnknownUser) {
		return nil, fmt.Errorf("%w: user %s removed", ErrTokenRevoked, tok.Username)
	}
	if err != nil {
		return nil, err
	}
	if !constantEqual(cred.Hash, tok.PasswordHash) {
		return nil, ErrTokenRevoked
	}
	return a.userFor(cred)
}

func (a *Authenticator) userFor(cred Credential) (*User, error) {
	if err := a.enforcer.SetACL(cred.Username, cred.ACL); err != nil {
		return nil, err
	}
	return &User{name: cred.Username, enforcer: a.enforcer}, nil
}

// NewLoginForm issues a session token, sets its cookie and returns the
// form data.
func (a *Authenticator) NewLoginForm(w http.ResponseWriter) (*LoginForm, error) {
	tok, err := a.sessions.Generate(a.now())
	if err != nil {
		return nil, err
	}
	form := &LoginForm{FormHalf: tok.FormHalf, Random: tok.Random}
	var captchaHash string
	if a.captcha != nil {
		widget, hash, err := a.captcha.Challenge(a.sessions, tok)
		if err != nil {
			return nil, err
		}
		form.Captcha = &widget
		captchaHash = hash
	}
	value := SessionCookieValue{Half: tok.CookieHalf, Issued: tok.Issued.Unix(), CaptchaHash: captchaHash}
	a.setCookie(w, SessionCookie, value.String(), tok.Issued.Add(a.sessions.Lifetime()))
	return form, nil
}

// verifySession checks the session token of a form POST and consumes its
// nonce.
func (a *Authenticator) verifySession(ctx context.Context, r *http.Request) (SessionCookieValue, string, *Failure) {
	c, err := r.Cookie(SessionCookie)
	if err != nil {
		return SessionCookieValue{}, "", fail(FailureMalformed, fmt.Errorf("%w: session cookie missing", ErrSessionMalformed))
	}
	cookie, err := ParseSessionCookie(c.Value)
	if err != nil {
		return SessionCookieValue{}, "", fail(FailureMalformed, err)
	}
	random := r.PostFormValue(FieldNonce)
	err = a.sessions.Verify(cookie, r.PostFormValue(FieldToken), random, a.now())
	switch {
	case errors.Is(err, ErrSessionMalformed):
		return cookie, random, fail(FailureMalformed, err)
	case err != nil:
		return cookie, random, fail(FailureExpired, err)
	}
	if err := a.nonces.Consume(ctx, random, a.sessions.Lifetime()); err != nil {
		if errors.Is(err, ErrNonceReplayed) {
			return cookie, random, fail(FailureExpired, err)
		}
		return cookie, random, fail(FailureInternal, err)
	}
	return cookie, random, nil
}

// Login handles action=login. On success the auth token cookie is set.
// Errors are *Failure.
func (a *Authenticator) Login(w http.ResponseWriter, r *http.Request) (*User, error) {
	ctx := r.Context()
	ip := clientIP(r)
	username := r.PostFormValue(FieldUsername)

	u, f := a.login(ctx, w, r, username)
	if f != nil {
		metrics.RecordLogin(f.Kind.String())
		a.security.LogLoginFailure(username, ip, r.UserAgent(), f.Error())
		a.delay.Failure(ctx)
		return nil, f
	}
	metrics.RecordLogin("ok")
	a.security.LogLoginSuccess(username, ip, r.UserAgent())
	a.delay.Success(ctx)
	return u, nil
}

func (a *Authenticator) login(ctx context.Context, w http.ResponseWriter, r *http.Request, username string) (*User, *Failure) {
	cookie, random, f := a.verifySession(ctx, r)
	if f != nil {
		return nil, f
	}

	if a.captcha != nil {
		err := a.captcha.Verify(ctx, r, a.sessions, cookie, random)
		switch {
		case errors.Is(err, ErrCaptchaUnavailable):
			logging.Ctx(ctx).Warn().Err(err).Str("service", a.captcha.Name()).Msg("CAPTCHA check skipped")
		case err != nil:
			return nil, fail(FailureCaptcha, err)
		}
	}

	password := r.PostFormValue(FieldPassword)
	if username == "" || password == "" {
		return nil, fail(FailureCredentials, ErrInvalidCredentials)
	}
	cred, err := a.creds.Authenticate(username, password)
	switch {
	case errors.Is(err, ErrUnknownUser), errors.Is(err, ErrInvalidCredentials):
		return nil, fail(FailureCredentials, err)
	case err != nil:
		return nil, fail(FailureInternal, err)
	}

	if err := a.issue(w, cred); err != nil {
		return nil, fail(FailureInternal, err)
	}
	a.clearCookie(w, SessionCookie)
	u, err := a.userFor(cred)
	if err != nil {
		return nil, fail(FailureInternal, err)
	}
	return u, nil
}

func (a *Authenticator) issue(w http.ResponseWriter, cred Credential) error {
	value, expiry, err := a.tokens.Issue(cred.Username, cred.Hash, a.now())
	if err != nil {
		return err
	}
	a.setCookie(w, AuthCookie, value, expiry)
	return nil
}

// Logout clears the auth token cookie.
func (a *Authenticator) Logout(w http.ResponseWriter) {
	a.clearCookie(w, AuthCookie)
}

// ClearToken removes a rejected auth token cookie.
func (a *Authenticator) ClearToken(w http.ResponseWriter) {
	a.clearCookie(w, AuthCookie)
}

// ChangePassword handles action=changepw for an authenticated user. It
// requires a valid session token and the old password, rewrites the
// credential file and issues a fresh auth token. Errors are *Failure.
func (a *Authenticator) ChangePassword(w http.ResponseWriter, r *http.Request, u *User) error {
	ctx := r.Context()
	ip := clientIP(r)

	f := a.changePassword(ctx, w, r, u)
	if f != nil {
		a.security.LogPasswordChanged(u.Name(), ip, false, f.Error())
		a.delay.Failure(ctx)
		return f
	}
	a.security.LogPasswordChanged(u.Name(), ip, true, "")
	a.delay.Success(ctx)
	return nil
}

func (a *Authenticator) changePassword(ctx context.Context, w http.ResponseWriter, r *http.Request, u *User) *Failure {
	if _, _, f := a.verifySession(ctx, r); f != nil {
		return f
	}

	newPassword := r.PostFormValue(FieldNewPassword)
	if newPassword != r.PostFormValue(FieldNewPassword2) {
		return &Failure{Kind: FailureInput, Err: errors.New("new passwords differ"), Msg: i18n.MsgPasswordMismatch}
	}
	cred, err := a.creds.Authenticate(u.Name(), r.PostFormValue(FieldOldPassword))
	switch {
	case errors.Is(err, ErrUnknownUser), errors.Is(err, ErrInvalidCredentials):
		return fail(FailureCredentials, err)
	case err != nil:
		return fail(FailureInternal, err)
	}

	hash, err := a.creds.ChangePassword(ctx, cred.Username, newPassword)
	switch {
	case errors.Is(err, ErrWeakPassword):
		return &Failure{Kind: FailureInput, Err: err, Msg: i18n.MsgWeakPassword}
	case err != nil:
		return fail(FailureInternal, err)
	}
	cred.Hash = hash
	if err := a.issue(w, cred); err != nil {
		return fail(FailureInternal, err)
	}
	return nil
}

func (a *Authenticator) cookiePath() string {
	if a.cfg.CookiePath == "" {
		return "/"
	}
	return a.cfg.CookiePath
}

func (a *Authenticator) setCookie(w http.ResponseWriter, name, value string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     a.cookiePath(),
		Expires:  expires,
		MaxAge:   int(expires.Sub(a.now()).Seconds()),
		Secure:   a.cfg.CookieSecure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (a *Authenticator) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     a.cookiePath(),
		MaxAge:   -1,
		Secure:   a.cfg.CookieSecure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func clientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
