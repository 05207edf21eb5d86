// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

package api

import (
	"errors"
	"net/http"

	"github.com/tomtom215/letterbox/internal/auth"
	"github.com/tomtom215/letterbox/internal/hooks"
	"github.com/tomtom215/letterbox/internal/i18n"
)

const maxFormBytes = 16 << 10

// Action handles the login, logout and changepw form posts. Any other
// action gets a fresh login form.
func (h *Handler) Action(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req := h.newRequest(r)
	if h.auth == nil {
		h.delay.Failure(ctx)
		respondError(w, r, http.StatusNotFound, "", errors.New("form post without authentication enabled"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		h.delay.Failure(ctx)
		h.authFailure(w, r, req, &auth.Failure{Kind: auth.FailureMalformed, Err: err})
		return
	}

	switch r.PostFormValue(auth.FieldAction) {
	case "login":
		if _, err := h.auth.Login(w, r); err != nil {
			h.authFailure(w, r, req, err)
			return
		}
		http.Redirect(w, r, selfURL(r, req), http.StatusSeeOther)
	case "logout":
		h.auth.Logout(w)
		h.delay.Success(ctx)
		h.renderLogin(w, r, req, http.StatusOK, req.Printer.T(i18n.MsgLoggedOut), 0)
	case "changepw":
		if err := h.hooks.AuthCheck(ctx, req); err != nil {
			h.delay.Failure(ctx)
			h.authFailure(w, r, req, &auth.Failure{Kind: auth.FailureExpired, Err: err})
			return
		}
		u, ok := req.User.(*auth.User)
		if !ok {
			h.delay.Failure(ctx)
			h.authFailure(w, r, req, &auth.Failure{Kind: auth.FailureInternal, Err: errors.New("user is not an htpasswd user")})
			return
		}
		if err := h.auth.ChangePassword(w, r, u); err != nil {
			h.authFailure(w, r, req, err)
			return
		}
		page := messagePage{pageBase: h.base(req), BackURL: req.Link()}
		page.Message = req.Printer.T(i18n.MsgPasswordChanged)
		h.pages.render(w, r, http.StatusOK, "message", page)
	default:
		h.delay.Success(ctx)
		h.renderLogin(w, r, req, http.StatusOK, "", 0)
	}
}

// authFailure answers a rejected auth action with the translated generic
// message. The cause is logged only.
func (h *Handler) authFailure(w http.ResponseWriter, r *http.Request, req *hooks.Request, err error) {
	var f *auth.Failure
	if !errors.As(err, &f) {
		f = &auth.Failure{Kind: auth.FailureInternal, Err: err}
	}
	h.logger.Debug().Str("kind", f.Kind.String()).Err(f.Err).Msg("Auth action rejected")

	msg := req.Printer.T(f.Message())
	if f.Redirect() && h.cfg.Auth.RedirectDelay > 0 {
		h.renderLogin(w, r, req, f.Status(), msg, int(h.cfg.Auth.RedirectDelay.Seconds()))
		return
	}
	if f.Status() == http.StatusUnauthorized {
		h.renderLogin(w, r, req, f.Status(), msg, 0)
		return
	}
	page := messagePage{pageBase: h.base(req), BackURL: req.Link()}
	page.Message = msg
	h.pages.render(w, r, f.Status(), "message", page)
}

// selfURL is the dashboard URL of the current script with its query.
func selfURL(r *http.Request, req *hooks.Request) string {
	path := r.URL.Path
	if path == "" {
		path = "/"
	}
	if link := req.Link(); link != "?" {
		return path + link
	}
	return path
}
