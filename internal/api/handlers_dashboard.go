// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

package api

import (
	"context"
	"errors"
	"html/template"
	"net/http"
	"time"

	"github.com/tomtom215/letterbox/internal/auth"
	"github.com/tomtom215/letterbox/internal/hooks"
	"github.com/tomtom215/letterbox/internal/logging"
	"github.com/tomtom215/letterbox/internal/status"
)

// Dashboard renders the device status. Unauthenticated requests get the
// login form when authentication is enabled.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req := h.newRequest(r)

	if err := h.hooks.AuthCheck(ctx, req); err != nil {
		if h.auth == nil {
			h.delay.Failure(ctx)
			respondError(w, r, http.StatusForbidden, req.Printer.T("Access denied"), err)
			return
		}
		if !errors.Is(err, auth.ErrNoToken) {
			h.auth.ClearToken(w)
		}
		h.delay.Success(ctx)
		h.renderLogin(w, r, req, http.StatusOK, "", 0)
		return
	}

	devices, err := h.devices(ctx, req)
	if err != nil {
		h.delay.Failure(ctx)
		respondError(w, r, http.StatusInternalServerError, "", err)
		return
	}
	h.delay.Success(ctx)

	switch negotiate(r.Header.Get("Accept")) {
	case contentJSON:
		out := dashboardJSON{Generated: h.now().UTC(), Devices: make([]deviceJSON, 0, len(devices))}
		for _, d := range devices {
			out.Devices = append(out.Devices, d.json())
		}
		respondJSON(w, r, http.StatusOK, out)
	case contentPlain:
		w.Header().Set("Content-Type", contentPlain+"; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(plain(devices)))
	default:
		h.renderDashboard(w, r, req, devices)
	}
}

// devices loads the permitted devices, optionally filtered by dev_id.
func (h *Handler) devices(ctx context.Context, req *hooks.Request) ([]deviceView, error) {
	registered, err := h.registry.List()
	if err != nil {
		return nil, err
	}
	filter := req.Query.Get(ParamDevice)
	now := h.now()

	var out []deviceView
	for _, dev := range registered {
		if filter != "" && dev.ID != filter {
			continue
		}
		if !req.Permitted(dev.ID) {
			continue
		}
		if err := h.hooks.InitDevice(ctx, dev.ID); err != nil {
			return nil, err
		}
		snap, err := h.store.Load(dev.ID)
		if errors.Is(err, status.ErrNotFound) {
			snap = nil
		} else if err != nil {
			return nil, err
		}
		out = append(out, newDeviceView(req, dev.ID, snap, now))
	}
	if filter != "" && len(out) == 0 && req.User != nil {
		logging.Ctx(ctx).Debug().Str("device_id", filter).Str("user", req.User.Name()).Msg("Device filtered by ACL or unknown")
	}
	return out, nil
}

func (h *Handler) renderDashboard(w http.ResponseWriter, r *http.Request, req *hooks.Request, devices []deviceView) {
	ctx := r.Context()
	p := req.Printer
	details := req.Query.Get(ParamDetails) == "on"
	reload := req.Query.Get(ParamAutoReload) == "on"

	for i := range devices {
		graphics, err := h.hooks.Graphics(ctx, req, devices[i].ID)
		if err != nil {
			respondError(w, r, http.StatusInternalServerError, "", err)
			return
		}
		for _, g := range graphics {
			devices[i].Graphics = append(devices[i].Graphics, graphicView{Label: g.Label, HTML: template.HTML(g.HTML)}) //nolint:gosec // module output is trusted markup
		}
	}

	page := dashboardPage{
		pageBase:  h.base(req),
		Actions:   append(h.actions(req, details, reload), h.hooks.HTMLActions(req)...),
		Devices:   devices,
		Details:   details,
		Generated: formatTime(p, ptrTime(h.now())),
	}
	if details {
		page.DetailLabels = detailLabels(p)
	}
	if reload && h.cfg.Server.AutoReloadInterval > 0 {
		page.Refresh = int(h.cfg.Server.AutoReloadInterval.Seconds())
	}
	if h.auth != nil && req.User != nil {
		form, err := h.auth.NewLoginForm(w)
		if err != nil {
			respondError(w, r, http.StatusInternalServerError, "", err)
			return
		}
		page.Session = form
	}
	h.pages.render(w, r, http.StatusOK, "dashboard", page)
}

// actions returns the built-in toggles.
func (h *Handler) actions(req *hooks.Request, details, reload bool) []hooks.Action {
	p := req.Printer
	toggle := func(label, param string, on bool) hooks.Action {
		if on {
			return hooks.Action{Label: p.T(label) + ": " + p.T("on"), URL: req.Link(param, "off"), Active: true}
		}
		return hooks.Action{Label: p.T(label) + ": " + p.T("off"), URL: req.Link(param, "on")}
	}
	actions := []hooks.Action{
		toggle("Details", ParamDetails, details),
		toggle("Auto reload", ParamAutoReload, reload),
	}
	if req.Query.Get(ParamDevice) != "" {
		actions = append(actions, hooks.Action{Label: p.T("Back"), URL: req.Link(ParamDevice, "")})
	}
	return actions
}

func (h *Handler) base(req *hooks.Request) pageBase {
	b := pageBase{Title: h.cfg.Server.Title, P: req.Printer}
	if req.User != nil {
		b.User = req.User.Name()
	}
	return b
}

// renderLogin issues a fresh session and serves the login form. A non-zero
// refresh sends the browser back to a clean form after that many seconds.
func (h *Handler) renderLogin(w http.ResponseWriter, r *http.Request, req *hooks.Request, code int, message string, refresh int) {
	if refresh > 0 {
		page := messagePage{pageBase: h.base(req), BackURL: req.Link()}
		page.User = ""
		page.Message = message
		page.Refresh = refresh
		page.RefreshURL = req.Link()
		h.pages.render(w, r, code, "message", page)
		return
	}
	form, err := h.auth.NewLoginForm(w)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "", err)
		return
	}
	page := loginPage{pageBase: h.base(req), Form: form}
	page.User = ""
	page.Message = message
	h.pages.render(w, r, code, "login", page)
}

func ptrTime(t time.Time) *time.Time { return &t }
