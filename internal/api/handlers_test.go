// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

package api

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/letterbox/internal/auth"
	"github.com/tomtom215/letterbox/internal/authz"
	"github.com/tomtom215/letterbox/internal/config"
	"github.com/tomtom215/letterbox/internal/hooks"
	"github.com/tomtom215/letterbox/internal/ingest"
	"github.com/tomtom215/letterbox/internal/registry"
	"github.com/tomtom215/letterbox/internal/status"
)

const sensorABody = `{"dev_id":"sensorA","hardware_serial":"AAAA000000000000","payload_fields":{"box":"full","sensor":500,"tempC":19,"voltage":3.2},"metadata":{"time":"2024-01-01T00:00:00Z","gateways":[{"rssi":-80,"snr":7}]},"counter":1}`

func uplinkBody(dev, serial, box string, counter int) string {
	return fmt.Sprintf(`{"dev_id":%q,"hardware_serial":%q,"payload_fields":{"box":%q,"sensor":120},"counter":%d}`, dev, serial, box, counter)
}

type apiFixture struct {
	cfg     *config.Config
	handler *Handler
	mux     http.Handler
	clock   time.Time
}

func testConfig(dir string, autoRegister bool) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Title:              "Letterbox",
			DefaultLanguage:    "en",
			AutoReloadInterval: 5 * time.Minute,
			MetricsEnabled:     true,
		},
		Storage: config.StorageConfig{DataDir: dir, RegistryFile: "devices.list"},
		Ingest: config.IngestConfig{
			AutoRegister: autoRegister,
			SecretHeader: "X-Letterbox-Secret",
			MaxBodyBytes: 4096,
		},
		Auth: config.AuthConfig{
			SessionLifetime: 5 * time.Minute,
			TokenLifetime:   24 * time.Hour,
			CookiePath:      "/",
		},
	}
}

// newAPIFixture serves a fresh data directory. With htpasswd lines the
// dashboard requires a login.
func newAPIFixture(t *testing.T, autoRegister bool, htpasswd ...string) *apiFixture {
	t.Helper()
	dir := t.TempDir()
	cfg := testConfig(dir, autoRegister)
	store := status.NewStore(dir)
	reg := registry.Open(cfg.Storage.Path(cfg.Storage.RegistryFile))
	hk := hooks.NewRegistry()

	f := &apiFixture{cfg: cfg, clock: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	var authn *auth.Authenticator
	if len(htpasswd) > 0 {
		cfg.Auth.Enabled = true
		path := filepath.Join(dir, "htpasswd")
		if err := os.WriteFile(path, []byte(strings.Join(htpasswd, "\n")+"\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		secret, err := auth.LoadServerSecret(filepath.Join(dir, "server.uuid"))
		if err != nil {
			t.Fatal(err)
		}
		enforcer, err := authz.NewEnforcer()
		if err != nil {
			t.Fatal(err)
		}
		authn, err = auth.NewAuthenticator(auth.Options{
			Config:      cfg.Auth,
			Secret:      secret,
			Credentials: auth.OpenCredentials(path),
			Enforcer:    enforcer,
			Delayer:     &auth.Delayer{},
		})
		if err != nil {
			t.Fatal(err)
		}
		authn.SetClock(func() time.Time { return f.clock })
		t.Cleanup(func() { _ = authn.Close() })
		hk.Register(authn)
	}

	svc := ingest.NewService(cfg.Ingest, reg, store, status.NewLocker(store), hk)
	svc.SetClock(func() time.Time { return f.clock })

	f.handler = NewHandler(Deps{
		Config:   cfg,
		Ingest:   svc,
		Registry: reg,
		Store:    store,
		Hooks:    hk,
		Auth:     authn,
		Delay:    &auth.Delayer{},
	})
	f.handler.SetClock(func() time.Time { return f.clock })
	f.mux = NewRouter(cfg, f.handler, nil).SetupChi()
	return f
}

func (f *apiFixture) do(r *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, r)
	return rec
}

func (f *apiFixture) postUplink(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	return f.do(r)
}

func (f *apiFixture) get(query, accept string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, "/"+query, nil)
	if accept != "" {
		r.Header.Set("Accept", accept)
	}
	for _, c := range cookies {
		r.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}
	return f.do(r)
}

func cookieNamed(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name && c.Value != "" {
			return c
		}
	}
	return nil
}

func TestUplink_SensorAScenario(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, true)
	rec := f.postUplink(t, sensorABody)
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "OK" {
		t.Fatalf("POST = %d %q, want 200 OK", rec.Code, rec.Body.String())
	}

	data, err := os.ReadFile(f.cfg.Storage.Path("devices.list"))
	if err != nil {
		t.Fatal(err)
	}
	if n := bytes.Count(data, []byte("\n")); n != 1 {
		t.Errorf("registry lines = %d, want 1", n)
	}

	rec = f.get("", "application/json")
	var out dashboardJSON
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode dashboard: %v (%s)", err, rec.Body.String())
	}
	if len(out.Devices) != 1 || out.Devices[0].DeviceID != "sensorA" || out.Devices[0].State != "full" {
		t.Fatalf("devices = %+v, want sensorA full", out.Devices)
	}
	if d := out.Devices[0]; d.RSSI == nil || *d.RSSI != -80 || d.Counter == nil || *d.Counter != 1 {
		t.Errorf("readings = %+v", d)
	}

	// Replaying the same serial adds no registry entry.
	if rec := f.postUplink(t, sensorABody); rec.Code != http.StatusOK {
		t.Fatalf("replay POST = %d", rec.Code)
	}
	data, _ = os.ReadFile(f.cfg.Storage.Path("devices.list"))
	if n := bytes.Count(data, []byte("\n")); n != 1 {
		t.Errorf("registry lines after replay = %d, want 1", n)
	}
}

func TestUplink_ErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		autoRegister bool
		setup        string
		body         string
		want         int
	}{
		{"malformed json", true, "", `{"dev_id":`, http.StatusInternalServerError},
		{"missing payload", true, "", `{"dev_id":"sensorA","hardware_serial":"AAAA000000000000"}`, http.StatusInternalServerError},
		{"unknown device", false, "", sensorABody, http.StatusUnauthorized},
		{"serial mismatch", true, sensorABody, uplinkBody("sensorA", "BBBB000000000000", "empty", 2), http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newAPIFixture(t, tt.autoRegister)
			if tt.setup != "" {
				if rec := f.postUplink(t, tt.setup); rec.Code != http.StatusOK {
					t.Fatalf("setup POST = %d", rec.Code)
				}
			}
			rec := f.postUplink(t, tt.body)
			if rec.Code != tt.want {
				t.Errorf("POST = %d, want %d", rec.Code, tt.want)
			}
			if strings.Contains(rec.Body.String(), "serial") {
				t.Errorf("response leaks the failed check: %q", rec.Body.String())
			}
		})
	}
}

func TestUplink_TooLarge(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, true)
	if rec := f.postUplink(t, strings.Repeat(" ", 8192)+sensorABody); rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("POST = %d, want 413", rec.Code)
	}
}

func TestUplinkStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want int
	}{
		{&ingest.ValidationError{Err: errors.New("x")}, http.StatusInternalServerError},
		{&ingest.AuthError{Err: errors.New("x")}, http.StatusUnauthorized},
		{&ingest.AuthError{Err: errors.New("x"), Forbidden: true}, http.StatusForbidden},
		{&ingest.ConfigurationError{Err: errors.New("x")}, http.StatusInternalServerError},
		{&ingest.HookError{Err: errors.New("x")}, http.StatusInternalServerError},
		{ingest.ErrBusy, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		if got, _ := uplinkStatus(tt.err); got != tt.want {
			t.Errorf("uplinkStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestDashboard_Formats(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, true)
	f.postUplink(t, uplinkBody("sensorA", "AAAA000000000000", "empty", 1))
	f.clock = f.clock.Add(time.Hour)
	f.postUplink(t, uplinkBody("sensorA", "AAAA000000000000", "full", 2))
	f.clock = f.clock.Add(30 * time.Minute)

	plainOut := f.get("", "text/plain").Body.String()
	for _, want := range []string{"sensorA.state=filled\n", "sensorA.counter=2\n", "sensorA.since_change_s=1800\n", "sensorA.last_filled=2024-01-01T01:00:00Z\n"} {
		if !strings.Contains(plainOut, want) {
			t.Errorf("plain output missing %q:\n%s", want, plainOut)
		}
	}

	html := f.get("?details=on", "text/html").Body.String()
	for _, want := range []string{"sensorA", "filled", "Details: on", `href="?details=off"`} {
		if !strings.Contains(html, want) {
			t.Errorf("html missing %q", want)
		}
	}

	de := f.get("?lang=de", "").Body.String()
	if !strings.Contains(de, "befüllt") || !strings.Contains(de, `lang="de"`) {
		t.Errorf("German dashboard not rendered")
	}

	if rec := f.get("?dev_id=other", "application/json"); !strings.Contains(rec.Body.String(), `"devices":[]`) {
		t.Errorf("filtered dashboard = %s", rec.Body.String())
	}
}

var hiddenField = regexp.MustCompile(`name="(token|nonce)" value="([^"]*)"`)

// loginForm fetches the login page and returns the form values and the
// session cookie.
func (f *apiFixture) loginForm(t *testing.T) (url.Values, *http.Cookie) {
	t.Helper()
	rec := f.get("", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `name="password"`) {
		t.Fatalf("GET = %d, want login form", rec.Code)
	}
	values := url.Values{}
	for _, m := range hiddenField.FindAllStringSubmatch(rec.Body.String(), -1) {
		values.Set(m[1], m[2])
	}
	c := cookieNamed(rec, auth.SessionCookie)
	if c == nil || values.Get("token") == "" || values.Get("nonce") == "" {
		t.Fatalf("login form incomplete: %v %v", values, c)
	}
	return values, c
}

func (f *apiFixture) postForm(values url.Values, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(values.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for _, c := range cookies {
		r.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}
	return f.do(r)
}

func TestDashboard_LoginFlow(t *testing.T) {
	t.Parallel()

	// W6ph5Mm5Pz8GgiULbPgzG37mj9g= is {SHA} of "password".
	f := newAPIFixture(t, true, "alice:{SHA}W6ph5Mm5Pz8GgiULbPgzG37mj9g=:sensorA")
	f.postUplink(t, sensorABody)
	f.postUplink(t, uplinkBody("sensorB", "BBBB000000000000", "empty", 1))

	values, session := f.loginForm(t)
	values.Set("action", "login")
	values.Set("username", "alice")
	values.Set("password", "wrong")
	if rec := f.postForm(values, session); rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad password POST = %d, want 401", rec.Code)
	} else if cookieNamed(rec, auth.AuthCookie) != nil {
		t.Fatal("auth cookie issued for a bad password")
	}

	values, session = f.loginForm(t)
	values.Set("action", "login")
	values.Set("username", "alice")
	values.Set("password", "password")
	rec := f.postForm(values, session)
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("login POST = %d, want 303: %s", rec.Code, rec.Body.String())
	}
	token := cookieNamed(rec, auth.AuthCookie)
	if token == nil {
		t.Fatal("no auth cookie after login")
	}

	// The consumed session cannot be replayed.
	if rec := f.postForm(values, session); rec.Code != http.StatusUnauthorized {
		t.Errorf("replayed login POST = %d, want 401", rec.Code)
	}

	rec = f.get("", "application/json", token)
	var out dashboardJSON
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode dashboard: %v (%s)", err, rec.Body.String())
	}
	if len(out.Devices) != 1 || out.Devices[0].DeviceID != "sensorA" {
		t.Errorf("devices = %+v, want sensorA only", out.Devices)
	}

	html := f.get("", "", token).Body.String()
	if !strings.Contains(html, "Logged in as alice") || !strings.Contains(html, `value="changepw"`) {
		t.Errorf("dashboard lacks user controls")
	}

	rec = f.postForm(url.Values{"action": {"logout"}}, token)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Logged out") {
		t.Errorf("logout = %d", rec.Code)
	}
	var cleared bool
	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.AuthCookie && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Error("logout did not clear the auth cookie")
	}
}

func TestDashboard_RejectedTokenShowsLogin(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, true, "alice:{SHA}5en6G6MezRroT3XKqkdPOmY/BfQ=")
	rec := f.get("", "", &http.Cookie{Name: auth.AuthCookie, Value: "garbage"})
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `name="password"`) {
		t.Fatalf("GET = %d, want login form", rec.Code)
	}
	var cleared bool
	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.AuthCookie && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Error("rejected token cookie not cleared")
	}
}

func TestFormPostWithoutAuth(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, true)
	if rec := f.postForm(url.Values{"action": {"login"}}); rec.Code != http.StatusNotFound {
		t.Errorf("POST = %d, want 404", rec.Code)
	}
}

func TestRouter_Methods(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, true)
	tests := []struct {
		method, path string
		want         int
	}{
		{http.MethodHead, "/", http.StatusOK},
		{http.MethodPut, "/", http.StatusMethodNotAllowed},
		{http.MethodGet, "/cgi-bin/letterbox.cgi", http.StatusOK},
		{http.MethodGet, "/healthz", http.StatusOK},
		{http.MethodHead, "/healthz", http.StatusOK},
		{http.MethodHead, "/cgi-bin/letterbox.cgi", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
	}
	for _, tt := range tests {
		rec := f.do(httptest.NewRequest(tt.method, tt.path, nil))
		if rec.Code != tt.want {
			t.Errorf("%s %s = %d, want %d", tt.method, tt.path, rec.Code, tt.want)
		}
	}
}

func TestNegotiate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		accept, want string
	}{
		{"", contentHTML},
		{"*/*", contentHTML},
		{"text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8", contentHTML},
		{"application/json", contentJSON},
		{"text/plain", contentPlain},
		{"text/plain;q=0.5, application/json", contentJSON},
		{"application/json;q=0.1, text/plain;q=0.9", contentPlain},
		{"image/png", contentHTML},
	}
	for _, tt := range tests {
		if got := negotiate(tt.accept); got != tt.want {
			t.Errorf("negotiate(%q) = %q, want %q", tt.accept, got, tt.want)
		}
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	f := newAPIFixture(t, true)
	rec := f.get("healthz", "")
	var st HealthStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusOK || st.Status != "healthy" || !st.DataDir {
		t.Errorf("health = %d %+v", rec.Code, st)
	}
}
