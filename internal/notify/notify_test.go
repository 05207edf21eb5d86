// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

package notify

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"golang.org/x/text/language"

	"github.com/tomtom215/letterbox/internal/config"
	"github.com/tomtom215/letterbox/internal/logging"
	"github.com/tomtom215/letterbox/internal/models"
)

type busCall struct {
	path   dbus.ObjectPath
	method string
	args   []interface{}
}

type fakeBus struct {
	mu    sync.Mutex
	calls []busCall
	err   error
}

func (f *fakeBus) Call(_ context.Context, path dbus.ObjectPath, method string, args ...interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, busCall{path: path, method: method, args: args})
	return f.err
}

func (f *fakeBus) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// smtpServer accepts plain SMTP sessions and records the DATA of each.
type smtpServer struct {
	ln    net.Listener
	mu    sync.Mutex
	conns int
	mails []string
}

func newSMTPServer(t *testing.T) *smtpServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := &smtpServer{ln: ln}
	t.Cleanup(func() { _ = ln.Close() })
	go s.serve()
	return s
}

func (s *smtpServer) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *smtpServer) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns++
		s.mu.Unlock()
		go s.session(conn)
	}
}

func (s *smtpServer) session(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	reply := func(line string) { _, _ = conn.Write([]byte(line + "\r\n")) }
	reply("220 localhost ESMTP")
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		cmd := strings.ToUpper(strings.TrimSpace(line))
		switch {
		case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
			reply("250 localhost")
		case strings.HasPrefix(cmd, "MAIL"), strings.HasPrefix(cmd, "RCPT"):
			reply("250 OK")
		case cmd == "DATA":
			reply("354 go ahead")
			var body strings.Builder
			for {
				l, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if l == ".\r\n" {
					break
				}
				body.WriteString(l)
			}
			s.mu.Lock()
			s.mails = append(s.mails, body.String())
			s.mu.Unlock()
			reply("250 queued")
		case cmd == "QUIT":
			reply("221 bye")
			return
		default:
			reply("502 unsupported")
		}
	}
}

func (s *smtpServer) stats() (int, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns, append([]string(nil), s.mails...)
}

func writeRecipients(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "recipients.list")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func update(state models.BoxState) *models.Update {
	at := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	return &models.Update{
		DeviceID: "sensorA",
		Received: at,
		Snapshot: &models.Snapshot{DeviceID: "sensorA", State: state, LastReceived: at},
		Previous: models.BoxEmpty,
	}
}

type testDispatcher struct {
	d    *Dispatcher
	bus  *fakeBus
	smtp *smtpServer
	logs *syncBuffer
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestDispatcher(t *testing.T, cfg config.NotifyConfig) *testDispatcher {
	t.Helper()
	td := &testDispatcher{bus: &fakeBus{}, smtp: newSMTPServer(t), logs: &syncBuffer{}}
	cfg.Email.Host = "127.0.0.1"
	cfg.Email.Port = td.smtp.port()
	cfg.Email.From = "letterbox@example.org"
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	signal := NewSignalChannel(cfg.Signal)
	signal.caller = td.bus
	logger := logging.NewTestLogger(td.logs)
	td.d = NewDispatcher(&logger, cfg, language.English, NewEmailChannel(cfg.Email, cfg.Timeout), signal)
	return td
}

func outcomes(results []Result) map[string]string {
	out := make(map[string]string, len(results))
	for _, r := range results {
		out[r.Recipient.Address] = r.Outcome
	}
	return out
}

func TestDispatcher_DryRun(t *testing.T) {
	t.Parallel()

	td := newTestDispatcher(t, config.NotifyConfig{
		RecipientsFile: writeRecipients(t, "email=alice@example.org", "signal=+4915112345678:de"),
	})
	results := td.d.Notify(context.Background(), update(models.BoxFilled))

	want := map[string]string{"alice@example.org": OutcomeDryRun, "+4915112345678": OutcomeDryRun}
	got := outcomes(results)
	for addr, outcome := range want {
		if got[addr] != outcome {
			t.Errorf("outcome[%s] = %q, want %q", addr, got[addr], outcome)
		}
	}
	if n := td.bus.count(); n != 0 {
		t.Errorf("D-Bus calls = %d, want 0", n)
	}
	if conns, _ := td.smtp.stats(); conns != 0 {
		t.Errorf("SMTP connections = %d, want 0", conns)
	}
	logs := td.logs.String()
	if strings.Count(logs, "would send notification") != 2 {
		t.Errorf("dry run not logged twice:\n%s", logs)
	}
	if !strings.Contains(logs, "Briefkasten sensorA: befüllt") {
		t.Errorf("German recipient did not get a German subject:\n%s", logs)
	}
}

func TestDispatcher_StoreDataOnlyOnEdges(t *testing.T) {
	t.Parallel()

	td := newTestDispatcher(t, config.NotifyConfig{
		RecipientsFile: writeRecipients(t, "signal=+4915112345678"),
		Signal:         config.SignalConfig{Enabled: true},
	})
	ctx := context.Background()
	for _, state := range []models.BoxState{models.BoxFull, models.BoxEmpty} {
		if err := td.d.StoreData(ctx, update(state)); err != nil {
			t.Fatalf("StoreData(%s) error = %v", state, err)
		}
	}
	if n := td.bus.count(); n != 0 {
		t.Fatalf("steady states sent %d messages", n)
	}
	for _, state := range []models.BoxState{models.BoxFilled, models.BoxEmptied} {
		if err := td.d.StoreData(ctx, update(state)); err != nil {
			t.Fatalf("StoreData(%s) error = %v", state, err)
		}
	}
	if n := td.bus.count(); n != 2 {
		t.Errorf("edge states sent %d messages, want 2", n)
	}
}

func TestDispatcher_Signal(t *testing.T) {
	t.Parallel()

	td := newTestDispatcher(t, config.NotifyConfig{
		RecipientsFile: writeRecipients(t, "signal=+4915112345678"),
		Signal:         config.SignalConfig{Enabled: true, Account: "+4917000000000"},
	})
	results := td.d.Notify(context.Background(), update(models.BoxEmptied))
	if len(results) != 1 || results[0].Outcome != OutcomeSent {
		t.Fatalf("results = %+v", results)
	}
	call := td.bus.calls[0]
	if call.method != "org.asamk.Signal.sendMessage" || call.path != "/org/asamk/Signal/_4917000000000" {
		t.Errorf("call = %s on %s", call.method, call.path)
	}
	if len(call.args) != 3 || call.args[2] != "+4915112345678" {
		t.Fatalf("args = %#v", call.args)
	}
	if text, _ := call.args[0].(string); !strings.Contains(text, "Letterbox sensorA was emptied at ") {
		t.Errorf("message = %q", text)
	}
	if attachments, ok := call.args[1].([]string); !ok || len(attachments) != 0 {
		t.Errorf("attachments = %#v, want empty list", call.args[1])
	}
}

func TestDispatcher_Email(t *testing.T) {
	t.Parallel()

	td := newTestDispatcher(t, config.NotifyConfig{
		RecipientsFile: writeRecipients(t, "email=alice@example.org:de"),
		Email:          config.EmailConfig{Enabled: true},
	})
	results := td.d.Notify(context.Background(), update(models.BoxFilled))
	if len(results) != 1 || results[0].Outcome != OutcomeSent {
		t.Fatalf("results = %+v", results)
	}
	_, mails := td.smtp.stats()
	if len(mails) != 1 {
		t.Fatalf("mails = %d, want 1", len(mails))
	}
	mail := mails[0]
	for _, want := range []string{
		"From: letterbox@example.org\r\n",
		"To: alice@example.org\r\n",
		"Subject: =?utf-8?q?",
		"X-Letterbox-Device: sensorA\r\n",
		"Briefkasten sensorA wurde um",
	} {
		if !strings.Contains(mail, want) {
			t.Errorf("mail lacks %q:\n%s", want, mail)
		}
	}
}

func TestDispatcher_FailuresDoNotBlock(t *testing.T) {
	t.Parallel()

	td := newTestDispatcher(t, config.NotifyConfig{
		RecipientsFile: writeRecipients(t,
			"signal=+4915112345678",
			"signal=0151-not-e164",
			"pager=12345",
			"email=alice@example.org",
			"garbage line",
		),
		Email:  config.EmailConfig{Enabled: true},
		Signal: config.SignalConfig{Enabled: true},
	})
	td.bus.err = errors.New("org.freedesktop.DBus.Error.ServiceUnknown: The name org.asamk.Signal was not provided by any .service files")

	results := td.d.Notify(context.Background(), update(models.BoxFilled))
	got := outcomes(results)
	want := map[string]string{
		"+4915112345678":    OutcomeFailed,
		"0151-not-e164":     OutcomeInvalid,
		"12345":             OutcomeNoChannel,
		"alice@example.org": OutcomeSent,
	}
	for addr, outcome := range want {
		if got[addr] != outcome {
			t.Errorf("outcome[%s] = %q, want %q", addr, got[addr], outcome)
		}
	}
	for _, r := range results {
		if r.Outcome != OutcomeFailed {
			continue
		}
		var se *SendError
		if !errors.As(r.Err, &se) || se.Code != ErrorCodeServiceMissing || se.Transient() {
			t.Errorf("failure = %v, want permanent %s", r.Err, ErrorCodeServiceMissing)
		}
	}
	if !strings.Contains(td.logs.String(), `"line":5`) {
		t.Errorf("malformed line not logged:\n%s", td.logs.String())
	}
}

func TestDispatcher_RateLimit(t *testing.T) {
	t.Parallel()

	lines := make([]string, 3)
	for i := range lines {
		lines[i] = "signal=+491511234567" + strconv.Itoa(i)
	}
	td := newTestDispatcher(t, config.NotifyConfig{
		RecipientsFile: writeRecipients(t, lines...),
		RatePerMinute:  2,
		Signal:         config.SignalConfig{Enabled: true},
	})
	td.d.parallelism = 1
	results := td.d.Notify(context.Background(), update(models.BoxFilled))

	limited := 0
	for _, r := range results {
		if r.Outcome == OutcomeRateLimited {
			limited++
		}
	}
	if limited != 1 || td.bus.count() != 2 {
		t.Errorf("rate limited = %d, sent = %d, want 1 and 2", limited, td.bus.count())
	}
}

func TestLoadRecipients(t *testing.T) {
	t.Parallel()

	path := writeRecipients(t,
		"# notification recipients",
		"email = bob@example.org",
		"Signal=+4915112345678:DE",
		"email=carol@example.org:fr",
		"email=",
		"signal",
	)
	got, skipped, err := LoadRecipients(path)
	if err != nil {
		t.Fatalf("LoadRecipients() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("recipients = %+v, want 2", got)
	}
	if got[0].Channel != ChannelEmail || got[0].Address != "bob@example.org" || got[0].Lang != language.Und {
		t.Errorf("first = %+v", got[0])
	}
	if got[1].Channel != ChannelSignal || got[1].Lang != language.German || got[1].Line != 3 {
		t.Errorf("second = %+v", got[1])
	}
	if len(skipped) != 3 || skipped[0] != 4 {
		t.Errorf("skipped = %v, want lines 4, 5, 6", skipped)
	}

	none, _, err := LoadRecipients(filepath.Join(t.TempDir(), "missing"))
	if err != nil || none != nil {
		t.Errorf("missing file = %v, %v", none, err)
	}
}

func TestConfigured(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	list := filepath.Join(dir, "notify.list")
	if err := os.WriteFile(list, []byte("email=alice@example.org\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		cfg  config.NotifyConfig
		want bool
	}{
		{"recipients file only", config.NotifyConfig{RecipientsFile: list}, true},
		{"missing file", config.NotifyConfig{RecipientsFile: filepath.Join(dir, "none.list")}, false},
		{"directory", config.NotifyConfig{RecipientsFile: dir}, false},
		{"email enabled", config.NotifyConfig{Email: config.EmailConfig{Enabled: true}}, true},
		{"signal enabled", config.NotifyConfig{Signal: config.SignalConfig{Enabled: true}}, true},
		{"nothing", config.NotifyConfig{}, false},
	}
	for _, tt := range tests {
		if got := Configured(tt.cfg); got != tt.want {
			t.Errorf("%s: Configured() = %v, want %v", tt.name, got, tt.want)
		}
	}
}
