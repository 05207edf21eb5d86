// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

package api

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tomtom215/letterbox/internal/auth"
	"github.com/tomtom215/letterbox/internal/hooks"
	"github.com/tomtom215/letterbox/internal/i18n"
	"github.com/tomtom215/letterbox/internal/models"
)

//go:embed templates/*.html
var templateFS embed.FS

type pages struct {
	tmpl *template.Template
}

func mustParsePages() *pages {
	return &pages{tmpl: template.Must(template.ParseFS(templateFS, "templates/*.html"))}
}

// render executes the named page into a buffer first so a template error
// never produces a half-written response.
func (p *pages) render(w http.ResponseWriter, r *http.Request, status int, name string, data interface{}) {
	var buf bytes.Buffer
	if err := p.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		respondError(w, r, http.StatusInternalServerError, "", fmt.Errorf("render %s: %w", name, err))
		return
	}
	w.Header().Set("Content-Type", contentHTML+"; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// pageBase is shared by all HTML pages.
type pageBase struct {
	Title      string
	P          *i18n.Printer
	User       string
	Message    string
	Refresh    int
	RefreshURL string
}

type loginPage struct {
	pageBase
	Form *auth.LoginForm
}

type messagePage struct {
	pageBase
	BackURL string
}

type graphicView struct {
	Label string
	HTML  template.HTML
}

type deviceView struct {
	ID           string
	Link         string
	State        models.BoxState
	StateLabel   string
	SinceChange  string
	LastReceived string
	LastFilled   string
	LastEmptied  string
	Readings     []string
	Graphics     []graphicView

	known bool
	view  models.StatusView
}

type dashboardPage struct {
	pageBase
	Actions      []hooks.Action
	Devices      []deviceView
	Details      bool
	DetailLabels []string
	Session      *auth.LoginForm
	Generated    string
}

const timeLayout = "2006-01-02 15:04:05 MST"

func formatTime(p *i18n.Printer, t *time.Time) string {
	if t == nil || t.IsZero() {
		return p.T("never")
	}
	return t.Local().Format(timeLayout)
}

func formatAgo(p *i18n.Printer, d time.Duration) string {
	return p.Duration(d) + " " + p.T("ago")
}

func formatFloat(v *float64, unit string) string {
	if v == nil {
		return "-"
	}
	s := strconv.FormatFloat(*v, 'f', -1, 64)
	if unit != "" {
		s += " " + unit
	}
	return s
}

func detailLabels(p *i18n.Printer) []string {
	return []string{p.T("Sensor"), p.T("Threshold"), p.T("Temperature"), p.T("Voltage"), p.T("Signal"), p.T("Counter")}
}

func newDeviceView(req *hooks.Request, id string, snap *models.Snapshot, now time.Time) deviceView {
	p := req.Printer
	d := deviceView{
		ID:         id,
		Link:       req.Link(ParamDevice, id),
		State:      models.BoxUnknown,
		StateLabel: p.T("unknown"),
	}
	if snap == nil {
		d.SinceChange, d.LastReceived, d.LastFilled, d.LastEmptied = "-", p.T("never"), p.T("never"), p.T("never")
		d.Readings = []string{"-", "-", "-", "-", "-", "-"}
		return d
	}
	v := snap.View(now)
	d.known, d.view = true, v
	d.State = snap.State
	d.StateLabel = p.T(string(snap.State))
	d.LastReceived = formatTime(p, &snap.LastReceived) + " (" + formatAgo(p, v.SinceReceived) + ")"
	d.LastFilled = formatTime(p, snap.LastFilled)
	d.LastEmptied = formatTime(p, snap.LastEmptied)
	d.SinceChange = "-"
	if v.HasChange {
		d.SinceChange = p.Duration(v.SinceChange)
	}
	signal := "-"
	if snap.RSSI != nil {
		signal = formatFloat(snap.RSSI, "dBm")
		if snap.SNR != nil {
			signal += " / " + formatFloat(snap.SNR, "dB")
		}
	}
	d.Readings = []string{
		formatFloat(snap.Sensor, ""),
		formatFloat(snap.Threshold, ""),
		formatFloat(snap.TempC, "°C"),
		formatFloat(snap.Voltage, "V"),
		signal,
		strconv.FormatUint(uint64(snap.Counter), 10),
	}
	return d
}

// deviceJSON is the machine-readable status of one device.
type deviceJSON struct {
	DeviceID      string          `json:"dev_id"`
	State         models.BoxState `json:"state"`
	LastReceived  *time.Time      `json:"last_received,omitempty"`
	LastFilled    *time.Time      `json:"last_filled,omitempty"`
	LastEmptied   *time.Time      `json:"last_emptied,omitempty"`
	SinceReceived *int64          `json:"since_received_s,omitempty"`
	SinceChange   *int64          `json:"since_change_s,omitempty"`
	Counter       *uint32         `json:"counter,omitempty"`
	Sensor        *float64        `json:"sensor,omitempty"`
	Threshold     *float64        `json:"threshold,omitempty"`
	TempC         *float64        `json:"tempC,omitempty"`
	Voltage       *float64        `json:"voltage,omitempty"`
	RSSI          *float64        `json:"rssi,omitempty"`
	SNR           *float64        `json:"snr,omitempty"`
}

type dashboardJSON struct {
	Generated time.Time    `json:"generated"`
	Devices   []deviceJSON `json:"devices"`
}

func seconds(d time.Duration) *int64 {
	s := int64(d / time.Second)
	return &s
}

func (d deviceView) json() deviceJSON {
	out := deviceJSON{DeviceID: d.ID, State: d.State}
	if !d.known {
		return out
	}
	s := d.view.Snapshot
	received := s.LastReceived
	counter := s.Counter
	out.LastReceived = &received
	out.LastFilled = s.LastFilled
	out.LastEmptied = s.LastEmptied
	out.SinceReceived = seconds(d.view.SinceReceived)
	if d.view.HasChange {
		out.SinceChange = seconds(d.view.SinceChange)
	}
	out.Counter = &counter
	out.Sensor, out.Threshold, out.TempC, out.Voltage = s.Sensor, s.Threshold, s.TempC, s.Voltage
	out.RSSI, out.SNR = s.RSSI, s.SNR
	return out
}

// plain renders "<dev_id>.<key>=<value>" lines, one block per device.
// Absent values are omitted.
func plain(devices []deviceView) string {
	var b strings.Builder
	for _, d := range devices {
		fields := map[string]string{"state": string(d.State)}
		if d.known {
			j := d.json()
			fields["last_received"] = j.LastReceived.UTC().Format(time.RFC3339)
			fields["since_received_s"] = strconv.FormatInt(*j.SinceReceived, 10)
			fields["counter"] = strconv.FormatUint(uint64(*j.Counter), 10)
			if j.LastFilled != nil {
				fields["last_filled"] = j.LastFilled.UTC().Format(time.RFC3339)
			}
			if j.LastEmptied != nil {
				fields["last_emptied"] = j.LastEmptied.UTC().Format(time.RFC3339)
			}
			if j.SinceChange != nil {
				fields["since_change_s"] = strconv.FormatInt(*j.SinceChange, 10)
			}
			for k, v := range map[string]*float64{
				"sensor": j.Sensor, "threshold": j.Threshold, "tempC": j.TempC,
				"voltage": j.Voltage, "rssi": j.RSSI, "snr": j.SNR,
			} {
				if v != nil {
					fields[k] = strconv.FormatFloat(*v, 'f', -1, 64)
				}
			}
		}
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "%s.%s=%s\n", d.ID, k, fields[k])
		}
	}
	return b.String()
}
