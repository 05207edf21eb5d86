// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

// Package i18n holds the English and German message catalog and language
// negotiation. Message keys are the English texts.
package i18n

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Supported lists the languages with translations, default first.
var Supported = []language.Tag{language.English, language.German}

var (
	matcher = language.NewMatcher(Supported)
	cat     = buildCatalog()
)

// Message keys used across packages.
const (
	MsgNotAccepted      = "Access not accepted"
	MsgSessionExpired   = "Session expired, please log in again"
	MsgCaptchaProblem   = "CAPTCHA problem, please try again"
	MsgInvestigateLog   = "Internal problem, investigate error log"
	MsgPasswordMismatch = "New passwords do not match"
	MsgPasswordChanged  = "Password changed"
	MsgWeakPassword     = "Password must be at least 8 characters"
	MsgLoggedOut        = "Logged out"
	MsgBoxFilled        = "Letterbox %s was filled at %s"
	MsgBoxEmptied       = "Letterbox %s was emptied at %s"
	MsgSubject          = "Letterbox %s: %s"
)

var german = map[string]string{
	MsgNotAccepted:      "Zugang nicht akzeptiert",
	MsgSessionExpired:   "Sitzung abgelaufen, bitte erneut anmelden",
	MsgCaptchaProblem:   "CAPTCHA-Problem, bitte erneut versuchen",
	MsgInvestigateLog:   "Interner Fehler, siehe Fehlerprotokoll",
	MsgPasswordMismatch: "Die neuen Passwörter stimmen nicht überein",
	MsgPasswordChanged:  "Passwort geändert",
	MsgWeakPassword:     "Das Passwort muss mindestens 8 Zeichen lang sein",
	MsgLoggedOut:        "Abgemeldet",
	MsgBoxFilled:        "Briefkasten %s wurde um %s befüllt",
	MsgBoxEmptied:       "Briefkasten %s wurde um %s geleert",
	MsgSubject:          "Briefkasten %s: %s",

	"Login":               "Anmelden",
	"Logout":              "Abmelden",
	"Username":            "Benutzername",
	"Password":            "Passwort",
	"Change password":     "Passwort ändern",
	"Old password":        "Altes Passwort",
	"New password":        "Neues Passwort",
	"Repeat new password": "Neues Passwort wiederholen",
	"Enter the digits":    "Ziffern eingeben",
	"Device":              "Gerät",
	"Status":              "Status",
	"Last received":       "Zuletzt empfangen",
	"Last filled":         "Zuletzt befüllt",
	"Last emptied":        "Zuletzt geleert",
	"Since change":        "Seit Änderung",
	"Sensor":              "Sensor",
	"Threshold":           "Schwelle",
	"Temperature":         "Temperatur",
	"Voltage":             "Spannung",
	"Signal":              "Signal",
	"Counter":             "Zähler",
	"Details":             "Details",
	"Auto reload":         "Automatisch neu laden",
	"on":                  "an",
	"off":                 "aus",
	"never":               "nie",
	"ago":                 "her",
	"No devices":          "Keine Geräte",
	"full":                "voll",
	"empty":               "leer",
	"filled":              "befüllt",
	"emptied":             "geleert",
	"unknown":             "unbekannt",
	"Charts":              "Diagramme",
	"Statistics":          "Statistik",
	"Range":               "Zeitraum",
	"Zoom":                "Zoom",
	"Earlier":             "Früher",
	"Later":               "Später",
	"Day":                 "Tag",
	"Week":                "Woche",
	"Month":               "Monat",
	"Year":                "Jahr",
	"Box state":           "Briefkasten",
	"No data":             "Keine Daten",
	"Logged in as %s":     "Angemeldet als %s",
	"Back":                "Zurück",
	"Access denied":       "Zugriff verweigert",

	"Filled by hour of week":  "Befüllungen nach Wochenstunde",
	"Emptied by hour of week": "Leerungen nach Wochenstunde",
}

func buildCatalog() catalog.Catalog {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for key, de := range german {
		_ = b.SetString(language.German, key, de)
		_ = b.SetString(language.English, key, key)
	}
	return b
}

// Printer formats messages in one language.
type Printer struct {
	tag language.Tag
	p   *message.Printer
}

// NewPrinter returns a printer for tag.
func NewPrinter(tag language.Tag) *Printer {
	return &Printer{tag: tag, p: message.NewPrinter(tag, message.Catalog(cat))}
}

// Tag returns the printer language.
func (p *Printer) Tag() language.Tag {
	return p.tag
}

// Lang returns the base language code, e.g. "de".
func (p *Printer) Lang() string {
	base, _ := p.tag.Base()
	return base.String()
}

// T translates key and formats it with args.
func (p *Printer) T(key string, args ...interface{}) string {
	return p.p.Sprintf(key, args...)
}

// Duration renders d coarsely, e.g. "2d 3h" or "5m".
func (p *Printer) Duration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	days := int(d / (24 * time.Hour))
	d -= time.Duration(days) * 24 * time.Hour
	hours := int(d / time.Hour)
	d -= time.Duration(hours) * time.Hour
	minutes := int(d / time.Minute)

	var parts []string
	if days > 0 {
		parts = append(parts, fmt.Sprintf("%dd", days))
	}
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if days == 0 && (minutes > 0 || hours == 0) {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	return strings.Join(parts, " ")
}

// Match picks the best supported language for an Accept-Language header,
// falling back to def.
func Match(acceptLanguage string, def language.Tag) language.Tag {
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return def
	}
	_, idx, conf := matcher.Match(tags...)
	if conf == language.No {
		return def
	}
	return Supported[idx]
}

// Parse resolves a language code such as "de" or "de-AT" to a supported
// tag, reporting false if it is not supported.
func Parse(code string) (language.Tag, bool) {
	tag, err := language.Parse(code)
	if err != nil {
		return language.English, false
	}
	_, idx, conf := matcher.Match(tag)
	if conf == language.No {
		return language.English, false
	}
	return Supported[idx], true
}
