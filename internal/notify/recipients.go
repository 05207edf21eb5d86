// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

package notify

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"golang.org/x/text/language"

	"github.com/tomtom215/letterbox/internal/config"
	"github.com/tomtom215/letterbox/internal/i18n"
)

// Recipient is one entry of the recipients file.
type Recipient struct {
	Channel string
	Address string
	// Lang is language.Und when the entry has no language suffix.
	Lang language.Tag
	Line int
}

// Configured reports whether notifications should be dispatched: a channel
// is enabled or the recipients file exists. Disabled channels still log
// the would-be sends.
func Configured(cfg config.NotifyConfig) bool {
	if cfg.Email.Enabled || cfg.Signal.Enabled {
		return true
	}
	if cfg.RecipientsFile == "" {
		return false
	}
	fi, err := os.Stat(cfg.RecipientsFile)
	return err == nil && fi.Mode().IsRegular()
}

// LoadRecipients reads path. A missing file has no recipients. Lines that
// cannot be parsed are returned in skipped and do not fail the load.
func LoadRecipients(path string) (recipients []Recipient, skipped []int, err error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open recipients: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		r, ok := parseRecipient(line)
		if !ok {
			skipped = append(skipped, lineNo)
			continue
		}
		r.Line = lineNo
		recipients = append(recipients, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("read recipients: %w", err)
	}
	return recipients, skipped, nil
}

func parseRecipient(line string) (Recipient, bool) {
	channel, rest, ok := strings.Cut(line, "=")
	channel = strings.ToLower(strings.TrimSpace(channel))
	rest = strings.TrimSpace(rest)
	if !ok || channel == "" || rest == "" {
		return Recipient{}, false
	}
	r := Recipient{Channel: channel, Address: rest}
	if addr, lang, found := strings.Cut(rest, ":"); found {
		tag, valid := i18n.Parse(strings.TrimSpace(lang))
		if !valid {
			return Recipient{}, false
		}
		r.Address = strings.TrimSpace(addr)
		r.Lang = tag
	}
	return r, r.Address != ""
}
