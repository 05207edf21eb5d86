// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

package config

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedLine is returned for key=value lines without a key or an '='.
var ErrMalformedLine = errors.New("malformed config line")

// legacyKeys maps the short keys of the classic flat configuration file
// onto their structured paths. Keys with a trailing '.' are prefixes.
var legacyKeys = map[string]string{
	"datadir":           "storage.datadir",
	"autoregister":      "ingest.autoregister",
	"threshold.":        "ingest.thresholds.",
	"htpasswd":          "auth.htpasswd_file",
	"auth":              "auth.enabled",
	"captcha":           "captcha.service",
	"captcha.sitekey":   "captcha.sitekey",
	"captcha.secret":    "captcha.secret",
	"notify.list":       "notify.recipients_file",
	"email.enable":      "notify.email.enabled",
	"signal.enable":     "notify.signal.enabled",
	"rrd.enable":        "rrd.enabled",
	"statistics.enable": "statistics.enabled",
	"title":             "server.title",
	"language":          "server.default_language",
}

// KVParser implements koanf.Parser for the flat key=value format.
type KVParser struct{}

// KeyValue returns a koanf parser for flat "key=value" files. Blank lines
// and lines starting with '#' are ignored, values may be quoted, and dotted
// keys are nested.
func KeyValue() *KVParser {
	return &KVParser{}
}

// Unmarshal parses b into a nested map.
func (p *KVParser) Unmarshal(b []byte) (map[string]interface{}, error) {
	out := make(map[string]interface{})
	scanner := bufio.NewScanner(bytes.NewReader(b))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("line %d: %w", lineNo, ErrMalformedLine)
		}
		value = unquote(strings.TrimSpace(value))
		if err := setNested(out, strings.Split(canonicalKey(key), "."), value); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Marshal renders a nested map back to key=value lines.
func (p *KVParser) Marshal(m map[string]interface{}) ([]byte, error) {
	var buf bytes.Buffer
	writeFlat(&buf, "", m)
	return buf.Bytes(), nil
}

func canonicalKey(key string) string {
	if mapped, ok := legacyKeys[key]; ok {
		return mapped
	}
	for prefix, mapped := range legacyKeys {
		if strings.HasSuffix(prefix, ".") && strings.HasPrefix(key, prefix) {
			return mapped + strings.TrimPrefix(key, prefix)
		}
	}
	return key
}

func unquote(v string) string {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}

func setNested(m map[string]interface{}, path []string, value string) error {
	for i, part := range path {
		if part == "" {
			return fmt.Errorf("empty key segment in %q: %w", strings.Join(path, "."), ErrMalformedLine)
		}
		if i == len(path)-1 {
			if _, isMap := m[part].(map[string]interface{}); isMap {
				return fmt.Errorf("key %q is both a value and a section: %w", strings.Join(path, "."), ErrMalformedLine)
			}
			m[part] = value
			return nil
		}
		next, ok := m[part].(map[string]interface{})
		if !ok {
			if _, isValue := m[part]; isValue {
				return fmt.Errorf("key %q is both a value and a section: %w", strings.Join(path[:i+1], "."), ErrMalformedLine)
			}
			next = make(map[string]interface{})
			m[part] = next
		}
		m = next
	}
	return nil
}

func writeFlat(buf *bytes.Buffer, prefix string, m map[string]interface{}) {
	for key, val := range m {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		if sub, ok := val.(map[string]interface{}); ok {
			writeFlat(buf, full, sub)
			continue
		}
		fmt.Fprintf(buf, "%s=%v\n", full, val)
	}
}
