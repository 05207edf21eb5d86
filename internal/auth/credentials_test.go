// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

package auth

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func bcryptHash(t *testing.T, password string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	return string(h)
}

func writeCredentials(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "htpasswd")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o640); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestVerifyPassword(t *testing.T) {
	t.Parallel()

	bc := bcryptHash(t, "secret")
	tests := []struct {
		name     string
		hash     string
		password string
		want     bool
	}{
		{"bcrypt", bc, "secret", true},
		{"bcrypt wrong", bc, "Secret", false},
		{"bcrypt 2y", "$2y$" + strings.TrimPrefix(bc, "$2a$"), "secret", true},
		{"sha base64", "{SHA}5en6G6MezRroT3XKqkdPOmY/BfQ=", "secret", true},
		{"sha base64 wrong", "{SHA}5en6G6MezRroT3XKqkdPOmY/BfQ=", "secrets", false},
		{"md5 hex", "5ebe2294ecd0e0f08eab7690d2a6ee69", "secret", true},
		{"md5 hex upper", "5EBE2294ECD0E0F08EAB7690D2A6EE69", "secret", true},
		{"sha1 hex", "e5e9fa1ba31ecd1ae84f75caaa474f3a663f05f4", "secret", true},
		{"sha1 hex wrong", "e5e9fa1ba31ecd1ae84f75caaa474f3a663f05f4", "", false},
		{"plain text", "secret", "secret", false},
		{"unsupported apr1", "$apr1$abc$def", "secret", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := VerifyPassword(tt.hash, tt.password); got != tt.want {
				t.Errorf("VerifyPassword(%q, %q) = %v, want %v", tt.hash, tt.password, got, tt.want)
			}
		})
	}
}

func TestCredentials_ACL(t *testing.T) {
	t.Parallel()

	path := writeCredentials(t,
		"# dashboard users",
		"",
		"admin:5ebe2294ecd0e0f08eab7690d2a6ee69",
		"alice:5ebe2294ecd0e0f08eab7690d2a6ee69:sensorA, sensorB",
		"guest:5ebe2294ecd0e0f08eab7690d2a6ee69:",
		"root:5ebe2294ecd0e0f08eab7690d2a6ee69:*",
	)
	creds := OpenCredentials(path)

	tests := []struct {
		user string
		want []string
	}{
		{"admin", []string{"*"}},
		{"alice", []string{"sensorA", "sensorB"}},
		{"guest", nil},
		{"root", []string{"*"}},
	}
	for _, tt := range tests {
		cred, err := creds.Lookup(tt.user)
		if err != nil {
			t.Fatalf("Lookup(%q) error = %v", tt.user, err)
		}
		if !reflect.DeepEqual(cred.ACL, tt.want) {
			t.Errorf("Lookup(%q).ACL = %v, want %v", tt.user, cred.ACL, tt.want)
		}
	}
	if _, err := creds.Lookup("mallory"); !errors.Is(err, ErrUnknownUser) {
		t.Errorf("Lookup(mallory) error = %v, want ErrUnknownUser", err)
	}
}

func TestCredentials_MissingAndMalformed(t *testing.T) {
	t.Parallel()

	missing := OpenCredentials(filepath.Join(t.TempDir(), "absent"))
	if _, err := missing.Lookup("admin"); !errors.Is(err, ErrUnknownUser) {
		t.Errorf("missing file Lookup() error = %v, want ErrUnknownUser", err)
	}

	broken := OpenCredentials(writeCredentials(t, "admin"))
	if _, err := broken.Lookup("admin"); !errors.Is(err, ErrCredentialFormat) {
		t.Errorf("malformed file Lookup() error = %v, want ErrCredentialFormat", err)
	}
}

func TestCredentials_Authenticate(t *testing.T) {
	t.Parallel()

	creds := OpenCredentials(writeCredentials(t, "alice:"+bcryptHash(t, "correct horse")+":sensorA"))

	if _, err := creds.Authenticate("alice", "correct horse"); err != nil {
		t.Errorf("Authenticate() error = %v", err)
	}
	if _, err := creds.Authenticate("alice", "battery staple"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password error = %v, want ErrInvalidCredentials", err)
	}
	if _, err := creds.Authenticate("bob", "correct horse"); !errors.Is(err, ErrUnknownUser) {
		t.Errorf("unknown user error = %v, want ErrUnknownUser", err)
	}
}

func TestCredentials_ChangePassword(t *testing.T) {
	t.Parallel()

	path := writeCredentials(t,
		"# keep me",
		"admin:5ebe2294ecd0e0f08eab7690d2a6ee69",
		"alice:5ebe2294ecd0e0f08eab7690d2a6ee69:sensorA",
		"guest:5ebe2294ecd0e0f08eab7690d2a6ee69:",
	)
	creds := OpenCredentials(path)
	ctx := context.Background()

	if _, err := creds.ChangePassword(ctx, "alice", "short"); !errors.Is(err, ErrWeakPassword) {
		t.Errorf("short password error = %v, want ErrWeakPassword", err)
	}
	if _, err := creds.ChangePassword(ctx, "bob", "long enough"); !errors.Is(err, ErrUnknownUser) {
		t.Errorf("unknown user error = %v, want ErrUnknownUser", err)
	}

	for _, user := range []string{"alice", "guest"} {
		hash, err := creds.ChangePassword(ctx, user, "long enough")
		if err != nil {
			t.Fatalf("ChangePassword(%q) error = %v", user, err)
		}
		if !strings.HasPrefix(hash, "$2a$") {
			t.Errorf("new hash %q is not bcrypt", hash)
		}
		cred, err := creds.Authenticate(user, "long enough")
		if err != nil || cred.Hash != hash {
			t.Errorf("Authenticate(%q) after change = %+v, %v", user, cred, err)
		}
		if _, err := creds.Authenticate(user, "secret"); !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("old password still accepted for %q: %v", user, err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 4 || lines[0] != "# keep me" || lines[1] != "admin:5ebe2294ecd0e0f08eab7690d2a6ee69" {
		t.Errorf("untouched lines changed:\n%s", data)
	}
	if !strings.HasSuffix(lines[2], ":sensorA") || !strings.HasSuffix(lines[3], ":") {
		t.Errorf("ACL columns not preserved:\n%s", data)
	}
	if guest, _ := creds.Lookup("guest"); len(guest.ACL) != 0 {
		t.Errorf("guest ACL = %v, want empty", guest.ACL)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o640 {
		t.Errorf("mode = %o, want 640 preserved", perm)
	}
}
