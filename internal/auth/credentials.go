// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

package auth

import (
	"bufio"
	"bytes"
	"context"
	"crypto/md5"  //nolint:gosec // legacy htpasswd digests
	"crypto/sha1" //nolint:gosec // legacy htpasswd digests
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/crypto/bcrypt"

	"github.com/tomtom215/letterbox/internal/authz"
)

// Credential errors
var (
	ErrUnknownUser      = errors.New("unknown user")
	ErrWeakPassword     = errors.New("password must be at least 8 characters")
	ErrCredentialFormat = errors.New("malformed credential entry")
)

const minPasswordLength = 8

// dummyHash keeps the cost of a lookup miss equal to a bcrypt mismatch.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("letterbox-dummy"), bcrypt.DefaultCost)

// Credential is one line of the credential file:
//
//	username:hash[:dev-a,dev-b|*]
//
// A missing third field grants every device; an empty one grants none.
type Credential struct {
	Username string
	Hash     string
	ACL      []string
	aclField *string
}

// Credentials is an htpasswd-compatible credential file with an optional
// device ACL column.
type Credentials struct {
	path string
}

// OpenCredentials returns a handle on path. A missing file has no users.
func OpenCredentials(path string) *Credentials {
	return &Credentials{path: path}
}

// Lookup returns the credential of username.
func (c *Credentials) Lookup(username string) (Credential, error) {
	all, err := c.load()
	if err != nil {
		return Credential{}, err
	}
	for _, cred := range all {
		if cred.Username == username {
			return cred, nil
		}
	}
	return Credential{}, ErrUnknownUser
}

// Authenticate verifies a password, spending comparable time when the user
// does not exist.
func (c *Credentials) Authenticate(username, password string) (Credential, error) {
	cred, err := c.Lookup(username)
	if errors.Is(err, ErrUnknownUser) {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return Credential{}, err
	}
	if err != nil {
		return Credential{}, err
	}
	if !VerifyPassword(cred.Hash, password) {
		return Credential{}, ErrInvalidCredentials
	}
	return cred, nil
}

// ChangePassword replaces the hash of username with a bcrypt hash of
// password, keeping its ACL, and returns the new hash.
func (c *Credentials) ChangePassword(ctx context.Context, username, password string) (string, error) {
	if len(password) < minPasswordLength {
		return "", ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}

	fl := flock.New(c.path + ".lock")
	locked, err := fl.TryLockContext(ctx, 25*time.Millisecond)
	if err != nil || !locked {
		if err == nil {
			err = ctx.Err()
		}
		return "", fmt.Errorf("lock credentials: %w", err)
	}
	defer func() { _ = fl.Unlock() }()

	data, err := os.ReadFile(c.path)
	if err != nil {
		return "", fmt.Errorf("read credentials: %w", err)
	}
	var out bytes.Buffer
	found := false
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		if cred, ok, _ := parseCredential(line); ok && cred.Username == username && !found {
			found = true
			line = cred.Username + ":" + string(hash)
			if cred.aclField != nil {
				line += ":" + *cred.aclField
			}
		}
		out.WriteString(line)
		out.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read credentials: %w", err)
	}
	if !found {
		return "", ErrUnknownUser
	}
	if err := replaceFile(c.path, out.Bytes()); err != nil {
		return "", err
	}
	return string(hash), nil
}

func (c *Credentials) load() ([]Credential, error) {
	f, err := os.Open(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open credentials: %w", err)
	}
	defer f.Close()

	var out []Credential
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		cred, ok, err := parseCredential(scanner.Text())
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", c.path, lineNo, err)
		}
		if ok {
			out = append(out, cred)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	return out, nil
}

// parseCredential reports ok=false for blank and comment lines.
func parseCredential(line string) (Credential, bool, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return Credential{}, false, nil
	}
	parts := strings.SplitN(line, ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return Credential{}, false, ErrCredentialFormat
	}
	cred := Credential{Username: parts[0], Hash: parts[1]}
	if len(parts) == 2 {
		cred.ACL = []string{authz.Wildcard}
		return cred, true, nil
	}
	field := parts[2]
	cred.aclField = &field
	for _, d := range strings.Split(field, ",") {
		if d = strings.TrimSpace(d); d != "" {
			cred.ACL = append(cred.ACL, d)
		}
	}
	return cred, true, nil
}

// VerifyPassword checks password against a bcrypt hash or one of the legacy
// digests: {SHA} base64, or hex MD5 or SHA1.
func VerifyPassword(hash, password string) bool {
	switch {
	case strings.HasPrefix(hash, "$2a$"), strings.HasPrefix(hash, "$2b$"), strings.HasPrefix(hash, "$2y$"):
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
	case strings.HasPrefix(hash, "{SHA}"):
		sum := sha1.Sum([]byte(password)) //nolint:gosec // legacy digest
		return constantEqual(base64.StdEncoding.EncodeToString(sum[:]), strings.TrimPrefix(hash, "{SHA}"))
	case len(hash) == 32 && isHex(hash):
		sum := md5.Sum([]byte(password)) //nolint:gosec // legacy digest
		return constantEqual(hex.EncodeToString(sum[:]), strings.ToLower(hash))
	case len(hash) == 40 && isHex(hash):
		sum := sha1.Sum([]byte(password)) //nolint:gosec // legacy digest
		return constantEqual(hex.EncodeToString(sum[:]), strings.ToLower(hash))
	default:
		return false
	}
}

func constantEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func isHex(s string) bool {
	_, err := hex.DecodeString(s)
	return err == nil
}

func replaceFile(path string, data []byte) error {
	info, err := os.Stat(path)
	perm := os.FileMode(0o640)
	if err == nil {
		perm = info.Mode().Perm()
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp credentials: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write credentials: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod credentials: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync credentials: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close credentials: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace credentials: %w", err)
	}
	return nil
}
