// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/crypto/hkdf"
)

// AuthCookie holds the encrypted authentication token.
const AuthCookie = "TTN-AUTH-TOKEN"

// Token encryption errors
var (
	// ErrDecryptionFailed indicates the decryption operation failed.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrInvalidCiphertext indicates the ciphertext is malformed.
	ErrInvalidCiphertext = errors.New("invalid ciphertext")

	// ErrTokenIncomplete indicates a decrypted token lacks required fields.
	ErrTokenIncomplete = errors.New("token is missing required fields")

	// ErrTokenExpired indicates the token is past its expiry.
	ErrTokenExpired = errors.New("token expired")
)

const tokenKeyContext = "letterbox-auth-token"

// TokenEncryptor provides AES-GCM encryption with a key derived from the
// server secret.
type TokenEncryptor struct {
	aead cipher.AEAD
}

// NewTokenEncryptor derives an AES-256 key from secret and info.
func NewTokenEncryptor(secret []byte, info string) (*TokenEncryptor, error) {
	if len(secret) < 16 {
		return nil, errors.New("server secret must be at least 16 bytes")
	}
	if info == "" {
		info = tokenKeyContext
	}

	derivedKey, err := deriveKey(secret, []byte(info), 32)
	if err != nil {
		return nil, fmt.Errorf("derive encryption key: %w", err)
	}

	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM cipher: %w", err)
	}
	return &TokenEncryptor{aead: aead}, nil
}

// deriveKey derives a key using HKDF-SHA256.
func deriveKey(secret, info []byte, keyLen int) ([]byte, error) {
	reader := hkdf.New(sha256.New, secret, nil, info)
	key := make([]byte, keyLen)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Encrypt seals plaintext and returns URL-safe base64 with the nonce
// prepended, suitable as a cookie value.
func (e *TokenEncryptor) Encrypt(plaintext []byte) (string, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	ciphertext := e.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.RawURLEncoding.EncodeToString(ciphertext), nil
}

// Decrypt reverses Encrypt.
func (e *TokenEncryptor) Decrypt(ciphertext string) ([]byte, error) {
	data, err := base64.RawURLEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: base64 decode failed", ErrInvalidCiphertext)
	}

	// nonce + at least 1 byte + auth tag
	nonceSize := e.aead.NonceSize()
	if len(data) < nonceSize+1+e.aead.Overhead() {
		return nil, fmt.Errorf("%w: data too short", ErrInvalidCiphertext)
	}

	plaintext, err := e.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDecryptionFailed, err.Error())
	}
	return plaintext, nil
}

// AuthToken is the long-lived login token. PasswordHash pins the token to
// the credential it was issued for.
type AuthToken struct {
	Time         int64  `json:"time"`
	Expiry       int64  `json:"expiry"`
	Username     string `json:"username"`
	PasswordHash string `json:"pwhash"`
}

// TokenIssuer mints and opens auth tokens.
type TokenIssuer struct {
	enc      *TokenEncryptor
	lifetime time.Duration
}

// NewTokenIssuer returns an issuer for tokens valid for lifetime.
func NewTokenIssuer(enc *TokenEncryptor, lifetime time.Duration) *TokenIssuer {
	return &TokenIssuer{enc: enc, lifetime: lifetime}
}

// Issue returns the encrypted token for a user and its expiry.
func (t *TokenIssuer) Issue(username, passwordHash string, now time.Time) (string, time.Time, error) {
	expiry := now.Add(t.lifetime)
	payload, err := json.Marshal(AuthToken{
		Time:         now.Unix(),
		Expiry:       expiry.Unix(),
		Username:     username,
		PasswordHash: passwordHash,
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("encode token: %w", err)
	}
	value, err := t.enc.Encrypt(payload)
	if err != nil {
		return "", time.Time{}, err
	}
	return value, expiry, nil
}

// Parse decrypts value and checks completeness and expiry. It does not
// check the pinned hash.
func (t *TokenIssuer) Parse(value string, now time.Time) (AuthToken, error) {
	plaintext, err := t.enc.Decrypt(value)
	if err != nil {
		return AuthToken{}, err
	}
	var tok AuthToken
	if err := json.Unmarshal(plaintext, &tok); err != nil {
		return AuthToken{}, fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	if tok.Username == "" || tok.PasswordHash == "" || tok.Time == 0 || tok.Expiry == 0 {
		return AuthToken{}, ErrTokenIncomplete
	}
	if now.Unix() >= tok.Expiry {
		return AuthToken{}, ErrTokenExpired
	}
	return tok, nil
}
