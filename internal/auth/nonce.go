// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tomtom215/letterbox/internal/logging"
)

// Session nonce metrics
var (
	NonceOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "letterbox_session_nonce_operations_total",
			Help: "Session nonce store operations",
		},
		[]string{"outcome"}, // stored, replay_detected, failure
	)
)

var (
	// ErrNonceReplayed indicates a session token that was already used.
	ErrNonceReplayed = errors.New("session nonce already used")

	// ErrNonceStoreClosed indicates the store has been closed.
	ErrNonceStoreClosed = errors.New("nonce store is closed")
)

// NonceStore remembers consumed session nonces until they could no longer
// verify anyway.
type NonceStore interface {
	// Consume records nonce, or returns ErrNonceReplayed if it was recorded
	// within ttl.
	Consume(ctx context.Context, nonce string, ttl time.Duration) error
	Close() error
}

// MemoryNonceStore keeps nonces in process memory. In CGI mode every
// request is a fresh process, so it only guards a single request.
type MemoryNonceStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
	closed  bool
	now     func() time.Time
}

// NewMemoryNonceStore returns an empty in-memory store.
func NewMemoryNonceStore() *MemoryNonceStore {
	return &MemoryNonceStore{entries: make(map[string]time.Time), now: time.Now}
}

// Consume implements NonceStore.
func (s *MemoryNonceStore) Consume(_ context.Context, nonce string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		NonceOperationsTotal.WithLabelValues("failure").Inc()
		return ErrNonceStoreClosed
	}
	now := s.now()
	if expires, ok := s.entries[nonce]; ok && now.Before(expires) {
		NonceOperationsTotal.WithLabelValues("replay_detected").Inc()
		logging.Warn().Str("nonce", logging.SanitizeToken(nonce)).Msg("Session nonce replay detected")
		return ErrNonceReplayed
	}
	for k, exp := range s.entries {
		if !now.Before(exp) {
			delete(s.entries, k)
		}
	}
	s.entries[nonce] = now.Add(ttl)
	NonceOperationsTotal.WithLabelValues("stored").Inc()
	return nil
}

// Close implements NonceStore.
func (s *MemoryNonceStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.entries = nil
	return nil
}

// BadgerNonceStore persists nonces in BadgerDB with a TTL per key, so
// replay protection survives restarts.
type BadgerNonceStore struct {
	db     *badger.DB
	owned  bool
	prefix []byte

	mu     sync.RWMutex
	closed bool
}

// NewBadgerNonceStore uses an existing database. The caller keeps ownership.
func NewBadgerNonceStore(db *badger.DB, prefix string) *BadgerNonceStore {
	if prefix == "" {
		prefix = "nonce:"
	}
	return &BadgerNonceStore{db: db, prefix: []byte(prefix)}
}

// OpenBadgerNonceStore opens (or creates) a database in dir that is closed
// together with the store.
func OpenBadgerNonceStore(dir string) (*BadgerNonceStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open nonce store: %w", err)
	}
	s := NewBadgerNonceStore(db, "")
	s.owned = true
	return s, nil
}

// Consume implements NonceStore.
func (s *BadgerNonceStore) Consume(_ context.Context, nonce string, ttl time.Duration) error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		NonceOperationsTotal.WithLabelValues("failure").Inc()
		return ErrNonceStoreClosed
	}

	key := append(append([]byte{}, s.prefix...), nonce...)
	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			return ErrNonceReplayed
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.SetEntry(badger.NewEntry(key, []byte{1}).WithTTL(ttl))
	})
	switch {
	case errors.Is(err, ErrNonceReplayed):
		NonceOperationsTotal.WithLabelValues("replay_detected").Inc()
		logging.Warn().Str("nonce", logging.SanitizeToken(nonce)).Msg("Session nonce replay detected")
		return err
	case err != nil:
		NonceOperationsTotal.WithLabelValues("failure").Inc()
		return fmt.Errorf("store nonce: %w", err)
	}
	NonceOperationsTotal.WithLabelValues("stored").Inc()
	return nil
}

// CollectGarbage reclaims value log space left by expired nonces. It runs
// until badger has nothing left to rewrite.
func (s *BadgerNonceStore) CollectGarbage() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrNonceStoreClosed
	}
	for {
		err := s.db.RunValueLogGC(0.5)
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("nonce store gc: %w", err)
		}
	}
}

// Close implements NonceStore.
func (s *BadgerNonceStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.owned {
		return s.db.Close()
	}
	return nil
}
