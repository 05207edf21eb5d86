// Letterbox - LoRaWAN Letterbox Sensor Dashboard
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/letterbox

package authz

import (
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
)

func newTestEnforcer(t *testing.T) *Enforcer {
	t.Helper()
	e, err := NewEnforcer()
	if err != nil {
		t.Fatalf("NewEnforcer() error = %v", err)
	}
	return e
}

func TestPermitted(t *testing.T) {
	t.Parallel()

	e := newTestEnforcer(t)
	if err := e.SetACL("admin", []string{Wildcard}); err != nil {
		t.Fatal(err)
	}
	if err := e.SetACL("alice", []string{"dev-a"}); err != nil {
		t.Fatal(err)
	}
	if err := e.SetACL("nobody", nil); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		user, device string
		want         bool
	}{
		{"admin", "dev-a", true},
		{"admin", "dev-b", true},
		{"alice", "dev-a", true},
		{"alice", "dev-b", false},
		{"nobody", "dev-a", false},
		{"stranger", "dev-a", false},
		{"", "dev-a", false},
		{"alice", "", false},
	}
	for _, tt := range tests {
		if got := e.Permitted(tt.user, tt.device); got != tt.want {
			t.Errorf("Permitted(%q, %q) = %v, want %v", tt.user, tt.device, got, tt.want)
		}
	}
}

func TestSetACL_Replaces(t *testing.T) {
	t.Parallel()

	e := newTestEnforcer(t)
	if err := e.SetACL("alice", []string{"dev-b", "dev-a", "dev-a"}); err != nil {
		t.Fatal(err)
	}
	if got, want := e.Devices("alice"), []string{"dev-a", "dev-b"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Devices() = %v, want %v", got, want)
	}

	if err := e.SetACL("alice", []string{"dev-c"}); err != nil {
		t.Fatal(err)
	}
	if e.Permitted("alice", "dev-a") {
		t.Error("old ACL entry still permitted")
	}
	if !e.Permitted("alice", "dev-c") {
		t.Error("new ACL entry not permitted")
	}
}

func TestSetACL_ConcurrentReaders(t *testing.T) {
	t.Parallel()

	e := newTestEnforcer(t)
	if err := e.SetACL("alice", []string{"dev-a"}); err != nil {
		t.Fatal(err)
	}

	var denied atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 2000; j++ {
				// Every authenticated request refreshes the ACL.
				if err := e.SetACL("alice", []string{"dev-a"}); err != nil {
					t.Error(err)
					return
				}
				if !e.Permitted("alice", "dev-a") {
					denied.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	if n := denied.Load(); n != 0 {
		t.Errorf("denied = %d, want 0", n)
	}
}

func TestSetACL_ChangedListUnderLoad(t *testing.T) {
	t.Parallel()

	e := newTestEnforcer(t)
	var wg sync.WaitGroup
	var denied atomic.Int64
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				// Both lists contain dev-a, so it must never be denied.
				devices := []string{"dev-a", "dev-b"}
				if (i+j)%2 == 0 {
					devices = []string{"dev-a"}
				}
				if err := e.SetACL("alice", devices); err != nil {
					t.Error(err)
					return
				}
				if !e.Permitted("alice", "dev-a") {
					denied.Add(1)
				}
			}
		}(i)
	}
	wg.Wait()

	if n := denied.Load(); n != 0 {
		t.Errorf("denied = %d, want 0", n)
	}
}
