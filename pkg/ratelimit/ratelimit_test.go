// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package ratelimit

import (
	"testing"
	"time"
)

func TestTokenBucket(t *testing.T) {
	tb := NewTokenBucket(2, 1)
	start := tb.lastRefill

	if !tb.allowAt(start) || !tb.allowAt(start) {
		t.Fatal("Expected burst of 2 to be allowed")
	}
	if tb.allowAt(start) {
		t.Error("Expected third call to be limited")
	}
	if tb.allowAt(start.Add(500 * time.Millisecond)) {
		t.Error("Expected half a token to be insufficient")
	}
	if !tb.allowAt(start.Add(1100 * time.Millisecond)) {
		t.Error("Expected a token after one second")
	}
}

func TestLimiter_PerAddress(t *testing.T) {
	l := NewLimiter(Config{Capacity: 1, RefillRate: 0.001})
	defer l.Close()

	if !l.Allow("10.0.0.1") {
		t.Fatal("Expected first session allowed")
	}
	if l.Allow("10.0.0.1") {
		t.Error("Expected second session from same address limited")
	}
	if !l.Allow("10.0.0.2") {
		t.Error("Expected other address to have its own bucket")
	}
	if l.Clients() != 2 {
		t.Errorf("Expected 2 tracked clients, got %d", l.Clients())
	}
}

func TestLimiter_MaxClients(t *testing.T) {
	l := NewLimiter(Config{Capacity: 5, RefillRate: 1, MaxClients: 1})
	defer l.Close()

	if !l.Allow("a") {
		t.Fatal("Expected first client allowed")
	}
	if l.Allow("b") {
		t.Error("Expected new client beyond MaxClients refused")
	}
	if !l.Allow("a") {
		t.Error("Expected known client still allowed")
	}
}

func TestLimiter_CleanupForgetsIdleClients(t *testing.T) {
	l := NewLimiter(Config{Capacity: 2, RefillRate: 1, CleanupInterval: time.Hour})
	defer l.Close()

	now := time.Now()
	l.now = func() time.Time { return now }

	l.Allow("idle")
	l.Allow("busy")
	l.Allow("busy")

	now = now.Add(time.Second)
	l.cleanup()
	if l.Clients() != 1 {
		t.Fatalf("Expected only the busy client kept, got %d", l.Clients())
	}

	now = now.Add(10 * time.Second)
	l.cleanup()
	if l.Clients() != 0 {
		t.Errorf("Expected all clients forgotten, got %d", l.Clients())
	}
}

func TestLimiter_CloseIsIdempotent(t *testing.T) {
	l := NewLimiter(Config{})
	l.Close()
	l.Close()
}
