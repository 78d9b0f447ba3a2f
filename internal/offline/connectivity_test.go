// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package offline

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// =============================================================================
// MONITOR TESTS
// =============================================================================

func TestMonitor_SetOnlyPublishesChanges(t *testing.T) {
	m := NewMonitor(false)
	ch, cancel := m.Subscribe()
	defer cancel()

	if m.Set(false) {
		t.Error("Set(false) on an offline monitor should report no change")
	}
	select {
	case tr := <-ch:
		t.Fatalf("unexpected transition %+v", tr)
	default:
	}

	if !m.Set(true) {
		t.Fatal("Set(true) should report a change")
	}
	select {
	case tr := <-ch:
		if !tr.Online || tr.Gen != 1 {
			t.Errorf("transition = %+v, want online gen 1", tr)
		}
	case <-time.After(time.Second):
		t.Fatal("no transition delivered")
	}
}

func TestMonitor_SlowSubscriberSeesLatest(t *testing.T) {
	m := NewMonitor(false)
	ch, cancel := m.Subscribe()
	defer cancel()

	m.Set(true)
	m.Set(false)
	m.Set(true)

	tr := <-ch
	if !tr.Online || tr.Gen != 3 {
		t.Errorf("coalesced transition = %+v, want online gen 3", tr)
	}
	select {
	case extra := <-ch:
		t.Errorf("stale transition left in channel: %+v", extra)
	default:
	}
}

func TestMonitor_CancelClosesChannel(t *testing.T) {
	m := NewMonitor(true)
	ch, cancel := m.Subscribe()
	cancel()
	cancel() // idempotent

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after cancel")
	}
	m.Set(false) // must not panic on the closed channel
}

func TestMonitor_Concurrent(t *testing.T) {
	m := NewMonitor(false)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ch, cancel := m.Subscribe()
			defer cancel()
			for j := 0; j < 100; j++ {
				m.Set((i+j)%2 == 0)
				_ = m.Online()
				select {
				case <-ch:
				default:
				}
			}
		}(i)
	}
	wg.Wait()
}

// =============================================================================
// LOCALHOST DETECTION TESTS (SECURITY CRITICAL)
// =============================================================================

func TestIsLocalhost(t *testing.T) {
	tests := []struct {
		host   string
		expect bool
	}{
		{"localhost", true},
		{"LOCALHOST", true},
		{"127.0.0.1", true},
		{"127.0.0.1:8080", true},
		{"127.1.2.3", true},
		{"::1", true},
		{"[::1]", true},
		{"[::1]:8080", true},

		{"google.com", false},
		{"192.168.1.1", false},
		{"10.0.0.1", false},
		{"0.0.0.0", false},
		{"openrouter.ai", false},

		{"", false},
		{"localhost.localdomain", false},
	}

	for _, tc := range tests {
		t.Run(tc.host, func(t *testing.T) {
			if got := IsLocalhost(tc.host); got != tc.expect {
				t.Errorf("IsLocalhost(%q) = %v, want %v", tc.host, got, tc.expect)
			}
		})
	}
}

// =============================================================================
// URL VALIDATION TESTS (SECURITY CRITICAL)
// =============================================================================

func TestValidateEndpoint(t *testing.T) {
	dangerous := []string{
		"file:///etc/passwd",
		"javascript:alert(1)",
		"data:text/html,<script>alert(1)</script>",
		"ftp://ftp.example.com",
	}
	for _, raw := range dangerous {
		if err := ValidateEndpoint(raw); !errors.Is(err, ErrInvalidURLScheme) {
			t.Errorf("ValidateEndpoint(%q) = %v, want ErrInvalidURLScheme", raw, err)
		}
	}

	if err := ValidateEndpoint("http://"); !errors.Is(err, ErrInvalidEndpoint) {
		t.Errorf("missing host: got %v, want ErrInvalidEndpoint", err)
	}
	if err := ValidateEndpoint("://bad"); !errors.Is(err, ErrInvalidEndpoint) {
		t.Errorf("unparseable: got %v, want ErrInvalidEndpoint", err)
	}

	for _, raw := range []string{"https://openrouter.ai/api/v1", "http://127.0.0.1:8790/health"} {
		if err := ValidateEndpoint(raw); err != nil {
			t.Errorf("ValidateEndpoint(%q) = %v, want nil", raw, err)
		}
	}
}
