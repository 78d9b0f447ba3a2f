// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package offline

import (
	"errors"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrInvalidURLScheme is returned when URL scheme is not http or https.
	// SECURITY: Prevents file://, javascript://, data:// and other dangerous schemes.
	ErrInvalidURLScheme = errors.New("only http and https schemes are allowed")

	// ErrInvalidEndpoint is returned for URLs that do not parse or lack a host.
	ErrInvalidEndpoint = errors.New("invalid endpoint URL")
)

// =============================================================================
// CONNECTIVITY MONITOR
// =============================================================================

// Transition describes one change of connectivity.
// Gen increases by one on every change, so two transitions with the same
// Online value can still be told apart.
type Transition struct {
	Online bool      `json:"online"`
	Gen    uint64    `json:"gen"`
	At     time.Time `json:"at"`
}

// Monitor holds the binary online/offline state and publishes changes.
//
// Subscribers receive the latest transition on a one-slot channel: a reader
// that falls behind sees only the most recent state, never a stale backlog.
type Monitor struct {
	mu      sync.Mutex
	current Transition
	subs    map[int]chan Transition
	nextID  int
}

// NewMonitor creates a monitor in the given initial state.
func NewMonitor(online bool) *Monitor {
	return &Monitor{
		current: Transition{Online: online, At: time.Now()},
		subs:    make(map[int]chan Transition),
	}
}

// Online reports the current state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current.Online
}

// Current returns the latest transition.
func (m *Monitor) Current() Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Set records the state. Subscribers are notified only when it changes.
// Returns true if the state changed.
func (m *Monitor) Set(online bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current.Online == online {
		return false
	}
	m.current = Transition{Online: online, Gen: m.current.Gen + 1, At: time.Now()}

	for _, ch := range m.subs {
		// Replace whatever the subscriber has not read yet.
		select {
		case <-ch:
		default:
		}
		ch <- m.current
	}
	return true
}

// Subscribe returns a channel of transitions and a cancel func.
// The channel is closed by cancel.
func (m *Monitor) Subscribe() (<-chan Transition, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	ch := make(chan Transition, 1)
	m.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

// =============================================================================
// URL VALIDATION
// =============================================================================

// IsLocalhost checks if a host string refers to localhost.
// Accepts: "localhost", "127.0.0.1", "::1", "[::1]", and any IPv6 loopback variant.
func IsLocalhost(host string) bool {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(strings.Trim(host, "[]"))

	if host == "localhost" {
		return true
	}
	// SECURITY: net.IP.IsLoopback covers 127.0.0.0/8 and every ::1 spelling
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

// ValidateEndpoint checks that raw is an absolute http(s) URL with a host.
func ValidateEndpoint(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return ErrInvalidEndpoint
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return ErrInvalidURLScheme
	}
	if parsed.Hostname() == "" {
		return ErrInvalidEndpoint
	}
	return nil
}
