// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package offline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewProbe_RejectsBadURL(t *testing.T) {
	if _, err := NewProbe("file:///tmp/x", time.Second, NewMonitor(true)); err == nil {
		t.Error("NewProbe should reject non-http URLs")
	}
}

func TestProbe_Check(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	p, err := NewProbe(srv.URL, time.Second, NewMonitor(false))
	if err != nil {
		t.Fatal(err)
	}

	if !p.Check(context.Background()) {
		t.Error("200 should count as reachable")
	}
	status.Store(http.StatusNotFound)
	if !p.Check(context.Background()) {
		t.Error("404 still proves the network path works")
	}
	status.Store(http.StatusServiceUnavailable)
	if p.Check(context.Background()) {
		t.Error("503 should count as unreachable")
	}
}

func TestProbe_RunDrivesMonitor(t *testing.T) {
	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	m := NewMonitor(true)
	p, err := NewProbe(srv.URL, 10*time.Millisecond, m)
	if err != nil {
		t.Fatal(err)
	}
	p.WithFailThreshold(2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	waitFor(t, func() bool { return !m.Online() }, "monitor should go offline")
	healthy.Store(true)
	waitFor(t, m.Online, "monitor should come back online")
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}
