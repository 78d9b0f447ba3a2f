// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package offline

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

const (
	// DefaultProbeInterval is how often the probe polls when none is configured.
	DefaultProbeInterval = 10 * time.Second

	// DefaultFailThreshold is the number of consecutive failed checks
	// before the monitor is switched offline.
	DefaultFailThreshold = 2
)

// Probe derives connectivity from a periodic health check against a URL.
// Any response below 500 counts as reachable.
type Probe struct {
	url           string
	interval      time.Duration
	failThreshold int
	client        *http.Client
	monitor       *Monitor
}

// NewProbe creates a probe that reports into monitor.
func NewProbe(rawURL string, interval time.Duration, monitor *Monitor) (*Probe, error) {
	if err := ValidateEndpoint(rawURL); err != nil {
		return nil, fmt.Errorf("probe url: %w", err)
	}
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	timeout := interval / 2
	if timeout > 5*time.Second {
		timeout = 5 * time.Second
	}
	return &Probe{
		url:           rawURL,
		interval:      interval,
		failThreshold: DefaultFailThreshold,
		client:        &http.Client{Timeout: timeout},
		monitor:       monitor,
	}, nil
}

// WithHTTPClient replaces the HTTP client used for checks.
func (p *Probe) WithHTTPClient(c *http.Client) *Probe {
	p.client = c
	return p
}

// WithFailThreshold sets how many consecutive failures flip the state offline.
func (p *Probe) WithFailThreshold(n int) *Probe {
	if n > 0 {
		p.failThreshold = n
	}
	return p
}

// Check performs one health check.
func (p *Probe) Check(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	// PERFORMANCE: drain so the connection can be reused
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode < http.StatusInternalServerError
}

// Run checks immediately and then on every interval until ctx is done.
// A single success flips the monitor online; failThreshold consecutive
// failures flip it offline.
func (p *Probe) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	failures := 0
	for {
		if p.Check(ctx) {
			failures = 0
			if p.monitor.Set(true) {
				log.Printf("OFFLINE: probe reached %s, connectivity restored", p.url)
			}
		} else if ctx.Err() == nil {
			failures++
			if failures >= p.failThreshold && p.monitor.Set(false) {
				log.Printf("OFFLINE: probe failed %d times, connectivity lost", failures)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
