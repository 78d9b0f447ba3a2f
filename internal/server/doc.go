// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes a LARK orchestrator over HTTP and websocket.
//
// # Endpoints
//
//   - POST   /v1/messages             - Submit user text
//   - GET    /v1/state                - Current conversation snapshot
//   - POST   /v1/suggestions/dismiss  - Dismiss one suggestion
//   - DELETE /v1/suggestions          - Clear all suggestions
//   - POST   /v1/connectivity         - Force online/offline
//   - POST   /v1/flush                - Replay the offline queue now
//   - POST   /v1/worker/{kind}        - Call the background worker
//   - GET    /v1/events               - Websocket stream of state changes
//   - GET    /health                  - Health check (no auth)
//   - GET    /metrics                 - Prometheus metrics
//
// # Security Features
//
//   - Bearer token authentication with constant-time comparison
//   - Origin checks for CORS and websocket upgrades (loopback always allowed)
//   - Per-IP rate limiting
//   - Request body size limit
//   - Security headers (X-Content-Type-Options, X-Frame-Options, etc.)
//
// # Key Types
//
//   - Server: HTTP server bound to one Orchestrator
//   - RateLimiter: per-client token buckets
//   - OriginPolicy: allowed browser origins
//
// # Usage
//
//	srv := server.New("127.0.0.1:8790", orch).
//		WithToken(cfg.Server.Token).
//		WithRateLimit(cfg.Server.RequestsPerMinute)
//	go srv.Start()
//	defer srv.Shutdown(ctx)
package server
