// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jeranaias/lark/internal/model"
	"github.com/jeranaias/lark/internal/offline"
	"github.com/jeranaias/lark/internal/orchestrator"
	"github.com/jeranaias/lark/internal/telemetry"
	"github.com/jeranaias/lark/internal/worker"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultAddr is loopback only; exposing LARK needs an explicit address.
	DefaultAddr = "127.0.0.1:8790"

	// MaxRequestBodySize bounds every request body (1MB).
	MaxRequestBodySize = 1 * 1024 * 1024

	// MaxMessageLength is the maximum submission length in bytes.
	MaxMessageLength = 16 * 1024

	// Version is the API version reported by /health.
	Version = "0.1.0"

	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

// ============================================================================
// SERVER
// ============================================================================

// Server exposes an Orchestrator over HTTP and websocket.
type Server struct {
	addr     string
	orch     *orchestrator.Orchestrator
	worker   *worker.Bridge
	metrics  *telemetry.Metrics
	gatherer prometheus.Gatherer
	origins  OriginPolicy
	token    string
	limiter  *RateLimiter

	router    *http.ServeMux
	upgrader  websocket.Upgrader
	startTime time.Time

	mu     sync.Mutex
	server *http.Server
}

// New creates a server for orch. An empty addr uses DefaultAddr.
func New(addr string, orch *orchestrator.Orchestrator) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	s := &Server{
		addr:      addr,
		orch:      orch,
		gatherer:  prometheus.DefaultGatherer,
		router:    http.NewServeMux(),
		startTime: time.Now(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if s.origins.Allow(origin) {
				return true
			}
			log.Printf("WS_ORIGIN_REJECTED | origin=%s", origin)
			return false
		},
	}
	s.setupRoutes()
	return s
}

// WithWorker enables POST /v1/worker/{kind}.
func (s *Server) WithWorker(b *worker.Bridge) *Server {
	s.worker = b
	return s
}

// WithMetrics records worker calls in m and serves g on /metrics.
func (s *Server) WithMetrics(m *telemetry.Metrics, g prometheus.Gatherer) *Server {
	s.metrics = m
	if g != nil {
		s.gatherer = g
	}
	return s
}

// WithAllowedOrigins adds browser origins beyond loopback.
func (s *Server) WithAllowedOrigins(origins []string) *Server {
	s.origins = OriginPolicy{Allowed: append([]string(nil), origins...)}
	return s
}

// WithToken requires a bearer token on every request but /health.
func (s *Server) WithToken(token string) *Server {
	s.token = token
	return s
}

// WithRateLimit limits each client to perMinute requests. Zero disables it.
func (s *Server) WithRateLimit(perMinute int) *Server {
	s.limiter = NewRateLimiter(perMinute)
	return s
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.addr
}

// ============================================================================
// ROUTES
// ============================================================================

func (s *Server) setupRoutes() {
	s.router.HandleFunc("POST /v1/messages", s.handleSubmit)
	s.router.HandleFunc("GET /v1/state", s.handleState)
	s.router.HandleFunc("POST /v1/suggestions/dismiss", s.handleDismiss)
	s.router.HandleFunc("DELETE /v1/suggestions", s.handleClearSuggestions)
	s.router.HandleFunc("POST /v1/connectivity", s.handleConnectivity)
	s.router.HandleFunc("POST /v1/flush", s.handleFlush)
	s.router.HandleFunc("POST /v1/worker/{kind}", s.handleWorker)
	s.router.HandleFunc("GET /v1/events", s.handleEvents)

	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /metrics", s.handleMetrics)
}

// Handler returns the routes wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	return Chain(
		RecoveryMiddleware(),
		SecurityHeadersMiddleware(),
		LoggingMiddleware(log.Default()),
		CORSMiddleware(s.origins),
		RateLimitMiddleware(s.limiter),
		AuthMiddleware(s.token),
		BodyLimitMiddleware(MaxRequestBodySize),
	)(s.router)
}

// ============================================================================
// REQUEST / RESPONSE TYPES
// ============================================================================

// SubmitRequest is the body of POST /v1/messages.
type SubmitRequest struct {
	Text string `json:"text"`
}

// SubmitResponse is returned by POST /v1/messages.
type SubmitResponse struct {
	Outcome orchestrator.Outcome `json:"outcome"`
	User    model.Message        `json:"user"`
	Reply   *model.Message       `json:"reply,omitempty"`
	State   model.Snapshot       `json:"state"`
}

// DismissRequest is the body of POST /v1/suggestions/dismiss.
type DismissRequest struct {
	Text string `json:"text"`
}

// ConnectivityRequest is the body of POST /v1/connectivity.
type ConnectivityRequest struct {
	Online bool `json:"online"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Online        bool   `json:"online"`
	QueueDepth    int    `json:"queue_depth"`
	Phase         string `json:"phase"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Worker        bool   `json:"worker"`
}

// ============================================================================
// CONVERSATION HANDLERS
// ============================================================================

// handleSubmit handles POST /v1/messages.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if !s.decode(w, r, &req) {
		return
	}
	if len(req.Text) > MaxMessageLength {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("text exceeds %d bytes", MaxMessageLength))
		return
	}

	res, err := s.orch.Submit(r.Context(), req.Text)
	switch {
	case errors.Is(err, orchestrator.ErrEmptyInput):
		writeError(w, http.StatusBadRequest, "text must not be empty")
		return
	case errors.Is(err, orchestrator.ErrBusy):
		writeError(w, http.StatusConflict, "a request is already in progress")
		return
	case errors.Is(err, orchestrator.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "shutting down")
		return
	case err != nil && res.Outcome != orchestrator.OutcomeFailed:
		// SECURITY: Log the detail, return a generic message.
		log.Printf("SUBMIT_ERROR | error=%v", err)
		writeError(w, http.StatusInternalServerError, "submission failed")
		return
	}

	resp := SubmitResponse{
		Outcome: res.Outcome,
		User:    res.User,
		State:   s.orch.Snapshot(),
	}
	if res.Reply.ID != "" {
		reply := res.Reply
		resp.Reply = &reply
	}

	status := http.StatusOK
	if res.Outcome == orchestrator.OutcomeQueued {
		status = http.StatusAccepted
	}
	writeJSON(w, status, resp)
}

// handleState handles GET /v1/state.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.Snapshot())
}

// handleDismiss handles POST /v1/suggestions/dismiss.
func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	var req DismissRequest
	if !s.decode(w, r, &req) {
		return
	}
	if !s.orch.DismissSuggestion(req.Text) {
		writeError(w, http.StatusNotFound, "no such suggestion")
		return
	}
	writeJSON(w, http.StatusOK, s.orch.Snapshot())
}

// handleClearSuggestions handles DELETE /v1/suggestions.
func (s *Server) handleClearSuggestions(w http.ResponseWriter, r *http.Request) {
	s.orch.ClearSuggestions()
	writeJSON(w, http.StatusOK, s.orch.Snapshot())
}

// handleConnectivity handles POST /v1/connectivity.
func (s *Server) handleConnectivity(w http.ResponseWriter, r *http.Request) {
	var req ConnectivityRequest
	if !s.decode(w, r, &req) {
		return
	}
	if s.orch.SetOnline(req.Online) {
		log.Printf("CONNECTIVITY_SET | online=%v ip=%s", req.Online, GetClientIP(r))
	}
	writeJSON(w, http.StatusOK, s.orch.Snapshot())
}

// handleFlush handles POST /v1/flush.
func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	res, err := s.orch.Flush(r.Context())
	switch {
	case errors.Is(err, offline.ErrFlushInProgress):
		writeError(w, http.StatusConflict, "flush already in progress")
		return
	case err != nil:
		log.Printf("FLUSH_ERROR | error=%v", err)
		writeError(w, http.StatusInternalServerError, "flush failed")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ============================================================================
// WORKER HANDLER
// ============================================================================

// handleWorker handles POST /v1/worker/{kind}. The body is passed to the
// worker as the payload; the result is returned as-is.
func (s *Server) handleWorker(w http.ResponseWriter, r *http.Request) {
	if s.worker == nil {
		writeError(w, http.StatusServiceUnavailable, "worker not running")
		return
	}
	kind := worker.Kind(r.PathValue("kind"))
	if !kind.Valid() {
		writeError(w, http.StatusNotFound, "unknown worker operation")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeBodyError(w, err)
		return
	}
	if !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "body must be JSON")
		return
	}

	var out json.RawMessage
	err = s.worker.Call(r.Context(), kind, json.RawMessage(body), &out)
	s.metrics.WorkerCall(string(kind), err)

	var remote *worker.RemoteError
	switch {
	case errors.As(err, &remote):
		writeError(w, http.StatusUnprocessableEntity, remote.Message)
		return
	case errors.Is(err, worker.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, "worker timed out")
		return
	case errors.Is(err, worker.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "worker stopped")
		return
	case err != nil:
		log.Printf("WORKER_ERROR | kind=%s error=%v", kind, err)
		writeError(w, http.StatusInternalServerError, "worker call failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]json.RawMessage{"result": out})
}

// ============================================================================
// EVENTS (WEBSOCKET)
// ============================================================================

// handleEvents handles GET /v1/events. The client receives the current
// state first, then one JSON Event per change.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WS_UPGRADE_FAILED | error=%v", err)
		return
	}
	defer conn.Close()

	events, cancel := s.orch.Subscribe(orchestrator.DefaultEventBuffer)
	defer cancel()

	// Reader: handles pongs and notices the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(ev orchestrator.Event) error {
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(ev)
	}

	if err := send(orchestrator.Event{Type: "state", Snapshot: s.orch.Snapshot()}); err != nil {
		return
	}

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			if err := send(ev); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}

// ============================================================================
// HEALTH AND METRICS
// ============================================================================

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.orch.Snapshot()
	health := HealthResponse{
		Status:        "ok",
		Version:       Version,
		Online:        snap.Online,
		QueueDepth:    snap.QueueDepth,
		Phase:         string(snap.Phase),
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Worker:        s.worker != nil,
	}
	if !snap.Online {
		health.Status = "degraded"
	}
	writeJSON(w, http.StatusOK, health)
}

// handleMetrics handles GET /metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}).ServeHTTP(w, r)
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Submissions wait up to the model timeout; websockets set their own deadlines.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}
	srv := s.server
	s.mu.Unlock()

	log.Printf("SERVER_START | addr=%s version=%s", ln.Addr(), Version)
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	log.Printf("SERVER_SHUTDOWN | starting graceful shutdown")
	return srv.Shutdown(ctx)
}

// ============================================================================
// HELPERS
// ============================================================================

// decode reads a JSON body into v, writing the error response on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeBodyError(w, err)
		return false
	}
	return true
}

func writeBodyError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		return
	}
	// SECURITY: Decoder errors can echo input; keep them in the log.
	log.Printf("INVALID_BODY | error=%v", err)
	writeError(w, http.StatusBadRequest, "invalid request body")
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    status,
		},
	})
}
