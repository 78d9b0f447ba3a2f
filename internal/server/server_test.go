// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/lark/internal/cloud"
	"github.com/jeranaias/lark/internal/model"
	"github.com/jeranaias/lark/internal/offline"
	"github.com/jeranaias/lark/internal/orchestrator"
	"github.com/jeranaias/lark/internal/telemetry"
	"github.com/jeranaias/lark/internal/worker"
)

// =============================================================================
// HELPERS
// =============================================================================

type stubModel struct {
	mu    sync.Mutex
	reply string
	err   error
	block chan struct{}
}

func (m *stubModel) Chat(ctx context.Context, _ []cloud.ChatMessage) (*cloud.ChatResponse, error) {
	m.mu.Lock()
	reply, err, block := m.reply, m.err, m.block
	m.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	body, _ := json.Marshal(map[string]any{
		"choices": []any{map[string]any{
			"message": map[string]string{"role": "assistant", "content": reply},
		}},
	})
	var resp cloud.ChatResponse
	_ = json.Unmarshal(body, &resp)
	return &resp, nil
}

type fixture struct {
	srv     *Server
	orch    *orchestrator.Orchestrator
	model   *stubModel
	monitor *offline.Monitor
	handler http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	m := &stubModel{reply: "Copy that."}
	mon := offline.NewMonitor(true)
	reg := prometheus.NewRegistry()
	metrics := telemetry.New(reg)

	orch, err := orchestrator.New(orchestrator.Options{
		Model:           m,
		Monitor:         mon,
		Metrics:         metrics,
		ResponseTimeout: time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { orch.Close() })

	srv := New("", orch).WithMetrics(metrics, reg)
	return &fixture{srv: srv, orch: orch, model: m, monitor: mon, handler: srv.Handler()}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Message string `json:"message"`
			Code    int    `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, rec.Code, body.Error.Code)
	return body.Error.Message
}

// =============================================================================
// CONSTRUCTION
// =============================================================================

func TestNew_DefaultAddr(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, DefaultAddr, f.srv.Addr())

	srv := New(":9999", f.orch)
	assert.Equal(t, ":9999", srv.Addr())
}

// =============================================================================
// MESSAGES
// =============================================================================

func TestHandleSubmit_Reply(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/messages", `{"text":"run plate ABC123"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeBody[SubmitResponse](t, rec)
	assert.Equal(t, orchestrator.OutcomeReplied, resp.Outcome)
	assert.Equal(t, "run plate ABC123", resp.User.Content)
	require.NotNil(t, resp.Reply)
	assert.Equal(t, "Copy that.", resp.Reply.Content)
	assert.Equal(t, model.PhaseIdle, resp.State.Phase)
}

func TestHandleSubmit_Offline(t *testing.T) {
	f := newFixture(t)
	f.monitor.Set(false)

	rec := f.do(t, http.MethodPost, "/v1/messages", `{"text":"status check"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	resp := decodeBody[SubmitResponse](t, rec)
	assert.Equal(t, orchestrator.OutcomeQueued, resp.Outcome)
	require.NotNil(t, resp.Reply)
	assert.Equal(t, orchestrator.DeferralNotice, resp.Reply.Content)
	assert.Equal(t, 1, resp.State.QueueDepth)
	assert.Equal(t, model.PhaseOfflineDeferred, resp.State.Phase)
}

func TestHandleSubmit_ModelError(t *testing.T) {
	f := newFixture(t)
	f.model.err = errors.New("upstream 500")

	rec := f.do(t, http.MethodPost, "/v1/messages", `{"text":"hello"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[SubmitResponse](t, rec)
	assert.Equal(t, orchestrator.OutcomeFailed, resp.Outcome)
	require.NotNil(t, resp.Reply)
	assert.Equal(t, orchestrator.ErrorNotice, resp.Reply.Content)
	assert.NotContains(t, rec.Body.String(), "upstream 500")
}

func TestHandleSubmit_BadRequests(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"empty text", `{"text":"   "}`, http.StatusBadRequest},
		{"invalid json", `{"text":`, http.StatusBadRequest},
		{"unknown field", `{"text":"hi","role":"system"}`, http.StatusBadRequest},
		{"too long", `{"text":"` + strings.Repeat("a", MaxMessageLength+1) + `"}`, http.StatusBadRequest},
		{"too large", `{"text":"` + strings.Repeat("a", MaxRequestBodySize) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/v1/messages", tt.body)
			assert.Equal(t, tt.want, rec.Code)
			errorMessage(t, rec)
		})
	}
}

func TestHandleSubmit_Busy(t *testing.T) {
	f := newFixture(t)
	block := make(chan struct{})
	f.model.block = block
	defer close(block)

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.do(t, http.MethodPost, "/v1/messages", `{"text":"first"}`)
	}()

	require.Eventually(t, func() bool {
		return f.orch.Snapshot().Phase == model.PhaseAwaitingResponse
	}, time.Second, 5*time.Millisecond)

	rec := f.do(t, http.MethodPost, "/v1/messages", `{"text":"second"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	block <- struct{}{}
	<-done
}

func TestHandleSubmit_Closed(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.orch.Close())

	rec := f.do(t, http.MethodPost, "/v1/messages", `{"text":"hello"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleSubmit_WrongMethod(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/v1/messages", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

// =============================================================================
// STATE AND SUGGESTIONS
// =============================================================================

func TestHandleState(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/state", "")
	require.Equal(t, http.StatusOK, rec.Code)

	snap := decodeBody[model.Snapshot](t, rec)
	assert.True(t, snap.Online)
	assert.Equal(t, model.PhaseIdle, snap.Phase)
	require.Len(t, snap.Messages, 1)
	assert.True(t, snap.Messages[0].Notice)
}

func TestHandleSuggestions(t *testing.T) {
	f := newFixture(t)
	f.monitor.Set(false)

	// "need medic" is in the default trigger table.
	rec := f.do(t, http.MethodPost, "/v1/messages", `{"text":"need medic at my location"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	snap := f.orch.Snapshot()
	require.NotEmpty(t, snap.Suggestions)

	rec = f.do(t, http.MethodPost, "/v1/suggestions/dismiss", `{"text":"no such suggestion"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	body, _ := json.Marshal(DismissRequest{Text: snap.Suggestions[0]})
	rec = f.do(t, http.MethodPost, "/v1/suggestions/dismiss", string(body))
	require.Equal(t, http.StatusOK, rec.Code)
	after := decodeBody[model.Snapshot](t, rec)
	assert.NotContains(t, after.Suggestions, snap.Suggestions[0])

	rec = f.do(t, http.MethodDelete, "/v1/suggestions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[model.Snapshot](t, rec).Suggestions)
}

// =============================================================================
// CONNECTIVITY AND FLUSH
// =============================================================================

func TestHandleConnectivity(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/connectivity", `{"online":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeBody[model.Snapshot](t, rec).Online)
	assert.False(t, f.monitor.Online())

	rec = f.do(t, http.MethodPost, "/v1/connectivity", `{"online":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.monitor.Online())
}

func TestHandleFlush(t *testing.T) {
	f := newFixture(t)
	f.monitor.Set(false)

	f.do(t, http.MethodPost, "/v1/messages", `{"text":"one"}`)
	f.do(t, http.MethodPost, "/v1/messages", `{"text":"two"}`)
	require.Equal(t, 2, f.orch.Snapshot().QueueDepth)

	f.monitor.Set(true)
	rec := f.do(t, http.MethodPost, "/v1/flush", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res := decodeBody[offline.FlushResult](t, rec)
	assert.Equal(t, 2, res.Attempted)
	assert.Equal(t, 0, res.Failed)
	assert.Equal(t, 0, f.orch.Snapshot().QueueDepth)
}

// =============================================================================
// WORKER
// =============================================================================

func TestHandleWorker(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/worker/processCommand", `"hello"`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	unit := worker.NewUnit(2)
	bridge := worker.NewBridge(unit)
	t.Cleanup(func() {
		bridge.Close()
		unit.Close()
	})
	f.srv.WithWorker(bridge)

	t.Run("ok", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/v1/worker/processCommand", `"hello"`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var out struct {
			Result string `json:"result"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		assert.Equal(t, "Processed: hello", out.Result)
	})

	t.Run("remote error", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/v1/worker/analyzeAudio", `[]`)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Contains(t, errorMessage(t, rec), "empty audio buffer")
	})

	t.Run("unknown kind", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/v1/worker/rm-rf", `{}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("invalid json", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/v1/worker/processCommand", `not json`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

// =============================================================================
// HEALTH AND METRICS
// =============================================================================

func TestHandleHealth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	h := decodeBody[HealthResponse](t, rec)
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, Version, h.Version)
	assert.True(t, h.Online)
	assert.False(t, h.Worker)

	f.monitor.Set(false)
	rec = f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, "degraded", decodeBody[HealthResponse](t, rec).Status)
}

func TestHandleMetrics(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/v1/messages", `{"text":"hello"}`)

	rec := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "lark_")
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

func TestAuthMiddleware(t *testing.T) {
	f := newFixture(t)
	f.srv.WithToken("s3cret")
	h := f.srv.Handler()

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"health is open", "/health", "", http.StatusOK},
		{"missing token", "/v1/state", "", http.StatusUnauthorized},
		{"wrong token", "/v1/state", "Bearer nope", http.StatusUnauthorized},
		{"bearer header", "/v1/state", "Bearer s3cret", http.StatusOK},
		{"query token", "/v1/state?token=s3cret", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestValidateBearerToken(t *testing.T) {
	assert.True(t, ValidateBearerToken("abc", "abc"))
	assert.False(t, ValidateBearerToken("abd", "abc"))
	assert.False(t, ValidateBearerToken("", "abc"))
	assert.False(t, ValidateBearerToken("", ""))
}

func TestOriginPolicy(t *testing.T) {
	p := OriginPolicy{Allowed: []string{"https://dispatch.example.gov"}}

	assert.True(t, p.Allow(""))
	assert.True(t, p.Allow("http://localhost:3000"))
	assert.True(t, p.Allow("http://127.0.0.1:8080"))
	assert.True(t, p.Allow("https://DISPATCH.example.gov"))
	assert.False(t, p.Allow("https://evil.example.com"))
	assert.False(t, p.Allow("://bad"))

	assert.True(t, OriginPolicy{Allowed: []string{"*"}}.Allow("https://anything.test"))
}

func TestCORSMiddleware(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodOptions, "/v1/messages", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/v1/state", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(3)
	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("10.0.0.1"), "request %d", i)
	}
	assert.False(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.2"), "buckets are per client")
}

func TestRateLimitMiddleware(t *testing.T) {
	f := newFixture(t)
	f.srv.WithRateLimit(1)
	h := f.srv.Handler()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestSecurityHeaders(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestRecoveryMiddleware(t *testing.T) {
	h := RecoveryMiddleware()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name   string
		remote string
		xff    string
		want   string
	}{
		{"direct", "203.0.113.7:5000", "", "203.0.113.7"},
		{"remote cannot spoof", "203.0.113.7:5000", "10.9.9.9", "203.0.113.7"},
		{"loopback proxy", "127.0.0.1:5000", "198.51.100.2, 10.0.0.1", "198.51.100.2"},
		{"loopback garbage header", "127.0.0.1:5000", "not-an-ip", "127.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			assert.Equal(t, tt.want, GetClientIP(req))
		})
	}
}

// =============================================================================
// EVENTS
// =============================================================================

func TestHandleEvents(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.handler)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first orchestrator.Event
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, orchestrator.EventType("state"), first.Type)
	assert.True(t, first.Snapshot.Online)

	f.monitor.Set(false)
	_, err = f.orch.Submit(context.Background(), "queued while offline")
	require.NoError(t, err)

	var sawMessage bool
	for i := 0; i < 10 && !sawMessage; i++ {
		var ev orchestrator.Event
		require.NoError(t, conn.ReadJSON(&ev))
		sawMessage = ev.Type == orchestrator.EventMessage
	}
	assert.True(t, sawMessage)
}

func TestHandleEvents_RejectsForeignOrigin(t *testing.T) {
	f := newFixture(t)
	ts := httptest.NewServer(f.handler)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/events"
	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

// =============================================================================
// LIFECYCLE
// =============================================================================

func TestShutdown_NotStarted(t *testing.T) {
	f := newFixture(t)
	assert.NoError(t, f.srv.Shutdown(context.Background()))
}
