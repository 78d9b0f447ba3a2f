// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func newTestDispatcher(t *testing.T, url string) *Dispatcher {
	t.Helper()
	d, err := New(url)
	require.NoError(t, err)
	d.WithRetryPolicy(fastPolicy(3)).WithRateLimit(1000, 100)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestNew_RejectsBadEndpoint(t *testing.T) {
	_, err := New("file:///etc/passwd")
	assert.Error(t, err)
}

func TestDispatch_Success(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(Response{Success: true, Message: "Orchestration action processed", ActionType: got.ActionType})
	}))
	defer srv.Close()

	d := newTestDispatcher(t, srv.URL)
	resp, err := d.Dispatch(context.Background(), "notifyDispatch", map[string]any{"status": "arrived"})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "notifyDispatch", got.ActionType)
	assert.Equal(t, "arrived", got.Payload["status"])
}

func TestDispatch_RetriesTransient(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(Response{Success: true})
	}))
	defer srv.Close()

	d := newTestDispatcher(t, srv.URL)
	_, err := d.Dispatch(context.Background(), "requestBackup", nil)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDispatch_GivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	d := newTestDispatcher(t, srv.URL)
	_, err := d.Dispatch(context.Background(), "requestBackup", nil)
	assert.ErrorIs(t, err, ErrDeliveryFailed)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDispatch_RejectionNotRetried(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   Response
	}{
		{"bad request", http.StatusBadRequest, Response{Success: false, Message: "Action type is required"}},
		{"success false", http.StatusOK, Response{Success: false, Error: "unknown action"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(tt.body)
			}))
			defer srv.Close()

			d := newTestDispatcher(t, srv.URL)
			_, err := d.Dispatch(context.Background(), "requestBackup", nil)
			assert.ErrorIs(t, err, ErrRejected)
			assert.NotErrorIs(t, err, ErrDeliveryFailed)
			assert.Equal(t, int32(1), calls.Load())
		})
	}
}

func TestDispatch_NoEndpoint(t *testing.T) {
	d, err := New("")
	require.NoError(t, err)
	_, err = d.Dispatch(context.Background(), "notifyDispatch", nil)
	assert.ErrorIs(t, err, ErrNoEndpoint)
}

func TestTrigger_FireAndForget(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		json.NewEncoder(w).Encode(Response{Success: true})
	}))
	defer srv.Close()

	d := newTestDispatcher(t, srv.URL)

	start := time.Now()
	d.Trigger("notifyDispatch", map[string]any{"status": "arrived"})
	assert.Less(t, time.Since(start), 100*time.Millisecond, "Trigger must not block on the network")

	close(release)
	d.Wait()
}

func TestTrigger_FailureHook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := newTestDispatcher(t, srv.URL)

	var mu sync.Mutex
	var failed []string
	var results int
	d.OnFailure(func(action string, err error) {
		mu.Lock()
		defer mu.Unlock()
		failed = append(failed, action)
		assert.True(t, errors.Is(err, ErrDeliveryFailed))
	})
	d.OnResult(func(string, error) {
		mu.Lock()
		results++
		mu.Unlock()
	})

	d.Trigger("requestMedicalAssistance", nil)
	d.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"requestMedicalAssistance"}, failed)
	assert.Equal(t, 1, results)
}

func TestClose_CancelsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	d, err := New(srv.URL)
	require.NoError(t, err)
	d.WithRetryPolicy(RetryPolicy{MaxAttempts: 10, BaseDelay: time.Second, MaxDelay: time.Second})

	d.Trigger("requestBackup", nil)
	time.Sleep(20 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		d.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not cancel pending retries")
	}

	// after Close, Trigger is a logged no-op
	d.Trigger("requestBackup", nil)
	d.Wait()
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond}
	assert.Equal(t, time.Duration(0), p.Backoff(0))
	assert.Equal(t, 100*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 200*time.Millisecond, p.Backoff(2))
	assert.Equal(t, 300*time.Millisecond, p.Backoff(3))
	assert.Equal(t, 300*time.Millisecond, p.Backoff(10))
}
