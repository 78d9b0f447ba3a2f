// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/lark/internal/offline"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrDeliveryFailed is returned when every attempt failed transiently.
	ErrDeliveryFailed = errors.New("action delivery failed")

	// ErrRejected is returned when the endpoint refused the action.
	// Rejections are not retried.
	ErrRejected = errors.New("action rejected")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("dispatcher closed")

	// ErrNoEndpoint is returned by Dispatch when no endpoint is configured.
	ErrNoEndpoint = errors.New("no action endpoint configured")
)

// maxResponseSize bounds how much of a response body is read.
const maxResponseSize = 1 << 20

// =============================================================================
// TYPES
// =============================================================================

// Request is the body posted to the action endpoint.
type Request struct {
	ActionType string         `json:"actionType"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// Response is the endpoint's reply.
type Response struct {
	Success    bool   `json:"success"`
	Message    string `json:"message,omitempty"`
	ActionType string `json:"actionType,omitempty"`
	Error      string `json:"error,omitempty"`
}

// RetryPolicy bounds redelivery of one action.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy returns 3 attempts with 500ms doubling backoff capped at 5s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second}
}

// Backoff returns the delay before retry number attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	delay := p.BaseDelay * time.Duration(1<<uint(attempt-1))
	if delay > p.MaxDelay || delay <= 0 {
		delay = p.MaxDelay
	}
	return delay
}

// FailureHook observes actions that Trigger could not deliver.
type FailureHook func(actionType string, err error)

// attemptError is one failed attempt and whether it is worth repeating.
type attemptError struct {
	err       error
	retryable bool
}

func (e *attemptError) Error() string { return e.err.Error() }
func (e *attemptError) Unwrap() error { return e.err }

// =============================================================================
// DISPATCHER
// =============================================================================

// Dispatcher posts actions to the external orchestration endpoint.
type Dispatcher struct {
	endpoint   string
	httpClient *http.Client
	policy     RetryPolicy
	limiter    *rate.Limiter
	timeout    time.Duration

	mu        sync.Mutex
	onFailure FailureHook
	onResult  func(actionType string, err error)
	closed    bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a dispatcher for endpoint. An empty endpoint yields a
// dispatcher whose Trigger only logs.
func New(endpoint string) (*Dispatcher, error) {
	if endpoint != "" {
		if err := offline.ValidateEndpoint(endpoint); err != nil {
			return nil, fmt.Errorf("action endpoint: %w", err)
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		endpoint:   endpoint,
		httpClient: &http.Client{},
		policy:     DefaultRetryPolicy(),
		limiter:    rate.NewLimiter(rate.Limit(5), 10),
		timeout:    10 * time.Second,
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// WithRetryPolicy sets the retry policy. MaxAttempts below 1 is treated as 1.
func (d *Dispatcher) WithRetryPolicy(p RetryPolicy) *Dispatcher {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	d.policy = p
	return d
}

// WithRateLimit sets the outbound token bucket.
func (d *Dispatcher) WithRateLimit(perSecond float64, burst int) *Dispatcher {
	d.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	return d
}

// WithTimeout sets the per-attempt HTTP timeout.
func (d *Dispatcher) WithTimeout(timeout time.Duration) *Dispatcher {
	d.timeout = timeout
	return d
}

// WithHTTPClient replaces the HTTP client.
func (d *Dispatcher) WithHTTPClient(c *http.Client) *Dispatcher {
	d.httpClient = c
	return d
}

// OnFailure registers a hook for actions Trigger gave up on.
func (d *Dispatcher) OnFailure(fn FailureHook) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onFailure = fn
}

// OnResult registers a hook called after every Trigger completes,
// with a nil error on success. Used for metrics.
func (d *Dispatcher) OnResult(fn func(actionType string, err error)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onResult = fn
}

// Endpoint returns the configured endpoint.
func (d *Dispatcher) Endpoint() string {
	return d.endpoint
}

// Trigger sends an action in the background. It never blocks on the network
// and never reports an error to the caller; failures are logged and handed
// to the failure hook.
func (d *Dispatcher) Trigger(actionType string, payload map[string]any) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		log.Printf("DISPATCH: dropped %s, dispatcher closed", actionType)
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Printf("DISPATCH: panic delivering %s: %v", actionType, r)
			}
		}()

		_, err := d.Dispatch(d.ctx, actionType, payload)

		d.mu.Lock()
		onFailure, onResult := d.onFailure, d.onResult
		d.mu.Unlock()

		if onResult != nil {
			onResult(actionType, err)
		}
		if err == nil {
			return
		}
		if errors.Is(err, ErrNoEndpoint) {
			log.Printf("DISPATCH: %s not sent, no endpoint configured", actionType)
			return
		}
		log.Printf("DISPATCH: %s failed: %v", actionType, err)
		if onFailure != nil {
			onFailure(actionType, err)
		}
	}()
}

// Dispatch sends one action and waits for the outcome, retrying transient
// failures per the retry policy.
func (d *Dispatcher) Dispatch(ctx context.Context, actionType string, payload map[string]any) (*Response, error) {
	if d.endpoint == "" {
		return nil, ErrNoEndpoint
	}
	body, err := json.Marshal(Request{ActionType: actionType, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", actionType, err)
	}

	var lastErr error
	for attempt := 1; attempt <= d.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %w", ErrDeliveryFailed, ctx.Err())
			case <-time.After(d.policy.Backoff(attempt - 1)):
			}
		}
		if err := d.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
		}

		resp, err := d.attempt(ctx, body)
		if err == nil {
			return resp, nil
		}

		var ae *attemptError
		if errors.As(err, &ae) && !ae.retryable {
			return resp, fmt.Errorf("%w: %s: %w", ErrRejected, actionType, ae.err)
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		log.Printf("DISPATCH: %s attempt %d/%d failed: %v", actionType, attempt, d.policy.MaxAttempts, err)
	}
	return nil, fmt.Errorf("%w: %s after %d attempts: %w", ErrDeliveryFailed, actionType, d.policy.MaxAttempts, lastErr)
}

func (d *Dispatcher) attempt(ctx context.Context, body []byte) (*Response, error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &attemptError{err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, &attemptError{err: err, retryable: true}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &attemptError{err: err, retryable: true}
	}

	var out Response
	parseErr := json.Unmarshal(raw, &out)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &attemptError{err: fmt.Errorf("status %d%s", resp.StatusCode, detail(out)), retryable: true}
	case resp.StatusCode >= 400:
		return &out, &attemptError{err: fmt.Errorf("status %d%s", resp.StatusCode, detail(out))}
	case parseErr != nil:
		// A 2xx without a JSON body is accepted.
		return &Response{Success: true}, nil
	case !out.Success:
		return &out, &attemptError{err: fmt.Errorf("endpoint reported failure%s", detail(out))}
	}
	return &out, nil
}

func detail(r Response) string {
	switch {
	case r.Error != "":
		return ": " + r.Error
	case r.Message != "":
		return ": " + r.Message
	}
	return ""
}

// Wait blocks until every triggered action has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Close stops accepting actions, cancels in-flight retries and waits for
// background deliveries to return.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()
	return nil
}
