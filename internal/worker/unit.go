// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
)

// Handler computes the result for one request kind.
type Handler func(ctx context.Context, payload json.RawMessage) (any, error)

// errUnknownType is reported for request kinds with no handler.
var errUnknownType = errors.New("Unknown message type")

// Unit is the background computation side of the bridge: a fixed pool of
// goroutines reading requests and writing responses. It is reachable only
// through Post and Responses.
type Unit struct {
	handlers  map[Kind]Handler
	requests  chan Request
	responses chan Response

	mu     sync.RWMutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewUnit starts concurrency workers with the audio handlers registered.
func NewUnit(concurrency int) *Unit {
	if concurrency < 1 {
		concurrency = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	u := &Unit{
		handlers: map[Kind]Handler{
			KindProcessAudio:   processAudio,
			KindAnalyzeAudio:   analyzeAudio,
			KindProcessCommand: processCommand,
		},
		requests:  make(chan Request, concurrency*4),
		responses: make(chan Response, concurrency*4),
		ctx:       ctx,
		cancel:    cancel,
	}
	for i := 0; i < concurrency; i++ {
		u.wg.Add(1)
		go u.work()
	}
	return u
}

// Handle registers or replaces a handler. Call before the first Post.
func (u *Unit) Handle(kind Kind, h Handler) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.handlers[kind] = h
}

// Post queues a request for the pool. It blocks while the pool is saturated
// until ctx is done or the unit closes.
func (u *Unit) Post(ctx context.Context, req Request) error {
	u.mu.RLock()
	closed := u.closed
	u.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	// requests is never closed, so sending after Close cannot panic.
	select {
	case u.requests <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-u.ctx.Done():
		return ErrClosed
	}
}

// Responses returns the reply stream. It is closed by Close.
func (u *Unit) Responses() <-chan Response {
	return u.responses
}

func (u *Unit) work() {
	defer u.wg.Done()
	for {
		var req Request
		select {
		case req = <-u.requests:
		case <-u.ctx.Done():
			return
		}
		resp := u.handle(req)
		select {
		case u.responses <- resp:
		case <-u.ctx.Done():
			return
		}
	}
}

func (u *Unit) handle(req Request) (resp Response) {
	resp.ID = req.ID
	defer func() {
		if r := recover(); r != nil {
			log.Printf("WORKER: panic in %s handler: %v", req.Type, r)
			resp = Response{ID: req.ID, Error: fmt.Sprintf("worker panic: %v", r)}
		}
	}()

	u.mu.RLock()
	h, ok := u.handlers[req.Type]
	u.mu.RUnlock()
	if !ok {
		resp.Error = errUnknownType.Error()
		return resp
	}

	result, err := h(u.ctx, req.Payload)
	if err != nil {
		resp.Error = err.Error()
		return resp
	}
	raw, err := json.Marshal(result)
	if err != nil {
		resp.Error = fmt.Sprintf("encode result: %v", err)
		return resp
	}
	resp.Result = raw
	return resp
}

// Close stops accepting requests and closes the response stream.
// Requests still queued may go unanswered.
func (u *Unit) Close() error {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return nil
	}
	u.closed = true
	u.mu.Unlock()

	u.cancel()
	u.wg.Wait()
	close(u.responses)
	return nil
}

// =============================================================================
// HANDLERS
// =============================================================================

func decodeSamples(payload json.RawMessage) ([]float32, error) {
	var samples []float32
	if err := json.Unmarshal(payload, &samples); err != nil {
		return nil, fmt.Errorf("payload must be an array of samples: %w", err)
	}
	return samples, nil
}

// processAudio halves every sample.
func processAudio(_ context.Context, payload json.RawMessage) (any, error) {
	samples, err := decodeSamples(payload)
	if err != nil {
		return nil, err
	}
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = s * 0.5
	}
	return out, nil
}

// analyzeAudio returns the mean absolute amplitude.
func analyzeAudio(_ context.Context, payload json.RawMessage) (any, error) {
	samples, err := decodeSamples(payload)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, errors.New("empty audio buffer")
	}
	var sum float64
	for _, s := range samples {
		sum += math.Abs(float64(s))
	}
	return float32(sum / float64(len(samples))), nil
}

// processCommand echoes the command with a prefix.
func processCommand(_ context.Context, payload json.RawMessage) (any, error) {
	var text string
	if err := json.Unmarshal(payload, &text); err != nil {
		return nil, fmt.Errorf("payload must be a string: %w", err)
	}
	return "Processed: " + text, nil
}
