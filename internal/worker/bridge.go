// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultCallTimeout bounds a call when the caller's context has no deadline.
const DefaultCallTimeout = 10 * time.Second

var (
	// ErrTimeout is returned when no reply arrives within the call timeout.
	ErrTimeout = errors.New("worker call timed out")

	// ErrClosed is returned for calls made after, or pending at, Close.
	ErrClosed = errors.New("worker bridge closed")
)

// Bridge correlates calls with replies from an Endpoint.
//
// Each call gets a fresh id and a one-shot listener. Replies are matched by
// id only; a reply nobody is waiting for (late, duplicate or unknown) is
// dropped without effect.
type Bridge struct {
	ep      Endpoint
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]chan Response
	closed  bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewBridge starts routing replies from ep.
func NewBridge(ep Endpoint) *Bridge {
	b := &Bridge{
		ep:      ep,
		timeout: DefaultCallTimeout,
		pending: make(map[string]chan Response),
		done:    make(chan struct{}),
	}
	b.wg.Add(1)
	go b.route()
	return b
}

// WithTimeout sets the per-call timeout.
func (b *Bridge) WithTimeout(d time.Duration) *Bridge {
	if d > 0 {
		b.timeout = d
	}
	return b
}

// Pending returns the number of calls awaiting a reply.
func (b *Bridge) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *Bridge) route() {
	defer b.wg.Done()
	responses := b.ep.Responses()
	for {
		select {
		case <-b.done:
			return
		case resp, ok := <-responses:
			if !ok {
				b.Close()
				return
			}
			b.mu.Lock()
			ch, found := b.pending[resp.ID]
			delete(b.pending, resp.ID)
			b.mu.Unlock()
			if found {
				ch <- resp
			}
		}
	}
}

// Call sends payload to the worker and decodes the result into out
// (which may be nil). Failures reported by the worker come back as
// *RemoteError and affect only this call.
func (b *Bridge) Call(ctx context.Context, kind Kind, payload, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", kind, err)
	}

	id := uuid.New().String()
	ch := make(chan Response, 1)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.pending[id] = ch
	b.mu.Unlock()

	// Removing the listener turns a late reply into an unmatched no-op.
	defer func() {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	if err := b.ep.Post(ctx, Request{ID: id, Type: kind, Payload: raw}); err != nil {
		return fmt.Errorf("post %s: %w", kind, err)
	}

	select {
	case resp := <-ch:
		if resp.Error != "" {
			return &RemoteError{Kind: kind, Message: resp.Error}
		}
		if out != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, out); err != nil {
				return fmt.Errorf("decode %s result: %w", kind, err)
			}
		}
		return nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s after %v", ErrTimeout, kind, b.timeout)
		}
		return ctx.Err()
	case <-b.done:
		return ErrClosed
	}
}

// ProcessAudio applies the worker's gain stage to samples.
func (b *Bridge) ProcessAudio(ctx context.Context, samples []float32) ([]float32, error) {
	var out []float32
	if err := b.Call(ctx, KindProcessAudio, samples, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AnalyzeAudio returns the mean absolute amplitude of samples.
func (b *Bridge) AnalyzeAudio(ctx context.Context, samples []float32) (float32, error) {
	var out float32
	err := b.Call(ctx, KindAnalyzeAudio, samples, &out)
	return out, err
}

// ProcessCommand runs a transcribed command through the worker.
func (b *Bridge) ProcessCommand(ctx context.Context, text string) (string, error) {
	var out string
	err := b.Call(ctx, KindProcessCommand, text, &out)
	return out, err
}

// Close fails every pending call with ErrClosed and stops routing.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.done)
	b.mu.Unlock()
	return nil
}

// Wait blocks until the routing goroutine has exited. Call after Close.
func (b *Bridge) Wait() {
	b.wg.Wait()
}
