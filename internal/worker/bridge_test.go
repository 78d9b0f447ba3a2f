// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeEndpoint records requests and lets the test answer them by hand.
type fakeEndpoint struct {
	requests  chan Request
	responses chan Response
}

func newFakeEndpoint() *fakeEndpoint {
	return &fakeEndpoint{
		requests:  make(chan Request, 64),
		responses: make(chan Response, 64),
	}
}

func (f *fakeEndpoint) Post(ctx context.Context, req Request) error {
	select {
	case f.requests <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeEndpoint) Responses() <-chan Response { return f.responses }

func (f *fakeEndpoint) reply(id string, result any) {
	raw, _ := json.Marshal(result)
	f.responses <- Response{ID: id, Result: raw}
}

func TestBridge_ReverseOrderReplies(t *testing.T) {
	ep := newFakeEndpoint()
	b := NewBridge(ep)
	defer b.Close()

	const n = 10
	results := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = b.ProcessCommand(context.Background(), fmt.Sprintf("cmd-%d", i))
		}(i)
	}

	reqs := make([]Request, 0, n)
	ids := make(map[string]bool)
	for i := 0; i < n; i++ {
		req := <-ep.requests
		if ids[req.ID] {
			t.Fatalf("duplicate correlation id %s", req.ID)
		}
		ids[req.ID] = true
		reqs = append(reqs, req)
	}

	// answer newest first, echoing each request's own payload
	for i := len(reqs) - 1; i >= 0; i-- {
		var text string
		json.Unmarshal(reqs[i].Payload, &text)
		ep.reply(reqs[i].ID, "Processed: "+text)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Errorf("call %d error: %v", i, errs[i])
		}
		if want := fmt.Sprintf("Processed: cmd-%d", i); results[i] != want {
			t.Errorf("call %d got %q, want %q", i, results[i], want)
		}
	}
	if b.Pending() != 0 {
		t.Errorf("Pending() = %d after all replies", b.Pending())
	}
}

func TestBridge_UnmatchedReplyIsNoOp(t *testing.T) {
	ep := newFakeEndpoint()
	b := NewBridge(ep)
	defer b.Close()

	ep.reply("nobody-asked", 42)

	done := make(chan error, 1)
	go func() {
		_, err := b.ProcessCommand(context.Background(), "status")
		done <- err
	}()
	req := <-ep.requests
	ep.reply("another-stranger", "x")
	ep.reply(req.ID, "Processed: status")

	if err := <-done; err != nil {
		t.Errorf("call failed after unmatched replies: %v", err)
	}
}

func TestBridge_RemoteErrorIsolated(t *testing.T) {
	ep := newFakeEndpoint()
	b := NewBridge(ep)
	defer b.Close()

	errA := make(chan error, 1)
	errB := make(chan error, 1)
	go func() { _, err := b.AnalyzeAudio(context.Background(), nil); errA <- err }()
	reqA := <-ep.requests
	go func() { _, err := b.AnalyzeAudio(context.Background(), []float32{1}); errB <- err }()
	reqB := <-ep.requests

	ep.responses <- Response{ID: reqA.ID, Error: "empty audio buffer"}
	ep.reply(reqB.ID, 1.0)

	var remote *RemoteError
	if err := <-errA; !errors.As(err, &remote) || remote.Message != "empty audio buffer" {
		t.Errorf("call A error = %v, want RemoteError", err)
	}
	if err := <-errB; err != nil {
		t.Errorf("call B should be unaffected, got %v", err)
	}
}

func TestBridge_Timeout(t *testing.T) {
	ep := newFakeEndpoint()
	b := NewBridge(ep).WithTimeout(30 * time.Millisecond)
	defer b.Close()

	_, err := b.ProcessCommand(context.Background(), "never answered")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("error = %v, want ErrTimeout", err)
	}
	if b.Pending() != 0 {
		t.Error("listener should be removed after timeout")
	}

	// the late reply must be harmless
	req := <-ep.requests
	ep.reply(req.ID, "Processed: never answered")
	time.Sleep(10 * time.Millisecond)
	if b.Pending() != 0 {
		t.Error("late reply should not create state")
	}
}

func TestBridge_Cancel(t *testing.T) {
	ep := newFakeEndpoint()
	b := NewBridge(ep)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := b.ProcessCommand(ctx, "x")
		done <- err
	}()
	<-ep.requests
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestBridge_CloseFailsPending(t *testing.T) {
	ep := newFakeEndpoint()
	b := NewBridge(ep)

	done := make(chan error, 1)
	go func() {
		_, err := b.ProcessCommand(context.Background(), "x")
		done <- err
	}()
	<-ep.requests
	b.Close()

	if err := <-done; !errors.Is(err, ErrClosed) {
		t.Errorf("pending call error = %v, want ErrClosed", err)
	}
	if _, err := b.ProcessCommand(context.Background(), "y"); !errors.Is(err, ErrClosed) {
		t.Errorf("call after close = %v, want ErrClosed", err)
	}
	b.Wait()
}

func TestBridge_EndpointClosedFailsPending(t *testing.T) {
	ep := newFakeEndpoint()
	b := NewBridge(ep)

	done := make(chan error, 1)
	go func() {
		_, err := b.ProcessCommand(context.Background(), "x")
		done <- err
	}()
	<-ep.requests
	close(ep.responses)

	if err := <-done; !errors.Is(err, ErrClosed) {
		t.Errorf("error = %v, want ErrClosed", err)
	}
	b.Wait()
}
