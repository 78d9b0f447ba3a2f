// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package worker

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"
	"time"
)

func newPair(t *testing.T) *Bridge {
	t.Helper()
	u := NewUnit(4)
	b := NewBridge(u).WithTimeout(2 * time.Second)
	t.Cleanup(func() {
		b.Close()
		u.Close()
		b.Wait()
	})
	return b
}

func TestUnit_ProcessAudio(t *testing.T) {
	b := newPair(t)
	out, err := b.ProcessAudio(context.Background(), []float32{1, -0.5, 0.25, 0})
	if err != nil {
		t.Fatal(err)
	}
	want := []float32{0.5, -0.25, 0.125, 0}
	if len(out) != len(want) {
		t.Fatalf("len = %d, want %d", len(out), len(want))
	}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("out[%d] = %v, want %v", i, out[i], want[i])
		}
	}

	empty, err := b.ProcessAudio(context.Background(), []float32{})
	if err != nil || len(empty) != 0 {
		t.Errorf("empty input = %v, %v", empty, err)
	}
}

func TestUnit_AnalyzeAudio(t *testing.T) {
	b := newPair(t)

	level, err := b.AnalyzeAudio(context.Background(), []float32{0.5, -0.5, 1, -1})
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(float64(level)-0.75) > 1e-6 {
		t.Errorf("level = %v, want 0.75", level)
	}

	_, err = b.AnalyzeAudio(context.Background(), []float32{})
	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Errorf("empty buffer error = %v, want RemoteError", err)
	}
}

func TestUnit_ProcessCommand(t *testing.T) {
	b := newPair(t)
	out, err := b.ProcessCommand(context.Background(), "run plate ABC123")
	if err != nil {
		t.Fatal(err)
	}
	if out != "Processed: run plate ABC123" {
		t.Errorf("out = %q", out)
	}
}

func TestUnit_UnknownType(t *testing.T) {
	b := newPair(t)
	err := b.Call(context.Background(), Kind("transcribe"), "x", nil)
	var remote *RemoteError
	if !errors.As(err, &remote) || remote.Message != "Unknown message type" {
		t.Errorf("error = %v, want RemoteError(Unknown message type)", err)
	}
}

func TestUnit_BadPayload(t *testing.T) {
	b := newPair(t)
	err := b.Call(context.Background(), KindProcessAudio, "not samples", nil)
	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Errorf("error = %v, want RemoteError", err)
	}
}

func TestUnit_HandlerPanicIsolated(t *testing.T) {
	u := NewUnit(2)
	u.Handle(KindProcessCommand, func(context.Context, json.RawMessage) (any, error) {
		panic("boom")
	})
	b := NewBridge(u)
	defer func() { b.Close(); u.Close(); b.Wait() }()

	if _, err := b.ProcessCommand(context.Background(), "x"); err == nil {
		t.Error("panicking handler should surface as an error")
	}
	if _, err := b.AnalyzeAudio(context.Background(), []float32{1}); err != nil {
		t.Errorf("other kinds should still work: %v", err)
	}
}

func TestUnit_Concurrent(t *testing.T) {
	b := newPair(t)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v := float32(i)
			out, err := b.ProcessAudio(context.Background(), []float32{v})
			if err != nil {
				t.Errorf("call %d: %v", i, err)
				return
			}
			if out[0] != v*0.5 {
				t.Errorf("call %d got %v, want %v (cross-delivery?)", i, out[0], v*0.5)
			}
		}(i)
	}
	wg.Wait()
}

func TestUnit_PostAfterClose(t *testing.T) {
	u := NewUnit(1)
	u.Close()
	if err := u.Post(context.Background(), Request{ID: "x", Type: KindProcessCommand}); !errors.Is(err, ErrClosed) {
		t.Errorf("Post after Close = %v, want ErrClosed", err)
	}
}

func TestUnit_CloseUnblocksSaturatedPost(t *testing.T) {
	u := NewUnit(1)
	started := make(chan struct{}, 1)
	u.Handle(KindProcessCommand, func(ctx context.Context, _ json.RawMessage) (any, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return nil, ctx.Err()
	})

	post := func() error {
		return u.Post(context.Background(), Request{ID: "x", Type: KindProcessCommand})
	}
	if err := post(); err != nil {
		t.Fatalf("first Post = %v", err)
	}
	<-started
	// The single worker is busy; fill the request buffer.
	for i := 0; i < cap(u.requests); i++ {
		if err := post(); err != nil {
			t.Fatalf("Post %d = %v", i, err)
		}
	}

	blocked := make(chan error, 1)
	go func() { blocked <- post() }()
	time.Sleep(20 * time.Millisecond)

	closed := make(chan struct{})
	go func() {
		u.Close()
		close(closed)
	}()

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close stalled behind a blocked Post")
	}
	select {
	case err := <-blocked:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("blocked Post = %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked Post never returned")
	}
}
