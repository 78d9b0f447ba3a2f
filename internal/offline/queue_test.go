// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package offline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// storeFactories runs store-sensitive tests against every Store.
func storeFactories(t *testing.T) map[string]func() Store {
	return map[string]func() Store{
		"memory": func() Store { return NewMemoryStore() },
		"sqlite": func() Store {
			s, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "queue.db"))
			if err != nil {
				t.Fatalf("OpenSQLiteStore: %v", err)
			}
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func TestQueue_FlushPreservesOrder(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			q := NewQueue(newStore())
			for i := 0; i < 5; i++ {
				if _, err := q.Enqueue(ctx, fmt.Sprintf("m%d", i), ""); err != nil {
					t.Fatal(err)
				}
			}

			var got []string
			res, err := q.Flush(ctx, func(_ context.Context, m QueuedMessage) error {
				got = append(got, m.Content)
				return nil
			})
			if err != nil {
				t.Fatal(err)
			}
			if res.Attempted != 5 || res.Failed != 0 {
				t.Errorf("result = %+v", res)
			}
			for i, c := range got {
				if c != fmt.Sprintf("m%d", i) {
					t.Errorf("replay[%d] = %q", i, c)
				}
			}
			if q.Len() != 0 {
				t.Errorf("Len() = %d after flush", q.Len())
			}
		})
	}
}

func TestQueue_FailedEntriesAreDropped(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(NewMemoryStore())
	q.Enqueue(ctx, "A", "")
	q.Enqueue(ctx, "B", "")
	q.Enqueue(ctx, "C", "")

	var got []string
	res, err := q.Flush(ctx, func(_ context.Context, m QueuedMessage) error {
		got = append(got, m.Content)
		if m.Content == "B" {
			return errors.New("remote failure")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Errorf("replayed %v, want all three", got)
	}
	if res.Failed != 1 || res.Attempted != 3 {
		t.Errorf("result = %+v, want 3 attempted 1 failed", res)
	}
	if q.Len() != 0 {
		t.Error("a failed entry should not be retried")
	}
}

func TestQueue_StopFlushKeepsHead(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(NewMemoryStore())
	q.Enqueue(ctx, "A", "")
	q.Enqueue(ctx, "B", "")

	res, err := q.Flush(ctx, func(_ context.Context, m QueuedMessage) error {
		if m.Content == "B" {
			return ErrStopFlush
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Stopped || res.Attempted != 1 {
		t.Errorf("result = %+v", res)
	}
	pending, _ := q.Pending(ctx)
	if len(pending) != 1 || pending[0].Content != "B" {
		t.Errorf("pending = %+v, want [B]", pending)
	}
	if q.Flushing() {
		t.Error("flushing flag should be cleared")
	}
}

func TestQueue_EnqueueDuringFlushIsDrained(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(NewMemoryStore())
	q.Enqueue(ctx, "A", "")

	var got []string
	_, err := q.Flush(ctx, func(_ context.Context, m QueuedMessage) error {
		got = append(got, m.Content)
		if m.Content == "A" {
			if _, ok, err := q.EnqueueIfPending(ctx, "B", ""); err != nil || !ok {
				t.Errorf("EnqueueIfPending during flush = %v, %v", ok, err)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[1] != "B" {
		t.Errorf("replayed %v, want [A B]", got)
	}
}

func TestQueue_EnqueueIfPending(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(NewMemoryStore())

	if _, ok, _ := q.EnqueueIfPending(ctx, "x", ""); ok {
		t.Error("empty idle queue should not accept EnqueueIfPending")
	}
	q.Enqueue(ctx, "first", "")
	if _, ok, _ := q.EnqueueIfPending(ctx, "second", ""); !ok {
		t.Error("non-empty queue should accept EnqueueIfPending")
	}
	if q.Len() != 2 {
		t.Errorf("Len() = %d, want 2", q.Len())
	}
}

func TestQueue_ConcurrentFlushRejected(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(NewMemoryStore())
	q.Enqueue(ctx, "A", "")

	started := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		q.Flush(ctx, func(context.Context, QueuedMessage) error {
			close(started)
			<-release
			return nil
		})
	}()

	<-started
	if _, err := q.Flush(ctx, func(context.Context, QueuedMessage) error { return nil }); !errors.Is(err, ErrFlushInProgress) {
		t.Errorf("second Flush = %v, want ErrFlushInProgress", err)
	}
	close(release)
	wg.Wait()
}

func TestQueue_OnChange(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(NewMemoryStore())

	var mu sync.Mutex
	var depths []int
	q.OnChange(func(d int) {
		mu.Lock()
		depths = append(depths, d)
		mu.Unlock()
	})

	q.Enqueue(ctx, "A", "")
	q.Enqueue(ctx, "B", "")
	q.Flush(ctx, func(context.Context, QueuedMessage) error { return nil })

	mu.Lock()
	defer mu.Unlock()
	want := []int{1, 2, 1, 0}
	if fmt.Sprint(depths) != fmt.Sprint(want) {
		t.Errorf("depths = %v, want %v", depths, want)
	}
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "queue.db")

	s, err := OpenSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	q := NewQueue(s)
	first, _ := q.Enqueue(ctx, "need medic", "msg-1")
	q.Enqueue(ctx, "arriving", "msg-2")
	if err := q.Close(); err != nil {
		t.Fatal(err)
	}

	s2, err := OpenSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()

	items, err := s2.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2", len(items))
	}
	if items[0].ID != first.ID || items[0].MessageID != "msg-1" || items[0].Content != "need medic" {
		t.Errorf("items[0] = %+v", items[0])
	}
	if items[0].Seq >= items[1].Seq {
		t.Error("seq should increase")
	}
	if time.Since(items[0].EnqueuedAt) > time.Minute {
		t.Errorf("enqueued_at not round-tripped: %v", items[0].EnqueuedAt)
	}
}
