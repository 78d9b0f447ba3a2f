// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package offline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrFlushInProgress is returned when Flush is called while another flush runs.
	ErrFlushInProgress = errors.New("offline queue flush already in progress")

	// ErrStopFlush is returned by a ReplayFunc to end the flush without
	// consuming the current entry (for example when connectivity drops).
	ErrStopFlush = errors.New("stop flush")
)

// =============================================================================
// TYPES
// =============================================================================

// QueuedMessage is a user submission deferred while offline.
type QueuedMessage struct {
	ID      string `json:"id"`
	Seq     int64  `json:"seq"`
	Content string `json:"content"`
	// MessageID links back to the conversation message that was deferred.
	MessageID  string    `json:"message_id,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// ReplayFunc processes one queued entry during a flush.
type ReplayFunc func(ctx context.Context, msg QueuedMessage) error

// FlushResult summarises one flush.
type FlushResult struct {
	Attempted int  `json:"attempted"`
	Failed    int  `json:"failed"`
	Stopped   bool `json:"stopped"`
}

// =============================================================================
// QUEUE
// =============================================================================

// Queue is the FIFO of deferred submissions in front of a Store.
//
// Entries are delivered in insertion order. A flush drains everything present
// when it starts plus everything enqueued while it runs.
type Queue struct {
	store Store

	mu       sync.Mutex
	flushing bool
	onChange func(depth int)
}

// NewQueue creates a queue backed by store.
func NewQueue(store Store) *Queue {
	return &Queue{store: store}
}

// OnChange registers fn to be called with the new depth after every
// enqueue and removal. fn runs outside the queue lock.
func (q *Queue) OnChange(fn func(depth int)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onChange = fn
}

// Enqueue appends content to the tail.
func (q *Queue) Enqueue(ctx context.Context, content, messageID string) (QueuedMessage, error) {
	q.mu.Lock()
	msg, err := q.appendLocked(ctx, content, messageID)
	q.mu.Unlock()
	if err != nil {
		return QueuedMessage{}, err
	}
	q.notify(ctx)
	return msg, nil
}

// EnqueueIfPending appends content only when the queue is non-empty or a
// flush is running. The check and the append happen under the same lock a
// finishing flush takes, so an entry can never land behind a flush that has
// already decided it is done.
func (q *Queue) EnqueueIfPending(ctx context.Context, content, messageID string) (QueuedMessage, bool, error) {
	q.mu.Lock()
	n, err := q.store.Len(ctx)
	if err != nil {
		q.mu.Unlock()
		return QueuedMessage{}, false, fmt.Errorf("queue length: %w", err)
	}
	if n == 0 && !q.flushing {
		q.mu.Unlock()
		return QueuedMessage{}, false, nil
	}
	msg, err := q.appendLocked(ctx, content, messageID)
	q.mu.Unlock()
	if err != nil {
		return QueuedMessage{}, false, err
	}
	q.notify(ctx)
	return msg, true, nil
}

func (q *Queue) appendLocked(ctx context.Context, content, messageID string) (QueuedMessage, error) {
	msg, err := q.store.Append(ctx, QueuedMessage{
		ID:         uuid.New().String(),
		Content:    content,
		MessageID:  messageID,
		EnqueuedAt: time.Now(),
	})
	if err != nil {
		return QueuedMessage{}, fmt.Errorf("enqueue: %w", err)
	}
	return msg, nil
}

// Len returns the number of pending entries. Store errors count as empty.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n, err := q.store.Len(context.Background())
	if err != nil {
		log.Printf("OFFLINE: queue length failed: %v", err)
		return 0
	}
	return n
}

// Pending returns the pending entries in delivery order.
func (q *Queue) Pending(ctx context.Context) ([]QueuedMessage, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.store.List(ctx)
}

// Flushing reports whether a flush is running.
func (q *Queue) Flushing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.flushing
}

// Flush drains the queue through replay, oldest first.
//
// Each entry is removed after its replay attempt whether or not the attempt
// succeeded; failures are logged and counted. A replay returning ErrStopFlush
// ends the flush and leaves that entry at the head. Concurrent calls return
// ErrFlushInProgress.
func (q *Queue) Flush(ctx context.Context, replay ReplayFunc) (FlushResult, error) {
	var res FlushResult

	q.mu.Lock()
	if q.flushing {
		q.mu.Unlock()
		return res, ErrFlushInProgress
	}
	q.flushing = true
	q.mu.Unlock()

	finish := func() {
		q.mu.Lock()
		q.flushing = false
		q.mu.Unlock()
	}

	for {
		if err := ctx.Err(); err != nil {
			finish()
			return res, err
		}

		q.mu.Lock()
		head, ok, err := q.store.Head(ctx)
		if err != nil {
			q.flushing = false
			q.mu.Unlock()
			return res, fmt.Errorf("queue head: %w", err)
		}
		if !ok {
			// Clearing the flag in the same critical section as the empty
			// check keeps EnqueueIfPending from slipping an entry past us.
			q.flushing = false
			q.mu.Unlock()
			return res, nil
		}
		q.mu.Unlock()

		err = replay(ctx, head)
		if errors.Is(err, ErrStopFlush) {
			res.Stopped = true
			finish()
			log.Printf("OFFLINE: flush stopped with %s still queued", head.ID)
			return res, nil
		}

		res.Attempted++
		if err != nil {
			res.Failed++
			log.Printf("OFFLINE: replay of queued message %s failed: %v", head.ID, err)
		}

		q.mu.Lock()
		rmErr := q.store.Remove(ctx, head.ID)
		q.mu.Unlock()
		if rmErr != nil {
			finish()
			return res, fmt.Errorf("remove %s: %w", head.ID, rmErr)
		}
		q.notify(ctx)
	}
}

// Close releases the store.
func (q *Queue) Close() error {
	return q.store.Close()
}

func (q *Queue) notify(ctx context.Context) {
	q.mu.Lock()
	fn := q.onChange
	var n int
	if fn != nil {
		n, _ = q.store.Len(ctx)
	}
	q.mu.Unlock()
	if fn != nil {
		fn(n)
	}
}
