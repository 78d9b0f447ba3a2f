// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package offline

import (
	"context"
	"sync"
)

// Store persists queued messages in insertion order.
// Implementations assign Seq on Append.
type Store interface {
	Append(ctx context.Context, msg QueuedMessage) (QueuedMessage, error)
	// Head returns the oldest entry, or false when empty.
	Head(ctx context.Context) (QueuedMessage, bool, error)
	// Remove deletes an entry by ID. Removing a missing ID is not an error.
	Remove(ctx context.Context, id string) error
	List(ctx context.Context) ([]QueuedMessage, error)
	Len(ctx context.Context) (int, error)
	Close() error
}

// MemoryStore is a Store that lives only as long as the process.
type MemoryStore struct {
	mu    sync.Mutex
	items []QueuedMessage
	seq   int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, msg QueuedMessage) (QueuedMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	msg.Seq = s.seq
	s.items = append(s.items, msg)
	return msg, nil
}

func (s *MemoryStore) Head(_ context.Context) (QueuedMessage, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.items) == 0 {
		return QueuedMessage{}, false, nil
	}
	return s.items[0], true, nil
}

func (s *MemoryStore) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, item := range s.items {
		if item.ID == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]QueuedMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]QueuedMessage, len(s.items))
	copy(out, s.items)
	return out, nil
}

func (s *MemoryStore) Len(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items), nil
}

func (s *MemoryStore) Close() error { return nil }
