// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestrator

import (
	"sync"

	"github.com/jeranaias/lark/internal/model"
	"github.com/jeranaias/lark/internal/telemetry"
)

// DefaultEventBuffer is the subscriber channel size used when none is given.
const DefaultEventBuffer = 32

// EventType says what changed.
type EventType string

const (
	EventMessage      EventType = "message"
	EventSuggestions  EventType = "suggestions"
	EventWorkflow     EventType = "workflow"
	EventPhase        EventType = "phase"
	EventConnectivity EventType = "connectivity"
	EventQueue        EventType = "queue"
)

// Event is pushed to subscribers after every state change.
// Snapshot is the state right after the change.
type Event struct {
	Type     EventType      `json:"type"`
	Snapshot model.Snapshot `json:"snapshot"`
}

// =============================================================================
// HUB
// =============================================================================

// hub fans events out to subscribers. A subscriber whose buffer is full
// misses the event; publishers never block.
type hub struct {
	mu      sync.Mutex
	subs    map[int]chan Event
	nextID  int
	closed  bool
	metrics *telemetry.Metrics
}

func newHub(m *telemetry.Metrics) *hub {
	return &hub{subs: make(map[int]chan Event), metrics: m}
}

func (h *hub) subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}
	ch := make(chan Event, buffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(c)
			}
		})
	}
}

func (h *hub) publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.metrics.EventDropped()
		}
	}
}

func (h *hub) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
