// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"

	"github.com/google/uuid"
)

// MaxMessages is the maximum number of messages to keep in conversation history.
// When exceeded, the oldest messages are dropped; the order of the rest is kept.
const MaxMessages = 1000

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation is the append-only message log of one session together with
// its suggestions and workflow state.
//
// Conversation is not safe for concurrent use. The orchestrator owns it and
// serializes every mutation; everyone else works on a Snapshot.
type Conversation struct {
	ID        string
	CreatedAt time.Time
	UpdatedAt time.Time

	messages    []Message
	suggestions *SuggestionSet
	workflow    WorkflowState
}

// NewConversation creates an empty conversation in the idle workflow state.
func NewConversation() *Conversation {
	now := time.Now()
	return &Conversation{
		ID:          "conv_" + uuid.NewString(),
		CreatedAt:   now,
		UpdatedAt:   now,
		messages:    make([]Message, 0, 16),
		suggestions: NewSuggestionSet(),
		workflow:    WorkflowIdle,
	}
}

// RestoreConversation rebuilds a conversation from persisted parts.
// Messages are taken in the order given.
func RestoreConversation(id string, createdAt time.Time, messages []Message, suggestions []string, workflow WorkflowState) *Conversation {
	c := NewConversation()
	if id != "" {
		c.ID = id
	}
	if !createdAt.IsZero() {
		c.CreatedAt = createdAt
	}
	c.messages = append(c.messages, messages...)
	for _, s := range suggestions {
		c.suggestions.Add(s)
	}
	if workflow != "" {
		c.workflow = workflow
	}
	c.prune()
	return c
}

// =============================================================================
// MESSAGE LOG
// =============================================================================

// Append adds a message to the end of the log and returns it.
func (c *Conversation) Append(msg Message) Message {
	c.messages = append(c.messages, msg)
	c.UpdatedAt = time.Now()
	c.prune()
	return msg
}

// Len returns the number of messages in the log.
func (c *Conversation) Len() int {
	return len(c.messages)
}

// Messages returns a copy of the log.
func (c *Conversation) Messages() []Message {
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Last returns the most recent message, if any.
func (c *Conversation) Last() (Message, bool) {
	if len(c.messages) == 0 {
		return Message{}, false
	}
	return c.messages[len(c.messages)-1], true
}

// IndexOf returns the position of the message with the given ID, or -1.
func (c *Conversation) IndexOf(id string) int {
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].ID == id {
			return i
		}
	}
	return -1
}

// History returns the messages sent to the model: everything up to and
// including position end, notices included. A negative end means the whole
// log.
func (c *Conversation) History(end int) []Message {
	if end < 0 || end >= len(c.messages) {
		end = len(c.messages) - 1
	}
	out := make([]Message, end+1)
	copy(out, c.messages[:end+1])
	return out
}

func (c *Conversation) prune() {
	if len(c.messages) <= MaxMessages {
		return
	}
	drop := len(c.messages) - MaxMessages
	// Copy into a fresh slice so the dropped prefix can be collected.
	kept := make([]Message, MaxMessages, MaxMessages+16)
	copy(kept, c.messages[drop:])
	c.messages = kept
}

// =============================================================================
// SUGGESTIONS AND WORKFLOW
// =============================================================================

// Suggestions returns the live suggestion set.
func (c *Conversation) Suggestions() *SuggestionSet {
	return c.suggestions
}

// Workflow returns the current workflow state.
func (c *Conversation) Workflow() WorkflowState {
	return c.workflow
}

// SetWorkflow moves the conversation to a new workflow state.
// Returns false when the state is unchanged.
func (c *Conversation) SetWorkflow(state WorkflowState) bool {
	if state == "" || state == c.workflow {
		return false
	}
	c.workflow = state
	c.UpdatedAt = time.Now()
	return true
}
