// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "time"

// =============================================================================
// WORKFLOW STATE
// =============================================================================

// WorkflowState is the officer's current procedural stage.
// Trigger tables may introduce tags beyond the ones declared here.
type WorkflowState string

const (
	WorkflowIdle     WorkflowState = "idle"
	WorkflowArriving WorkflowState = "arriving"
)

// =============================================================================
// PHASE
// =============================================================================

// Phase is the per-conversation request state machine:
//
//	idle -> awaitingResponse -> idle
//	idle -> offlineDeferred  -> idle
type Phase string

const (
	PhaseIdle             Phase = "idle"
	PhaseAwaitingResponse Phase = "awaitingResponse"
	PhaseOfflineDeferred  Phase = "offlineDeferred"
)

// =============================================================================
// SNAPSHOT
// =============================================================================

// Snapshot is a read-only copy of conversation state handed to consumers.
// Mutating a Snapshot has no effect on the conversation it was taken from.
type Snapshot struct {
	ConversationID string        `json:"conversation_id"`
	Messages       []Message     `json:"messages"`
	Suggestions    []string      `json:"suggestions"`
	Workflow       WorkflowState `json:"workflow_state"`
	Phase          Phase         `json:"phase"`
	Online         bool          `json:"online"`
	QueueDepth     int           `json:"queue_depth"`
	TakenAt        time.Time     `json:"taken_at"`
}

// Snapshot copies the conversation into a Snapshot. The caller fills in the
// fields the conversation does not own (phase, connectivity, queue depth).
func (c *Conversation) Snapshot() Snapshot {
	return Snapshot{
		ConversationID: c.ID,
		Messages:       c.Messages(),
		Suggestions:    c.suggestions.List(),
		Workflow:       c.workflow,
		TakenAt:        time.Now(),
	}
}
