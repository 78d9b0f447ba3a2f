// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
//
// This package defines the core domain types shared by the orchestrator,
// the persistence layer and the HTTP/CLI surfaces.
//
// # Key Types
//
//   - Conversation: Append-only message log plus suggestions and workflow state
//   - Message: Immutable entry with role, content, timestamp and notice flag
//   - SuggestionSet: Ordered set of proactive directives, no duplicates
//   - WorkflowState: The officer's current procedural stage
//   - Phase: Request state machine (idle, awaitingResponse, offlineDeferred)
//   - Snapshot: Read-only copy handed to consumers
//
// # Usage
//
// Build a conversation:
//
//	conv := model.NewConversation()
//	conv.Append(model.NewUserMessage("Arriving on scene"))
//	conv.Suggestions().Add("Request backup?")
//	conv.SetWorkflow(model.WorkflowArriving)
//
// Hand state to a consumer:
//
//	snap := conv.Snapshot()
//	fmt.Println(len(snap.Messages), snap.Workflow)
package model
