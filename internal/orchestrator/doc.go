// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package orchestrator runs a LARK conversation.
//
// An Orchestrator owns the message log, suggestions and workflow state of
// one conversation. Consumers submit text and read Snapshots; the only
// other mutations they can make are dismissing and clearing suggestions.
//
// # Key Types
//
//   - Orchestrator: Submission pipeline, offline replay and event fan-out
//   - Options: Collaborators (model, actions, speech, queue, store) and timeouts
//   - Result: Outcome of one submission with the messages it appended
//   - Event: State change pushed to subscribers, carrying a Snapshot
//
// # Usage
//
//	orch, err := orchestrator.New(orchestrator.Options{
//		Model:   cloud.NewClient(apiKey),
//		Actions: dispatcher,
//		Speech:  speech.NewVoiceChain(baseURL, key, "tts-1", voices, sink),
//		Queue:   offline.NewQueue(store),
//		Monitor: monitor,
//	})
//	go orch.Run(ctx)
//
//	res, err := orch.Submit(ctx, "Suspect aggressive, need backup")
//
// # Phases
//
// The phase in a Snapshot is derived: awaitingResponse while a model call
// is in flight, offlineDeferred while submissions are queued, idle
// otherwise.
package orchestrator
