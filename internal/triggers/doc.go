// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package triggers maps phrases in officer messages to suggestions,
// workflow transitions and outbound actions.
//
// Matching is substring containment under Unicode case folding, so
// "SUSPECT AGGRESSIVE" and "suspect aggressive" behave the same.
//
// # Key Types
//
//   - Rule: Phrases plus the suggestion, workflow state or action they trigger
//   - Table: Immutable rule set with Evaluate
//   - Result: Everything one submission triggered (each action type at most once)
//   - Watcher: fsnotify-driven hot reload of a TOML table file
//
// # Usage
//
//	table := triggers.DefaultTable()
//	res := table.Evaluate("Need medic, suspect aggressive")
//	for _, a := range res.Actions {
//		dispatcher.Trigger(a.Type, a.Payload)
//	}
package triggers
