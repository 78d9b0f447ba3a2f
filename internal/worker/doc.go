// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package worker runs audio preprocessing off the request path and
// correlates its replies with the calls that asked for them.
//
// # Key Types
//
//   - Unit: Goroutine pool reachable only by message passing
//   - Bridge: Per-call correlation ids, timeouts and cancellation
//   - Request / Response: The serialized messages crossing the boundary
//   - RemoteError: A failure the worker reported for one call
//
// # Usage
//
//	unit := worker.NewUnit(4)
//	bridge := worker.NewBridge(unit).WithTimeout(10 * time.Second)
//	defer unit.Close()
//	defer bridge.Close()
//
//	level, err := bridge.AnalyzeAudio(ctx, samples)
//	if errors.Is(err, worker.ErrTimeout) {
//		// the worker did not answer in time
//	}
package worker
