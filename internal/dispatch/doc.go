// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package dispatch delivers triggered actions (backup requests, medical
// assistance, dispatch notifications) to the external orchestration endpoint.
//
// # Key Types
//
//   - Dispatcher: Rate-limited HTTP poster with bounded retry
//   - RetryPolicy: Attempt count and exponential backoff bounds
//   - Response: The endpoint's {success, message} reply
//
// # Usage
//
//	d, err := dispatch.New("http://127.0.0.1:3001/api/orchestrate")
//	if err != nil {
//		return err
//	}
//	d.OnFailure(func(action string, err error) { log.Printf("%s: %v", action, err) })
//	d.Trigger("requestBackup", map[string]any{"reason": "suspect aggressive"})
//
// Trigger returns immediately. Dispatch is the blocking form:
//
//	resp, err := d.Dispatch(ctx, "notifyDispatch", map[string]any{"status": "arrived"})
//	if errors.Is(err, dispatch.ErrRejected) {
//		// the endpoint refused it; retrying will not help
//	}
package dispatch
