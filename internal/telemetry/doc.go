// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry exposes Prometheus metrics for the orchestration core.
//
// # Key Types
//
//   - Metrics: Counters and gauges for submissions, model requests, the
//     offline queue, actions, speech and the audio worker
//
// # Usage
//
//	metrics := telemetry.New(prometheus.DefaultRegisterer)
//	metrics.Submission(telemetry.SubmitQueued)
//	metrics.QueueDepth(q.Len())
//
// A nil *Metrics is a valid no-op recorder.
package telemetry
