// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package worker

import (
	"context"
	"encoding/json"
	"fmt"
)

// Kind names an operation the worker performs.
type Kind string

const (
	KindProcessAudio   Kind = "processAudio"
	KindAnalyzeAudio   Kind = "analyzeAudio"
	KindProcessCommand Kind = "processCommand"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindProcessAudio, KindAnalyzeAudio, KindProcessCommand:
		return true
	}
	return false
}

// Request is one message to the worker. ID is the only link to its reply.
type Request struct {
	ID      string          `json:"id"`
	Type    Kind            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response is the worker's reply: exactly one of Result or Error is set.
type Response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Endpoint is the message-passing boundary to a worker.
// Payloads cross it serialized, so the two sides share no memory.
type Endpoint interface {
	Post(ctx context.Context, req Request) error
	Responses() <-chan Response
}

// RemoteError is a failure reported by the worker for one call.
type RemoteError struct {
	Kind    Kind
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("worker %s: %s", e.Kind, e.Message)
}
