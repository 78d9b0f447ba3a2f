// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cloud provides the client for the remote language model.
//
// The wire format is the OpenAI-compatible chat completions API served by
// OpenRouter. One Chat call is one HTTP request; deadlines and retry policy
// belong to the caller.
//
// # Key Types
//
//   - Client: HTTP client with pooled TLS 1.2+ transport
//   - ChatMessage: Chat message in the API's role/content format
//   - ChatResponse: Completion with GetContent for the first choice
//   - APIError: Non-success HTTP response with status and message
//
// # Usage
//
//	client := cloud.NewClient(apiKey).WithModel("optimusalpha")
//	resp, err := client.Chat(ctx, []cloud.ChatMessage{
//	    cloud.NewSystemMessage("You are LARK, an autonomous law enforcement assistant."),
//	    cloud.NewUserMessage("Arriving on scene"),
//	})
//
// # Security
//
// API keys are never logged. Request and response bodies are never logged.
package cloud
