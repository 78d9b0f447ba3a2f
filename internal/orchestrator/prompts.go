// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestrator

import (
	"fmt"
	"strings"
)

// =============================================================================
// FIXED TEXT
// =============================================================================

const (
	// DefaultSystemPrompt is sent ahead of the history on every model call.
	DefaultSystemPrompt = "You are LARK, an autonomous law enforcement assistant."

	// DeferralNotice is appended when a submission is queued while offline.
	DeferralNotice = "I am currently offline. Your message has been queued and will be processed when the connection is restored."

	// DegradedNotice is appended when the model does not answer in time.
	DegradedNotice = "I'm having trouble connecting to my AI service right now. Please check your internet connection and try again later."

	// ErrorNotice is appended when the model call fails.
	ErrorNotice = "I apologize, but I encountered an error processing your request. Please try again."

	// EmptyReply stands in for a reply without content.
	EmptyReply = "No response."
)

// Officer identifies who LARK is talking to.
type Officer struct {
	Name     string
	Rank     string
	Codename string
}

// Welcome returns the greeting shown at the top of a fresh conversation.
// A codename takes precedence over rank and name.
func Welcome(o Officer) string {
	const rest = "I'm LARK, your law enforcement assistant. How can I help you today?"

	if c := strings.TrimSpace(o.Codename); c != "" {
		return fmt.Sprintf("Hello %s! %s", c, rest)
	}
	if n := strings.TrimSpace(o.Name); n != "" {
		if r := strings.TrimSpace(o.Rank); r != "" {
			n = r + " " + n
		}
		return fmt.Sprintf("Hello %s! %s", n, rest)
	}
	return "Hello! " + rest
}
