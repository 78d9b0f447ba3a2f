// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import "strings"

// SuggestionSet is an insertion-ordered set of suggestion strings.
// Two suggestions with identical text never coexist.
type SuggestionSet struct {
	items []string
}

// NewSuggestionSet creates an empty set.
func NewSuggestionSet() *SuggestionSet {
	return &SuggestionSet{}
}

// Add inserts text unless it is blank or already present.
// Returns true when the set changed.
func (s *SuggestionSet) Add(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" || s.Contains(text) {
		return false
	}
	s.items = append(s.items, text)
	return true
}

// Contains reports whether text is in the set.
func (s *SuggestionSet) Contains(text string) bool {
	for _, item := range s.items {
		if item == text {
			return true
		}
	}
	return false
}

// Dismiss removes text. Returns true when it was present.
func (s *SuggestionSet) Dismiss(text string) bool {
	for i, item := range s.items {
		if item == text {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return true
		}
	}
	return false
}

// Clear removes every suggestion. Returns true when the set was non-empty.
func (s *SuggestionSet) Clear() bool {
	if len(s.items) == 0 {
		return false
	}
	s.items = nil
	return true
}

// Len returns the number of suggestions.
func (s *SuggestionSet) Len() int {
	return len(s.items)
}

// List returns a copy of the suggestions in insertion order.
func (s *SuggestionSet) List() []string {
	out := make([]string, len(s.items))
	copy(out, s.items)
	return out
}
