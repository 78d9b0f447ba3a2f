// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package triggers

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/cases"

	"github.com/jeranaias/lark/internal/model"
)

// =============================================================================
// ACTION TYPES
// =============================================================================

// Action types understood by the dispatch endpoint.
const (
	ActionRequestBackup            = "requestBackup"
	ActionRequestMedicalAssistance = "requestMedicalAssistance"
	ActionNotifyDispatch           = "notifyDispatch"
)

// ErrInvalidRule is returned when a rule has no phrases or no effect.
var ErrInvalidRule = errors.New("invalid trigger rule")

// =============================================================================
// TYPES
// =============================================================================

// Action is the outbound request a rule fires.
type Action struct {
	Type    string         `toml:"type" json:"type"`
	Payload map[string]any `toml:"payload" json:"payload,omitempty"`
	// IncludeText adds the submitted text to the payload under "text".
	IncludeText bool `toml:"include_text" json:"include_text,omitempty"`
}

// Rule maps phrases to effects. A rule matches when any phrase occurs in
// the submission, compared under Unicode case folding.
type Rule struct {
	Name       string              `toml:"name" json:"name,omitempty"`
	Phrases    []string            `toml:"phrases" json:"phrases"`
	Suggestion string              `toml:"suggestion" json:"suggestion,omitempty"`
	Workflow   model.WorkflowState `toml:"workflow" json:"workflow,omitempty"`
	Action     *Action             `toml:"action" json:"action,omitempty"`
}

// FiredAction is an action selected by Evaluate with its payload resolved.
type FiredAction struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Result is everything a submission triggered, in table order.
type Result struct {
	Suggestions []string
	// Workflow is the last workflow transition matched, or "" for none.
	Workflow model.WorkflowState
	// Actions holds at most one entry per action type.
	Actions []FiredAction
}

// Empty reports whether nothing matched.
func (r Result) Empty() bool {
	return len(r.Suggestions) == 0 && r.Workflow == "" && len(r.Actions) == 0
}

// =============================================================================
// TABLE
// =============================================================================

// Table is an immutable set of rules. Safe for concurrent use.
type Table struct {
	rules  []Rule
	folded [][]string
}

// NewTable validates rules and pre-folds their phrases.
func NewTable(rules []Rule) (*Table, error) {
	fold := cases.Fold()
	t := &Table{
		rules:  make([]Rule, 0, len(rules)),
		folded: make([][]string, 0, len(rules)),
	}
	for i, r := range rules {
		var phrases []string
		for _, p := range r.Phrases {
			if p = strings.TrimSpace(p); p != "" {
				phrases = append(phrases, fold.String(p))
			}
		}
		if len(phrases) == 0 {
			return nil, fmt.Errorf("%w: rule %d (%s) has no phrases", ErrInvalidRule, i, r.Name)
		}
		if r.Suggestion == "" && r.Workflow == "" && (r.Action == nil || r.Action.Type == "") {
			return nil, fmt.Errorf("%w: rule %d (%s) has no effect", ErrInvalidRule, i, r.Name)
		}
		t.rules = append(t.rules, r)
		t.folded = append(t.folded, phrases)
	}
	return t, nil
}

// Rules returns a copy of the rules.
func (t *Table) Rules() []Rule {
	out := make([]Rule, len(t.rules))
	copy(out, t.rules)
	return out
}

// Len returns the number of rules.
func (t *Table) Len() int {
	return len(t.rules)
}

// Evaluate matches text against every rule.
func (t *Table) Evaluate(text string) Result {
	var res Result
	if t == nil || strings.TrimSpace(text) == "" {
		return res
	}

	// cases.Caser keeps state, so each call gets its own
	subject := cases.Fold().String(text)
	seenSuggestion := make(map[string]bool)
	seenAction := make(map[string]bool)

	for i, rule := range t.rules {
		if !containsAny(subject, t.folded[i]) {
			continue
		}
		if rule.Suggestion != "" && !seenSuggestion[rule.Suggestion] {
			seenSuggestion[rule.Suggestion] = true
			res.Suggestions = append(res.Suggestions, rule.Suggestion)
		}
		if rule.Workflow != "" {
			res.Workflow = rule.Workflow
		}
		if a := rule.Action; a != nil && a.Type != "" && !seenAction[a.Type] {
			seenAction[a.Type] = true
			res.Actions = append(res.Actions, FiredAction{
				Type:    a.Type,
				Payload: buildPayload(a, text),
			})
		}
	}
	return res
}

func containsAny(subject string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(subject, p) {
			return true
		}
	}
	return false
}

func buildPayload(a *Action, text string) map[string]any {
	payload := make(map[string]any, len(a.Payload)+1)
	for k, v := range a.Payload {
		payload[k] = v
	}
	if a.IncludeText {
		payload["text"] = text
	}
	return payload
}

// =============================================================================
// DEFAULT TABLE
// =============================================================================

// DefaultRules returns the built-in rules.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "aggressive-suspect", Phrases: []string{"suspect aggressive"}, Suggestion: "Request backup?"},
		{Name: "medic-suggestion", Phrases: []string{"need medic"}, Suggestion: "Request medical assistance?"},
		{Name: "backup-status", Phrases: []string{"backup en route"}, Suggestion: "Acknowledge backup status"},
		{
			Name:     "arrival",
			Phrases:  []string{"arriving"},
			Workflow: model.WorkflowArriving,
			Action: &Action{
				Type:    ActionNotifyDispatch,
				Payload: map[string]any{"status": "arrived"},
			},
		},
		{
			Name:    "backup-request",
			Phrases: []string{"request backup", "suspect aggressive"},
			Action: &Action{
				Type:        ActionRequestBackup,
				Payload:     map[string]any{"reason": "User requested backup or detected aggressive suspect"},
				IncludeText: true,
			},
		},
		{
			Name:    "medical-request",
			Phrases: []string{"need medic", "medical assistance"},
			Action: &Action{
				Type:        ActionRequestMedicalAssistance,
				Payload:     map[string]any{"reason": "User requested medical assistance"},
				IncludeText: true,
			},
		},
	}
}

// DefaultTable returns the built-in table.
func DefaultTable() *Table {
	t, err := NewTable(DefaultRules())
	if err != nil {
		panic(fmt.Sprintf("triggers: default table invalid: %v", err))
	}
	return t
}
