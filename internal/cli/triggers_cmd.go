// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// triggers_cmd.go - Trigger table commands for lark.
//
// Command: triggers [subcommand]
// Short:   Inspect and seed the trigger table
//
// Subcommands:
//   show (default)      List the active rules
//   init [FILE]         Write the built-in rules as an editable file
//   test <text>         Show what a message would trigger
//
// Examples:
//   lark triggers init ~/.lark/triggers.toml
//   lark config set triggers.file ~/.lark/triggers.toml
//   lark triggers test "requesting backup, suspect aggressive" --json
package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jeranaias/lark/internal/config"
	"github.com/jeranaias/lark/internal/triggers"
)

// HandleTriggers handles the "triggers" command.
func HandleTriggers(args Args) error {
	return runTriggers(os.Stdout, args)
}

func runTriggers(w io.Writer, args Args) error {
	var rest []string
	if len(args.Raw) > 1 {
		rest = args.Raw[1:]
	}

	switch args.Subcommand {
	case "", "show", "list":
		return triggersShow(w, args)
	case "init":
		return triggersInit(w, args, rest)
	case "test":
		return triggersTest(w, args, strings.Join(rest, " "))
	default:
		return NewValidationError("triggers subcommand", args.Subcommand, "expected show, init or test")
	}
}

// activeTable loads the table chat and serve would use.
func activeTable(args Args) (*triggers.Table, string, error) {
	cfg, err := loadConfig(args)
	if err != nil {
		return nil, "", err
	}
	table, err := triggers.LoadOrDefault(cfg.Triggers.File)
	if err != nil {
		return nil, "", &ConfigError{Path: cfg.Triggers.File, Err: err}
	}
	source := "built-in"
	if cfg.Triggers.File != "" {
		if _, err := os.Stat(cfg.Triggers.File); err == nil {
			source = cfg.Triggers.File
		}
	}
	return table, source, nil
}

func triggersShow(w io.Writer, args Args) error {
	table, source, err := activeTable(args)
	if err != nil {
		return err
	}
	rules := table.Rules()

	if args.JSON {
		return NewJSONResponse("triggers show", map[string]any{
			"source": source,
			"rules":  rules,
		}).Write(w)
	}

	fmt.Fprintln(w, TitleStyle.Render(fmt.Sprintf("Trigger table (%s, %d rules)", source, len(rules))))
	for i, r := range rules {
		name := r.Name
		if name == "" {
			name = fmt.Sprintf("rule %d", i+1)
		}
		fmt.Fprintln(w, SectionStyle.Render(name))
		fmt.Fprintf(w, "  %s%s\n", RenderLabel("phrases:"), ValueStyle.Render(strings.Join(r.Phrases, ", ")))
		if r.Suggestion != "" {
			fmt.Fprintf(w, "  %s%s\n", RenderLabel("suggestion:"), suggestionStyle.Render(r.Suggestion))
		}
		if r.Workflow != "" {
			fmt.Fprintf(w, "  %s%s\n", RenderLabel("workflow:"), ValueStyle.Render(string(r.Workflow)))
		}
		if r.Action != nil {
			fmt.Fprintf(w, "  %s%s\n", RenderLabel("action:"), ValueStyle.Render(r.Action.Type))
		}
	}
	return nil
}

func triggersInit(w io.Writer, args Args, rest []string) error {
	path := ""
	if len(rest) > 0 {
		path = rest[0]
	} else {
		cfg, err := loadConfig(args)
		if err != nil {
			return err
		}
		path = cfg.Triggers.File
	}
	if path == "" {
		dir, err := config.ConfigDir()
		if err != nil {
			return &ConfigError{Err: err}
		}
		path = filepath.Join(dir, "triggers.toml")
	}

	if _, err := os.Stat(path); err == nil {
		return NewValidationError("trigger file", path, "already exists")
	}
	if err := triggers.WriteFile(path, triggers.DefaultRules()); err != nil {
		return err
	}

	fmt.Fprintf(w, "%s wrote %s\n", SuccessStyle.Render("[OK]"), path)
	fmt.Fprintln(w, DimStyle.Render("Activate it with: lark config set triggers.file "+path))
	return nil
}

func triggersTest(w io.Writer, args Args, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrMissingArgument("text", "lark triggers test <text>")
	}
	table, _, err := activeTable(args)
	if err != nil {
		return err
	}
	res := table.Evaluate(text)

	if args.JSON {
		return NewJSONResponse("triggers test", TriggerTestData{
			Text:        text,
			Suggestions: res.Suggestions,
			Workflow:    res.Workflow,
			Actions:     res.Actions,
		}).Write(w)
	}

	if res.Empty() {
		fmt.Fprintln(w, DimStyle.Render("No rules matched."))
		return nil
	}
	for _, s := range res.Suggestions {
		fmt.Fprintf(w, "%s%s\n", RenderLabel("suggestion"), suggestionStyle.Render(s))
	}
	if res.Workflow != "" {
		fmt.Fprintf(w, "%s%s\n", RenderLabel("workflow"), ValueStyle.Render(string(res.Workflow)))
	}
	for _, a := range res.Actions {
		fmt.Fprintf(w, "%s%s %v\n", RenderLabel("action"), ValueStyle.Render(a.Type), a.Payload)
	}
	return nil
}
