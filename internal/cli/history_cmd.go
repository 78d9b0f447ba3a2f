// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// history_cmd.go - Saved conversation commands for lark.
//
// Command: history [subcommand]
// Short:   Browse conversations saved with storage.persist
//
// Subcommands:
//   list (default)      List saved conversations, most recent first
//   search <text>       Find conversations mentioning text
//   show <id|N>         Render a conversation in the terminal
//   export <id|N> [-o FILE]  Print or save a conversation as markdown
//   delete <id|N>       Delete a conversation
//   clear --confirm     Delete every conversation
//
// N is the 1-based position in "history list".
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/jeranaias/lark/internal/storage"
	"github.com/jeranaias/lark/internal/util"
)

// HandleHistory handles the "history" command.
func HandleHistory(args Args) error {
	return runHistory(os.Stdout, args)
}

func runHistory(w io.Writer, args Args) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	store, err := storage.NewConversationStoreWithDir(cfg.Storage.Dir)
	if err != nil {
		return fmt.Errorf("open conversation store: %w", err)
	}

	var rest []string
	if len(args.Raw) > 1 {
		rest = args.Raw[1:]
	}
	p := NewArgParser(rest)

	switch args.Subcommand {
	case "", "list", "ls":
		metas, err := store.List()
		if err != nil {
			return err
		}
		return printMetas(w, args, "history list", metas)

	case "search":
		query := strings.Join(p.PositionalFrom(0), " ")
		if strings.TrimSpace(query) == "" {
			return ErrMissingArgument("text", "lark history search <text>")
		}
		metas, err := store.Search(query)
		if err != nil {
			return err
		}
		return printMetas(w, args, "history search", metas)

	case "show", "export":
		ref := p.Positional(0)
		if ref == "" {
			return ErrMissingArgument("id", "lark history "+args.Subcommand+" <id|N>")
		}
		conv, err := resolveConversation(store, ref)
		if err != nil {
			return err
		}
		if args.JSON {
			return NewJSONResponse("history "+args.Subcommand, conv).Write(w)
		}
		md := conv.ExportMarkdown()

		if out := p.FlagOrDefault("output", p.Flag("o")); out != "" {
			path, err := ValidateOutputPath(out)
			if err != nil {
				return NewValidationError("output", out, err.Error())
			}
			// SECURITY: transcripts hold incident details, owner read/write only
			if err := util.AtomicWriteFile(path, []byte(md), 0600); err != nil {
				return err
			}
			fmt.Fprintf(w, "%s wrote %s\n", SuccessStyle.Render("[OK]"), path)
			return nil
		}

		if args.Subcommand == "show" && IsStdoutTTY() {
			if rendered, err := glamour.Render(md, glamourStyle()); err == nil {
				md = rendered
			}
		}
		fmt.Fprint(w, md)
		return nil

	case "delete", "rm":
		ref := p.Positional(0)
		if ref == "" {
			return ErrMissingArgument("id", "lark history delete <id|N>")
		}
		conv, err := resolveConversation(store, ref)
		if err != nil {
			return err
		}
		if err := store.Delete(conv.ID); err != nil {
			return err
		}
		fmt.Fprintf(w, "%s deleted %s\n", SuccessStyle.Render("[OK]"), conv.ID)
		return nil

	case "clear":
		if !p.BoolFlag("confirm") {
			return NewValidationError("clear", "", "deletes every saved conversation; rerun with --confirm")
		}
		if err := store.Clear(); err != nil {
			return err
		}
		fmt.Fprintf(w, "%s cleared %s\n", SuccessStyle.Render("[OK]"), store.BaseDir)
		return nil

	default:
		return NewValidationError("history subcommand", args.Subcommand, "expected list, search, show, export, delete or clear")
	}
}

// resolveConversation accepts an ID or a 1-based list position.
func resolveConversation(store *storage.ConversationStore, ref string) (*storage.StoredConversation, error) {
	var (
		conv *storage.StoredConversation
		err  error
	)
	if n, convErr := strconv.Atoi(ref); convErr == nil && n > 0 && n < 10000 {
		conv, err = store.LoadByIndex(n - 1)
	} else {
		conv, err = store.Load(ref)
	}
	if err != nil {
		if errors.Is(err, storage.ErrConversationNotFound) || errors.Is(err, storage.ErrInvalidID) {
			return nil, NewNotFoundError("conversation", ref)
		}
		return nil, err
	}
	return conv, nil
}

func printMetas(w io.Writer, args Args, command string, metas []storage.ConversationMeta) error {
	if args.JSON {
		if metas == nil {
			metas = []storage.ConversationMeta{}
		}
		return NewJSONResponse(command, metas).Write(w)
	}
	fmt.Fprint(w, storage.FormatList(metas))
	if len(metas) == 0 {
		fmt.Fprintln(w)
	}
	return nil
}

func glamourStyle() string {
	if HasDarkBackground() {
		return "dark"
	}
	return "light"
}
