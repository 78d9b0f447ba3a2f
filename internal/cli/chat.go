// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive chat command handler for lark.
//
// Command: chat (default)
// Short:   Talk to LARK from the terminal
//
// Examples:
//   lark                          Start chatting
//   lark chat --offline           Start disconnected; messages queue
//   echo "need medic" | lark      Submit piped lines, one per message
//
// Interactive Commands (during chat):
//   /offline, /online   Force connectivity
//   /flush              Replay queued messages now
//   /dismiss N          Dismiss suggestion N
//   /clear              Clear all suggestions
//   /state              Show phase, queue and workflow state
//   /help, /h           Show available commands
//   /quit, /q           Exit chat
//   Ctrl+C, Ctrl+D      Exit chat
//
// Replies to queued messages arrive when connectivity returns and are
// printed as they land, between prompts.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/peterh/liner"

	"github.com/jeranaias/lark/internal/config"
	"github.com/jeranaias/lark/internal/model"
	"github.com/jeranaias/lark/internal/offline"
	"github.com/jeranaias/lark/internal/orchestrator"
)

// =============================================================================
// INPUT
// =============================================================================

// lineReader yields one line of user input per call.
type lineReader interface {
	ReadInput(prompt string) (string, error)
	Close()
}

// ChatCLI provides input history and line editing for interactive chat.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a ChatCLI and loads saved input history.
func NewChatCLI() *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	configDir, err := config.ConfigDir()
	if err != nil {
		configDir = os.TempDir()
	}

	c := &ChatCLI{
		line:        line,
		historyFile: filepath.Join(configDir, "chat_history"),
	}
	c.LoadHistory()
	return c
}

// LoadHistory loads input history from disk.
func (c *ChatCLI) LoadHistory() {
	if f, err := os.Open(c.historyFile); err == nil {
		c.line.ReadHistory(f)
		f.Close()
	}
}

// ReadInput reads a line with history navigation.
func (c *ChatCLI) ReadInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// SaveHistory persists input history.
func (c *ChatCLI) SaveHistory() {
	if err := os.MkdirAll(filepath.Dir(c.historyFile), 0700); err != nil {
		return
	}
	// SECURITY: history holds incident details, owner read/write only
	f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	c.line.WriteHistory(f)
}

// Close saves history and restores the terminal.
func (c *ChatCLI) Close() {
	c.SaveHistory()
	c.line.Close()
}

// pipeReader reads lines from a non-interactive stream.
type pipeReader struct {
	scanner *bufio.Scanner
}

func newPipeReader(r io.Reader) *pipeReader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), MaxInputLength)
	return &pipeReader{scanner: s}
}

func (p *pipeReader) ReadInput(string) (string, error) {
	if p.scanner.Scan() {
		return p.scanner.Text(), nil
	}
	if err := p.scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

func (p *pipeReader) Close() {}

// MaxInputLength bounds a single piped line.
const MaxInputLength = 1024 * 1024

// =============================================================================
// SESSION
// =============================================================================

// chatSession prints conversation state for one terminal. Replies can
// arrive from the REPL goroutine and from the event watcher, so every
// write goes through mu and each message is printed once.
type chatSession struct {
	orch     *orchestrator.Orchestrator
	out      io.Writer
	quiet    bool
	markdown *glamour.TermRenderer

	mu          sync.Mutex
	seen        map[string]bool
	suggestions string
	online      bool
}

func newChatSession(orch *orchestrator.Orchestrator, out io.Writer, quiet bool) *chatSession {
	snap := orch.Snapshot()
	return &chatSession{
		orch:        orch,
		out:         out,
		quiet:       quiet,
		seen:        make(map[string]bool),
		suggestions: strings.Join(snap.Suggestions, "\n"),
		online:      snap.Online,
	}
}

// withMarkdown renders assistant replies through glamour.
func (s *chatSession) withMarkdown(width int) *chatSession {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err == nil {
		s.markdown = r
	}
	return s
}

// printBacklog prints the messages already in the conversation: the
// welcome notice, or a resumed conversation.
func (s *chatSession) printBacklog() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.orch.Snapshot().Messages {
		s.printMessageLocked(m, true)
	}
}

func (s *chatSession) printMessage(m model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.printMessageLocked(m, false)
}

// printMessageLocked prints m unless it was printed before. User messages
// are only echoed from the backlog; live ones were just typed.
func (s *chatSession) printMessageLocked(m model.Message, backlog bool) {
	if m.ID == "" || s.seen[m.ID] {
		return
	}
	s.seen[m.ID] = true

	switch {
	case m.Role == model.RoleUser:
		if backlog {
			fmt.Fprintf(s.out, "%s %s\n", userStyle.Render("You:"), m.Content)
		}
	case m.Notice:
		fmt.Fprintf(s.out, "%s\n\n", noticeStyle.Render(m.Content))
	default:
		fmt.Fprintf(s.out, "%s\n%s\n", assistantStyle.Render("LARK:"), s.render(m.Content))
	}
}

func (s *chatSession) render(text string) string {
	if s.markdown == nil {
		return text + "\n"
	}
	out, err := s.markdown.Render(text)
	if err != nil {
		return text + "\n"
	}
	return out
}

// printSuggestionsLocked prints the suggestion list if it changed.
func (s *chatSession) printSuggestionsLocked(list []string) {
	joined := strings.Join(list, "\n")
	if joined == s.suggestions {
		return
	}
	s.suggestions = joined
	if len(list) == 0 {
		return
	}
	fmt.Fprintln(s.out, SectionStyle.Render("Suggestions"))
	for i, text := range list {
		fmt.Fprintf(s.out, "  %d. %s\n", i+1, suggestionStyle.Render(text))
	}
	fmt.Fprintln(s.out)
}

// apply prints whatever an event changed.
func (s *chatSession) apply(ev orchestrator.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Type {
	case orchestrator.EventMessage:
		for _, m := range ev.Snapshot.Messages {
			s.printMessageLocked(m, false)
		}
	case orchestrator.EventSuggestions:
		s.printSuggestionsLocked(ev.Snapshot.Suggestions)
	case orchestrator.EventConnectivity:
		if ev.Snapshot.Online != s.online {
			s.online = ev.Snapshot.Online
			if !s.quiet {
				fmt.Fprintf(s.out, "%s queued=%d\n", RenderStatus(s.online), ev.Snapshot.QueueDepth)
			}
		}
	}
}

// watch applies events until the channel closes.
func (s *chatSession) watch(events <-chan orchestrator.Event) {
	for ev := range events {
		s.apply(ev)
	}
}

// =============================================================================
// INPUT HANDLING
// =============================================================================

// handleLine processes one line of input. It returns false when the
// session should end.
func (s *chatSession) handleLine(ctx context.Context, input string) (bool, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return true, nil
	}
	if strings.HasPrefix(input, "/") {
		return s.handleSlashCommand(ctx, input)
	}
	if strings.EqualFold(input, "exit") || strings.EqualFold(input, "quit") {
		return false, nil
	}
	return true, s.submit(ctx, input)
}

func (s *chatSession) submit(ctx context.Context, text string) error {
	start := time.Now()
	res, err := s.orch.Submit(ctx, text)
	s.printMessage(res.User)
	if res.Reply.ID != "" {
		s.printMessage(res.Reply)
	}
	if res.Outcome == orchestrator.OutcomeReplied && !s.quiet {
		s.println(DimStyle.Render("(" + formatDurationShort(time.Since(start)) + ")"))
	}

	switch {
	case errors.Is(err, orchestrator.ErrBusy):
		s.println(WarningStyle.Render("Still waiting on the previous reply."))
		return nil
	case res.Outcome == orchestrator.OutcomeFailed:
		// The error notice is already on screen.
		log.Printf("CHAT: model request failed: %v", err)
		return nil
	case err != nil:
		return err
	}

	s.mu.Lock()
	s.printSuggestionsLocked(s.orch.Snapshot().Suggestions)
	s.mu.Unlock()
	return nil
}

// handleSlashCommand runs a /command. It returns false on /quit.
func (s *chatSession) handleSlashCommand(ctx context.Context, input string) (bool, error) {
	parts := strings.Fields(input)
	cmd := strings.ToLower(parts[0])
	rest := parts[1:]

	switch cmd {
	case "/quit", "/q", "/exit":
		return false, nil

	case "/help", "/h", "/?":
		s.println(chatHelp)

	case "/offline", "/online":
		online := cmd == "/online"
		s.mu.Lock()
		s.online = online
		s.mu.Unlock()
		s.orch.SetOnline(online)
		if online {
			s.println(RenderStatus(true))
		} else {
			s.println(RenderStatus(false) + " messages will be queued")
		}

	case "/flush":
		res, err := s.orch.Flush(ctx)
		if errors.Is(err, offline.ErrFlushInProgress) {
			s.println(DimStyle.Render("A flush is already running."))
			return true, nil
		}
		if err != nil {
			return true, err
		}
		snap := s.orch.Snapshot()
		s.mu.Lock()
		for _, m := range snap.Messages {
			s.printMessageLocked(m, false)
		}
		s.mu.Unlock()
		s.println(fmt.Sprintf("Replayed %d, failed %d, remaining %d",
			res.Attempted-res.Failed, res.Failed, snap.QueueDepth))

	case "/dismiss", "/d":
		if len(rest) != 1 {
			return true, ErrMissingArgument("suggestion number", "/dismiss N")
		}
		n, err := ParseIntWithValidation(rest[0], "suggestion number")
		if err != nil {
			return true, err
		}
		list := s.orch.Snapshot().Suggestions
		if n > len(list) {
			return true, NewValidationError("suggestion number", strconv.Itoa(n),
				fmt.Sprintf("there are %d suggestions", len(list)))
		}
		s.orch.DismissSuggestion(list[n-1])
		s.println(DimStyle.Render("Dismissed: " + list[n-1]))

	case "/clear", "/c":
		if s.orch.ClearSuggestions() {
			s.println(DimStyle.Render("Suggestions cleared."))
		}

	case "/state", "/status", "/s":
		s.printState()

	default:
		return true, NewValidationError("command", cmd, "type /help for chat commands")
	}
	return true, nil
}

func (s *chatSession) printState() {
	snap := s.orch.Snapshot()
	s.mu.Lock()
	defer s.mu.Unlock()

	fmt.Fprintln(s.out, RenderSeparatorAdaptive())
	fmt.Fprintf(s.out, "%s%s\n", RenderLabel("Conversation"), ValueStyle.Render(snap.ConversationID))
	fmt.Fprintf(s.out, "%s%s\n", RenderLabel("Connectivity"), RenderStatus(snap.Online))
	fmt.Fprintf(s.out, "%s%s\n", RenderLabel("Phase"), RenderPhase(snap.Phase))
	fmt.Fprintf(s.out, "%s%s\n", RenderLabel("Workflow"), ValueStyle.Render(string(snap.Workflow)))
	fmt.Fprintf(s.out, "%s%d\n", RenderLabel("Queued"), snap.QueueDepth)
	fmt.Fprintf(s.out, "%s%d\n", RenderLabel("Messages"), len(snap.Messages))
	for i, text := range snap.Suggestions {
		fmt.Fprintf(s.out, "%s%s\n", RenderLabel(fmt.Sprintf("Suggestion %d", i+1)), suggestionStyle.Render(text))
	}
	fmt.Fprintln(s.out, RenderSeparatorAdaptive())
}

func (s *chatSession) println(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.out, line)
}

const chatHelp = `Chat commands:
  /offline, /online   Force connectivity
  /flush              Replay queued messages now
  /dismiss N          Dismiss suggestion N
  /clear              Clear all suggestions
  /state              Show phase, queue and workflow state
  /help               Show this help
  /quit               Exit`

// =============================================================================
// CHAT HANDLER
// =============================================================================

// HandleChat runs the interactive chat loop.
func HandleChat(args Args) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}

	// Component logs would interleave with the conversation.
	if !args.Verbose {
		log.SetOutput(io.Discard)
	}

	app, err := NewApp(cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()
	if err := app.Start(ctx); err != nil {
		return err
	}

	interactive := IsTTY()
	session := newChatSession(app.Orchestrator, os.Stdout, args.Quiet || !interactive)
	if IsStdoutTTY() {
		session.withMarkdown(GetTerminalWidth() - 4)
	}

	events, unsubscribe := app.Orchestrator.Subscribe(orchestrator.DefaultEventBuffer)
	defer unsubscribe()
	go session.watch(events)

	if !session.quiet {
		printWelcome(session, cfg)
	}
	session.printBacklog()

	var input lineReader
	prompt := ""
	if interactive {
		input = NewChatCLI()
		prompt = promptStyle.Render("lark> ")
	} else {
		input = newPipeReader(os.Stdin)
	}
	defer input.Close()

	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := input.ReadInput(prompt)
		if err != nil {
			// Ctrl+C, Ctrl+D and end of piped input all end the session.
			if interactive {
				fmt.Println()
			}
			printExitSummary(session)
			return nil
		}

		cont, err := session.handleLine(ctx, line)
		if err != nil {
			session.println(ErrorStyle.Render("[Error] ") + err.Error())
		}
		if !cont {
			printExitSummary(session)
			return nil
		}
	}
}

func printWelcome(s *chatSession, cfg *config.Config) {
	snap := s.orch.Snapshot()
	fmt.Fprintln(s.out, TitleStyle.Render(strings.ToUpper(cfg.Assistant.Name)))
	fmt.Fprintf(s.out, "%s %s\n", RenderStatus(snap.Online), DimStyle.Render("model "+cfg.Model.Name))
	if snap.QueueDepth > 0 {
		fmt.Fprintln(s.out, WarningStyle.Render(fmt.Sprintf("%d messages queued from a previous session", snap.QueueDepth)))
	}
	fmt.Fprintln(s.out, DimStyle.Render("Type /help for commands, /quit to exit."))
	fmt.Fprintln(s.out)
}

func printExitSummary(s *chatSession) {
	if s.quiet {
		return
	}
	snap := s.orch.Snapshot()
	msg := fmt.Sprintf("Session ended. %d messages", len(snap.Messages))
	if snap.QueueDepth > 0 {
		msg += fmt.Sprintf(", %d still queued", snap.QueueDepth)
	}
	s.println(DimStyle.Render(msg))
}
