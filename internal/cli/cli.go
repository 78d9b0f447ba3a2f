// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - CLI parsing and top-level command handlers for lark.
package cli

import (
	"fmt"
	"os"
	"runtime"
	"strings"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command represents the CLI command to execute.
type Command int

const (
	CmdChat Command = iota
	CmdServe
	CmdConfig
	CmdTriggers
	CmdHistory
	CmdVersion
	CmdHelp
)

// String returns the command name as typed.
func (c Command) String() string {
	switch c {
	case CmdChat:
		return "chat"
	case CmdServe:
		return "serve"
	case CmdConfig:
		return "config"
	case CmdTriggers:
		return "triggers"
	case CmdHistory:
		return "history"
	case CmdVersion:
		return "version"
	case CmdHelp:
		return "help"
	}
	return "unknown"
}

// Args holds parsed CLI arguments.
type Args struct {
	// Global flags
	Quiet   bool
	Verbose bool
	JSON    bool
	Offline bool   // start disconnected regardless of config
	Model   string // overrides model.name
	Config  string // explicit config file path

	// Command-specific
	Subcommand string
	ConfigKey  string
	ConfigVal  string
	Addr       string // serve --addr

	// Raw args (remaining after flag parsing)
	Raw []string
}

const usageText = `lark - law enforcement assistant orchestration core

Usage:
  lark                         Start interactive chat (default)
  lark chat                    Interactive chat
  lark serve [--addr ADDR]     Run the HTTP/websocket API
  lark config [subcommand]     Configuration
  lark triggers [subcommand]   Trigger table management
  lark history [subcommand]    Saved conversations
  lark version                 Show version
  lark help                    Show this help

Config Commands:
  lark config show             Show configuration (secrets redacted)
  lark config get <key>        Show one value (e.g. model.name)
  lark config set <key> <val>  Set and save one value
  lark config keys             List every settable key
  lark config init             Write the default config file
  lark config path             Show the config file path

Trigger Commands:
  lark triggers show           List the active rules
  lark triggers init [FILE]    Write the built-in rules to FILE
  lark triggers test <text>    Show what a message would trigger

History Commands:
  lark history list            List saved conversations
  lark history search <text>   Search saved conversations
  lark history export <id>     Print a conversation as markdown
  lark history delete <id>     Delete a conversation
  lark history clear --confirm Delete every conversation

Global Flags:
  --config FILE                Use FILE instead of ~/.lark/config.toml
  --model NAME                 Override the model name
  --offline                    Start disconnected (submissions are queued)
  --json                       JSON output where supported
  -q, --quiet                  Minimal output
  -v, --verbose                Verbose output

Chat Commands:
  /offline, /online            Force connectivity
  /flush                       Replay queued messages now
  /dismiss N                   Dismiss suggestion N
  /clear                       Clear all suggestions
  /state                       Show phase, queue and workflow state
  /help                        Show chat commands
  /quit                        Exit

Environment:
  LARK_API_KEY                 Model API key
  LARK_SERVER_TOKEN            Bearer token for the HTTP API
  A .env file in the working directory is loaded at startup.
`

// PrintUsage prints the usage text.
func PrintUsage() {
	fmt.Print(usageText)
}

// PrintVersion prints version information.
func PrintVersion() {
	fmt.Printf("lark %s (commit %s, built %s, %s)\n", Version, GitCommit, BuildDate, runtime.Version())
}

// Parse parses os.Args.
func Parse() (Command, Args) {
	return ParseArgs(os.Args[1:])
}

// ParseArgs parses argv (without the program name).
func ParseArgs(argv []string) (Command, Args) {
	remaining, parsedArgs := parseGlobalFlags(argv)

	if len(remaining) == 0 {
		return CmdChat, parsedArgs
	}

	cmd := strings.ToLower(remaining[0])
	remaining = remaining[1:]
	parsedArgs.Raw = remaining

	switch cmd {
	case "chat":
		return CmdChat, parsedArgs

	case "serve", "server":
		parseServeArgs(&parsedArgs, remaining)
		return CmdServe, parsedArgs

	case "config":
		parseConfigArgs(&parsedArgs, remaining)
		return CmdConfig, parsedArgs

	case "triggers", "trigger":
		if len(remaining) > 0 {
			parsedArgs.Subcommand = remaining[0]
		}
		return CmdTriggers, parsedArgs

	case "history", "conversations":
		if len(remaining) > 0 {
			parsedArgs.Subcommand = remaining[0]
		}
		return CmdHistory, parsedArgs

	case "version", "--version":
		return CmdVersion, parsedArgs

	case "help", "-h", "--help":
		parsedArgs.Raw = nil
		return CmdHelp, parsedArgs

	default:
		parsedArgs.Raw = append([]string{cmd}, remaining...)
		return CmdHelp, parsedArgs
	}
}

// parseGlobalFlags extracts global flags from args and returns remaining args.
func parseGlobalFlags(args []string) ([]string, Args) {
	var remaining []string
	var parsedArgs Args

	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch arg {
		case "-q", "--quiet":
			parsedArgs.Quiet = true
		case "-v", "--verbose":
			parsedArgs.Verbose = true
		case "--json":
			parsedArgs.JSON = true
		case "--offline":
			parsedArgs.Offline = true
		case "--model", "--config":
			if i+1 < len(args) {
				i++
				if arg == "--model" {
					parsedArgs.Model = args[i]
				} else {
					parsedArgs.Config = args[i]
				}
			}
		default:
			switch {
			case strings.HasPrefix(arg, "--model="):
				parsedArgs.Model = strings.TrimPrefix(arg, "--model=")
			case strings.HasPrefix(arg, "--config="):
				parsedArgs.Config = strings.TrimPrefix(arg, "--config=")
			default:
				remaining = append(remaining, arg)
			}
		}
	}

	return remaining, parsedArgs
}

// parseServeArgs parses serve command specific arguments.
func parseServeArgs(args *Args, remaining []string) {
	p := NewArgParser(remaining)
	args.Addr = p.FlagOrDefault("addr", p.Flag("a"))
}

// parseConfigArgs parses config command specific arguments.
func parseConfigArgs(args *Args, remaining []string) {
	if len(remaining) > 0 {
		args.Subcommand = remaining[0]
		if len(remaining) > 1 {
			args.ConfigKey = remaining[1]
		}
		if len(remaining) > 2 {
			args.ConfigVal = strings.Join(remaining[2:], " ")
		}
	}
}

// =============================================================================
// COMMAND HANDLERS
// =============================================================================

// Run executes cmd and returns the process exit code.
func Run(cmd Command, args Args) int {
	var err error
	switch cmd {
	case CmdChat:
		err = HandleChat(args)
	case CmdServe:
		err = HandleServe(args)
	case CmdConfig:
		err = HandleConfig(args)
	case CmdTriggers:
		err = HandleTriggers(args)
	case CmdHistory:
		err = HandleHistory(args)
	case CmdVersion:
		HandleVersion(args)
	case CmdHelp:
		if len(args.Raw) > 0 {
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args.Raw[0])
			PrintUsage()
			return ExitUsageError
		}
		PrintUsage()
	}

	if err != nil {
		DisplayError(err, args.JSON)
		return GetExitCode(err)
	}
	return ExitSuccess
}

// HandleVersion handles the "version" command with JSON output support.
func HandleVersion(args Args) {
	if args.JSON {
		NewJSONResponse("version", VersionData{
			Version:   Version,
			GitCommit: GitCommit,
			BuildDate: BuildDate,
			GoVersion: runtime.Version(),
		}).Print()
		return
	}
	PrintVersion()
}
