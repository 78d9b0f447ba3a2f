// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides command-line parsing and execution for lark.
//
// chat and serve build the same component graph through App: the remote
// model client, action dispatcher, voice chain, offline queue and probe,
// trigger table and watcher, conversation store, audio worker and metrics,
// all wired into one orchestrator. The remaining commands inspect or edit
// configuration, trigger tables and saved conversations without starting it.
//
// # Key Types
//
//   - Command: Enumeration of the CLI commands
//   - Args: Parsed global and command-specific flags
//   - App: One orchestrator and every collaborator it owns
//   - ArgParser: Flag parsing for subcommand arguments
//   - JSONResponse: Envelope for --json output
//
// # Usage
//
//	cmd, args := cli.Parse()
//	os.Exit(cli.Run(cmd, args))
//
// # Commands Overview
//
//   - chat: Interactive session (default)
//   - serve: HTTP and websocket API
//   - config: Show, get, set and initialise configuration
//   - triggers: Show, seed and test the trigger table
//   - history: List, search, export and delete saved conversations
//   - version: Build information
//
// Exit codes follow GetExitCode: 2 for usage errors, 3 for configuration
// errors, 5 for network failures and 7 when something was not found.
package cli
