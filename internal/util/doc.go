// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared across lark packages.
//
// # Key Functions
//
// Text:
//   - TruncateRunes: UTF-8 safe truncation with ellipsis
//   - TruncateWidth: Display-width truncation (CJK and emoji aware)
//   - StringWidth: Terminal column width of a string
//   - CollapseSpace: Trim and fold runs of whitespace to one space
//
// Files:
//   - AtomicWriteFile: Crash-safe file writing with fsync and rename
//
// # Usage
//
//	preview := util.TruncateWidth(msg.Content, 60)
//	err := util.AtomicWriteFile(path, data, 0600)
package util
