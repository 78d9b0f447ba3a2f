// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package triggers

import (
	"bytes"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/lark/internal/util"
)

// tableFile is the on-disk layout:
//
//	[[rule]]
//	name = "arrival"
//	phrases = ["arriving"]
//	workflow = "arriving"
//	[rule.action]
//	type = "notifyDispatch"
//	payload = { status = "arrived" }
type tableFile struct {
	Rules []Rule `toml:"rule"`
}

// LoadFile reads a trigger table from a TOML file.
func LoadFile(path string) (*Table, error) {
	var f tableFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("failed to decode trigger table %s: %w", path, err)
	}
	return NewTable(f.Rules)
}

// WriteFile writes rules as TOML. Used to seed an editable copy of the defaults.
func WriteFile(path string, rules []Rule) error {
	var buf bytes.Buffer
	buf.WriteString("# lark trigger table\n# Phrases match case-insensitively anywhere in a message.\n\n")
	if err := toml.NewEncoder(&buf).Encode(tableFile{Rules: rules}); err != nil {
		return fmt.Errorf("failed to encode trigger table: %w", err)
	}
	return util.AtomicWriteFile(path, buf.Bytes(), 0644)
}

// LoadOrDefault loads path when it exists and falls back to DefaultTable
// when path is empty or missing.
func LoadOrDefault(path string) (*Table, error) {
	if path == "" {
		return DefaultTable(), nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultTable(), nil
	}
	return LoadFile(path)
}
