// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading and management for lark.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// environment variable overrides, and validation.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - ModelConfig: Remote language model endpoint and reply deadline
//   - ActionsConfig: Action endpoint, retry policy and rate limit
//   - OfflineConfig: Connectivity probing and the offline queue store
//   - SpeechConfig: Text-to-speech endpoint and voice fallback order
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (LARK_*)
//   - ~/.lark/config.toml
//   - ~/.lark/config.json
//   - Built-in defaults
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Read and write single keys:
//
//	v, _ := cfg.Get("model.name")
//	_ = cfg.Set("actions.max_attempts", "5")
package config
