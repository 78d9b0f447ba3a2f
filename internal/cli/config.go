// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config.go - Config command implementation for lark.
//
// Command: config [subcommand]
// Short:   View and modify configuration
//
// Subcommands:
//   show (default)      Display the effective configuration
//   get <key>           Display one value
//   set <key> <value>   Set one value and save
//   keys                List every key
//   init                Write the default configuration file
//   path                Show configuration file path
//
// Examples:
//   lark config set model.name openai/gpt-4o-mini
//   lark config set officer.codename Nightjar
//   lark config set speech.voices nova,alloy
//   lark config get offline.probe_url --json
//
// show and get report the effective configuration, environment overrides
// included. set edits the file only, so values from the environment are
// never written to disk.
package cli

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jeranaias/lark/internal/config"
)

// =============================================================================
// HANDLE CONFIG
// =============================================================================

// HandleConfig handles the "config" command.
func HandleConfig(args Args) error {
	return runConfig(os.Stdout, args)
}

func runConfig(w io.Writer, args Args) error {
	path, err := configFilePath(args)
	if err != nil {
		return err
	}

	switch args.Subcommand {
	case "", "show":
		return configShow(w, args)
	case "get":
		return configGet(w, args)
	case "set":
		return configSet(w, path, args.ConfigKey, args.ConfigVal)
	case "keys":
		return configKeys(w, args)
	case "init":
		return configInit(w, path)
	case "path":
		return configPath(w, path, args.JSON)
	default:
		return NewValidationError("config subcommand", args.Subcommand, "expected show, get, set, keys, init or path")
	}
}

// configFilePath is --config when given, else ~/.lark/config.toml.
func configFilePath(args Args) (string, error) {
	if args.Config != "" {
		return args.Config, nil
	}
	path, err := config.ConfigPathTOML()
	if err != nil {
		return "", &ConfigError{Err: err}
	}
	return path, nil
}

func configShow(w io.Writer, args Args) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}

	if args.JSON {
		// String is JSON with secrets redacted; embed it as-is.
		return NewJSONResponse("config show", rawJSON(cfg.String())).Write(w)
	}

	fmt.Fprintln(w, TitleStyle.Render("lark configuration"))
	section := ""
	for _, key := range config.Keys() {
		val, _ := cfg.Get(key)
		s, name, nested := strings.Cut(key, ".")
		if !nested {
			fmt.Fprintf(w, "%s%s\n", RenderLabel(key+":", 26), ValueStyle.Render(displayValue(key, val)))
			continue
		}
		if s != section {
			section = s
			fmt.Fprintln(w, SectionStyle.Render("["+section+"]"))
		}
		fmt.Fprintf(w, "  %s%s\n", RenderLabel(name+":", 24), ValueStyle.Render(displayValue(key, val)))
	}
	return nil
}

func configGet(w io.Writer, args Args) error {
	if args.ConfigKey == "" {
		return ErrMissingArgument("key", "lark config get <key>")
	}
	cfg, err := loadConfig(args)
	if err != nil {
		return err
	}
	val, err := cfg.Get(args.ConfigKey)
	if err != nil {
		return NewNotFoundError("config key", args.ConfigKey)
	}

	shown := displayValue(args.ConfigKey, val)
	if args.JSON {
		return NewJSONResponse("config get", map[string]string{
			"key":   args.ConfigKey,
			"value": shown,
		}).Write(w)
	}
	fmt.Fprintln(w, shown)
	return nil
}

func configSet(w io.Writer, path, key, value string) error {
	if key == "" {
		return ErrMissingArgument("key", "lark config set <key> <value>")
	}

	cfg, err := loadConfigFile(path)
	if err != nil {
		return err
	}
	if _, err := cfg.Get(key); err != nil {
		return NewNotFoundError("config key", key)
	}
	if err := cfg.Set(key, value); err != nil {
		return NewValidationError(key, value, err.Error())
	}
	if err := cfg.Validate(); err != nil {
		return &ConfigError{Path: path, Err: err}
	}
	if err := config.SaveTOML(cfg, path); err != nil {
		return &ConfigError{Path: path, Err: err}
	}

	fmt.Fprintf(w, "%s %s = %s\n", SuccessStyle.Render("[OK]"), key, maskIfSecret(key, value))
	return nil
}

func configKeys(w io.Writer, args Args) error {
	keys := config.Keys()
	if args.JSON {
		return NewJSONResponse("config keys", keys).Write(w)
	}
	for _, k := range keys {
		fmt.Fprintln(w, k)
	}
	return nil
}

func configInit(w io.Writer, path string) error {
	if _, err := os.Stat(path); err == nil {
		return NewValidationError("config file", path, "already exists; edit it or use config set")
	}
	if err := config.SaveTOML(config.Default(), path); err != nil {
		return &ConfigError{Path: path, Err: err}
	}
	fmt.Fprintf(w, "%s wrote %s\n", SuccessStyle.Render("[OK]"), path)
	return nil
}

func configPath(w io.Writer, path string, asJSON bool) error {
	_, err := os.Stat(path)
	exists := err == nil

	if asJSON {
		return NewJSONResponse("config path", ConfigPathData{Path: path, Exists: exists}).Write(w)
	}
	fmt.Fprintln(w, path)
	if !exists {
		fmt.Fprintln(w, DimStyle.Render("(file does not exist; defaults and environment apply)"))
	}
	return nil
}

// loadConfigFile reads the file alone, without environment overrides.
// A missing file yields defaults.
func loadConfigFile(path string) (*config.Config, error) {
	cfg := config.Default()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	var err error
	if strings.HasSuffix(path, ".json") {
		err = config.LoadJSON(cfg, path)
	} else {
		err = config.LoadTOML(cfg, path)
	}
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	return cfg, nil
}

// =============================================================================
// HELPERS
// =============================================================================

type rawJSON string

func (r rawJSON) MarshalJSON() ([]byte, error) { return []byte(r), nil }

func displayValue(key string, val any) string {
	var s string
	switch v := val.(type) {
	case []string:
		s = strings.Join(v, ",")
	default:
		s = fmt.Sprint(v)
	}
	return maskIfSecret(key, s)
}

// maskAPIKey shows a short SHA-256 fingerprint instead of the key, so two
// keys can be told apart without exposing a prefix.
func maskAPIKey(key string) string {
	if key == "" {
		return "(not set)"
	}
	if len(key) < 8 {
		return "[invalid key]"
	}
	hash := sha256.Sum256([]byte(key))
	return fmt.Sprintf("sha256:%x...", hash[:4])
}

// maskIfSecret masks the value if the key names a secret.
func maskIfSecret(key, value string) string {
	keyLower := strings.ToLower(key)
	for _, s := range []string{"key", "secret", "token", "password"} {
		if strings.Contains(keyLower, s) {
			return maskAPIKey(value)
		}
	}
	return value
}
