// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/lark/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete lark configuration.
type Config struct {
	Version string `toml:"version" json:"version"`

	Model     ModelConfig     `toml:"model" json:"model"`
	Assistant AssistantConfig `toml:"assistant" json:"assistant"`
	Officer   OfficerConfig   `toml:"officer" json:"officer"`
	Actions   ActionsConfig   `toml:"actions" json:"actions"`
	Speech    SpeechConfig    `toml:"speech" json:"speech"`
	Offline   OfflineConfig   `toml:"offline" json:"offline"`
	Worker    WorkerConfig    `toml:"worker" json:"worker"`
	Server    ServerConfig    `toml:"server" json:"server"`
	Triggers  TriggersConfig  `toml:"triggers" json:"triggers"`
	Storage   StorageConfig   `toml:"storage" json:"storage"`
}

// ModelConfig describes the remote language model endpoint.
type ModelConfig struct {
	// BaseURL is the OpenAI-compatible API root (".../chat/completions" is appended)
	BaseURL string `toml:"base_url" json:"base_url"`
	// APIKey is sent as a bearer token. Never logged.
	APIKey string `toml:"api_key" json:"api_key"`
	// Name is the model identifier sent in every request
	Name string `toml:"name" json:"name"`
	// ResponseTimeoutSecs bounds how long a submission waits for a reply
	// before a degraded-service notice is appended
	ResponseTimeoutSecs int `toml:"response_timeout_secs" json:"response_timeout_secs"`
}

// AssistantConfig holds the assistant persona.
type AssistantConfig struct {
	Name         string `toml:"name" json:"name"`
	SystemPrompt string `toml:"system_prompt" json:"system_prompt"`
}

// OfficerConfig personalises the welcome message.
type OfficerConfig struct {
	Name     string `toml:"name" json:"name"`
	Rank     string `toml:"rank" json:"rank"`
	Codename string `toml:"codename" json:"codename"`
}

// ActionsConfig configures the action dispatcher.
type ActionsConfig struct {
	// Endpoint receives {actionType, payload}. Empty disables dispatch.
	Endpoint    string  `toml:"endpoint" json:"endpoint"`
	MaxAttempts int     `toml:"max_attempts" json:"max_attempts"`
	BaseDelayMs int     `toml:"base_delay_ms" json:"base_delay_ms"`
	MaxDelayMs  int     `toml:"max_delay_ms" json:"max_delay_ms"`
	TimeoutSecs int     `toml:"timeout_secs" json:"timeout_secs"`
	RatePerSec  float64 `toml:"rate_per_sec" json:"rate_per_sec"`
	Burst       int     `toml:"burst" json:"burst"`
}

// SpeechConfig configures text-to-speech output.
type SpeechConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled"`
	BaseURL string `toml:"base_url" json:"base_url"`
	APIKey  string `toml:"api_key" json:"api_key"`
	Model   string `toml:"model" json:"model"`
	// Voices are tried in order until one succeeds
	Voices      []string `toml:"voices" json:"voices"`
	OutputDir   string   `toml:"output_dir" json:"output_dir"`
	TimeoutSecs int      `toml:"timeout_secs" json:"timeout_secs"`
}

// OfflineConfig configures connectivity detection and the offline queue.
type OfflineConfig struct {
	// StartOffline starts the session disconnected
	StartOffline bool `toml:"start_offline" json:"start_offline"`
	// ProbeURL is polled to derive connectivity. Empty disables probing.
	ProbeURL          string `toml:"probe_url" json:"probe_url"`
	ProbeIntervalSecs int    `toml:"probe_interval_secs" json:"probe_interval_secs"`
	// QueuePath is the SQLite file backing the queue. Empty keeps it in memory.
	QueuePath string `toml:"queue_path" json:"queue_path"`
}

// WorkerConfig configures the background audio worker.
type WorkerConfig struct {
	Concurrency     int `toml:"concurrency" json:"concurrency"`
	CallTimeoutSecs int `toml:"call_timeout_secs" json:"call_timeout_secs"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr           string   `toml:"addr" json:"addr"`
	AllowedOrigins []string `toml:"allowed_origins" json:"allowed_origins"`
	// Token, when set, is required as a bearer token on every request.
	Token string `toml:"token" json:"token"`
	// RequestsPerMinute is the per-client limit (0 disables it).
	RequestsPerMinute int `toml:"requests_per_minute" json:"requests_per_minute"`
}

// TriggersConfig points at an optional trigger table file.
type TriggersConfig struct {
	File  string `toml:"file" json:"file"`
	Watch bool   `toml:"watch" json:"watch"`
}

// StorageConfig configures conversation persistence.
type StorageConfig struct {
	Dir     string `toml:"dir" json:"dir"`
	Persist bool   `toml:"persist" json:"persist"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Version: "1",
		Model: ModelConfig{
			BaseURL:             "https://openrouter.ai/api/v1",
			Name:                "optimusalpha",
			ResponseTimeoutSecs: 30,
		},
		Assistant: AssistantConfig{
			Name:         "LARK",
			SystemPrompt: "You are LARK, an autonomous law enforcement assistant.",
		},
		Actions: ActionsConfig{
			MaxAttempts: 3,
			BaseDelayMs: 500,
			MaxDelayMs:  5000,
			TimeoutSecs: 10,
			RatePerSec:  5,
			Burst:       10,
		},
		Speech: SpeechConfig{
			Enabled:     false,
			BaseURL:     "https://api.openai.com/v1",
			Model:       "tts-1",
			Voices:      []string{"ash", "alloy"},
			TimeoutSecs: 15,
		},
		Offline: OfflineConfig{
			ProbeIntervalSecs: 10,
		},
		Worker: WorkerConfig{
			Concurrency:     4,
			CallTimeoutSecs: 10,
		},
		Server: ServerConfig{
			Addr:              "127.0.0.1:8790",
			RequestsPerMinute: 120,
		},
		Storage: StorageConfig{
			Persist: true,
		},
	}
}

// =============================================================================
// DURATION HELPERS
// =============================================================================

// ResponseTimeout returns the model reply deadline.
func (c *Config) ResponseTimeout() time.Duration {
	return time.Duration(c.Model.ResponseTimeoutSecs) * time.Second
}

// ProbeInterval returns the connectivity probe period.
func (c *Config) ProbeInterval() time.Duration {
	return time.Duration(c.Offline.ProbeIntervalSecs) * time.Second
}

// WorkerCallTimeout returns the per-call worker deadline.
func (c *Config) WorkerCallTimeout() time.Duration {
	return time.Duration(c.Worker.CallTimeoutSecs) * time.Second
}

// SpeechTimeout returns the per-utterance synthesis deadline.
func (c *Config) SpeechTimeout() time.Duration {
	return time.Duration(c.Speech.TimeoutSecs) * time.Second
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the lark configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".lark"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the path to the JSON config file.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// ensureSecurePermissions tightens config files to 0600.
// SECURITY: Config files hold API keys.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the config file(s).
// Tries TOML first, then JSON, and falls back to defaults.
// Environment overrides are applied last.
func Load() (*Config, error) {
	if path, err := ConfigPathTOML(); err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return LoadFromPath(path)
		}
	}
	if path, err := ConfigPathJSON(); err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return LoadFromPath(path)
		}
	}

	cfg := Default()
	return finish(cfg)
}

// LoadFromPath loads configuration from a specific file path with full validation.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	var err error
	if strings.HasSuffix(path, ".json") {
		err = LoadJSON(cfg, path)
	} else {
		err = LoadTOML(cfg, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}
	return finish(cfg)
}

// LoadTOML decodes a TOML file over cfg.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

// LoadJSON decodes a JSON file over cfg.
func LoadJSON(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read JSON file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to decode JSON file: %w", err)
	}
	return nil
}

func finish(cfg *Config) (*Config, error) {
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SetDefaults fills zero values that a partial file or env override left behind.
func (c *Config) SetDefaults() {
	d := Default()

	if c.Version == "" {
		c.Version = d.Version
	}
	if c.Model.BaseURL == "" {
		c.Model.BaseURL = d.Model.BaseURL
	}
	if c.Model.Name == "" {
		c.Model.Name = d.Model.Name
	}
	if c.Model.ResponseTimeoutSecs == 0 {
		c.Model.ResponseTimeoutSecs = d.Model.ResponseTimeoutSecs
	}
	if c.Assistant.Name == "" {
		c.Assistant.Name = d.Assistant.Name
	}
	if c.Assistant.SystemPrompt == "" {
		c.Assistant.SystemPrompt = d.Assistant.SystemPrompt
	}
	if c.Actions.MaxAttempts == 0 {
		c.Actions.MaxAttempts = d.Actions.MaxAttempts
	}
	if c.Actions.BaseDelayMs == 0 {
		c.Actions.BaseDelayMs = d.Actions.BaseDelayMs
	}
	if c.Actions.MaxDelayMs == 0 {
		c.Actions.MaxDelayMs = d.Actions.MaxDelayMs
	}
	if c.Actions.TimeoutSecs == 0 {
		c.Actions.TimeoutSecs = d.Actions.TimeoutSecs
	}
	if c.Actions.RatePerSec == 0 {
		c.Actions.RatePerSec = d.Actions.RatePerSec
	}
	if c.Actions.Burst == 0 {
		c.Actions.Burst = d.Actions.Burst
	}
	if c.Speech.BaseURL == "" {
		c.Speech.BaseURL = d.Speech.BaseURL
	}
	if c.Speech.Model == "" {
		c.Speech.Model = d.Speech.Model
	}
	if len(c.Speech.Voices) == 0 {
		c.Speech.Voices = d.Speech.Voices
	}
	if c.Speech.TimeoutSecs == 0 {
		c.Speech.TimeoutSecs = d.Speech.TimeoutSecs
	}
	if c.Offline.ProbeIntervalSecs == 0 {
		c.Offline.ProbeIntervalSecs = d.Offline.ProbeIntervalSecs
	}
	if c.Worker.Concurrency == 0 {
		c.Worker.Concurrency = d.Worker.Concurrency
	}
	if c.Worker.CallTimeoutSecs == 0 {
		c.Worker.CallTimeoutSecs = d.Worker.CallTimeoutSecs
	}
	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
	if c.Storage.Dir == "" {
		if dir, err := ConfigDir(); err == nil {
			c.Storage.Dir = filepath.Join(dir, "conversations")
		}
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes the configuration as TOML with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	var b strings.Builder
	b.WriteString("# lark configuration file\n")
	b.WriteString("# Generated by lark - edit with care\n\n")

	if err := toml.NewEncoder(&b).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	// RELIABILITY: Atomic write with fsync prevents data loss on crash
	if err := util.AtomicWriteFile(path, []byte(b.String()), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// SaveJSON writes the configuration as indented JSON with 0600 permissions.
func SaveJSON(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...interface{}) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if err := validateURL(c.Model.BaseURL); err != nil {
		add("model.base_url", "%v", err)
	}
	if strings.TrimSpace(c.Model.Name) == "" {
		add("model.name", "must not be empty")
	}
	if c.Model.ResponseTimeoutSecs < 1 || c.Model.ResponseTimeoutSecs > 600 {
		add("model.response_timeout_secs", "must be between 1 and 600, got %d", c.Model.ResponseTimeoutSecs)
	}

	if c.Actions.Endpoint != "" {
		if err := validateURL(c.Actions.Endpoint); err != nil {
			add("actions.endpoint", "%v", err)
		}
	}
	if c.Actions.MaxAttempts < 1 || c.Actions.MaxAttempts > 10 {
		add("actions.max_attempts", "must be between 1 and 10, got %d", c.Actions.MaxAttempts)
	}
	if c.Actions.BaseDelayMs < 0 || c.Actions.MaxDelayMs < c.Actions.BaseDelayMs {
		add("actions.max_delay_ms", "must be >= base_delay_ms (%d), got %d", c.Actions.BaseDelayMs, c.Actions.MaxDelayMs)
	}
	if c.Actions.RatePerSec <= 0 {
		add("actions.rate_per_sec", "must be positive, got %v", c.Actions.RatePerSec)
	}
	if c.Actions.Burst < 1 {
		add("actions.burst", "must be at least 1, got %d", c.Actions.Burst)
	}

	if c.Speech.Enabled {
		if err := validateURL(c.Speech.BaseURL); err != nil {
			add("speech.base_url", "%v", err)
		}
		if len(c.Speech.Voices) == 0 {
			add("speech.voices", "at least one voice is required when speech is enabled")
		}
	}

	if c.Offline.ProbeURL != "" {
		if err := validateURL(c.Offline.ProbeURL); err != nil {
			add("offline.probe_url", "%v", err)
		}
	}
	if c.Offline.ProbeIntervalSecs < 1 {
		add("offline.probe_interval_secs", "must be at least 1, got %d", c.Offline.ProbeIntervalSecs)
	}

	if c.Worker.Concurrency < 1 || c.Worker.Concurrency > 64 {
		add("worker.concurrency", "must be between 1 and 64, got %d", c.Worker.Concurrency)
	}
	if c.Worker.CallTimeoutSecs < 1 {
		add("worker.call_timeout_secs", "must be at least 1, got %d", c.Worker.CallTimeoutSecs)
	}

	if strings.TrimSpace(c.Server.Addr) == "" {
		add("server.addr", "must not be empty")
	}
	if c.Server.RequestsPerMinute < 0 {
		add("server.requests_per_minute", "must not be negative, got %d", c.Server.RequestsPerMinute)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// validateURL accepts absolute http(s) URLs with a host.
// SECURITY: Rejects file://, javascript:// and other schemes.
func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %v", raw, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("invalid URL %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid URL %q: missing host", raw)
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides.
//
// Supported variables:
//   - LARK_MODEL: overrides model.name
//   - LARK_MODEL_URL: overrides model.base_url
//   - LARK_API_KEY (or OPENROUTER_API_KEY): overrides model.api_key
//   - LARK_ACTIONS_URL: overrides actions.endpoint
//   - LARK_OFFLINE: "1"/"true" starts offline
//   - LARK_SPEECH_KEY (or OPENAI_API_KEY): overrides speech.api_key
//   - LARK_SERVER_ADDR: overrides server.addr
//   - LARK_OFFICER_NAME, LARK_OFFICER_RANK, LARK_CODENAME: officer identity
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("LARK_MODEL"); v != "" {
		c.Model.Name = v
	}
	if v := os.Getenv("LARK_MODEL_URL"); v != "" {
		c.Model.BaseURL = v
	}
	if v := os.Getenv("OPENROUTER_API_KEY"); v != "" {
		c.Model.APIKey = v
	}
	if v := os.Getenv("LARK_API_KEY"); v != "" {
		c.Model.APIKey = v
	}
	if v := os.Getenv("LARK_ACTIONS_URL"); v != "" {
		c.Actions.Endpoint = v
	}
	if v := os.Getenv("LARK_OFFLINE"); v != "" {
		c.Offline.StartOffline = parseBool(v)
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.Speech.APIKey = v
	}
	if v := os.Getenv("LARK_SPEECH_KEY"); v != "" {
		c.Speech.APIKey = v
	}
	if v := os.Getenv("LARK_SERVER_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("LARK_SERVER_TOKEN"); v != "" {
		c.Server.Token = v
	}
	if v := os.Getenv("LARK_OFFICER_NAME"); v != "" {
		c.Officer.Name = v
	}
	if v := os.Getenv("LARK_OFFICER_RANK"); v != "" {
		c.Officer.Rank = v
	}
	if v := os.Getenv("LARK_CODENAME"); v != "" {
		c.Officer.Codename = v
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "1" || s == "true" || s == "yes"
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using its TOML key (e.g., "model.name").
func (c *Config) Get(key string) (interface{}, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set assigns a configuration value from its string form (e.g., "actions.max_attempts", "5").
// Slices take a comma separated list.
func (c *Config) Set(key, value string) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int:
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s: invalid integer %q", key, value)
		}
		field.SetInt(int64(n))
	case reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("%s: invalid number %q", key, value)
		}
		field.SetFloat(f)
	case reflect.Bool:
		field.SetBool(parseBool(value))
	case reflect.Slice:
		var items []string
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		field.Set(reflect.ValueOf(items))
	default:
		return fmt.Errorf("%s: unsupported field type %s", key, field.Type())
	}
	return nil
}

// lookup walks the struct tree following toml tags.
func (c *Config) lookup(key string) (reflect.Value, error) {
	if key == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	v := reflect.ValueOf(c).Elem()
	parts := strings.Split(key, ".")
	for i, part := range parts {
		field, ok := fieldByTag(v, part)
		if !ok {
			return reflect.Value{}, fmt.Errorf("unknown key: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			if field.Kind() == reflect.Struct {
				return reflect.Value{}, fmt.Errorf("%s is a section, not a value", key)
			}
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("%s is not a section", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

func fieldByTag(v reflect.Value, name string) (reflect.Value, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if tag := strings.Split(t.Field(i).Tag.Get("toml"), ",")[0]; tag == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// Keys returns every settable key in dot notation, in declaration order.
func Keys() []string {
	var keys []string
	var walk func(t reflect.Type, prefix string)
	walk = func(t reflect.Type, prefix string) {
		for i := 0; i < t.NumField(); i++ {
			tag := strings.Split(t.Field(i).Tag.Get("toml"), ",")[0]
			if tag == "" {
				continue
			}
			if t.Field(i).Type.Kind() == reflect.Struct {
				walk(t.Field(i).Type, prefix+tag+".")
				continue
			}
			keys = append(keys, prefix+tag)
		}
	}
	walk(reflect.TypeOf(Config{}), "")
	return keys
}

// =============================================================================
// DISPLAY
// =============================================================================

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Speech.Voices = append([]string(nil), c.Speech.Voices...)
	clone.Server.AllowedOrigins = append([]string(nil), c.Server.AllowedOrigins...)
	return &clone
}

// String renders the configuration as JSON with secrets redacted.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.Model.APIKey != "" {
		safe.Model.APIKey = "[REDACTED]"
	}
	if safe.Speech.APIKey != "" {
		safe.Speech.APIKey = "[REDACTED]"
	}
	if safe.Server.Token != "" {
		safe.Server.Token = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the process configuration, loading it on first access.
// A load error falls back to defaults with a warning on stderr.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
			cfg = Default()
			cfg.SetDefaults()
		}
		globalConfigMu.Lock()
		if globalConfig == nil {
			globalConfig = cfg
		}
		globalConfigMu.Unlock()
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// SetGlobal sets the global configuration instance. Thread-safe.
func SetGlobal(cfg *Config) {
	globalConfigOnce.Do(func() {})
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ReloadGlobal re-reads the configuration files and replaces the global instance.
// The previous instance stays in place when loading fails.
func ReloadGlobal() error {
	cfg, err := Load()
	if err != nil {
		return err
	}
	SetGlobal(cfg)
	return nil
}

// ResetGlobalForTesting resets the global config state for testing.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
