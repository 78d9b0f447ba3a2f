// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points HOME at a temp dir and clears LARK_* overrides.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)
	for _, key := range []string{
		"LARK_MODEL", "LARK_MODEL_URL", "LARK_API_KEY", "OPENROUTER_API_KEY",
		"LARK_ACTIONS_URL", "LARK_OFFLINE", "LARK_SPEECH_KEY", "OPENAI_API_KEY",
		"LARK_SERVER_ADDR", "LARK_SERVER_TOKEN", "LARK_OFFICER_NAME", "LARK_OFFICER_RANK", "LARK_CODENAME",
	} {
		t.Setenv(key, "")
	}
	return home
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "optimusalpha", cfg.Model.Name)
	assert.Equal(t, 30*time.Second, cfg.ResponseTimeout())
	assert.Equal(t, 10*time.Second, cfg.WorkerCallTimeout())
	assert.Equal(t, []string{"ash", "alloy"}, cfg.Speech.Voices)
	assert.Equal(t, 3, cfg.Actions.MaxAttempts)
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	home := isolate(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default().Model.BaseURL, cfg.Model.BaseURL)
	assert.Equal(t, filepath.Join(home, ".lark", "conversations"), cfg.Storage.Dir)
}

func TestLoadFromPath_TOMLMergesOverDefaults(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[model]
name = "custom-model"
response_timeout_secs = 45

[officer]
name = "Smith"
rank = "Sergeant"

[speech]
enabled = true
voices = ["nova"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, "custom-model", cfg.Model.Name)
	assert.Equal(t, 45*time.Second, cfg.ResponseTimeout())
	assert.Equal(t, "Smith", cfg.Officer.Name)
	assert.Equal(t, []string{"nova"}, cfg.Speech.Voices)
	// untouched sections keep defaults
	assert.Equal(t, 3, cfg.Actions.MaxAttempts)
	assert.Equal(t, "127.0.0.1:8790", cfg.Server.Addr)

	info, err := os.Stat(path)
	require.NoError(t, err)
	if os.PathSeparator == '/' {
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm(), "permissions should be tightened")
	}
}

func TestLoadFromPath_JSON(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"actions":{"endpoint":"https://dispatch.example/api","max_attempts":5}}`), 0600))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "https://dispatch.example/api", cfg.Actions.Endpoint)
	assert.Equal(t, 5, cfg.Actions.MaxAttempts)
}

func TestLoadFromPath_Invalid(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[model]\nbase_url = \"file:///etc/passwd\"\n"), 0600))

	_, err := LoadFromPath(path)
	require.Error(t, err)

	var verrs ValidateErrors
	require.True(t, errors.As(err, &verrs), "error should wrap ValidateErrors: %v", err)
	assert.Equal(t, "model.base_url", verrs[0].Field)
}

func TestSaveTOML_RoundTrip(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg := Default()
	cfg.Officer.Codename = "Nightjar"
	cfg.Offline.StartOffline = true
	require.NoError(t, SaveTOML(cfg, path))

	loaded, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "Nightjar", loaded.Officer.Codename)
	assert.True(t, loaded.Offline.StartOffline)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"empty model", func(c *Config) { c.Model.Name = " " }, "model.name"},
		{"zero response timeout", func(c *Config) { c.Model.ResponseTimeoutSecs = 0 }, "model.response_timeout_secs"},
		{"bad action endpoint", func(c *Config) { c.Actions.Endpoint = "ftp://x" }, "actions.endpoint"},
		{"too many attempts", func(c *Config) { c.Actions.MaxAttempts = 11 }, "actions.max_attempts"},
		{"delay inverted", func(c *Config) { c.Actions.MaxDelayMs = 1 }, "actions.max_delay_ms"},
		{"speech without voices", func(c *Config) { c.Speech.Enabled = true; c.Speech.Voices = nil }, "speech.voices"},
		{"bad probe url", func(c *Config) { c.Offline.ProbeURL = "not a url" }, "offline.probe_url"},
		{"worker concurrency", func(c *Config) { c.Worker.Concurrency = 0 }, "worker.concurrency"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)

			var verrs ValidateErrors
			require.True(t, errors.As(err, &verrs))
			found := false
			for _, v := range verrs {
				if v.Field == tt.field {
					found = true
				}
			}
			assert.True(t, found, "expected error on %s, got %v", tt.field, err)
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("LARK_MODEL", "env-model")
	t.Setenv("OPENROUTER_API_KEY", "or-key")
	t.Setenv("LARK_API_KEY", "lark-key")
	t.Setenv("LARK_OFFLINE", "true")
	t.Setenv("LARK_CODENAME", "Falcon")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	assert.Equal(t, "env-model", cfg.Model.Name)
	assert.Equal(t, "lark-key", cfg.Model.APIKey, "LARK_API_KEY wins over OPENROUTER_API_KEY")
	assert.True(t, cfg.Offline.StartOffline)
	assert.Equal(t, "Falcon", cfg.Officer.Codename)
}

func TestGetSet(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Set("model.name", "other"))
	require.NoError(t, cfg.Set("actions.max_attempts", "7"))
	require.NoError(t, cfg.Set("actions.rate_per_sec", "2.5"))
	require.NoError(t, cfg.Set("speech.enabled", "yes"))
	require.NoError(t, cfg.Set("speech.voices", "nova, , echo"))

	v, err := cfg.Get("model.name")
	require.NoError(t, err)
	assert.Equal(t, "other", v)
	assert.Equal(t, 7, cfg.Actions.MaxAttempts)
	assert.Equal(t, 2.5, cfg.Actions.RatePerSec)
	assert.True(t, cfg.Speech.Enabled)
	assert.Equal(t, []string{"nova", "echo"}, cfg.Speech.Voices)

	assert.Error(t, cfg.Set("actions.max_attempts", "many"))
	assert.Error(t, cfg.Set("model.missing", "x"))
	_, err = cfg.Get("model")
	assert.Error(t, err, "sections are not values")
}

func TestKeys(t *testing.T) {
	keys := Keys()
	assert.Contains(t, keys, "model.name")
	assert.Contains(t, keys, "offline.queue_path")
	assert.Contains(t, keys, "version")
	for _, k := range keys {
		_, err := Default().Get(k)
		assert.NoError(t, err, k)
	}
}

func TestString_RedactsSecrets(t *testing.T) {
	cfg := Default()
	cfg.Model.APIKey = "sk-secret"
	cfg.Speech.APIKey = "tts-secret"
	cfg.Server.Token = "bearer-secret"

	out := cfg.String()
	assert.NotContains(t, out, "sk-secret")
	assert.NotContains(t, out, "tts-secret")
	assert.NotContains(t, out, "bearer-secret")
	assert.Equal(t, "sk-secret", cfg.Model.APIKey, "String must not mutate the receiver")
}

// TestConfig_ConcurrentAccess tests that Global() and SetGlobal()
// can be safely called concurrently without race conditions.
// Run with: go test -race -v ./internal/config/
func TestConfig_ConcurrentAccess(t *testing.T) {
	isolate(t)
	ResetGlobalForTesting()
	defer ResetGlobalForTesting()

	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(2)

		go func() {
			defer wg.Done()
			c := Default()
			c.Version = "test"
			SetGlobal(c)
		}()

		go func() {
			defer wg.Done()
			if Global() == nil {
				t.Error("Global() returned nil")
			}
		}()
	}

	wg.Wait()
}

// TestConfig_ConcurrentReload tests concurrent ReloadGlobal and Global calls.
func TestConfig_ConcurrentReload(t *testing.T) {
	isolate(t)
	ResetGlobalForTesting()
	defer ResetGlobalForTesting()

	_ = Global()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = ReloadGlobal()
		}()
	}
	for i := 0; i < 80; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if Global() == nil {
				t.Error("Global() returned nil")
			}
		}()
	}
	wg.Wait()
}
