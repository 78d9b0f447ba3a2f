// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jeranaias/lark/internal/util"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNoSynthesizer is returned by an empty Chain.
	ErrNoSynthesizer = errors.New("no speech synthesizer configured")

	// ErrEmptyText is returned when there is nothing to say.
	ErrEmptyText = errors.New("nothing to speak")
)

// maxAudioSize bounds a synthesized clip.
// SECURITY: Response size limit prevents memory exhaustion attacks.
const maxAudioSize = 20 * 1024 * 1024

// maxInputRunes matches the common TTS input ceiling.
const maxInputRunes = 4096

// =============================================================================
// INTERFACES
// =============================================================================

// Synthesizer turns text into speech.
type Synthesizer interface {
	Speak(ctx context.Context, text string) error
	Name() string
}

// Utterance is one synthesized clip.
type Utterance struct {
	Text   string
	Voice  string
	Format string
	Audio  []byte
	At     time.Time
}

// Sink receives synthesized audio.
type Sink interface {
	Play(ctx context.Context, u Utterance) error
}

// =============================================================================
// CHAIN
// =============================================================================

// Chain tries synthesizers in order and stops at the first success.
type Chain []Synthesizer

// Speak implements Synthesizer.
func (c Chain) Speak(ctx context.Context, text string) error {
	if len(c) == 0 {
		return ErrNoSynthesizer
	}
	var errs []error
	for _, s := range c {
		err := s.Speak(ctx, text)
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		if ctx.Err() != nil {
			break
		}
		log.Printf("SPEECH: %s failed, trying next: %v", s.Name(), err)
	}
	return errors.Join(errs...)
}

// Name implements Synthesizer.
func (c Chain) Name() string {
	names := make([]string, len(c))
	for i, s := range c {
		names[i] = s.Name()
	}
	return "chain(" + strings.Join(names, ",") + ")"
}

// =============================================================================
// HTTP SYNTHESIZER
// =============================================================================

// HTTPSynthesizer calls an OpenAI-compatible /audio/speech endpoint.
type HTTPSynthesizer struct {
	baseURL string
	apiKey  string
	model   string
	voice   string
	format  string
	client  *http.Client
	sink    Sink
}

type speechRequest struct {
	Model          string `json:"model"`
	Voice          string `json:"voice"`
	Input          string `json:"input"`
	ResponseFormat string `json:"response_format,omitempty"`
}

// NewHTTPSynthesizer creates a synthesizer for one voice.
func NewHTTPSynthesizer(baseURL, apiKey, model, voice string, sink Sink) *HTTPSynthesizer {
	if sink == nil {
		sink = DiscardSink{}
	}
	return &HTTPSynthesizer{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  strings.TrimSpace(apiKey),
		model:   model,
		voice:   voice,
		format:  "mp3",
		client:  &http.Client{Timeout: 30 * time.Second},
		sink:    sink,
	}
}

// WithHTTPClient replaces the HTTP client.
func (s *HTTPSynthesizer) WithHTTPClient(c *http.Client) *HTTPSynthesizer {
	s.client = c
	return s
}

// Name implements Synthesizer.
func (s *HTTPSynthesizer) Name() string {
	return "voice:" + s.voice
}

// Speak implements Synthesizer.
func (s *HTTPSynthesizer) Speak(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyText
	}
	text = util.TruncateRunes(text, maxInputRunes)

	body, err := json.Marshal(speechRequest{Model: s.model, Voice: s.voice, Input: text, ResponseFormat: s.format})
	if err != nil {
		return fmt.Errorf("marshal speech request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/audio/speech", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create speech request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	req.Header.Del("Authorization")
	if err != nil {
		return fmt.Errorf("speech request failed: %w", err)
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioSize))
	if err != nil {
		return fmt.Errorf("read speech response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("speech endpoint returned HTTP %d", resp.StatusCode)
	}
	if len(audio) == 0 {
		return errors.New("speech endpoint returned no audio")
	}

	return s.sink.Play(ctx, Utterance{
		Text:   text,
		Voice:  s.voice,
		Format: s.format,
		Audio:  audio,
		At:     time.Now(),
	})
}

// NewVoiceChain builds one HTTPSynthesizer per voice, in fallback order.
func NewVoiceChain(baseURL, apiKey, model string, voices []string, sink Sink) Chain {
	chain := make(Chain, 0, len(voices))
	for _, v := range voices {
		if v = strings.TrimSpace(v); v != "" {
			chain = append(chain, NewHTTPSynthesizer(baseURL, apiKey, model, v, sink))
		}
	}
	return chain
}

// =============================================================================
// SINKS
// =============================================================================

// DiscardSink drops audio.
type DiscardSink struct{}

// Play implements Sink.
func (DiscardSink) Play(context.Context, Utterance) error { return nil }

// DirSink writes each clip to a file in Dir.
type DirSink struct {
	Dir string
}

// Play implements Sink.
func (d DirSink) Play(_ context.Context, u Utterance) error {
	name := fmt.Sprintf("%s-%s.%s", u.At.UTC().Format("20060102T150405.000Z"), u.Voice, u.Format)
	path := filepath.Join(d.Dir, name)
	if err := util.AtomicWriteFile(path, u.Audio, 0600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Files lists clips written to the directory, oldest first.
func (d DirSink) Files() ([]string, error) {
	entries, err := os.ReadDir(d.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			out = append(out, filepath.Join(d.Dir, e.Name()))
		}
	}
	return out, nil
}
