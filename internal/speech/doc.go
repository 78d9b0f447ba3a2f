// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package speech speaks assistant replies through a fallback chain of
// text-to-speech voices.
//
// # Key Types
//
//   - Synthesizer: Anything that can speak text
//   - Chain: Ordered fallback, first success wins
//   - HTTPSynthesizer: OpenAI-compatible /audio/speech client for one voice
//   - Sink: Destination for synthesized audio (DirSink, DiscardSink)
//
// # Usage
//
//	chain := speech.NewVoiceChain(baseURL, apiKey, "tts-1",
//	    []string{"ash", "alloy"}, speech.DirSink{Dir: outDir})
//	if err := chain.Speak(ctx, reply); err != nil {
//	    log.Printf("SPEECH: %v", err)
//	}
package speech
