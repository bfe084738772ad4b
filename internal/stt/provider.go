/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

// Package stt sends recordings to a speech recognition provider and
// normalizes the result into a speech.DetailedTranscript.
package stt

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/loqalabs/loqa-speech/internal/config"
	"github.com/loqalabs/loqa-speech/internal/speech"
)

// ProviderKind names a transcription backend.
type ProviderKind string

const (
	// ProviderOpenAI returns word-level timestamps
	ProviderOpenAI ProviderKind = "openai"
	// ProviderGoogle returns text only
	ProviderGoogle ProviderKind = "google"
	// ProviderWhisper runs whisper.cpp locally (requires -tags whisper)
	ProviderWhisper ProviderKind = "whisper"
)

// Audio is a recording ready for submission.
type Audio struct {
	Path     string
	Name     string
	MimeType string
}

// Options tune a single request.
type Options struct {
	Language string
	// Detailed requests word and segment timings where the provider has them.
	Detailed bool
}

// RawResult is a provider response before canonicalization. TextOnly marks
// providers that never return timing data; only those get synthesized timings.
type RawResult struct {
	Text     string
	Words    []speech.Word
	Segments []speech.Segment
	TextOnly bool
}

// Provider submits audio to one backend.
type Provider interface {
	Kind() ProviderKind
	Submit(ctx context.Context, audio Audio, opts Options) (*RawResult, error)
}

// SelectProvider picks the provider for cfg: an explicit override wins, then a
// configured Google key, then OpenAI.
func SelectProvider(cfg config.STTConfig) ProviderKind {
	switch ProviderKind(strings.ToLower(cfg.Provider)) {
	case ProviderOpenAI:
		return ProviderOpenAI
	case ProviderGoogle:
		return ProviderGoogle
	case ProviderWhisper:
		return ProviderWhisper
	}
	if cfg.GoogleAPIKey != "" {
		return ProviderGoogle
	}
	return ProviderOpenAI
}

// NewProvider builds the provider of the given kind. The whisper provider
// needs the path of an already resolved model file.
func NewProvider(kind ProviderKind, cfg config.STTConfig, whisperModel string) (Provider, error) {
	switch kind {
	case ProviderOpenAI:
		return NewOpenAIProvider(cfg), nil
	case ProviderGoogle:
		return NewGoogleProvider(cfg), nil
	case ProviderWhisper:
		provider, err := NewWhisperProvider(whisperModel)
		if err != nil {
			return nil, err
		}
		return provider, nil
	default:
		return nil, fmt.Errorf("unknown transcription provider: %s", kind)
	}
}

func mimeTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".webm":
		return "audio/webm"
	case ".wav":
		return "audio/wav"
	default:
		return "audio/m4a"
	}
}
