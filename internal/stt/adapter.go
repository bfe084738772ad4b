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

package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/loqalabs/loqa-speech/internal/config"
	"github.com/loqalabs/loqa-speech/internal/logging"
	"github.com/loqalabs/loqa-speech/internal/models"
	"github.com/loqalabs/loqa-speech/internal/monitoring"
	"github.com/loqalabs/loqa-speech/internal/security"
	"github.com/loqalabs/loqa-speech/internal/speech"
)

// Adapter turns recordings into canonical transcripts using exactly one
// provider. There is no fallback between providers.
type Adapter struct {
	provider Provider
}

// NewAdapter selects and builds the provider for cfg. The whisper model is
// resolved through resolver when the local provider is selected.
func NewAdapter(ctx context.Context, cfg config.STTConfig, resolver *models.Resolver) (*Adapter, error) {
	kind := SelectProvider(cfg)

	var whisperModel string
	if kind == ProviderWhisper {
		path, err := resolver.EnsureModelAsset(ctx, WhisperModelAsset(cfg), models.EnsureOptions{})
		if err != nil {
			return nil, fmt.Errorf("failed to resolve whisper model: %w", err)
		}
		whisperModel = path
	}

	provider, err := NewProvider(kind, cfg, whisperModel)
	if err != nil {
		return nil, err
	}

	logging.Sugar.Infow("Transcription provider selected", "provider", kind)
	return &Adapter{provider: provider}, nil
}

// WhisperModelAsset describes where the local whisper model comes from.
func WhisperModelAsset(cfg config.STTConfig) models.ModelAssetConfig {
	return models.ModelAssetConfig{
		ID:                 cfg.WhisperModelID,
		BundleRelativePath: cfg.WhisperModelPath,
		Filename:           filepath.Base(cfg.WhisperModelPath),
	}
}

// NewAdapterWithProvider wraps an already built provider.
func NewAdapterWithProvider(provider Provider) *Adapter {
	return &Adapter{provider: provider}
}

// Provider returns the kind of the selected provider.
func (a *Adapter) Provider() ProviderKind {
	return a.provider.Kind()
}

// Transcribe returns a word-timestamped transcript of the recording at path.
// Results from text-only providers get synthesized timings with
// SyntheticTiming set; timed providers keep whatever timings they returned,
// which may be none.
func (a *Adapter) Transcribe(ctx context.Context, path string, opts Options) (*speech.DetailedTranscript, error) {
	opts.Detailed = true
	raw, err := a.submit(ctx, path, opts)
	if err != nil {
		return nil, err
	}

	if raw.TextOnly {
		return speech.FromText(raw.Text), nil
	}

	words := raw.Words
	if words == nil {
		words = []speech.Word{}
	}
	segments := raw.Segments
	if segments == nil {
		segments = []speech.Segment{}
	}
	return &speech.DetailedTranscript{
		Text:     raw.Text,
		Words:    words,
		Segments: segments,
	}, nil
}

// TranscribeText returns only the recognised text.
func (a *Adapter) TranscribeText(ctx context.Context, path string, opts Options) (string, error) {
	opts.Detailed = false
	raw, err := a.submit(ctx, path, opts)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(raw.Text), nil
}

func (a *Adapter) submit(ctx context.Context, path string, opts Options) (*RawResult, error) {
	kind := a.provider.Kind()
	safePath := security.SanitizeLogInput(path)

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.LogTranscription(string(kind), "missing_recording", zap.String("path", safePath))
			monitoring.ObserveTranscription(string(kind), "not_found", 0)
			return nil, &RecordingNotFoundError{Path: path}
		}
		return nil, fmt.Errorf("failed to stat recording: %w", err)
	}

	audio := Audio{
		Path:     path,
		Name:     filepath.Base(path),
		MimeType: mimeTypeFor(path),
	}

	start := time.Now()
	logging.LogTranscription(string(kind), "submit",
		zap.String("path", safePath),
		zap.String("mime_type", audio.MimeType),
		zap.Bool("detailed", opts.Detailed),
	)

	raw, err := a.provider.Submit(ctx, audio, opts)
	elapsed := time.Since(start)
	if err != nil {
		monitoring.ObserveTranscription(string(kind), "error", elapsed)
		logging.LogError(err, "Transcription failed",
			zap.String("provider", string(kind)),
			zap.Int64("processing_time_ms", elapsed.Milliseconds()),
		)
		return nil, err
	}

	monitoring.ObserveTranscription(string(kind), "success", elapsed)
	logging.LogTranscription(string(kind), "completed",
		zap.Int64("processing_time_ms", elapsed.Milliseconds()),
		zap.Int("text_length", len(raw.Text)),
		zap.Int("words", len(raw.Words)),
		zap.Bool("text_only", raw.TextOnly),
	)
	return raw, nil
}

// Close releases provider resources such as a loaded whisper model.
func (a *Adapter) Close() error {
	if closer, ok := a.provider.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
