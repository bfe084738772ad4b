//go:build whisper

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
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/loqalabs/loqa-speech/internal/logging"
	"github.com/loqalabs/loqa-speech/internal/speech"
)

// WhisperProvider transcribes 16 kHz WAV recordings locally with whisper.cpp
type WhisperProvider struct {
	mu        sync.Mutex
	model     whisper.Model
	modelPath string
}

// NewWhisperProvider loads the whisper model at modelPath
func NewWhisperProvider(modelPath string) (*WhisperProvider, error) {
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("whisper model not found at %s", modelPath)
	}

	model, err := whisper.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load whisper model: %w", err)
	}

	logging.Sugar.Infow("Whisper model loaded", "model_path", modelPath)
	return &WhisperProvider{
		model:     model,
		modelPath: modelPath,
	}, nil
}

func (p *WhisperProvider) Kind() ProviderKind {
	return ProviderWhisper
}

// Submit runs the model on the recording. Token timestamps are merged into
// words at leading-space boundaries.
func (p *WhisperProvider) Submit(ctx context.Context, audio Audio, opts Options) (*RawResult, error) {
	samples, sampleRate, err := readMonoPCM(audio.Path)
	if err != nil {
		return nil, err
	}
	if sampleRate != whisper.SampleRate {
		return nil, fmt.Errorf("whisper requires %d Hz audio, got %d Hz", whisper.SampleRate, sampleRate)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.model == nil {
		return nil, fmt.Errorf("whisper model not initialized")
	}

	wctx, err := p.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("failed to create whisper context: %w", err)
	}
	if opts.Language != "" {
		if err := wctx.SetLanguage(strings.SplitN(opts.Language, "-", 2)[0]); err != nil {
			return nil, fmt.Errorf("unsupported whisper language %q: %w", opts.Language, err)
		}
	}
	wctx.SetTokenTimestamps(opts.Detailed)

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("failed to process audio: %w", err)
	}

	var (
		transcript strings.Builder
		words      []speech.Word
		segments   []speech.Segment
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		segment, err := wctx.NextSegment()
		if err != nil {
			break
		}
		transcript.WriteString(segment.Text)

		segWords := tokensToWords(segment.Tokens)
		words = append(words, segWords...)
		if text := strings.TrimSpace(segment.Text); text != "" {
			segments = append(segments, speech.Segment{
				Text:     text,
				StartSec: segment.Start.Seconds(),
				EndSec:   segment.End.Seconds(),
				Words:    segWords,
			})
		}
	}

	text := strings.TrimSpace(transcript.String())
	if text == "" {
		return nil, &TranscriptionRequestError{Provider: ProviderWhisper, Message: "empty transcription result"}
	}
	if !opts.Detailed {
		return &RawResult{Text: text}, nil
	}
	return &RawResult{Text: text, Words: words, Segments: segments}, nil
}

func tokensToWords(tokens []whisper.Token) []speech.Word {
	var words []speech.Word
	for _, token := range tokens {
		// Control tokens such as [_BEG_] carry no text
		if strings.HasPrefix(token.Text, "[_") || strings.HasPrefix(token.Text, "<|") {
			continue
		}
		if strings.HasPrefix(token.Text, " ") || len(words) == 0 {
			text := strings.TrimSpace(token.Text)
			if text == "" {
				continue
			}
			words = append(words, speech.Word{
				Text:     text,
				StartSec: token.Start.Seconds(),
				EndSec:   token.End.Seconds(),
			})
			continue
		}
		last := &words[len(words)-1]
		last.Text += token.Text
		last.EndSec = token.End.Seconds()
	}
	return words
}

// Close releases the whisper model
func (p *WhisperProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.model != nil {
		err := p.model.Close()
		p.model = nil
		logging.Sugar.Infow("Whisper model closed", "model_path", p.modelPath)
		return err
	}
	return nil
}
