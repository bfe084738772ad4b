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

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/loqalabs/loqa-speech/internal/analysis"
	"github.com/loqalabs/loqa-speech/internal/events"
	"github.com/loqalabs/loqa-speech/internal/llm"
	"github.com/loqalabs/loqa-speech/internal/logging"
	"github.com/loqalabs/loqa-speech/internal/monitoring"
	"github.com/loqalabs/loqa-speech/internal/speech"
	"github.com/loqalabs/loqa-speech/internal/stt"
)

// Transcriber turns a recording into a timed transcript
type Transcriber interface {
	Provider() stt.ProviderKind
	Transcribe(ctx context.Context, path string, opts stt.Options) (*speech.DetailedTranscript, error)
}

// Completer extracts keywords and summaries from a conversation. Both the
// on-device engine and the remote chat completer satisfy it.
type Completer interface {
	GenerateKeywords(ctx context.Context, messages []speech.ChatMessage) ([]string, error)
	GenerateSummary(ctx context.Context, messages []speech.ChatMessage, keywords []string) (string, error)
}

// Recorder persists finished analyses
type Recorder interface {
	Insert(event *events.AnalysisEvent) error
}

// Publisher announces finished analyses
type Publisher interface {
	PublishAnalysis(event *events.AnalysisEvent) error
}

// Options wires the optional collaborators of an Analyzer. Nil fields are
// skipped.
type Options struct {
	Local     Completer
	Remote    Completer
	Recorder  Recorder
	Publisher Publisher
}

// Request is one recording to analyze
type Request struct {
	RequestID string               `json:"request_id,omitempty"`
	AudioPath string               `json:"audio_path"`
	Language  string               `json:"language,omitempty"`
	Messages  []speech.ChatMessage `json:"messages,omitempty"`
}

// Report is the outcome of a successful analysis
type Report struct {
	ID            string                     `json:"id"`
	Audio         stt.AudioInfo              `json:"audio"`
	Provider      stt.ProviderKind           `json:"provider"`
	Transcript    *speech.DetailedTranscript `json:"transcript"`
	Metrics       speech.SpeechMetrics       `json:"metrics"`
	Keywords      []string                   `json:"keywords"`
	KeywordSource string                     `json:"keyword_source"`
	Summary       string                     `json:"summary"`
	SummarySource string                     `json:"summary_source"`
}

// Analyzer runs transcription, metrics, keywords and summary for a recording
type Analyzer struct {
	transcriber Transcriber
	opts        Options
}

// NewAnalyzer creates an analyzer around transcriber
func NewAnalyzer(transcriber Transcriber, opts Options) *Analyzer {
	return &Analyzer{transcriber: transcriber, opts: opts}
}

// Analyze transcribes req.AudioPath and derives metrics, keywords and a
// summary. Transcription errors are returned; keyword and summary failures
// only downgrade the report's sources to none.
func (a *Analyzer) Analyze(ctx context.Context, req Request) (*Report, error) {
	event := events.NewAnalysisEvent(req.RequestID)
	event.Language = req.Language
	event.Provider = string(a.transcriber.Provider())

	report, err := a.analyze(ctx, req, event)
	if err != nil {
		event.SetError(err)
	} else {
		event.Complete()
	}
	a.record(event)
	return report, err
}

func (a *Analyzer) analyze(ctx context.Context, req Request, event *events.AnalysisEvent) (*Report, error) {
	audio, err := stt.InspectAudio(req.AudioPath)
	if err != nil {
		var notFound *stt.RecordingNotFoundError
		if errors.As(err, &notFound) {
			return nil, err
		}
		logging.LogWarn("Audio inspection incomplete", zap.Error(err))
	}
	event.SetAudioMetadata(req.AudioPath, audio.SizeBytes, audio.DurationSec)

	transcript, err := a.transcriber.Transcribe(ctx, req.AudioPath, stt.Options{Language: req.Language, Detailed: true})
	if err != nil {
		return nil, fmt.Errorf("transcription failed: %w", err)
	}

	metrics := analysis.CalculateSpeechMetrics(transcript)
	event.SetTranscription(string(a.transcriber.Provider()), transcript.Text, metrics)

	messages := req.Messages
	if len(messages) == 0 && strings.TrimSpace(transcript.Text) != "" {
		messages = []speech.ChatMessage{{Role: speech.RoleUser, Text: transcript.Text}}
	}

	keywords, keywordSource := a.Keywords(ctx, messages)
	event.SetKeywords(keywords, keywordSource)
	summary, summarySource := a.Summary(ctx, messages, keywords)
	event.SetSummary(summary, summarySource)

	return &Report{
		ID:            event.UUID,
		Audio:         audio,
		Provider:      a.transcriber.Provider(),
		Transcript:    transcript,
		Metrics:       metrics,
		Keywords:      event.Keywords,
		KeywordSource: keywordSource,
		Summary:       summary,
		SummarySource: summarySource,
	}, nil
}

// Keywords asks the local engine first, then the remote completer. The
// returned source is events.SourceNone when neither answered.
func (a *Analyzer) Keywords(ctx context.Context, messages []speech.ChatMessage) ([]string, string) {
	var keywords []string
	source := a.fallback(ctx, llm.TaskKeywords, func(c Completer) error {
		var err error
		keywords, err = c.GenerateKeywords(ctx, messages)
		return err
	})
	if keywords == nil || source == events.SourceNone {
		keywords = []string{}
	}
	return keywords, source
}

// Summary follows the same local then remote order as Keywords
func (a *Analyzer) Summary(ctx context.Context, messages []speech.ChatMessage, keywords []string) (string, string) {
	var summary string
	source := a.fallback(ctx, llm.TaskSummary, func(c Completer) error {
		var err error
		summary, err = c.GenerateSummary(ctx, messages, keywords)
		return err
	})
	if source == events.SourceNone {
		summary = ""
	}
	return summary, source
}

func (a *Analyzer) fallback(ctx context.Context, task llm.Task, run func(Completer) error) string {
	candidates := []struct {
		source    string
		completer Completer
	}{
		{events.SourceLocal, a.opts.Local},
		{events.SourceRemote, a.opts.Remote},
	}

	for _, candidate := range candidates {
		if candidate.completer == nil {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		err := run(candidate.completer)
		if err == nil {
			monitoring.CountCompletion(string(task), candidate.source)
			return candidate.source
		}
		logging.LogCompletion(string(task), "fallback",
			zap.String("source", candidate.source),
			zap.Error(err))
	}

	monitoring.CountCompletion(string(task), "unavailable")
	return events.SourceNone
}

func (a *Analyzer) record(event *events.AnalysisEvent) {
	if a.opts.Recorder != nil {
		if err := a.opts.Recorder.Insert(event); err != nil {
			logging.LogError(err, "Failed to record analysis", zap.String("uuid", event.UUID))
		}
	}
	if a.opts.Publisher != nil {
		if err := a.opts.Publisher.PublishAnalysis(event); err != nil {
			logging.LogWarn("Failed to publish analysis",
				zap.String("uuid", event.UUID),
				zap.Error(err))
		}
	}
}
