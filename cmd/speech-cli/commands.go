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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/loqalabs/loqa-speech/internal/analysis"
	"github.com/loqalabs/loqa-speech/internal/config"
	"github.com/loqalabs/loqa-speech/internal/llm"
	"github.com/loqalabs/loqa-speech/internal/models"
	"github.com/loqalabs/loqa-speech/internal/pipeline"
	"github.com/loqalabs/loqa-speech/internal/speech"
	"github.com/loqalabs/loqa-speech/internal/stt"
)

// App holds the components commands share. They are built on first use so
// that model commands never need transcription credentials.
type App struct {
	ctx      context.Context
	cfg      *config.Config
	out      io.Writer
	resolver *models.Resolver

	adapter *stt.Adapter
	engine  *llm.Engine
}

func newApp(ctx context.Context, cfg *config.Config, out io.Writer) *App {
	return &App{
		ctx:      ctx,
		cfg:      cfg,
		out:      out,
		resolver: models.NewResolver(cfg.Models.Dir, cfg.Models.BundleDir, cfg.Models.Platform),
	}
}

func (a *App) transcriber() (*stt.Adapter, error) {
	if a.adapter == nil {
		adapter, err := stt.NewAdapter(a.ctx, a.cfg.STT, a.resolver)
		if err != nil {
			return nil, err
		}
		a.adapter = adapter
	}
	return a.adapter, nil
}

func (a *App) analyzer(transcriber pipeline.Transcriber) *pipeline.Analyzer {
	if a.engine == nil {
		a.engine = llm.NewEngine(llm.NewLocalBackend(), a.resolver, a.cfg.Models.Platform,
			llm.TaskConfigs(a.cfg.Keyword, a.cfg.Summary))
	}
	opts := pipeline.Options{Local: a.engine}
	if a.cfg.Remote.Enabled() {
		opts.Remote = llm.NewRemoteCompleter(a.cfg.Remote)
	}
	return pipeline.NewAnalyzer(transcriber, opts)
}

// Close releases loaded models and the transcription provider
func (a *App) Close() {
	if a.engine != nil {
		_ = a.engine.Close()
	}
	if a.adapter != nil {
		_ = a.adapter.Close()
	}
}

func (a *App) print(v any) error {
	encoder := json.NewEncoder(a.out)
	encoder.SetIndent("", "  ")
	encoder.SetEscapeHTML(false)
	return encoder.Encode(v)
}

// TranscribeCmd prints the transcript of a recording
type TranscribeCmd struct {
	Audio    string `arg:"" type:"existingfile" help:"Recording to transcribe"`
	Language string `short:"l" help:"Language hint"`
	Detailed bool   `short:"d" help:"Print word and segment timings"`
}

func (c *TranscribeCmd) Run(app *App) error {
	adapter, err := app.transcriber()
	if err != nil {
		return err
	}

	opts := stt.Options{Language: c.Language, Detailed: c.Detailed}
	if !c.Detailed {
		text, err := adapter.TranscribeText(app.ctx, c.Audio, opts)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(app.out, text)
		return err
	}

	transcript, err := adapter.Transcribe(app.ctx, c.Audio, opts)
	if err != nil {
		return err
	}
	return app.print(transcript)
}

// MetricsCmd prints speech metrics for a recording or a saved transcript
type MetricsCmd struct {
	Audio      string `arg:"" optional:"" type:"existingfile" help:"Recording to transcribe"`
	Transcript string `short:"t" type:"existingfile" help:"Detailed transcript JSON to use instead of a recording"`
	Language   string `short:"l" help:"Language hint"`
}

func (c *MetricsCmd) Run(app *App) error {
	var transcript *speech.DetailedTranscript
	switch {
	case c.Transcript != "":
		data, err := os.ReadFile(c.Transcript)
		if err != nil {
			return err
		}
		transcript = &speech.DetailedTranscript{}
		if err := json.Unmarshal(data, transcript); err != nil {
			return fmt.Errorf("invalid transcript %s: %w", c.Transcript, err)
		}
	case c.Audio != "":
		adapter, err := app.transcriber()
		if err != nil {
			return err
		}
		transcript, err = adapter.Transcribe(app.ctx, c.Audio, stt.Options{Language: c.Language, Detailed: true})
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("a recording or --transcript is required")
	}

	return app.print(analysis.CalculateSpeechMetrics(transcript))
}

// ConversationFlags selects the conversation keywords and summaries are
// extracted from
type ConversationFlags struct {
	Text     []string `arg:"" optional:"" help:"User utterances, one per argument"`
	Messages string   `short:"m" type:"existingfile" help:"JSON file with an array of chat messages"`
}

func (f ConversationFlags) messages() ([]speech.ChatMessage, error) {
	if f.Messages != "" {
		data, err := os.ReadFile(f.Messages)
		if err != nil {
			return nil, err
		}
		var messages []speech.ChatMessage
		if err := json.Unmarshal(data, &messages); err != nil {
			return nil, fmt.Errorf("invalid messages file %s: %w", f.Messages, err)
		}
		return messages, nil
	}

	messages := make([]speech.ChatMessage, 0, len(f.Text))
	for _, text := range f.Text {
		if text = strings.TrimSpace(text); text != "" {
			messages = append(messages, speech.ChatMessage{Role: speech.RoleUser, Text: text})
		}
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("no conversation given")
	}
	return messages, nil
}

// KeywordsCmd prints keywords for a conversation
type KeywordsCmd struct {
	ConversationFlags `embed:""`
}

func (c *KeywordsCmd) Run(app *App) error {
	messages, err := c.messages()
	if err != nil {
		return err
	}
	keywords, source := app.analyzer(nil).Keywords(app.ctx, messages)
	return app.print(map[string]any{"keywords": keywords, "source": source})
}

// SummaryCmd prints a summary of a conversation
type SummaryCmd struct {
	ConversationFlags `embed:""`
	Keywords          []string `short:"k" help:"Keywords to mention in the summary"`
}

func (c *SummaryCmd) Run(app *App) error {
	messages, err := c.messages()
	if err != nil {
		return err
	}
	summary, source := app.analyzer(nil).Summary(app.ctx, messages, c.Keywords)
	return app.print(map[string]any{"summary": summary, "source": source})
}

// AnalyzeCmd runs transcription, metrics, keywords and summary for a recording
type AnalyzeCmd struct {
	Audio    string `arg:"" type:"existingfile" help:"Recording to analyze"`
	Language string `short:"l" help:"Language hint"`
	Messages string `short:"m" type:"existingfile" help:"JSON file with the surrounding chat messages"`
}

func (c *AnalyzeCmd) Run(app *App) error {
	adapter, err := app.transcriber()
	if err != nil {
		return err
	}

	req := pipeline.Request{AudioPath: c.Audio, Language: c.Language}
	if c.Messages != "" {
		if req.Messages, err = (ConversationFlags{Messages: c.Messages}).messages(); err != nil {
			return err
		}
	}

	report, err := app.analyzer(adapter).Analyze(app.ctx, req)
	if err != nil {
		return err
	}
	return app.print(report)
}

// ModelsCmd manages model files in the models directory
type ModelsCmd struct {
	Ensure  ModelsEnsureCmd  `cmd:"" help:"Place a model in the models directory"`
	Remove  ModelsRemoveCmd  `cmd:"" help:"Delete a model from the models directory"`
	Path    ModelsPathCmd    `cmd:"" help:"Print where a model is stored"`
	Inspect ModelsInspectCmd `cmd:"" help:"Print GGUF metadata of a model file"`
}

// ModelFlags name a model file in the models directory
type ModelFlags struct {
	ID       string `arg:"" help:"Model identifier"`
	Filename string `short:"f" help:"File name inside the models directory (default <id>.gguf)"`
}

// ModelsEnsureCmd resolves a model from the bundle or a URL
type ModelsEnsureCmd struct {
	ModelFlags `embed:""`
	Bundle     string `short:"b" xor:"source" help:"Path relative to the bundle directory"`
	URL        string `short:"u" xor:"source" help:"URL to download the model from"`
	SHA256     string `name:"sha256" help:"Expected SHA-256 of the download"`
	Force      bool   `help:"Copy again even when the model is present"`
}

func (c *ModelsEnsureCmd) Run(app *App) error {
	cfg := models.ModelAssetConfig{ID: c.ID, Filename: c.Filename, BundleRelativePath: c.Bundle}
	if c.URL != "" {
		cfg.Asset = &models.RemoteAsset{
			URL:      c.URL,
			SHA256:   c.SHA256,
			CacheDir: filepath.Join(app.resolver.ModelsDir(), ".cache"),
		}
	}

	path, err := app.resolver.EnsureModelAsset(app.ctx, cfg, models.EnsureOptions{ForceRefresh: c.Force})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(app.out, path)
	return err
}

// ModelsRemoveCmd deletes a model file
type ModelsRemoveCmd struct {
	ModelFlags `embed:""`
}

func (c *ModelsRemoveCmd) Run(app *App) error {
	return app.resolver.RemoveModelAsset(c.ID, c.Filename)
}

// ModelsPathCmd prints the destination of a model
type ModelsPathCmd struct {
	ModelFlags `embed:""`
}

func (c *ModelsPathCmd) Run(app *App) error {
	_, err := fmt.Fprintln(app.out, app.resolver.GetModelPath(c.ID, c.Filename))
	return err
}

// ModelsInspectCmd prints GGUF metadata
type ModelsInspectCmd struct {
	Path string `arg:"" type:"existingfile" help:"GGUF model file"`
}

func (c *ModelsInspectCmd) Run(app *App) error {
	info, err := models.Inspect(c.Path)
	if err != nil {
		return err
	}
	return app.print(info)
}
