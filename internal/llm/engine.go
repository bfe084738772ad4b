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

// Package llm runs keyword extraction and summarization on an on-device
// language model, with an OpenAI chat fallback for when local inference is
// unavailable.
package llm

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/loqalabs/loqa-speech/internal/config"
	"github.com/loqalabs/loqa-speech/internal/logging"
	"github.com/loqalabs/loqa-speech/internal/models"
	"github.com/loqalabs/loqa-speech/internal/monitoring"
	"github.com/loqalabs/loqa-speech/internal/speech"
)

// Task selects the model and sampling settings of a completion.
type Task string

const (
	TaskKeywords Task = "keywords"
	TaskSummary  Task = "summary"
)

// PlatformWeb has no on-device runtime.
const PlatformWeb = "web"

// SummaryStopWords end a summary at any common end-of-turn marker.
var SummaryStopWords = []string{
	"</s>",
	"<|end|>",
	"<|eot_id|>",
	"<|end_of_text|>",
	"<|im_end|>",
	"<|EOT|>",
	"<|END_OF_TURN_TOKEN|>",
	"<|end_of_turn|>",
	"<|endoftext|>",
}

// ContextParams configure a loaded model context.
type ContextParams struct {
	ContextSize int
	Threads     int
}

// SamplingParams configure a single completion.
type SamplingParams struct {
	Temperature float32
	MaxTokens   int
	Stop        []string
}

// TaskConfig binds a task to its model and parameters.
type TaskConfig struct {
	Asset    models.ModelAssetConfig
	Context  ContextParams
	Sampling SamplingParams
}

// CompletionRequest is a role-tagged prompt plus sampling parameters.
type CompletionRequest struct {
	Messages []PromptMessage
	Sampling SamplingParams
}

// CompletionResult is the non-streamed outcome of a completion.
type CompletionResult struct {
	Content string
	Text    string
}

// Backend loads model files into completion contexts.
type Backend interface {
	Load(ctx context.Context, modelPath string, params ContextParams) (CompletionContext, error)
}

// CompletionContext is a loaded model. It is expensive to create and must be
// released exactly once.
type CompletionContext interface {
	Complete(ctx context.Context, req CompletionRequest) (*Stream, error)
	Release() error
}

// AssetResolver places a model file on disk and returns its path.
type AssetResolver interface {
	EnsureModelAsset(ctx context.Context, cfg models.ModelAssetConfig, opts models.EnsureOptions) (string, error)
}

// TaskConfigs builds the keyword and summary task settings from configuration.
func TaskConfigs(keyword, summary config.LocalModelConfig) map[Task]TaskConfig {
	build := func(c config.LocalModelConfig, stop []string) TaskConfig {
		return TaskConfig{
			Asset: models.ModelAssetConfig{
				ID:                 c.ModelID,
				BundleRelativePath: c.ModelPath,
				Filename:           c.Filename,
			},
			Context:  ContextParams{ContextSize: c.ContextSize, Threads: c.Threads},
			Sampling: SamplingParams{Temperature: c.Temperature, MaxTokens: c.MaxTokens, Stop: stop},
		}
	}
	return map[Task]TaskConfig{
		TaskKeywords: build(keyword, nil),
		TaskSummary:  build(summary, SummaryStopWords),
	}
}

// loadCall is a memoized, possibly in-flight, model load.
type loadCall struct {
	done   chan struct{}
	handle *handle
	err    error
}

// handle is a loaded context shared by all callers of one task. refs and
// retired are guarded by Engine.mu.
type handle struct {
	task    Task
	ctx     CompletionContext
	refs    int
	retired bool
}

// Engine memoizes one model context per task. Concurrent callers share a
// single in-flight load; a failed load is forgotten so a later call retries.
// Loads run under the engine's own context so one caller giving up does not
// fail the others; Close cancels it.
type Engine struct {
	backend  Backend
	resolver AssetResolver
	platform string
	tasks    map[Task]TaskConfig

	loadCtx     context.Context
	cancelLoads context.CancelFunc

	mu     sync.Mutex
	loads  map[Task]*loadCall
	closed bool
}

// NewEngine creates an engine. Nothing is loaded until the first completion.
func NewEngine(backend Backend, resolver AssetResolver, platform string, tasks map[Task]TaskConfig) *Engine {
	loadCtx, cancel := context.WithCancel(context.Background())
	return &Engine{
		backend:     backend,
		resolver:    resolver,
		platform:    platform,
		tasks:       tasks,
		loadCtx:     loadCtx,
		cancelLoads: cancel,
		loads:       make(map[Task]*loadCall),
	}
}

// Supported reports whether the platform can run on-device inference.
func (e *Engine) Supported() bool {
	return e.platform != PlatformWeb
}

// Loaded reports whether task has a ready context.
func (e *Engine) Loaded(task Task) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	call, ok := e.loads[task]
	if !ok {
		return false
	}
	select {
	case <-call.done:
		return call.err == nil
	default:
		return false
	}
}

// Preload loads the context of task without running a completion.
func (e *Engine) Preload(ctx context.Context, task Task) error {
	h, err := e.acquire(ctx, task)
	if err != nil {
		return err
	}
	e.release(h)
	return nil
}

func (e *Engine) acquire(ctx context.Context, task Task) (*handle, error) {
	cfg, ok := e.tasks[task]
	if !ok {
		return nil, unavailable(task, "task not configured", nil)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, unavailable(task, "engine closed", nil)
	}
	call, ok := e.loads[task]
	if !ok {
		call = &loadCall{done: make(chan struct{})}
		e.loads[task] = call
		go e.runLoad(task, cfg, call)
	}
	e.mu.Unlock()

	select {
	case <-call.done:
	case <-ctx.Done():
		return nil, unavailable(task, "waiting for model load", ctx.Err())
	}
	if call.err != nil {
		return nil, call.err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || call.handle.retired {
		return nil, unavailable(task, "engine closed", nil)
	}
	call.handle.refs++
	return call.handle, nil
}

// runLoad performs the shared load for call and publishes its outcome.
func (e *Engine) runLoad(task Task, cfg TaskConfig, call *loadCall) {
	completionCtx, err := e.load(e.loadCtx, task, cfg)

	e.mu.Lock()
	defer e.mu.Unlock()
	defer close(call.done)

	if err != nil {
		call.err = err
		if e.loads[task] == call {
			delete(e.loads, task)
		}
		return
	}
	if e.closed {
		call.err = unavailable(task, "engine closed", nil)
		go releaseContext(task, completionCtx)
		return
	}
	call.handle = &handle{task: task, ctx: completionCtx}
}

func (e *Engine) load(ctx context.Context, task Task, cfg TaskConfig) (CompletionContext, error) {
	start := time.Now()
	logging.LogCompletion(string(task), "load_started", zap.String("model_id", cfg.Asset.ID))

	modelPath, err := e.resolver.EnsureModelAsset(ctx, cfg.Asset, models.EnsureOptions{})
	if err != nil {
		monitoring.CountModelLoad(string(task), "error")
		return nil, unavailable(task, "model asset", err)
	}

	completionCtx, err := e.backend.Load(ctx, modelPath, cfg.Context)
	if err != nil {
		monitoring.CountModelLoad(string(task), "error")
		return nil, unavailable(task, "model load", err)
	}

	monitoring.CountModelLoad(string(task), "success")
	logging.LogCompletion(string(task), "load_completed",
		zap.String("model_path", modelPath),
		zap.Int64("load_time_ms", time.Since(start).Milliseconds()),
	)
	return completionCtx, nil
}

func (e *Engine) release(h *handle) {
	e.mu.Lock()
	h.refs--
	free := h.retired && h.refs == 0
	e.mu.Unlock()

	if free {
		releaseContext(h.task, h.ctx)
	}
}

func releaseContext(task Task, completionCtx CompletionContext) {
	if err := completionCtx.Release(); err != nil {
		logging.LogError(err, "Failed to release model context", zap.String("task", string(task)))
		return
	}
	logging.LogCompletion(string(task), "released")
}

// Close releases every loaded context. Contexts still in use are released
// when their last call returns. Later calls report unavailable.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.cancelLoads()

	var idle []*handle
	for task, call := range e.loads {
		select {
		case <-call.done:
		default:
			// The loader sees closed and releases its own context
			delete(e.loads, task)
			continue
		}
		if call.handle != nil {
			call.handle.retired = true
			if call.handle.refs == 0 {
				idle = append(idle, call.handle)
			}
		}
		delete(e.loads, task)
	}
	e.mu.Unlock()

	var errs []error
	for _, h := range idle {
		if err := h.ctx.Release(); err != nil {
			errs = append(errs, err)
			continue
		}
		logging.LogCompletion(string(h.task), "released")
	}
	return errors.Join(errs...)
}

// RunCompletion streams a completion for task and returns the accumulated
// text. The stream is stopped before the context reference is dropped on
// every path.
func (e *Engine) RunCompletion(ctx context.Context, task Task, messages []PromptMessage) (string, error) {
	h, err := e.acquire(ctx, task)
	if err != nil {
		return "", err
	}
	defer e.release(h)

	stream, err := h.ctx.Complete(ctx, CompletionRequest{
		Messages: messages,
		Sampling: e.tasks[task].Sampling,
	})
	if err != nil {
		return "", unavailable(task, "completion", err)
	}
	defer stream.Stop()

	var output strings.Builder
	tokens := stream.Tokens()
consume:
	for {
		select {
		case token, ok := <-tokens:
			if !ok {
				break consume
			}
			output.WriteString(token)
		case <-ctx.Done():
			stream.Stop()
			_, _ = stream.Wait()
			return "", unavailable(task, "completion cancelled", ctx.Err())
		}
	}

	result, err := stream.Wait()
	if err != nil {
		return "", unavailable(task, "completion", err)
	}

	text := output.String()
	if text == "" {
		text = result.Content
	}
	if text == "" {
		text = result.Text
	}
	return text, nil
}

// GenerateKeywords extracts up to five keywords from the conversation.
func (e *Engine) GenerateKeywords(ctx context.Context, messages []speech.ChatMessage) ([]string, error) {
	if err := e.precheck(TaskKeywords, messages); err != nil {
		return nil, err
	}

	output, err := e.RunCompletion(ctx, TaskKeywords, KeywordPrompt(messages))
	if err != nil {
		logging.LogCompletion(string(TaskKeywords), "unavailable", zap.Error(err))
		return nil, err
	}

	keywords := ParseKeywords(output)
	if len(keywords) == 0 {
		err := unavailable(TaskKeywords, "no keywords in model output", nil)
		logging.LogCompletion(string(TaskKeywords), "unavailable", zap.Error(err))
		return nil, err
	}

	logging.LogCompletion(string(TaskKeywords), "completed", zap.Strings("keywords", keywords))
	return keywords, nil
}

// GenerateSummary writes a short summary of the conversation, guided by the
// previously extracted keywords.
func (e *Engine) GenerateSummary(ctx context.Context, messages []speech.ChatMessage, keywords []string) (string, error) {
	if err := e.precheck(TaskSummary, messages); err != nil {
		return "", err
	}

	output, err := e.RunCompletion(ctx, TaskSummary, SummaryPrompt(messages, keywords))
	if err != nil {
		logging.LogCompletion(string(TaskSummary), "unavailable", zap.Error(err))
		return "", err
	}

	summary := ParseSummary(output)
	if summary == "" {
		err := unavailable(TaskSummary, "empty model output", nil)
		logging.LogCompletion(string(TaskSummary), "unavailable", zap.Error(err))
		return "", err
	}

	logging.LogCompletion(string(TaskSummary), "completed", zap.Int("summary_length", len(summary)))
	return summary, nil
}

func (e *Engine) precheck(task Task, messages []speech.ChatMessage) error {
	var err error
	switch {
	case !e.Supported():
		err = unavailable(task, "unsupported platform "+e.platform, nil)
	case len(messages) == 0:
		err = unavailable(task, "no messages", nil)
	}
	if err != nil {
		logging.LogCompletion(string(task), "unavailable", zap.Error(err))
	}
	return err
}
