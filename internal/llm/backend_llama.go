//go:build llama

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

package llm

import (
	"context"
	"fmt"
	"sync"

	llama "github.com/go-skynet/go-llama.cpp"

	"github.com/loqalabs/loqa-speech/internal/logging"
	"github.com/loqalabs/loqa-speech/internal/models"
)

// LlamaBackend loads GGUF models with llama.cpp
type LlamaBackend struct{}

// NewLocalBackend returns the llama.cpp backend
func NewLocalBackend() Backend {
	return &LlamaBackend{}
}

func (b *LlamaBackend) Load(ctx context.Context, modelPath string, params ContextParams) (CompletionContext, error) {
	// Reject files that are not GGUF before handing them to llama.cpp
	info, err := models.Inspect(modelPath)
	if err != nil {
		return nil, err
	}
	logging.Sugar.Infow("Loading language model",
		"model_path", modelPath,
		"architecture", info.Architecture,
		"parameters", info.Parameters,
	)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	model, err := llama.New(modelPath,
		llama.SetContext(params.ContextSize),
		llama.SetNBatch(512),
		llama.SetMMap(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load llama model: %w", err)
	}

	return &llamaContext{model: model, threads: params.Threads}, nil
}

// llamaContext serializes predictions; a llama.cpp context is not reentrant.
type llamaContext struct {
	mu      sync.Mutex
	model   *llama.LLama
	threads int
}

func (c *llamaContext) Complete(ctx context.Context, req CompletionRequest) (*Stream, error) {
	if c.model == nil {
		return nil, fmt.Errorf("llama context released")
	}
	prompt := RenderGemmaPrompt(req.Messages)
	stop := append([]string{"<end_of_turn>"}, req.Sampling.Stop...)

	return NewStream(ctx, func(ctx context.Context, emit func(string) bool) (CompletionResult, error) {
		c.mu.Lock()
		defer c.mu.Unlock()

		text, err := c.model.Predict(prompt,
			llama.SetTemperature(req.Sampling.Temperature),
			llama.SetTokens(req.Sampling.MaxTokens),
			llama.SetThreads(c.threads),
			llama.SetStopWords(stop...),
			llama.SetTokenCallback(func(token string) bool {
				return emit(token)
			}),
		)
		if err != nil {
			return CompletionResult{}, err
		}
		return CompletionResult{Text: text}, nil
	}), nil
}

func (c *llamaContext) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.model != nil {
		c.model.Free()
		c.model = nil
	}
	return nil
}
