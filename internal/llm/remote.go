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
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/loqalabs/loqa-speech/internal/config"
	"github.com/loqalabs/loqa-speech/internal/logging"
	"github.com/loqalabs/loqa-speech/internal/speech"
)

// RemoteCompleter answers keyword and summary prompts through the OpenAI chat
// completions API. It is the fallback when the Engine is unavailable.
type RemoteCompleter struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
}

// NewRemoteCompleter creates a completer from cfg. An empty BaseURL keeps the
// SDK default endpoint.
func NewRemoteCompleter(cfg config.RemoteConfig) *RemoteCompleter {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return &RemoteCompleter{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}
}

func (r *RemoteCompleter) complete(ctx context.Context, messages []PromptMessage) (string, error) {
	chat := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		chat = append(chat, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       r.model,
		Messages:    chat,
		Temperature: r.temperature,
		MaxTokens:   r.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", errors.New("chat completion returned no content")
	}
	return resp.Choices[0].Message.Content, nil
}

// GenerateKeywords extracts keywords with the remote model.
func (r *RemoteCompleter) GenerateKeywords(ctx context.Context, messages []speech.ChatMessage) ([]string, error) {
	if len(messages) == 0 {
		return nil, errors.New("no messages")
	}
	output, err := r.complete(ctx, KeywordPrompt(messages))
	if err != nil {
		logging.LogCompletion(string(TaskKeywords), "remote_failed", zap.Error(err))
		return nil, err
	}
	keywords := ParseKeywords(output)
	if len(keywords) == 0 {
		return nil, errors.New("no keywords in remote output")
	}
	return keywords, nil
}

// GenerateSummary summarizes the conversation with the remote model.
func (r *RemoteCompleter) GenerateSummary(ctx context.Context, messages []speech.ChatMessage, keywords []string) (string, error) {
	if len(messages) == 0 {
		return "", errors.New("no messages")
	}
	output, err := r.complete(ctx, SummaryPrompt(messages, keywords))
	if err != nil {
		logging.LogCompletion(string(TaskSummary), "remote_failed", zap.Error(err))
		return "", err
	}
	summary := ParseSummary(output)
	if summary == "" {
		return "", errors.New("empty remote summary")
	}
	return summary, nil
}
