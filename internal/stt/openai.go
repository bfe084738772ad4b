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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/loqalabs/loqa-speech/internal/config"
	"github.com/loqalabs/loqa-speech/internal/logging"
	"github.com/loqalabs/loqa-speech/internal/speech"
)

const quotaMarker = "insufficient_quota"

// OpenAIProvider calls the OpenAI audio transcription endpoint.
type OpenAIProvider struct {
	endpoint   string
	model      string
	apiKey     string
	language   string
	httpClient *http.Client
}

// verboseResponse is the verbose_json payload. Words may be top level or
// nested in segments depending on the requested granularities.
type verboseResponse struct {
	Text     string           `json:"text"`
	Words    []verboseWord    `json:"words"`
	Segments []verboseSegment `json:"segments"`
}

type verboseWord struct {
	Word  string     `json:"word"`
	Start flexNumber `json:"start"`
	End   flexNumber `json:"end"`
}

type verboseSegment struct {
	Text  string        `json:"text"`
	Start flexNumber    `json:"start"`
	End   flexNumber    `json:"end"`
	Words []verboseWord `json:"words"`
}

type apiErrorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// flexNumber accepts a JSON number or a numeric string.
type flexNumber struct {
	Value float64
	Valid bool
}

func (n *flexNumber) UnmarshalJSON(data []byte) error {
	n.Valid = false
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		n.Value, n.Valid = f, isFinite(f)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			n.Value, n.Valid = f, isFinite(f)
		}
	}
	// Anything else leaves the number invalid rather than failing the payload
	return nil
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// NewOpenAIProvider creates an OpenAI transcription provider
func NewOpenAIProvider(cfg config.STTConfig) *OpenAIProvider {
	return &OpenAIProvider{
		endpoint: cfg.OpenAIEndpoint,
		model:    cfg.OpenAIModel,
		apiKey:   cfg.OpenAIAPIKey,
		language: cfg.Language,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

func (p *OpenAIProvider) Kind() ProviderKind {
	return ProviderOpenAI
}

// Submit uploads the recording as multipart form data.
func (p *OpenAIProvider) Submit(ctx context.Context, audio Audio, opts Options) (*RawResult, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("%w: OPENAI_API_KEY is not set", ErrMissingCredentials)
	}

	body, contentType, err := p.buildForm(audio, opts)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcription HTTP request failed: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logging.Sugar.Warnw("Failed to close response body", "error", err)
		}
	}()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read transcription response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		message := upstreamMessage(payload)
		return nil, &TranscriptionRequestError{
			Provider:      ProviderOpenAI,
			StatusCode:    resp.StatusCode,
			Message:       message,
			QuotaExceeded: strings.Contains(message, quotaMarker),
		}
	}

	var parsed verboseResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse transcription response: %w", err)
	}

	text := strings.TrimSpace(parsed.Text)
	if text == "" {
		return nil, &TranscriptionRequestError{Provider: ProviderOpenAI, Message: "empty transcription result"}
	}

	if !opts.Detailed {
		return &RawResult{Text: text}, nil
	}

	words := normalizeWords(parsed)
	return &RawResult{
		Text:     text,
		Words:    words,
		Segments: normalizeSegments(parsed.Segments),
	}, nil
}

func (p *OpenAIProvider) buildForm(audio Audio, opts Options) (*bytes.Buffer, string, error) {
	file, err := os.Open(audio.Path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open recording: %w", err)
	}
	defer file.Close()

	language := opts.Language
	if language == "" {
		language = p.language
	}
	if language == "" {
		language = "ko"
	}

	var requestBody bytes.Buffer
	writer := multipart.NewWriter(&requestBody)

	_ = writer.WriteField("model", p.model)
	_ = writer.WriteField("language", language)
	_ = writer.WriteField("temperature", "0")
	if opts.Detailed {
		_ = writer.WriteField("response_format", "verbose_json")
		_ = writer.WriteField("timestamp_granularities[]", "word")
	} else {
		_ = writer.WriteField("response_format", "json")
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, audio.Name))
	header.Set("Content-Type", audio.MimeType)
	audioWriter, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(audioWriter, file); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}
	return &requestBody, writer.FormDataContentType(), nil
}

// upstreamMessage extracts error.message from a provider error body, falling
// back to the raw body text.
func upstreamMessage(payload []byte) string {
	var body apiErrorBody
	if err := json.Unmarshal(payload, &body); err == nil && body.Error.Message != "" {
		return body.Error.Message
	}
	if text := strings.TrimSpace(string(payload)); text != "" {
		return text
	}
	return "unknown error"
}

func convertWords(raw []verboseWord) []speech.Word {
	words := make([]speech.Word, 0, len(raw))
	for _, w := range raw {
		if w.Word == "" || !w.Start.Valid || !w.End.Valid {
			continue
		}
		words = append(words, speech.Word{Text: w.Word, StartSec: w.Start.Value, EndSec: w.End.Value})
	}
	return words
}

func normalizeWords(parsed verboseResponse) []speech.Word {
	words := convertWords(parsed.Words)
	if len(words) == 0 {
		for _, segment := range parsed.Segments {
			words = append(words, convertWords(segment.Words)...)
		}
	}
	sort.SliceStable(words, func(i, j int) bool {
		return words[i].StartSec < words[j].StartSec
	})
	return words
}

func normalizeSegments(raw []verboseSegment) []speech.Segment {
	segments := make([]speech.Segment, 0, len(raw))
	for _, s := range raw {
		if s.Text == "" {
			continue
		}
		segment := speech.Segment{
			Text:  s.Text,
			Words: convertWords(s.Words),
		}
		if len(segment.Words) == 0 {
			segment.Words = nil
		}
		if s.Start.Valid {
			segment.StartSec = s.Start.Value
		} else if len(segment.Words) > 0 {
			segment.StartSec = segment.Words[0].StartSec
		}
		if s.End.Valid {
			segment.EndSec = s.End.Value
		} else if len(segment.Words) > 0 {
			segment.EndSec = segment.Words[len(segment.Words)-1].EndSec
		}
		segments = append(segments, segment)
	}
	return segments
}
