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
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/loqalabs/loqa-speech/internal/config"
	"github.com/loqalabs/loqa-speech/internal/logging"
)

// GoogleProvider calls the Google Cloud Speech recognize endpoint. It
// returns text only.
type GoogleProvider struct {
	endpoint   string
	apiKey     string
	language   string
	sampleRate int
	model      string
	httpClient *http.Client
}

type googleRequest struct {
	Config googleConfig `json:"config"`
	Audio  googleAudio  `json:"audio"`
}

type googleConfig struct {
	Encoding                   string `json:"encoding"`
	SampleRateHertz            int    `json:"sampleRateHertz"`
	LanguageCode               string `json:"languageCode"`
	EnableAutomaticPunctuation bool   `json:"enableAutomaticPunctuation"`
	Model                      string `json:"model,omitempty"`
}

type googleAudio struct {
	Content string `json:"content"`
}

type googleResponse struct {
	Results []struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"results"`
}

// NewGoogleProvider creates a Google Cloud Speech provider
func NewGoogleProvider(cfg config.STTConfig) *GoogleProvider {
	return &GoogleProvider{
		endpoint:   cfg.GoogleEndpoint,
		apiKey:     cfg.GoogleAPIKey,
		language:   cfg.GoogleLanguage,
		sampleRate: cfg.GoogleSampleRate,
		model:      cfg.GoogleModel,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

func (p *GoogleProvider) Kind() ProviderKind {
	return ProviderGoogle
}

// Submit posts the base64 encoded recording with a JSON recognition config.
func (p *GoogleProvider) Submit(ctx context.Context, audio Audio, opts Options) (*RawResult, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("%w: GOOGLE_SPEECH_API_KEY is not set", ErrMissingCredentials)
	}

	data, err := os.ReadFile(audio.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read recording: %w", err)
	}

	language := opts.Language
	if language == "" {
		language = p.language
	}
	if language == "" {
		language = "ko-KR"
	}

	body, err := json.Marshal(googleRequest{
		Config: googleConfig{
			Encoding:                   "ENCODING_UNSPECIFIED",
			SampleRateHertz:            p.sampleRate,
			LanguageCode:               language,
			EnableAutomaticPunctuation: true,
			Model:                      p.model,
		},
		Audio: googleAudio{Content: base64.StdEncoding.EncodeToString(data)},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode recognition request: %w", err)
	}

	endpoint := p.endpoint + "?key=" + url.QueryEscape(p.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("recognition HTTP request failed: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logging.Sugar.Warnw("Failed to close response body", "error", err)
		}
	}()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read recognition response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TranscriptionRequestError{
			Provider:   ProviderGoogle,
			StatusCode: resp.StatusCode,
			Message:    upstreamMessage(payload),
		}
	}

	var parsed googleResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse recognition response: %w", err)
	}

	text := joinAlternatives(parsed)
	if text == "" {
		return nil, &TranscriptionRequestError{Provider: ProviderGoogle, Message: "empty recognition result"}
	}
	return &RawResult{Text: text, TextOnly: true}, nil
}

// joinAlternatives concatenates the first alternative of every result.
func joinAlternatives(resp googleResponse) string {
	phrases := make([]string, 0, len(resp.Results))
	for _, result := range resp.Results {
		if len(result.Alternatives) == 0 || result.Alternatives[0].Transcript == "" {
			continue
		}
		phrases = append(phrases, result.Alternatives[0].Transcript)
	}
	return strings.TrimSpace(strings.Join(phrases, " "))
}
