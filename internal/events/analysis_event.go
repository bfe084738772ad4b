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

package events

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/loqalabs/loqa-speech/internal/speech"
)

// Answer sources for keywords and summaries
const (
	SourceLocal  = "local"
	SourceRemote = "remote"
	SourceNone   = "none"
)

// AnalysisEvent records one speech analysis, successful or not
type AnalysisEvent struct {
	// Core identification
	UUID      string    `json:"uuid" db:"uuid"`
	RequestID string    `json:"request_id" db:"request_id"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`

	// Audio metadata
	AudioPath        string  `json:"audio_path" db:"audio_path"`
	AudioHash        string  `json:"audio_hash" db:"audio_hash"`
	AudioSizeBytes   int64   `json:"audio_size_bytes" db:"audio_size_bytes"`
	AudioDurationSec float64 `json:"audio_duration_sec" db:"audio_duration_sec"`

	// Processing results
	Provider      string               `json:"provider" db:"provider"`
	Language      string               `json:"language,omitempty" db:"language"`
	Transcription string               `json:"transcription" db:"transcription"`
	Metrics       speech.SpeechMetrics `json:"metrics" db:"metrics"`
	Keywords      []string             `json:"keywords" db:"keywords"`
	KeywordSource string               `json:"keyword_source" db:"keyword_source"`
	Summary       string               `json:"summary" db:"summary"`
	SummarySource string               `json:"summary_source" db:"summary_source"`

	// Outcome
	ProcessingTime int64  `json:"processing_time_ms" db:"processing_time_ms"`
	Success        bool   `json:"success" db:"success"`
	ErrorMessage   string `json:"error_message,omitempty" db:"error_message"`
}

// NewAnalysisEvent creates a new AnalysisEvent with generated UUID and current timestamp
func NewAnalysisEvent(requestID string) *AnalysisEvent {
	if requestID == "" {
		requestID = uuid.NewString()
	}
	return &AnalysisEvent{
		UUID:          uuid.NewString(),
		RequestID:     requestID,
		Timestamp:     time.Now(),
		Keywords:      []string{},
		KeywordSource: SourceNone,
		SummarySource: SourceNone,
		Success:       true,
	}
}

// SetAudioMetadata records where the recording is and what it contains
func (ae *AnalysisEvent) SetAudioMetadata(path string, sizeBytes int64, durationSec float64) {
	ae.AudioPath = path
	ae.AudioSizeBytes = sizeBytes
	ae.AudioDurationSec = durationSec
	if hash, err := HashFile(path); err == nil {
		ae.AudioHash = hash
	}
}

// SetTranscription sets the transcription result and metrics
func (ae *AnalysisEvent) SetTranscription(provider, text string, metrics speech.SpeechMetrics) {
	ae.Provider = provider
	ae.Transcription = text
	ae.Metrics = metrics
}

// SetKeywords sets the extracted keywords and which path produced them
func (ae *AnalysisEvent) SetKeywords(keywords []string, source string) {
	if keywords == nil {
		keywords = []string{}
	}
	ae.Keywords = keywords
	ae.KeywordSource = source
}

// SetSummary sets the summary and which path produced it
func (ae *AnalysisEvent) SetSummary(summary, source string) {
	ae.Summary = summary
	ae.SummarySource = source
}

// Complete marks processing as finished
func (ae *AnalysisEvent) Complete() {
	ae.ProcessingTime = time.Since(ae.Timestamp).Milliseconds()
}

// SetError marks the event as failed with an error message
func (ae *AnalysisEvent) SetError(err error) {
	ae.Success = false
	ae.ErrorMessage = err.Error()
	ae.ProcessingTime = time.Since(ae.Timestamp).Milliseconds()
}

// HashFile returns the SHA-256 of a file for duplicate detection
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// KeywordsJSON returns keywords as JSON string for database storage
func (ae *AnalysisEvent) KeywordsJSON() (string, error) {
	if ae.Keywords == nil {
		return "[]", nil
	}
	data, err := json.Marshal(ae.Keywords)
	if err != nil {
		return "", fmt.Errorf("failed to marshal keywords: %w", err)
	}
	return string(data), nil
}

// SetKeywordsFromJSON parses JSON string and sets keywords
func (ae *AnalysisEvent) SetKeywordsFromJSON(jsonStr string) error {
	if jsonStr == "" || jsonStr == "[]" {
		ae.Keywords = []string{}
		return nil
	}
	var keywords []string
	if err := json.Unmarshal([]byte(jsonStr), &keywords); err != nil {
		return fmt.Errorf("failed to unmarshal keywords JSON: %w", err)
	}
	ae.Keywords = keywords
	return nil
}

// MetricsJSON returns metrics as JSON string for database storage
func (ae *AnalysisEvent) MetricsJSON() (string, error) {
	data, err := json.Marshal(ae.Metrics)
	if err != nil {
		return "", fmt.Errorf("failed to marshal metrics: %w", err)
	}
	return string(data), nil
}

// SetMetricsFromJSON parses JSON string and sets metrics
func (ae *AnalysisEvent) SetMetricsFromJSON(jsonStr string) error {
	ae.Metrics = speech.SpeechMetrics{}
	if jsonStr == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(jsonStr), &ae.Metrics); err != nil {
		return fmt.Errorf("failed to unmarshal metrics JSON: %w", err)
	}
	return nil
}

// IsValid performs basic validation on the analysis event
func (ae *AnalysisEvent) IsValid() error {
	if ae.UUID == "" {
		return fmt.Errorf("UUID is required")
	}
	if ae.RequestID == "" {
		return fmt.Errorf("requestID is required")
	}
	if ae.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	if !ae.Success && ae.ErrorMessage == "" {
		return fmt.Errorf("failed events need an error message")
	}
	return nil
}

// String returns a human-readable representation of the analysis event
func (ae *AnalysisEvent) String() string {
	return fmt.Sprintf("AnalysisEvent{UUID: %s, Provider: %s, Words: %d, Keywords: %d (%s), Summary: %s, Success: %t}",
		ae.UUID, ae.Provider, ae.Metrics.TotalWords, len(ae.Keywords), ae.KeywordSource, ae.SummarySource, ae.Success)
}
