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

package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/loqalabs/loqa-speech/internal/analysis"
	"github.com/loqalabs/loqa-speech/internal/speech"
	"github.com/loqalabs/loqa-speech/internal/stt"
)

// Transcriber is the part of stt.Adapter the speech endpoints use
type Transcriber interface {
	Provider() stt.ProviderKind
	Transcribe(ctx context.Context, path string, opts stt.Options) (*speech.DetailedTranscript, error)
	TranscribeText(ctx context.Context, path string, opts stt.Options) (string, error)
}

// Extractor answers keyword and summary requests and reports which source
// produced the answer
type Extractor interface {
	Keywords(ctx context.Context, messages []speech.ChatMessage) ([]string, string)
	Summary(ctx context.Context, messages []speech.ChatMessage, keywords []string) (string, string)
}

// SpeechHandler serves transcription, metrics, keyword and summary requests
type SpeechHandler struct {
	transcriber Transcriber
	extractor   Extractor
}

// NewSpeechHandler creates a new speech handler
func NewSpeechHandler(transcriber Transcriber, extractor Extractor) *SpeechHandler {
	return &SpeechHandler{transcriber: transcriber, extractor: extractor}
}

// TranscriptionRequest asks for a transcript of a recording on local disk
type TranscriptionRequest struct {
	AudioPath string `json:"audio_path"`
	Language  string `json:"language,omitempty"`
	Detailed  bool   `json:"detailed,omitempty"`
}

// TranscriptionResponse is returned for non-detailed transcription requests
type TranscriptionResponse struct {
	Provider stt.ProviderKind `json:"provider"`
	Text     string           `json:"text"`
}

// MetricsRequest carries either a transcript or a recording to transcribe
type MetricsRequest struct {
	Transcript *speech.DetailedTranscript `json:"transcript,omitempty"`
	AudioPath  string                     `json:"audio_path,omitempty"`
	Language   string                     `json:"language,omitempty"`
}

// KeywordsRequest is the body of POST /api/keywords
type KeywordsRequest struct {
	Messages []speech.ChatMessage `json:"messages"`
}

// KeywordsResponse reports keywords and which source produced them
type KeywordsResponse struct {
	Keywords []string `json:"keywords"`
	Source   string   `json:"source"`
}

// SummaryRequest is the body of POST /api/summary
type SummaryRequest struct {
	Messages []speech.ChatMessage `json:"messages"`
	Keywords []string             `json:"keywords,omitempty"`
}

// SummaryResponse reports the summary and which source produced it
type SummaryResponse struct {
	Summary string `json:"summary"`
	Source  string `json:"source"`
}

// HandleTranscriptions handles POST /api/transcriptions
func (h *SpeechHandler) HandleTranscriptions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMessage(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req TranscriptionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.AudioPath) == "" {
		writeMessage(w, http.StatusBadRequest, "audio_path is required")
		return
	}

	opts := stt.Options{Language: req.Language, Detailed: req.Detailed}
	if req.Detailed {
		transcript, err := h.transcriber.Transcribe(r.Context(), req.AudioPath, opts)
		if err != nil {
			writeError(w, err, "Transcription failed")
			return
		}
		writeJSON(w, http.StatusOK, transcript)
		return
	}

	text, err := h.transcriber.TranscribeText(r.Context(), req.AudioPath, opts)
	if err != nil {
		writeError(w, err, "Transcription failed")
		return
	}
	writeJSON(w, http.StatusOK, TranscriptionResponse{Provider: h.transcriber.Provider(), Text: text})
}

// HandleMetrics handles POST /api/metrics
func (h *SpeechHandler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMessage(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req MetricsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	transcript := req.Transcript
	if transcript == nil {
		if strings.TrimSpace(req.AudioPath) == "" {
			writeMessage(w, http.StatusBadRequest, "transcript or audio_path is required")
			return
		}
		var err error
		transcript, err = h.transcriber.Transcribe(r.Context(), req.AudioPath, stt.Options{Language: req.Language, Detailed: true})
		if err != nil {
			writeError(w, err, "Transcription failed")
			return
		}
	}

	writeJSON(w, http.StatusOK, analysis.CalculateSpeechMetrics(transcript))
}

// HandleKeywords handles POST /api/keywords
func (h *SpeechHandler) HandleKeywords(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMessage(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req KeywordsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Messages) == 0 {
		writeMessage(w, http.StatusBadRequest, "messages are required")
		return
	}

	keywords, source := h.extractor.Keywords(r.Context(), req.Messages)
	writeJSON(w, http.StatusOK, KeywordsResponse{Keywords: keywords, Source: source})
}

// HandleSummary handles POST /api/summary
func (h *SpeechHandler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMessage(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req SummaryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Messages) == 0 {
		writeMessage(w, http.StatusBadRequest, "messages are required")
		return
	}

	summary, source := h.extractor.Summary(r.Context(), req.Messages, req.Keywords)
	writeJSON(w, http.StatusOK, SummaryResponse{Summary: summary, Source: source})
}
