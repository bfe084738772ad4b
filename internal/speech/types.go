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

package speech

import "time"

// Word is a single recognised token with its timing in seconds.
type Word struct {
	Text     string  `json:"word"`
	StartSec float64 `json:"start"`
	EndSec   float64 `json:"end"`
}

// Segment is an ordered run of consecutive words.
type Segment struct {
	Text     string  `json:"text"`
	StartSec float64 `json:"start"`
	EndSec   float64 `json:"end"`
	Words    []Word  `json:"words,omitempty"`
}

// DetailedTranscript is a transcription enriched with per-word and
// per-segment timing. Words are sorted by StartSec and may be empty when the
// provider returned no timing data.
type DetailedTranscript struct {
	Text     string    `json:"text"`
	Words    []Word    `json:"words"`
	Segments []Segment `json:"segments"`

	// SyntheticTiming is set when word timings were approximated from text
	// rather than measured by the provider.
	SyntheticTiming bool `json:"synthetic_timing,omitempty"`
}

// SpeechMetrics holds the quantitative speech and language indicators derived
// from a transcript.
type SpeechMetrics struct {
	SpeechRateWpm        float64 `json:"speech_rate_wpm"`
	MeanPauseDurationSec float64 `json:"mean_pause_duration_sec"`
	PausesPerMinute      float64 `json:"pauses_per_minute"`
	MLU                  float64 `json:"mlu"`
	TTR                  float64 `json:"ttr"`
	TotalWords           int     `json:"total_words"`
	SpeakingDurationSec  float64 `json:"speaking_duration_sec"`
	UtteranceCount       int     `json:"utterance_count"`
	PauseCount           int     `json:"pause_count"`

	// SyntheticTiming marks metrics computed from approximated timings.
	// Rate and pause figures are then not measured speech timing.
	SyntheticTiming bool `json:"synthetic_timing,omitempty"`
}

// Role identifies the speaker of a chat message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is one turn of the conversation a summary or keyword list is
// extracted from.
type ChatMessage struct {
	ID        string    `json:"id,omitempty"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"ts,omitempty"`
}
