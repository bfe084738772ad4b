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

// Package analysis derives speech and language indicators from timed
// transcripts.
package analysis

import (
	"math"
	"sort"
	"strings"

	"github.com/loqalabs/loqa-speech/internal/speech"
)

const (
	// PauseThreshold is the minimum inter-word gap counted as a pause.
	PauseThreshold = 0.5
	// LongPauseThreshold is the minimum gap that starts a new utterance.
	LongPauseThreshold = 1.0

	minSpeakingDurationSec = 1e-6
)

var tokenPunctuation = strings.NewReplacer(
	".", "", ",", "", "!", "", "?", "", `"`, "", "'", "",
	"(", "", ")", "", "[", "", "]", "", "{", "", "}", "", ":", "", ";", "",
)

// CalculateSpeechMetrics computes speech rate, pause structure, utterance
// length and lexical diversity for a transcript. It is pure: the input is
// not modified and identical input yields identical output. A transcript
// without usable words yields the zero record.
func CalculateSpeechMetrics(transcript *speech.DetailedTranscript) speech.SpeechMetrics {
	if transcript == nil || len(transcript.Words) == 0 {
		return speech.SpeechMetrics{}
	}

	words := make([]speech.Word, 0, len(transcript.Words))
	for _, word := range transcript.Words {
		if isFinite(word.StartSec) && isFinite(word.EndSec) {
			words = append(words, word)
		}
	}
	if len(words) == 0 {
		return speech.SpeechMetrics{}
	}
	sort.SliceStable(words, func(i, j int) bool {
		return words[i].StartSec < words[j].StartSec
	})

	tokens := make([]string, 0, len(words))
	for _, word := range words {
		if token := sanitizeToken(word.Text); token != "" {
			tokens = append(tokens, token)
		}
	}
	if len(tokens) == 0 {
		return speech.SpeechMetrics{}
	}

	speakingDurationSec := math.Max(words[len(words)-1].EndSec-words[0].StartSec, minSpeakingDurationSec)
	speakingDurationMin := speakingDurationSec / 60

	var pauses []float64
	utteranceCount := 1
	for i := 1; i < len(words); i++ {
		gap := words[i].StartSec - words[i-1].EndSec
		if gap >= PauseThreshold {
			pauses = append(pauses, gap)
		}
		if gap >= LongPauseThreshold {
			utteranceCount++
		}
	}

	totalWords := len(tokens)
	return speech.SpeechMetrics{
		SpeechRateWpm:        round(float64(totalWords)/speakingDurationMin, 2),
		MeanPauseDurationSec: round(mean(pauses), 2),
		PausesPerMinute:      round(float64(len(pauses))/speakingDurationMin, 2),
		MLU:                  round(float64(totalWords)/float64(utteranceCount), 2),
		TTR:                  round(float64(uniqueCount(tokens))/float64(totalWords), 3),
		TotalWords:           totalWords,
		SpeakingDurationSec:  round(speakingDurationSec, 2),
		UtteranceCount:       utteranceCount,
		PauseCount:           len(pauses),
		SyntheticTiming:      transcript.SyntheticTiming,
	}
}

func sanitizeToken(input string) string {
	return tokenPunctuation.Replace(strings.ToLower(strings.TrimSpace(input)))
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func uniqueCount(items []string) int {
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		seen[item] = struct{}{}
	}
	return len(seen)
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total / float64(len(values))
}

// round rounds half away from zero; inputs here are never negative.
func round(value float64, digits int) float64 {
	factor := math.Pow(10, float64(digits))
	return math.Round(value*factor) / factor
}
