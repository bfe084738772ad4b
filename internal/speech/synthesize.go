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

import (
	"math"
	"strings"
)

const (
	// approxCharDuration is the per-character speaking time used when a
	// provider returns text without timings.
	approxCharDuration = 0.06
	// approxWordDuration is the minimum duration of a synthesized word.
	approxWordDuration = 0.42
	// approxWordGap separates synthesized words.
	approxWordGap = 0.08

	// maxSegmentWords closes a synthesized segment.
	maxSegmentWords = 18
)

// SynthesizeWords approximates word timings for text that came back without
// them. Durations are a fixed function of token length; they are not
// measured and must not be presented as such.
func SynthesizeWords(text string) []Word {
	tokens := strings.Fields(text)
	words := make([]Word, 0, len(tokens))

	cursor := 0.0
	for _, token := range tokens {
		start := cursor
		end := start + math.Max(float64(len([]rune(token)))*approxCharDuration, approxWordDuration)
		words = append(words, Word{Text: token, StartSec: start, EndSec: end})
		cursor = end + approxWordGap
	}
	return words
}

// GroupSegments groups consecutive words into segments, closing a segment
// after maxSegmentWords words or on a word ending in terminal punctuation.
func GroupSegments(words []Word) []Segment {
	if len(words) == 0 {
		return []Segment{}
	}

	var segments []Segment
	var current *Segment
	for _, word := range words {
		if current == nil {
			current = &Segment{
				Text:     word.Text,
				StartSec: word.StartSec,
				EndSec:   word.EndSec,
				Words:    []Word{word},
			}
			continue
		}

		current.Text = strings.TrimSpace(current.Text + " " + word.Text)
		current.EndSec = word.EndSec
		current.Words = append(current.Words, word)

		if len(current.Words) >= maxSegmentWords || endsSentence(word.Text) {
			segments = append(segments, *current)
			current = nil
		}
	}

	if current != nil {
		segments = append(segments, *current)
	}
	return segments
}

func endsSentence(token string) bool {
	return strings.HasSuffix(token, ".") || strings.HasSuffix(token, "!") || strings.HasSuffix(token, "?")
}

// FromText builds a transcript with synthesized timings.
func FromText(text string) *DetailedTranscript {
	text = strings.TrimSpace(text)
	words := SynthesizeWords(text)
	return &DetailedTranscript{
		Text:            text,
		Words:           words,
		Segments:        GroupSegments(words),
		SyntheticTiming: true,
	}
}
