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

import "strings"

const (
	// MaxKeywords caps the parsed keyword list.
	MaxKeywords = 5
	// MaxKeywordRunes truncates each keyword.
	MaxKeywordRunes = 20
)

var keywordMarkup = strings.NewReplacer("#", "", "*", "", `"`, "", "'", "")

// ParseKeywords splits model output on commas, pipes and newlines, strips
// markup, truncates each keyword and dedupes preserving first-seen order.
func ParseKeywords(raw string) []string {
	tokens := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == '|' || r == '\n'
	})

	seen := make(map[string]bool, len(tokens))
	keywords := make([]string, 0, MaxKeywords)
	for _, token := range tokens {
		keyword := strings.TrimSpace(keywordMarkup.Replace(token))
		if keyword == "" {
			continue
		}
		if runes := []rune(keyword); len(runes) > MaxKeywordRunes {
			keyword = string(runes[:MaxKeywordRunes])
		}
		if seen[keyword] {
			continue
		}
		seen[keyword] = true
		keywords = append(keywords, keyword)
		if len(keywords) == MaxKeywords {
			break
		}
	}
	return keywords
}

// ParseSummary trims the output and strips one leading and one trailing
// quote character.
func ParseSummary(raw string) string {
	summary := strings.TrimSpace(raw)
	if strings.HasPrefix(summary, `"`) || strings.HasPrefix(summary, "'") {
		summary = summary[1:]
	}
	if strings.HasSuffix(summary, `"`) || strings.HasSuffix(summary, "'") {
		summary = summary[:len(summary)-1]
	}
	return summary
}
