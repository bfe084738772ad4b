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
	"fmt"
	"strings"

	"github.com/loqalabs/loqa-speech/internal/speech"
)

const (
	// MaxWindowMessages bounds the conversation fed into a prompt.
	MaxWindowMessages = 24

	userSpeaker      = "사용자"
	assistantSpeaker = "해마"

	keywordSystemPrompt = "당신은 치매 초기 또는 경도 인지장애 어르신을 지원하는 기록 보조 도우미입니다. " +
		"대화에서 핵심 키워드를 간결하게 추출하세요."

	summarySystemPrompt = "당신은 치매 초기 또는 경도 인지장애를 가진 어르신의 보호 기록 작성 보조 도우미입니다. " +
		"친절하고 따뜻한 톤으로, 구체적인 행동 안내와 위험 신호를 놓치지 않고 정리합니다."
)

// PromptMessage is one role-tagged message of a chat prompt.
type PromptMessage struct {
	Role    string
	Content string
}

// Prompt roles
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// Window returns the most recent MaxWindowMessages messages.
func Window(messages []speech.ChatMessage) []speech.ChatMessage {
	if len(messages) <= MaxWindowMessages {
		return messages
	}
	return messages[len(messages)-MaxWindowMessages:]
}

// Transcript renders messages as speaker-labelled lines.
func Transcript(messages []speech.ChatMessage) string {
	lines := make([]string, 0, len(messages))
	for _, message := range messages {
		speaker := assistantSpeaker
		if message.Role == speech.RoleUser {
			speaker = userSpeaker
		}
		lines = append(lines, fmt.Sprintf("%s: %s", speaker, message.Text))
	}
	return strings.Join(lines, "\n")
}

// KeywordPrompt builds the keyword extraction prompt over the message window.
func KeywordPrompt(messages []speech.ChatMessage) []PromptMessage {
	var b strings.Builder
	b.WriteString("다음은 치매 돌봄 도우미 해마와 사용자 간의 대화 기록입니다.\n")
	b.WriteString("핵심 키워드를 3~5개 도출해주세요.\n")
	b.WriteString("- 키워드는 한글 위주로 1~3단어 사이로 작성합니다.\n")
	b.WriteString("- 번호, 기호, 따옴표 없이 쉼표 기준의 나열로 출력합니다.\n")
	b.WriteString("- 요약 문장을 만들지 말고 키워드만 출력합니다.\n\n")
	b.WriteString("대화 기록:\n")
	b.WriteString(Transcript(Window(messages)))
	b.WriteString("\n\n키워드:")

	return []PromptMessage{
		{Role: RoleSystem, Content: keywordSystemPrompt},
		{Role: RoleUser, Content: b.String()},
	}
}

// SummaryPrompt builds the summary prompt, mentioning up to five keywords.
func SummaryPrompt(messages []speech.ChatMessage, keywords []string) []PromptMessage {
	keywordLine := "핵심 키워드 없음"
	if len(keywords) > 0 {
		if len(keywords) > MaxKeywords {
			keywords = keywords[:MaxKeywords]
		}
		keywordLine = "핵심 키워드: " + strings.Join(keywords, ", ")
	}

	var b strings.Builder
	b.WriteString("다음은 돌봄 도우미 해마와 사용자 간의 대화 기록입니다.\n")
	b.WriteString("대화를 간결하고 따뜻한 톤으로 2~3문장 안에서 요약하세요.\n")
	b.WriteString("- 위험 신호나 후속 행동이 있다면 꼭 포함합니다.\n")
	b.WriteString("- 메타 정보나 번호 매기기는 사용하지 않습니다.\n\n")
	b.WriteString(keywordLine)
	b.WriteString("\n\n대화 기록:\n")
	b.WriteString(Transcript(Window(messages)))
	b.WriteString("\n\n요약:")

	return []PromptMessage{
		{Role: RoleSystem, Content: summarySystemPrompt},
		{Role: RoleUser, Content: b.String()},
	}
}

// RenderGemmaPrompt flattens role-tagged messages into the Gemma turn format
// used by raw-prompt backends. Gemma has no system role, so system text is
// folded into the first user turn.
func RenderGemmaPrompt(messages []PromptMessage) string {
	var system []string
	var b strings.Builder
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		role := "user"
		if m.Role != RoleUser {
			role = "model"
		}
		content := m.Content
		if role == "user" && len(system) > 0 {
			content = strings.Join(system, "\n") + "\n\n" + content
			system = nil
		}
		fmt.Fprintf(&b, "<start_of_turn>%s\n%s<end_of_turn>\n", role, content)
	}
	b.WriteString("<start_of_turn>model\n")
	return b.String()
}
