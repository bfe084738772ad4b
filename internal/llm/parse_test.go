package llm

import (
	"reflect"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-speech/internal/speech"
)

func TestParseKeywords(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"comma list", "산책, 약 복용, 가족", []string{"산책", "약 복용", "가족"}},
		{"pipes and newlines", "a|b\nc", []string{"a", "b", "c"}},
		{"markup stripped", "**산책**, #약, \"가족\", 'b'", []string{"산책", "약", "가족", "b"}},
		{"dedupe keeps first order", "b, a, b, c, a", []string{"b", "a", "c"}},
		{"capped at five", "1,2,3,4,5,6,7", []string{"1", "2", "3", "4", "5"}},
		{"empty entries dropped", " , ,, | ", []string{}},
		{"truncated to twenty runes", strings.Repeat("가", 25), []string{strings.Repeat("가", 20)}},
		{"duplicates after truncation", strings.Repeat("x", 21) + "," + strings.Repeat("x", 22), []string{strings.Repeat("x", 20)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseKeywords(tt.raw)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseKeywords(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestParseSummary(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"  요약입니다.  ", "요약입니다."},
		{"\"요약입니다.\"", "요약입니다."},
		{"'요약'", "요약"},
		{"\"\"nested\"\"", "\"nested\""},
		{"  ", ""},
	}

	for _, tt := range tests {
		if got := ParseSummary(tt.raw); got != tt.want {
			t.Errorf("ParseSummary(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestWindowAndTranscript(t *testing.T) {
	messages := conversation(30)
	window := Window(messages)
	if len(window) != MaxWindowMessages || window[0].Text != "message 6" {
		t.Fatalf("Window = %d messages starting at %q", len(window), window[0].Text)
	}
	if got := Window(messages[:3]); len(got) != 3 {
		t.Errorf("short Window = %d", len(got))
	}

	transcript := Transcript([]speech.ChatMessage{
		{Role: speech.RoleUser, Text: "안녕"},
		{Role: speech.RoleAssistant, Text: "반가워요"},
	})
	if transcript != "사용자: 안녕\n해마: 반가워요" {
		t.Errorf("Transcript = %q", transcript)
	}
}

func TestSummaryPromptKeywordLine(t *testing.T) {
	with := SummaryPrompt(conversation(1), []string{"a", "b", "c", "d", "e", "f"})
	if !strings.Contains(with[1].Content, "핵심 키워드: a, b, c, d, e\n") {
		t.Errorf("keyword line missing or not capped:\n%s", with[1].Content)
	}
	without := SummaryPrompt(conversation(1), nil)
	if !strings.Contains(without[1].Content, "핵심 키워드 없음") {
		t.Errorf("empty keyword line missing:\n%s", without[1].Content)
	}
	if with[0].Role != RoleSystem || with[1].Role != RoleUser {
		t.Errorf("roles = %s, %s", with[0].Role, with[1].Role)
	}
}

func TestRenderGemmaPrompt(t *testing.T) {
	got := RenderGemmaPrompt([]PromptMessage{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "hello"},
	})
	want := "<start_of_turn>user\nsys\n\nhello<end_of_turn>\n<start_of_turn>model\n"
	if got != want {
		t.Errorf("RenderGemmaPrompt = %q, want %q", got, want)
	}
}
