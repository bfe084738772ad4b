package speech

import (
	"math"
	"strings"
	"testing"
)

func TestSynthesizeWords(t *testing.T) {
	words := SynthesizeWords("  hello   a\nconversationalist ")
	if len(words) != 3 {
		t.Fatalf("len(words) = %d, want 3", len(words))
	}

	// "hello": 5*0.06 = 0.3 -> floored to 0.42
	if words[0].StartSec != 0 || math.Abs(words[0].EndSec-0.42) > 1e-9 {
		t.Errorf("words[0] = %+v, want start 0 end 0.42", words[0])
	}
	if math.Abs(words[1].StartSec-0.50) > 1e-9 {
		t.Errorf("words[1].StartSec = %f, want 0.50", words[1].StartSec)
	}
	// "conversationalist": 17*0.06 = 1.02
	if got := words[2].EndSec - words[2].StartSec; math.Abs(got-1.02) > 1e-9 {
		t.Errorf("words[2] duration = %f, want 1.02", got)
	}

	for i := 1; i < len(words); i++ {
		if words[i].StartSec < words[i-1].StartSec {
			t.Errorf("start times not monotonic at %d: %f < %f", i, words[i].StartSec, words[i-1].StartSec)
		}
		if words[i].StartSec <= words[i-1].EndSec {
			t.Errorf("word %d overlaps previous word", i)
		}
	}
}

func TestSynthesizeWords_Empty(t *testing.T) {
	if words := SynthesizeWords("   "); len(words) != 0 {
		t.Errorf("expected no words, got %d", len(words))
	}
}

func TestGroupSegments(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		wantTexts []string
	}{
		{
			name:      "Terminal punctuation closes segment",
			text:      "I went out. Then it rained! Did you see?",
			wantTexts: []string{"I went out.", "Then it rained!", "Did you see?"},
		},
		{
			name:      "Trailing words form a final segment",
			text:      "first one. and the rest",
			wantTexts: []string{"first one.", "and the rest"},
		},
		{
			name:      "Punctuation on the opening word does not close",
			text:      "Hi. there friend.",
			wantTexts: []string{"Hi. there friend."},
		},
		{
			name:      "Empty",
			text:      "",
			wantTexts: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			segments := GroupSegments(SynthesizeWords(tt.text))
			if len(segments) != len(tt.wantTexts) {
				t.Fatalf("len(segments) = %d, want %d (%+v)", len(segments), len(tt.wantTexts), segments)
			}
			for i, seg := range segments {
				if seg.Text != tt.wantTexts[i] {
					t.Errorf("segments[%d].Text = %q, want %q", i, seg.Text, tt.wantTexts[i])
				}
				if seg.StartSec != seg.Words[0].StartSec || seg.EndSec != seg.Words[len(seg.Words)-1].EndSec {
					t.Errorf("segments[%d] bounds do not match its words", i)
				}
			}
		})
	}
}

func TestGroupSegments_MaxWords(t *testing.T) {
	text := strings.TrimSpace(strings.Repeat("word ", 40))
	segments := GroupSegments(SynthesizeWords(text))
	if len(segments) != 3 {
		t.Fatalf("len(segments) = %d, want 3", len(segments))
	}
	if len(segments[0].Words) != 18 || len(segments[1].Words) != 18 || len(segments[2].Words) != 4 {
		t.Errorf("segment sizes = %d/%d/%d, want 18/18/4",
			len(segments[0].Words), len(segments[1].Words), len(segments[2].Words))
	}
}

func TestFromText_RoundTripsText(t *testing.T) {
	text := "오늘은 날씨가 좋네요.  산책을   다녀왔어요! 점심은 뭐 먹었어요?"
	transcript := FromText(text)

	if !transcript.SyntheticTiming {
		t.Error("SyntheticTiming should be set")
	}

	var parts []string
	for _, seg := range transcript.Segments {
		parts = append(parts, seg.Text)
	}
	got := strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
	want := strings.Join(strings.Fields(text), " ")
	if got != want {
		t.Errorf("segments concatenate to %q, want %q", got, want)
	}
}
