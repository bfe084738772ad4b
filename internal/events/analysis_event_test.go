package events

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/loqalabs/loqa-speech/internal/speech"
)

func TestNewAnalysisEvent(t *testing.T) {
	event := NewAnalysisEvent("")

	if _, err := uuid.Parse(event.UUID); err != nil {
		t.Errorf("UUID %q is not a UUID: %v", event.UUID, err)
	}
	if event.RequestID == "" {
		t.Error("RequestID not generated")
	}
	if event.KeywordSource != SourceNone || event.SummarySource != SourceNone {
		t.Errorf("sources = %s/%s, want none", event.KeywordSource, event.SummarySource)
	}
	if err := event.IsValid(); err != nil {
		t.Errorf("IsValid() = %v", err)
	}

	other := NewAnalysisEvent("req-1")
	if other.RequestID != "req-1" || other.UUID == event.UUID {
		t.Errorf("event = %+v", other)
	}
}

func TestAnalysisEvent_JSONColumns(t *testing.T) {
	event := NewAnalysisEvent("req")
	event.SetKeywords([]string{"산책", "약"}, SourceLocal)
	event.SetTranscription("openai", "산책 갔어요", speech.SpeechMetrics{TotalWords: 2, TTR: 1})

	keywords, err := event.KeywordsJSON()
	if err != nil {
		t.Fatalf("KeywordsJSON: %v", err)
	}
	metrics, err := event.MetricsJSON()
	if err != nil {
		t.Fatalf("MetricsJSON: %v", err)
	}

	restored := &AnalysisEvent{}
	if err := restored.SetKeywordsFromJSON(keywords); err != nil {
		t.Fatalf("SetKeywordsFromJSON: %v", err)
	}
	if err := restored.SetMetricsFromJSON(metrics); err != nil {
		t.Fatalf("SetMetricsFromJSON: %v", err)
	}
	if strings.Join(restored.Keywords, ",") != "산책,약" || restored.Metrics.TotalWords != 2 {
		t.Errorf("restored = %+v", restored)
	}

	if err := restored.SetKeywordsFromJSON("not json"); err == nil {
		t.Error("expected error for invalid keywords JSON")
	}
}

func TestAnalysisEvent_SetError(t *testing.T) {
	event := NewAnalysisEvent("req")
	event.SetError(errors.New("recording not found"))

	if event.Success || event.ErrorMessage != "recording not found" {
		t.Errorf("event = %+v", event)
	}
	if err := event.IsValid(); err != nil {
		t.Errorf("IsValid() = %v", err)
	}

	event.ErrorMessage = ""
	if err := event.IsValid(); err == nil {
		t.Error("failed event without message should be invalid")
	}
}

func TestAnalysisEvent_AudioMetadata(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memo.m4a")
	if err := os.WriteFile(path, []byte("abc"), 0600); err != nil {
		t.Fatal(err)
	}

	event := NewAnalysisEvent("req")
	event.SetAudioMetadata(path, 3, 1.5)

	// sha256("abc")
	if event.AudioHash != "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad" {
		t.Errorf("AudioHash = %s", event.AudioHash)
	}
	if event.AudioSizeBytes != 3 || event.AudioDurationSec != 1.5 {
		t.Errorf("event = %+v", event)
	}
}
