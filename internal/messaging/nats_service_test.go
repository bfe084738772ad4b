package messaging

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/nats-io/nats.go"

	"github.com/loqalabs/loqa-speech/internal/config"
	"github.com/loqalabs/loqa-speech/internal/events"
)

func TestNewNATSService_Defaults(t *testing.T) {
	ns := NewNATSService(config.NATSConfig{})
	if ns.cfg.URL != nats.DefaultURL {
		t.Errorf("URL = %s", ns.cfg.URL)
	}
	if ns.Subject() != "loqa.speech.analyses" {
		t.Errorf("Subject = %s", ns.Subject())
	}
	if ns.IsConnected() {
		t.Error("new service should not be connected")
	}
}

func TestNATSService_RequiresConnection(t *testing.T) {
	ns := NewNATSService(config.NATSConfig{Subject: "test.analyses"})

	if err := ns.PublishAnalysis(events.NewAnalysisEvent("")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("PublishAnalysis err = %v", err)
	}
	if _, err := ns.SubscribeToAnalyses(func(*events.AnalysisEvent) {}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SubscribeToAnalyses err = %v", err)
	}
	if stats := ns.GetStats(); stats.OutMsgs != 0 {
		t.Errorf("stats = %+v", stats)
	}
	ns.Close()
}

func TestDecodeAnalysis(t *testing.T) {
	event := events.NewAnalysisEvent("req-7")
	event.SetKeywords([]string{"병원"}, events.SourceRemote)
	data, err := json.Marshal(event)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		data    []byte
		wantErr bool
	}{
		{"valid", data, false},
		{"garbage", []byte("{"), true},
		{"missing uuid", []byte(`{"request_id":"x"}`), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeAnalysis(&nats.Msg{Subject: "s", Data: tt.data})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %t", err, tt.wantErr)
			}
			if !tt.wantErr && (got.RequestID != "req-7" || got.Keywords[0] != "병원") {
				t.Errorf("decoded = %+v", got)
			}
		})
	}
}
