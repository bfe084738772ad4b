package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"github.com/loqalabs/loqa-speech/internal/api"
	"github.com/loqalabs/loqa-speech/internal/config"
	"github.com/loqalabs/loqa-speech/internal/events"
	"github.com/loqalabs/loqa-speech/internal/speech"
	"github.com/loqalabs/loqa-speech/internal/stt"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()

	local := func(id string) config.LocalModelConfig {
		return config.LocalModelConfig{
			ModelID:     id,
			ModelPath:   "models/" + id + ".gguf",
			Temperature: 0.2,
			MaxTokens:   64,
			ContextSize: 512,
			Threads:     1,
		}
	}

	return &config.Config{
		Server: config.ServerConfig{
			Host:         "127.0.0.1",
			Port:         0,
			GRPCPort:     0,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
			DBPath:       filepath.Join(root, "data", "speech.db"),
		},
		STT: config.STTConfig{
			GoogleAPIKey:     "test-key",
			GoogleEndpoint:   "http://127.0.0.1:1/speech:recognize",
			GoogleLanguage:   "ko-KR",
			GoogleSampleRate: 16000,
			WhisperModelID:   "ggml-base",
			WhisperModelPath: "models/ggml-base.bin",
		},
		Models: config.ModelsConfig{
			Dir:       filepath.Join(root, "models"),
			BundleDir: filepath.Join(root, "bundle"),
			Platform:  "linux",
		},
		Keyword: local("keywords-model"),
		Summary: local("summary-model"),
	}
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	s, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func TestNew_SelectsProviderFromConfig(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	assert.Equal(t, stt.ProviderGoogle, s.adapter.Provider())
	assert.Nil(t, s.nats, "NATS is disabled in the test config")
	assert.Equal(t, "127.0.0.1:0", s.server.Addr)
}

func TestNew_ContinuesWithoutNATS(t *testing.T) {
	cfg := testConfig(t)
	cfg.NATS = config.NATSConfig{Enabled: true, URL: "nats://127.0.0.1:1", Subject: "test.analyses"}

	s := newTestServer(t, cfg)
	assert.Nil(t, s.nats)
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, stt.ProviderGoogle, health.Provider)
	assert.True(t, health.OnDevice)
	assert.False(t, health.KeywordsLoaded)
	assert.False(t, health.RemoteFallback)
	assert.False(t, health.NATSConnected)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	// a keyword request with no model on disk counts as unavailable
	body := strings.NewReader(`{"messages":[{"role":"user","text":"산책 다녀왔어요"}]}`)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/keywords", body))
	require.Equal(t, http.StatusOK, rec.Code)

	var keywords api.KeywordsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &keywords))
	assert.Equal(t, events.SourceNone, keywords.Source)
	assert.Empty(t, keywords.Keywords)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `loqa_speech_completions_total{source="unavailable",task="keywords"}`)
}

func TestRoutes(t *testing.T) {
	s := newTestServer(t, testConfig(t))
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/api/analyses", http.StatusOK},
		{http.MethodGet, "/api/analyses/does-not-exist", http.StatusNotFound},
		{http.MethodGet, "/api/models/keywords-model", http.StatusOK},
		{http.MethodGet, "/api/models/ggml-base", http.StatusOK},
		{http.MethodGet, "/api/models/unknown", http.StatusNotFound},
		{http.MethodPost, "/api/models/summary-model/ensure", http.StatusNotFound},
		{http.MethodGet, "/api/transcriptions", http.StatusMethodNotAllowed},
		{http.MethodPost, "/api/metrics", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, srv.URL+tt.path, strings.NewReader("{}"))
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			_, _ = io.Copy(io.Discard, resp.Body)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestGRPCHealth(t *testing.T) {
	s := newTestServer(t, testConfig(t))

	listener := bufconn.Listen(1 << 20)
	go func() { _ = s.grpcServer.Serve(listener) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}

func TestServerStop(t *testing.T) {
	s, err := New(context.Background(), testConfig(t))
	require.NoError(t, err)

	require.NoError(t, s.Stop())
	assert.Error(t, s.db.Ping(), "database should be closed")

	_, err = s.engine.GenerateKeywords(context.Background(), []speech.ChatMessage{{Role: speech.RoleUser, Text: "안녕"}})
	assert.Error(t, err, "engine should refuse work after Stop")
}
