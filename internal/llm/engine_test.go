package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loqalabs/loqa-speech/internal/models"
	"github.com/loqalabs/loqa-speech/internal/speech"
)

type stubResolver struct {
	calls atomic.Int32
	err   error
}

func (r *stubResolver) EnsureModelAsset(ctx context.Context, cfg models.ModelAssetConfig, opts models.EnsureOptions) (string, error) {
	r.calls.Add(1)
	if r.err != nil {
		return "", r.err
	}
	return "/models/" + cfg.ID + ".gguf", nil
}

// countingBackend counts loads and serves canned completions
type countingBackend struct {
	loads    atomic.Int32
	released atomic.Int32
	gate     chan struct{}
	failures atomic.Int32 // loads to fail before succeeding

	tokens []string
	result CompletionResult
	err    error

	mu       sync.Mutex
	requests []CompletionRequest
	stopped  atomic.Int32
}

func (b *countingBackend) Load(ctx context.Context, modelPath string, params ContextParams) (CompletionContext, error) {
	b.loads.Add(1)
	if b.gate != nil {
		<-b.gate
	}
	if b.failures.Load() > 0 {
		b.failures.Add(-1)
		return nil, errors.New("out of memory")
	}
	return &countingContext{backend: b}, nil
}

type countingContext struct {
	backend *countingBackend
}

func (c *countingContext) Complete(ctx context.Context, req CompletionRequest) (*Stream, error) {
	b := c.backend
	b.mu.Lock()
	b.requests = append(b.requests, req)
	b.mu.Unlock()

	return NewStream(ctx, func(ctx context.Context, emit func(string) bool) (CompletionResult, error) {
		defer func() {
			if ctx.Err() != nil {
				b.stopped.Add(1)
			}
		}()
		for _, token := range b.tokens {
			if !emit(token) {
				return CompletionResult{}, ctx.Err()
			}
		}
		return b.result, b.err
	}), nil
}

func (c *countingContext) Release() error {
	c.backend.released.Add(1)
	return nil
}

func testTasks() map[Task]TaskConfig {
	return map[Task]TaskConfig{
		TaskKeywords: {
			Asset:    models.ModelAssetConfig{ID: "kw", BundleRelativePath: "models/kw.gguf"},
			Context:  ContextParams{ContextSize: 2048, Threads: 4},
			Sampling: SamplingParams{Temperature: 0.2, MaxTokens: 120},
		},
		TaskSummary: {
			Asset:    models.ModelAssetConfig{ID: "sum", BundleRelativePath: "models/sum.gguf"},
			Context:  ContextParams{ContextSize: 2048, Threads: 4},
			Sampling: SamplingParams{Temperature: 0.3, MaxTokens: 220, Stop: SummaryStopWords},
		},
	}
}

func conversation(n int) []speech.ChatMessage {
	messages := make([]speech.ChatMessage, n)
	for i := range messages {
		role := speech.RoleUser
		if i%2 == 1 {
			role = speech.RoleAssistant
		}
		messages[i] = speech.ChatMessage{Role: role, Text: fmt.Sprintf("message %d", i)}
	}
	return messages
}

func TestEngine_ConcurrentCallersShareOneLoad(t *testing.T) {
	backend := &countingBackend{gate: make(chan struct{}), tokens: []string{"산책, 약"}}
	resolver := &stubResolver{}
	engine := NewEngine(backend, resolver, "android", testTasks())

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.GenerateKeywords(context.Background(), conversation(2))
			errs <- err
		}()
	}

	// Let every caller reach the loader before the load resolves
	time.Sleep(50 * time.Millisecond)
	close(backend.gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("GenerateKeywords: %v", err)
		}
	}
	if n := backend.loads.Load(); n != 1 {
		t.Errorf("backend loaded %d times, want 1", n)
	}
	if n := resolver.calls.Load(); n != 1 {
		t.Errorf("resolver called %d times, want 1", n)
	}
	if !engine.Loaded(TaskKeywords) || engine.Loaded(TaskSummary) {
		t.Error("Loaded() does not reflect per-task state")
	}
}

func TestEngine_FailedLoadIsRetried(t *testing.T) {
	backend := &countingBackend{tokens: []string{"요약입니다."}}
	backend.failures.Store(1)
	engine := NewEngine(backend, &stubResolver{}, "ios", testTasks())

	_, err := engine.GenerateSummary(context.Background(), conversation(1), nil)
	if !errors.Is(err, ErrInferenceUnavailable) {
		t.Fatalf("expected ErrInferenceUnavailable, got %v", err)
	}

	summary, err := engine.GenerateSummary(context.Background(), conversation(1), nil)
	if err != nil {
		t.Fatalf("retry GenerateSummary: %v", err)
	}
	if summary != "요약입니다." {
		t.Errorf("summary = %q", summary)
	}
	if n := backend.loads.Load(); n != 2 {
		t.Errorf("backend loaded %d times, want 2", n)
	}
}

func TestEngine_ResolverFailureIsUnavailable(t *testing.T) {
	resolver := &stubResolver{err: &models.ModelNotFoundError{RelativePath: "models/kw.gguf"}}
	engine := NewEngine(&countingBackend{}, resolver, "android", testTasks())

	_, err := engine.GenerateKeywords(context.Background(), conversation(1))

	var unavailableErr *UnavailableError
	if !errors.As(err, &unavailableErr) {
		t.Fatalf("expected UnavailableError, got %v", err)
	}
	var notFound *models.ModelNotFoundError
	if !errors.As(err, &notFound) {
		t.Errorf("cause not preserved: %v", err)
	}
}

func TestEngine_UnsupportedPlatformAndEmptyInput(t *testing.T) {
	backend := &countingBackend{tokens: []string{"x"}}

	web := NewEngine(backend, &stubResolver{}, PlatformWeb, testTasks())
	if _, err := web.GenerateKeywords(context.Background(), conversation(2)); !errors.Is(err, ErrInferenceUnavailable) {
		t.Errorf("web keywords err = %v", err)
	}
	if _, err := web.GenerateSummary(context.Background(), conversation(2), nil); !errors.Is(err, ErrInferenceUnavailable) {
		t.Errorf("web summary err = %v", err)
	}

	native := NewEngine(backend, &stubResolver{}, "android", testTasks())
	if _, err := native.GenerateKeywords(context.Background(), nil); !errors.Is(err, ErrInferenceUnavailable) {
		t.Errorf("empty keywords err = %v", err)
	}
	if n := backend.loads.Load(); n != 0 {
		t.Errorf("backend loaded %d times for rejected input", n)
	}
}

func TestEngine_KeywordsParsedFromStream(t *testing.T) {
	backend := &countingBackend{tokens: []string{"#산책", ", \"약 복용\"", "\n산책 | 가족", ", 병원, 식사, 날씨"}}
	engine := NewEngine(backend, &stubResolver{}, "android", testTasks())

	keywords, err := engine.GenerateKeywords(context.Background(), conversation(30))
	if err != nil {
		t.Fatalf("GenerateKeywords: %v", err)
	}

	want := []string{"산책", "약 복용", "가족", "병원", "식사"}
	if strings.Join(keywords, "/") != strings.Join(want, "/") {
		t.Errorf("keywords = %v, want %v", keywords, want)
	}

	req := backend.requests[0]
	if req.Sampling.Temperature != 0.2 || req.Sampling.MaxTokens != 120 {
		t.Errorf("sampling = %+v", req.Sampling)
	}
	prompt := req.Messages[1].Content
	if strings.Contains(prompt, "message 5\n") || !strings.Contains(prompt, "message 6") || !strings.Contains(prompt, "message 29") {
		t.Errorf("prompt does not hold the last 24 messages:\n%s", prompt)
	}
}

func TestEngine_NoKeywordsIsUnavailable(t *testing.T) {
	backend := &countingBackend{tokens: []string{" , | \n \"\" "}}
	engine := NewEngine(backend, &stubResolver{}, "android", testTasks())

	if _, err := engine.GenerateKeywords(context.Background(), conversation(1)); !errors.Is(err, ErrInferenceUnavailable) {
		t.Fatalf("expected ErrInferenceUnavailable, got %v", err)
	}
}

func TestEngine_FallsBackToNonStreamedResult(t *testing.T) {
	tests := []struct {
		name   string
		result CompletionResult
		want   string
	}{
		{"content", CompletionResult{Content: "\"오늘은 산책을 했어요.\"", Text: "ignored"}, "오늘은 산책을 했어요."},
		{"text", CompletionResult{Text: "'약을 드셨어요.'"}, "약을 드셨어요."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &countingBackend{result: tt.result}
			engine := NewEngine(backend, &stubResolver{}, "android", testTasks())

			summary, err := engine.GenerateSummary(context.Background(), conversation(2), []string{"산책"})
			if err != nil {
				t.Fatalf("GenerateSummary: %v", err)
			}
			if summary != tt.want {
				t.Errorf("summary = %q, want %q", summary, tt.want)
			}
			if stop := backend.requests[0].Sampling.Stop; len(stop) != len(SummaryStopWords) {
				t.Errorf("stop words = %v", stop)
			}
		})
	}
}

func TestEngine_CompletionErrorIsUnavailable(t *testing.T) {
	backend := &countingBackend{tokens: []string{"partial"}, err: errors.New("decode failed")}
	engine := NewEngine(backend, &stubResolver{}, "android", testTasks())

	if _, err := engine.GenerateSummary(context.Background(), conversation(1), nil); !errors.Is(err, ErrInferenceUnavailable) {
		t.Fatalf("expected ErrInferenceUnavailable, got %v", err)
	}
}

func TestEngine_CloseReleasesContexts(t *testing.T) {
	backend := &countingBackend{tokens: []string{"산책"}}
	engine := NewEngine(backend, &stubResolver{}, "android", testTasks())

	if _, err := engine.GenerateKeywords(context.Background(), conversation(1)); err != nil {
		t.Fatalf("GenerateKeywords: %v", err)
	}
	if err := engine.Preload(context.Background(), TaskSummary); err != nil {
		t.Fatalf("Preload: %v", err)
	}
	if n := backend.released.Load(); n != 0 {
		t.Fatalf("released %d contexts before Close", n)
	}

	if err := engine.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if n := backend.released.Load(); n != 2 {
		t.Errorf("released %d contexts, want 2", n)
	}
	if err := engine.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	if _, err := engine.GenerateKeywords(context.Background(), conversation(1)); !errors.Is(err, ErrInferenceUnavailable) {
		t.Errorf("call after Close err = %v", err)
	}
	if n := backend.loads.Load(); n != 2 {
		t.Errorf("engine reloaded after Close: %d loads", n)
	}
}

// blockingContext holds a completion open until released by the test
type blockingContext struct {
	started  chan struct{}
	finish   chan struct{}
	released atomic.Int32
}

func (c *blockingContext) Complete(ctx context.Context, req CompletionRequest) (*Stream, error) {
	return NewStream(ctx, func(ctx context.Context, emit func(string) bool) (CompletionResult, error) {
		close(c.started)
		select {
		case <-c.finish:
		case <-ctx.Done():
			return CompletionResult{}, ctx.Err()
		}
		emit("끝")
		return CompletionResult{}, nil
	}), nil
}

func (c *blockingContext) Release() error {
	c.released.Add(1)
	return nil
}

type fixedBackend struct {
	ctx CompletionContext
}

func (b *fixedBackend) Load(ctx context.Context, modelPath string, params ContextParams) (CompletionContext, error) {
	return b.ctx, nil
}

func TestEngine_CloseWaitsForInFlightCompletion(t *testing.T) {
	completion := &blockingContext{started: make(chan struct{}), finish: make(chan struct{})}
	engine := NewEngine(&fixedBackend{ctx: completion}, &stubResolver{}, "android", testTasks())

	done := make(chan error, 1)
	go func() {
		_, err := engine.RunCompletion(context.Background(), TaskSummary, []PromptMessage{{Role: RoleUser, Content: "hi"}})
		done <- err
	}()

	<-completion.started
	if err := engine.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if n := completion.released.Load(); n != 0 {
		t.Fatalf("context released while a completion holds it")
	}

	close(completion.finish)
	if err := <-done; err != nil {
		t.Fatalf("RunCompletion: %v", err)
	}
	if n := completion.released.Load(); n != 1 {
		t.Errorf("released %d times, want 1", n)
	}
}

func TestEngine_CancelledCompletionStopsStream(t *testing.T) {
	completion := &blockingContext{started: make(chan struct{}), finish: make(chan struct{})}
	engine := NewEngine(&fixedBackend{ctx: completion}, &stubResolver{}, "android", testTasks())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := engine.RunCompletion(ctx, TaskKeywords, []PromptMessage{{Role: RoleUser, Content: "hi"}})
		done <- err
	}()

	<-completion.started
	cancel()

	err := <-done
	if !errors.Is(err, ErrInferenceUnavailable) || !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}

// gatedBackend blocks Load until the gate opens or its context ends
type gatedBackend struct {
	started chan struct{}
	gate    chan struct{}
	loads   atomic.Int32
}

func (b *gatedBackend) Load(ctx context.Context, modelPath string, params ContextParams) (CompletionContext, error) {
	if b.loads.Add(1) == 1 {
		close(b.started)
	}
	select {
	case <-b.gate:
		return &countingContext{backend: &countingBackend{}}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestEngine_CancelledLeaderDoesNotFailWaiters(t *testing.T) {
	backend := &gatedBackend{started: make(chan struct{}), gate: make(chan struct{})}
	engine := NewEngine(backend, &stubResolver{}, "android", testTasks())

	leaderCtx, cancel := context.WithCancel(context.Background())
	leader := make(chan error, 1)
	go func() { leader <- engine.Preload(leaderCtx, TaskKeywords) }()
	<-backend.started

	waiter := make(chan error, 1)
	go func() { waiter <- engine.Preload(context.Background(), TaskKeywords) }()
	time.Sleep(20 * time.Millisecond)

	cancel()
	if err := <-leader; !errors.Is(err, context.Canceled) {
		t.Fatalf("leader err = %v, want context.Canceled", err)
	}

	close(backend.gate)
	if err := <-waiter; err != nil {
		t.Fatalf("waiter Preload: %v", err)
	}
	if n := backend.loads.Load(); n != 1 {
		t.Errorf("backend loaded %d times, want 1", n)
	}
	if !engine.Loaded(TaskKeywords) {
		t.Error("keywords context not memoized after cancelled leader")
	}
}

func TestEngine_CloseCancelsInFlightLoad(t *testing.T) {
	backend := &gatedBackend{started: make(chan struct{}), gate: make(chan struct{})}
	engine := NewEngine(backend, &stubResolver{}, "android", testTasks())

	done := make(chan error, 1)
	go func() { done <- engine.Preload(context.Background(), TaskSummary) }()
	<-backend.started

	if err := engine.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case err := <-done:
		if !errors.Is(err, ErrInferenceUnavailable) {
			t.Errorf("err = %v, want ErrInferenceUnavailable", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Preload still blocked after Close")
	}
}
