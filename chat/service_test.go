package chat

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Abraxas-365/chatstream/archive"
	"github.com/Abraxas-365/chatstream/llm"
	"github.com/Abraxas-365/chatstream/prompt"
	"github.com/Abraxas-365/chatstream/tokenizer"
)

type stubCodec struct{}

func (stubCodec) Count(text string) int {
	return len(strings.Fields(text))
}

type stubCodecs struct{}

func (stubCodecs) CodecFor(modelID string) (tokenizer.Codec, error) {
	return stubCodec{}, nil
}

type stubRepo struct {
	mu        sync.Mutex
	profile   ModelProfile
	session   Session
	exchanges []Exchange // newest-first
	created   []Query
	attached  []Response
	attachErr error
}

func (r *stubRepo) GetModelProfile(ctx context.Context, modelID string) (*ModelProfile, error) {
	if modelID != r.profile.ModelID {
		return nil, ErrNotFound("get_model_profile", "AI model")
	}
	profile := r.profile
	return &profile, nil
}

func (r *stubRepo) ListModelProfiles(ctx context.Context) ([]ModelProfile, error) {
	return []ModelProfile{r.profile}, nil
}

func (r *stubRepo) CreateSession(ctx context.Context, title string) (*Session, error) {
	session := r.session
	return &session, nil
}

func (r *stubRepo) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	if sessionID != r.session.ID {
		return nil, ErrNotFound("get_session", "chat session")
	}
	session := r.session
	return &session, nil
}

func (r *stubRepo) ListSessions(ctx context.Context, limit, offset int) ([]Session, error) {
	return []Session{r.session}, nil
}

func (r *stubRepo) ListRecentExchanges(ctx context.Context, sessionID, beforeQueryID string, limit int) ([]Exchange, error) {
	start := 0
	if beforeQueryID != "" {
		start = -1
		for i, ex := range r.exchanges {
			if ex.Query.ID == beforeQueryID {
				start = i
				break
			}
		}
		if start < 0 {
			return nil, nil
		}
	}
	window := r.exchanges[start:]
	if limit < len(window) {
		window = window[:limit]
	}
	return window, nil
}

func (r *stubRepo) ListExchanges(ctx context.Context, sessionID string, limit, offset int) ([]Exchange, error) {
	// Chronological order for display
	out := make([]Exchange, 0, len(r.exchanges))
	for i := len(r.exchanges) - 1; i >= 0; i-- {
		out = append(out, r.exchanges[i])
	}
	return out, nil
}

func (r *stubRepo) CreateQuery(ctx context.Context, sessionID, content string) (*Query, error) {
	query := Query{ID: "q-new", SessionID: sessionID, Content: content, CreatedAt: time.Now()}
	r.mu.Lock()
	r.created = append(r.created, query)
	r.mu.Unlock()
	return &query, nil
}

func (r *stubRepo) AttachResponse(ctx context.Context, queryID, content string) (*Response, error) {
	if r.attachErr != nil {
		return nil, r.attachErr
	}
	response := Response{ID: "r-new", QueryID: queryID, Content: content, CreatedAt: time.Now()}
	r.mu.Lock()
	r.attached = append(r.attached, response)
	r.mu.Unlock()
	return &response, nil
}

type stubProvider struct {
	mu        sync.Mutex
	calls     int
	failures  int   // calls to fail before succeeding
	failErr   error // error returned for failing calls
	fragments []string
	hang      bool // block after emitting fragments instead of finishing
	lastReq   llm.CompletionRequest

	moderation    *llm.ModerationResult
	moderationErr error
}

func (p *stubProvider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	p.mu.Lock()
	p.calls++
	p.lastReq = req
	failing := p.calls <= p.failures
	p.mu.Unlock()

	if failing {
		return nil, p.failErr
	}

	out := make(chan llm.StreamChunk)
	go func() {
		defer close(out)
		for _, fragment := range p.fragments {
			select {
			case out <- llm.StreamChunk{Content: fragment}:
			case <-ctx.Done():
				return
			}
		}
		if p.hang {
			<-ctx.Done()
			return
		}
		select {
		case out <- llm.StreamChunk{Done: true}:
		case <-ctx.Done():
		}
	}()
	return out, nil
}

func (p *stubProvider) Moderate(ctx context.Context, input string) (*llm.ModerationResult, error) {
	p.mu.Lock()
	p.calls++
	failing := p.calls <= p.failures
	p.mu.Unlock()

	if failing {
		return nil, p.failErr
	}
	return p.moderation, p.moderationErr
}

func (p *stubProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func newTestService(repo *stubRepo, provider *stubProvider, opts ...Option) (*Service, *[]time.Duration) {
	service := New(repo, provider, stubCodecs{}, opts...)
	var sleeps []time.Duration
	service.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	return service, &sleeps
}

func transientFault() error {
	return llm.NewProviderError("StreamCompletion", 503, llm.ErrCodeServiceUnavailable, "upstream unavailable", true, nil)
}

func collect(t *testing.T, stream <-chan llm.StreamChunk) ([]string, error) {
	t.Helper()
	var fragments []string
	for chunk := range stream {
		if chunk.Err != nil {
			return fragments, chunk.Err
		}
		if chunk.Done {
			continue
		}
		fragments = append(fragments, chunk.Content)
	}
	return fragments, nil
}

func chatSkeletonTokens(content string) int {
	codec := stubCodec{}
	return codec.Count("role:system\ncontent:"+prompt.DefaultInstruction+"\n") +
		codec.Count("role:user\ncontent:"+content+"\n")
}

func TestCompleteNewTurn(t *testing.T) {
	repo := &stubRepo{
		profile: ModelProfile{ModelID: "gpt-x", MaxTokens: 100, Compatibility: llm.ModeChatCompletion},
		session: Session{ID: "s1", Title: "test"},
	}
	provider := &stubProvider{fragments: []string{"Hi", " there"}}
	service, _ := newTestService(repo, provider)

	stream, err := service.Complete(context.Background(), CompletionInput{
		ModelID:   "gpt-x",
		SessionID: "s1",
		Content:   "Hello",
	})
	if err != nil {
		t.Fatalf("Complete() unexpected error = %v", err)
	}

	fragments, streamErr := collect(t, stream)
	if streamErr != nil {
		t.Fatalf("stream error = %v", streamErr)
	}
	if len(fragments) != 2 || fragments[0] != "Hi" || fragments[1] != " there" {
		t.Errorf("fragments = %v, want [Hi,  there]", fragments)
	}

	if len(repo.created) != 1 || repo.created[0].Content != "Hello" {
		t.Fatalf("created queries = %+v, want one with content Hello", repo.created)
	}
	if len(repo.attached) != 1 {
		t.Fatalf("attached responses = %d, want 1", len(repo.attached))
	}
	if repo.attached[0].Content != "Hi there" {
		t.Errorf("persisted content = %q, want %q", repo.attached[0].Content, "Hi there")
	}
	if repo.attached[0].QueryID != "q-new" {
		t.Errorf("persisted query id = %q, want q-new", repo.attached[0].QueryID)
	}

	req := provider.lastReq
	if req.Mode != llm.ModeChatCompletion {
		t.Errorf("request mode = %v", req.Mode)
	}
	if len(req.Messages) != 2 ||
		req.Messages[0].Role != llm.RoleSystem ||
		req.Messages[1].Role != llm.RoleUser ||
		req.Messages[1].Content != "Hello" {
		t.Errorf("request messages = %+v", req.Messages)
	}
	if want := 100 - chatSkeletonTokens("Hello"); req.MaxTokens != want {
		t.Errorf("request max tokens = %d, want %d", req.MaxTokens, want)
	}
	if req.Temperature != 0.8 {
		t.Errorf("request temperature = %v, want 0.8", req.Temperature)
	}
}

func TestCompleteRegenerate(t *testing.T) {
	history := []Exchange{
		{Query: Query{ID: "q3", Content: "third question"}, Answer: "stale answer", ResponseCount: 12},
		{Query: Query{ID: "q2", Content: "second question"}, Answer: "second answer", ResponseCount: 1},
		{Query: Query{ID: "q1", Content: "first question"}, Answer: "first answer", ResponseCount: 1},
	}
	repo := &stubRepo{
		profile:   ModelProfile{ModelID: "gpt-x", MaxTokens: 1000, Compatibility: llm.ModeChatCompletion},
		session:   Session{ID: "s1"},
		exchanges: history,
	}
	provider := &stubProvider{fragments: []string{"fresh answer"}}
	service, _ := newTestService(repo, provider)

	stream, err := service.Complete(context.Background(), CompletionInput{
		ModelID:           "gpt-x",
		SessionID:         "s1",
		RegenerateQueryID: "q3",
	})
	if err != nil {
		t.Fatalf("Complete() unexpected error = %v", err)
	}
	if _, streamErr := collect(t, stream); streamErr != nil {
		t.Fatalf("stream error = %v", streamErr)
	}

	if len(repo.created) != 0 {
		t.Errorf("regeneration must not create a new query, created %d", len(repo.created))
	}
	if len(repo.attached) != 1 || repo.attached[0].QueryID != "q3" {
		t.Fatalf("attached = %+v, want one response on q3", repo.attached)
	}

	// 12 responses so far: the schedule sees digit 2.
	want := float32(math.Round((1.2-0.04*2)*100) / 100)
	if provider.lastReq.Temperature != want {
		t.Errorf("temperature = %v, want %v", provider.lastReq.Temperature, want)
	}

	messages := provider.lastReq.Messages
	if len(messages) != 6 {
		t.Fatalf("messages = %d, want system + 2 history pairs + current", len(messages))
	}
	if messages[1].Content != "first question" || messages[3].Content != "second question" {
		t.Errorf("history not in chronological order: %+v", messages)
	}
	if messages[5].Content != "third question" {
		t.Errorf("current message = %+v, want the regenerated question", messages[5])
	}
	for _, msg := range messages {
		if msg.Content == "stale answer" {
			t.Error("target turn's own answer leaked into the prompt")
		}
	}
}

func TestCompleteRegenerateUnknownQuery(t *testing.T) {
	repo := &stubRepo{
		profile: ModelProfile{ModelID: "gpt-x", MaxTokens: 100, Compatibility: llm.ModeChatCompletion},
		session: Session{ID: "s1"},
	}
	service, _ := newTestService(repo, &stubProvider{})

	_, err := service.Complete(context.Background(), CompletionInput{
		ModelID:           "gpt-x",
		SessionID:         "s1",
		RegenerateQueryID: "missing",
	})
	var chatErr *ChatError
	if !errors.As(err, &chatErr) || chatErr.Code != ErrCodeNotFound {
		t.Fatalf("error = %v, want NotFound", err)
	}
}

func TestCompleteRetriesTransientFaults(t *testing.T) {
	repo := &stubRepo{
		profile: ModelProfile{ModelID: "gpt-x", MaxTokens: 100, Compatibility: llm.ModeChatCompletion},
		session: Session{ID: "s1"},
	}
	provider := &stubProvider{
		failures:  3,
		failErr:   transientFault(),
		fragments: []string{"recovered"},
	}
	service, sleeps := newTestService(repo, provider)

	stream, err := service.Complete(context.Background(), CompletionInput{
		ModelID: "gpt-x", SessionID: "s1", Content: "Hello",
	})
	if err != nil {
		t.Fatalf("Complete() unexpected error = %v", err)
	}
	if _, streamErr := collect(t, stream); streamErr != nil {
		t.Fatalf("stream error after retries = %v", streamErr)
	}

	if provider.callCount() != 4 {
		t.Errorf("provider calls = %d, want 4", provider.callCount())
	}
	want := []time.Duration{3 * time.Second, 6 * time.Second, 9 * time.Second}
	if len(*sleeps) != len(want) {
		t.Fatalf("backoff sleeps = %v, want %v", *sleeps, want)
	}
	for i, d := range want {
		if (*sleeps)[i] != d {
			t.Errorf("sleep %d = %v, want %v", i, (*sleeps)[i], d)
		}
	}
	if len(repo.attached) != 1 {
		t.Errorf("attached responses = %d, want exactly 1", len(repo.attached))
	}
}

func TestCompleteRetryExhaustion(t *testing.T) {
	repo := &stubRepo{
		profile: ModelProfile{ModelID: "gpt-x", MaxTokens: 100, Compatibility: llm.ModeChatCompletion},
		session: Session{ID: "s1"},
	}
	provider := &stubProvider{
		failures: 10,
		failErr:  transientFault(),
	}
	service, sleeps := newTestService(repo, provider)

	stream, err := service.Complete(context.Background(), CompletionInput{
		ModelID: "gpt-x", SessionID: "s1", Content: "Hello",
	})
	if err != nil {
		t.Fatalf("Complete() unexpected error = %v", err)
	}

	_, streamErr := collect(t, stream)
	var chatErr *ChatError
	if !errors.As(streamErr, &chatErr) {
		t.Fatalf("stream error = %v, want *ChatError", streamErr)
	}
	if chatErr.Status != 503 || chatErr.Code != llm.ErrCodeServiceUnavailable {
		t.Errorf("mapped error = %+v, want upstream status and code carried over", chatErr)
	}

	if provider.callCount() != 4 {
		t.Errorf("provider calls = %d, want 4", provider.callCount())
	}
	if len(*sleeps) != 3 {
		t.Errorf("backoff sleeps = %d, want 3", len(*sleeps))
	}
	if len(repo.attached) != 0 {
		t.Errorf("attached responses = %d, want none after exhaustion", len(repo.attached))
	}
}

func TestCompletePermanentFaultNotRetried(t *testing.T) {
	repo := &stubRepo{
		profile: ModelProfile{ModelID: "gpt-x", MaxTokens: 100, Compatibility: llm.ModeChatCompletion},
		session: Session{ID: "s1"},
	}
	provider := &stubProvider{
		failures: 10,
		failErr:  llm.NewProviderError("StreamCompletion", 401, llm.ErrCodeUnauthenticated, "bad key", false, nil),
	}
	service, sleeps := newTestService(repo, provider)

	stream, err := service.Complete(context.Background(), CompletionInput{
		ModelID: "gpt-x", SessionID: "s1", Content: "Hello",
	})
	if err != nil {
		t.Fatalf("Complete() unexpected error = %v", err)
	}

	_, streamErr := collect(t, stream)
	if streamErr == nil {
		t.Fatal("expected terminal stream error")
	}
	if provider.callCount() != 1 {
		t.Errorf("provider calls = %d, want 1", provider.callCount())
	}
	if len(*sleeps) != 0 {
		t.Errorf("sleeps = %v, want none", *sleeps)
	}
	if len(repo.attached) != 0 {
		t.Errorf("attached responses = %d, want none", len(repo.attached))
	}
}

func TestCompleteTokenLimitExceeded(t *testing.T) {
	repo := &stubRepo{
		profile: ModelProfile{ModelID: "gpt-x", MaxTokens: 1, Compatibility: llm.ModeChatCompletion},
		session: Session{ID: "s1"},
	}
	provider := &stubProvider{}
	service, _ := newTestService(repo, provider)

	_, err := service.Complete(context.Background(), CompletionInput{
		ModelID: "gpt-x", SessionID: "s1", Content: "Hello",
	})

	var promptErr *prompt.PromptError
	if !errors.As(err, &promptErr) || promptErr.Code != prompt.ErrCodeTokenLimitExceeded {
		t.Fatalf("error = %v, want token limit exceeded", err)
	}
	if provider.callCount() != 0 {
		t.Errorf("provider calls = %d, want 0 before any network call", provider.callCount())
	}
}

func TestCompleteCancellationSkipsPersistence(t *testing.T) {
	repo := &stubRepo{
		profile: ModelProfile{ModelID: "gpt-x", MaxTokens: 100, Compatibility: llm.ModeChatCompletion},
		session: Session{ID: "s1"},
	}
	provider := &stubProvider{fragments: []string{"partial"}, hang: true}
	service, _ := newTestService(repo, provider)

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := service.Complete(ctx, CompletionInput{
		ModelID: "gpt-x", SessionID: "s1", Content: "Hello",
	})
	if err != nil {
		t.Fatalf("Complete() unexpected error = %v", err)
	}

	first := <-stream
	if first.Content != "partial" {
		t.Fatalf("first chunk = %+v, want partial content", first)
	}
	cancel()

	for range stream {
		// Drain until the producer shuts down.
	}
	if len(repo.attached) != 0 {
		t.Errorf("attached responses = %d, want none after cancellation", len(repo.attached))
	}
}

func TestModerateRetries(t *testing.T) {
	repo := &stubRepo{session: Session{ID: "s1"}}
	verdict := &llm.ModerationResult{ID: "mod-1", Results: []llm.ModerationVerdict{{Flagged: true}}}
	provider := &stubProvider{
		failures:   2,
		failErr:    llm.NewProviderError("Moderate", 429, llm.ErrCodeRateLimitExceeded, "slow down", true, nil),
		moderation: verdict,
	}
	service, sleeps := newTestService(repo, provider)

	result, err := service.Moderate(context.Background(), "some text")
	if err != nil {
		t.Fatalf("Moderate() unexpected error = %v", err)
	}
	if result.ID != "mod-1" || !result.Results[0].Flagged {
		t.Errorf("result = %+v, want the provider verdict passed through", result)
	}
	want := []time.Duration{3 * time.Second, 6 * time.Second}
	if len(*sleeps) != len(want) || (*sleeps)[0] != want[0] || (*sleeps)[1] != want[1] {
		t.Errorf("sleeps = %v, want %v", *sleeps, want)
	}
}

func TestModerateExhaustionMapsUpstreamError(t *testing.T) {
	repo := &stubRepo{session: Session{ID: "s1"}}
	provider := &stubProvider{
		failures: 10,
		failErr:  llm.NewProviderError("Moderate", 429, llm.ErrCodeRateLimitExceeded, "slow down", true, nil),
	}
	service, _ := newTestService(repo, provider)

	_, err := service.Moderate(context.Background(), "some text")
	var chatErr *ChatError
	if !errors.As(err, &chatErr) {
		t.Fatalf("error = %v, want *ChatError", err)
	}
	if chatErr.Status != 429 || chatErr.Code != llm.ErrCodeRateLimitExceeded {
		t.Errorf("mapped error = %+v", chatErr)
	}
	if provider.callCount() != 4 {
		t.Errorf("provider calls = %d, want 4", provider.callCount())
	}
}

func TestRegenerationDigit(t *testing.T) {
	tests := []struct {
		count int
		want  int
	}{
		{0, 0},
		{1, 1},
		{9, 9},
		{10, 0},
		{12, 2},
	}
	for _, tt := range tests {
		if got := regenerationDigit(tt.count); got != tt.want {
			t.Errorf("regenerationDigit(%d) = %d, want %d", tt.count, got, tt.want)
		}
	}
}

func TestTemperatureFor(t *testing.T) {
	tests := []struct {
		name  string
		mode  llm.Mode
		regen int
		want  float64
	}{
		{"completion fresh", llm.ModeCompletion, 0, 0.8},
		{"completion first regen", llm.ModeCompletion, 1, 1.52},
		{"completion ninth regen", llm.ModeCompletion, 9, 0.88},
		{"chat fresh", llm.ModeChatCompletion, 0, 0.8},
		{"chat first regen", llm.ModeChatCompletion, 1, 1.16},
		{"chat fifth regen", llm.ModeChatCompletion, 5, 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := temperatureFor(tt.mode, tt.regen)
			if math.Abs(float64(got)-tt.want) > 1e-6 {
				t.Errorf("temperatureFor(%v, %d) = %v, want %v", tt.mode, tt.regen, got, tt.want)
			}
		})
	}
}

func TestHistoryForPromptSkipsUnanswered(t *testing.T) {
	history := []Exchange{
		{Query: Query{Content: "answered"}, Answer: "yes", ResponseCount: 1},
		{Query: Query{Content: "unanswered"}, ResponseCount: 0},
	}
	pairs := historyForPrompt(history)
	if len(pairs) != 1 || pairs[0].Question != "answered" {
		t.Errorf("pairs = %+v, want only the answered exchange", pairs)
	}
}

type stubStore struct {
	put []archive.Transcript
}

func (s *stubStore) Put(ctx context.Context, transcript archive.Transcript) error {
	s.put = append(s.put, transcript)
	return nil
}

func (s *stubStore) Get(ctx context.Context, sessionID string) (*archive.Transcript, error) {
	return nil, archive.NewArchiveError("Get", sessionID, nil, archive.ErrCodeNotFound, "transcript not found")
}

func (s *stubStore) List(ctx context.Context) ([]string, error) {
	return nil, nil
}

func TestArchiveExportsTranscript(t *testing.T) {
	repo := &stubRepo{
		session: Session{ID: "s1", Title: "archived chat"},
		exchanges: []Exchange{
			{Query: Query{ID: "q2", Content: "second"}, Answer: "two", ResponseCount: 1},
			{Query: Query{ID: "q1", Content: "first"}, Answer: "one", ResponseCount: 1},
		},
	}
	service, _ := newTestService(repo, &stubProvider{})
	store := &stubStore{}

	transcript, err := service.Archive(context.Background(), store, "s1")
	if err != nil {
		t.Fatalf("Archive() unexpected error = %v", err)
	}
	if len(store.put) != 1 {
		t.Fatalf("stored transcripts = %d, want 1", len(store.put))
	}
	if transcript.Title != "archived chat" || len(transcript.Entries) != 2 {
		t.Errorf("transcript = %+v", transcript)
	}
	if transcript.Entries[0].Question != "first" || transcript.Entries[1].Question != "second" {
		t.Errorf("entries not chronological: %+v", transcript.Entries)
	}
}
