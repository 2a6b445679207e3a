package chat

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/Abraxas-365/chatstream/archive"
	"github.com/Abraxas-365/chatstream/llm"
	"github.com/Abraxas-365/chatstream/prompt"
)

// Service orchestrates prompt assembly, the retrying streaming completion
// call and response persistence, and exposes the moderation pass-through.
// One completion runs on one goroutine; the repository is the only shared
// mutable resource.
type Service struct {
	repo     Repository
	provider llm.Provider
	builder  *prompt.Builder
	opts     *Options

	// sleep suspends between retry attempts; replaced in tests
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a completion service on top of a repository, a provider
// client and a token codec provider (typically a *tokenizer.Registry)
func New(repo Repository, provider llm.Provider, codecs prompt.CodecProvider, opts ...Option) *Service {
	options := DefaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	var promptOpts []prompt.Option
	if options.Instruction != "" {
		promptOpts = append(promptOpts, prompt.WithInstruction(options.Instruction))
	}

	return &Service{
		repo:     repo,
		provider: provider,
		builder:  prompt.NewBuilder(codecs, promptOpts...),
		opts:     options,
		sleep:    sleepContext,
	}
}

// CompletionInput identifies what to complete. Content is the new user
// message; a non-empty RegenerateQueryID instead re-runs completion for
// that existing query.
type CompletionInput struct {
	ModelID           string
	SessionID         string
	Content           string
	RegenerateQueryID string
}

// Complete resolves the target query, builds the bounded prompt and starts
// the streaming completion. Client-correctable failures (unknown model or
// session, token limit) surface here before anything is emitted. The
// returned channel yields fragments in provider order and is closed after
// the terminal chunk; on clean completion the accumulated text has been
// persisted as a new response by then.
//
// A transient provider fault restarts the whole streaming call after a
// linear backoff; fragments already forwarded are not retracted, so the
// caller may observe a truncated-then-restarted stream.
func (s *Service) Complete(ctx context.Context, in CompletionInput) (<-chan llm.StreamChunk, error) {
	profile, err := s.repo.GetModelProfile(ctx, in.ModelID)
	if err != nil {
		return nil, err
	}

	var target Exchange
	var history []Exchange
	if in.RegenerateQueryID != "" {
		window, err := s.repo.ListRecentExchanges(ctx, in.SessionID, in.RegenerateQueryID, s.opts.HistoryWindow+1)
		if err != nil {
			return nil, err
		}
		if len(window) == 0 {
			return nil, ErrNotFound("complete", "chat query")
		}
		target, history = window[0], window[1:]
	} else {
		history, err = s.repo.ListRecentExchanges(ctx, in.SessionID, "", s.opts.HistoryWindow)
		if err != nil {
			return nil, err
		}
		query, err := s.repo.CreateQuery(ctx, in.SessionID, in.Content)
		if err != nil {
			return nil, err
		}
		target = Exchange{Query: *query}
	}

	built, maxResponseTokens, err := s.builder.Build(
		profile.ModelID,
		profile.MaxTokens,
		profile.Compatibility,
		target.Query.Content,
		historyForPrompt(history),
	)
	if err != nil {
		return nil, err
	}

	req := llm.CompletionRequest{
		Mode:        profile.Compatibility,
		Model:       profile.ModelID,
		MaxTokens:   maxResponseTokens,
		Temperature: temperatureFor(profile.Compatibility, regenerationDigit(target.ResponseCount)),
	}
	if profile.Compatibility == llm.ModeCompletion {
		req.Prompt = built.Text()
	} else {
		req.Messages = built.Messages()
	}

	out := make(chan llm.StreamChunk, s.opts.StreamBuffer)
	go s.run(ctx, out, target.Query.ID, req)
	return out, nil
}

// Moderate submits text to the provider's moderation capability, retrying
// transient faults like a completion call. Nothing is persisted.
func (s *Service) Moderate(ctx context.Context, content string) (*llm.ModerationResult, error) {
	var result *llm.ModerationResult
	err := s.withRetry(ctx, func() error {
		var err error
		result, err = s.provider.Moderate(ctx, content)
		return err
	})
	if err != nil {
		return nil, upstreamError("moderate", err)
	}
	return result, nil
}

// CreateSession starts a new conversation
func (s *Service) CreateSession(ctx context.Context, title string) (*Session, error) {
	if strings.TrimSpace(title) == "" {
		return nil, ErrValidation("create_session", "session title must not be blank")
	}
	return s.repo.CreateSession(ctx, title)
}

// Models returns all registered model profiles
func (s *Service) Models(ctx context.Context) ([]ModelProfile, error) {
	return s.repo.ListModelProfiles(ctx)
}

// Sessions returns sessions ordered newest-first
func (s *Service) Sessions(ctx context.Context, limit, offset int) ([]Session, error) {
	return s.repo.ListSessions(ctx, limit, offset)
}

// Exchanges returns a session's conversation in chronological order
func (s *Service) Exchanges(ctx context.Context, sessionID string, limit, offset int) ([]Exchange, error) {
	return s.repo.ListExchanges(ctx, sessionID, limit, offset)
}

// Archive exports a session's full transcript to the given store
func (s *Service) Archive(ctx context.Context, store archive.Store, sessionID string) (*archive.Transcript, error) {
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	exchanges, err := s.repo.ListExchanges(ctx, sessionID, 0, 0)
	if err != nil {
		return nil, err
	}

	transcript := &archive.Transcript{
		SessionID:  session.ID,
		Title:      session.Title,
		CreatedAt:  session.CreatedAt,
		ArchivedAt: time.Now().UTC(),
	}
	for _, ex := range exchanges {
		transcript.Entries = append(transcript.Entries, archive.Entry{
			Question: ex.Query.Content,
			Answer:   ex.Answer,
			AskedAt:  ex.Query.CreatedAt,
		})
	}

	if err := store.Put(ctx, *transcript); err != nil {
		return nil, err
	}
	return transcript, nil
}

// run drives the retrying streaming call and persists the accumulated text
// after a clean completion. The accumulator is deliberately not reset
// between attempts; a restarted stream appends after whatever the failed
// attempt already produced, matching what the caller was forwarded.
func (s *Service) run(ctx context.Context, out chan<- llm.StreamChunk, queryID string, req llm.CompletionRequest) {
	defer close(out)

	var acc strings.Builder
	err := s.withRetry(ctx, func() error {
		return s.streamOnce(ctx, out, &acc, req)
	})
	if err != nil {
		if ctx.Err() != nil {
			// Caller is gone: stop without persisting or emitting.
			return
		}
		s.emit(ctx, out, llm.StreamChunk{Err: upstreamError("complete", err), Done: true})
		return
	}

	if _, err := s.repo.AttachResponse(ctx, queryID, acc.String()); err != nil {
		s.emit(ctx, out, llm.StreamChunk{Err: err, Done: true})
		return
	}
	s.emit(ctx, out, llm.StreamChunk{Done: true})
}

// streamOnce consumes one provider stream to completion, forwarding each
// fragment in order and appending it to the accumulator
func (s *Service) streamOnce(ctx context.Context, out chan<- llm.StreamChunk, acc *strings.Builder, req llm.CompletionRequest) error {
	stream, err := s.provider.StreamCompletion(ctx, req)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-stream:
			if !ok {
				return nil
			}
			if chunk.Err != nil {
				return chunk.Err
			}
			if chunk.Done {
				continue
			}
			// Chat-mode deltas may carry no content (role-only);
			// completion-mode fragments are forwarded as is.
			if chunk.Content == "" && req.Mode == llm.ModeChatCompletion {
				continue
			}
			acc.WriteString(chunk.Content)
			select {
			case out <- llm.StreamChunk{Content: chunk.Content}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// withRetry runs fn up to MaxAttempts times, sleeping attempt*BackoffStep
// between attempts. Only transient provider faults are retried.
func (s *Service) withRetry(ctx context.Context, fn func() error) error {
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !llm.IsTransient(err) || attempt >= s.opts.MaxAttempts {
			return err
		}
		if err := s.sleep(ctx, time.Duration(attempt)*s.opts.BackoffStep); err != nil {
			return err
		}
	}
}

func (s *Service) emit(ctx context.Context, out chan<- llm.StreamChunk, chunk llm.StreamChunk) {
	select {
	case out <- chunk:
	case <-ctx.Done():
	}
}

// historyForPrompt converts repository exchanges into prompt pairs.
// Exchanges that never got a response are left out of the window.
func historyForPrompt(history []Exchange) []prompt.Exchange {
	pairs := make([]prompt.Exchange, 0, len(history))
	for _, ex := range history {
		if ex.ResponseCount == 0 {
			continue
		}
		pairs = append(pairs, prompt.Exchange{
			Question: ex.Query.Content,
			Answer:   ex.Answer,
		})
	}
	return pairs
}

// regenerationDigit reduces the response count to its last decimal digit.
// The temperature schedule feeds on this digit, not the full count; a turn
// regenerated ten times samples like a fresh one.
func regenerationDigit(responseCount int) int {
	return responseCount % 10
}

// temperatureFor selects the sampling temperature for the given mode and
// regeneration digit, rounded to two decimals
func temperatureFor(mode llm.Mode, regen int) float32 {
	if regen == 0 {
		return 0.8
	}
	var t float64
	if mode == llm.ModeCompletion {
		t = 1.6 - 0.08*float64(regen)
	} else {
		t = 1.2 - 0.04*float64(regen)
	}
	return float32(math.Round(t*100) / 100)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
