package inmemory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/Abraxas-365/chatstream/chat"
	"github.com/google/uuid"
)

// IDGenerator produces record ids
type IDGenerator func() string

// Repository implements chat.Repository with in-memory storage. Intended
// for tests and examples; writes are serialized by a single mutex.
type Repository struct {
	mu        sync.RWMutex
	profiles  map[string]chat.ModelProfile
	sessions  map[string]chat.Session
	queries   map[string][]chat.Query    // per session, in creation order
	responses map[string][]chat.Response // per query, in creation order

	generateID IDGenerator
}

// Option is a function type to modify the repository
type Option func(*Repository)

// WithIDGenerator overrides the default UUID id generator
func WithIDGenerator(generator IDGenerator) Option {
	return func(r *Repository) {
		r.generateID = generator
	}
}

// NewRepository creates an empty in-memory repository
func NewRepository(opts ...Option) *Repository {
	r := &Repository{
		profiles:   make(map[string]chat.ModelProfile),
		sessions:   make(map[string]chat.Session),
		queries:    make(map[string][]chat.Query),
		responses:  make(map[string][]chat.Response),
		generateID: func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterModel adds or replaces a model profile
func (r *Repository) RegisterModel(profile chat.ModelProfile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[profile.ModelID] = profile
}

func (r *Repository) GetModelProfile(ctx context.Context, modelID string) (*chat.ModelProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	profile, ok := r.profiles[modelID]
	if !ok {
		return nil, chat.ErrNotFound("get_model_profile", "AI model")
	}
	return &profile, nil
}

func (r *Repository) ListModelProfiles(ctx context.Context) ([]chat.ModelProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	profiles := make([]chat.ModelProfile, 0, len(r.profiles))
	for _, profile := range r.profiles {
		profiles = append(profiles, profile)
	}
	return profiles, nil
}

func (r *Repository) CreateSession(ctx context.Context, title string) (*chat.Session, error) {
	if strings.TrimSpace(title) == "" {
		return nil, chat.ErrValidation("create_session", "session title must not be blank")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.sessions {
		if existing.Title == title {
			return nil, chat.ErrValidation("create_session", "session title already exists")
		}
	}

	now := time.Now()
	session := chat.Session{
		ID:        r.generateID(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.sessions[session.ID] = session
	return &session, nil
}

func (r *Repository) GetSession(ctx context.Context, sessionID string) (*chat.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[sessionID]
	if !ok {
		return nil, chat.ErrNotFound("get_session", "chat session")
	}
	return &session, nil
}

func (r *Repository) ListSessions(ctx context.Context, limit, offset int) ([]chat.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]chat.Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session)
	}
	// Newest first
	for i := 0; i < len(sessions); i++ {
		for j := i + 1; j < len(sessions); j++ {
			if sessions[j].CreatedAt.After(sessions[i].CreatedAt) {
				sessions[i], sessions[j] = sessions[j], sessions[i]
			}
		}
	}
	return window(sessions, limit, offset), nil
}

func (r *Repository) ListRecentExchanges(ctx context.Context, sessionID, beforeQueryID string, limit int) ([]chat.Exchange, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.sessions[sessionID]; !ok {
		return nil, chat.ErrNotFound("list_recent_exchanges", "chat session")
	}

	queries := r.queries[sessionID]
	end := len(queries)
	if beforeQueryID != "" {
		end = 0
		for i, q := range queries {
			if q.ID == beforeQueryID {
				end = i + 1
				break
			}
		}
	}

	var exchanges []chat.Exchange
	for i := end - 1; i >= 0 && len(exchanges) < limit; i-- {
		exchanges = append(exchanges, r.exchange(queries[i]))
	}
	return exchanges, nil
}

func (r *Repository) ListExchanges(ctx context.Context, sessionID string, limit, offset int) ([]chat.Exchange, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.sessions[sessionID]; !ok {
		return nil, chat.ErrNotFound("list_exchanges", "chat session")
	}

	queries := r.queries[sessionID]
	exchanges := make([]chat.Exchange, 0, len(queries))
	for _, q := range queries {
		exchanges = append(exchanges, r.exchange(q))
	}
	return window(exchanges, limit, offset), nil
}

func (r *Repository) CreateQuery(ctx context.Context, sessionID, content string) (*chat.Query, error) {
	if strings.TrimSpace(content) == "" {
		return nil, chat.ErrValidation("create_query", "query content must not be blank")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[sessionID]
	if !ok {
		return nil, chat.ErrNotFound("create_query", "chat session")
	}

	query := chat.Query{
		ID:        r.generateID(),
		SessionID: sessionID,
		Content:   content,
		CreatedAt: time.Now(),
	}
	r.queries[sessionID] = append(r.queries[sessionID], query)

	session.UpdatedAt = query.CreatedAt
	r.sessions[sessionID] = session

	return &query, nil
}

func (r *Repository) AttachResponse(ctx context.Context, queryID, content string) (*chat.Response, error) {
	if content == "" {
		return nil, chat.ErrValidation("attach_response", "response content must not be blank")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.queryExists(queryID) {
		return nil, chat.ErrValidation("attach_response", "chat query does not exist")
	}

	response := chat.Response{
		ID:        r.generateID(),
		QueryID:   queryID,
		Content:   content,
		CreatedAt: time.Now(),
	}
	r.responses[queryID] = append(r.responses[queryID], response)
	return &response, nil
}

func (r *Repository) exchange(q chat.Query) chat.Exchange {
	responses := r.responses[q.ID]
	ex := chat.Exchange{
		Query:         q,
		ResponseCount: len(responses),
	}
	if len(responses) > 0 {
		ex.Answer = responses[len(responses)-1].Content
	}
	return ex
}

func (r *Repository) queryExists(queryID string) bool {
	for _, queries := range r.queries {
		for _, q := range queries {
			if q.ID == queryID {
				return true
			}
		}
	}
	return false
}

func window[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
