package chat

import (
	"context"
	"time"

	"github.com/Abraxas-365/chatstream/llm"
)

// ModelProfile describes a model's token ceiling and prompt shape.
// Immutable reference data, looked up by model id before every completion.
type ModelProfile struct {
	ModelID       string   `json:"model_id"`
	MaxTokens     int      `json:"max_tokens"`
	Compatibility llm.Mode `json:"compatibility"`
}

// Session is one chat conversation
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Query is one user message within a session
type Query struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Response is one generated answer to a query. Regeneration attaches
// additional responses to the same query.
type Response struct {
	ID        string    `json:"id"`
	QueryID   string    `json:"query_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Exchange is a query together with its latest answer. ResponseCount is the
// number of responses attached so far; Answer is empty when there are none.
type Exchange struct {
	Query         Query  `json:"query"`
	Answer        string `json:"answer"`
	ResponseCount int    `json:"response_count"`
}

// Repository interface defines the persistence operations the pipeline
// needs. Implementations provide their own transactional isolation per
// write; a query creation and its later response attachment are separate
// writes.
type Repository interface {
	// GetModelProfile looks up a model profile by model id
	GetModelProfile(ctx context.Context, modelID string) (*ModelProfile, error)

	// ListModelProfiles returns all registered model profiles
	ListModelProfiles(ctx context.Context) ([]ModelProfile, error)

	// CreateSession creates a new session with the given title
	CreateSession(ctx context.Context, title string) (*Session, error)

	// GetSession retrieves a session by id
	GetSession(ctx context.Context, sessionID string) (*Session, error)

	// ListSessions returns sessions ordered newest-first
	ListSessions(ctx context.Context, limit, offset int) ([]Session, error)

	// ListRecentExchanges returns up to limit exchanges of a session
	// ordered newest-first, read in a single consistent query. A non-empty
	// beforeQueryID restricts the window to queries created at or before
	// that query.
	ListRecentExchanges(ctx context.Context, sessionID, beforeQueryID string, limit int) ([]Exchange, error)

	// ListExchanges returns exchanges of a session in chronological order
	// for display or export. A limit <= 0 returns all of them.
	ListExchanges(ctx context.Context, sessionID string, limit, offset int) ([]Exchange, error)

	// CreateQuery appends a new user query to a session
	CreateQuery(ctx context.Context, sessionID, content string) (*Query, error)

	// AttachResponse appends a generated response to a query
	AttachResponse(ctx context.Context, queryID, content string) (*Response, error)
}
