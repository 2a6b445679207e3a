package postgres

import (
	"context"
	"errors"

	"github.com/Abraxas-365/chatstream/chat"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements chat.Repository on a PostgreSQL pool
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a repository over an existing connection pool
func NewRepository(pool *pgxpool.Pool) (*Repository, error) {
	if pool == nil {
		return nil, errors.New("connection pool is required")
	}
	return &Repository{pool: pool}, nil
}

// Connect parses the connection string and creates the pool and repository
func Connect(ctx context.Context, connString string) (*Repository, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	return &Repository{pool: pool}, nil
}

// Close releases the connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// Required database schema
const schema = `
CREATE TABLE IF NOT EXISTS ai_models (
    model_id TEXT PRIMARY KEY,
    max_tokens INTEGER NOT NULL,
    compatibility TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS chat_sessions (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL UNIQUE CHECK (title <> ''),
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS chat_queries (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL REFERENCES chat_sessions(id) ON DELETE CASCADE,
    content TEXT NOT NULL CHECK (content <> ''),
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS chat_responses (
    id TEXT PRIMARY KEY,
    query_id TEXT NOT NULL REFERENCES chat_queries(id) ON DELETE CASCADE,
    content TEXT NOT NULL CHECK (content <> ''),
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_chat_queries_session_created ON chat_queries(session_id, created_at);
CREATE INDEX IF NOT EXISTS idx_chat_responses_query_created ON chat_responses(query_id, created_at);
`

// InitSchema creates the tables and indexes if they do not exist
func (r *Repository) InitSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, schema)
	return err
}

// UpsertModelProfile registers or updates a model profile
func (r *Repository) UpsertModelProfile(ctx context.Context, profile chat.ModelProfile) error {
	query := `
		INSERT INTO ai_models (model_id, max_tokens, compatibility)
		VALUES ($1, $2, $3)
		ON CONFLICT (model_id) DO UPDATE
		SET max_tokens = EXCLUDED.max_tokens, compatibility = EXCLUDED.compatibility
	`
	_, err := r.pool.Exec(ctx, query, profile.ModelID, profile.MaxTokens, string(profile.Compatibility))
	return err
}

func (r *Repository) GetModelProfile(ctx context.Context, modelID string) (*chat.ModelProfile, error) {
	query := `SELECT model_id, max_tokens, compatibility FROM ai_models WHERE model_id = $1`

	var profile chat.ModelProfile
	err := r.pool.QueryRow(ctx, query, modelID).Scan(
		&profile.ModelID,
		&profile.MaxTokens,
		&profile.Compatibility,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, chat.ErrNotFound("get_model_profile", "AI model")
		}
		return nil, err
	}
	return &profile, nil
}

func (r *Repository) ListModelProfiles(ctx context.Context) ([]chat.ModelProfile, error) {
	query := `SELECT model_id, max_tokens, compatibility FROM ai_models ORDER BY model_id`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []chat.ModelProfile
	for rows.Next() {
		var profile chat.ModelProfile
		if err := rows.Scan(&profile.ModelID, &profile.MaxTokens, &profile.Compatibility); err != nil {
			return nil, err
		}
		profiles = append(profiles, profile)
	}
	return profiles, rows.Err()
}

func (r *Repository) CreateSession(ctx context.Context, title string) (*chat.Session, error) {
	session := chat.Session{
		ID:    uuid.New().String(),
		Title: title,
	}

	query := `
		INSERT INTO chat_sessions (id, title)
		VALUES ($1, $2)
		RETURNING created_at, updated_at
	`
	err := r.pool.QueryRow(ctx, query, session.ID, title).Scan(&session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		return nil, mapConstraintError("create_session", err)
	}
	return &session, nil
}

func (r *Repository) GetSession(ctx context.Context, sessionID string) (*chat.Session, error) {
	query := `SELECT id, title, created_at, updated_at FROM chat_sessions WHERE id = $1`

	var session chat.Session
	err := r.pool.QueryRow(ctx, query, sessionID).Scan(
		&session.ID,
		&session.Title,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, chat.ErrNotFound("get_session", "chat session")
		}
		return nil, err
	}
	return &session, nil
}

func (r *Repository) ListSessions(ctx context.Context, limit, offset int) ([]chat.Session, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, title, created_at, updated_at
		FROM chat_sessions
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`
	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []chat.Session
	for rows.Next() {
		var session chat.Session
		if err := rows.Scan(&session.ID, &session.Title, &session.CreatedAt, &session.UpdatedAt); err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// exchangeColumns selects a query together with its latest response and
// response count in one statement, so the window is a consistent snapshot.
const exchangeColumns = `
	q.id, q.session_id, q.content, q.created_at,
	COALESCE((SELECT content FROM chat_responses
	          WHERE query_id = q.id
	          ORDER BY created_at DESC, id DESC LIMIT 1), ''),
	(SELECT COUNT(*) FROM chat_responses WHERE query_id = q.id)
`

func (r *Repository) ListRecentExchanges(ctx context.Context, sessionID, beforeQueryID string, limit int) ([]chat.Exchange, error) {
	if err := r.sessionExists(ctx, "list_recent_exchanges", sessionID); err != nil {
		return nil, err
	}

	query := `
		SELECT ` + exchangeColumns + `
		FROM chat_queries q
		WHERE q.session_id = $1
		  AND ($2::text = '' OR q.created_at <= (SELECT created_at FROM chat_queries WHERE id = $2))
		ORDER BY q.created_at DESC, q.id DESC
		LIMIT $3
	`
	rows, err := r.pool.Query(ctx, query, sessionID, beforeQueryID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanExchanges(rows)
}

func (r *Repository) ListExchanges(ctx context.Context, sessionID string, limit, offset int) ([]chat.Exchange, error) {
	if err := r.sessionExists(ctx, "list_exchanges", sessionID); err != nil {
		return nil, err
	}

	query := `
		SELECT ` + exchangeColumns + `
		FROM chat_queries q
		WHERE q.session_id = $1
		ORDER BY q.created_at ASC, q.id ASC
		OFFSET $2
	`
	args := []any{sessionID, offset}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanExchanges(rows)
}

func (r *Repository) CreateQuery(ctx context.Context, sessionID, content string) (*chat.Query, error) {
	if content == "" {
		return nil, chat.ErrValidation("create_query", "query content must not be blank")
	}

	query := chat.Query{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Content:   content,
	}

	insert := `
		INSERT INTO chat_queries (id, session_id, content)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`
	err := r.pool.QueryRow(ctx, insert, query.ID, sessionID, content).Scan(&query.CreatedAt)
	if err != nil {
		return nil, mapConstraintError("create_query", err)
	}

	_, err = r.pool.Exec(ctx, `UPDATE chat_sessions SET updated_at = NOW() WHERE id = $1`, sessionID)
	if err != nil {
		return nil, err
	}
	return &query, nil
}

func (r *Repository) AttachResponse(ctx context.Context, queryID, content string) (*chat.Response, error) {
	if content == "" {
		return nil, chat.ErrValidation("attach_response", "response content must not be blank")
	}

	response := chat.Response{
		ID:      uuid.New().String(),
		QueryID: queryID,
		Content: content,
	}

	insert := `
		INSERT INTO chat_responses (id, query_id, content)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`
	err := r.pool.QueryRow(ctx, insert, response.ID, queryID, content).Scan(&response.CreatedAt)
	if err != nil {
		return nil, mapConstraintError("attach_response", err)
	}
	return &response, nil
}

func (r *Repository) sessionExists(ctx context.Context, op, sessionID string) error {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM chat_sessions WHERE id = $1)`, sessionID).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return chat.ErrNotFound(op, "chat session")
	}
	return nil
}

func scanExchanges(rows pgx.Rows) ([]chat.Exchange, error) {
	var exchanges []chat.Exchange
	for rows.Next() {
		var ex chat.Exchange
		err := rows.Scan(
			&ex.Query.ID,
			&ex.Query.SessionID,
			&ex.Query.Content,
			&ex.Query.CreatedAt,
			&ex.Answer,
			&ex.ResponseCount,
		)
		if err != nil {
			return nil, err
		}
		exchanges = append(exchanges, ex)
	}
	return exchanges, rows.Err()
}

// mapConstraintError converts constraint violations into validation errors
// the pipeline understands: foreign keys (23503), uniques (23505) and
// checks (23514).
func mapConstraintError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23503":
			return chat.ErrValidation(op, "referenced record does not exist")
		case "23505":
			return chat.ErrValidation(op, "record already exists")
		case "23514":
			return chat.ErrValidation(op, "content must not be blank")
		}
	}
	return err
}
