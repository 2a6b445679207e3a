package archive

import (
	"context"
	"time"
)

// Entry is one question/answer pair of an exported conversation
type Entry struct {
	Question string    `json:"question"`
	Answer   string    `json:"answer"`
	AskedAt  time.Time `json:"asked_at"`
}

// Transcript is the exported form of a full conversation
type Transcript struct {
	SessionID  string    `json:"session_id"`
	Title      string    `json:"title"`
	CreatedAt  time.Time `json:"created_at"`
	ArchivedAt time.Time `json:"archived_at"`
	Entries    []Entry   `json:"entries"`
}

// Store represents a durable home for exported transcripts
type Store interface {
	// Put writes or overwrites the transcript for its session
	Put(ctx context.Context, transcript Transcript) error

	// Get retrieves the transcript archived for a session
	Get(ctx context.Context, sessionID string) (*Transcript, error)

	// List returns the session ids with an archived transcript
	List(ctx context.Context) ([]string, error)
}
