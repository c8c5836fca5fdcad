package domain

import (
	"context"
	"errors"
	"time"
)

// ErrSessionNotFound is returned by stores when no record exists for an id.
var ErrSessionNotFound = errors.New("session not found")

// Session is the unit of conversational continuity: an ordered message log
// plus arbitrary context, owned by exactly one history manager instance.
type Session struct {
	ID        string         `json:"id"`
	Messages  []Message      `json:"messages"`
	Context   map[string]any `json:"context"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// SessionInfo is a read-only diagnostic snapshot of a session.
type SessionInfo struct {
	ID           string         `json:"id"`
	MessageCount int            `json:"message_count"`
	TotalTokens  int            `json:"total_tokens"`
	Context      map[string]any `json:"context"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// SessionStore defines the persistence contract for sessions. One record per
// session, a separate "active session" marker for restore-on-start, and a
// separate insertion-ordered id list driving retention eviction.
type SessionStore interface {
	SaveSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	DeleteSession(ctx context.Context, id string) error

	// SetActiveSession marks the session restored on next start; an empty id
	// clears the marker.
	SetActiveSession(ctx context.Context, id string) error
	ActiveSession(ctx context.Context) (string, error)

	// SessionIDs returns the known session ids in insertion order.
	SessionIDs(ctx context.Context) ([]string, error)
	SetSessionIDs(ctx context.Context, ids []string) error
}
