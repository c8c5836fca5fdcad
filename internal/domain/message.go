package domain

import (
	"strings"
	"time"
)

// MessageRole represents the sender of a message
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	// RoleSystem exists for completeness but system turns are never part of
	// the transcript sent to the backend; prompt injection is server-side.
	RoleSystem MessageRole = "system"
)

// NormalizeRole corrects the one misspelling variant observed in stored
// sessions. New variants are not guessed at.
func NormalizeRole(role MessageRole) MessageRole {
	if role == "assistent" {
		return RoleAssistant
	}
	return role
}

// tokenDivisor is the characters-per-token constant of the estimation
// heuristic. Intentionally cheap; the reserve in the history budget absorbs
// its imprecision.
const tokenDivisor = 4

// EstimateTokens returns a rough token count for content: ceil(len/4).
func EstimateTokens(content string) int {
	if content == "" {
		return 0
	}
	return (len(content) + tokenDivisor - 1) / tokenDivisor
}

// Message represents a single turn in a session
type Message struct {
	ID         string         `json:"id"`
	SessionID  string         `json:"session_id"`
	Role       MessageRole    `json:"role"`
	Content    string         `json:"content"`
	Timestamp  time.Time      `json:"timestamp"`
	TokenCount int            `json:"token_count"`
	Metadata   map[string]any `json:"metadata,omitempty"` // assistant messages only
}

// NewMessage builds an immutable message: content is trimmed and the token
// estimate is computed once, at creation.
func NewMessage(id, sessionID string, role MessageRole, content string, metadata map[string]any) Message {
	trimmed := strings.TrimSpace(content)
	return Message{
		ID:         id,
		SessionID:  sessionID,
		Role:       role,
		Content:    trimmed,
		Timestamp:  time.Now().UTC(),
		TokenCount: EstimateTokens(trimmed),
		Metadata:   metadata,
	}
}

// Turn is the {role, content} pair shape the backend expects in transcripts.
type Turn struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
}
