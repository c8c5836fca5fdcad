// Package history keeps the token-budgeted, persisted message log for the
// active session and produces the exact transcript sent to the backend on
// every turn. It has no dependency on the transport layer.
package history

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/avralabs/chatlink/internal/domain"
)

// Config bounds the transcript and the retained session list.
type Config struct {
	// MaxTokens is the transcript budget; ReserveTokens is held back from it
	// to absorb the estimation heuristic's imprecision.
	MaxTokens     int
	ReserveTokens int
	// MaxSessions bounds the known-session list; exceeding it evicts the
	// oldest persisted sessions entirely.
	MaxSessions int
}

func (c *Config) applyDefaults() {
	if c.MaxTokens == 0 {
		c.MaxTokens = 4000
	}
	if c.ReserveTokens == 0 {
		c.ReserveTokens = 500
	}
	if c.MaxSessions == 0 {
		c.MaxSessions = 20
	}
}

// Manager owns one session at a time. Every mutating operation persists
// synchronously before returning; if the store fails, the manager logs and
// continues memory-only for the rest of the process.
type Manager struct {
	cfg   Config
	store domain.SessionStore
	log   zerolog.Logger

	mu         sync.Mutex
	session    *domain.Session
	counter    uint64
	memoryOnly bool
}

// NewManager restores the active session from the store, or starts a fresh
// one when none is marked active.
func NewManager(cfg Config, store domain.SessionStore, log zerolog.Logger) *Manager {
	cfg.applyDefaults()
	m := &Manager{
		cfg:   cfg,
		store: store,
		log:   log.With().Str("component", "history").Logger(),
	}

	if restored := m.restore(); !restored {
		m.StartNewSession(nil)
	}
	return m
}

func (m *Manager) restore() bool {
	if m.store == nil {
		m.mu.Lock()
		m.memoryOnly = true
		m.mu.Unlock()
		return false
	}

	ctx := context.Background()
	id, err := m.store.ActiveSession(ctx)
	if err != nil {
		m.storeFailed("read active session", err)
		return false
	}
	if id == "" {
		return false
	}

	session, err := m.store.GetSession(ctx, id)
	if err != nil {
		m.log.Warn().Err(err).Str("session_id", id).Msg("active session not restorable")
		return false
	}

	// Stored roles may carry the legacy misspelling; normalize on load.
	for i := range session.Messages {
		session.Messages[i].Role = domain.NormalizeRole(session.Messages[i].Role)
	}

	m.mu.Lock()
	m.session = session
	m.mu.Unlock()

	m.log.Info().Str("session_id", id).Int("messages", len(session.Messages)).Msg("session restored")
	return true
}

// StartNewSession generates a fresh session, marks it active and persists it
// immediately. Returns the new session id.
func (m *Manager) StartNewSession(sessionContext map[string]any) string {
	if sessionContext == nil {
		sessionContext = make(map[string]any)
	}
	now := time.Now().UTC()
	session := &domain.Session{
		ID:        uuid.NewString(),
		Messages:  []domain.Message{},
		Context:   sessionContext,
		CreatedAt: now,
		UpdatedAt: now,
	}

	m.mu.Lock()
	m.session = session
	m.mu.Unlock()

	m.persist()
	m.registerSession(session.ID)
	m.setActive(session.ID)

	m.log.Info().Str("session_id", session.ID).Msg("session started")
	return session.ID
}

// AddUserMessage appends a user turn and persists. Content is trimmed and
// its token cost estimated once, at creation.
func (m *Manager) AddUserMessage(content string) domain.Message {
	return m.append(domain.RoleUser, content, nil)
}

// AddAssistantMessage appends an assistant turn with its metadata (model,
// usage counters, processing time) and persists.
func (m *Manager) AddAssistantMessage(content string, metadata map[string]any) domain.Message {
	return m.append(domain.RoleAssistant, content, metadata)
}

func (m *Manager) append(role domain.MessageRole, content string, metadata map[string]any) domain.Message {
	m.mu.Lock()
	m.counter++
	id := fmt.Sprintf("msg_%d_%d", time.Now().UnixMilli(), m.counter)
	msg := domain.NewMessage(id, m.session.ID, role, content, metadata)
	m.session.Messages = append(m.session.Messages, msg)
	m.session.UpdatedAt = msg.Timestamp
	m.mu.Unlock()

	m.persist()
	return msg
}

// PrepareAPIPayload returns the transcript to transmit: all messages as
// {role, content} pairs when under budget, otherwise the longest suffix that
// fits. Messages are evicted wholesale, oldest first; order is preserved.
// System turns never appear; the backend owns prompt injection.
func (m *Manager) PrepareAPIPayload() []domain.Turn {
	m.mu.Lock()
	defer m.mu.Unlock()

	budget := m.cfg.MaxTokens - m.cfg.ReserveTokens

	eligible := make([]domain.Message, 0, len(m.session.Messages))
	total := 0
	for _, msg := range m.session.Messages {
		role := domain.NormalizeRole(msg.Role)
		if role == domain.RoleSystem {
			continue
		}
		eligible = append(eligible, msg)
		total += msg.TokenCount
	}

	start := 0
	for total > budget && start < len(eligible) {
		total -= eligible[start].TokenCount
		start++
	}
	if start > 0 {
		m.log.Debug().Int("dropped", start).Int("kept", len(eligible)-start).Msg("transcript truncated to budget")
	}

	turns := make([]domain.Turn, 0, len(eligible)-start)
	for _, msg := range eligible[start:] {
		turns = append(turns, domain.Turn{
			Role:    domain.NormalizeRole(msg.Role),
			Content: msg.Content,
		})
	}
	return turns
}

// UpdateSessionContext shallow-merges updates into the session context and
// persists.
func (m *Manager) UpdateSessionContext(updates map[string]any) {
	m.mu.Lock()
	for k, v := range updates {
		m.session.Context[k] = v
	}
	m.session.UpdatedAt = time.Now().UTC()
	m.mu.Unlock()

	m.persist()
}

// ClearHistory empties the message log without changing the session id or
// context, and persists the empty state.
func (m *Manager) ClearHistory() {
	m.mu.Lock()
	m.session.Messages = []domain.Message{}
	m.session.UpdatedAt = time.Now().UTC()
	m.mu.Unlock()

	m.persist()
}

// EndSession removes the active-session marker and resets in-memory state.
// The session's own persisted record stays retrievable by id until evicted
// by retention.
func (m *Manager) EndSession() {
	m.mu.Lock()
	id := m.session.ID
	m.session = &domain.Session{
		ID:        "",
		Messages:  []domain.Message{},
		Context:   make(map[string]any),
		CreatedAt: time.Time{},
		UpdatedAt: time.Time{},
	}
	m.mu.Unlock()

	m.setActive("")
	m.log.Info().Str("session_id", id).Msg("session ended")
}

// SessionID returns the current session id, empty after EndSession.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.ID
}

// SessionContext returns a copy of the current session context.
func (m *Manager) SessionContext() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]any, len(m.session.Context))
	for k, v := range m.session.Context {
		out[k] = v
	}
	return out
}

// GetSessionInfo returns a read-only diagnostic snapshot.
func (m *Manager) GetSessionInfo() domain.SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := 0
	for _, msg := range m.session.Messages {
		total += msg.TokenCount
	}

	contextCopy := make(map[string]any, len(m.session.Context))
	for k, v := range m.session.Context {
		contextCopy[k] = v
	}

	return domain.SessionInfo{
		ID:           m.session.ID,
		MessageCount: len(m.session.Messages),
		TotalTokens:  total,
		Context:      contextCopy,
		CreatedAt:    m.session.CreatedAt,
		UpdatedAt:    m.session.UpdatedAt,
	}
}

// persist writes the current session to the store. Best effort: a store
// failure flips the manager to memory-only operation, it never propagates.
func (m *Manager) persist() {
	m.mu.Lock()
	if m.memoryOnly {
		m.mu.Unlock()
		return
	}
	snapshot := *m.session
	snapshot.Messages = append([]domain.Message(nil), m.session.Messages...)
	m.mu.Unlock()

	if snapshot.ID == "" {
		return
	}
	if err := m.store.SaveSession(context.Background(), &snapshot); err != nil {
		m.storeFailed("save session", err)
	}
}

// registerSession appends the id to the known-session list and evicts the
// oldest persisted sessions beyond the retention bound.
func (m *Manager) registerSession(id string) {
	if m.isMemoryOnly() {
		return
	}
	ctx := context.Background()

	ids, err := m.store.SessionIDs(ctx)
	if err != nil {
		m.storeFailed("read session list", err)
		return
	}
	ids = append(ids, id)

	for len(ids) > m.cfg.MaxSessions {
		oldest := ids[0]
		ids = ids[1:]
		if err := m.store.DeleteSession(ctx, oldest); err != nil && err != domain.ErrSessionNotFound {
			m.log.Warn().Err(err).Str("session_id", oldest).Msg("retention eviction failed")
		} else {
			m.log.Debug().Str("session_id", oldest).Msg("session evicted by retention")
		}
	}

	if err := m.store.SetSessionIDs(ctx, ids); err != nil {
		m.storeFailed("write session list", err)
	}
}

func (m *Manager) setActive(id string) {
	if m.isMemoryOnly() {
		return
	}
	if err := m.store.SetActiveSession(context.Background(), id); err != nil {
		m.storeFailed("set active session", err)
	}
}

func (m *Manager) isMemoryOnly() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.memoryOnly
}

func (m *Manager) storeFailed(op string, err error) {
	m.mu.Lock()
	m.memoryOnly = true
	m.mu.Unlock()
	m.log.Error().Err(err).Str("op", op).Msg("session store unavailable, continuing in memory only")
}
