package history

import (
	"context"
	"errors"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/avralabs/chatlink/internal/domain"
)

var errFlakyStore = errors.New("store offline")

// memStore is an in-memory SessionStore for round-trip tests.
type memStore struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
	active   string
	ids      []string
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[string]*domain.Session)}
}

func (s *memStore) SaveSession(ctx context.Context, session *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *session
	cp.Messages = append([]domain.Message(nil), session.Messages...)
	s.sessions[session.ID] = &cp
	return nil
}

func (s *memStore) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	cp := *session
	cp.Messages = append([]domain.Message(nil), session.Messages...)
	return &cp, nil
}

func (s *memStore) DeleteSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return domain.ErrSessionNotFound
	}
	delete(s.sessions, id)
	return nil
}

func (s *memStore) SetActiveSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = id
	return nil
}

func (s *memStore) ActiveSession(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active, nil
}

func (s *memStore) SessionIDs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ids...), nil
}

func (s *memStore) SetSessionIDs(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append([]string(nil), ids...)
	return nil
}

func (s *memStore) storedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ids...)
}

// flakyStore accepts a fixed number of saves, then fails every one after.
type flakyStore struct {
	mu        sync.Mutex
	failAfter int
	saves     int
}

func (s *flakyStore) SaveSession(ctx context.Context, session *domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.saves > s.failAfter {
		return errFlakyStore
	}
	return nil
}

func (s *flakyStore) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	return nil, domain.ErrSessionNotFound
}

func (s *flakyStore) DeleteSession(ctx context.Context, id string) error { return nil }

func (s *flakyStore) SetActiveSession(ctx context.Context, id string) error { return nil }

func (s *flakyStore) ActiveSession(ctx context.Context) (string, error) { return "", nil }

func (s *flakyStore) SessionIDs(ctx context.Context) ([]string, error) { return nil, nil }

func (s *flakyStore) SetSessionIDs(ctx context.Context, ids []string) error { return nil }

// MockSessionStore injects store failures.
type MockSessionStore struct {
	mock.Mock
}

func (m *MockSessionStore) SaveSession(ctx context.Context, session *domain.Session) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *MockSessionStore) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Session), args.Error(1)
}

func (m *MockSessionStore) DeleteSession(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockSessionStore) SetActiveSession(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockSessionStore) ActiveSession(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockSessionStore) SessionIDs(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockSessionStore) SetSessionIDs(ctx context.Context, ids []string) error {
	args := m.Called(ctx, ids)
	return args.Error(0)
}
