package authn

import (
	"context"
	"sync"
	"time"
)

// memoryStateStore keeps authorization request state in a plain map.
// Expiry is enforced lazily on read and opportunistically on write; the
// store runs no goroutines of its own.
type memoryStateStore struct {
	mu       sync.RWMutex
	requests map[string]*AuthRequestData
	ttl      time.Duration
}

// NewMemoryStateStore creates an in-memory StateStore whose entries
// expire after ttl if never consumed.
func NewMemoryStateStore(ttl time.Duration) StateStore {
	return &memoryStateStore{
		requests: make(map[string]*AuthRequestData),
		ttl:      ttl,
	}
}

func (s *memoryStateStore) PutAuthRequest(ctx context.Context, data *AuthRequestData) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for state, req := range s.requests {
		if now.Sub(req.CreatedAt) > s.ttl {
			delete(s.requests, state)
		}
	}

	s.requests[data.State] = data
	return nil
}

func (s *memoryStateStore) GetAuthRequest(ctx context.Context, state string) (*AuthRequestData, error) {
	s.mu.RLock()
	req, ok := s.requests[state]
	s.mu.RUnlock()

	if !ok {
		return nil, nil
	}

	if time.Since(req.CreatedAt) > s.ttl {
		s.mu.Lock()
		delete(s.requests, state)
		s.mu.Unlock()
		return nil, nil
	}

	return req, nil
}

func (s *memoryStateStore) DeleteAuthRequest(ctx context.Context, state string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.requests, state)
	return nil
}

// memorySessionStore keeps sessions in a plain map. Records are copied
// on both write and read so callers never share a struct with the
// store or with each other; a session returned from GetSession may be
// mutated freely while other requests read their own copies.
type memorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*SessionData
}

// NewMemorySessionStore creates an in-memory SessionStore. Sessions
// live until logout or process exit; production deployments swap in the
// Redis store instead.
func NewMemorySessionStore() SessionStore {
	return &memorySessionStore{
		sessions: make(map[string]*SessionData),
	}
}

func (s *memorySessionStore) PutSession(ctx context.Context, data *SessionData) error {
	stored := *data
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[stored.DID] = &stored
	return nil
}

func (s *memorySessionStore) GetSession(ctx context.Context, did string) (*SessionData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[did]
	if !ok {
		return nil, nil
	}
	out := *session
	return &out, nil
}

func (s *memorySessionStore) DeleteSession(ctx context.Context, did string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, did)
	return nil
}
