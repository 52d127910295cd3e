package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/nestlease/kyc/domain"
)

// MemorySessionStore holds pending verification sessions in process memory,
// keyed by their opaque state. Suitable for a single instance; multi-instance
// deployments need the Redis or Mongo store so the callback can land on any
// replica.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions *ttlcache.Cache[string, *domain.VerificationSession]
}

// NewMemorySessionStore creates a store whose entries expire with their
// session deadlines.
func NewMemorySessionStore() *MemorySessionStore {
	sessions := ttlcache.New(
		ttlcache.WithDisableTouchOnHit[string, *domain.VerificationSession](),
	)
	go sessions.Start()

	return &MemorySessionStore{sessions: sessions}
}

// Put stores a pending session. A state collision is rejected rather than
// overwritten so an attacker cannot rebind an in-flight state to a different
// session.
func (s *MemorySessionStore) Put(_ context.Context, session *domain.VerificationSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sessions.Has(session.State) {
		return domain.ErrDuplicateState
	}
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return domain.ErrSessionExpired
	}
	s.sessions.Set(session.State, session, ttl)
	return nil
}

// TakeByState removes and returns the session for a state in one step, so a
// replayed callback with the same state finds nothing. Expired entries are
// treated as absent even if the janitor has not collected them yet.
func (s *MemorySessionStore) TakeByState(_ context.Context, state string) (*domain.VerificationSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.sessions.Get(state)
	if item == nil {
		return nil, domain.ErrSessionNotFound
	}
	s.sessions.Delete(state)

	session := item.Value()
	if session.Expired(time.Now()) {
		return nil, domain.ErrSessionNotFound
	}
	return session, nil
}

// Close stops the expiry janitor.
func (s *MemorySessionStore) Close() {
	s.sessions.Stop()
}
