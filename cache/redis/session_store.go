package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nestlease/kyc/domain"
)

// SessionStore keeps pending verification sessions in Redis so the provider
// callback can be handled by any instance behind the load balancer. Sessions
// expire with the Redis key TTL, so no sweeper is needed.
type SessionStore struct {
	client *redis.Client
	prefix string
}

// NewSessionStore creates a new [SessionStore] with an optional key prefix.
func NewSessionStore(client *redis.Client, prefix string) *SessionStore {
	return &SessionStore{
		client: client,
		prefix: prefix,
	}
}

func (r *SessionStore) redisKey(state string) string {
	return fmt.Sprintf("%s:kyc:session:%s", r.prefix, state)
}

// Put stores a session under its state. SET NX makes a state collision fail
// instead of silently rebinding the state to a new session.
func (r *SessionStore) Put(ctx context.Context, session *domain.VerificationSession) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return domain.ErrSessionExpired
	}

	ok, err := r.client.SetNX(ctx, r.redisKey(session.State), payload, ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to store session in Redis: %w", err)
	}
	if !ok {
		return domain.ErrDuplicateState
	}
	return nil
}

// TakeByState atomically reads and deletes the session for a state via
// GETDEL. Of any number of racing callbacks with the same state, exactly one
// observes the session.
func (r *SessionStore) TakeByState(ctx context.Context, state string) (*domain.VerificationSession, error) {
	raw, err := r.client.GetDel(ctx, r.redisKey(state)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to take session from Redis: %w", err)
	}

	var session domain.VerificationSession
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	if session.Expired(time.Now()) {
		return nil, domain.ErrSessionNotFound
	}
	return &session, nil
}
