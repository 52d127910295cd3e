package domain

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrDuplicateState is returned by SessionStore.Put when a session with
	// the same state value already exists. Overwriting is disallowed to block
	// session fixation.
	ErrDuplicateState = errors.New("verification session with this state already exists")

	// ErrSessionNotFound is returned by SessionStore.TakeByState when no live
	// session matches the state: never stored, expired, or already consumed.
	ErrSessionNotFound = errors.New("verification session not found")

	// ErrSessionExpired is returned by SessionStore.Put when the session's
	// ExpiresAt is already in the past.
	ErrSessionExpired = errors.New("verification session already expired")
)

// VerificationSession correlates an authorization redirect with its eventual
// callback. It is created when an authorization URL is issued, survives the
// browser round-trip in a SessionStore, and is consumed exactly once.
type VerificationSession struct {
	State               string    `bson:"state"                 json:"state"`
	Nonce               string    `bson:"nonce"                 json:"nonce"`
	CodeVerifier        string    `bson:"code_verifier"         json:"code_verifier"`
	CodeChallenge       string    `bson:"code_challenge"        json:"code_challenge"`
	CodeChallengeMethod string    `bson:"code_challenge_method" json:"code_challenge_method"`
	UserID              string    `bson:"user_id"               json:"user_id"`
	PriorStatus         KYCStatus `bson:"prior_status"          json:"prior_status"`
	CreatedAt           time.Time `bson:"created_at"            json:"created_at"`
	ExpiresAt           time.Time `bson:"expires_at"            json:"expires_at"`
}

// Expired reports whether the session is outside its validity window.
func (s *VerificationSession) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// SessionStore keeps verification sessions across the redirect boundary.
// Implementations must make TakeByState atomic: two callbacks racing on the
// same state must yield the session to exactly one of them.
type SessionStore interface {
	// Put stores the session until its ExpiresAt. An existing session with
	// the same state fails with ErrDuplicateState.
	Put(ctx context.Context, session *VerificationSession) error

	// TakeByState retrieves and deletes the session in one step. Returns
	// ErrSessionNotFound if the state is absent, expired, or was already
	// taken.
	TakeByState(ctx context.Context, state string) (*VerificationSession, error)
}
