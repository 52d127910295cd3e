// Package pkce implements RFC 7636 Proof Key for Code Exchange generation,
// plus the state and nonce values every authorization request carries.
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// MethodS256 is the only challenge method this client ever sends.
const MethodS256 = "S256"

// verifierBytes yields a 43-character base64url verifier, the RFC 7636
// minimum. 32 bytes of entropy is ample for a single-use secret.
const verifierBytes = 32

// Pair is a fresh verifier/challenge pair for one verification attempt.
type Pair struct {
	Verifier  string
	Challenge string
	Method    string
}

// NewPair generates a code verifier from a cryptographically secure source
// and derives its S256 challenge. Pure generation, no side effects; the only
// failure mode is entropy-source exhaustion.
func NewPair() (*Pair, error) {
	b := make([]byte, verifierBytes)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to generate code verifier: %w", err)
	}
	verifier := base64.RawURLEncoding.EncodeToString(b)

	return &Pair{
		Verifier:  verifier,
		Challenge: Challenge(verifier),
		Method:    MethodS256,
	}, nil
}

// Challenge derives the S256 code challenge for a verifier:
// base64url(SHA-256(verifier)), no padding.
func Challenge(verifier string) string {
	h := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(h[:])
}

// NewState generates an unguessable state parameter for CSRF protection.
func NewState() (string, error) {
	return randomToken("state")
}

// NewNonce generates an unguessable nonce to bind into the identity token.
func NewNonce() (string, error) {
	return randomToken("nonce")
}

func randomToken(kind string) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate %s: %w", kind, err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
