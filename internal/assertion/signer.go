// Package assertion builds the signed JWT a client presents to the token
// endpoint to prove its identity (private_key_jwt client authentication).
package assertion

import (
	stdcrypto "crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	apperrors "github.com/nestlease/kyc/errors"
)

// MaxTTL is the longest assertion validity the provider accepts.
const MaxTTL = 2 * time.Hour

// DefaultTTL keeps the replay surface minimal.
const DefaultTTL = 5 * time.Minute

// Signer produces short-lived client assertions. It performs no network I/O;
// the signing key is immutable process-wide state loaded once at startup.
type Signer struct {
	clientID string
	audience string
	method   jwt.SigningMethod
	key      stdcrypto.Signer
	ttl      time.Duration
	now      func() time.Time
}

// NewSigner validates the signing configuration and returns a Signer.
// The algorithm is configuration, not a hardcoded constant: the provider
// mandates an asymmetric method, so only RS*, PS* and ES* are accepted, and
// the method must match the key type.
func NewSigner(clientID, tokenEndpoint, alg string, key stdcrypto.Signer, ttl time.Duration) (*Signer, error) {
	if key == nil {
		return nil, apperrors.NewConfiguration("PRIVATE_SIGNING_KEY", "signing key is missing")
	}

	method := jwt.GetSigningMethod(alg)
	if method == nil {
		return nil, apperrors.NewConfiguration("SIGNING_ALGORITHM", "unknown signing algorithm "+alg)
	}

	switch {
	case strings.HasPrefix(alg, "RS"), strings.HasPrefix(alg, "PS"):
		if _, ok := key.(*rsa.PrivateKey); !ok {
			return nil, apperrors.NewConfiguration("SIGNING_ALGORITHM", alg+" requires an RSA private key")
		}
	case strings.HasPrefix(alg, "ES"):
		if _, ok := key.(*ecdsa.PrivateKey); !ok {
			return nil, apperrors.NewConfiguration("SIGNING_ALGORITHM", alg+" requires an ECDSA private key")
		}
	default:
		// HS* and none are symmetric or unsigned; both violate the
		// provider's trust model for client authentication.
		return nil, apperrors.NewConfiguration("SIGNING_ALGORITHM", alg+" is not an asymmetric algorithm")
	}

	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if ttl > MaxTTL {
		return nil, apperrors.NewConfiguration("ASSERTION_TTL_MIN", "assertion TTL exceeds 2 hours")
	}

	return &Signer{
		clientID: clientID,
		audience: tokenEndpoint,
		method:   method,
		key:      key,
		ttl:      ttl,
		now:      time.Now,
	}, nil
}

// Sign builds and signs a fresh assertion. The result is constructed per
// token exchange and discarded, never persisted.
func (s *Signer) Sign() (string, error) {
	if s.clientID == "" {
		return "", &apperrors.AssertionBuildError{Reason: "client id is empty"}
	}
	if s.audience == "" {
		return "", &apperrors.AssertionBuildError{Reason: "token endpoint audience is empty"}
	}

	now := s.now()
	claims := jwt.RegisteredClaims{
		Issuer:    s.clientID,
		Subject:   s.clientID,
		Audience:  jwt.ClaimStrings{s.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		ID:        uuid.NewString(),
	}

	token := jwt.NewWithClaims(s.method, claims)
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", &apperrors.AssertionBuildError{Reason: "failed to sign assertion", Err: err}
	}
	return signed, nil
}
