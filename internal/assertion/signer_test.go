package assertion_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestlease/kyc/errors"
	"github.com/nestlease/kyc/internal/assertion"
	"github.com/nestlease/kyc/internal/crypto"
)

const (
	testClientID = "nestlease-marketplace"
	testTokenURL = "https://idp.example.gov/v1/oauth/token"
)

func TestSign_RS256RoundTrip(t *testing.T) {
	key, err := crypto.GenerateRSAKey()
	require.NoError(t, err)

	signer, err := assertion.NewSigner(testClientID, testTokenURL, "RS256", key, 5*time.Minute)
	require.NoError(t, err)

	signed, err := signer.Sign()
	require.NoError(t, err)

	claims := jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(signed, &claims, func(token *jwt.Token) (any, error) {
		return &key.PublicKey, nil
	}, jwt.WithValidMethods([]string{"RS256"}))
	require.NoError(t, err)
	require.True(t, parsed.Valid)

	assert.Equal(t, testClientID, claims.Issuer)
	assert.Equal(t, testClientID, claims.Subject)
	assert.Equal(t, jwt.ClaimStrings{testTokenURL}, claims.Audience)
	assert.NotEmpty(t, claims.ID)
	assert.LessOrEqual(t, claims.ExpiresAt.Sub(claims.IssuedAt.Time), 5*time.Minute)
}

func TestSign_ES256(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	signer, err := assertion.NewSigner(testClientID, testTokenURL, "ES256", key, 0)
	require.NoError(t, err)

	signed, err := signer.Sign()
	require.NoError(t, err)

	parsed, err := jwt.Parse(signed, func(token *jwt.Token) (any, error) {
		return &key.PublicKey, nil
	}, jwt.WithValidMethods([]string{"ES256"}))
	require.NoError(t, err)
	assert.True(t, parsed.Valid)
}

func TestSign_FreshJTIPerAssertion(t *testing.T) {
	key, err := crypto.GenerateRSAKey()
	require.NoError(t, err)
	signer, err := assertion.NewSigner(testClientID, testTokenURL, "RS256", key, time.Minute)
	require.NoError(t, err)

	ids := make(map[string]struct{})
	for i := 0; i < 8; i++ {
		signed, err := signer.Sign()
		require.NoError(t, err)

		claims := jwt.RegisteredClaims{}
		_, err = jwt.ParseWithClaims(signed, &claims, func(*jwt.Token) (any, error) {
			return &key.PublicKey, nil
		}, jwt.WithValidMethods([]string{"RS256"}))
		require.NoError(t, err)

		_, dup := ids[claims.ID]
		require.False(t, dup, "jti reused")
		ids[claims.ID] = struct{}{}
	}
}

func TestNewSigner_ConfigurationErrors(t *testing.T) {
	rsaKey, err := crypto.GenerateRSAKey()
	require.NoError(t, err)
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	_, err = assertion.NewSigner(testClientID, testTokenURL, "RS256", nil, time.Minute)
	assertConfigErr(t, err)

	_, err = assertion.NewSigner(testClientID, testTokenURL, "HS256", rsaKey, time.Minute)
	assertConfigErr(t, err)

	_, err = assertion.NewSigner(testClientID, testTokenURL, "XX512", rsaKey, time.Minute)
	assertConfigErr(t, err)

	_, err = assertion.NewSigner(testClientID, testTokenURL, "RS256", ecKey, time.Minute)
	assertConfigErr(t, err)

	_, err = assertion.NewSigner(testClientID, testTokenURL, "ES256", rsaKey, time.Minute)
	assertConfigErr(t, err)

	_, err = assertion.NewSigner(testClientID, testTokenURL, "RS256", rsaKey, 3*time.Hour)
	assertConfigErr(t, err)
}

func TestSign_MissingClientID(t *testing.T) {
	key, err := crypto.GenerateRSAKey()
	require.NoError(t, err)
	signer, err := assertion.NewSigner("", testTokenURL, "RS256", key, time.Minute)
	require.NoError(t, err)

	_, err = signer.Sign()
	var buildErr *errors.AssertionBuildError
	require.ErrorAs(t, err, &buildErr)
}

func assertConfigErr(t *testing.T, err error) {
	t.Helper()
	var cfgErr *errors.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}
