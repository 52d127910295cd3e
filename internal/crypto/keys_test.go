package crypto_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestlease/kyc/internal/crypto"
)

func TestParseSigningKey_RSAPEM(t *testing.T) {
	key, err := crypto.GenerateRSAKey()
	require.NoError(t, err)
	pemStr, err := crypto.EncodePKCS8PEM(key)
	require.NoError(t, err)

	parsed, err := crypto.ParseSigningKey(pemStr)
	require.NoError(t, err)

	rsaKey, ok := parsed.(*rsa.PrivateKey)
	require.True(t, ok)
	assert.True(t, rsaKey.Equal(key))
}

func TestParseSigningKey_Base64PEM(t *testing.T) {
	key, err := crypto.GenerateRSAKey()
	require.NoError(t, err)
	pemStr, err := crypto.EncodePKCS8PEM(key)
	require.NoError(t, err)

	encoded := base64.StdEncoding.EncodeToString([]byte(pemStr))
	parsed, err := crypto.ParseSigningKey(encoded)
	require.NoError(t, err)
	assert.IsType(t, &rsa.PrivateKey{}, parsed)
}

func TestParseSigningKey_EC(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	pemStr, err := crypto.EncodePKCS8PEM(key)
	require.NoError(t, err)

	parsed, err := crypto.ParseSigningKey(pemStr)
	require.NoError(t, err)
	assert.IsType(t, &ecdsa.PrivateKey{}, parsed)
}

func TestParseSigningKey_Garbage(t *testing.T) {
	_, err := crypto.ParseSigningKey("not a key at all")
	assert.Error(t, err)

	_, err = crypto.ParseSigningKey("")
	assert.Error(t, err)
}
