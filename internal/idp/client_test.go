package idp_test

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/nestlease/kyc/errors"
	"github.com/nestlease/kyc/internal/assertion"
	"github.com/nestlease/kyc/internal/crypto"
	"github.com/nestlease/kyc/internal/idp"
	"github.com/nestlease/kyc/internal/pkce"
)

const (
	testClientID = "nestlease-marketplace"
	testKid      = "prov-key-1"
)

// fakeProvider stands in for the identity provider: token endpoint, userinfo
// endpoint, and a JWKS document for the key it signs userinfo JWTs with.
type fakeProvider struct {
	server   *httptest.Server
	key      *rsa.PrivateKey
	token    http.HandlerFunc
	userinfo http.HandlerFunc
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()

	key, err := crypto.GenerateRSAKey()
	require.NoError(t, err)

	fp := &fakeProvider{key: key}
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		if fp.token != nil {
			fp.token(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/oidc/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if fp.userinfo != nil {
			fp.userinfo(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/.well-known/jwks.json", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		pub := &fp.key.PublicKey
		_ = json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]string{{
				"kid": testKid,
				"kty": "RSA",
				"alg": "RS256",
				"use": "sig",
				"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			}},
		})
	})

	fp.server = httptest.NewServer(mux)
	t.Cleanup(fp.server.Close)
	return fp
}

// signUserInfo produces the compact JWT the userinfo endpoint returns.
func (fp *fakeProvider) signUserInfo(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKid
	signed, err := token.SignedString(fp.key)
	require.NoError(t, err)
	return signed
}

func newTestClient(t *testing.T, fp *fakeProvider, mutate func(*idp.Options)) *idp.Client {
	t.Helper()

	clientKey, err := crypto.GenerateRSAKey()
	require.NoError(t, err)
	signer, err := assertion.NewSigner(testClientID, fp.server.URL+"/oauth/token", "RS256", clientKey, time.Minute)
	require.NoError(t, err)

	opts := idp.Options{
		ClientID:              testClientID,
		RedirectURI:           "https://app.nestlease.example/kyc/callback",
		AuthorizationEndpoint: fp.server.URL + "/oauth/authorize",
		TokenEndpoint:         fp.server.URL + "/oauth/token",
		UserInfoEndpoint:      fp.server.URL + "/oidc/userinfo",
		JWKSEndpoint:          fp.server.URL + "/.well-known/jwks.json",
		UserInfoIssuer:        "https://idp.example.gov",
		Scopes:                []string{"openid", "profile"},
		EssentialClaims:       []string{"name", "birthdate"},
		VoluntaryClaims:       []string{"picture"},
		ClaimsLocales:         []string{"am", "en"},
	}
	if mutate != nil {
		mutate(&opts)
	}

	client, err := idp.New(opts, signer)
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func TestAuthorizationURL(t *testing.T) {
	fp := newFakeProvider(t)
	client := newTestClient(t, fp, nil)

	pair, err := pkce.NewPair()
	require.NoError(t, err)

	authURL, err := client.AuthorizationURL(pair, "state-1", "nonce-1")
	require.NoError(t, err)

	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	q := parsed.Query()

	assert.Equal(t, testClientID, q.Get("client_id"))
	assert.Equal(t, "https://app.nestlease.example/kyc/callback", q.Get("redirect_uri"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "openid profile", q.Get("scope"))
	assert.Equal(t, "state-1", q.Get("state"))
	assert.Equal(t, "nonce-1", q.Get("nonce"))
	assert.Equal(t, pair.Challenge, q.Get("code_challenge"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.Equal(t, "am en", q.Get("claims_locales"))

	var manifest struct {
		UserInfo map[string]struct {
			Essential bool `json:"essential"`
		} `json:"userinfo"`
	}
	require.NoError(t, json.Unmarshal([]byte(q.Get("claims")), &manifest))
	assert.True(t, manifest.UserInfo["name"].Essential)
	assert.True(t, manifest.UserInfo["birthdate"].Essential)
	assert.False(t, manifest.UserInfo["picture"].Essential)
}

func TestAuthorizationURL_RequiresFreshInputs(t *testing.T) {
	fp := newFakeProvider(t)
	client := newTestClient(t, fp, nil)

	pair, err := pkce.NewPair()
	require.NoError(t, err)

	_, err = client.AuthorizationURL(nil, "state", "nonce")
	assert.Error(t, err)
	_, err = client.AuthorizationURL(pair, "", "nonce")
	assert.Error(t, err)
	_, err = client.AuthorizationURL(pair, "state", "")
	assert.Error(t, err)
}

func TestExchangeCode_Success(t *testing.T) {
	fp := newFakeProvider(t)
	client := newTestClient(t, fp, nil)

	var form url.Values
	fp.token = func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"abc","token_type":"Bearer","expires_in":3600,"scope":"openid profile"}`))
	}

	resp, err := client.ExchangeCode(context.Background(), "auth-code-1", "verifier-1")
	require.NoError(t, err)

	assert.Equal(t, "abc", resp.AccessToken)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, int64(3600), resp.ExpiresIn)
	assert.Equal(t, "openid profile", resp.Scope)

	assert.Equal(t, "authorization_code", form.Get("grant_type"))
	assert.Equal(t, "auth-code-1", form.Get("code"))
	assert.Equal(t, "verifier-1", form.Get("code_verifier"))
	assert.Equal(t, testClientID, form.Get("client_id"))
	assert.Equal(t, "https://app.nestlease.example/kyc/callback", form.Get("redirect_uri"))
	assert.Equal(t, idp.DefaultClientAssertionType, form.Get("client_assertion_type"))
	assert.NotEmpty(t, form.Get("client_assertion"))

	// The assertion must be a well-formed JWT naming us as iss/sub.
	claims := jwt.MapClaims{}
	_, _, err = jwt.NewParser().ParseUnverified(form.Get("client_assertion"), claims)
	require.NoError(t, err)
	assert.Equal(t, testClientID, claims["iss"])
	assert.Equal(t, testClientID, claims["sub"])
}

func TestExchangeCode_ProviderRejection(t *testing.T) {
	fp := newFakeProvider(t)
	client := newTestClient(t, fp, nil)

	fp.token = func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"code expired"}`))
	}

	_, err := client.ExchangeCode(context.Background(), "stale-code", "verifier")
	var exchangeErr *apperrors.TokenExchangeError
	require.ErrorAs(t, err, &exchangeErr)
	assert.Equal(t, "invalid_grant", exchangeErr.Code)
	assert.Equal(t, "code expired", exchangeErr.Description)
	assert.Equal(t, http.StatusBadRequest, exchangeErr.HTTPStatus)
}

func TestExchangeCode_Timeout(t *testing.T) {
	fp := newFakeProvider(t)
	client := newTestClient(t, fp, func(o *idp.Options) {
		o.HTTPTimeout = 50 * time.Millisecond
	})

	fp.token = func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(300 * time.Millisecond)
		_, _ = w.Write([]byte(`{}`))
	}

	_, err := client.ExchangeCode(context.Background(), "code", "verifier")
	var netErr *apperrors.TransientNetworkError
	require.ErrorAs(t, err, &netErr)
}

func TestFetchProfile_Success(t *testing.T) {
	fp := newFakeProvider(t)
	client := newTestClient(t, fp, nil)

	var gotAuth string
	fp.userinfo = func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/jwt")
		_, _ = w.Write([]byte(fp.signUserInfo(t, jwt.MapClaims{
			"iss":         "https://idp.example.gov",
			"sub":         "X123",
			"given_name":  "Almaz",
			"family_name": "Tesfaye",
			"email":       "almaz@example.com",
			"exp":         time.Now().Add(time.Minute).Unix(),
		})))
	}

	profile, err := client.FetchProfile(context.Background(), "abc")
	require.NoError(t, err)

	assert.Equal(t, "Bearer abc", gotAuth)
	assert.Equal(t, "X123", profile.SubjectID)
	assert.Equal(t, "Almaz", profile.GivenName)
	assert.Equal(t, "Tesfaye", profile.FamilyName)
	assert.Equal(t, "almaz@example.com", profile.Email)
	assert.Equal(t, "X123", profile.RawClaims["sub"])
}

func TestFetchProfile_WrongIssuer(t *testing.T) {
	fp := newFakeProvider(t)
	client := newTestClient(t, fp, nil)

	fp.userinfo = func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(fp.signUserInfo(t, jwt.MapClaims{
			"iss": "https://evil.example",
			"sub": "X123",
		})))
	}

	_, err := client.FetchProfile(context.Background(), "abc")
	var decodeErr *apperrors.ProfileDecodeError
	require.ErrorAs(t, err, &decodeErr)
}

func TestFetchProfile_BadSignature(t *testing.T) {
	fp := newFakeProvider(t)
	client := newTestClient(t, fp, nil)

	// Signed by a key the provider never published.
	rogueKey, err := crypto.GenerateRSAKey()
	require.NoError(t, err)
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss": "https://idp.example.gov",
		"sub": "X123",
	})
	token.Header["kid"] = testKid
	forged, err := token.SignedString(rogueKey)
	require.NoError(t, err)

	fp.userinfo = func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(forged))
	}

	_, err = client.FetchProfile(context.Background(), "abc")
	var decodeErr *apperrors.ProfileDecodeError
	require.ErrorAs(t, err, &decodeErr)
}

func TestFetchProfile_HTTPError(t *testing.T) {
	fp := newFakeProvider(t)
	client := newTestClient(t, fp, nil)

	fp.userinfo = func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("upstream exploded"))
	}

	_, err := client.FetchProfile(context.Background(), "abc")
	var fetchErr *apperrors.ProfileFetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, http.StatusInternalServerError, fetchErr.HTTPStatus)
}

func TestFetchProfile_NotAJWT(t *testing.T) {
	fp := newFakeProvider(t)
	client := newTestClient(t, fp, nil)

	fp.userinfo = func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sub":"X123"}`))
	}

	_, err := client.FetchProfile(context.Background(), "abc")
	var decodeErr *apperrors.ProfileDecodeError
	require.ErrorAs(t, err, &decodeErr)
}
