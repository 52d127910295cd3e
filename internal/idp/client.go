// Package idp is the relying-party client for the external digital-identity
// provider: authorization URL construction, authorization-code exchange with
// private_key_jwt client authentication, and signed-JWT userinfo resolution.
package idp

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	apperrors "github.com/nestlease/kyc/errors"
	"github.com/nestlease/kyc/internal/assertion"
	"github.com/nestlease/kyc/internal/pkce"
)

// DefaultClientAssertionType is the fixed value RFC 7523 requires for JWT
// client assertions.
const DefaultClientAssertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

// DefaultHTTPTimeout bounds every provider round-trip so a stuck endpoint
// surfaces as a TransientNetworkError instead of hanging the callback.
const DefaultHTTPTimeout = 10 * time.Second

// Options is the explicit provider configuration injected into the client.
// There is no module-level singleton: construct one Client per provider and
// pass it where needed.
type Options struct {
	ClientID              string
	RedirectURI           string
	AuthorizationEndpoint string
	TokenEndpoint         string
	UserInfoEndpoint      string
	JWKSEndpoint          string

	// UserInfoIssuer is the iss value expected in the signed userinfo JWT.
	UserInfoIssuer string

	Scopes          []string
	EssentialClaims []string
	VoluntaryClaims []string
	ClaimsLocales   []string

	ClientAssertionType string
	HTTPTimeout         time.Duration
}

// Client talks to the identity provider. Safe for concurrent use.
type Client struct {
	opts       Options
	signer     *assertion.Signer
	httpClient *http.Client
	keys       *KeySet
}

// New validates the provider wiring and returns a Client.
func New(opts Options, signer *assertion.Signer) (*Client, error) {
	for field, value := range map[string]string{
		"CLIENT_ID":              opts.ClientID,
		"REDIRECT_URI":           opts.RedirectURI,
		"AUTHORIZATION_ENDPOINT": opts.AuthorizationEndpoint,
		"TOKEN_ENDPOINT":         opts.TokenEndpoint,
		"USERINFO_ENDPOINT":      opts.UserInfoEndpoint,
		"JWKS_ENDPOINT":          opts.JWKSEndpoint,
	} {
		if value == "" {
			return nil, apperrors.NewConfiguration(field, "must not be empty")
		}
	}
	if signer == nil {
		return nil, apperrors.NewConfiguration("PRIVATE_SIGNING_KEY", "client assertion signer is not configured")
	}
	if opts.ClientAssertionType == "" {
		opts.ClientAssertionType = DefaultClientAssertionType
	}
	if opts.HTTPTimeout <= 0 {
		opts.HTTPTimeout = DefaultHTTPTimeout
	}

	httpClient := &http.Client{Timeout: opts.HTTPTimeout}

	return &Client{
		opts:       opts,
		signer:     signer,
		httpClient: httpClient,
		keys:       NewKeySet(opts.JWKSEndpoint, httpClient),
	}, nil
}

// Close releases the JWKS cache lifecycle goroutine.
func (c *Client) Close() {
	c.keys.Close()
}

func (c *Client) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:    c.opts.ClientID,
		RedirectURL: c.opts.RedirectURI,
		Scopes:      c.opts.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  c.opts.AuthorizationEndpoint,
			TokenURL: c.opts.TokenEndpoint,
			// The provider authenticates us via the client assertion in the
			// form body, so all parameters travel in params.
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// AuthorizationURL builds the redirect URL for one verification attempt.
// Every call must receive a freshly generated state, nonce and PKCE pair;
// the caller persists the VerificationSession before redirecting. Pure, no
// network I/O.
func (c *Client) AuthorizationURL(p *pkce.Pair, state, nonce string) (string, error) {
	if p == nil || p.Verifier == "" || p.Challenge == "" {
		return "", apperrors.NewConfiguration("code_challenge", "PKCE pair is missing")
	}
	if state == "" || nonce == "" {
		return "", apperrors.NewConfiguration("state", "state and nonce must be freshly generated")
	}

	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("nonce", nonce),
		oauth2.SetAuthURLParam("code_challenge", p.Challenge),
		oauth2.SetAuthURLParam("code_challenge_method", p.Method),
	}
	if len(c.opts.ClaimsLocales) > 0 {
		opts = append(opts, oauth2.SetAuthURLParam("claims_locales", strings.Join(c.opts.ClaimsLocales, " ")))
	}
	manifest, err := c.claimsManifest()
	if err != nil {
		return "", err
	}
	if manifest != "" {
		opts = append(opts, oauth2.SetAuthURLParam("claims", manifest))
	}

	return c.oauthConfig().AuthCodeURL(state, opts...), nil
}

// claimsManifest renders the OIDC claims request parameter: an explicit
// manifest naming each requested userinfo attribute and whether it is
// essential.
func (c *Client) claimsManifest() (string, error) {
	if len(c.opts.EssentialClaims) == 0 && len(c.opts.VoluntaryClaims) == 0 {
		return "", nil
	}

	userinfo := make(map[string]any, len(c.opts.EssentialClaims)+len(c.opts.VoluntaryClaims))
	for _, name := range c.opts.EssentialClaims {
		userinfo[name] = map[string]bool{"essential": true}
	}
	for _, name := range c.opts.VoluntaryClaims {
		if _, exists := userinfo[name]; exists {
			continue
		}
		userinfo[name] = map[string]bool{"essential": false}
	}

	raw, err := json.Marshal(map[string]any{"userinfo": userinfo})
	if err != nil {
		return "", apperrors.NewConfiguration("ESSENTIAL_CLAIMS", "cannot encode claims manifest: "+err.Error())
	}
	return string(raw), nil
}
