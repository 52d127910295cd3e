package idp

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/nestlease/kyc/errors"
)

// The provider only signs userinfo documents with asymmetric algorithms;
// anything else is rejected before signature verification.
var userInfoSigningMethods = []string{"RS256", "RS384", "RS512", "PS256", "PS384", "PS512", "ES256", "ES384", "ES512"}

// FetchProfile retrieves the userinfo document for an access token. The
// response body is a compact JWT, not bare JSON; its signature is verified
// against the provider's published keys and its claims are normalized into
// a canonical Profile.
func (c *Client) FetchProfile(ctx context.Context, accessToken string) (*Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.UserInfoEndpoint, nil)
	if err != nil {
		return nil, &apperrors.ProfileDecodeError{Reason: "failed to build userinfo request", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/jwt")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, mapUserInfoTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, mapUserInfoTransportError(err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &apperrors.ProfileFetchError{
			HTTPStatus: resp.StatusCode,
			Body:       truncate(string(body), 512),
		}
	}

	parserOpts := []jwt.ParserOption{jwt.WithValidMethods(userInfoSigningMethods)}
	if c.opts.UserInfoIssuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(c.opts.UserInfoIssuer))
	}

	claims := jwt.MapClaims{}
	if _, err := jwt.ParseWithClaims(string(bytes.TrimSpace(body)), claims, c.keys.Keyfunc, parserOpts...); err != nil {
		return nil, &apperrors.ProfileDecodeError{Reason: "userinfo JWT rejected", Err: err}
	}

	// The userinfo JWT does not always carry an audience; when it does, it
	// must name us.
	if aud, err := claims.GetAudience(); err == nil && len(aud) > 0 {
		if !containsString(aud, c.opts.ClientID) {
			return nil, &apperrors.ProfileDecodeError{Reason: "userinfo JWT audience does not include this client"}
		}
	}

	return newProfile(claims, c.opts.ClaimsLocales)
}

func mapUserInfoTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &apperrors.TransientNetworkError{Op: "userinfo fetch", Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &apperrors.TransientNetworkError{Op: "userinfo fetch", Err: err}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &apperrors.TransientNetworkError{Op: "userinfo fetch", Err: err}
	}
	return &apperrors.TransientNetworkError{Op: "userinfo fetch", Err: err}
}

func containsString(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
