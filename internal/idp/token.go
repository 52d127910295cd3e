package idp

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"

	apperrors "github.com/nestlease/kyc/errors"
)

// TokenResponse is the provider's answer to a successful code exchange.
type TokenResponse struct {
	AccessToken string
	TokenType   string
	ExpiresIn   int64
	Scope       string
}

// ExchangeCode redeems an authorization code at the token endpoint. The
// request carries the session's PKCE verifier and a freshly signed client
// assertion; authorization codes are single-use by provider contract, so a
// failed exchange is never retried with the same code.
func (c *Client) ExchangeCode(ctx context.Context, code, codeVerifier string) (*TokenResponse, error) {
	if code == "" {
		return nil, &apperrors.TokenExchangeError{
			Code:        apperrors.InvalidRequest,
			Description: "authorization code is empty",
		}
	}

	clientAssertion, err := c.signer.Sign()
	if err != nil {
		return nil, err
	}

	// Route the exchange through our bounded client.
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)

	tok, err := c.oauthConfig().Exchange(ctx, code,
		oauth2.SetAuthURLParam("code_verifier", codeVerifier),
		oauth2.SetAuthURLParam("client_assertion_type", c.opts.ClientAssertionType),
		oauth2.SetAuthURLParam("client_assertion", clientAssertion),
	)
	if err != nil {
		return nil, mapExchangeError(err)
	}

	resp := &TokenResponse{
		AccessToken: tok.AccessToken,
		TokenType:   tok.TokenType,
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		resp.Scope = scope
	}
	resp.ExpiresIn = expiresIn(tok)

	return resp, nil
}

func expiresIn(tok *oauth2.Token) int64 {
	if tok.ExpiresIn > 0 {
		return tok.ExpiresIn
	}
	switch v := tok.Extra("expires_in").(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	if !tok.Expiry.IsZero() {
		return int64(time.Until(tok.Expiry).Seconds())
	}
	return 0
}

// mapExchangeError translates transport failures into the core taxonomy.
// A structured provider rejection becomes a TokenExchangeError carrying the
// OAuth error code; everything else (timeouts, refused connections) is a
// TransientNetworkError whose initiation may be retried with a new session.
func mapExchangeError(err error) error {
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) {
		status := 0
		if rErr.Response != nil {
			status = rErr.Response.StatusCode
		}
		code := rErr.ErrorCode
		description := rErr.ErrorDescription
		if code == "" {
			code = apperrors.ServerError
			description = strings.TrimSpace(string(rErr.Body))
		}
		return &apperrors.TokenExchangeError{
			Code:        code,
			Description: description,
			HTTPStatus:  status,
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &apperrors.TransientNetworkError{Op: "token exchange", Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &apperrors.TransientNetworkError{Op: "token exchange", Err: err}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &apperrors.TransientNetworkError{Op: "token exchange", Err: err}
	}

	return &apperrors.TransientNetworkError{Op: "token exchange", Err: err}
}
