// Package errors defines the failure taxonomy of the verification core.
// Every component surfaces one of these types so the callback state machine
// can map failures to a terminal reason without string matching.
package errors

import (
	"errors"
	"fmt"
)

// Standard OAuth2 error codes a provider may return.
const (
	InvalidRequest         = "invalid_request"
	UnauthorizedClient     = "unauthorized_client"
	AccessDenied           = "access_denied"
	InvalidClient          = "invalid_client"
	InvalidGrant           = "invalid_grant"
	ServerError            = "server_error"
	TemporarilyUnavailable = "temporarily_unavailable"
)

// ErrInvalidState marks a callback whose state was never stored, expired, or
// was already consumed. Matched with errors.Is.
var ErrInvalidState = errors.New("verification state not found, expired, or already consumed")

// ConfigurationError reports missing or malformed startup configuration
// (signing key, endpoints). It is fatal at startup and never per-request.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// NewConfiguration builds a ConfigurationError for the given config field.
func NewConfiguration(field, reason string) *ConfigurationError {
	return &ConfigurationError{Field: field, Reason: reason}
}

// AssertionBuildError reports a client assertion that could not be built or
// signed from otherwise valid configuration.
type AssertionBuildError struct {
	Reason string
	Err    error
}

func (e *AssertionBuildError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("client assertion: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("client assertion: %s", e.Reason)
}

func (e *AssertionBuildError) Unwrap() error { return e.Err }

// ProviderDeniedError reports that the provider redirected back with an OAuth
// error instead of an authorization code (the user declined, or the provider
// rejected the request).
type ProviderDeniedError struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func (e *ProviderDeniedError) Error() string {
	return fmt.Sprintf("provider denied authorization: %s: %s", e.Code, e.Description)
}

// TokenExchangeError reports a non-2xx response from the token endpoint,
// carrying the provider's OAuth error code and description.
type TokenExchangeError struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	HTTPStatus  int    `json:"-"`
}

func (e *TokenExchangeError) Error() string {
	return fmt.Sprintf("token exchange failed (%d): %s: %s", e.HTTPStatus, e.Code, e.Description)
}

// TransientNetworkError reports a timeout or connection failure talking to
// the provider. The initiation is safe to retry with a fresh session; a
// consumed authorization code must never be replayed.
type TransientNetworkError struct {
	Op  string
	Err error
}

func (e *TransientNetworkError) Error() string {
	return fmt.Sprintf("transient network error during %s: %v", e.Op, e.Err)
}

func (e *TransientNetworkError) Unwrap() error { return e.Err }

// ProfileFetchError reports an HTTP-level failure from the userinfo endpoint.
type ProfileFetchError struct {
	HTTPStatus int
	Body       string
}

func (e *ProfileFetchError) Error() string {
	return fmt.Sprintf("userinfo fetch failed: status %d: %s", e.HTTPStatus, e.Body)
}

// ProfileDecodeError reports a userinfo response that could not be decoded or
// whose JWT failed signature or claim validation.
type ProfileDecodeError struct {
	Reason string
	Err    error
}

func (e *ProfileDecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("userinfo decode failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("userinfo decode failed: %s", e.Reason)
}

func (e *ProfileDecodeError) Unwrap() error { return e.Err }

// PersistenceError reports a failed write of the verification outcome or the
// user's status.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failed during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
