// Package verification orchestrates the digital-identity verification flow:
// issuing authorization redirects, validating provider callbacks, and turning
// verified profiles into durable outcomes.
package verification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/nestlease/kyc/domain"
	apperrors "github.com/nestlease/kyc/errors"
	"github.com/nestlease/kyc/internal/idp"
	"github.com/nestlease/kyc/internal/pkce"
)

// DefaultSessionTTL is how long a user has to complete the provider flow
// before the session expires and the callback is rejected.
const DefaultSessionTTL = 10 * time.Minute

// IdentityClient is the slice of the provider client the flow needs.
type IdentityClient interface {
	AuthorizationURL(p *pkce.Pair, state, nonce string) (string, error)
	ExchangeCode(ctx context.Context, code, codeVerifier string) (*idp.TokenResponse, error)
	FetchProfile(ctx context.Context, accessToken string) (*idp.Profile, error)
}

// Service drives verification flows end to end. Safe for concurrent use.
type Service struct {
	idp        IdentityClient
	sessions   domain.SessionStore
	outcomes   domain.OutcomeRepository
	users      domain.UserDirectory
	sessionTTL time.Duration
	now        func() time.Time
}

// NewService wires the flow orchestrator. A non-positive sessionTTL falls
// back to DefaultSessionTTL.
func NewService(
	client IdentityClient,
	sessions domain.SessionStore,
	outcomes domain.OutcomeRepository,
	users domain.UserDirectory,
	sessionTTL time.Duration,
) *Service {
	if sessionTTL <= 0 {
		sessionTTL = DefaultSessionTTL
	}
	return &Service{
		idp:        client,
		sessions:   sessions,
		outcomes:   outcomes,
		users:      users,
		sessionTTL: sessionTTL,
		now:        time.Now,
	}
}

// StartResult is what the API layer needs to redirect the user.
type StartResult struct {
	AuthorizationURL string    `json:"authorization_url"`
	State            string    `json:"state"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// Start begins a verification flow for a marketplace user: generates fresh
// state, nonce and PKCE material, persists the session, marks the user
// PENDING, and returns the provider redirect URL. The session is stored
// before the URL is handed out, so a callback can never arrive for an
// unknown state.
func (s *Service) Start(ctx context.Context, userID string) (*StartResult, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id must not be empty")
	}

	prior, err := s.users.GetKYCStatus(ctx, userID)
	if err != nil {
		return nil, err
	}

	pair, err := pkce.NewPair()
	if err != nil {
		return nil, err
	}
	state, err := pkce.NewState()
	if err != nil {
		return nil, err
	}
	nonce, err := pkce.NewNonce()
	if err != nil {
		return nil, err
	}

	authURL, err := s.idp.AuthorizationURL(pair, state, nonce)
	if err != nil {
		return nil, err
	}

	now := s.now()
	session := &domain.VerificationSession{
		State:               state,
		Nonce:               nonce,
		CodeVerifier:        pair.Verifier,
		CodeChallenge:       pair.Challenge,
		CodeChallengeMethod: pair.Method,
		UserID:              userID,
		PriorStatus:         prior,
		CreatedAt:           now,
		ExpiresAt:           now.Add(s.sessionTTL),
	}
	if err := s.sessions.Put(ctx, session); err != nil {
		return nil, err
	}

	// PENDING is advisory UI state; a failed write must not strand the
	// session we just stored.
	if err := s.users.SetKYCStatus(ctx, userID, domain.KYCStatusPending); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("could not mark user PENDING")
	}

	log.Info().
		Str("user_id", userID).
		Str("flow", FlowAwaitingCallback.String()).
		Time("expires_at", session.ExpiresAt).
		Msg("verification flow started")

	return &StartResult{
		AuthorizationURL: authURL,
		State:            state,
		ExpiresAt:        session.ExpiresAt,
	}, nil
}

// Callback carries the query parameters of the provider redirect.
type Callback struct {
	State            string
	Code             string
	Error            string
	ErrorDescription string
}

// Result is the terminal outcome of one callback delivery.
type Result struct {
	FlowState FlowState
	Reason    FailureReason
	Err       error
	UserID    string
	Outcome   *domain.VerificationOutcome
}

// HandleCallback validates and completes a verification flow. The session is
// consumed before anything else, so replays, expired sessions and forged
// states all fail identically, and a racing duplicate delivery loses the
// session to the first winner.
func (s *Service) HandleCallback(ctx context.Context, cb Callback) *Result {
	session, err := s.sessions.TakeByState(ctx, cb.State)
	if err != nil {
		if !errors.Is(err, domain.ErrSessionNotFound) {
			log.Error().Err(err).Msg("session lookup failed")
		}
		// No session means no user to restore; the state either never
		// existed or was already consumed.
		log.Warn().Str("flow", FlowFailed.String()).Str("reason", string(ReasonInvalidState)).Msg("callback rejected")
		return &Result{
			FlowState: FlowFailed,
			Reason:    ReasonInvalidState,
			Err:       fmt.Errorf("%w: %v", apperrors.ErrInvalidState, err),
		}
	}

	logger := log.With().Str("user_id", session.UserID).Logger()
	logger.Info().Str("flow", FlowStateValidated.String()).Msg("callback state validated")

	// The provider error parameter is only honored after the state checks
	// out; an attacker must not be able to fail arbitrary sessions.
	if cb.Error != "" {
		return s.fail(ctx, session, ReasonProviderDenied, &apperrors.ProviderDeniedError{
			Code:        cb.Error,
			Description: cb.ErrorDescription,
		})
	}
	if cb.Code == "" {
		return s.fail(ctx, session, ReasonProviderDenied, &apperrors.ProviderDeniedError{
			Code:        apperrors.InvalidRequest,
			Description: "callback carries neither code nor error",
		})
	}
	if session.Expired(s.now()) {
		return s.fail(ctx, session, ReasonInvalidState, apperrors.ErrInvalidState)
	}

	token, err := s.idp.ExchangeCode(ctx, cb.Code, session.CodeVerifier)
	if err != nil {
		return s.fail(ctx, session, ReasonTokenExchangeFailed, err)
	}
	logger.Info().Str("flow", FlowTokenExchanged.String()).Msg("authorization code exchanged")

	profile, err := s.idp.FetchProfile(ctx, token.AccessToken)
	if err != nil {
		return s.fail(ctx, session, ReasonProfileFetchFailed, err)
	}
	if profile.Nonce != "" && profile.Nonce != session.Nonce {
		return s.fail(ctx, session, ReasonProfileFetchFailed, &apperrors.ProfileDecodeError{
			Reason: "userinfo nonce does not match session",
		})
	}
	logger.Info().Str("flow", FlowProfileFetched.String()).Msg("verified profile fetched")

	outcome := s.buildOutcome(session.UserID, profile)
	if err := s.outcomes.Save(ctx, outcome); err != nil {
		return s.fail(ctx, session, ReasonPersistenceFailed, err)
	}
	if err := s.users.ApplyOutcome(ctx, outcome); err != nil {
		return s.fail(ctx, session, ReasonPersistenceFailed, err)
	}

	logger.Info().
		Str("flow", FlowComplete.String()).
		Str("external_subject_id", profile.SubjectID).
		Msg("verification complete")

	return &Result{
		FlowState: FlowComplete,
		UserID:    session.UserID,
		Outcome:   outcome,
	}
}

// buildOutcome maps a verified provider profile onto the marketplace's
// outcome record.
func (s *Service) buildOutcome(userID string, p *idp.Profile) *domain.VerificationOutcome {
	now := s.now()
	return &domain.VerificationOutcome{
		ID:                uuid.NewString(),
		UserID:            userID,
		ExternalSubjectID: p.SubjectID,
		PersonalInfo: domain.PersonalInfo{
			GivenName:  p.GivenName,
			FamilyName: p.FamilyName,
			Email:      p.Email,
			Phone:      p.Phone,
			Birthdate:  p.Birthdate,
			Gender:     p.Gender,
			Address:    p.Address,
			PictureRef: p.PictureRef,
		},
		Status:     domain.KYCStatusVerified,
		VerifiedAt: now,
		RawClaims:  p.RawClaims,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// fail terminates the flow, restoring the user's pre-flow status when the
// current one is still the PENDING this flow set.
func (s *Service) fail(ctx context.Context, session *domain.VerificationSession, reason FailureReason, cause error) *Result {
	s.restorePriorStatus(ctx, session)

	log.Warn().
		Err(cause).
		Str("user_id", session.UserID).
		Str("flow", FlowFailed.String()).
		Str("reason", string(reason)).
		Msg("verification flow failed")

	return &Result{
		FlowState: FlowFailed,
		Reason:    reason,
		Err:       cause,
		UserID:    session.UserID,
	}
}

func (s *Service) restorePriorStatus(ctx context.Context, session *domain.VerificationSession) {
	current, err := s.users.GetKYCStatus(ctx, session.UserID)
	if err != nil {
		log.Warn().Err(err).Str("user_id", session.UserID).Msg("could not read status for restore")
		return
	}
	if current != domain.KYCStatusPending {
		// Something else already moved the status; leave it alone.
		return
	}

	prior := session.PriorStatus
	if prior == "" {
		prior = domain.KYCStatusUnverified
	}
	if err := s.users.SetKYCStatus(ctx, session.UserID, prior); err != nil {
		log.Warn().Err(err).Str("user_id", session.UserID).Msg("could not restore prior status")
	}
}
