// Package echo exposes the verification core over HTTP: flow initiation,
// the provider callback, user status lookup, and health.
package echo

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/nestlease/kyc/domain"
	apperrors "github.com/nestlease/kyc/errors"
	"github.com/nestlease/kyc/internal/verification"
)

// VerificationAPI holds the HTTP layer's dependencies.
type VerificationAPI struct {
	flows    *verification.Service
	users    domain.UserDirectory
	outcomes domain.OutcomeRepository
	ping     func(ctx context.Context) error
}

// NewVerificationAPI initializes the verification API. ping reports storage
// health and may be nil when there is no external store.
func NewVerificationAPI(
	flows *verification.Service,
	users domain.UserDirectory,
	outcomes domain.OutcomeRepository,
	ping func(ctx context.Context) error,
) *VerificationAPI {
	return &VerificationAPI{
		flows:    flows,
		users:    users,
		outcomes: outcomes,
		ping:     ping,
	}
}

// RegisterRoutes registers the verification routes.
func (va *VerificationAPI) RegisterRoutes(e *echo.Echo) {
	e.POST("/kyc/verification", va.StartHandler)
	e.GET("/kyc/callback", va.CallbackHandler)
	e.GET("/kyc/status/:user_id", va.StatusHandler)
	e.GET("/healthz", va.HealthHandler)
}

// StartRequest is the body of a flow initiation.
type StartRequest struct {
	UserID string `json:"user_id"`
}

// StartHandler begins a verification flow for a marketplace user and returns
// the provider redirect URL the frontend should send the browser to.
func (va *VerificationAPI) StartHandler(c echo.Context) error {
	var req StartRequest
	if err := c.Bind(&req); err != nil || req.UserID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{
			"error":             apperrors.InvalidRequest,
			"error_description": "user_id is required",
		})
	}

	result, err := va.flows.Start(c.Request().Context(), req.UserID)
	if err != nil {
		log.Error().Err(err).Str("user_id", req.UserID).Msg("failed to start verification flow")
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"error": apperrors.ServerError,
		})
	}

	return c.JSON(http.StatusOK, result)
}

// CallbackHandler terminates a verification flow from the provider redirect.
// All failure modes resolve to a terminal reason; the response status maps
// the reason to who is at fault.
func (va *VerificationAPI) CallbackHandler(c echo.Context) error {
	result := va.flows.HandleCallback(c.Request().Context(), verification.Callback{
		State:            c.QueryParam("state"),
		Code:             c.QueryParam("code"),
		Error:            c.QueryParam("error"),
		ErrorDescription: c.QueryParam("error_description"),
	})

	if result.FlowState == verification.FlowComplete {
		return c.JSON(http.StatusOK, echo.Map{
			"user_id": result.UserID,
			"status":  result.Outcome.Status,
		})
	}

	return c.JSON(callbackStatus(result.Reason), echo.Map{
		"error":             callbackErrorCode(result),
		"error_description": callbackDescription(result),
		"reason":            string(result.Reason),
	})
}

func callbackStatus(reason verification.FailureReason) int {
	switch reason {
	case verification.ReasonInvalidState, verification.ReasonProviderDenied:
		return http.StatusBadRequest
	case verification.ReasonTokenExchangeFailed, verification.ReasonProfileFetchFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func callbackErrorCode(result *verification.Result) string {
	var denied *apperrors.ProviderDeniedError
	if errors.As(result.Err, &denied) {
		return denied.Code
	}
	var exchange *apperrors.TokenExchangeError
	if errors.As(result.Err, &exchange) && exchange.Code != "" {
		return exchange.Code
	}
	if result.Reason == verification.ReasonInvalidState {
		return apperrors.InvalidRequest
	}
	return apperrors.ServerError
}

func callbackDescription(result *verification.Result) string {
	switch result.Reason {
	case verification.ReasonInvalidState:
		return "verification session not found, expired, or already used"
	case verification.ReasonProviderDenied:
		var denied *apperrors.ProviderDeniedError
		if errors.As(result.Err, &denied) && denied.Description != "" {
			return denied.Description
		}
		return "the identity provider denied the request"
	case verification.ReasonTokenExchangeFailed:
		return "could not exchange the authorization code"
	case verification.ReasonProfileFetchFailed:
		return "could not resolve the verified profile"
	default:
		return "could not persist the verification outcome"
	}
}

// StatusResponse is the user-facing verification status.
type StatusResponse struct {
	UserID            string           `json:"user_id"`
	Status            domain.KYCStatus `json:"status"`
	VerifiedAt        string           `json:"verified_at,omitempty"`
	ExternalSubjectID string           `json:"external_subject_id,omitempty"`
}

// StatusHandler returns the user's current verification status, enriched
// with outcome details when one exists.
func (va *VerificationAPI) StatusHandler(c echo.Context) error {
	userID := c.Param("user_id")
	ctx := c.Request().Context()

	status, err := va.users.GetKYCStatus(ctx, userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("status lookup failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": apperrors.ServerError})
	}

	resp := StatusResponse{UserID: userID, Status: status}
	if status == domain.KYCStatusVerified {
		if outcome, err := va.outcomes.GetByUserID(ctx, userID); err == nil {
			resp.VerifiedAt = outcome.VerifiedAt.Format(time.RFC3339)
			resp.ExternalSubjectID = outcome.ExternalSubjectID
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// HealthHandler reports liveness and, when a store ping is configured,
// storage reachability.
func (va *VerificationAPI) HealthHandler(c echo.Context) error {
	if va.ping != nil {
		if err := va.ping(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "degraded"})
		}
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
}
