// Package echo is the HTTP transport adapter. Handlers bind requests,
// delegate to the flow engine and services, and map the error taxonomy to
// status codes; no grant logic lives here.
package echo

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"go.pilab.hu/oauthkit/api"
	"go.pilab.hu/oauthkit/domain"
	serrors "go.pilab.hu/oauthkit/errors"
	"go.pilab.hu/oauthkit/flow"
	"go.pilab.hu/oauthkit/token"
)

// OAuth2API holds the transport's collaborators.
type OAuth2API struct {
	engine  *flow.Engine
	authz   *flow.AuthorizationService
	devices *flow.DeviceService
	revoker *token.RevocationService
	ids     domain.IDGenerator
}

// NewOAuth2API creates the transport adapter.
func NewOAuth2API(
	engine *flow.Engine,
	authz *flow.AuthorizationService,
	devices *flow.DeviceService,
	revoker *token.RevocationService,
	ids domain.IDGenerator,
) *OAuth2API {
	return &OAuth2API{
		engine:  engine,
		authz:   authz,
		devices: devices,
		revoker: revoker,
		ids:     ids,
	}
}

// RegisterRoutes registers the OAuth2 routes.
func (oa *OAuth2API) RegisterRoutes(e *echo.Echo) {
	e.POST("/oauth/token", oa.TokenHandler)
	e.POST("/oauth/revoke", oa.RevokeHandler)
	e.POST("/oauth/device_authorization", oa.DeviceAuthorizationHandler)
	e.GET("/oauth/authorize", oa.AuthorizeHandler)
	e.POST("/oauth/authorize/approve", oa.ConsentApproveHandler)
	e.POST("/oauth/authorize/deny", oa.ConsentDenyHandler)
	e.POST("/oauth/device/approve", oa.DeviceApproveHandler)
	e.POST("/oauth/device/deny", oa.DeviceDenyHandler)
}

// TokenHandler handles grant exchanges for all registered grant types.
func (oa *OAuth2API) TokenHandler(c echo.Context) error {
	var req api.TokenRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, serrors.NewInvalidRequest("malformed token request"))
	}

	resp, err := oa.engine.Exchange(c.Request().Context(), req)
	if err != nil {
		return oa.writeError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// RevokeHandler handles token revocation requests (RFC 7009). Unknown
// token values return 200 OK so callers cannot probe for token existence.
func (oa *OAuth2API) RevokeHandler(c echo.Context) error {
	tokenValue := c.FormValue("token")
	if tokenValue == "" {
		return c.JSON(http.StatusBadRequest, serrors.NewInvalidRequest("token parameter is required"))
	}
	clientID := c.FormValue("client_id")
	hint := c.FormValue("token_type_hint")

	err := oa.revoker.RevokeToken(c.Request().Context(), oa.ids.NewID(), clientID, tokenValue, hint)
	if err != nil {
		return oa.writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{})
}

// DeviceAuthorizationHandler starts a device authorization (RFC 8628
// section 3.1).
func (oa *OAuth2API) DeviceAuthorizationHandler(c echo.Context) error {
	clientID := c.FormValue("client_id")
	requestedScope := c.FormValue("scope")
	// A missing or malformed interval parses to 0 and gets floored.
	requestedInterval, _ := strconv.Atoi(c.FormValue("interval"))

	resp, err := oa.devices.Initiate(c.Request().Context(), clientID, requestedScope, requestedInterval)
	if err != nil {
		return oa.writeError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// AuthorizeHandler opens a consent flow for the authorization code grant.
// It returns the pending request's correlation token; the consent UI calls
// back with the approve or deny decision.
func (oa *OAuth2API) AuthorizeHandler(c echo.Context) error {
	if responseType := c.QueryParam("response_type"); responseType != "code" {
		return c.JSON(http.StatusBadRequest, serrors.NewInvalidRequest("unsupported response_type"))
	}

	req := flow.BeginAuthorizationRequest{
		ClientID:            c.QueryParam("client_id"),
		RedirectURI:         c.QueryParam("redirect_uri"),
		Scope:               c.QueryParam("scope"),
		State:               c.QueryParam("state"),
		CodeChallenge:       c.QueryParam("code_challenge"),
		CodeChallengeMethod: c.QueryParam("code_challenge_method"),
	}

	authReq, err := oa.authz.Begin(c.Request().Context(), req)
	if err != nil {
		return oa.writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"request_id":        authReq.ID,
		"correlation_token": authReq.CorrelationToken,
		"expires_at":        authReq.ExpiresAt,
	})
}

// ConsentApproveHandler records a user's consent for a pending
// authorization request and returns the one-time authorization code. The
// authenticated user id is expected from upstream auth middleware.
func (oa *OAuth2API) ConsentApproveHandler(c echo.Context) error {
	requestID := c.FormValue("request_id")
	userID := c.FormValue("user_id")
	if requestID == "" || userID == "" {
		return c.JSON(http.StatusBadRequest, serrors.NewInvalidRequest("request_id and user_id are required"))
	}

	code, err := oa.authz.Approve(c.Request().Context(), requestID, userID)
	if err != nil {
		return oa.writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"code": code})
}

// ConsentDenyHandler records a user's refusal of a pending authorization
// request.
func (oa *OAuth2API) ConsentDenyHandler(c echo.Context) error {
	requestID := c.FormValue("request_id")
	if requestID == "" {
		return c.JSON(http.StatusBadRequest, serrors.NewInvalidRequest("request_id is required"))
	}

	if err := oa.authz.Deny(c.Request().Context(), requestID); err != nil {
		return oa.writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{})
}

// DeviceApproveHandler records a user's consent for a device authorization.
// The authenticated user id is expected from upstream auth middleware.
func (oa *OAuth2API) DeviceApproveHandler(c echo.Context) error {
	userCode := c.FormValue("user_code")
	userID := c.FormValue("user_id")
	if userCode == "" || userID == "" {
		return c.JSON(http.StatusBadRequest, serrors.NewInvalidRequest("user_code and user_id are required"))
	}

	if err := oa.devices.Approve(c.Request().Context(), userCode, userID); err != nil {
		return oa.writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{})
}

// DeviceDenyHandler records a user's refusal of a device authorization.
func (oa *OAuth2API) DeviceDenyHandler(c echo.Context) error {
	userCode := c.FormValue("user_code")
	if userCode == "" {
		return c.JSON(http.StatusBadRequest, serrors.NewInvalidRequest("user_code is required"))
	}

	if err := oa.devices.Deny(c.Request().Context(), userCode); err != nil {
		return oa.writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{})
}

// writeError maps the OAuth error taxonomy to HTTP status codes.
func (oa *OAuth2API) writeError(c echo.Context, err error) error {
	var oauthErr *serrors.OAuth2Error
	if !errors.As(err, &oauthErr) {
		log.Error().Err(err).Msg("request failed internally")
		return c.JSON(http.StatusInternalServerError, serrors.NewServerError("an internal error occurred"))
	}

	status := http.StatusBadRequest
	switch oauthErr.Code {
	case serrors.InvalidClient, serrors.UnauthorizedClient:
		status = http.StatusUnauthorized
	case serrors.ServerError:
		status = http.StatusInternalServerError
	case serrors.InvalidToken:
		status = http.StatusUnauthorized
	case serrors.InsufficientScope:
		status = http.StatusForbidden
	}
	return c.JSON(status, oauthErr)
}
