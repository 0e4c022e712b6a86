// Package flow implements the grant-type state machines. Every variant
// follows the same three-phase lifecycle: a precondition chain that may
// load records into the shared context but mutates nothing durable, a run
// phase of pure token computation, and a postcondition phase that persists
// the results and emits audit events.
package flow

import (
	"context"
	"errors"
	"time"

	"go.pilab.hu/oauthkit/api"
	"go.pilab.hu/oauthkit/audit"
	"go.pilab.hu/oauthkit/condition"
	"go.pilab.hu/oauthkit/domain"
	serrors "go.pilab.hu/oauthkit/errors"
	"go.pilab.hu/oauthkit/internal/metrics"
	"go.pilab.hu/oauthkit/log"
	"go.pilab.hu/oauthkit/token"
)

// Grant type discriminants. A closed set: the engine dispatches over these
// and nothing else.
const (
	GrantAuthorizationCode = "authorization_code"
	GrantClientCredentials = "client_credentials"
	GrantRefreshToken      = "refresh_token"
	GrantDeviceCode        = "urn:ietf:params:oauth:grant-type:device_code"
	GrantPassword          = "password"
)

// GrantFlow is the three-phase contract every grant variant implements.
type GrantFlow interface {
	GrantType() string
	// Preconditions returns the flow's validation chain. No durable
	// mutation may happen before the chain passes, with the narrow
	// exception of usage bookkeeping (refresh token last_used_at, device
	// poll timestamps).
	Preconditions() *condition.Chain
	// Run performs pure token computation using only context populated by
	// the preconditions.
	Run(ctx context.Context, fc *condition.Context) error
	// Postconditions persists the run's results and emits audit events.
	Postconditions(ctx context.Context, fc *condition.Context) error
}

// Options carries server-wide flow policy.
type Options struct {
	// AccessTokenQuota is the default cap M of live access tokens per
	// refresh token; a client-level quota overrides it.
	AccessTokenQuota int
	// RefreshTokenQuota is the default cap N of live refresh tokens per
	// (user, client) pair; a client-level quota overrides it.
	RefreshTokenQuota int
	// AllowPasswordGrant is the server-wide opt-in for the deprecated
	// password grant. Off by default; the flow fails closed.
	AllowPasswordGrant bool
	// AuthCodeTTL bounds authorization code and consent-request lifetime.
	AuthCodeTTL time.Duration
	// DeviceCodeTTL bounds device and user code lifetime.
	DeviceCodeTTL time.Duration
	// DevicePollInterval is the server-enforced floor, in seconds, for the
	// device polling interval.
	DevicePollInterval int
	// VerificationURI is the base URI users visit to enter a user code.
	VerificationURI string
}

// Deps bundles the collaborators a flow needs. All durable state lives
// behind Repo; flows keep no in-process state between invocations.
type Deps struct {
	Repo     domain.OAuthRepository
	Clients  domain.ClientStore
	Identity domain.IdentityVerifier
	Issuer   *token.Issuer
	Revoker  *token.RevocationService
	Sink     audit.Sink
	Clock    domain.Clock
	IDs      domain.IDGenerator
	Logger   log.Logger
	Options  Options
}

// Engine selects a grant flow by grant type and drives its lifecycle.
type Engine struct {
	deps  Deps
	flows map[string]GrantFlow
}

// NewEngine creates an Engine with all five grant variants registered.
func NewEngine(deps Deps) *Engine {
	e := &Engine{deps: deps, flows: make(map[string]GrantFlow)}
	for _, f := range []GrantFlow{
		newAuthorizationCodeFlow(deps),
		newClientCredentialsFlow(deps),
		newRefreshTokenFlow(deps),
		newDeviceCodeFlow(deps),
		newPasswordFlow(deps),
	} {
		e.flows[f.GrantType()] = f
	}
	return e
}

// Exchange runs one grant exchange. Each invocation is an independent unit
// of work identified by a fresh correlation id; either the whole lifecycle
// completes or a structured error surfaces, never a partial success.
func (e *Engine) Exchange(ctx context.Context, req api.TokenRequest) (*api.TokenResponse, error) {
	fc := &condition.Context{
		CorrelationID:     e.deps.IDs.NewID(),
		GrantType:         req.GrantType,
		ClientID:          req.ClientID,
		ClientSecret:      req.ClientSecret,
		Scope:             req.Scope,
		Code:              req.Code,
		RedirectURI:       req.RedirectURI,
		CodeVerifier:      req.CodeVerifier,
		RefreshTokenValue: req.RefreshToken,
		Username:          req.Username,
		Password:          req.Password,
		DeviceCodeValue:   req.DeviceCode,
	}

	f, ok := e.flows[req.GrantType]
	if !ok {
		return nil, serrors.NewUnsupportedGrantType()
	}

	if err := f.Preconditions().Run(ctx, fc); err != nil {
		return nil, e.fail(ctx, fc, err)
	}
	if err := f.Run(ctx, fc); err != nil {
		return nil, e.fail(ctx, fc, err)
	}
	if err := f.Postconditions(ctx, fc); err != nil {
		return nil, e.fail(ctx, fc, err)
	}

	metrics.GrantExchangesTotal.WithLabelValues(fc.GrantType, "success").Inc()

	resp := &api.TokenResponse{
		AccessToken: fc.NewAccessToken.TokenValue,
		TokenType:   api.TokenTypeBearer,
		ExpiresIn:   int(e.deps.Issuer.AccessTokenTTL().Seconds()),
		Scope:       fc.GrantedScope,
	}
	if fc.NewRefreshToken != nil {
		resp.RefreshToken = fc.NewRefreshToken.TokenValue
	}
	return resp, nil
}

// fail normalizes an error into the OAuth taxonomy. Structured errors
// surface verbatim; anything else collapses to server_error with full
// detail retained internally under the correlation id. Authentication
// failures additionally audit synchronously.
func (e *Engine) fail(ctx context.Context, fc *condition.Context, err error) error {
	var oauthErr *serrors.OAuth2Error
	if !errors.As(err, &oauthErr) {
		e.deps.Logger.Error(ctx, "grant exchange failed internally", err, map[string]interface{}{
			"correlation_id": fc.CorrelationID,
			"grant_type":     fc.GrantType,
			"client_id":      fc.ClientID,
		})
		metrics.GrantExchangesTotal.WithLabelValues(fc.GrantType, "server_error").Inc()
		// The response is already server_error; a failed append cannot make
		// it worse.
		_ = e.auditFailure(ctx, fc, audit.EventInternalError, err.Error())
		return serrors.NewServerError("an internal error occurred")
	}

	metrics.GrantExchangesTotal.WithLabelValues(fc.GrantType, oauthErr.Code).Inc()
	if oauthErr.Code == serrors.InvalidClient || oauthErr.Code == serrors.InvalidGrant {
		// Authentication failures are critical trail entries: if the append
		// fails, the whole operation fails.
		if auditErr := e.auditFailure(ctx, fc, audit.EventAuthFailure, oauthErr.Code); auditErr != nil {
			return auditErr
		}
	}
	return oauthErr
}

func (e *Engine) auditFailure(ctx context.Context, fc *condition.Context, eventType audit.EventType, reason string) error {
	if err := e.deps.Sink.Append(ctx, audit.Event{
		CorrelationID: fc.CorrelationID,
		Timestamp:     e.deps.Clock.Now(),
		Level:         audit.LevelWarn,
		Type:          eventType,
		ClientID:      fc.ClientID,
		UserID:        fc.UserID,
		Detail: map[string]interface{}{
			"grant_type": fc.GrantType,
			"reason":     reason,
		},
	}); err != nil {
		e.deps.Logger.Error(ctx, "failed to append failure audit event", err, map[string]interface{}{
			"correlation_id": fc.CorrelationID,
		})
		return serrors.NewServerError("audit write failed")
	}
	return nil
}
