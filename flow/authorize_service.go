package flow

import (
	"context"
	"errors"
	"fmt"

	"go.pilab.hu/oauthkit/audit"
	"go.pilab.hu/oauthkit/condition"
	"go.pilab.hu/oauthkit/domain"
	serrors "go.pilab.hu/oauthkit/errors"
	"go.pilab.hu/oauthkit/internal/rand"
	"go.pilab.hu/oauthkit/scope"
)

const authCodeBytes = 32

// BeginAuthorizationRequest is the front-channel input that opens a
// consent flow.
type BeginAuthorizationRequest struct {
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
}

// AuthorizationService drives the front-channel half of the authorization
// code grant: request created -> pending consent -> approved/denied ->
// code issued. The consent UI itself is an external collaborator; this
// service owns the state transitions and the code mint.
type AuthorizationService struct {
	deps Deps
}

// NewAuthorizationService creates an AuthorizationService.
func NewAuthorizationService(deps Deps) *AuthorizationService {
	return &AuthorizationService{deps: deps}
}

// Begin validates the request against the client's registration and stores
// a pending authorization request with a unique correlation token. PKCE is
// mandatory for public clients and client-configured for confidential ones.
func (s *AuthorizationService) Begin(ctx context.Context, req BeginAuthorizationRequest) (*domain.AuthorizationRequest, error) {
	cli, err := s.deps.Clients.GetClient(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, serrors.ErrNotFound) {
			return nil, serrors.NewInvalidClient("client authentication failed")
		}
		return nil, fmt.Errorf("client lookup: %w", err)
	}
	if !cli.Enabled {
		return nil, serrors.NewInvalidClient("client authentication failed")
	}
	if !cli.AllowsGrantType(GrantAuthorizationCode) {
		return nil, serrors.NewUnauthorizedClient("grant type not allowed for this client")
	}
	if !cli.AllowsRedirectURI(req.RedirectURI) {
		return nil, serrors.NewInvalidRequest("redirect URI is not registered")
	}
	if req.Scope != "" && !scope.Allowed(req.Scope, cli.AllowedScopes) {
		return nil, serrors.NewInvalidScope("requested scope not allowed for this client")
	}

	if req.CodeChallenge == "" {
		if !cli.Confidential || cli.RequirePKCE {
			return nil, serrors.NewPKCERequired()
		}
	} else if req.CodeChallengeMethod != "" && !condition.ValidPKCEMethod(req.CodeChallengeMethod) {
		return nil, serrors.NewInvalidRequest("unsupported code challenge method")
	}

	correlationToken, err := rand.String(16)
	if err != nil {
		return nil, fmt.Errorf("generate correlation token: %w", err)
	}

	now := s.deps.Clock.Now()
	authReq := &domain.AuthorizationRequest{
		ID:                  s.deps.IDs.NewID(),
		CorrelationToken:    correlationToken,
		ClientID:            req.ClientID,
		RedirectURI:         req.RedirectURI,
		Scope:               req.Scope,
		State:               req.State,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		Status:              domain.AuthorizationRequestPending,
		CreatedAt:           now,
		ExpiresAt:           now.Add(s.deps.Options.AuthCodeTTL),
	}
	if err := s.deps.Repo.SaveAuthorizationRequest(ctx, authReq); err != nil {
		return nil, fmt.Errorf("save authorization request: %w", err)
	}
	return authReq, nil
}

// Approve records the user's consent and issues the one-time authorization
// code, carrying the request's PKCE binding onto the code.
func (s *AuthorizationService) Approve(ctx context.Context, requestID, userID string) (string, error) {
	authReq, err := s.loadPending(ctx, requestID)
	if err != nil {
		return "", err
	}

	if err := s.deps.Repo.UpdateAuthorizationRequestStatus(ctx, authReq.ID, domain.AuthorizationRequestApproved); err != nil {
		if errors.Is(err, serrors.ErrNotFound) {
			return "", serrors.NewInvalidGrant("authorization request is no longer pending")
		}
		return "", fmt.Errorf("approve authorization request: %w", err)
	}

	codeValue, err := rand.String(authCodeBytes)
	if err != nil {
		return "", fmt.Errorf("generate authorization code: %w", err)
	}
	now := s.deps.Clock.Now()
	code := &domain.AuthCode{
		Code:                codeValue,
		ClientID:            authReq.ClientID,
		UserID:              userID,
		RedirectURI:         authReq.RedirectURI,
		Scope:               authReq.Scope,
		ExpiresAt:           now.Add(s.deps.Options.AuthCodeTTL),
		CreatedAt:           now,
		CodeChallenge:       authReq.CodeChallenge,
		CodeChallengeMethod: authReq.CodeChallengeMethod,
	}
	if err := s.deps.Repo.SaveAuthCode(ctx, code); err != nil {
		return "", fmt.Errorf("save authorization code: %w", err)
	}

	for _, event := range []audit.EventType{audit.EventConsentApproved, audit.EventAuthCodeIssued} {
		if err := s.deps.Sink.Append(ctx, audit.Event{
			CorrelationID: authReq.ID,
			Timestamp:     now,
			Level:         audit.LevelInfo,
			Type:          event,
			ClientID:      authReq.ClientID,
			UserID:        userID,
		}); err != nil {
			s.deps.Logger.Error(ctx, "failed to append consent audit event", err)
			return "", serrors.NewServerError("audit write failed")
		}
	}

	return codeValue, nil
}

// Deny records the user's refusal. No code is issued and the request
// reaches its terminal state.
func (s *AuthorizationService) Deny(ctx context.Context, requestID string) error {
	authReq, err := s.loadPending(ctx, requestID)
	if err != nil {
		return err
	}

	if err := s.deps.Repo.UpdateAuthorizationRequestStatus(ctx, authReq.ID, domain.AuthorizationRequestDenied); err != nil {
		if errors.Is(err, serrors.ErrNotFound) {
			return serrors.NewInvalidGrant("authorization request is no longer pending")
		}
		return fmt.Errorf("deny authorization request: %w", err)
	}

	if err := s.deps.Sink.Append(ctx, audit.Event{
		CorrelationID: authReq.ID,
		Timestamp:     s.deps.Clock.Now(),
		Level:         audit.LevelInfo,
		Type:          audit.EventConsentDenied,
		ClientID:      authReq.ClientID,
	}); err != nil {
		s.deps.Logger.Error(ctx, "failed to append consent audit event", err)
		return serrors.NewServerError("audit write failed")
	}
	return nil
}

func (s *AuthorizationService) loadPending(ctx context.Context, requestID string) (*domain.AuthorizationRequest, error) {
	authReq, err := s.deps.Repo.GetAuthorizationRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, serrors.ErrNotFound) {
			return nil, serrors.NewInvalidGrant("unknown authorization request")
		}
		return nil, fmt.Errorf("authorization request lookup: %w", err)
	}
	if authReq.Status != domain.AuthorizationRequestPending {
		return nil, serrors.NewInvalidGrant("authorization request is no longer pending")
	}
	if s.deps.Clock.Now().After(authReq.ExpiresAt) {
		_ = s.deps.Repo.UpdateAuthorizationRequestStatus(ctx, authReq.ID, domain.AuthorizationRequestExpired)
		return nil, serrors.NewInvalidGrant("authorization request has expired")
	}
	return authReq, nil
}
