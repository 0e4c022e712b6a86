package flow

import (
	"context"
	"errors"
	"fmt"

	"go.pilab.hu/oauthkit/audit"
	"go.pilab.hu/oauthkit/condition"
	serrors "go.pilab.hu/oauthkit/errors"
)

// authorizationCodeFlow implements the token-endpoint half of the
// authorization code grant: exchanging a one-time code (bound to the
// client, redirect URI and PKCE verifier) for a refresh/access token pair.
// The front-channel half lives in AuthorizationService.
type authorizationCodeFlow struct {
	deps  Deps
	chain *condition.Chain
}

func newAuthorizationCodeFlow(deps Deps) *authorizationCodeFlow {
	return &authorizationCodeFlow{
		deps: deps,
		chain: condition.NewChain(
			condition.ClientLoaded(deps.Clients),
			condition.ClientEnabled(),
			condition.ClientAuthenticated(),
			condition.GrantTypeAllowed(),
			condition.AuthCodeLoaded(deps.Repo),
			condition.AuthCodeUsable(deps.Clock),
			condition.PKCEVerifierMatches(),
			condition.RefreshQuotaEvaluated(deps.Repo, deps.Options.RefreshTokenQuota),
		),
	}
}

func (f *authorizationCodeFlow) GrantType() string { return GrantAuthorizationCode }

func (f *authorizationCodeFlow) Preconditions() *condition.Chain { return f.chain }

func (f *authorizationCodeFlow) Run(_ context.Context, fc *condition.Context) error {
	rt, err := f.deps.Issuer.MintRefreshToken(fc.ClientID, fc.UserID, fc.GrantedScope)
	if err != nil {
		return err
	}
	at, err := f.deps.Issuer.MintAccessToken(fc.ClientID, fc.UserID, fc.GrantedScope, rt.ID)
	if err != nil {
		return err
	}
	fc.NewRefreshToken = rt
	fc.NewAccessToken = at
	return nil
}

func (f *authorizationCodeFlow) Postconditions(ctx context.Context, fc *condition.Context) error {
	// Consume first: the compare-and-set on the code's used flag is what
	// guarantees exactly one of two concurrent exchanges succeeds. Nothing
	// is persisted for the losing exchange.
	if _, err := f.deps.Repo.ConsumeAuthCode(ctx, fc.Code); err != nil {
		if errors.Is(err, serrors.ErrCodeAlreadyUsed) || errors.Is(err, serrors.ErrNotFound) {
			return serrors.NewInvalidGrant("authorization code expired or already used")
		}
		return fmt.Errorf("consume auth code: %w", err)
	}

	if err := appendEvent(ctx, f.deps, fc, audit.LevelInfo, audit.EventAuthCodeExchanged, "", map[string]interface{}{
		"code": fc.Code,
	}); err != nil {
		return err
	}

	return commitIssuance(ctx, f.deps, fc)
}
