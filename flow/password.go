package flow

import (
	"context"

	"go.pilab.hu/oauthkit/audit"
	"go.pilab.hu/oauthkit/condition"
)

// passwordFlow implements the deprecated resource-owner-password grant.
// The server-wide gate is the first precondition and fails closed with
// unsupported_grant_type regardless of client configuration. Credential
// verification is delegated to the external identity store; this flow only
// orchestrates issuance once a verified identity comes back. Every
// successful use emits a warning-level audit event.
type passwordFlow struct {
	deps  Deps
	chain *condition.Chain
}

func newPasswordFlow(deps Deps) *passwordFlow {
	return &passwordFlow{
		deps: deps,
		chain: condition.NewChain(
			condition.PasswordGrantEnabled(deps.Options.AllowPasswordGrant),
			condition.ClientLoaded(deps.Clients),
			condition.ClientEnabled(),
			condition.ClientAuthenticated(),
			condition.GrantTypeAllowed(),
			condition.ScopePermitted(),
			condition.UserCredentialsVerified(deps.Identity),
			condition.RefreshQuotaEvaluated(deps.Repo, deps.Options.RefreshTokenQuota),
		),
	}
}

func (f *passwordFlow) GrantType() string { return GrantPassword }

func (f *passwordFlow) Preconditions() *condition.Chain { return f.chain }

func (f *passwordFlow) Run(_ context.Context, fc *condition.Context) error {
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

func (f *passwordFlow) Postconditions(ctx context.Context, fc *condition.Context) error {
	if err := appendEvent(ctx, f.deps, fc, audit.LevelWarn, audit.EventPasswordGrantUsed, "", map[string]interface{}{
		"note": "deprecated grant type used",
	}); err != nil {
		return err
	}
	return commitIssuance(ctx, f.deps, fc)
}
