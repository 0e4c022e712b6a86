package flow

import (
	"context"

	"go.pilab.hu/oauthkit/condition"
)

// refreshTokenFlow implements rotation: each exchange mints a fresh access
// token under the presented refresh token. The refresh token itself is
// never reissued and never expires by time. Before minting, the number of
// live access tokens per parent is bounded by the client's quota M with
// strict creation-time FIFO eviction and no grace period.
type refreshTokenFlow struct {
	deps  Deps
	chain *condition.Chain
}

func newRefreshTokenFlow(deps Deps) *refreshTokenFlow {
	return &refreshTokenFlow{
		deps: deps,
		chain: condition.NewChain(
			condition.ClientLoaded(deps.Clients),
			condition.ClientEnabled(),
			condition.ClientAuthenticated(),
			condition.GrantTypeAllowed(),
			condition.RefreshTokenLoaded(deps.Repo),
			condition.RefreshTokenActive(),
			condition.RefreshTokenOwned(),
			condition.RefreshTokenTouched(deps.Repo, deps.Clock),
			condition.AccessQuotaEvaluated(deps.Repo, deps.Options.AccessTokenQuota),
		),
	}
}

func (f *refreshTokenFlow) GrantType() string { return GrantRefreshToken }

func (f *refreshTokenFlow) Preconditions() *condition.Chain { return f.chain }

func (f *refreshTokenFlow) Run(_ context.Context, fc *condition.Context) error {
	at, err := f.deps.Issuer.MintAccessToken(fc.ClientID, fc.UserID, fc.GrantedScope, fc.RefreshToken.ID)
	if err != nil {
		return err
	}
	fc.NewAccessToken = at
	return nil
}

func (f *refreshTokenFlow) Postconditions(ctx context.Context, fc *condition.Context) error {
	return commitIssuance(ctx, f.deps, fc)
}
