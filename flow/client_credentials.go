package flow

import (
	"context"

	"go.pilab.hu/oauthkit/condition"
)

// clientCredentialsFlow implements the client_credentials grant. There is
// no user context: the access token is minted with an empty user id and no
// parent refresh token, so no quota applies.
type clientCredentialsFlow struct {
	deps  Deps
	chain *condition.Chain
}

func newClientCredentialsFlow(deps Deps) *clientCredentialsFlow {
	return &clientCredentialsFlow{
		deps: deps,
		chain: condition.NewChain(
			condition.ClientLoaded(deps.Clients),
			condition.ClientEnabled(),
			condition.ClientAuthenticated(),
			condition.GrantTypeAllowed(),
			condition.ScopePermitted(),
		),
	}
}

func (f *clientCredentialsFlow) GrantType() string { return GrantClientCredentials }

func (f *clientCredentialsFlow) Preconditions() *condition.Chain { return f.chain }

func (f *clientCredentialsFlow) Run(_ context.Context, fc *condition.Context) error {
	at, err := f.deps.Issuer.MintAccessToken(fc.ClientID, "", fc.GrantedScope, "")
	if err != nil {
		return err
	}
	fc.NewAccessToken = at
	return nil
}

func (f *clientCredentialsFlow) Postconditions(ctx context.Context, fc *condition.Context) error {
	return commitIssuance(ctx, f.deps, fc)
}
