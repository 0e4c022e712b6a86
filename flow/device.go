package flow

import (
	"context"
	"errors"
	"fmt"

	"go.pilab.hu/oauthkit/audit"
	"go.pilab.hu/oauthkit/condition"
	"go.pilab.hu/oauthkit/domain"
	serrors "go.pilab.hu/oauthkit/errors"
)

// deviceCodeFlow implements the token-endpoint half of the device
// authorization grant: the device polls with its device code until the
// shared state machine reaches a terminal state. While pending, the poll
// returns authorization_pending (or slow_down when polled faster than the
// interval) so the device can tell retry-worthy from terminal outcomes.
// On authorized, the poll performs the same issuance as the other
// user-context flows and the code is consumed, single use.
type deviceCodeFlow struct {
	deps  Deps
	chain *condition.Chain
}

func newDeviceCodeFlow(deps Deps) *deviceCodeFlow {
	return &deviceCodeFlow{
		deps: deps,
		chain: condition.NewChain(
			condition.ClientLoaded(deps.Clients),
			condition.ClientEnabled(),
			condition.ClientAuthenticated(),
			condition.GrantTypeAllowed(),
			condition.DeviceCodeLoaded(deps.Repo),
			condition.DeviceCodeRedeemable(deps.Repo, deps.Clock),
			condition.RefreshQuotaEvaluated(deps.Repo, deps.Options.RefreshTokenQuota),
		),
	}
}

func (f *deviceCodeFlow) GrantType() string { return GrantDeviceCode }

func (f *deviceCodeFlow) Preconditions() *condition.Chain { return f.chain }

func (f *deviceCodeFlow) Run(_ context.Context, fc *condition.Context) error {
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

func (f *deviceCodeFlow) Postconditions(ctx context.Context, fc *condition.Context) error {
	// The authorized -> redeemed transition is conditioned on the current
	// status, so a concurrent poll that lost the race gets the terminal
	// expired_token answer instead of a second token pair.
	err := f.deps.Repo.UpdateDeviceCodeStatus(ctx, fc.DeviceCode.DeviceCode,
		domain.DeviceCodeStatusAuthorized, domain.DeviceCodeStatusRedeemed)
	if err != nil {
		if errors.Is(err, serrors.ErrNotFound) {
			return serrors.ErrDeviceFlowTokenExpired
		}
		return fmt.Errorf("redeem device code: %w", err)
	}

	if err := appendEvent(ctx, f.deps, fc, audit.LevelInfo, audit.EventDeviceCodeRedeemed, "", map[string]interface{}{
		"device_code_id": fc.DeviceCode.ID,
	}); err != nil {
		return err
	}

	return commitIssuance(ctx, f.deps, fc)
}
