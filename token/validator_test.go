package token_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/oauthkit/audit"
	"go.pilab.hu/oauthkit/domain"
	serrors "go.pilab.hu/oauthkit/errors"
	"go.pilab.hu/oauthkit/log"
	"go.pilab.hu/oauthkit/memory"
	"go.pilab.hu/oauthkit/token"
)

type validatorEnv struct {
	repo      *memory.Store
	issuer    *token.Issuer
	validator *token.Validator
	clock     *fakeClock
	sink      *recordingSink
}

func newValidatorEnv(t *testing.T) *validatorEnv {
	t.Helper()
	clock := newFakeClock()
	sink := &recordingSink{}
	store := memory.NewStore()
	t.Cleanup(func() { _ = store.Close() })

	issuer, signer := newTestIssuer(clock)
	logger := log.NewZerologAdapter(zerolog.Disabled, false)
	return &validatorEnv{
		repo:      store,
		issuer:    issuer,
		validator: token.NewValidator(store, signer, clock, sink, logger),
		clock:     clock,
		sink:      sink,
	}
}

func (e *validatorEnv) issueAndSave(t *testing.T, scope string) *domain.AccessToken {
	t.Helper()
	at, err := e.issuer.MintAccessToken("client-1", "user-1", scope, "")
	require.NoError(t, err)
	require.NoError(t, e.repo.SaveAccessToken(context.Background(), at))
	return at
}

func TestValidateSuccess(t *testing.T) {
	env := newValidatorEnv(t)
	at := env.issueAndSave(t, "orders.ALL.read")

	record, err := env.validator.Validate(context.Background(), "corr-1", at.TokenValue, "orders.eu.read")
	require.NoError(t, err)
	assert.Equal(t, at.ID, record.ID)
}

func TestValidateUnknownToken(t *testing.T) {
	env := newValidatorEnv(t)
	at, err := env.issuer.MintAccessToken("client-1", "user-1", "", "")
	require.NoError(t, err)
	// Never saved: validation consults the record of truth, not the JWT.

	_, err = env.validator.Validate(context.Background(), "corr-1", at.TokenValue, "")
	assert.Equal(t, serrors.InvalidToken, oauthErrCode(t, err))
	assert.Contains(t, env.sink.types(), audit.EventValidationFailure)
}

func TestValidateRevokedToken(t *testing.T) {
	env := newValidatorEnv(t)
	at := env.issueAndSave(t, "orders.read")
	require.NoError(t, env.repo.RevokeAccessToken(context.Background(), at.ID))

	_, err := env.validator.Validate(context.Background(), "corr-1", at.TokenValue, "orders.read")
	assert.Equal(t, serrors.InvalidToken, oauthErrCode(t, err))
}

func TestValidateExpiredToken(t *testing.T) {
	env := newValidatorEnv(t)
	at := env.issueAndSave(t, "orders.read")

	env.clock.Advance(31 * time.Minute)

	_, err := env.validator.Validate(context.Background(), "corr-1", at.TokenValue, "orders.read")
	assert.Equal(t, serrors.InvalidToken, oauthErrCode(t, err))
}

func TestValidateScopeMismatch(t *testing.T) {
	env := newValidatorEnv(t)
	at := env.issueAndSave(t, "profile.read")

	_, err := env.validator.Validate(context.Background(), "corr-1", at.TokenValue, "orders.read")
	assert.Equal(t, serrors.InsufficientScope, oauthErrCode(t, err))
	assert.Contains(t, env.sink.types(), audit.EventScopeMismatch)
}

func TestValidateMalformedToken(t *testing.T) {
	env := newValidatorEnv(t)

	_, err := env.validator.Validate(context.Background(), "corr-1", "garbage", "")
	assert.Equal(t, serrors.InvalidToken, oauthErrCode(t, err))
}

func TestValidateTamperedToken(t *testing.T) {
	env := newValidatorEnv(t)
	at := env.issueAndSave(t, "orders.read")

	// Re-sign the same claims with a different key; the record exists but
	// the signature no longer verifies.
	foreignIssuer := token.NewIssuer(token.IssuerOptions{
		Issuer:         "https://issuer.example",
		AccessTokenTTL: 30 * time.Minute,
	}, token.NewHMACSigner([]byte("attacker-key")), env.clock, fixedIDs{id: at.ID})
	forged, err := foreignIssuer.MintAccessToken("client-1", "user-1", "orders.read", "")
	require.NoError(t, err)

	_, err = env.validator.Validate(context.Background(), "corr-1", forged.TokenValue, "orders.read")
	assert.Equal(t, serrors.InvalidToken, oauthErrCode(t, err))
}

type fixedIDs struct{ id string }

func (f fixedIDs) NewID() string { return f.id }

func oauthErrCode(t *testing.T, err error) string {
	t.Helper()
	var oauthErr *serrors.OAuth2Error
	require.ErrorAs(t, err, &oauthErr)
	return oauthErr.Code
}
