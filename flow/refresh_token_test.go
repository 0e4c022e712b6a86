package flow_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/oauthkit/api"
	"go.pilab.hu/oauthkit/audit"
	"go.pilab.hu/oauthkit/domain"
	serrors "go.pilab.hu/oauthkit/errors"
	"go.pilab.hu/oauthkit/flow"
)

func refreshExchange(env *testEnv, refreshToken string) (*api.TokenResponse, error) {
	return env.engine.Exchange(context.Background(), api.TokenRequest{
		GrantType:    flow.GrantRefreshToken,
		ClientID:     publicClientID,
		RefreshToken: refreshToken,
	})
}

func TestRefreshTokenGrantMintsAccessOnly(t *testing.T) {
	env := newTestEnv(t, defaultOptions())
	code := issueCode(t, env, "v1")
	initial, err := exchangeCode(env, code, "v1")
	require.NoError(t, err)

	env.clock.Advance(time.Minute)

	resp, err := refreshExchange(env, initial.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.Empty(t, resp.RefreshToken, "refresh exchange never reissues the refresh token")
	assert.NotEqual(t, initial.AccessToken, resp.AccessToken)
}

func TestRefreshTokenTouchedOnUse(t *testing.T) {
	env := newTestEnv(t, defaultOptions())
	code := issueCode(t, env, "v1")
	initial, err := exchangeCode(env, code, "v1")
	require.NoError(t, err)

	env.clock.Advance(time.Hour)
	_, err = refreshExchange(env, initial.RefreshToken)
	require.NoError(t, err)

	rt, err := env.repo.GetRefreshTokenByValue(context.Background(), initial.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, env.clock.Now(), rt.LastUsedAt)
}

func TestRevokedRefreshTokenRejected(t *testing.T) {
	env := newTestEnv(t, defaultOptions())
	code := issueCode(t, env, "v1")
	initial, err := exchangeCode(env, code, "v1")
	require.NoError(t, err)

	rt, err := env.repo.GetRefreshTokenByValue(context.Background(), initial.RefreshToken)
	require.NoError(t, err)
	require.NoError(t, env.repo.RevokeRefreshToken(context.Background(), rt.ID, domain.RevokedByClient))

	_, err = refreshExchange(env, initial.RefreshToken)
	assert.Equal(t, serrors.InvalidGrant, oauthCode(t, err))
}

func TestAccessTokenQuotaEvictsOldestFIFO(t *testing.T) {
	// AccessTokenQuota is 2: the code exchange mints access #1, the first
	// refresh mints #2, and the second refresh must evict #1 before #3.
	env := newTestEnv(t, defaultOptions())
	code := issueCode(t, env, "v1")
	initial, err := exchangeCode(env, code, "v1")
	require.NoError(t, err)

	env.clock.Advance(time.Minute)
	second, err := refreshExchange(env, initial.RefreshToken)
	require.NoError(t, err)

	env.clock.Advance(time.Minute)
	third, err := refreshExchange(env, initial.RefreshToken)
	require.NoError(t, err)

	first, err := env.repo.GetAccessTokenByValue(context.Background(), initial.AccessToken)
	require.NoError(t, err)
	assert.True(t, first.Revoked, "oldest access token is the eviction victim")

	for _, value := range []string{second.AccessToken, third.AccessToken} {
		at, err := env.repo.GetAccessTokenByValue(context.Background(), value)
		require.NoError(t, err)
		assert.False(t, at.Revoked)
	}

	assert.True(t, env.sink.hasEvent(audit.EventQuotaEviction))
}

func TestRefreshTokenQuotaEvictsOldestSessionWithCascade(t *testing.T) {
	// RefreshTokenQuota is 2 per (user, client): a third sign-in for the
	// same user evicts the first session's refresh token and cascades to
	// its access tokens, even though that session was just used.
	env := newTestEnv(t, defaultOptions())

	first, err := exchangeCode(env, issueCode(t, env, "v1"), "v1")
	require.NoError(t, err)
	env.clock.Advance(time.Minute)

	second, err := exchangeCode(env, issueCode(t, env, "v2"), "v2")
	require.NoError(t, err)
	env.clock.Advance(time.Minute)

	// Recent use does not protect the oldest session: eviction order is
	// strictly creation time.
	_, err = refreshExchange(env, first.RefreshToken)
	require.NoError(t, err)
	env.clock.Advance(time.Minute)

	third, err := exchangeCode(env, issueCode(t, env, "v3"), "v3")
	require.NoError(t, err)

	firstRT, err := env.repo.GetRefreshTokenByValue(context.Background(), first.RefreshToken)
	require.NoError(t, err)
	assert.True(t, firstRT.Revoked)
	assert.Equal(t, domain.RevokedByQuota, firstRT.RevokedReason)

	// Cascade: every access token under the evicted refresh token is gone.
	firstAT, err := env.repo.GetAccessTokenByValue(context.Background(), first.AccessToken)
	require.NoError(t, err)
	assert.True(t, firstAT.Revoked)

	for _, value := range []string{second.RefreshToken, third.RefreshToken} {
		rt, err := env.repo.GetRefreshTokenByValue(context.Background(), value)
		require.NoError(t, err)
		assert.False(t, rt.Revoked)
	}

	assert.True(t, env.sink.hasEvent(audit.EventQuotaEviction))
	assert.True(t, env.sink.hasEvent(audit.EventCascadeRevocation))

	_, err = refreshExchange(env, first.RefreshToken)
	assert.Equal(t, serrors.InvalidGrant, oauthCode(t, err), "evicted session cannot refresh")
}

func TestRefreshTokenOwnershipEnforced(t *testing.T) {
	env := newTestEnv(t, defaultOptions())
	code := issueCode(t, env, "v1")
	initial, err := exchangeCode(env, code, "v1")
	require.NoError(t, err)

	_, err = env.engine.Exchange(context.Background(), api.TokenRequest{
		GrantType:    flow.GrantRefreshToken,
		ClientID:     confidentialClientID,
		ClientSecret: confidentialSecret,
		RefreshToken: initial.RefreshToken,
	})
	assert.Equal(t, serrors.InvalidGrant, oauthCode(t, err))
}
