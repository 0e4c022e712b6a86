package flow_test

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/oauthkit/api"
	"go.pilab.hu/oauthkit/audit"
	"go.pilab.hu/oauthkit/domain"
	serrors "go.pilab.hu/oauthkit/errors"
	"go.pilab.hu/oauthkit/flow"
)

func s256Challenge(verifier string) string {
	h := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(h[:])
}

// issueCode runs the front-channel half for the public client and returns
// the authorization code bound to the given PKCE verifier.
func issueCode(t *testing.T, env *testEnv, verifier string) string {
	t.Helper()

	authReq, err := env.authz.Begin(context.Background(), flow.BeginAuthorizationRequest{
		ClientID:            publicClientID,
		RedirectURI:         redirectURI,
		Scope:               "orders.read",
		CodeChallenge:       s256Challenge(verifier),
		CodeChallengeMethod: "S256",
	})
	require.NoError(t, err)

	code, err := env.authz.Approve(context.Background(), authReq.ID, "user-1")
	require.NoError(t, err)
	return code
}

func exchangeCode(env *testEnv, code, verifier string) (*api.TokenResponse, error) {
	return env.engine.Exchange(context.Background(), api.TokenRequest{
		GrantType:    flow.GrantAuthorizationCode,
		ClientID:     publicClientID,
		Code:         code,
		RedirectURI:  redirectURI,
		CodeVerifier: verifier,
	})
}

func TestAuthorizationCodeGrant(t *testing.T) {
	env := newTestEnv(t, defaultOptions())
	code := issueCode(t, env, "correct-horse-battery-staple")

	resp, err := exchangeCode(env, code, "correct-horse-battery-staple")
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.Equal(t, "orders.read", resp.Scope)

	rt, err := env.repo.GetRefreshTokenByValue(context.Background(), resp.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", rt.UserID)

	at, err := env.repo.GetAccessTokenByValue(context.Background(), resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, rt.ID, at.RefreshTokenID, "access token links to its parent refresh token")

	assert.True(t, env.sink.hasEvent(audit.EventAuthCodeExchanged))
	assert.True(t, env.sink.hasEvent(audit.EventConsentApproved))
}

func TestAuthorizationCodeSingleUse(t *testing.T) {
	env := newTestEnv(t, defaultOptions())
	code := issueCode(t, env, "verifier-one")

	_, err := exchangeCode(env, code, "verifier-one")
	require.NoError(t, err)

	_, err = exchangeCode(env, code, "verifier-one")
	assert.Equal(t, serrors.InvalidGrant, oauthCode(t, err))
}

func TestAuthorizationCodeConcurrentExchange(t *testing.T) {
	env := newTestEnv(t, defaultOptions())
	code := issueCode(t, env, "verifier-racing")

	const racers = 8
	var wg sync.WaitGroup
	results := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = exchangeCode(env, code, "verifier-racing")
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range results {
		if err == nil {
			successes++
		} else {
			assert.Equal(t, serrors.InvalidGrant, oauthCode(t, err))
		}
	}
	assert.Equal(t, 1, successes, "exactly one concurrent exchange may win")
}

func TestAuthorizationCodeWrongVerifier(t *testing.T) {
	env := newTestEnv(t, defaultOptions())
	code := issueCode(t, env, "right-verifier")

	_, err := exchangeCode(env, code, "wrong-verifier")
	assert.Equal(t, serrors.InvalidGrant, oauthCode(t, err))

	// The code survives a failed PKCE check; only a successful exchange
	// consumes it.
	_, err = exchangeCode(env, code, "right-verifier")
	assert.NoError(t, err)
}

func TestAuthorizationCodeRedirectMismatch(t *testing.T) {
	env := newTestEnv(t, defaultOptions())
	code := issueCode(t, env, "some-verifier")

	_, err := env.engine.Exchange(context.Background(), api.TokenRequest{
		GrantType:    flow.GrantAuthorizationCode,
		ClientID:     publicClientID,
		Code:         code,
		RedirectURI:  "https://evil.example/cb",
		CodeVerifier: "some-verifier",
	})
	assert.Equal(t, serrors.InvalidGrant, oauthCode(t, err))
}

func TestAuthorizationCodeExpired(t *testing.T) {
	env := newTestEnv(t, defaultOptions())
	code := issueCode(t, env, "late-verifier")

	env.clock.Advance(defaultOptions().AuthCodeTTL + 1)

	_, err := exchangeCode(env, code, "late-verifier")
	assert.Equal(t, serrors.InvalidGrant, oauthCode(t, err))
}

func TestAuthorizationCodeWrongClient(t *testing.T) {
	env := newTestEnv(t, defaultOptions())
	code := issueCode(t, env, "stolen-verifier")

	_, err := env.engine.Exchange(context.Background(), api.TokenRequest{
		GrantType:    flow.GrantAuthorizationCode,
		ClientID:     confidentialClientID,
		ClientSecret: confidentialSecret,
		Code:         code,
		RedirectURI:  redirectURI,
		CodeVerifier: "stolen-verifier",
	})
	assert.Equal(t, serrors.InvalidGrant, oauthCode(t, err))
}

func TestBeginRejectsUnregisteredRedirect(t *testing.T) {
	env := newTestEnv(t, defaultOptions())

	_, err := env.authz.Begin(context.Background(), flow.BeginAuthorizationRequest{
		ClientID:      publicClientID,
		RedirectURI:   "https://evil.example/cb",
		CodeChallenge: s256Challenge("v"),
	})
	assert.Equal(t, serrors.InvalidRequest, oauthCode(t, err))
}

func TestBeginRequiresPKCEForPublicClients(t *testing.T) {
	env := newTestEnv(t, defaultOptions())

	_, err := env.authz.Begin(context.Background(), flow.BeginAuthorizationRequest{
		ClientID:    publicClientID,
		RedirectURI: redirectURI,
	})
	assert.Equal(t, serrors.InvalidRequest, oauthCode(t, err))
}

func TestDenyIssuesNoCode(t *testing.T) {
	env := newTestEnv(t, defaultOptions())

	authReq, err := env.authz.Begin(context.Background(), flow.BeginAuthorizationRequest{
		ClientID:            publicClientID,
		RedirectURI:         redirectURI,
		CodeChallenge:       s256Challenge("v"),
		CodeChallengeMethod: "S256",
	})
	require.NoError(t, err)

	require.NoError(t, env.authz.Deny(context.Background(), authReq.ID))
	assert.True(t, env.sink.hasEvent(audit.EventConsentDenied))

	stored, err := env.repo.GetAuthorizationRequest(context.Background(), authReq.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AuthorizationRequestDenied, stored.Status)

	// A decided request cannot be approved afterwards.
	_, err = env.authz.Approve(context.Background(), authReq.ID, "user-1")
	assert.Equal(t, serrors.InvalidGrant, oauthCode(t, err))
}

func TestExpiredAuthorizationRequestCannotBeApproved(t *testing.T) {
	env := newTestEnv(t, defaultOptions())

	authReq, err := env.authz.Begin(context.Background(), flow.BeginAuthorizationRequest{
		ClientID:            publicClientID,
		RedirectURI:         redirectURI,
		CodeChallenge:       s256Challenge("v"),
		CodeChallengeMethod: "S256",
	})
	require.NoError(t, err)

	env.clock.Advance(defaultOptions().AuthCodeTTL + 1)

	_, err = env.authz.Approve(context.Background(), authReq.ID, "user-1")
	assert.Equal(t, serrors.InvalidGrant, oauthCode(t, err))
}
