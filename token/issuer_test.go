package token_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/oauthkit/audit"
	"go.pilab.hu/oauthkit/domain"
	"go.pilab.hu/oauthkit/token"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Now().UTC()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *recordingSink) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) types() []audit.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audit.EventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Type)
	}
	return out
}

func newTestIssuer(clock domain.Clock) (*token.Issuer, *token.HMACSigner) {
	signer := token.NewHMACSigner([]byte("unit-test-key"))
	issuer := token.NewIssuer(token.IssuerOptions{
		Issuer:         "https://issuer.example",
		AccessTokenTTL: 30 * time.Minute,
	}, signer, clock, domain.UUIDGenerator{})
	return issuer, signer
}

func TestMintAccessTokenClaims(t *testing.T) {
	clock := newFakeClock()
	issuer, signer := newTestIssuer(clock)

	at, err := issuer.MintAccessToken("client-1", "user-1", "orders.read", "rt-1")
	require.NoError(t, err)

	assert.Equal(t, "client-1", at.ClientID)
	assert.Equal(t, "user-1", at.UserID)
	assert.Equal(t, "rt-1", at.RefreshTokenID)
	assert.Equal(t, clock.Now().Add(30*time.Minute), at.ExpiresAt)

	parsed, err := signer.Verify(at.TokenValue)
	require.NoError(t, err)
	claims, ok := parsed.Claims.(jwt.MapClaims)
	require.True(t, ok)

	assert.Equal(t, "https://issuer.example", claims["iss"])
	assert.Equal(t, "user-1", claims["sub"])
	assert.Equal(t, at.ID, claims["jti"], "jti links the JWT to its record")
	assert.Equal(t, "orders.read", claims["scope"])
}

func TestMintAccessTokenOmitsEmptyScope(t *testing.T) {
	issuer, signer := newTestIssuer(newFakeClock())

	at, err := issuer.MintAccessToken("client-1", "", "", "")
	require.NoError(t, err)

	parsed, err := signer.Verify(at.TokenValue)
	require.NoError(t, err)
	claims := parsed.Claims.(jwt.MapClaims)
	_, present := claims["scope"]
	assert.False(t, present)
}

func TestMintRefreshTokenIsOpaque(t *testing.T) {
	issuer, _ := newTestIssuer(newFakeClock())

	rt, err := issuer.MintRefreshToken("client-1", "user-1", "orders.read")
	require.NoError(t, err)

	assert.NotEmpty(t, rt.ID)
	assert.Len(t, rt.TokenValue, 64, "32 random bytes, hex encoded")
	assert.False(t, rt.Revoked)

	// An opaque value must not parse as a JWT.
	_, err = token.ExtractTokenID(rt.TokenValue)
	assert.Error(t, err)
}

func TestExtractTokenID(t *testing.T) {
	issuer, _ := newTestIssuer(newFakeClock())

	at, err := issuer.MintAccessToken("client-1", "user-1", "", "")
	require.NoError(t, err)

	id, err := token.ExtractTokenID(at.TokenValue)
	require.NoError(t, err)
	assert.Equal(t, at.ID, id)

	_, err = token.ExtractTokenID("not-a-jwt")
	assert.Error(t, err)
}

func TestVerifyRejectsForeignKey(t *testing.T) {
	issuer, _ := newTestIssuer(newFakeClock())
	other := token.NewHMACSigner([]byte("different-key"))

	at, err := issuer.MintAccessToken("client-1", "user-1", "", "")
	require.NoError(t, err)

	_, err = other.Verify(at.TokenValue)
	assert.Error(t, err)
}
