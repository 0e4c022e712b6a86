package flow_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"go.pilab.hu/oauthkit/audit"
	"go.pilab.hu/oauthkit/domain"
	"go.pilab.hu/oauthkit/flow"
	"go.pilab.hu/oauthkit/log"
	"go.pilab.hu/oauthkit/memory"
	"go.pilab.hu/oauthkit/token"
)

const (
	confidentialClientID = "web-app"
	confidentialSecret   = "s3cret-value"
	publicClientID       = "cli-app"
	redirectURI          = "https://app.example/callback"
)

// fakeClock is an adjustable clock shared by every component under test.
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

// recordingSink captures audit events for assertions.
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

func (s *recordingSink) eventsOfType(t audit.EventType) []audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []audit.Event
	for _, e := range s.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (s *recordingSink) hasEvent(t audit.EventType) bool {
	return len(s.eventsOfType(t)) > 0
}

// failingSink simulates an unavailable audit backend.
type failingSink struct{}

func (failingSink) Append(context.Context, audit.Event) error {
	return errors.New("sink unavailable")
}

type testEnv struct {
	repo     *memory.Store
	clients  *memory.ClientStore
	identity *memory.IdentityVerifier
	sink     *recordingSink
	clock    *fakeClock
	deps     flow.Deps
	engine   *flow.Engine
	authz    *flow.AuthorizationService
	devices  *flow.DeviceService
}

func defaultOptions() flow.Options {
	return flow.Options{
		AccessTokenQuota:   2,
		RefreshTokenQuota:  2,
		AllowPasswordGrant: false,
		AuthCodeTTL:        10 * time.Minute,
		DeviceCodeTTL:      15 * time.Minute,
		DevicePollInterval: 5,
		VerificationURI:    "https://app.example/device",
	}
}

func newTestEnv(t *testing.T, opts flow.Options) *testEnv {
	t.Helper()

	secretHash, err := bcrypt.GenerateFromPassword([]byte(confidentialSecret), bcrypt.MinCost)
	require.NoError(t, err)

	clock := newFakeClock()
	sink := &recordingSink{}
	store := memory.NewStore()
	t.Cleanup(func() { _ = store.Close() })

	clients := memory.NewClientStore(
		&domain.Client{
			ID:           confidentialClientID,
			SecretHash:   string(secretHash),
			Name:         "Web App",
			Confidential: true,
			Enabled:      true,
			AllowedGrantTypes: []string{
				flow.GrantAuthorizationCode,
				flow.GrantClientCredentials,
				flow.GrantRefreshToken,
				flow.GrantPassword,
			},
			RedirectURIs:  []string{redirectURI},
			AllowedScopes: []string{"orders.ALL", "profile.read"},
			DefaultScope:  "profile.read",
			CreatedAt:     clock.Now(),
		},
		&domain.Client{
			ID:           publicClientID,
			Name:         "CLI App",
			Confidential: false,
			Enabled:      true,
			AllowedGrantTypes: []string{
				flow.GrantAuthorizationCode,
				flow.GrantRefreshToken,
				flow.GrantDeviceCode,
			},
			RedirectURIs:  []string{redirectURI},
			AllowedScopes: []string{"orders.ALL", "profile.read"},
			DefaultScope:  "profile.read",
			CreatedAt:     clock.Now(),
		},
	)

	identity := memory.NewIdentityVerifier()
	logger := log.NewZerologAdapter(zerolog.Disabled, false)
	ids := domain.UUIDGenerator{}
	signer := token.NewHMACSigner([]byte("test-signing-key"))
	issuer := token.NewIssuer(token.IssuerOptions{
		Issuer:         "https://issuer.example",
		AccessTokenTTL: time.Hour,
	}, signer, clock, ids)
	revoker := token.NewRevocationService(store, sink, clock, logger)

	deps := flow.Deps{
		Repo:     store,
		Clients:  clients,
		Identity: identity,
		Issuer:   issuer,
		Revoker:  revoker,
		Sink:     sink,
		Clock:    clock,
		IDs:      ids,
		Logger:   logger,
		Options:  opts,
	}

	return &testEnv{
		repo:     store,
		clients:  clients,
		identity: identity,
		sink:     sink,
		clock:    clock,
		deps:     deps,
		engine:   flow.NewEngine(deps),
		authz:    flow.NewAuthorizationService(deps),
		devices:  flow.NewDeviceService(deps),
	}
}
