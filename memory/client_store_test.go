package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/oauthkit/domain"
	serrors "go.pilab.hu/oauthkit/errors"
	"go.pilab.hu/oauthkit/memory"
)

func TestClientStoreGetClient(t *testing.T) {
	clients := memory.NewClientStore(&domain.Client{ID: "client-1", Enabled: true})

	got, err := clients.GetClient(context.Background(), "client-1")
	require.NoError(t, err)
	assert.Equal(t, "client-1", got.ID)

	// Mutating the returned copy must not leak into the store.
	got.Enabled = false
	again, err := clients.GetClient(context.Background(), "client-1")
	require.NoError(t, err)
	assert.True(t, again.Enabled)

	_, err = clients.GetClient(context.Background(), "unknown")
	assert.ErrorIs(t, err, serrors.ErrNotFound)
}

func TestVerifyPassword(t *testing.T) {
	identity := memory.NewIdentityVerifier()
	require.NoError(t, identity.AddUser("alice", "pw123", "user-1"))

	userID, err := identity.VerifyPassword(context.Background(), "alice", "pw123")
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)

	// Unknown user and wrong password fail with the same sentinel so a
	// caller cannot tell which case it hit.
	_, wrongPw := identity.VerifyPassword(context.Background(), "alice", "wrong")
	_, unknown := identity.VerifyPassword(context.Background(), "nobody", "pw123")
	assert.ErrorIs(t, wrongPw, serrors.ErrInvalidCredentials)
	assert.ErrorIs(t, unknown, serrors.ErrInvalidCredentials)
	assert.Equal(t, wrongPw, unknown)
}
