package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/oauthkit/domain"
	serrors "go.pilab.hu/oauthkit/errors"
	"go.pilab.hu/oauthkit/memory"
)

func newStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.NewStore()
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func saveAuthCode(t *testing.T, store *memory.Store, code string) *domain.AuthCode {
	t.Helper()
	record := &domain.AuthCode{
		Code:        code,
		ClientID:    "client-1",
		UserID:      "user-1",
		RedirectURI: "https://app.example/callback",
		Scope:       "orders.read",
		CreatedAt:   time.Now().UTC(),
		ExpiresAt:   time.Now().UTC().Add(10 * time.Minute),
	}
	require.NoError(t, store.SaveAuthCode(context.Background(), record))
	return record
}

func TestConsumeAuthCodeExactlyOnce(t *testing.T) {
	store := newStore(t)
	saveAuthCode(t, store, "code-1")

	consumed, err := store.ConsumeAuthCode(context.Background(), "code-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", consumed.UserID)

	_, err = store.ConsumeAuthCode(context.Background(), "code-1")
	assert.ErrorIs(t, err, serrors.ErrCodeAlreadyUsed)

	_, err = store.ConsumeAuthCode(context.Background(), "no-such-code")
	assert.ErrorIs(t, err, serrors.ErrNotFound)
}

func TestConsumeAuthCodeMarksStoredRecord(t *testing.T) {
	store := newStore(t)
	saveAuthCode(t, store, "code-1")

	_, err := store.ConsumeAuthCode(context.Background(), "code-1")
	require.NoError(t, err)

	stored, err := store.GetAuthCode(context.Background(), "code-1")
	require.NoError(t, err)
	assert.True(t, stored.Used)
}

func TestGetAuthCodeReturnsCopy(t *testing.T) {
	store := newStore(t)
	saveAuthCode(t, store, "code-1")

	got, err := store.GetAuthCode(context.Background(), "code-1")
	require.NoError(t, err)
	got.Used = true

	again, err := store.GetAuthCode(context.Background(), "code-1")
	require.NoError(t, err)
	assert.False(t, again.Used, "callers must not mutate stored state through the returned copy")
}

func TestUpdateAuthorizationRequestStatusPendingOnly(t *testing.T) {
	store := newStore(t)
	req := &domain.AuthorizationRequest{
		ID:               "req-1",
		CorrelationToken: "tok-1",
		ClientID:         "client-1",
		Status:           domain.AuthorizationRequestPending,
		CreatedAt:        time.Now().UTC(),
		ExpiresAt:        time.Now().UTC().Add(10 * time.Minute),
	}
	require.NoError(t, store.SaveAuthorizationRequest(context.Background(), req))

	require.NoError(t, store.UpdateAuthorizationRequestStatus(context.Background(), "req-1", domain.AuthorizationRequestApproved))

	// The record is no longer pending, so a second decision loses.
	err := store.UpdateAuthorizationRequestStatus(context.Background(), "req-1", domain.AuthorizationRequestDenied)
	assert.ErrorIs(t, err, serrors.ErrNotFound)

	stored, err := store.GetAuthorizationRequest(context.Background(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, domain.AuthorizationRequestApproved, stored.Status)
}

func TestGetAuthorizationRequestByToken(t *testing.T) {
	store := newStore(t)
	req := &domain.AuthorizationRequest{
		ID:               "req-1",
		CorrelationToken: "tok-1",
		Status:           domain.AuthorizationRequestPending,
		ExpiresAt:        time.Now().UTC().Add(10 * time.Minute),
	}
	require.NoError(t, store.SaveAuthorizationRequest(context.Background(), req))

	got, err := store.GetAuthorizationRequestByToken(context.Background(), "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "req-1", got.ID)

	_, err = store.GetAuthorizationRequestByToken(context.Background(), "tok-2")
	assert.ErrorIs(t, err, serrors.ErrNotFound)
}

func saveRefreshToken(t *testing.T, store *memory.Store, id string, createdAt time.Time) *domain.RefreshToken {
	t.Helper()
	token := &domain.RefreshToken{
		ID:         id,
		TokenValue: "value-" + id,
		ClientID:   "client-1",
		UserID:     "user-1",
		Scope:      "orders.read",
		CreatedAt:  createdAt,
	}
	require.NoError(t, store.SaveRefreshToken(context.Background(), token))
	return token
}

func TestOldestActiveRefreshTokenSkipsRevoked(t *testing.T) {
	store := newStore(t)
	base := time.Now().UTC()
	saveRefreshToken(t, store, "rt-1", base)
	saveRefreshToken(t, store, "rt-2", base.Add(time.Minute))
	saveRefreshToken(t, store, "rt-3", base.Add(2*time.Minute))

	oldest, err := store.OldestActiveRefreshToken(context.Background(), "client-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, "rt-1", oldest.ID)

	require.NoError(t, store.RevokeRefreshToken(context.Background(), "rt-1", domain.RevokedByQuota))

	oldest, err = store.OldestActiveRefreshToken(context.Background(), "client-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, "rt-2", oldest.ID)

	count, err := store.CountActiveRefreshTokens(context.Background(), "client-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestCountActiveRefreshTokensScopedToClientAndUser(t *testing.T) {
	store := newStore(t)
	base := time.Now().UTC()
	saveRefreshToken(t, store, "rt-1", base)

	other := &domain.RefreshToken{
		ID:         "rt-other",
		TokenValue: "value-other",
		ClientID:   "client-2",
		UserID:     "user-1",
		CreatedAt:  base,
	}
	require.NoError(t, store.SaveRefreshToken(context.Background(), other))

	count, err := store.CountActiveRefreshTokens(context.Background(), "client-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRevokeAccessTokensByRefreshToken(t *testing.T) {
	store := newStore(t)
	base := time.Now().UTC()

	for i, id := range []string{"at-1", "at-2"} {
		at := &domain.AccessToken{
			ID:             id,
			TokenValue:     "value-" + id,
			ClientID:       "client-1",
			RefreshTokenID: "rt-1",
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
			ExpiresAt:      base.Add(time.Hour),
		}
		require.NoError(t, store.SaveAccessToken(context.Background(), at))
	}
	unrelated := &domain.AccessToken{
		ID:             "at-3",
		TokenValue:     "value-at-3",
		ClientID:       "client-1",
		RefreshTokenID: "rt-2",
		CreatedAt:      base,
		ExpiresAt:      base.Add(time.Hour),
	}
	require.NoError(t, store.SaveAccessToken(context.Background(), unrelated))

	require.NoError(t, store.RevokeAccessTokensByRefreshToken(context.Background(), "rt-1"))

	for _, id := range []string{"at-1", "at-2"} {
		got, err := store.GetAccessToken(context.Background(), id)
		require.NoError(t, err)
		assert.True(t, got.Revoked)
	}
	got, err := store.GetAccessToken(context.Background(), "at-3")
	require.NoError(t, err)
	assert.False(t, got.Revoked)
}

func TestOldestActiveAccessToken(t *testing.T) {
	store := newStore(t)
	base := time.Now().UTC()

	for i, id := range []string{"at-2", "at-1"} {
		// Insertion order differs from creation order on purpose.
		at := &domain.AccessToken{
			ID:             id,
			TokenValue:     "value-" + id,
			RefreshTokenID: "rt-1",
			CreatedAt:      base.Add(time.Duration(1-i) * time.Minute),
			ExpiresAt:      base.Add(time.Hour),
		}
		require.NoError(t, store.SaveAccessToken(context.Background(), at))
	}

	oldest, err := store.OldestActiveAccessToken(context.Background(), "rt-1")
	require.NoError(t, err)
	assert.Equal(t, "at-1", oldest.ID, "selection follows creation time, not insertion order")
}

func TestGetAccessTokenByValue(t *testing.T) {
	store := newStore(t)
	at := &domain.AccessToken{
		ID:         "at-1",
		TokenValue: "opaque-value",
		ClientID:   "client-1",
		CreatedAt:  time.Now().UTC(),
		ExpiresAt:  time.Now().UTC().Add(time.Hour),
	}
	require.NoError(t, store.SaveAccessToken(context.Background(), at))

	got, err := store.GetAccessTokenByValue(context.Background(), "opaque-value")
	require.NoError(t, err)
	assert.Equal(t, "at-1", got.ID)

	_, err = store.GetAccessTokenByValue(context.Background(), "unknown")
	assert.ErrorIs(t, err, serrors.ErrNotFound)
}

func saveDeviceCode(t *testing.T, store *memory.Store, status domain.DeviceCodeStatus) *domain.DeviceCode {
	t.Helper()
	dc := &domain.DeviceCode{
		ID:         "dc-1",
		DeviceCode: "device-code-1",
		UserCode:   "BCDF0123",
		ClientID:   "client-1",
		Scope:      "orders.read",
		Status:     status,
		Interval:   5,
		CreatedAt:  time.Now().UTC(),
		ExpiresAt:  time.Now().UTC().Add(15 * time.Minute),
	}
	require.NoError(t, store.SaveDeviceCode(context.Background(), dc))
	return dc
}

func TestApproveDeviceCode(t *testing.T) {
	store := newStore(t)
	saveDeviceCode(t, store, domain.DeviceCodeStatusPending)

	approved, err := store.ApproveDeviceCode(context.Background(), "BCDF0123", "user-7")
	require.NoError(t, err)
	assert.Equal(t, domain.DeviceCodeStatusAuthorized, approved.Status)
	assert.Equal(t, "user-7", approved.UserID)

	// No longer pending, so a second decision fails.
	_, err = store.ApproveDeviceCode(context.Background(), "BCDF0123", "user-8")
	assert.ErrorIs(t, err, serrors.ErrCannotApproveDeviceAuth)

	_, err = store.DenyDeviceCode(context.Background(), "BCDF0123")
	assert.ErrorIs(t, err, serrors.ErrCannotApproveDeviceAuth)
}

func TestApproveDeviceCodeUnknownUserCode(t *testing.T) {
	store := newStore(t)

	_, err := store.ApproveDeviceCode(context.Background(), "XXXXYYYY", "user-7")
	assert.ErrorIs(t, err, serrors.ErrUserCodeNotFound)
}

func TestUpdateDeviceCodeStatusConditional(t *testing.T) {
	store := newStore(t)
	saveDeviceCode(t, store, domain.DeviceCodeStatusAuthorized)

	// The record is authorized, not pending, so this transition loses.
	err := store.UpdateDeviceCodeStatus(context.Background(), "device-code-1", domain.DeviceCodeStatusPending, domain.DeviceCodeStatusExpired)
	assert.ErrorIs(t, err, serrors.ErrNotFound)

	require.NoError(t, store.UpdateDeviceCodeStatus(context.Background(), "device-code-1", domain.DeviceCodeStatusAuthorized, domain.DeviceCodeStatusRedeemed))

	got, err := store.GetDeviceCodeByDeviceCode(context.Background(), "device-code-1")
	require.NoError(t, err)
	assert.Equal(t, domain.DeviceCodeStatusRedeemed, got.Status)
}

func TestGetDeviceCodeByUserCode(t *testing.T) {
	store := newStore(t)
	saveDeviceCode(t, store, domain.DeviceCodeStatusPending)

	got, err := store.GetDeviceCodeByUserCode(context.Background(), "BCDF0123")
	require.NoError(t, err)
	assert.Equal(t, "dc-1", got.ID)

	_, err = store.GetDeviceCodeByUserCode(context.Background(), "XXXXYYYY")
	assert.ErrorIs(t, err, serrors.ErrUserCodeNotFound)
}

func TestDeleteExpiredDeviceCodesDropsUserCodeIndex(t *testing.T) {
	store := newStore(t)
	dc := saveDeviceCode(t, store, domain.DeviceCodeStatusPending)

	require.NoError(t, store.DeleteExpiredDeviceCodes(context.Background(), dc.ExpiresAt.Add(time.Second)))

	// Once the device code is gone its user code must not resolve either.
	_, err := store.GetDeviceCodeByUserCode(context.Background(), "BCDF0123")
	assert.ErrorIs(t, err, serrors.ErrUserCodeNotFound)
	_, err = store.GetDeviceCodeByDeviceCode(context.Background(), "device-code-1")
	assert.ErrorIs(t, err, serrors.ErrNotFound)
}

func TestTouchDeviceCodePolledAt(t *testing.T) {
	store := newStore(t)
	saveDeviceCode(t, store, domain.DeviceCodeStatusPending)

	polledAt := time.Now().UTC().Add(30 * time.Second)
	require.NoError(t, store.TouchDeviceCodePolledAt(context.Background(), "device-code-1", polledAt))

	got, err := store.GetDeviceCodeByDeviceCode(context.Background(), "device-code-1")
	require.NoError(t, err)
	assert.True(t, got.LastPolledAt.Equal(polledAt))
}

func TestTouchTokensRecordLastUse(t *testing.T) {
	store := newStore(t)
	base := time.Now().UTC()
	saveRefreshToken(t, store, "rt-1", base)

	usedAt := base.Add(time.Minute)
	require.NoError(t, store.TouchRefreshToken(context.Background(), "rt-1", usedAt))

	got, err := store.GetRefreshToken(context.Background(), "rt-1")
	require.NoError(t, err)
	assert.True(t, got.LastUsedAt.Equal(usedAt))
}
