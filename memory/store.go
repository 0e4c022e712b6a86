// Package memory provides in-process implementations of the storage ports,
// suitable for tests and single-node deployments. Expiring records (auth
// codes, authorization requests, device codes) live in ttlcache so stale
// entries are cleaned up automatically; token records live in plain maps
// since refresh tokens carry no expiry.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"go.pilab.hu/oauthkit/domain"
	serrors "go.pilab.hu/oauthkit/errors"
)

// Store implements domain.OAuthRepository in memory. A single mutex guards
// every mutation so the compare-and-set operations are atomic.
type Store struct {
	mu sync.Mutex

	authRequests *ttlcache.Cache[string, *domain.AuthorizationRequest]
	authCodes    *ttlcache.Cache[string, *domain.AuthCode]
	deviceCodes  *ttlcache.Cache[string, *domain.DeviceCode]
	userCodes    map[string]string // user code -> device code value

	refreshTokens      map[string]*domain.RefreshToken
	refreshTokensByVal map[string]string // token value -> id
	accessTokens       map[string]*domain.AccessToken
	accessTokensByVal  map[string]string // token value -> id
}

// NewStore creates a Store with background expiry sweeping started.
func NewStore() *Store {
	s := &Store{
		authRequests: ttlcache.New(
			ttlcache.WithDisableTouchOnHit[string, *domain.AuthorizationRequest](),
		),
		authCodes: ttlcache.New(
			ttlcache.WithDisableTouchOnHit[string, *domain.AuthCode](),
		),
		deviceCodes: ttlcache.New(
			ttlcache.WithDisableTouchOnHit[string, *domain.DeviceCode](),
		),
		userCodes:          make(map[string]string),
		refreshTokens:      make(map[string]*domain.RefreshToken),
		refreshTokensByVal: make(map[string]string),
		accessTokens:       make(map[string]*domain.AccessToken),
		accessTokensByVal:  make(map[string]string),
	}

	// The sweeper expires device codes on its own; the user-code index
	// entry goes with them. Manual deletes clean the index under the store
	// lock themselves, so only expiry is handled here.
	s.deviceCodes.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *domain.DeviceCode]) {
		if reason != ttlcache.EvictionReasonExpired {
			return
		}
		s.mu.Lock()
		delete(s.userCodes, item.Value().UserCode)
		s.mu.Unlock()
	})

	go s.authRequests.Start()
	go s.authCodes.Start()
	go s.deviceCodes.Start()

	return s
}

// Close stops the background expiry goroutines.
func (s *Store) Close() error {
	s.authRequests.Stop()
	s.authCodes.Stop()
	s.deviceCodes.Stop()
	return nil
}

func recordTTL(expiresAt time.Time) time.Duration {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		// Logical expiry is checked against the injected clock; keep the
		// record around briefly so those checks can observe it.
		ttl = time.Minute
	}
	return ttl
}

// --- Authorization requests ---

func (s *Store) SaveAuthorizationRequest(_ context.Context, req *domain.AuthorizationRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *req
	s.authRequests.Set(req.ID, &cp, recordTTL(req.ExpiresAt))
	return nil
}

func (s *Store) GetAuthorizationRequest(_ context.Context, id string) (*domain.AuthorizationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := s.authRequests.Get(id)
	if item == nil {
		return nil, serrors.ErrNotFound
	}
	cp := *item.Value()
	return &cp, nil
}

func (s *Store) GetAuthorizationRequestByToken(_ context.Context, correlationToken string) (*domain.AuthorizationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.authRequests.Items() {
		if item.Value().CorrelationToken == correlationToken {
			cp := *item.Value()
			return &cp, nil
		}
	}
	return nil, serrors.ErrNotFound
}

func (s *Store) UpdateAuthorizationRequestStatus(_ context.Context, id string, to domain.AuthorizationRequestStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := s.authRequests.Get(id)
	if item == nil {
		return serrors.ErrNotFound
	}
	req := item.Value()
	if req.Status != domain.AuthorizationRequestPending {
		return serrors.ErrNotFound
	}
	cp := *req
	cp.Status = to
	s.authRequests.Set(id, &cp, recordTTL(req.ExpiresAt))
	return nil
}

// --- Authorization codes ---

func (s *Store) SaveAuthCode(_ context.Context, code *domain.AuthCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *code
	s.authCodes.Set(code.Code, &cp, recordTTL(code.ExpiresAt))
	return nil
}

func (s *Store) GetAuthCode(_ context.Context, code string) (*domain.AuthCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := s.authCodes.Get(code)
	if item == nil {
		return nil, serrors.ErrNotFound
	}
	cp := *item.Value()
	return &cp, nil
}

func (s *Store) ConsumeAuthCode(_ context.Context, code string) (*domain.AuthCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := s.authCodes.Get(code)
	if item == nil {
		return nil, serrors.ErrNotFound
	}
	ac := item.Value()
	if ac.Used {
		return nil, serrors.ErrCodeAlreadyUsed
	}
	ac.Used = true
	cp := *ac
	return &cp, nil
}

func (s *Store) DeleteExpiredAuthCodes(_ context.Context, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, item := range s.authCodes.Items() {
		if now.After(item.Value().ExpiresAt) {
			s.authCodes.Delete(key)
		}
	}
	return nil
}

// --- Refresh tokens ---

func (s *Store) SaveRefreshToken(_ context.Context, token *domain.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *token
	s.refreshTokens[token.ID] = &cp
	s.refreshTokensByVal[token.TokenValue] = token.ID
	return nil
}

func (s *Store) GetRefreshToken(_ context.Context, id string) (*domain.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt, ok := s.refreshTokens[id]
	if !ok {
		return nil, serrors.ErrNotFound
	}
	cp := *rt
	return &cp, nil
}

func (s *Store) GetRefreshTokenByValue(_ context.Context, tokenValue string) (*domain.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.refreshTokensByVal[tokenValue]
	if !ok {
		return nil, serrors.ErrNotFound
	}
	cp := *s.refreshTokens[id]
	return &cp, nil
}

func (s *Store) TouchRefreshToken(_ context.Context, id string, usedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt, ok := s.refreshTokens[id]
	if !ok {
		return serrors.ErrNotFound
	}
	rt.LastUsedAt = usedAt
	return nil
}

func (s *Store) RevokeRefreshToken(_ context.Context, id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt, ok := s.refreshTokens[id]
	if !ok {
		return serrors.ErrNotFound
	}
	rt.Revoked = true
	rt.RevokedReason = reason
	return nil
}

func (s *Store) CountActiveRefreshTokens(_ context.Context, clientID, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, rt := range s.refreshTokens {
		if !rt.Revoked && rt.ClientID == clientID && rt.UserID == userID {
			count++
		}
	}
	return count, nil
}

func (s *Store) OldestActiveRefreshToken(_ context.Context, clientID, userID string) (*domain.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var oldest *domain.RefreshToken
	for _, rt := range s.refreshTokens {
		if rt.Revoked || rt.ClientID != clientID || rt.UserID != userID {
			continue
		}
		if oldest == nil || rt.CreatedAt.Before(oldest.CreatedAt) {
			oldest = rt
		}
	}
	if oldest == nil {
		return nil, serrors.ErrNotFound
	}
	cp := *oldest
	return &cp, nil
}

// --- Access tokens ---

func (s *Store) SaveAccessToken(_ context.Context, token *domain.AccessToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *token
	s.accessTokens[token.ID] = &cp
	s.accessTokensByVal[token.TokenValue] = token.ID
	return nil
}

func (s *Store) GetAccessToken(_ context.Context, id string) (*domain.AccessToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.accessTokens[id]
	if !ok {
		return nil, serrors.ErrNotFound
	}
	cp := *at
	return &cp, nil
}

func (s *Store) GetAccessTokenByValue(_ context.Context, tokenValue string) (*domain.AccessToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.accessTokensByVal[tokenValue]
	if !ok {
		return nil, serrors.ErrNotFound
	}
	cp := *s.accessTokens[id]
	return &cp, nil
}

func (s *Store) TouchAccessToken(_ context.Context, id string, usedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.accessTokens[id]
	if !ok {
		return serrors.ErrNotFound
	}
	at.LastUsedAt = usedAt
	return nil
}

func (s *Store) RevokeAccessToken(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.accessTokens[id]
	if !ok {
		return serrors.ErrNotFound
	}
	at.Revoked = true
	return nil
}

func (s *Store) RevokeAccessTokensByRefreshToken(_ context.Context, refreshTokenID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, at := range s.accessTokens {
		if at.RefreshTokenID == refreshTokenID {
			at.Revoked = true
		}
	}
	return nil
}

func (s *Store) CountActiveAccessTokens(_ context.Context, refreshTokenID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, at := range s.accessTokens {
		if !at.Revoked && at.RefreshTokenID == refreshTokenID {
			count++
		}
	}
	return count, nil
}

func (s *Store) OldestActiveAccessToken(_ context.Context, refreshTokenID string) (*domain.AccessToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var oldest *domain.AccessToken
	for _, at := range s.accessTokens {
		if at.Revoked || at.RefreshTokenID != refreshTokenID {
			continue
		}
		if oldest == nil || at.CreatedAt.Before(oldest.CreatedAt) {
			oldest = at
		}
	}
	if oldest == nil {
		return nil, serrors.ErrNotFound
	}
	cp := *oldest
	return &cp, nil
}

// --- Device codes ---

func (s *Store) SaveDeviceCode(_ context.Context, code *domain.DeviceCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *code
	s.deviceCodes.Set(code.DeviceCode, &cp, recordTTL(code.ExpiresAt))
	s.userCodes[code.UserCode] = code.DeviceCode
	return nil
}

func (s *Store) GetDeviceCodeByDeviceCode(_ context.Context, deviceCode string) (*domain.DeviceCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := s.deviceCodes.Get(deviceCode)
	if item == nil {
		return nil, serrors.ErrNotFound
	}
	cp := *item.Value()
	return &cp, nil
}

func (s *Store) GetDeviceCodeByUserCode(_ context.Context, userCode string) (*domain.DeviceCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dc := s.deviceCodeByUserCodeLocked(userCode)
	if dc == nil {
		return nil, serrors.ErrUserCodeNotFound
	}
	cp := *dc
	return &cp, nil
}

func (s *Store) ApproveDeviceCode(_ context.Context, userCode, userID string) (*domain.DeviceCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dc := s.deviceCodeByUserCodeLocked(userCode)
	if dc == nil {
		return nil, serrors.ErrUserCodeNotFound
	}
	if dc.Status != domain.DeviceCodeStatusPending || time.Now().After(dc.ExpiresAt) {
		return nil, serrors.ErrCannotApproveDeviceAuth
	}
	dc.Status = domain.DeviceCodeStatusAuthorized
	dc.UserID = userID
	cp := *dc
	return &cp, nil
}

func (s *Store) DenyDeviceCode(_ context.Context, userCode string) (*domain.DeviceCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dc := s.deviceCodeByUserCodeLocked(userCode)
	if dc == nil {
		return nil, serrors.ErrUserCodeNotFound
	}
	if dc.Status != domain.DeviceCodeStatusPending {
		return nil, serrors.ErrCannotApproveDeviceAuth
	}
	dc.Status = domain.DeviceCodeStatusDenied
	cp := *dc
	return &cp, nil
}

func (s *Store) UpdateDeviceCodeStatus(_ context.Context, deviceCode string, from, to domain.DeviceCodeStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := s.deviceCodes.Get(deviceCode)
	if item == nil {
		return serrors.ErrNotFound
	}
	dc := item.Value()
	if dc.Status != from {
		return serrors.ErrNotFound
	}
	dc.Status = to
	return nil
}

func (s *Store) TouchDeviceCodePolledAt(_ context.Context, deviceCode string, polledAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := s.deviceCodes.Get(deviceCode)
	if item == nil {
		return serrors.ErrNotFound
	}
	item.Value().LastPolledAt = polledAt
	return nil
}

func (s *Store) DeleteExpiredDeviceCodes(_ context.Context, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, item := range s.deviceCodes.Items() {
		if now.After(item.Value().ExpiresAt) {
			delete(s.userCodes, item.Value().UserCode)
			s.deviceCodes.Delete(key)
		}
	}
	return nil
}

func (s *Store) deviceCodeByUserCodeLocked(userCode string) *domain.DeviceCode {
	deviceCode, ok := s.userCodes[userCode]
	if !ok {
		return nil
	}
	item := s.deviceCodes.Get(deviceCode)
	if item == nil {
		return nil
	}
	return item.Value()
}
