package memory

import (
	"context"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"go.pilab.hu/oauthkit/domain"
	serrors "go.pilab.hu/oauthkit/errors"
)

// ClientStore implements domain.ClientStore over a map. The registry is
// seeded up front; there is no runtime registration API.
type ClientStore struct {
	mu      sync.RWMutex
	clients map[string]*domain.Client
}

// NewClientStore creates a ClientStore seeded with the given clients.
func NewClientStore(clients ...*domain.Client) *ClientStore {
	s := &ClientStore{clients: make(map[string]*domain.Client, len(clients))}
	for _, c := range clients {
		cp := *c
		s.clients[c.ID] = &cp
	}
	return s
}

// Put adds or replaces a client record.
func (s *ClientStore) Put(client *domain.Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *client
	s.clients[client.ID] = &cp
}

func (s *ClientStore) GetClient(_ context.Context, clientID string) (*domain.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[clientID]
	if !ok {
		return nil, serrors.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

type identityRecord struct {
	userID       string
	passwordHash []byte
}

// dummyPasswordHash is compared against on the unknown-user path so both
// failure cases cost a bcrypt comparison.
var dummyPasswordHash = []byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy")

// IdentityVerifier implements domain.IdentityVerifier over an in-memory
// user table with bcrypt password hashes. Unknown users and wrong passwords
// are indistinguishable to the caller.
type IdentityVerifier struct {
	mu    sync.RWMutex
	users map[string]identityRecord
}

// NewIdentityVerifier creates an empty IdentityVerifier.
func NewIdentityVerifier() *IdentityVerifier {
	return &IdentityVerifier{users: make(map[string]identityRecord)}
}

// AddUser registers a user with a bcrypt-hashed password.
func (v *IdentityVerifier) AddUser(username, password, userID string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.users[username] = identityRecord{userID: userID, passwordHash: hash}
	return nil
}

func (v *IdentityVerifier) VerifyPassword(_ context.Context, username, password string) (string, error) {
	v.mu.RLock()
	rec, ok := v.users[username]
	v.mu.RUnlock()
	if !ok {
		_ = bcrypt.CompareHashAndPassword(dummyPasswordHash, []byte(password))
		return "", serrors.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(rec.passwordHash, []byte(password)); err != nil {
		return "", serrors.ErrInvalidCredentials
	}
	return rec.userID, nil
}
