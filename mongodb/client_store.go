package mongodb

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"go.pilab.hu/oauthkit/domain"
	serrors "go.pilab.hu/oauthkit/errors"
)

// ClientStore implements the read-only domain.ClientStore port on MongoDB.
// Client registration is the external registry's job; this store only
// resolves records for authentication and policy checks.
type ClientStore struct {
	clients *mongo.Collection
}

// NewClientStore creates a ClientStore over the given database.
func NewClientStore(db *mongo.Database) *ClientStore {
	return &ClientStore{clients: db.Collection(ClientsCollection)}
}

func (s *ClientStore) GetClient(ctx context.Context, clientID string) (*domain.Client, error) {
	var result domain.Client
	err := s.clients.FindOne(ctx, bson.M{"_id": clientID}).Decode(&result)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, serrors.ErrNotFound
		}
		return nil, err
	}
	return &result, nil
}
