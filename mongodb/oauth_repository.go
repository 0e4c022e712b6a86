package mongodb

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"go.pilab.hu/oauthkit/domain"
	serrors "go.pilab.hu/oauthkit/errors"
)

// OAuthRepository implements domain.OAuthRepository on MongoDB.
type OAuthRepository struct {
	authRequests  *mongo.Collection
	authCodes     *mongo.Collection
	refreshTokens *mongo.Collection
	accessTokens  *mongo.Collection
	deviceCodes   *mongo.Collection
}

// NewOAuthRepository creates an OAuthRepository over the given database.
func NewOAuthRepository(db *mongo.Database) *OAuthRepository {
	return &OAuthRepository{
		authRequests:  db.Collection(AuthRequestsCollection),
		authCodes:     db.Collection(CodesCollection),
		refreshTokens: db.Collection(RefreshTokensCollection),
		accessTokens:  db.Collection(AccessTokensCollection),
		deviceCodes:   db.Collection(DeviceCodesCollection),
	}
}

// EnsureIndexes creates the natural-key and query indexes. Call once at
// startup; index creation is idempotent.
func (r *OAuthRepository) EnsureIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)

	if _, err := r.authRequests.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.M{"correlation_token": 1}, Options: unique,
	}); err != nil {
		return err
	}
	if _, err := r.refreshTokens.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.M{"token_value": 1}, Options: unique},
		{Keys: bson.D{{Key: "client_id", Value: 1}, {Key: "user_id", Value: 1}, {Key: "revoked", Value: 1}, {Key: "created_at", Value: 1}}},
	}); err != nil {
		return err
	}
	if _, err := r.accessTokens.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.M{"token_value": 1}, Options: unique},
		{Keys: bson.D{{Key: "refresh_token_id", Value: 1}, {Key: "revoked", Value: 1}, {Key: "created_at", Value: 1}}},
	}); err != nil {
		return err
	}
	if _, err := r.deviceCodes.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.M{"device_code": 1}, Options: unique},
		{Keys: bson.M{"user_code": 1}, Options: unique},
	}); err != nil {
		return err
	}
	return nil
}

// --- Authorization requests ---

func (r *OAuthRepository) SaveAuthorizationRequest(ctx context.Context, req *domain.AuthorizationRequest) error {
	_, err := r.authRequests.InsertOne(ctx, req)
	return err
}

func (r *OAuthRepository) GetAuthorizationRequest(ctx context.Context, id string) (*domain.AuthorizationRequest, error) {
	var result domain.AuthorizationRequest
	err := r.authRequests.FindOne(ctx, bson.M{"_id": id}).Decode(&result)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, serrors.ErrNotFound
		}
		return nil, err
	}
	return &result, nil
}

func (r *OAuthRepository) GetAuthorizationRequestByToken(ctx context.Context, correlationToken string) (*domain.AuthorizationRequest, error) {
	var result domain.AuthorizationRequest
	err := r.authRequests.FindOne(ctx, bson.M{"correlation_token": correlationToken}).Decode(&result)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, serrors.ErrNotFound
		}
		return nil, err
	}
	return &result, nil
}

func (r *OAuthRepository) UpdateAuthorizationRequestStatus(ctx context.Context, id string, to domain.AuthorizationRequestStatus) error {
	filter := bson.M{
		"_id":    id,
		"status": domain.AuthorizationRequestPending,
	}
	update := bson.M{"$set": bson.M{"status": to}}

	result, err := r.authRequests.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return serrors.ErrNotFound
	}
	return nil
}

// --- Authorization codes ---

func (r *OAuthRepository) SaveAuthCode(ctx context.Context, code *domain.AuthCode) error {
	_, err := r.authCodes.InsertOne(ctx, code)
	return err
}

func (r *OAuthRepository) GetAuthCode(ctx context.Context, code string) (*domain.AuthCode, error) {
	var result domain.AuthCode
	err := r.authCodes.FindOne(ctx, bson.M{"_id": code}).Decode(&result)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, serrors.ErrNotFound
		}
		return nil, err
	}
	return &result, nil
}

func (r *OAuthRepository) ConsumeAuthCode(ctx context.Context, code string) (*domain.AuthCode, error) {
	// Conditioned on used:false so exactly one concurrent exchange wins.
	filter := bson.M{"_id": code, "used": false}
	update := bson.M{"$set": bson.M{"used": true}}
	opt := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var updated domain.AuthCode
	err := r.authCodes.FindOneAndUpdate(ctx, filter, update, opt).Decode(&updated)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			// Distinguish a consumed code from a missing one for callers
			// that care; both map to the same grant failure.
			count, countErr := r.authCodes.CountDocuments(ctx, bson.M{"_id": code})
			if countErr == nil && count > 0 {
				return nil, serrors.ErrCodeAlreadyUsed
			}
			return nil, serrors.ErrNotFound
		}
		return nil, err
	}
	return &updated, nil
}

func (r *OAuthRepository) DeleteExpiredAuthCodes(ctx context.Context, now time.Time) error {
	_, err := r.authCodes.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lte": now}})
	return err
}

// --- Refresh tokens ---

func (r *OAuthRepository) SaveRefreshToken(ctx context.Context, token *domain.RefreshToken) error {
	_, err := r.refreshTokens.InsertOne(ctx, token)
	return err
}

func (r *OAuthRepository) GetRefreshToken(ctx context.Context, id string) (*domain.RefreshToken, error) {
	var result domain.RefreshToken
	err := r.refreshTokens.FindOne(ctx, bson.M{"_id": id}).Decode(&result)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, serrors.ErrNotFound
		}
		return nil, err
	}
	return &result, nil
}

func (r *OAuthRepository) GetRefreshTokenByValue(ctx context.Context, tokenValue string) (*domain.RefreshToken, error) {
	var result domain.RefreshToken
	err := r.refreshTokens.FindOne(ctx, bson.M{"token_value": tokenValue}).Decode(&result)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, serrors.ErrNotFound
		}
		return nil, err
	}
	return &result, nil
}

func (r *OAuthRepository) TouchRefreshToken(ctx context.Context, id string, usedAt time.Time) error {
	result, err := r.refreshTokens.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"last_used_at": usedAt}})
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return serrors.ErrNotFound
	}
	return nil
}

func (r *OAuthRepository) RevokeRefreshToken(ctx context.Context, id, reason string) error {
	result, err := r.refreshTokens.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"revoked": true, "revoked_reason": reason}})
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return serrors.ErrNotFound
	}
	return nil
}

func (r *OAuthRepository) CountActiveRefreshTokens(ctx context.Context, clientID, userID string) (int, error) {
	count, err := r.refreshTokens.CountDocuments(ctx, bson.M{
		"client_id": clientID,
		"user_id":   userID,
		"revoked":   false,
	})
	return int(count), err
}

func (r *OAuthRepository) OldestActiveRefreshToken(ctx context.Context, clientID, userID string) (*domain.RefreshToken, error) {
	filter := bson.M{
		"client_id": clientID,
		"user_id":   userID,
		"revoked":   false,
	}
	opt := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: 1}})

	var result domain.RefreshToken
	err := r.refreshTokens.FindOne(ctx, filter, opt).Decode(&result)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, serrors.ErrNotFound
		}
		return nil, err
	}
	return &result, nil
}

// --- Access tokens ---

func (r *OAuthRepository) SaveAccessToken(ctx context.Context, token *domain.AccessToken) error {
	_, err := r.accessTokens.InsertOne(ctx, token)
	return err
}

func (r *OAuthRepository) GetAccessToken(ctx context.Context, id string) (*domain.AccessToken, error) {
	var result domain.AccessToken
	err := r.accessTokens.FindOne(ctx, bson.M{"_id": id}).Decode(&result)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, serrors.ErrNotFound
		}
		return nil, err
	}
	return &result, nil
}

func (r *OAuthRepository) GetAccessTokenByValue(ctx context.Context, tokenValue string) (*domain.AccessToken, error) {
	var result domain.AccessToken
	err := r.accessTokens.FindOne(ctx, bson.M{"token_value": tokenValue}).Decode(&result)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, serrors.ErrNotFound
		}
		return nil, err
	}
	return &result, nil
}

func (r *OAuthRepository) TouchAccessToken(ctx context.Context, id string, usedAt time.Time) error {
	result, err := r.accessTokens.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"last_used_at": usedAt}})
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return serrors.ErrNotFound
	}
	return nil
}

func (r *OAuthRepository) RevokeAccessToken(ctx context.Context, id string) error {
	result, err := r.accessTokens.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"revoked": true}})
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return serrors.ErrNotFound
	}
	return nil
}

func (r *OAuthRepository) RevokeAccessTokensByRefreshToken(ctx context.Context, refreshTokenID string) error {
	_, err := r.accessTokens.UpdateMany(ctx,
		bson.M{"refresh_token_id": refreshTokenID},
		bson.M{"$set": bson.M{"revoked": true}})
	return err
}

func (r *OAuthRepository) CountActiveAccessTokens(ctx context.Context, refreshTokenID string) (int, error) {
	count, err := r.accessTokens.CountDocuments(ctx, bson.M{
		"refresh_token_id": refreshTokenID,
		"revoked":          false,
	})
	return int(count), err
}

func (r *OAuthRepository) OldestActiveAccessToken(ctx context.Context, refreshTokenID string) (*domain.AccessToken, error) {
	filter := bson.M{
		"refresh_token_id": refreshTokenID,
		"revoked":          false,
	}
	opt := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: 1}})

	var result domain.AccessToken
	err := r.accessTokens.FindOne(ctx, filter, opt).Decode(&result)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, serrors.ErrNotFound
		}
		return nil, err
	}
	return &result, nil
}

// --- Device codes ---

func (r *OAuthRepository) SaveDeviceCode(ctx context.Context, code *domain.DeviceCode) error {
	_, err := r.deviceCodes.InsertOne(ctx, code)
	return err
}

func (r *OAuthRepository) GetDeviceCodeByDeviceCode(ctx context.Context, deviceCode string) (*domain.DeviceCode, error) {
	var result domain.DeviceCode
	err := r.deviceCodes.FindOne(ctx, bson.M{"device_code": deviceCode}).Decode(&result)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, serrors.ErrDeviceCodeNotFound
		}
		return nil, err
	}
	return &result, nil
}

func (r *OAuthRepository) GetDeviceCodeByUserCode(ctx context.Context, userCode string) (*domain.DeviceCode, error) {
	var result domain.DeviceCode
	err := r.deviceCodes.FindOne(ctx, bson.M{"user_code": userCode}).Decode(&result)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, serrors.ErrUserCodeNotFound
		}
		return nil, err
	}
	return &result, nil
}

func (r *OAuthRepository) ApproveDeviceCode(ctx context.Context, userCode, userID string) (*domain.DeviceCode, error) {
	filter := bson.M{
		"user_code":  userCode,
		"status":     domain.DeviceCodeStatusPending,
		"expires_at": bson.M{"$gt": time.Now().UTC()},
	}
	update := bson.M{
		"$set": bson.M{
			"status":  domain.DeviceCodeStatusAuthorized,
			"user_id": userID,
		},
	}
	opt := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var updated domain.DeviceCode
	err := r.deviceCodes.FindOneAndUpdate(ctx, filter, update, opt).Decode(&updated)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, serrors.ErrCannotApproveDeviceAuth
		}
		return nil, err
	}
	return &updated, nil
}

func (r *OAuthRepository) DenyDeviceCode(ctx context.Context, userCode string) (*domain.DeviceCode, error) {
	filter := bson.M{
		"user_code": userCode,
		"status":    domain.DeviceCodeStatusPending,
	}
	update := bson.M{"$set": bson.M{"status": domain.DeviceCodeStatusDenied}}
	opt := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var updated domain.DeviceCode
	err := r.deviceCodes.FindOneAndUpdate(ctx, filter, update, opt).Decode(&updated)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, serrors.ErrCannotApproveDeviceAuth
		}
		return nil, err
	}
	return &updated, nil
}

func (r *OAuthRepository) UpdateDeviceCodeStatus(ctx context.Context, deviceCode string, from, to domain.DeviceCodeStatus) error {
	filter := bson.M{
		"device_code": deviceCode,
		"status":      from,
	}
	update := bson.M{"$set": bson.M{"status": to}}

	result, err := r.deviceCodes.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return serrors.ErrNotFound
	}
	return nil
}

func (r *OAuthRepository) TouchDeviceCodePolledAt(ctx context.Context, deviceCode string, polledAt time.Time) error {
	result, err := r.deviceCodes.UpdateOne(ctx,
		bson.M{"device_code": deviceCode},
		bson.M{"$set": bson.M{"last_polled_at": polledAt}})
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return serrors.ErrDeviceCodeNotFound
	}
	return nil
}

func (r *OAuthRepository) DeleteExpiredDeviceCodes(ctx context.Context, now time.Time) error {
	_, err := r.deviceCodes.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lte": now}})
	return err
}
