package token

import (
	"context"
	"errors"
	"fmt"

	"go.pilab.hu/oauthkit/audit"
	"go.pilab.hu/oauthkit/domain"
	serrors "go.pilab.hu/oauthkit/errors"
	"go.pilab.hu/oauthkit/internal/metrics"
	"go.pilab.hu/oauthkit/log"
)

// Token type hints accepted by RevokeToken (RFC 7009).
const (
	HintAccessToken  = "access_token"
	HintRefreshToken = "refresh_token"
)

// RevocationService marks tokens revoked. Revoking an access token only
// touches that record; revoking a refresh token cascades to every access
// token it spawned. Revocation is idempotent: revoking an already-revoked
// token is a no-op success.
type RevocationService struct {
	repo   domain.OAuthRepository
	sink   audit.Sink
	clock  domain.Clock
	logger log.Logger
}

// NewRevocationService creates a RevocationService.
func NewRevocationService(repo domain.OAuthRepository, sink audit.Sink, clock domain.Clock, logger log.Logger) *RevocationService {
	return &RevocationService{repo: repo, sink: sink, clock: clock, logger: logger}
}

// RevokeToken revokes the token with the given value on behalf of the
// authenticated client. The ownership check runs before any mutation: a
// client may only revoke tokens it issued. An unknown token value is a
// success per RFC 7009 so callers cannot probe for token existence.
func (s *RevocationService) RevokeToken(ctx context.Context, correlationID, clientID, tokenValue, tokenTypeHint string) error {
	if tokenTypeHint == HintRefreshToken {
		if done, err := s.tryRevokeRefresh(ctx, correlationID, clientID, tokenValue); done || err != nil {
			return err
		}
		_, err := s.tryRevokeAccess(ctx, correlationID, clientID, tokenValue)
		return err
	}

	if done, err := s.tryRevokeAccess(ctx, correlationID, clientID, tokenValue); done || err != nil {
		return err
	}
	_, err := s.tryRevokeRefresh(ctx, correlationID, clientID, tokenValue)
	return err
}

func (s *RevocationService) tryRevokeAccess(ctx context.Context, correlationID, clientID, tokenValue string) (bool, error) {
	record, err := s.repo.GetAccessTokenByValue(ctx, tokenValue)
	if err != nil {
		if errors.Is(err, serrors.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("access token lookup: %w", err)
	}
	if record.ClientID != clientID {
		return true, serrors.NewUnauthorizedClient("token was not issued to this client")
	}
	if record.Revoked {
		return true, nil
	}

	if err := s.repo.RevokeAccessToken(ctx, record.ID); err != nil {
		return true, fmt.Errorf("revoke access token: %w", err)
	}
	metrics.TokensRevokedTotal.Inc()

	return true, s.appendRevokedEvent(ctx, correlationID, record.ClientID, record.UserID, record.ID, map[string]interface{}{
		"token_type": HintAccessToken,
	})
}

func (s *RevocationService) tryRevokeRefresh(ctx context.Context, correlationID, clientID, tokenValue string) (bool, error) {
	record, err := s.repo.GetRefreshTokenByValue(ctx, tokenValue)
	if err != nil {
		if errors.Is(err, serrors.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("refresh token lookup: %w", err)
	}
	if record.ClientID != clientID {
		return true, serrors.NewUnauthorizedClient("token was not issued to this client")
	}
	if record.Revoked {
		return true, nil
	}

	if err := s.CascadeRevokeRefreshToken(ctx, correlationID, record, domain.RevokedByClient); err != nil {
		return true, err
	}
	return true, nil
}

// CascadeRevokeRefreshToken marks the refresh token revoked with the given
// reason and then revokes every access token whose parent it is, as one
// logical operation. The audit events are written synchronously; a failed
// append fails the operation since an unaudited revocation is worse than a
// rejected request.
func (s *RevocationService) CascadeRevokeRefreshToken(ctx context.Context, correlationID string, record *domain.RefreshToken, reason string) error {
	if err := s.repo.RevokeRefreshToken(ctx, record.ID, reason); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	if err := s.repo.RevokeAccessTokensByRefreshToken(ctx, record.ID); err != nil {
		return fmt.Errorf("cascade revoke access tokens: %w", err)
	}
	metrics.TokensRevokedTotal.Inc()

	if err := s.appendRevokedEvent(ctx, correlationID, record.ClientID, record.UserID, record.ID, map[string]interface{}{
		"token_type": HintRefreshToken,
		"reason":     reason,
	}); err != nil {
		return err
	}
	return s.append(ctx, audit.Event{
		CorrelationID: correlationID,
		Timestamp:     s.clock.Now(),
		Level:         audit.LevelInfo,
		Type:          audit.EventCascadeRevocation,
		ClientID:      record.ClientID,
		UserID:        record.UserID,
		TokenID:       record.ID,
	})
}

func (s *RevocationService) appendRevokedEvent(ctx context.Context, correlationID, clientID, userID, tokenID string, detail map[string]interface{}) error {
	return s.append(ctx, audit.Event{
		CorrelationID: correlationID,
		Timestamp:     s.clock.Now(),
		Level:         audit.LevelInfo,
		Type:          audit.EventTokenRevoked,
		ClientID:      clientID,
		UserID:        userID,
		TokenID:       tokenID,
		Detail:        detail,
	})
}

func (s *RevocationService) append(ctx context.Context, event audit.Event) error {
	if err := s.sink.Append(ctx, event); err != nil {
		s.logger.Error(ctx, "failed to append revocation audit event", err, map[string]interface{}{
			"correlation_id": event.CorrelationID,
		})
		return serrors.NewServerError("audit write failed")
	}
	return nil
}
