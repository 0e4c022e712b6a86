package flow

import (
	"context"
	"fmt"

	"go.pilab.hu/oauthkit/audit"
	"go.pilab.hu/oauthkit/condition"
	"go.pilab.hu/oauthkit/domain"
	serrors "go.pilab.hu/oauthkit/errors"
	"go.pilab.hu/oauthkit/internal/metrics"
)

// commitIssuance is the shared postcondition tail: revoke any quota
// eviction victims selected during precondition evaluation, persist the
// newly minted tokens, and write the issuance audit events synchronously.
// A failed audit append fails the whole operation.
//
// Two concurrent issuances against the same parent can both observe a
// below-limit count and both mint, transiently exceeding the quota. This
// is deliberate: the quota is an eventual guarantee corrected on the next
// issuance, not a hard cap enforced by cross-request locking.
func commitIssuance(ctx context.Context, d Deps, fc *condition.Context) error {
	if victim := fc.EvictRefreshToken; victim != nil {
		if err := d.Revoker.CascadeRevokeRefreshToken(ctx, fc.CorrelationID, victim, domain.RevokedByQuota); err != nil {
			return err
		}
		metrics.QuotaEvictionsTotal.Inc()
		if err := appendEvent(ctx, d, fc, audit.LevelInfo, audit.EventQuotaEviction, victim.ID, map[string]interface{}{
			"token_type": "refresh_token",
		}); err != nil {
			return err
		}
	}

	if victim := fc.EvictAccessToken; victim != nil {
		if err := d.Repo.RevokeAccessToken(ctx, victim.ID); err != nil {
			return fmt.Errorf("evict access token: %w", err)
		}
		metrics.QuotaEvictionsTotal.Inc()
		metrics.TokensRevokedTotal.Inc()
		if err := appendEvent(ctx, d, fc, audit.LevelInfo, audit.EventQuotaEviction, victim.ID, map[string]interface{}{
			"token_type": "access_token",
		}); err != nil {
			return err
		}
	}

	if rt := fc.NewRefreshToken; rt != nil {
		if err := d.Repo.SaveRefreshToken(ctx, rt); err != nil {
			return fmt.Errorf("save refresh token: %w", err)
		}
		metrics.RefreshTokensIssuedTotal.Inc()
		if err := appendEvent(ctx, d, fc, audit.LevelInfo, audit.EventRefreshTokenIssued, rt.ID, nil); err != nil {
			return err
		}
	}

	if at := fc.NewAccessToken; at != nil {
		if err := d.Repo.SaveAccessToken(ctx, at); err != nil {
			return fmt.Errorf("save access token: %w", err)
		}
		metrics.AccessTokensIssuedTotal.Inc()
		if err := appendEvent(ctx, d, fc, audit.LevelInfo, audit.EventAccessTokenIssued, at.ID, nil); err != nil {
			return err
		}
	}

	return nil
}

// appendEvent writes one audit event for the flow, mapping an append
// failure to server_error.
func appendEvent(ctx context.Context, d Deps, fc *condition.Context, level audit.Level, eventType audit.EventType, tokenID string, detail map[string]interface{}) error {
	if err := d.Sink.Append(ctx, audit.Event{
		CorrelationID: fc.CorrelationID,
		Timestamp:     d.Clock.Now(),
		Level:         level,
		Type:          eventType,
		ClientID:      fc.ClientID,
		UserID:        fc.UserID,
		TokenID:       tokenID,
		Detail:        detail,
	}); err != nil {
		d.Logger.Error(ctx, "failed to append audit event", err, map[string]interface{}{
			"correlation_id": fc.CorrelationID,
			"event_type":     string(eventType),
		})
		return serrors.NewServerError("audit write failed")
	}
	return nil
}
