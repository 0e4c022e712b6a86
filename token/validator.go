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
	"go.pilab.hu/oauthkit/scope"
)

// Validator is the resource-server-side validation path. Every validation
// consults the system of record; there is deliberately no cache, trading
// latency for immediate revocation visibility. A future cache needs an
// active invalidation story before it may be introduced here.
type Validator struct {
	repo   domain.OAuthRepository
	signer Signer
	clock  domain.Clock
	sink   audit.Sink
	logger log.Logger
}

// NewValidator creates a Validator.
func NewValidator(repo domain.OAuthRepository, signer Signer, clock domain.Clock, sink audit.Sink, logger log.Logger) *Validator {
	return &Validator{repo: repo, signer: signer, clock: clock, sink: sink, logger: logger}
}

// Validate checks a presented token value against the required scope and
// returns the token record on success. Failure paths (unknown, revoked,
// bad signature, expired, scope mismatch) audit synchronously because they
// are security relevant; plain success audits best-effort without blocking.
func (v *Validator) Validate(ctx context.Context, correlationID, tokenValue, requiredScope string) (*domain.AccessToken, error) {
	// Parse without trusting the signature, just to locate the record.
	tokenID, err := ExtractTokenID(tokenValue)
	if err != nil {
		v.auditFailure(ctx, correlationID, nil, "malformed token")
		return nil, serrors.NewInvalidToken("token is malformed")
	}

	record, err := v.repo.GetAccessToken(ctx, tokenID)
	if err != nil {
		if errors.Is(err, serrors.ErrNotFound) {
			v.auditFailure(ctx, correlationID, nil, "unknown token")
			return nil, serrors.NewInvalidToken("token is unknown")
		}
		return nil, fmt.Errorf("access token lookup: %w", err)
	}

	if record.Revoked {
		v.auditFailure(ctx, correlationID, record, "token revoked")
		return nil, serrors.NewInvalidToken("token has been revoked")
	}

	if _, err := v.signer.Verify(tokenValue); err != nil {
		v.auditFailure(ctx, correlationID, record, "signature invalid")
		return nil, serrors.NewInvalidToken("token signature is invalid")
	}

	if v.clock.Now().After(record.ExpiresAt) {
		v.auditFailure(ctx, correlationID, record, "token expired")
		return nil, serrors.NewInvalidToken("token has expired")
	}

	if !scope.Covers(record.Scope, requiredScope) {
		metrics.ValidationsTotal.WithLabelValues("scope_mismatch").Inc()
		v.auditScopeMismatch(ctx, correlationID, record, requiredScope)
		return nil, serrors.NewInsufficientScope("token scope does not cover the required scope")
	}

	metrics.ValidationsTotal.WithLabelValues("success").Inc()

	// Best-effort bookkeeping off the hot path. A fresh context detaches
	// these writes from the caller's deadline.
	go func() {
		bg := context.Background()
		if err := v.repo.TouchAccessToken(bg, record.ID, v.clock.Now()); err != nil {
			v.logger.Warn(bg, "failed to update token last_used_at", map[string]interface{}{
				"token_id": record.ID,
			})
		}
		_ = v.sink.Append(bg, audit.Event{
			CorrelationID: correlationID,
			Timestamp:     v.clock.Now(),
			Level:         audit.LevelInfo,
			Type:          audit.EventValidationSuccess,
			ClientID:      record.ClientID,
			UserID:        record.UserID,
			TokenID:       record.ID,
		})
	}()

	return record, nil
}

func (v *Validator) auditFailure(ctx context.Context, correlationID string, record *domain.AccessToken, reason string) {
	metrics.ValidationsTotal.WithLabelValues("failure").Inc()
	event := audit.Event{
		CorrelationID: correlationID,
		Timestamp:     v.clock.Now(),
		Level:         audit.LevelWarn,
		Type:          audit.EventValidationFailure,
		Detail:        map[string]interface{}{"reason": reason},
	}
	if record != nil {
		event.ClientID = record.ClientID
		event.UserID = record.UserID
		event.TokenID = record.ID
	}
	if err := v.sink.Append(ctx, event); err != nil {
		v.logger.Error(ctx, "failed to append validation failure audit event", err, map[string]interface{}{
			"correlation_id": correlationID,
		})
	}
}

func (v *Validator) auditScopeMismatch(ctx context.Context, correlationID string, record *domain.AccessToken, requiredScope string) {
	if err := v.sink.Append(ctx, audit.Event{
		CorrelationID: correlationID,
		Timestamp:     v.clock.Now(),
		Level:         audit.LevelWarn,
		Type:          audit.EventScopeMismatch,
		ClientID:      record.ClientID,
		UserID:        record.UserID,
		TokenID:       record.ID,
		Detail: map[string]interface{}{
			"granted_scope":  record.Scope,
			"required_scope": requiredScope,
		},
	}); err != nil {
		v.logger.Error(ctx, "failed to append scope mismatch audit event", err, map[string]interface{}{
			"correlation_id": correlationID,
		})
	}
}
