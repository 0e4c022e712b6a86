package condition

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"go.pilab.hu/oauthkit/domain"
	serrors "go.pilab.hu/oauthkit/errors"
	"go.pilab.hu/oauthkit/scope"
)

// ClientLoaded loads the client record into the context. The failure
// message is deliberately generic: callers must not learn whether the
// client id exists.
func ClientLoaded(clients domain.ClientStore) Condition {
	return NewFunc("client_loaded", func(ctx context.Context, fc *Context) error {
		if fc.ClientID == "" {
			return serrors.NewInvalidClient("client authentication failed")
		}
		cli, err := clients.GetClient(ctx, fc.ClientID)
		if err != nil {
			if errors.Is(err, serrors.ErrNotFound) {
				return serrors.NewInvalidClient("client authentication failed")
			}
			return fmt.Errorf("client lookup: %w", err)
		}
		fc.Client = cli
		return nil
	})
}

// ClientEnabled rejects disabled clients for every flow.
func ClientEnabled() Condition {
	return NewFunc("client_enabled", func(_ context.Context, fc *Context) error {
		if !fc.Client.Enabled {
			return serrors.NewInvalidClient("client authentication failed")
		}
		return nil
	})
}

// ClientAuthenticated verifies the client secret against the stored bcrypt
// hash. Confidential clients must always present a secret; public clients
// pass without one.
func ClientAuthenticated() Condition {
	return NewFunc("client_authenticated", func(_ context.Context, fc *Context) error {
		if fc.Client.Confidential {
			if fc.ClientSecret == "" {
				return serrors.NewInvalidClient("client authentication failed")
			}
			if err := bcrypt.CompareHashAndPassword([]byte(fc.Client.SecretHash), []byte(fc.ClientSecret)); err != nil {
				return serrors.NewInvalidClient("client authentication failed")
			}
			return nil
		}
		// A public client presenting a secret is suspicious but not an
		// authentication failure unless a hash exists to check against.
		if fc.ClientSecret != "" && fc.Client.SecretHash != "" {
			if err := bcrypt.CompareHashAndPassword([]byte(fc.Client.SecretHash), []byte(fc.ClientSecret)); err != nil {
				return serrors.NewInvalidClient("client authentication failed")
			}
		}
		return nil
	})
}

// GrantTypeAllowed checks the client's grant-type allow list.
func GrantTypeAllowed() Condition {
	return NewFunc("grant_type_allowed", func(_ context.Context, fc *Context) error {
		if !fc.Client.AllowsGrantType(fc.GrantType) {
			return serrors.NewUnauthorizedClient("grant type not allowed for this client")
		}
		return nil
	})
}

// ScopePermitted validates the requested scope against the client's allowed
// scopes and resolves the granted scope into the context. An empty request
// resolves to the client's default scope.
func ScopePermitted() Condition {
	return NewFunc("scope_permitted", func(_ context.Context, fc *Context) error {
		if fc.Scope == "" {
			fc.GrantedScope = fc.Client.DefaultScope
			return nil
		}
		if len(fc.Scope) > scope.MaxLength {
			return serrors.NewInvalidScope("requested scope exceeds maximum length")
		}
		if !scope.Allowed(fc.Scope, fc.Client.AllowedScopes) {
			return serrors.NewInvalidScope("requested scope not allowed for this client")
		}
		fc.GrantedScope = fc.Scope
		return nil
	})
}

// AuthCodeLoaded loads the authorization code record. Missing and unknown
// codes get the same generic failure.
func AuthCodeLoaded(repo domain.OAuthRepository) Condition {
	return NewFunc("auth_code_loaded", func(ctx context.Context, fc *Context) error {
		if fc.Code == "" {
			return serrors.NewInvalidRequest("missing authorization code")
		}
		code, err := repo.GetAuthCode(ctx, fc.Code)
		if err != nil {
			if errors.Is(err, serrors.ErrNotFound) {
				return serrors.NewInvalidGrant("invalid authorization code")
			}
			return fmt.Errorf("auth code lookup: %w", err)
		}
		fc.AuthCode = code
		return nil
	})
}

// AuthCodeUsable checks expiry, prior use, client binding and redirect URI
// binding of the loaded code. The single-use guarantee itself is enforced
// by the compare-and-set consume in postconditions; this is the fast path.
func AuthCodeUsable(clock domain.Clock) Condition {
	return NewFunc("auth_code_usable", func(_ context.Context, fc *Context) error {
		code := fc.AuthCode
		if code.Used {
			return serrors.NewInvalidGrant("authorization code expired or already used")
		}
		if clock.Now().After(code.ExpiresAt) {
			return serrors.NewInvalidGrant("authorization code expired or already used")
		}
		if code.ClientID != fc.ClientID {
			return serrors.NewInvalidGrant("authorization code was not issued to this client")
		}
		if code.RedirectURI != fc.RedirectURI {
			return serrors.NewInvalidGrant("redirect URI mismatch")
		}
		fc.UserID = code.UserID
		fc.GrantedScope = code.Scope
		return nil
	})
}

// PKCEVerifierMatches recomputes the challenge from the supplied verifier
// using the code's stored method. PKCE is mandatory for public clients and
// client-configured for confidential ones.
func PKCEVerifierMatches() Condition {
	return NewFunc("pkce_verifier_matches", func(_ context.Context, fc *Context) error {
		required := !fc.Client.Confidential || fc.Client.RequirePKCE
		if fc.AuthCode.CodeChallenge == "" {
			if required {
				return serrors.NewPKCERequired()
			}
			return nil
		}
		if fc.CodeVerifier == "" {
			return serrors.NewInvalidPKCE("code verifier is required")
		}
		if !VerifyPKCE(fc.AuthCode.CodeChallenge, fc.AuthCode.CodeChallengeMethod, fc.CodeVerifier) {
			return serrors.NewInvalidPKCE("code verifier does not match challenge")
		}
		return nil
	})
}

// RefreshTokenLoaded looks the refresh token up by its opaque value.
func RefreshTokenLoaded(repo domain.OAuthRepository) Condition {
	return NewFunc("refresh_token_loaded", func(ctx context.Context, fc *Context) error {
		if fc.RefreshTokenValue == "" {
			return serrors.NewInvalidRequest("missing refresh token")
		}
		token, err := repo.GetRefreshTokenByValue(ctx, fc.RefreshTokenValue)
		if err != nil {
			if errors.Is(err, serrors.ErrNotFound) {
				return serrors.NewInvalidGrant("invalid refresh token")
			}
			return fmt.Errorf("refresh token lookup: %w", err)
		}
		fc.RefreshToken = token
		return nil
	})
}

// RefreshTokenActive rejects revoked refresh tokens. Refresh tokens never
// expire by time, so revocation is the only liveness check.
func RefreshTokenActive() Condition {
	return NewFunc("refresh_token_active", func(_ context.Context, fc *Context) error {
		if fc.RefreshToken.Revoked {
			return serrors.NewInvalidGrant("refresh token has been revoked")
		}
		return nil
	})
}

// RefreshTokenOwned checks that the authenticated client issued the token.
func RefreshTokenOwned() Condition {
	return NewFunc("refresh_token_owned", func(_ context.Context, fc *Context) error {
		if fc.RefreshToken.ClientID != fc.ClientID {
			return serrors.NewInvalidGrant("invalid refresh token")
		}
		fc.UserID = fc.RefreshToken.UserID
		fc.GrantedScope = fc.RefreshToken.Scope
		return nil
	})
}

// RefreshTokenTouched records the use on the refresh token record.
func RefreshTokenTouched(repo domain.OAuthRepository, clock domain.Clock) Condition {
	return NewFunc("refresh_token_touched", func(ctx context.Context, fc *Context) error {
		if err := repo.TouchRefreshToken(ctx, fc.RefreshToken.ID, clock.Now()); err != nil {
			return fmt.Errorf("touch refresh token: %w", err)
		}
		return nil
	})
}

// AccessQuotaEvaluated counts the non-revoked access tokens minted from the
// loaded refresh token and, when the count has reached the limit, selects
// the oldest one (by creation time, strict FIFO) as the eviction victim.
// The victim is revoked by the flow's postconditions.
func AccessQuotaEvaluated(repo domain.OAuthRepository, defaultQuota int) Condition {
	return NewFunc("access_quota_evaluated", func(ctx context.Context, fc *Context) error {
		limit := fc.Client.AccessTokenQuota
		if limit <= 0 {
			limit = defaultQuota
		}
		if limit <= 0 {
			return nil
		}
		count, err := repo.CountActiveAccessTokens(ctx, fc.RefreshToken.ID)
		if err != nil {
			return fmt.Errorf("count access tokens: %w", err)
		}
		if count < limit {
			return nil
		}
		victim, err := repo.OldestActiveAccessToken(ctx, fc.RefreshToken.ID)
		if err != nil {
			if errors.Is(err, serrors.ErrNotFound) {
				return nil
			}
			return fmt.Errorf("select eviction victim: %w", err)
		}
		fc.EvictAccessToken = victim
		return nil
	})
}

// RefreshQuotaEvaluated does the same for refresh tokens per (user, client)
// pair. Eviction order is strictly creation time, not last use, so an
// actively used old session can be evicted ahead of an idle newer one.
func RefreshQuotaEvaluated(repo domain.OAuthRepository, defaultQuota int) Condition {
	return NewFunc("refresh_quota_evaluated", func(ctx context.Context, fc *Context) error {
		if fc.UserID == "" {
			return nil
		}
		limit := fc.Client.RefreshTokenQuota
		if limit <= 0 {
			limit = defaultQuota
		}
		if limit <= 0 {
			return nil
		}
		count, err := repo.CountActiveRefreshTokens(ctx, fc.ClientID, fc.UserID)
		if err != nil {
			return fmt.Errorf("count refresh tokens: %w", err)
		}
		if count < limit {
			return nil
		}
		victim, err := repo.OldestActiveRefreshToken(ctx, fc.ClientID, fc.UserID)
		if err != nil {
			if errors.Is(err, serrors.ErrNotFound) {
				return nil
			}
			return fmt.Errorf("select eviction victim: %w", err)
		}
		fc.EvictRefreshToken = victim
		return nil
	})
}

// PasswordGrantEnabled gates the deprecated password grant behind a
// server-wide opt-in. It fails closed with unsupported_grant_type
// regardless of client configuration.
func PasswordGrantEnabled(enabled bool) Condition {
	return NewFunc("password_grant_enabled", func(_ context.Context, fc *Context) error {
		if !enabled {
			return serrors.NewUnsupportedGrantType()
		}
		return nil
	})
}

// UserCredentialsVerified delegates credential verification to the external
// identity store. The failure message never distinguishes an unknown user
// from a wrong password.
func UserCredentialsVerified(verifier domain.IdentityVerifier) Condition {
	return NewFunc("user_credentials_verified", func(ctx context.Context, fc *Context) error {
		if fc.Username == "" || fc.Password == "" {
			return serrors.NewInvalidRequest("missing username or password")
		}
		userID, err := verifier.VerifyPassword(ctx, fc.Username, fc.Password)
		if err != nil {
			if errors.Is(err, serrors.ErrInvalidCredentials) {
				return serrors.NewInvalidGrant("invalid username or password")
			}
			return fmt.Errorf("verify credentials: %w", err)
		}
		fc.UserID = userID
		return nil
	})
}

// DeviceCodeLoaded loads the device code record by its device_code value.
func DeviceCodeLoaded(repo domain.OAuthRepository) Condition {
	return NewFunc("device_code_loaded", func(ctx context.Context, fc *Context) error {
		if fc.DeviceCodeValue == "" {
			return serrors.NewInvalidRequest("missing device code")
		}
		dc, err := repo.GetDeviceCodeByDeviceCode(ctx, fc.DeviceCodeValue)
		if err != nil {
			if errors.Is(err, serrors.ErrNotFound) || errors.Is(err, serrors.ErrDeviceCodeNotFound) {
				return serrors.ErrDeviceFlowTokenExpired
			}
			return fmt.Errorf("device code lookup: %w", err)
		}
		if dc.ClientID != fc.ClientID {
			return serrors.NewInvalidGrant("device code was not issued to this client")
		}
		fc.DeviceCode = dc
		return nil
	})
}

// DeviceCodeRedeemable drives the poll-side of the device state machine.
// While pending it distinguishes the retry-worthy authorization_pending and
// slow_down outcomes from the terminal denied/expired ones, and records the
// poll time.
func DeviceCodeRedeemable(repo domain.OAuthRepository, clock domain.Clock) Condition {
	return NewFunc("device_code_redeemable", func(ctx context.Context, fc *Context) error {
		dc := fc.DeviceCode
		now := clock.Now()

		if dc.Status == domain.DeviceCodeStatusPending && now.After(dc.ExpiresAt) {
			// Lazily expire; failure to record the transition does not
			// change the caller-visible outcome.
			_ = repo.UpdateDeviceCodeStatus(ctx, dc.DeviceCode, domain.DeviceCodeStatusPending, domain.DeviceCodeStatusExpired)
			return serrors.ErrDeviceFlowTokenExpired
		}

		switch dc.Status {
		case domain.DeviceCodeStatusPending:
			if !dc.LastPolledAt.IsZero() && now.Sub(dc.LastPolledAt) < time.Duration(dc.Interval)*time.Second {
				return serrors.ErrSlowDown
			}
			if err := repo.TouchDeviceCodePolledAt(ctx, dc.DeviceCode, now); err != nil {
				return fmt.Errorf("touch device code: %w", err)
			}
			return serrors.ErrAuthorizationPending
		case domain.DeviceCodeStatusAuthorized:
			fc.UserID = dc.UserID
			fc.GrantedScope = dc.Scope
			return nil
		case domain.DeviceCodeStatusDenied:
			return serrors.ErrDeviceFlowAccessDenied
		case domain.DeviceCodeStatusExpired, domain.DeviceCodeStatusRedeemed:
			return serrors.ErrDeviceFlowTokenExpired
		default:
			return serrors.NewServerError("unexpected device authorization status")
		}
	})
}
