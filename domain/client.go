package domain

import "time"

// Client represents a registered OAuth client application. Client records
// are owned by the external client registry; this core only reads them.
type Client struct {
	ID                string    `bson:"_id" json:"id"`
	SecretHash        string    `bson:"secret_hash,omitempty" json:"-"` // bcrypt hash, never the cleartext secret
	Name              string    `bson:"name" json:"name"`
	Confidential      bool      `bson:"confidential" json:"confidential"`
	Enabled           bool      `bson:"enabled" json:"enabled"`
	AllowedGrantTypes []string  `bson:"allowed_grant_types" json:"allowed_grant_types"`
	RedirectURIs      []string  `bson:"redirect_uris,omitempty" json:"redirect_uris,omitempty"`
	AllowedScopes     []string  `bson:"allowed_scopes,omitempty" json:"allowed_scopes,omitempty"`
	DefaultScope      string    `bson:"default_scope,omitempty" json:"default_scope,omitempty"`
	RequirePKCE       bool      `bson:"require_pkce" json:"require_pkce"`
	RefreshTokenQuota int       `bson:"refresh_token_quota,omitempty" json:"refresh_token_quota,omitempty"` // max live refresh tokens per user, 0 = server default
	AccessTokenQuota  int       `bson:"access_token_quota,omitempty" json:"access_token_quota,omitempty"`   // max live access tokens per refresh token, 0 = server default
	CreatedAt         time.Time `bson:"created_at" json:"created_at"`
}

// AllowsGrantType reports whether the client may use the given grant type.
func (c *Client) AllowsGrantType(grantType string) bool {
	for _, gt := range c.AllowedGrantTypes {
		if gt == grantType {
			return true
		}
	}
	return false
}

// AllowsRedirectURI reports whether the redirect URI is registered for the
// client. Exact match only, no prefix or wildcard logic.
func (c *Client) AllowsRedirectURI(uri string) bool {
	for _, u := range c.RedirectURIs {
		if u == uri {
			return true
		}
	}
	return false
}
