package mongodb

const (
	ClientsCollection       = "oauth_clients"
	AuthRequestsCollection  = "oauth_auth_requests"
	CodesCollection         = "oauth_auth_codes"
	RefreshTokensCollection = "oauth_refresh_tokens"
	AccessTokensCollection  = "oauth_access_tokens"
	DeviceCodesCollection   = "oauth_device_codes"
	AuditEventsCollection   = "oauth_audit_events"
)
