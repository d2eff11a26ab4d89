package domain

import "time"

// ServiceHubSpot is the only provider the connector talks to today.
const ServiceHubSpot = "hubspot"

// TokenRecord is the decrypted view of one persisted credential.
type TokenRecord struct {
	Tenant       TenantKey
	Service      string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	// CreatedAt is the last write, bumped on every upsert.
	CreatedAt time.Time
	// OrgID links the record to its organization in the multi-tenant schema.
	OrgID int64
}

// Expired reports whether the access token lifetime has elapsed at now.
func (r TokenRecord) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// TokenGrant is the input of a store write.
type TokenGrant struct {
	Tenant       TenantKey
	Service      string
	AccessToken  string
	RefreshToken string
	// Lifetime is the provider's expires_in.
	Lifetime time.Duration
}

// ProviderToken is what the provider returns from a token grant.
type ProviderToken struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    int64
}

// Lifetime converts ExpiresIn to a duration.
func (t ProviderToken) Lifetime() time.Duration {
	return time.Duration(t.ExpiresIn) * time.Second
}
