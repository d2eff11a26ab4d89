package repository

import (
	"context"

	"github.com/smallbiznis/hubspot-connector/internal/domain"
)

//go:generate mockgen -destination=mocks/mock_token_store.go -package=mocks -source=interfaces.go TokenStore

// TokenStore persists one encrypted credential per (tenant, service).
type TokenStore interface {
	// Save upserts the grant; repeated calls for the same key keep one row.
	Save(ctx context.Context, grant domain.TokenGrant) error
	// Load returns the decrypted record, or (nil, nil) when none was saved.
	Load(ctx context.Context, tenant domain.TenantKey, service string) (*domain.TokenRecord, error)
}

// IdentityRepository stores the org and user rows of the multi-tenant schema.
// Lookups that find nothing return an error wrapping pgx.ErrNoRows.
type IdentityRepository interface {
	GetOrgByPortalID(ctx context.Context, portalID string) (domain.Org, error)
	CreateOrg(ctx context.Context, portalID string) (domain.Org, error)
	GetUserByIdentifier(ctx context.Context, identifier string) (domain.User, error)
	CreateUser(ctx context.Context, identifier string, orgID int64) (domain.User, error)
}

// Sealer encrypts token material at rest.
type Sealer interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(envelope string) (string, error)
}
