package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/smallbiznis/hubspot-connector/internal/domain"
)

// Compile-time interface assertions.
var (
	_ TokenStore         = (*PostgresTokenRepo)(nil)
	_ TokenStore         = (*PostgresOrgTokenRepo)(nil)
	_ IdentityRepository = (*PostgresIdentityRepo)(nil)
)

// PostgresTokenRepo implements TokenStore over the single-table schema where
// the tenant key is an optional free-text column.
type PostgresTokenRepo struct {
	db     *pgxpool.Pool
	node   *snowflake.Node
	sealer Sealer
	logger *zap.Logger
	now    func() time.Time
}

func NewPostgresTokenRepo(pool *pgxpool.Pool, node *snowflake.Node, sealer Sealer, logger *zap.Logger) *PostgresTokenRepo {
	return &PostgresTokenRepo{db: pool, node: node, sealer: sealer, logger: loggerOrGlobal(logger), now: time.Now}
}

const upsertTokenSQL = `INSERT INTO tokens (id, tenant_key, tenant_scope, service, access_token, refresh_token, expires_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (tenant_scope, service) DO UPDATE SET
	access_token = EXCLUDED.access_token,
	refresh_token = EXCLUDED.refresh_token,
	expires_at = EXCLUDED.expires_at,
	created_at = EXCLUDED.created_at`

func (r *PostgresTokenRepo) Save(ctx context.Context, grant domain.TokenGrant) error {
	sealed, err := sealGrant(r.sealer, grant, r.now().UTC(), r.logger)
	if err != nil {
		return err
	}
	if _, err := r.db.Exec(ctx, upsertTokenSQL,
		r.node.Generate().Int64(),
		nullableTenant(grant.Tenant),
		grant.Tenant.Scope(),
		grant.Service,
		sealed.access,
		sealed.refresh,
		sealed.expiresAt,
		sealed.writtenAt,
	); err != nil {
		return fmt.Errorf("upsert token: %w", err)
	}
	r.logger.Info("token saved", zap.Stringer("tenant", grant.Tenant), zap.String("service", grant.Service))
	return nil
}

const selectTokenSQL = `SELECT tenant_key, access_token, refresh_token, expires_at, created_at
FROM tokens
WHERE tenant_scope = $1 AND service = $2
ORDER BY created_at DESC
LIMIT 1`

func (r *PostgresTokenRepo) Load(ctx context.Context, tenant domain.TenantKey, service string) (*domain.TokenRecord, error) {
	var (
		tenantKey *string
		access    string
		refresh   string
		rec       = domain.TokenRecord{Service: service}
	)
	err := r.db.QueryRow(ctx, selectTokenSQL, tenant.Scope(), service).
		Scan(&tenantKey, &access, &refresh, &rec.ExpiresAt, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		r.logger.Warn("no token found", zap.Stringer("tenant", tenant), zap.String("service", service))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select token: %w", err)
	}
	rec.Tenant = tenantFromColumn(tenantKey)
	if err := openRecord(r.sealer, &rec, access, refresh); err != nil {
		return nil, err
	}
	return &rec, nil
}

// PostgresOrgTokenRepo implements TokenStore over the orgs/users/tokens
// schema. Tokens hang off the user row for the tenant key; the user must have
// been created by identity resolution before the first save.
type PostgresOrgTokenRepo struct {
	db     *pgxpool.Pool
	node   *snowflake.Node
	sealer Sealer
	logger *zap.Logger
	now    func() time.Time
}

func NewPostgresOrgTokenRepo(pool *pgxpool.Pool, node *snowflake.Node, sealer Sealer, logger *zap.Logger) *PostgresOrgTokenRepo {
	return &PostgresOrgTokenRepo{db: pool, node: node, sealer: sealer, logger: loggerOrGlobal(logger), now: time.Now}
}

const upsertOrgTokenSQL = `INSERT INTO tokens (id, user_id, org_id, service, access_token, refresh_token, expires_at, created_at)
SELECT $1::bigint, u.id, u.org_id, $3::text, $4::text, $5::text, $6::timestamptz, $7::timestamptz
FROM users u
WHERE u.user_identifier = $2
ON CONFLICT (user_id, service) DO UPDATE SET
	access_token = EXCLUDED.access_token,
	refresh_token = EXCLUDED.refresh_token,
	expires_at = EXCLUDED.expires_at,
	org_id = EXCLUDED.org_id,
	created_at = EXCLUDED.created_at`

func (r *PostgresOrgTokenRepo) Save(ctx context.Context, grant domain.TokenGrant) error {
	identifier, ok := grant.Tenant.Value()
	if !ok {
		return fmt.Errorf("save token for global tenant: %w", domain.ErrUnknownTenant)
	}
	sealed, err := sealGrant(r.sealer, grant, r.now().UTC(), r.logger)
	if err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx, upsertOrgTokenSQL,
		r.node.Generate().Int64(),
		identifier,
		grant.Service,
		sealed.access,
		sealed.refresh,
		sealed.expiresAt,
		sealed.writtenAt,
	)
	if err != nil {
		return fmt.Errorf("upsert token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("save token for %q: %w", identifier, domain.ErrUnknownTenant)
	}
	r.logger.Info("token saved", zap.String("tenant", identifier), zap.String("service", grant.Service))
	return nil
}

const selectOrgTokenSQL = `SELECT t.org_id, t.access_token, t.refresh_token, t.expires_at, t.created_at
FROM tokens t
JOIN users u ON t.user_id = u.id
WHERE u.user_identifier = $1 AND t.service = $2
ORDER BY t.created_at DESC
LIMIT 1`

func (r *PostgresOrgTokenRepo) Load(ctx context.Context, tenant domain.TenantKey, service string) (*domain.TokenRecord, error) {
	identifier, ok := tenant.Value()
	if !ok {
		return nil, nil
	}
	var (
		orgID   *int64
		access  string
		refresh string
		rec     = domain.TokenRecord{Tenant: tenant, Service: service}
	)
	err := r.db.QueryRow(ctx, selectOrgTokenSQL, identifier, service).
		Scan(&orgID, &access, &refresh, &rec.ExpiresAt, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		r.logger.Warn("no token found", zap.String("tenant", identifier), zap.String("service", service))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select token: %w", err)
	}
	if orgID != nil {
		rec.OrgID = *orgID
	}
	if err := openRecord(r.sealer, &rec, access, refresh); err != nil {
		return nil, err
	}
	return &rec, nil
}

// PostgresIdentityRepo implements IdentityRepository.
type PostgresIdentityRepo struct {
	db   *pgxpool.Pool
	node *snowflake.Node
}

func NewPostgresIdentityRepo(pool *pgxpool.Pool, node *snowflake.Node) *PostgresIdentityRepo {
	return &PostgresIdentityRepo{db: pool, node: node}
}

func (r *PostgresIdentityRepo) GetOrgByPortalID(ctx context.Context, portalID string) (domain.Org, error) {
	var org domain.Org
	err := r.db.QueryRow(ctx,
		`SELECT id, hubspot_portal_id, created_at FROM orgs WHERE hubspot_portal_id = $1`,
		portalID,
	).Scan(&org.ID, &org.PortalID, &org.CreatedAt)
	if err != nil {
		return domain.Org{}, fmt.Errorf("get org: %w", err)
	}
	return org, nil
}

// CreateOrg inserts the org unless a concurrent request already did, and
// returns the stored row either way.
func (r *PostgresIdentityRepo) CreateOrg(ctx context.Context, portalID string) (domain.Org, error) {
	if _, err := r.db.Exec(ctx,
		`INSERT INTO orgs (id, hubspot_portal_id) VALUES ($1, $2) ON CONFLICT (hubspot_portal_id) DO NOTHING`,
		r.node.Generate().Int64(), portalID,
	); err != nil {
		return domain.Org{}, fmt.Errorf("create org: %w", err)
	}
	return r.GetOrgByPortalID(ctx, portalID)
}

func (r *PostgresIdentityRepo) GetUserByIdentifier(ctx context.Context, identifier string) (domain.User, error) {
	var (
		user  domain.User
		orgID *int64
	)
	err := r.db.QueryRow(ctx,
		`SELECT id, user_identifier, org_id, is_active, created_at FROM users WHERE user_identifier = $1`,
		identifier,
	).Scan(&user.ID, &user.UserIdentifier, &orgID, &user.IsActive, &user.CreatedAt)
	if err != nil {
		return domain.User{}, fmt.Errorf("get user: %w", err)
	}
	if orgID != nil {
		user.OrgID = *orgID
	}
	return user, nil
}

// CreateUser inserts the user unless it already exists, and returns the stored
// row either way.
func (r *PostgresIdentityRepo) CreateUser(ctx context.Context, identifier string, orgID int64) (domain.User, error) {
	if _, err := r.db.Exec(ctx,
		`INSERT INTO users (id, user_identifier, org_id) VALUES ($1, $2, $3) ON CONFLICT (user_identifier) DO NOTHING`,
		r.node.Generate().Int64(), identifier, orgID,
	); err != nil {
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	return r.GetUserByIdentifier(ctx, identifier)
}
