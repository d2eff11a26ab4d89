package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/smallbiznis/hubspot-connector/internal/domain"
)

var _ TokenStore = (*SQLiteTokenRepo)(nil)

// OpenSQLite opens the database at path and applies migrations. Use
// ":memory:" for an ephemeral store.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps ":memory:" databases alive and serializes
	// writers the way SQLite expects.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := MigrateSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// SQLiteTokenRepo implements TokenStore over the single-table schema for
// single-node deployments. Timestamps are stored as unix milliseconds.
type SQLiteTokenRepo struct {
	db     *sql.DB
	sealer Sealer
	logger *zap.Logger
	now    func() time.Time
}

func NewSQLiteTokenRepo(db *sql.DB, sealer Sealer, logger *zap.Logger) *SQLiteTokenRepo {
	return &SQLiteTokenRepo{db: db, sealer: sealer, logger: loggerOrGlobal(logger), now: time.Now}
}

const sqliteUpsertTokenSQL = `INSERT INTO tokens (tenant_key, tenant_scope, service, access_token, refresh_token, expires_at, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (tenant_scope, service) DO UPDATE SET
	access_token = excluded.access_token,
	refresh_token = excluded.refresh_token,
	expires_at = excluded.expires_at,
	created_at = excluded.created_at`

func (r *SQLiteTokenRepo) Save(ctx context.Context, grant domain.TokenGrant) error {
	sealed, err := sealGrant(r.sealer, grant, r.now().UTC(), r.logger)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, sqliteUpsertTokenSQL,
		nullableTenant(grant.Tenant),
		grant.Tenant.Scope(),
		grant.Service,
		sealed.access,
		sealed.refresh,
		sealed.expiresAt.UnixMilli(),
		sealed.writtenAt.UnixMilli(),
	); err != nil {
		return fmt.Errorf("upsert token: %w", err)
	}
	r.logger.Info("token saved", zap.Stringer("tenant", grant.Tenant), zap.String("service", grant.Service))
	return nil
}

const sqliteSelectTokenSQL = `SELECT tenant_key, access_token, refresh_token, expires_at, created_at
FROM tokens
WHERE tenant_scope = ? AND service = ?
ORDER BY created_at DESC
LIMIT 1`

func (r *SQLiteTokenRepo) Load(ctx context.Context, tenant domain.TenantKey, service string) (*domain.TokenRecord, error) {
	var (
		tenantKey sql.NullString
		access    string
		refresh   string
		expiresAt int64
		createdAt int64
	)
	err := r.db.QueryRowContext(ctx, sqliteSelectTokenSQL, tenant.Scope(), service).
		Scan(&tenantKey, &access, &refresh, &expiresAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		r.logger.Warn("no token found", zap.Stringer("tenant", tenant), zap.String("service", service))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select token: %w", err)
	}

	rec := domain.TokenRecord{
		Tenant:    domain.GlobalTenant(),
		Service:   service,
		ExpiresAt: time.UnixMilli(expiresAt).UTC(),
		CreatedAt: time.UnixMilli(createdAt).UTC(),
	}
	if tenantKey.Valid {
		rec.Tenant = domain.Tenant(tenantKey.String)
	}
	if err := openRecord(r.sealer, &rec, access, refresh); err != nil {
		return nil, err
	}
	return &rec, nil
}
