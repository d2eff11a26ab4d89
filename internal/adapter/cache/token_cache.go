package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/smallbiznis/hubspot-connector/internal/domain"
	"github.com/smallbiznis/hubspot-connector/internal/repository"
)

const keyPrefix = "connector:token:"

// TokenCache is a read-through Redis cache in front of a TokenStore. Entries
// hold the sealed envelopes, never plaintext, and never outlive the access
// token they describe.
type TokenCache struct {
	next   repository.TokenStore
	client redis.UniversalClient
	sealer repository.Sealer
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

var _ repository.TokenStore = (*TokenCache)(nil)

type cachedToken struct {
	TenantKey       string    `json:"tenant_key,omitempty"`
	Global          bool      `json:"global"`
	AccessEnvelope  string    `json:"access"`
	RefreshEnvelope string    `json:"refresh"`
	ExpiresAt       time.Time `json:"expires_at"`
	CreatedAt       time.Time `json:"created_at"`
	OrgID           int64     `json:"org_id,omitempty"`
}

// NewTokenCache wraps next. ttl caps how long an entry may live.
func NewTokenCache(next repository.TokenStore, client redis.UniversalClient, sealer repository.Sealer, ttl time.Duration, logger *zap.Logger) *TokenCache {
	if logger == nil {
		logger = zap.L()
	}
	return &TokenCache{next: next, client: client, sealer: sealer, ttl: ttl, logger: logger, now: time.Now}
}

// Save writes through and drops the cached entry.
func (c *TokenCache) Save(ctx context.Context, grant domain.TokenGrant) error {
	if err := c.next.Save(ctx, grant); err != nil {
		return err
	}
	if err := c.client.Del(ctx, cacheKey(grant.Tenant, grant.Service)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("invalidate cached token: %w", err)
	}
	return nil
}

// Load serves from Redis when possible and fills it on a miss.
func (c *TokenCache) Load(ctx context.Context, tenant domain.TenantKey, service string) (*domain.TokenRecord, error) {
	key := cacheKey(tenant, service)

	if rec, ok := c.get(ctx, key, service); ok {
		return rec, nil
	}

	rec, err := c.next.Load(ctx, tenant, service)
	if err != nil || rec == nil {
		return rec, err
	}
	c.put(ctx, key, rec)
	return rec, nil
}

func (c *TokenCache) get(ctx context.Context, key, service string) (*domain.TokenRecord, bool) {
	payload, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("token cache read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}

	var entry cachedToken
	if err := json.Unmarshal(payload, &entry); err != nil {
		c.evict(ctx, key, err)
		return nil, false
	}
	rec := &domain.TokenRecord{
		Tenant:    domain.GlobalTenant(),
		Service:   service,
		ExpiresAt: entry.ExpiresAt,
		CreatedAt: entry.CreatedAt,
		OrgID:     entry.OrgID,
	}
	if !entry.Global {
		rec.Tenant = domain.Tenant(entry.TenantKey)
	}
	if rec.AccessToken, err = c.sealer.Decrypt(entry.AccessEnvelope); err != nil {
		c.evict(ctx, key, err)
		return nil, false
	}
	if rec.RefreshToken, err = c.sealer.Decrypt(entry.RefreshEnvelope); err != nil {
		c.evict(ctx, key, err)
		return nil, false
	}
	return rec, true
}

func (c *TokenCache) put(ctx context.Context, key string, rec *domain.TokenRecord) {
	ttl := c.ttl
	if remaining := rec.ExpiresAt.Sub(c.now()); remaining < ttl {
		ttl = remaining
	}
	if ttl <= 0 {
		return
	}

	access, err := c.sealer.Encrypt(rec.AccessToken)
	if err != nil {
		c.logger.Warn("token cache seal failed", zap.Error(err))
		return
	}
	refresh, err := c.sealer.Encrypt(rec.RefreshToken)
	if err != nil {
		c.logger.Warn("token cache seal failed", zap.Error(err))
		return
	}
	tenantKey, set := rec.Tenant.Value()
	payload, err := json.Marshal(cachedToken{
		TenantKey:       tenantKey,
		Global:          !set,
		AccessEnvelope:  access,
		RefreshEnvelope: refresh,
		ExpiresAt:       rec.ExpiresAt,
		CreatedAt:       rec.CreatedAt,
		OrgID:           rec.OrgID,
	})
	if err != nil {
		c.logger.Warn("token cache encode failed", zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		c.logger.Warn("token cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (c *TokenCache) evict(ctx context.Context, key string, cause error) {
	c.logger.Warn("dropping unreadable cached token", zap.String("key", key), zap.Error(cause))
	_ = c.client.Del(ctx, key).Err()
}

func cacheKey(tenant domain.TenantKey, service string) string {
	return keyPrefix + service + ":" + tenant.Scope()
}
