package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/hubspot-connector/internal/cipher"
	"github.com/smallbiznis/hubspot-connector/internal/domain"
)

type fakeStore struct {
	mu      sync.Mutex
	records map[string]domain.TokenRecord
	loads   int
	saves   int
	now     time.Time
}

func newFakeStore(now time.Time) *fakeStore {
	return &fakeStore{records: map[string]domain.TokenRecord{}, now: now}
}

func (f *fakeStore) Save(_ context.Context, grant domain.TokenGrant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	f.records[grant.Tenant.Scope()+"|"+grant.Service] = domain.TokenRecord{
		Tenant:       grant.Tenant,
		Service:      grant.Service,
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		ExpiresAt:    f.now.Add(grant.Lifetime),
		CreatedAt:    f.now,
	}
	return nil
}

func (f *fakeStore) Load(_ context.Context, tenant domain.TenantKey, service string) (*domain.TokenRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	rec, ok := f.records[tenant.Scope()+"|"+service]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (f *fakeStore) loadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads
}

type cacheHarness struct {
	mr    *miniredis.Miniredis
	store *fakeStore
	cache *TokenCache
	now   time.Time
}

func newCacheHarness(t *testing.T, ttl time.Duration) *cacheHarness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	sealer, err := cipher.New("cache-secret")
	require.NoError(t, err)

	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	store := newFakeStore(now)
	tc := NewTokenCache(store, client, sealer, ttl, zap.NewNop())
	tc.now = func() time.Time { return now }
	return &cacheHarness{mr: mr, store: store, cache: tc, now: now}
}

func (h *cacheHarness) save(t *testing.T, tenant domain.TenantKey, access string, lifetime time.Duration) {
	t.Helper()
	require.NoError(t, h.cache.Save(context.Background(), domain.TokenGrant{
		Tenant:       tenant,
		Service:      domain.ServiceHubSpot,
		AccessToken:  access,
		RefreshToken: "refresh-" + access,
		Lifetime:     lifetime,
	}))
}

func TestTokenCache_ReadThrough(t *testing.T) {
	h := newCacheHarness(t, 5*time.Minute)
	ctx := context.Background()
	tenant := domain.Tenant("cust001")
	h.save(t, tenant, "access-1", time.Hour)

	first, err := h.cache.Load(ctx, tenant, domain.ServiceHubSpot)
	require.NoError(t, err)
	second, err := h.cache.Load(ctx, tenant, domain.ServiceHubSpot)
	require.NoError(t, err)

	require.Equal(t, 1, h.store.loadCount())
	require.True(t, first.ExpiresAt.Equal(second.ExpiresAt))
	require.Equal(t, "access-1", second.AccessToken)
	require.Equal(t, "refresh-access-1", second.RefreshToken)
	require.Equal(t, tenant, second.Tenant)

	raw, err := h.mr.Get(cacheKey(tenant, domain.ServiceHubSpot))
	require.NoError(t, err)
	require.NotContains(t, raw, "access-1")
	require.Equal(t, 5*time.Minute, h.mr.TTL(cacheKey(tenant, domain.ServiceHubSpot)))
}

func TestTokenCache_SaveInvalidates(t *testing.T) {
	h := newCacheHarness(t, 5*time.Minute)
	ctx := context.Background()
	tenant := domain.Tenant("cust001")

	h.save(t, tenant, "access-1", time.Hour)
	_, err := h.cache.Load(ctx, tenant, domain.ServiceHubSpot)
	require.NoError(t, err)

	h.save(t, tenant, "access-2", time.Hour)
	require.False(t, h.mr.Exists(cacheKey(tenant, domain.ServiceHubSpot)))

	got, err := h.cache.Load(ctx, tenant, domain.ServiceHubSpot)
	require.NoError(t, err)
	require.Equal(t, "access-2", got.AccessToken)
	require.Equal(t, 2, h.store.loadCount())
}

func TestTokenCache_MissIsNotCached(t *testing.T) {
	h := newCacheHarness(t, 5*time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		got, err := h.cache.Load(ctx, domain.Tenant("nobody"), domain.ServiceHubSpot)
		require.NoError(t, err)
		require.Nil(t, got)
	}
	require.Equal(t, 2, h.store.loadCount())
	require.Empty(t, h.mr.Keys())
}

func TestTokenCache_TTLBoundedByExpiry(t *testing.T) {
	h := newCacheHarness(t, 5*time.Minute)
	ctx := context.Background()
	tenant := domain.GlobalTenant()

	h.save(t, tenant, "short", 30*time.Second)
	got, err := h.cache.Load(ctx, tenant, domain.ServiceHubSpot)
	require.NoError(t, err)
	require.True(t, got.Tenant.IsGlobal())
	require.Equal(t, 30*time.Second, h.mr.TTL(cacheKey(tenant, domain.ServiceHubSpot)))
}

func TestTokenCache_ExpiredTokenIsNotCached(t *testing.T) {
	h := newCacheHarness(t, 5*time.Minute)
	ctx := context.Background()
	tenant := domain.Tenant("cust001")

	h.save(t, tenant, "stale", 0)
	got, err := h.cache.Load(ctx, tenant, domain.ServiceHubSpot)
	require.NoError(t, err)
	require.Equal(t, "stale", got.AccessToken)
	require.False(t, h.mr.Exists(cacheKey(tenant, domain.ServiceHubSpot)))
}

func TestTokenCache_CorruptEntryFallsBack(t *testing.T) {
	h := newCacheHarness(t, 5*time.Minute)
	ctx := context.Background()
	tenant := domain.Tenant("cust001")
	h.save(t, tenant, "access-1", time.Hour)

	key := cacheKey(tenant, domain.ServiceHubSpot)
	require.NoError(t, h.mr.Set(key, `{"access":"zz:zz:zz","refresh":"zz:zz:zz"}`))

	got, err := h.cache.Load(ctx, tenant, domain.ServiceHubSpot)
	require.NoError(t, err)
	require.Equal(t, "access-1", got.AccessToken)
	require.Equal(t, 1, h.store.loadCount())
	require.True(t, h.mr.Exists(key))
}
