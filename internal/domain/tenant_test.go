package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseTenant(t *testing.T) {
	tests := []struct {
		raw       string
		wantScope string
		global    bool
	}{
		{raw: "", wantScope: "global", global: true},
		{raw: "   ", wantScope: "global", global: true},
		{raw: "cust001", wantScope: "tenant:cust001"},
		{raw: " cust001 ", wantScope: "tenant:cust001"},
		{raw: "global", wantScope: "tenant:global"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			key := ParseTenant(tt.raw)
			require.Equal(t, tt.global, key.IsGlobal())
			require.Equal(t, tt.wantScope, key.Scope())
		})
	}
}

func TestTenantKey_ZeroValueIsGlobal(t *testing.T) {
	var key TenantKey
	require.True(t, key.IsGlobal())
	require.Equal(t, GlobalTenant(), key)
	require.Equal(t, "anonymous", key.String())

	v, ok := key.Value()
	require.False(t, ok)
	require.Empty(t, v)
}

func TestTenantKey_PresentValue(t *testing.T) {
	key := Tenant("cust001")
	v, ok := key.Value()
	require.True(t, ok)
	require.Equal(t, "cust001", v)
	require.Equal(t, "cust001", key.String())
	require.NotEqual(t, GlobalTenant(), key)
}

func TestTokenRecord_Expired(t *testing.T) {
	now := time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	rec := TokenRecord{ExpiresAt: now.Add(time.Minute)}
	require.False(t, rec.Expired(now))
	require.True(t, rec.Expired(now.Add(time.Minute)))
}

func TestProviderToken_Lifetime(t *testing.T) {
	require.Equal(t, 1800*time.Second, ProviderToken{ExpiresIn: 1800}.Lifetime())
}
