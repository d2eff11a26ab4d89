package repository

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/smallbiznis/hubspot-connector/internal/domain"
)

type sealedGrant struct {
	access    string
	refresh   string
	expiresAt time.Time
	writtenAt time.Time
}

func sealGrant(s Sealer, grant domain.TokenGrant, now time.Time, logger *zap.Logger) (sealedGrant, error) {
	access, err := s.Encrypt(grant.AccessToken)
	if err != nil {
		return sealedGrant{}, fmt.Errorf("encrypt access token: %w", err)
	}
	refresh, err := s.Encrypt(grant.RefreshToken)
	if err != nil {
		return sealedGrant{}, fmt.Errorf("encrypt refresh token: %w", err)
	}
	logger.Debug("sealed token pair",
		zap.Stringer("tenant", grant.Tenant),
		zap.String("service", grant.Service),
		zap.String("access_envelope", access),
		zap.String("refresh_envelope", refresh),
	)
	return sealedGrant{
		access:    access,
		refresh:   refresh,
		expiresAt: now.Add(grant.Lifetime),
		writtenAt: now,
	}, nil
}

func openRecord(s Sealer, rec *domain.TokenRecord, access, refresh string) error {
	var err error
	if rec.AccessToken, err = s.Decrypt(access); err != nil {
		return fmt.Errorf("decrypt access token: %w", err)
	}
	if rec.RefreshToken, err = s.Decrypt(refresh); err != nil {
		return fmt.Errorf("decrypt refresh token: %w", err)
	}
	return nil
}

func nullableTenant(key domain.TenantKey) *string {
	if v, ok := key.Value(); ok {
		return &v
	}
	return nil
}

func tenantFromColumn(v *string) domain.TenantKey {
	if v == nil {
		return domain.GlobalTenant()
	}
	return domain.Tenant(*v)
}

func loggerOrGlobal(logger *zap.Logger) *zap.Logger {
	if logger != nil {
		return logger
	}
	return zap.L()
}
