package token

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/smallbiznis/hubspot-connector/internal/adapter/hubspot"
	"github.com/smallbiznis/hubspot-connector/internal/domain"
	"github.com/smallbiznis/hubspot-connector/internal/metrics"
	"github.com/smallbiznis/hubspot-connector/internal/repository"
)

// Service obtains and renews provider credentials for a tenant.
type Service interface {
	// ExchangeCode trades an authorization code for tokens and stores them.
	ExchangeCode(ctx context.Context, code string, tenant domain.TenantKey) error
	// Refresh renews the access token and returns it. It is never retried.
	Refresh(ctx context.Context, tenant domain.TenantKey, service, refreshToken string) (string, error)
	// AuthorizeURL returns the install link for tenant.
	AuthorizeURL(tenant domain.TenantKey) string
}

// IdentityResolver links a new token to its org and user rows.
type IdentityResolver interface {
	Resolve(ctx context.Context, tenant domain.TenantKey, accessToken string) (domain.Identity, error)
}

type tokenService struct {
	provider hubspot.ProviderClient
	store    repository.TokenStore
	resolver IdentityResolver
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewService wires the token service. resolver is nil unless the multi-tenant
// schema is in use; m may be nil.
func NewService(
	provider hubspot.ProviderClient,
	store repository.TokenStore,
	resolver IdentityResolver,
	m *metrics.Metrics,
	logger *zap.Logger,
) Service {
	return &tokenService{
		provider: provider,
		store:    store,
		resolver: resolver,
		metrics:  m,
		logger:   logger,
	}
}

func (s *tokenService) log() *zap.Logger {
	if s.logger != nil {
		return s.logger
	}
	return zap.L()
}

func (s *tokenService) ExchangeCode(ctx context.Context, code string, tenant domain.TenantKey) error {
	if strings.TrimSpace(code) == "" {
		return domain.ErrMissingCode
	}

	if err := s.exchange(ctx, code, tenant); err != nil {
		s.metrics.ObserveExchange(metrics.ResultFailure)
		s.log().Error("token exchange failed", zap.Stringer("tenant", tenant), zap.Error(err))
		return fmt.Errorf("%w: %w", domain.ErrExchangeFailed, err)
	}
	s.metrics.ObserveExchange(metrics.ResultSuccess)
	s.log().Info("token exchanged", zap.Stringer("tenant", tenant))
	return nil
}

func (s *tokenService) exchange(ctx context.Context, code string, tenant domain.TenantKey) error {
	tok, err := s.provider.ExchangeCode(ctx, code)
	if err != nil {
		return err
	}

	if s.resolver != nil {
		id, err := s.resolver.Resolve(ctx, tenant, tok.AccessToken)
		if err != nil {
			return fmt.Errorf("resolve identity: %w", err)
		}
		s.log().Debug("token linked", zap.Stringer("tenant", tenant), zap.String("portal_id", id.PortalID))
	}

	return s.store.Save(ctx, domain.TokenGrant{
		Tenant:       tenant,
		Service:      domain.ServiceHubSpot,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Lifetime:     tok.Lifetime(),
	})
}

func (s *tokenService) Refresh(ctx context.Context, tenant domain.TenantKey, service, refreshToken string) (string, error) {
	access, err := s.refresh(ctx, tenant, service, refreshToken)
	if err != nil {
		s.metrics.ObserveRefresh(metrics.ResultFailure)
		s.log().Error("token refresh failed", zap.Stringer("tenant", tenant), zap.String("service", service), zap.Error(err))
		return "", fmt.Errorf("%w: %w", domain.ErrRefreshFailed, err)
	}
	s.metrics.ObserveRefresh(metrics.ResultSuccess)
	s.log().Info("access token renewed", zap.Stringer("tenant", tenant), zap.String("service", service))
	return access, nil
}

func (s *tokenService) refresh(ctx context.Context, tenant domain.TenantKey, service, refreshToken string) (string, error) {
	tok, err := s.provider.Refresh(ctx, refreshToken)
	if err != nil {
		return "", err
	}
	next := tok.RefreshToken
	if next == "" {
		next = refreshToken
	}
	if err := s.store.Save(ctx, domain.TokenGrant{
		Tenant:       tenant,
		Service:      service,
		AccessToken:  tok.AccessToken,
		RefreshToken: next,
		Lifetime:     tok.Lifetime(),
	}); err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

func (s *tokenService) AuthorizeURL(tenant domain.TenantKey) string {
	state, _ := tenant.Value()
	return s.provider.AuthorizeURL(state)
}
