package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/smallbiznis/hubspot-connector/internal/domain"
	"github.com/smallbiznis/hubspot-connector/internal/repository"
)

var (
	// ErrTenantRequired is returned when the multi-tenant schema is asked to
	// resolve the global tenant.
	ErrTenantRequired = errors.New("identity: tenant key required")
	// ErrOrgConflict is returned when a tenant key already belongs to another org.
	ErrOrgConflict = errors.New("identity: tenant belongs to a different org")
)

// PortalProber looks up the HubSpot portal an access token was issued for.
type PortalProber interface {
	FetchPortalID(ctx context.Context, accessToken string) (string, error)
}

// Resolver maps a freshly issued token to its org and user rows, creating
// them on first sight. Existing rows are never updated.
type Resolver struct {
	repo   repository.IdentityRepository
	prober PortalProber
	logger *zap.Logger
}

// NewResolver creates an identity resolver.
func NewResolver(repo repository.IdentityRepository, prober PortalProber, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.L()
	}
	return &Resolver{repo: repo, prober: prober, logger: logger}
}

// Resolve probes the portal behind accessToken and ensures the org and user.
func (r *Resolver) Resolve(ctx context.Context, tenant domain.TenantKey, accessToken string) (domain.Identity, error) {
	if tenant.IsGlobal() {
		return domain.Identity{}, ErrTenantRequired
	}

	portalID, err := r.prober.FetchPortalID(ctx, accessToken)
	if err != nil {
		r.logger.Error("failed to probe portal", zap.Stringer("tenant", tenant), zap.Error(err))
		return domain.Identity{}, fmt.Errorf("probe portal: %w", err)
	}

	orgID, err := r.ResolveOrganization(ctx, portalID)
	if err != nil {
		return domain.Identity{}, err
	}
	userID, err := r.ResolveUser(ctx, tenant, orgID)
	if err != nil {
		return domain.Identity{}, err
	}

	r.logger.Debug("identity resolved",
		zap.Stringer("tenant", tenant),
		zap.String("portal_id", portalID),
		zap.Int64("org_id", orgID),
		zap.Int64("user_id", userID),
	)
	return domain.Identity{PortalID: portalID, OrgID: orgID, UserID: userID}, nil
}

// ResolveOrganization returns the org id for portalID, creating the org if
// needed.
func (r *Resolver) ResolveOrganization(ctx context.Context, portalID string) (int64, error) {
	cleaned := strings.TrimSpace(portalID)
	if cleaned == "" {
		return 0, fmt.Errorf("resolve org: empty portal id")
	}

	org, err := r.repo.GetOrgByPortalID(ctx, cleaned)
	if err == nil {
		return org.ID, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		r.logger.Error("failed to load org", zap.String("portal_id", cleaned), zap.Error(err))
		return 0, fmt.Errorf("resolve org: %w", err)
	}

	org, err = r.repo.CreateOrg(ctx, cleaned)
	if err != nil {
		r.logger.Error("failed to create org", zap.String("portal_id", cleaned), zap.Error(err))
		return 0, fmt.Errorf("create org: %w", err)
	}
	r.logger.Info("org created", zap.String("portal_id", cleaned), zap.Int64("org_id", org.ID))
	return org.ID, nil
}

// ResolveUser returns the user id for tenant, creating the user under orgID
// if needed.
func (r *Resolver) ResolveUser(ctx context.Context, tenant domain.TenantKey, orgID int64) (int64, error) {
	identifier, ok := tenant.Value()
	if !ok {
		return 0, ErrTenantRequired
	}

	user, err := r.repo.GetUserByIdentifier(ctx, identifier)
	switch {
	case err == nil:
	case errors.Is(err, pgx.ErrNoRows):
		user, err = r.repo.CreateUser(ctx, identifier, orgID)
		if err != nil {
			r.logger.Error("failed to create user", zap.String("tenant", identifier), zap.Error(err))
			return 0, fmt.Errorf("create user: %w", err)
		}
		r.logger.Info("user created", zap.String("tenant", identifier), zap.Int64("user_id", user.ID))
	default:
		r.logger.Error("failed to load user", zap.String("tenant", identifier), zap.Error(err))
		return 0, fmt.Errorf("resolve user: %w", err)
	}

	// A concurrent create may have won with another org, so check after
	// CreateUser too.
	if user.OrgID != 0 && user.OrgID != orgID {
		r.logger.Warn("tenant org mismatch",
			zap.String("tenant", identifier),
			zap.Int64("stored_org_id", user.OrgID),
			zap.Int64("org_id", orgID),
		)
		return 0, fmt.Errorf("%w: %q is linked to org %d", ErrOrgConflict, identifier, user.OrgID)
	}
	return user.ID, nil
}
