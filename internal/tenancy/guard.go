package tenancy

import (
	"cmp"
	"context"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/wolfeidau/tenancy/internal/models"
	"github.com/wolfeidau/tenancy/internal/store"
	"github.com/wolfeidau/tenancy/internal/telemetry"
)

// AccessGuard verifies a principal may act on a tenant before any tenant
// scoped operation.
type AccessGuard struct {
	client store.Client
	clock  clock.Clock
}

// NewAccessGuard creates a guard. A nil clk uses the wall clock.
func NewAccessGuard(client store.Client, clk clock.Clock) *AccessGuard {
	if clk == nil {
		clk = clock.New()
	}
	return &AccessGuard{client: client, clock: clk}
}

// EnsureAccess returns the principal's role and capabilities in tenantID.
//
// A creator without a membership row gets an owner row synthesized and
// persisted. The persist is best effort: if it fails the creator is still
// granted owner access for this call.
func (g *AccessGuard) EnsureAccess(ctx context.Context, principal models.Principal, tenantID string) (*Access, error) {
	if tenantID == "" {
		return nil, denied(tenantID, "no company selected", nil)
	}

	tenant, err := readTenant(ctx, g.client, tenantID)
	switch {
	case err == nil:
	case store.IsNotFound(err):
		return nil, notFound(tenantID, "", nil)
	case store.IsPermissionDenied(err):
		g.denied(ctx, "tenant_unreadable")
		return nil, denied(tenantID, "", err)
	default:
		return nil, storeError("read tenant", err)
	}

	creator := tenant.CreatedBy == principal.ID

	membership, err := readMembership(ctx, g.client, tenantID, principal.ID)
	switch {
	case err == nil:
		access := &Access{
			TenantID:     tenantID,
			Role:         membership.Role,
			Capabilities: membership.Capabilities(),
			Tier:         cmp.Or(membership.Tier, models.DefaultTier),
		}
		if creator && access.Role != models.RoleOwner {
			access.Role = models.RoleOwner
			access.Capabilities = models.ModulesForRole(models.RoleOwner)
		}
		return access, nil
	case isAbsent(err):
		// fall through to the creator check
	case creator:
		log.Warn().Err(err).Str("tenant_id", tenantID).Msg("Membership unreadable, granting creator owner access")
		return creatorAccess(tenantID, false), nil
	default:
		return nil, storeError("read membership", err)
	}

	if !creator {
		g.denied(ctx, "no_membership")
		return nil, denied(tenantID, "no membership", nil)
	}

	owner := models.NewOwnerMembership(principal.ID, g.clock.Now().UTC())
	if err := g.persistMembership(ctx, tenantID, owner); err != nil {
		log.Error().Err(err).
			Str("tenant_id", tenantID).
			Str("principal_id", principal.ID).
			Msg("Failed to persist synthesized owner membership, granting access anyway")
	} else {
		log.Info().
			Str("tenant_id", tenantID).
			Str("principal_id", principal.ID).
			Msg("Repaired missing owner membership")
	}
	telemetry.GetMetrics().SelfHealTotal.Add(ctx, 1)

	return creatorAccess(tenantID, true), nil
}

// RequireRole runs EnsureAccess and additionally requires one of roles.
func (g *AccessGuard) RequireRole(ctx context.Context, principal models.Principal, tenantID string, roles ...models.Role) (*Access, error) {
	access, err := g.EnsureAccess(ctx, principal, tenantID)
	if err != nil {
		return nil, err
	}
	if len(roles) > 0 && !access.HasRole(roles...) {
		g.denied(ctx, "insufficient_role")
		return nil, denied(tenantID, fmt.Sprintf("requires role %v", roles), nil)
	}
	return access, nil
}

// RequireOwner is RequireRole for the owner role.
func (g *AccessGuard) RequireOwner(ctx context.Context, principal models.Principal, tenantID string) (*Access, error) {
	return g.RequireRole(ctx, principal, tenantID, models.RoleOwner)
}

func (g *AccessGuard) persistMembership(ctx context.Context, tenantID string, m *models.Membership) error {
	mutations, err := membershipMutations(tenantID, m)
	if err != nil {
		return err
	}
	return g.client.Batch(ctx, mutations)
}

func (g *AccessGuard) denied(ctx context.Context, reason string) {
	telemetry.GetMetrics().AccessDeniedTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)))
}

func creatorAccess(tenantID string, healed bool) *Access {
	return &Access{
		TenantID:     tenantID,
		Role:         models.RoleOwner,
		Capabilities: models.ModulesForRole(models.RoleOwner),
		Tier:         models.DefaultTier,
		SelfHealed:   healed,
	}
}
