// Package tenancy resolves which companies (tenants) a principal may act on,
// picks the current one, enforces and repairs memberships, and migrates a
// principal's pre-tenant records into their default tenant.
package tenancy

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/wolfeidau/tenancy/internal/models"
	"github.com/wolfeidau/tenancy/internal/store"
)

// ResolvedTenant is a tenant decorated with the principal's rights in it.
type ResolvedTenant struct {
	Tenant       models.Tenant
	Role         models.Role
	Capabilities []string
	Tier         string
	JoinedAt     time.Time

	// Creator is true when the principal is the tenant's createdBy.
	Creator bool
}

// ID returns the tenant id.
func (r ResolvedTenant) ID() string {
	return r.Tenant.ID
}

// Access is the result of a successful access check.
type Access struct {
	TenantID     string
	Role         models.Role
	Capabilities []string
	Tier         string

	// SelfHealed is set when the membership was synthesized for the creator.
	SelfHealed bool
}

// HasRole reports whether the access grants one of roles.
func (a *Access) HasRole(roles ...models.Role) bool {
	return slices.Contains(roles, a.Role)
}

// readTenant loads and decodes tenants/{tenantID}. Store errors are returned unchanged.
func readTenant(ctx context.Context, client store.Client, tenantID string) (*models.Tenant, error) {
	doc, err := client.Get(ctx, store.TenantPath(tenantID))
	if err != nil {
		return nil, err
	}
	return decodeTenant(doc)
}

func decodeTenant(doc *store.Document) (*models.Tenant, error) {
	var tenant models.Tenant
	if err := store.Decode(doc, &tenant); err != nil {
		return nil, err
	}
	if tenant.ID == "" {
		tenant.ID = doc.ID
	}
	return &tenant, nil
}

// readMembership loads and decodes tenants/{tenantID}/members/{principalID}.
func readMembership(ctx context.Context, client store.Client, tenantID, principalID string) (*models.Membership, error) {
	doc, err := client.Get(ctx, store.MemberPath(tenantID, principalID))
	if err != nil {
		return nil, err
	}

	var m models.Membership
	if err := store.Decode(doc, &m); err != nil {
		return nil, err
	}
	if m.PrincipalID == "" {
		m.PrincipalID = doc.ID
	}
	return &m, nil
}

// membershipMutations returns the writes that create a membership together
// with its reverse index entry.
func membershipMutations(tenantID string, m *models.Membership) ([]store.Mutation, error) {
	memberData, err := store.Encode(m)
	if err != nil {
		return nil, err
	}

	indexData, err := store.Encode(models.TenantIndexEntry{
		TenantID: tenantID,
		Role:     m.Role,
		AddedAt:  m.JoinedAt,
	})
	if err != nil {
		return nil, err
	}

	return []store.Mutation{
		store.SetMutation(store.MemberPath(tenantID, m.PrincipalID), memberData),
		store.SetMutation(store.TenantIndexPath(m.PrincipalID, tenantID), indexData),
	}, nil
}

// ownerRights builds the resolved view of a tenant the principal created.
func ownerRights(tenant *models.Tenant) ResolvedTenant {
	return ResolvedTenant{
		Tenant:       *tenant,
		Role:         models.RoleOwner,
		Capabilities: models.ModulesForRole(models.RoleOwner),
		Tier:         models.DefaultTier,
		JoinedAt:     tenant.CreatedAt,
		Creator:      true,
	}
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: company name is required", ErrInvalidArgument)
	}
	if len(name) > 200 {
		return fmt.Errorf("%w: company name must be at most 200 characters", ErrInvalidArgument)
	}
	return nil
}
