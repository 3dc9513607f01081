package tenancy

import (
	"cmp"
	"slices"
)

// SelectCurrent picks the current tenant from a resolved set. It is pure: the
// same inputs always give the same answer.
//
// Precedence:
//  1. previous, if still in the set (a refresh keeps the user where they were)
//  2. the stored preference, if still in the set
//  3. tenants the principal joined by invitation, most recently joined first
//  4. the first tenant by display name, then id
//
// It returns false only when tenants is empty.
func SelectCurrent(tenants []ResolvedTenant, preferred, previous string) (string, bool) {
	if len(tenants) == 0 {
		return "", false
	}

	if previous != "" && containsTenant(tenants, previous) {
		return previous, true
	}
	if preferred != "" && containsTenant(tenants, preferred) {
		return preferred, true
	}

	var invited []ResolvedTenant
	for _, t := range tenants {
		if !t.Creator {
			invited = append(invited, t)
		}
	}
	if len(invited) > 0 {
		slices.SortFunc(invited, func(a, b ResolvedTenant) int {
			return cmp.Or(
				b.JoinedAt.Compare(a.JoinedAt),
				cmp.Compare(a.Tenant.DisplayName, b.Tenant.DisplayName),
				cmp.Compare(a.ID(), b.ID()),
			)
		})
		return invited[0].ID(), true
	}

	first := slices.MinFunc(tenants, func(a, b ResolvedTenant) int {
		return cmp.Or(
			cmp.Compare(a.Tenant.DisplayName, b.Tenant.DisplayName),
			cmp.Compare(a.ID(), b.ID()),
		)
	})
	return first.ID(), true
}

func containsTenant(tenants []ResolvedTenant, tenantID string) bool {
	return slices.ContainsFunc(tenants, func(t ResolvedTenant) bool { return t.ID() == tenantID })
}

func findTenant(tenants []ResolvedTenant, tenantID string) (ResolvedTenant, bool) {
	i := slices.IndexFunc(tenants, func(t ResolvedTenant) bool { return t.ID() == tenantID })
	if i < 0 {
		return ResolvedTenant{}, false
	}
	return tenants[i], true
}
