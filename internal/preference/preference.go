// Package preference stores the per-principal "last used tenant" hint and the
// set of tenants recently seen on this client. Nothing here is an authority on
// access; every id read back is verified by the tenancy core.
package preference

import (
	"context"
	"slices"

	"github.com/wolfeidau/tenancy/internal/models"
)

// MaxSeenTenants bounds the remembered hint set per principal.
const MaxSeenTenants = 64

// Store persists selection preferences.
type Store interface {
	// Get returns the principal's preference, or an empty preference if none is stored.
	Get(ctx context.Context, principalID string) (*models.Preference, error)

	// Save replaces the principal's preference.
	Save(ctx context.Context, principalID string, pref *models.Preference) error

	// Delete forgets the principal's preference.
	Delete(ctx context.Context, principalID string) error
}

// Remember records tenantID as seen, most recent first, keeping at most
// MaxSeenTenants ids.
func Remember(pref *models.Preference, tenantIDs ...string) {
	for _, id := range tenantIDs {
		if id == "" {
			continue
		}
		pref.SeenTenantIDs = slices.DeleteFunc(pref.SeenTenantIDs, func(s string) bool { return s == id })
		pref.SeenTenantIDs = slices.Insert(pref.SeenTenantIDs, 0, id)
	}
	if len(pref.SeenTenantIDs) > MaxSeenTenants {
		pref.SeenTenantIDs = pref.SeenTenantIDs[:MaxSeenTenants]
	}
}

// Forget drops tenant ids from the hint set and clears LastTenantID if it is one of them.
func Forget(pref *models.Preference, tenantIDs ...string) {
	for _, id := range tenantIDs {
		pref.SeenTenantIDs = slices.DeleteFunc(pref.SeenTenantIDs, func(s string) bool { return s == id })
		if pref.LastTenantID == id {
			pref.LastTenantID = ""
		}
	}
}

func clonePreference(p *models.Preference) *models.Preference {
	clone := *p
	clone.SeenTenantIDs = slices.Clone(p.SeenTenantIDs)
	return &clone
}
