package tenancy

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/tenancy/internal/models"
	"github.com/wolfeidau/tenancy/internal/preference"
	"github.com/wolfeidau/tenancy/internal/store"
	"github.com/wolfeidau/tenancy/internal/store/memory"
)

func newTestService(st store.Client, prefs preference.Store) (*Service, *clock.Mock) {
	mock := clock.NewMock()
	mock.Set(baseTime)
	return NewService(st, Config{Clock: mock, Preferences: prefs}), mock
}

func TestService_ResolveAndSelectTenant(t *testing.T) {
	ctx := context.Background()

	t.Run("first sign-in bootstraps a default tenant and migrates legacy records", func(t *testing.T) {
		st := newTestStore()
		seedLegacyExpenses(t, st, alice.ID)
		svc, _ := newTestService(st, nil)

		sel, err := svc.ResolveAndSelectTenant(ctx, alice)
		require.NoError(t, err)
		require.True(t, sel.Bootstrapped)
		require.Len(t, sel.Tenants, 1)

		tenant := sel.Tenants[0].Tenant
		require.Equal(t, "Alice's company", tenant.DisplayName)
		require.True(t, tenant.IsDefault)
		require.Equal(t, alice.ID, tenant.CreatedBy)

		require.Equal(t, tenant.ID, sel.Current.TenantID)
		require.Equal(t, models.RoleOwner, sel.Current.Role)

		require.NotNil(t, sel.Migration)
		require.Equal(t, 3, sel.Migration.MigratedCount)
		require.Equal(t, 0, sel.Migration.ErrorCount)
		require.False(t, sel.Migration.Skipped)

		current, ok := svc.CurrentTenant(alice.ID)
		require.True(t, ok)
		require.Equal(t, tenant.ID, current)

		m, err := readMembership(ctx, st, tenant.ID, alice.ID)
		require.NoError(t, err)
		require.Equal(t, models.RoleOwner, m.Role)
		_, err = st.Get(ctx, store.TenantIndexPath(alice.ID, tenant.ID))
		require.NoError(t, err)

		result, err := svc.RunLegacyMigration(ctx, alice, tenant.ID)
		require.NoError(t, err)
		require.True(t, result.Skipped)
		require.Equal(t, 0, result.MigratedCount)
		require.Len(t, migratedRecords(t, st, tenant.ID), 3)

		again, _ := newTestService(st, nil)
		sel2, err := again.ResolveAndSelectTenant(ctx, alice)
		require.NoError(t, err)
		require.False(t, sel2.Bootstrapped)
		require.Equal(t, tenant.ID, sel2.Current.TenantID)

		created, err := st.Query(ctx, store.CollectionTenants, store.Eq("createdBy", alice.ID))
		require.NoError(t, err)
		require.Len(t, created, 1)
	})

	t.Run("invited tenant is preferred over a self-created one", func(t *testing.T) {
		st := newTestStore()
		seedTenant(t, st, "t-acme", "Acme", alice.ID)
		seedTenant(t, st, "t-solo", "Solo", bob.ID)
		seedMember(t, st, "t-acme", bob.ID, models.RoleEmployee, baseTime)
		svc, _ := newTestService(st, nil)

		tenants, err := svc.ResolveTenants(ctx, bob)
		require.NoError(t, err)
		require.Equal(t, []string{"t-acme", "t-solo"}, tenantIDs(tenants))

		sel, err := svc.ResolveAndSelectTenant(ctx, bob)
		require.NoError(t, err)
		require.False(t, sel.Bootstrapped)
		require.Equal(t, "t-acme", sel.Current.TenantID)
		require.Equal(t, models.RoleEmployee, sel.Current.Role)
	})

	t.Run("stored preference and previous selection are honoured", func(t *testing.T) {
		st := newTestStore()
		seedTenant(t, st, "t-acme", "Acme", alice.ID)
		seedTenant(t, st, "t-solo", "Solo", bob.ID)
		seedMember(t, st, "t-acme", bob.ID, models.RoleEmployee, baseTime)
		prefs := preference.NewMemoryStore()
		svc, _ := newTestService(st, prefs)

		_, err := svc.ResolveAndSelectTenant(ctx, bob)
		require.NoError(t, err)
		_, err = svc.SwitchTenant(ctx, bob, "t-solo")
		require.NoError(t, err)

		sel, err := svc.ResolveAndSelectTenant(ctx, bob)
		require.NoError(t, err)
		require.Equal(t, "t-solo", sel.Current.TenantID)

		fresh, _ := newTestService(st, prefs)
		sel, err = fresh.ResolveAndSelectTenant(ctx, bob)
		require.NoError(t, err)
		require.Equal(t, "t-solo", sel.Current.TenantID)

		pref, err := prefs.Get(ctx, bob.ID)
		require.NoError(t, err)
		require.Equal(t, "t-solo", pref.LastTenantID)
	})

	t.Run("revoked preferred tenant falls back", func(t *testing.T) {
		st := newTestStore()
		seedTenant(t, st, "t-acme", "Acme", alice.ID)
		seedTenant(t, st, "t-solo", "Solo", bob.ID)
		prefs := preference.NewMemoryStore()
		require.NoError(t, prefs.Save(ctx, bob.ID, &models.Preference{LastTenantID: "t-acme", SeenTenantIDs: []string{"t-acme"}}))
		svc, _ := newTestService(st, prefs)

		sel, err := svc.ResolveAndSelectTenant(ctx, bob)
		require.NoError(t, err)
		require.Equal(t, "t-solo", sel.Current.TenantID)

		pref, err := prefs.Get(ctx, bob.ID)
		require.NoError(t, err)
		require.Equal(t, "t-solo", pref.LastTenantID)
		require.NotContains(t, pref.SeenTenantIDs, "t-acme")
	})

	t.Run("sign out during resolution discards the result", func(t *testing.T) {
		st := newTestStore()
		seedTenant(t, st, "t-acme", "Acme", alice.ID)
		svc, _ := newTestService(st, nil)

		st.SetFault(func(op store.Op, path string) error {
			if op == memory.OpQuery && path == store.TenantIndexCollection(alice.ID) {
				svc.SignOut(alice.ID)
			}
			return nil
		})

		_, err := svc.ResolveAndSelectTenant(ctx, alice)
		require.ErrorIs(t, err, ErrSessionEnded)

		_, ok := svc.CurrentTenant(alice.ID)
		require.False(t, ok)

		st.SetFault(nil)
		sel, err := svc.ResolveAndSelectTenant(ctx, alice)
		require.NoError(t, err)
		require.Equal(t, "t-acme", sel.Current.TenantID)
	})

	t.Run("unconfirmed bootstrap write times out", func(t *testing.T) {
		st := newTestStore()
		st.SetFault(func(op store.Op, path string) error {
			if op == memory.OpGet && strings.Count(path, "/") == 1 && strings.HasPrefix(path, store.CollectionTenants+"/") {
				return store.ErrNotFound
			}
			return nil
		})
		svc := NewService(st, Config{Consistency: ConsistencyConfig{
			InitialInterval: time.Millisecond,
			MaxInterval:     2 * time.Millisecond,
			MaxElapsed:      20 * time.Millisecond,
		}})

		_, err := svc.ResolveAndSelectTenant(ctx, alice)
		require.ErrorIs(t, err, ErrEventualConsistencyTimeout)
	})
}

func TestService_ResolveTenants_Cache(t *testing.T) {
	ctx := context.Background()
	st := newTestStore()
	seedTenant(t, st, "t-solo", "Solo", bob.ID)
	svc, mock := newTestService(st, nil)

	tenants, err := svc.ResolveTenants(ctx, bob)
	require.NoError(t, err)
	require.Len(t, tenants, 1)

	seedTenant(t, st, "t-acme", "Acme", alice.ID)
	seedMember(t, st, "t-acme", bob.ID, models.RoleManager, baseTime)

	tenants, err = svc.ResolveTenants(ctx, bob)
	require.NoError(t, err)
	require.Len(t, tenants, 1)

	mock.Add(31 * time.Second)

	tenants, err = svc.ResolveTenants(ctx, bob)
	require.NoError(t, err)
	require.Equal(t, []string{"t-acme", "t-solo"}, tenantIDs(tenants))
}

func TestService_SwitchTenant(t *testing.T) {
	ctx := context.Background()

	t.Run("switching to a tenant without membership is denied and keeps the current tenant", func(t *testing.T) {
		st := newTestStore()
		seedTenant(t, st, "t-acme", "Acme", alice.ID)
		seedTenant(t, st, "t-unknown", "Unknown", carol.ID)
		seedMember(t, st, "t-acme", bob.ID, models.RoleEmployee, baseTime)
		svc, _ := newTestService(st, nil)

		sel, err := svc.ResolveAndSelectTenant(ctx, bob)
		require.NoError(t, err)
		require.Equal(t, "t-acme", sel.Current.TenantID)

		_, err = svc.SwitchTenant(ctx, bob, "t-unknown")
		require.ErrorIs(t, err, ErrDenied)

		current, _ := svc.CurrentTenant(bob.ID)
		require.Equal(t, "t-acme", current)

		_, err = svc.SwitchTenant(ctx, bob, "t-gone")
		require.ErrorIs(t, err, ErrNotFound)

		current, _ = svc.CurrentTenant(bob.ID)
		require.Equal(t, "t-acme", current)
	})

	t.Run("creator without membership row is healed on switch", func(t *testing.T) {
		st := newTestStore()
		seedTenant(t, st, "t-acme", "Acme", alice.ID)
		seedTenant(t, st, "t-second", "Second", alice.ID)
		svc, _ := newTestService(st, nil)

		access, err := svc.SwitchTenant(ctx, alice, "t-second")
		require.NoError(t, err)
		require.True(t, access.SelfHealed)
		require.Equal(t, models.RoleOwner, access.Role)

		current, _ := svc.CurrentTenant(alice.ID)
		require.Equal(t, "t-second", current)
	})
}

func TestService_CreateTenant(t *testing.T) {
	ctx := context.Background()

	t.Run("first tenant is always allowed and starts empty", func(t *testing.T) {
		st := newTestStore()
		seedLegacyExpenses(t, st, carol.ID)
		svc, _ := newTestService(st, nil)

		tenant, err := svc.CreateTenant(ctx, carol, "Carol Consulting", models.TenantSettings{Currency: "CHF"})
		require.NoError(t, err)
		require.False(t, tenant.IsDefault)
		require.Equal(t, "CHF", tenant.Settings.Currency)

		access, err := svc.Guard().EnsureAccess(ctx, carol, tenant.ID)
		require.NoError(t, err)
		require.Equal(t, models.RoleOwner, access.Role)
		require.False(t, access.SelfHealed)

		require.Empty(t, migratedRecords(t, st, tenant.ID))
	})

	t.Run("members who own nothing cannot create", func(t *testing.T) {
		st := newTestStore()
		seedTenant(t, st, "t-acme", "Acme", alice.ID)
		seedMember(t, st, "t-acme", carol.ID, models.RoleEmployee, baseTime)
		svc, _ := newTestService(st, nil)

		_, err := svc.CreateTenant(ctx, carol, "Side project", models.TenantSettings{})
		require.ErrorIs(t, err, ErrDenied)
	})

	t.Run("unreadable membership refuses creation as transient", func(t *testing.T) {
		st := newTestStore()
		seedTenant(t, st, "t-acme", "Acme", alice.ID)
		seedMember(t, st, "t-acme", bob.ID, models.RoleEmployee, baseTime)
		st.SetFault(func(op store.Op, path string) error {
			if op == memory.OpGet && path == store.MemberPath("t-acme", bob.ID) {
				return store.ErrUnavailable
			}
			return nil
		})
		svc, _ := newTestService(st, nil)

		_, err := svc.CreateTenant(ctx, bob, "Bob Co", models.TenantSettings{})
		require.ErrorIs(t, err, ErrTransientStore)

		st.SetFault(nil)
		docs, err := st.Query(ctx, store.CollectionTenants, store.Eq("createdBy", bob.ID))
		require.NoError(t, err)
		require.Empty(t, docs)
	})

	t.Run("owners can create while another membership is unreadable", func(t *testing.T) {
		st := newTestStore()
		seedTenant(t, st, "t-acme", "Acme", alice.ID)
		seedTenant(t, st, "t-solo", "Solo", bob.ID)
		seedMember(t, st, "t-acme", bob.ID, models.RoleEmployee, baseTime)
		st.SetFault(func(op store.Op, path string) error {
			if op == memory.OpGet && path == store.MemberPath("t-acme", bob.ID) {
				return store.ErrUnavailable
			}
			return nil
		})
		svc, _ := newTestService(st, nil)

		_, err := svc.CreateTenant(ctx, bob, "Bob Co", models.TenantSettings{})
		require.NoError(t, err)
	})

	t.Run("owners can create additional tenants", func(t *testing.T) {
		st := newTestStore()
		seedTenant(t, st, "t-acme", "Acme", alice.ID)
		svc, _ := newTestService(st, nil)

		tenant, err := svc.CreateTenant(ctx, alice, "Acme Labs", models.TenantSettings{})
		require.NoError(t, err)

		tenants, err := svc.ResolveTenants(ctx, alice)
		require.NoError(t, err)
		require.Equal(t, []string{"t-acme", tenant.ID}, tenantIDs(tenants))
	})

	t.Run("empty name is rejected", func(t *testing.T) {
		svc, _ := newTestService(newTestStore(), nil)

		_, err := svc.CreateTenant(ctx, alice, "", models.TenantSettings{})
		require.ErrorIs(t, err, ErrInvalidArgument)
	})
}

func TestService_RenameTenant(t *testing.T) {
	ctx := context.Background()

	t.Run("owner renames", func(t *testing.T) {
		st := newTestStore()
		seedTenant(t, st, "t-acme", "Acme", alice.ID)
		svc, _ := newTestService(st, nil)

		tenant, err := svc.RenameTenant(ctx, alice, "t-acme", "Acme GmbH")
		require.NoError(t, err)
		require.Equal(t, "Acme GmbH", tenant.DisplayName)
		require.Equal(t, alice.ID, tenant.CreatedBy)
	})

	t.Run("non owner is denied", func(t *testing.T) {
		st := newTestStore()
		seedTenant(t, st, "t-acme", "Acme", alice.ID)
		seedMember(t, st, "t-acme", bob.ID, models.RoleManager, baseTime)
		svc, _ := newTestService(st, nil)

		_, err := svc.RenameTenant(ctx, bob, "t-acme", "Bob's now")
		require.ErrorIs(t, err, ErrDenied)
	})

	t.Run("transient write failure is surfaced", func(t *testing.T) {
		st := newTestStore()
		seedTenant(t, st, "t-acme", "Acme", alice.ID)
		seedMember(t, st, "t-acme", alice.ID, models.RoleOwner, baseTime)
		st.SetFault(func(op store.Op, path string) error {
			if op == store.OpUpdate {
				return store.ErrUnavailable
			}
			return nil
		})
		svc, _ := newTestService(st, nil)

		_, err := svc.RenameTenant(ctx, alice, "t-acme", "Acme GmbH")
		require.ErrorIs(t, err, ErrTransientStore)
	})
}

func TestService_DeleteTenant(t *testing.T) {
	ctx := context.Background()

	t.Run("cascades and reselects", func(t *testing.T) {
		st := newTestStore()
		seedTenant(t, st, "t-acme", "Acme", alice.ID)
		seedTenant(t, st, "t-beta", "Beta", alice.ID)
		seedMember(t, st, "t-acme", alice.ID, models.RoleOwner, baseTime)
		seedMember(t, st, "t-acme", bob.ID, models.RoleEmployee, baseTime)
		require.NoError(t, st.Set(ctx, store.RecordPath("t-acme", "e1"), map[string]any{"amount": 1}))
		require.NoError(t, st.Set(ctx, store.MigrationStatePath("t-acme"), map[string]any{"expensesMigrated": true}))
		svc, _ := newTestService(st, nil)

		_, err := svc.SwitchTenant(ctx, alice, "t-acme")
		require.NoError(t, err)
		_, err = svc.SwitchTenant(ctx, bob, "t-acme")
		require.NoError(t, err)

		sel, err := svc.DeleteTenant(ctx, alice, "t-acme")
		require.NoError(t, err)
		require.NotNil(t, sel)
		require.Equal(t, "t-beta", sel.Current.TenantID)
		require.Equal(t, []string{"t-beta"}, tenantIDs(sel.Tenants))

		_, err = st.Get(ctx, store.MigrationStatePath("t-acme"))
		require.ErrorIs(t, err, store.ErrNotFound)
		_, err = st.Get(ctx, store.RecordPath("t-acme", "e1"))
		require.ErrorIs(t, err, store.ErrNotFound)

		tenants, err := svc.ResolveTenants(ctx, alice)
		require.NoError(t, err)
		require.NotContains(t, tenantIDs(tenants), "t-acme")

		require.Empty(t, st.Paths(store.TenantPath("t-acme")))
		require.Empty(t, st.Paths(store.TenantIndexPath(alice.ID, "t-acme")))
		require.Empty(t, st.Paths(store.TenantIndexPath(bob.ID, "t-acme")))

		_, ok := svc.CurrentTenant(bob.ID)
		require.False(t, ok)

		_, err = svc.SwitchTenant(ctx, bob, "t-acme")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("deleting the last tenant bootstraps a new default", func(t *testing.T) {
		st := newTestStore()
		seedTenant(t, st, "t-acme", "Acme", alice.ID)
		svc, _ := newTestService(st, nil)

		_, err := svc.SwitchTenant(ctx, alice, "t-acme")
		require.NoError(t, err)

		sel, err := svc.DeleteTenant(ctx, alice, "t-acme")
		require.NoError(t, err)
		require.True(t, sel.Bootstrapped)
		require.NotEqual(t, "t-acme", sel.Current.TenantID)
	})

	t.Run("forgetting the only remembered tenant drops the preference", func(t *testing.T) {
		st := newTestStore()
		seedTenant(t, st, "t-acme", "Acme", alice.ID)
		seedTenant(t, st, "t-beta", "Beta", alice.ID)
		prefs := &recordingPreferences{Store: preference.NewMemoryStore()}
		require.NoError(t, prefs.Save(ctx, alice.ID, &models.Preference{SeenTenantIDs: []string{"t-beta"}}))
		svc, _ := newTestService(st, prefs)

		sel, err := svc.DeleteTenant(ctx, alice, "t-beta")
		require.NoError(t, err)
		require.Nil(t, sel)
		require.Equal(t, []string{alice.ID}, prefs.deleted)
	})

	t.Run("deleting a non-current tenant keeps the selection", func(t *testing.T) {
		st := newTestStore()
		seedTenant(t, st, "t-acme", "Acme", alice.ID)
		seedTenant(t, st, "t-beta", "Beta", alice.ID)
		svc, _ := newTestService(st, nil)

		_, err := svc.SwitchTenant(ctx, alice, "t-beta")
		require.NoError(t, err)

		sel, err := svc.DeleteTenant(ctx, alice, "t-acme")
		require.NoError(t, err)
		require.Nil(t, sel)

		current, _ := svc.CurrentTenant(alice.ID)
		require.Equal(t, "t-beta", current)
	})

	t.Run("non owner is denied and nothing is deleted", func(t *testing.T) {
		st := newTestStore()
		seedTenant(t, st, "t-acme", "Acme", alice.ID)
		seedMember(t, st, "t-acme", bob.ID, models.RoleManager, baseTime)
		svc, _ := newTestService(st, nil)

		_, err := svc.DeleteTenant(ctx, bob, "t-acme")
		require.ErrorIs(t, err, ErrDenied)

		_, err = st.Get(ctx, store.TenantPath("t-acme"))
		require.NoError(t, err)
	})

	t.Run("failed batch leaves everything in place", func(t *testing.T) {
		st := newTestStore()
		seedTenant(t, st, "t-acme", "Acme", alice.ID)
		seedMember(t, st, "t-acme", alice.ID, models.RoleOwner, baseTime)
		require.NoError(t, st.Set(ctx, store.RecordPath("t-acme", "e1"), map[string]any{"amount": 1}))
		st.SetFault(func(op store.Op, path string) error {
			if op == store.OpDelete && path == store.TenantPath("t-acme") {
				return store.ErrUnavailable
			}
			return nil
		})
		svc, _ := newTestService(st, nil)

		_, err := svc.DeleteTenant(ctx, alice, "t-acme")
		require.ErrorIs(t, err, ErrTransientStore)
		require.Len(t, st.Paths(store.TenantPath("t-acme")), 3)
	})
}

func TestService_VerifyMigrationState(t *testing.T) {
	ctx := context.Background()
	st := newTestStore()
	seedTenant(t, st, "t-acme", "Acme", alice.ID)
	seedMember(t, st, "t-acme", bob.ID, models.RoleAccountant, baseTime)
	svc, _ := newTestService(st, nil)

	v, err := svc.VerifyMigrationState(ctx, alice, "t-acme")
	require.NoError(t, err)
	require.False(t, v.Exists)
	require.False(t, v.Completed())

	_, err = svc.VerifyMigrationState(ctx, bob, "t-acme")
	require.ErrorIs(t, err, ErrDenied)
}

type recordingPreferences struct {
	preference.Store
	deleted []string
}

func (r *recordingPreferences) Delete(ctx context.Context, principalID string) error {
	r.deleted = append(r.deleted, principalID)
	return r.Store.Delete(ctx, principalID)
}
