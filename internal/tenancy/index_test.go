package tenancy

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/tenancy/internal/models"
	"github.com/wolfeidau/tenancy/internal/preference"
	"github.com/wolfeidau/tenancy/internal/store"
	"github.com/wolfeidau/tenancy/internal/store/memory"
)

func TestMembershipIndex_Discover(t *testing.T) {
	ctx := context.Background()

	t.Run("created tenants are included without membership rows", func(t *testing.T) {
		st := newTestStore()
		seedTenant(t, st, "t-acme", "Acme", alice.ID)

		idx := NewMembershipIndex(st, nil, 0, 0)
		d, err := idx.Discover(ctx, alice)
		require.NoError(t, err)
		require.Len(t, d.Tenants, 1)
		require.Equal(t, "t-acme", d.Tenants[0].ID())
		require.Equal(t, models.RoleOwner, d.Tenants[0].Role)
		require.True(t, d.Tenants[0].Creator)
		require.Contains(t, d.Tenants[0].Capabilities, models.ModuleSettings)
	})

	t.Run("invited tenants come from the reverse index", func(t *testing.T) {
		st := newTestStore()
		seedTenant(t, st, "t-acme", "Acme", alice.ID)
		seedTenant(t, st, "t-solo", "Solo", bob.ID)
		seedMember(t, st, "t-acme", bob.ID, models.RoleEmployee, baseTime)

		idx := NewMembershipIndex(st, nil, 0, 0)
		d, err := idx.Discover(ctx, bob)
		require.NoError(t, err)
		require.Equal(t, []string{"t-acme", "t-solo"}, d.IDs())

		acme := d.Tenants[0]
		require.False(t, acme.Creator)
		require.Equal(t, models.RoleEmployee, acme.Role)
		require.Equal(t, []string{models.ModuleExpenses}, acme.Capabilities)
		require.Equal(t, baseTime, acme.JoinedAt.UTC())
	})

	t.Run("index entry without a membership row is stale", func(t *testing.T) {
		st := newTestStore()
		seedTenant(t, st, "t-acme", "Acme", alice.ID)
		require.NoError(t, st.Set(ctx, store.TenantIndexPath(bob.ID, "t-acme"), map[string]any{"tenantId": "t-acme"}))

		idx := NewMembershipIndex(st, nil, 0, 0)
		d, err := idx.Discover(ctx, bob)
		require.NoError(t, err)
		require.Empty(t, d.Tenants)
		require.Equal(t, []string{"t-acme"}, d.Stale)
	})

	t.Run("hinted tenants are verified", func(t *testing.T) {
		st := newTestStore()
		seedTenant(t, st, "t-acme", "Acme", alice.ID)
		seedTenant(t, st, "t-other", "Other", alice.ID)
		seedMemberRow(t, st, "t-acme", bob.ID, models.RoleManager)

		prefs := preference.NewMemoryStore()
		require.NoError(t, prefs.Save(ctx, bob.ID, &models.Preference{
			LastTenantID:  "t-other",
			SeenTenantIDs: []string{"t-acme", "t-missing"},
		}))

		idx := NewMembershipIndex(st, prefs, 2, 0)
		d, err := idx.Discover(ctx, bob)
		require.NoError(t, err)
		require.Equal(t, []string{"t-acme"}, d.IDs())
		require.Equal(t, models.RoleManager, d.Tenants[0].Role)
		require.Equal(t, []string{"t-missing", "t-other"}, d.Stale)
	})

	t.Run("created tenant query failure is swallowed", func(t *testing.T) {
		st := newTestStore()
		seedTenant(t, st, "t-acme", "Acme", alice.ID)
		seedTenant(t, st, "t-solo", "Solo", bob.ID)
		seedMember(t, st, "t-acme", bob.ID, models.RoleEmployee, baseTime)
		st.SetFault(func(op store.Op, path string) error {
			if op == memory.OpQuery && path == store.CollectionTenants {
				return store.ErrUnavailable
			}
			return nil
		})

		idx := NewMembershipIndex(st, nil, 0, 0)
		d, err := idx.Discover(ctx, bob)
		require.NoError(t, err)
		require.Equal(t, []string{"t-acme"}, d.IDs())
		require.True(t, d.Incomplete)
	})

	t.Run("transient probe failure excludes the tenant without marking it stale", func(t *testing.T) {
		st := newTestStore()
		seedTenant(t, st, "t-acme", "Acme", alice.ID)
		seedMember(t, st, "t-acme", bob.ID, models.RoleEmployee, baseTime)
		st.SetFault(func(op store.Op, path string) error {
			if op == memory.OpGet && path == store.MemberPath("t-acme", bob.ID) {
				return store.ErrUnavailable
			}
			return nil
		})

		idx := NewMembershipIndex(st, nil, 0, 0)
		d, err := idx.Discover(ctx, bob)
		require.NoError(t, err)
		require.Empty(t, d.Tenants)
		require.Empty(t, d.Stale)
		require.True(t, d.Incomplete)
	})

	t.Run("absent candidates leave the discovery complete", func(t *testing.T) {
		st := newTestStore()
		seedTenant(t, st, "t-acme", "Acme", alice.ID)
		seedMember(t, st, "t-acme", bob.ID, models.RoleEmployee, baseTime)
		require.NoError(t, st.Delete(ctx, store.MemberPath("t-acme", bob.ID)))

		idx := NewMembershipIndex(st, nil, 0, 0)
		d, err := idx.Discover(ctx, bob)
		require.NoError(t, err)
		require.Empty(t, d.Tenants)
		require.Equal(t, []string{"t-acme"}, d.Stale)
		require.False(t, d.Incomplete)
	})

	t.Run("reverse index failure marks the discovery incomplete", func(t *testing.T) {
		st := newTestStore()
		seedTenant(t, st, "t-solo", "Solo", bob.ID)
		st.SetFault(func(op store.Op, path string) error {
			if op == memory.OpQuery && path == store.TenantIndexCollection(bob.ID) {
				return store.ErrUnavailable
			}
			return nil
		})

		idx := NewMembershipIndex(st, nil, 0, 0)
		d, err := idx.Discover(ctx, bob)
		require.NoError(t, err)
		require.Equal(t, []string{"t-solo"}, d.IDs())
		require.True(t, d.Incomplete)
	})

	t.Run("tenants are deduplicated and ordered by name then id", func(t *testing.T) {
		st := newTestStore()
		seedTenant(t, st, "t-b", "Beta", alice.ID)
		seedTenant(t, st, "t-a2", "Alpha", bob.ID)
		seedTenant(t, st, "t-a1", "Alpha", bob.ID)
		seedMember(t, st, "t-b", alice.ID, models.RoleOwner, baseTime)
		seedMember(t, st, "t-a1", alice.ID, models.RoleAccountant, baseTime)
		seedMember(t, st, "t-a2", alice.ID, models.RoleManager, baseTime)

		idx := NewMembershipIndex(st, nil, 0, 0)
		d, err := idx.Discover(ctx, alice)
		require.NoError(t, err)
		require.Equal(t, []string{"t-a1", "t-a2", "t-b"}, d.IDs())
		require.True(t, d.Tenants[2].Creator)
	})

	t.Run("creator with a lesser membership row keeps owner rights", func(t *testing.T) {
		st := newTestStore()
		seedTenant(t, st, "t-acme", "Acme", alice.ID)
		seedMember(t, st, "t-acme", alice.ID, models.RoleEmployee, baseTime)
		st.SetFault(func(op store.Op, path string) error {
			if op == memory.OpQuery && path == store.CollectionTenants {
				return store.ErrUnavailable
			}
			return nil
		})

		idx := NewMembershipIndex(st, nil, 0, 0)
		d, err := idx.Discover(ctx, alice)
		require.NoError(t, err)
		require.Len(t, d.Tenants, 1)
		require.Equal(t, models.RoleOwner, d.Tenants[0].Role)
	})

	t.Run("cancelled context is returned", func(t *testing.T) {
		st := newTestStore()
		seedTenant(t, st, "t-acme", "Acme", alice.ID)

		cctx, cancel := context.WithCancel(ctx)
		cancel()

		idx := NewMembershipIndex(st, nil, 0, 0)
		_, err := idx.Discover(cctx, alice)
		require.True(t, errors.Is(err, context.Canceled))
	})

	t.Run("many tenants are all returned", func(t *testing.T) {
		st := newTestStore()
		for i := range 60 {
			id := fmt.Sprintf("t-%02d", i)
			seedTenant(t, st, id, id, alice.ID)
		}

		idx := NewMembershipIndex(st, nil, 4, 50)
		d, err := idx.Discover(ctx, alice)
		require.NoError(t, err)
		require.Len(t, d.Tenants, 60)
	})
}
