package preference

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/tenancy/internal/models"
)

func TestRemember(t *testing.T) {
	pref := &models.Preference{}

	Remember(pref, "a", "b")
	require.Equal(t, []string{"b", "a"}, pref.SeenTenantIDs)

	Remember(pref, "a")
	require.Equal(t, []string{"a", "b"}, pref.SeenTenantIDs, "re-seen id moves to front without duplicating")

	Remember(pref, "")
	require.Equal(t, []string{"a", "b"}, pref.SeenTenantIDs)
}

func TestRemember_Bounded(t *testing.T) {
	pref := &models.Preference{}
	for i := range MaxSeenTenants + 10 {
		Remember(pref, fmt.Sprintf("t%d", i))
	}
	require.Len(t, pref.SeenTenantIDs, MaxSeenTenants)
	require.Equal(t, fmt.Sprintf("t%d", MaxSeenTenants+9), pref.SeenTenantIDs[0])
}

func TestForget(t *testing.T) {
	pref := &models.Preference{LastTenantID: "a", SeenTenantIDs: []string{"a", "b", "c"}}

	Forget(pref, "a", "c")
	require.Equal(t, []string{"b"}, pref.SeenTenantIDs)
	require.Empty(t, pref.LastTenantID)
}

func testStore(t *testing.T, st Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("missing preference is empty", func(t *testing.T) {
		pref, err := st.Get(ctx, "nobody")
		require.NoError(t, err)
		require.Empty(t, pref.LastTenantID)
		require.Empty(t, pref.SeenTenantIDs)
	})

	t.Run("save and get", func(t *testing.T) {
		in := &models.Preference{
			LastTenantID:  "t1",
			SeenTenantIDs: []string{"t1", "t2"},
			UpdatedAt:     time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		}
		require.NoError(t, st.Save(ctx, "alice", in))

		in.SeenTenantIDs[0] = "mutated"

		out, err := st.Get(ctx, "alice")
		require.NoError(t, err)
		require.Equal(t, "t1", out.LastTenantID)
		require.Equal(t, []string{"t1", "t2"}, out.SeenTenantIDs)
		require.True(t, out.UpdatedAt.Equal(in.UpdatedAt))
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, st.Delete(ctx, "alice"))
		require.NoError(t, st.Delete(ctx, "alice"))

		out, err := st.Get(ctx, "alice")
		require.NoError(t, err)
		require.Empty(t, out.LastTenantID)
	})
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore())
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "preferences.yaml")

	st, err := NewFileStore(path)
	require.NoError(t, err)
	testStore(t, st)

	t.Run("persists across instances", func(t *testing.T) {
		ctx := context.Background()
		require.NoError(t, st.Save(ctx, "bob", &models.Preference{LastTenantID: "t9"}))

		reopened, err := NewFileStore(path)
		require.NoError(t, err)

		pref, err := reopened.Get(ctx, "bob")
		require.NoError(t, err)
		require.Equal(t, "t9", pref.LastTenantID)

		raw, err := os.ReadFile(path)
		require.NoError(t, err)
		require.Contains(t, string(raw), "last_tenant_id: t9")
	})

	t.Run("corrupt file", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(bad, []byte("principals: [unclosed"), 0o600))

		st, err := NewFileStore(bad)
		require.NoError(t, err)

		_, err = st.Get(context.Background(), "bob")
		require.Error(t, err)
	})
}

func TestNewFileStore_RequiresPath(t *testing.T) {
	_, err := NewFileStore("")
	require.Error(t, err)
}
