package tenancy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wolfeidau/tenancy/internal/models"
	"github.com/wolfeidau/tenancy/internal/store"
	"github.com/wolfeidau/tenancy/internal/store/memory"
)

var (
	alice = models.Principal{ID: "alice", Email: "alice@example.com", DisplayName: "Alice"}
	bob   = models.Principal{ID: "bob", Email: "bob@example.com", DisplayName: "Bob"}
	carol = models.Principal{ID: "carol", Email: "carol@example.com"}

	baseTime = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
)

func seedTenant(t *testing.T, st store.Client, id, name, createdBy string) {
	t.Helper()

	data, err := store.Encode(models.Tenant{
		ID:          id,
		DisplayName: name,
		CreatedBy:   createdBy,
		CreatedAt:   baseTime,
		UpdatedAt:   baseTime,
	})
	require.NoError(t, err)
	require.NoError(t, st.Set(context.Background(), store.TenantPath(id), data))
}

// seedMember writes a membership and its reverse index entry the way an
// invitation flow would.
func seedMember(t *testing.T, st store.Client, tenantID, principalID string, role models.Role, joinedAt time.Time) {
	t.Helper()

	mutations, err := membershipMutations(tenantID, &models.Membership{
		PrincipalID: principalID,
		Role:        role,
		Tier:        models.DefaultTier,
		JoinedAt:    joinedAt,
	})
	require.NoError(t, err)
	require.NoError(t, st.Batch(context.Background(), mutations))
}

// seedMemberRow writes only the membership row, without an index entry.
func seedMemberRow(t *testing.T, st store.Client, tenantID, principalID string, role models.Role) {
	t.Helper()

	data, err := store.Encode(models.Membership{PrincipalID: principalID, Role: role, JoinedAt: baseTime})
	require.NoError(t, err)
	require.NoError(t, st.Set(context.Background(), store.MemberPath(tenantID, principalID), data))
}

func seedLegacy(t *testing.T, st store.Client, principalID, recordID string, payload map[string]any) {
	t.Helper()
	require.NoError(t, st.Set(context.Background(), store.LegacyRecordPath(principalID, recordID), payload))
}

func seedLegacyExpenses(t *testing.T, st store.Client, principalID string) {
	t.Helper()

	seedLegacy(t, st, principalID, "r1", map[string]any{"amount": 12.5, "description": "Taxi", "createdAt": "2023-11-02T10:00:00Z"})
	seedLegacy(t, st, principalID, "r2", map[string]any{"amount": 40, "currency": "USD", "_encrypted": true})
	seedLegacy(t, st, principalID, "r3", map[string]any{"description": "Lunch", "decryptionFailed": false, "_transportId": "x"})
}

func newTestStore() *memory.DocumentStore {
	return memory.NewDocumentStore()
}
