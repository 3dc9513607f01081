package postgres

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/tenancy/internal/store"
)

func TestBuildQuery(t *testing.T) {
	t.Run("collection only", func(t *testing.T) {
		sql, args, err := buildQuery("tenants", nil)
		require.NoError(t, err)
		require.Equal(t, `SELECT path, data FROM documents WHERE collection = $1 ORDER BY path`, sql)
		require.Equal(t, []any{"tenants"}, args)
	})

	t.Run("equality and range filters", func(t *testing.T) {
		sql, args, err := buildQuery("tenants", []store.Filter{
			store.Eq("createdBy", "alice"),
			{Field: "rank", Op: store.OpGreaterThan, Value: 2},
		})
		require.NoError(t, err)
		require.Equal(t,
			`SELECT path, data FROM documents WHERE collection = $1`+
				` AND data -> $2::text = $3::jsonb`+
				` AND data -> $4::text > $5::jsonb ORDER BY path`,
			sql)
		require.Equal(t, []any{"tenants", "createdBy", `"alice"`, "rank", "2"}, args)
	})

	t.Run("unsupported operator", func(t *testing.T) {
		_, _, err := buildQuery("tenants", []store.Filter{{Field: "x", Op: "LIKE"}})
		require.ErrorIs(t, err, store.ErrInvalidArgument)
	})

	t.Run("empty field", func(t *testing.T) {
		_, _, err := buildQuery("tenants", []store.Filter{{Op: store.OpEqual, Value: 1}})
		require.ErrorIs(t, err, store.ErrInvalidArgument)
	})
}

func TestDocumentStoreConfig(t *testing.T) {
	cfg := DocumentStoreConfig{}
	cfg.ApplyDefaults()
	require.Equal(t, int32(10), cfg.QueryTimeoutSeconds)
	require.NoError(t, cfg.Validate())

	cfg.QueryTimeoutSeconds = 301
	require.Error(t, cfg.Validate())
}

func TestPoolConfig(t *testing.T) {
	cfg := PoolConfig{}
	require.Error(t, cfg.Validate())

	cfg.ConnString = "postgres://localhost/test"
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())
	require.Equal(t, int32(20), cfg.MaxConns)

	cfg.MinConns = 50
	require.Error(t, cfg.Validate())
}

func TestLoadMigrations(t *testing.T) {
	migrations, err := loadMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, migrations)
	require.Equal(t, 1, migrations[0].version)
	require.Contains(t, migrations[0].content, "CREATE TABLE IF NOT EXISTS documents")
}
