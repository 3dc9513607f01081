package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/wolfeidau/tenancy/internal/store"
	memorystore "github.com/wolfeidau/tenancy/internal/store/memory"
	postgresstore "github.com/wolfeidau/tenancy/internal/store/postgres"
)

type Globals struct {
	Debug   bool
	Version string
}

func configureHTTPServer(addr string, handler http.Handler) *http.Server {
	// Create HTTP server
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       time.Minute,
		WriteTimeout:      time.Minute,
		IdleTimeout:       5 * time.Minute,
		MaxHeaderBytes:    8 * 1024, // 8KiB
	}
}

// StoreFlags selects and configures the document store.
type StoreFlags struct {
	StoreType     string             `help:"store type (memory or postgres)" default:"memory" env:"TENANCY_STORE_TYPE" enum:"memory,postgres"`
	PostgresStore PostgresStoreFlags `embed:"" prefix:"postgres-"`
}

type PostgresStoreFlags struct {
	// Connection Configuration
	ConnString string `help:"PostgreSQL connection string" env:"POSTGRES_CONNECTION_STRING"`

	// Connection Pool Configuration
	MaxConns        int32         `help:"maximum number of connections in pool" default:"20"`
	MinConns        int32         `help:"minimum number of connections in pool" default:"2"`
	MaxConnLifetime time.Duration `help:"maximum connection lifetime" default:"1h"`
	MaxConnIdleTime time.Duration `help:"maximum connection idle time" default:"30m"`

	// Store Configuration
	QueryTimeoutSeconds int32 `help:"per statement timeout in seconds" default:"10" env:"TENANCY_POSTGRES_QUERY_TIMEOUT"`
	AutoMigrate         bool  `help:"run database migrations on startup" default:"false" env:"TENANCY_POSTGRES_AUTO_MIGRATE"`
}

func (s *PostgresStoreFlags) validate() error {
	if s.ConnString == "" {
		return errors.New("PostgreSQL connection string is required (--postgres-conn-string or POSTGRES_CONNECTION_STRING)")
	}
	if s.MinConns > s.MaxConns {
		return errors.New("--postgres-min-conns must not exceed --postgres-max-conns")
	}
	return nil
}

// Open returns the configured store and a function that releases it.
func (s *StoreFlags) Open(ctx context.Context, log zerolog.Logger) (store.Client, func(), error) {
	switch s.StoreType {
	case "postgres":
		if err := s.PostgresStore.validate(); err != nil {
			return nil, nil, err
		}

		pool, err := postgresstore.NewPool(ctx, &postgresstore.PoolConfig{
			ConnString:      s.PostgresStore.ConnString,
			MaxConns:        s.PostgresStore.MaxConns,
			MinConns:        s.PostgresStore.MinConns,
			MaxConnLifetime: s.PostgresStore.MaxConnLifetime,
			MaxConnIdleTime: s.PostgresStore.MaxConnIdleTime,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create connection pool: %w", err)
		}

		docs, err := postgresstore.NewDocumentStore(ctx, pool, postgresstore.DocumentStoreConfig{
			QueryTimeoutSeconds: s.PostgresStore.QueryTimeoutSeconds,
			AutoMigrate:         s.PostgresStore.AutoMigrate,
		})
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("failed to create document store: %w", err)
		}

		log.Info().Bool("auto_migrate", s.PostgresStore.AutoMigrate).Msg("Using PostgreSQL document store")
		return docs, pool.Close, nil

	default:
		log.Warn().Msg("Using in-memory document store, data is lost on exit")
		return memorystore.NewDocumentStore(), func() {}, nil
	}
}
