package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/tenancy/internal/store"
)

var _ store.Client = (*DocumentStore)(nil)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DocumentStore implements store.Client on a single documents table holding
// one jsonb row per document path.
type DocumentStore struct {
	pool *pgxpool.Pool
	cfg  DocumentStoreConfig
}

// NewDocumentStore creates a PostgreSQL-backed document store sharing pool.
func NewDocumentStore(ctx context.Context, pool *pgxpool.Pool, cfg DocumentStoreConfig) (*DocumentStore, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid document store config: %w", err)
	}

	if cfg.AutoMigrate {
		if err := Migrate(ctx, pool); err != nil {
			return nil, err
		}
	}

	return &DocumentStore{
		pool: pool,
		cfg:  cfg,
	}, nil
}

// Get retrieves a document by path.
func (s *DocumentStore) Get(ctx context.Context, path string) (*store.Document, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM documents WHERE path = $1`, path).Scan(&raw)
	if err != nil {
		return nil, fmt.Errorf("failed to get document %s: %w", path, mapPostgresError(err))
	}

	return decodeRow(path, raw)
}

// Set writes a document, replacing it unless WithMerge is given.
func (s *DocumentStore) Set(ctx context.Context, path string, data map[string]any, opts ...store.SetOption) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	o := store.ApplySetOptions(opts...)
	return apply(ctx, s.pool, store.Mutation{Op: store.OpSet, Path: path, Data: data, Merge: o.Merge})
}

// Update merges fields into an existing document.
func (s *DocumentStore) Update(ctx context.Context, path string, data map[string]any) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return apply(ctx, s.pool, store.UpdateMutation(path, data))
}

// Delete removes a document.
func (s *DocumentStore) Delete(ctx context.Context, path string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return apply(ctx, s.pool, store.DeleteMutation(path))
}

// Query returns documents directly inside collection that match all filters,
// ordered by path. Filters compare top-level jsonb fields.
func (s *DocumentStore) Query(ctx context.Context, collection string, filters ...store.Filter) ([]*store.Document, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	sql, args, err := buildQuery(collection, filters)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", collection, mapPostgresError(err))
	}
	defer rows.Close()

	var docs []*store.Document
	for rows.Next() {
		var (
			path string
			raw  []byte
		)
		if err := rows.Scan(&path, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		doc, err := decodeRow(path, raw)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s: %w", collection, mapPostgresError(err))
	}

	return docs, nil
}

// Batch applies all mutations in a single transaction.
func (s *DocumentStore) Batch(ctx context.Context, mutations []store.Mutation) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin batch: %w", mapPostgresError(err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback is safe to call after commit

	for _, m := range mutations {
		if err := apply(ctx, tx, m); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit batch: %w", mapPostgresError(err))
	}

	log.Debug().Int("mutations", len(mutations)).Msg("Committed batch")

	return nil
}

func (s *DocumentStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.QueryTimeoutSeconds <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, time.Duration(s.cfg.QueryTimeoutSeconds)*time.Second)
}

// apply executes a single mutation against q.
func apply(ctx context.Context, q querier, m store.Mutation) error {
	if err := store.ValidatePath(m.Path); err != nil {
		return err
	}

	switch m.Op {
	case store.OpSet:
		raw, err := encodeData(m.Data)
		if err != nil {
			return err
		}
		collection, id := store.Split(m.Path)

		conflict := `data = EXCLUDED.data`
		if m.Merge {
			conflict = `data = documents.data || EXCLUDED.data`
		}

		_, err = q.Exec(ctx, `
			INSERT INTO documents (path, collection, doc_id, data, created_at, updated_at)
			VALUES ($1, $2, $3, $4::jsonb, now(), now())
			ON CONFLICT (path) DO UPDATE SET `+conflict+`, updated_at = now()
		`, m.Path, collection, id, raw)
		if err != nil {
			return fmt.Errorf("failed to set document %s: %w", m.Path, mapPostgresError(err))
		}

	case store.OpUpdate:
		raw, err := encodeData(m.Data)
		if err != nil {
			return err
		}

		result, err := q.Exec(ctx, `
			UPDATE documents SET data = data || $2::jsonb, updated_at = now()
			WHERE path = $1
		`, m.Path, raw)
		if err != nil {
			return fmt.Errorf("failed to update document %s: %w", m.Path, mapPostgresError(err))
		}
		if result.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s", store.ErrNotFound, m.Path)
		}

	case store.OpDelete:
		if _, err := q.Exec(ctx, `DELETE FROM documents WHERE path = $1`, m.Path); err != nil {
			return fmt.Errorf("failed to delete document %s: %w", m.Path, mapPostgresError(err))
		}

	default:
		return fmt.Errorf("%w: unknown batch op %q", store.ErrInvalidArgument, m.Op)
	}

	return nil
}

var sqlOperators = map[store.FilterOp]string{
	store.OpEqual:          "=",
	store.OpLessThan:       "<",
	store.OpLessOrEqual:    "<=",
	store.OpGreaterThan:    ">",
	store.OpGreaterOrEqual: ">=",
}

// buildQuery renders a collection query. Field names and values are always
// bound as parameters; only whitelisted operators reach the SQL text.
func buildQuery(collection string, filters []store.Filter) (string, []any, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT path, data FROM documents WHERE collection = $1`)
	args := []any{collection}

	for _, f := range filters {
		op, ok := sqlOperators[f.Op]
		if !ok || !f.Valid() {
			return "", nil, fmt.Errorf("%w: unsupported filter %q %s", store.ErrInvalidArgument, f.Field, f.Op)
		}

		value, err := json.Marshal(f.Value)
		if err != nil {
			return "", nil, fmt.Errorf("%w: %v", store.ErrInvalidArgument, err)
		}

		fieldArg := len(args) + 1
		valueArg := fieldArg + 1
		sb.WriteString(` AND data -> $` + strconv.Itoa(fieldArg) + `::text ` + op + ` $` + strconv.Itoa(valueArg) + `::jsonb`)
		args = append(args, f.Field, string(value))
	}

	sb.WriteString(` ORDER BY path`)
	return sb.String(), args, nil
}

func encodeData(data map[string]any) (string, error) {
	if data == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("%w: %v", store.ErrInvalidArgument, err)
	}
	return string(raw), nil
}

func decodeRow(path string, raw []byte) (*store.Document, error) {
	data := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, fmt.Errorf("failed to decode document %s: %w", path, err)
		}
	}

	_, id := store.Split(path)
	return &store.Document{Path: path, ID: id, Data: data}, nil
}
