package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/wolfeidau/tenancy/internal/store"
)

// mapPostgresError maps PostgreSQL errors onto the store sentinels so the
// tenancy core can tell "absent" and "forbidden" apart from "try again later".
func mapPostgresError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %w", store.ErrNotFound, err)
	}

	// Cancellation belongs to the caller, pass it through untouched.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		if pgconn.SafeToRetry(err) {
			return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
		}
		return err
	}

	switch pgErr.Code {
	case pgerrcode.UniqueViolation:
		return fmt.Errorf("%w: %s: %w", store.ErrAlreadyExists, pgErr.ConstraintName, err)

	case pgerrcode.InsufficientPrivilege:
		return fmt.Errorf("%w: %w", store.ErrPermissionDenied, err)

	case pgerrcode.InvalidTextRepresentation,
		pgerrcode.InvalidParameterValue,
		pgerrcode.UndefinedFunction:
		return fmt.Errorf("%w: %w", store.ErrInvalidArgument, err)

	case pgerrcode.SerializationFailure,
		pgerrcode.DeadlockDetected,
		pgerrcode.ConnectionException,
		pgerrcode.ConnectionDoesNotExist,
		pgerrcode.ConnectionFailure,
		pgerrcode.CannotConnectNow,
		pgerrcode.SQLClientUnableToEstablishSQLConnection,
		pgerrcode.AdminShutdown,
		pgerrcode.CrashShutdown,
		pgerrcode.QueryCanceled,
		pgerrcode.InsufficientResources,
		pgerrcode.DiskFull,
		pgerrcode.OutOfMemory,
		pgerrcode.TooManyConnections:
		return fmt.Errorf("%w: postgres [%s]: %w", store.ErrUnavailable, pgErr.Code, err)

	default:
		return fmt.Errorf("postgres error [%s]: %s (detail: %s, hint: %s): %w",
			pgErr.Code, pgErr.Message, pgErr.Detail, pgErr.Hint, err)
	}
}
