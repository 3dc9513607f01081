package tenancy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/tenancy/internal/store"
	"github.com/wolfeidau/tenancy/internal/telemetry"
)

// ConsistencyConfig bounds the read-after-write wait used after creating a tenant.
type ConsistencyConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsed      time.Duration
}

// ApplyDefaults fills unset fields.
func (c *ConsistencyConfig) ApplyDefaults() {
	if c.InitialInterval <= 0 {
		c.InitialInterval = 50 * time.Millisecond
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = time.Second
	}
	if c.MaxElapsed <= 0 {
		c.MaxElapsed = 5 * time.Second
	}
}

// awaitVisible reads path until it exists, retrying not-found and transient
// failures with exponential backoff. Other errors stop immediately.
func awaitVisible(ctx context.Context, client store.Client, path string, cfg ConsistencyConfig) (*store.Document, error) {
	cfg.ApplyDefaults()

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = cfg.InitialInterval
	expo.MaxInterval = cfg.MaxInterval

	attempts := 0
	doc, err := backoff.Retry(ctx, func() (*store.Document, error) {
		attempts++
		doc, err := client.Get(ctx, path)
		switch {
		case err == nil:
			return doc, nil
		case store.IsNotFound(err), isTransient(err):
			if attempts > 1 {
				telemetry.GetMetrics().ConsistencyRetriesTotal.Add(ctx, 1)
			}
			return nil, err
		default:
			return nil, backoff.Permanent(err)
		}
	}, backoff.WithBackOff(expo), backoff.WithMaxElapsedTime(cfg.MaxElapsed))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if store.IsNotFound(err) || isTransient(err) {
			log.Warn().Err(err).Str("path", path).Int("attempts", attempts).Msg("Write did not become visible in time")
			return nil, fmt.Errorf("%w: %s: %w", ErrEventualConsistencyTimeout, path, err)
		}
		return nil, storeError("confirm write", err)
	}

	return doc, nil
}

func isTransient(err error) bool {
	return err != nil && (errors.Is(err, store.ErrUnavailable) || errors.Is(err, ErrTransientStore))
}
