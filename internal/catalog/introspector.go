// Package catalog wraps connector snapshots with timeouts and retry, so a
// transient connection hiccup does not fail an entire scan cycle.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/healdb/heal/internal/connector"
	"github.com/healdb/heal/internal/model"
)

// ErrIntrospection wraps catalog read failures after retries are exhausted.
var ErrIntrospection = errors.New("catalog introspection failed")

const (
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 2
)

// Introspector reads catalog snapshots from a connected target.
type Introspector struct {
	conn       connector.Connector
	logger     *slog.Logger
	timeout    time.Duration
	maxRetries uint64
}

// Option configures an Introspector.
type Option func(*Introspector)

// WithTimeout overrides the per-attempt snapshot timeout.
func WithTimeout(d time.Duration) Option {
	return func(i *Introspector) {
		if d > 0 {
			i.timeout = d
		}
	}
}

// WithMaxRetries overrides how many times a failed snapshot is retried.
func WithMaxRetries(n uint64) Option {
	return func(i *Introspector) { i.maxRetries = n }
}

// NewIntrospector creates an Introspector over the given connector.
func NewIntrospector(conn connector.Connector, logger *slog.Logger, opts ...Option) *Introspector {
	i := &Introspector{
		conn:       conn,
		logger:     logger,
		timeout:    defaultTimeout,
		maxRetries: defaultMaxRetries,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Snapshot reads the live catalog, retrying transient failures with
// exponential backoff. The returned snapshot is a point-in-time view; callers
// must not assume it stays current.
func (i *Introspector) Snapshot(ctx context.Context) (*model.CatalogSnapshot, error) {
	var snap *model.CatalogSnapshot

	operation := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, i.timeout)
		defer cancel()

		s, err := i.conn.Snapshot(attemptCtx)
		if err != nil {
			// Cancellation of the parent context is permanent.
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			i.logger.Warn("catalog snapshot attempt failed", "engine", i.conn.DriverName(), "error", err)
			return err
		}
		snap = s
		return nil
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), i.maxRetries)
	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrIntrospection, err)
	}

	i.logger.Debug("catalog snapshot taken",
		"engine", snap.Engine,
		"tables", len(snap.Tables))
	return snap, nil
}
