package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cenkalti/backoff/v5"
	"github.com/zero-day-ai/falkordb-go"
)

// Discoverer lists registered endpoints. Client implements it.
type Discoverer interface {
	Discover(ctx context.Context) ([]Endpoint, error)
}

// Resolver turns registered endpoints into cluster startup nodes. It
// implements falkordb.StartupNodeResolver.
type Resolver struct {
	discoverer Discoverer
	retry      *falkordb.Retry
	logger     *slog.Logger
}

var _ falkordb.StartupNodeResolver = (*Resolver)(nil)

// NewResolver creates a resolver over d. A nil retry uses
// falkordb.DefaultRetry(); a nil logger uses slog.Default().
func NewResolver(d Discoverer, retry *falkordb.Retry, logger *slog.Logger) *Resolver {
	if retry == nil {
		retry = falkordb.DefaultRetry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{discoverer: d, retry: retry, logger: logger}
}

// StartupNodes returns the addresses of all registered endpoints. An empty
// registry or a failed lookup is retried under the resolver's retry policy,
// so nodes that are still starting get a chance to register.
func (r *Resolver) StartupNodes(ctx context.Context) ([]falkordb.Address, error) {
	attempt := 0
	operation := func() ([]falkordb.Address, error) {
		attempt++

		endpoints, err := r.discoverer.Discover(ctx)
		if errors.Is(err, ErrClosed) {
			return nil, backoff.Permanent(err)
		}
		if err != nil {
			r.logger.DebugContext(ctx, "startup node lookup failed", "attempt", attempt, "error", err)
			return nil, err
		}
		if len(endpoints) == 0 {
			r.logger.DebugContext(ctx, "no endpoints registered yet", "attempt", attempt)
			return nil, falkordb.ErrNoStartupNodes
		}

		nodes := make([]falkordb.Address, 0, len(endpoints))
		for _, ep := range endpoints {
			addr, err := falkordb.ParseAddress(ep.Address)
			if err != nil {
				r.logger.WarnContext(ctx, "skipping endpoint with invalid address",
					"instance_id", ep.InstanceID, "address", ep.Address, "error", err)
				continue
			}
			nodes = append(nodes, addr)
		}
		if len(nodes) == 0 {
			return nil, backoff.Permanent(fmt.Errorf("%w: no registered endpoint has a valid address", falkordb.ErrNoStartupNodes))
		}
		return nodes, nil
	}

	nodes, err := backoff.Retry(ctx, operation, backoff.WithBackOff(r.retry.BackOff()))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve startup nodes after %d attempt(s): %w", attempt, err)
	}
	return nodes, nil
}
