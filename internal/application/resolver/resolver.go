// Package resolver maps settlement identifiers to tradable markets with a
// cache that lives for a single cycle.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/settlebot/internal/domain"
	"github.com/alejandrodnm/settlebot/internal/ports"
)

type cached struct {
	market domain.Market
	err    error
}

// Resolver is safe for concurrent use.
type Resolver struct {
	catalog ports.MarketCatalog
	timeout time.Duration

	mu    sync.Mutex
	cache map[domain.MarketRef]cached
}

// New creates a Resolver. timeout bounds every catalog call; zero disables it.
func New(catalog ports.MarketCatalog, timeout time.Duration) *Resolver {
	return &Resolver{
		catalog: catalog,
		timeout: timeout,
		cache:   make(map[domain.MarketRef]cached),
	}
}

// BeginCycle drops everything cached during the previous cycle.
func (r *Resolver) BeginCycle() {
	r.mu.Lock()
	r.cache = make(map[domain.MarketRef]cached)
	r.mu.Unlock()
}

// Resolve returns the market for ref. Hits and NotFound answers are cached
// until the next BeginCycle; transient failures are not.
func (r *Resolver) Resolve(ctx context.Context, ref domain.MarketRef) (domain.Market, error) {
	r.mu.Lock()
	c, ok := r.cache[ref]
	r.mu.Unlock()
	if ok {
		return c.market, c.err
	}

	m, err := r.lookup(ctx, ref)
	if err == nil {
		err = validate(ref, m)
	}

	switch {
	case err == nil:
		slog.Debug("resolver: market resolved",
			"ref", ref.String(),
			"condition", m.ConditionID,
			"neg_risk", m.NegRisk,
			"tick", m.Tick().String(),
		)
	case errors.Is(err, domain.ErrNotFound):
		slog.Debug("resolver: market not found", "ref", ref.String())
	default:
		return domain.Market{}, fmt.Errorf("resolver.Resolve %s: %w", ref, err)
	}

	r.mu.Lock()
	r.cache[ref] = cached{market: m, err: err}
	r.mu.Unlock()
	return m, err
}

func (r *Resolver) lookup(ctx context.Context, ref domain.MarketRef) (domain.Market, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	m, err := r.catalog.LookupMarket(ctx, ref)
	if err != nil && !errors.Is(err, domain.ErrNotFound) && !domain.IsTransient(err) && ctx.Err() != nil {
		// the per-call deadline fired inside the catalog
		err = fmt.Errorf("%w: %w", domain.ErrTransient, err)
	}
	return m, err
}

// validate rejects catalog entries the pipeline cannot trade.
func validate(ref domain.MarketRef, m domain.Market) error {
	if m.ConditionID == "" || m.YesToken().TokenID == "" || m.NoToken().TokenID == "" {
		return fmt.Errorf("resolver.Resolve %s: %w: market has no token ids", ref, domain.ErrNotFound)
	}
	return nil
}
