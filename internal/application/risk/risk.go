// Package risk gates signals on confidence, per-market cooldown and
// exposure caps.
package risk

import (
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/settlebot/internal/domain"
)

// Config holds the gate thresholds.
type Config struct {
	// ConfidenceThreshold: confidence >= threshold is approved.
	ConfidenceThreshold decimal.Decimal
	Cooldown            time.Duration
	// OrderNotional is the USDC a new order would add to exposure.
	OrderNotional        decimal.Decimal
	MarketExposureCap    decimal.Decimal
	AggregateExposureCap decimal.Decimal
	// ExposureTTL is how long a submitted order counts as outstanding.
	ExposureTTL time.Duration
}

// DefaultConfig returns the reference thresholds.
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold:  decimal.RequireFromString("0.60"),
		Cooldown:             10 * time.Minute,
		OrderNotional:        decimal.NewFromInt(10),
		MarketExposureCap:    decimal.NewFromInt(50),
		AggregateExposureCap: decimal.NewFromInt(200),
		ExposureTTL:          24 * time.Hour,
	}
}

type position struct {
	conditionID string
	notional    decimal.Decimal
	at          time.Time
}

// Gate keeps all cooldown and exposure state behind one mutex, so checks
// and updates for any market and for the aggregate are serialized.
type Gate struct {
	cfg Config
	now func() time.Time

	mu          sync.Mutex
	lastAttempt map[string]time.Time
	positions   []position
}

// New creates a Gate. nil now uses time.Now.
func New(cfg Config, now func() time.Time) *Gate {
	if now == nil {
		now = time.Now
	}
	return &Gate{
		cfg:         cfg,
		now:         now,
		lastAttempt: make(map[string]time.Time),
	}
}

// Evaluate decides on sig. Every rejection carries a reason code.
func (g *Gate) Evaluate(sig domain.Signal) domain.RiskDecision {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.expire(now)

	market := sig.Market.ConditionID
	decision := domain.RiskDecision{Signal: sig}

	switch {
	case sig.Confidence.LessThan(g.cfg.ConfidenceThreshold):
		decision.Reason = domain.ReasonConfidenceLow
	case g.coolingDown(market, now):
		decision.Reason = domain.ReasonCooldown
	case g.marketExposure(market).Add(g.cfg.OrderNotional).GreaterThan(g.cfg.MarketExposureCap):
		decision.Reason = domain.ReasonMarketExposureCap
	case g.totalExposure().Add(g.cfg.OrderNotional).GreaterThan(g.cfg.AggregateExposureCap):
		decision.Reason = domain.ReasonAggregateExposureCap
	default:
		decision.Approved = true
		decision.Reason = domain.ReasonApproved
	}
	return decision
}

// Record updates cooldown and exposure with an execution outcome. Any
// attempted order starts the cooldown; only orders that may rest on the
// book (submitted or simulated) add exposure.
func (g *Gate) Record(market string, res domain.ExecutionResult) {
	if !res.Attempted() {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.lastAttempt[market] = now
	if res.Exposed() {
		g.positions = append(g.positions, position{
			conditionID: market,
			notional:    res.Order.Notional(),
			at:          now,
		})
	}

	slog.Debug("risk: execution recorded",
		"market", market,
		"status", res.Status,
		"market_exposure", g.marketExposure(market).StringFixed(2),
		"total_exposure", g.totalExposure().StringFixed(2),
	)
}

// Exposure returns the outstanding notional for market and in aggregate.
func (g *Gate) Exposure(market string) (decimal.Decimal, decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.expire(g.now())
	return g.marketExposure(market), g.totalExposure()
}

func (g *Gate) coolingDown(market string, now time.Time) bool {
	last, ok := g.lastAttempt[market]
	return ok && now.Sub(last) < g.cfg.Cooldown
}

func (g *Gate) marketExposure(market string) decimal.Decimal {
	total := decimal.Zero
	for _, p := range g.positions {
		if p.conditionID == market {
			total = total.Add(p.notional)
		}
	}
	return total
}

func (g *Gate) totalExposure() decimal.Decimal {
	total := decimal.Zero
	for _, p := range g.positions {
		total = total.Add(p.notional)
	}
	return total
}

// expire drops positions older than ExposureTTL. Must hold mu.
func (g *Gate) expire(now time.Time) {
	if g.cfg.ExposureTTL <= 0 {
		return
	}
	kept := g.positions[:0]
	for _, p := range g.positions {
		if now.Sub(p.at) < g.cfg.ExposureTTL {
			kept = append(kept, p)
		}
	}
	g.positions = kept

	for market, at := range g.lastAttempt {
		if now.Sub(at) >= g.cfg.Cooldown && now.Sub(at) >= g.cfg.ExposureTTL {
			delete(g.lastAttempt, market)
		}
	}
}
