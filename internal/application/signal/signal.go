// Package signal derives trade signals from a settlement, its market and a
// book snapshot.
//
// All arithmetic uses shopspring/decimal so that prices read from the feed
// ("0.85", "0.88") compare exactly against configured thresholds.
//
// Policy:
//
//	side        YES if outcome > 0.5, NO if outcome < 0.5, no signal at exactly 0.5
//	v           outcome for YES, 1 - outcome for NO
//	implied p   midpoint of the side's book, best bid if one-sided, best ask if asks only
//	edge        v - p; no signal unless edge >= MinEdge
//	confidence  freshness × depth × edgeFactor, rounded to 4 places
//	  freshness   0 past StalenessBound, else 1 - 0.5·age/bound
//	  depth       min(1, askDepth(DepthLevels) / DepthTarget)
//	  edgeFactor  min(1, edge / EdgeSaturation)
package signal

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/settlebot/internal/domain"
)

// Reasons a Generate call produced no signal.
const (
	ReasonSignal           = "signal"
	ReasonAmbiguousOutcome = "ambiguous_outcome"
	ReasonNoQuotes         = "no_quotes"
	ReasonNegRiskMismatch  = "neg_risk_inconsistent"
	ReasonOverpriced       = "side_overpriced"
	ReasonEdgeBelowMin     = "edge_below_minimum"
	ReasonEntryNotProfit   = "entry_not_profitable"
)

var (
	one  = decimal.NewFromInt(1)
	half = decimal.RequireFromString("0.5")
)

// Config holds the tunable constants of the policy.
type Config struct {
	MinEdge          decimal.Decimal
	StalenessBound   time.Duration
	NegRiskTolerance decimal.Decimal
	DepthTarget      decimal.Decimal // shares
	DepthLevels      int
	EdgeSaturation   decimal.Decimal
}

// DefaultConfig returns the reference policy.
func DefaultConfig() Config {
	return Config{
		MinEdge:          decimal.RequireFromString("0.05"),
		StalenessBound:   30 * time.Second,
		NegRiskTolerance: decimal.RequireFromString("0.02"),
		DepthTarget:      decimal.NewFromInt(100),
		DepthLevels:      5,
		EdgeSaturation:   decimal.RequireFromString("0.10"),
	}
}

// Result carries the signal, or the reason there is none, plus the numbers
// behind the decision so callers can log them.
type Result struct {
	Signal  *domain.Signal
	Reason  string
	Implied decimal.Decimal
	Edge    decimal.Decimal
}

// Generator is stateless apart from its clock.
type Generator struct {
	cfg Config
	now func() time.Time
}

// New creates a Generator. nil now uses time.Now.
func New(cfg Config, now func() time.Time) *Generator {
	if now == nil {
		now = time.Now
	}
	if cfg.DepthTarget.IsZero() {
		cfg.DepthTarget = DefaultConfig().DepthTarget
	}
	if cfg.EdgeSaturation.IsZero() {
		cfg.EdgeSaturation = DefaultConfig().EdgeSaturation
	}
	return &Generator{cfg: cfg, now: now}
}

// Generate applies the policy. Result.Signal is nil when no trade is warranted.
func (g *Generator) Generate(ev domain.SettlementEvent, m domain.Market, snap domain.MarketSnapshot) Result {
	outcome := ev.ResolvedOutcome
	if outcome.Equal(half) {
		return Result{Reason: ReasonAmbiguousOutcome}
	}

	yes := outcome.GreaterThan(half)
	direction, token, target := domain.BuyYes, m.YesToken(), outcome
	if !yes {
		direction, token, target = domain.BuyNo, m.NoToken(), one.Sub(outcome)
	}

	book := snap.Book(yes)
	implied, ok := book.ImpliedPrice()
	if !ok {
		return Result{Reason: ReasonNoQuotes}
	}

	if !g.consistent(m, implied, snap.Book(!yes)) {
		return Result{Reason: ReasonNegRiskMismatch, Implied: implied}
	}

	edge := target.Sub(implied)
	if !edge.IsPositive() {
		return Result{Reason: ReasonOverpriced, Implied: implied, Edge: edge.Abs()}
	}
	if edge.LessThan(g.cfg.MinEdge) {
		return Result{Reason: ReasonEdgeBelowMin, Implied: implied, Edge: edge}
	}

	entry := entryPrice(book, implied, m.Tick())
	if !target.GreaterThan(entry) {
		return Result{Reason: ReasonEntryNotProfit, Implied: implied, Edge: edge}
	}

	sig := &domain.Signal{
		Market:             m,
		Direction:          direction,
		TokenID:            token.TokenID,
		ImpliedProbability: implied,
		EntryPrice:         entry,
		Edge:               edge,
		Confidence:         g.confidence(snap.ObservedAt, book, edge),
		Source:             ev,
	}
	return Result{Signal: sig, Reason: ReasonSignal, Implied: implied, Edge: edge}
}

// consistent checks that YES and NO implied prices of a neg-risk market sum
// to 1 within tolerance; an unquoted complement fails. Plain binary markets
// always pass.
func (g *Generator) consistent(m domain.Market, implied decimal.Decimal, other domain.OrderBook) bool {
	if !m.NegRisk {
		return true
	}
	otherImplied, ok := other.ImpliedPrice()
	if !ok {
		return false
	}
	dev := implied.Add(otherImplied).Sub(one).Abs()
	return !dev.GreaterThan(g.cfg.NegRiskTolerance)
}

func (g *Generator) confidence(observedAt time.Time, book domain.OrderBook, edge decimal.Decimal) decimal.Decimal {
	fresh := g.freshness(observedAt)
	if fresh.IsZero() {
		return decimal.Zero
	}

	depth := book.AskDepth(g.cfg.DepthLevels)
	if len(book.Asks) == 0 {
		depth = book.BidDepth(g.cfg.DepthLevels)
	}
	depthFactor := decimal.Min(one, depth.Div(g.cfg.DepthTarget))
	edgeFactor := decimal.Min(one, edge.Div(g.cfg.EdgeSaturation))

	c := fresh.Mul(depthFactor).Mul(edgeFactor).Round(4)
	return decimal.Max(decimal.Zero, decimal.Min(one, c))
}

func (g *Generator) freshness(observedAt time.Time) decimal.Decimal {
	bound := g.cfg.StalenessBound
	if bound <= 0 {
		return one
	}
	age := g.now().Sub(observedAt)
	if age < 0 {
		age = 0
	}
	if age > bound {
		return decimal.Zero
	}
	ratio := decimal.NewFromInt(int64(age)).Div(decimal.NewFromInt(int64(bound)))
	return one.Sub(half.Mul(ratio))
}

// entryPrice is the best ask of the token bought; with no asks it is the
// implied price rounded up to the market tick.
func entryPrice(book domain.OrderBook, implied, tick decimal.Decimal) decimal.Decimal {
	if ask, ok := book.BestAsk(); ok {
		return ask
	}
	return CeilToTick(implied, tick)
}

// CeilToTick rounds p up to a multiple of tick.
func CeilToTick(p, tick decimal.Decimal) decimal.Decimal {
	if !tick.IsPositive() {
		return p
	}
	return p.Div(tick).Ceil().Mul(tick)
}
