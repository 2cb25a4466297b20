package domain

import "github.com/shopspring/decimal"

// Direction is the side of the market a signal buys.
type Direction string

const (
	BuyYes Direction = "BUY_YES"
	BuyNo  Direction = "BUY_NO"
)

// Signal is a directional trade idea derived from one settlement.
// It lives for a single cycle and is never persisted.
type Signal struct {
	Market             Market
	Direction          Direction
	TokenID            string
	ImpliedProbability decimal.Decimal
	EntryPrice         decimal.Decimal
	Edge               decimal.Decimal
	Confidence         decimal.Decimal // in [0, 1]
	Source             SettlementEvent
}

// Risk gate reason codes.
const (
	ReasonApproved             = "approved"
	ReasonConfidenceLow        = "confidence_below_threshold"
	ReasonCooldown             = "cooldown_active"
	ReasonMarketExposureCap    = "market_exposure_cap"
	ReasonAggregateExposureCap = "aggregate_exposure_cap"
)

// RiskDecision is the outcome of the risk gate for one signal.
type RiskDecision struct {
	Signal   Signal
	Approved bool
	Reason   string
}
