package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side of an order on the CLOB.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// OrderTypeGTC is the only order type the pipeline submits.
const OrderTypeGTC = "GTC"

// OrderRequest is a validated order ready for submission.
type OrderRequest struct {
	TokenID        string
	ConditionID    string
	Side           Side
	Price          decimal.Decimal
	Size           decimal.Decimal // shares
	OrderType      string
	NegRisk        bool
	IdempotencyKey string
}

// Notional devuelve price × size en USDC.
func (o OrderRequest) Notional() decimal.Decimal {
	return o.Price.Mul(o.Size)
}

// ExecutionStatus is the terminal (or pending) state of an execution.
type ExecutionStatus string

const (
	StatusSubmitted ExecutionStatus = "SUBMITTED"
	StatusSimulated ExecutionStatus = "SIMULATED"
	StatusRejected  ExecutionStatus = "REJECTED"
	StatusFailed    ExecutionStatus = "FAILED"
	// StatusPending marks a journal entry whose submission began but never
	// completed, e.g. the process died mid-call.
	StatusPending ExecutionStatus = "PENDING"
)

// ExecutionResult is what the execution engine reports for one signal.
type ExecutionResult struct {
	EventID         string
	Order           OrderRequest
	Status          ExecutionStatus
	ExchangeOrderID string
	Error           string
	Attempts        int
	CompletedAt     time.Time
}

// Exposed reports whether the result leaves outstanding notional on the book.
func (r ExecutionResult) Exposed() bool {
	return r.Status == StatusSubmitted || r.Status == StatusSimulated
}

// Attempted reports whether an order actually left the process (counts for cooldown).
func (r ExecutionResult) Attempted() bool {
	return r.Exposed() || (r.Status == StatusFailed && r.Attempts > 0)
}

// PlacedOrder es la respuesta del exchange a una orden aceptada.
type PlacedOrder struct {
	ExchangeOrderID string
	Status          string
}
