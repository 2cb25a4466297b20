// Package execution turns approved signals into orders, submits them (or
// simulates them in dry-run) and guarantees at most one order per
// settlement event.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/alejandrodnm/settlebot/internal/application/engine"
	"github.com/alejandrodnm/settlebot/internal/domain"
	"github.com/alejandrodnm/settlebot/internal/ports"
)

// Config controls order sizing and submission retries.
type Config struct {
	DryRun         bool
	OrderSizeUSDC  decimal.Decimal
	MinOrderShares decimal.Decimal
	MaxAttempts    int
	RetryBase      time.Duration
	RetryMax       time.Duration
	CallTimeout    time.Duration
}

// DefaultConfig returns conservative defaults; DryRun is on.
func DefaultConfig() Config {
	return Config{
		DryRun:         true,
		OrderSizeUSDC:  decimal.NewFromInt(10),
		MinOrderShares: decimal.NewFromInt(5),
		MaxAttempts:    3,
		RetryBase:      500 * time.Millisecond,
		RetryMax:       5 * time.Second,
		CallTimeout:    10 * time.Second,
	}
}

// Engine serializes work per idempotency key: a second Execute for a key
// already in flight waits for and shares the first one's result.
type Engine struct {
	cfg      Config
	executor ports.OrderExecutor
	journal  ports.ExecutionJournal
	now      func() time.Time
	group    singleflight.Group

	// jitter overrides the retry backoff jitter; tests set it to identity.
	jitter func(time.Duration) time.Duration
}

// New creates an Engine. executor may be nil in dry-run.
func New(cfg Config, executor ports.OrderExecutor, journal ports.ExecutionJournal, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &Engine{cfg: cfg, executor: executor, journal: journal, now: now}
}

// DryRun reports whether orders are simulated.
func (e *Engine) DryRun() bool {
	return e.cfg.DryRun
}

// BuildOrder sizes and validates the order for sig. The price is the entry
// price rounded to the market tick; it is never clamped into bounds.
func (e *Engine) BuildOrder(sig domain.Signal) (domain.OrderRequest, error) {
	key := sig.Source.IdempotencyKey()
	tick := sig.Market.Tick()
	price := sig.EntryPrice.Div(tick).Round(0).Mul(tick)

	lo, hi := sig.Market.PriceBounds()
	if price.LessThan(lo) || price.GreaterThan(hi) {
		return domain.OrderRequest{}, fmt.Errorf("execution.BuildOrder %s: %w: price %s outside [%s, %s]",
			sig.Source.ID(), domain.ErrOrderValidation, price, lo, hi)
	}
	if sig.TokenID == "" {
		return domain.OrderRequest{}, fmt.Errorf("execution.BuildOrder %s: %w: empty token id",
			sig.Source.ID(), domain.ErrOrderValidation)
	}

	size := e.cfg.OrderSizeUSDC.Div(price).Truncate(2)
	if size.LessThan(e.cfg.MinOrderShares) || !size.IsPositive() {
		return domain.OrderRequest{}, fmt.Errorf("execution.BuildOrder %s: %w: size %s below minimum %s",
			sig.Source.ID(), domain.ErrOrderValidation, size, e.cfg.MinOrderShares)
	}

	return domain.OrderRequest{
		TokenID:        sig.TokenID,
		ConditionID:    sig.Market.ConditionID,
		Side:           domain.SideBuy,
		Price:          price,
		Size:           size,
		OrderType:      domain.OrderTypeGTC,
		NegRisk:        sig.Market.NegRisk,
		IdempotencyKey: key,
	}, nil
}

// Execute handles one risk decision. A rejected decision returns REJECTED
// with no side effect. Errors wrap domain.ErrOrderValidation,
// domain.ErrSubmissionFailed or domain.ErrTransient; the returned result is
// always populated.
func (e *Engine) Execute(ctx context.Context, sig domain.Signal, decision domain.RiskDecision) (domain.ExecutionResult, error) {
	eventID := sig.Source.ID()
	if !decision.Approved {
		return domain.ExecutionResult{
			EventID:     eventID,
			Status:      domain.StatusRejected,
			Error:       decision.Reason,
			CompletedAt: e.now().UTC(),
		}, nil
	}

	order, err := e.BuildOrder(sig)
	if err != nil {
		return domain.ExecutionResult{
			EventID:     eventID,
			Order:       order,
			Status:      domain.StatusFailed,
			Error:       err.Error(),
			CompletedAt: e.now().UTC(),
		}, err
	}

	type outcome struct {
		res domain.ExecutionResult
		err error
	}
	v, _, _ := e.group.Do(order.IdempotencyKey, func() (any, error) {
		res, err := e.execute(ctx, eventID, order)
		return outcome{res: res, err: err}, nil
	})
	out := v.(outcome)
	return out.res, out.err
}

func (e *Engine) execute(ctx context.Context, eventID string, order domain.OrderRequest) (domain.ExecutionResult, error) {
	prev, found, err := e.journal.LookupExecution(ctx, order.IdempotencyKey)
	if err != nil {
		return e.failed(eventID, order, 0, err), fmt.Errorf("execution.Execute %s: journal lookup: %w: %w", eventID, domain.ErrTransient, err)
	}
	if found {
		return e.replay(eventID, prev)
	}

	if e.cfg.DryRun {
		res := domain.ExecutionResult{
			EventID:     eventID,
			Order:       order,
			Status:      domain.StatusSimulated,
			CompletedAt: e.now().UTC(),
		}
		if err := e.journal.CompleteExecution(ctx, res); err != nil {
			slog.Warn("execution: journal write failed for simulated order", "event", eventID, "err", err)
		}
		return res, nil
	}

	if e.executor == nil {
		return e.failed(eventID, order, 0, errors.New("no order executor configured")),
			fmt.Errorf("execution.Execute %s: %w: no order executor configured", eventID, domain.ErrSubmissionFailed)
	}

	pending := domain.ExecutionResult{EventID: eventID, Order: order, Status: domain.StatusPending, CompletedAt: e.now().UTC()}
	if err := e.journal.BeginExecution(ctx, pending); err != nil {
		return e.failed(eventID, order, 0, err), fmt.Errorf("execution.Execute %s: journal begin: %w: %w", eventID, domain.ErrTransient, err)
	}

	res, err := e.submit(ctx, eventID, order)
	if ctx.Err() != nil && res.Status != domain.StatusSubmitted {
		// outcome unknown: leave the PENDING entry for reconciliation
		return res, err
	}
	if jerr := e.journal.CompleteExecution(ctx, res); jerr != nil {
		slog.Error("execution: journal complete failed, entry stays pending",
			"event", eventID,
			"key", order.IdempotencyKey,
			"status", res.Status,
			"err", jerr,
		)
	}
	return res, err
}

// submit places the order, retrying transient failures with backoff.
func (e *Engine) submit(ctx context.Context, eventID string, order domain.OrderRequest) (domain.ExecutionResult, error) {
	backoff := engine.NewBackoff(e.cfg.RetryBase, e.cfg.RetryMax)
	if e.jitter != nil {
		backoff.WithJitter(e.jitter)
	}

	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		placed, err := e.place(ctx, order)
		if err == nil {
			return domain.ExecutionResult{
				EventID:         eventID,
				Order:           order,
				Status:          domain.StatusSubmitted,
				ExchangeOrderID: placed.ExchangeOrderID,
				Attempts:        attempt,
				CompletedAt:     e.now().UTC(),
			}, nil
		}
		lastErr = err

		if errors.Is(err, domain.ErrOrderValidation) {
			return e.failed(eventID, order, attempt, err),
				fmt.Errorf("execution.Execute %s: %w", eventID, err)
		}

		slog.Warn("execution: submission attempt failed",
			"event", eventID,
			"attempt", attempt,
			"max_attempts", e.cfg.MaxAttempts,
			"err", err,
		)
		if attempt == e.cfg.MaxAttempts {
			break
		}
		if err := engine.Sleep(ctx, backoff.Next()); err != nil {
			return e.failed(eventID, order, attempt, err),
				fmt.Errorf("execution.Execute %s: retry wait: %w", eventID, err)
		}
	}

	// lastErr is flattened: exhausted retries are final, not transient
	return e.failed(eventID, order, e.cfg.MaxAttempts, lastErr),
		fmt.Errorf("execution.Execute %s: %w after %d attempts: %v", eventID, domain.ErrSubmissionFailed, e.cfg.MaxAttempts, lastErr)
}

func (e *Engine) place(ctx context.Context, order domain.OrderRequest) (domain.PlacedOrder, error) {
	if e.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.CallTimeout)
		defer cancel()
	}
	return e.executor.PlaceOrder(ctx, order)
}

// replay returns the journaled outcome instead of submitting again. An entry
// still PENDING means a previous run died mid-submission: the order may or
// may not exist, so it is reported FAILED and left for the operator.
func (e *Engine) replay(eventID string, prev domain.ExecutionResult) (domain.ExecutionResult, error) {
	if prev.Status == domain.StatusPending {
		slog.Warn("execution: unfinished submission from a previous run, not resubmitting",
			"event", eventID,
			"key", prev.Order.IdempotencyKey,
		)
		res := prev
		res.Status = domain.StatusFailed
		res.Error = "submission outcome unknown; reconcile manually"
		return res, fmt.Errorf("execution.Execute %s: %w: pending entry from a previous run", eventID, domain.ErrSubmissionFailed)
	}

	slog.Info("execution: already handled, returning recorded result",
		"event", eventID,
		"status", prev.Status,
		"order_id", prev.ExchangeOrderID,
	)
	return prev, nil
}

func (e *Engine) failed(eventID string, order domain.OrderRequest, attempts int, err error) domain.ExecutionResult {
	res := domain.ExecutionResult{
		EventID:     eventID,
		Order:       order,
		Status:      domain.StatusFailed,
		Attempts:    attempts,
		CompletedAt: e.now().UTC(),
	}
	if err != nil {
		res.Error = err.Error()
	}
	return res
}
