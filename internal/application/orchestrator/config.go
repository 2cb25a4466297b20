package orchestrator

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/settlebot/internal/application/cursor"
	"github.com/alejandrodnm/settlebot/internal/application/execution"
	"github.com/alejandrodnm/settlebot/internal/application/risk"
	"github.com/alejandrodnm/settlebot/internal/application/signal"
	"github.com/alejandrodnm/settlebot/internal/domain"
)

// Config groups the settings of every pipeline component.
type Config struct {
	PollInterval time.Duration
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	// Workers > 1 resolves markets and fetches books for a batch concurrently.
	Workers     int
	CallTimeout time.Duration

	Cursor    cursor.Config
	Signal    signal.Config
	Risk      risk.Config
	Execution execution.Config
}

// DefaultConfig returns a dry-run configuration with the reference policy.
func DefaultConfig() Config {
	return Config{
		PollInterval: 15 * time.Second,
		BackoffBase:  time.Second,
		BackoffMax:   time.Minute,
		Workers:      4,
		CallTimeout:  10 * time.Second,
		Cursor:       cursor.DefaultConfig(),
		Signal:       signal.DefaultConfig(),
		Risk:         risk.DefaultConfig(),
		Execution:    execution.DefaultConfig(),
	}
}

var one = decimal.NewFromInt(1)

// Validate returns an error wrapping domain.ErrFatalConfig for any setting
// the pipeline cannot run with.
func (c Config) Validate() error {
	var problems []string
	check := func(ok bool, msg string) {
		if !ok {
			problems = append(problems, msg)
		}
	}

	check(c.PollInterval > 0, "poll interval must be > 0")
	check(c.BackoffBase > 0 && c.BackoffMax >= c.BackoffBase, "backoff base must be > 0 and <= max")
	check(c.Cursor.MaxBlockRange > 0, "max block range must be > 0")
	check(c.Signal.MinEdge.IsPositive() && c.Signal.MinEdge.LessThan(one), "min edge must be in (0,1)")
	check(!c.Signal.NegRiskTolerance.IsNegative(), "neg-risk tolerance must be >= 0")
	check(c.Signal.StalenessBound > 0, "staleness bound must be > 0")
	check(!c.Risk.ConfidenceThreshold.IsNegative() && !c.Risk.ConfidenceThreshold.GreaterThan(one), "confidence threshold must be in [0,1]")
	check(c.Risk.MarketExposureCap.IsPositive(), "market exposure cap must be > 0")
	check(c.Risk.AggregateExposureCap.IsPositive(), "aggregate exposure cap must be > 0")
	check(c.Risk.Cooldown >= 0, "cooldown must be >= 0")
	check(c.Execution.OrderSizeUSDC.IsPositive(), "order size must be > 0")
	check(c.Execution.MaxAttempts > 0, "max attempts must be > 0")

	if len(problems) > 0 {
		return fmt.Errorf("orchestrator.Config: %w: %v", domain.ErrFatalConfig, problems)
	}
	return nil
}
