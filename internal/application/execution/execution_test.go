package execution_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/settlebot/internal/application/execution"
	"github.com/alejandrodnm/settlebot/internal/domain"
)

const txHash = "0x8f3e3b1c9a2d4e5f60718293a4b5c6d7e8f90a1b2c3d4e5f60718293a4b5c6d7"

// --- Mocks ---

type mockExecutor struct {
	calls   atomic.Int32
	errs    []error // consumed in order; nil entries succeed
	started chan struct{}
	release chan struct{}
}

func (m *mockExecutor) PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.PlacedOrder, error) {
	n := int(m.calls.Add(1))
	if m.started != nil {
		m.started <- struct{}{}
	}
	if m.release != nil {
		<-m.release
	}
	if n <= len(m.errs) && m.errs[n-1] != nil {
		return domain.PlacedOrder{}, m.errs[n-1]
	}
	return domain.PlacedOrder{ExchangeOrderID: "0xorder-" + req.IdempotencyKey[:8], Status: "live"}, nil
}

type memJournal struct {
	mu      sync.Mutex
	entries map[string]domain.ExecutionResult
}

func newJournal() *memJournal {
	return &memJournal{entries: make(map[string]domain.ExecutionResult)}
}

func (j *memJournal) LookupExecution(_ context.Context, key string) (domain.ExecutionResult, bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	r, ok := j.entries[key]
	return r, ok, nil
}

func (j *memJournal) BeginExecution(_ context.Context, r domain.ExecutionResult) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, ok := j.entries[r.Order.IdempotencyKey]; ok {
		return fmt.Errorf("duplicate key %s", r.Order.IdempotencyKey)
	}
	j.entries[r.Order.IdempotencyKey] = r
	return nil
}

func (j *memJournal) CompleteExecution(_ context.Context, r domain.ExecutionResult) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries[r.Order.IdempotencyKey] = r
	return nil
}

func (j *memJournal) ListExecutions(_ context.Context, _ ...domain.ExecutionStatus) ([]domain.ExecutionResult, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []domain.ExecutionResult
	for _, r := range j.entries {
		out = append(out, r)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].EventID < out[b].EventID })
	return out, nil
}

// --- Helpers ---

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testSignal(entry string) domain.Signal {
	return domain.Signal{
		Market: domain.Market{
			ConditionID: "0xcond",
			Tokens:      [2]domain.Token{{TokenID: "yes-token", Outcome: "Yes"}, {TokenID: "no-token", Outcome: "No"}},
			TickSize:    d("0.01"),
		},
		Direction:  domain.BuyYes,
		TokenID:    "yes-token",
		EntryPrice: d(entry),
		Edge:       d("0.135"),
		Confidence: d("1"),
		Source:     domain.SettlementEvent{TxHash: txHash, LogIndex: 2, BlockNumber: 10},
	}
}

func approved(sig domain.Signal) domain.RiskDecision {
	return domain.RiskDecision{Signal: sig, Approved: true, Reason: domain.ReasonApproved}
}

func liveConfig() execution.Config {
	cfg := execution.DefaultConfig()
	cfg.DryRun = false
	cfg.RetryBase = time.Millisecond
	cfg.RetryMax = 2 * time.Millisecond
	return cfg
}

func newEngine(cfg execution.Config, ex *mockExecutor, j *memJournal) *execution.Engine {
	e := execution.New(cfg, ex, j, nil)
	e.SetJitter(func(d time.Duration) time.Duration { return d })
	return e
}

// --- Tests ---

func TestExecute_DryRunNeverCallsExecutor(t *testing.T) {
	ex := &mockExecutor{}
	j := newJournal()
	e := newEngine(execution.DefaultConfig(), ex, j)
	sig := testSignal("0.88")

	res, err := e.Execute(context.Background(), sig, approved(sig))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSimulated, res.Status)
	assert.Equal(t, int32(0), ex.calls.Load())

	assert.Equal(t, "yes-token", res.Order.TokenID)
	assert.Equal(t, domain.SideBuy, res.Order.Side)
	assert.True(t, d("0.88").Equal(res.Order.Price))
	assert.True(t, d("11.36").Equal(res.Order.Size), "10 USDC / 0.88 truncated to 2dp, got %s", res.Order.Size)
	assert.Equal(t, domain.IdempotencyKey(txHash, 2), res.Order.IdempotencyKey)

	_, found, _ := j.LookupExecution(context.Background(), res.Order.IdempotencyKey)
	assert.True(t, found)
}

func TestExecute_RejectedHasNoSideEffect(t *testing.T) {
	ex := &mockExecutor{}
	j := newJournal()
	e := newEngine(liveConfig(), ex, j)
	sig := testSignal("0.88")

	res, err := e.Execute(context.Background(), sig, domain.RiskDecision{Signal: sig, Reason: domain.ReasonCooldown})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, res.Status)
	assert.Equal(t, domain.ReasonCooldown, res.Error)
	assert.Equal(t, int32(0), ex.calls.Load())
	assert.Empty(t, j.entries)
}

func TestExecute_PriceOutOfBoundsFailsHard(t *testing.T) {
	for _, entry := range []string{"0.995", "1.2", "0.004"} {
		t.Run(entry, func(t *testing.T) {
			ex := &mockExecutor{}
			e := newEngine(liveConfig(), ex, newJournal())
			sig := testSignal(entry)

			res, err := e.Execute(context.Background(), sig, approved(sig))
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrOrderValidation)
			assert.Equal(t, domain.StatusFailed, res.Status)
			assert.Equal(t, int32(0), ex.calls.Load())
		})
	}
}

func TestBuildOrder_PriceWithinBounds(t *testing.T) {
	e := newEngine(liveConfig(), &mockExecutor{}, newJournal())
	for _, entry := range []string{"0.01", "0.5", "0.99", "0.014", "0.9849"} {
		order, err := e.BuildOrder(testSignal(entry))
		require.NoError(t, err, entry)
		assert.True(t, order.Price.GreaterThanOrEqual(d("0.01")) && order.Price.LessThanOrEqual(d("0.99")), entry)
	}
}

func TestBuildOrder_SizeBelowMinimum(t *testing.T) {
	cfg := liveConfig()
	cfg.OrderSizeUSDC = d("1")
	e := newEngine(cfg, &mockExecutor{}, newJournal())

	_, err := e.BuildOrder(testSignal("0.88"))
	assert.ErrorIs(t, err, domain.ErrOrderValidation)
}

func TestExecute_LiveSubmitted(t *testing.T) {
	ex := &mockExecutor{}
	j := newJournal()
	e := newEngine(liveConfig(), ex, j)
	sig := testSignal("0.88")

	res, err := e.Execute(context.Background(), sig, approved(sig))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSubmitted, res.Status)
	assert.NotEmpty(t, res.ExchangeOrderID)
	assert.Equal(t, 1, res.Attempts)

	stored, found, _ := j.LookupExecution(context.Background(), res.Order.IdempotencyKey)
	require.True(t, found)
	assert.Equal(t, domain.StatusSubmitted, stored.Status)
}

func TestExecute_SameKeyTwiceSubmitsOnce(t *testing.T) {
	ex := &mockExecutor{}
	j := newJournal()
	sig := testSignal("0.88")

	first, err := newEngine(liveConfig(), ex, j).Execute(context.Background(), sig, approved(sig))
	require.NoError(t, err)

	// simulated restart: fresh engine, same journal
	second, err := newEngine(liveConfig(), ex, j).Execute(context.Background(), sig, approved(sig))
	require.NoError(t, err)

	assert.Equal(t, int32(1), ex.calls.Load())
	assert.Equal(t, first.ExchangeOrderID, second.ExchangeOrderID)
	assert.Equal(t, domain.StatusSubmitted, second.Status)
}

func TestExecute_ConcurrentSameKeyWaitsForFirst(t *testing.T) {
	ex := &mockExecutor{started: make(chan struct{}, 2), release: make(chan struct{})}
	e := newEngine(liveConfig(), ex, newJournal())
	sig := testSignal("0.88")

	results := make([]domain.ExecutionResult, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := e.Execute(context.Background(), sig, approved(sig))
			assert.NoError(t, err)
			results[i] = res
		}(i)
		if i == 0 {
			<-ex.started
		}
	}
	time.Sleep(20 * time.Millisecond)
	close(ex.release)
	wg.Wait()

	assert.Equal(t, int32(1), ex.calls.Load())
	assert.Equal(t, domain.StatusSubmitted, results[0].Status)
	assert.Equal(t, domain.StatusSubmitted, results[1].Status)
	assert.Equal(t, results[0].ExchangeOrderID, results[1].ExchangeOrderID)
}

func TestExecute_TransientRetriedThenFailed(t *testing.T) {
	transient := fmt.Errorf("clob: %w: 503", domain.ErrTransient)
	ex := &mockExecutor{errs: []error{transient, transient, transient}}
	j := newJournal()
	e := newEngine(liveConfig(), ex, j)
	sig := testSignal("0.88")

	res, err := e.Execute(context.Background(), sig, approved(sig))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSubmissionFailed)
	assert.False(t, domain.IsTransient(err), "exhausted retries are final")
	assert.Equal(t, domain.StatusFailed, res.Status)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, int32(3), ex.calls.Load())

	stored, _, _ := j.LookupExecution(context.Background(), res.Order.IdempotencyKey)
	assert.Equal(t, domain.StatusFailed, stored.Status)

	// a later cycle never re-attempts a failed event
	_, err = e.Execute(context.Background(), sig, approved(sig))
	require.NoError(t, err)
	assert.Equal(t, int32(3), ex.calls.Load())
}

func TestExecute_TransientThenSuccess(t *testing.T) {
	ex := &mockExecutor{errs: []error{fmt.Errorf("%w: timeout", domain.ErrTransient), nil}}
	e := newEngine(liveConfig(), ex, newJournal())
	sig := testSignal("0.88")

	res, err := e.Execute(context.Background(), sig, approved(sig))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSubmitted, res.Status)
	assert.Equal(t, 2, res.Attempts)
}

func TestExecute_ExchangeValidationNotRetried(t *testing.T) {
	ex := &mockExecutor{errs: []error{fmt.Errorf("clob: %w: invalid tick", domain.ErrOrderValidation)}}
	e := newEngine(liveConfig(), ex, newJournal())
	sig := testSignal("0.88")

	res, err := e.Execute(context.Background(), sig, approved(sig))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrOrderValidation)
	assert.Equal(t, domain.StatusFailed, res.Status)
	assert.Equal(t, int32(1), ex.calls.Load())
}

func TestExecute_PendingFromPreviousRunNotResubmitted(t *testing.T) {
	ex := &mockExecutor{}
	j := newJournal()
	sig := testSignal("0.88")
	key := sig.Source.IdempotencyKey()
	j.entries[key] = domain.ExecutionResult{
		EventID: sig.Source.ID(),
		Status:  domain.StatusPending,
		Order:   domain.OrderRequest{IdempotencyKey: key},
	}

	res, err := newEngine(liveConfig(), ex, j).Execute(context.Background(), sig, approved(sig))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSubmissionFailed)
	assert.Equal(t, domain.StatusFailed, res.Status)
	assert.Equal(t, int32(0), ex.calls.Load())
}

func TestExecute_CancelledDuringRetryLeavesPending(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ex := &mockExecutor{errs: []error{errors.New("connection reset")}}
	cfg := liveConfig()
	cfg.RetryBase = time.Hour
	cfg.RetryMax = time.Hour
	j := newJournal()
	e := newEngine(cfg, ex, j)
	sig := testSignal("0.88")

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	res, err := e.Execute(ctx, sig, approved(sig))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.StatusFailed, res.Status)

	stored, _, _ := j.LookupExecution(context.Background(), sig.Source.IdempotencyKey())
	assert.Equal(t, domain.StatusPending, stored.Status)
}
