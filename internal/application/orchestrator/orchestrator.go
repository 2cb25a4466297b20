// Package orchestrator drives the settlement pipeline: cursor → decoder →
// resolver → signal → risk → execution, once per polling cycle.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alejandrodnm/settlebot/internal/application/cursor"
	"github.com/alejandrodnm/settlebot/internal/application/decoder"
	"github.com/alejandrodnm/settlebot/internal/application/engine"
	"github.com/alejandrodnm/settlebot/internal/application/execution"
	"github.com/alejandrodnm/settlebot/internal/application/resolver"
	"github.com/alejandrodnm/settlebot/internal/application/risk"
	"github.com/alejandrodnm/settlebot/internal/application/signal"
	"github.com/alejandrodnm/settlebot/internal/domain"
	"github.com/alejandrodnm/settlebot/internal/ports"
)

// commitTimeout bounds the watermark write that runs after cancellation.
const commitTimeout = 5 * time.Second

// Deps are the external collaborators. Executor may be nil in dry-run;
// Notifier is optional.
type Deps struct {
	Source      ports.EventSource
	Catalog     ports.MarketCatalog
	Books       ports.BookProvider
	Executor    ports.OrderExecutor
	CursorStore ports.CursorStore
	Journal     ports.ExecutionJournal
	Notifier    ports.Notifier
	Now         func() time.Time
}

// CycleReport summarizes one cycle.
type CycleReport struct {
	ID        string
	From      uint64
	To        uint64
	Events    int
	Skipped   int // decode, not found, no signal
	Rejected  int
	Executed  int
	Failed    int
	Deferred  int
	Watermark uint64

	// Results holds every executed or failed result of the cycle.
	Results []domain.ExecutionResult
}

// Orchestrator owns every pipeline component for the life of the process.
// Only Run (or RunCycle) may be called, from one goroutine at a time.
type Orchestrator struct {
	cfg Config
	now func() time.Time

	cursor   *cursor.Cursor
	decoder  *decoder.Decoder
	resolver *resolver.Resolver
	signals  *signal.Generator
	gate     *risk.Gate
	exec     *execution.Engine
	books    ports.BookProvider
	notifier ports.Notifier
	backoff  *engine.Backoff

	mu    sync.Mutex
	state State

	// handled holds events finished in a range that was not fully committed
	// (because an earlier event was deferred), keyed by event id → block.
	handled map[string]uint64
}

// New validates cfg and wires the components.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Source == nil || deps.Catalog == nil || deps.Books == nil || deps.CursorStore == nil || deps.Journal == nil {
		return nil, fmt.Errorf("orchestrator.New: %w: missing collaborator", domain.ErrFatalConfig)
	}
	if !cfg.Execution.DryRun && deps.Executor == nil {
		return nil, fmt.Errorf("orchestrator.New: %w: live mode requires an order executor", domain.ErrFatalConfig)
	}

	now := deps.Now
	if now == nil {
		now = time.Now
	}

	if cfg.Cursor.CallTimeout == 0 {
		cfg.Cursor.CallTimeout = cfg.CallTimeout
	}
	if cfg.Execution.CallTimeout == 0 {
		cfg.Execution.CallTimeout = cfg.CallTimeout
	}

	return &Orchestrator{
		cfg:      cfg,
		now:      now,
		cursor:   cursor.New(cfg.Cursor, deps.Source, deps.CursorStore),
		decoder:  decoder.New(now),
		resolver: resolver.New(deps.Catalog, cfg.CallTimeout),
		signals:  signal.New(cfg.Signal, now),
		gate:     risk.New(cfg.Risk, now),
		exec:     execution.New(cfg.Execution, deps.Executor, deps.Journal, now),
		books:    deps.Books,
		notifier: deps.Notifier,
		backoff:  engine.NewBackoff(cfg.BackoffBase, cfg.BackoffMax),
		state:    StateIdle,
		handled:  make(map[string]uint64),
	}, nil
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	prev := o.state
	o.state = s
	o.mu.Unlock()
	if prev != s {
		slog.Debug("orchestrator: state", "from", prev, "to", s)
	}
}

// Watermark returns the last committed block.
func (o *Orchestrator) Watermark() uint64 {
	return o.cursor.Watermark()
}

// Run loops until ctx is cancelled. A failed cycle moves to BACKOFF and
// retries with exponential jittered delays; a successful one resets the
// backoff and waits PollInterval. Cancellation returns nil.
func (o *Orchestrator) Run(ctx context.Context) error {
	slog.Info("orchestrator starting",
		"poll_interval", o.cfg.PollInterval,
		"dry_run", o.exec.DryRun(),
		"workers", o.cfg.Workers,
		"confirmation_depth", o.cfg.Cursor.ConfirmationDepth,
	)

	for {
		if ctx.Err() != nil {
			return o.shutdown()
		}

		report, err := o.RunCycle(ctx)
		if ctx.Err() != nil {
			return o.shutdown()
		}

		wait := o.cfg.PollInterval
		if err != nil {
			wait = o.backoff.Next()
			o.setState(StateBackoff)
			slog.Warn("cycle failed, backing off",
				"err", err,
				"attempt", o.backoff.Attempt(),
				"wait", wait.Round(time.Millisecond),
			)
		} else {
			o.backoff.Reset()
			if report.Events > 0 {
				slog.Info("cycle complete",
					"cycle", report.ID,
					"blocks", fmt.Sprintf("%d-%d", report.From, report.To),
					"events", report.Events,
					"executed", report.Executed,
					"rejected", report.Rejected,
					"skipped", report.Skipped,
					"failed", report.Failed,
					"deferred", report.Deferred,
					"watermark", report.Watermark,
				)
			}
		}

		if err := engine.Sleep(ctx, wait); err != nil {
			return o.shutdown()
		}
	}
}

func (o *Orchestrator) shutdown() error {
	o.setState(StateShutdown)
	slog.Info("orchestrator stopped", "watermark", o.cursor.Watermark())
	return nil
}

// item is one event of the batch as it moves through the chain.
type item struct {
	raw domain.RawSettlement
	ev  domain.SettlementEvent
	err error
}

// marketData is the resolved market and its book snapshot.
type marketData struct {
	market domain.Market
	snap   domain.MarketSnapshot
	err    error
}

// RunCycle processes one batch. It fails only when the cursor cannot fetch
// or commit; per-event failures are logged and handled by kind.
func (o *Orchestrator) RunCycle(ctx context.Context) (CycleReport, error) {
	report := CycleReport{ID: uuid.NewString()}
	log := slog.With("cycle", report.ID[:8])

	o.setState(StateFetching)
	o.resolver.BeginCycle()

	batch, err := o.cursor.NextBatch(ctx)
	if err != nil {
		return report, fmt.Errorf("orchestrator.RunCycle: %w", err)
	}
	report.From, report.To = batch.From, batch.To
	report.Watermark = o.cursor.Watermark()
	if batch.Empty() {
		o.setState(StateIdle)
		return report, nil
	}

	o.setState(StateDecoding)
	items := make([]item, 0, len(batch.Events))
	for _, raw := range batch.Events {
		if _, done := o.handled[raw.ID()]; done {
			continue
		}
		ev, err := o.decoder.Decode(raw)
		items = append(items, item{raw: raw, ev: ev, err: err})
	}
	report.Events = len(items)

	var prefetched map[domain.MarketRef]marketData
	if o.cfg.Workers > 1 && len(items) > 1 {
		o.setState(StateResolving)
		prefetched = o.prefetch(ctx, items)
	}

	commitTo := batch.To
	for _, it := range items {
		if ctx.Err() != nil {
			commitTo = min(commitTo, it.raw.BlockNumber-1)
			break
		}

		deferred := o.handle(ctx, log, it, prefetched, &report)
		if deferred {
			report.Deferred++
			commitTo = min(commitTo, it.raw.BlockNumber-1)
			continue
		}
		o.handled[it.raw.ID()] = it.raw.BlockNumber
	}

	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
	defer cancel()
	if err := o.cursor.Commit(commitCtx, commitTo); err != nil {
		return report, fmt.Errorf("orchestrator.RunCycle: %w", err)
	}
	report.Watermark = o.cursor.Watermark()
	o.pruneHandled(report.Watermark)

	if o.notifier != nil && len(report.Results) > 0 {
		if err := o.notifier.NotifyExecutions(commitCtx, report.Results); err != nil {
			log.Warn("notify executions failed", "err", err)
		}
	}

	o.setState(StateIdle)
	return report, nil
}

// handle runs one event through resolve → signal → risk → execute and
// reports whether it must be retried next cycle (deferred).
func (o *Orchestrator) handle(ctx context.Context, log *slog.Logger, it item, prefetched map[domain.MarketRef]marketData, report *CycleReport) bool {
	log = log.With("event", it.raw.ID(), "block", it.raw.BlockNumber)

	if it.err != nil {
		log.Warn("settlement skipped: decode failed", "err", it.err)
		report.Skipped++
		return false
	}
	ev := it.ev
	log = log.With("ref", ev.Ref.String())

	o.setState(StateResolving)
	md, ok := prefetched[ev.Ref]
	if !ok {
		md = o.loadMarketData(ctx, ev.Ref)
	}
	switch {
	case md.err == nil:
	case errors.Is(md.err, domain.ErrNotFound):
		log.Info("settlement skipped: market not found", "title", domain.TruncateQuestion(ev.Title, ev.Ref.Value, 60), "err", md.err)
		report.Skipped++
		return false
	case ctx.Err() != nil, domain.IsTransient(md.err):
		log.Warn("settlement deferred: market data unavailable", "err", md.err)
		return true
	default:
		log.Warn("settlement skipped: market data unusable", "err", md.err)
		report.Skipped++
		return false
	}
	log = log.With("market", md.market.ConditionID)

	o.setState(StateSignaling)
	res := o.signals.Generate(ev, md.market, md.snap)
	if res.Signal == nil {
		log.Info("no signal",
			"reason", res.Reason,
			"outcome", ev.ResolvedOutcome.String(),
			"implied", res.Implied.String(),
			"edge", res.Edge.String(),
			"title", domain.TruncateQuestion(ev.Title, ev.Ref.Value, 60),
		)
		report.Skipped++
		return false
	}
	sig := *res.Signal
	log = log.With("direction", sig.Direction, "token", engine.TruncateStr(sig.TokenID, 16))
	log.Info("signal generated",
		"outcome", ev.ResolvedOutcome.String(),
		"implied", sig.ImpliedProbability.String(),
		"entry", sig.EntryPrice.String(),
		"edge", sig.Edge.String(),
		"confidence", sig.Confidence.String(),
		"neg_risk", sig.Market.NegRisk,
	)

	o.setState(StateRiskCheck)
	decision := o.gate.Evaluate(sig)
	log.Info("risk decision", "approved", decision.Approved, "reason", decision.Reason)

	o.setState(StateExecuting)
	result, err := o.exec.Execute(ctx, sig, decision)
	o.gate.Record(sig.Market.ConditionID, result)

	attrs := []any{
		"status", result.Status,
		"price", result.Order.Price.String(),
		"size", result.Order.Size.String(),
		"key", engine.TruncateStr(result.Order.IdempotencyKey, 16),
		"order_id", result.ExchangeOrderID,
		"attempts", result.Attempts,
	}
	switch {
	case err == nil && result.Status == domain.StatusRejected:
		report.Rejected++
		log.Info("execution", attrs...)
	case err == nil:
		report.Executed++
		report.Results = append(report.Results, result)
		log.Info("execution", attrs...)
	case ctx.Err() != nil:
		log.Warn("execution interrupted by shutdown", append(attrs, "err", err)...)
		return true
	case errors.Is(err, domain.ErrSubmissionFailed):
		report.Failed++
		report.Results = append(report.Results, result)
		log.Error("execution failed, reconcile out-of-band", append(attrs, "err", err)...)
	case domain.IsTransient(err):
		log.Warn("execution deferred", append(attrs, "err", err)...)
		return true
	case errors.Is(err, domain.ErrOrderValidation):
		report.Failed++
		report.Results = append(report.Results, result)
		log.Error("order validation failed, event dropped", append(attrs, "err", err)...)
	default:
		report.Failed++
		report.Results = append(report.Results, result)
		log.Error("execution failed, reconcile out-of-band", append(attrs, "err", err)...)
	}
	return false
}

// prefetch resolves every distinct market of the batch and snapshots its
// books, at most Workers at a time. Failures are kept per market.
func (o *Orchestrator) prefetch(ctx context.Context, items []item) map[domain.MarketRef]marketData {
	refs := make(map[domain.MarketRef]bool)
	for _, it := range items {
		if it.err == nil {
			refs[it.ev.Ref] = true
		}
	}

	var mu sync.Mutex
	out := make(map[domain.MarketRef]marketData, len(refs))

	var g errgroup.Group
	g.SetLimit(o.cfg.Workers)
	for ref := range refs {
		g.Go(func() error {
			md := o.loadMarketData(ctx, ref)
			mu.Lock()
			out[ref] = md
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (o *Orchestrator) loadMarketData(ctx context.Context, ref domain.MarketRef) marketData {
	m, err := o.resolver.Resolve(ctx, ref)
	if err != nil {
		return marketData{err: err}
	}
	snap, err := o.snapshot(ctx, m)
	if err != nil {
		return marketData{market: m, err: err}
	}
	return marketData{market: m, snap: snap}
}

func (o *Orchestrator) snapshot(ctx context.Context, m domain.Market) (domain.MarketSnapshot, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()

	yes, no := m.YesToken().TokenID, m.NoToken().TokenID
	books, err := o.books.FetchOrderBooks(callCtx, []string{yes, no})
	if err != nil {
		if !domain.IsTransient(err) && ctx.Err() == nil && callCtx.Err() != nil {
			// the per-call deadline fired inside the feed
			err = fmt.Errorf("%w: %w", domain.ErrTransient, err)
		}
		return domain.MarketSnapshot{}, fmt.Errorf("orchestrator.snapshot %s: %w", m.ConditionID, err)
	}
	yesBook, noBook := books[yes], books[no]
	yesBook.TokenID, noBook.TokenID = yes, no
	return domain.NewMarketSnapshot(m.ConditionID, yesBook, noBook, o.now()), nil
}

func (o *Orchestrator) pruneHandled(watermark uint64) {
	for id, block := range o.handled {
		if block <= watermark {
			delete(o.handled, id)
		}
	}
}
