// Package cursor tracks the oracle log watermark and hands out block ranges
// that are deep enough to be safe from reorgs.
package cursor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alejandrodnm/settlebot/internal/domain"
	"github.com/alejandrodnm/settlebot/internal/ports"
)

// Config controls how far behind the head the cursor stays and how many
// blocks a single batch may span.
type Config struct {
	ConfirmationDepth uint64
	MaxBlockRange     uint64
	// StartBlock is the first block to scan when no watermark is stored.
	// Zero means StartLookback blocks behind the confirmed head.
	StartBlock    uint64
	StartLookback uint64
	CallTimeout   time.Duration
}

// DefaultConfig returns the settings used when the config file omits them.
func DefaultConfig() Config {
	return Config{
		ConfirmationDepth: 20,
		MaxBlockRange:     2000,
		StartLookback:     100,
		CallTimeout:       10 * time.Second,
	}
}

// Batch is the contiguous range [From, To] and every settlement log in it,
// in chain order. From > To means there was nothing confirmed to read.
type Batch struct {
	From   uint64
	To     uint64
	Events []domain.RawSettlement
}

// Empty reports whether the batch covers no blocks.
func (b Batch) Empty() bool {
	return b.From > b.To
}

// Cursor is forward-only: the watermark it commits never decreases.
type Cursor struct {
	cfg    Config
	source ports.EventSource
	store  ports.CursorStore

	mu        sync.Mutex
	watermark uint64
	loaded    bool
}

// New creates a Cursor. The stored watermark is loaded on the first NextBatch.
func New(cfg Config, source ports.EventSource, store ports.CursorStore) *Cursor {
	if cfg.MaxBlockRange == 0 {
		cfg.MaxBlockRange = DefaultConfig().MaxBlockRange
	}
	return &Cursor{cfg: cfg, source: source, store: store}
}

// Watermark returns the last block known to be fully handled.
func (c *Cursor) Watermark() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.watermark
}

// NextBatch reads the next confirmed range after the watermark. It never
// moves the watermark; callers Commit once the batch is handled.
func (c *Cursor) NextBatch(ctx context.Context) (Batch, error) {
	head, err := c.latestBlock(ctx)
	if err != nil {
		return Batch{}, fmt.Errorf("cursor.NextBatch: head: %w", transient(err))
	}

	if head < c.cfg.ConfirmationDepth {
		return Batch{From: 1, To: 0}, nil
	}
	safe := head - c.cfg.ConfirmationDepth

	wm, err := c.load(ctx, safe)
	if err != nil {
		return Batch{}, fmt.Errorf("cursor.NextBatch: load watermark: %w", transient(err))
	}

	from := wm + 1
	if from > safe {
		slog.Debug("cursor: nothing confirmed yet", "watermark", wm, "head", head, "safe", safe)
		return Batch{From: from, To: wm}, nil
	}
	to := min(safe, from+c.cfg.MaxBlockRange-1)

	events, err := c.Fetch(ctx, from, to)
	if err != nil {
		return Batch{}, err
	}

	slog.Debug("cursor: batch fetched",
		"from", from,
		"to", to,
		"head", head,
		"events", len(events),
	)
	return Batch{From: from, To: to, Events: events}, nil
}

// Fetch returns every settlement log in [from, to] ordered by block then
// log index. The range is read in MaxBlockRange chunks; if any chunk fails
// the whole call fails so no sub-range is ever skipped.
func (c *Cursor) Fetch(ctx context.Context, from, to uint64) ([]domain.RawSettlement, error) {
	if from > to {
		return nil, nil
	}

	seen := make(map[string]bool)
	var all []domain.RawSettlement
	for start := from; start <= to; {
		end := min(to, start+c.cfg.MaxBlockRange-1)

		logs, err := c.fetchChunk(ctx, start, end)
		if err != nil {
			return nil, fmt.Errorf("cursor.Fetch: blocks %d-%d: %w", start, end, transient(err))
		}
		for _, l := range logs {
			if l.BlockNumber < from || l.BlockNumber > to || seen[l.ID()] {
				continue
			}
			seen[l.ID()] = true
			all = append(all, l)
		}

		if end == to {
			break
		}
		start = end + 1
	}

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].BlockNumber != all[j].BlockNumber {
			return all[i].BlockNumber < all[j].BlockNumber
		}
		return all[i].LogIndex < all[j].LogIndex
	})
	return all, nil
}

// Commit persists block as the new watermark. Values at or below the
// current watermark are ignored. On a store error the in-memory watermark
// is left untouched.
func (c *Cursor) Commit(ctx context.Context, block uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.loaded && block <= c.watermark {
		return nil
	}
	if err := c.store.SaveWatermark(ctx, block); err != nil {
		return fmt.Errorf("cursor.Commit: block %d: %w", block, transient(err))
	}
	c.watermark = block
	c.loaded = true
	return nil
}

func (c *Cursor) latestBlock(ctx context.Context) (uint64, error) {
	callCtx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.source.LatestBlock(callCtx)
}

func (c *Cursor) fetchChunk(ctx context.Context, from, to uint64) ([]domain.RawSettlement, error) {
	callCtx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.source.FetchSettlements(callCtx, from, to)
}

func (c *Cursor) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.cfg.CallTimeout)
}

// load returns the watermark, reading it from the store the first time.
// With nothing stored it starts at StartBlock-1, or StartLookback blocks
// behind safe. The starting point is not persisted until the first Commit.
func (c *Cursor) load(ctx context.Context, safe uint64) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.loaded {
		return c.watermark, nil
	}

	wm, ok, err := c.store.LoadWatermark(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		switch {
		case c.cfg.StartBlock > 0:
			wm = c.cfg.StartBlock - 1
		case safe > c.cfg.StartLookback:
			wm = safe - c.cfg.StartLookback
		default:
			wm = 0
		}
		slog.Info("cursor: no stored watermark, starting fresh", "start_block", wm+1)
	}
	c.watermark = wm
	c.loaded = true
	return wm, nil
}

// transient marks err as retryable unless it already is, or is a cancellation.
func transient(err error) error {
	if domain.IsTransient(err) || errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrTransient, err)
}
