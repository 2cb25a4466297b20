package ports

import (
	"context"

	"github.com/alejandrodnm/settlebot/internal/domain"
)

// CursorStore persists the event source watermark: the last block whose
// events were fully handled. It is the only durable pipeline state.
type CursorStore interface {
	// LoadWatermark returns ok=false when no watermark was ever saved.
	LoadWatermark(ctx context.Context) (block uint64, ok bool, err error)

	// SaveWatermark stores block. A lower value than the stored one is ignored.
	SaveWatermark(ctx context.Context, block uint64) error
}

// ExecutionJournal records execution attempts keyed by idempotency key.
// It belongs to the execution side and backs the at-most-once guarantee across restarts.
type ExecutionJournal interface {
	// LookupExecution returns the entry for key, ok=false if none.
	LookupExecution(ctx context.Context, key string) (domain.ExecutionResult, bool, error)

	// BeginExecution records a PENDING entry before the order leaves the process.
	BeginExecution(ctx context.Context, result domain.ExecutionResult) error

	// CompleteExecution stores the final result for the entry's key.
	CompleteExecution(ctx context.Context, result domain.ExecutionResult) error

	// ListExecutions returns entries with any of the given statuses (all when empty),
	// most recent first.
	ListExecutions(ctx context.Context, statuses ...domain.ExecutionStatus) ([]domain.ExecutionResult, error)
}
