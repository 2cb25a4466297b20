package ports

import (
	"context"

	"github.com/alejandrodnm/settlebot/internal/domain"
)

// EventSource reads oracle settlement logs from the chain.
type EventSource interface {
	// LatestBlock returns the current chain head.
	LatestBlock(ctx context.Context) (uint64, error)

	// FetchSettlements returns the Settle logs in [from, to], inclusive.
	// Order is not guaranteed; callers sort.
	FetchSettlements(ctx context.Context, from, to uint64) ([]domain.RawSettlement, error)
}
