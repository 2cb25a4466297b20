package ports

import (
	"context"

	"github.com/alejandrodnm/settlebot/internal/domain"
)

// OrderExecutor submits signed orders to the Polymarket CLOB.
type OrderExecutor interface {
	// PlaceOrder signs and submits the order. The same IdempotencyKey always
	// produces the same signed order, so a resubmission cannot create a second one.
	// Errors wrap domain.ErrTransient (retryable) or domain.ErrOrderValidation.
	PlaceOrder(ctx context.Context, req domain.OrderRequest) (domain.PlacedOrder, error)
}
