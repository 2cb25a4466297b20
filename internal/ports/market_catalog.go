package ports

import (
	"context"

	"github.com/alejandrodnm/settlebot/internal/domain"
)

// MarketCatalog is the read-only market metadata service (Gamma).
type MarketCatalog interface {
	// LookupMarket returns the market for ref, or an error wrapping
	// domain.ErrNotFound when the catalog has no such market.
	LookupMarket(ctx context.Context, ref domain.MarketRef) (domain.Market, error)
}
