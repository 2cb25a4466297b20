package ports

import (
	"context"

	"github.com/alejandrodnm/settlebot/internal/domain"
)

// BookProvider obtiene orderbooks del CLOB usando el endpoint batch.
type BookProvider interface {
	// FetchOrderBooks devuelve los orderbooks para los token_ids dados.
	// Un token sin book en la respuesta no aparece en el map.
	FetchOrderBooks(ctx context.Context, tokenIDs []string) (map[string]domain.OrderBook, error)
}
