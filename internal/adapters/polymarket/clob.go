package polymarket

// clob.go — snapshots de orderbooks vía POST /books.
//
// Los batches se piden en paralelo con un errgroup; el primer batch que falla
// cancela el resto, porque el snapshot de un mercado se usa entero o no se usa.

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/alejandrodnm/settlebot/internal/domain"
)

const (
	booksPath = "/books"
	batchSize = 20 // máx token_ids por request a /books
)

// FetchOrderBooks implementa ports.BookProvider. Devuelve solo books de los
// token_ids pedidos; un token sin book no aparece en el map.
func (c *Client) FetchOrderBooks(ctx context.Context, tokenIDs []string) (map[string]domain.OrderBook, error) {
	ids := uniqueIDs(tokenIDs)
	result := make(map[string]domain.OrderBook, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for i, batch := range splitBatches(ids, batchSize) {
		g.Go(func() error {
			books, err := c.fetchBooksBatch(gctx, batch)
			if err != nil {
				return fmt.Errorf("batch %d: %w", i, err)
			}
			mu.Lock()
			defer mu.Unlock()
			for id, book := range books {
				if wanted[id] {
					book.TokenID = id
					result[id] = book
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("clob.FetchOrderBooks: %w", err)
	}

	if missing := len(ids) - len(result); missing > 0 {
		slog.Debug("order books missing from response", "requested", len(ids), "missing", missing)
	}
	return result, nil
}

// uniqueIDs quita vacíos y duplicados conservando el orden.
func uniqueIDs(tokenIDs []string) []string {
	seen := make(map[string]bool, len(tokenIDs))
	out := make([]string, 0, len(tokenIDs))
	for _, id := range tokenIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// splitBatches divide tokenIDs en slices de tamaño máximo size.
func splitBatches(tokenIDs []string, size int) [][]string {
	if size <= 0 {
		size = batchSize
	}
	var batches [][]string
	for start := 0; start < len(tokenIDs); start += size {
		batches = append(batches, tokenIDs[start:min(start+size, len(tokenIDs))])
	}
	return batches
}

func (c *Client) fetchBooksBatch(ctx context.Context, tokenIDs []string) (map[string]domain.OrderBook, error) {
	body := make([]orderBookRequest, 0, len(tokenIDs))
	for _, id := range tokenIDs {
		body = append(body, orderBookRequest{TokenID: id})
	}

	var resp []orderBookResponse
	if err := c.post(ctx, c.booksLimiter, c.clobBase+booksPath, body, &resp); err != nil {
		if statusCode(err) != 0 {
			// un 4xx no se arregla reintentando: no hay book para estos tokens
			return nil, fmt.Errorf("POST %s: %w: %w", booksPath, domain.ErrNotFound, err)
		}
		return nil, fmt.Errorf("POST %s: %w", booksPath, err)
	}
	return mapOrderBooks(resp), nil
}
