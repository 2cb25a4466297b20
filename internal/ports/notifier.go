package ports

import (
	"context"

	"github.com/alejandrodnm/settlebot/internal/domain"
)

// Notifier presenta resultados de ejecución al operador.
type Notifier interface {
	// NotifyExecutions presenta un lote de resultados (ciclo o reconciliación).
	NotifyExecutions(ctx context.Context, results []domain.ExecutionResult) error
}
