package storage

// executions.go — journal de ejecuciones por idempotency key.
//
// BeginExecution inserta la fila PENDING antes de enviar la orden; si ya existe
// devuelve error, de modo que dos envíos con la misma key nunca conviven.
// CompleteExecution sobrescribe la fila con el resultado final.

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/settlebot/internal/domain"
)

const executionColumns = `idempotency_key, event_id, condition_id, token_id, side, price, size,
	order_type, neg_risk, status, exchange_order_id, error, attempts, created_at, completed_at`

// LookupExecution devuelve la ejecución guardada para key, si existe.
func (s *SQLiteStorage) LookupExecution(ctx context.Context, key string) (domain.ExecutionResult, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE idempotency_key = ?`, key)
	r, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ExecutionResult{}, false, nil
	}
	if err != nil {
		return domain.ExecutionResult{}, false, fmt.Errorf("storage.LookupExecution %s: %w", key, err)
	}
	return r, true, nil
}

// BeginExecution registra r (normalmente PENDING). Falla si la key ya existe.
func (s *SQLiteStorage) BeginExecution(ctx context.Context, r domain.ExecutionResult) error {
	if r.Order.IdempotencyKey == "" {
		return errors.New("storage.BeginExecution: empty idempotency key")
	}
	now := s.now().UTC().UnixMilli()
	_, err := s.db.ExecContext(ctx, `INSERT INTO executions (`+executionColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		executionArgs(r, now)...,
	)
	if err != nil {
		return fmt.Errorf("storage.BeginExecution %s: %w", r.Order.IdempotencyKey, err)
	}
	return nil
}

// CompleteExecution guarda el resultado final de r, exista o no la fila.
func (s *SQLiteStorage) CompleteExecution(ctx context.Context, r domain.ExecutionResult) error {
	if r.Order.IdempotencyKey == "" {
		return errors.New("storage.CompleteExecution: empty idempotency key")
	}
	now := s.now().UTC().UnixMilli()
	_, err := s.db.ExecContext(ctx, `INSERT INTO executions (`+executionColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(idempotency_key) DO UPDATE SET
		    status            = excluded.status,
		    exchange_order_id = excluded.exchange_order_id,
		    error             = excluded.error,
		    attempts          = excluded.attempts,
		    completed_at      = excluded.completed_at`,
		executionArgs(r, now)...,
	)
	if err != nil {
		return fmt.Errorf("storage.CompleteExecution %s: %w", r.Order.IdempotencyKey, err)
	}
	return nil
}

// ListExecutions devuelve las ejecuciones con alguno de los estados dados
// (todas si no se indica ninguno), más recientes primero.
func (s *SQLiteStorage) ListExecutions(ctx context.Context, statuses ...domain.ExecutionStatus) ([]domain.ExecutionResult, error) {
	query := `SELECT ` + executionColumns + ` FROM executions`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		marks := make([]string, len(statuses))
		for i, st := range statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		query += ` WHERE status IN (` + strings.Join(marks, ",") + `)`
	}
	query += ` ORDER BY completed_at DESC, idempotency_key`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage.ListExecutions: %w", err)
	}
	defer rows.Close()

	var out []domain.ExecutionResult
	for rows.Next() {
		r, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.ListExecutions: scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func executionArgs(r domain.ExecutionResult, now int64) []any {
	completed := now
	if !r.CompletedAt.IsZero() {
		completed = r.CompletedAt.UTC().UnixMilli()
	}
	return []any{
		r.Order.IdempotencyKey, r.EventID, r.Order.ConditionID, r.Order.TokenID,
		string(r.Order.Side), r.Order.Price.String(), r.Order.Size.String(),
		r.Order.OrderType, boolToInt(r.Order.NegRisk), string(r.Status),
		r.ExchangeOrderID, r.Error, r.Attempts, now, completed,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (domain.ExecutionResult, error) {
	var (
		r                domain.ExecutionResult
		side, status     string
		price, size      string
		negRisk          int
		created, updated int64
	)
	err := row.Scan(
		&r.Order.IdempotencyKey, &r.EventID, &r.Order.ConditionID, &r.Order.TokenID,
		&side, &price, &size, &r.Order.OrderType, &negRisk, &status,
		&r.ExchangeOrderID, &r.Error, &r.Attempts, &created, &updated,
	)
	if err != nil {
		return domain.ExecutionResult{}, err
	}

	r.Order.Side = domain.Side(side)
	r.Order.NegRisk = negRisk == 1
	r.Status = domain.ExecutionStatus(status)
	r.CompletedAt = time.UnixMilli(updated).UTC()
	if r.Order.Price, err = decimal.NewFromString(price); err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("price %q: %w", price, err)
	}
	if r.Order.Size, err = decimal.NewFromString(size); err != nil {
		return domain.ExecutionResult{}, fmt.Errorf("size %q: %w", size, err)
	}
	return r, nil
}
