package storage

// sqlite.go — estado durable del pipeline.
//
// Tablas:
//   - `cursor`: una sola fila con el último bloque procesado (watermark).
//     El upsert usa MAX() para que el watermark nunca retroceda, aunque dos
//     procesos escriban a la vez.
//   - `executions`: journal de ejecuciones, una fila por idempotency key.
//     Ver executions.go.
//   - Prune al arrancar: ejecuciones terminales (SIMULATED/SUBMITTED/REJECTED)
//     de más de 30 días. FAILED y PENDING se conservan para reconciliar.

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS cursor (
    id         INTEGER PRIMARY KEY CHECK (id = 1),
    block      INTEGER NOT NULL,
    updated_at INTEGER NOT NULL   -- unix millis
);

CREATE TABLE IF NOT EXISTS executions (
    idempotency_key   TEXT PRIMARY KEY,
    event_id          TEXT    NOT NULL,
    condition_id      TEXT    NOT NULL DEFAULT '',
    token_id          TEXT    NOT NULL,
    side              TEXT    NOT NULL,
    price             TEXT    NOT NULL,   -- decimal exacto
    size              TEXT    NOT NULL,
    order_type        TEXT    NOT NULL DEFAULT 'GTC',
    neg_risk          INTEGER NOT NULL DEFAULT 0,
    status            TEXT    NOT NULL,
    exchange_order_id TEXT    NOT NULL DEFAULT '',
    error             TEXT    NOT NULL DEFAULT '',
    attempts          INTEGER NOT NULL DEFAULT 0,
    created_at        INTEGER NOT NULL,   -- unix millis
    completed_at      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_exec_status ON executions(status);
CREATE INDEX IF NOT EXISTS idx_exec_completed ON executions(completed_at DESC);
`

const retentionExecutions = 30 * 24 * time.Hour

// SQLiteStorage implementa ports.CursorStore y ports.ExecutionJournal usando
// SQLite (pure Go, sin CGo).
type SQLiteStorage struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStorage abre (o crea) la base de datos en la ruta dada y aplica el schema.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: busy_timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}

	s := &SQLiteStorage{db: db, now: time.Now}
	s.pruneOld(context.Background())
	return s, nil
}

// Close cierra la conexión.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// LoadWatermark devuelve el último bloque confirmado; ok=false si nunca se guardó.
func (s *SQLiteStorage) LoadWatermark(ctx context.Context) (uint64, bool, error) {
	var block int64
	err := s.db.QueryRowContext(ctx, `SELECT block FROM cursor WHERE id = 1`).Scan(&block)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("storage.LoadWatermark: %w", err)
	}
	return uint64(block), true, nil
}

// SaveWatermark persiste block. Un valor menor que el guardado se ignora.
func (s *SQLiteStorage) SaveWatermark(ctx context.Context, block uint64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cursor (id, block, updated_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		    block      = MAX(cursor.block, excluded.block),
		    updated_at = excluded.updated_at`,
		int64(block), s.now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("storage.SaveWatermark %d: %w", block, err)
	}
	return nil
}

// pruneOld elimina ejecuciones terminales antiguas para mantener la DB ligera.
func (s *SQLiteStorage) pruneOld(ctx context.Context) {
	cutoff := s.now().UTC().Add(-retentionExecutions).UnixMilli()
	s.db.ExecContext(ctx,
		`DELETE FROM executions WHERE completed_at < ? AND status IN ('SIMULATED', 'SUBMITTED', 'REJECTED')`,
		cutoff,
	)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
