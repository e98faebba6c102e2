package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	_ "github.com/mattn/go-sqlite3"

	"github.com/gateway-fm/cellbench/pkg/types"
)

// SQLiteStorage implements CellStore using SQLite.
type SQLiteStorage struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ CellStore = (*SQLiteStorage)(nil)

// NewSQLiteStorage opens (or creates) the cell cache at dbPath.
func NewSQLiteStorage(dbPath string, logger *slog.Logger) (*SQLiteStorage, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// WAL lets the status API read while the runner writes.
	dsn := fmt.Sprintf("%s?_journal=WAL&_sync=NORMAL&_cache_size=10000&_foreign_keys=ON", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLiteStorage{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

func (s *SQLiteStorage) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS live_cells (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tx_hash TEXT NOT NULL,
		out_index INTEGER NOT NULL,
		lock_hash TEXT NOT NULL,
		capacity TEXT NOT NULL,
		output BLOB NOT NULL,
		cached_at DATETIME NOT NULL,
		UNIQUE (tx_hash, out_index)
	);

	CREATE INDEX IF NOT EXISTS idx_live_cells_lock ON live_cells(lock_hash, id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// SaveLiveCells stores cells in one transaction.
func (s *SQLiteStorage) SaveLiveCells(ctx context.Context, cells []types.LiveCell) error {
	if len(cells) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO live_cells (tx_hash, out_index, lock_hash, capacity, output, cached_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (tx_hash, out_index) DO UPDATE SET
			lock_hash = excluded.lock_hash,
			capacity = excluded.capacity,
			output = excluded.output,
			cached_at = excluded.cached_at
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for _, c := range cells {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		output, err := rlp.EncodeToBytes(&c.Output)
		if err != nil {
			return fmt.Errorf("encode cell %s: %w", c.OutPoint, err)
		}
		_, err = stmt.ExecContext(ctx,
			c.OutPoint.TxHash.Hex(), c.OutPoint.Index,
			c.Output.Lock.Hash().Hex(), c.Output.Capacity.String(),
			output, now)
		if err != nil {
			return fmt.Errorf("insert cell %s: %w", c.OutPoint, err)
		}
	}

	return tx.Commit()
}

// LoadLiveCells returns cached cells for a lock.
func (s *SQLiteStorage) LoadLiveCells(ctx context.Context, lockHash common.Hash) ([]types.LiveCell, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tx_hash, out_index, output
		FROM live_cells
		WHERE lock_hash = ?
		ORDER BY id
	`, lockHash.Hex())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cells []types.LiveCell
	for rows.Next() {
		var (
			txHash string
			index  uint32
			output []byte
		)
		if err := rows.Scan(&txHash, &index, &output); err != nil {
			return nil, err
		}

		cell := types.LiveCell{OutPoint: types.OutPoint{TxHash: common.HexToHash(txHash), Index: index}}
		if err := rlp.DecodeBytes(output, &cell.Output); err != nil {
			// A corrupt row only costs one cell; the rest of the cache is usable.
			s.logger.Warn("skipping undecodable cached cell",
				slog.String("outPoint", cell.OutPoint.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		cells = append(cells, cell)
	}
	return cells, rows.Err()
}

// DeleteLiveCells removes cells by out-point in one transaction.
func (s *SQLiteStorage) DeleteLiveCells(ctx context.Context, outPoints []types.OutPoint) error {
	if len(outPoints) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM live_cells WHERE tx_hash = ? AND out_index = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, op := range outPoints {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := stmt.ExecContext(ctx, op.TxHash.Hex(), op.Index); err != nil {
			return fmt.Errorf("delete cell %s: %w", op, err)
		}
	}

	return tx.Commit()
}

// CountLiveCells returns how many cells are cached for a lock.
func (s *SQLiteStorage) CountLiveCells(ctx context.Context, lockHash common.Hash) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM live_cells WHERE lock_hash = ?`, lockHash.Hex()).Scan(&count)
	return count, err
}

// PurgeLiveCells removes every cached cell for a lock.
func (s *SQLiteStorage) PurgeLiveCells(ctx context.Context, lockHash common.Hash) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM live_cells WHERE lock_hash = ?`, lockHash.Hex())
	return err
}
