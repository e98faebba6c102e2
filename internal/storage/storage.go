// Package storage caches the live-cell inventory between benchmark runs so
// the indexer does not have to be scanned on every start.
package storage

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/cellbench/pkg/types"
)

// CellStore persists live cells keyed by the hash of their lock script.
type CellStore interface {
	// SaveLiveCells inserts cells, replacing any with the same out-point.
	SaveLiveCells(ctx context.Context, cells []types.LiveCell) error
	// LoadLiveCells returns the cells locked by lockHash in insertion order.
	LoadLiveCells(ctx context.Context, lockHash common.Hash) ([]types.LiveCell, error)
	// DeleteLiveCells removes spent cells. Unknown out-points are ignored.
	DeleteLiveCells(ctx context.Context, outPoints []types.OutPoint) error
	// CountLiveCells returns the number of cells locked by lockHash.
	CountLiveCells(ctx context.Context, lockHash common.Hash) (int, error)
	// PurgeLiveCells drops every cell locked by lockHash.
	PurgeLiveCells(ctx context.Context, lockHash common.Hash) error

	Close() error
}
