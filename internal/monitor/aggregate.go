package monitor

import (
	"context"
	"fmt"
	"math"
	"math/bits"

	"github.com/gateway-fm/cellbench/pkg/types"
)

// EvalBlocks summarizes an ordered run of consecutive blocks. Node counts
// are sampled from net at call time.
func EvalBlocks(ctx context.Context, net NodeCounter, blocks []*types.Block) (*types.Metrics, error) {
	if len(blocks) == 0 {
		return nil, ErrNoBlocks
	}
	first, last := blocks[0], blocks[len(blocks)-1]
	if last.TimestampMs <= first.TimestampMs {
		return nil, fmt.Errorf("%w: blocks %d..%d", ErrDegenerateWindow, first.Number, last.Number)
	}

	n := uint64(len(blocks))
	var total uint64
	for _, b := range blocks {
		total += uint64(b.TxCount())
	}
	elapsed := last.TimestampMs - first.TimestampMs

	networkNodes, err := net.NetworkNodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("network nodes: %w", err)
	}

	return &types.Metrics{
		TPS:                      tps(total, elapsed),
		AverageBlockTimeMs:       max(1, elapsed/n),
		AverageBlockTransactions: total / n,
		StartBlockNumber:         first.Number,
		EndBlockNumber:           last.Number,
		NetworkNodes:             networkNodes,
		BenchNodes:               net.BenchNodes(),
	}, nil
}

// tps returns floor(total*1000/elapsedMs) with a 128-bit intermediate,
// saturating at MaxUint64.
func tps(total, elapsedMs uint64) uint64 {
	hi, lo := bits.Mul64(total, 1000)
	if hi >= elapsedMs {
		return math.MaxUint64
	}
	q, _ := bits.Div64(hi, lo, elapsedMs)
	return q
}

// txnSpread returns max minus min transaction count over blocks.
func txnSpread(blocks []*types.Block) uint64 {
	if len(blocks) == 0 {
		return 0
	}
	lo, hi := blocks[0].TxCount(), blocks[0].TxCount()
	for _, b := range blocks[1:] {
		lo = min(lo, b.TxCount())
		hi = max(hi, b.TxCount())
	}
	return uint64(hi - lo)
}
