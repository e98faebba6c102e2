package monitor

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/gateway-fm/cellbench/pkg/types"
)

type fixedNodes struct {
	network uint64
	bench   uint64
	err     error
}

func (f fixedNodes) NetworkNodes(ctx context.Context) (uint64, error) { return f.network, f.err }
func (f fixedNodes) BenchNodes() uint64                                { return f.bench }

func TestEvalBlocks(t *testing.T) {
	tests := []struct {
		name   string
		blocks []*types.Block
		want   types.Metrics
	}{
		{
			name: "average block time floors",
			blocks: []*types.Block{
				makeBlock(1, 0, 0),
				makeBlock(2, 1000, 0),
				makeBlock(3, 2000, 0),
			},
			want: types.Metrics{TPS: 0, AverageBlockTimeMs: 666, AverageBlockTransactions: 0, StartBlockNumber: 1, EndBlockNumber: 3},
		},
		{
			name: "tps over three seconds",
			blocks: []*types.Block{
				makeBlock(10, 0, 5),
				makeBlock(11, 1500, 5),
				makeBlock(12, 3000, 5),
			},
			want: types.Metrics{TPS: 5, AverageBlockTimeMs: 1000, AverageBlockTransactions: 5, StartBlockNumber: 10, EndBlockNumber: 12},
		},
		{
			name: "average block time at least one",
			blocks: []*types.Block{
				makeBlock(1, 0, 1),
				makeBlock(2, 0, 1),
				makeBlock(3, 0, 1),
				makeBlock(4, 2, 4),
			},
			want: types.Metrics{TPS: 3500, AverageBlockTimeMs: 1, AverageBlockTransactions: 1, StartBlockNumber: 1, EndBlockNumber: 4},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EvalBlocks(context.Background(), fixedNodes{network: 5, bench: 2}, tt.blocks)
			if err != nil {
				t.Fatalf("EvalBlocks() error = %v", err)
			}
			tt.want.NetworkNodes = 5
			tt.want.BenchNodes = 2
			if *got != tt.want {
				t.Errorf("EvalBlocks() = %+v, want %+v", *got, tt.want)
			}
		})
	}
}

func TestEvalBlocksErrors(t *testing.T) {
	nodes := fixedNodes{network: 1, bench: 1}

	if _, err := EvalBlocks(context.Background(), nodes, nil); !errors.Is(err, ErrNoBlocks) {
		t.Errorf("EvalBlocks(nil) error = %v, want ErrNoBlocks", err)
	}

	single := []*types.Block{makeBlock(1, 1000, 3)}
	if _, err := EvalBlocks(context.Background(), nodes, single); !errors.Is(err, ErrDegenerateWindow) {
		t.Errorf("EvalBlocks(single) error = %v, want ErrDegenerateWindow", err)
	}

	backwards := []*types.Block{makeBlock(1, 2000, 3), makeBlock(2, 1000, 3)}
	if _, err := EvalBlocks(context.Background(), nodes, backwards); !errors.Is(err, ErrDegenerateWindow) {
		t.Errorf("EvalBlocks(backwards) error = %v, want ErrDegenerateWindow", err)
	}

	failing := fixedNodes{err: errors.New("peers unavailable")}
	ok := []*types.Block{makeBlock(1, 0, 1), makeBlock(2, 1000, 1)}
	if _, err := EvalBlocks(context.Background(), failing, ok); err == nil {
		t.Error("EvalBlocks() error = nil, want node count error")
	}
}

func TestTPSPrecision(t *testing.T) {
	tests := []struct {
		total, elapsed, want uint64
	}{
		{total: 15, elapsed: 3000, want: 5},
		{total: 1, elapsed: 3, want: 333},
		// total*1000 overflows 64 bits but the quotient fits.
		{total: math.MaxUint64 / 10, elapsed: 1000, want: math.MaxUint64 / 10},
		{total: math.MaxUint64, elapsed: 1, want: math.MaxUint64},
	}

	for _, tt := range tests {
		if got := tps(tt.total, tt.elapsed); got != tt.want {
			t.Errorf("tps(%d, %d) = %d, want %d", tt.total, tt.elapsed, got, tt.want)
		}
	}
}

func TestTxnSpread(t *testing.T) {
	blocks := []*types.Block{makeBlock(1, 0, 10), makeBlock(2, 0, 11), makeBlock(3, 0, 7)}
	if got := txnSpread(blocks); got != 4 {
		t.Errorf("txnSpread() = %d, want 4", got)
	}
	if got := txnSpread(nil); got != 0 {
		t.Errorf("txnSpread(nil) = %d, want 0", got)
	}
}
