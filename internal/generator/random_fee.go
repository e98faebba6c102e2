package generator

import (
	"bytes"
	"fmt"
	"log/slog"

	"github.com/gateway-fm/cellbench/internal/metrics"
	"github.com/gateway-fm/cellbench/pkg/types"
)

// minFeeRange is the lower bound of the range the fee bump is drawn from.
const minFeeRange = 5

// Config for creating generators.
type Config struct {
	Rand    RandSource                 // default: NewRand()
	Metrics *metrics.PrometheusMetrics // optional
	Logger  *slog.Logger
}

// RandomFee spends cells two at a time into two minimal outputs owned by
// the receiver, returning a random share of the surplus to the second
// output and leaving the rest as fee.
type RandomFee struct {
	rand    RandSource
	metrics *metrics.PrometheusMetrics
	logger  *slog.Logger
}

// NewRandomFee creates a new random-fee generator.
func NewRandomFee(cfg Config) *RandomFee {
	rnd := cfg.Rand
	if rnd == nil {
		rnd = NewRand()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RandomFee{
		rand:    rnd,
		metrics: cfg.Metrics,
		logger:  logger,
	}
}

// Kind returns the generator identifier.
func (g *RandomFee) Kind() types.GeneratorKind {
	return types.GeneratorRandomFee
}

// Generate spends liveCells pairwise from the back of the slice. With an
// odd count the last cell is returned untouched. The input slice is not
// modified.
func (g *RandomFee) Generate(liveCells []types.LiveCell, sender, receiver Signer) ([]types.LiveCell, []*types.Transaction, error) {
	n := len(liveCells)
	var leftover []types.LiveCell
	if n%2 == 1 {
		leftover = []types.LiveCell{liveCells[n-1]}
		n--
	}

	txs := make([]*types.Transaction, 0, n/2)
	for n > 0 {
		pair := [2]types.LiveCell{liveCells[n-1], liveCells[n-2]}
		n -= 2

		tx, err := g.build(pair, sender, receiver)
		if err != nil {
			return nil, nil, err
		}
		txs = append(txs, tx)
	}

	if g.metrics != nil {
		g.metrics.RecordTxGenerated(string(g.Kind()), len(txs))
	}
	g.logger.Debug("generated transactions",
		slog.Int("cells", len(liveCells)),
		slog.Int("transactions", len(txs)),
		slog.Int("leftover", len(leftover)),
	)
	return leftover, txs, nil
}

func (g *RandomFee) build(pair [2]types.LiveCell, sender, receiver Signer) (*types.Transaction, error) {
	inputCapacity, err := types.InputCapacity(pair[:])
	if err != nil {
		return nil, fmt.Errorf("sum input capacities: %w", err)
	}

	output := types.CellOutput{Lock: receiver.LockScript()}
	occupied, err := output.OccupiedCapacity()
	if err != nil {
		return nil, fmt.Errorf("occupied capacity: %w", err)
	}
	output.Capacity = occupied
	output2 := output

	fee, err := inputCapacity.SafeSub(output.Capacity)
	if err == nil {
		fee, err = fee.SafeSub(output2.Capacity)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: inputs %s and %s hold %s shannons, outputs need %s",
			ErrInsufficientCapacity, pair[0].OutPoint, pair[1].OutPoint, inputCapacity, occupied+occupied)
	}

	if fee > 0 {
		// The bump never exceeds the surplus, so the fee stays non-negative
		// even when the draw range is widened to minFeeRange.
		bump := types.Capacity(g.rand.Uint64N(max(minFeeRange, fee.Shannons())))
		bump = min(bump, fee)
		if output2.Capacity, err = output2.Capacity.SafeAdd(bump); err != nil {
			return nil, fmt.Errorf("bump output capacity: %w", err)
		}
	}

	tx := &types.Transaction{
		CellDeps: []types.CellDep{sender.DepOutPoint()},
		Inputs: []types.CellInput{
			{PreviousOutput: pair[0].OutPoint},
			{PreviousOutput: pair[1].OutPoint},
		},
		Outputs: []types.CellOutput{output, output2},
	}

	sig, err := sender.Sign(tx.SigningMessage())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSigning, err)
	}
	// Both inputs belong to the sender, so they share one witness.
	tx.Witnesses = [][]byte{sig, bytes.Clone(sig)}
	return tx, nil
}
