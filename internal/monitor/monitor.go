// Package monitor watches a ledger network until its throughput is stable
// and summarizes the observed blocks.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gateway-fm/cellbench/internal/metrics"
	"github.com/gateway-fm/cellbench/pkg/types"
)

var (
	// ErrBlockNotFound is returned when no endpoint has a block the
	// confirmed tip says should exist.
	ErrBlockNotFound = errors.New("block not found")

	// ErrNoBlocks is returned when metrics are requested over no blocks.
	ErrNoBlocks = errors.New("no blocks to evaluate")

	// ErrDegenerateWindow is returned when a block window spans no time.
	ErrDegenerateWindow = errors.New("block window spans zero milliseconds")

	// ErrNotStabilized is returned when a bounded wait ends before the
	// network became stable.
	ErrNotStabilized = errors.New("network did not stabilize")
)

// NodeCounter reports node counts at evaluation time.
type NodeCounter interface {
	NetworkNodes(ctx context.Context) (uint64, error)
	BenchNodes() uint64
}

// TxPoolReporter is one endpoint able to report its pool counters.
type TxPoolReporter interface {
	URL() string
	TxPoolInfo(ctx context.Context) (*types.TxPoolInfo, error)
}

// Network is the confirmed chain view the monitor polls.
type Network interface {
	NodeCounter

	ConfirmedTipNumber(ctx context.Context) (uint64, error)
	ConfirmedTipBlock(ctx context.Context) (*types.Block, error)
	// BlockByNumber returns nil, nil when the block is absent.
	BlockByNumber(ctx context.Context, number uint64) (*types.Block, error)
	Endpoints() []TxPoolReporter
}

// BlockRangeFetcher is implemented by networks that can fetch several
// blocks in one round trip.
type BlockRangeFetcher interface {
	BlocksByNumber(ctx context.Context, numbers []uint64) ([]*types.Block, error)
}

// Config for the monitor. Zero values select the defaults.
type Config struct {
	PollInterval    time.Duration // default 1s
	LogInterval     time.Duration // default 60s
	FetchRetries    int           // default 5
	FetchBackoff    time.Duration // default 200ms
	MaxFetchBackoff time.Duration // default 5s

	// Observer receives every evaluation, stable or not.
	Observer func(types.Evaluation)
	// OnPhase is called when the monitor moves between warmup, measuring
	// and draining.
	OnPhase func(types.BenchPhase)

	Metrics *metrics.PrometheusMetrics // optional
	Logger  *slog.Logger
}

// DefaultConfig returns the default monitor configuration.
func DefaultConfig() Config {
	return Config{
		PollInterval:    time.Second,
		LogInterval:     time.Minute,
		FetchRetries:    5,
		FetchBackoff:    200 * time.Millisecond,
		MaxFetchBackoff: 5 * time.Second,
	}
}

// Monitor polls a Network.
type Monitor struct {
	net Network
	cfg Config

	metrics *metrics.PrometheusMetrics
	logger  *slog.Logger
}

// New creates a monitor over net.
func New(net Network, cfg Config) *Monitor {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.LogInterval <= 0 {
		cfg.LogInterval = def.LogInterval
	}
	if cfg.FetchRetries <= 0 {
		cfg.FetchRetries = def.FetchRetries
	}
	if cfg.FetchBackoff <= 0 {
		cfg.FetchBackoff = def.FetchBackoff
	}
	if cfg.MaxFetchBackoff < cfg.FetchBackoff {
		cfg.MaxFetchBackoff = max(def.MaxFetchBackoff, cfg.FetchBackoff)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Monitor{
		net:     net,
		cfg:     cfg,
		metrics: cfg.Metrics,
		logger:  logger,
	}
}

// WaitNetworkStabled blocks until strategy declares the network stable and
// returns the metrics of the deciding window.
func (m *Monitor) WaitNetworkStabled(ctx context.Context, strategy Strategy) (*types.Metrics, error) {
	if strategy == nil {
		strategy = DefaultStrategy()
	}
	if err := strategy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid strategy %s: %w", strategy, err)
	}

	m.logger.Info("waiting for network to stabilize", slog.String("strategy", strategy.String()))
	start := time.Now()

	result, err := strategy.await(ctx, m)
	if err != nil {
		return nil, err
	}

	m.logger.Info("network stabilized",
		slog.String("strategy", strategy.String()),
		slog.Duration("waited", time.Since(start)),
		slog.Any("metrics", result),
	)
	return result, nil
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// withRetry runs op until it succeeds, the retry budget is spent, or ctx
// is done. Backoff doubles up to MaxFetchBackoff.
func (m *Monitor) withRetry(ctx context.Context, what string, op func() error) error {
	backoff := m.cfg.FetchBackoff
	var lastErr error

	for attempt := 0; attempt <= m.cfg.FetchRetries; attempt++ {
		if attempt > 0 {
			if m.metrics != nil {
				m.metrics.RecordFetchRetry()
			}
			if err := sleep(ctx, backoff); err != nil {
				return err
			}
			backoff = min(backoff*2, m.cfg.MaxFetchBackoff)
		}

		err := op()
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}

		m.logger.Debug("fetch failed, retrying",
			slog.String("what", what),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()),
		)
	}
	return fmt.Errorf("%s: %w", what, lastErr)
}

func (m *Monitor) confirmedTip(ctx context.Context) (uint64, error) {
	var tip uint64
	err := m.withRetry(ctx, "confirmed tip", func() error {
		var err error
		tip, err = m.net.ConfirmedTipNumber(ctx)
		return err
	})
	if err == nil && m.metrics != nil {
		m.metrics.SetTipNumber(tip)
	}
	return tip, err
}

// waitForTip polls until the confirmed tip reaches target and returns the
// tip observed.
func (m *Monitor) waitForTip(ctx context.Context, target uint64, stage string) (uint64, error) {
	lastLog := time.Now()
	for {
		tip, err := m.confirmedTip(ctx)
		if err != nil {
			return 0, err
		}
		if tip >= target {
			return tip, nil
		}

		if time.Since(lastLog) >= m.cfg.LogInterval {
			m.logger.Info("waiting for blocks",
				slog.String("stage", stage),
				slog.Uint64("tip", tip),
				slog.Uint64("target", target),
			)
			lastLog = time.Now()
		}

		if err := sleep(ctx, m.cfg.PollInterval); err != nil {
			return 0, err
		}
	}
}

func (m *Monitor) fetchBlock(ctx context.Context, number uint64) (*types.Block, error) {
	var block *types.Block
	err := m.withRetry(ctx, fmt.Sprintf("block %d", number), func() error {
		b, err := m.net.BlockByNumber(ctx, number)
		if err != nil {
			return err
		}
		if b == nil {
			return ErrBlockNotFound
		}
		block = b
		return nil
	})
	return block, err
}

// fetchRange returns blocks [from, to) in order.
func (m *Monitor) fetchRange(ctx context.Context, from, to uint64) ([]*types.Block, error) {
	if to <= from {
		return nil, nil
	}
	blocks := make([]*types.Block, 0, to-from)

	if rf, ok := m.net.(BlockRangeFetcher); ok {
		numbers := make([]uint64, 0, to-from)
		for n := from; n < to; n++ {
			numbers = append(numbers, n)
		}
		batch, err := rf.BlocksByNumber(ctx, numbers)
		if err == nil && len(batch) == len(numbers) {
			for i, b := range batch {
				if b == nil {
					// Single fetches fall back to the other endpoints.
					if b, err = m.fetchBlock(ctx, numbers[i]); err != nil {
						return nil, err
					}
				}
				blocks = append(blocks, b)
			}
			return blocks, nil
		}
		if err != nil {
			m.logger.Debug("batch block fetch failed, fetching one by one", slog.String("error", err.Error()))
		}
	}

	for n := from; n < to; n++ {
		b, err := m.fetchBlock(ctx, n)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}

func (m *Monitor) setPhase(p types.BenchPhase) {
	if m.cfg.OnPhase != nil {
		m.cfg.OnPhase(p)
	}
}

// report logs an evaluation and hands it to the observer.
func (m *Monitor) report(result *types.Metrics, spread uint64, stable bool) {
	m.logger.Info("evaluated block window",
		slog.Any("metrics", result),
		slog.Uint64("spread", spread),
		slog.Bool("stable", stable),
	)
	if m.metrics != nil {
		m.metrics.RecordEvaluation(*result, spread)
	}
	if m.cfg.Observer != nil {
		m.cfg.Observer(types.Evaluation{
			Metrics:     *result,
			Spread:      spread,
			Stable:      stable,
			EvaluatedAt: time.Now(),
		})
	}
}
