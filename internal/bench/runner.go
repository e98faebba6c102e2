package bench

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/gateway-fm/cellbench/internal/generator"
	"github.com/gateway-fm/cellbench/internal/metrics"
	"github.com/gateway-fm/cellbench/internal/monitor"
	"github.com/gateway-fm/cellbench/internal/pattern"
	"github.com/gateway-fm/cellbench/internal/pipeline"
	"github.com/gateway-fm/cellbench/internal/rpc"
	"github.com/gateway-fm/cellbench/internal/sender"
	"github.com/gateway-fm/cellbench/internal/storage"
	"github.com/gateway-fm/cellbench/pkg/types"
)

// DefaultPageSize is the number of cells requested per indexer page.
const DefaultPageSize = 1000

// ErrNoCells is returned when the sender owns fewer than two live cells.
var ErrNoCells = errors.New("not enough live cells to build a transaction")

// CellSource pages through the live cells locked by a script.
type CellSource interface {
	GetCells(ctx context.Context, lock types.Script, limit uint64, cursor string) (*rpc.CellsPage, error)
}

// Identity is a Signer that can name its lock hash for cache lookups.
type Identity interface {
	generator.Signer
	LockHash() common.Hash
}

// Config for creating a Runner.
type Config struct {
	Strategy monitor.Strategy // default: monitor.DefaultStrategy()
	// CellLimit caps the inventory loaded from the indexer; zero means all.
	CellLimit int
	PageSize  uint64 // default: DefaultPageSize
	// UseCache loads the inventory from Store instead of the indexer when
	// the store holds cells for the sender.
	UseCache bool
	// SkipIdleBarrier starts generating without first waiting for empty pools.
	SkipIdleBarrier bool

	RatePerSecond float64
	RatePattern   pattern.Pattern // overrides RatePerSecond when set
	Burst         int

	Network   monitor.Network
	Cells     CellSource
	Store     storage.CellStore // optional
	Generator generator.Generator
	Submit    *sender.Sender
	From      Identity
	To        Identity

	Monitor monitor.Config
	Tracker *Tracker                   // default: NewTracker(Metrics)
	Metrics *metrics.PrometheusMetrics // optional
	Logger  *slog.Logger
}

// Runner executes one benchmark.
type Runner struct {
	cfg      Config
	monitor  *monitor.Monitor
	pipeline *pipeline.Pipeline
	tracker  *Tracker
	logger   *slog.Logger
}

// NewRunner validates cfg and wires the monitor and broadcast pipeline to
// the tracker.
func NewRunner(cfg Config) (*Runner, error) {
	switch {
	case cfg.Network == nil:
		return nil, errors.New("runner needs a network")
	case cfg.Cells == nil && cfg.Store == nil:
		return nil, errors.New("runner needs a cell source or a cell store")
	case cfg.Generator == nil:
		return nil, errors.New("runner needs a generator")
	case cfg.Submit == nil:
		return nil, errors.New("runner needs a sender")
	case cfg.From == nil || cfg.To == nil:
		return nil, errors.New("runner needs sender and receiver identities")
	}

	if cfg.Strategy == nil {
		cfg.Strategy = monitor.DefaultStrategy()
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = DefaultPageSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracker := cfg.Tracker
	if tracker == nil {
		tracker = NewTracker(cfg.Metrics)
	}

	mcfg := cfg.Monitor
	mcfg.Metrics = cfg.Metrics
	mcfg.Logger = logger.With(slog.String("component", "monitor"))
	observer := mcfg.Observer
	mcfg.Observer = func(e types.Evaluation) {
		tracker.RecordEvaluation(e)
		if observer != nil {
			observer(e)
		}
	}
	mcfg.OnPhase = tracker.SetPhase

	p := pipeline.New(pipeline.Config{
		Sender:        cfg.Submit,
		RatePerSecond: cfg.RatePerSecond,
		Pattern:       cfg.RatePattern,
		Burst:         cfg.Burst,
		Metrics:       cfg.Metrics,
		OnResult: func(_ *types.Transaction, err error) {
			tracker.RecordSend(err)
		},
		Logger: logger.With(slog.String("component", "pipeline")),
	})

	return &Runner{
		cfg:      cfg,
		monitor:  monitor.New(cfg.Network, mcfg),
		pipeline: p,
		tracker:  tracker,
		logger:   logger,
	}, nil
}

// Tracker returns the status tracker the runner reports to.
func (r *Runner) Tracker() *Tracker {
	return r.tracker
}

// Run executes the benchmark and returns the metrics of the stable window.
// The tracker ends in PhaseCompleted or PhaseError.
func (r *Runner) Run(ctx context.Context) (*types.Metrics, error) {
	r.tracker.Start(r.cfg.Strategy.String())

	result, err := r.run(ctx)
	if err != nil {
		r.tracker.Fail(err)
		return nil, err
	}
	r.tracker.Complete()
	return result, nil
}

func (r *Runner) run(ctx context.Context) (*types.Metrics, error) {
	if !r.cfg.SkipIdleBarrier {
		r.logger.Info("waiting for idle tx pools before generating")
		if err := r.monitor.WaitTxPoolEmpty(ctx); err != nil {
			return nil, fmt.Errorf("initial idle barrier: %w", err)
		}
	}

	r.tracker.SetPhase(types.PhaseLoadingCells)
	cells, err := r.loadCells(ctx)
	if err != nil {
		return nil, err
	}
	r.tracker.SetCellsAvailable(len(cells))
	if len(cells) < 2 {
		return nil, fmt.Errorf("%w: have %d", ErrNoCells, len(cells))
	}

	r.tracker.SetPhase(types.PhaseGenerating)
	start := time.Now()
	leftover, txs, err := r.cfg.Generator.Generate(cells, r.cfg.From, r.cfg.To)
	if err != nil {
		return nil, fmt.Errorf("generate transactions: %w", err)
	}
	r.tracker.SetGenerated(len(txs))
	r.logger.Info("generated transactions",
		slog.Int("txs", len(txs)),
		slog.Int("leftover", len(leftover)),
		slog.Duration("took", time.Since(start)),
	)

	r.tracker.SetPhase(types.PhaseBroadcasting)
	result, bres, err := r.broadcastAndMonitor(ctx, txs)
	if bres != nil {
		r.tracker.SetSendLatency(bres.Latency)
		r.updateCache(ctx, bres.Accepted)
	}
	if err != nil {
		return nil, err
	}
	r.tracker.SetResult(*result)

	if err := r.monitor.WaitTxPoolEmpty(ctx); err != nil {
		return nil, fmt.Errorf("final idle barrier: %w", err)
	}

	out, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal metrics: %w", err)
	}
	r.logger.Info("benchmark finished", slog.String("metrics", string(out)))
	return result, nil
}

// broadcastAndMonitor sends txs while the monitor waits for stability. A
// failure on either side cancels the other.
func (r *Runner) broadcastAndMonitor(ctx context.Context, txs []*types.Transaction) (*types.Metrics, *pipeline.Result, error) {
	g, gctx := errgroup.WithContext(ctx)

	var bres *pipeline.Result
	g.Go(func() error {
		res, err := r.pipeline.Broadcast(gctx, txs)
		bres = res
		if err != nil {
			return fmt.Errorf("broadcast: %w", err)
		}
		return nil
	})

	var result *types.Metrics
	g.Go(func() error {
		m, err := r.monitor.WaitNetworkStabled(gctx, r.cfg.Strategy)
		if err != nil {
			return fmt.Errorf("wait network stabled: %w", err)
		}
		result = m
		return nil
	})

	err := g.Wait()
	return result, bres, err
}

// loadCells returns the sender's inventory, from the cache when enabled and
// populated, otherwise from the indexer.
func (r *Runner) loadCells(ctx context.Context) ([]types.LiveCell, error) {
	lockHash := r.cfg.From.LockHash()

	if r.cfg.UseCache && r.cfg.Store != nil {
		cells, err := r.cfg.Store.LoadLiveCells(ctx, lockHash)
		if err != nil {
			return nil, fmt.Errorf("load cached cells: %w", err)
		}
		if len(cells) > 0 {
			cells = r.limit(cells)
			r.logger.Info("loaded live cells from cache", slog.Int("cells", len(cells)))
			return cells, nil
		}
		r.logger.Info("cell cache empty, falling back to indexer")
	}

	if r.cfg.Cells == nil {
		return nil, nil
	}
	cells, err := r.fetchCells(ctx)
	if err != nil {
		return nil, err
	}

	if r.cfg.Store != nil {
		if err := r.cfg.Store.PurgeLiveCells(ctx, lockHash); err != nil {
			r.logger.Warn("failed to purge cell cache", slog.String("error", err.Error()))
		} else if err := r.cfg.Store.SaveLiveCells(ctx, cells); err != nil {
			r.logger.Warn("failed to save cell cache", slog.String("error", err.Error()))
		}
	}
	return cells, nil
}

// fetchCells pages through the indexer until it runs dry or CellLimit is
// reached.
func (r *Runner) fetchCells(ctx context.Context) ([]types.LiveCell, error) {
	lock := r.cfg.From.LockScript()
	var (
		cells  []types.LiveCell
		cursor string
	)
	for {
		page, err := r.cfg.Cells.GetCells(ctx, lock, r.cfg.PageSize, cursor)
		if err != nil {
			return nil, fmt.Errorf("fetch live cells: %w", err)
		}
		cells = append(cells, page.Cells...)
		r.tracker.SetCellsAvailable(len(cells))

		if r.cfg.CellLimit > 0 && len(cells) >= r.cfg.CellLimit {
			break
		}
		if len(page.Cells) == 0 || uint64(len(page.Cells)) < r.cfg.PageSize || page.LastCursor == "" {
			break
		}
		cursor = page.LastCursor
	}

	cells = r.limit(cells)
	r.logger.Info("loaded live cells from indexer", slog.Int("cells", len(cells)))
	return cells, nil
}

func (r *Runner) limit(cells []types.LiveCell) []types.LiveCell {
	if r.cfg.CellLimit > 0 && len(cells) > r.cfg.CellLimit {
		return cells[:r.cfg.CellLimit]
	}
	return cells
}

// updateCache replaces the inputs of accepted transactions with their
// outputs. Outputs owned by someone other than the sender are not cached.
func (r *Runner) updateCache(ctx context.Context, accepted []*types.Transaction) {
	if r.cfg.Store == nil || len(accepted) == 0 {
		return
	}

	lockHash := r.cfg.From.LockHash()
	spent := make([]types.OutPoint, 0, 2*len(accepted))
	var created []types.LiveCell
	for _, tx := range accepted {
		for _, in := range tx.Inputs {
			spent = append(spent, in.PreviousOutput)
		}
		for _, c := range tx.LiveOutputs() {
			if c.Output.Lock.Hash() == lockHash {
				created = append(created, c)
			}
		}
	}

	if err := r.cfg.Store.DeleteLiveCells(ctx, spent); err != nil {
		r.logger.Warn("failed to drop spent cells from cache", slog.String("error", err.Error()))
		return
	}
	if err := r.cfg.Store.SaveLiveCells(ctx, created); err != nil {
		r.logger.Warn("failed to cache new cells", slog.String("error", err.Error()))
	}
	r.logger.Debug("updated cell cache", slog.Int("spent", len(spent)), slog.Int("created", len(created)))
}
