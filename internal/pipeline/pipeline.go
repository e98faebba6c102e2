// Package pipeline broadcasts generated transactions at a paced rate.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/time/rate"

	"github.com/gateway-fm/cellbench/internal/metrics"
	"github.com/gateway-fm/cellbench/internal/pattern"
	"github.com/gateway-fm/cellbench/internal/sender"
	"github.com/gateway-fm/cellbench/pkg/types"
)

// Result contains the outcome of one broadcast.
type Result struct {
	Sent   uint64
	Failed uint64
	// Accepted holds the transactions a node accepted, in completion order.
	Accepted []*types.Transaction
	Duration time.Duration
	// Latency summarizes submitter round trips; nil when nothing was sent.
	Latency *types.LatencyStats
}

// Pipeline paces transactions into a sender.
type Pipeline struct {
	sender   *sender.Sender
	limiter  *rate.Limiter
	pattern  pattern.Pattern
	metrics  *metrics.PrometheusMetrics
	onResult func(tx *types.Transaction, err error)
	logger   *slog.Logger
}

// Config for creating a Pipeline.
type Config struct {
	Sender *sender.Sender
	// RatePerSecond caps submissions; zero means unlimited.
	RatePerSecond float64
	// Pattern, when set, replaces RatePerSecond with a rate that varies
	// over the broadcast.
	Pattern pattern.Pattern
	// Burst is the token bucket size (default: 1).
	Burst   int
	Metrics *metrics.PrometheusMetrics // optional
	// OnResult is called once per transaction from the sending goroutine.
	OnResult func(tx *types.Transaction, err error)
	Logger   *slog.Logger
}

// New creates a new Pipeline.
func New(cfg Config) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	limit := toLimit(cfg.RatePerSecond)
	if cfg.Pattern != nil {
		limit = toLimit(cfg.Pattern.Rate(0))
	}
	burst := max(cfg.Burst, 1)

	return &Pipeline{
		sender:   cfg.Sender,
		limiter:  rate.NewLimiter(limit, burst),
		pattern:  cfg.Pattern,
		metrics:  cfg.Metrics,
		onResult: cfg.OnResult,
		logger:   logger,
	}
}

// Broadcast submits every transaction and waits for all sends to finish.
// Individual send failures are counted, not returned; the error is non-nil
// only when ctx ends the broadcast early.
func (p *Pipeline) Broadcast(ctx context.Context, txs []*types.Transaction) (*Result, error) {
	start := time.Now()
	res := &Result{Accepted: make([]*types.Transaction, 0, len(txs))}
	latency := metrics.NewSendLatency(0)
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)

	callback := func(tx *types.Transaction, _ common.Hash, elapsed time.Duration, err error) {
		defer wg.Done()
		latency.Observe(elapsed)

		mu.Lock()
		if err != nil {
			res.Failed++
		} else {
			res.Sent++
			res.Accepted = append(res.Accepted, tx)
		}
		mu.Unlock()

		if p.metrics != nil {
			if err != nil {
				p.metrics.RecordTxFailed()
			} else {
				p.metrics.RecordTxSent()
			}
		}
		if p.onResult != nil {
			p.onResult(tx, err)
		}
	}

	var runErr error
	for i, tx := range txs {
		if p.pattern != nil {
			p.limiter.SetLimit(toLimit(p.pattern.Rate(time.Since(start))))
		}
		if err := p.limiter.Wait(ctx); err != nil {
			runErr = fmt.Errorf("broadcast stopped after %d of %d transactions: %w", i, len(txs), err)
			break
		}
		wg.Add(1)
		if err := p.sender.Send(ctx, tx, callback); err != nil {
			wg.Done()
			runErr = fmt.Errorf("broadcast stopped after %d of %d transactions: %w", i, len(txs), err)
			break
		}
	}
	wg.Wait()

	res.Duration = time.Since(start)
	res.Latency = latency.Stats()

	attrs := []any{
		slog.Uint64("sent", res.Sent),
		slog.Uint64("failed", res.Failed),
		slog.Int("total", len(txs)),
		slog.Duration("duration", res.Duration),
	}
	if res.Latency != nil {
		attrs = append(attrs,
			slog.Float64("latency_p50_ms", res.Latency.P50),
			slog.Float64("latency_p99_ms", res.Latency.P99),
		)
	}
	p.logger.Info("broadcast finished", attrs...)
	return res, runErr
}

func toLimit(perSecond float64) rate.Limit {
	if perSecond <= 0 {
		return rate.Inf
	}
	return rate.Limit(perSecond)
}
