// Package bench runs one benchmark: load cells, generate and broadcast
// transactions, wait for the network to stabilize, then drain the pools.
package bench

import (
	"slices"
	"sync"
	"time"

	"github.com/gateway-fm/cellbench/internal/metrics"
	"github.com/gateway-fm/cellbench/pkg/types"
)

// defaultHistory is how many evaluations the tracker keeps.
const defaultHistory = 1000

// Tracker holds the live status of a benchmark run. It is safe for
// concurrent use by the runner and the HTTP API.
type Tracker struct {
	mu          sync.RWMutex
	status      types.BenchStatus
	evaluations []types.Evaluation
	maxHistory  int

	metrics *metrics.PrometheusMetrics
}

// NewTracker creates an idle tracker. metrics may be nil.
func NewTracker(m *metrics.PrometheusMetrics) *Tracker {
	return &Tracker{
		status:     types.BenchStatus{Phase: types.PhaseIdle},
		maxHistory: defaultHistory,
		metrics:    m,
	}
}

// Start resets the tracker for a new run.
func (t *Tracker) Start(strategy string) {
	now := time.Now()
	t.mu.Lock()
	t.status = types.BenchStatus{
		Phase:     types.PhaseIdle,
		Strategy:  strategy,
		StartedAt: &now,
	}
	t.evaluations = nil
	t.mu.Unlock()
}

// SetPhase records the current phase.
func (t *Tracker) SetPhase(p types.BenchPhase) {
	t.mu.Lock()
	t.status.Phase = p
	t.mu.Unlock()
	if t.metrics != nil {
		t.metrics.SetPhase(p)
	}
}

// SetCellsAvailable records the size of the loaded inventory.
func (t *Tracker) SetCellsAvailable(n int) {
	t.mu.Lock()
	t.status.CellsAvailable = n
	t.mu.Unlock()
}

// SetGenerated records how many transactions were generated.
func (t *Tracker) SetGenerated(n int) {
	t.mu.Lock()
	t.status.TxGenerated = n
	t.mu.Unlock()
}

// RecordSend counts one broadcast outcome.
func (t *Tracker) RecordSend(err error) {
	t.mu.Lock()
	if err != nil {
		t.status.TxFailed++
	} else {
		t.status.TxSent++
	}
	t.mu.Unlock()
}

// RecordEvaluation stores a monitor evaluation.
func (t *Tracker) RecordEvaluation(e types.Evaluation) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.evaluations = append(t.evaluations, e)
	if len(t.evaluations) > t.maxHistory {
		t.evaluations = t.evaluations[len(t.evaluations)-t.maxHistory:]
	}
	t.status.Evaluations++
	t.status.LastEvaluation = &e
	t.status.TipNumber = max(t.status.TipNumber, e.Metrics.EndBlockNumber)
}

// SetResult stores the metrics of the stable window.
func (t *Tracker) SetResult(m types.Metrics) {
	t.mu.Lock()
	t.status.Result = &m
	t.mu.Unlock()
}

// SetSendLatency stores the broadcast's send latency summary.
func (t *Tracker) SetSendLatency(l *types.LatencyStats) {
	t.mu.Lock()
	t.status.SendLatency = l
	t.mu.Unlock()
}

// Complete marks the run finished.
func (t *Tracker) Complete() {
	now := time.Now()
	t.mu.Lock()
	t.status.CompletedAt = &now
	t.mu.Unlock()
	t.SetPhase(types.PhaseCompleted)
}

// Fail marks the run failed with err.
func (t *Tracker) Fail(err error) {
	now := time.Now()
	t.mu.Lock()
	t.status.CompletedAt = &now
	t.status.Error = err.Error()
	t.mu.Unlock()
	t.SetPhase(types.PhaseError)
}

// Status returns a snapshot of the current status.
func (t *Tracker) Status() types.BenchStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := t.status
	if s.LastEvaluation != nil {
		e := *s.LastEvaluation
		s.LastEvaluation = &e
	}
	if s.Result != nil {
		r := *s.Result
		s.Result = &r
	}
	if s.SendLatency != nil {
		l := *s.SendLatency
		l.Buckets = slices.Clone(l.Buckets)
		s.SendLatency = &l
	}
	return s
}

// Evaluations returns up to limit of the most recent evaluations, oldest
// first. A limit of zero or less returns all of them.
func (t *Tracker) Evaluations(limit int) []types.Evaluation {
	t.mu.RLock()
	defer t.mu.RUnlock()

	evals := t.evaluations
	if limit > 0 && len(evals) > limit {
		evals = evals[len(evals)-limit:]
	}
	out := make([]types.Evaluation, len(evals))
	copy(out, evals)
	return out
}
