package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/gateway-fm/cellbench/internal/metrics"
	"github.com/gateway-fm/cellbench/internal/pattern"
	"github.com/gateway-fm/cellbench/internal/sender"
	"github.com/gateway-fm/cellbench/pkg/types"
)

var errMockSendFailed = errors.New("mock send failed")

// mockSubmitter rejects the transactions listed in reject.
type mockSubmitter struct {
	sendCount atomic.Int32
	reject    map[common.Hash]bool
}

func (m *mockSubmitter) SendTransaction(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	m.sendCount.Add(1)
	if m.reject[tx.Hash()] {
		return common.Hash{}, errMockSendFailed
	}
	return tx.Hash(), nil
}

func makeTxs(n int) []*types.Transaction {
	txs := make([]*types.Transaction, n)
	for i := range txs {
		txs[i] = &types.Transaction{Inputs: []types.CellInput{{PreviousOutput: types.OutPoint{Index: uint32(i)}}}}
	}
	return txs
}

func newTestPipeline(t *testing.T, sub *mockSubmitter, cfg Config) *Pipeline {
	t.Helper()
	s, err := sender.New(sender.Config{Submitters: []sender.Submitter{sub}, Concurrency: 4})
	if err != nil {
		t.Fatalf("sender.New() error = %v", err)
	}
	cfg.Sender = s
	return New(cfg)
}

func TestBroadcastCountsOutcomes(t *testing.T) {
	txs := makeTxs(10)
	sub := &mockSubmitter{reject: map[common.Hash]bool{txs[3].Hash(): true, txs[7].Hash(): true}}
	m := metrics.NewPrometheusMetrics(prometheus.NewRegistry())

	var mu sync.Mutex
	var results int
	p := newTestPipeline(t, sub, Config{
		Metrics: m,
		OnResult: func(*types.Transaction, error) {
			mu.Lock()
			results++
			mu.Unlock()
		},
	})

	res, err := p.Broadcast(context.Background(), txs)
	if err != nil {
		t.Fatalf("Broadcast() error = %v", err)
	}
	if res.Sent != 8 || res.Failed != 2 {
		t.Errorf("sent/failed = %d/%d, want 8/2", res.Sent, res.Failed)
	}
	if len(res.Accepted) != 8 {
		t.Errorf("accepted = %d, want 8", len(res.Accepted))
	}
	for _, tx := range res.Accepted {
		if sub.reject[tx.Hash()] {
			t.Errorf("rejected tx %s reported as accepted", tx.Hash())
		}
	}
	if results != 10 {
		t.Errorf("OnResult called %d times, want 10", results)
	}
	if res.Latency == nil || res.Latency.Count != 10 {
		t.Errorf("Latency = %+v, want 10 samples", res.Latency)
	}
	if got := testutil.ToFloat64(m.TxBroadcast.WithLabelValues("sent")); got != 8 {
		t.Errorf("sent metric = %v, want 8", got)
	}
	if got := testutil.ToFloat64(m.TxBroadcast.WithLabelValues("failed")); got != 2 {
		t.Errorf("failed metric = %v, want 2", got)
	}
}

func TestBroadcastIsPaced(t *testing.T) {
	sub := &mockSubmitter{}
	p := newTestPipeline(t, sub, Config{RatePerSecond: 100, Burst: 1})

	start := time.Now()
	res, err := p.Broadcast(context.Background(), makeTxs(6))
	if err != nil {
		t.Fatalf("Broadcast() error = %v", err)
	}
	// Five waits of 10ms after the first token.
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("elapsed = %v, want >= 40ms", elapsed)
	}
	if res.Sent != 6 {
		t.Errorf("sent = %d, want 6", res.Sent)
	}
}

func TestBroadcastFollowsPattern(t *testing.T) {
	sub := &mockSubmitter{}
	// The pattern drops to 10/s at once and overrides the 1000/s rate.
	p := newTestPipeline(t, sub, Config{
		RatePerSecond: 1000,
		Pattern:       pattern.Ramp{Start: 0, End: 10, Duration: time.Nanosecond},
		Burst:         1,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	res, err := p.Broadcast(ctx, makeTxs(20))
	if err == nil {
		t.Fatal("Broadcast() error = nil, want throttled broadcast to time out")
	}
	if res.Sent >= 20 {
		t.Errorf("sent = %d, want fewer than 20 at 10/s", res.Sent)
	}
}

func TestBroadcastStopsOnCancel(t *testing.T) {
	sub := &mockSubmitter{}
	p := newTestPipeline(t, sub, Config{RatePerSecond: 10, Burst: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res, err := p.Broadcast(ctx, makeTxs(100))
	if err == nil {
		t.Fatal("Broadcast() error = nil, want cancellation")
	}
	if res == nil || res.Sent >= 100 {
		t.Errorf("result = %+v, want partial broadcast", res)
	}
	if got := int(sub.sendCount.Load()); uint64(got) != res.Sent+res.Failed {
		t.Errorf("sendCount = %d, want %d", got, res.Sent+res.Failed)
	}
}

func TestBroadcastEmpty(t *testing.T) {
	p := newTestPipeline(t, &mockSubmitter{}, Config{})

	res, err := p.Broadcast(context.Background(), nil)
	if err != nil {
		t.Fatalf("Broadcast() error = %v", err)
	}
	if res.Sent != 0 || res.Failed != 0 {
		t.Errorf("result = %+v, want zero counts", res)
	}
	if res.Latency != nil {
		t.Errorf("Latency = %+v, want nil", res.Latency)
	}
}
