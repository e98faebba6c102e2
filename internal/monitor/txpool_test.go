package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gateway-fm/cellbench/pkg/types"
)

// mockPool answers with scripted pool counters; the last answer repeats.
type mockPool struct {
	mu      sync.Mutex
	url     string
	answers []types.TxPoolInfo
	errs    int
	calls   int
	served  int
}

var _ TxPoolReporter = (*mockPool)(nil)

func (p *mockPool) URL() string { return p.url }

func (p *mockPool) TxPoolInfo(ctx context.Context) (*types.TxPoolInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.errs > 0 {
		p.errs--
		return nil, errors.New("connection reset")
	}
	info := p.answers[min(p.served, len(p.answers)-1)]
	p.served++
	return &info, nil
}

func TestIsTxPoolEmpty(t *testing.T) {
	empty := types.TxPoolInfo{}
	tests := []struct {
		name      string
		endpoints []TxPoolReporter
		want      bool
		wantErr   bool
	}{
		{
			name:      "all empty",
			endpoints: []TxPoolReporter{&mockPool{answers: []types.TxPoolInfo{empty}}, &mockPool{answers: []types.TxPoolInfo{empty}}},
			want:      true,
		},
		{
			name:      "one pending",
			endpoints: []TxPoolReporter{&mockPool{answers: []types.TxPoolInfo{empty}}, &mockPool{answers: []types.TxPoolInfo{{Pending: 1}}}},
			want:      false,
		},
		{
			name:      "one proposed",
			endpoints: []TxPoolReporter{&mockPool{answers: []types.TxPoolInfo{{Proposed: 3}}}, &mockPool{answers: []types.TxPoolInfo{empty}}},
			want:      false,
		},
		{
			name:      "query failure",
			endpoints: []TxPoolReporter{&mockPool{url: "http://a", errs: 1, answers: []types.TxPoolInfo{empty}}},
			want:      false,
			wantErr:   true,
		},
		{
			name: "no endpoints",
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := IsTxPoolEmpty(context.Background(), tt.endpoints)
			if (err != nil) != tt.wantErr {
				t.Fatalf("IsTxPoolEmpty() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("IsTxPoolEmpty() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWaitTxPoolEmptyRestartsFromFirstEndpoint(t *testing.T) {
	first := &mockPool{answers: []types.TxPoolInfo{{}}}
	second := &mockPool{answers: []types.TxPoolInfo{{Pending: 4}, {Proposed: 2}, {}}, errs: 1}

	net := newMockNetwork([]uint64{0}, nil)
	net.endpoints = []TxPoolReporter{first, second}

	var phases []types.BenchPhase
	cfg := testConfig()
	cfg.OnPhase = func(p types.BenchPhase) { phases = append(phases, p) }

	if err := New(net, cfg).WaitTxPoolEmpty(context.Background()); err != nil {
		t.Fatalf("WaitTxPoolEmpty() error = %v", err)
	}
	// Error, pending, proposed, empty: four passes, each starting at the first endpoint.
	if first.calls != 4 {
		t.Errorf("first endpoint queried %d times, want 4", first.calls)
	}
	if second.calls != 4 {
		t.Errorf("second endpoint queried %d times, want 4", second.calls)
	}
	if len(phases) != 1 || phases[0] != types.PhaseDraining {
		t.Errorf("phases = %v, want [draining]", phases)
	}
}

func TestWaitTxPoolEmptyHonoursCancel(t *testing.T) {
	busy := &mockPool{answers: []types.TxPoolInfo{{Pending: 1}}}
	net := newMockNetwork([]uint64{0}, nil)
	net.endpoints = []TxPoolReporter{busy}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := New(net, testConfig()).WaitTxPoolEmpty(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitTxPoolEmpty() error = %v, want context.DeadlineExceeded", err)
	}
}
