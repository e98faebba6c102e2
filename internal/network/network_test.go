package network

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/cellbench/internal/monitor"
	"github.com/gateway-fm/cellbench/internal/rpc"
	"github.com/gateway-fm/cellbench/pkg/types"
)

type mockClient struct {
	url      string
	tip      uint64
	tipErr   error
	blocks   map[uint64]*types.Block
	blockErr error
	peers    int
	pool     types.TxPoolInfo
	batches  [][]uint64
}

var _ rpc.Client = (*mockClient)(nil)

func (c *mockClient) URL() string { return c.url }

func (c *mockClient) Call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	return nil, errors.New("not implemented")
}

func (c *mockClient) BatchCall(ctx context.Context, calls []rpc.BatchRequest) ([]rpc.BatchResponse, error) {
	return nil, errors.New("not implemented")
}

func (c *mockClient) GetTipBlockNumber(ctx context.Context) (uint64, error) {
	return c.tip, c.tipErr
}

func (c *mockClient) GetBlockByNumber(ctx context.Context, number uint64) (*types.Block, error) {
	if c.blockErr != nil {
		return nil, c.blockErr
	}
	return c.blocks[number], nil
}

func (c *mockClient) GetBlocksByNumberBatch(ctx context.Context, numbers []uint64) ([]*types.Block, error) {
	c.batches = append(c.batches, numbers)
	out := make([]*types.Block, len(numbers))
	for i, n := range numbers {
		out[i] = c.blocks[n]
	}
	return out, nil
}

func (c *mockClient) TxPoolInfo(ctx context.Context) (*types.TxPoolInfo, error) {
	info := c.pool
	return &info, nil
}

func (c *mockClient) GetPeers(ctx context.Context) (int, error) {
	return c.peers, nil
}

func (c *mockClient) SendTransaction(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	return tx.Hash(), nil
}

func (c *mockClient) GetCells(ctx context.Context, lock types.Script, limit uint64, cursor string) (*rpc.CellsPage, error) {
	return &rpc.CellsPage{}, nil
}

func TestNewRequiresEndpoints(t *testing.T) {
	if _, err := New(nil, 0, nil); !errors.Is(err, ErrNoEndpoints) {
		t.Errorf("New() error = %v, want ErrNoEndpoints", err)
	}
	if _, err := Dial(Config{}); !errors.Is(err, ErrNoEndpoints) {
		t.Errorf("Dial() error = %v, want ErrNoEndpoints", err)
	}
}

func TestDial(t *testing.T) {
	n, err := Dial(Config{
		URLs:   []string{"http://node-a:8114", "http://node-b:8114"},
		Client: rpc.DefaultClientConfig(""),
	})
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	if got := n.BenchNodes(); got != 2 {
		t.Errorf("BenchNodes() = %d, want 2", got)
	}
	if got := n.Clients()[1].URL(); got != "http://node-b:8114" {
		t.Errorf("Clients()[1].URL() = %q", got)
	}
}

func TestConfirmedTipNumber(t *testing.T) {
	tests := []struct {
		name          string
		tips          []uint64
		confirmations uint64
		want          uint64
	}{
		{name: "lowest tip wins", tips: []uint64{120, 118, 125}, want: 118},
		{name: "confirmation depth", tips: []uint64{120, 118}, confirmations: 3, want: 115},
		{name: "depth larger than chain", tips: []uint64{2}, confirmations: 5, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clients := make([]rpc.Client, len(tt.tips))
			for i, tip := range tt.tips {
				clients[i] = &mockClient{tip: tip}
			}
			n, err := New(clients, tt.confirmations, nil)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			got, err := n.ConfirmedTipNumber(context.Background())
			if err != nil {
				t.Fatalf("ConfirmedTipNumber() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ConfirmedTipNumber() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestConfirmedTipNumberError(t *testing.T) {
	n, _ := New([]rpc.Client{&mockClient{tip: 5}, &mockClient{url: "http://b", tipErr: errors.New("timeout")}}, 0, nil)
	if _, err := n.ConfirmedTipNumber(context.Background()); err == nil {
		t.Error("ConfirmedTipNumber() error = nil, want error")
	}
}

func TestBlockByNumberFallsBack(t *testing.T) {
	block := &types.Block{Number: 9, TimestampMs: 9000}
	primary := &mockClient{url: "http://a", blockErr: errors.New("HTTP 503")}
	secondary := &mockClient{url: "http://b", blocks: map[uint64]*types.Block{9: block}}
	n, _ := New([]rpc.Client{primary, secondary}, 0, nil)

	got, err := n.BlockByNumber(context.Background(), 9)
	if err != nil {
		t.Fatalf("BlockByNumber() error = %v", err)
	}
	if got != block {
		t.Errorf("BlockByNumber() = %+v, want %+v", got, block)
	}

	// Absent on the healthy endpoint while the other fails: the failure surfaces.
	got, err = n.BlockByNumber(context.Background(), 10)
	if err == nil {
		t.Fatal("BlockByNumber() error = nil, want primary failure")
	}
	if got != nil {
		t.Errorf("BlockByNumber() = %+v, want nil", got)
	}

	healthy, _ := New([]rpc.Client{secondary}, 0, nil)
	got, err = healthy.BlockByNumber(context.Background(), 10)
	if err != nil || got != nil {
		t.Errorf("BlockByNumber() = %+v, %v; want nil, nil", got, err)
	}
}

func TestConfirmedTipBlock(t *testing.T) {
	c := &mockClient{tip: 12, blocks: map[uint64]*types.Block{10: {Number: 10}}}
	n, _ := New([]rpc.Client{c}, 2, nil)

	b, err := n.ConfirmedTipBlock(context.Background())
	if err != nil {
		t.Fatalf("ConfirmedTipBlock() error = %v", err)
	}
	if b.Number != 10 {
		t.Errorf("Number = %d, want 10", b.Number)
	}

	c.tip = 20
	if _, err := n.ConfirmedTipBlock(context.Background()); !errors.Is(err, monitor.ErrBlockNotFound) {
		t.Errorf("ConfirmedTipBlock() error = %v, want ErrBlockNotFound", err)
	}
}

func TestNodeCountsAndEndpoints(t *testing.T) {
	a := &mockClient{url: "http://a", peers: 3, pool: types.TxPoolInfo{Pending: 1}}
	b := &mockClient{url: "http://b", peers: 5}
	n, _ := New([]rpc.Client{a, b}, 0, nil)

	nodes, err := n.NetworkNodes(context.Background())
	if err != nil {
		t.Fatalf("NetworkNodes() error = %v", err)
	}
	if nodes != 6 {
		t.Errorf("NetworkNodes() = %d, want 6", nodes)
	}
	if got := n.BenchNodes(); got != 2 {
		t.Errorf("BenchNodes() = %d, want 2", got)
	}

	endpoints := n.Endpoints()
	if len(endpoints) != 2 || endpoints[0].URL() != "http://a" {
		t.Fatalf("Endpoints() = %v", endpoints)
	}
	empty, err := monitor.IsTxPoolEmpty(context.Background(), endpoints)
	if err != nil || empty {
		t.Errorf("IsTxPoolEmpty() = %v, %v; want false, nil", empty, err)
	}
}

func TestBlocksByNumberUsesPreferredEndpoint(t *testing.T) {
	a := &mockClient{blocks: map[uint64]*types.Block{1: {Number: 1}, 2: {Number: 2}}}
	b := &mockClient{}
	n, _ := New([]rpc.Client{a, b}, 0, nil)

	blocks, err := n.BlocksByNumber(context.Background(), []uint64{1, 2})
	if err != nil {
		t.Fatalf("BlocksByNumber() error = %v", err)
	}
	if len(blocks) != 2 || blocks[1].Number != 2 {
		t.Errorf("BlocksByNumber() = %v", blocks)
	}
	if len(a.batches) != 1 || len(b.batches) != 0 {
		t.Errorf("batches = %d/%d, want 1/0", len(a.batches), len(b.batches))
	}
}

func TestCheckEndpoints(t *testing.T) {
	down := errors.New("connection refused")
	n, _ := New([]rpc.Client{
		&mockClient{url: "http://a", tip: 3},
		&mockClient{url: "http://b", tipErr: down},
	}, 0, nil)

	got := n.CheckEndpoints(context.Background())
	if len(got) != 2 {
		t.Fatalf("CheckEndpoints() len = %d, want 2", len(got))
	}
	if got["http://a"] != nil {
		t.Errorf("http://a error = %v, want nil", got["http://a"])
	}
	if !errors.Is(got["http://b"], down) {
		t.Errorf("http://b error = %v, want %v", got["http://b"], down)
	}
}
