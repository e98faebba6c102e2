// Package network implements the monitor's view of a ledger network over a
// set of JSON-RPC endpoints.
package network

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gateway-fm/cellbench/internal/metrics"
	"github.com/gateway-fm/cellbench/internal/monitor"
	"github.com/gateway-fm/cellbench/internal/rpc"
	"github.com/gateway-fm/cellbench/pkg/types"
)

// ErrNoEndpoints is returned when a Net is created without endpoints.
var ErrNoEndpoints = errors.New("no RPC endpoints configured")

// Config for dialing a network.
type Config struct {
	URLs []string
	// Confirmations is subtracted from the lowest endpoint tip to obtain
	// the confirmed tip.
	Confirmations uint64
	// Client is the template for every endpoint client; URL is overwritten.
	Client  rpc.ClientConfig
	Metrics *metrics.PrometheusMetrics // optional
	Logger  *slog.Logger
}

// Net is a monitor.Network backed by RPC endpoints. The first endpoint is
// preferred for block fetches; the others are fallbacks.
type Net struct {
	clients       []rpc.Client
	confirmations uint64
	logger        *slog.Logger
}

var _ monitor.Network = (*Net)(nil)

// Dial creates HTTP clients for every configured URL.
func Dial(cfg Config) (*Net, error) {
	if len(cfg.URLs) == 0 {
		return nil, ErrNoEndpoints
	}
	clients := make([]rpc.Client, len(cfg.URLs))
	for i, url := range cfg.URLs {
		cc := cfg.Client
		cc.URL = url
		if cc.Metrics == nil {
			cc.Metrics = cfg.Metrics
		}
		if cc.Logger == nil {
			cc.Logger = cfg.Logger
		}
		clients[i] = rpc.NewHTTPClient(cc)
	}
	return New(clients, cfg.Confirmations, cfg.Logger)
}

// New wraps existing clients.
func New(clients []rpc.Client, confirmations uint64, logger *slog.Logger) (*Net, error) {
	if len(clients) == 0 {
		return nil, ErrNoEndpoints
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Net{
		clients:       clients,
		confirmations: confirmations,
		logger:        logger,
	}, nil
}

// Clients returns the underlying endpoint clients.
func (n *Net) Clients() []rpc.Client {
	return n.clients
}

// ConfirmedTipNumber returns the lowest tip across all endpoints minus the
// confirmation depth, so that every endpoint has the returned block.
func (n *Net) ConfirmedTipNumber(ctx context.Context) (uint64, error) {
	var lowest uint64
	for i, c := range n.clients {
		tip, err := c.GetTipBlockNumber(ctx)
		if err != nil {
			return 0, fmt.Errorf("tip from %s: %w", c.URL(), err)
		}
		if i == 0 || tip < lowest {
			lowest = tip
		}
	}
	if lowest < n.confirmations {
		return 0, nil
	}
	return lowest - n.confirmations, nil
}

// ConfirmedTipBlock fetches the block at the confirmed tip.
func (n *Net) ConfirmedTipBlock(ctx context.Context) (*types.Block, error) {
	tip, err := n.ConfirmedTipNumber(ctx)
	if err != nil {
		return nil, err
	}
	b, err := n.BlockByNumber(ctx, tip)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, fmt.Errorf("confirmed tip %d: %w", tip, monitor.ErrBlockNotFound)
	}
	return b, nil
}

// BlockByNumber asks each endpoint in turn and returns the first block
// found. It returns nil, nil when no endpoint has the block.
func (n *Net) BlockByNumber(ctx context.Context, number uint64) (*types.Block, error) {
	var lastErr error
	for _, c := range n.clients {
		b, err := c.GetBlockByNumber(ctx, number)
		if err != nil {
			lastErr = err
			n.logger.Debug("block fetch failed",
				slog.String("endpoint", c.URL()),
				slog.Uint64("block", number),
				slog.String("error", err.Error()),
			)
			continue
		}
		if b != nil {
			return b, nil
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("block %d: %w", number, lastErr)
	}
	return nil, nil
}

// BlocksByNumber fetches a range in one batch from the preferred endpoint.
// Entries the endpoint does not have are nil.
func (n *Net) BlocksByNumber(ctx context.Context, numbers []uint64) ([]*types.Block, error) {
	return n.clients[0].GetBlocksByNumberBatch(ctx, numbers)
}

// NetworkNodes returns the largest peer view across endpoints, counting the
// endpoint itself.
func (n *Net) NetworkNodes(ctx context.Context) (uint64, error) {
	var best uint64
	for _, c := range n.clients {
		peers, err := c.GetPeers(ctx)
		if err != nil {
			return 0, fmt.Errorf("peers from %s: %w", c.URL(), err)
		}
		best = max(best, uint64(peers)+1)
	}
	return best, nil
}

// BenchNodes returns the number of endpoints the benchmark drives.
func (n *Net) BenchNodes() uint64 {
	return uint64(len(n.clients))
}

// Endpoints returns every endpoint as a tx-pool reporter.
func (n *Net) Endpoints() []monitor.TxPoolReporter {
	out := make([]monitor.TxPoolReporter, len(n.clients))
	for i, c := range n.clients {
		out[i] = c
	}
	return out
}

// CheckEndpoints queries every endpoint's tip and reports the failures,
// keyed by endpoint URL. Reachable endpoints map to nil.
func (n *Net) CheckEndpoints(ctx context.Context) map[string]error {
	out := make(map[string]error, len(n.clients))
	for _, c := range n.clients {
		_, err := c.GetTipBlockNumber(ctx)
		out[c.URL()] = err
	}
	return out
}
