// Package rpc provides a JSON-RPC client for cell ledger nodes with retry logic.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/gateway-fm/cellbench/internal/metrics"
	"github.com/gateway-fm/cellbench/pkg/types"
)

// Client is the interface for JSON-RPC communication with one node.
type Client interface {
	// URL returns the endpoint this client talks to.
	URL() string

	// Call makes a JSON-RPC call.
	Call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error)

	// BatchCall makes multiple JSON-RPC calls in a single HTTP request.
	BatchCall(ctx context.Context, calls []BatchRequest) ([]BatchResponse, error)

	// GetTipBlockNumber returns the node's current tip.
	GetTipBlockNumber(ctx context.Context) (uint64, error)

	// GetBlockByNumber fetches a block. It returns nil, nil when the node
	// does not have the block.
	GetBlockByNumber(ctx context.Context, number uint64) (*types.Block, error)

	// GetBlocksByNumberBatch fetches several blocks in one request. Missing
	// blocks are nil entries.
	GetBlocksByNumberBatch(ctx context.Context, numbers []uint64) ([]*types.Block, error)

	// TxPoolInfo returns the pending and proposed pool sizes.
	TxPoolInfo(ctx context.Context) (*types.TxPoolInfo, error)

	// GetPeers returns the number of peers the node is connected to.
	GetPeers(ctx context.Context) (int, error)

	// SendTransaction submits a signed transaction and returns its hash.
	SendTransaction(ctx context.Context, tx *types.Transaction) (common.Hash, error)

	// GetCells pages through the indexer's live cells guarded by lock.
	GetCells(ctx context.Context, lock types.Script, limit uint64, cursor string) (*CellsPage, error)
}

// CellsPage is one page of indexer results.
type CellsPage struct {
	Cells      []types.LiveCell
	LastCursor string
}

// JSONRPCRequest represents a JSON-RPC request.
type JSONRPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

// JSONRPCResponse represents a JSON-RPC response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
	ID      int             `json:"id"`
}

// JSONRPCError represents a JSON-RPC error.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// BatchRequest represents a single request in a batch.
type BatchRequest struct {
	Method string
	Params []interface{}
}

// BatchResponse represents a single response in a batch.
type BatchResponse struct {
	Result json.RawMessage
	Error  error
}

// ClientConfig holds configuration for the RPC client.
type ClientConfig struct {
	URL            string
	Timeout        time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Metrics        *metrics.PrometheusMetrics // optional
	Logger         *slog.Logger
}

// DefaultClientConfig returns default configuration.
func DefaultClientConfig(url string) ClientConfig {
	return ClientConfig{
		URL:            url,
		Timeout:        5 * time.Second,
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
	}
}

// HTTPClient implements Client using HTTP.
type HTTPClient struct {
	url        string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	maxBackoff time.Duration
	metrics    *metrics.PrometheusMetrics
	logger     *slog.Logger
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a new HTTP-based RPC client.
func NewHTTPClient(cfg ClientConfig) *HTTPClient {
	transport := &http.Transport{
		MaxIdleConns:        512,
		MaxIdleConnsPerHost: 256,
		MaxConnsPerHost:     256,
		IdleConnTimeout:     90 * time.Second,
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &HTTPClient{
		url: cfg.URL,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.InitialBackoff,
		maxBackoff: cfg.MaxBackoff,
		metrics:    cfg.Metrics,
		logger:     logger.With(slog.String("endpoint", cfg.URL)),
	}
}

// URL returns the endpoint URL.
func (c *HTTPClient) URL() string {
	return c.url
}

// Call makes a JSON-RPC call with retry logic.
func (c *HTTPClient) Call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	if params == nil {
		params = []interface{}{}
	}
	body, err := json.Marshal(JSONRPCRequest{JSONRPC: "2.0", Method: method, Params: params, ID: 1})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	start := time.Now()
	var result json.RawMessage
	err = c.withRetry(ctx, method, func() error {
		raw, err := c.post(ctx, body)
		if err != nil {
			return err
		}
		var resp JSONRPCResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
		if resp.Error != nil {
			return &RPCError{Code: resp.Error.Code, Message: resp.Error.Message}
		}
		result = resp.Result
		return nil
	})
	if c.metrics != nil {
		c.metrics.RecordRPCLatency(method, err == nil, time.Since(start).Seconds())
	}
	return result, err
}

// BatchCall makes multiple JSON-RPC calls in a single HTTP request.
// Responses are returned in request order regardless of the order the
// node answers in.
func (c *HTTPClient) BatchCall(ctx context.Context, calls []BatchRequest) ([]BatchResponse, error) {
	if len(calls) == 0 {
		return nil, nil
	}

	reqs := make([]JSONRPCRequest, len(calls))
	for i, call := range calls {
		params := call.Params
		if params == nil {
			params = []interface{}{}
		}
		reqs[i] = JSONRPCRequest{JSONRPC: "2.0", Method: call.Method, Params: params, ID: i + 1}
	}
	body, err := json.Marshal(reqs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch request: %w", err)
	}

	var results []BatchResponse
	err = c.withRetry(ctx, "batch", func() error {
		raw, err := c.post(ctx, body)
		if err != nil {
			return err
		}
		var resps []JSONRPCResponse
		if err := json.Unmarshal(raw, &resps); err != nil {
			return fmt.Errorf("failed to unmarshal batch response: %w", err)
		}
		out := make([]BatchResponse, len(calls))
		seen := make([]bool, len(calls))
		for _, r := range resps {
			idx := r.ID - 1
			if idx < 0 || idx >= len(calls) {
				continue
			}
			seen[idx] = true
			if r.Error != nil {
				out[idx].Error = &RPCError{Code: r.Error.Code, Message: r.Error.Message}
				continue
			}
			out[idx].Result = r.Result
		}
		for i, ok := range seen {
			if !ok {
				out[i].Error = fmt.Errorf("missing response for %s (id %d)", calls[i].Method, i+1)
			}
		}
		results = out
		return nil
	})
	return results, err
}

// withRetry runs attempt until it succeeds, fails with a non-retryable
// error, or the retry budget is spent.
func (c *HTTPClient) withRetry(ctx context.Context, method string, attempt func() error) error {
	var lastErr error
	backoff := c.backoff

	for i := 0; i <= c.maxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, c.maxBackoff)
		}

		err := attempt()
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return ctx.Err()
		}

		var httpErr *HTTPStatusError
		if errors.As(err, &httpErr) {
			if !httpErr.IsRetryable() {
				return err
			}
			backoff = getRetryDelay(err, backoff)
		}

		// Application-level errors are final.
		if isRPCError(err) {
			return err
		}

		c.logger.Debug("RPC call failed, retrying",
			slog.String("method", method),
			slog.Int("attempt", i+1),
			slog.String("error", err.Error()),
			slog.Duration("backoff", backoff),
		)
	}

	return fmt.Errorf("all retries failed: %w", lastErr)
}

func (c *HTTPClient) post(ctx context.Context, body []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		var retryAfter time.Duration
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.ParseFloat(ra, 64); err == nil {
				retryAfter = time.Duration(secs * float64(time.Second))
			}
		}
		return nil, &HTTPStatusError{
			StatusCode: resp.StatusCode,
			RetryAfter: retryAfter,
			Body:       string(errBody),
		}
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return respBody, nil
}

// RPCError is an RPC-specific error.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

func isRPCError(err error) bool {
	var rpcErr *RPCError
	return errors.As(err, &rpcErr)
}

// HTTPStatusError represents an HTTP-level error (non-2xx status).
type HTTPStatusError struct {
	StatusCode int
	RetryAfter time.Duration
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("HTTP %d: %s (body: %s)", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// IsRetryable returns true if this HTTP error should be retried.
func (e *HTTPStatusError) IsRetryable() bool {
	// 429 Too Many Requests, 502 Bad Gateway, 503 Service Unavailable, 504 Gateway Timeout
	return e.StatusCode == 429 || e.StatusCode == 502 ||
		e.StatusCode == 503 || e.StatusCode == 504
}

func isRetryableHTTPError(err error) bool {
	var httpErr *HTTPStatusError
	if errors.As(err, &httpErr) {
		return httpErr.IsRetryable()
	}
	return false
}

func getRetryDelay(err error, defaultBackoff time.Duration) time.Duration {
	var httpErr *HTTPStatusError
	if errors.As(err, &httpErr) && httpErr.RetryAfter > 0 {
		return httpErr.RetryAfter
	}
	return defaultBackoff
}

// GetTipBlockNumber returns the node's tip block number.
func (c *HTTPClient) GetTipBlockNumber(ctx context.Context) (uint64, error) {
	result, err := c.Call(ctx, "get_tip_block_number", nil)
	if err != nil {
		return 0, err
	}
	var n hexutil.Uint64
	if err := json.Unmarshal(result, &n); err != nil {
		return 0, fmt.Errorf("failed to unmarshal tip block number: %w", err)
	}
	return uint64(n), nil
}

// GetBlockByNumber fetches a block with its transaction hashes.
func (c *HTTPClient) GetBlockByNumber(ctx context.Context, number uint64) (*types.Block, error) {
	result, err := c.Call(ctx, "get_block_by_number", []interface{}{hexutil.Uint64(number)})
	if err != nil {
		return nil, err
	}
	return parseBlock(result)
}

// GetBlocksByNumberBatch fetches multiple blocks in a single request.
func (c *HTTPClient) GetBlocksByNumberBatch(ctx context.Context, numbers []uint64) ([]*types.Block, error) {
	if len(numbers) == 0 {
		return nil, nil
	}

	calls := make([]BatchRequest, len(numbers))
	for i, n := range numbers {
		calls[i] = BatchRequest{Method: "get_block_by_number", Params: []interface{}{hexutil.Uint64(n)}}
	}

	start := time.Now()
	resps, err := c.BatchCall(ctx, calls)
	if c.metrics != nil {
		c.metrics.RecordRPCLatency("get_block_by_number", err == nil, time.Since(start).Seconds())
	}
	if err != nil {
		return nil, err
	}

	blocks := make([]*types.Block, len(numbers))
	for i, r := range resps {
		if r.Error != nil {
			return nil, fmt.Errorf("block %d: %w", numbers[i], r.Error)
		}
		b, err := parseBlock(r.Result)
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", numbers[i], err)
		}
		blocks[i] = b
	}
	return blocks, nil
}

func parseBlock(data json.RawMessage) (*types.Block, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, nil
	}
	var w wireBlock
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("failed to unmarshal block: %w", err)
	}
	return fromWireBlock(&w), nil
}

// TxPoolInfo returns the pool's pending and proposed counts.
func (c *HTTPClient) TxPoolInfo(ctx context.Context) (*types.TxPoolInfo, error) {
	result, err := c.Call(ctx, "tx_pool_info", nil)
	if err != nil {
		return nil, err
	}
	var w wireTxPoolInfo
	if err := json.Unmarshal(result, &w); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tx pool info: %w", err)
	}
	return &types.TxPoolInfo{Pending: uint64(w.Pending), Proposed: uint64(w.Proposed)}, nil
}

// GetPeers returns the number of connected peers.
func (c *HTTPClient) GetPeers(ctx context.Context) (int, error) {
	result, err := c.Call(ctx, "get_peers", nil)
	if err != nil {
		return 0, err
	}
	var peers []json.RawMessage
	if err := json.Unmarshal(result, &peers); err != nil {
		return 0, fmt.Errorf("failed to unmarshal peers: %w", err)
	}
	return len(peers), nil
}

// SendTransaction submits tx with the passthrough outputs validator.
func (c *HTTPClient) SendTransaction(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	result, err := c.Call(ctx, "send_transaction", []interface{}{toWireTransaction(tx), "passthrough"})
	if err != nil {
		return common.Hash{}, err
	}
	var hash common.Hash
	if err := json.Unmarshal(result, &hash); err != nil {
		return common.Hash{}, fmt.Errorf("failed to unmarshal tx hash: %w", err)
	}
	return hash, nil
}

// GetCells returns up to limit live cells locked by lock, starting after
// cursor. An empty cursor starts from the beginning.
func (c *HTTPClient) GetCells(ctx context.Context, lock types.Script, limit uint64, cursor string) (*CellsPage, error) {
	var after interface{}
	if cursor != "" {
		after = cursor
	}
	key := wireSearchKey{Script: toWireScript(lock), ScriptType: "lock"}

	result, err := c.Call(ctx, "get_cells", []interface{}{key, "asc", hexutil.Uint64(limit), after})
	if err != nil {
		return nil, err
	}

	var w wireCellsPage
	if err := json.Unmarshal(result, &w); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cells: %w", err)
	}
	page := &CellsPage{Cells: make([]types.LiveCell, 0, len(w.Objects)), LastCursor: w.LastCursor}
	for _, obj := range w.Objects {
		cell, err := fromWireCell(obj)
		if err != nil {
			return nil, fmt.Errorf("cell %s: %w", obj.OutPoint.TxHash, err)
		}
		page.Cells = append(page.Cells, cell)
	}
	return page, nil
}
