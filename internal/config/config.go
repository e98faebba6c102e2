// Package config handles configuration loading and validation.
package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/gateway-fm/cellbench/internal/monitor"
	"github.com/gateway-fm/cellbench/internal/pattern"
	"github.com/gateway-fm/cellbench/pkg/types"
)

// Config holds benchmark configuration.
type Config struct {
	RPCURLs       []string // Node endpoints; blocks are read from the first, sends round-robin
	IndexerURL    string   // Endpoint serving get_cells (default: first RPC URL)
	Confirmations uint64   // Depth subtracted from the tip before a block counts as confirmed
	RPCTimeout    time.Duration

	StrategySpec string // e.g. "custom_blocks_elapsed:20,21"
	Strategy     monitor.Strategy
	PollInterval time.Duration

	SenderKey    string // hex secp256k1 private key owning the input cells
	ReceiverKey  string // defaults to SenderKey
	LockCodeHash common.Hash
	DepTxHash    common.Hash
	DepIndex     uint32

	CellLimit       int
	PageSize        uint64
	RatePerSecond   float64 // 0 = unlimited
	RatePatternSpec string  // e.g. "ramp:100,1000,30s"; overrides RatePerSecond
	RatePattern     pattern.Pattern
	Concurrency     int
	SkipIdleBarrier bool

	DatabasePath string // SQLite live-cell cache; empty disables it
	UseCache     bool
	ListenAddr   string // empty disables the HTTP API
	LogLevel     string
}

// Defaults
const (
	DefaultRPCURL        = "http://localhost:8114"
	DefaultConfirmations = 3
	DefaultRPCTimeout    = 5 * time.Second
	DefaultStrategy      = "custom_blocks_elapsed:20,21"
	DefaultPollInterval  = time.Second
	DefaultPageSize      = 1000
	DefaultConcurrency   = 64
	DefaultDatabasePath  = "./data/cellbench.db"
	DefaultListenAddr    = ":3001"
	DefaultLogLevel      = "info"

	// DefaultLockCodeHash is the secp256k1-blake160 sighash lock's type hash.
	DefaultLockCodeHash = "0x9bd7e06f3ecf4be0f2fcd2188b23f1b9fcc88e5d4b65a8637b17723bbda3cce8"
)

// Load reads configuration from environment variables and the given
// command-line arguments. Flags take precedence over environment variables.
func Load(args []string) (*Config, error) {
	cfg := &Config{
		RPCURLs:       []string{DefaultRPCURL},
		Confirmations: DefaultConfirmations,
		RPCTimeout:    DefaultRPCTimeout,
		StrategySpec:  DefaultStrategy,
		PollInterval:  DefaultPollInterval,
		PageSize:      DefaultPageSize,
		Concurrency:   DefaultConcurrency,
		DatabasePath:  DefaultDatabasePath,
		ListenAddr:    DefaultListenAddr,
		LogLevel:      DefaultLogLevel,
	}
	lockCodeHash := DefaultLockCodeHash
	depTxHash := ""

	// Load from environment variables first
	if v := os.Getenv("RPC_URLS"); v != "" {
		cfg.RPCURLs = splitList(v)
	}
	if v := os.Getenv("INDEXER_URL"); v != "" {
		cfg.IndexerURL = v
	}
	if v := os.Getenv("CONFIRMATIONS"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Confirmations = n
		}
	}
	if v := os.Getenv("STRATEGY"); v != "" {
		cfg.StrategySpec = v
	}
	if v := os.Getenv("POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.PollInterval = d
		}
	}
	if v := os.Getenv("SENDER_KEY"); v != "" {
		cfg.SenderKey = v
	}
	if v := os.Getenv("RECEIVER_KEY"); v != "" {
		cfg.ReceiverKey = v
	}
	if v := os.Getenv("LOCK_CODE_HASH"); v != "" {
		lockCodeHash = v
	}
	if v := os.Getenv("DEP_TX_HASH"); v != "" {
		depTxHash = v
	}
	if v := os.Getenv("RATE"); v != "" {
		if r, err := strconv.ParseFloat(v, 64); err == nil && r >= 0 {
			cfg.RatePerSecond = r
		}
	}
	if v := os.Getenv("RATE_PATTERN"); v != "" {
		cfg.RatePatternSpec = v
	}
	if v := os.Getenv("CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Concurrency = n
		}
	}
	if v := os.Getenv("DATABASE_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	fs := flag.NewFlagSet("cellbench", flag.ContinueOnError)
	var (
		rpcURLs       = fs.String("rpc", strings.Join(cfg.RPCURLs, ","), "Comma-separated node RPC URLs")
		indexerURL    = fs.String("indexer", cfg.IndexerURL, "Indexer RPC URL (default: first -rpc URL)")
		confirmations = fs.Uint64("confirmations", cfg.Confirmations, "Blocks behind the tip considered confirmed")
		rpcTimeout    = fs.Duration("rpc-timeout", cfg.RPCTimeout, "Per-request RPC timeout")
		strategy      = fs.String("strategy", cfg.StrategySpec, "Stability strategy (custom_blocks_elapsed:W,N or recent_blocktxns_nearly:W,M[,MAX])")
		pollInterval  = fs.Duration("poll-interval", cfg.PollInterval, "Interval between tip and tx pool polls")
		senderKey     = fs.String("sender-key", cfg.SenderKey, "Hex private key owning the input cells")
		receiverKey   = fs.String("receiver-key", cfg.ReceiverKey, "Hex private key receiving the outputs (default: sender)")
		lockHash      = fs.String("lock-code-hash", lockCodeHash, "Lock script code hash")
		depHash       = fs.String("dep-tx-hash", depTxHash, "Transaction hash of the lock script dep group")
		depIndex      = fs.Uint("dep-index", 0, "Output index of the lock script dep group")
		cellLimit     = fs.Int("cells", 0, "Maximum live cells to spend (0 = all)")
		pageSize      = fs.Uint64("page-size", cfg.PageSize, "Cells requested per indexer page")
		rate          = fs.Float64("rate", cfg.RatePerSecond, "Maximum transactions sent per second (0 = unlimited)")
		ratePattern   = fs.String("rate-pattern", cfg.RatePatternSpec, "Send rate over time (constant:R, ramp:FROM,TO,DUR or spike:BASE,PEAK,LEN,EVERY)")
		concurrency   = fs.Int("concurrency", cfg.Concurrency, "Maximum in-flight sends")
		skipIdle      = fs.Bool("skip-idle-barrier", false, "Do not wait for empty tx pools before generating")
		dbPath        = fs.String("database", cfg.DatabasePath, "SQLite live-cell cache path (empty disables)")
		useCache      = fs.Bool("use-cache", false, "Load cells from the cache instead of the indexer")
		listenAddr    = fs.String("listen", cfg.ListenAddr, "HTTP API listen address (empty disables)")
		logLevel      = fs.String("log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.RPCURLs = splitList(*rpcURLs)
	cfg.IndexerURL = *indexerURL
	cfg.Confirmations = *confirmations
	cfg.RPCTimeout = *rpcTimeout
	cfg.StrategySpec = *strategy
	cfg.PollInterval = *pollInterval
	cfg.SenderKey = *senderKey
	cfg.ReceiverKey = *receiverKey
	cfg.CellLimit = *cellLimit
	cfg.PageSize = *pageSize
	cfg.RatePerSecond = *rate
	cfg.RatePatternSpec = *ratePattern
	cfg.Concurrency = *concurrency
	cfg.SkipIdleBarrier = *skipIdle
	cfg.DatabasePath = *dbPath
	cfg.UseCache = *useCache
	cfg.ListenAddr = *listenAddr
	cfg.LogLevel = *logLevel

	if cfg.IndexerURL == "" && len(cfg.RPCURLs) > 0 {
		cfg.IndexerURL = cfg.RPCURLs[0]
	}
	if cfg.ReceiverKey == "" {
		cfg.ReceiverKey = cfg.SenderKey
	}

	var err error
	if cfg.LockCodeHash, err = parseHash(*lockHash); err != nil {
		return nil, fmt.Errorf("lock code hash: %w", err)
	}
	if *depHash != "" {
		if cfg.DepTxHash, err = parseHash(*depHash); err != nil {
			return nil, fmt.Errorf("dep tx hash: %w", err)
		}
	}
	if *depIndex > uint(^uint32(0)) {
		return nil, fmt.Errorf("dep index %d out of range", *depIndex)
	}
	cfg.DepIndex = uint32(*depIndex)

	if cfg.Strategy, err = monitor.ParseStrategy(cfg.StrategySpec); err != nil {
		return nil, fmt.Errorf("strategy: %w", err)
	}

	if cfg.RatePatternSpec != "" {
		if cfg.RatePattern, err = pattern.Parse(cfg.RatePatternSpec); err != nil {
			return nil, fmt.Errorf("rate pattern: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if len(c.RPCURLs) == 0 {
		return errors.New("at least one RPC URL is required")
	}
	if c.SenderKey == "" {
		return errors.New("sender key is required")
	}
	if c.DepTxHash == (common.Hash{}) {
		return errors.New("dep tx hash is required")
	}
	if c.Strategy == nil {
		return errors.New("strategy is required")
	}
	if err := c.Strategy.Validate(); err != nil {
		return fmt.Errorf("strategy %s: %w", c.Strategy, err)
	}
	if c.PollInterval <= 0 {
		return errors.New("poll interval must be positive")
	}
	if c.RPCTimeout <= 0 {
		return errors.New("RPC timeout must be positive")
	}
	if c.Concurrency <= 0 {
		return errors.New("concurrency must be positive")
	}
	if c.RatePerSecond < 0 {
		return errors.New("rate cannot be negative")
	}
	if c.CellLimit < 0 {
		return errors.New("cell limit cannot be negative")
	}
	if c.PageSize == 0 {
		return errors.New("page size must be positive")
	}
	if c.UseCache && c.DatabasePath == "" {
		return errors.New("cache requested but no database path set")
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// DepOutPoint returns the lock script dependency as a dep-group cell dep.
func (c *Config) DepOutPoint() types.CellDep {
	return types.CellDep{
		OutPoint: types.OutPoint{TxHash: c.DepTxHash, Index: c.DepIndex},
		DepType:  types.DepTypeDepGroup,
	}
}

// ParseLogLevel maps a level name to a slog.Level.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level: %s", s)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseHash(s string) (common.Hash, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return common.Hash{}, err
	}
	if len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("want %d bytes, got %d", common.HashLength, len(b))
	}
	return common.BytesToHash(b), nil
}
