// cellbench drives a cell-model ledger network with fee-randomized spend
// transactions and reports its throughput once block contents stabilize.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/gateway-fm/cellbench/internal/account"
	"github.com/gateway-fm/cellbench/internal/bench"
	"github.com/gateway-fm/cellbench/internal/config"
	"github.com/gateway-fm/cellbench/internal/generator"
	"github.com/gateway-fm/cellbench/internal/metrics"
	"github.com/gateway-fm/cellbench/internal/monitor"
	"github.com/gateway-fm/cellbench/internal/network"
	"github.com/gateway-fm/cellbench/internal/rpc"
	"github.com/gateway-fm/cellbench/internal/sender"
	"github.com/gateway-fm/cellbench/internal/storage"
	"github.com/gateway-fm/cellbench/internal/transport"
	"github.com/gateway-fm/cellbench/pkg/types"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("benchmark failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewPrometheusMetrics(reg)

	clientCfg := rpc.DefaultClientConfig("")
	clientCfg.Timeout = cfg.RPCTimeout
	net, err := network.Dial(network.Config{
		URLs:          cfg.RPCURLs,
		Confirmations: cfg.Confirmations,
		Client:        clientCfg,
		Metrics:       m,
		Logger:        logger.With("component", "network"),
	})
	if err != nil {
		return err
	}

	indexerCfg := clientCfg
	indexerCfg.URL = cfg.IndexerURL
	indexerCfg.Metrics = m
	indexerCfg.Logger = logger.With("component", "indexer")
	indexer := rpc.NewHTTPClient(indexerCfg)

	from, err := account.NewPersonalFromHex(cfg.SenderKey, cfg.LockCodeHash, cfg.DepOutPoint())
	if err != nil {
		return err
	}
	to, err := account.NewPersonalFromHex(cfg.ReceiverKey, cfg.LockCodeHash, cfg.DepOutPoint())
	if err != nil {
		return err
	}
	logger.Info("loaded identities",
		"sender_lock_hash", from.LockHash().Hex(),
		"receiver_lock_hash", to.LockHash().Hex())

	var store storage.CellStore
	if cfg.DatabasePath != "" {
		s, err := storage.NewSQLiteStorage(cfg.DatabasePath, logger.With("component", "storage"))
		if err != nil {
			return err
		}
		defer s.Close()
		store = s
		logger.Info("initialized cell cache", "path", cfg.DatabasePath)
	}

	gen, err := generator.NewDefaultRegistry(generator.Config{
		Metrics: m,
		Logger:  logger.With("component", "generator"),
	}).Get(types.GeneratorRandomFee)
	if err != nil {
		return err
	}

	submitters := make([]sender.Submitter, 0, len(net.Clients()))
	for _, c := range net.Clients() {
		submitters = append(submitters, c)
	}
	snd, err := sender.New(sender.Config{
		Submitters:  submitters,
		Concurrency: cfg.Concurrency,
		Logger:      logger.With("component", "sender"),
	})
	if err != nil {
		return err
	}

	tracker := bench.NewTracker(m)
	var observer func(types.Evaluation)
	if cfg.ListenAddr != "" {
		srv := transport.NewServer(transport.ServerConfig{
			API:      tracker,
			Health:   net,
			Gatherer: reg,
			Logger:   logger.With("component", "http"),
		})
		defer srv.Close()
		observer = srv.WebSocket().PublishEvaluation

		httpServer := &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("HTTP API listening", "addr", cfg.ListenAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			httpServer.Shutdown(shutdownCtx)
		}()
	}

	runner, err := bench.NewRunner(bench.Config{
		Strategy:        cfg.Strategy,
		CellLimit:       cfg.CellLimit,
		PageSize:        cfg.PageSize,
		UseCache:        cfg.UseCache,
		SkipIdleBarrier: cfg.SkipIdleBarrier,
		RatePerSecond:   cfg.RatePerSecond,
		RatePattern:     cfg.RatePattern,
		Network:         net,
		Cells:           indexer,
		Store:           store,
		Generator:       gen,
		Submit:          snd,
		From:            from,
		To:              to,
		Monitor: monitor.Config{
			PollInterval: cfg.PollInterval,
			Observer:     observer,
		},
		Tracker: tracker,
		Metrics: m,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	logArgs := []any{
		"strategy", cfg.Strategy.String(),
		"endpoints", len(cfg.RPCURLs),
		"confirmations", cfg.Confirmations,
	}
	if cfg.RatePattern != nil {
		logArgs = append(logArgs, "rate_pattern", cfg.RatePattern.String())
	}
	logger.Info("starting benchmark", logArgs...)

	_, err = runner.Run(ctx)
	return err
}
