// Package sender provides async transaction sending with backpressure.
package sender

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/cellbench/pkg/types"
)

// ErrAtCapacity is returned when the sender cannot accept more transactions.
var ErrAtCapacity = errors.New("sender at capacity")

// ErrNoSubmitters is returned by New when no endpoint is configured.
var ErrNoSubmitters = errors.New("sender needs at least one submitter")

// Submitter is an endpoint that accepts signed transactions.
type Submitter interface {
	SendTransaction(ctx context.Context, tx *types.Transaction) (common.Hash, error)
}

// Callback receives the outcome of one send on the sending goroutine.
// elapsed covers the submitter round trip only, not the wait for a slot.
type Callback func(tx *types.Transaction, hash common.Hash, elapsed time.Duration, err error)

// Sender spreads sends round-robin over its submitters with
// semaphore-based backpressure.
type Sender struct {
	submitters []Submitter
	next       atomic.Uint64
	semaphore  chan struct{}
	logger     *slog.Logger
}

// Config for creating a Sender.
type Config struct {
	Submitters  []Submitter
	Concurrency int // Max concurrent sends (default: 64)
	Logger      *slog.Logger
}

// New creates a new Sender.
func New(cfg Config) (*Sender, error) {
	if len(cfg.Submitters) == 0 {
		return nil, ErrNoSubmitters
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 64
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Sender{
		submitters: cfg.Submitters,
		semaphore:  make(chan struct{}, concurrency),
		logger:     logger,
	}, nil
}

// Send waits for a free slot and sends tx asynchronously. It returns
// ctx.Err() if no slot frees up before ctx is done.
func (s *Sender) Send(ctx context.Context, tx *types.Transaction, callback Callback) error {
	select {
	case s.semaphore <- struct{}{}:
		s.dispatch(ctx, tx, callback)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySend sends tx asynchronously if a slot is free and returns
// ErrAtCapacity otherwise.
func (s *Sender) TrySend(ctx context.Context, tx *types.Transaction, callback Callback) error {
	select {
	case s.semaphore <- struct{}{}:
		s.dispatch(ctx, tx, callback)
		return nil
	default:
		return ErrAtCapacity
	}
}

// dispatch runs the send; the caller holds a semaphore slot.
func (s *Sender) dispatch(ctx context.Context, tx *types.Transaction, callback Callback) {
	submitter := s.submitters[(s.next.Add(1)-1)%uint64(len(s.submitters))]
	go func() {
		defer func() { <-s.semaphore }()

		start := time.Now()
		hash, err := submitter.SendTransaction(ctx, tx)
		elapsed := time.Since(start)
		if err != nil {
			s.logger.Debug("send failed", slog.String("tx", tx.Hash().Hex()), slog.String("error", err.Error()))
		}
		if callback != nil {
			callback(tx, hash, elapsed, err)
		}
	}()
}

// Available returns the number of available send slots.
func (s *Sender) Available() int {
	return cap(s.semaphore) - len(s.semaphore)
}

// Capacity returns the total send capacity.
func (s *Sender) Capacity() int {
	return cap(s.semaphore)
}

// InFlight returns the number of transactions currently being sent.
func (s *Sender) InFlight() int {
	return len(s.semaphore)
}
