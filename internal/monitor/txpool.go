package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gateway-fm/cellbench/pkg/types"
)

// IsTxPoolEmpty makes one pass over the endpoints and reports whether all
// of them have nothing pending or proposed. It stops at the first
// non-empty pool or failed query.
func IsTxPoolEmpty(ctx context.Context, endpoints []TxPoolReporter) (bool, error) {
	for _, ep := range endpoints {
		info, err := ep.TxPoolInfo(ctx)
		if err != nil {
			return false, fmt.Errorf("tx pool info from %s: %w", ep.URL(), err)
		}
		if !info.Empty() {
			return false, nil
		}
	}
	return true, nil
}

// WaitTxPoolEmpty blocks until a full pass over every endpoint finds empty
// pools. Query failures count as non-empty.
func (m *Monitor) WaitTxPoolEmpty(ctx context.Context) error {
	m.setPhase(types.PhaseDraining)
	endpoints := m.net.Endpoints()
	lastLog := time.Now()

	for {
		empty, err := IsTxPoolEmpty(ctx, endpoints)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			m.logger.Warn("tx pool query failed", slog.String("error", err.Error()))
		}
		if empty {
			m.logger.Info("tx pools are empty", slog.Int("endpoints", len(endpoints)))
			return nil
		}

		if time.Since(lastLog) >= m.cfg.LogInterval {
			m.logger.Info("waiting for tx pools to drain", slog.Int("endpoints", len(endpoints)))
			lastLog = time.Now()
		}

		if err := sleep(ctx, m.cfg.PollInterval); err != nil {
			return err
		}
	}
}
