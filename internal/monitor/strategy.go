package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/gateway-fm/cellbench/pkg/types"
)

// Strategy decides when the network is stable. The set of strategies is
// closed: CustomBlocksElapsed and RecentBlocktxnsNearly.
type Strategy interface {
	fmt.Stringer
	Validate() error

	await(ctx context.Context, m *Monitor) (*types.Metrics, error)
}

const (
	customBlocksElapsedName   = "custom_blocks_elapsed"
	recentBlocktxnsNearlyName = "recent_blocktxns_nearly"
)

// DefaultStrategy waits 20 warmup blocks and measures the next 21.
func DefaultStrategy() Strategy {
	return CustomBlocksElapsed{Warmup: 20, Window: 21}
}

// CustomBlocksElapsed skips Warmup blocks and then measures the next
// Window blocks regardless of how throughput behaves.
type CustomBlocksElapsed struct {
	Warmup uint64 `json:"warmup"`
	Window uint64 `json:"window"`
}

func (s CustomBlocksElapsed) String() string {
	return fmt.Sprintf("%s:%d,%d", customBlocksElapsedName, s.Warmup, s.Window)
}

// Validate checks the window spans at least two blocks.
func (s CustomBlocksElapsed) Validate() error {
	if s.Window < 2 {
		return fmt.Errorf("window must be at least 2 blocks, got %d", s.Window)
	}
	return nil
}

// MarshalJSON encodes the strategy tagged with its variant name.
func (s CustomBlocksElapsed) MarshalJSON() ([]byte, error) {
	type plain CustomBlocksElapsed
	return json.Marshal(map[string]plain{"CustomBlocksElapsed": plain(s)})
}

func (s CustomBlocksElapsed) await(ctx context.Context, m *Monitor) (*types.Metrics, error) {
	tip0, err := m.confirmedTip(ctx)
	if err != nil {
		return nil, err
	}
	tip1 := tip0 + s.Warmup
	end := tip1 + s.Window

	m.setPhase(types.PhaseWarmup)
	m.logger.Info("warming up", slog.Uint64("from", tip0), slog.Uint64("until", tip1))
	if _, err := m.waitForTip(ctx, tip1, "warmup"); err != nil {
		return nil, err
	}

	m.setPhase(types.PhaseMeasuring)
	m.logger.Info("measuring", slog.Uint64("from", tip1), slog.Uint64("until", end))
	if _, err := m.waitForTip(ctx, end, "measuring"); err != nil {
		return nil, err
	}

	blocks, err := m.fetchRange(ctx, tip1, end)
	if err != nil {
		return nil, err
	}
	result, err := EvalBlocks(ctx, m.net, blocks)
	if err != nil {
		return nil, err
	}
	m.report(result, txnSpread(blocks), true)
	return result, nil
}

// RecentBlocktxnsNearly slides a Window-block queue over the chain and
// declares stability once the transaction counts in the queue differ by at
// most Margin. MaxBlocks, when nonzero, bounds the number of new blocks
// observed before giving up with ErrNotStabilized.
type RecentBlocktxnsNearly struct {
	Window    uint64 `json:"window"`
	Margin    uint64 `json:"margin"`
	MaxBlocks uint64 `json:"max_blocks,omitempty"`
}

func (s RecentBlocktxnsNearly) String() string {
	if s.MaxBlocks > 0 {
		return fmt.Sprintf("%s:%d,%d,%d", recentBlocktxnsNearlyName, s.Window, s.Margin, s.MaxBlocks)
	}
	return fmt.Sprintf("%s:%d,%d", recentBlocktxnsNearlyName, s.Window, s.Margin)
}

// Validate checks the window spans at least two blocks.
func (s RecentBlocktxnsNearly) Validate() error {
	if s.Window < 2 {
		return fmt.Errorf("window must be at least 2 blocks, got %d", s.Window)
	}
	return nil
}

// MarshalJSON encodes the strategy tagged with its variant name.
func (s RecentBlocktxnsNearly) MarshalJSON() ([]byte, error) {
	type plain RecentBlocktxnsNearly
	return json.Marshal(map[string]plain{"RecentBlocktxnsNearly": plain(s)})
}

func (s RecentBlocktxnsNearly) await(ctx context.Context, m *Monitor) (*types.Metrics, error) {
	var seed *types.Block
	err := m.withRetry(ctx, "confirmed tip block", func() error {
		var err error
		seed, err = m.net.ConfirmedTipBlock(ctx)
		if err == nil && seed == nil {
			return ErrBlockNotFound
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	m.setPhase(types.PhaseMeasuring)
	queue := make([]*types.Block, 0, s.Window+1)
	queue = append(queue, seed)
	next := seed.Number + 1
	var observed uint64

	for {
		tip, err := m.waitForTip(ctx, next, "sliding window")
		if err != nil {
			return nil, err
		}

		for ; next <= tip; next++ {
			b, err := m.fetchBlock(ctx, next)
			if err != nil {
				return nil, err
			}
			queue = append(queue, b)
			for uint64(len(queue)) > s.Window {
				queue = append(queue[:0], queue[1:]...)
			}
			observed++

			if uint64(len(queue)) == s.Window {
				result, ok, err := s.evaluate(ctx, m, queue)
				if err != nil {
					return nil, err
				}
				if ok {
					return result, nil
				}
			}

			if s.MaxBlocks > 0 && observed >= s.MaxBlocks {
				return nil, fmt.Errorf("%w after %d blocks", ErrNotStabilized, observed)
			}
		}
	}
}

// evaluate reports whether the queue is stable. Windows spanning no time
// are skipped.
func (s RecentBlocktxnsNearly) evaluate(ctx context.Context, m *Monitor, queue []*types.Block) (*types.Metrics, bool, error) {
	result, err := EvalBlocks(ctx, m.net, queue)
	if errors.Is(err, ErrDegenerateWindow) {
		m.logger.Warn("skipping block window", slog.String("reason", err.Error()))
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	spread := txnSpread(queue)
	stable := spread <= s.Margin
	m.report(result, spread, stable)
	return result, stable, nil
}

// ParseStrategy parses "custom_blocks_elapsed:<warmup>,<window>" or
// "recent_blocktxns_nearly:<window>,<margin>[,<max_blocks>]".
func ParseStrategy(s string) (Strategy, error) {
	name, args, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return nil, fmt.Errorf("strategy %q: expected <name>:<params>", s)
	}

	var nums []uint64
	for _, part := range strings.Split(args, ",") {
		v, err := strconv.ParseUint(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("strategy %q: %w", s, err)
		}
		nums = append(nums, v)
	}

	var strategy Strategy
	switch name {
	case customBlocksElapsedName:
		if len(nums) != 2 {
			return nil, fmt.Errorf("strategy %q: expected warmup,window", s)
		}
		strategy = CustomBlocksElapsed{Warmup: nums[0], Window: nums[1]}
	case recentBlocktxnsNearlyName:
		switch len(nums) {
		case 2:
			strategy = RecentBlocktxnsNearly{Window: nums[0], Margin: nums[1]}
		case 3:
			strategy = RecentBlocktxnsNearly{Window: nums[0], Margin: nums[1], MaxBlocks: nums[2]}
		default:
			return nil, fmt.Errorf("strategy %q: expected window,margin[,max_blocks]", s)
		}
	default:
		return nil, fmt.Errorf("unknown strategy %q", name)
	}

	if err := strategy.Validate(); err != nil {
		return nil, fmt.Errorf("strategy %q: %w", s, err)
	}
	return strategy, nil
}

// UnmarshalStrategyJSON decodes the tagged form written by MarshalJSON.
func UnmarshalStrategyJSON(data []byte) (Strategy, error) {
	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(data, &tagged); err != nil {
		return nil, fmt.Errorf("decode strategy: %w", err)
	}
	if len(tagged) != 1 {
		return nil, fmt.Errorf("decode strategy: expected exactly one variant, got %d", len(tagged))
	}

	var strategy Strategy
	for name, body := range tagged {
		switch name {
		case "CustomBlocksElapsed":
			var s CustomBlocksElapsed
			if err := json.Unmarshal(body, &s); err != nil {
				return nil, fmt.Errorf("decode %s: %w", name, err)
			}
			strategy = s
		case "RecentBlocktxnsNearly":
			var s RecentBlocktxnsNearly
			if err := json.Unmarshal(body, &s); err != nil {
				return nil, fmt.Errorf("decode %s: %w", name, err)
			}
			strategy = s
		default:
			return nil, fmt.Errorf("unknown strategy variant %q", name)
		}
	}
	if err := strategy.Validate(); err != nil {
		return nil, err
	}
	return strategy, nil
}
