// Package types contains the data model shared by the benchmark harness:
// cells and transactions, block views, and the reported metrics.
// Metrics and BenchStatus are part of the external JSON interface.
package types

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// GeneratorKind identifies a transaction generation strategy.
type GeneratorKind string

const (
	GeneratorRandomFee GeneratorKind = "random-fee"
)

// BenchPhase represents the current benchmark state.
type BenchPhase string

const (
	PhaseIdle         BenchPhase = "idle"
	PhaseLoadingCells BenchPhase = "loading_cells"
	PhaseGenerating   BenchPhase = "generating"
	PhaseBroadcasting BenchPhase = "broadcasting"
	PhaseWarmup       BenchPhase = "warmup"
	PhaseMeasuring    BenchPhase = "measuring"
	PhaseDraining     BenchPhase = "draining" // waiting for tx pools to empty
	PhaseCompleted    BenchPhase = "completed"
	PhaseError        BenchPhase = "error"
)

// Block is a confirmed block as seen by the monitor.
type Block struct {
	Number       uint64        `json:"number"`
	Hash         common.Hash   `json:"hash"`
	TimestampMs  uint64        `json:"timestampMs"`
	Transactions []common.Hash `json:"transactions"`
}

// TxCount returns the number of transactions committed in the block.
func (b *Block) TxCount() int {
	return len(b.Transactions)
}

// TxPoolInfo holds a node's transaction pool counters.
type TxPoolInfo struct {
	Pending  uint64 `json:"pending"`
	Proposed uint64 `json:"proposed"`
}

// Empty reports whether both counters are zero.
func (i TxPoolInfo) Empty() bool {
	return i.Pending == 0 && i.Proposed == 0
}

// Metrics is an immutable summary of a window of consecutive blocks.
type Metrics struct {
	TPS                      uint64 `json:"tps"`
	AverageBlockTimeMs       uint64 `json:"average_block_time_ms"`
	AverageBlockTransactions uint64 `json:"average_block_transactions"`
	StartBlockNumber         uint64 `json:"start_block_number"`
	EndBlockNumber           uint64 `json:"end_block_number"`
	NetworkNodes             uint64 `json:"network_nodes"`
	BenchNodes               uint64 `json:"bench_nodes"`
}

// Evaluation is one metrics evaluation made by the monitor. Stable is set
// on the evaluation that ended the wait.
type Evaluation struct {
	Metrics     Metrics   `json:"metrics"`
	Spread      uint64    `json:"spread"`
	Stable      bool      `json:"stable"`
	EvaluatedAt time.Time `json:"evaluatedAt"`
}

// BenchStatus is the harness status exposed over the HTTP API.
type BenchStatus struct {
	Phase          BenchPhase  `json:"phase"`
	Strategy       string      `json:"strategy"`
	StartedAt      *time.Time  `json:"startedAt,omitempty"`
	CompletedAt    *time.Time  `json:"completedAt,omitempty"`
	CellsAvailable int         `json:"cellsAvailable"`
	TxGenerated    int         `json:"txGenerated"`
	TxSent         uint64      `json:"txSent"`
	TxFailed       uint64      `json:"txFailed"`
	TipNumber      uint64      `json:"tipNumber"`
	Evaluations    int         `json:"evaluations"`
	LastEvaluation *Evaluation `json:"lastEvaluation,omitempty"`
	Result         *Metrics    `json:"result,omitempty"`
	// SendLatency summarizes send_transaction round trips once the
	// broadcast has finished.
	SendLatency *LatencyStats `json:"sendLatency,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// LatencyStats summarizes a set of latency samples in milliseconds.
type LatencyStats struct {
	Count   int             `json:"count"`
	Min     float64         `json:"min"`
	Max     float64         `json:"max"`
	Avg     float64         `json:"avg"`
	P50     float64         `json:"p50"`
	P90     float64         `json:"p90"`
	P99     float64         `json:"p99"`
	Buckets []LatencyBucket `json:"buckets"`
}

// LatencyBucket is one histogram bucket of LatencyStats.
type LatencyBucket struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}
