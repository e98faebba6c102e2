package rpc

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/gateway-fm/cellbench/pkg/types"
)

// JSON-RPC wire representations. Quantities are 0x-prefixed hex, field
// names are snake_case.

type wireScript struct {
	CodeHash common.Hash   `json:"code_hash"`
	HashType string        `json:"hash_type"`
	Args     hexutil.Bytes `json:"args"`
}

type wireOutPoint struct {
	TxHash common.Hash    `json:"tx_hash"`
	Index  hexutil.Uint64 `json:"index"`
}

type wireCellDep struct {
	OutPoint wireOutPoint `json:"out_point"`
	DepType  string       `json:"dep_type"`
}

type wireCellInput struct {
	PreviousOutput wireOutPoint   `json:"previous_output"`
	Since          hexutil.Uint64 `json:"since"`
}

type wireCellOutput struct {
	Capacity hexutil.Uint64 `json:"capacity"`
	Lock     wireScript     `json:"lock"`
	Type     *wireScript    `json:"type"`
}

type wireTransaction struct {
	Version     hexutil.Uint64   `json:"version"`
	CellDeps    []wireCellDep    `json:"cell_deps"`
	HeaderDeps  []common.Hash    `json:"header_deps"`
	Inputs      []wireCellInput  `json:"inputs"`
	Outputs     []wireCellOutput `json:"outputs"`
	OutputsData []hexutil.Bytes  `json:"outputs_data"`
	Witnesses   []hexutil.Bytes  `json:"witnesses"`
}

type wireHeader struct {
	Number    hexutil.Uint64 `json:"number"`
	Hash      common.Hash    `json:"hash"`
	Timestamp hexutil.Uint64 `json:"timestamp"`
}

type wireBlock struct {
	Header       wireHeader `json:"header"`
	Transactions []struct {
		Hash common.Hash `json:"hash"`
	} `json:"transactions"`
}

type wireTxPoolInfo struct {
	Pending  hexutil.Uint64 `json:"pending"`
	Proposed hexutil.Uint64 `json:"proposed"`
}

type wireSearchKey struct {
	Script     wireScript `json:"script"`
	ScriptType string     `json:"script_type"`
}

type wireCell struct {
	Output      wireCellOutput `json:"output"`
	OutputData  hexutil.Bytes  `json:"output_data"`
	OutPoint    wireOutPoint   `json:"out_point"`
	BlockNumber hexutil.Uint64 `json:"block_number"`
}

type wireCellsPage struct {
	Objects    []wireCell `json:"objects"`
	LastCursor string     `json:"last_cursor"`
}

func toWireScript(s types.Script) wireScript {
	return wireScript{CodeHash: s.CodeHash, HashType: s.HashType.String(), Args: s.Args}
}

func fromWireScript(w wireScript) (types.Script, error) {
	ht, err := types.ParseScriptHashType(w.HashType)
	if err != nil {
		return types.Script{}, err
	}
	return types.Script{CodeHash: w.CodeHash, HashType: ht, Args: w.Args}, nil
}

func toWireOutPoint(o types.OutPoint) wireOutPoint {
	return wireOutPoint{TxHash: o.TxHash, Index: hexutil.Uint64(o.Index)}
}

func fromWireOutPoint(w wireOutPoint) (types.OutPoint, error) {
	if uint64(w.Index) > uint64(^uint32(0)) {
		return types.OutPoint{}, fmt.Errorf("out-point index %d out of range", w.Index)
	}
	return types.OutPoint{TxHash: w.TxHash, Index: uint32(w.Index)}, nil
}

func toWireTransaction(tx *types.Transaction) wireTransaction {
	w := wireTransaction{
		Version:     hexutil.Uint64(tx.Version),
		CellDeps:    make([]wireCellDep, len(tx.CellDeps)),
		HeaderDeps:  []common.Hash{},
		Inputs:      make([]wireCellInput, len(tx.Inputs)),
		Outputs:     make([]wireCellOutput, len(tx.Outputs)),
		OutputsData: make([]hexutil.Bytes, len(tx.Outputs)),
		Witnesses:   make([]hexutil.Bytes, len(tx.Witnesses)),
	}
	for i, d := range tx.CellDeps {
		w.CellDeps[i] = wireCellDep{OutPoint: toWireOutPoint(d.OutPoint), DepType: d.DepType.String()}
	}
	for i, in := range tx.Inputs {
		w.Inputs[i] = wireCellInput{PreviousOutput: toWireOutPoint(in.PreviousOutput), Since: hexutil.Uint64(in.Since)}
	}
	for i, o := range tx.Outputs {
		out := wireCellOutput{Capacity: hexutil.Uint64(o.Capacity), Lock: toWireScript(o.Lock)}
		if o.Type != nil {
			t := toWireScript(*o.Type)
			out.Type = &t
		}
		w.Outputs[i] = out
		w.OutputsData[i] = hexutil.Bytes(o.Data)
		if w.OutputsData[i] == nil {
			w.OutputsData[i] = hexutil.Bytes{}
		}
	}
	for i, wit := range tx.Witnesses {
		w.Witnesses[i] = wit
	}
	return w
}

func fromWireBlock(w *wireBlock) *types.Block {
	txs := make([]common.Hash, len(w.Transactions))
	for i, tx := range w.Transactions {
		txs[i] = tx.Hash
	}
	return &types.Block{
		Number:       uint64(w.Header.Number),
		Hash:         w.Header.Hash,
		TimestampMs:  uint64(w.Header.Timestamp),
		Transactions: txs,
	}
}

func fromWireCell(w wireCell) (types.LiveCell, error) {
	lock, err := fromWireScript(w.Output.Lock)
	if err != nil {
		return types.LiveCell{}, fmt.Errorf("lock: %w", err)
	}
	out := types.CellOutput{
		Capacity: types.Capacity(w.Output.Capacity),
		Lock:     lock,
		Data:     w.OutputData,
	}
	if w.Output.Type != nil {
		typ, err := fromWireScript(*w.Output.Type)
		if err != nil {
			return types.LiveCell{}, fmt.Errorf("type: %w", err)
		}
		out.Type = &typ
	}
	op, err := fromWireOutPoint(w.OutPoint)
	if err != nil {
		return types.LiveCell{}, err
	}
	return types.LiveCell{OutPoint: op, Output: out}, nil
}
