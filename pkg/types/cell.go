package types

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
)

// ScriptHashType selects how a script's CodeHash is matched against dep cells.
type ScriptHashType uint8

const (
	HashTypeData ScriptHashType = 0
	HashTypeType ScriptHashType = 1
)

// String returns the JSON-RPC name of the hash type.
func (h ScriptHashType) String() string {
	if h == HashTypeType {
		return "type"
	}
	return "data"
}

// ParseScriptHashType parses the JSON-RPC name of a hash type.
func ParseScriptHashType(s string) (ScriptHashType, error) {
	switch s {
	case "data":
		return HashTypeData, nil
	case "type":
		return HashTypeType, nil
	default:
		return 0, fmt.Errorf("unknown script hash type: %q", s)
	}
}

// DepType describes how a cell dep is resolved.
type DepType uint8

const (
	DepTypeCode     DepType = 0
	DepTypeDepGroup DepType = 1
)

// String returns the JSON-RPC name of the dep type.
func (d DepType) String() string {
	if d == DepTypeDepGroup {
		return "dep_group"
	}
	return "code"
}

// Script is a lock or type predicate attached to a cell.
type Script struct {
	CodeHash common.Hash    `json:"codeHash"`
	HashType ScriptHashType `json:"hashType"`
	Args     []byte         `json:"args"`
}

// OccupiedBytes is the serialized size the script contributes to a cell.
func (s Script) OccupiedBytes() uint64 {
	return common.HashLength + 1 + uint64(len(s.Args))
}

// Hash returns the blake2b-256 digest of the script's RLP encoding.
func (s Script) Hash() common.Hash {
	enc, _ := rlp.EncodeToBytes(&s) // encoding a fixed struct of bytes cannot fail
	return Blake2b256(enc)
}

// OutPoint references an output of a previous transaction.
type OutPoint struct {
	TxHash common.Hash `json:"txHash"`
	Index  uint32      `json:"index"`
}

// String formats the out-point as txhash:index.
func (o OutPoint) String() string {
	return fmt.Sprintf("%s:%d", o.TxHash.Hex(), o.Index)
}

// CellInput consumes a live cell.
type CellInput struct {
	PreviousOutput OutPoint `json:"previousOutput"`
	Since          uint64   `json:"since"`
}

// CellDep references a cell whose data a script needs at verification time.
type CellDep struct {
	OutPoint OutPoint `json:"outPoint"`
	DepType  DepType  `json:"depType"`
}

// CellOutput is a cell created by a transaction.
type CellOutput struct {
	Capacity Capacity `json:"capacity"`
	Lock     Script   `json:"lock"`
	Type     *Script  `json:"type,omitempty" rlp:"nil"`
	Data     []byte   `json:"data,omitempty"`
}

// OccupiedCapacity is the minimal capacity the output must hold to store itself.
func (o CellOutput) OccupiedCapacity() (Capacity, error) {
	n := uint64(8) + uint64(len(o.Data)) + o.Lock.OccupiedBytes()
	if o.Type != nil {
		n += o.Type.OccupiedBytes()
	}
	return BytesCapacity(n)
}

// LiveCell is an unspent output available as a transaction input.
type LiveCell struct {
	OutPoint OutPoint   `json:"outPoint"`
	Output   CellOutput `json:"output"`
}

// Transaction is a spend of live cells into new outputs.
// Witnesses carry one signature blob per input and are not part of the hash.
type Transaction struct {
	Version   uint32       `json:"version"`
	CellDeps  []CellDep    `json:"cellDeps"`
	Inputs    []CellInput  `json:"inputs"`
	Outputs   []CellOutput `json:"outputs"`
	Witnesses [][]byte     `json:"witnesses"`
}

type rawTransaction struct {
	Version  uint32
	CellDeps []CellDep
	Inputs   []CellInput
	Outputs  []CellOutput
}

// Hash is the transaction's domain hash: blake2b-256 over the RLP encoding
// of the raw body without witnesses.
func (tx *Transaction) Hash() common.Hash {
	raw := rawTransaction{
		Version:  tx.Version,
		CellDeps: tx.CellDeps,
		Inputs:   tx.Inputs,
		Outputs:  tx.Outputs,
	}
	enc, err := rlp.EncodeToBytes(&raw)
	if err != nil {
		panic(fmt.Sprintf("encode raw transaction: %v", err))
	}
	return Blake2b256(enc)
}

// SigningMessage is the digest the owner of the inputs signs.
func (tx *Transaction) SigningMessage() common.Hash {
	h := tx.Hash()
	return Blake2b256(h[:])
}

// InputCapacity sums the given cells with overflow checking.
func InputCapacity(cells []LiveCell) (Capacity, error) {
	var total Capacity
	for _, c := range cells {
		var err error
		if total, err = total.SafeAdd(c.Output.Capacity); err != nil {
			return 0, err
		}
	}
	return total, nil
}

// OutputCapacity sums the transaction's outputs with overflow checking.
func (tx *Transaction) OutputCapacity() (Capacity, error) {
	var total Capacity
	for _, o := range tx.Outputs {
		var err error
		if total, err = total.SafeAdd(o.Capacity); err != nil {
			return 0, err
		}
	}
	return total, nil
}

// LiveOutputs returns the cells this transaction creates once committed.
func (tx *Transaction) LiveOutputs() []LiveCell {
	hash := tx.Hash()
	cells := make([]LiveCell, len(tx.Outputs))
	for i, o := range tx.Outputs {
		cells[i] = LiveCell{
			OutPoint: OutPoint{TxHash: hash, Index: uint32(i)},
			Output:   o,
		}
	}
	return cells
}
