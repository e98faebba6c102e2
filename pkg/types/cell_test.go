package types

import (
	"errors"
	"math"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func secpLock() Script {
	return Script{
		CodeHash: common.HexToHash("0x9bd7e06f3ecf4be0f2fcd2188b23f1b9fcc88e5d4b65a8637b17723bbda3cce8"),
		HashType: HashTypeType,
		Args:     make([]byte, 20),
	}
}

func TestCapacitySafeArithmetic(t *testing.T) {
	tests := []struct {
		name    string
		a, b    Capacity
		add     bool
		want    Capacity
		wantErr bool
	}{
		{name: "add", a: 10, b: 5, add: true, want: 15},
		{name: "add overflow", a: math.MaxUint64, b: 1, add: true, wantErr: true},
		{name: "sub", a: 10, b: 4, want: 6},
		{name: "sub to zero", a: 10, b: 10, want: 0},
		{name: "sub underflow", a: 4, b: 10, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Capacity
			var err error
			if tt.add {
				got, err = tt.a.SafeAdd(tt.b)
			} else {
				got, err = tt.a.SafeSub(tt.b)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrCapacityOverflow) {
					t.Fatalf("err = %v, want ErrCapacityOverflow", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestCapacityString(t *testing.T) {
	c := Capacity(61*OneCKB + 5)
	if got := c.String(); got != "61.00000005" {
		t.Errorf("String() = %q, want %q", got, "61.00000005")
	}
}

func TestOccupiedCapacity(t *testing.T) {
	out := CellOutput{Lock: secpLock()}
	got, err := out.OccupiedCapacity()
	if err != nil {
		t.Fatalf("OccupiedCapacity: %v", err)
	}
	// 8 capacity + 32 code hash + 1 hash type + 20 args
	if want := Capacity(61 * OneCKB); got != want {
		t.Errorf("OccupiedCapacity() = %s, want %s", got, want)
	}

	typ := secpLock()
	out.Type = &typ
	out.Data = []byte{1, 2, 3}
	got, err = out.OccupiedCapacity()
	if err != nil {
		t.Fatalf("OccupiedCapacity: %v", err)
	}
	if want := Capacity((61 + 53 + 3) * OneCKB); got != want {
		t.Errorf("OccupiedCapacity() with type and data = %s, want %s", got, want)
	}
}

func TestTransactionHashIgnoresWitnesses(t *testing.T) {
	tx := &Transaction{
		CellDeps: []CellDep{{OutPoint: OutPoint{TxHash: common.HexToHash("0x01")}, DepType: DepTypeDepGroup}},
		Inputs:   []CellInput{{PreviousOutput: OutPoint{TxHash: common.HexToHash("0x02"), Index: 1}}},
		Outputs:  []CellOutput{{Capacity: Capacity(100 * OneCKB), Lock: secpLock()}},
	}
	before := tx.Hash()
	tx.Witnesses = [][]byte{{0xde, 0xad}}
	if after := tx.Hash(); after != before {
		t.Errorf("hash changed after adding witnesses: %s != %s", after, before)
	}

	tx.Outputs[0].Capacity++
	if changed := tx.Hash(); changed == before {
		t.Error("hash did not change after modifying an output")
	}
	if tx.SigningMessage() == tx.Hash() {
		t.Error("signing message should differ from the transaction hash")
	}
}

func TestLiveOutputs(t *testing.T) {
	tx := &Transaction{
		Outputs: []CellOutput{
			{Capacity: 1, Lock: secpLock()},
			{Capacity: 2, Lock: secpLock()},
		},
	}
	cells := tx.LiveOutputs()
	if len(cells) != 2 {
		t.Fatalf("expected 2 cells, got %d", len(cells))
	}
	for i, c := range cells {
		if c.OutPoint.TxHash != tx.Hash() || c.OutPoint.Index != uint32(i) {
			t.Errorf("cell %d out-point = %s", i, c.OutPoint)
		}
		if c.Output.Capacity != tx.Outputs[i].Capacity {
			t.Errorf("cell %d capacity = %d, want %d", i, c.Output.Capacity, tx.Outputs[i].Capacity)
		}
	}
}

func TestInputCapacityOverflow(t *testing.T) {
	cells := []LiveCell{
		{Output: CellOutput{Capacity: math.MaxUint64}},
		{Output: CellOutput{Capacity: 1}},
	}
	if _, err := InputCapacity(cells); !errors.Is(err, ErrCapacityOverflow) {
		t.Errorf("InputCapacity err = %v, want ErrCapacityOverflow", err)
	}
}

func TestBlake160(t *testing.T) {
	got := Blake160([]byte("cellbench"))
	if len(got) != 20 {
		t.Fatalf("Blake160 length = %d, want 20", len(got))
	}
	full := Blake2b256([]byte("cell"), []byte("bench"))
	for i := range got {
		if got[i] != full[i] {
			t.Fatalf("Blake160 is not a prefix of the multi-part blake2b digest")
		}
	}
}
