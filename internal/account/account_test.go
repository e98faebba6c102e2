package account

import (
	"bytes"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/gateway-fm/cellbench/pkg/types"
)

var testDep = types.CellDep{
	OutPoint: types.OutPoint{TxHash: common.HexToHash("0xace5ea83c478bb866edf122ff862085789158f5cbff155b7bb5f13058555b708")},
	DepType:  types.DepTypeDepGroup,
}

func TestNewPersonalFromHex(t *testing.T) {
	p, err := NewPersonalFromHex(TestPrivateKeys[0], DefaultSecpCodeHash, testDep)
	if err != nil {
		t.Fatalf("NewPersonalFromHex: %v", err)
	}

	lock := p.LockScript()
	if lock.CodeHash != DefaultSecpCodeHash {
		t.Errorf("lock code hash = %s, want %s", lock.CodeHash, DefaultSecpCodeHash)
	}
	if len(lock.Args) != 20 {
		t.Errorf("lock args length = %d, want 20", len(lock.Args))
	}
	if p.DepOutPoint() != testDep {
		t.Errorf("dep = %+v, want %+v", p.DepOutPoint(), testDep)
	}

	withPrefix, err := NewPersonalFromHex("0x"+TestPrivateKeys[0], DefaultSecpCodeHash, testDep)
	if err != nil {
		t.Fatalf("NewPersonalFromHex with 0x prefix: %v", err)
	}
	if !bytes.Equal(withPrefix.LockScript().Args, lock.Args) {
		t.Error("0x-prefixed key produced a different lock")
	}
}

func TestNewPersonalFromHexInvalid(t *testing.T) {
	if _, err := NewPersonalFromHex("not-a-key", DefaultSecpCodeHash, testDep); err == nil {
		t.Error("expected error for invalid key")
	}
}

func TestDistinctKeysDistinctLocks(t *testing.T) {
	a, _ := NewPersonalFromHex(TestPrivateKeys[0], DefaultSecpCodeHash, testDep)
	b, _ := NewPersonalFromHex(TestPrivateKeys[1], DefaultSecpCodeHash, testDep)
	if a.LockHash() == b.LockHash() {
		t.Error("different keys produced the same lock hash")
	}
}

func TestSignRecoverable(t *testing.T) {
	p, err := NewPersonalFromHex(TestPrivateKeys[1], DefaultSecpCodeHash, testDep)
	if err != nil {
		t.Fatalf("NewPersonalFromHex: %v", err)
	}

	msg := types.Blake2b256([]byte("message"))
	sig, err := p.Sign(msg)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if len(sig) != 65 {
		t.Fatalf("signature length = %d, want 65", len(sig))
	}

	pub, err := crypto.SigToPub(msg[:], sig)
	if err != nil {
		t.Fatalf("SigToPub: %v", err)
	}
	args := types.Blake160(crypto.CompressPubkey(pub))
	if !bytes.Equal(args, p.LockScript().Args) {
		t.Error("recovered key does not match the lock args")
	}
}
