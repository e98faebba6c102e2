// Package account holds the benchmark identities: a signing key, the lock
// script it owns outputs with, and the dep cell its lock needs.
package account

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/gateway-fm/cellbench/pkg/types"
)

// DefaultSecpCodeHash is the type hash of the default secp256k1-blake160 lock.
var DefaultSecpCodeHash = common.HexToHash("0x9bd7e06f3ecf4be0f2fcd2188b23f1b9fcc88e5d4b65a8637b17723bbda3cce8")

// Personal is a benchmark participant. It is immutable once created.
type Personal struct {
	privateKey *ecdsa.PrivateKey
	lock       types.Script
	dep        types.CellDep
}

// NewPersonal creates a Personal from a private key. The lock script uses
// the blake160 of the compressed public key as its argument.
func NewPersonal(privateKey *ecdsa.PrivateKey, lockCodeHash common.Hash, dep types.CellDep) *Personal {
	pub := crypto.CompressPubkey(&privateKey.PublicKey)
	return &Personal{
		privateKey: privateKey,
		lock: types.Script{
			CodeHash: lockCodeHash,
			HashType: types.HashTypeType,
			Args:     types.Blake160(pub),
		},
		dep: dep,
	}
}

// NewPersonalFromHex creates a Personal from a hex-encoded private key.
func NewPersonalFromHex(hexKey string, lockCodeHash common.Hash, dep types.CellDep) (*Personal, error) {
	if len(hexKey) > 2 && hexKey[:2] == "0x" {
		hexKey = hexKey[2:]
	}
	privateKey, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return NewPersonal(privateKey, lockCodeHash, dep), nil
}

// LockScript returns the lock that guards outputs owned by this identity.
func (p *Personal) LockScript() types.Script {
	return p.lock
}

// DepOutPoint returns the dep cell the lock script needs at verification.
func (p *Personal) DepOutPoint() types.CellDep {
	return p.dep
}

// LockHash returns the hash of the lock script, used to key cached cells.
func (p *Personal) LockHash() common.Hash {
	return p.lock.Hash()
}

// Sign produces a 65-byte recoverable secp256k1 signature over hash.
func (p *Personal) Sign(hash common.Hash) ([]byte, error) {
	sig, err := crypto.Sign(hash[:], p.privateKey)
	if err != nil {
		return nil, fmt.Errorf("sign %s: %w", hash.Hex(), err)
	}
	return sig, nil
}

// Well-known development keys, usable on a local devnet only.
var TestPrivateKeys = []string{
	"d00c06bfd800d27397002dca6fb0993d5ba6399b4238b2f29ee9deb97593d2bc",
	"63d86723e08f0f813a36ce6aa123bb2289d90680ae1e99d4de8cdb334553f24d",
	"ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80",
	"59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d",
}
