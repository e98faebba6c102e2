package types

import (
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/blake2b"
)

// Blake2b256 hashes the concatenation of parts with blake2b-256.
func Blake2b256(parts ...[]byte) common.Hash {
	h, _ := blake2b.New256(nil) // only fails for keys longer than 64 bytes
	for _, p := range parts {
		h.Write(p)
	}
	var out common.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// Blake160 returns the first 20 bytes of the blake2b-256 digest of data.
// It is the lock argument format used by the default secp256k1 lock.
func Blake160(data []byte) []byte {
	sum := Blake2b256(data)
	return append([]byte(nil), sum[:20]...)
}
