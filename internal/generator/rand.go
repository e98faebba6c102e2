package generator

import "math/rand/v2"

// RandSource draws the fee bump. Implementations must be safe for use by
// the goroutine calling Generate.
type RandSource interface {
	// Uint64N returns a value in [0, n). n is never zero.
	Uint64N(n uint64) uint64
}

type globalRand struct{}

func (globalRand) Uint64N(n uint64) uint64 {
	return rand.Uint64N(n)
}

// NewRand returns an automatically seeded, goroutine-safe source.
func NewRand() RandSource {
	return globalRand{}
}

// NewSeededRand returns a reproducible source. It is not goroutine-safe.
func NewSeededRand(seed uint64) RandSource {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}
