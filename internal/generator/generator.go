// Package generator builds signed spend transactions from a live-cell inventory.
package generator

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/cellbench/pkg/types"
)

var (
	// ErrInsufficientCapacity means a pair of inputs cannot fund two minimal
	// outputs. The inventory handed to the generator is malformed.
	ErrInsufficientCapacity = errors.New("input capacity is not enough for 2 outputs")

	// ErrSigning means the sender could not sign a transaction.
	ErrSigning = errors.New("sign transaction")
)

// Signer is the identity capability a generator needs.
type Signer interface {
	LockScript() types.Script
	DepOutPoint() types.CellDep
	Sign(hash common.Hash) ([]byte, error)
}

// Generator turns live cells into transactions. Cells it does not spend are
// returned as leftovers. Any error aborts the whole batch.
type Generator interface {
	Kind() types.GeneratorKind
	Generate(liveCells []types.LiveCell, sender, receiver Signer) ([]types.LiveCell, []*types.Transaction, error)
}

// Registry manages generator lookup by kind.
type Registry struct {
	generators map[types.GeneratorKind]Generator
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		generators: make(map[types.GeneratorKind]Generator),
	}
}

// Register adds a generator to the registry.
func (r *Registry) Register(g Generator) {
	r.generators[g.Kind()] = g
}

// Get returns the generator for kind.
func (r *Registry) Get(kind types.GeneratorKind) (Generator, error) {
	g, ok := r.generators[kind]
	if !ok {
		return nil, fmt.Errorf("unknown generator: %s", kind)
	}
	return g, nil
}

// NewDefaultRegistry creates a registry with all built-in generators.
func NewDefaultRegistry(cfg Config) *Registry {
	r := NewRegistry()
	r.Register(NewRandomFee(cfg))
	return r
}
