package markov

import (
	"io"
	"log/slog"
	"math/rand/v2"
)

// Source is the randomness a Generator draws from. *rand.Rand from math/rand/v2
// satisfies it, which lets tests supply a seeded, deterministic source.
type Source interface {
	IntN(n int) int
	Float64() float64
}

// globalSource draws from the math/rand/v2 top-level functions.
type globalSource struct{}

func (globalSource) IntN(n int) int   { return rand.IntN(n) }
func (globalSource) Float64() float64 { return rand.Float64() }

// Generator performs weighted random walks over a Chain. The chain is only read,
// but the Generator owns its random source and is not safe for concurrent use;
// create one Generator per goroutine.
type Generator[T comparable] struct {
	chain  *Chain[T]
	src    Source
	logger *slog.Logger
}

// NewGenerator returns a Generator walking chain with randomness from src. A nil
// src uses the shared math/rand/v2 source.
func NewGenerator[T comparable](chain *Chain[T], src Source) *Generator[T] {
	if src == nil {
		src = globalSource{}
	}
	return &Generator[T]{
		chain:  chain,
		src:    src,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// SetLogger sets the logger for the Generator. By default, all logs are discarded.
func (g *Generator[T]) SetLogger(logger *slog.Logger) {
	if logger != nil {
		g.logger = logger
	}
}

// Chain returns the chain the Generator walks.
func (g *Generator[T]) Chain() *Chain[T] {
	return g.chain
}
