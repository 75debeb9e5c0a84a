package markov

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrEmptyVocabulary is returned when generating from a chain built from no tokens.
	ErrEmptyVocabulary = errors.New("markov: chain has no tokens")
	// ErrNoSeedTokens is returned when a chain has no tokens that may start a sequence.
	ErrNoSeedTokens = errors.New("markov: chain has no seed tokens")
	// ErrInvalidChain is returned by NewChain when its inputs do not describe a chain.
	ErrInvalidChain = errors.New("markov: invalid chain data")
)

// Chain is an immutable first-order Markov chain: a vocabulary, the subset of it
// allowed to start a generated sequence, and a row-stochastic transition matrix.
// A Chain is never modified after construction and may be shared between goroutines.
type Chain[T comparable] struct {
	vocab  *Vocabulary[T]
	seeds  []int
	matrix *TransitionMatrix
}

// FromGroups builds a chain from independent token sequences, such as sentences.
// Transitions are only counted between neighbours inside the same sequence, and the
// first token of every non-empty sequence becomes a seed token.
func FromGroups[T comparable](groups [][]T) *Chain[T] {
	vocab := NewVocabulary(groups...)

	var seeds []int
	seen := make(map[int]struct{})
	for _, group := range groups {
		if len(group) == 0 {
			continue
		}
		i, _ := vocab.IndexOf(group[0])
		if _, ok := seen[i]; ok {
			continue
		}
		seen[i] = struct{}{}
		seeds = append(seeds, i)
	}

	return &Chain[T]{
		vocab:  vocab,
		seeds:  seeds,
		matrix: buildMatrix(vocab, groups),
	}
}

// FromSequence builds a chain from one continuous stream with no sequence
// boundaries. Every token in the vocabulary may start a generated sequence.
func FromSequence[T comparable](seq []T) *Chain[T] {
	c := FromGroups([][]T{seq})
	c.seeds = make([]int, c.vocab.Len())
	for i := range c.seeds {
		c.seeds[i] = i
	}
	return c
}

// NewChain rebuilds a chain from previously computed data: the distinct tokens in
// index order, the seed token indices, and the row-major weights. Rows are not
// required to be stochastic, so damaged or hand-built matrices stay representable;
// use TransitionMatrix.CheckStochastic to verify them.
func NewChain[T comparable](tokens []T, seeds []int, weights []float64) (*Chain[T], error) {
	n := len(tokens)
	vocab := NewVocabulary(tokens)
	if vocab.Len() != n {
		return nil, fmt.Errorf("%w: %d duplicate tokens", ErrInvalidChain, n-vocab.Len())
	}
	if len(weights) != n*n {
		return nil, fmt.Errorf("%w: %d weights for %d tokens", ErrInvalidChain, len(weights), n)
	}
	for k, w := range weights {
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, fmt.Errorf("%w: weight %g at row %d column %d", ErrInvalidChain, w, k/n, k%n)
		}
	}
	for _, s := range seeds {
		if s < 0 || s >= n {
			return nil, fmt.Errorf("%w: seed index %d out of range", ErrInvalidChain, s)
		}
	}

	matrix := newTransitionMatrix(n)
	copy(matrix.weights, weights)
	return &Chain[T]{
		vocab:  vocab,
		seeds:  append([]int(nil), seeds...),
		matrix: matrix,
	}, nil
}

// buildMatrix estimates transition probabilities from adjacency counts. Each
// observed successor of token i adds 1/k to its cell, where k is the number of
// successors observed for i, so repeats accumulate to the empirical frequency.
// Tokens with no observed successor get a uniform row.
func buildMatrix[T comparable](vocab *Vocabulary[T], groups [][]T) *TransitionMatrix {
	n := vocab.Len()
	matrix := newTransitionMatrix(n)

	successors := make([][]int, n)
	for _, group := range groups {
		if len(group) < 2 {
			continue
		}
		for k := 0; k+1 < len(group); k++ {
			a, _ := vocab.IndexOf(group[k])
			b, _ := vocab.IndexOf(group[k+1])
			successors[a] = append(successors[a], b)
		}
	}

	for i, next := range successors {
		if len(next) == 0 {
			matrix.fillUniform(i)
			continue
		}
		w := 1 / float64(len(next))
		row := matrix.row(i)
		for _, j := range next {
			row[j] += w
		}
	}
	return matrix
}

// Vocabulary returns the chain's vocabulary.
func (c *Chain[T]) Vocabulary() *Vocabulary[T] {
	return c.vocab
}

// Matrix returns the chain's transition matrix.
func (c *Chain[T]) Matrix() *TransitionMatrix {
	return c.matrix
}

// Len returns the number of distinct tokens in the chain.
func (c *Chain[T]) Len() int {
	return c.vocab.Len()
}

// SeedIndices returns a copy of the indices of the tokens that may start a sequence.
func (c *Chain[T]) SeedIndices() []int {
	return append([]int(nil), c.seeds...)
}

// Seeds returns the tokens that may start a sequence.
func (c *Chain[T]) Seeds() []T {
	out := make([]T, len(c.seeds))
	for k, i := range c.seeds {
		out[k] = c.vocab.TokenAt(i)
	}
	return out
}

// IsSeed reports whether the token at index i may start a sequence.
func (c *Chain[T]) IsSeed(i int) bool {
	for _, s := range c.seeds {
		if s == i {
			return true
		}
	}
	return false
}
