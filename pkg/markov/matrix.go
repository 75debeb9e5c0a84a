package markov

import (
	"fmt"
	"math"
	"slices"
)

// StochasticTolerance is the allowed deviation of a row sum from 1.0.
const StochasticTolerance = 1e-4

// TransitionMatrix is an N×N table of transition weights stored as a flat
// row-major buffer. Row i holds the outgoing weights of token i.
type TransitionMatrix struct {
	n       int
	weights []float64
}

func newTransitionMatrix(n int) *TransitionMatrix {
	return &TransitionMatrix{n: n, weights: make([]float64, n*n)}
}

// Size returns N, the number of rows (and columns).
func (m *TransitionMatrix) Size() int {
	return m.n
}

// At returns the weight of the transition from token i to token j.
func (m *TransitionMatrix) At(i, j int) float64 {
	return m.weights[i*m.n+j]
}

// Row returns a copy of the outgoing weights of token i.
func (m *TransitionMatrix) Row(i int) []float64 {
	return slices.Clone(m.row(i))
}

// row is the non-copying view used on hot paths. Callers must not modify it.
func (m *TransitionMatrix) row(i int) []float64 {
	return m.weights[i*m.n : (i+1)*m.n]
}

// RowSum returns the sum of the outgoing weights of token i.
func (m *TransitionMatrix) RowSum(i int) float64 {
	var sum float64
	for _, w := range m.row(i) {
		sum += w
	}
	return sum
}

// Raw returns a copy of the row-major weight buffer.
func (m *TransitionMatrix) Raw() []float64 {
	return slices.Clone(m.weights)
}

// CheckStochastic reports the first row whose weights do not sum to 1 within tol.
func (m *TransitionMatrix) CheckStochastic(tol float64) error {
	for i := 0; i < m.n; i++ {
		if sum := m.RowSum(i); math.Abs(sum-1) > tol {
			return fmt.Errorf("row %d sums to %g", i, sum)
		}
	}
	return nil
}

// fillUniform spreads the row of token i evenly over every column.
func (m *TransitionMatrix) fillUniform(i int) {
	w := 1 / float64(m.n)
	row := m.row(i)
	for j := range row {
		row[j] = w
	}
}

// isDead reports whether every weight in row i is exactly zero.
func isDead(row []float64) bool {
	for _, w := range row {
		if w != 0 {
			return false
		}
	}
	return true
}
