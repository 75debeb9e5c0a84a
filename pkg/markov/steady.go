package markov

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	// MaxIterations caps the number of power-iteration rounds.
	MaxIterations = 30
	// Tolerance is the distance between successive candidates at which the
	// iteration is considered converged.
	Tolerance = 1e-8
)

// Stationary is the result of a steady-state computation.
type Stationary struct {
	// Distribution holds the probability mass of each token, aligned with the
	// vocabulary order. It sums to 1.
	Distribution []float64
	// Residual is the Euclidean distance between the last two candidates,
	// before normalisation.
	Residual float64
	// Iterations is the number of rounds actually run.
	Iterations int
	// Converged reports whether Residual fell below Tolerance within MaxIterations.
	Converged bool
}

// SteadyState approximates the stationary distribution of the chain. See Solve.
func SteadyState[T comparable](c *Chain[T]) []float64 {
	return Solve(c).Distribution
}

// Solve approximates the stationary distribution of the chain by power iteration.
//
// Starting from a vector of ones, each round moves mass along outgoing edges by
// multiplying with the transposed transition matrix. Iteration stops after
// MaxIterations rounds or once successive candidates are closer than Tolerance,
// and the last candidate is divided by its sum. Convergence is best-effort: for a
// reducible or periodic chain the result is simply the approximation reached
// after the final round. Solve never fails; an empty chain yields an empty
// distribution, and a candidate whose mass vanished is replaced by the uniform
// distribution.
func Solve[T comparable](c *Chain[T]) Stationary {
	n := c.Len()
	if n == 0 {
		return Stationary{Distribution: []float64{}, Converged: true}
	}

	transposed := mat.NewDense(n, n, c.matrix.Raw()).T()

	ones := make([]float64, n)
	for i := range ones {
		ones[i] = 1
	}
	current := mat.NewVecDense(n, ones)
	next := mat.NewVecDense(n, nil)

	result := Stationary{Residual: math.Inf(1)}
	for result.Iterations < MaxIterations {
		next.MulVec(transposed, current)
		result.Iterations++
		result.Residual = floats.Distance(next.RawVector().Data, current.RawVector().Data, 2)
		current, next = next, current
		if result.Residual < Tolerance {
			result.Converged = true
			break
		}
	}

	dist := make([]float64, n)
	copy(dist, current.RawVector().Data)
	sum := floats.Sum(dist)
	if sum <= 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		for i := range dist {
			dist[i] = 1 / float64(n)
		}
	} else {
		floats.Scale(1/sum, dist)
	}
	result.Distribution = dist
	return result
}
