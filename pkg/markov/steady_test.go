package markov

import (
	"math"
	"testing"
)

func assertDistribution(t *testing.T, dist []float64) {
	t.Helper()
	var sum float64
	for i, p := range dist {
		if p < 0 {
			t.Errorf("entry %d is negative: %g", i, p)
		}
		sum += p
	}
	if math.Abs(sum-1) > StochasticTolerance {
		t.Errorf("distribution sums to %g, want 1", sum)
	}
}

func TestSteadyStateExample(t *testing.T) {
	dist := SteadyState(FromGroups(exampleGroups()))
	if len(dist) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(dist))
	}
	assertDistribution(t, dist)

	// Solving pi = pi P for rows a=[0,1/2,1/2], b=[1,0,0], c=[1/3,1/3,1/3]
	// gives pi = (0.4, 0.3, 0.3).
	want := []float64{0.4, 0.3, 0.3}
	for i := range want {
		if math.Abs(dist[i]-want[i]) > 1e-3 {
			t.Errorf("dist = %v, want about %v", dist, want)
			break
		}
	}
}

func TestSolveConverges(t *testing.T) {
	// A two-state chain that mixes quickly.
	c, err := NewChain([]string{"x", "y"}, []int{0}, []float64{0.5, 0.5, 0.25, 0.75})
	if err != nil {
		t.Fatalf("NewChain failed: %v", err)
	}
	result := Solve(c)
	if !result.Converged {
		t.Errorf("expected convergence, residual %g after %d rounds", result.Residual, result.Iterations)
	}
	if result.Iterations > MaxIterations {
		t.Errorf("ran %d rounds, cap is %d", result.Iterations, MaxIterations)
	}
	assertDistribution(t, result.Distribution)
	if math.Abs(result.Distribution[0]-1.0/3) > 1e-6 {
		t.Errorf("dist = %v, want (1/3, 2/3)", result.Distribution)
	}
}

func TestSolvePeriodicChainStillNormalises(t *testing.T) {
	// c feeds its mass into a, which then swaps with b forever.
	c, err := NewChain([]string{"a", "b", "c"}, []int{0}, []float64{
		0, 1, 0,
		1, 0, 0,
		1, 0, 0,
	})
	if err != nil {
		t.Fatalf("NewChain failed: %v", err)
	}
	result := Solve(c)
	if result.Converged {
		t.Error("periodic chain should not report convergence")
	}
	if result.Iterations != MaxIterations {
		t.Errorf("expected %d rounds, got %d", MaxIterations, result.Iterations)
	}
	assertDistribution(t, result.Distribution)
	if math.Abs(result.Distribution[1]-2.0/3) > 1e-9 {
		t.Errorf("after an even number of rounds b should hold 2/3, got %v", result.Distribution)
	}
}

func TestSolveDegenerateInputs(t *testing.T) {
	t.Run("empty chain", func(t *testing.T) {
		if dist := SteadyState(FromGroups[string](nil)); len(dist) != 0 {
			t.Errorf("expected empty distribution, got %v", dist)
		}
	})

	t.Run("all dead rows", func(t *testing.T) {
		c, err := NewChain([]string{"a", "b"}, nil, []float64{0, 0, 0, 0})
		if err != nil {
			t.Fatalf("NewChain failed: %v", err)
		}
		dist := SteadyState(c)
		assertDistribution(t, dist)
		if dist[0] != 0.5 || dist[1] != 0.5 {
			t.Errorf("expected uniform fallback, got %v", dist)
		}
	})

	t.Run("single token", func(t *testing.T) {
		dist := SteadyState(FromGroups([][]string{{"only"}}))
		if len(dist) != 1 || math.Abs(dist[0]-1) > 1e-12 {
			t.Errorf("expected [1], got %v", dist)
		}
	})
}

func TestSteadyStateRandomChains(t *testing.T) {
	src := newTestSource(21)
	for round := 0; round < 20; round++ {
		groups := make([][]int, 30)
		for i := range groups {
			groups[i] = make([]int, src.IntN(8))
			for j := range groups[i] {
				groups[i][j] = src.IntN(25)
			}
		}
		assertDistribution(t, SteadyState(FromGroups(groups)))
	}
}

func BenchmarkSteadyState(b *testing.B) {
	chain := benchmarkChain(b)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = SteadyState(chain)
	}
}
