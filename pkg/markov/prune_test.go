package markov

import (
	"context"
	"math"
	"strings"
	"testing"
)

func TestPruneModel(t *testing.T) {
	_, s := setupTestDB(t)
	ctx := context.Background()

	// x is followed by y three times and by z once.
	model, err := SaveChain(ctx, s, "prune_test", FromGroups([][]string{{"x", "y", "x", "y"}, {"x", "z"}, {"x", "y"}}), StringCodec{})
	if err != nil {
		t.Fatalf("SaveChain() failed: %v", err)
	}

	pruned, removed, err := s.PruneModel(ctx, model, 0.5)
	if err != nil {
		t.Fatalf("PruneModel failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 transition removed, got %d", removed)
	}

	chain, err := LoadChain(ctx, s, pruned, StringCodec{})
	if err != nil {
		t.Fatalf("LoadChain() failed: %v", err)
	}
	x, _ := chain.Vocabulary().IndexOf("x")
	y, _ := chain.Vocabulary().IndexOf("y")
	if got := chain.Matrix().At(x, y); got != 1 {
		t.Errorf("P(y|x) = %g after pruning, want 1", got)
	}
	if err = chain.Matrix().CheckStochastic(StochasticTolerance); err != nil {
		t.Errorf("pruned matrix is not row-stochastic: %v", err)
	}
}

func TestPruneModelNothingToRemove(t *testing.T) {
	_, s := setupTestDB(t)
	ctx := context.Background()

	model, _, err := TrainWords(ctx, s, "prune_noop", NewDefaultTokenizer(), strings.NewReader("a b a."))
	if err != nil {
		t.Fatalf("TrainWords() failed: %v", err)
	}
	pruned, removed, err := s.PruneModel(ctx, model, 0.1)
	if err != nil {
		t.Fatalf("PruneModel failed: %v", err)
	}
	if removed != 0 || pruned != model {
		t.Errorf("expected an untouched model, got %+v with %d removed", pruned, removed)
	}
}

func TestPruneWeights(t *testing.T) {
	weights := []float64{
		0.1, 0.3, 0.6,
		1.0 / 3, 1.0 / 3, 1.0 / 3,
		0, 0.2, 0.8,
	}
	removed := pruneWeights(weights, 3, 0.4)
	if removed != 3 {
		t.Errorf("expected 3 cells removed, got %d", removed)
	}

	want := []float64{
		0, 0, 1,
		1.0 / 3, 1.0 / 3, 1.0 / 3, // every cell below the cut, row kept
		0, 0, 1,
	}
	for k := range want {
		if math.Abs(weights[k]-want[k]) > 1e-12 {
			t.Fatalf("weights = %v, want %v", weights, want)
		}
	}
}
