package markov

import (
	"context"
	"fmt"
	"log/slog"
)

// PruneModel removes every transition of a stored model whose probability is
// below minWeight, then rescales the surviving transitions of each affected row
// so that it sums to 1 again. This is useful for reducing the size of a model by
// removing rare, and often noisy, transitions. A row never loses all of its
// transitions: when every cell of a row is below minWeight the row is left as is.
//
// The pruned model replaces the stored one, and its new metadata is returned along
// with the number of transitions removed.
func (s *Store) PruneModel(ctx context.Context, model ModelInfo, minWeight float64) (ModelInfo, int, error) {
	tokens, seeds, weights, err := s.loadModel(ctx, model)
	if err != nil {
		return ModelInfo{}, 0, fmt.Errorf("could not load model %d for pruning: %w", model.Id, err)
	}

	removed := pruneWeights(weights, len(tokens), minWeight)
	if removed == 0 {
		return model, 0, nil
	}

	pruned, err := s.saveModel(ctx, model.Name, model.Kind, tokens, seeds, weights)
	if err != nil {
		return ModelInfo{}, 0, fmt.Errorf("could not store pruned model %d: %w", model.Id, err)
	}

	s.logger.InfoContext(ctx, "Model pruned",
		slog.String("model_name", model.Name),
		slog.Int("model_id", pruned.Id),
		slog.Float64("min_weight", minWeight),
		slog.Int("transitions_removed", removed),
	)
	return pruned, removed, nil
}

// pruneWeights zeroes the cells below minWeight in place and renormalises the
// rows it touched. It returns the number of cells zeroed.
func pruneWeights(weights []float64, n int, minWeight float64) int {
	var removed int
	for i := 0; i < n; i++ {
		row := weights[i*n : (i+1)*n]

		var kept, dropped int
		var sum float64
		for _, w := range row {
			switch {
			case w == 0:
			case w < minWeight:
				dropped++
			default:
				kept++
				sum += w
			}
		}
		if dropped == 0 || kept == 0 {
			continue
		}

		for j, w := range row {
			if w < minWeight {
				row[j] = 0
			} else {
				row[j] = w / sum
			}
		}
		removed += dropped
	}
	return removed
}
