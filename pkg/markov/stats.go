package markov

import (
	"context"
	"math"
)

// ChainStats holds aggregated statistics for a single chain.
type ChainStats struct {
	VocabSize   int // The number of distinct tokens.
	SeedTokens  int // The number of tokens that can start a sequence.
	Transitions int // The number of non-zero cells in the transition matrix.
	UniformRows int // Rows spread evenly over every token, such as dangling tokens.
	DeadRows    int // Rows with no weight at all; walks stop when they reach one.
}

// Stats returns a snapshot of statistics for the chain.
func (c *Chain[T]) Stats() ChainStats {
	n := c.Len()
	stats := ChainStats{
		VocabSize:  n,
		SeedTokens: len(c.seeds),
	}
	if n == 0 {
		return stats
	}

	uniform := 1 / float64(n)
	for i := 0; i < n; i++ {
		row := c.matrix.row(i)
		if isDead(row) {
			stats.DeadRows++
			continue
		}
		even := true
		for _, w := range row {
			if w != 0 {
				stats.Transitions++
			}
			if math.Abs(w-uniform) > StochasticTolerance {
				even = false
			}
		}
		if even {
			stats.UniformRows++
		}
	}
	return stats
}

// DBStats holds aggregated statistics for the entire database, including a
// list of all models and their individual stats.
type DBStats struct {
	Models      []ModelInfo        // A list of models in the database
	Stats       map[int]ModelStats // A mapping of model ids to their stats
	VocabSize   int                // The number of vocabulary rows across all models
	Transitions int                // The number of stored transitions across all models
}

// ModelStats holds aggregated statistics for a single stored model.
type ModelStats struct {
	Transitions int // The number of stored non-zero transitions.
	SeedTokens  int // The number of tokens that can start a sequence.
}

// GetStats returns a snapshot of statistics for the entire database,
// including global counts and per-model stats.
func (s *Store) GetStats(ctx context.Context) (*DBStats, error) {
	modelInfos, err := s.GetModelInfos(ctx)
	if err != nil {
		return nil, err
	}

	var vocabLen int
	if err = s.stmtGetVocabLen.QueryRowContext(ctx).Scan(&vocabLen); err != nil {
		return nil, err
	}

	var transitionLen int
	if err = s.stmtGetTransitionCount.QueryRowContext(ctx).Scan(&transitionLen); err != nil {
		return nil, err
	}

	models := make([]ModelInfo, 0, len(modelInfos))
	modelStats := make(map[int]ModelStats)
	for _, v := range modelInfos {
		models = append(models, v)
		var stats ModelStats
		if err = s.stmtModelTransitions.QueryRowContext(ctx, v.Id).Scan(&stats.Transitions); err != nil {
			return nil, err
		}
		if err = s.stmtModelSeeds.QueryRowContext(ctx, v.Id).Scan(&stats.SeedTokens); err != nil {
			return nil, err
		}
		modelStats[v.Id] = stats
	}

	return &DBStats{
		Models:      models,
		Stats:       modelStats,
		VocabSize:   vocabLen,
		Transitions: transitionLen,
	}, nil
}
