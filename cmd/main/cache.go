package main

import (
	"context"
	"log/slog"

	lru "github.com/hashicorp/golang-lru"

	"github.com/CTAG07/markovian/pkg/markov"
)

// ModelCache keeps recently used chains in memory so that generation requests
// do not rebuild the transition matrix from the database every time. It is
// safe for concurrent use.
type ModelCache struct {
	store   *markov.Store
	cache   *lru.ARCCache
	metrics *Metrics
	logger  *slog.Logger
}

// NewModelCache creates a cache holding at most size chains.
func NewModelCache(store *markov.Store, size int, metrics *Metrics, logger *slog.Logger) (*ModelCache, error) {
	cache, err := lru.NewARC(size)
	if err != nil {
		return nil, err
	}
	return &ModelCache{
		store:   store,
		cache:   cache,
		metrics: metrics,
		logger:  logger,
	}, nil
}

// Get returns the chain stored for info, loading it on a miss. An entry whose
// model id differs from info is stale and reloaded.
func (c *ModelCache) Get(ctx context.Context, info markov.ModelInfo) (loadedModel, error) {
	if v, ok := c.cache.Get(info.Name); ok {
		if m := v.(loadedModel); m.Info() == info {
			c.metrics.cacheLookups.WithLabelValues("hit").Inc()
			return m, nil
		}
	}
	c.metrics.cacheLookups.WithLabelValues("miss").Inc()

	m, err := loadModel(ctx, c.store, info)
	if err != nil {
		return nil, err
	}
	c.Put(m)
	c.logger.DebugContext(ctx, "Model loaded into cache",
		slog.String("model_name", info.Name),
		slog.Int("vocab_size", info.Size),
	)
	return m, nil
}

// Put stores a freshly built chain, replacing any older entry of the same name.
func (c *ModelCache) Put(m loadedModel) {
	c.cache.Add(m.Info().Name, m)
	c.metrics.cachedModels.Set(float64(c.cache.Len()))
}

// Invalidate drops the entry for name, if any.
func (c *ModelCache) Invalidate(name string) {
	c.cache.Remove(name)
	c.metrics.cachedModels.Set(float64(c.cache.Len()))
}
