package markov

import (
	"context"
	"fmt"
	"log/slog"
)

// GenerateStream takes a single walk and returns a read-only channel of its tokens,
// seed first. This allows for processing the sequence token-by-token, which is
// useful for real-time applications or very long walks. The channel is closed once
// the walk is complete or the context is cancelled.
//
// The walk runs in its own goroutine using the Generator's random source, so the
// Generator must not be used for anything else until the channel is closed.
func (g *Generator[T]) GenerateStream(ctx context.Context, bounds Bounds, opts ...GenerateOption) (<-chan T, error) {
	if err := g.checkReady(); err != nil {
		return nil, err
	}
	if !bounds.valid() {
		return nil, fmt.Errorf("%w: %d..%d", ErrInvalidBounds, bounds.Min, bounds.Max)
	}

	options := newGenerateOptions(opts)
	start := g.pickSeed()
	length := g.pickLength(bounds)

	tokenChan := make(chan T)

	go func() {
		defer close(tokenChan)

		vocab := g.chain.vocab
		current := start

		select {
		case <-ctx.Done():
			return
		case tokenChan <- vocab.TokenAt(current):
		}

		for generated := 0; generated < length; generated++ {
			next, ok := g.step(current, options)
			if !ok {
				g.logger.DebugContext(ctx, "Generation stream terminated due to dead-end",
					slog.Int("token_index", current),
					slog.Int("generated_length", generated),
				)
				return
			}
			current = next

			select {
			case <-ctx.Done():
				g.logger.DebugContext(ctx, "Generation stream cancelled by context")
				return
			case tokenChan <- vocab.TokenAt(current):
			}
		}
	}()

	return tokenChan, nil
}
