package markov

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
)

var (
	// ErrInvalidBounds is returned when a length range is negative, inverted or
	// too wide to draw from.
	ErrInvalidBounds = errors.New("markov: invalid length bounds")
	// ErrInvalidCount is returned when a negative number of sequences is requested.
	ErrInvalidCount = errors.New("markov: invalid sequence count")
	// ErrUnknownToken is returned when a start token is not in the vocabulary.
	ErrUnknownToken = errors.New("markov: token not in vocabulary")
)

// Bounds is an inclusive range of walk lengths. A walk of length L appends up to
// L tokens after the seed token.
type Bounds struct {
	Min int
	Max int
}

func (b Bounds) valid() bool {
	return b.Min >= 0 && b.Min <= b.Max && b.Max-b.Min < math.MaxInt
}

// walkCapacity caps the initial capacity of a walk. Longer walks grow by append,
// so the memory a walk holds follows the tokens it actually produced.
const walkCapacity = 256

// generateOptions Is used by the generate functions to configure default options.
type generateOptions struct {
	temperature float64
	topK        int
}

// GenerateOption is a function that configures generation parameters. It's used
// as a variadic argument in generation functions like Generate and GenerateStream.
type GenerateOption func(*generateOptions)

// WithTemperature adjusts the randomness of the token selection.
// A value of 1.0 is standard weighted random selection.
// Values > 1.0 increase randomness (making less likely tokens more likely).
// Values < 1.0 decrease randomness (making likely tokens even more likely).
// A value of 0 or less results in deterministic selection (always choosing the
// most likely token, the lowest index on ties).
func WithTemperature(t float64) GenerateOption {
	return func(o *generateOptions) { o.temperature = t }
}

// WithTopK restricts the token selection pool to the top `k` most likely tokens
// at each step. A value of 0 disables Top-K sampling.
func WithTopK(k int) GenerateOption {
	return func(o *generateOptions) { o.topK = k }
}

func newGenerateOptions(opts []GenerateOption) *generateOptions {
	options := &generateOptions{
		temperature: 1.0,
		topK:        0,
	}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// Generate produces count token sequences. Each one starts at a seed token chosen
// uniformly at random, then takes a walk whose length is drawn uniformly from
// bounds. A walk stops early if it reaches a token with no outgoing weight, so a
// sequence holds between 1 and bounds.Max+1 tokens.
//
// The chain is checked before any sequence is produced: an empty chain yields
// ErrEmptyVocabulary and a chain without seed tokens yields ErrNoSeedTokens.
func (g *Generator[T]) Generate(count int, bounds Bounds, opts ...GenerateOption) ([][]T, error) {
	if err := g.checkReady(); err != nil {
		return nil, err
	}
	if count < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCount, count)
	}
	if !bounds.valid() {
		return nil, fmt.Errorf("%w: %d..%d", ErrInvalidBounds, bounds.Min, bounds.Max)
	}

	options := newGenerateOptions(opts)
	sequences := make([][]T, count)
	for k := range sequences {
		sequences[k] = g.walk(g.pickSeed(), g.pickLength(bounds), options)
	}
	return sequences, nil
}

// GenerateFrom takes a single walk starting at the given token instead of a seed
// token. It returns ErrUnknownToken if start never appeared in the training data.
func (g *Generator[T]) GenerateFrom(start T, bounds Bounds, opts ...GenerateOption) ([]T, error) {
	if g.chain.Len() == 0 {
		return nil, ErrEmptyVocabulary
	}
	if !bounds.valid() {
		return nil, fmt.Errorf("%w: %d..%d", ErrInvalidBounds, bounds.Min, bounds.Max)
	}
	i, ok := g.chain.vocab.IndexOf(start)
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnknownToken, start)
	}
	return g.walk(i, g.pickLength(bounds), newGenerateOptions(opts)), nil
}

func (g *Generator[T]) checkReady() error {
	if g.chain.Len() == 0 {
		return ErrEmptyVocabulary
	}
	if len(g.chain.seeds) == 0 {
		return ErrNoSeedTokens
	}
	return nil
}

func (g *Generator[T]) pickSeed() int {
	return g.chain.seeds[g.src.IntN(len(g.chain.seeds))]
}

func (g *Generator[T]) pickLength(b Bounds) int {
	return b.Min + g.src.IntN(b.Max-b.Min+1)
}

// walk contains the main loop for generating a single sequence.
func (g *Generator[T]) walk(start, length int, options *generateOptions) []T {
	vocab := g.chain.vocab
	sequence := make([]T, 1, min(length, walkCapacity)+1)
	sequence[0] = vocab.TokenAt(start)

	current := start
	for step := 0; step < length; step++ {
		next, ok := g.step(current, options)
		if !ok {
			g.logger.Debug("Generation terminated due to dead-end",
				slog.Int("token_index", current),
				slog.Int("target_length", length),
				slog.Int("generated_length", step),
			)
			break
		}
		current = next
		sequence = append(sequence, vocab.TokenAt(current))
	}
	return sequence
}

// step picks the successor of the token at index current. It reports false when
// the token's row holds no weight at all.
func (g *Generator[T]) step(current int, options *generateOptions) (int, bool) {
	row := g.chain.matrix.row(current)
	if isDead(row) {
		return 0, false
	}
	return chooseNextToken(row, options, g.src), true
}

// choice is a candidate successor and its weight.
type choice struct {
	index  int
	weight float64
}

// chooseNextToken abstracts the token selection logic from the generation loop.
// The row must contain at least one positive weight.
func chooseNextToken(row []float64, options *generateOptions, src Source) int {
	// Plain weighted selection needs no candidate list.
	if options.topK <= 0 && options.temperature == 1.0 {
		return sampleWeighted(row, src)
	}

	choices := make([]choice, 0, 8)
	for j, w := range row {
		if w > 0 {
			choices = append(choices, choice{index: j, weight: w})
		}
	}

	// topK filtering
	if options.topK > 0 && options.topK < len(choices) {
		sort.SliceStable(choices, func(i, j int) bool {
			return choices[i].weight > choices[j].weight
		})
		choices = choices[:options.topK]
	}

	// temperature selection
	if options.temperature <= 0 { // Deterministic
		best := choices[0]
		for _, c := range choices[1:] {
			if c.weight > best.weight || (c.weight == best.weight && c.index < best.index) {
				best = c
			}
		}
		return best.index
	}

	weights := make([]float64, len(choices))
	if options.temperature == 1.0 {
		for i, c := range choices {
			weights[i] = c.weight
		}
	} else {
		maxLog := math.Inf(-1)
		for i, c := range choices {
			lp := math.Log(c.weight) / options.temperature
			weights[i] = lp
			if lp > maxLog {
				maxLog = lp
			}
		}
		for i, lp := range weights {
			weights[i] = math.Exp(lp - maxLog)
		}
	}
	return choices[sampleWeighted(weights, src)].index
}

// sampleWeighted draws an index with probability proportional to its weight.
// Zero weights are never chosen.
func sampleWeighted(weights []float64, src Source) int {
	var total float64
	for _, w := range weights {
		total += w
	}

	r := src.Float64() * total
	last := -1
	for j, w := range weights {
		if w <= 0 {
			continue
		}
		last = j
		r -= w
		if r < 0 {
			return j
		}
	}
	// Rounding can leave r at exactly zero after the last candidate.
	return last
}
