package markov

import "slices"

// Vocabulary is the ordered, deduplicated set of tokens a chain is built over.
// A token's position is its index, which doubles as its row and column in the
// transition matrix. Indices are dense and never change once built.
type Vocabulary[T comparable] struct {
	tokens []T
	index  map[T]int
}

// NewVocabulary collects the distinct tokens of the given sequences in order of
// first occurrence.
func NewVocabulary[T comparable](groups ...[]T) *Vocabulary[T] {
	v := &Vocabulary[T]{index: make(map[T]int)}
	for _, group := range groups {
		for _, token := range group {
			v.add(token)
		}
	}
	return v
}

func (v *Vocabulary[T]) add(token T) int {
	if i, ok := v.index[token]; ok {
		return i
	}
	i := len(v.tokens)
	v.tokens = append(v.tokens, token)
	v.index[token] = i
	return i
}

// IndexOf returns the index of token, or false if it was never seen.
func (v *Vocabulary[T]) IndexOf(token T) (int, bool) {
	i, ok := v.index[token]
	return i, ok
}

// TokenAt returns the token at index i. It panics if i is out of range, like a
// slice index expression.
func (v *Vocabulary[T]) TokenAt(i int) T {
	return v.tokens[i]
}

// Len returns the number of distinct tokens.
func (v *Vocabulary[T]) Len() int {
	return len(v.tokens)
}

// Tokens returns a copy of the tokens in index order.
func (v *Vocabulary[T]) Tokens() []T {
	return slices.Clone(v.tokens)
}
