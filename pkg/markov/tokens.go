package markov

import (
	"errors"
	"fmt"
	"io"
)

// Token represents a single tokenized unit of text. It contains the text itself
// and a boolean flag indicating if it marks the end of a chain (e.g., a sentence).
type Token struct {
	Text string
	EOC  bool
}

// Tokenizer is an interface that defines the contract for splitting input text
// into tokens. This allows the chain logic to be independent of the specific
// tokenization strategy.
type Tokenizer interface {
	// NewStream returns a stateful StreamTokenizer for processing an io.Reader.
	NewStream(io.Reader) StreamTokenizer
	// Separator returns the string that should be used to join tokens
	// when building a final generated string, using the previous and current
	// tokens.
	Separator(prev, current string) string
	// EOC returns the string representation for an End-Of-Chain token
	// in the final generated output, using the last token in the sequence.
	EOC(last string) string
}

// StreamTokenizer is an interface for a stateful tokenizer that processes a
// stream of data, returning one token at a time.
type StreamTokenizer interface {
	// Next returns the next token from the stream. It returns io.EOF as the
	// error when the stream is fully consumed.
	Next() (*Token, error)
}

// ReadSentences tokenizes r and groups the tokens into sentences, ready for
// FromGroups. EOC tokens close the current sentence and are not kept. A trailing
// sentence without an EOC is kept, and empty sentences are dropped. Sentences
// longer than 4096 tokens are split, and the next group starts with the token that
// did not fit.
func ReadSentences(t Tokenizer, r io.Reader) ([][]string, error) {
	// maxSentenceLength prevents massive sentences from taking up a large amount of memory
	const maxSentenceLength = 4096

	stream := t.NewStream(r)
	var sentences [][]string
	var current []string

	for {
		token, err := stream.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("tokenizer error: %w", err)
		}

		if token.EOC || len(current) == maxSentenceLength {
			if len(current) > 0 {
				sentences = append(sentences, current)
				current = nil
			}
		}
		if !token.EOC {
			current = append(current, token.Text)
		}
	}

	if len(current) > 0 {
		sentences = append(sentences, current)
	}
	return sentences, nil
}
