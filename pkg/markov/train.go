package markov

import (
	"context"
	"fmt"
	"io"
	"log/slog"
)

// TrainWords tokenizes a stream of text from an io.Reader, builds a word chain
// from its sentences and stores it under name, replacing any model already stored
// with that name. The chain is built in memory and written within a single
// database transaction.
func TrainWords(ctx context.Context, s *Store, name string, t Tokenizer, data io.Reader) (ModelInfo, *Chain[string], error) {
	sentences, err := ReadSentences(t, data)
	if err != nil {
		return ModelInfo{}, nil, err
	}

	chain := FromGroups(sentences)
	model, err := SaveChain(ctx, s, name, chain, StringCodec{})
	if err != nil {
		return ModelInfo{}, nil, fmt.Errorf("could not store trained model '%s': %w", name, err)
	}

	s.logger.InfoContext(ctx, "Training completed",
		slog.String("model_name", model.Name),
		slog.Int("model_id", model.Id),
		slog.Int("sentences_processed", len(sentences)),
	)
	return model, chain, nil
}

// TrainBytes reads an io.Reader to the end, builds a byte chain from it as one
// continuous sequence and stores it under name, replacing any model already
// stored with that name. Every byte value that occurs may start a sequence.
func TrainBytes(ctx context.Context, s *Store, name string, data io.Reader) (ModelInfo, *Chain[byte], error) {
	raw, err := io.ReadAll(data)
	if err != nil {
		return ModelInfo{}, nil, fmt.Errorf("could not read training data: %w", err)
	}

	chain := FromSequence(raw)
	model, err := SaveChain(ctx, s, name, chain, ByteCodec{})
	if err != nil {
		return ModelInfo{}, nil, fmt.Errorf("could not store trained model '%s': %w", name, err)
	}

	s.logger.InfoContext(ctx, "Training completed",
		slog.String("model_name", model.Name),
		slog.Int("model_id", model.Id),
		slog.Int("bytes_processed", len(raw)),
	)
	return model, chain, nil
}
