package main

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/CTAG07/markovian/pkg/markov"
)

// Training modes accepted by the train command and endpoint.
const (
	modeWords = "words"
	modeBytes = "bytes"
)

// GenerateRequest describes one batch of generated sequences.
type GenerateRequest struct {
	Count   int
	Bounds  markov.Bounds
	Start   string // optional; walks start here instead of at a seed token
	Options []markov.GenerateOption
}

// TokenProbability is a single entry of a stationary distribution.
type TokenProbability struct {
	Token       string  `json:"token"`
	Probability float64 `json:"probability"`
}

// SteadyResult is the printable form of a stationary distribution.
type SteadyResult struct {
	Model      string             `json:"model"`
	Iterations int                `json:"iterations"`
	Residual   float64            `json:"residual"`
	Converged  bool               `json:"converged"`
	Tokens     []TokenProbability `json:"tokens"`
}

// loadedModel is a chain read from the store, whatever its token kind.
type loadedModel interface {
	Info() markov.ModelInfo
	Stats() markov.ChainStats
	Generate(req GenerateRequest) ([]string, error)
	Steady(top int) SteadyResult
}

// loadModel reads a stored model into memory with the codec matching its kind.
func loadModel(ctx context.Context, store *markov.Store, info markov.ModelInfo) (loadedModel, error) {
	switch info.Kind {
	case markov.KindWords:
		chain, err := markov.LoadChain(ctx, store, info, markov.StringCodec{})
		if err != nil {
			return nil, err
		}
		return &wordModel{info: info, chain: chain, tok: markov.NewDefaultTokenizer()}, nil
	case markov.KindBytes:
		chain, err := markov.LoadChain(ctx, store, info, markov.ByteCodec{})
		if err != nil {
			return nil, err
		}
		return &byteModel{info: info, chain: chain}, nil
	default:
		return nil, fmt.Errorf("%w: unknown token kind %q", markov.ErrKindMismatch, info.Kind)
	}
}

// trainModel builds a chain from r and stores it under name.
func trainModel(ctx context.Context, store *markov.Store, name, mode string, r io.Reader) (loadedModel, error) {
	switch mode {
	case modeWords, "":
		tok := markov.NewDefaultTokenizer()
		info, chain, err := markov.TrainWords(ctx, store, name, tok, r)
		if err != nil {
			return nil, err
		}
		return &wordModel{info: info, chain: chain, tok: tok}, nil
	case modeBytes:
		info, chain, err := markov.TrainBytes(ctx, store, name, r)
		if err != nil {
			return nil, err
		}
		return &byteModel{info: info, chain: chain}, nil
	default:
		return nil, fmt.Errorf("unknown training mode %q, want %q or %q", mode, modeWords, modeBytes)
	}
}

type wordModel struct {
	info  markov.ModelInfo
	chain *markov.Chain[string]
	tok   markov.Tokenizer
}

func (m *wordModel) Info() markov.ModelInfo   { return m.info }
func (m *wordModel) Stats() markov.ChainStats { return m.chain.Stats() }

func (m *wordModel) Generate(req GenerateRequest) ([]string, error) {
	seqs, err := generate(markov.NewGenerator(m.chain, nil), req, func(s string) (string, error) { return s, nil })
	if err != nil {
		return nil, err
	}
	out := make([]string, len(seqs))
	for i, seq := range seqs {
		out[i] = markov.Render(m.tok, seq)
	}
	return out, nil
}

func (m *wordModel) Steady(top int) SteadyResult {
	return steady(m.info, m.chain, top, func(s string) string { return s })
}

type byteModel struct {
	info  markov.ModelInfo
	chain *markov.Chain[byte]
}

func (m *byteModel) Info() markov.ModelInfo   { return m.info }
func (m *byteModel) Stats() markov.ChainStats { return m.chain.Stats() }

func (m *byteModel) Generate(req GenerateRequest) ([]string, error) {
	seqs, err := generate(markov.NewGenerator(m.chain, nil), req, parseStartByte)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(seqs))
	for i, seq := range seqs {
		out[i] = string(seq)
	}
	return out, nil
}

func (m *byteModel) Steady(top int) SteadyResult {
	return steady(m.info, m.chain, top, func(b byte) string { return string([]byte{b}) })
}

func parseStartByte(s string) (byte, error) {
	if len(s) != 1 {
		return 0, fmt.Errorf("%w: start of a byte model must be a single byte, got %q", markov.ErrUnknownToken, s)
	}
	return s[0], nil
}

// generate runs req against g, parsing the start token with parse when one is given.
func generate[T comparable](g *markov.Generator[T], req GenerateRequest, parse func(string) (T, error)) ([][]T, error) {
	if req.Start == "" {
		return g.Generate(req.Count, req.Bounds, req.Options...)
	}
	if req.Count < 0 {
		return nil, fmt.Errorf("%w: %d", markov.ErrInvalidCount, req.Count)
	}
	start, err := parse(req.Start)
	if err != nil {
		return nil, err
	}
	seqs := make([][]T, 0, req.Count)
	for i := 0; i < req.Count; i++ {
		seq, err := g.GenerateFrom(start, req.Bounds, req.Options...)
		if err != nil {
			return nil, err
		}
		seqs = append(seqs, seq)
	}
	return seqs, nil
}

// steady solves the chain and keeps the top most likely tokens. A top of 0 keeps all.
func steady[T comparable](info markov.ModelInfo, chain *markov.Chain[T], top int, format func(T) string) SteadyResult {
	solved := markov.Solve(chain)
	tokens := make([]TokenProbability, len(solved.Distribution))
	for i, p := range solved.Distribution {
		tokens[i] = TokenProbability{Token: format(chain.Vocabulary().TokenAt(i)), Probability: p}
	}
	sort.SliceStable(tokens, func(i, j int) bool {
		return tokens[i].Probability > tokens[j].Probability
	})
	if top > 0 && top < len(tokens) {
		tokens = tokens[:top]
	}
	return SteadyResult{
		Model:      info.Name,
		Iterations: solved.Iterations,
		Residual:   solved.Residual,
		Converged:  solved.Converged,
		Tokens:     tokens,
	}
}
