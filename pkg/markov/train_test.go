package markov

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
)

func TestTrainWords(t *testing.T) {
	db, s := setupTestDB(t)
	ctx := context.Background()

	model, chain, err := TrainWords(ctx, s, "train_test", NewDefaultTokenizer(), strings.NewReader("a b c. a b d."))
	if err != nil {
		t.Fatalf("TrainWords() failed: %v", err)
	}
	if model.Size != 4 || chain.Len() != 4 {
		t.Errorf("expected 4 tokens, got model %d and chain %d", model.Size, chain.Len())
	}

	// a -> b, b -> {c, d}, and c, d dangling over all four tokens.
	var transitionCount int
	err = db.QueryRowContext(ctx, "SELECT COUNT(*) FROM markov_transitions WHERE model_id = ?", model.Id).Scan(&transitionCount)
	if err != nil {
		t.Fatal(err)
	}
	if transitionCount != 11 {
		t.Errorf("expected 11 stored transitions, got %d", transitionCount)
	}

	loaded, err := LoadChain(ctx, s, model, StringCodec{})
	if err != nil {
		t.Fatalf("LoadChain() failed: %v", err)
	}
	b, _ := loaded.Vocabulary().IndexOf("b")
	c, _ := loaded.Vocabulary().IndexOf("c")
	if got := loaded.Matrix().At(b, c); got != 0.5 {
		t.Errorf("P(c|b) = %g, want 0.5", got)
	}
	if got := loaded.Seeds(); len(got) != 1 || got[0] != "a" {
		t.Errorf("Seeds() = %v, want [a]", got)
	}
}

func TestTrainBytes(t *testing.T) {
	_, s := setupTestDB(t)
	ctx := context.Background()

	model, chain, err := TrainBytes(ctx, s, "bytes", strings.NewReader("abcabc"))
	if err != nil {
		t.Fatalf("TrainBytes() failed: %v", err)
	}
	if model.Kind != KindBytes || len(chain.SeedIndices()) != 3 {
		t.Errorf("unexpected byte model %+v with seeds %v", model, chain.SeedIndices())
	}

	loaded, err := LoadChain(ctx, s, model, ByteCodec{})
	if err != nil {
		t.Fatalf("LoadChain() failed: %v", err)
	}
	assertSameChain(t, loaded, chain)
}

func TestTrainWordsReplacesModel(t *testing.T) {
	_, s := setupTestDB(t)
	ctx := context.Background()

	if _, _, err := TrainWords(ctx, s, "model", NewDefaultTokenizer(), strings.NewReader("old words here.")); err != nil {
		t.Fatalf("TrainWords() failed: %v", err)
	}
	model, _, err := TrainWords(ctx, s, "model", NewDefaultTokenizer(), strings.NewReader("new."))
	if err != nil {
		t.Fatalf("TrainWords() failed: %v", err)
	}
	if model.Size != 1 {
		t.Errorf("expected the retrained model to hold 1 token, got %d", model.Size)
	}
}

func setupTestDBBench(b *testing.B) *Store {
	db, err := sql.Open("sqlite3", filepath.Join(b.TempDir(), "bench.db")+"?_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		b.Fatalf("failed to open database: %v", err)
	}
	b.Cleanup(func() { _ = db.Close() })
	if err = SetupSchema(db); err != nil {
		b.Fatalf("failed to set up schema: %v", err)
	}
	s, err := NewStore(db)
	if err != nil {
		b.Fatalf("NewStore() error = %v", err)
	}
	b.Cleanup(s.Close)
	return s
}

func BenchmarkTrainWords(b *testing.B) {
	corpus := createBenchmarkCorpus()
	ctx := context.Background()
	s := setupTestDBBench(b)
	tok := NewDefaultTokenizer()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, err := TrainWords(ctx, s, "bench_train", tok, strings.NewReader(corpus)); err != nil {
			b.Fatalf("TrainWords() failed: %v", err)
		}
	}
}
