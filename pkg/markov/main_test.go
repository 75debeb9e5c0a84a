package markov

import (
	"database/sql"
	"go/build"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates a new SQLite database and a Store for testing.
// It uses t.Cleanup to ensure resources are released.
func setupTestDB(t *testing.T) (*sql.DB, *Store) {
	dbFile := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite3", dbFile+"?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=-4000")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := SetupSchema(db); err != nil {
		t.Fatalf("failed to set up schema: %v", err)
	}

	s, err := NewStore(db)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	t.Cleanup(s.Close)

	return db, s
}

// exampleGroups is the small corpus most tests build from: a -> {b, c}, b -> a,
// and c dangling.
func exampleGroups() [][]string {
	return [][]string{{"a", "b", "a"}, {"a", "c"}}
}

// newTestSource returns a deterministic random source.
func newTestSource(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// fishChain trains a word chain from a short text through the default tokenizer.
func fishChain(t testing.TB) *Chain[string] {
	sentences, err := ReadSentences(NewDefaultTokenizer(), strings.NewReader("One fish two fish. Red fish blue fish."))
	if err != nil {
		t.Fatalf("ReadSentences() failed: %v", err)
	}
	return FromGroups(sentences)
}

var (
	benchmarkCorpus string
	corpusOnce      sync.Once
)

// createBenchmarkCorpus reads Go source files to create a corpus for benchmarking.
func createBenchmarkCorpus() string {
	corpusOnce.Do(func() {
		var sb strings.Builder
		goRoot := build.Default.GOROOT
		filesToRead := []string{
			filepath.Join(goRoot, "src/net/http/server.go"),
			filepath.Join(goRoot, "src/go/parser/parser.go"),
			filepath.Join(goRoot, "src/encoding/json/encode.go"),
		}

		for _, file := range filesToRead {
			content, err := os.ReadFile(file)
			if err != nil {
				benchmarkCorpus = "this is a fallback corpus for benchmarking. it is not very long but will prevent a crash. "
				return
			}
			sb.Write(content)
			sb.WriteString("\n")
		}
		benchmarkCorpus = sb.String()
	})
	return benchmarkCorpus
}

// benchmarkChain builds a word chain from the benchmark corpus.
func benchmarkChain(b *testing.B) *Chain[string] {
	sentences, err := ReadSentences(NewDefaultTokenizer(), strings.NewReader(createBenchmarkCorpus()))
	if err != nil {
		b.Fatalf("ReadSentences() failed: %v", err)
	}
	return FromGroups(sentences)
}
