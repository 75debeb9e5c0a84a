package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/CTAG07/markovian/pkg/markov"
)

const fishText = "One fish two fish. Red fish blue fish."

// newTestServer starts an API server backed by a fresh database.
func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	dir := t.TempDir()

	config := DefaultConfig()
	config.Server.DatabasePath = filepath.Join(dir, "test.db")
	config.Generation.MaxCount = 10

	db, err := openDatabase(config.Server.DatabasePath)
	if err != nil {
		t.Fatalf("openDatabase() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	server, err := NewServer(NewConfigManager(filepath.Join(dir, "config.json"), config, logger), logger, db, make(chan string, 1))
	if err != nil {
		t.Fatalf("NewServer() failed: %v", err)
	}
	t.Cleanup(server.Close)

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return server, ts
}

func doRequest(t *testing.T, method, url string, body io.Reader) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected status %d, got %d: %s", want, resp.StatusCode, body)
	}
}

func trainFish(t *testing.T, ts *httptest.Server) ModelDetails {
	t.Helper()
	resp := doRequest(t, http.MethodPost, ts.URL+"/api/markov/models/fish/train", strings.NewReader(fishText))
	expectStatus(t, resp, http.StatusCreated)
	var details ModelDetails
	decodeJSON(t, resp, &details)
	return details
}

func TestTrainAndList(t *testing.T) {
	_, ts := newTestServer(t)

	details := trainFish(t, ts)
	if details.Name != "fish" || details.Kind != markov.KindWords || details.Size != 5 {
		t.Errorf("unexpected model details: %+v", details)
	}
	if details.Stats.SeedTokens != 2 {
		t.Errorf("expected 2 seed tokens, got %d", details.Stats.SeedTokens)
	}

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/markov/models", nil)
	expectStatus(t, resp, http.StatusOK)
	var models []markov.ModelInfo
	decodeJSON(t, resp, &models)
	if len(models) != 1 || models[0].Name != "fish" {
		t.Errorf("unexpected model list: %+v", models)
	}

	resp = doRequest(t, http.MethodGet, ts.URL+"/api/markov/models/fish", nil)
	expectStatus(t, resp, http.StatusOK)
	var fetched ModelDetails
	decodeJSON(t, resp, &fetched)
	if fetched.Stats != details.Stats {
		t.Errorf("details = %+v, want %+v", fetched.Stats, details.Stats)
	}
}

func TestGenerateEndpoint(t *testing.T) {
	_, ts := newTestServer(t)
	trainFish(t, ts)

	t.Run("deterministic start", func(t *testing.T) {
		resp := doRequest(t, http.MethodGet, ts.URL+"/api/markov/models/fish/generate?count=2&min=3&max=3&temperature=0&start=one", nil)
		expectStatus(t, resp, http.StatusOK)
		var out GenerateResponse
		decodeJSON(t, resp, &out)
		if len(out.Sequences) != 2 {
			t.Fatalf("expected 2 sequences, got %v", out.Sequences)
		}
		for _, s := range out.Sequences {
			if s != "One fish two fish." {
				t.Errorf("got %q, want %q", s, "One fish two fish.")
			}
		}
	})

	t.Run("seeded walks", func(t *testing.T) {
		resp := doRequest(t, http.MethodGet, ts.URL+"/api/markov/models/fish/generate?count=10&min=1&max=1", nil)
		expectStatus(t, resp, http.StatusOK)
		var out GenerateResponse
		decodeJSON(t, resp, &out)
		for _, s := range out.Sequences {
			if s != "One fish." && s != "Red fish." {
				t.Errorf("unexpected one-step sequence %q", s)
			}
		}
	})

	testCases := []struct {
		name   string
		query  string
		status int
	}{
		{name: "count over limit", query: "count=11", status: http.StatusBadRequest},
		{name: "negative count", query: "count=-1", status: http.StatusBadRequest},
		{name: "not a number", query: "min=abc", status: http.StatusBadRequest},
		{name: "inverted bounds", query: "min=4&max=2", status: http.StatusBadRequest},
		{name: "unknown start", query: "start=green", status: http.StatusBadRequest},
		{name: "max over length limit", query: "min=1099511627776&max=1099511627776", status: http.StatusBadRequest},
		{name: "range wider than int", query: "min=0&max=9223372036854775807", status: http.StatusBadRequest},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resp := doRequest(t, http.MethodGet, ts.URL+"/api/markov/models/fish/generate?"+tc.query, nil)
			expectStatus(t, resp, tc.status)
		})
	}

	t.Run("unknown model", func(t *testing.T) {
		resp := doRequest(t, http.MethodGet, ts.URL+"/api/markov/models/nope/generate", nil)
		expectStatus(t, resp, http.StatusNotFound)
	})

	t.Run("wrong method", func(t *testing.T) {
		resp := doRequest(t, http.MethodPost, ts.URL+"/api/markov/models/fish/generate", nil)
		expectStatus(t, resp, http.StatusMethodNotAllowed)
	})
}

func TestGenerateFromEmptyModel(t *testing.T) {
	_, ts := newTestServer(t)

	resp := doRequest(t, http.MethodPost, ts.URL+"/api/markov/models/empty/train", strings.NewReader(""))
	expectStatus(t, resp, http.StatusCreated)

	resp = doRequest(t, http.MethodGet, ts.URL+"/api/markov/models/empty/generate", nil)
	expectStatus(t, resp, http.StatusConflict)
}

func TestTrainBytesMode(t *testing.T) {
	_, ts := newTestServer(t)

	resp := doRequest(t, http.MethodPost, ts.URL+"/api/markov/models/abc/train?mode=bytes", strings.NewReader("abcabc"))
	expectStatus(t, resp, http.StatusCreated)
	var details ModelDetails
	decodeJSON(t, resp, &details)
	if details.Kind != markov.KindBytes || details.Size != 3 {
		t.Fatalf("unexpected byte model: %+v", details)
	}

	resp = doRequest(t, http.MethodGet, ts.URL+"/api/markov/models/abc/generate?min=5&max=5&start=a", nil)
	expectStatus(t, resp, http.StatusOK)
	var out GenerateResponse
	decodeJSON(t, resp, &out)
	if len(out.Sequences) != 1 || out.Sequences[0] != "abcabc" {
		t.Errorf("expected the only possible walk, got %q", out.Sequences)
	}

	resp = doRequest(t, http.MethodPost, ts.URL+"/api/markov/models/abc/train?mode=runes", strings.NewReader("x"))
	expectStatus(t, resp, http.StatusBadRequest)
}

func TestSteadyEndpoint(t *testing.T) {
	_, ts := newTestServer(t)
	trainFish(t, ts)

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/markov/models/fish/steady?top=2", nil)
	expectStatus(t, resp, http.StatusOK)
	var result SteadyResult
	decodeJSON(t, resp, &result)

	if len(result.Tokens) != 2 {
		t.Fatalf("expected 2 tokens, got %+v", result.Tokens)
	}
	if result.Tokens[0].Probability < result.Tokens[1].Probability || result.Tokens[1].Probability <= 0 {
		t.Errorf("unexpected ordering: %+v", result.Tokens)
	}
	for _, tok := range result.Tokens {
		if tok.Token == "one" || tok.Token == "red" {
			t.Errorf("%q is never entered and should carry no mass", tok.Token)
		}
	}
	if result.Iterations < 1 || result.Iterations > markov.MaxIterations {
		t.Errorf("unexpected iteration count %d", result.Iterations)
	}

	resp = doRequest(t, http.MethodGet, ts.URL+"/api/markov/models/fish/steady?top=-1", nil)
	expectStatus(t, resp, http.StatusBadRequest)
}

func TestExportDeleteImport(t *testing.T) {
	_, ts := newTestServer(t)
	trainFish(t, ts)

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/markov/models/fish/export", nil)
	expectStatus(t, resp, http.StatusOK)
	exported, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}

	resp = doRequest(t, http.MethodDelete, ts.URL+"/api/markov/models/fish", nil)
	expectStatus(t, resp, http.StatusNoContent)
	resp = doRequest(t, http.MethodGet, ts.URL+"/api/markov/models/fish/generate", nil)
	expectStatus(t, resp, http.StatusNotFound)

	resp = doRequest(t, http.MethodPost, ts.URL+"/api/markov/import", bytes.NewReader(exported))
	expectStatus(t, resp, http.StatusCreated)

	resp = doRequest(t, http.MethodGet, ts.URL+"/api/markov/models/fish/generate?min=3&max=3&temperature=0&start=red", nil)
	expectStatus(t, resp, http.StatusOK)
	var out GenerateResponse
	decodeJSON(t, resp, &out)
	if out.Sequences[0] != "Red fish two fish." {
		t.Errorf("got %q from the imported model", out.Sequences[0])
	}

	resp = doRequest(t, http.MethodPost, ts.URL+"/api/markov/import", strings.NewReader(`{"name":"bad","kind":"words","tokens":["a","a"],"seeds":[],"transitions":[]}`))
	expectStatus(t, resp, http.StatusBadRequest)
}

func TestPruneEndpoint(t *testing.T) {
	_, ts := newTestServer(t)
	resp := doRequest(t, http.MethodPost, ts.URL+"/api/markov/models/xy/train", strings.NewReader("x y x y. x z. x y."))
	expectStatus(t, resp, http.StatusCreated)

	resp = doRequest(t, http.MethodPost, ts.URL+"/api/markov/models/xy/prune", strings.NewReader(`{"min_weight": 0.5}`))
	expectStatus(t, resp, http.StatusOK)
	var pruned PruneResponse
	decodeJSON(t, resp, &pruned)
	if pruned.Removed != 1 {
		t.Errorf("expected 1 transition removed, got %d", pruned.Removed)
	}

	// The cached chain must not survive the prune.
	resp = doRequest(t, http.MethodGet, ts.URL+"/api/markov/models/xy/generate?count=10&min=1&max=1&start=x", nil)
	expectStatus(t, resp, http.StatusOK)
	var out GenerateResponse
	decodeJSON(t, resp, &out)
	for _, s := range out.Sequences {
		if s != "X y." {
			t.Errorf("pruned transition still used: %q", s)
		}
	}

	resp = doRequest(t, http.MethodPost, ts.URL+"/api/markov/models/xy/prune", strings.NewReader(`{"min_weight": 2}`))
	expectStatus(t, resp, http.StatusBadRequest)
}

func TestStatsEndpoint(t *testing.T) {
	_, ts := newTestServer(t)
	trainFish(t, ts)

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/markov/stats", nil)
	expectStatus(t, resp, http.StatusOK)
	var stats markov.DBStats
	decodeJSON(t, resp, &stats)
	if len(stats.Models) != 1 || stats.VocabSize != 5 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestModelCacheAndMetrics(t *testing.T) {
	server, ts := newTestServer(t)
	trainFish(t, ts)

	for i := 0; i < 3; i++ {
		resp := doRequest(t, http.MethodGet, ts.URL+"/api/markov/models/fish/generate", nil)
		expectStatus(t, resp, http.StatusOK)
	}
	// Training put the chain in the cache, so every lookup hits.
	if hits := testutil.ToFloat64(server.metrics.cacheLookups.WithLabelValues("hit")); hits != 3 {
		t.Errorf("expected 3 cache hits, got %v", hits)
	}
	if got := testutil.ToFloat64(server.metrics.sequencesGenerated.WithLabelValues(markov.KindWords)); got != 3 {
		t.Errorf("expected 3 generated sequences, got %v", got)
	}
	if n := testutil.CollectAndCount(server.metrics.sequencesGenerated); n != 1 {
		t.Errorf("expected one series per token kind, got %d", n)
	}

	resp := doRequest(t, http.MethodGet, ts.URL+"/metrics", nil)
	expectStatus(t, resp, http.StatusOK)
	body, _ := io.ReadAll(resp.Body)
	for _, name := range []string{"markovian_http_requests_total", "markovian_trainings_total", "markovian_model_cache_entries"} {
		if !strings.Contains(string(body), name) {
			t.Errorf("metrics output is missing %s", name)
		}
	}
}

func TestModelCacheReloadsReplacedModel(t *testing.T) {
	server, ts := newTestServer(t)
	ctx := context.Background()

	old, err := markov.SaveChain(ctx, server.store, "m", markov.FromGroups([][]string{{"a", "b", "b"}}), markov.StringCodec{})
	if err != nil {
		t.Fatalf("SaveChain failed: %v", err)
	}
	if _, err = server.cache.Get(ctx, old); err != nil {
		t.Fatalf("cache Get failed: %v", err)
	}

	// Replace the model behind the server's back, keeping the vocabulary size.
	replaced, err := markov.SaveChain(ctx, server.store, "m", markov.FromGroups([][]string{{"b", "a", "a"}}), markov.StringCodec{})
	if err != nil {
		t.Fatalf("SaveChain failed: %v", err)
	}
	if replaced == old {
		t.Fatalf("replacement kept ModelInfo %+v", old)
	}

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/markov/models/m/generate?min=1&max=1&start=b&temperature=0", nil)
	expectStatus(t, resp, http.StatusOK)
	var out GenerateResponse
	decodeJSON(t, resp, &out)
	if len(out.Sequences) != 1 || out.Sequences[0] != "B a." {
		t.Errorf("expected the replaced chain to be served, got %v", out.Sequences)
	}
}

func TestServerAPI(t *testing.T) {
	_, ts := newTestServer(t)

	resp := doRequest(t, http.MethodGet, ts.URL+"/api/server/version", nil)
	expectStatus(t, resp, http.StatusOK)
	var info VersionInfo
	decodeJSON(t, resp, &info)
	if info.Version != Version {
		t.Errorf("unexpected version info: %+v", info)
	}

	resp = doRequest(t, http.MethodGet, ts.URL+"/api/server/config", nil)
	expectStatus(t, resp, http.StatusOK)

	// Control endpoints are disabled by default.
	resp = doRequest(t, http.MethodPost, ts.URL+"/api/server/shutdown", nil)
	expectStatus(t, resp, http.StatusForbidden)
	resp = doRequest(t, http.MethodPut, ts.URL+"/api/server/config", strings.NewReader(`{}`))
	expectStatus(t, resp, http.StatusForbidden)
}
