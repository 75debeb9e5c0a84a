package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/CTAG07/markovian/pkg/markov"
)

// MarkovAPI holds the dependencies for the Markov model API handlers.
type MarkovAPI struct {
	store   *markov.Store
	cache   *ModelCache
	config  *ConfigManager
	metrics *Metrics
	logger  *slog.Logger
}

// NewMarkovAPI creates a new instance of the MarkovAPI.
func NewMarkovAPI(store *markov.Store, cache *ModelCache, config *ConfigManager, metrics *Metrics, logger *slog.Logger) *MarkovAPI {
	return &MarkovAPI{
		store:   store,
		cache:   cache,
		config:  config,
		metrics: metrics,
		logger:  logger,
	}
}

// RegisterRoutes sets up the routing for all /api/markov endpoints.
func (m *MarkovAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/markov/models", m.handleListModels)
	mux.HandleFunc("/api/markov/models/", m.handleModelByName)
	mux.HandleFunc("/api/markov/import", m.handleImport)
	mux.HandleFunc("/api/markov/stats", m.handleStats)
}

type PruneRequest struct {
	MinWeight float64 `json:"min_weight"`
}

type PruneResponse struct {
	Model   markov.ModelInfo `json:"model"`
	Removed int              `json:"removed"`
}

type GenerateResponse struct {
	Model     string   `json:"model"`
	Sequences []string `json:"sequences"`
}

type ModelDetails struct {
	markov.ModelInfo
	Stats markov.ChainStats `json:"stats"`
}

// handleListModels lists every stored model, sorted by name.
func (m *MarkovAPI) handleListModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	models, err := m.store.GetModelInfos(r.Context())
	if err != nil {
		m.logger.Error("Failed to get model infos", "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve models: %v", err))
		return
	}
	// Convert map to slice for consistent JSON output
	respondWithJSON(w, http.StatusOK, sortedModels(models))
}

func sortedModels(models map[string]markov.ModelInfo) []markov.ModelInfo {
	modelList := make([]markov.ModelInfo, 0, len(models))
	for _, model := range models {
		modelList = append(modelList, model)
	}
	sort.Slice(modelList, func(i, j int) bool { return modelList[i].Name < modelList[j].Name })
	return modelList
}

// handleModelByName routes actions for a specific model, e.g., train, generate, export, delete.
func (m *MarkovAPI) handleModelByName(w http.ResponseWriter, r *http.Request) {

	path := strings.TrimPrefix(r.URL.Path, "/api/markov/models/")
	parts := strings.Split(path, "/")
	modelName := parts[0]

	if modelName == "" {
		respondWithError(w, http.StatusBadRequest, "Model name not specified")
		return
	}
	if len(parts) > 2 {
		respondWithError(w, http.StatusNotFound, "Action not found")
		return
	}

	// Training creates the model, so it is the one action that needs no lookup.
	if len(parts) == 2 && parts[1] == "train" {
		m.handleTrain(w, r, modelName)
		return
	}

	model, err := m.store.GetModelInfo(r.Context(), modelName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			respondWithError(w, http.StatusNotFound, "Model not found")
			return
		}
		m.logger.Error("Failed to get model info by name", "name", modelName, "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Database error: %v", err))
		return
	}

	if len(parts) == 1 { // Path is just /api/markov/models/{name}
		switch r.Method {
		case http.MethodGet:
			m.handleDetails(w, r, model)
		case http.MethodDelete:
			if err = m.store.RemoveModel(r.Context(), model); err != nil {
				m.logger.Error("Failed to remove model", "name", modelName, "error", err)
				respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to remove model: %v", err))
				return
			}
			m.cache.Invalidate(modelName)
			w.WriteHeader(http.StatusNoContent)
		default:
			w.Header().Set("Allow", "GET, DELETE")
			respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
		return
	}

	action := parts[1]
	switch action {
	case "generate":
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", "GET")
			respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		m.handleGenerate(w, r, model)

	case "steady":
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", "GET")
			respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		m.handleSteady(w, r, model)

	case "prune":
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", "POST")
			respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		var req PruneRequest
		if err = json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
			return
		}
		if req.MinWeight < 0 || req.MinWeight > 1 {
			respondWithError(w, http.StatusBadRequest, "min_weight must be between 0 and 1")
			return
		}
		pruned, removed, err := m.store.PruneModel(r.Context(), model, req.MinWeight)
		if err != nil {
			m.logger.Error("Failed to prune model", "name", modelName, "error", err)
			respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Pruning failed: %v", err))
			return
		}
		m.cache.Invalidate(modelName)
		respondWithJSON(w, http.StatusOK, PruneResponse{Model: pruned, Removed: removed})

	case "export":
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", "GET")
			respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s.json\"", modelName))
		if err = m.store.ExportModel(r.Context(), model, w); err != nil {
			m.logger.Error("Failed to export model", "name", modelName, "error", err)
		}

	default:
		respondWithError(w, http.StatusNotFound, "Action not found")
	}
}

// handleTrain builds a chain from the request body and stores it, replacing any
// model of the same name.
func (m *MarkovAPI) handleTrain(w http.ResponseWriter, r *http.Request, modelName string) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	mode := r.URL.Query().Get("mode")
	if mode == "" {
		mode = modeWords
	}
	if mode != modeWords && mode != modeBytes {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Unknown training mode %q", mode))
		return
	}

	body := http.MaxBytesReader(w, r.Body, m.config.Get().Server.MaxBodyBytes)
	start := time.Now()
	loaded, err := trainModel(r.Context(), m.store, modelName, mode, body)
	m.metrics.ObserveTraining(mode, time.Since(start).Seconds(), err)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondWithError(w, http.StatusRequestEntityTooLarge, "Training data too large")
			return
		}
		m.logger.Error("Failed to train model", "name", modelName, "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Training failed: %v", err))
		return
	}
	m.cache.Put(loaded)
	respondWithJSON(w, http.StatusCreated, ModelDetails{ModelInfo: loaded.Info(), Stats: loaded.Stats()})
}

func (m *MarkovAPI) handleDetails(w http.ResponseWriter, r *http.Request, model markov.ModelInfo) {
	loaded, err := m.cache.Get(r.Context(), model)
	if err != nil {
		m.logger.Error("Failed to load model", "name", model.Name, "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load model: %v", err))
		return
	}
	respondWithJSON(w, http.StatusOK, ModelDetails{ModelInfo: model, Stats: loaded.Stats()})
}

func (m *MarkovAPI) handleGenerate(w http.ResponseWriter, r *http.Request, model markov.ModelInfo) {
	req, err := parseGenerateRequest(r, m.config.Generation())
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	loaded, err := m.cache.Get(r.Context(), model)
	if err != nil {
		m.logger.Error("Failed to load model", "name", model.Name, "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load model: %v", err))
		return
	}

	sequences, err := loaded.Generate(req)
	if err != nil {
		respondWithError(w, generationErrorStatus(err), err.Error())
		return
	}
	m.metrics.ObserveGeneration(model.Kind, sequences)
	respondWithJSON(w, http.StatusOK, GenerateResponse{Model: model.Name, Sequences: sequences})
}

func (m *MarkovAPI) handleSteady(w http.ResponseWriter, r *http.Request, model markov.ModelInfo) {
	top, err := intParam(r, "top", m.config.Generation().SteadyTop)
	if err != nil || top < 0 {
		respondWithError(w, http.StatusBadRequest, "top must be a non-negative integer")
		return
	}

	loaded, err := m.cache.Get(r.Context(), model)
	if err != nil {
		m.logger.Error("Failed to load model", "name", model.Name, "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load model: %v", err))
		return
	}
	result := loaded.Steady(top)
	m.metrics.steadyIterations.Observe(float64(result.Iterations))
	respondWithJSON(w, http.StatusOK, result)
}

// handleImport imports a model from an uploaded JSON file.
func (m *MarkovAPI) handleImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	body := http.MaxBytesReader(w, r.Body, m.config.Get().Server.MaxBodyBytes)
	model, err := m.store.ImportModel(r.Context(), body)
	if err != nil {
		if errors.Is(err, markov.ErrInvalidChain) {
			respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Import rejected: %v", err))
			return
		}
		m.logger.Error("Failed to import model", "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Import failed: %v", err))
		return
	}

	m.cache.Invalidate(model.Name)
	respondWithJSON(w, http.StatusCreated, model)
}

// handleStats returns database-wide and per-model statistics.
func (m *MarkovAPI) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	stats, err := m.store.GetStats(r.Context())
	if err != nil {
		m.logger.Error("Failed to get stats", "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve stats: %v", err))
		return
	}
	respondWithJSON(w, http.StatusOK, stats)
}

// parseGenerateRequest reads the generation parameters from the query string,
// falling back to the configured defaults.
func parseGenerateRequest(r *http.Request, defaults GenerationConfig) (GenerateRequest, error) {
	var req GenerateRequest
	var err error

	if req.Count, err = intParam(r, "count", 1); err != nil {
		return req, err
	}
	if req.Count < 0 || req.Count > defaults.MaxCount {
		return req, fmt.Errorf("count must be between 0 and %d", defaults.MaxCount)
	}
	if req.Bounds.Min, err = intParam(r, "min", defaults.MinLength); err != nil {
		return req, err
	}
	if req.Bounds.Max, err = intParam(r, "max", defaults.MaxLength); err != nil {
		return req, err
	}
	if req.Bounds.Max > defaults.LengthLimit {
		return req, fmt.Errorf("max must not exceed %d", defaults.LengthLimit)
	}

	temperature, err := floatParam(r, "temperature", defaults.Temperature)
	if err != nil {
		return req, err
	}
	topK, err := intParam(r, "top_k", defaults.TopK)
	if err != nil {
		return req, err
	}
	req.Options = []markov.GenerateOption{markov.WithTemperature(temperature), markov.WithTopK(topK)}
	req.Start = r.URL.Query().Get("start")
	return req, nil
}

func intParam(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, raw)
	}
	return v, nil
}

func floatParam(r *http.Request, key string, def float64) (float64, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, raw)
	}
	return v, nil
}

// generationErrorStatus maps generation failures to HTTP status codes.
func generationErrorStatus(err error) int {
	switch {
	case errors.Is(err, markov.ErrEmptyVocabulary), errors.Is(err, markov.ErrNoSeedTokens):
		return http.StatusConflict
	case errors.Is(err, markov.ErrInvalidBounds), errors.Is(err, markov.ErrInvalidCount), errors.Is(err, markov.ErrUnknownToken):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
