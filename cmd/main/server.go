package main

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/CTAG07/markovian/pkg/markov"
)

type Server struct {
	config    *ConfigManager
	db        *sql.DB
	store     *markov.Store
	logger    *slog.Logger
	metrics   *Metrics
	cache     *ModelCache
	markovAPI *MarkovAPI
	serverAPI *ServerAPI
	apiMux    *http.ServeMux
}

// NewServer wires the API handlers to a store on db. The caller keeps ownership
// of db; Close releases only what the server created.
func NewServer(config *ConfigManager, logger *slog.Logger, db *sql.DB, actionChan chan string) (*Server, error) {

	store, err := markov.NewStore(db)
	if err != nil {
		return nil, fmt.Errorf("error creating markov store: %w", err)
	}
	store.SetLogger(logger)

	metrics := NewMetrics()
	cache, err := NewModelCache(store, config.Get().Server.CacheSize, metrics, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create model cache: %w", err)
	}

	// create object, register routes to the mux, and return it
	server := &Server{
		config:    config,
		db:        db,
		store:     store,
		logger:    logger,
		metrics:   metrics,
		cache:     cache,
		markovAPI: NewMarkovAPI(store, cache, config, metrics, logger),
		serverAPI: NewServerAPI(config, actionChan, logger),
		apiMux:    http.NewServeMux(),
	}

	apiMux := http.NewServeMux()
	server.markovAPI.RegisterRoutes(apiMux)
	server.serverAPI.RegisterRoutes(apiMux)

	server.apiMux.Handle("/api/", metrics.Instrument(apiMux))
	server.apiMux.Handle("/metrics", metrics.Handler())
	server.apiMux.HandleFunc("/favicon.ico", handleFavicon)

	return server, nil
}

// Handler returns the root handler of the API server.
func (s *Server) Handler() http.Handler {
	return s.apiMux
}

// Close releases the prepared statements of the server's store.
func (s *Server) Close() {
	s.store.Close()
}

func handleFavicon(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}
