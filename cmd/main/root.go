package main

import (
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/CTAG07/markovian/pkg/markov"
)

var (
	// Global flags
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "markovian",
	Short: "Train Markov chains and generate sequences from them",
	Long: `markovian builds first-order Markov chains from text (one token per word,
sentences kept apart) or from raw bytes, stores them in a SQLite database and
generates new sequences by random walks over them.

It can also estimate the stationary distribution of a chain and serve every
operation over an HTTP API with Prometheus metrics.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	// Global persistent flags (available to all subcommands)
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.json", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")
}

// parseLogLevel maps a config string onto a slog level, defaulting to info.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newLogger(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: parseLogLevel(level)}))
}

// openDatabase opens the configured database, creating its directory and the
// markov schema when they are missing.
func openDatabase(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open(sqliteDriver, path)
	if err != nil {
		return nil, err
	}
	if _, err = db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if err = markov.SetupSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to setup markov schema: %w", err)
	}
	return db, nil
}

// app bundles what every model command needs.
type app struct {
	config *Config
	logger *slog.Logger
	db     *sql.DB
	store  *markov.Store
}

// openApp loads the configuration and opens the store it points at.
func openApp() (*app, error) {
	config, err := LoadConfig(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	level := config.Server.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	// Keep stdout for command output.
	logger := newLogger(os.Stderr, level)

	db, err := openDatabase(config.Server.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	store, err := markov.NewStore(db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to prepare store: %w", err)
	}
	store.SetLogger(logger)

	return &app{config: config, logger: logger, db: db, store: store}, nil
}

func (a *app) Close() {
	a.store.Close()
	if err := a.db.Close(); err != nil {
		a.logger.Error("Failed to close database", "error", err)
	}
}
