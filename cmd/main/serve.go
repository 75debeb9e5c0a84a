package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Long: `Serve every model operation over HTTP, together with Prometheus metrics on
/metrics. The server runs until it receives SIGINT or SIGTERM. When
enable_control is set in the configuration it can also be restarted or shut down
through /api/server/restart and /api/server/shutdown; a restart reloads the
configuration file.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		baseLogger := newLogger(os.Stdout, logLevel)

		actionChan := make(chan string, 1)

		go func() {
			osSignalChan := make(chan os.Signal, 1)
			signal.Notify(osSignalChan, syscall.SIGINT, syscall.SIGTERM)
			<-osSignalChan // Wait for a signal
			baseLogger.Info("OS signal received, initiating shutdown.")
			actionChan <- actionShutdown
		}()

		for {
			action, err := run(actionChan)
			if err != nil {
				baseLogger.Error("An error occurred during server run, shutting down.", "error", err)
				return err
			}

			if action != actionRestart {
				break
			}
			baseLogger.Info("--- Server Restarting ---")
		}

		baseLogger.Info("markovian has shut down.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// run hosts the API server until it is shut down or restarted, and reports which.
func run(actionChan chan string) (string, error) {

	config, err := LoadConfig(cfgFile)
	if err != nil {
		return "", fmt.Errorf("failed to load configuration: %w", err)
	}

	level := config.Server.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	logger := newLogger(os.Stdout, level)
	logger.Info("Starting server cycle...")

	db, err := openDatabase(config.Server.DatabasePath)
	if err != nil {
		return "", fmt.Errorf("failed to initialize database: %w", err)
	}

	server, err := NewServer(NewConfigManager(cfgFile, config, logger), logger, db, actionChan)
	if err != nil {
		_ = db.Close()
		return "", fmt.Errorf("failed to create server object: %w", err)
	}

	apiHttpServer := &http.Server{
		Addr:              config.Server.ApiAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting api server", "address", apiHttpServer.Addr)
		if err := apiHttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	var action string
	select {
	case action = <-actionChan: // Block here until API or OS signal sends an action.
	case err = <-serveErr:
		logger.Error("Api server failed", "error", err)
		server.Close()
		_ = db.Close()
		return "", err
	}

	logger.Info("Stopping server for " + action + "...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err = apiHttpServer.Shutdown(ctx); err != nil {
		logger.Error("Api server shutdown failed", "error", err)
	}
	logger.Info("HTTP server stopped.")

	server.Close()
	logger.Info("Closing database connection.")
	if err = db.Close(); err != nil {
		logger.Error("Failed to close database", slog.Any("error", err))
	}

	return action, nil
}
