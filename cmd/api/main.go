package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/finance-import/internal/api/handlers"
	"github.com/dvloznov/finance-import/internal/api/middleware"
	"github.com/dvloznov/finance-import/internal/app"
	"github.com/dvloznov/finance-import/internal/config"
	"github.com/dvloznov/finance-import/internal/jobs/inmemory"
	"github.com/dvloznov/finance-import/internal/logger"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "", "path to a YAML config file (defaults to ./finimport.yaml if present)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := logger.New()
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize logger
	log, err := logger.Configure(cfg.Log.Level, cfg.Log.Format, os.Stdout)
	if err != nil {
		bootLog := logger.New()
		bootLog.Fatal().Err(err).Msg("Failed to configure logger")
	}
	logger.SetDefault(log)

	ctx := logger.WithContext(context.Background(), log)

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize dependencies")
	}
	defer a.Close()

	if a.Exporter != nil {
		log.Info().Str("project", cfg.BigQuery.Project).Str("dataset", cfg.BigQuery.Dataset).Msg("BigQuery mirror enabled")
	}

	// Initialize job infrastructure
	jobQueue := inmemory.NewQueue(cfg.Worker.QueueSize, cfg.Worker.Count)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	runner := a.Runner()
	if err := jobQueue.Start(workerCtx, runner.Handle); err != nil {
		log.Fatal().Err(err).Msg("Failed to start import workers")
	}
	log.Info().Int("workers", cfg.Worker.Count).Msg("Import workers started")

	// Jobs left PROCESSING by a crash or a lost message are failed after worker.max_processing.
	reaper := a.Reaper()
	if n, err := reaper.ReapOnce(ctx); err != nil {
		log.Error().Err(err).Msg("Initial stale import sweep failed")
	} else if n > 0 {
		log.Warn().Int("reaped", n).Msg("Failed stale imports from a previous run")
	}
	go reaper.Run(workerCtx, cfg.Worker.ReapInterval)

	// Initialize handlers
	importsHandler := handlers.NewImportsHandler(a.Service(jobQueue), cfg.Upload.MaxBytes, log)

	// Create router
	mux := http.NewServeMux()
	importsHandler.Register(mux)
	mux.HandleFunc("GET /health", handlers.Health)

	// Apply middleware
	handler := middleware.Recovery(log)(
		middleware.RequestID(
			middleware.Logger(log)(
				middleware.CORS(
					middleware.Auth(mux),
				),
			),
		),
	)

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      handler,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("port", cfg.HTTP.Port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stop accepting queued runs and wait for in-flight ones to finish
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	cancelWorker()

	log.Info().Msg("Server exited")
}
