package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mkandie/artifact-triage-api/internal/config"
	"github.com/mkandie/artifact-triage-api/internal/db"
	"github.com/mkandie/artifact-triage-api/internal/repository"
	"github.com/mkandie/artifact-triage-api/internal/router"
	"github.com/mkandie/artifact-triage-api/internal/services"
	"github.com/mkandie/artifact-triage-api/internal/utils"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logger := utils.NewLogger(cfg.LogLevel)

	// Initialize database
	database, err := db.NewSQLiteDB(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("Failed to connect to database", "error", err)
	}
	defer database.Close()

	// Run migrations
	if err := db.RunMigrations(database); err != nil {
		logger.Fatal("Failed to run migrations", "error", err)
	}

	// Initialize pipeline service
	repo := repository.NewRepository(database)
	service, err := services.NewService(repo, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize pipeline service", "error", err)
	}
	defer service.Close()

	// Setup HTTP router
	handler := router.NewRouter(service, cfg.MaxInputBytes, logger)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server
	go func() {
		logger.Info("Starting server", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed to start", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", "error", err)
	}

	logger.Info("Server exited")
}
