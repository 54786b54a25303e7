/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the pallet consigne server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env + environment)
  2. Build the shared logger
  3. Initialize SQLite store
  4. Create the operation service and API handler
  5. Start server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database
  DB_PATH=./data/consigne.db ./server

  # Run with in-memory database on another port
  DB_PATH=:memory: PORT=3000 ./server

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Environment variables
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/palletdesk/consigne-engine/api"
	"github.com/palletdesk/consigne-engine/config"
	"github.com/palletdesk/consigne-engine/consigne"
	"github.com/palletdesk/consigne-engine/store/sqlite"
)

func main() {
	cfg := config.Load()
	log := config.NewLogger(cfg.LogLevel)

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	service := consigne.NewService(store, log)
	handler := api.NewHandler(service, log)
	router := api.NewRouter(handler, cfg.CORSOrigins)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infof("Server starting on http://localhost:%d", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Info("Server stopped")
}
