/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the ledger server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, LEDGER_* variables, flags)
  2. Initialize SQLite store
  3. Choose the account locker (Redis when LEDGER_REDIS_ADDR is set)
  4. Wire registry, engine, calculator and auditor
  5. Optionally seed the default chart of accounts
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides LEDGER_ADDR)
  -db      SQLite database path (overrides LEDGER_DB_PATH)
           Use ":memory:" for in-memory database
  -env     Path to a .env file (default: ./.env if present)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the audit sweep
  4. Close Redis and database connections

EXAMPLES:
  # Run with file database
  ./server -db="./data/ledger.db"

  # Several instances sharing one database
  LEDGER_REDIS_ADDR=localhost:6379 ./server -port=3000

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/warp/ledger-engine/api"
	"github.com/warp/ledger-engine/chart"
	"github.com/warp/ledger-engine/config"
	"github.com/warp/ledger-engine/ledger"
	"github.com/warp/ledger-engine/lock"
	"github.com/warp/ledger-engine/logging"
	"github.com/warp/ledger-engine/store/sqlite"
)

func main() {
	// Flags
	port := flag.Int("port", 0, "HTTP server port (overrides LEDGER_ADDR)")
	dbPath := flag.String("db", "", "SQLite database path (overrides LEDGER_DB_PATH)")
	envPath := flag.String("env", "", "path to a .env file")
	flag.Parse()

	cfg, err := config.Load(*envPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Addr = fmt.Sprintf(":%d", *port)
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		logger.Fatal().Err(err).Str("db", cfg.DBPath).Msg("failed to initialize database")
	}
	defer store.Close()

	registry := ledger.NewRegistry(store)
	engine := ledger.NewEngine(store, registry).WithLogger(logger)
	engine.MaxAttempts = cfg.PostMaxAttempts

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer client.Close()
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Fatal().Err(err).Str("redis", cfg.RedisAddr).Msg("failed to reach redis")
		}
		opts := lock.DefaultOptions()
		opts.TTL = cfg.LockTTL
		engine.WithLocker(lock.NewRedisLocker(client, opts))
		logger.Info().Str("redis", cfg.RedisAddr).Msg("using redis account locks")
	}

	calc := ledger.NewCalculator(store)

	if cfg.SeedChart {
		def, err := chart.Default()
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to parse default chart")
		}
		result, err := chart.Load(context.Background(), registry, def)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to seed chart of accounts")
		}
		logger.Info().
			Int("created", len(result.Created)).
			Int("skipped", len(result.Skipped)).
			Msg("chart of accounts seeded")
	}

	auditor := api.NewAuditor(calc, logger)
	auditor.Interval = cfg.AuditInterval
	auditor.Start()
	defer auditor.Stop()

	handler, err := api.NewHandler(registry, engine, calc, auditor, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize handlers")
	}
	router := api.NewRouter(handler, cfg.AllowedOrigins...)

	// Create server
	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().Str("addr", cfg.Addr).Str("db", cfg.DBPath).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
		return
	}

	logger.Info().Msg("server stopped")
}
