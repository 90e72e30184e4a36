/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the retail ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load config (.env, ledger.yaml, LEDGER_* env)
  2. Build the zap logger
  3. Open the store (memory, sqlite or postgres)
  4. Pick the tenant lock backend (none, local or redis)
  5. Register Prometheus metrics and build the Coordinator
  6. Optionally load a demo scenario
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Path to a YAML config file (default: ./ledger.yaml if present)
  -port    HTTP server port, overrides config
  -db      Store DSN, overrides config (sqlite path or postgres URL)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (server.shutdown_timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # SQLite file
  LEDGER_DB_DSN=./data/ledger.db ./server

  # Postgres with a Redis tenant lock shared by several instances
  LEDGER_DB_DRIVER=postgres LEDGER_DB_DSN=postgres://... \
  LEDGER_LOCK_BACKEND=redis LEDGER_REDIS_ADDR=redis:6379 ./server

  # In-memory demo
  LEDGER_DB_DRIVER=memory LEDGER_LEDGER_DEMO_SCENARIO=corner-shop ./server

SEE ALSO:
  - config/config.go: Configuration keys and defaults
  - api/server.go: Router configuration
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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/warp/retail-ledger/api"
	"github.com/warp/retail-ledger/config"
	"github.com/warp/retail-ledger/ledger"
	memstore "github.com/warp/retail-ledger/ledger/store"
	"github.com/warp/retail-ledger/logging"
	"github.com/warp/retail-ledger/metrics"
	"github.com/warp/retail-ledger/store/postgres"
	"github.com/warp/retail-ledger/store/sqlite"
	"github.com/warp/retail-ledger/tenantlock"
)

// backend is what the server needs from a store.
type backend interface {
	ledger.TxStore
	ledger.Catalog
	api.Resetter
	Close() error
}

func main() {
	// Flags
	configPath := flag.String("config", "", "YAML config file")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dsn := flag.String("db", "", "Store DSN (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dsn != "" {
		cfg.DB.DSN = *dsn
	}

	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Env: cfg.Env})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	// Initialize store
	st, err := openStore(ctx, cfg.DB)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.DB.Driver, err)
	}
	defer st.Close()
	logger.Info("store ready", zap.String("driver", cfg.DB.Driver))

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	ledgerMetrics := metrics.NewLedger(reg)
	httpMetrics := metrics.NewHTTP(reg)

	opts := []ledger.Option{
		ledger.WithLogger(logger),
		ledger.WithRecorder(ledgerMetrics),
		ledger.WithPhoneRegion(cfg.Ledger.PhoneRegion),
	}

	// Tenant lock
	switch cfg.Lock.Backend {
	case "local":
		opts = append(opts, ledger.WithLocker(tenantlock.NewLocal()))
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping %s: %w", cfg.Redis.Addr, err)
		}
		opts = append(opts, ledger.WithLocker(tenantlock.NewRedis(rdb,
			tenantlock.WithTTL(cfg.Lock.TTL),
			tenantlock.WithWait(cfg.Lock.Wait),
			tenantlock.WithLogger(logger),
		)))
	}
	logger.Info("tenant lock", zap.String("backend", cfg.Lock.Backend))

	coord := ledger.NewCoordinator(st, opts...)
	tenants := ledger.NewTenantConfig(st, st, ledger.SystemClock{}, logger)
	handler := api.NewHandler(coord, tenants, st, st, logger)

	if cfg.Ledger.DemoScenario != "" {
		if err := handler.ApplyScenario(ctx, cfg.Ledger.DemoScenario); err != nil {
			return fmt.Errorf("load scenario %s: %w", cfg.Ledger.DemoScenario, err)
		}
	}

	router := api.NewRouter(handler, api.RouterConfig{
		CORSOrigins:    cfg.Server.CORSOrigins,
		Metrics:        httpMetrics,
		MetricsHandler: metrics.Handler(reg),
	})

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg config.DBConfig) (backend, error) {
	switch cfg.Driver {
	case "memory":
		return memoryBackend{memstore.NewMemory()}, nil
	case "sqlite":
		return sqlite.New(cfg.DSN)
	case "postgres":
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		return postgres.New(connectCtx, cfg.DSN)
	}
	return nil, fmt.Errorf("unknown driver %q", cfg.Driver)
}

// memoryBackend adds a no-op Close to the in-memory store.
type memoryBackend struct {
	*memstore.Memory
}

func (memoryBackend) Close() error { return nil }
