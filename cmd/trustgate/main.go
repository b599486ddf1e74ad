package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trustgate/internal/api"
	"trustgate/internal/audit"
	"trustgate/internal/auth"
	"trustgate/internal/config"
	"trustgate/internal/guard"
	"trustgate/internal/logger"
	"trustgate/internal/models"
	"trustgate/internal/observability"
	"trustgate/internal/ratelimit"
	"trustgate/internal/registry"
	"trustgate/internal/storage"
	"trustgate/internal/version"
)

var (
	configFile        = flag.String("config", "", "Path to configuration file")
	showVersion       = flag.Bool("version", false, "Print version information and exit")
	saveExampleConfig = flag.String("save-example-config", "", "Write an example configuration file to the given path and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.GetInfo().String())
		return
	}

	if *saveExampleConfig != "" {
		if err := config.SaveExample(*saveExampleConfig); err != nil {
			slog.Error("Failed to write example configuration", "error", err)
			os.Exit(1)
		}
		fmt.Printf("Example configuration written to %s\n", *saveExampleConfig)
		return
	}

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize structured logging
	log, closer, err := logger.Setup(cfg.Logging, version.GetInfo())
	if err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}
	slog.SetDefault(log)

	// Initialize observability (OpenTelemetry)
	otelProvider, err := observability.Setup(cfg.Metrics, cfg.Observability, version.GetInfo())
	if err != nil {
		slog.Error("Failed to initialize observability", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown observability", "error", err)
		}
	}()

	// Initialize storage
	store, err := storage.NewFactory().Create(cfg.Storage, cfg.Audit)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Wrap storage with instrumentation if metrics are enabled
	var gatewayMetrics *observability.GatewayMetrics
	if cfg.Metrics.Enabled {
		instrumented, err := observability.NewInstrumentedStore(store)
		if err != nil {
			slog.Error("Failed to create instrumented storage", "error", err)
			os.Exit(1)
		}
		store = instrumented

		gatewayMetrics, err = observability.NewGatewayMetrics()
		if err != nil {
			slog.Error("Failed to create gateway metrics", "error", err)
			os.Exit(1)
		}
	}

	// Initialize the counter store backing the rate limiter
	counters, err := initializeCounterStore(cfg)
	if err != nil {
		slog.Error("Failed to initialize counter store", "error", err)
		os.Exit(1)
	}

	limiter := ratelimit.NewLimiter(counters)
	defer limiter.Close()

	reg := registry.NewRegistry(store)
	abuseGuard := guard.NewGuard(cfg.Guard, log)
	sink := audit.NewSink(store, log)
	authenticator := auth.NewAuthenticator(reg, limiter, log)

	if err := seedBootstrapKey(context.Background(), reg, cfg); err != nil {
		slog.Error("Failed to seed bootstrap key", "error", err)
		os.Exit(1)
	}

	handlers := api.NewHandlers(store, reg, limiter, abuseGuard, sink, gatewayMetrics, log)
	gate := api.NewGate(abuseGuard, authenticator, sink, gatewayMetrics, cfg, log)

	// Setup routes with middleware
	routeOpts := []api.RouteOption{}
	if cfg.Observability.Tracing.Enabled {
		routeOpts = append(routeOpts, api.WithOTelMiddleware(cfg.Observability.ServiceName))
	}
	if cfg.RateLimit.Anonymous.Enabled {
		anonCfg := cfg.RateLimit.Anonymous
		anonLimiter := ratelimit.NewIPLimiter(anonCfg.RequestsPerMinute, anonCfg.BurstSize, anonCfg.CleanupInterval)
		defer anonLimiter.Close()
		routeOpts = append(routeOpts, api.WithAnonymousLimiter(anonLimiter))
	}

	router := api.SetupRoutes(handlers, gate, cfg, routeOpts...)

	// Start metrics server if enabled
	var metricsServer *observability.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = observability.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, otelProvider)
		go func() {
			if err := metricsServer.Start(); err != nil && err != http.ErrServerClosed {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		slog.Info("Starting server", "addr", server.Addr)

		var err error
		if cfg.Server.TLSEnabled {
			if cfg.Server.TLSCertFile == "" || cfg.Server.TLSKeyFile == "" {
				slog.Error("TLS is enabled but cert file or key file is not specified")
				os.Exit(1)
			}
			slog.Info("Starting HTTPS server with TLS")
			err = server.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			slog.Info("Starting HTTP server")
			err = server.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server")

	// Create a deadline to wait for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown metrics server
	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			slog.Error("Metrics server forced to shutdown", "error", err)
		}
	}

	// Attempt graceful shutdown
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server shutdown complete")
}

// initializeCounterStore creates the windowed counter backend. The Redis
// backend is verified reachable before the server accepts traffic.
func initializeCounterStore(cfg *models.Config) (ratelimit.CounterStore, error) {
	switch cfg.RateLimit.Store {
	case models.CounterStoreMemory:
		return ratelimit.NewMemoryCounterStore(cfg.RateLimit.SweepInterval), nil
	case models.CounterStoreRedis:
		rc := cfg.RateLimit.Redis
		store := ratelimit.NewRedisCounterStore(rc.Addr, rc.Password, rc.DB, rc.PoolSize)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("redis counter store unreachable: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported counter store: %s", cfg.RateLimit.Store)
	}
}

// seedBootstrapKey provisions the configured bootstrap token as an
// admin-scoped key if no key with that token exists yet. It is a no-op
// when BootstrapKey is empty.
func seedBootstrapKey(ctx context.Context, reg *registry.Registry, cfg *models.Config) error {
	raw := cfg.Security.BootstrapKey
	if raw == "" {
		return nil
	}
	if _, err := reg.Lookup(ctx, raw); err == nil {
		// Already seeded - idempotent.
		return nil
	}
	key, err := reg.CreateWithToken(ctx, raw, registry.CreateParams{
		OwnerID: "bootstrap",
		Plan:    "enterprise",
		Scopes:  []string{"admin"},
	})
	if err != nil {
		return fmt.Errorf("seed bootstrap key: %w", err)
	}
	slog.Info("bootstrap API key seeded", "id", key.ID, "prefix", key.Prefix)
	return nil
}
