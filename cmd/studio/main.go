// Package main is the entry point for the Form Studio server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pendulo/formstudio/internal/access"
	"github.com/pendulo/formstudio/internal/bundle"
	"github.com/pendulo/formstudio/internal/config"
	"github.com/pendulo/formstudio/internal/knowledge"
	"github.com/pendulo/formstudio/internal/observability"
	"github.com/pendulo/formstudio/internal/options"
	"github.com/pendulo/formstudio/internal/preview"
	"github.com/pendulo/formstudio/internal/session"
	"github.com/pendulo/formstudio/internal/store"
	"github.com/pendulo/formstudio/internal/transport"
	"github.com/pendulo/formstudio/internal/upstream"
	"github.com/pendulo/formstudio/model"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Step 1: Parse CLI flags.
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	// Step 2: Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	// Step 3: Initialize telemetry (logger, tracer, metrics).
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "formstudio", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Step 4: Build upstream clients.
	builderClient := upstream.NewClient("builder", cfg.Upstream.Builder, logger, metrics)
	runtimeClient := upstream.NewClient("runtime", cfg.Upstream.Runtime, logger, metrics)
	builder := upstream.NewBuilderClient(builderClient)
	runtime := upstream.NewRuntimeClient(runtimeClient)

	// Step 5: Initialize the session store.
	sessionStore, sessionStoreCloser, err := buildSessionStore(ctx, cfg.Session.Store, logger)
	if err != nil {
		logger.Error("session store initialization failed", zap.Error(err))
		return 1
	}
	sessions := session.NewManager(sessionStore, cfg.Session.TTL)

	// Step 6: Initialize the option cache and resolver service.
	optionCache, redisClient, err := buildOptionCache(ctx, cfg.Options.Cache, logger)
	if err != nil {
		logger.Error("option cache initialization failed", zap.Error(err))
		return 1
	}
	optionService := options.NewService(optionCache, nil, logger)
	optionService.SetObserver(metrics)

	// Step 7: Initialize the capability resolver.
	capResolver, err := buildCapabilityResolver(cfg.Access)
	if err != nil {
		logger.Error("capability resolver initialization failed", zap.Error(err))
		return 1
	}

	// Step 8: Build the domain services.
	configStore := store.New(builder, logger)
	validator := bundle.NewValidator()
	knowledgeService := knowledge.NewService(builder,
		cfg.Knowledge.SearchTimeoutPerBase, cfg.Knowledge.MaxResultsPerBase, logger)
	previews := preview.NewManager(runtime, logger)

	// Step 9: Build the HTTP router.
	jwks := transport.NewJWKSClient(cfg.Identity.JWKSURL, cfg.Identity.JWKSCacheTTL, logger)

	readinessChecks := observability.ReadinessChecks{
		BuilderReachable: func() bool {
			return builderClient.Breaker().State() != upstream.BreakerOpen
		},
		Runtime: observability.HealthCheckerFunc(func(ctx context.Context) error {
			if runtimeClient.Breaker().State() == upstream.BreakerOpen {
				return fmt.Errorf("runtime circuit open")
			}
			return nil
		}),
	}
	if redisClient != nil {
		readinessChecks.OptionCache = observability.HealthCheckerFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:             cfg,
		Log:                logger,
		Metrics:            metrics,
		Authenticate:       transport.JWTAuthenticator(cfg.Identity, jwks),
		CapabilityResolver: capResolver,
		Sessions:           sessions,
		Store:              configStore,
		Builder:            builder,
		Runtime:            runtime,
		Validator:          validator,
		Options:            optionService,
		Knowledge:          knowledgeService,
		Previews:           previews,
		Ready:              observability.HandleReady(readinessChecks),
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Step 10: Start background tasks.
	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()

	go runSessionSweeper(bgCtx, sessions, logger)
	go runBreakerStateExporter(bgCtx, metrics, map[string]*upstream.Client{
		"builder": builderClient,
		"runtime": runtimeClient,
	})

	// Step 11: Start the HTTP server.
	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("builder", cfg.Upstream.Builder.BaseURL),
		zap.String("runtime", cfg.Upstream.Runtime.BaseURL),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	// Graceful shutdown sequence.
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections and drain in-flight requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Cancel background tasks.
	bgCancel()

	// Close stores.
	if sessionStoreCloser != nil {
		sessionStoreCloser()
	}
	if redisClient != nil {
		redisClient.Close()
	}

	// Flush telemetry.
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildSessionStore creates the session store based on config.
func buildSessionStore(ctx context.Context, cfg config.SessionStoreConfig, logger *zap.Logger) (session.Store, func(), error) {
	switch cfg.Driver {
	case "memory", "":
		logger.Info("using in-memory session store")
		return session.NewMemoryStore(), nil, nil
	case "postgres":
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			return nil, nil, fmt.Errorf("session store: %s environment variable not set", cfg.DSNEnv)
		}

		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("session store: parse DSN: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
		poolCfg.MinConns = int32(cfg.MaxIdleConns)
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("session store: connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("session store: ping: %w", err)
		}

		return session.NewPgStore(pool), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported session store driver: %q", cfg.Driver)
	}
}

// buildOptionCache creates the dropdown-option cache based on config. The
// redis client is returned separately so readiness checks and shutdown can
// reach it.
func buildOptionCache(ctx context.Context, cfg config.OptionCacheConfig, logger *zap.Logger) (options.Cache, *redis.Client, error) {
	switch cfg.Driver {
	case "memory", "":
		logger.Info("using in-memory option cache")
		return options.NewMemoryCache(cfg.MaxEntries), nil, nil
	case "redis":
		addr := os.Getenv(cfg.AddrEnv)
		if addr == "" {
			return nil, nil, fmt.Errorf("option cache: %s environment variable not set", cfg.AddrEnv)
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("option cache: ping: %w", err)
		}
		return options.NewRedisCache(client), client, nil
	default:
		return nil, nil, fmt.Errorf("unsupported option cache driver: %q", cfg.Driver)
	}
}

// buildCapabilityResolver creates the resolver from the static policy file.
// Without a policy file every authenticated user passes all capability
// checks, which suits single-team deployments.
func buildCapabilityResolver(cfg config.AccessConfig) (model.CapabilityResolver, error) {
	if cfg.PolicyFile == "" {
		return nil, nil
	}
	evaluator, err := access.NewStaticPolicyEvaluator(cfg.PolicyFile)
	if err != nil {
		return nil, fmt.Errorf("static policy: %w", err)
	}
	return access.NewResolver(evaluator, cfg.CacheTTL), nil
}

// runSessionSweeper periodically removes expired editing sessions.
func runSessionSweeper(ctx context.Context, sessions *session.Manager, logger *zap.Logger) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sessions.Sweep(ctx)
			if err != nil {
				logger.Error("session sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("expired sessions removed", zap.Int("count", n))
			}
		}
	}
}

// runBreakerStateExporter periodically exports circuit breaker states to the
// metrics gauge.
func runBreakerStateExporter(ctx context.Context, metrics *observability.Metrics, clients map[string]*upstream.Client) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for name, c := range clients {
				metrics.SetUpstreamBreakerState(name, float64(c.Breaker().State()))
			}
		}
	}
}
