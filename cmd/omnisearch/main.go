package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/atriumhq/omnisearch/internal/adapter"
	"github.com/atriumhq/omnisearch/internal/analytics"
	"github.com/atriumhq/omnisearch/internal/config"
	dbRedis "github.com/atriumhq/omnisearch/internal/db/redis"
	logpkg "github.com/atriumhq/omnisearch/internal/logger"
	"github.com/atriumhq/omnisearch/internal/metrics"
	"github.com/atriumhq/omnisearch/internal/ratelimit"
	personrepo "github.com/atriumhq/omnisearch/internal/repository/person"
	"github.com/atriumhq/omnisearch/internal/repository/searchcache"
	ticketrepo "github.com/atriumhq/omnisearch/internal/repository/ticket"
	workorderrepo "github.com/atriumhq/omnisearch/internal/repository/workorder"
	chiTransport "github.com/atriumhq/omnisearch/internal/transport/chi"
	aggregateuc "github.com/atriumhq/omnisearch/internal/usecase/aggregate"
	healthuc "github.com/atriumhq/omnisearch/internal/usecase/health"
	rankuc "github.com/atriumhq/omnisearch/internal/usecase/rank"
	"github.com/atriumhq/omnisearch/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting omnisearch API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.Strings("redis_addrs", cfg.Database.Addrs),
	)

	// Redis: cache, rate-limit windows, analytics stream
	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.Database.Addrs,
		Password: cfg.Database.Password,
	})
	if err != nil {
		logger.Fatal("Failed to create redis store", zap.Error(err))
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Redis not ready", zap.Error(err))
	}
	logger.Info("Connected to redis")

	// Postgres: entity stores
	entityDB, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		logger.Fatal("Failed to open entity store", zap.Error(err))
	}
	entityDB.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	entityDB.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	entityDB.SetConnMaxLifetime(time.Duration(cfg.Postgres.ConnLifetimeSec) * time.Second)
	defer entityDB.Close()

	if err := entityDB.PingContext(ctx); err != nil {
		logger.Fatal("Entity store not ready", zap.Error(err))
	}
	logger.Info("Connected to entity store")

	// Register search metrics explicitly (no init())
	metrics.RegisterSearchMetrics()

	// Entity adapters over their repositories
	adapters := []adapter.Adapter{
		adapter.NewPersonAdapter(personrepo.New(entityDB)),
		adapter.NewTicketAdapter(ticketrepo.New(entityDB)),
		adapter.NewWorkOrderAdapter(workorderrepo.New(entityDB)),
	}

	// Search cache with version-token invalidation
	cache := searchcache.New(
		store,
		time.Duration(cfg.Search.CacheTTLSec)*time.Second,
		cfg.Search.PerPrincipalCache,
		metrics.SearchCacheTotal,
		logger,
	)

	// Sliding-window rate limiter
	tiers := ratelimit.Tiers{
		Anonymous:     cfg.RateLimit.Anonymous,
		Authenticated: cfg.RateLimit.Authenticated,
		Premium:       cfg.RateLimit.Premium,
		Window:        time.Duration(cfg.RateLimit.WindowSec) * time.Second,
	}
	if len(cfg.RateLimit.TenantOverrides) > 0 {
		tiers.TenantOverrides = make(map[string]ratelimit.Override, len(cfg.RateLimit.TenantOverrides))
		for tenant, o := range cfg.RateLimit.TenantOverrides {
			tiers.TenantOverrides[tenant] = ratelimit.Override{
				Limit:  o.Limit,
				Window: time.Duration(o.WindowSec) * time.Second,
			}
		}
	}
	limiter := ratelimit.New(store, tiers, metrics.RateLimitRejectionsTotal, logger)

	// Per-query fan-out worker pools, capped at MaxConcurrency. A capped
	// pool queues overflow submissions until a worker frees.
	newPool := func(size int) (aggregateuc.Pool, error) {
		p, err := ants.NewPool(size)
		if err != nil {
			return nil, err
		}
		return p, nil
	}

	sink := analytics.NewStreamSink(store, cfg.Search.AnalyticsStream, cfg.Search.AnalyticsMaxLen, logger)

	aggregator := aggregateuc.New(
		adapters,
		cache,
		rankuc.New(rankuc.DefaultWeights()),
		sink,
		newPool,
		cfg.Search.MaxConcurrency,
		time.Duration(cfg.Search.FanoutDeadlineMs)*time.Millisecond,
		metrics.FanoutDuration,
		metrics.AdapterFailuresTotal,
		logger,
	)

	healthSvc := healthuc.New(store, entityDB)

	server := chiTransport.NewServer(aggregator, cache, healthSvc, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(chiTransport.RateLimitMiddleware(limiter))
	r.Use(metrics.Middleware())
	r.Post("/search", server.Search)
	r.Post("/invalidate", server.Invalidate)
	r.Get("/health", server.HealthCheck)
	r.Get("/metrics", server.Metrics)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())

			// Set X-Request-ID in response header
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			// Per-request logger with request_id
			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line — one line per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
