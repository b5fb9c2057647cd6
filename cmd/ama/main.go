// Command ama serves the AMA live Q&A API.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	amaapi "github.com/d9705996/ama/internal/api"
	"github.com/d9705996/ama/internal/api/handler"
	"github.com/d9705996/ama/internal/api/middleware"
	"github.com/d9705996/ama/internal/auth"
	"github.com/d9705996/ama/internal/config"
	"github.com/d9705996/ama/internal/db"
	"github.com/d9705996/ama/internal/embedding"
	"github.com/d9705996/ama/internal/health"
	"github.com/d9705996/ama/internal/observability"
	"github.com/d9705996/ama/internal/ratelimit"
	"github.com/d9705996/ama/internal/seed"
	"github.com/d9705996/ama/internal/similarity"
	"github.com/d9705996/ama/internal/store"
	"github.com/d9705996/ama/internal/summary"
	"github.com/d9705996/ama/internal/version"
	"github.com/d9705996/ama/internal/worker"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Observability -------------------------------------------------------
	log := observability.NewLogger(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	obs, err := observability.StartTelemetry(ctx, observability.TelemetryConfig{
		ServiceName:    "ama",
		ServiceVersion: version.Version,
		OTLPEndpoint:   cfg.OTel.OTLPEndpoint,
	}, log)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := obs.Shutdown(flushCtx); err != nil {
			log.Error("flush telemetry", "err", err)
		}
	}()
	slog.SetDefault(log)
	log.Info("starting ama", "version", version.Version, "commit", version.Commit, "db_driver", cfg.DB.Driver)

	metrics, err := observability.NewMetrics(obs.MeterProvider())
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	// --- Database ------------------------------------------------------------
	conn, err := db.Open(ctx, &cfg.DB)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer func() { _ = conn.Close() }()
	gormDB, pool := conn.Gorm, conn.Pool
	log.Info("database ready", "driver", cfg.DB.Driver)

	users := store.NewUserStore(gormDB)
	events := store.NewEventStore(gormDB)
	questions := store.NewQuestionStore(gormDB)
	refresh := auth.NewRefreshStore(gormDB, cfg.JWT.RefreshTTL)

	// --- Seed admin ----------------------------------------------------------
	if err := seed.EnsureAdmin(ctx, users, seed.AdminOptions{
		Email:    cfg.App.SeedAdminEmail,
		Password: cfg.App.SeedAdminPassword,
	}, log); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	// --- Embeddings ----------------------------------------------------------
	readiness := []health.Pinger{conn}

	primary, err := embedding.NewProvider(&cfg.AI)
	if err != nil {
		return fmt.Errorf("embedding provider: %w", err)
	}
	if c, ok := primary.(io.Closer); ok {
		defer func() { _ = c.Close() }()
	}

	var cache embedding.Cache
	if cfg.Redis.Addr != "" {
		client, err := embedding.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer func() { _ = client.Close() }()
		redisCache := embedding.NewRedisCache(client, cfg.AI.CacheTTL, log)
		readiness = append(readiness, redisCache)
		cache = redisCache
		log.Info("embedding cache: redis", "addr", cfg.Redis.Addr)
	} else {
		cache = embedding.NewMemoryCache(cfg.AI.CacheSize, cfg.AI.CacheTTL)
	}

	embedder := embedding.NewService(primary, embedding.NewMockProvider(cfg.AI.Dimensions), cache,
		embedding.ServiceConfig{Model: cfg.AI.Model, MaxRetries: cfg.AI.MaxRetries}, metrics, log)
	pipeline := similarity.NewPipeline(questions, embedder, summary.NewHeuristicSummarizer(), log)
	log.Info("embedding provider ready", "provider", primary.Name(), "model", embedder.ModelName())

	// --- Worker queue --------------------------------------------------------
	wq, err := worker.New(ctx, worker.Options{
		Pool:        pool,
		Driver:      cfg.DB.Driver,
		Concurrency: cfg.Worker.Concurrency,
		Processor:   pipeline,
		Log:         log,
	})
	if err != nil {
		return fmt.Errorf("create worker: %w", err)
	}
	if err := wq.Start(ctx); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := wq.Stop(stopCtx); err != nil {
			log.Error("worker stop error", "err", err)
		}
	}()

	// --- HTTP routes ---------------------------------------------------------
	authHandler := handler.NewAuthHandler(users, refresh, cfg.JWT.Secret, cfg.JWT.AccessTTL, log)
	if cfg.Microsoft.Enabled() {
		base := strings.TrimRight(cfg.HTTP.BaseURL, "/")
		authHandler.EnableMicrosoft(
			auth.NewMicrosoftProvider(cfg.Microsoft.ClientID, cfg.Microsoft.ClientSecret, cfg.Microsoft.Tenant,
				base+"/api/v1/auth/microsoft/callback"),
			auth.NewStateCookie(cfg.JWT.Secret, strings.HasPrefix(base, "https://")),
		)
		log.Info("microsoft sign-in enabled", "tenant", cfg.Microsoft.Tenant)
	}

	mux := http.NewServeMux()
	amaapi.RegisterRoutes(mux, amaapi.Handlers{
		Health: health.New(readiness...),
		Auth:   authHandler,
		Users:  handler.NewUserHandler(users, refresh, log),
		Events: handler.NewEventHandler(events, users, cfg.HTTP.BaseURL, log),
		Questions: handler.NewQuestionHandler(handler.QuestionDeps{
			Events:    events,
			Questions: questions,
			Queue:     wq,
			Finder:    pipeline,
			Limiter:   ratelimit.PerMinute(cfg.HTTP.QuestionsPerMinute),
			Metrics:   metrics,
			Threshold: cfg.AI.SimilarityThreshold,
			Log:       log,
		}),
		Accounts: users,
	}, cfg.JWT.Secret)
	// Prometheus metrics endpoint
	mux.Handle("GET /metrics", promhttp.Handler())

	var root http.Handler = mux
	root = middleware.RequestLogger(log)(root)
	root = middleware.Recover(log)(root)
	root = otelhttp.NewHandler(root, "ama")

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           root,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// --- Start server --------------------------------------------------------
	log.Info("http server listening", "addr", srv.Addr)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	log.Info("server stopped cleanly")
	return nil
}
