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

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	tchttp "github.com/tacticore/tacticore/internal/adapter/http"
	"github.com/tacticore/tacticore/internal/adapter/memgateway"
	tcnats "github.com/tacticore/tacticore/internal/adapter/nats"
	"github.com/tacticore/tacticore/internal/adapter/natskv"
	"github.com/tacticore/tacticore/internal/adapter/otel"
	"github.com/tacticore/tacticore/internal/adapter/postgres"
	"github.com/tacticore/tacticore/internal/adapter/ristretto"
	"github.com/tacticore/tacticore/internal/adapter/webhook"
	"github.com/tacticore/tacticore/internal/adapter/ws"
	"github.com/tacticore/tacticore/internal/config"
	"github.com/tacticore/tacticore/internal/logger"
	"github.com/tacticore/tacticore/internal/resilience"
	"github.com/tacticore/tacticore/internal/service"
)

func main() {
	if err := run(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	slog.SetDefault(logger.New(cfg.Logging))
	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"retry_ceiling", cfg.Scheduler.RetryCeiling,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Infrastructure ---

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	queue, err := tcnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Close() }()

	kv, err := queue.KeyValue(ctx, cfg.Memory.WorldStateBucket)
	if err != nil {
		return fmt.Errorf("world state bucket: %w", err)
	}

	shortTerm, err := ristretto.New(cfg.Memory.ShortTermSizeMB << 20)
	if err != nil {
		return fmt.Errorf("short-term cache: %w", err)
	}
	defer shortTerm.Close()

	store := postgres.NewStore(pool)
	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	mem := memgateway.New(shortTerm, natskv.New(kv), store,
		cfg.Memory.ShortTermTTL, cfg.Memory.CallTimeout, breaker)

	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Services ---

	hub := ws.NewHub()
	notify := webhook.New(cfg.Webhook.URL, cfg.Webhook.Timeout)

	graph := service.NewGraphService(store, mem, hub)
	registry := service.NewRegistryService(cfg.Registry, mem, hub)
	scheduler := service.NewSchedulerService(cfg.Scheduler, graph, registry, store, queue, notify, metrics)
	coordinator := service.NewCoordinatorService(cfg.Scheduler, graph, registry, scheduler, store, mem, notify, metrics)

	cancelResults, err := coordinator.StartSubscriber(ctx, queue)
	if err != nil {
		return fmt.Errorf("result subscriber: %w", err)
	}
	defer cancelResults()

	cancelHeartbeats, err := registry.StartSubscriber(ctx, queue)
	if err != nil {
		return fmt.Errorf("heartbeat subscriber: %w", err)
	}
	defer cancelHeartbeats()

	// --- HTTP ---

	handlers := tchttp.NewHandlers(graph, registry, scheduler, coordinator,
		store, mem, hub, metrics, pool, queue.Connected)

	r := chi.NewRouter()
	r.Use(tchttp.CORS(cfg.Server.CORSOrigin))
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(tchttp.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(otel.HTTPMiddleware(cfg.Logging.Service))

	tchttp.MountRoutes(r, handlers, hub.HandleWS)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return scheduler.Run(gctx)
	})

	g.Go(func() error {
		return registry.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
