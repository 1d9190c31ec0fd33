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

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/onkernel/window-relay/cmd/api/api"
	"github.com/onkernel/window-relay/cmd/config"
	"github.com/onkernel/window-relay/lib/health"
	"github.com/onkernel/window-relay/lib/journal"
	"github.com/onkernel/window-relay/lib/logger"
	"github.com/onkernel/window-relay/lib/registry"
	"github.com/onkernel/window-relay/lib/relay"
	"github.com/onkernel/window-relay/lib/scene"
)

func main() {
	slogger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	// Load configuration from environment variables
	config, err := config.Load()
	if err != nil {
		slogger.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}
	level, _ := logger.ParseLevel(config.LogLevel)
	slogger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(slogger)
	slogger.Info("server configuration", "config", config)

	// context cancellation on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := scene.NewStore()
	if config.SceneFile != "" {
		if err := scene.LoadInto(store, config.SceneFile); err != nil {
			slogger.Error("failed to load scene defaults", "err", err, "path", config.SceneFile)
			os.Exit(1)
		}
	}

	lifecycle := journal.NewNoop()
	if config.JournalPath != "" {
		lifecycle, err = journal.Open(config.JournalPath, slogger)
		if err != nil {
			slogger.Error("failed to open journal", "err", err, "path", config.JournalPath)
			os.Exit(1)
		}
	}

	reg := registry.New()
	hub := relay.NewHub(reg, relay.Config{
		ShapeThrottle: config.ShapeThrottle,
		PositionBatch: config.PositionBatch,
		Logger:        slogger,
		Scene:         store,
		Lifecycle:     lifecycle,
	})

	apiService, err := api.New(hub, store, lifecycle, relay.SocketOptions{
		QueueSize:    config.OutboundQueue,
		WriteTimeout: config.WriteTimeout,
		ReadLimit:    config.MaxFrameBytes,
	})
	if err != nil {
		slogger.Error("failed to create api service", "err", err)
		os.Exit(1)
	}

	checker := health.NewChecker()
	checker.RegisterCheck("journal", func(ctx context.Context) (health.Status, string) {
		if err := lifecycle.Ping(ctx); err != nil {
			return health.StatusDegraded, err.Error()
		}
		return health.StatusHealthy, ""
	})
	checker.RegisterStats("registry", func() map[string]any {
		s := reg.Stats()
		return map[string]any{
			"live":             s.Live,
			"total_registered": s.TotalRegistered,
			"last_id":          s.LastID,
		}
	})
	checker.RegisterStats("hub", func() map[string]any {
		return map[string]any{
			"sessions":          hub.SessionCount(),
			"pending_positions": hub.PendingPositions(),
		}
	})

	r := chi.NewRouter()
	r.Use(
		chiMiddleware.Logger,
		chiMiddleware.Recoverer,
		func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				ctxWithLogger := logger.AddToContext(r.Context(), slogger)
				next.ServeHTTP(w, r.WithContext(ctxWithLogger))
			})
		},
	)
	apiService.Routes(r)
	checker.Routes(r)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.Port),
		Handler: r,
	}

	go func() {
		slogger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slogger.Error("http server failed", "err", err)
			stop()
		}
	}()

	background, bgCtx := errgroup.WithContext(ctx)
	background.Go(func() error {
		return hub.Run(bgCtx, config.ThrottleSweepInterval, config.ThrottleStateTTL)
	})
	if config.SceneFile != "" {
		background.Go(func() error {
			if err := scene.Watch(bgCtx, config.SceneFile, store, slogger); err != nil {
				// keep serving with the last loaded scene
				slogger.Error("scene watcher stopped", "err", err)
			}
			return nil
		})
	}

	// graceful shutdown
	<-ctx.Done()
	slogger.Info("shutdown signal received")

	g, _ := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.Shutdown(context.Background())
	})
	g.Go(func() error {
		return apiService.Shutdown(context.Background())
	})
	g.Go(background.Wait)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slogger.Error("server failed to shutdown", "err", err)
	}
}
