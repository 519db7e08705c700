package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"fundpool/internal/funding/handler"
	"fundpool/internal/platform/config"
	"fundpool/internal/platform/httpserver"
	"fundpool/internal/platform/logger"
	"fundpool/internal/platform/metrics"
	"fundpool/internal/platform/middleware"
	"fundpool/pkg/platform/httputil"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	_ = godotenv.Load()
	cfg := config.FromEnv()
	log := logger.New(cfg.Environment)

	if err := run(cfg, log); err != nil {
		log.Error("fundpool stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Server, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := buildDependencies(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer deps.Close()

	limiter := middleware.NewRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst, log)
	poolHandler := handler.New(deps.Service, log, metrics.New(),
		handler.WithRateLimiter(limiter),
		handler.WithRequestTimeout(cfg.RequestTimeout),
	)

	router := chi.NewRouter()
	router.Get("/healthz", deps.healthHandler)
	router.Handle("/metrics", promhttp.Handler())
	poolHandler.Register(router)

	srv := httpserver.New(cfg.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting fundpool", "addr", cfg.Addr, "network", cfg.Network, "controller", deps.Service.Controller().String())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				limiter.Cleanup()
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		log.Info("http server stopped")
		return nil
	})
	return g.Wait()
}

func (d *dependencies) healthHandler(w http.ResponseWriter, r *http.Request) {
	if err := d.Health(r.Context()); err != nil {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
