/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Command reqcoordd runs the user lookup service: an HTTP API in front of
// the request-coordination pipeline (admission control, expiring LRU store,
// single-flight scheduler, response-time sampler).
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

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/acronis/go-reqcoord/cache"
	"github.com/acronis/go-reqcoord/config"
	"github.com/acronis/go-reqcoord/coordinator"
	"github.com/acronis/go-reqcoord/httpapi"
	"github.com/acronis/go-reqcoord/log"
	"github.com/acronis/go-reqcoord/ratelimit"
	"github.com/acronis/go-reqcoord/retry"
	"github.com/acronis/go-reqcoord/sampler"
	"github.com/acronis/go-reqcoord/scheduler"
)

const sourceLatency = 50 * time.Millisecond

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, closeLogger := log.NewLogger(cfg.Log)
	defer closeLogger()

	if err := run(cfg, logger); err != nil {
		logger.Error("service failed", log.Error(err))
		closeLogger()
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.NewDefaultConfig(), nil
	}
	return config.Load(path)
}

func run(cfg *config.Config, logger log.FieldLogger) error {
	cacheMetrics := cache.NewPrometheusMetrics()
	cacheMetrics.MustRegister()
	defer cacheMetrics.Unregister()

	schedMetrics := scheduler.NewPrometheusMetrics()
	schedMetrics.MustRegister()
	defer schedMetrics.Unregister()

	store, err := cache.New[string, httpapi.User](cfg.Cache.Capacity, cacheMetrics, cache.Options{
		TTL:           time.Duration(cfg.Cache.TTL),
		SweepInterval: time.Duration(cfg.Cache.SweepInterval),
	})
	if err != nil {
		return fmt.Errorf("create store: %w", err)
	}

	limiter, err := ratelimit.NewDualWindowLimiter(ratelimit.DualWindowConfig{
		MaxSustained:    cfg.RateLimit.MaxSustained,
		SustainedWindow: time.Duration(cfg.RateLimit.SustainedWindow),
		MaxBurst:        cfg.RateLimit.MaxBurst,
		BurstWindow:     time.Duration(cfg.RateLimit.BurstWindow),
		CleanupInterval: time.Duration(cfg.RateLimit.CleanupInterval),
	})
	if err != nil {
		return fmt.Errorf("create admission controller: %w", err)
	}

	sched, err := scheduler.New[string, httpapi.User](cfg.Scheduler.MaxConcurrent, schedMetrics)
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}

	coord, err := coordinator.New[string, httpapi.User](store, limiter, sched, sampler.New(cfg.Sampler.WindowSize))
	if err != nil {
		return fmt.Errorf("create coordinator: %w", err)
	}
	defer coord.Close()

	userTable := httpapi.NewStaticSource(sourceLatency)
	source := httpapi.NewRetryingSource(
		userTable,
		retry.ExponentialPolicy{InitialInterval: 100 * time.Millisecond, MaxAttempts: 3},
	)

	router := httpapi.NewRouter(httpapi.NewHandler(coord, source, userTable, logger), httpapi.Opts{
		MaxBodySize:     int64(cfg.Server.MaxBodySize),
		GlobalRateLimit: cfg.Server.GlobalRateLimit,
	})
	router.Handle("/metrics", promhttp.Handler())
	router.Mount("/debug", middleware.Profiler())

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server", log.String("address", cfg.Server.Address))
		if serveErr := srv.ListenAndServe(); !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- serveErr
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout))
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("HTTP server stopped")
	return nil
}
