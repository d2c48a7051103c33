package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dmcandrews/climate-anomaly-dashboard/internal/cache"
	"github.com/dmcandrews/climate-anomaly-dashboard/internal/client"
	"github.com/dmcandrews/climate-anomaly-dashboard/internal/config"
	httphandler "github.com/dmcandrews/climate-anomaly-dashboard/internal/http"
	"github.com/dmcandrews/climate-anomaly-dashboard/internal/lifecycle"
	"github.com/dmcandrews/climate-anomaly-dashboard/internal/observability"
	"github.com/dmcandrews/climate-anomaly-dashboard/internal/scheduler"
	"github.com/dmcandrews/climate-anomaly-dashboard/internal/service"
	"github.com/dmcandrews/climate-anomaly-dashboard/internal/views"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	if err := views.LoadTemplates(); err != nil {
		logger.Fatal("templates", zap.Error(err))
	}

	climateClient, err := client.NewOpenMeteoClient(client.Config{
		GeocodingURL:   cfg.GeocodingURL,
		ForecastURL:    cfg.ForecastURL,
		ArchiveURL:     cfg.ArchiveURL,
		Timeout:        cfg.OpenMeteoTimeout,
		ArchiveTimeout: cfg.ArchiveTimeout,
		RetryAttempts:  cfg.RetryAttempts,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryMaxDelay:  cfg.RetryMaxDelay,
	})
	if err != nil {
		logger.Fatal("climate client", zap.Error(err))
	}

	var cacheSvc cache.Cache
	var memcacheCloser *cache.MemcachedCache
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			logger.Fatal("memcached cache", zap.Error(err))
		}
		memcacheCloser = mc
		cacheSvc = mc
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		cacheSvc = cache.NewInMemoryCache()
		logger.Info("cache backend: in_memory")
	}

	analysisService := service.NewAnalysisService(climateClient, cacheSvc, service.Config{
		GeocodeTTL:       cfg.GeocodeTTL,
		CurrentTTL:       cfg.CurrentTTL,
		HistoricalTTL:    cfg.HistoricalTTL,
		BaselineYears:    cfg.BaselineYears,
		AnomalyThreshold: cfg.AnomalyThreshold,
		CoalesceEnabled:  cfg.CoalesceEnabled,
		CoalesceTimeout:  cfg.CoalesceTimeout,
	})

	healthConfig := &httphandler.HealthConfig{StartTime: time.Now()}
	if memcacheCloser != nil {
		healthConfig.CachePing = memcacheCloser.Ping
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	handler := httphandler.NewHandler(analysisService, climateClient, healthConfig, logger, cfg.CityMinLength, cfg.CityMaxLength)

	if len(cfg.TrackedCities) > 0 {
		observability.SetTrackedCities(cfg.TrackedCities)
	}

	var sched *scheduler.Scheduler
	if len(cfg.TrackedCities) > 0 {
		warmer := cache.NewWarmer(analysisService, logger)
		sched = scheduler.New(warmer, cfg.TrackedCities, cfg.WarmInterval, cfg.WarmTimeout, logger)
		if err := sched.Start(); err != nil {
			logger.Error("scheduler start", zap.Error(err))
		}
	}

	router := mux.NewRouter()
	router.Use(httphandler.CorrelationIDMiddleware(logger))
	router.Use(httphandler.MetricsMiddleware)
	router.HandleFunc("/health", handler.GetHealth).Methods("GET")
	router.Handle("/metrics", observability.MetricsHandler())

	rateLimit := httphandler.RateLimitMiddleware(limiter)
	timeout := httphandler.TimeoutMiddleware(cfg.RequestTimeout)
	router.Handle("/", rateLimit(timeout(http.HandlerFunc(handler.GetDashboard)))).Methods("GET")

	apiRouter := router.PathPrefix("/api/v1").Subrouter()
	apiRouter.Use(rateLimit, timeout)
	apiRouter.HandleFunc("/analysis/{city}", handler.GetAnalysis).Methods("GET")

	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
		// Write timeout must cover a cold archive fetch.
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	if sched != nil {
		sched.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	inFlight := httphandler.InFlightCount()
	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, cfg.ShutdownCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}

	if memcacheCloser != nil {
		if err := memcacheCloser.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}
