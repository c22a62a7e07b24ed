package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oohdoc/booking-platform/internal/api/router"
	"github.com/oohdoc/booking-platform/internal/app/bootstrap"
	"github.com/oohdoc/booking-platform/internal/booking"
	appconfig "github.com/oohdoc/booking-platform/internal/config"
	"github.com/oohdoc/booking-platform/internal/gateway"
	"github.com/oohdoc/booking-platform/internal/http/handlers"
	"github.com/oohdoc/booking-platform/internal/observability/metrics"
	"github.com/oohdoc/booking-platform/internal/payments"
	"github.com/oohdoc/booking-platform/internal/records"
	"github.com/oohdoc/booking-platform/pkg/logging"
)

const sessionMaxAge = 4 * time.Hour

func main() {
	// Local development convenience; the file is absent in deployed envs.
	_ = godotenv.Load()

	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting booking-platform API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	if cfg.GatewayBaseURL == "" {
		logger.Error("GATEWAY_BASE_URL is required")
		os.Exit(1)
	}
	if cfg.SessionJWTSecret == "" {
		logger.Error("SESSION_JWT_SECRET is required")
		os.Exit(1)
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	bookingMetrics := metrics.NewBookingMetrics(promRegistry)
	gatewayMetrics := metrics.NewGatewayMetrics(promRegistry)

	gatewayClient := gateway.NewClient(cfg.GatewayBaseURL, cfg.GatewayAPIKey, logger,
		gateway.WithTimeout(cfg.GatewayTimeout),
		gateway.WithMetrics(gatewayMetrics),
	)

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 10*time.Second)
	redisClient := bootstrap.BuildRedisClient(startupCtx, cfg, logger, true)
	pgPool := bootstrap.BuildPgxPool(startupCtx, cfg, logger)
	cancelStartup()
	if pgPool != nil {
		defer pgPool.Close()
	}

	slotCache := booking.NewSlotCache(redisClient, gatewayClient, logger)
	releaseDispatcher := booking.NewReleaseDispatcher(gatewayClient, logger, bookingMetrics)

	registry := booking.NewRegistry(booking.Dependencies{
		Gateway:           gatewayClient,
		Release:           releaseDispatcher,
		Slots:             slotCache,
		Logger:            logger,
		Metrics:           bookingMetrics,
		HoldWindowSeconds: cfg.HoldWindowSeconds,
	})

	var recordsService *records.Service
	if pgPool != nil {
		recordsService = records.NewService(records.NewRepository(pgPool), logger)
	} else {
		logger.Warn("no DATABASE_URL configured, confirmed bookings will not be persisted")
	}

	processor := payments.NewProcessorClient(cfg.ProcessorBaseURL, cfg.ProcessorSecretKey, logger)
	coordinatorCfg := payments.Config{
		Gateway:          gatewayClient,
		Processor:        processor,
		Logger:           logger,
		Metrics:          bookingMetrics,
		AmountMinorUnits: cfg.BookingFeeMinorUnits,
		Currency:         cfg.BookingFeeCurrency,
	}
	if recordsService != nil {
		coordinatorCfg.Records = recordsService
	}
	coordinator := payments.NewCoordinator(coordinatorCfg)

	bookingHandler := handlers.NewBookingHandler(registry, coordinator, slotCache,
		cfg.SessionJWTSecret, cfg.SessionTTL, logger)
	countdownHandler := handlers.NewCountdownHandler(logger)

	r := router.New(&router.Config{
		Logger:             logger,
		Registry:           registry,
		BookingHandler:     bookingHandler,
		CountdownHandler:   countdownHandler,
		MetricsHandler:     promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}),
		SessionJWTSecret:   cfg.SessionJWTSecret,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Abandoned sessions keep hold timers alive until swept.
	janitorDone := make(chan struct{})
	janitorTicker := time.NewTicker(10 * time.Minute)
	go func() {
		defer janitorTicker.Stop()
		for {
			select {
			case <-janitorTicker.C:
				if n := registry.Sweep(sessionMaxAge); n > 0 {
					logger.Info("swept stale sessions", "count", n)
				}
			case <-janitorDone:
				return
			}
		}
	}()

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	close(janitorDone)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	// Let in-flight releases and post-payment finalization drain.
	releaseDispatcher.Flush()
	coordinator.Flush()

	logger.Info("server stopped")
}
