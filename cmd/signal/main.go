package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"peerwave/internal/core/services"
	httphandlers "peerwave/internal/handlers/http"
	"peerwave/internal/infrastructure/bus"
	"peerwave/internal/infrastructure/middleware"
	"peerwave/internal/infrastructure/monitoring"
	"peerwave/internal/infrastructure/presence"
	signalrelay "peerwave/internal/infrastructure/signal"
	"peerwave/pkg/config"
	"peerwave/pkg/logger"
	"peerwave/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	configPath := "configs/config.yaml"
	if p := os.Getenv("PEERWAVE_CONFIG"); p != "" {
		configPath = p
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		// Config errors happen before the logger exists.
		panic(err)
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	tracerProvider, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "peerwave-signal",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	collector := monitoring.NewPrometheusCollector()

	relayOpts := []signalrelay.ServerOption{
		signalrelay.WithKeepalive(cfg.Signal.PingInterval, cfg.Signal.PongTimeout),
		signalrelay.WithMetrics(collector),
	}
	if cfg.RateLimiting.Enabled {
		relayOpts = append(relayOpts, signalrelay.WithRateLimit(
			cfg.RateLimiting.WebSocket.MessagesPerSecond,
			cfg.RateLimiting.WebSocket.Burst,
		))
	}

	var authService services.AuthService
	if cfg.Auth.Enabled {
		authService = services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL)
		relayOpts = append(relayOpts, signalrelay.WithAuth(authService))
	}

	relay := signalrelay.NewServer(log, relayOpts...)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.RequestLoggingMiddleware(logger.NewContextLogger(zapLogger)))
	router.Use(middleware.ErrorHandlerMiddleware(log))
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))

	router.GET("/ws", gin.WrapF(relay.HandleWebSocket))
	router.GET("/health", gin.WrapF(relay.HealthCheck))

	if cfg.Auth.Enabled {
		httphandlers.NewTokenHandler(authService).SetupRoutes(router)
	}

	if cfg.Redis.Enabled {
		redisBus, err := bus.NewRedisBus(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PoolSize, log)
		if err != nil {
			log.Fatalw("failed to connect to Redis", "error", err)
		}
		defer redisBus.Close()

		store := presence.NewRedisStore(redisBus.Client())
		httphandlers.NewPresenceHandler(store).SetupRoutes(router)
	}

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	srv := &http.Server{
		Addr:         cfg.Signal.Address,
		Handler:      router,
		ReadTimeout:  cfg.Signal.ReadTimeout,
		WriteTimeout: cfg.Signal.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("starting signaling relay", "address", cfg.Signal.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Signal.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("error force closing server", "error", closeErr)
		}
	}

	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error shutting down tracer", "error", err)
	}

	log.Info("signaling relay stopped")
}
