package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"fintrack/internal/amqp"
	"fintrack/internal/cache"
	"fintrack/internal/cli"
	apphttp "fintrack/internal/http"
	applog "fintrack/internal/log"
	"fintrack/internal/services"
)

func main() {
	cfg, logger := cli.Bootstrap(applog.ComponentApp)

	// Change events are optional; without AMQP the mirror is simply not fed.
	var publisher services.Publisher
	if cfg.AMQPURL != "" {
		dialCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		client, err := amqp.NewClient(dialCtx, cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		cancel()
		if err != nil {
			logger.Error("Failed to initialize AMQP client", "error", err)
			os.Exit(1)
		}
		publisher = client
		logger.Info("AMQP publisher initialized", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	} else {
		logger.Info("AMQP disabled - no AMQP_URL provided")
	}

	svc, err := cli.OpenService(context.Background(), cfg, logger, cli.ServiceOptions{
		Publisher: publisher,
		CacheTTL:  cfg.CacheTTL,
	})
	if err != nil {
		logger.Error("Failed to initialize finance service", "error", err, "backend", cfg.DataBackend)
		os.Exit(1)
	}

	cacheManager := cache.NewManager(logger.WithComponent(applog.ComponentCache).Logger)
	if c := svc.SnapshotCache(); c != nil {
		cacheManager.Register(c)
		cacheManager.StartCleanup(cfg.CacheTTL)
	}

	srv := apphttp.NewServer(":"+cfg.Port, svc, apphttp.Options{
		Logger:          logger,
		RequestTimeout:  cfg.RequestTimeout,
		RateLimit:       cfg.RateLimit,
		BlockSuspicious: cfg.BlockSuspicious,
	})

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(shutdownCtx context.Context) {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		cacheManager.Stop()
		if err := svc.Close(); err != nil {
			logger.Error("Failed to close finance service", "error", err)
		}
	})

	logger.Info("Starting fintrack server",
		applog.FieldOperation, applog.OpStartup,
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		"cache_ttl", cfg.CacheTTL)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
