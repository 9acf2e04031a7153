// Package cli provides common process initialization shared by
// cmd/fintrack, cmd/fintrack-worker and cmd/fintrackctl.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"fintrack/internal/analytics"
	"fintrack/internal/backend"
	"fintrack/internal/config"
	"fintrack/internal/core"
	applog "fintrack/internal/log"
	"fintrack/internal/services"
)

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// SetupLogger builds the process logger from the configured level and
// format and sets it as the default logger.
func SetupLogger(cfg *config.Config, component string, out io.Writer) *applog.Logger {
	lc := applog.DefaultConfig()
	lc.Level = applog.ParseLevel(cfg.LogLevel)
	lc.Format = cfg.LogFormat
	lc.Component = component
	if out != nil {
		lc.Output = out
	}
	logger := applog.New(lc)
	applog.SetDefault(logger)
	return logger
}

// LoadConfig loads and validates the configuration.
func LoadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Bootstrap loads .env and the configuration and sets up logging.
// It exits the process when the configuration is invalid.
func Bootstrap(component string) (*config.Config, *applog.Logger) {
	LoadEnvFile()
	cfg, err := LoadConfig()
	if err != nil {
		applog.LogError(context.Background(), "Configuration validation failed", err,
			applog.ErrorTypeConfiguration, applog.OpValidate, nil)
		os.Exit(1)
	}
	logger := SetupLogger(cfg, component, nil)
	logger.Info("Configuration loaded",
		applog.FieldOperation, applog.OpStartup,
		"backend", cfg.DataBackend,
		"log_level", cfg.LogLevel)
	return cfg, logger
}

// ServiceOptions tunes OpenService.
type ServiceOptions struct {
	Publisher services.Publisher
	CacheTTL  time.Duration
}

// OpenService opens the configured backend and wraps it in a
// FinanceService. Closing the service closes the backend.
func OpenService(ctx context.Context, cfg *config.Config, logger *applog.Logger, opts ServiceOptions) (*services.FinanceService, error) {
	reg := core.DefaultRegistry()

	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("backend config: %w", err)
	}
	res, err := backend.NewFactory(logger.WithComponent(applog.ComponentBackend).Logger, reg).CreateBackend(ctx, bcfg)
	if err != nil {
		return nil, fmt.Errorf("create %s backend: %w", bcfg.Type, err)
	}

	resolver := analytics.NewResolver(reg, analytics.LogUnmatched(logger.Logger, reg))
	svc := services.NewFinanceService(res.Store, analytics.NewAggregator(resolver), opts.Publisher, services.Options{
		CacheTTL: opts.CacheTTL,
		Logger:   logger.WithComponent(applog.ComponentFinance).Logger,
	})
	return svc, nil
}

// GracefulShutdown returns a context that is cancelled on SIGINT or SIGTERM,
// after cleanup has run with a context bounded by timeout. done closes once
// cleanup has finished.
func GracefulShutdown(logger *applog.Logger, timeout time.Duration, cleanup func(context.Context)) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer close(done)
		defer signal.Stop(sigChan)

		sig := <-sigChan
		logger.Info("Shutdown signal received",
			applog.FieldOperation, applog.OpShutdown,
			"signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
		defer shutdownCancel()

		if cleanup != nil {
			cleanup(shutdownCtx)
		}
		cancel()

		if shutdownCtx.Err() != nil {
			logger.Warn("Shutdown timeout reached", applog.FieldOperation, applog.OpShutdown)
			return
		}
		logger.Info("Shutdown complete", applog.FieldOperation, applog.OpShutdown)
	}()

	return ctx, done
}

// WaitForShutdown blocks until the context is cancelled and cleanup is done.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}
