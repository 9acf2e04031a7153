package main

import (
	"context"
	"io"
	"os"
	"time"

	"fintrack/internal/amqp"
	"fintrack/internal/cli"
	applog "fintrack/internal/log"
	gsheet "fintrack/internal/sheets/google"
	"fintrack/internal/worker"
)

func main() {
	cfg, logger := cli.Bootstrap(applog.ComponentWorker)

	if err := cfg.ValidateWorker(); err != nil {
		logger.Error("Worker configuration validation failed",
			applog.FieldError, err,
			applog.FieldErrorType, applog.ErrorTypeConfiguration,
			applog.FieldOperation, applog.OpValidate)
		os.Exit(1)
	}
	if cfg.DataBackend == "memory" {
		logger.Warn("Memory backend is private to this process; the mirror will only see its seed data")
	}

	logger.Info("Starting fintrack-worker", applog.FieldOperation, applog.OpStartup)

	// Reads always hit the store; the worker never serves cached snapshots.
	svc, err := cli.OpenService(context.Background(), cfg, logger, cli.ServiceOptions{})
	if err != nil {
		logger.Error("Failed to initialize finance service", "error", err, "backend", cfg.DataBackend)
		os.Exit(1)
	}

	sheetsClient, err := gsheet.New(context.Background(), gsheet.ConfigFromApp(cfg))
	if err != nil {
		logger.Error("Failed to initialize Google Sheets client", "error", err)
		closeAll(logger, svc)
		os.Exit(1)
	}
	logger.WithComponent(applog.ComponentSheets).Info("Google Sheets client initialized",
		"spreadsheet_id", cfg.GoogleSpreadsheetID,
		"transactions_sheet", cfg.GoogleTransactionsSheet,
		"budget_sheet", cfg.GoogleBudgetSheet)

	dialCtx, cancelDial := context.WithTimeout(context.Background(), 2*time.Minute)
	amqpClient, err := amqp.NewClient(dialCtx, cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	cancelDial()
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		closeAll(logger, svc)
		os.Exit(1)
	}

	mirrorWorker := worker.NewMirrorWorker(svc, sheetsClient, worker.Options{
		ResyncInterval: cfg.MirrorResyncInterval,
		Logger:         logger.Logger,
	})

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)

	if err := runAndClose(ctx, logger, mirrorWorker, amqpClient, amqpClient, svc); err != nil {
		logger.Error("Worker stopped with error", "error", err)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	stats := mirrorWorker.Stats()
	logger.Info("Worker shutdown complete",
		"processed", stats.Processed,
		"failed", stats.Failed,
		"dropped", stats.Dropped,
		"full_syncs", stats.FullSyncs)
}

type runner interface {
	Run(ctx context.Context, consumer worker.Consumer) error
}

// runAndClose runs w until it stops and then releases closers, whatever
// the outcome. Callers may os.Exit afterwards, which skips deferred calls.
func runAndClose(ctx context.Context, logger *applog.Logger, w runner, consumer worker.Consumer, closers ...io.Closer) error {
	err := w.Run(ctx, consumer)
	closeAll(logger, closers...)
	return err
}

func closeAll(logger *applog.Logger, closers ...io.Closer) {
	for _, c := range closers {
		if err := c.Close(); err != nil {
			logger.Error("Failed to release resource", "error", err)
		}
	}
}
