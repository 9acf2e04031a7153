// Package worker keeps the spreadsheet mirror in step with the store by
// consuming change events.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/googleapi"

	"fintrack/internal/amqp"
	"fintrack/internal/analytics"
	"fintrack/internal/core"
	applog "fintrack/internal/log"
	"fintrack/internal/sheets"
)

// Source is the read side the worker mirrors from.
// *services.FinanceService implements it.
type Source interface {
	ListTransactions(ctx context.Context) ([]core.Transaction, error)
	GetTransaction(ctx context.Context, id string) (core.Transaction, error)
	ResolveCategory(label string) string
	Comparison(ctx context.Context) ([]analytics.BudgetLine, error)
	Insights(ctx context.Context) ([]analytics.Insight, error)
}

// Consumer delivers change events to a handler until ctx is done.
// *amqp.Client implements it.
type Consumer interface {
	Consume(ctx context.Context, handler func(context.Context, *amqp.ChangeEvent) error) error
}

// Options tunes retries and the periodic full sync.
type Options struct {
	// InitialInterval is the first retry delay (default 500ms).
	InitialInterval time.Duration
	// MaxElapsed bounds the retries of one mirror write (default 1m).
	MaxElapsed time.Duration
	// ResyncInterval rewrites the whole mirror periodically, 0 disables.
	ResyncInterval time.Duration
	Logger         *slog.Logger
}

// Stats counts handled events.
type Stats struct {
	Processed int64
	Failed    int64
	Dropped   int64
	FullSyncs int64
}

// MirrorWorker applies change events to a sheets.Mirror.
type MirrorWorker struct {
	source Source
	mirror sheets.Mirror
	opts   Options
	logger *slog.Logger

	// serializes writes so a full sync never interleaves with an event
	mu sync.Mutex

	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
	fullSyncs atomic.Int64
}

func NewMirrorWorker(source Source, mirror sheets.Mirror, opts Options) *MirrorWorker {
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 500 * time.Millisecond
	}
	if opts.MaxElapsed <= 0 {
		opts.MaxElapsed = time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &MirrorWorker{source: source, mirror: mirror, opts: opts, logger: logger}
}

// HandleEvent mirrors one change. Transaction events re-read the record so
// the sheet reflects the current state, not the state at publish time.
// Every event also refreshes the budget tab, since spending moves it.
//
// Errors the spreadsheet will keep rejecting drop the event instead of
// requeueing it forever; the next full sync repairs the sheet.
func (w *MirrorWorker) HandleEvent(ctx context.Context, ev *amqp.ChangeEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.logger.InfoContext(ctx, "Processing change event", "event_type", ev.Type, "id", ev.ID)

	err := w.apply(ctx, ev)
	if err == nil {
		err = w.syncBudget(ctx)
	}
	switch {
	case err == nil:
		w.processed.Add(1)
		return nil
	case isPermanent(err):
		w.dropped.Add(1)
		w.logger.ErrorContext(ctx, "Dropping change event after permanent mirror error",
			"event_type", ev.Type,
			"id", ev.ID,
			"error", err)
		return nil
	default:
		w.failed.Add(1)
		return fmt.Errorf("mirror %s %s: %w", ev.Type, ev.ID, err)
	}
}

func (w *MirrorWorker) apply(ctx context.Context, ev *amqp.ChangeEvent) error {
	switch ev.Type {
	case amqp.TransactionCreated, amqp.TransactionUpdated:
		return w.syncTransaction(ctx, ev.ID)
	case amqp.TransactionDeleted:
		return w.retry(ctx, "delete transaction", func() error {
			return w.mirror.DeleteTransaction(ctx, ev.ID)
		})
	case amqp.BudgetSaved:
		return nil
	default:
		return backoff.Permanent(fmt.Errorf("unknown event type %q", ev.Type))
	}
}

func (w *MirrorWorker) syncTransaction(ctx context.Context, id string) error {
	t, err := w.source.GetTransaction(ctx, id)
	if errors.Is(err, core.ErrNotFound) {
		// Deleted after the event was published; the delete event follows.
		w.logger.DebugContext(ctx, "Transaction gone before mirroring, removing row", "id", id)
		return w.retry(ctx, "delete transaction", func() error {
			return w.mirror.DeleteTransaction(ctx, id)
		})
	}
	if err != nil {
		return fmt.Errorf("read transaction: %w", err)
	}

	row := sheets.NewTransactionRow(t, w.source.ResolveCategory(t.Category))
	return w.retry(ctx, "upsert transaction", func() error {
		return w.mirror.UpsertTransaction(ctx, row)
	})
}

func (w *MirrorWorker) syncBudget(ctx context.Context) error {
	lines, err := w.source.Comparison(ctx)
	if err != nil {
		return fmt.Errorf("read budget comparison: %w", err)
	}
	insights, err := w.source.Insights(ctx)
	if err != nil {
		return fmt.Errorf("read insights: %w", err)
	}
	rows := sheets.NewBudgetRows(lines, insights)
	return w.retry(ctx, "write budget", func() error {
		return w.mirror.WriteBudget(ctx, rows)
	})
}

// FullSync rewrites both tabs from the store.
func (w *MirrorWorker) FullSync(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	start := time.Now()
	txns, err := w.source.ListTransactions(ctx)
	if err != nil {
		return fmt.Errorf("full sync: list transactions: %w", err)
	}
	rows := make([]sheets.TransactionRow, 0, len(txns))
	for _, t := range txns {
		rows = append(rows, sheets.NewTransactionRow(t, w.source.ResolveCategory(t.Category)))
	}

	if err := w.retry(ctx, "replace transactions", func() error {
		return w.mirror.ReplaceTransactions(ctx, rows)
	}); err != nil {
		return fmt.Errorf("full sync: %w", err)
	}
	if err := w.syncBudget(ctx); err != nil {
		return fmt.Errorf("full sync: %w", err)
	}

	w.fullSyncs.Add(1)
	w.logger.InfoContext(ctx, "Full mirror sync completed",
		applog.FieldOperation, applog.OpSync,
		"transactions", len(rows),
		"duration", time.Since(start))
	return nil
}

// Run performs a full sync, then consumes events until ctx is done,
// resyncing every ResyncInterval to recover from missed events.
// A failed startup sync is logged and does not stop the worker.
func (w *MirrorWorker) Run(ctx context.Context, consumer Consumer) error {
	if err := w.FullSync(ctx); err != nil {
		w.logger.ErrorContext(ctx, "Startup sync failed", applog.FieldOperation, applog.OpSync, "error", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return consumer.Consume(gctx, w.HandleEvent)
	})
	if w.opts.ResyncInterval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(w.opts.ResyncInterval)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					if err := w.FullSync(gctx); err != nil {
						w.logger.ErrorContext(gctx, "Periodic sync failed", applog.FieldOperation, applog.OpSync, "error", err)
					}
				}
			}
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (w *MirrorWorker) Stats() Stats {
	return Stats{
		Processed: w.processed.Load(),
		Failed:    w.failed.Load(),
		Dropped:   w.dropped.Load(),
		FullSyncs: w.fullSyncs.Load(),
	}
}

func (w *MirrorWorker) retry(ctx context.Context, op string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.opts.InitialInterval
	b.MaxElapsedTime = w.opts.MaxElapsed

	return backoff.RetryNotify(
		func() error {
			err := fn()
			if err != nil && isPermanent(err) {
				return backoff.Permanent(err)
			}
			return err
		},
		backoff.WithContext(b, ctx),
		func(err error, wait time.Duration) {
			w.logger.WarnContext(ctx, "Mirror write failed, retrying",
				"operation", op,
				"error", err,
				"retry_in", wait)
		},
	)
}

// isPermanent reports errors retrying cannot fix: client-side API errors
// other than rate limiting, and errors already marked permanent.
func isPermanent(err error) bool {
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return true
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return true
		}
	}
	return false
}
