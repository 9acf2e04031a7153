// Command fintrackctl manages transactions and budgets from the terminal,
// against the same backend the API server uses.
package main

import (
	"context"
	"os"
	"time"

	"github.com/alecthomas/kong"

	"fintrack/internal/amqp"
	"fintrack/internal/cli"
	"fintrack/internal/config"
	applog "fintrack/internal/log"
	"fintrack/internal/services"
)

// CLI is the command tree.
type CLI struct {
	Config  string `help:"Config file (yaml, toml or json)." type:"path" placeholder:"FILE"`
	Backend string `help:"Override the configured data backend (memory, sqlite or postgres)."`

	Categories   categoriesCmd   `cmd:"" help:"List budget categories."`
	Transactions transactionsCmd `cmd:"" aliases:"tx" help:"List and edit transactions."`
	Budget       budgetCmd       `cmd:"" help:"Show or replace the budget."`
	Insights     insightsCmd     `cmd:"" help:"Budget usage per category."`
	Top          topCmd          `cmd:"" help:"Largest spending labels."`
	Dashboard    dashboardCmd    `cmd:"" help:"One-shot summary."`
}

// App carries what every command needs.
type App struct {
	ctx context.Context
	svc *services.FinanceService
	out *printer
	now func() time.Time
}

func main() {
	var c CLI
	kctx := kong.Parse(&c,
		kong.Name("fintrackctl"),
		kong.Description("Personal finance tracker command line."),
		kong.UsageOnError())

	app, err := newApp(c)
	kctx.FatalIfErrorf(err)
	defer app.svc.Close()

	kctx.FatalIfErrorf(kctx.Run(app))
}

func newApp(c CLI) (*App, error) {
	cli.LoadEnvFile()
	if c.Config != "" {
		os.Setenv(config.ConfigFileEnv, c.Config)
	}
	if c.Backend != "" {
		os.Setenv("DATA_BACKEND", c.Backend)
	}

	cfg, err := cli.LoadConfig()
	if err != nil {
		return nil, err
	}
	// Logs go to stderr so command output stays clean for pipes.
	logger := cli.SetupLogger(cfg, applog.ComponentCLI, os.Stderr)

	ctx := context.Background()
	var publisher services.Publisher
	if cfg.AMQPURL != "" {
		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		client, err := amqp.NewClient(dialCtx, cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		cancel()
		if err != nil {
			logger.Warn("AMQP unavailable, changes will not reach the mirror", "error", err)
		} else {
			publisher = client
		}
	}

	svc, err := cli.OpenService(ctx, cfg, logger, cli.ServiceOptions{Publisher: publisher})
	if err != nil {
		return nil, err
	}
	return &App{
		ctx: ctx,
		svc: svc,
		out: newPrinter(os.Stdout),
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}
