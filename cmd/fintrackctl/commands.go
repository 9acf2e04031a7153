package main

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"fintrack/internal/core"
)

const maxTopN = 50

type categoriesCmd struct{}

func (c *categoriesCmd) Run(app *App) error {
	cats := app.svc.Registry().Categories()
	rows := make([][]string, 0, len(cats))
	for _, cat := range cats {
		rows = append(rows, []string{cat.ID, app.out.category(cat), cat.Color})
	}
	app.out.table([]string{"ID", "NAME", "COLOR"}, rows)
	return nil
}

type transactionsCmd struct {
	List   txListCmd   `cmd:"" default:"withargs" help:"List transactions, newest first."`
	Add    txAddCmd    `cmd:"" help:"Record a transaction."`
	Update txUpdateCmd `cmd:"" help:"Change fields of a transaction."`
	Delete txDeleteCmd `cmd:"" aliases:"rm" help:"Delete a transaction."`
}

type txListCmd struct {
	Limit int `short:"l" help:"Show at most this many, 0 for all." default:"0"`
}

func (c *txListCmd) Run(app *App) error {
	txns, err := app.svc.ListTransactions(app.ctx)
	if err != nil {
		return err
	}
	if c.Limit > 0 && len(txns) > c.Limit {
		txns = txns[:c.Limit]
	}
	reg := app.svc.Registry()
	rows := make([][]string, 0, len(txns))
	for _, t := range txns {
		cat, _ := reg.Lookup(app.svc.ResolveCategory(t.Category))
		rows = append(rows, []string{
			t.Date.String(),
			core.FormatAmount(t.Amount),
			app.out.category(cat),
			t.Category,
			t.Description,
			t.ID,
		})
	}
	app.out.table([]string{"DATE", "AMOUNT", "CATEGORY", "LABEL", "DESCRIPTION", "ID"}, rows, 1)
	return nil
}

type txAddCmd struct {
	Amount      string `required:"" short:"a" help:"Amount, e.g. 12.50 or 12,50."`
	Description string `required:"" short:"d" help:"What the money went on."`
	Category    string `required:"" short:"c" help:"Category id or free-text label."`
	Date        string `help:"Date as YYYY-MM-DD, defaults to today."`
}

func (c *txAddCmd) Run(app *App) error {
	amount, err := core.ParseAmount(c.Amount)
	if err != nil {
		return &core.ValidationError{Field: "amount", Err: err}
	}
	y, m, d := app.now().Date()
	date := core.NewDate(y, int(m), d)
	if c.Date != "" {
		if date, err = core.ParseDate(c.Date); err != nil {
			return &core.ValidationError{Field: "date", Err: err}
		}
	}

	t, err := app.svc.CreateTransaction(app.ctx, core.Transaction{
		Amount:      amount,
		Description: c.Description,
		Category:    c.Category,
		Date:        date,
	})
	if err != nil {
		return err
	}
	app.out.printf("Created transaction %s (%s, %s)\n", t.ID, core.FormatAmount(t.Amount), t.Date)
	return nil
}

type txUpdateCmd struct {
	ID          string `arg:"" help:"Transaction id."`
	Amount      string `short:"a" help:"New amount."`
	Description string `short:"d" help:"New description."`
	Category    string `short:"c" help:"New category label."`
	Date        string `help:"New date as YYYY-MM-DD."`
}

func (c *txUpdateCmd) Run(app *App) error {
	var patch core.TransactionPatch
	if c.Amount != "" {
		amount, err := core.ParseAmount(c.Amount)
		if err != nil {
			return &core.ValidationError{Field: "amount", Err: err}
		}
		patch.Amount = &amount
	}
	if c.Description != "" {
		patch.Description = &c.Description
	}
	if c.Category != "" {
		patch.Category = &c.Category
	}
	if c.Date != "" {
		date, err := core.ParseDate(c.Date)
		if err != nil {
			return &core.ValidationError{Field: "date", Err: err}
		}
		patch.Date = &date
	}

	t, err := app.svc.UpdateTransaction(app.ctx, c.ID, patch)
	if errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("transaction %s not found", c.ID)
	}
	if err != nil {
		return err
	}
	app.out.printf("Updated transaction %s (%s, %s, %s)\n", t.ID, core.FormatAmount(t.Amount), t.Category, t.Date)
	return nil
}

type txDeleteCmd struct {
	ID string `arg:"" help:"Transaction id."`
}

func (c *txDeleteCmd) Run(app *App) error {
	err := app.svc.DeleteTransaction(app.ctx, c.ID)
	if errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("transaction %s not found", c.ID)
	}
	if err != nil {
		return err
	}
	app.out.printf("Deleted transaction %s\n", c.ID)
	return nil
}

type budgetCmd struct {
	Show budgetShowCmd `cmd:"" default:"1" help:"Limits next to actual spending."`
	Set  budgetSetCmd  `cmd:"" help:"Replace the budget with category=amount pairs."`
}

type budgetShowCmd struct{}

func (c *budgetShowCmd) Run(app *App) error {
	lines, err := app.svc.Comparison(app.ctx)
	if err != nil {
		return err
	}
	rows := make([][]string, 0, len(lines))
	for _, l := range lines {
		rows = append(rows, []string{
			app.out.category(l.Category),
			core.FormatAmount(l.Budget),
			core.FormatAmount(l.Actual),
			core.FormatAmount(l.Budget.Sub(l.Actual)),
		})
	}
	app.out.table([]string{"CATEGORY", "LIMIT", "SPENT", "REMAINING"}, rows, 1, 2, 3)
	return nil
}

type budgetSetCmd struct {
	Limits []string `arg:"" name:"limit" help:"category=amount pairs, e.g. food=400."`
	Merge  bool     `help:"Keep the current limit of categories not named."`
}

func (c *budgetSetCmd) Run(app *App) error {
	limits, err := parseLimitArgs(c.Limits)
	if err != nil {
		return err
	}
	if c.Merge {
		current, err := app.svc.GetBudget(app.ctx)
		if err != nil {
			return err
		}
		for id, l := range current.Limits {
			if _, ok := limits[id]; !ok {
				limits[id] = l
			}
		}
	}

	b, err := app.svc.SaveBudget(app.ctx, limits)
	if err != nil {
		return err
	}
	total := decimal.Zero
	for _, l := range b.Limits {
		total = total.Add(l)
	}
	app.out.printf("Budget saved: %d categories, %s in total\n", len(b.Limits), core.FormatAmount(total))
	return nil
}

// parseLimitArgs turns category=amount pairs into limits. Category ids are
// checked by the service so unknown ones are reported together.
func parseLimitArgs(args []string) (map[string]decimal.Decimal, error) {
	limits := make(map[string]decimal.Decimal, len(args))
	var invalid []string
	for _, arg := range args {
		id, value, ok := strings.Cut(arg, "=")
		id = strings.TrimSpace(id)
		if !ok || id == "" {
			invalid = append(invalid, arg)
			continue
		}
		l, err := core.ParseLimit(value)
		if err != nil {
			invalid = append(invalid, id)
			continue
		}
		limits[id] = l
	}
	if len(invalid) > 0 {
		sort.Strings(invalid)
		return nil, &core.ValidationError{Field: "limits", Values: invalid, Err: core.ErrInvalidAmount}
	}
	return limits, nil
}

type insightsCmd struct{}

func (c *insightsCmd) Run(app *App) error {
	insights, err := app.svc.Insights(app.ctx)
	if err != nil {
		return err
	}
	reg := app.svc.Registry()
	rows := make([][]string, 0, len(insights))
	for _, in := range insights {
		cat, _ := reg.Lookup(in.CategoryID)
		rows = append(rows, []string{
			app.out.category(cat),
			core.FormatAmount(in.Spent),
			core.FormatAmount(in.Budget),
			in.Percentage.StringFixed(1) + "%",
			app.out.status(in.Status),
			in.Message(),
		})
	}
	app.out.table([]string{"CATEGORY", "SPENT", "BUDGET", "USED", "STATUS", "NOTE"}, rows, 1, 2, 3)
	return nil
}

type topCmd struct {
	N int `short:"n" help:"How many labels to show." default:"3"`
}

func (c *topCmd) Run(app *App) error {
	if c.N < 1 || c.N > maxTopN {
		return fmt.Errorf("-n must be between 1 and %d", maxTopN)
	}
	top, err := app.svc.TopCategories(app.ctx, c.N)
	if err != nil {
		return err
	}
	rows := make([][]string, 0, len(top))
	for i, lt := range top {
		rows = append(rows, []string{fmt.Sprintf("%d", i+1), lt.Label, core.FormatAmount(lt.Total)})
	}
	app.out.table([]string{"#", "LABEL", "TOTAL"}, rows, 2)
	return nil
}

type dashboardCmd struct{}

func (c *dashboardCmd) Run(app *App) error {
	d, err := app.svc.Dashboard(app.ctx)
	if err != nil {
		return err
	}
	p := app.out

	p.heading("Overview")
	p.printf("Total expenses  %s\n", core.FormatAmount(d.TotalExpenses))
	p.printf("Transactions    %d\n\n", d.Transactions)

	p.heading("Top categories")
	top := make([][]string, 0, len(d.TopCategories))
	for _, lt := range d.TopCategories {
		top = append(top, []string{lt.Label, core.FormatAmount(lt.Total)})
	}
	p.table([]string{"LABEL", "TOTAL"}, top, 1)
	p.printf("\n")

	p.heading("Breakdown")
	shares := make([][]string, 0, len(d.Breakdown))
	for _, s := range d.Breakdown {
		shares = append(shares, []string{p.category(s.Category), core.FormatAmount(s.Total), s.Share.StringFixed(1) + "%"})
	}
	p.table([]string{"CATEGORY", "TOTAL", "SHARE"}, shares, 1, 2)
	p.printf("\n")

	p.heading("Recent")
	recent := make([][]string, 0, len(d.Recent))
	for _, t := range d.Recent {
		recent = append(recent, []string{t.Date.String(), core.FormatAmount(t.Amount), t.Description})
	}
	p.table([]string{"DATE", "AMOUNT", "DESCRIPTION"}, recent, 1)

	if len(d.Insights) > 0 {
		p.printf("\n")
		p.heading("Budget")
		rows := make([][]string, 0, len(d.Insights))
		for _, in := range d.Insights {
			rows = append(rows, []string{in.CategoryName, in.Percentage.StringFixed(1) + "%", p.status(in.Status), in.Message()})
		}
		p.table([]string{"CATEGORY", "USED", "STATUS", "NOTE"}, rows, 1)
	}
	return nil
}
