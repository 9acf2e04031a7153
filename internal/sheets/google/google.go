package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"fintrack/internal/config"
	ports "fintrack/internal/sheets"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

var (
	transactionHeader = []any{"ID", "Date", "Description", "Category", "Category ID", "Amount", "Updated At"}
	budgetHeader      = []any{"Category ID", "Category", "Limit", "Spent", "Status"}
)

const (
	transactionColumns = "A:G"
	budgetColumns      = "A:E"
)

// Config selects the spreadsheet, its tabs and the service account.
type Config struct {
	SpreadsheetID     string
	TransactionsSheet string
	BudgetSheet       string
	CredentialsJSON   string
	CredentialsFile   string
}

// ConfigFromApp extracts the mirror settings from the application config.
func ConfigFromApp(cfg *config.Config) Config {
	return Config{
		SpreadsheetID:     strings.TrimSpace(cfg.GoogleSpreadsheetID),
		TransactionsSheet: strings.TrimSpace(cfg.GoogleTransactionsSheet),
		BudgetSheet:       strings.TrimSpace(cfg.GoogleBudgetSheet),
		CredentialsJSON:   strings.TrimSpace(cfg.GoogleServiceAccountJSON),
		CredentialsFile:   strings.TrimSpace(cfg.GoogleServiceAccountFile),
	}
}

// Client mirrors transactions and the budget into one spreadsheet.
type Client struct {
	svc               *gsheet.Service
	spreadsheetID     string
	transactionsSheet string
	budgetSheet       string

	mu       sync.Mutex
	sheetIDs map[string]int64
}

// Ensure interface conformance
var _ ports.Mirror = (*Client)(nil)

// New creates a client authenticated with service account credentials.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.SpreadsheetID == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	creds, err := credentialsJSON(cfg)
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "Creating Google Sheets service with Service Account",
		"credentials_size", len(creds),
		"scope", gsheet.SpreadsheetsScope)

	svc, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(creds),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return NewWithService(svc, cfg)
}

// NewWithService wraps an already configured Sheets service.
func NewWithService(svc *gsheet.Service, cfg Config) (*Client, error) {
	if svc == nil {
		return nil, errors.New("sheets service not initialized")
	}
	if cfg.SpreadsheetID == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	if cfg.TransactionsSheet == "" || cfg.BudgetSheet == "" {
		return nil, errors.New("sheet names cannot be empty")
	}
	return &Client{
		svc:               svc,
		spreadsheetID:     cfg.SpreadsheetID,
		transactionsSheet: cfg.TransactionsSheet,
		budgetSheet:       cfg.BudgetSheet,
		sheetIDs:          make(map[string]int64),
	}, nil
}

// credentialsJSON resolves, in order: inline JSON, the configured file and
// GOOGLE_APPLICATION_CREDENTIALS.
func credentialsJSON(cfg Config) ([]byte, error) {
	file := cfg.CredentialsFile
	if cfg.CredentialsJSON == "" && file == "" {
		file = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	switch {
	case cfg.CredentialsJSON != "":
		return []byte(cfg.CredentialsJSON), nil
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return b, nil
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}
}

// UpsertTransaction rewrites the row holding row.ID, or writes a new row
// after the last one. An empty tab gets the header first.
func (c *Client) UpsertTransaction(ctx context.Context, row ports.TransactionRow) error {
	ids, err := c.readIDs(ctx, c.transactionsSheet)
	if err != nil {
		return err
	}

	values := [][]any{transactionValues(row)}
	target := findRow(ids, row.ID)
	switch {
	case len(ids) == 0:
		values = [][]any{transactionHeader, transactionValues(row)}
		target = 1
	case target == 0:
		target = len(ids) + 1
	}

	rng := a1(c.transactionsSheet, fmt.Sprintf("A%d", target))
	if err := c.update(ctx, rng, values); err != nil {
		return fmt.Errorf("upsert transaction %s: %w", row.ID, err)
	}

	slog.InfoContext(ctx, "Transaction mirrored to sheet",
		"id", row.ID,
		"sheet", c.transactionsSheet,
		"row", target)
	return nil
}

// DeleteTransaction removes the row holding id. A missing row is not an
// error, so replaying a delete is harmless.
func (c *Client) DeleteTransaction(ctx context.Context, id string) error {
	ids, err := c.readIDs(ctx, c.transactionsSheet)
	if err != nil {
		return err
	}
	n := findRow(ids, id)
	if n == 0 {
		slog.DebugContext(ctx, "Transaction not in sheet, nothing to delete", "id", id)
		return nil
	}

	sheetID, err := c.sheetID(ctx, c.transactionsSheet)
	if err != nil {
		return err
	}
	req := &gsheet.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheet.Request{{
			DeleteDimension: &gsheet.DeleteDimensionRequest{
				Range: &gsheet.DimensionRange{
					SheetId:         sheetID,
					Dimension:       "ROWS",
					StartIndex:      int64(n - 1),
					EndIndex:        int64(n),
					ForceSendFields: []string{"SheetId", "StartIndex"},
				},
			},
		}},
	}
	if _, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("delete row %d of %s: %w", n, c.transactionsSheet, err)
	}

	slog.InfoContext(ctx, "Transaction removed from sheet", "id", id, "row", n)
	return nil
}

// ReplaceTransactions clears the transactions tab and writes rows in order.
func (c *Client) ReplaceTransactions(ctx context.Context, rows []ports.TransactionRow) error {
	values := make([][]any, 0, len(rows)+1)
	values = append(values, transactionHeader)
	for _, r := range rows {
		values = append(values, transactionValues(r))
	}
	if err := c.rewrite(ctx, c.transactionsSheet, transactionColumns, values); err != nil {
		return fmt.Errorf("replace transactions: %w", err)
	}
	slog.InfoContext(ctx, "Transactions sheet rewritten", "rows", len(rows))
	return nil
}

// WriteBudget clears the budget tab and writes rows in order.
func (c *Client) WriteBudget(ctx context.Context, rows []ports.BudgetRow) error {
	values := make([][]any, 0, len(rows)+1)
	values = append(values, budgetHeader)
	for _, r := range rows {
		values = append(values, budgetValues(r))
	}
	if err := c.rewrite(ctx, c.budgetSheet, budgetColumns, values); err != nil {
		return fmt.Errorf("write budget: %w", err)
	}
	slog.InfoContext(ctx, "Budget sheet rewritten", "rows", len(rows))
	return nil
}

func (c *Client) rewrite(ctx context.Context, sheet, columns string, values [][]any) error {
	rng := a1(sheet, columns)
	if _, err := c.svc.Spreadsheets.Values.Clear(c.spreadsheetID, rng, &gsheet.ClearValuesRequest{}).
		Context(ctx).Do(); err != nil {
		return fmt.Errorf("clear %s: %w", rng, err)
	}
	return c.update(ctx, a1(sheet, "A1"), values)
}

func (c *Client) update(ctx context.Context, rng string, values [][]any) error {
	vr := &gsheet.ValueRange{Values: values}
	_, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, vr).
		ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("update %s: %w", rng, err)
	}
	return nil
}

// readIDs returns column A of sheet, one entry per row, header included.
func (c *Client) readIDs(ctx context.Context, sheet string) ([]string, error) {
	rng := a1(sheet, "A:A")
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}
	ids := make([]string, len(resp.Values))
	for i, row := range resp.Values {
		ids[i] = safeGet(toStrings(row), 0)
	}
	return ids, nil
}

// sheetID looks up the numeric id of a tab by title, once per client.
func (c *Client) sheetID(ctx context.Context, title string) (int64, error) {
	c.mu.Lock()
	id, ok := c.sheetIDs[title]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	ss, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("read spreadsheet metadata: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range ss.Sheets {
		if s.Properties != nil {
			c.sheetIDs[s.Properties.Title] = s.Properties.SheetId
		}
	}
	id, ok = c.sheetIDs[title]
	if !ok {
		return 0, fmt.Errorf("sheet %q not found in spreadsheet", title)
	}
	return id, nil
}

// a1 builds an A1 range, quoting sheet names that need it.
func a1(sheet, cells string) string {
	if strings.ContainsAny(sheet, " '!:") {
		sheet = "'" + strings.ReplaceAll(sheet, "'", "''") + "'"
	}
	return sheet + "!" + cells
}

// findRow returns the 1-based row holding id, skipping the header row.
// Zero means not found.
func findRow(ids []string, id string) int {
	if id == "" {
		return 0
	}
	for i := 1; i < len(ids); i++ {
		if ids[i] == id {
			return i + 1
		}
	}
	return 0
}

func transactionValues(r ports.TransactionRow) []any {
	return []any{
		r.ID,
		r.Date,
		textCell(r.Description),
		textCell(r.Category),
		r.CategoryID,
		numberCell(r.Amount),
		r.UpdatedAt,
	}
}

func budgetValues(r ports.BudgetRow) []any {
	return []any{
		r.CategoryID,
		textCell(r.Name),
		numberCell(r.Limit),
		numberCell(r.Spent),
		r.Status,
	}
}

// textCell keeps user text from being evaluated as a formula.
func textCell(s string) string {
	if s != "" && strings.ContainsRune("=+-@", rune(s[0])) {
		return "'" + s
	}
	return s
}

// numberCell sends decimal strings as numbers so sheet formulas can sum them.
func numberCell(s string) any {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

func toStrings(in []interface{}) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}

func safeGet(arr []string, idx int) string {
	if idx >= 0 && idx < len(arr) {
		return arr[idx]
	}
	return ""
}
