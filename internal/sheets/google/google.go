package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"google.golang.org/api/googleapi"

	"splithappens/internal/core"
	ports "splithappens/internal/sheets"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	// base tab name without year (e.g. "Ledger"); the entry's year is prefixed.
	ledgerBase string
}

// Ensure interface conformance
var _ ports.Ledger = (*Client)(nil)

type Options struct {
	SpreadsheetID   string
	LedgerSheet     string
	CredentialsJSON string
	CredentialsFile string

	// ClientOptions are passed to the Sheets service as is. Tests use them
	// to point the client at a fake endpoint.
	ClientOptions []goption.ClientOption
}

// New creates a Sheets ledger authenticated with a service account.
func New(ctx context.Context, opts Options) (*Client, error) {
	spreadsheetID := strings.TrimSpace(opts.SpreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	base := strings.TrimSpace(opts.LedgerSheet)
	if base == "" {
		base = "Ledger"
	}

	clientOpts := opts.ClientOptions
	if len(clientOpts) == 0 {
		creds, err := loadCredentials(ctx, opts.CredentialsJSON, opts.CredentialsFile)
		if err != nil {
			return nil, err
		}
		clientOpts = []goption.ClientOption{
			goption.WithCredentialsJSON(creds),
			goption.WithScopes(gsheet.SpreadsheetsScope),
		}
	}

	svc, err := gsheet.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	return &Client{svc: svc, spreadsheetID: spreadsheetID, ledgerBase: base}, nil
}

// loadCredentials prefers inline JSON, then the file, then
// GOOGLE_APPLICATION_CREDENTIALS.
func loadCredentials(ctx context.Context, inline, file string) ([]byte, error) {
	inline = strings.TrimSpace(inline)
	file = strings.TrimSpace(file)
	if inline == "" && file == "" {
		file = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	switch {
	case inline != "":
		slog.DebugContext(ctx, "Using inline service account credentials")
		return []byte(inline), nil
	case file != "":
		slog.DebugContext(ctx, "Reading service account credentials", "path", file)
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return b, nil
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}
}

// NewHTTPClient returns a pooled HTTP client suited to the Sheets API.
func NewHTTPClient() *http.Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		MaxConnsPerHost:       50,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   60 * time.Second,
	}
}

// Append adds the entry to the tab of its year. A missing tab is created
// with a header row first.
func (c *Client) Append(ctx context.Context, e core.LedgerEntry) (string, error) {
	if err := e.Validate(); err != nil {
		return "", fmt.Errorf("validation failed: %w", err)
	}
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}

	tab := yearPrefixedName(c.ledgerBase, e.Date.Year())
	ref, err := c.append(ctx, tab, rowFromEntry(e))
	if isMissingTab(err) {
		slog.InfoContext(ctx, "Ledger tab missing, creating it", "sheet", tab)
		if cerr := c.createTab(ctx, tab); cerr != nil {
			return "", cerr
		}
		ref, err = c.append(ctx, tab, rowFromEntry(e))
	}
	if err != nil {
		return "", err
	}
	return ref, nil
}

func (c *Client) append(ctx context.Context, tab string, row []any) (string, error) {
	rng := fmt.Sprintf("%s!A:%s", tab, lastColumn)
	vr := &gsheet.ValueRange{Values: [][]any{row}}
	resp, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, rng, vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("append to %s: %w", tab, err)
	}
	if resp.Updates != nil && resp.Updates.UpdatedRange != "" {
		return resp.Updates.UpdatedRange, nil
	}
	return rng, nil
}

func (c *Client) createTab(ctx context.Context, tab string) error {
	req := &gsheet.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheet.Request{{
			AddSheet: &gsheet.AddSheetRequest{Properties: &gsheet.SheetProperties{Title: tab}},
		}},
	}
	if _, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("create sheet %s: %w", tab, err)
	}

	rng := fmt.Sprintf("%s!A1:%s1", tab, lastColumn)
	vr := &gsheet.ValueRange{Values: [][]any{header}}
	if _, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, vr).
		ValueInputOption("RAW").Context(ctx).Do(); err != nil {
		return fmt.Errorf("write header of %s: %w", tab, err)
	}
	return nil
}

// Entries reads every ledger row of a year. A missing tab yields no rows.
func (c *Client) Entries(ctx context.Context, year int) ([]core.LedgerEntry, error) {
	if c.svc == nil {
		return nil, errors.New("sheets service not initialized")
	}
	tab := yearPrefixedName(c.ledgerBase, year)
	rng := fmt.Sprintf("%s!A2:%s", tab, lastColumn)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if isMissingTab(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}

	out := make([]core.LedgerEntry, 0, len(resp.Values))
	for _, row := range resp.Values {
		if e, ok := entryFromRow(row); ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func isMissingTab(err error) bool {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return false
	}
	return gerr.Code == http.StatusBadRequest && strings.Contains(strings.ToLower(gerr.Message), "unable to parse range")
}

// yearPrefixedName returns "<year> <base>" unless base already starts with a 4-digit year.
func yearPrefixedName(base string, year int) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return base
	}
	if len(base) >= 5 {
		if y, err := strconv.Atoi(base[0:4]); err == nil && base[4] == ' ' && y > 1900 && y < 3000 {
			return base
		}
	}
	return fmt.Sprintf("%d %s", year, base)
}
