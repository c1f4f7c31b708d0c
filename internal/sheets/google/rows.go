package google

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"splithappens/internal/core"
)

const (
	dateLayout = "2006-01-02"
	lastColumn = "K"
)

// Column order of a ledger tab.
var header = []any{"Date", "Kind", "Household", "Actor", "Vendor", "Category", "Currency", "Amount", "Receipt", "Note", "Event"}

func rowFromEntry(e core.LedgerEntry) []any {
	receipt := ""
	if e.ReceiptID > 0 {
		receipt = strconv.FormatInt(e.ReceiptID, 10)
	}
	return []any{
		e.Date.Format(dateLayout),
		e.Kind,
		e.Household,
		e.Actor,
		e.Vendor,
		string(e.Category),
		e.Currency,
		e.Amount.StringFixed(2),
		receipt,
		e.Note,
		e.EventID,
	}
}

func cell(row []any, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(row[i]))
}

// entryFromRow parses a row written by rowFromEntry. Rows without an event
// id or with an unreadable date are skipped.
func entryFromRow(row []any) (core.LedgerEntry, bool) {
	date, err := time.Parse(dateLayout, cell(row, 0))
	if err != nil {
		return core.LedgerEntry{}, false
	}
	e := core.LedgerEntry{
		Date:      date,
		Kind:      cell(row, 1),
		Household: cell(row, 2),
		Actor:     cell(row, 3),
		Vendor:    cell(row, 4),
		Category:  core.Category(cell(row, 5)),
		Currency:  cell(row, 6),
		Note:      cell(row, 9),
		EventID:   cell(row, 10),
	}
	if e.EventID == "" {
		return core.LedgerEntry{}, false
	}
	if amt := strings.ReplaceAll(cell(row, 7), ",", ""); amt != "" {
		if d, err := decimal.NewFromString(amt); err == nil {
			e.Amount = d
		}
	}
	if id, err := strconv.ParseInt(cell(row, 8), 10, 64); err == nil {
		e.ReceiptID = id
	}
	return e, true
}
