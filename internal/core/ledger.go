package core

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// LedgerEntry is one row of the household ledger kept outside the backend.
type LedgerEntry struct {
	EventID   string
	Kind      string
	Date      time.Time
	Household string
	Actor     string
	ReceiptID int64
	Vendor    string
	Category  Category
	Currency  string
	Amount    decimal.Decimal
	Note      string
}

var ErrIncompleteEntry = errors.New("ledger entry needs an event id, a kind and a household")

func (e LedgerEntry) Validate() error {
	if e.EventID == "" || e.Kind == "" || e.Household == "" {
		return ErrIncompleteEntry
	}
	if e.Date.IsZero() {
		return errors.New("ledger entry date is required")
	}
	return nil
}
