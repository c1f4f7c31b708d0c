package sheets

import (
	"context"

	"splithappens/internal/core"
)

// Ports for outbound adapters.
type (
	// LedgerWriter appends one entry and returns a reference to where it
	// landed, e.g. a sheet range.
	LedgerWriter interface {
		Append(ctx context.Context, e core.LedgerEntry) (ref string, err error)
	}

	// LedgerReader returns the entries recorded for a calendar year.
	LedgerReader interface {
		Entries(ctx context.Context, year int) ([]core.LedgerEntry, error)
	}

	Ledger interface {
		LedgerWriter
		LedgerReader
	}
)
