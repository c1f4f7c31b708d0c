// Package memory is an in-process ledger used in development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"splithappens/internal/core"
	ports "splithappens/internal/sheets"
)

var _ ports.Ledger = (*Ledger)(nil)

type Ledger struct {
	mu      sync.Mutex
	entries []core.LedgerEntry
}

func New() *Ledger {
	return &Ledger{}
}

// Append stores the entry and returns a synthetic row reference.
func (l *Ledger) Append(_ context.Context, e core.LedgerEntry) (string, error) {
	if err := e.Validate(); err != nil {
		return "", err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
	return fmt.Sprintf("mem:%d", len(l.entries)), nil
}

func (l *Ledger) Entries(_ context.Context, year int) ([]core.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []core.LedgerEntry
	for _, e := range l.entries {
		if e.Date.Year() == year {
			out = append(out, e)
		}
	}
	return out, nil
}

// All returns every entry in insertion order.
func (l *Ledger) All() []core.LedgerEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]core.LedgerEntry, len(l.entries))
	copy(out, l.entries)
	return out
}
