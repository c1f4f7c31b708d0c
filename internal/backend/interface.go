// Package backend builds the pluggable infrastructure from configuration:
// the workspace store, the ledger and the event bus.
package backend

import (
	"context"

	"splithappens/internal/amqp"
	"splithappens/internal/sheets"
	"splithappens/internal/storage"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// StoreResult contains the store instance and its cleanup function
type StoreResult struct {
	Store   storage.Store
	Cleanup CleanupFunc
}

// Factory creates infrastructure based on configuration
type Factory interface {
	CreateStore(ctx context.Context, config Config) (*StoreResult, error)
	CreateLedger(ctx context.Context, config Config) (sheets.Ledger, error)
	// CreateBus returns nil when no bus is configured.
	CreateBus(config Config) (*amqp.Client, error)
}

// Config holds configuration for backend creation
type Config struct {
	Store  StoreType
	Ledger LedgerType

	// SQLite specific
	SQLiteDBPath string

	// Event bus, optional
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Google Sheets specific
	GoogleSpreadsheetID      string
	GoogleLedgerSheet        string
	GoogleServiceAccountFile string
	GoogleServiceAccountJSON string
}

// StoreType selects where workspaces and the export log live.
type StoreType string

const (
	MemoryStore StoreType = "memory"
	SQLiteStore StoreType = "sqlite"
)

func (t StoreType) String() string {
	return string(t)
}

func (t StoreType) IsValid() bool {
	switch t {
	case MemoryStore, SQLiteStore:
		return true
	default:
		return false
	}
}

// LedgerType selects where exported entries are written.
type LedgerType string

const (
	MemoryLedger LedgerType = "memory"
	SheetsLedger LedgerType = "sheets"
)

func (t LedgerType) String() string {
	return string(t)
}

func (t LedgerType) IsValid() bool {
	switch t {
	case MemoryLedger, SheetsLedger:
		return true
	default:
		return false
	}
}
