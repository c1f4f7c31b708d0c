package backend

import (
	"context"
	"fmt"

	"splithappens/internal/amqp"
	"splithappens/internal/log"
	"splithappens/internal/sheets"
	gsheet "splithappens/internal/sheets/google"
	"splithappens/internal/sheets/memory"
	"splithappens/internal/storage"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.Wrap(nil, log.ComponentStorage)
	}
	return &DefaultFactory{logger: logger}
}

// CreateStore implements Factory.CreateStore
func (f *DefaultFactory) CreateStore(ctx context.Context, config Config) (*StoreResult, error) {
	switch config.Store {
	case SQLiteStore:
		store, err := storage.NewSQLiteStore(config.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite store: %w", err)
		}
		f.logger.InfoContext(ctx, "Initialized SQLite store", "db_path", config.SQLiteDBPath)
		return &StoreResult{Store: store, Cleanup: store.Close}, nil
	case MemoryStore:
		store := storage.NewMemoryStore()
		f.logger.InfoContext(ctx, "Initialized memory store")
		return &StoreResult{Store: store, Cleanup: store.Close}, nil
	default:
		return nil, fmt.Errorf("unsupported store type: %s", config.Store)
	}
}

// CreateLedger implements Factory.CreateLedger
func (f *DefaultFactory) CreateLedger(ctx context.Context, config Config) (sheets.Ledger, error) {
	switch config.Ledger {
	case SheetsLedger:
		cli, err := gsheet.New(ctx, gsheet.Options{
			SpreadsheetID:   config.GoogleSpreadsheetID,
			LedgerSheet:     config.GoogleLedgerSheet,
			CredentialsJSON: config.GoogleServiceAccountJSON,
			CredentialsFile: config.GoogleServiceAccountFile,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Google Sheets ledger: %w", err)
		}
		f.logger.InfoContext(ctx, "Initialized Google Sheets ledger",
			"spreadsheet_id", config.GoogleSpreadsheetID,
			"sheet", config.GoogleLedgerSheet)
		return cli, nil
	case MemoryLedger:
		f.logger.InfoContext(ctx, "Initialized memory ledger")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unsupported ledger type: %s", config.Ledger)
	}
}

// CreateBus implements Factory.CreateBus
func (f *DefaultFactory) CreateBus(config Config) (*amqp.Client, error) {
	if config.AMQPURL == "" {
		f.logger.Info("Event bus disabled, no AMQP URL configured")
		return nil, nil
	}
	client, err := amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize AMQP client: %w", err)
	}
	f.logger.Info("Initialized AMQP client",
		"exchange", config.AMQPExchange,
		"queue", config.AMQPQueue)
	return client, nil
}
