package backend

import (
	"fmt"

	"splithappens/internal/config"
)

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	cfg := Config{
		Store:  StoreType(appConfig.StoreBackend),
		Ledger: LedgerType(appConfig.LedgerBackend),

		SQLiteDBPath: appConfig.SQLiteDBPath,

		AMQPURL:      appConfig.AMQPURL,
		AMQPExchange: appConfig.AMQPExchange,
		AMQPQueue:    appConfig.AMQPQueue,

		GoogleSpreadsheetID:      appConfig.GoogleSpreadsheetID,
		GoogleLedgerSheet:        appConfig.GoogleLedgerSheet,
		GoogleServiceAccountFile: appConfig.GoogleServiceAccountFile,
		GoogleServiceAccountJSON: appConfig.GoogleServiceAccountJSON,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Store.IsValid() {
		return fmt.Errorf("invalid store type: %s", c.Store)
	}
	if !c.Ledger.IsValid() {
		return fmt.Errorf("invalid ledger type: %s", c.Ledger)
	}

	if c.Store == SQLiteStore && c.SQLiteDBPath == "" {
		return fmt.Errorf("SQLite database path is required for sqlite store")
	}

	if c.Ledger == SheetsLedger {
		if c.GoogleSpreadsheetID == "" {
			return fmt.Errorf("Google Spreadsheet ID is required for sheets ledger")
		}
		if c.GoogleServiceAccountFile == "" && c.GoogleServiceAccountJSON == "" {
			return fmt.Errorf("either GoogleServiceAccountFile or GoogleServiceAccountJSON must be provided for sheets ledger")
		}
	}

	if c.AMQPURL != "" && (c.AMQPExchange == "" || c.AMQPQueue == "") {
		return fmt.Errorf("AMQP exchange and queue are required when AMQP URL is set")
	}
	return nil
}

// GetStoreTypeStrings returns all valid store type strings
func GetStoreTypeStrings() []string {
	return []string{MemoryStore.String(), SQLiteStore.String()}
}

// GetLedgerTypeStrings returns all valid ledger type strings
func GetLedgerTypeStrings() []string {
	return []string{MemoryLedger.String(), SheetsLedger.String()}
}
