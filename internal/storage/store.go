// Package storage persists browser session state and the ledger export
// log.
package storage

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("record not found")

// SessionRecord is the part of a browser workspace that survives a
// restart. Identity and snapshots are fetched again from the backend.
type SessionRecord struct {
	ID        string
	Token     string
	Currency  string
	Route     string
	CreatedAt time.Time
	LastSeen  time.Time
}

// ExportRecord marks an event as written to the ledger.
type ExportRecord struct {
	EventID    string
	EventType  string
	ReceiptID  int64
	LedgerRef  string
	ExportedAt time.Time
}

type SessionStore interface {
	SaveSession(ctx context.Context, rec SessionRecord) error
	LoadSession(ctx context.Context, id string) (SessionRecord, error)
	DeleteSession(ctx context.Context, id string) error
	// PurgeSessions removes sessions not seen since cutoff.
	PurgeSessions(ctx context.Context, cutoff time.Time) (int64, error)
}

type ExportLog interface {
	MarkExported(ctx context.Context, rec ExportRecord) error
	IsExported(ctx context.Context, eventID string) (bool, error)
	ListExports(ctx context.Context, limit int) ([]ExportRecord, error)
}

type Store interface {
	SessionStore
	ExportLog
	Ping(ctx context.Context) error
	Close() error
}
