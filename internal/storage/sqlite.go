package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	version, err := RunMigrations(dbPath)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	slog.Debug("SQLite schema ready", "path", dbPath, "version", version)

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) SaveSession(ctx context.Context, rec SessionRecord) error {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.LastSeen.IsZero() {
		rec.LastSeen = now
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO browser_sessions (id, token, currency, route, created_at, last_seen)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    token = excluded.token,
    currency = excluded.currency,
    route = excluded.route,
    last_seen = excluded.last_seen`,
		rec.ID, rec.Token, rec.Currency, rec.Route, rec.CreatedAt, rec.LastSeen)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoadSession(ctx context.Context, id string) (SessionRecord, error) {
	var rec SessionRecord
	err := s.db.QueryRowContext(ctx, `
SELECT id, token, currency, route, created_at, last_seen
FROM browser_sessions WHERE id = ?`, id).
		Scan(&rec.ID, &rec.Token, &rec.Currency, &rec.Route, &rec.CreatedAt, &rec.LastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRecord{}, ErrNotFound
	}
	if err != nil {
		return SessionRecord{}, fmt.Errorf("load session: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM browser_sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) PurgeSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM browser_sessions WHERE last_seen < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		slog.InfoContext(ctx, "Purged idle browser sessions", "count", n)
	}
	return n, nil
}

func (s *SQLiteStore) MarkExported(ctx context.Context, rec ExportRecord) error {
	if rec.ExportedAt.IsZero() {
		rec.ExportedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO ledger_exports (event_id, event_type, receipt_id, ledger_ref, exported_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(event_id) DO NOTHING`,
		rec.EventID, rec.EventType, rec.ReceiptID, rec.LedgerRef, rec.ExportedAt)
	if err != nil {
		return fmt.Errorf("mark exported: %w", err)
	}
	return nil
}

func (s *SQLiteStore) IsExported(ctx context.Context, eventID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM ledger_exports WHERE event_id = ?`, eventID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check export: %w", err)
	}
	return n > 0, nil
}

// ListExports returns the most recent exports first.
func (s *SQLiteStore) ListExports(ctx context.Context, limit int) ([]ExportRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT event_id, event_type, COALESCE(receipt_id, 0), ledger_ref, exported_at
FROM ledger_exports ORDER BY exported_at DESC, event_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list exports: %w", err)
	}
	defer rows.Close()

	var out []ExportRecord
	for rows.Next() {
		var rec ExportRecord
		if err := rows.Scan(&rec.EventID, &rec.EventType, &rec.ReceiptID, &rec.LedgerRef, &rec.ExportedAt); err != nil {
			return nil, fmt.Errorf("scan export: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
