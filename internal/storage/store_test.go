package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "nested", "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func TestStore_SessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Ping(ctx))

			_, err := s.LoadSession(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.SaveSession(ctx, SessionRecord{ID: "ws-1", Token: "tok", Currency: "EUR", Route: "analyses"}))
			rec, err := s.LoadSession(ctx, "ws-1")
			require.NoError(t, err)
			assert.Equal(t, "tok", rec.Token)
			assert.Equal(t, "EUR", rec.Currency)
			assert.Equal(t, "analyses", rec.Route)
			assert.False(t, rec.CreatedAt.IsZero())

			require.NoError(t, s.SaveSession(ctx, SessionRecord{ID: "ws-1", Token: "", Currency: "USD", Route: "dashboard"}))
			rec, err = s.LoadSession(ctx, "ws-1")
			require.NoError(t, err)
			assert.Empty(t, rec.Token)
			assert.Equal(t, "USD", rec.Currency)

			require.NoError(t, s.DeleteSession(ctx, "ws-1"))
			_, err = s.LoadSession(ctx, "ws-1")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_PurgeSessions(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.SaveSession(ctx, SessionRecord{ID: "old", LastSeen: now.Add(-2 * time.Hour)}))
			require.NoError(t, s.SaveSession(ctx, SessionRecord{ID: "new", LastSeen: now}))

			n, err := s.PurgeSessions(ctx, now.Add(-time.Hour))
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)

			_, err = s.LoadSession(ctx, "old")
			assert.ErrorIs(t, err, ErrNotFound)
			_, err = s.LoadSession(ctx, "new")
			assert.NoError(t, err)
		})
	}
}

func TestStore_ExportLog(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ok, err := s.IsExported(ctx, "evt-1")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.MarkExported(ctx, ExportRecord{EventID: "evt-1", EventType: "receipt.saved", ReceiptID: 7, LedgerRef: "Ledger!A2", ExportedAt: base}))
			require.NoError(t, s.MarkExported(ctx, ExportRecord{EventID: "evt-2", EventType: "household.settled", ExportedAt: base.Add(time.Minute)}))
			// A second mark is ignored.
			require.NoError(t, s.MarkExported(ctx, ExportRecord{EventID: "evt-1", EventType: "receipt.saved", LedgerRef: "other"}))

			ok, err = s.IsExported(ctx, "evt-1")
			require.NoError(t, err)
			assert.True(t, ok)

			recs, err := s.ListExports(ctx, 10)
			require.NoError(t, err)
			require.Len(t, recs, 2)
			assert.Equal(t, "evt-2", recs[0].EventID)
			assert.Equal(t, "Ledger!A2", recs[1].LedgerRef)
			assert.Equal(t, int64(7), recs[1].ReceiptID)

			recs, err = s.ListExports(ctx, 1)
			require.NoError(t, err)
			assert.Len(t, recs, 1)
		})
	}
}

func TestRunMigrations_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schema.db")

	first, err := RunMigrations(path)
	require.NoError(t, err)
	assert.Equal(t, uint(2), first)

	again, err := RunMigrations(path)
	require.NoError(t, err)
	assert.Equal(t, first, again)
}
