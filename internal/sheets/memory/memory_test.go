package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"splithappens/internal/core"
)

func TestLedger_AppendAndEntries(t *testing.T) {
	l := New()
	ctx := context.Background()

	for i, d := range []string{"2023-12-31", "2024-01-01", "2024-06-30"} {
		date, _ := time.Parse("2006-01-02", d)
		ref, err := l.Append(ctx, core.LedgerEntry{
			EventID:   d,
			Kind:      "receipt.saved",
			Household: "Home",
			Date:      date,
			Amount:    decimal.NewFromInt(int64(i + 1)),
		})
		if err != nil {
			t.Fatalf("append %s: %v", d, err)
		}
		if want := "mem:" + string(rune('1'+i)); ref != want {
			t.Fatalf("ref = %q, want %q", ref, want)
		}
	}

	got, err := l.Entries(ctx, 2024)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("2024 entries = %d, want 2", len(got))
	}
	if len(l.All()) != 3 {
		t.Fatalf("all entries = %d, want 3", len(l.All()))
	}
}

func TestLedger_RejectsInvalid(t *testing.T) {
	l := New()
	if _, err := l.Append(context.Background(), core.LedgerEntry{}); err == nil {
		t.Fatal("expected validation error")
	}
	if len(l.All()) != 0 {
		t.Fatal("invalid entry was stored")
	}
}
