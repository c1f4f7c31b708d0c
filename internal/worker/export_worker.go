// Package worker turns domain events into ledger rows.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"splithappens/internal/amqp"
	"splithappens/internal/core"
	"splithappens/internal/log"
	"splithappens/internal/metrics"
	"splithappens/internal/sheets"
	"splithappens/internal/storage"
)

const (
	OutcomeExported  = "exported"
	OutcomeDuplicate = "duplicate"
	OutcomeFailed    = "failed"
)

// ExportWorker writes each event once to the ledger. The export log makes
// redelivered events a no-op.
type ExportWorker struct {
	exports storage.ExportLog
	ledger  sheets.LedgerWriter
	logger  *log.Logger
	metrics *metrics.Metrics
}

func NewExportWorker(exports storage.ExportLog, ledger sheets.LedgerWriter, logger *log.Logger, m *metrics.Metrics) *ExportWorker {
	if logger == nil {
		logger = log.Wrap(nil, log.ComponentWorker)
	}
	return &ExportWorker{exports: exports, ledger: ledger, logger: logger, metrics: m}
}

// HandleEvent exports one event. A returned error makes the consumer
// requeue the message.
func (w *ExportWorker) HandleEvent(ctx context.Context, ev amqp.Event) error {
	logger := w.logger.With(log.FieldEventID, ev.ID, log.FieldEventType, string(ev.Type))

	done, err := w.exports.IsExported(ctx, ev.ID)
	if err != nil {
		w.metrics.Export(OutcomeFailed)
		return fmt.Errorf("check export log: %w", err)
	}
	if done {
		logger.DebugContext(ctx, "Event already exported, skipping")
		w.metrics.Export(OutcomeDuplicate)
		return nil
	}

	entry, err := EntryFromEvent(ev)
	if err != nil {
		w.metrics.Export(OutcomeFailed)
		return err
	}

	ref, err := w.ledger.Append(ctx, entry)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to append ledger row", log.FieldError, err)
		w.metrics.Export(OutcomeFailed)
		return fmt.Errorf("append to ledger: %w", err)
	}

	rec := storage.ExportRecord{
		EventID:   ev.ID,
		EventType: string(ev.Type),
		ReceiptID: ev.ReceiptID,
		LedgerRef: ref,
	}
	if err := w.exports.MarkExported(ctx, rec); err != nil {
		// The row is written; a redelivery would duplicate it, so only log.
		logger.ErrorContext(ctx, "Failed to record export", log.FieldLedgerRef, ref, log.FieldError, err)
	}

	w.metrics.Export(OutcomeExported)
	logger.InfoContext(ctx, "Event exported to ledger",
		log.FieldLedgerRef, ref,
		log.FieldReceiptID, ev.ReceiptID,
		log.FieldHousehold, ev.HouseholdCode)
	return nil
}

// EntryFromEvent maps an event to its ledger row. A deletion is written as
// a reversing row with the negated total.
func EntryFromEvent(ev amqp.Event) (core.LedgerEntry, error) {
	if err := ev.Validate(); err != nil {
		return core.LedgerEntry{}, err
	}

	date := ev.Timestamp.UTC()
	if d, err := time.Parse("2006-01-02", strings.TrimSpace(ev.ExpenseDate)); err == nil {
		date = d
	}
	if date.IsZero() {
		return core.LedgerEntry{}, errors.New("event has no date")
	}

	household := ev.HouseholdName
	if household == "" {
		household = ev.HouseholdCode
	}
	category, err := core.ParseCategory(ev.Category)
	if err != nil {
		category = core.CategoryOther
	}

	e := core.LedgerEntry{
		EventID:   ev.ID,
		Kind:      string(ev.Type),
		Date:      date,
		Household: household,
		Actor:     ev.Actor,
		ReceiptID: ev.ReceiptID,
		Vendor:    ev.Vendor,
		Category:  category,
		Currency:  ev.Currency,
		Amount:    ev.Total,
		Note:      ev.Message,
	}
	if ev.Type == amqp.EventReceiptDeleted {
		e.Amount = ev.Total.Neg()
	}
	return e, nil
}
