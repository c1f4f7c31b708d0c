package amqp

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventReceiptSaved   EventType = "receipt.saved"
	EventReceiptDeleted EventType = "receipt.deleted"
	EventManualExpense  EventType = "expense.manual_created"
	EventSettled        EventType = "household.settled"
)

func (t EventType) Valid() bool {
	switch t {
	case EventReceiptSaved, EventReceiptDeleted, EventManualExpense, EventSettled:
		return true
	}
	return false
}

// Event is published after a mutation the backend accepted. It carries
// enough to write a ledger row without calling the backend again.
type Event struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"type"`
	HouseholdCode string          `json:"household_code"`
	HouseholdName string          `json:"household_name"`
	Actor         string          `json:"actor"`
	ReceiptID     int64           `json:"receipt_id,omitempty"`
	Vendor        string          `json:"vendor,omitempty"`
	ExpenseDate   string          `json:"expense_date,omitempty"`
	Currency      string          `json:"currency,omitempty"`
	Total         decimal.Decimal `json:"total"`
	Category      string          `json:"category,omitempty"`
	Message       string          `json:"message,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}

func NewEvent(t EventType) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		Timestamp: time.Now().UTC(),
	}
}

func (e Event) Validate() error {
	if e.ID == "" {
		return errors.New("event id is required")
	}
	if !e.Type.Valid() {
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	if e.HouseholdCode == "" {
		return errors.New("household code is required")
	}
	return nil
}

// ToJSON converts the event to JSON bytes
func (e Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// EventFromJSON decodes and validates an event.
func EventFromJSON(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, err
	}
	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	return e, nil
}
