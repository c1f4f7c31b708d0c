package services

import (
	"context"
	"time"

	"splithappens/internal/amqp"
	"splithappens/internal/core"
	"splithappens/internal/log"
	"splithappens/internal/session"
)

const publishTimeout = 5 * time.Second

func receiptEvent(t amqp.EventType, r core.Receipt) amqp.Event {
	ev := amqp.NewEvent(t)
	ev.ReceiptID = r.ID
	ev.Vendor = r.Vendor
	ev.ExpenseDate = r.ExpenseDate
	ev.Currency = r.Currency
	ev.Category = string(r.Category)
	if r.Total.Valid {
		ev.Total = r.Total.Decimal
	}
	return ev
}

// publish sends ev on behalf of the signed-in member. The mutation already
// succeeded, so a failed publish is only logged.
func (f *Frontend) publish(ctx context.Context, ws *session.Workspace, ev amqp.Event) {
	if f.publisher == nil {
		return
	}
	id := ws.Identity()
	ev.HouseholdCode = id.HouseholdCode
	ev.HouseholdName = id.HouseholdName
	ev.Actor = id.UserName

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	err := f.publisher.Publish(ctx, ev)
	f.metrics.EventPublished(string(ev.Type), err)
	if err != nil {
		f.logger.WarnContext(ctx, "Failed to publish event",
			log.FieldEventID, ev.ID,
			log.FieldEventType, string(ev.Type),
			log.FieldError, err)
		return
	}
	f.logger.DebugContext(ctx, "Event published",
		log.FieldEventID, ev.ID,
		log.FieldEventType, string(ev.Type))
}
