package outbox

import (
	"context"
	"encoding/json"

	"github.com/flexprice/subledger/internal/clock"
	"github.com/flexprice/subledger/internal/config"
	"github.com/flexprice/subledger/internal/domain/event"
	"github.com/flexprice/subledger/internal/domain/notification"
	ierr "github.com/flexprice/subledger/internal/errors"
	"github.com/flexprice/subledger/internal/logger"
	"github.com/flexprice/subledger/internal/sentry"
	"github.com/flexprice/subledger/internal/types"
)

// Scheduler delivers a notification once its effective date is reached.
// Implementations must join the transaction carried by ctx when they can.
type Scheduler interface {
	ScheduleAt(ctx context.Context, n *notification.Notification) error
}

// Bus publishes subscription bus events.
// Implementations must join the transaction carried by ctx when they can.
type Bus interface {
	Publish(ctx context.Context, e *notification.BusEvent) error
}

// Outbox is the side-effect half of every lifecycle operation. It is always
// called inside the operation's transaction. Dispatch failures are logged and
// reported but never returned, so they cannot roll back the event writes.
type Outbox struct {
	scheduler Scheduler
	bus       Bus
	sentry    *sentry.Service
	logger    *logger.Logger
	clock     clock.Clock
	aggregate bool
}

func NewOutbox(
	cfg *config.Configuration,
	scheduler Scheduler,
	bus Bus,
	sentry *sentry.Service,
	logger *logger.Logger,
	clock clock.Clock,
) *Outbox {
	return &Outbox{
		scheduler: scheduler,
		bus:       bus,
		sentry:    sentry,
		logger:    logger,
		clock:     clock,
		aggregate: cfg.Outbox.AggregateSubscriptionEvents,
	}
}

// AggregateSubscriptionEvents reports whether creation batches share one bus sequence
func (o *Outbox) AggregateSubscriptionEvents() bool {
	return o.aggregate
}

// ScheduleNotification enqueues a wake-up for e at its effective date
func (o *Outbox) ScheduleNotification(ctx context.Context, e *event.Event, accountID string) {
	n := &notification.Notification{
		ID:              types.GenerateUUIDWithPrefix(types.UUID_PREFIX_NOTIFICATION),
		EventID:         e.ID,
		SubscriptionID:  e.SubscriptionID,
		AccountID:       accountID,
		UserToken:       types.GetRequestID(ctx),
		EffectiveDate:   e.EffectiveDate,
		ProcessingState: types.ProcessingStateAvailable,
		CreatedAt:       o.clock.Now(),
	}

	if err := o.scheduler.ScheduleAt(ctx, n); err != nil {
		o.swallow(err, "failed to schedule subscription notification",
			"subscription_id", e.SubscriptionID,
			"event_id", e.ID,
			"effective_date", e.EffectiveDate,
		)
	}
}

// PostEffective announces a transition that is already in force
func (o *Outbox) PostEffective(ctx context.Context, payload *notification.EffectiveSubscriptionEvent) {
	o.post(ctx, notification.EventNameEffectiveSubscription, payload.AccountID, payload.SubscriptionID, payload.EventID, payload)
}

// PostRequested announces that a change was requested
func (o *Outbox) PostRequested(ctx context.Context, payload *notification.RequestedSubscriptionEvent) {
	o.post(ctx, notification.EventNameRequestedSubscription, payload.AccountID, payload.SubscriptionID, payload.EventID, payload)
}

func (o *Outbox) post(ctx context.Context, eventName, accountID, subscriptionID, eventID string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		o.swallow(ierr.WithError(err).
			WithHint("failed to marshal bus event").
			Mark(ierr.ErrSystem),
			"failed to encode bus event",
			"event_name", eventName,
			"subscription_id", subscriptionID,
			"event_id", eventID,
		)
		return
	}

	busEvent := &notification.BusEvent{
		ID:              types.GenerateUUIDWithPrefix(types.UUID_PREFIX_BUS_EVENT),
		EventName:       eventName,
		Payload:         data,
		SearchKey:       accountID,
		UserToken:       types.GetRequestID(ctx),
		ProcessingState: types.ProcessingStateAvailable,
		CreatedAt:       o.clock.Now(),
	}

	if err := o.bus.Publish(ctx, busEvent); err != nil {
		o.swallow(err, "failed to post bus event",
			"event_name", eventName,
			"subscription_id", subscriptionID,
			"event_id", eventID,
		)
	}
}

func (o *Outbox) swallow(err error, msg string, keysAndValues ...interface{}) {
	o.logger.Warnw(msg, append(keysAndValues, "error", err)...)

	tags := map[string]string{"component": "outbox"}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		if value, ok := keysAndValues[i+1].(string); ok {
			tags[key] = value
		}
	}
	o.sentry.CaptureException(err, tags)
}
