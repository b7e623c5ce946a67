package service

import (
	"context"
	"time"

	"github.com/flexprice/subledger/internal/domain/bundle"
	"github.com/flexprice/subledger/internal/domain/event"
	"github.com/flexprice/subledger/internal/domain/subscription"
	ierr "github.com/flexprice/subledger/internal/errors"
	"github.com/flexprice/subledger/internal/types"
)

// CreateSubscriptionsWithAddOns persists new subscriptions and their initial
// events. Already effective events are announced on the bus, the others are
// scheduled. When the outbox aggregates subscription events only the first bus
// notification of each kind is sent for the whole batch.
func (s *subscriptionService) CreateSubscriptionsWithAddOns(ctx context.Context, b *bundle.Bundle, subs []*SubscriptionWithEvents) ([]*event.Event, error) {
	if b == nil {
		return nil, ierr.NewError("bundle is required").
			WithHint("Subscriptions must be created in a bundle").
			Mark(ierr.ErrValidation)
	}
	for _, cur := range subs {
		if err := s.validateSubscriptionWithEvents(cur); err != nil {
			return nil, err
		}
	}

	now := s.Clock.Now()
	aggregate := s.Outbox.AggregateSubscriptionEvents()
	var created []*event.Event

	err := s.DB.WithTx(ctx, func(ctx context.Context) error {
		created = created[:0]
		busEffSeqID, busReqSeqID := 0, 0

		for _, cur := range subs {
			sub := cur.Subscription
			sub.ExternalKey = b.ExternalKey
			if sub.CreatedAt.IsZero() {
				sub.BaseModel = baseModelAt(ctx, now)
			}
			if err := s.SubRepo.Create(ctx, sub); err != nil {
				return err
			}

			var last *event.Event
			for _, e := range cur.Events {
				stored, err := s.EventRepo.Create(ctx, e)
				if err != nil {
					return err
				}
				created = append(created, stored)
				last = stored

				isBusEvent := !stored.EffectiveDate.After(now) && stored.IsBusEventType()
				seqID := 0
				if isBusEvent {
					seqID = busEffSeqID
					busEffSeqID++
				}
				if !isBusEvent || !aggregate || seqID == 0 {
					if err := s.recordBusOrFutureNotification(ctx, sub, stored, isBusEvent, seqID); err != nil {
						return err
					}
				}
			}

			if last != nil && (!aggregate || busReqSeqID == 0) {
				s.notifyRequested(ctx, sub, last, types.TransitionTypeCreate, busReqSeqID)
				busReqSeqID++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.Logger.Infow("created subscriptions",
		"bundle_id", b.ID,
		"subscriptions", len(subs),
		"events", len(created),
	)
	return created, nil
}

// ChangePlan deactivates every active event at or after the change date, except
// the genesis event and BCD or quantity updates, then appends changeEvents. A
// change on the very start date replaces the genesis event instead of stacking
// on it: the genesis event is deactivated and the change takes its API type.
func (s *subscriptionService) ChangePlan(ctx context.Context, sub *subscription.Subscription, changeEvents []*event.Event, addOnCancellations []*SubscriptionCancellation) error {
	if len(changeEvents) == 0 || !changeEvents[0].IsAPIType(types.APIEventTypeChange) {
		return ierr.NewError("first event of a plan change must be a CHANGE").
			WithHint("Plan change requires a change event").
			Mark(ierr.ErrValidation)
	}
	change := changeEvents[0]
	if change.SubscriptionID != sub.ID {
		return ierr.NewErrorf("change event targets subscription %s, not %s", change.SubscriptionID, sub.ID).
			WithHint("Change event must belong to the subscription being changed").
			Mark(ierr.ErrValidation)
	}
	if err := validateEvents(changeEvents); err != nil {
		return err
	}

	now := s.Clock.Now()

	return s.DB.WithTx(ctx, func(ctx context.Context) error {
		active, err := s.EventRepo.ListActive(ctx, sub.ID)
		if err != nil {
			return err
		}
		if len(active) == 0 {
			return ierr.NewErrorf("subscription %s has no active events", sub.ID).
				WithHint("Cannot change the plan of a subscription without history").
				Mark(ierr.ErrInvalidOperation)
		}
		genesis := active[0]

		inputEvents := changeEvents
		if genesis.EffectiveDate.Equal(change.EffectiveDate) {
			inputEvents = make([]*event.Event, 0, len(changeEvents))
			inputEvents = append(inputEvents, change.WithAPIType(genesis.APIType()))
			inputEvents = append(inputEvents, changeEvents[1:]...)

			if err := s.EventRepo.Deactivate(ctx, genesis.ID); err != nil {
				return err
			}
		}

		for _, e := range active {
			if e.EffectiveDate.Before(change.EffectiveDate) || e.IsGenesis() || e.Type.IsChangeEvent() {
				continue
			}
			if err := s.EventRepo.Deactivate(ctx, e.ID); err != nil {
				return err
			}
		}

		var final *event.Event
		for _, e := range inputEvents {
			stored, err := s.EventRepo.Create(ctx, e)
			if err != nil {
				return err
			}
			final = stored

			isBusEvent := !stored.EffectiveDate.After(now) && stored.IsBusEventType()
			if err := s.recordBusOrFutureNotification(ctx, sub, stored, isBusEvent, 0); err != nil {
				return err
			}
		}

		s.notifyRequested(ctx, sub, final, types.TransitionTypeChange, 0)

		return s.cancelOrExpireSubscriptions(ctx, addOnCancellations, now)
	})
}

func (s *subscriptionService) CancelSubscriptions(ctx context.Context, cancellations []*SubscriptionCancellation) error {
	if err := validateCancellations(cancellations); err != nil {
		return err
	}

	now := s.Clock.Now()
	return s.DB.WithTx(ctx, func(ctx context.Context) error {
		return s.cancelOrExpireSubscriptions(ctx, cancellations, now)
	})
}

func (s *subscriptionService) CancelOrExpireSubscriptionOnNotification(ctx context.Context, sub *subscription.Subscription, trigger *event.Event, cancellations []*SubscriptionCancellation) error {
	if err := validateCancellations(cancellations); err != nil {
		return err
	}

	now := s.Clock.Now()
	return s.DB.WithTx(ctx, func(ctx context.Context) error {
		if err := s.cancelOrExpireSubscriptions(ctx, cancellations, now); err != nil {
			return err
		}
		// announced even when nothing was cancelled
		return s.buildAndNotifyEffective(ctx, sub, trigger, len(cancellations))
	})
}

func (s *subscriptionService) NotifyOnBasePlanEvent(ctx context.Context, sub *subscription.Subscription, e *event.Event) error {
	return s.DB.WithTx(ctx, func(ctx context.Context) error {
		return s.buildAndNotifyEffective(ctx, sub, e, 0)
	})
}

// cancelOrExpireSubscriptions numbers the cancellations so that the last one
// announced carries 0 remaining events
func (s *subscriptionService) cancelOrExpireSubscriptions(ctx context.Context, cancellations []*SubscriptionCancellation, now time.Time) error {
	for i, c := range cancellations {
		if err := s.cancelOrExpireSubscription(ctx, c.Subscription, c.Event, now, len(cancellations)-i-1); err != nil {
			return err
		}
	}
	return nil
}

// cancelOrExpireSubscription deactivates every active event from the
// cancellation date on, BCD and quantity updates included, then appends e
func (s *subscriptionService) cancelOrExpireSubscription(ctx context.Context, sub *subscription.Subscription, e *event.Event, now time.Time, seqID int) error {
	superseded, err := s.EventRepo.ListFutureOrPresentActive(ctx, sub.ID, e.EffectiveDate)
	if err != nil {
		return err
	}
	for _, cur := range superseded {
		if err := s.EventRepo.Deactivate(ctx, cur.ID); err != nil {
			return err
		}
	}

	stored, err := s.EventRepo.Create(ctx, e)
	if err != nil {
		return err
	}

	isBusEvent := !stored.EffectiveDate.After(now)
	if err := s.recordBusOrFutureNotification(ctx, sub, stored, isBusEvent, seqID); err != nil {
		return err
	}

	s.notifyRequested(ctx, sub, stored, types.TransitionTypeCancel, 0)

	s.Logger.Debugw("subscription cancelled",
		"subscription_id", sub.ID,
		"event_id", stored.ID,
		"effective_date", stored.EffectiveDate,
		"deactivated_events", len(superseded),
	)
	return nil
}

// Uncancel removes a pending cancellation
func (s *subscriptionService) Uncancel(ctx context.Context, sub *subscription.Subscription, uncancelEvents []*event.Event) error {
	return s.undoOperation(ctx, sub, uncancelEvents, types.APIEventTypeCancel, types.TransitionTypeUncancel)
}

// UndoChangePlan removes a pending plan change
func (s *subscriptionService) UndoChangePlan(ctx context.Context, sub *subscription.Subscription, undoEvents []*event.Event) error {
	return s.undoOperation(ctx, sub, undoEvents, types.APIEventTypeChange, types.TransitionTypeUndoChange)
}

// undoOperation deactivates the future events of the target API type and every
// future PHASE, then appends the replacement events. Nothing is written when
// no future event matches.
func (s *subscriptionService) undoOperation(ctx context.Context, sub *subscription.Subscription, inputEvents []*event.Event, target types.APIEventType, transitionType types.TransitionType) error {
	if len(inputEvents) == 0 {
		return ierr.NewErrorf("%s requires replacement events", transitionType).
			WithHint("Undo operations must carry at least one event").
			Mark(ierr.ErrValidation)
	}
	if err := validateEvents(inputEvents); err != nil {
		return err
	}

	now := s.Clock.Now()

	return s.DB.WithTx(ctx, func(ctx context.Context) error {
		future, err := s.EventRepo.ListFutureActive(ctx, sub.ID, now)
		if err != nil {
			return err
		}

		var targets []*event.Event
		for _, e := range future {
			if e.IsAPIType(target) || e.Type == types.SubscriptionEventTypePhase {
				targets = append(targets, e)
			}
		}
		if len(targets) == 0 {
			s.Logger.Infow("nothing to undo",
				"subscription_id", sub.ID,
				"operation", transitionType,
			)
			return nil
		}

		for _, e := range targets {
			if err := s.EventRepo.Deactivate(ctx, e.ID); err != nil {
				return err
			}
		}

		var last *event.Event
		for _, e := range inputEvents {
			stored, err := s.EventRepo.Create(ctx, e)
			if err != nil {
				return err
			}
			last = stored
			s.Outbox.ScheduleNotification(ctx, stored, sub.AccountID)
		}

		s.notifyRequested(ctx, sub, last, transitionType, 0)
		return nil
	})
}

// CreateNextPhaseOrExpiredEvent replaces the pending PHASE event, if any, with
// nextEvent and announces readyPhaseEvent, the event that just took effect
func (s *subscriptionService) CreateNextPhaseOrExpiredEvent(ctx context.Context, sub *subscription.Subscription, readyPhaseEvent, nextEvent *event.Event) error {
	if nextEvent.Type != types.SubscriptionEventTypePhase && nextEvent.Type != types.SubscriptionEventTypeExpired {
		return ierr.NewErrorf("unexpected event type %s", nextEvent.Type).
			WithHint("Next event must be a PHASE or EXPIRED event").
			Mark(ierr.ErrValidation)
	}
	if err := nextEvent.Validate(); err != nil {
		return err
	}

	now := s.Clock.Now()

	return s.DB.WithTx(ctx, func(ctx context.Context) error {
		pending, err := s.findFutureEvent(ctx, sub.ID, types.SubscriptionEventTypePhase, now)
		if err != nil {
			return err
		}
		if pending != nil {
			if err := s.EventRepo.Deactivate(ctx, pending.ID); err != nil {
				return err
			}
		}

		stored, err := s.EventRepo.Create(ctx, nextEvent)
		if err != nil {
			return err
		}
		s.Outbox.ScheduleNotification(ctx, stored, sub.AccountID)

		transitionType := types.TransitionTypePhase
		if stored.Type == types.SubscriptionEventTypeExpired {
			transitionType = types.TransitionTypeExpired
		}
		s.notifyRequested(ctx, sub, stored, transitionType, 0)

		return s.buildAndNotifyEffective(ctx, sub, readyPhaseEvent, 0)
	})
}

// findFutureEvent returns the single future active event of the given type.
// More than one is a broken store invariant.
func (s *subscriptionService) findFutureEvent(ctx context.Context, subscriptionID string, eventType types.SubscriptionEventType, now time.Time) (*event.Event, error) {
	future, err := s.EventRepo.ListFutureActive(ctx, subscriptionID, now)
	if err != nil {
		return nil, err
	}

	var found *event.Event
	for _, e := range future {
		if e.Type != eventType {
			continue
		}
		if found != nil {
			return nil, ierr.NewErrorf("found multiple future events for type %s for subscription %s", eventType, subscriptionID).
				WithHint("Subscription history is inconsistent").
				WithReportableDetails(map[string]any{
					"subscription_id": subscriptionID,
					"event_type":      eventType,
					"event_ids":       []string{found.ID, e.ID},
				}).
				Mark(ierr.ErrInconsistentState)
		}
		found = e
	}
	return found, nil
}

func (s *subscriptionService) CreateChangeEvent(ctx context.Context, sub *subscription.Subscription, changeEvent *event.Event) error {
	if !changeEvent.Type.IsChangeEvent() {
		return ierr.NewErrorf("unexpected event type %s", changeEvent.Type).
			WithHint("Only BCD and quantity updates can be recorded this way").
			Mark(ierr.ErrValidation)
	}
	if err := changeEvent.Validate(); err != nil {
		return err
	}

	now := s.Clock.Now()

	return s.DB.WithTx(ctx, func(ctx context.Context) error {
		stored, err := s.EventRepo.Create(ctx, changeEvent)
		if err != nil {
			return err
		}

		s.notifyRequested(ctx, sub, stored, stored.TransitionType(), 0)

		isBusEvent := !stored.EffectiveDate.After(now)
		return s.recordBusOrFutureNotification(ctx, sub, stored, isBusEvent, 0)
	})
}

func (s *subscriptionService) UpdateChargedThroughDates(ctx context.Context, dates map[time.Time][]string) error {
	return s.DB.WithTx(ctx, func(ctx context.Context) error {
		for date, ids := range dates {
			if err := s.SubRepo.UpdateChargedThroughDate(ctx, ids, date); err != nil {
				return err
			}
		}
		return nil
	})
}

// Transfer cancels the source subscriptions, renames the source key with the
// transfer prefix and recreates the bundle under the destination account. A
// destination account already holding the key keeps its bundle and the copy
// is skipped.
func (s *subscriptionService) Transfer(ctx context.Context, req *TransferRequest) error {
	if req == nil || req.Bundle == nil {
		return ierr.NewError("destination bundle is required").
			WithHint("Transfer requires a destination bundle").
			Mark(ierr.ErrValidation)
	}
	if req.Bundle.ID == "" {
		return ierr.NewError("destination bundle id is required").
			WithHint("Transferred subscriptions must reference their new bundle").
			Mark(ierr.ErrValidation)
	}
	if err := req.Bundle.Validate(); err != nil {
		return err
	}
	if err := validateCancellations(req.SourceCancellations); err != nil {
		return err
	}
	for _, cur := range req.Subscriptions {
		if err := s.validateSubscriptionWithEvents(cur); err != nil {
			return err
		}
	}

	now := s.Clock.Now()
	dest := req.Bundle

	return s.DB.WithTx(ctx, func(ctx context.Context) error {
		for _, c := range req.SourceCancellations {
			if err := s.cancelOrExpireSubscription(ctx, c.Subscription, c.Event, now, 0); err != nil {
				return err
			}
		}

		source, err := s.BundleRepo.GetByAccountAndKey(ctx, req.SourceAccountID, dest.ExternalKey)
		if err != nil && !ierr.IsNotFound(err) {
			return err
		}
		if source != nil {
			if err := s.BundleRepo.RenameExternalKey(ctx, []string{source.ID}, types.ExternalKeyPrefixTransfered); err != nil {
				return err
			}
		}

		existing, err := s.BundleRepo.GetByAccountAndKey(ctx, dest.AccountID, dest.ExternalKey)
		if err != nil && !ierr.IsNotFound(err) {
			return err
		}
		if existing != nil {
			s.Logger.Warnw("bundle already exists for destination account, skipping transfer",
				"account_id", dest.AccountID,
				"external_key", dest.ExternalKey,
				"bundle_id", existing.ID,
			)
			return nil
		}

		if dest.CreatedAt.IsZero() {
			dest.BaseModel = baseModelAt(ctx, now)
		}
		if dest.OriginalCreatedDate.IsZero() {
			dest.OriginalCreatedDate = dest.CreatedAt
		}
		if err := s.BundleRepo.Create(ctx, dest); err != nil {
			return err
		}

		for _, cur := range req.Subscriptions {
			sub := cur.Subscription
			sub.ExternalKey = dest.ExternalKey
			if sub.CreatedAt.IsZero() {
				sub.BaseModel = baseModelAt(ctx, now)
			}
			if err := s.SubRepo.Create(ctx, sub); err != nil {
				return err
			}

			var last *event.Event
			for _, e := range cur.Events {
				stored, err := s.EventRepo.Create(ctx, e)
				if err != nil {
					return err
				}
				last = stored
				s.Outbox.ScheduleNotification(ctx, stored, sub.AccountID)
			}
			if last != nil {
				s.notifyRequested(ctx, sub, last, types.TransitionTypeTransfer, 0)
			}
		}

		s.Logger.Infow("bundle transferred",
			"source_account_id", req.SourceAccountID,
			"account_id", dest.AccountID,
			"bundle_id", dest.ID,
			"external_key", dest.ExternalKey,
		)
		return nil
	})
}

func (s *subscriptionService) validateSubscriptionWithEvents(cur *SubscriptionWithEvents) error {
	if cur == nil || cur.Subscription == nil {
		return ierr.NewError("subscription is required").
			WithHint("Please provide the subscription to create").
			Mark(ierr.ErrValidation)
	}
	if err := cur.Subscription.Validate(); err != nil {
		return err
	}
	for _, e := range cur.Events {
		if e.SubscriptionID != cur.Subscription.ID {
			return ierr.NewErrorf("event %s targets subscription %s, not %s", e.ID, e.SubscriptionID, cur.Subscription.ID).
				WithHint("Initial events must belong to their subscription").
				Mark(ierr.ErrValidation)
		}
	}
	return validateEvents(cur.Events)
}

func validateEvents(events []*event.Event) error {
	for _, e := range events {
		if err := e.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func validateCancellations(cancellations []*SubscriptionCancellation) error {
	for _, c := range cancellations {
		if c == nil || c.Subscription == nil || c.Event == nil {
			return ierr.NewError("cancellation requires a subscription and an event").
				WithHint("Please provide the subscription and its cancel event").
				Mark(ierr.ErrValidation)
		}
		if c.Event.SubscriptionID != c.Subscription.ID {
			return ierr.NewErrorf("event %s targets subscription %s, not %s", c.Event.ID, c.Event.SubscriptionID, c.Subscription.ID).
				WithHint("Cancel event must belong to the subscription being cancelled").
				Mark(ierr.ErrValidation)
		}
		if err := c.Event.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func baseModelAt(ctx context.Context, now time.Time) types.BaseModel {
	return types.BaseModel{
		CreatedAt: now,
		UpdatedAt: now,
		CreatedBy: types.GetUserID(ctx),
		UpdatedBy: types.GetUserID(ctx),
	}
}
