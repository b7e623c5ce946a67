package service

import (
	"context"

	"github.com/flexprice/subledger/internal/domain/event"
	"github.com/flexprice/subledger/internal/domain/notification"
	"github.com/flexprice/subledger/internal/domain/subscription"
	ierr "github.com/flexprice/subledger/internal/errors"
	"github.com/flexprice/subledger/internal/types"
)

// recordBusOrFutureNotification announces an already effective event on the
// bus, or schedules a wake-up for its effective date
func (s *subscriptionService) recordBusOrFutureNotification(ctx context.Context, sub *subscription.Subscription, e *event.Event, isBusEvent bool, seqID int) error {
	if !isBusEvent {
		s.Outbox.ScheduleNotification(ctx, e, sub.AccountID)
		return nil
	}
	return s.rebuildAndNotifyEffective(ctx, sub, e, seqID)
}

// rebuildAndNotifyEffective replays the active events written so far in the
// transaction, since the operation may have deactivated some of them, and
// announces the transition produced by e
func (s *subscriptionService) rebuildAndNotifyEffective(ctx context.Context, sub *subscription.Subscription, e *event.Event, seqID int) error {
	events, err := s.EventRepo.ListActive(ctx, sub.ID)
	if err != nil {
		return err
	}

	state, err := subscription.Rebuild(sub, event.WithoutMarkers(events), s.Catalog, s.Clock)
	if err != nil {
		if ierr.IsCatalog(err) {
			s.Logger.Warnw("failed to post effective event",
				"subscription_id", sub.ID,
				"event_id", e.ID,
				"error", err,
			)
			return nil
		}
		return err
	}

	s.notifyEffective(ctx, state, e, seqID)
	return nil
}

// buildAndNotifyEffective is rebuildAndNotifyEffective for callers holding a
// shell whose cascade must be applied, ex a base event cancelling add-ons
func (s *subscriptionService) buildAndNotifyEffective(ctx context.Context, sub *subscription.Subscription, e *event.Event, seqID int) error {
	state, err := s.buildSubscription(ctx, sub)
	if err != nil {
		if ierr.IsCatalog(err) {
			s.Logger.Warnw("failed to post effective event",
				"subscription_id", sub.ID,
				"event_id", e.ID,
				"error", err,
			)
			return nil
		}
		return err
	}

	s.notifyEffective(ctx, state, e, seqID)
	return nil
}

func (s *subscriptionService) notifyEffective(ctx context.Context, state *subscription.State, e *event.Event, seqID int) {
	if state == nil {
		return
	}

	t := state.TransitionForEvent(e.ID)
	if t == nil {
		s.Logger.Debugw("event produced no transition, nothing to announce",
			"subscription_id", state.ID,
			"event_id", e.ID,
		)
		return
	}

	payload := &notification.EffectiveSubscriptionEvent{
		EventID:                         t.EventID,
		SubscriptionID:                  state.ID,
		BundleID:                        state.BundleID,
		BundleExternalKey:               state.ExternalKey,
		AccountID:                       state.AccountID,
		TransitionType:                  t.Type,
		EffectiveDate:                   t.EffectiveDate,
		TotalOrdering:                   t.TotalOrdering,
		AlignStartDate:                  state.AlignStartDate,
		PreviousState:                   t.PreviousState,
		NextState:                       t.NextState,
		PreviousPriceList:               t.PreviousPriceList,
		NextPriceList:                   t.NextPriceList,
		BillCycleDayLocal:               t.BillCycleDayLocal,
		Quantity:                        t.Quantity,
		RemainingEventsForUserOperation: seqID,
	}
	if t.PreviousPlan != nil {
		payload.PreviousPlan = t.PreviousPlan.Name
	}
	if t.NextPlan != nil {
		payload.NextPlan = t.NextPlan.Name
	}
	if t.PreviousPhase != nil {
		payload.PreviousPhase = t.PreviousPhase.Name
	}
	if t.NextPhase != nil {
		payload.NextPhase = t.NextPhase.Name
	}

	s.Outbox.PostEffective(ctx, payload)
}

func (s *subscriptionService) notifyRequested(ctx context.Context, sub *subscription.Subscription, e *event.Event, transitionType types.TransitionType, seqID int) {
	s.Outbox.PostRequested(ctx, &notification.RequestedSubscriptionEvent{
		EventID:                         e.ID,
		SubscriptionID:                  sub.ID,
		BundleID:                        sub.BundleID,
		BundleExternalKey:               sub.ExternalKey,
		AccountID:                       sub.AccountID,
		TransitionType:                  transitionType,
		EffectiveDate:                   e.EffectiveDate,
		RemainingEventsForUserOperation: seqID,
	})
}
