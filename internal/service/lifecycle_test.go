package service

import (
	"errors"
	"time"

	"github.com/flexprice/subledger/internal/domain/bundle"
	"github.com/flexprice/subledger/internal/domain/event"
	"github.com/flexprice/subledger/internal/domain/notification"
	"github.com/flexprice/subledger/internal/domain/subscription"
	ierr "github.com/flexprice/subledger/internal/errors"
	"github.com/flexprice/subledger/internal/testutil"
	"github.com/flexprice/subledger/internal/types"
	"github.com/samber/lo"
)

func (s *SubscriptionServiceSuite) TestChangePlanDeactivatesFutureEvents() {
	ctx := s.GetContext()
	b := s.createBundle("acc-1", "gold")

	sub := s.createSubscription(b, types.ProductCategoryBase, "pistol-monthly", testutil.Date(2024, 1, 1),
		func(sub *subscription.Subscription) *event.Event {
			return event.NewPhaseEvent(sub.ID, "pistol-monthly-evergreen", testutil.Date(2024, 1, 31), s.GetClock().Now())
		},
		func(sub *subscription.Subscription) *event.Event {
			return event.NewBCDEvent(sub.ID, 15, testutil.Date(2024, 2, 1), s.GetClock().Now())
		},
	)

	err := s.service.ChangePlan(ctx, sub, []*event.Event{
		s.changeEvent(sub, "shotgun-monthly", testutil.Date(2024, 1, 15)),
	}, nil)
	s.Require().NoError(err)

	active, err := s.service.GetEventsForSubscription(ctx, sub.ID, false)
	s.Require().NoError(err)
	s.Require().Len(active, 3)
	s.True(active[0].IsAPIType(types.APIEventTypeCreate))
	s.True(active[1].IsAPIType(types.APIEventTypeChange))
	s.Equal(types.SubscriptionEventTypeBCDUpdate, active[2].Type)

	all, err := s.service.GetEventsForSubscription(ctx, sub.ID, true)
	s.Require().NoError(err)
	s.Require().Len(all, 4)
	phase, ok := lo.Find(all, func(e *event.Event) bool {
		return e.Type == types.SubscriptionEventTypePhase
	})
	s.Require().True(ok)
	s.False(phase.IsActive)

	requested := s.requested()
	s.Equal(types.TransitionTypeChange, requested[len(requested)-1].TransitionType)
}

func (s *SubscriptionServiceSuite) TestChangePlanOnCreateDate() {
	ctx := s.GetContext()
	b := s.createBundle("acc-1", "gold")
	start := testutil.Date(2024, 2, 1)

	sub := s.createSubscription(b, types.ProductCategoryBase, "pistol-monthly", start)
	change := s.changeEvent(sub, "shotgun-monthly", start)

	err := s.service.ChangePlan(ctx, sub, []*event.Event{change}, nil)
	s.Require().NoError(err)

	active, err := s.GetStores().EventRepo.ListActive(ctx, sub.ID)
	s.Require().NoError(err)
	s.Require().Len(active, 1)
	s.Equal(change.ID, active[0].ID)
	s.True(active[0].IsAPIType(types.APIEventTypeCreate))
	s.Equal("shotgun-monthly", active[0].User.PlanName)

	all, err := s.GetStores().EventRepo.ListAll(ctx, sub.ID)
	s.Require().NoError(err)
	s.Len(all, 2)

	// the caller's event is left untouched
	s.True(change.IsAPIType(types.APIEventTypeChange))

	s.GetClock().Set(testutil.Date(2024, 2, 2))
	state, err := s.service.GetSubscription(ctx, sub.ID, false)
	s.Require().NoError(err)
	s.Len(state.Transitions(), 1)
	s.Equal("shotgun-monthly", state.CurrentPlan().Name)
}

func (s *SubscriptionServiceSuite) TestChangePlanCancelsAddOns() {
	ctx := s.GetContext()
	b := s.createBundle("acc-1", "gold")
	start := testutil.Date(2024, 1, 1)

	base := s.createSubscription(b, types.ProductCategoryBase, "pistol-monthly", start)
	addOn := s.createSubscription(b, types.ProductCategoryAddOn, "bullets-monthly", start)

	at := testutil.Date(2024, 2, 1)
	err := s.service.ChangePlan(ctx, base, []*event.Event{
		s.changeEvent(base, "rifle-monthly", at),
	}, []*SubscriptionCancellation{
		{Subscription: addOn, Event: event.NewCancelEvent(addOn.ID, at, s.GetClock().Now())},
	})
	s.Require().NoError(err)

	stored, err := s.GetStores().EventRepo.ListActive(ctx, addOn.ID)
	s.Require().NoError(err)
	s.Require().Len(stored, 2)
	s.True(stored[1].IsAPIType(types.APIEventTypeCancel))

	s.GetClock().Set(testutil.Date(2024, 2, 2))
	state, err := s.service.GetSubscription(ctx, addOn.ID, false)
	s.Require().NoError(err)
	s.Equal(types.EntitlementStateCancelled, state.CurrentState())
	s.True(state.Transitions()[1].FromDisk)
}

func (s *SubscriptionServiceSuite) TestChangePlanValidation() {
	ctx := s.GetContext()
	b := s.createBundle("acc-1", "gold")
	sub := s.createSubscription(b, types.ProductCategoryBase, "pistol-monthly", testutil.Date(2024, 1, 1))
	other := s.createSubscription(b, types.ProductCategoryAddOn, "telescope-monthly", testutil.Date(2024, 1, 1))

	testCases := []struct {
		name   string
		events []*event.Event
	}{
		{
			name: "no_events",
		},
		{
			name:   "first_event_not_a_change",
			events: []*event.Event{event.NewCancelEvent(sub.ID, testutil.Date(2024, 2, 1), s.GetClock().Now())},
		},
		{
			name:   "change_of_another_subscription",
			events: []*event.Event{s.changeEvent(other, "shotgun-monthly", testutil.Date(2024, 2, 1))},
		},
	}

	for _, tc := range testCases {
		s.Run(tc.name, func() {
			err := s.service.ChangePlan(ctx, sub, tc.events, nil)
			s.Error(err)
			s.True(ierr.IsValidation(err))
		})
	}
}

func (s *SubscriptionServiceSuite) TestCancelDeactivatesLaterEvents() {
	ctx := s.GetContext()
	b := s.createBundle("acc-1", "gold")

	sub := s.createSubscription(b, types.ProductCategoryBase, "pistol-monthly", testutil.Date(2024, 1, 1),
		func(sub *subscription.Subscription) *event.Event {
			return event.NewPhaseEvent(sub.ID, "pistol-monthly-evergreen", testutil.Date(2024, 3, 1), s.GetClock().Now())
		},
		func(sub *subscription.Subscription) *event.Event {
			return event.NewQuantityEvent(sub.ID, 3, testutil.Date(2024, 4, 1), s.GetClock().Now())
		},
	)

	s.cancel(sub, testutil.Date(2024, 2, 1))

	active, err := s.service.GetEventsForSubscription(ctx, sub.ID, false)
	s.Require().NoError(err)
	s.Require().Len(active, 2)
	s.True(active[0].IsAPIType(types.APIEventTypeCreate))
	s.True(active[1].IsAPIType(types.APIEventTypeCancel))

	s.GetClock().Set(testutil.Date(2024, 5, 1))
	state, err := s.service.GetSubscription(ctx, sub.ID, false)
	s.Require().NoError(err)
	s.Equal(types.EntitlementStateCancelled, state.CurrentState())
	s.Require().NotNil(state.EndDate())
	s.Equal(testutil.Date(2024, 2, 1), *state.EndDate())
}

func (s *SubscriptionServiceSuite) TestCancelSubscriptionsSequence() {
	ctx := s.GetContext()
	b := s.createBundle("acc-1", "gold")
	start := testutil.Date(2024, 1, 1)

	first := s.createSubscription(b, types.ProductCategoryStandalone, "knife-annual", start)
	second := s.createSubscription(b, types.ProductCategoryStandalone, "knife-annual", start)
	before := len(s.effective())

	err := s.service.CancelSubscriptions(ctx, []*SubscriptionCancellation{
		{Subscription: first, Event: event.NewCancelEvent(first.ID, start, s.GetClock().Now())},
		{Subscription: second, Event: event.NewCancelEvent(second.ID, start, s.GetClock().Now())},
	})
	s.Require().NoError(err)

	effective := s.effective()[before:]
	s.Require().Len(effective, 2)
	s.Equal(first.ID, effective[0].SubscriptionID)
	s.Equal(1, effective[0].RemainingEventsForUserOperation)
	s.Equal(types.EntitlementStateCancelled, effective[0].NextState)
	s.Equal(second.ID, effective[1].SubscriptionID)
	s.Equal(0, effective[1].RemainingEventsForUserOperation)
}

func (s *SubscriptionServiceSuite) TestCancelOrExpireOnNotification() {
	ctx := s.GetContext()
	b := s.createBundle("acc-1", "gold")
	start := testutil.Date(2024, 1, 1)

	base := s.createSubscription(b, types.ProductCategoryBase, "pistol-monthly", start)
	addOn := s.createSubscription(b, types.ProductCategoryAddOn, "telescope-monthly", start)

	at := testutil.Date(2024, 2, 1)
	s.cancel(base, at)
	baseEvents, err := s.GetStores().EventRepo.ListActive(ctx, base.ID)
	s.Require().NoError(err)
	trigger := baseEvents[len(baseEvents)-1]

	// the cancellation notification is delivered on its date
	s.GetClock().Set(at)
	before := len(s.effective())

	err = s.service.CancelOrExpireSubscriptionOnNotification(ctx, base, trigger, []*SubscriptionCancellation{
		{Subscription: addOn, Event: event.NewCancelEvent(addOn.ID, at, s.GetClock().Now())},
	})
	s.Require().NoError(err)

	effective := s.effective()[before:]
	s.Require().Len(effective, 2)
	s.Equal(addOn.ID, effective[0].SubscriptionID)
	s.Equal(0, effective[0].RemainingEventsForUserOperation)
	s.Equal(base.ID, effective[1].SubscriptionID)
	s.Equal(trigger.ID, effective[1].EventID)
	s.Equal(1, effective[1].RemainingEventsForUserOperation)
	s.Equal(types.TransitionTypeCancel, effective[1].TransitionType)
}

func (s *SubscriptionServiceSuite) TestNotifyOnBasePlanEvent() {
	ctx := s.GetContext()
	b := s.createBundle("acc-1", "gold")

	sub := s.createSubscription(b, types.ProductCategoryBase, "pistol-monthly", testutil.Date(2024, 2, 1))
	events, err := s.GetStores().EventRepo.ListActive(ctx, sub.ID)
	s.Require().NoError(err)
	s.Empty(s.effective())

	s.GetClock().Set(testutil.Date(2024, 2, 1))
	s.Require().NoError(s.service.NotifyOnBasePlanEvent(ctx, sub, events[0]))

	effective := s.effective()
	s.Require().Len(effective, 1)
	s.Equal(events[0].ID, effective[0].EventID)
	s.Equal("pistol-monthly", effective[0].NextPlan)
	s.Equal("pistol-monthly-trial", effective[0].NextPhase)
	s.Equal(types.EntitlementStateActive, effective[0].NextState)
}

func (s *SubscriptionServiceSuite) TestUncancel() {
	ctx := s.GetContext()
	b := s.createBundle("acc-1", "gold")

	sub := s.createSubscription(b, types.ProductCategoryBase, "pistol-monthly", testutil.Date(2024, 1, 1))
	s.cancel(sub, testutil.Date(2024, 3, 1))

	uncancel := event.NewAPIEvent(sub.ID, types.APIEventTypeUncancel, event.PlanRef{}, s.GetClock().Now(), s.GetClock().Now())
	s.Require().NoError(s.service.Uncancel(ctx, sub, []*event.Event{uncancel}))

	active, err := s.service.GetEventsForSubscription(ctx, sub.ID, false)
	s.Require().NoError(err)
	s.Require().Len(active, 1)
	s.True(active[0].IsAPIType(types.APIEventTypeCreate))

	// the marker is stored but never read back
	stored, err := s.GetStores().EventRepo.ListActive(ctx, sub.ID)
	s.Require().NoError(err)
	s.Len(stored, 2)

	all, err := s.service.GetEventsForSubscription(ctx, sub.ID, true)
	s.Require().NoError(err)
	s.Require().Len(all, 2)
	s.False(all[1].IsActive)

	s.GetClock().Set(testutil.Date(2024, 3, 2))
	state, err := s.service.GetSubscription(ctx, sub.ID, false)
	s.Require().NoError(err)
	s.Equal(types.EntitlementStateActive, state.CurrentState())
	s.Nil(state.EndDate())

	requested := s.requested()
	s.Equal(types.TransitionTypeUncancel, requested[len(requested)-1].TransitionType)
}

func (s *SubscriptionServiceSuite) TestUncancelWithoutPendingCancel() {
	ctx := s.GetContext()
	b := s.createBundle("acc-1", "gold")

	sub := s.createSubscription(b, types.ProductCategoryBase, "pistol-monthly", testutil.Date(2024, 1, 1))
	published := len(s.GetStores().BusEventRepo.All())

	uncancel := event.NewAPIEvent(sub.ID, types.APIEventTypeUncancel, event.PlanRef{}, s.GetClock().Now(), s.GetClock().Now())
	s.Require().NoError(s.service.Uncancel(ctx, sub, []*event.Event{uncancel}))

	stored, err := s.GetStores().EventRepo.ListAll(ctx, sub.ID)
	s.Require().NoError(err)
	s.Len(stored, 1)
	s.Len(s.GetStores().BusEventRepo.All(), published)
}

func (s *SubscriptionServiceSuite) TestUndoChangePlan() {
	ctx := s.GetContext()
	b := s.createBundle("acc-1", "gold")

	sub := s.createSubscription(b, types.ProductCategoryBase, "pistol-monthly", testutil.Date(2024, 1, 1),
		func(sub *subscription.Subscription) *event.Event {
			return event.NewPhaseEvent(sub.ID, "pistol-monthly-evergreen", testutil.Date(2024, 1, 31), s.GetClock().Now())
		},
	)
	s.Require().NoError(s.service.ChangePlan(ctx, sub, []*event.Event{
		s.changeEvent(sub, "shotgun-monthly", testutil.Date(2024, 3, 1)),
	}, nil))

	// the phase predates the change and is still active
	undo := []*event.Event{
		event.NewAPIEvent(sub.ID, types.APIEventTypeUndoChange, event.PlanRef{}, s.GetClock().Now(), s.GetClock().Now()),
		event.NewPhaseEvent(sub.ID, "pistol-monthly-evergreen", testutil.Date(2024, 2, 1), s.GetClock().Now()),
	}
	s.Require().NoError(s.service.UndoChangePlan(ctx, sub, undo))

	active, err := s.service.GetEventsForSubscription(ctx, sub.ID, false)
	s.Require().NoError(err)
	s.Require().Len(active, 2)
	s.True(active[0].IsAPIType(types.APIEventTypeCreate))
	s.Equal(types.SubscriptionEventTypePhase, active[1].Type)
	s.Equal(testutil.Date(2024, 2, 1), active[1].EffectiveDate)

	s.GetClock().Set(testutil.Date(2024, 3, 2))
	state, err := s.service.GetSubscription(ctx, sub.ID, false)
	s.Require().NoError(err)
	s.Equal("pistol-monthly", state.CurrentPlan().Name)
	s.Equal("pistol-monthly-evergreen", state.CurrentPhase().Name)
}

func (s *SubscriptionServiceSuite) TestCreateNextPhaseEvent() {
	ctx := s.GetContext()
	b := s.createBundle("acc-1", "gold")

	sub := s.createSubscription(b, types.ProductCategoryBase, "pistol-monthly", testutil.Date(2024, 1, 1),
		func(sub *subscription.Subscription) *event.Event {
			return event.NewPhaseEvent(sub.ID, "pistol-monthly-evergreen", testutil.Date(2024, 1, 31), s.GetClock().Now())
		},
	)
	events, err := s.GetStores().EventRepo.ListActive(ctx, sub.ID)
	s.Require().NoError(err)
	ready := events[0]

	s.GetClock().Set(testutil.Date(2024, 1, 15))
	next := event.NewPhaseEvent(sub.ID, "pistol-monthly-evergreen", testutil.Date(2024, 2, 15), s.GetClock().Now())
	before := len(s.effective())

	s.Require().NoError(s.service.CreateNextPhaseOrExpiredEvent(ctx, sub, ready, next))

	pending, err := s.service.GetPendingEventsForSubscription(ctx, sub.ID)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Equal(next.ID, pending[0].ID)

	effective := s.effective()[before:]
	s.Require().Len(effective, 1)
	s.Equal(ready.ID, effective[0].EventID)

	requested := s.requested()
	s.Equal(types.TransitionTypePhase, requested[len(requested)-1].TransitionType)

	s.GetClock().Set(testutil.Date(2024, 2, 1))
	state, err := s.service.GetSubscription(ctx, sub.ID, false)
	s.Require().NoError(err)
	s.Equal("pistol-monthly-trial", state.CurrentPhase().Name)

	s.GetClock().Set(testutil.Date(2024, 2, 16))
	state, err = s.service.GetSubscription(ctx, sub.ID, false)
	s.Require().NoError(err)
	s.Equal("pistol-monthly-evergreen", state.CurrentPhase().Name)
}

func (s *SubscriptionServiceSuite) TestCreateExpiredEvent() {
	ctx := s.GetContext()
	b := s.createBundle("acc-1", "gold")

	sub := s.createSubscription(b, types.ProductCategoryStandalone, "knife-annual", testutil.Date(2024, 1, 1))
	events, err := s.GetStores().EventRepo.ListActive(ctx, sub.ID)
	s.Require().NoError(err)

	expired := event.NewExpiredEvent(sub.ID, testutil.Date(2025, 1, 1), s.GetClock().Now())
	s.Require().NoError(s.service.CreateNextPhaseOrExpiredEvent(ctx, sub, events[0], expired))

	requested := s.requested()
	s.Equal(types.TransitionTypeExpired, requested[len(requested)-1].TransitionType)

	s.GetClock().Set(testutil.Date(2025, 1, 2))
	state, err := s.service.GetSubscription(ctx, sub.ID, false)
	s.Require().NoError(err)
	s.Equal(types.EntitlementStateExpired, state.CurrentState())
	s.Nil(state.CurrentPlan())
}

func (s *SubscriptionServiceSuite) TestCreateNextPhaseWithMultipleFuturePhases() {
	ctx := s.GetContext()
	b := s.createBundle("acc-1", "gold")

	sub := s.createSubscription(b, types.ProductCategoryBase, "pistol-monthly", testutil.Date(2024, 1, 1))
	for _, at := range []time.Time{testutil.Date(2024, 2, 1), testutil.Date(2024, 3, 1)} {
		_, err := s.GetStores().EventRepo.Insert(ctx, event.NewPhaseEvent(sub.ID, "pistol-monthly-evergreen", at, s.GetClock().Now()))
		s.Require().NoError(err)
	}
	events, err := s.GetStores().EventRepo.ListActive(ctx, sub.ID)
	s.Require().NoError(err)

	next := event.NewPhaseEvent(sub.ID, "pistol-monthly-evergreen", testutil.Date(2024, 4, 1), s.GetClock().Now())
	err = s.service.CreateNextPhaseOrExpiredEvent(ctx, sub, events[0], next)
	s.Error(err)
	s.True(ierr.IsInconsistentState(err))

	_, err = s.GetStores().EventRepo.Get(ctx, next.ID)
	s.True(ierr.IsNotFound(err))
}

func (s *SubscriptionServiceSuite) TestCreateChangeEvent() {
	ctx := s.GetContext()
	b := s.createBundle("acc-1", "gold")
	sub := s.createSubscription(b, types.ProductCategoryBase, "pistol-monthly", testutil.Date(2024, 1, 1))

	s.Run("bcd_update_effective_now", func() {
		before := len(s.effective())
		bcd := event.NewBCDEvent(sub.ID, 15, s.GetClock().Now(), s.GetClock().Now())
		s.Require().NoError(s.service.CreateChangeEvent(ctx, sub, bcd))

		requested := s.requested()
		s.Equal(types.TransitionTypeBCDChange, requested[len(requested)-1].TransitionType)

		effective := s.effective()[before:]
		s.Require().Len(effective, 1)
		s.Equal(15, effective[0].BillCycleDayLocal)
	})

	s.Run("quantity_update_in_the_future", func() {
		scheduled := len(s.GetStores().NotificationRepo.All())
		qty := event.NewQuantityEvent(sub.ID, 4, testutil.Date(2024, 3, 1), s.GetClock().Now())
		s.Require().NoError(s.service.CreateChangeEvent(ctx, sub, qty))

		requested := s.requested()
		s.Equal(types.TransitionTypeQuantityChange, requested[len(requested)-1].TransitionType)
		s.Len(s.GetStores().NotificationRepo.All(), scheduled+1)
	})

	s.Run("rejects_api_events", func() {
		err := s.service.CreateChangeEvent(ctx, sub, event.NewCancelEvent(sub.ID, s.GetClock().Now(), s.GetClock().Now()))
		s.Error(err)
		s.True(ierr.IsValidation(err))
	})

	s.GetClock().Set(testutil.Date(2024, 3, 2))
	state, err := s.service.GetSubscription(ctx, sub.ID, false)
	s.Require().NoError(err)
	s.Equal(15, state.BillCycleDayLocal())
	s.Equal(4, state.Quantity())
}

func (s *SubscriptionServiceSuite) TestSideEffectFailuresAreSwallowed() {
	ctx := s.GetContext()
	b := s.createBundle("acc-1", "gold")
	sub := s.createSubscription(b, types.ProductCategoryBase, "pistol-monthly", testutil.Date(2024, 1, 1))

	s.GetStores().NotificationRepo.Err = errors.New("queue unavailable")
	s.GetStores().BusEventRepo.Err = errors.New("bus unavailable")

	s.cancel(sub, testutil.Date(2024, 2, 1))

	active, err := s.GetStores().EventRepo.ListActive(ctx, sub.ID)
	s.Require().NoError(err)
	s.Require().Len(active, 2)
	s.True(active[1].IsAPIType(types.APIEventTypeCancel))
}

func (s *SubscriptionServiceSuite) TestUpdateChargedThroughDates() {
	ctx := s.GetContext()
	b := s.createBundle("acc-1", "gold")
	start := testutil.Date(2024, 1, 1)

	first := s.createSubscription(b, types.ProductCategoryBase, "pistol-monthly", start)
	second := s.createSubscription(b, types.ProductCategoryAddOn, "telescope-monthly", start)
	third := s.createSubscription(b, types.ProductCategoryAddOn, "bullets-monthly", start)

	feb, mar := testutil.Date(2024, 2, 1), testutil.Date(2024, 3, 1)
	s.Require().NoError(s.service.UpdateChargedThroughDates(ctx, map[time.Time][]string{
		feb: {first.ID, second.ID},
		mar: {third.ID},
	}))

	for id, want := range map[string]time.Time{first.ID: feb, second.ID: feb, third.ID: mar} {
		sub, err := s.GetStores().SubscriptionRepo.Get(ctx, id)
		s.Require().NoError(err)
		s.Require().NotNil(sub.ChargedThroughDate)
		s.Equal(want, *sub.ChargedThroughDate)
	}
}

func (s *SubscriptionServiceSuite) transferRequest(source *subscription.Subscription, accountID string) (*TransferRequest, *subscription.Subscription) {
	now := s.GetClock().Now()
	dest := &bundle.Bundle{
		ID:          types.GenerateUUIDWithPrefix(types.UUID_PREFIX_BUNDLE),
		AccountID:   accountID,
		ExternalKey: source.ExternalKey,
	}
	moved := s.newShell(dest, source.Category, now)

	return &TransferRequest{
		SourceAccountID: source.AccountID,
		SourceCancellations: []*SubscriptionCancellation{
			{Subscription: source, Event: event.NewCancelEvent(source.ID, now, now)},
		},
		Bundle: dest,
		Subscriptions: []*SubscriptionWithEvents{
			{
				Subscription: moved,
				Events: []*event.Event{
					event.NewAPIEvent(moved.ID, types.APIEventTypeTransfer, event.PlanRef{PlanName: "pistol-monthly"}, now, now),
				},
			},
		},
	}, moved
}

func (s *SubscriptionServiceSuite) TestTransfer() {
	ctx := s.GetContext()
	b := s.createBundle("acc-1", "gold")
	source := s.createSubscription(b, types.ProductCategoryBase, "pistol-monthly", testutil.Date(2024, 1, 1))

	s.GetClock().Set(testutil.Date(2024, 2, 1))
	req, moved := s.transferRequest(source, "acc-2")
	s.Require().NoError(s.service.Transfer(ctx, req))

	renamed, err := s.GetStores().BundleRepo.Get(ctx, b.ID)
	s.Require().NoError(err)
	s.Equal(bundle.RenamedExternalKey(types.ExternalKeyPrefixTransfered, b.ID, "gold"), renamed.ExternalKey)

	sourceState, err := s.service.GetSubscription(ctx, source.ID, false)
	s.Require().NoError(err)
	s.Equal(types.EntitlementStateCancelled, sourceState.CurrentState())

	dest, err := s.bundleService.GetBundleForAccountAndKey(ctx, "acc-2", "gold")
	s.Require().NoError(err)
	s.Equal(req.Bundle.ID, dest.ID)

	movedState, err := s.service.GetSubscription(ctx, moved.ID, false)
	s.Require().NoError(err)
	s.Equal(types.EntitlementStateActive, movedState.CurrentState())
	s.Equal("pistol-monthly", movedState.CurrentPlan().Name)
	s.Equal(types.TransitionTypeTransfer, movedState.Transitions()[0].Type)

	transfers := lo.Filter(s.requested(), func(r *notification.RequestedSubscriptionEvent, _ int) bool {
		return r.TransitionType == types.TransitionTypeTransfer
	})
	s.Require().Len(transfers, 1)
	s.Equal(moved.ID, transfers[0].SubscriptionID)
	s.Equal("acc-2", transfers[0].AccountID)
}

func (s *SubscriptionServiceSuite) TestTransferSkippedOnKeyCollision() {
	ctx := s.GetContext()
	b := s.createBundle("acc-1", "gold")
	source := s.createSubscription(b, types.ProductCategoryBase, "pistol-monthly", testutil.Date(2024, 1, 1))
	existing := s.createBundle("acc-2", "gold")

	req, moved := s.transferRequest(source, "acc-2")
	s.Require().NoError(s.service.Transfer(ctx, req))

	// the source side still happens
	sourceState, err := s.service.GetSubscription(ctx, source.ID, false)
	s.Require().NoError(err)
	s.Equal(types.EntitlementStateCancelled, sourceState.CurrentState())

	dest, err := s.bundleService.GetBundleForAccountAndKey(ctx, "acc-2", "gold")
	s.Require().NoError(err)
	s.Equal(existing.ID, dest.ID)

	_, err = s.GetStores().SubscriptionRepo.Get(ctx, moved.ID)
	s.True(ierr.IsNotFound(err))
}
