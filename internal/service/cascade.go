package service

import (
	"context"
	"sort"

	"github.com/flexprice/subledger/internal/domain/event"
	"github.com/flexprice/subledger/internal/domain/subscription"
	"github.com/flexprice/subledger/internal/types"
)

// loadEvents returns the events of sub as reads expose them, UNCANCEL and
// UNDO_CHANGE records excluded
func (s *subscriptionService) loadEvents(ctx context.Context, sub *subscription.Subscription) ([]*event.Event, error) {
	var (
		events []*event.Event
		err    error
	)
	if sub.IncludeDeletedEvents {
		events, err = s.EventRepo.ListAll(ctx, sub.ID)
	} else {
		events, err = s.EventRepo.ListActive(ctx, sub.ID)
	}
	if err != nil {
		return nil, err
	}
	return event.WithoutMarkers(events), nil
}

// buildSubscription materializes sub. An add-on is built together with its
// base so that base cancellations and plan changes cascade onto it.
func (s *subscriptionService) buildSubscription(ctx context.Context, sub *subscription.Subscription) (*subscription.State, error) {
	input := []*subscription.Subscription{sub}
	if sub.Category == types.ProductCategoryAddOn {
		base, err := s.getBaseShell(ctx, sub.BundleID)
		if err != nil {
			return nil, err
		}
		if base == nil {
			return nil, nil
		}
		input = []*subscription.Subscription{base, sub}
	}

	states, err := s.buildBundleSubscriptions(ctx, input, nil, nil)
	if err != nil {
		return nil, err
	}
	return states[sub.ID], nil
}

// buildBundleSubscriptions rebuilds the subscriptions of one bundle, BASE first.
// eventsBySubscription is used when the caller already loaded the events,
// otherwise each subscription's events are read. Subscriptions without active
// events are absent from the result.
//
// While replaying the base, its first active CANCEL and every CHANGE before it
// are collected. An add-on still on a plan and without a pending end date is
// cancelled at the earliest of these triggers: the base cancellation, or a
// base change to a product that no longer allows or already includes the
// add-on. The cancellation is synthesized in memory only.
func (s *subscriptionService) buildBundleSubscriptions(
	ctx context.Context,
	input []*subscription.Subscription,
	eventsBySubscription map[string][]*event.Event,
	dryRunEvents []*event.Event,
) (map[string]*subscription.State, error) {
	result := make(map[string]*subscription.State, len(input))
	if len(input) == 0 {
		return result, nil
	}

	sorted := make([]*subscription.Subscription, len(input))
	copy(sorted, input)
	sort.SliceStable(sorted, func(i, j int) bool {
		return subscription.Less(sorted[i], sorted[j])
	})

	var (
		baseChangeEvents []*event.Event
		baseCancelEvent  *event.Event
	)

	for _, cur := range sorted {
		var events []*event.Event
		if eventsBySubscription != nil {
			events = eventsBySubscription[cur.ID]
		} else {
			loaded, err := s.loadEvents(ctx, cur)
			if err != nil {
				return nil, err
			}
			events = loaded
		}
		events = mergeDryRunEvents(cur.ID, events, dryRunEvents)

		state, err := subscription.Rebuild(cur, events, s.Catalog, s.Clock)
		if err != nil {
			return nil, err
		}

		switch cur.Category {
		case types.ProductCategoryBase:
		baseEvents:
			for _, e := range events {
				switch {
				case !e.IsActive:
					continue
				case e.IsAPIType(types.APIEventTypeCancel):
					baseCancelEvent = e
					break baseEvents
				case e.IsAPIType(types.APIEventTypeChange):
					baseChangeEvents = append(baseChangeEvents, e)
				}
			}

		case types.ProductCategoryAddOn:
			if state == nil {
				break
			}
			addOnPlan := state.CurrentPlan()
			if addOnPlan == nil || state.FutureEndDate() != nil {
				break
			}

			trigger := baseCancelEvent
			for _, change := range baseChangeEvents {
				basePlan, err := s.Catalog.FindPlan(change.User.PlanName, change.EffectiveDate, cur.AlignStartDate)
				if err != nil {
					return nil, err
				}
				if s.Catalog.IsAddonAvailable(basePlan.Product, addOnPlan) && !s.Catalog.IsAddonIncluded(basePlan.Product, addOnPlan) {
					continue
				}
				if trigger == nil || trigger.EffectiveDate.After(change.EffectiveDate) {
					trigger = change
				}
			}

			if trigger != nil {
				cancel := event.NewCancelEvent(cur.ID, trigger.EffectiveDate, trigger.CreatedDate)
				cancel.FromDisk = false
				cancel.TotalOrdering = event.MaxTotalOrdering(events) + 1

				s.Logger.Debugw("add-on cancelled by base plan event",
					"subscription_id", cur.ID,
					"trigger_event_id", trigger.ID,
					"effective_date", trigger.EffectiveDate,
				)

				withCancel := make([]*event.Event, 0, len(events)+1)
				withCancel = append(withCancel, events...)
				withCancel = append(withCancel, cancel)
				if state, err = subscription.Rebuild(cur, withCancel, s.Catalog, s.Clock); err != nil {
					return nil, err
				}
			}
		}

		if state != nil {
			result[cur.ID] = state
		}
	}

	return result, nil
}

// getBaseShell returns the BASE subscription of a bundle, nil when there is none
func (s *subscriptionService) getBaseShell(ctx context.Context, bundleID string) (*subscription.Subscription, error) {
	subs, err := s.listBundleShells(ctx, bundleID)
	if err != nil {
		return nil, err
	}
	for _, sub := range subs {
		if sub.Category == types.ProductCategoryBase {
			return sub, nil
		}
	}
	return nil, nil
}
