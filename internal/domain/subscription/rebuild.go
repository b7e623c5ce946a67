package subscription

import (
	"github.com/flexprice/subledger/internal/clock"
	"github.com/flexprice/subledger/internal/domain/catalog"
	"github.com/flexprice/subledger/internal/domain/event"
	ierr "github.com/flexprice/subledger/internal/errors"
	"github.com/flexprice/subledger/internal/types"
)

const defaultQuantity = 1

// Rebuild replays the active events of shell into a State. It returns nil when
// there is nothing to replay. Deactivated events are kept in State.Events but
// never replayed. A plan or phase the catalog cannot resolve fails the rebuild.
func Rebuild(shell *Subscription, events []*event.Event, cat catalog.Catalog, clk clock.Clock) (*State, error) {
	sorted := make([]*event.Event, len(events))
	copy(sorted, events)
	event.Sort(sorted)

	replay := make([]*event.Event, 0, len(sorted))
	for _, e := range sorted {
		if e.IsActive && !e.IsMarker() {
			replay = append(replay, e)
		}
	}
	if len(replay) == 0 {
		return nil, nil
	}

	if !replay[0].IsGenesis() {
		return nil, ierr.NewErrorf("first active event %s of subscription %s is %s", replay[0].ID, shell.ID, replay[0].TransitionType()).
			WithHint("Subscription history does not start with a create or transfer").
			WithReportableDetails(map[string]any{
				"subscription_id": shell.ID,
				"event_id":        replay[0].ID,
			}).
			Mark(ierr.ErrInconsistentState)
	}

	var (
		state     types.EntitlementState
		plan      *catalog.Plan
		phase     *catalog.Phase
		priceList string
		bcd       int
		quantity  = defaultQuantity
	)

	transitions := make([]*Transition, 0, len(replay))
	for _, e := range replay {
		t := &Transition{
			EventID:           e.ID,
			SubscriptionID:    shell.ID,
			BundleID:          shell.BundleID,
			Type:              e.TransitionType(),
			EffectiveDate:     e.EffectiveDate,
			TotalOrdering:     e.TotalOrdering,
			FromDisk:          e.FromDisk,
			PreviousState:     state,
			PreviousPlan:      plan,
			PreviousPhase:     phase,
			PreviousPriceList: priceList,
		}

		switch e.Type {
		case types.SubscriptionEventTypeAPIUser:
			switch e.User.APIType {
			case types.APIEventTypeCreate, types.APIEventTypeTransfer, types.APIEventTypeChange:
				nextPlan, err := cat.FindPlan(e.User.PlanName, e.EffectiveDate, shell.AlignStartDate)
				if err != nil {
					return nil, err
				}
				nextPhase := nextPlan.InitialPhase()
				if e.User.PhaseName != "" {
					if nextPhase, err = nextPlan.FindPhase(e.User.PhaseName); err != nil {
						return nil, err
					}
				}
				plan, phase = nextPlan, nextPhase
				priceList = e.User.PriceListName
				if priceList == "" {
					priceList = nextPlan.PriceList
				}
				state = types.EntitlementStateActive
			case types.APIEventTypeCancel:
				plan, phase, priceList = nil, nil, ""
				state = types.EntitlementStateCancelled
			}
		case types.SubscriptionEventTypePhase:
			// a pending phase change outlived a cancellation, nothing left to advance
			if plan == nil {
				break
			}
			nextPhase, err := plan.FindPhase(e.Phase.PhaseName)
			if err != nil {
				return nil, err
			}
			phase = nextPhase
		case types.SubscriptionEventTypeExpired:
			plan, phase, priceList = nil, nil, ""
			state = types.EntitlementStateExpired
		case types.SubscriptionEventTypeBCDUpdate:
			bcd = e.BCD.BillCycleDayLocal
		case types.SubscriptionEventTypeQuantityUpdate:
			quantity = e.Quantity.Quantity
		}

		t.NextState = state
		t.NextPlan = plan
		t.NextPhase = phase
		t.NextPriceList = priceList
		t.BillCycleDayLocal = bcd
		t.Quantity = quantity
		transitions = append(transitions, t)
	}

	return &State{
		Subscription: shell,
		events:       sorted,
		transitions:  transitions,
		clock:        clk,
	}, nil
}
