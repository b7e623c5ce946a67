package dto

import (
	"time"

	"github.com/flexprice/subledger/internal/domain/event"
	"github.com/flexprice/subledger/internal/domain/subscription"
	ierr "github.com/flexprice/subledger/internal/errors"
	"github.com/flexprice/subledger/internal/types"
	"github.com/samber/lo"
)

type SubscriptionResponse struct {
	*subscription.Subscription

	State              types.EntitlementState     `json:"state"`
	PlanName           string                     `json:"plan_name,omitempty"`
	PhaseName          string                     `json:"phase_name,omitempty"`
	PriceListName      string                     `json:"price_list_name,omitempty"`
	StartDate          time.Time                  `json:"start_date"`
	EndDate            *time.Time                 `json:"end_date,omitempty"`
	FutureEndDate      *time.Time                 `json:"future_end_date,omitempty"`
	BillCycleDayLocal  int                        `json:"bill_cycle_day_local,omitempty"`
	Quantity           int                        `json:"quantity"`
	PendingTransitions []*subscription.Transition `json:"pending_transitions,omitempty"`
}

func NewSubscriptionResponse(s *subscription.State) *SubscriptionResponse {
	resp := &SubscriptionResponse{
		Subscription:       s.Subscription,
		State:              s.CurrentState(),
		PriceListName:      s.CurrentPriceList(),
		StartDate:          s.StartDate(),
		EndDate:            s.EndDate(),
		FutureEndDate:      s.FutureEndDate(),
		BillCycleDayLocal:  s.BillCycleDayLocal(),
		Quantity:           s.Quantity(),
		PendingTransitions: s.PendingTransitions(),
	}
	if plan := s.CurrentPlan(); plan != nil {
		resp.PlanName = plan.Name
	}
	if phase := s.CurrentPhase(); phase != nil {
		resp.PhaseName = phase.Name
	}
	return resp
}

func NewSubscriptionResponses(states []*subscription.State) []*SubscriptionResponse {
	return lo.Map(states, func(s *subscription.State, _ int) *SubscriptionResponse {
		return NewSubscriptionResponse(s)
	})
}

type ListSubscriptionsResponse struct {
	Items []*SubscriptionResponse `json:"items"`
}

// AccountSubscriptionsResponse groups an account's subscriptions by bundle id
type AccountSubscriptionsResponse struct {
	Bundles map[string][]*SubscriptionResponse `json:"bundles"`
}

func NewAccountSubscriptionsResponse(byBundle map[string][]*subscription.State) *AccountSubscriptionsResponse {
	return &AccountSubscriptionsResponse{
		Bundles: lo.MapValues(byBundle, func(states []*subscription.State, _ string) []*SubscriptionResponse {
			return NewSubscriptionResponses(states)
		}),
	}
}

type ListEventsResponse struct {
	Items []*event.Event `json:"items"`
}

// ChangePlanRequest moves a subscription to another plan on EffectiveDate
type ChangePlanRequest struct {
	PlanName      string     `json:"plan_name" binding:"required"`
	PriceListName string     `json:"price_list_name,omitempty"`
	PhaseName     string     `json:"phase_name,omitempty"`
	EffectiveDate *time.Time `json:"effective_date,omitempty"`
}

func (r *ChangePlanRequest) ToEvent(subscriptionID string, now time.Time) *event.Event {
	return event.NewAPIEvent(subscriptionID, types.APIEventTypeChange, event.PlanRef{
		PlanName:      r.PlanName,
		PriceListName: r.PriceListName,
		PhaseName:     r.PhaseName,
	}, lo.FromPtrOr(r.EffectiveDate, now).UTC(), now)
}

type CancelSubscriptionRequest struct {
	EffectiveDate *time.Time `json:"effective_date,omitempty"`
}

func (r *CancelSubscriptionRequest) ToEvent(subscriptionID string, now time.Time) *event.Event {
	return event.NewCancelEvent(subscriptionID, lo.FromPtrOr(r.EffectiveDate, now).UTC(), now)
}

// UpdateSubscriptionRequest records a bill cycle day or quantity update. Exactly one
// of BillCycleDay and Quantity must be set.
type UpdateSubscriptionRequest struct {
	BillCycleDay  *int       `json:"bill_cycle_day,omitempty" binding:"omitempty,min=1,max=31"`
	Quantity      *int       `json:"quantity,omitempty" binding:"omitempty,min=0"`
	EffectiveDate *time.Time `json:"effective_date,omitempty"`
}

func (r *UpdateSubscriptionRequest) ToEvent(subscriptionID string, now time.Time) (*event.Event, error) {
	effective := lo.FromPtrOr(r.EffectiveDate, now).UTC()
	switch {
	case r.BillCycleDay != nil && r.Quantity == nil:
		return event.NewBCDEvent(subscriptionID, *r.BillCycleDay, effective, now), nil
	case r.Quantity != nil && r.BillCycleDay == nil:
		return event.NewQuantityEvent(subscriptionID, *r.Quantity, effective, now), nil
	default:
		return nil, ierr.NewError("exactly one of bill_cycle_day and quantity is required").
			WithHint("Please update either the bill cycle day or the quantity").
			Mark(ierr.ErrValidation)
	}
}

// DryRunRequest previews a bundle with one hypothetical change or cancellation
type DryRunRequest struct {
	SubscriptionID string             `json:"subscription_id" binding:"required"`
	Action         types.APIEventType `json:"action" binding:"required,oneof=CHANGE CANCEL"`
	PlanName       string             `json:"plan_name,omitempty"`
	PriceListName  string             `json:"price_list_name,omitempty"`
	EffectiveDate  *time.Time         `json:"effective_date,omitempty"`
}

func (r *DryRunRequest) ToEvent(now time.Time) (*event.Event, error) {
	effective := lo.FromPtrOr(r.EffectiveDate, now).UTC()
	if r.Action == types.APIEventTypeCancel {
		return event.NewCancelEvent(r.SubscriptionID, effective, now), nil
	}
	if r.PlanName == "" {
		return nil, ierr.NewError("plan_name is required").
			WithHint("A dry-run plan change needs the target plan").
			Mark(ierr.ErrValidation)
	}
	return event.NewAPIEvent(r.SubscriptionID, types.APIEventTypeChange, event.PlanRef{
		PlanName:      r.PlanName,
		PriceListName: r.PriceListName,
	}, effective, now), nil
}

// UndoRequest carries the phase events that replace the ones an uncancel or
// undo-change deactivates
type UndoRequest struct {
	Phases []ScheduledPhaseRequest `json:"phases,omitempty" binding:"dive"`
}

func (r *UndoRequest) ToEvents(subscriptionID string, apiType types.APIEventType, now time.Time) []*event.Event {
	events := []*event.Event{event.NewAPIEvent(subscriptionID, apiType, event.PlanRef{}, now, now)}
	for _, p := range r.Phases {
		events = append(events, event.NewPhaseEvent(subscriptionID, p.PhaseName, p.EffectiveDate.UTC(), now))
	}
	return events
}
